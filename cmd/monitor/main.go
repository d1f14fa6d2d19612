package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/iddi/oocsi-go/client"
)

// A demo subscriber: logs everything on a channel and answers "uptime"
// service calls.
func main() {
	addr := flag.String("addr", "localhost:4444", "server address")
	channel := flag.String("channel", "sensor/temperature", "channel to watch")
	flag.Parse()

	c := client.NewClient("monitor_##", client.NewTCPTransport())
	if err := c.Connect(*addr); err != nil {
		slog.Error("Connect failed", "error", err.Error())
		os.Exit(1)
	}
	defer c.Stop()

	c.Subscribe(*channel, func(sender, recipient string, event map[string]any) {
		slog.Info("Event", "sender", sender, "channel", recipient, "event", event)
	})

	started := time.Now()
	c.Register("monitoring", "uptime", func(event map[string]any) map[string]any {
		return map[string]any{"uptime_seconds": time.Since(started).Seconds()}
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c.EnableReconnect(2 * time.Second)
	if err := c.Run(ctx); err != nil && ctx.Err() == nil {
		slog.Error("Connection lost", "error", err.Error())
		os.Exit(1)
	}
}
