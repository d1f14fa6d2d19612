package main

import (
	"context"
	"flag"
	"log/slog"
	"math/rand/v2"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/iddi/oocsi-go/client"
)

// A demo publisher: announces itself as a heyOOCSI device and streams a
// simulated temperature reading.
func main() {
	addr := flag.String("addr", "localhost:4444", "server address (empty = discover via mDNS)")
	flag.Parse()

	target := *addr
	if target == "" {
		srv, err := client.DiscoverServer(5 * time.Second)
		if err != nil {
			slog.Error("Discovery failed", "error", err.Error())
			os.Exit(1)
		}
		target = srv.Addr()
	}

	c := client.NewClient("sensor_##", client.NewTCPTransport())
	if err := c.Connect(target); err != nil {
		slog.Error("Connect failed", "error", err.Error())
		os.Exit(1)
	}
	defer c.Stop()

	device := c.HeyOOCSI("demo-sensor").
		AddProperty("firmware", "v1.0.0").
		AddLocation("office", 51.448, 5.490).
		AddSensor("temperature", "sensor/temperature", "temperature", "°C", 20, "thermometer")
	if err := device.Submit(); err != nil {
		slog.Error("Device announcement failed", "error", err.Error())
	}

	temperature := c.Variable("sensor/temperature", "temperature").Min(-20).Max(60).Smooth(5, 0)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c.EnableReconnect(2 * time.Second)
	go c.Run(ctx)

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	reading := 20.0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			reading += rand.Float64() - 0.5
			temperature.Set(reading)
		}
	}
}
