package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/iddi/oocsi-go/server"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	listen := flag.String("listen", "", "override protocol listen address")
	flag.Parse()

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug})
	slog.SetDefault(slog.New(handler))

	cfg, err := server.LoadConfig(*configPath)
	if err != nil {
		slog.Error("Invalid configuration", "error", err.Error())
		os.Exit(1)
	}
	if *listen != "" {
		cfg.Listen = *listen
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := server.New(cfg).Start(ctx); err != nil {
		slog.Error("Server failed", "error", err.Error())
		os.Exit(1)
	}
}
