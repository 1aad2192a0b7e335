package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/yitech/candlerelay/app"
	"github.com/yitech/candlerelay/logger"
)

func init() {
	slog.SetDefault(logger.New("info", "text"))
}

func main() {
	configPath := flag.String("config", "config.yaml", "path to YAML config (optional)")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, cleanup, err := InitializeApp(ctx, app.ConfigPath(*configPath))
	if err != nil {
		slog.Error("failed to initialize app", "error", err)
		os.Exit(1)
	}
	defer cleanup()

	if err := a.Run(ctx); err != nil {
		a.Logger.Error("relay stopped with error", "error", err)
		cleanup()
		os.Exit(1)
	}
	a.Logger.Info("relay stopped")
}
