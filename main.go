package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"collabrelay/app"
	"collabrelay/pkg/config"
	"collabrelay/pkg/logging"

	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	if err := logging.Initialize(cfg.IsDevelopment()); err != nil {
		log.Fatalf("logging: %v", err)
	}
	defer logging.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := app.NewServer(cfg)
	if err := srv.Start(ctx); err != nil {
		logging.L().Fatal("server exited with error", zap.Error(err))
	}
}
