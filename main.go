package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"svcpanel/config"
	"svcpanel/utils"
)

func main() {
	configPath := os.Getenv(config.EnvPrefix + "CONFIG")
	if configPath == "" {
		configPath = "config.toml"
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		utils.Log.Error("Failed to load config: %v", err)
		os.Exit(1)
	}
	utils.Configure(cfg.Log.Level, cfg.Log.Format)
	utils.Log.Info("Initializing svcpanel...")

	if err := utils.InitI18n(); err != nil {
		utils.Log.Error("Failed to initialize i18n: %v", err)
	}

	srv, err := newServer(cfg)
	if err != nil {
		utils.Log.Error("Failed to set up server: %v", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sweepDone := make(chan struct{})
	go srv.registry.Run(time.Minute, sweepDone)

	serveErr := make(chan error, 1)
	go func() {
		utils.Log.Info("Starting server on port %d...", cfg.Server.Port)
		serveErr <- srv.app.Listen(cfg.Address())
	}()

	select {
	case <-ctx.Done():
		utils.Log.Info("Shutting down...")
	case err := <-serveErr:
		if err != nil && !errors.Is(err, context.Canceled) {
			utils.Log.Error("Error starting server: %v", err)
		}
	}

	close(sweepDone)
	if err := srv.Shutdown(10 * time.Second); err != nil {
		utils.Log.Error("Error during shutdown: %v", err)
	}
}
