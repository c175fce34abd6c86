package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/shutterhub/backend/internal/app"
	"github.com/shutterhub/backend/internal/config"
	"github.com/shutterhub/backend/internal/handler"
	"github.com/shutterhub/backend/internal/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := godotenv.Load(); err != nil {
		logging.Debug().Err(err).Msg("no .env file, using system environment only")
	}

	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to load configuration")
	}
	logging.Init(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})

	a, err := app.New(ctx, cfg, app.RoleGateway)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to initialize services")
	}

	srv := &http.Server{
		Addr:              cfg.Gateway.Addr,
		Handler:           handler.NewGatewayRouter(a.Gateway(), cfg.Gateway.Path, a.Checks),
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		IdleTimeout:       120 * time.Second,
	}

	logging.Info().
		Str("addr", cfg.Gateway.Addr).
		Str("path", cfg.Gateway.Path).
		Bool("nats", cfg.NATS.Enabled()).
		Msg("shutterhub chat gateway listening")

	if err := a.Run(ctx, "gateway", srv); err != nil {
		logging.Fatal().Err(err).Msg("gateway error")
	}
	logging.Info().Msg("shutdown complete")
}
