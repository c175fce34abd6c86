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

	// Load .env file
	if err := godotenv.Load(); err != nil {
		logging.Debug().Err(err).Msg("no .env file, using system environment only")
	}

	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to load configuration")
	}
	logging.Init(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})

	a, err := app.New(ctx, cfg, app.RoleAPI)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to initialize services")
	}

	router := handler.NewRouter(handler.Options{
		ChatService:       a.Chat,
		Verifier:          a.Auth,
		Checks:            a.Checks,
		CORSOrigins:       cfg.Security.CORSOrigins,
		RateLimitRequests: cfg.Security.RateLimitRequests,
		RateLimitWindow:   cfg.Security.RateLimitWindow,
		Gateway:           a.Gateway(),
		GatewayPath:       cfg.Gateway.Path,
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		IdleTimeout:       120 * time.Second,
	}

	logging.Info().
		Str("addr", cfg.Server.Addr).
		Str("store", cfg.Store.Driver).
		Bool("gateway_embedded", a.Hub != nil).
		Msg("shutterhub chat api listening")

	if err := a.Run(ctx, "api", srv); err != nil {
		logging.Fatal().Err(err).Msg("server error")
	}
	logging.Info().Msg("shutdown complete")
}
