// Package app assembles the chat backend from configuration. Both binaries
// share it so the API and the gateway see the same store and event bus.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/thejerf/suture/v4"

	"github.com/shutterhub/backend/internal/config"
	"github.com/shutterhub/backend/internal/events"
	"github.com/shutterhub/backend/internal/gateway"
	"github.com/shutterhub/backend/internal/handler"
	"github.com/shutterhub/backend/internal/logging"
	"github.com/shutterhub/backend/internal/model/chat"
	"github.com/shutterhub/backend/internal/model/directory"
	"github.com/shutterhub/backend/internal/service/auth"
	chatservice "github.com/shutterhub/backend/internal/service/chat"
	directoryservice "github.com/shutterhub/backend/internal/service/directory"
	mongostore "github.com/shutterhub/backend/internal/store/mongo"
)

// Role selects which process is being assembled.
type Role string

const (
	// RoleAPI serves the REST API and, when configured, the embedded gateway.
	RoleAPI Role = "api"
	// RoleGateway serves only the real-time gateway.
	RoleGateway Role = "gateway"
)

// App holds the wired services of one process.
type App struct {
	Config *config.Config
	Auth   *auth.Service
	Chat   *chatservice.Service
	// Hub is nil when this process does not hold sockets.
	Hub    *gateway.Hub
	Checks map[string]handler.HealthCheck
	// Services run under the process supervisor next to the HTTP server.
	Services []suture.Service

	closers []func(context.Context) error
}

// New wires stores, caches, the event bus and the chat service for role.
// On error everything opened so far is closed again.
func New(ctx context.Context, cfg *config.Config, role Role) (_ *App, err error) {
	a := &App{
		Config: cfg,
		Auth:   auth.NewService(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL),
		Checks: make(map[string]handler.HealthCheck),
	}
	defer func() {
		if err != nil {
			_ = a.Close(context.Background())
		}
	}()

	log := logging.Component("app")

	store, dir, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}

	resolverOpts := directoryservice.Options{TTL: cfg.Redis.CacheTTL}
	if cfg.Redis.Enabled() {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		cache := directoryservice.NewRedisCache(rdb, "shutterhub:directory:")
		a.closers = append(a.closers, func(context.Context) error { return rdb.Close() })
		a.Checks["redis"] = cache.Ping
		resolverOpts.Cache = cache
		log.Info().Str("addr", cfg.Redis.Addr).Msg("directory cache enabled")
	}
	resolver := directoryservice.NewResolver(dir, resolverOpts)

	var notifiers chatservice.Notifiers
	if role == RoleGateway || cfg.Gateway.Embedded {
		a.Hub = gateway.NewHub()
		a.Services = append(a.Services, a.Hub)
		notifiers = append(notifiers, a.Hub)
	}

	if cfg.NATS.Enabled() {
		publisher, err := a.openEvents(string(role))
		if err != nil {
			return nil, err
		}
		notifiers = append(notifiers, publisher)
	} else if role == RoleGateway {
		log.Warn().Msg("nats disabled: messages appended through other processes will not reach this gateway")
	}

	a.Chat = chatservice.NewService(store, resolver, chatservice.WithNotifier(notifiers))
	return a, nil
}

func (a *App) openStore(ctx context.Context) (chat.Store, directory.Directory, error) {
	cfg := a.Config
	switch cfg.Store.Driver {
	case config.DriverMongo:
		client, err := mongostore.Connect(ctx, mongostore.Config{
			URI:      cfg.Mongo.URI,
			Database: cfg.Mongo.Database,
			Timeout:  cfg.Mongo.Timeout,
		})
		if err != nil {
			return nil, nil, err
		}
		a.closers = append(a.closers, client.Close)
		a.Checks["mongo"] = client.Ping

		store := mongostore.NewConversationStore(client)
		if err := store.EnsureIndexes(ctx); err != nil {
			return nil, nil, fmt.Errorf("ensure indexes: %w", err)
		}
		return store, mongostore.NewDirectory(client), nil
	default:
		logging.Component("app").Warn().Msg("using in-memory store with demo directory data")
		return chat.NewMemoryStore(), directory.Seed(), nil
	}
}

// openEvents connects to the broker, starting an embedded one when asked,
// and subscribes the hub to mutations committed by other nodes.
func (a *App) openEvents(name string) (*events.Publisher, error) {
	cfg := a.Config
	url := cfg.NATS.URL
	if cfg.NATS.Embedded {
		srv, err := events.StartEmbedded(cfg.NATS.EmbeddedHost, cfg.NATS.EmbeddedPort)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, srv.Shutdown)
		url = srv.ClientURL()
	}

	client, err := events.Connect(events.ClientConfig{URL: url, Name: "shutterhub-" + name})
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func(context.Context) error {
		client.Close()
		return nil
	})
	a.Checks["nats"] = func(context.Context) error {
		if !client.IsConnected() {
			return errors.New("not connected")
		}
		return nil
	}

	node := cfg.Gateway.NodeID
	if node == "" {
		node = uuid.NewString()
	}
	if a.Hub != nil {
		a.Services = append(a.Services, events.NewSubscriber(client.Conn(), cfg.NATS.SubjectPrefix, node, a.Hub))
	}
	return events.NewPublisher(client.Conn(), cfg.NATS.SubjectPrefix, node), nil
}

// Gateway returns the socket upgrade handler, or nil when no hub was wired.
func (a *App) Gateway() *gateway.Handler {
	if a.Hub == nil {
		return nil
	}
	return gateway.NewHandler(a.Hub, a.Chat, a.Auth, gateway.Options{
		AllowedOrigins: a.Config.Gateway.AllowedOrigins,
		MessageRate:    a.Config.Gateway.MessageRate,
		MessageBurst:   a.Config.Gateway.MessageBurst,
	})
}

// Close releases connections in reverse order of opening.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// Run serves srv and the background services under one supervisor until ctx
// ends, then closes the app.
func (a *App) Run(ctx context.Context, name string, srv gateway.HTTPServer) error {
	timeout := a.Config.Server.ShutdownTimeout
	sup := gateway.NewSupervisor(name, timeout)
	for _, svc := range a.Services {
		sup.Add(svc)
	}
	sup.Add(gateway.NewHTTPServerService(name+"-http", srv, timeout))

	err := sup.Serve(ctx)

	closeCtx, cancel := context.WithTimeout(context.Background(), timeoutOrDefault(timeout))
	defer cancel()
	if cerr := a.Close(closeCtx); cerr != nil {
		logging.Component("app").Warn().Err(cerr).Msg("close resources")
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func timeoutOrDefault(d time.Duration) time.Duration {
	if d <= 0 {
		return 10 * time.Second
	}
	return d
}
