package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shutterhub/backend/internal/gateway"
	"github.com/shutterhub/backend/internal/handler/chat"
	middlewarePkg "github.com/shutterhub/backend/internal/middleware"
	"github.com/shutterhub/backend/internal/service/auth"
	chatService "github.com/shutterhub/backend/internal/service/chat"
	"github.com/shutterhub/backend/pkg/utils"
)

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

// Options wires the router.
type Options struct {
	ChatService *chatService.Service
	Verifier    auth.Verifier
	// Checks run on /healthz, keyed by dependency name.
	Checks map[string]HealthCheck

	CORSOrigins       []string
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// Gateway, when set, is served on GatewayPath on the same router.
	Gateway     *gateway.Handler
	GatewayPath string
}

// NewRouter wires HTTP routes to core services.
func NewRouter(opts Options) http.Handler {
	r := chi.NewRouter()

	r.Use(middlewarePkg.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middlewarePkg.Instrument)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS(opts.CORSOrigins))

	r.Get("/healthz", healthHandler(opts.Checks))
	r.Handle("/metrics", promhttp.Handler())

	if opts.Gateway != nil {
		opts.Gateway.RegisterRoutes(r, opts.GatewayPath)
	}

	chatHandler := chat.New(opts.ChatService)
	r.Route("/api", func(api chi.Router) {
		api.Use(middlewarePkg.RateLimit(opts.RateLimitRequests, opts.RateLimitWindow))
		api.Use(middlewarePkg.Authenticate(opts.Verifier))

		chatHandler.RegisterRoutes(api)
	})

	return r
}

// NewGatewayRouter serves only the socket endpoint with health and metrics,
// for a standalone gateway process.
func NewGatewayRouter(gw *gateway.Handler, path string, checks map[string]HealthCheck) http.Handler {
	r := chi.NewRouter()

	r.Use(middlewarePkg.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", healthHandler(checks))
	r.Handle("/metrics", promhttp.Handler())
	gw.RegisterRoutes(r, path)

	return r
}

type healthStatus struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// healthHandler 依次检查依赖，任一失败返回503
func healthHandler(checks map[string]HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		status := healthStatus{Status: "ok", Checks: make(map[string]string, len(checks))}
		code := http.StatusOK
		for name, check := range checks {
			if err := check(ctx); err != nil {
				status.Status = "degraded"
				status.Checks[name] = err.Error()
				code = http.StatusServiceUnavailable
				continue
			}
			status.Checks[name] = "ok"
		}
		utils.RespondJSON(w, code, status)
	}
}
