package server

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	adminhandler "care-platform/backend/internal/admin/handler"
	"care-platform/backend/internal/audit"
	healthhandler "care-platform/backend/internal/health/handler"
	identityhandler "care-platform/backend/internal/identity/handler"
	mfahandler "care-platform/backend/internal/mfa/handler"
	"care-platform/backend/internal/server/middleware"
	"care-platform/backend/internal/server/respond"
	"care-platform/backend/internal/telemetry/metrics"
)

// Defaults applied by NewHTTPHandler for zero HTTPConfig fields.
const (
	DefaultMaxBodyBytes       = 1 << 20
	DefaultLoginRatePerMinute = 10
)

// HTTPConfig holds transport settings for the HTTP API.
type HTTPConfig struct {
	AllowedOrigins     []string
	SecureCookie       bool
	TrustProxy         bool
	LoginRatePerMinute int
	MaxBodyBytes       int64
}

// Deps holds the route handlers and the services the middleware needs.
type Deps struct {
	Identity *identityhandler.Handler
	MFA      *mfahandler.Handler
	Admin    *adminhandler.Handler
	Health   *healthhandler.Checker
	Tokens   middleware.TokenValidator
	Audit    audit.Recorder
}

// NewHTTPHandler builds the router and the middleware chain.
//
// Route → handler mapping:
//   - /api/auth/*  → internal/identity/handler
//   - /api/mfa/*   → internal/mfa/handler
//   - /api/admin/* → internal/admin/handler
//   - /healthz, /readyz → internal/health/handler
//   - /metrics     → Prometheus
func NewHTTPHandler(cfg HTTPConfig, deps Deps, log *zap.Logger) http.Handler {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if cfg.LoginRatePerMinute <= 0 {
		cfg.LoginRatePerMinute = DefaultLoginRatePerMinute
	}

	root := mux.NewRouter()
	root.Use(metrics.Instrument)
	root.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	if deps.Health != nil {
		deps.Health.RegisterRoutes(root)
	}

	api := root.PathPrefix("/api").Subrouter()
	api.Use(
		middleware.MaxBodyBytes(cfg.MaxBodyBytes),
		middleware.CSRF(cfg.SecureCookie, log),
		middleware.Authenticate(deps.Tokens, deps.Audit, log),
	)
	api.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		respond.Error(w, http.StatusNotFound, "not found")
	})

	limiter := middleware.NewRateLimiter(cfg.LoginRatePerMinute)
	if deps.Identity != nil {
		deps.Identity.RegisterRoutes(api, limiter.Middleware)
	}
	if deps.MFA != nil {
		deps.MFA.RegisterRoutes(api)
	}
	if deps.Admin != nil {
		deps.Admin.RegisterRoutes(api)
	}

	var h http.Handler = root
	h = middleware.Logging(log)(h)
	h = middleware.ClientIP(cfg.TrustProxy)(h)
	h = middleware.SecureHeaders(h)
	h = cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization", middleware.CSRFHeader},
		AllowCredentials: true,
		MaxAge:           600,
	}).Handler(h)
	return otelhttp.NewHandler(h, "care-auth-http")
}
