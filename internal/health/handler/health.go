package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"care-platform/backend/internal/server/respond"
)

// ServiceName is the gRPC health service name reported alongside the overall "" status.
const ServiceName = "care.auth"

const checkTimeout = 2 * time.Second

// Pinger is used for readiness (e.g. *sql.DB). PingContext must succeed for ready.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// PolicyChecker is used for readiness (e.g. the OPA evaluator). HealthCheck must succeed for ready.
type PolicyChecker interface {
	HealthCheck(ctx context.Context) error
}

// Checker reports liveness and readiness over HTTP and the gRPC health protocol.
type Checker struct {
	pinger        Pinger
	policyChecker PolicyChecker
	log           *zap.Logger
}

// NewChecker returns a Checker. pinger and policyChecker may be nil; nil checks are skipped.
func NewChecker(pinger Pinger, policyChecker PolicyChecker, log *zap.Logger) *Checker {
	if log == nil {
		log = zap.NewNop()
	}
	return &Checker{pinger: pinger, policyChecker: policyChecker, log: log}
}

// Ready runs every readiness check and returns the failures keyed by component.
func (c *Checker) Ready(ctx context.Context) map[string]string {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()
	failures := map[string]string{}
	if c.pinger != nil {
		if err := c.pinger.PingContext(ctx); err != nil {
			failures["database"] = err.Error()
		}
	}
	if c.policyChecker != nil {
		if err := c.policyChecker.HealthCheck(ctx); err != nil {
			failures["policy"] = err.Error()
		}
	}
	return failures
}

// RegisterRoutes mounts /healthz and /readyz.
func (c *Checker) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/healthz", c.Liveness).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/readyz", c.Readiness).Methods(http.MethodGet, http.MethodHead)
}

// Liveness reports that the process is serving.
func (c *Checker) Liveness(w http.ResponseWriter, r *http.Request) {
	respond.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Readiness reports 503 with the failing components when a dependency is down.
func (c *Checker) Readiness(w http.ResponseWriter, r *http.Request) {
	if failures := c.Ready(r.Context()); len(failures) > 0 {
		c.log.Warn("readiness check failed", zap.Any("failures", failures))
		respond.JSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "failures": failures})
		return
	}
	respond.JSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// Sync sets the gRPC health status from Ready once, then every interval until ctx is done.
func (c *Checker) Sync(ctx context.Context, hs *health.Server, interval time.Duration) {
	c.update(ctx, hs)
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			hs.Shutdown()
			return
		case <-t.C:
			c.update(ctx, hs)
		}
	}
}

func (c *Checker) update(ctx context.Context, hs *health.Server) {
	status := healthpb.HealthCheckResponse_SERVING
	if len(c.Ready(ctx)) > 0 {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	hs.SetServingStatus("", status)
	hs.SetServingStatus(ServiceName, status)
}
