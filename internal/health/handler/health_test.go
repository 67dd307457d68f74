package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// mockPinger implements Pinger for tests.
type mockPinger struct {
	pingErr error
}

func (m *mockPinger) PingContext(context.Context) error {
	return m.pingErr
}

// mockPolicyChecker implements PolicyChecker for tests.
type mockPolicyChecker struct {
	healthErr error
}

func (m *mockPolicyChecker) HealthCheck(context.Context) error {
	return m.healthErr
}

func serve(c *Checker, path string) *httptest.ResponseRecorder {
	r := mux.NewRouter()
	c.RegisterRoutes(r)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestLiveness(t *testing.T) {
	w := serve(NewChecker(&mockPinger{pingErr: errors.New("down")}, nil, nil), "/healthz")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestReadiness(t *testing.T) {
	tests := []struct {
		name    string
		pinger  Pinger
		policy  PolicyChecker
		want    int
		failing string
	}{
		{"no checks", nil, nil, http.StatusOK, ""},
		{"all healthy", &mockPinger{}, &mockPolicyChecker{}, http.StatusOK, ""},
		{"database down", &mockPinger{pingErr: errors.New("connection refused")}, &mockPolicyChecker{}, http.StatusServiceUnavailable, "database"},
		{"policy broken", &mockPinger{}, &mockPolicyChecker{healthErr: errors.New("compile")}, http.StatusServiceUnavailable, "policy"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(NewChecker(tt.pinger, tt.policy, nil), "/readyz")
			assert.Equal(t, tt.want, w.Code)
			if tt.failing != "" {
				assert.Contains(t, w.Body.String(), tt.failing)
			}
		})
	}
}

func TestSync_SetsGRPCStatus(t *testing.T) {
	pinger := &mockPinger{pingErr: errors.New("down")}
	c := NewChecker(pinger, nil, nil)
	hs := health.NewServer()

	c.update(context.Background(), hs)
	resp, err := hs.Check(context.Background(), &healthpb.HealthCheckRequest{Service: ServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, resp.GetStatus())

	pinger.pingErr = nil
	c.update(context.Background(), hs)
	resp, err = hs.Check(context.Background(), &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())
}
