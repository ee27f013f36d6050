package observability

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthChecker(t *testing.T) {
	tests := []struct {
		name   string
		checks []*HealthCheck
		want   HealthStatus
	}{
		{name: "no checks", want: HealthStatusHealthy},
		{
			name:   "all passing",
			checks: []*HealthCheck{WarehouseCheck(func(context.Context) error { return nil })},
			want:   HealthStatusHealthy,
		},
		{
			name: "non-critical failing",
			checks: []*HealthCheck{
				WarehouseCheck(func(context.Context) error { return nil }),
				ExternalServiceCheck("vector_store", func(context.Context) error { return errors.New("down") }),
			},
			want: HealthStatusDegraded,
		},
		{
			name: "critical failing",
			checks: []*HealthCheck{
				SessionStoreCheck(func(context.Context) error { return errors.New("redis down") }),
				ExternalServiceCheck("vector_store", func(context.Context) error { return errors.New("down") }),
			},
			want: HealthStatusUnhealthy,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hc := NewHealthChecker("test")
			for _, c := range tt.checks {
				hc.RegisterCheck(c)
			}
			resp := hc.Check(context.Background())
			assert.Equal(t, tt.want, resp.Status)
			assert.Len(t, resp.Checks, len(tt.checks))
			assert.Equal(t, "test", resp.Version)
		})
	}
}

func TestHealthCheckTimeout(t *testing.T) {
	hc := NewHealthChecker("test")
	hc.RegisterCheck(&HealthCheck{
		Name:     "slow",
		Critical: true,
		Timeout:  10 * time.Millisecond,
		CheckFunc: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		},
	})
	resp := hc.Check(context.Background())
	assert.Equal(t, HealthStatusUnhealthy, resp.Status)
	assert.Contains(t, resp.Checks["slow"].Message, "deadline")
}

func TestMountEndpoints(t *testing.T) {
	InitMetrics()
	hc := NewHealthChecker("v1")
	hc.RegisterCheck(WarehouseCheck(func(context.Context) error { return errors.New("no db") }))

	mux := http.NewServeMux()
	Mount(mux, hc)

	tests := []struct {
		path string
		code int
	}{
		{"/health", http.StatusServiceUnavailable},
		{"/health/live", http.StatusOK},
		{"/health/ready", http.StatusServiceUnavailable},
		{"/metrics", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
			assert.Equal(t, tt.code, rec.Code)
		})
	}

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	var body HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "no db", body.Checks["warehouse"].Message)
}

func TestRecordInvocation(t *testing.T) {
	before := testutil.ToFloat64(capabilityInvocationsTotal.WithLabelValues("sql", OutcomeOK))
	RecordInvocation("sql", OutcomeOK, 20*time.Millisecond)
	after := testutil.ToFloat64(capabilityInvocationsTotal.WithLabelValues("sql", OutcomeOK))
	assert.Equal(t, before+1, after)

	RecordRetry("sql")
	assert.GreaterOrEqual(t, testutil.ToFloat64(capabilityRetriesTotal.WithLabelValues("sql")), 1.0)
}
