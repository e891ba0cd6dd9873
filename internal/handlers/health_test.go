package handlers

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mercadoparceiro/api/internal/domain"
)

func TestHealthHandlers_Readyz(t *testing.T) {
	now := time.Date(2025, 3, 12, 9, 0, 0, 0, time.UTC)
	tests := []struct {
		name   string
		svc    stubSystemService
		status int
		state  string
	}{
		{
			name: "healthy",
			svc: stubSystemService{report: domain.HealthReport{
				Status:      domain.HealthStatusOK,
				GeneratedAt: now,
				Checks: map[string]domain.DependencyHealth{
					"postgres": {Status: domain.HealthStatusOK, Latency: 3 * time.Millisecond},
					"redis":    {Status: domain.HealthStatusOK},
				},
			}},
			status: http.StatusOK,
			state:  domain.HealthStatusOK,
		},
		{
			name: "cache degraded",
			svc: stubSystemService{report: domain.HealthReport{
				Status:      domain.HealthStatusDegraded,
				GeneratedAt: now,
				Checks: map[string]domain.DependencyHealth{
					"postgres": {Status: domain.HealthStatusOK},
					"redis":    {Status: domain.HealthStatusError, Detail: "dial tcp: connection refused"},
				},
			}},
			status: http.StatusOK,
			state:  domain.HealthStatusDegraded,
		},
		{
			name: "database down",
			svc: stubSystemService{report: domain.HealthReport{
				Status:      domain.HealthStatusError,
				GeneratedAt: now,
				Checks: map[string]domain.DependencyHealth{
					"postgres": {Status: domain.HealthStatusError},
				},
			}},
			status: http.StatusServiceUnavailable,
			state:  domain.HealthStatusError,
		},
		{
			name:   "probe failed",
			svc:    stubSystemService{err: errors.New("context deadline exceeded")},
			status: http.StatusServiceUnavailable,
			state:  domain.HealthStatusError,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := NewHealthHandlers(WithHealthSystemService(tc.svc), WithHealthClock(func() time.Time { return now }))
			rr := httptest.NewRecorder()
			h.Readyz(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rr.Code)
			}
			if body := decodeBody(t, rr); body["status"] != tc.state {
				t.Fatalf("expected status %s, got %v", tc.state, body["status"])
			}
		})
	}
}

func TestHealthHandlers_ReadyzReportsChecks(t *testing.T) {
	svc := stubSystemService{report: domain.HealthReport{
		Status: domain.HealthStatusOK,
		Checks: map[string]domain.DependencyHealth{
			"postgres": {Status: domain.HealthStatusOK, Latency: 12 * time.Millisecond},
		},
	}}
	rr := httptest.NewRecorder()
	NewHealthHandlers(WithHealthSystemService(svc)).Readyz(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	checks, _ := decodeBody(t, rr)["checks"].(map[string]any)
	postgres, _ := checks["postgres"].(map[string]any)
	if postgres["latencyMs"] != float64(12) {
		t.Fatalf("unexpected postgres check %v", postgres)
	}
}

func TestHealthHandlers_ReadyzWithoutSystemServiceFallsBackToLiveness(t *testing.T) {
	rr := httptest.NewRecorder()
	NewHealthHandlers().Readyz(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}
