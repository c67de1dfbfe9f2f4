package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	domain "github.com/vendora/api/internal/domain"
	"github.com/vendora/api/internal/services"
)

type probeStub struct {
	report services.SystemHealthReport
	err    error
}

func (p *probeStub) Health(context.Context) (services.SystemHealthReport, error) {
	return p.report, p.err
}

var _ services.SystemService = (*probeStub)(nil)

func probe(t *testing.T, h *HealthHandlers, path string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	switch path {
	case "/healthz":
		h.Healthz(rr, req)
	case "/readyz":
		h.Readyz(rr, req)
	default:
		t.Fatalf("unknown probe path %s", path)
	}
	return rr
}

func decodeHealth(t *testing.T, rr *httptest.ResponseRecorder) healthResponse {
	t.Helper()
	var body healthResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	return body
}

func TestHealthHandlersHealthz(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	handlers := NewHealthHandlers(
		WithHealthBuildInfo(services.BuildInfo{
			Version:     "1.0.0",
			CommitSHA:   "abc123",
			Environment: "prod",
			StartedAt:   start,
		}),
		WithHealthClock(func() time.Time { return start.Add(30 * time.Second) }),
	)

	rr := probe(t, handlers, "/healthz")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	body := decodeHealth(t, rr)
	if body.Status != domain.HealthStatusOK {
		t.Fatalf("expected status ok, got %s", body.Status)
	}
	if body.Version != "1.0.0" || body.CommitSHA != "abc123" || body.Environment != "prod" {
		t.Fatalf("unexpected build metadata: %#v", body)
	}
	if body.Uptime != "30s" {
		t.Fatalf("expected uptime 30s, got %s", body.Uptime)
	}
	if body.Timestamp != "2025-01-01T00:00:30Z" {
		t.Fatalf("unexpected timestamp: %s", body.Timestamp)
	}
}

func TestHealthHandlersReadyzSuccess(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 1, 0, 0, time.UTC)
	svc := &probeStub{
		report: services.SystemHealthReport{
			Status:      domain.HealthStatusOK,
			Version:     "1.0.0",
			CommitSHA:   "abc123",
			Environment: "prod",
			Uptime:      time.Minute,
			GeneratedAt: now,
			Checks: map[string]domain.SystemHealthCheck{
				"firestore": {Status: domain.HealthStatusOK, Latency: 10 * time.Millisecond, CheckedAt: now},
			},
		},
	}

	handlers := NewHealthHandlers(
		WithHealthSystemService(svc),
		WithHealthClock(func() time.Time { return now }),
	)

	rr := probe(t, handlers, "/readyz")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	body := decodeHealth(t, rr)
	if body.Status != domain.HealthStatusOK {
		t.Fatalf("expected status ok, got %s", body.Status)
	}
	if len(body.Details) != 0 {
		t.Fatalf("expected no details, got %v", body.Details)
	}
	check, ok := body.Checks["firestore"]
	if !ok || check.Status != domain.HealthStatusOK {
		t.Fatalf("expected firestore check ok, got %#v", body.Checks)
	}
	if check.LatencyMS != 10 {
		t.Fatalf("expected 10ms latency, got %d", check.LatencyMS)
	}
}

func TestHealthHandlersReadyzDegradedDependency(t *testing.T) {
	svc := &probeStub{
		report: services.SystemHealthReport{
			Status: domain.HealthStatusDegraded,
			Checks: map[string]domain.SystemHealthCheck{
				"pubsub": {Status: domain.HealthStatusDegraded, Error: "publish failed"},
			},
		},
	}

	handlers := NewHealthHandlers(WithHealthSystemService(svc))

	rr := probe(t, handlers, "/readyz")
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}

	body := decodeHealth(t, rr)
	if body.Status != domain.HealthStatusDegraded {
		t.Fatalf("expected status degraded, got %s", body.Status)
	}
	if len(body.Details) != 1 || body.Details[0] != "pubsub: publish failed" {
		t.Fatalf("expected pubsub failure detail, got %v", body.Details)
	}
}

func TestHealthHandlersReadyzProbeError(t *testing.T) {
	handlers := NewHealthHandlers(WithHealthSystemService(&probeStub{err: errors.New("probe timeout")}))

	rr := probe(t, handlers, "/readyz")
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}

	body := decodeHealth(t, rr)
	if body.Status != domain.HealthStatusError {
		t.Fatalf("expected status error, got %s", body.Status)
	}
	if len(body.Details) != 1 || body.Details[0] != "probe timeout" {
		t.Fatalf("expected probe error detail, got %v", body.Details)
	}
}

func TestHealthHandlersReadyzWithoutSystemService(t *testing.T) {
	handlers := NewHealthHandlers()

	rr := probe(t, handlers, "/readyz")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if body := decodeHealth(t, rr); body.Status != domain.HealthStatusOK {
		t.Fatalf("expected status ok, got %s", body.Status)
	}
}
