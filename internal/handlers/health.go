package handlers

import (
	"net/http"
	"time"

	domain "github.com/vendora/api/internal/domain"
	"github.com/vendora/api/internal/services"
)

// HealthHandlers serves the liveness and readiness probes. Healthz reports
// process metadata only; Readyz consults the system service so load balancers
// stop routing when a dependency is down.
type HealthHandlers struct {
	system services.SystemService
	build  services.BuildInfo
	clock  func() time.Time
}

// HealthOption customises HealthHandlers construction.
type HealthOption func(*HealthHandlers)

// WithHealthSystemService wires the dependency probe service used by Readyz.
func WithHealthSystemService(system services.SystemService) HealthOption {
	return func(h *HealthHandlers) {
		h.system = system
	}
}

// WithHealthBuildInfo sets the build metadata reported by Healthz.
func WithHealthBuildInfo(build services.BuildInfo) HealthOption {
	return func(h *HealthHandlers) {
		h.build = build
	}
}

// WithHealthClock overrides the clock, primarily for tests.
func WithHealthClock(clock func() time.Time) HealthOption {
	return func(h *HealthHandlers) {
		h.clock = clock
	}
}

// NewHealthHandlers constructs the probe handlers.
func NewHealthHandlers(opts ...HealthOption) *HealthHandlers {
	h := &HealthHandlers{
		clock: func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.clock == nil {
		h.clock = func() time.Time { return time.Now().UTC() }
	}
	return h
}

type healthCheckPayload struct {
	Status    string `json:"status"`
	Detail    string `json:"detail,omitempty"`
	Error     string `json:"error,omitempty"`
	LatencyMS int64  `json:"latency_ms,omitempty"`
	CheckedAt string `json:"checked_at,omitempty"`
}

type healthResponse struct {
	Status      string                        `json:"status"`
	Version     string                        `json:"version,omitempty"`
	CommitSHA   string                        `json:"commitSha,omitempty"`
	Environment string                        `json:"environment,omitempty"`
	Uptime      string                        `json:"uptime,omitempty"`
	Timestamp   string                        `json:"timestamp"`
	Checks      map[string]healthCheckPayload `json:"checks,omitempty"`
	Details     []string                      `json:"details,omitempty"`
}

// Healthz reports process liveness without touching any dependency.
func (h *HealthHandlers) Healthz(w http.ResponseWriter, r *http.Request) {
	now := h.clock()
	payload := healthResponse{
		Status:      domain.HealthStatusOK,
		Version:     h.build.Version,
		CommitSHA:   h.build.CommitSHA,
		Environment: h.build.Environment,
		Timestamp:   now.UTC().Format(time.RFC3339),
	}
	if !h.build.StartedAt.IsZero() {
		payload.Uptime = now.Sub(h.build.StartedAt).String()
	}
	writeJSONResponse(w, http.StatusOK, payload)
}

// Readyz probes the system service and returns 503 unless every dependency is healthy.
func (h *HealthHandlers) Readyz(w http.ResponseWriter, r *http.Request) {
	now := h.clock()

	if h.system == nil {
		writeJSONResponse(w, http.StatusOK, healthResponse{
			Status:    domain.HealthStatusOK,
			Timestamp: now.UTC().Format(time.RFC3339),
		})
		return
	}

	report, err := h.system.Health(r.Context())
	if err != nil {
		writeJSONResponse(w, http.StatusServiceUnavailable, healthResponse{
			Status:    domain.HealthStatusError,
			Timestamp: now.UTC().Format(time.RFC3339),
			Details:   []string{err.Error()},
		})
		return
	}

	payload := healthResponse{
		Status:      report.Status,
		Version:     report.Version,
		CommitSHA:   report.CommitSHA,
		Environment: report.Environment,
		Timestamp:   now.UTC().Format(time.RFC3339),
	}
	if report.Uptime > 0 {
		payload.Uptime = report.Uptime.String()
	}

	if len(report.Checks) > 0 {
		payload.Checks = make(map[string]healthCheckPayload, len(report.Checks))
		for name, check := range report.Checks {
			entry := healthCheckPayload{
				Status:    check.Status,
				Detail:    check.Detail,
				Error:     check.Error,
				CheckedAt: formatTime(check.CheckedAt),
			}
			if check.Latency > 0 {
				entry.LatencyMS = check.Latency.Milliseconds()
			}
			payload.Checks[name] = entry
			if check.Error != "" {
				payload.Details = append(payload.Details, name+": "+check.Error)
			}
		}
	}

	status := http.StatusOK
	if report.Status != domain.HealthStatusOK {
		status = http.StatusServiceUnavailable
	}
	writeJSONResponse(w, status, payload)
}
