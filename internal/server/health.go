package server

import (
	"context"
	"net/http"
	"sort"
	"time"
)

const healthCheckTimeout = 2 * time.Second

type checkInfo struct {
	Connected bool    `json:"connected"`
	LatencyMs float64 `json:"latency_ms"`
	Error     string  `json:"error,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	overallHealthy := true

	names := make([]string, 0, len(s.deps.HealthChecks))
	for name := range s.deps.HealthChecks {
		names = append(names, name)
	}
	sort.Strings(names)

	checks := make(map[string]checkInfo, len(names))
	for _, name := range names {
		info := s.runCheck(ctx, s.deps.HealthChecks[name])
		if !info.Connected {
			overallHealthy = false
		}
		checks[name] = info
	}

	status := "healthy"
	if !overallHealthy {
		status = "degraded"
	}

	resp := struct {
		Status   string               `json:"status"`
		Checks   map[string]checkInfo `json:"checks"`
		Visitors int                  `json:"visitors"`
	}{
		Status:   status,
		Checks:   checks,
		Visitors: s.visitors.len(),
	}

	code := http.StatusOK
	if !overallHealthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

func (s *Server) runCheck(ctx context.Context, check func(context.Context) error) checkInfo {
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	start := time.Now()
	if err := check(ctx); err != nil {
		return checkInfo{Error: err.Error()}
	}
	return checkInfo{
		Connected: true,
		LatencyMs: float64(time.Since(start).Microseconds()) / 1000.0,
	}
}
