package web

import (
	"context"
	"net/http"
	"time"
)

// healthCheckTimeout bounds the dependency checks of a deep health probe.
const healthCheckTimeout = 5 * time.Second

type healthResponse struct {
	Status string            `json:"status"`
	Runs   any               `json:"runs,omitempty"`
	Checks map[string]string `json:"checks,omitempty"`
}

// handleHealth reports liveness. With deep=true it also connects to the
// database and the map server and answers 503 if either fails.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok"}
	if s.deps.Runs != nil {
		resp.Runs = s.deps.Runs.LimiterStatus()
	}

	if r.URL.Query().Get("deep") != "true" {
		writeJSON(w, resp)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	resp.Checks = map[string]string{}
	check := func(name string, fn func() error) {
		if err := fn(); err != nil {
			resp.Status = "degraded"
			resp.Checks[name] = err.Error()
			return
		}
		resp.Checks[name] = "ok"
	}

	if s.deps.Catalog != nil {
		check("database", func() error {
			return s.withCatalog(ctx, func(Catalog) error { return nil })
		})
	}
	if s.deps.MapServer != nil {
		check("mapServer", func() error {
			return s.deps.MapServer.TestConnection(ctx)
		})
	}

	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSONStatus(w, status, resp)
}
