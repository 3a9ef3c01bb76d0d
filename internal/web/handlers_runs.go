package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/geopublish/internal/core"
	"github.com/JonMunkholm/geopublish/internal/domain"
)

// keepAliveInterval spaces SSE comments that keep idle proxies from
// closing a quiet progress stream.
const keepAliveInterval = 15 * time.Second

// startRunRequest is the body of POST /api/runs. Items, Dir and Tables
// are alternative sources and may be combined.
type startRunRequest struct {
	Workspace string            `json:"workspace"`
	Items     []domain.DataItem `json:"items"`

	// Dir is scanned relative to the configured scan root.
	Dir     string   `json:"dir"`
	Include []string `json:"include"`
	Exclude []string `json:"exclude"`

	// Tables adds every existing spatial table in the database.
	Tables bool `json:"tables"`

	Prefix    string `json:"prefix"`
	Style     string `json:"style"`
	Overwrite *bool  `json:"overwrite"`
	TargetCRS string `json:"targetCrs"`
}

type startRunResponse struct {
	RunID     string `json:"runId"`
	Items     int    `json:"items"`
	StatusURL string `json:"statusUrl"`
	EventsURL string `json:"eventsUrl"`
	ResultURL string `json:"resultUrl"`
}

type runResultResponse struct {
	*core.RunResult
	OK bool `json:"ok"`
}

// handleStartRun collects the requested items and starts a background run.
func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	if s.deps.Runs == nil {
		respondError(w, r, errNotConfigured, 0)
		return
	}

	var req startRunRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, r, err.Error())
		return
	}

	items, err := s.collectItems(r.Context(), req)
	if err != nil {
		respondError(w, r, err, 0)
		return
	}

	runID, err := s.deps.Runs.StartRun(r.Context(), core.RunRequest{
		Workspace: req.Workspace,
		Items:     items,
		Overwrite: req.Overwrite,
		TargetCRS: req.TargetCRS,
	})
	if err != nil {
		respondError(w, r, err, 0)
		return
	}

	requestLogger(r).Info("run started", "run_id", runID, "items", len(items))

	base := "/api/runs/" + runID
	writeJSONStatus(w, http.StatusAccepted, startRunResponse{
		RunID:     runID,
		Items:     len(items),
		StatusURL: base,
		EventsURL: base + "/events",
		ResultURL: base + "/result",
	})
}

// collectItems merges explicit items, a scanned folder and existing tables.
// Prefix and style apply to all of them; explicit item names are kept.
func (s *Server) collectItems(ctx context.Context, req startRunRequest) ([]domain.DataItem, error) {
	var items []domain.DataItem

	if req.Dir != "" {
		res, err := s.scan(ctx, req.Dir, req.Include, req.Exclude)
		if err != nil {
			return nil, err
		}
		items = append(items, res.Items...)
	}

	if req.Tables {
		if s.deps.Catalog == nil {
			return nil, errNotConfigured
		}
		catalog, err := s.deps.Catalog(ctx)
		if err != nil {
			return nil, err
		}
		tables, err := catalog.ListSpatialTables(ctx)
		_ = catalog.Close(ctx)
		if err != nil {
			return nil, err
		}
		items = append(items, core.ItemsFromTables(tables)...)
	}

	core.ApplyPrefix(items, req.Prefix)

	explicit, err := s.confineItems(req.Items)
	if err != nil {
		return nil, err
	}
	items = append(items, explicit...)
	if req.Style != "" {
		core.ApplyStyle(items, req.Style)
	}

	if len(items) == 0 {
		return nil, core.ErrNoItems
	}
	return items, nil
}

// confineItems resolves the source of every file item against the scan
// root and rejects sources outside it. Relative sources are taken from the
// root. Existing tables pass through.
func (s *Server) confineItems(items []domain.DataItem) ([]domain.DataItem, error) {
	out := make([]domain.DataItem, len(items))
	for i, it := range items {
		if it.Kind != domain.KindExistingTable {
			path, err := s.resolveScanDir(it.SourceIdentifier)
			if err != nil {
				return nil, err
			}
			it.SourceIdentifier = path
		}
		out[i] = it
	}
	return out, nil
}

// handleListRuns returns every tracked run and the slot usage.
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if s.deps.Runs == nil {
		respondError(w, r, errNotConfigured, 0)
		return
	}

	runs := s.deps.Runs.ListRuns()
	sort.Slice(runs, func(i, j int) bool { return runs[i].RunID < runs[j].RunID })

	writeJSON(w, map[string]any{
		"runs":    runs,
		"limiter": s.deps.Runs.LimiterStatus(),
	})
}

// handleRunProgress returns the current progress of a run.
func (s *Server) handleRunProgress(w http.ResponseWriter, r *http.Request) {
	if s.deps.Runs == nil {
		respondError(w, r, errNotConfigured, 0)
		return
	}

	progress, err := s.deps.Runs.GetRunProgress(chi.URLParam(r, "runID"))
	if err != nil {
		respondError(w, r, err, 0)
		return
	}
	writeJSON(w, progress)
}

// handleRunEvents streams run progress via Server-Sent Events. The event
// ID is the progress percentage, so a reconnecting client passing
// lastEventId (or the Last-Event-ID header) skips updates it has seen.
// The stream ends with a "complete" event carrying the final result.
func (s *Server) handleRunEvents(w http.ResponseWriter, r *http.Request) {
	if s.deps.Runs == nil {
		respondError(w, r, errNotConfigured, 0)
		return
	}
	runID := chi.URLParam(r, "runID")

	lastEventIDStr := r.URL.Query().Get("lastEventId")
	if lastEventIDStr == "" {
		lastEventIDStr = r.Header.Get("Last-Event-ID")
	}
	lastEventID := -1
	if lastEventIDStr != "" {
		if n, err := strconv.Atoi(lastEventIDStr); err == nil {
			lastEventID = n
		}
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeErrorMessage(w, r, http.StatusInternalServerError, "ERR000", "streaming not supported")
		return
	}

	progressCh, err := s.deps.Runs.SubscribeProgress(runID)
	if err != nil {
		respondError(w, r, err, 0)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case progress, ok := <-progressCh:
			if !ok {
				s.writeCompleteEvent(w, r, runID)
				flusher.Flush()
				return
			}

			// Terminal updates are always sent so a resumed stream still
			// learns how the run ended.
			if progress.Percent <= lastEventID && !progress.Phase.Finished() {
				continue
			}

			data, _ := json.Marshal(progress)
			fmt.Fprintf(w, "id: %d\nevent: progress\ndata: %s\n\n", progress.Percent, data)
			flusher.Flush()

		case <-keepAlive.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}

func (s *Server) writeCompleteEvent(w http.ResponseWriter, r *http.Request, runID string) {
	// The listener channel closes only after the result is recorded, so
	// this does not block.
	ctx, cancel := context.WithTimeout(r.Context(), time.Second)
	defer cancel()

	res, err := s.deps.Runs.GetRunResult(ctx, runID)
	if err != nil {
		fmt.Fprint(w, "event: complete\ndata: {}\n\n")
		return
	}
	data, _ := json.Marshal(runResultResponse{RunResult: res, OK: res.OK()})
	fmt.Fprintf(w, "event: complete\ndata: %s\n\n", data)
}

// handleRunResult returns the final result of a run. Unless wait=true,
// an unfinished run answers 202 with its current progress.
func (s *Server) handleRunResult(w http.ResponseWriter, r *http.Request) {
	if s.deps.Runs == nil {
		respondError(w, r, errNotConfigured, 0)
		return
	}
	runID := chi.URLParam(r, "runID")

	progress, err := s.deps.Runs.GetRunProgress(runID)
	if err != nil {
		respondError(w, r, err, 0)
		return
	}
	if !progress.Phase.Finished() && r.URL.Query().Get("wait") != "true" {
		writeJSONStatus(w, http.StatusAccepted, progress)
		return
	}

	res, err := s.deps.Runs.GetRunResult(r.Context(), runID)
	if err != nil {
		respondError(w, r, err, 0)
		return
	}
	writeJSON(w, runResultResponse{RunResult: res, OK: res.OK()})
}

// handleCancelRun asks a run to stop before its next item.
func (s *Server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	if s.deps.Runs == nil {
		respondError(w, r, errNotConfigured, 0)
		return
	}
	runID := chi.URLParam(r, "runID")

	if err := s.deps.Runs.CancelRun(runID); err != nil {
		respondError(w, r, err, 0)
		return
	}

	requestLogger(r).Info("run cancel requested", "run_id", runID)
	writeJSONStatus(w, http.StatusAccepted, map[string]string{"runId": runID, "status": "cancelling"})
}
