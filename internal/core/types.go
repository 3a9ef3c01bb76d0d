package core

import (
	"time"

	"github.com/JonMunkholm/geopublish/internal/domain"
)

// RunPhase indicates the current stage of a background run.
type RunPhase string

const (
	PhaseStarting   RunPhase = "starting"
	PhaseConnecting RunPhase = "connecting"
	PhaseProcessing RunPhase = "processing"
	PhaseComplete   RunPhase = "complete"
	PhaseFailed     RunPhase = "failed"
	PhaseCancelled  RunPhase = "cancelled"
)

// Finished reports whether the phase is terminal.
func (p RunPhase) Finished() bool {
	return p == PhaseComplete || p == PhaseFailed || p == PhaseCancelled
}

// RunRequest describes a batch to publish.
type RunRequest struct {
	Workspace string            `json:"workspace"`
	Items     []domain.DataItem `json:"items"`
	// Overwrite and TargetCRS override the service defaults when set.
	Overwrite *bool  `json:"overwrite,omitempty"`
	TargetCRS string `json:"targetCrs,omitempty"`
}

// RunProgress represents the current state of a run.
type RunProgress struct {
	RunID     string   `json:"runId"`
	Workspace string   `json:"workspace"`
	Phase     RunPhase `json:"phase"`
	Percent   int      `json:"percent"`
	Status    string   `json:"status"`
	Total     int      `json:"total"`
	Done      int      `json:"done"`
	Succeeded int      `json:"succeeded"`
	Failed    int      `json:"failed"`
	Error     string   `json:"error,omitempty"` // Non-empty if Phase is PhaseFailed
}

// RunResult contains the final result of a run.
type RunResult struct {
	RunID      string              `json:"runId"`
	Workspace  string              `json:"workspace"`
	StartedAt  time.Time           `json:"startedAt"`
	FinishedAt time.Time           `json:"finishedAt"`
	Batch      *domain.BatchResult `json:"batch,omitempty"`
	Error      string              `json:"error,omitempty"` // Non-empty if the run never produced a batch result
}

// OK reports whether at least one item was published.
func (r *RunResult) OK() bool {
	return r != nil && r.Batch != nil && r.Batch.OK
}
