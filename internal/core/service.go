package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/geopublish/internal/domain"
	"github.com/JonMunkholm/geopublish/internal/geoserver"
	"github.com/JonMunkholm/geopublish/internal/logging"
	"github.com/JonMunkholm/geopublish/internal/postgis"
	"github.com/JonMunkholm/geopublish/internal/spatial"
)

// DefaultRunTimeout bounds a whole run. Items not started when it expires
// are recorded as cancelled.
const DefaultRunTimeout = 2 * time.Hour

// DefaultRetention is how long a finished run stays queryable.
const DefaultRetention = 10 * time.Minute

var (
	// ErrRunNotFound is returned for unknown or expired run IDs.
	ErrRunNotFound = errors.New("run not found")
	// ErrNoItems is returned when a run request carries nothing to publish.
	ErrNoItems = errors.New("no items to publish")
)

// GatewayFactory builds fresh gateways for one run. Runs never share a
// database connection or HTTP session.
type GatewayFactory func(ctx context.Context) (Database, Publisher, error)

// GatewaySettings are the fixed inputs for building a run's gateways.
type GatewaySettings struct {
	Params    domain.ConnectionParams
	Reader    spatial.Reader
	Target    domain.PublishTarget
	BatchSize int
	Logger    *slog.Logger
	// PublisherOptions tune the map server client (timeout, retries).
	PublisherOptions []geoserver.Option
}

// Build returns a new, unconnected database gateway and map server client.
func (g GatewaySettings) Build() (*postgis.Gateway, *geoserver.Client, error) {
	logger := logging.OrDefault(g.Logger)
	db, err := postgis.New(g.Params, g.Reader,
		postgis.WithLogger(logger),
		postgis.WithBatchSize(g.BatchSize),
	)
	if err != nil {
		return nil, nil, err
	}
	opts := append([]geoserver.Option{geoserver.WithLogger(logger)}, g.PublisherOptions...)
	return db, geoserver.NewForTarget(g.Target, opts...), nil
}

// NewGatewayFactory returns a factory producing PostGIS and GeoServer
// gateways from fixed settings.
func NewGatewayFactory(settings GatewaySettings) GatewayFactory {
	return func(ctx context.Context) (Database, Publisher, error) {
		db, pub, err := settings.Build()
		if err != nil {
			return nil, nil, err
		}
		return db, pub, nil
	}
}

// ServiceConfig holds run defaults.
type ServiceConfig struct {
	// Target supplies the map server URL, credentials and default workspace.
	Target      domain.PublishTarget
	StoreParams *domain.ConnectionParams
	Schema      string
	Overwrite   bool
	TargetCRS   string

	RunTimeout    time.Duration
	MaxConcurrent int
	SlotWait      time.Duration
	Retention     time.Duration
	Logger        *slog.Logger
}

// Service runs publish batches in the background and tracks their
// progress for any number of subscribers.
type Service struct {
	factory GatewayFactory
	cfg     ServiceConfig
	limiter *RunLimiter
	logger  *slog.Logger

	mu   sync.RWMutex
	runs map[string]*activeRun
}

type activeRun struct {
	ID        string
	Workspace string
	StartedAt time.Time
	Cancel    context.CancelFunc
	Done      chan struct{}

	mu       sync.Mutex // guards Progress and Result
	Progress RunProgress
	Result   *RunResult

	ListenerMu sync.Mutex
	Listeners  []chan RunProgress
}

// NewService creates a run service.
func NewService(factory GatewayFactory, cfg ServiceConfig) (*Service, error) {
	if factory == nil {
		return nil, domain.PrerequisiteError("new-service", "no gateway factory configured")
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = DefaultRunTimeout
	}
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRetention
	}
	return &Service{
		factory: factory,
		cfg:     cfg,
		limiter: NewRunLimiter(cfg.MaxConcurrent, cfg.SlotWait),
		logger:  logging.OrDefault(cfg.Logger),
		runs:    make(map[string]*activeRun),
	}, nil
}

// StartRun begins a background run and returns its ID immediately.
// Use SubscribeProgress for updates and GetRunResult for the outcome.
//
// Returns ErrTooManyRuns when another run holds the only slot.
func (s *Service) StartRun(ctx context.Context, req RunRequest) (string, error) {
	if len(req.Items) == 0 {
		return "", ErrNoItems
	}
	target := s.cfg.Target
	if ws := strings.TrimSpace(req.Workspace); ws != "" {
		target.Workspace = ws
		target.DataStore = domain.DataStoreName(ws)
		target.NamespaceURI = domain.DefaultNamespaceURI(ws)
	}
	if target.Workspace == "" {
		return "", domain.NameError("start-run", "workspace is required")
	}
	if target.DataStore == "" {
		target.DataStore = domain.DataStoreName(target.Workspace)
	}
	if target.NamespaceURI == "" {
		target.NamespaceURI = domain.DefaultNamespaceURI(target.Workspace)
	}

	if err := s.limiter.Acquire(ctx); err != nil {
		return "", err
	}

	runID := uuid.New().String()
	runCtx, cancel := context.WithTimeout(context.Background(), s.cfg.RunTimeout)
	runCtx = logging.WithRunID(runCtx, runID)

	run := &activeRun{
		ID:        runID,
		Workspace: target.Workspace,
		StartedAt: time.Now(),
		Cancel:    cancel,
		Done:      make(chan struct{}),
		Progress: RunProgress{
			RunID:     runID,
			Workspace: target.Workspace,
			Phase:     PhaseStarting,
			Total:     len(req.Items),
		},
	}

	s.mu.Lock()
	s.runs[runID] = run
	s.mu.Unlock()

	// Panic recovery keeps the limiter slot from leaking.
	go func() {
		defer s.limiter.Release()
		defer cancel()
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("panic in run", "run_id", runID, "panic", r)
				s.finish(run, &RunResult{Error: fmt.Sprintf("internal error: %v", r)}, PhaseFailed)
			}
		}()
		s.execute(runCtx, run, req, target)
	}()

	s.logger.Info("run queued", "run_id", runID, "workspace", target.Workspace, "items", len(req.Items))
	return runID, nil
}

func (s *Service) execute(ctx context.Context, run *activeRun, req RunRequest, target domain.PublishTarget) {
	logger := s.logger.With("run_id", run.ID)

	run.update(func(p *RunProgress) { p.Phase = PhaseConnecting })

	db, pub, err := s.factory(ctx)
	if err != nil {
		logger.Error("building gateways", "error", err)
		s.finish(run, &RunResult{Error: err.Error()}, PhaseFailed)
		return
	}

	opts := Options{
		Schema:      s.cfg.Schema,
		Overwrite:   s.cfg.Overwrite,
		TargetCRS:   s.cfg.TargetCRS,
		StoreParams: s.cfg.StoreParams,
		Logger:      logger,
	}
	if req.Overwrite != nil {
		opts.Overwrite = *req.Overwrite
	}
	if req.TargetCRS != "" {
		opts.TargetCRS = req.TargetCRS
	}

	orch, err := New(db, pub, opts)
	if err != nil {
		s.finish(run, &RunResult{Error: err.Error()}, PhaseFailed)
		return
	}

	batch := orch.Run(ctx, req.Items, target, Reporter{
		Progress: func(pct int) {
			run.update(func(p *RunProgress) {
				p.Phase = PhaseProcessing
				p.Percent = pct
			})
		},
		Status: func(msg string) {
			run.update(func(p *RunProgress) { p.Status = msg })
		},
		ItemDone: func(_ int, _ domain.DataItem, f *domain.ItemFailure) {
			run.update(func(p *RunProgress) {
				p.Done++
				if f != nil {
					p.Failed++
				} else {
					p.Succeeded++
				}
			})
		},
	})

	phase := PhaseComplete
	switch {
	case batch.SetupErr != nil:
		phase = PhaseFailed
	case batch.Cancelled:
		phase = PhaseCancelled
	}
	s.finish(run, &RunResult{Batch: batch}, phase)
}

// finish records the result, wakes waiters and schedules removal.
func (s *Service) finish(run *activeRun, res *RunResult, phase RunPhase) {
	res.RunID = run.ID
	res.Workspace = run.Workspace
	res.StartedAt = run.StartedAt
	res.FinishedAt = time.Now()

	run.mu.Lock()
	if run.Result != nil {
		run.mu.Unlock()
		return
	}
	run.Result = res
	run.Progress.Phase = phase
	switch {
	case res.Error != "":
		run.Progress.Error = res.Error
	case res.Batch != nil && res.Batch.SetupErr != nil:
		run.Progress.Error = res.Batch.Message
	}
	if res.Batch != nil {
		run.Progress.Status = res.Batch.Message
		run.Progress.Succeeded = res.Batch.Succeeded
		run.Progress.Failed = res.Batch.Failed
	}
	run.mu.Unlock()

	run.notifyProgress()
	run.closeListeners()
	s.cleanup(run.ID, s.cfg.Retention)

	s.logger.Info("run finished", "run_id", run.ID, "phase", phase)
}

// SubscribeProgress returns a channel of progress updates. The current
// state is sent first; the channel closes when the run finishes.
func (s *Service) SubscribeProgress(runID string) (<-chan RunProgress, error) {
	run, err := s.get(runID)
	if err != nil {
		return nil, err
	}

	ch := make(chan RunProgress, 16)

	run.ListenerMu.Lock()
	defer run.ListenerMu.Unlock()

	ch <- run.snapshot()
	select {
	case <-run.Done:
		close(ch)
	default:
		run.Listeners = append(run.Listeners, ch)
	}
	return ch, nil
}

// CancelRun stops a run between items.
func (s *Service) CancelRun(runID string) error {
	run, err := s.get(runID)
	if err != nil {
		return err
	}
	run.Cancel()
	s.logger.Info("run cancel requested", "run_id", runID)
	return nil
}

// GetRunResult blocks until the run finishes or ctx is done.
func (s *Service) GetRunResult(ctx context.Context, runID string) (*RunResult, error) {
	run, err := s.get(runID)
	if err != nil {
		return nil, err
	}
	select {
	case <-run.Done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	run.mu.Lock()
	defer run.mu.Unlock()
	return run.Result, nil
}

// GetRunProgress returns the current progress without blocking.
func (s *Service) GetRunProgress(runID string) (RunProgress, error) {
	run, err := s.get(runID)
	if err != nil {
		return RunProgress{}, err
	}
	return run.snapshot(), nil
}

// ListRuns returns progress for every tracked run.
func (s *Service) ListRuns() []RunProgress {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]RunProgress, 0, len(s.runs))
	for _, run := range s.runs {
		out = append(out, run.snapshot())
	}
	return out
}

// LimiterStatus reports run slot usage.
func (s *Service) LimiterStatus() RunLimiterStatus {
	return s.limiter.Status()
}

// WaitForRuns blocks until every active run has finished. Used during
// shutdown.
func (s *Service) WaitForRuns(ctx context.Context) error {
	return s.limiter.WaitForDrain(ctx)
}

// CancelAll cancels every unfinished run.
func (s *Service) CancelAll() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, run := range s.runs {
		run.Cancel()
	}
}

func (s *Service) get(runID string) (*activeRun, error) {
	s.mu.RLock()
	run, ok := s.runs[runID]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return run, nil
}

func (s *Service) cleanup(runID string, delay time.Duration) {
	time.AfterFunc(delay, func() {
		s.mu.Lock()
		delete(s.runs, runID)
		s.mu.Unlock()
	})
}

func (run *activeRun) snapshot() RunProgress {
	run.mu.Lock()
	defer run.mu.Unlock()
	return run.Progress
}

// update applies fn to the progress and notifies listeners.
func (run *activeRun) update(fn func(*RunProgress)) {
	run.mu.Lock()
	fn(&run.Progress)
	run.mu.Unlock()
	run.notifyProgress()
}

// notifyProgress sends the current progress to all listeners. Slow
// listeners miss intermediate updates.
func (run *activeRun) notifyProgress() {
	p := run.snapshot()

	run.ListenerMu.Lock()
	defer run.ListenerMu.Unlock()

	for _, ch := range run.Listeners {
		select {
		case ch <- p:
		default:
		}
	}
}

// closeListeners closes every listener and marks the run done under the
// same lock, so a late subscriber either sees Done or gets closed here.
func (run *activeRun) closeListeners() {
	run.ListenerMu.Lock()
	defer run.ListenerMu.Unlock()

	for _, ch := range run.Listeners {
		close(ch)
	}
	run.Listeners = nil
	close(run.Done)
}
