package core

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/JonMunkholm/geopublish/internal/domain"
	"github.com/JonMunkholm/geopublish/internal/geoserver"
	"github.com/JonMunkholm/geopublish/internal/logging"
	"github.com/JonMunkholm/geopublish/internal/postgis"
)

// Database is the database gateway as seen by the orchestrator.
// Satisfied by *postgis.Gateway.
type Database interface {
	Connect(ctx context.Context) error
	Close(ctx context.Context) error
	Params() domain.ConnectionParams
	ImportVector(ctx context.Context, in postgis.VectorImport) (*postgis.ImportStats, error)
	ImportRaster(ctx context.Context, path, table string) error
}

// Publisher is the publishing gateway as seen by the orchestrator.
// Satisfied by *geoserver.Client.
type Publisher interface {
	TestConnection(ctx context.Context) error
	CreateWorkspace(ctx context.Context, name, namespaceURI string) (bool, error)
	CreatePostGISDatastore(ctx context.Context, workspace, store string, p domain.ConnectionParams) (bool, error)
	PublishFeatureLayer(ctx context.Context, ft geoserver.FeatureType) error
	SetLayerStyle(ctx context.Context, workspace, layer, style string) error
}

// Reporter receives run feedback. Any field may be nil.
type Reporter struct {
	Progress func(percent int)
	Status   func(message string)
	// ItemDone is called after each item with its failure, or nil on success.
	ItemDone func(index int, item domain.DataItem, failure *domain.ItemFailure)
}

func (r Reporter) progress(p int) {
	if r.Progress != nil {
		r.Progress(p)
	}
}

func (r Reporter) status(msg string) {
	if r.Status != nil {
		r.Status(msg)
	}
}

func (r Reporter) itemDone(i int, item domain.DataItem, f *domain.ItemFailure) {
	if r.ItemDone != nil {
		r.ItemDone(i, item, f)
	}
}

// Options tune a run.
type Options struct {
	// Schema receives imported tables. Defaults to the database schema.
	Schema string
	// Overwrite drops an existing table of the same name before import.
	// Without it the rows are appended.
	Overwrite bool
	// TargetCRS, when set, replaces each item's CRS as both the import
	// target and the published SRS.
	TargetCRS string
	// StoreParams are the connection details GeoServer uses for the data
	// store. Defaults to the database gateway's own parameters.
	StoreParams *domain.ConnectionParams
	Logger      *slog.Logger
}

// Orchestrator drives one batch of items through import and publish.
// Items are processed strictly one after another.
type Orchestrator struct {
	db     Database
	pub    Publisher
	opts   Options
	logger *slog.Logger
}

// New builds an orchestrator. Both gateways are required.
func New(db Database, pub Publisher, opts Options) (*Orchestrator, error) {
	if db == nil {
		return nil, domain.PrerequisiteError("new-orchestrator", "no database gateway configured")
	}
	if pub == nil {
		return nil, domain.PrerequisiteError("new-orchestrator", "no publishing gateway configured")
	}
	return &Orchestrator{
		db:     db,
		pub:    pub,
		opts:   opts,
		logger: logging.OrDefault(opts.Logger),
	}, nil
}

// Run imports and publishes items into target.
//
// Any setup failure (database, map server, workspace, data store) aborts
// the run before any item is touched and leaves Failures empty. After
// setup, a failing item is recorded and the run moves on. The run is OK
// when at least one item succeeded.
//
// ctx is checked only between items. Calls already in flight for an item
// are not cancelled; items not yet started are recorded as cancelled.
func (o *Orchestrator) Run(ctx context.Context, items []domain.DataItem, target domain.PublishTarget, rep Reporter) *domain.BatchResult {
	start := time.Now()
	logger := o.logger.With("workspace", target.Workspace, "items", len(items))
	res := &domain.BatchResult{Total: len(items), Failures: []domain.ItemFailure{}}

	if target.DataStore == "" {
		target.DataStore = domain.DataStoreName(target.Workspace)
	}

	fail := func(stage string, err error) *domain.BatchResult {
		res.SetupErr = err
		res.Message = fmt.Sprintf("%s: %v", stage, err)
		res.Duration = time.Since(start)
		logger.Error("run aborted", "stage", stage, "error", err)
		rep.status(res.Message)
		return res
	}

	// 1. Database
	rep.status("connecting to database")
	if err := o.db.Connect(ctx); err != nil {
		return fail("database connection failed", err)
	}
	defer func() {
		if err := o.db.Close(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("closing database connection", "error", err)
		}
	}()

	// 2. Map server
	rep.status("connecting to map server")
	if err := o.pub.TestConnection(ctx); err != nil {
		return fail("map server connection failed", err)
	}

	// 3. Workspace
	if _, err := o.pub.CreateWorkspace(ctx, target.Workspace, target.NamespaceURI); err != nil {
		return fail("workspace setup failed", err)
	}

	// 4. Data store
	storeParams := o.db.Params()
	if o.opts.StoreParams != nil {
		storeParams = *o.opts.StoreParams
	}
	if o.opts.Schema != "" {
		storeParams.Schema = o.opts.Schema
	}
	if _, err := o.pub.CreatePostGISDatastore(ctx, target.Workspace, target.DataStore, storeParams); err != nil {
		return fail("data store setup failed", err)
	}

	// 5. Items
	logger.Info("run started")
	for i, item := range items {
		if err := ctx.Err(); err != nil {
			res.Cancelled = true
			for _, rest := range items[i:] {
				res.Failures = append(res.Failures, domain.ItemFailure{
					Identifier: rest.SourceIdentifier,
					TargetName: rest.TargetName,
					Stage:      domain.StageCancelled,
					Reason:     "run cancelled before this item started",
					Err:        err,
				})
			}
			logger.Warn("run cancelled", "remaining", len(items)-i)
			break
		}

		rep.progress(100 * i / len(items))
		rep.status("processing " + displayName(item))

		failure := o.processItem(context.WithoutCancel(ctx), item, target)
		if failure != nil {
			res.Failures = append(res.Failures, *failure)
			logger.Warn("item failed",
				"item", item.SourceIdentifier,
				"stage", failure.Stage,
				"error", failure.Reason,
			)
		} else {
			res.Succeeded++
		}
		rep.itemDone(i, item, failure)
	}

	// 6. Summary
	res.Failed = len(res.Failures)
	res.OK = res.Succeeded > 0
	res.Message = fmt.Sprintf("completed: %d/%d items succeeded", res.Succeeded, res.Total)
	res.Duration = time.Since(start)

	rep.progress(100)
	rep.status(fmt.Sprintf("completed: success %d, failed %d", res.Succeeded, res.Failed))
	logger.Info("run finished",
		"succeeded", res.Succeeded,
		"failed", res.Failed,
		"duration", res.Duration,
	)
	return res
}

// processItem runs one item through import and publish. A panic is
// recovered and reported as the item's failure.
func (o *Orchestrator) processItem(ctx context.Context, item domain.DataItem, target domain.PublishTarget) (failure *domain.ItemFailure) {
	failed := func(stage domain.Stage, err error) *domain.ItemFailure {
		return &domain.ItemFailure{
			Identifier: item.SourceIdentifier,
			TargetName: item.TargetName,
			Stage:      stage,
			Reason:     err.Error(),
			Err:        err,
		}
	}

	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("panic while processing item", "item", item.SourceIdentifier, "panic", r)
			failure = failed(domain.StageInternal, fmt.Errorf("unexpected error: %v", r))
		}
	}()

	if err := item.Validate(); err != nil {
		return failed(domain.StageValidate, err)
	}

	crs := item.EffectiveCRS()
	if o.opts.TargetCRS != "" {
		crs = o.opts.TargetCRS
	}

	switch item.Kind {
	case domain.KindVector:
		_, err := o.db.ImportVector(ctx, postgis.VectorImport{
			Path:      item.SourceIdentifier,
			Table:     item.TargetName,
			Schema:    o.opts.Schema,
			TargetCRS: crs,
			Overwrite: o.opts.Overwrite,
		})
		if err != nil {
			return failed(domain.StageImport, err)
		}
	case domain.KindRaster:
		if err := o.db.ImportRaster(ctx, item.SourceIdentifier, item.TargetName); err != nil {
			return failed(domain.StageImport, err)
		}
	case domain.KindExistingTable:
		// Already in the database.
	}

	err := o.pub.PublishFeatureLayer(ctx, geoserver.FeatureType{
		Workspace: target.Workspace,
		Store:     target.DataStore,
		Table:     item.TargetName,
		Layer:     item.TargetName,
		SRS:       crs,
	})
	if err != nil {
		return failed(domain.StagePublish, err)
	}

	if style := item.EffectiveStyle(); style != domain.DefaultStyle {
		if err := o.pub.SetLayerStyle(ctx, target.Workspace, item.TargetName, style); err != nil {
			return failed(domain.StageStyle, err)
		}
	}
	return nil
}

func displayName(item domain.DataItem) string {
	if item.TargetName != "" {
		return item.TargetName
	}
	return item.SourceIdentifier
}
