package core

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/geopublish/internal/domain"
)

func newOrchestrator(t *testing.T, db *fakeDatabase, pub *fakePublisher, opts Options) *Orchestrator {
	t.Helper()
	opts.Logger = quietLogger
	o, err := New(db, pub, opts)
	require.NoError(t, err)
	return o
}

func TestNewRequiresGateways(t *testing.T) {
	_, err := New(nil, &fakePublisher{}, Options{})
	assert.True(t, errors.Is(err, domain.ErrPrerequisite))

	_, err = New(&fakeDatabase{}, nil, Options{})
	assert.True(t, errors.Is(err, domain.ErrPrerequisite))
}

func TestRunMixedBatch(t *testing.T) {
	db, pub, rec := &fakeDatabase{}, &fakePublisher{}, &recorder{}
	o := newOrchestrator(t, db, pub, Options{})
	target := domain.NewPublishTarget("cities", "http://gs/geoserver", "admin", "geoserver")

	res := o.Run(context.Background(),
		[]domain.DataItem{vector("roads"), vector("parcels"), raster("dem")},
		target, rec.reporter())

	assert.Equal(t, 3, res.Total)
	assert.Equal(t, 2, res.Succeeded)
	assert.Equal(t, 1, res.Failed)
	assert.True(t, res.OK)
	assert.Equal(t, "completed: 2/3 items succeeded", res.Message)
	assert.NoError(t, res.SetupErr)

	require.Len(t, res.Failures, 1)
	f := res.Failures[0]
	assert.Equal(t, "dem", f.TargetName)
	assert.Equal(t, domain.StageImport, f.Stage)
	assert.True(t, errors.Is(f.Err, domain.ErrNotSupported))

	assert.Equal(t, []string{"roads", "parcels"}, db.importedTables())
	assert.Equal(t, []string{"roads", "parcels"}, pub.publishedLayers())
	assert.True(t, db.closed)

	assert.Equal(t, []int{0, 33, 66, 100}, rec.progress)
	assert.Contains(t, rec.statuses, "processing parcels")
	assert.Equal(t, "completed: success 2, failed 1", rec.statuses[len(rec.statuses)-1])
	assert.Equal(t, 3, rec.done)

	assert.Equal(t, []string{
		"test",
		"workspace cities",
		"store cities/cities_datastore",
		"publish roads",
		"publish parcels",
	}, pub.calls)
	assert.Equal(t, "secret", pub.storeParams.Password)
}

func TestRunSetupFailuresAbort(t *testing.T) {
	badCredentials := &domain.Error{
		Class:  domain.ErrConnection,
		Op:     "test-connection",
		Msg:    "map server rejected the connection",
		Status: http.StatusUnauthorized,
	}

	tests := []struct {
		name       string
		db         *fakeDatabase
		pub        *fakePublisher
		wantPrefix string
		wantClosed bool
	}{
		{
			name:       "database unreachable",
			db:         &fakeDatabase{connectErr: domain.ConnectionError("connect", "database connection failed", errors.New("refused"))},
			pub:        &fakePublisher{},
			wantPrefix: "database connection failed: ",
		},
		{
			name:       "bad map server credentials",
			db:         &fakeDatabase{},
			pub:        &fakePublisher{testErr: badCredentials},
			wantPrefix: "map server connection failed: ",
			wantClosed: true,
		},
		{
			name:       "workspace rejected",
			db:         &fakeDatabase{},
			pub:        &fakePublisher{workspaceErr: domain.PublishError("create-workspace", 500, "")},
			wantPrefix: "workspace setup failed: ",
			wantClosed: true,
		},
		{
			name:       "data store rejected",
			db:         &fakeDatabase{},
			pub:        &fakePublisher{storeErr: domain.PublishError("create-datastore", 500, "")},
			wantPrefix: "data store setup failed: ",
			wantClosed: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := newOrchestrator(t, tt.db, tt.pub, Options{})
			res := o.Run(context.Background(),
				[]domain.DataItem{vector("roads"), vector("parcels")},
				domain.NewPublishTarget("ws", "", "", ""), Reporter{})

			assert.False(t, res.OK)
			assert.Error(t, res.SetupErr)
			assert.Empty(t, res.Failures)
			assert.Zero(t, res.Succeeded)
			assert.True(t, strings.HasPrefix(res.Message, tt.wantPrefix), res.Message)
			assert.Empty(t, tt.db.importedTables())
			assert.Empty(t, tt.pub.publishedLayers())
			assert.Equal(t, tt.wantClosed, tt.db.closed)
		})
	}
}

func TestRunBadCredentialsKeepsStatus(t *testing.T) {
	pub := &fakePublisher{testErr: &domain.Error{
		Class:  domain.ErrConnection,
		Op:     "test-connection",
		Status: http.StatusUnauthorized,
	}}
	o := newOrchestrator(t, &fakeDatabase{}, pub, Options{})

	res := o.Run(context.Background(), []domain.DataItem{vector("a")}, domain.NewPublishTarget("ws", "", "", ""), Reporter{})

	assert.Equal(t, http.StatusUnauthorized, domain.StatusOf(res.SetupErr))
	assert.Equal(t, "AUTH001", MapError(res.SetupErr).Code)
	assert.Equal(t, []string{"test"}, pub.calls)
}

func TestRunContinuesAfterItemFailures(t *testing.T) {
	db := &fakeDatabase{importErrs: map[string]error{
		"broken": domain.NewError(domain.ErrNoGeometry, "import-vector", "broken.shp", nil),
	}}
	pub := &fakePublisher{publishErrs: map[string]error{
		"taken": domain.PublishError("publish-layer", http.StatusConflict, "already exists"),
	}}
	o := newOrchestrator(t, db, pub, Options{})

	bad := vector("Bad Name")
	res := o.Run(context.Background(),
		[]domain.DataItem{vector("broken"), vector("taken"), bad, vector("fine")},
		domain.NewPublishTarget("ws", "", "", ""), Reporter{})

	assert.Equal(t, 1, res.Succeeded)
	assert.Equal(t, 3, res.Failed)
	assert.True(t, res.OK)

	stages := map[string]domain.Stage{}
	for _, f := range res.Failures {
		stages[f.TargetName] = f.Stage
	}
	assert.Equal(t, map[string]domain.Stage{
		"broken":   domain.StageImport,
		"taken":    domain.StagePublish,
		"Bad Name": domain.StageValidate,
	}, stages)

	assert.NotContains(t, db.importedTables(), "Bad Name")
	assert.Equal(t, []string{"fine"}, pub.publishedLayers())
}

func TestRunStyleAndCRS(t *testing.T) {
	db, pub := &fakeDatabase{}, &fakePublisher{}
	o := newOrchestrator(t, db, pub, Options{Schema: "staging", Overwrite: true})

	styled := vector("roads")
	styled.Style = "default_line"
	styled.CRS = "EPSG:3857"
	plain := vector("parcels")
	plain.CRS = ""

	res := o.Run(context.Background(), []domain.DataItem{styled, plain}, domain.NewPublishTarget("ws", "", "", ""), Reporter{})
	require.True(t, res.OK)

	assert.Equal(t, map[string]string{"roads": "default_line"}, pub.styles)
	assert.Equal(t, "EPSG:3857", db.imports[0].TargetCRS)
	assert.Equal(t, "staging", db.imports[0].Schema)
	assert.True(t, db.imports[0].Overwrite)
	assert.Equal(t, domain.DefaultCRS, db.imports[1].TargetCRS)
	assert.Equal(t, "EPSG:3857", pub.published[0].SRS)
	assert.Equal(t, domain.DefaultCRS, pub.published[1].SRS)
	assert.Equal(t, "staging", pub.storeParams.Schema)
}

func TestRunTargetCRSOverride(t *testing.T) {
	db, pub := &fakeDatabase{}, &fakePublisher{}
	o := newOrchestrator(t, db, pub, Options{TargetCRS: "EPSG:3857"})

	res := o.Run(context.Background(), []domain.DataItem{vector("roads")}, domain.NewPublishTarget("ws", "", "", ""), Reporter{})
	require.True(t, res.OK)
	assert.Equal(t, "EPSG:3857", db.imports[0].TargetCRS)
	assert.Equal(t, "EPSG:3857", pub.published[0].SRS)
}

func TestRunExistingTableSkipsImport(t *testing.T) {
	db, pub := &fakeDatabase{}, &fakePublisher{}
	o := newOrchestrator(t, db, pub, Options{})

	item := domain.DataItem{
		SourceIdentifier: "public.rivers",
		Kind:             domain.KindExistingTable,
		TargetName:       "rivers",
		CRS:              "EPSG:4326",
	}
	res := o.Run(context.Background(), []domain.DataItem{item}, domain.NewPublishTarget("ws", "", "", ""), Reporter{})

	assert.True(t, res.OK)
	assert.Empty(t, db.importedTables())
	require.Len(t, pub.published, 1)
	assert.Equal(t, "rivers", pub.published[0].Table)
	assert.Equal(t, "ws_datastore", pub.published[0].Store)
}

func TestRunVectorRasterAndExistingTable(t *testing.T) {
	db, pub := &fakeDatabase{}, &fakePublisher{}
	o := newOrchestrator(t, db, pub, Options{})

	res := o.Run(context.Background(),
		[]domain.DataItem{vector("roads"), raster("dem"), existingTable("public", "rivers")},
		domain.NewPublishTarget("ws", "", "", ""), Reporter{})

	assert.Equal(t, 3, res.Total)
	assert.Equal(t, 2, res.Succeeded)
	assert.Equal(t, 1, res.Failed)
	assert.True(t, res.OK)

	require.Len(t, res.Failures, 1)
	f := res.Failures[0]
	assert.Equal(t, "/data/dem.tif", f.Identifier)
	assert.Equal(t, "dem", f.TargetName)
	assert.Equal(t, domain.StageImport, f.Stage)
	assert.True(t, errors.Is(f.Err, domain.ErrNotSupported))

	assert.Equal(t, []string{"roads"}, db.importedTables())
	assert.Equal(t, []string{"roads", "rivers"}, pub.publishedLayers())
}

func TestRunRecoversItemPanic(t *testing.T) {
	db := &fakeDatabase{panicOn: "explodes"}
	o := newOrchestrator(t, db, &fakePublisher{}, Options{})

	res := o.Run(context.Background(), []domain.DataItem{vector("explodes"), vector("after")},
		domain.NewPublishTarget("ws", "", "", ""), Reporter{})

	assert.Equal(t, 1, res.Succeeded)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, domain.StageInternal, res.Failures[0].Stage)
	assert.Contains(t, res.Failures[0].Reason, "boom")
}

func TestRunCancelBetweenItems(t *testing.T) {
	db, pub := &fakeDatabase{}, &fakePublisher{}
	o := newOrchestrator(t, db, pub, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rep := Reporter{ItemDone: func(i int, _ domain.DataItem, _ *domain.ItemFailure) {
		if i == 0 {
			cancel()
		}
	}}
	res := o.Run(ctx, []domain.DataItem{vector("a"), vector("b"), vector("c")},
		domain.NewPublishTarget("ws", "", "", ""), rep)

	assert.True(t, res.Cancelled)
	assert.Equal(t, 1, res.Succeeded)
	assert.Equal(t, 2, res.Failed)
	for _, f := range res.Failures {
		assert.Equal(t, domain.StageCancelled, f.Stage)
		assert.True(t, errors.Is(f.Err, context.Canceled))
	}
	assert.Equal(t, []string{"a"}, db.importedTables())
	assert.True(t, db.closed)
}

func TestRunEmptyBatch(t *testing.T) {
	o := newOrchestrator(t, &fakeDatabase{}, &fakePublisher{}, Options{})
	res := o.Run(context.Background(), nil, domain.NewPublishTarget("ws", "", "", ""), Reporter{})

	assert.False(t, res.OK)
	assert.Equal(t, "completed: 0/0 items succeeded", res.Message)
	assert.NotNil(t, res.Failures)
}
