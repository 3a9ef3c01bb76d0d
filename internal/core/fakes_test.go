package core

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/JonMunkholm/geopublish/internal/domain"
	"github.com/JonMunkholm/geopublish/internal/geoserver"
	"github.com/JonMunkholm/geopublish/internal/postgis"
)

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// fakeDatabase records imports instead of touching PostgreSQL.
type fakeDatabase struct {
	mu         sync.Mutex
	connectErr error
	importErrs map[string]error // by table
	panicOn    string
	entered    chan string   // when set, receives each table as its import starts
	block      chan struct{} // when set, ImportVector waits on it
	imports    []postgis.VectorImport
	connected  bool
	closed     bool
}

func (f *fakeDatabase) Connect(context.Context) error {
	if f.connectErr != nil {
		return f.connectErr
	}
	f.connected = true
	return nil
}

func (f *fakeDatabase) Close(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeDatabase) Params() domain.ConnectionParams {
	return domain.ConnectionParams{Host: "db", Port: 5432, Database: "gis", User: "gis", Password: "secret"}
}

func (f *fakeDatabase) ImportVector(_ context.Context, in postgis.VectorImport) (*postgis.ImportStats, error) {
	if f.entered != nil {
		f.entered <- in.Table
	}
	if f.block != nil {
		<-f.block
	}
	if in.Table == f.panicOn {
		panic("boom")
	}
	f.mu.Lock()
	f.imports = append(f.imports, in)
	f.mu.Unlock()
	if err := f.importErrs[in.Table]; err != nil {
		return nil, err
	}
	return &postgis.ImportStats{Table: in.Table, Features: 1}, nil
}

func (f *fakeDatabase) ImportRaster(_ context.Context, path, _ string) error {
	return domain.NotSupportedError("import-raster",
		fmt.Sprintf("raster import is not supported (%s)", filepath.Base(path)))
}

func (f *fakeDatabase) importedTables() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.imports))
	for i, in := range f.imports {
		out[i] = in.Table
	}
	return out
}

// fakePublisher records map server calls.
type fakePublisher struct {
	mu           sync.Mutex
	testErr      error
	workspaceErr error
	storeErr     error
	publishErrs  map[string]error // by layer
	calls        []string
	published    []geoserver.FeatureType
	styles       map[string]string
	storeParams  domain.ConnectionParams
}

func (f *fakePublisher) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

func (f *fakePublisher) TestConnection(context.Context) error {
	f.record("test")
	return f.testErr
}

func (f *fakePublisher) CreateWorkspace(_ context.Context, name, _ string) (bool, error) {
	f.record("workspace " + name)
	return f.workspaceErr == nil, f.workspaceErr
}

func (f *fakePublisher) CreatePostGISDatastore(_ context.Context, ws, store string, p domain.ConnectionParams) (bool, error) {
	f.record("store " + ws + "/" + store)
	f.storeParams = p
	return f.storeErr == nil, f.storeErr
}

func (f *fakePublisher) PublishFeatureLayer(_ context.Context, ft geoserver.FeatureType) error {
	f.record("publish " + ft.Layer)
	if err := f.publishErrs[ft.Layer]; err != nil {
		return err
	}
	f.mu.Lock()
	f.published = append(f.published, ft)
	f.mu.Unlock()
	return nil
}

func (f *fakePublisher) SetLayerStyle(_ context.Context, _, layer, style string) error {
	f.record("style " + layer)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.styles == nil {
		f.styles = map[string]string{}
	}
	f.styles[layer] = style
	return nil
}

func (f *fakePublisher) publishedLayers() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.published))
	for i, ft := range f.published {
		out[i] = ft.Layer
	}
	return out
}

// recorder collects reporter callbacks.
type recorder struct {
	mu       sync.Mutex
	progress []int
	statuses []string
	done     int
}

func (r *recorder) reporter() Reporter {
	return Reporter{
		Progress: func(p int) {
			r.mu.Lock()
			r.progress = append(r.progress, p)
			r.mu.Unlock()
		},
		Status: func(s string) {
			r.mu.Lock()
			r.statuses = append(r.statuses, s)
			r.mu.Unlock()
		},
		ItemDone: func(int, domain.DataItem, *domain.ItemFailure) {
			r.mu.Lock()
			r.done++
			r.mu.Unlock()
		},
	}
}

func vector(name string) domain.DataItem {
	return domain.DataItem{
		SourceIdentifier: "/data/" + name + ".shp",
		Kind:             domain.KindVector,
		TargetName:       name,
		CRS:              "EPSG:4326",
		Style:            domain.DefaultStyle,
	}
}

func raster(name string) domain.DataItem {
	return domain.DataItem{
		SourceIdentifier: "/data/" + name + ".tif",
		Kind:             domain.KindRaster,
		TargetName:       name,
		CRS:              "EPSG:4326",
		Style:            domain.DefaultStyle,
	}
}

func existingTable(schema, name string) domain.DataItem {
	return domain.DataItem{
		SourceIdentifier: schema + "." + name,
		Kind:             domain.KindExistingTable,
		TargetName:       name,
		CRS:              "EPSG:4326",
		Style:            domain.DefaultStyle,
	}
}
