package postgis

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jonas-p/go-shp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/geopublish/internal/domain"
	"github.com/JonMunkholm/geopublish/internal/spatial"
)

var testParams = domain.ConnectionParams{
	Host: "localhost", Port: 5432, Database: "gis", User: "postgres", Password: "secret",
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestGateway(t *testing.T, db *fakeDB, opts ...Option) *Gateway {
	t.Helper()
	opts = append([]Option{
		WithConnectFunc(db.connectFunc()),
		WithLogger(quietLogger()),
	}, opts...)
	g, err := New(testParams, spatial.NewInspector(quietLogger()), opts...)
	require.NoError(t, err)
	return g
}

func connected(t *testing.T, db *fakeDB, opts ...Option) *Gateway {
	t.Helper()
	g := newTestGateway(t, db, opts...)
	require.NoError(t, g.Connect(context.Background()))
	return g
}

func writeGeoJSON(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "points.geojson")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestNewRequiresReader(t *testing.T) {
	_, err := New(testParams, nil)
	assert.True(t, errors.Is(err, domain.ErrPrerequisite))
}

func TestConnect(t *testing.T) {
	t.Run("bad credentials", func(t *testing.T) {
		db := newFakeDB()
		db.connectErr = errors.New("password authentication failed for user \"postgres\"")
		err := newTestGateway(t, db).Connect(context.Background())
		require.Error(t, err)
		assert.True(t, errors.Is(err, domain.ErrConnection))
		assert.Contains(t, err.Error(), "password authentication failed")
	})

	t.Run("postgis missing", func(t *testing.T) {
		db := newFakeDB()
		db.postgis = false
		err := newTestGateway(t, db).Connect(context.Background())
		assert.True(t, errors.Is(err, domain.ErrPrerequisite))
		assert.True(t, db.closed, "connection must be closed")
	})

	t.Run("ok", func(t *testing.T) {
		db := newFakeDB()
		g := connected(t, db)
		require.NoError(t, g.Ping(context.Background()))
		require.NoError(t, g.Close(context.Background()))
		assert.True(t, db.closed)
		require.NoError(t, g.Close(context.Background()))
	})
}

func TestOperationsRequireConnection(t *testing.T) {
	g := newTestGateway(t, newFakeDB())
	_, err := g.TableExists(context.Background(), "public", "roads")
	assert.True(t, errors.Is(err, domain.ErrConnection))
	assert.True(t, errors.Is(g.DropTable(context.Background(), "public", "roads"), domain.ErrConnection))
}

func TestTableExists(t *testing.T) {
	db := newFakeDB()
	db.tables["public.roads"] = true
	g := connected(t, db)

	ok, err := g.TableExists(context.Background(), "public", "roads")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = g.TableExists(context.Background(), "public", "rivers")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDropMissingTableSucceeds(t *testing.T) {
	db := newFakeDB()
	g := connected(t, db)

	require.NoError(t, g.DropTable(context.Background(), "public", "missing"))
	assert.True(t, db.hasExec(`DROP TABLE IF EXISTS "public"."missing" CASCADE`))
	assert.Equal(t, 1, db.commits)
}

func TestDropTableRollsBackOnFailure(t *testing.T) {
	db := newFakeDB()
	db.failOn = "DROP TABLE"
	g := connected(t, db)

	err := g.DropTable(context.Background(), "public", "roads")
	assert.True(t, errors.Is(err, domain.ErrDatabase))
	assert.Contains(t, err.Error(), "simulated failure")
	assert.Equal(t, 0, db.commits)
	assert.Equal(t, 1, db.rollbacks)
}

func TestRenameTableRejectsInvalidNameBeforeSQL(t *testing.T) {
	db := newFakeDB()
	g := connected(t, db)
	execsBefore := len(db.execs)

	err := g.RenameTable(context.Background(), "roads", "1abc", "public")
	assert.True(t, errors.Is(err, domain.ErrName))
	assert.Equal(t, 0, db.begins, "no transaction may be opened")
	assert.Len(t, db.execs, execsBefore)

	// Holds without a connection too.
	err = newTestGateway(t, newFakeDB()).RenameTable(context.Background(), "roads", "bad-name", "")
	assert.True(t, errors.Is(err, domain.ErrName))
}

func TestRenameTable(t *testing.T) {
	t.Run("collision", func(t *testing.T) {
		db := newFakeDB()
		db.tables["public.roads"] = true
		db.tables["public.streets"] = true
		g := connected(t, db)

		err := g.RenameTable(context.Background(), "roads", "streets", "public")
		assert.True(t, errors.Is(err, domain.ErrName))
		assert.False(t, db.hasExec("ALTER TABLE"))
		assert.Equal(t, 1, db.rollbacks)
	})

	t.Run("missing source", func(t *testing.T) {
		db := newFakeDB()
		g := connected(t, db)
		err := g.RenameTable(context.Background(), "ghost", "streets", "public")
		assert.True(t, errors.Is(err, domain.ErrDatabase))
	})

	t.Run("ok", func(t *testing.T) {
		db := newFakeDB()
		db.tables["public.roads"] = true
		g := connected(t, db)

		require.NoError(t, g.RenameTable(context.Background(), "roads", "streets", ""))
		assert.True(t, db.hasExec(`ALTER TABLE "public"."roads" RENAME TO "streets"`))
		assert.True(t, db.hasExec(`ALTER INDEX IF EXISTS "public"."idx_roads_geom" RENAME TO "idx_streets_geom"`))
		assert.Equal(t, 1, db.commits)
	})
}

const mercatorPoints = `{"type":"FeatureCollection",
  "crs":{"type":"name","properties":{"name":"EPSG:3857"}},
  "features":[
    {"type":"Feature","geometry":{"type":"Point","coordinates":[0,0]},"properties":{"Name":"a","Pop":1}},
    {"type":"Feature","geometry":{"type":"Point","coordinates":[1113194.9,0]},"properties":{"Name":"b","Pop":2}},
    {"type":"Feature","geometry":{"type":"Point","coordinates":[-1113194.9,0]},"properties":{"Name":"c","geom":"x"}}
  ]}`

func TestImportVectorReprojects(t *testing.T) {
	db := newFakeDB()
	g := connected(t, db, WithBatchSize(2))

	stats, err := g.ImportVector(context.Background(), VectorImport{
		Path:      writeGeoJSON(t, mercatorPoints),
		Table:     "points",
		TargetCRS: "EPSG:4326",
	})
	require.NoError(t, err)

	assert.Equal(t, 3, stats.Features, "features written must equal source count")
	assert.Equal(t, 4326, stats.SRID)
	assert.Equal(t, 3857, stats.SourceSRID)
	assert.True(t, stats.Reprojected)
	assert.Equal(t, []string{"name", "pop", "geom_2"}, stats.Columns)

	assert.True(t, db.hasExec(`geometry(Point, 4326)`))
	assert.True(t, db.hasExec(`"pop" double precision`))
	assert.True(t, db.hasExec(`CREATE INDEX IF NOT EXISTS "idx_points_geom" ON "public"."points" USING GIST ("geom")`))
	assert.Equal(t, 1, db.commits)

	require.Len(t, db.batches, 2)
	assert.Len(t, db.batches[0], 2)
	assert.Len(t, db.batches[1], 1)
	first := db.batches[0][0]
	assert.True(t, strings.HasPrefix(first.SQL, `INSERT INTO "public"."points"`))
	assert.Equal(t, 4326, first.Arguments[1])
}

func TestImportVectorWithoutSourceCRSIsAssumed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wells.shp")
	w, err := shp.Create(path, shp.POINT)
	require.NoError(t, err)
	require.NoError(t, w.SetFields([]shp.Field{shp.StringField("ID", 8)}))
	w.Write(&shp.Point{X: 500000, Y: 6000000})
	require.NoError(t, w.WriteAttribute(0, 0, "w1"))
	w.Close()

	db := newFakeDB()
	g := connected(t, db)

	stats, err := g.ImportVector(context.Background(), VectorImport{
		Path:      path,
		Table:     "wells",
		TargetCRS: "EPSG:3857",
	})
	require.NoError(t, err)
	assert.False(t, stats.Reprojected)
	assert.Equal(t, 0, stats.SourceSRID)
	assert.Equal(t, 3857, stats.SRID)
	assert.Equal(t, 1, stats.Features)
	assert.True(t, db.hasExec(`geometry(Point, 3857)`))
}

func TestImportVectorFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("no geometry", func(t *testing.T) {
		g := connected(t, newFakeDB())
		_, err := g.ImportVector(ctx, VectorImport{
			Path:  writeGeoJSON(t, `{"type":"FeatureCollection","features":[{"type":"Feature","geometry":null,"properties":{"a":1}}]}`),
			Table: "empty",
		})
		assert.True(t, errors.Is(err, domain.ErrNoGeometry))
		assert.True(t, errors.Is(err, domain.ErrImport))
	})

	t.Run("transformation unknown to the database", func(t *testing.T) {
		db := newFakeDB()
		db.transformErr = errors.New("transform: couldn't project point")
		g := connected(t, db)
		_, err := g.ImportVector(ctx, VectorImport{
			Path:      writeGeoJSON(t, mercatorPoints),
			Table:     "points",
			TargetCRS: "EPSG:2154",
		})
		assert.True(t, errors.Is(err, domain.ErrReprojection))
		assert.Equal(t, 0, db.begins, "nothing may be written")
	})

	t.Run("overwrite drops first", func(t *testing.T) {
		db := newFakeDB()
		db.tables["public.points"] = true
		g := connected(t, db)
		_, err := g.ImportVector(ctx, VectorImport{
			Path:      writeGeoJSON(t, mercatorPoints),
			Table:     "points",
			Overwrite: true,
		})
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(db.execs[0], "DROP TABLE IF EXISTS"))
	})

	t.Run("write failure rolls back", func(t *testing.T) {
		db := newFakeDB()
		db.failOn = "INSERT"
		g := connected(t, db)
		_, err := g.ImportVector(ctx, VectorImport{
			Path:  writeGeoJSON(t, mercatorPoints),
			Table: "points",
		})
		assert.True(t, errors.Is(err, domain.ErrImport))
		assert.Equal(t, 0, db.commits)
		assert.Equal(t, 1, db.rollbacks)
	})

	t.Run("unreadable file", func(t *testing.T) {
		g := connected(t, newFakeDB())
		_, err := g.ImportVector(ctx, VectorImport{Path: "/nonexistent/x.geojson", Table: "x"})
		assert.True(t, errors.Is(err, domain.ErrImport))
	})
}

func TestImportVectorAppendsWithoutOverwrite(t *testing.T) {
	db := newFakeDB()
	db.tables["public.points"] = true
	g := connected(t, db)

	stats, err := g.ImportVector(context.Background(), VectorImport{
		Path:      writeGeoJSON(t, mercatorPoints),
		Table:     "points",
		TargetCRS: "EPSG:3857",
	})
	require.NoError(t, err)
	assert.True(t, stats.Appended)
	assert.Equal(t, 3, stats.Features)
	assert.False(t, db.hasExec("CREATE TABLE"))
	assert.False(t, db.hasExec("DROP TABLE"))
	require.Len(t, db.batches, 1)
	assert.Len(t, db.batches[0], 3)
	assert.Equal(t, 1, db.commits)
}

func TestImportVectorTransformsInDatabase(t *testing.T) {
	db := newFakeDB()
	g := connected(t, db)

	stats, err := g.ImportVector(context.Background(), VectorImport{
		Path:      writeGeoJSON(t, mercatorPoints),
		Table:     "points",
		TargetCRS: "EPSG:2154",
	})
	require.NoError(t, err)
	assert.True(t, stats.Reprojected)
	assert.Equal(t, 3857, stats.SourceSRID)
	assert.Equal(t, 2154, stats.SRID)
	assert.True(t, db.hasExec(`geometry(Point, 2154)`))

	require.Len(t, db.transformArgs, 1)
	assert.Equal(t, 3857, db.transformArgs[0][1])

	first := db.batches[0][0]
	assert.Contains(t, first.SQL, "ST_Transform(ST_GeomFromWKB($1, $2), 2154)")
	assert.Equal(t, 3857, first.Arguments[1])
}

const esriUTM33N = `PROJCS["WGS_1984_UTM_Zone_33N",GEOGCS["GCS_WGS_1984",DATUM["D_WGS_1984",` +
	`SPHEROID["WGS_1984",6378137.0,298.257223563]],PRIMEM["Greenwich",0.0],UNIT["Degree",0.0174532925199433]],` +
	`PROJECTION["Transverse_Mercator"],PARAMETER["False_Easting",500000.0],PARAMETER["False_Northing",0.0],` +
	`PARAMETER["Central_Meridian",15.0],PARAMETER["Scale_Factor",0.9996],PARAMETER["Latitude_Of_Origin",0.0],` +
	`UNIT["Meter",1.0]]`

func TestImportVectorUnrecognizedPRJ(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "utm.shp")
	w, err := shp.Create(path, shp.POINT)
	require.NoError(t, err)
	require.NoError(t, w.SetFields([]shp.Field{shp.StringField("ID", 8)}))
	w.Write(&shp.Point{X: 500000, Y: 4649776})
	require.NoError(t, w.WriteAttribute(0, 0, "p1"))
	w.Close()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "utm.prj"), []byte(esriUTM33N), 0o644))

	t.Run("reprojected by the database", func(t *testing.T) {
		db := newFakeDB()
		g := connected(t, db)

		stats, err := g.ImportVector(context.Background(), VectorImport{
			Path:      path,
			Table:     "utm",
			TargetCRS: "EPSG:4326",
		})
		require.NoError(t, err)
		assert.True(t, stats.Reprojected)
		assert.Equal(t, 0, stats.SourceSRID)
		assert.Equal(t, esriUTM33N, stats.SourceCRS)

		require.Len(t, db.transformArgs, 1)
		assert.Equal(t, esriUTM33N, db.transformArgs[0][1])

		first := db.batches[0][0]
		assert.Contains(t, first.SQL, "ST_Transform(ST_GeomFromWKB($1), $2::text, 4326)")
		assert.Equal(t, esriUTM33N, first.Arguments[1])
	})

	t.Run("database cannot resolve it", func(t *testing.T) {
		db := newFakeDB()
		db.transformErr = errors.New("transform: invalid projection")
		g := connected(t, db)

		_, err := g.ImportVector(context.Background(), VectorImport{
			Path:      path,
			Table:     "utm",
			TargetCRS: "EPSG:4326",
		})
		assert.True(t, errors.Is(err, domain.ErrReprojection))
		assert.False(t, db.hasExec("CREATE TABLE"))
	})
}

func TestImportRasterNotSupported(t *testing.T) {
	g := connected(t, newFakeDB())
	err := g.ImportRaster(context.Background(), "/data/dem.tif", "dem")
	assert.True(t, errors.Is(err, domain.ErrNotSupported))
}

func TestListTables(t *testing.T) {
	db := newFakeDB()
	db.listRows = [][]any{
		{"public", "roads", "geom", "MULTILINESTRING", int32(4326), int64(16384), int64(4), true},
		{"public", "lookup", "", "", int32(0), int64(8192), int64(2), false},
	}
	g := connected(t, db)

	tables, err := g.ListAllTables(context.Background())
	require.NoError(t, err)
	require.Len(t, tables, 2)
	assert.Equal(t, "public.roads", tables[0].QualifiedName())
	assert.Equal(t, 4326, tables[0].SRID)
	assert.Equal(t, "16 KiB", tables[0].Size)
	assert.Equal(t, 4, tables[0].ColumnCount)
	assert.True(t, tables[0].Spatial)
	assert.False(t, tables[1].Spatial)
}

func TestInferType(t *testing.T) {
	features := []spatial.Feature{
		{Properties: map[string]any{"n": 1.0, "b": true, "s": "x", "mixed": 1.0}},
		{Properties: map[string]any{"n": nil, "b": false, "s": "y", "mixed": "two"}},
	}
	assert.Equal(t, "double precision", inferType(features, "n"))
	assert.Equal(t, "boolean", inferType(features, "b"))
	assert.Equal(t, "text", inferType(features, "s"))
	assert.Equal(t, "text", inferType(features, "mixed"))
	assert.Equal(t, "text", inferType(features, "absent"))
}
