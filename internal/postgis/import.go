package postgis

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/paulmach/orb/encoding/wkb"

	"github.com/JonMunkholm/geopublish/internal/domain"
	"github.com/JonMunkholm/geopublish/internal/naming"
	"github.com/JonMunkholm/geopublish/internal/spatial"
)

// GeometryColumn is the canonical name of the imported geometry column.
const GeometryColumn = "geom"

const primaryKeyColumn = "gid"

// VectorImport describes one vector file import.
type VectorImport struct {
	Path      string
	Table     string
	Schema    string // defaults to the connection schema
	TargetCRS string // defaults to EPSG:4326
	Overwrite bool
}

// ImportStats reports what an import wrote.
type ImportStats struct {
	Table        string   `json:"table"`
	Schema       string   `json:"schema"`
	Features     int      `json:"features"`
	SRID         int      `json:"srid"`
	SourceSRID   int      `json:"sourceSrid"` // 0 when the source declared none or an unrecognized CRS
	SourceCRS    string   `json:"sourceCrs,omitempty"`
	Reprojected  bool     `json:"reprojected"`
	Appended     bool     `json:"appended"`
	GeometryType string   `json:"geometryType"`
	Columns      []string `json:"columns"`
}

type column struct {
	source string
	name   string
	sqlTyp string
}

// ImportVector reads a vector file and writes it into a table with a
// geometry column named geom and a GiST index on it.
//
// Source geometries in a different CRS are reprojected to the target:
// WGS84 and Web Mercator locally, anything else by ST_Transform during the
// insert. A CRS the file declares but that has no EPSG code is handed to
// PostGIS as text. A source with no declared CRS is assumed to already be
// in the target CRS. Attribute names are sanitized into column names.
//
// With Overwrite an existing table is dropped first; without it rows are
// appended to the existing table.
func (g *Gateway) ImportVector(ctx context.Context, in VectorImport) (*ImportStats, error) {
	const op = "import-vector"
	if in.Table == "" {
		return nil, g.fail(op, domain.NameError(op, "destination table name is empty"))
	}
	if in.Schema == "" {
		in.Schema = g.params.SchemaOrDefault()
	}
	if in.TargetCRS == "" {
		in.TargetCRS = domain.DefaultCRS
	}
	if _, err := g.requireConn(op); err != nil {
		return nil, err
	}

	targetSRID, ok := spatial.ParseEPSG(in.TargetCRS)
	if !ok {
		return nil, g.fail(op, domain.NewError(domain.ErrReprojection, op,
			fmt.Sprintf("unrecognized target CRS %q", in.TargetCRS), nil))
	}

	// 1. Read
	layer, err := g.reader.Read(in.Path)
	if err != nil {
		return nil, g.fail(op, err)
	}
	if !layer.HasGeometry() {
		return nil, g.fail(op, domain.NewError(domain.ErrNoGeometry, op,
			filepath.Base(in.Path)+" contains no geometry", nil))
	}

	// 2. Reproject
	stats := &ImportStats{
		Table:      in.Table,
		Schema:     in.Schema,
		SRID:       targetSRID,
		SourceSRID: layer.SRID,
		SourceCRS:  layer.CRSText,
	}
	tr, err := g.planTransform(ctx, layer, targetSRID)
	if err != nil {
		return nil, g.fail(op, err)
	}
	stats.Reprojected = tr.reprojects

	geomType := layer.GeometryType
	if geomType == "" {
		geomType = spatial.CommonType(layer.Features)
	}
	pgType, err := spatial.PostGISType(geomType)
	if err != nil {
		return nil, g.fail(op, domain.ImportError(op, "unsupported geometry type", err))
	}
	stats.GeometryType = geomType

	// 3. Columns
	cols := buildColumns(layer)
	for _, c := range cols {
		stats.Columns = append(stats.Columns, c.name)
	}

	// 4. Write in one transaction
	err = g.withTx(ctx, op, func(tx pgx.Tx) error {
		if in.Overwrite {
			if _, err := tx.Exec(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s CASCADE",
				qualified(in.Schema, in.Table))); err != nil {
				return fmt.Errorf("drop existing table: %w", err)
			}
		} else {
			exists, err := tableExists(ctx, tx, in.Schema, in.Table)
			if err != nil {
				return err
			}
			stats.Appended = exists
		}

		if !stats.Appended {
			if _, err := tx.Exec(ctx, createTableSQL(in.Schema, in.Table, pgType, targetSRID, cols)); err != nil {
				return fmt.Errorf("create table: %w", err)
			}
		}

		written, err := g.insertFeatures(ctx, tx, in.Schema, in.Table, geomType, tr, cols, layer.Features)
		if err != nil {
			return err
		}
		stats.Features = written

		if _, err := tx.Exec(ctx, fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s USING GIST (%s)",
			quote(indexName(in.Table)), qualified(in.Schema, in.Table), quote(GeometryColumn))); err != nil {
			return fmt.Errorf("create spatial index: %w", err)
		}
		return nil
	})
	if err != nil {
		var de *domain.Error
		if errors.As(err, &de) && de.Class == domain.ErrDatabase {
			// Write failures surface as import failures to the caller.
			return nil, domain.ImportError(op, "writing "+in.Table, err)
		}
		return nil, err
	}

	g.logger.Info("vector imported",
		"table", in.Schema+"."+in.Table,
		"features", stats.Features,
		"srid", stats.SRID,
		"reprojected", stats.Reprojected,
		"appended", stats.Appended,
	)
	return stats, nil
}

// ImportRaster is not implemented; raster items always fail here.
func (g *Gateway) ImportRaster(ctx context.Context, path, table string) error {
	const op = "import-raster"
	return g.fail(op, domain.NotSupportedError(op,
		fmt.Sprintf("raster import is not supported (%s)", filepath.Base(path))))
}

func buildColumns(layer *spatial.Layer) []column {
	names := naming.SanitizeColumns(layer.Fields, GeometryColumn, primaryKeyColumn)
	cols := make([]column, len(layer.Fields))
	for i, field := range layer.Fields {
		cols[i] = column{
			source: field,
			name:   names[i],
			sqlTyp: inferType(layer.Features, field),
		}
	}
	return cols
}

// inferType picks double precision or boolean when every non-null value
// agrees, and text otherwise.
func inferType(features []spatial.Feature, field string) string {
	numeric, boolean, seen := true, true, false
	for _, f := range features {
		v, ok := f.Properties[field]
		if !ok || v == nil {
			continue
		}
		seen = true
		switch v.(type) {
		case float64, float32, int, int32, int64:
			boolean = false
		case bool:
			numeric = false
		default:
			numeric, boolean = false, false
		}
		if !numeric && !boolean {
			break
		}
	}
	switch {
	case !seen:
		return "text"
	case numeric:
		return "double precision"
	case boolean:
		return "boolean"
	default:
		return "text"
	}
}

func createTableSQL(schema, table, pgType string, srid int, cols []column) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE %s (\n\t%s serial PRIMARY KEY,\n\t%s geometry(%s, %d)",
		qualified(schema, table), quote(primaryKeyColumn), quote(GeometryColumn), pgType, srid)
	for _, c := range cols {
		fmt.Fprintf(&b, ",\n\t%s %s", quote(c.name), c.sqlTyp)
	}
	b.WriteString("\n)")
	return b.String()
}

// transform says how geometries reach the target CRS. The insert binds
// arg as $2 next to the WKB in $1.
type transform struct {
	geomExpr   string
	arg        any
	reprojects bool
}

// planTransform reprojects the layer locally when orb can, and otherwise
// builds an ST_Transform expression. A server-side transform is checked
// against the first geometry so an unknown CRS fails before any write.
func (g *Gateway) planTransform(ctx context.Context, layer *spatial.Layer, target int) (transform, error) {
	const op = "import-vector"
	assign := transform{geomExpr: "ST_GeomFromWKB($1, $2)", arg: target}

	switch {
	case !layer.CRSDeclared(), layer.SRID == target:
		layer.SRID = target
		return assign, nil
	case layer.SRID > 0 && spatial.CanReproject(layer.SRID, target):
		if err := layer.Reproject(target); err != nil {
			return transform{}, domain.NewError(domain.ErrReprojection, op,
				fmt.Sprintf("EPSG:%d to EPSG:%d", layer.SRID, target), err)
		}
		assign.reprojects = true
		return assign, nil
	}

	tr := transform{reprojects: true}
	source := layer.CRSText
	if layer.SRID > 0 {
		tr.geomExpr = fmt.Sprintf("ST_Transform(ST_GeomFromWKB($1, $2), %d)", target)
		tr.arg = layer.SRID
		source = spatial.FormatEPSG(layer.SRID)
	} else {
		tr.geomExpr = fmt.Sprintf("ST_Transform(ST_GeomFromWKB($1), $2::text, %d)", target)
		tr.arg = layer.CRSText
	}

	conn, err := g.requireConn(op)
	if err != nil {
		return transform{}, err
	}
	sample, err := firstGeometryWKB(layer)
	if err != nil {
		return transform{}, domain.ImportError(op, "encode geometry", err)
	}
	var srid int32
	if err := conn.QueryRow(ctx, "SELECT ST_SRID("+tr.geomExpr+")", sample, tr.arg).Scan(&srid); err != nil {
		return transform{}, domain.NewError(domain.ErrReprojection, op,
			fmt.Sprintf("no transformation from %s to EPSG:%d", shorten(source), target), err)
	}
	return tr, nil
}

func firstGeometryWKB(layer *spatial.Layer) ([]byte, error) {
	for _, f := range layer.Features {
		if f.Geometry != nil {
			return wkb.Marshal(f.Geometry)
		}
	}
	return nil, errors.New("no geometry")
}

// shorten keeps long WKT out of error messages.
func shorten(s string) string {
	if len(s) > 60 {
		return s[:57] + "..."
	}
	return s
}

func insertSQL(schema, table, geomExpr string, cols []column) string {
	names := []string{quote(GeometryColumn)}
	params := []string{geomExpr}
	for i, c := range cols {
		names = append(names, quote(c.name))
		params = append(params, fmt.Sprintf("$%d", i+3))
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		qualified(schema, table), strings.Join(names, ", "), strings.Join(params, ", "))
}

func (g *Gateway) insertFeatures(ctx context.Context, tx pgx.Tx, schema, table, geomType string,
	tr transform, cols []column, features []spatial.Feature) (int, error) {
	query := insertSQL(schema, table, tr.geomExpr, cols)

	written := 0
	for start := 0; start < len(features); start += g.batchSize {
		end := min(start+g.batchSize, len(features))

		batch := &pgx.Batch{}
		for i := start; i < end; i++ {
			args, err := rowArgs(features[i], geomType, tr.arg, cols)
			if err != nil {
				return written, domain.ImportError("import-vector",
					fmt.Sprintf("feature %d", i), err)
			}
			batch.Queue(query, args...)
		}

		br := tx.SendBatch(ctx, batch)
		for i := start; i < end; i++ {
			if _, err := br.Exec(); err != nil {
				br.Close()
				return written, fmt.Errorf("insert feature %d: %w", i, err)
			}
			written++
		}
		if err := br.Close(); err != nil {
			return written, fmt.Errorf("close batch: %w", err)
		}
	}
	return written, nil
}

// rowArgs binds the WKB, the transform argument and the attributes.
func rowArgs(f spatial.Feature, geomType string, crsArg any, cols []column) ([]any, error) {
	args := make([]any, 0, len(cols)+2)
	if f.Geometry == nil {
		args = append(args, nil, crsArg)
	} else {
		data, err := wkb.Marshal(spatial.Promote(f.Geometry, geomType))
		if err != nil {
			return nil, fmt.Errorf("encode geometry: %w", err)
		}
		args = append(args, data, crsArg)
	}
	for _, c := range cols {
		args = append(args, columnValue(f.Properties[c.source], c.sqlTyp))
	}
	return args, nil
}

func columnValue(v any, sqlTyp string) any {
	if v == nil {
		return nil
	}
	if sqlTyp == "text" {
		if s, ok := v.(string); ok {
			return s
		}
		return fmt.Sprint(v)
	}
	switch n := v.(type) {
	case int:
		return float64(n)
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	case float32:
		return float64(n)
	}
	return v
}
