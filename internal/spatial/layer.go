package spatial

import (
	"fmt"

	"github.com/paulmach/orb"

	"github.com/JonMunkholm/geopublish/internal/domain"
)

// Geometry type names as used by PostGIS geometry_columns.
const (
	GeometryAny             = "GEOMETRY"
	GeometryPoint           = "POINT"
	GeometryLineString      = "LINESTRING"
	GeometryPolygon         = "POLYGON"
	GeometryMultiPoint      = "MULTIPOINT"
	GeometryMultiLineString = "MULTILINESTRING"
	GeometryMultiPolygon    = "MULTIPOLYGON"
	GeometryCollection      = "GEOMETRYCOLLECTION"
)

// Feature is one geometry with its attributes.
type Feature struct {
	Geometry   orb.Geometry
	Properties map[string]any
}

// Layer is the full content of a vector file.
type Layer struct {
	Path         string
	Driver       string
	GeometryType string
	SRID         int      // 0 when the file declares no CRS or an unrecognized one
	CRSText      string   // the declaration when SRID could not be resolved
	Fields       []string // attribute names in first-seen order
	Features     []Feature
}

// Bound returns the union of all feature bounds, or false for an empty layer.
func (l *Layer) Bound() (orb.Bound, bool) {
	return unionBound(l.Features)
}

// CRSDeclared reports whether the file names a CRS, recognized or not.
func (l *Layer) CRSDeclared() bool {
	return l.SRID > 0 || l.CRSText != ""
}

// Reproject transforms every geometry in place from the layer's SRID to srid.
// A layer with an unrecognized CRS cannot be reprojected locally.
func (l *Layer) Reproject(srid int) error {
	if l.SRID == 0 && l.CRSText != "" {
		return domain.NewError(domain.ErrReprojection, "reproject",
			"unrecognized source coordinate reference system", nil)
	}
	if l.SRID == 0 || l.SRID == srid {
		l.SRID = srid
		return nil
	}
	for i := range l.Features {
		g, err := Reproject(l.Features[i].Geometry, l.SRID, srid)
		if err != nil {
			return err
		}
		l.Features[i].Geometry = g
	}
	l.SRID = srid
	return nil
}

// HasGeometry reports whether any feature carries a geometry.
func (l *Layer) HasGeometry() bool {
	for _, f := range l.Features {
		if f.Geometry != nil {
			return true
		}
	}
	return false
}

func unionBound(features []Feature) (orb.Bound, bool) {
	var (
		b  orb.Bound
		ok bool
	)
	for _, f := range features {
		if f.Geometry == nil {
			continue
		}
		fb := f.Geometry.Bound()
		if !ok {
			b, ok = fb, true
			continue
		}
		b = b.Union(fb)
	}
	return b, ok
}

func toExtent(b orb.Bound) *domain.Extent {
	return &domain.Extent{MinX: b.Min[0], MinY: b.Min[1], MaxX: b.Max[0], MaxY: b.Max[1]}
}

// TypeName maps an orb geometry to its PostGIS type name.
func TypeName(g orb.Geometry) string {
	switch g.(type) {
	case orb.Point:
		return GeometryPoint
	case orb.LineString:
		return GeometryLineString
	case orb.Polygon, orb.Ring, orb.Bound:
		return GeometryPolygon
	case orb.MultiPoint:
		return GeometryMultiPoint
	case orb.MultiLineString:
		return GeometryMultiLineString
	case orb.MultiPolygon:
		return GeometryMultiPolygon
	case orb.Collection:
		return GeometryCollection
	default:
		return GeometryAny
	}
}

// CommonType returns the single column type able to hold all the given
// geometries. Single and multi variants of one family promote to the multi
// variant; anything more mixed falls back to GEOMETRY.
func CommonType(features []Feature) string {
	common := ""
	for _, f := range features {
		if f.Geometry == nil {
			continue
		}
		t := TypeName(f.Geometry)
		switch {
		case common == "":
			common = t
		case common == t:
		case multiOf(common) == t:
			common = t
		case multiOf(t) == common:
		default:
			return GeometryAny
		}
	}
	if common == "" {
		return GeometryAny
	}
	return common
}

func multiOf(t string) string {
	switch t {
	case GeometryPoint:
		return GeometryMultiPoint
	case GeometryLineString:
		return GeometryMultiLineString
	case GeometryPolygon:
		return GeometryMultiPolygon
	}
	return ""
}

// Promote converts a single geometry to the multi type a column expects.
// Geometries already of the column type are returned unchanged.
func Promote(g orb.Geometry, columnType string) orb.Geometry {
	switch columnType {
	case GeometryMultiPoint:
		if p, ok := g.(orb.Point); ok {
			return orb.MultiPoint{p}
		}
	case GeometryMultiLineString:
		if ls, ok := g.(orb.LineString); ok {
			return orb.MultiLineString{ls}
		}
	case GeometryMultiPolygon:
		if p, ok := g.(orb.Polygon); ok {
			return orb.MultiPolygon{p}
		}
	}
	return g
}

// PostGISType renders the column type modifier, e.g. "MultiPolygon".
func PostGISType(geometryType string) (string, error) {
	switch geometryType {
	case GeometryPoint:
		return "Point", nil
	case GeometryLineString:
		return "LineString", nil
	case GeometryPolygon:
		return "Polygon", nil
	case GeometryMultiPoint:
		return "MultiPoint", nil
	case GeometryMultiLineString:
		return "MultiLineString", nil
	case GeometryMultiPolygon:
		return "MultiPolygon", nil
	case GeometryCollection:
		return "GeometryCollection", nil
	case GeometryAny, "":
		return "Geometry", nil
	}
	return "", fmt.Errorf("unknown geometry type %q", geometryType)
}
