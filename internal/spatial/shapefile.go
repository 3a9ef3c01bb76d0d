package spatial

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/paulmach/orb"
)

type shapefileDriver struct{}

func (shapefileDriver) Name() string { return "ESRI Shapefile" }

func (d shapefileDriver) Describe(path string) (*Metadata, error) {
	r, err := shp.Open(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	md := &Metadata{GeometryType: shapeTypeName(r.GeometryType)}
	md.SRID, md.CRSText = prjCRS(path)

	box := r.BBox()
	if box.MinX <= box.MaxX && box.MinY <= box.MaxY {
		md.Extent = toExtent(orb.Bound{
			Min: orb.Point{box.MinX, box.MinY},
			Max: orb.Point{box.MaxX, box.MaxY},
		})
	}

	if n, ok := shxRecordCount(path); ok {
		md.FeatureCount, md.HasCount = n, true
	}
	return md, nil
}

func (d shapefileDriver) Read(path string) (*Layer, error) {
	r, err := shp.Open(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	fields := r.Fields()
	layer := &Layer{
		Path:         path,
		Driver:       d.Name(),
		GeometryType: shapeTypeName(r.GeometryType),
		Fields:       make([]string, len(fields)),
	}
	layer.SRID, layer.CRSText = prjCRS(path)
	for i, f := range fields {
		layer.Fields[i] = f.String()
	}

	for r.Next() {
		row, shape := r.Shape()
		props := make(map[string]any, len(fields))
		for i, f := range fields {
			props[layer.Fields[i]] = dbfValue(f, r.ReadAttribute(row, i))
		}
		layer.Features = append(layer.Features, Feature{
			Geometry:   shapeGeometry(shape),
			Properties: props,
		})
	}
	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("read shapes: %w", err)
	}
	return layer, nil
}

// shapeTypeName reports the column type the layer imports as. Lines and
// polygons are always promoted to their multi variant because a shapefile
// record may hold several parts.
func shapeTypeName(t shp.ShapeType) string {
	switch t {
	case shp.POINT, shp.POINTZ, shp.POINTM:
		return GeometryPoint
	case shp.MULTIPOINT, shp.MULTIPOINTZ, shp.MULTIPOINTM:
		return GeometryMultiPoint
	case shp.POLYLINE, shp.POLYLINEZ, shp.POLYLINEM:
		return GeometryMultiLineString
	case shp.POLYGON, shp.POLYGONZ, shp.POLYGONM:
		return GeometryMultiPolygon
	default:
		return GeometryAny
	}
}

func shapeGeometry(s shp.Shape) orb.Geometry {
	switch v := s.(type) {
	case *shp.Point:
		return orb.Point{v.X, v.Y}
	case *shp.PointZ:
		return orb.Point{v.X, v.Y}
	case *shp.PointM:
		return orb.Point{v.X, v.Y}
	case *shp.MultiPoint:
		return multiPoint(v.Points)
	case *shp.MultiPointZ:
		return multiPoint(v.Points)
	case *shp.MultiPointM:
		return multiPoint(v.Points)
	case *shp.PolyLine:
		return multiLine(v.Parts, v.Points)
	case *shp.PolyLineZ:
		return multiLine(v.Parts, v.Points)
	case *shp.PolyLineM:
		return multiLine(v.Parts, v.Points)
	case *shp.Polygon:
		return multiPolygon(v.Parts, v.Points)
	case *shp.PolygonZ:
		return multiPolygon(v.Parts, v.Points)
	case *shp.PolygonM:
		return multiPolygon(v.Parts, v.Points)
	default:
		return nil
	}
}

func multiPoint(points []shp.Point) orb.MultiPoint {
	mp := make(orb.MultiPoint, len(points))
	for i, p := range points {
		mp[i] = orb.Point{p.X, p.Y}
	}
	return mp
}

func splitParts(parts []int32, points []shp.Point) [][]orb.Point {
	out := make([][]orb.Point, 0, len(parts))
	for i, start := range parts {
		end := int32(len(points))
		if i+1 < len(parts) {
			end = parts[i+1]
		}
		if start < 0 || start > end || int(end) > len(points) {
			continue
		}
		part := make([]orb.Point, 0, end-start)
		for _, p := range points[start:end] {
			part = append(part, orb.Point{p.X, p.Y})
		}
		out = append(out, part)
	}
	return out
}

func multiLine(parts []int32, points []shp.Point) orb.MultiLineString {
	var mls orb.MultiLineString
	for _, part := range splitParts(parts, points) {
		mls = append(mls, orb.LineString(part))
	}
	return mls
}

// multiPolygon groups rings into polygons. Shapefile outer rings wind
// clockwise; each counter-clockwise ring is a hole of the preceding outer.
func multiPolygon(parts []int32, points []shp.Point) orb.MultiPolygon {
	var mp orb.MultiPolygon
	for _, part := range splitParts(parts, points) {
		ring := orb.Ring(part)
		if ring.Orientation() == orb.CCW && len(mp) > 0 {
			last := len(mp) - 1
			mp[last] = append(mp[last], ring)
			continue
		}
		mp = append(mp, orb.Polygon{ring})
	}
	return mp
}

func dbfValue(f shp.Field, raw string) any {
	raw = strings.TrimSpace(strings.Trim(raw, "\x00"))
	if raw == "" {
		return nil
	}
	switch f.Fieldtype {
	case 'N', 'F':
		if n, err := strconv.ParseFloat(raw, 64); err == nil {
			return n
		}
	case 'L':
		switch strings.ToUpper(raw) {
		case "T", "Y":
			return true
		case "F", "N":
			return false
		}
		return nil
	}
	return raw
}

// prjCRS reads the sidecar .prj. It returns the EPSG code when one can be
// recognized, otherwise the WKT itself. Both are empty when there is no
// .prj or it is blank.
func prjCRS(shpPath string) (int, string) {
	base := strings.TrimSuffix(shpPath, shpExt(shpPath))
	for _, ext := range []string{".prj", ".PRJ"} {
		data, err := os.ReadFile(base + ext)
		if err != nil {
			continue
		}
		wkt := strings.TrimSpace(string(data))
		if wkt == "" {
			return 0, ""
		}
		if n, ok := ParseEPSG(wkt); ok {
			return n, ""
		}
		return 0, wkt
	}
	return 0, ""
}

// shxRecordCount derives the record count from the index file size: a
// 100 byte header followed by 8 bytes per record.
func shxRecordCount(shpPath string) (int, bool) {
	base := strings.TrimSuffix(shpPath, shpExt(shpPath))
	for _, ext := range []string{".shx", ".SHX"} {
		fi, err := os.Stat(base + ext)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil || fi.Size() < 100 {
			return 0, false
		}
		return int((fi.Size() - 100) / 8), true
	}
	return 0, false
}

func shpExt(path string) string {
	if i := strings.LastIndexByte(path, '.'); i >= 0 {
		return path[i:]
	}
	return ""
}
