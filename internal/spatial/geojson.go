package spatial

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/paulmach/orb/geojson"
)

type geojsonDriver struct{}

func (geojsonDriver) Name() string { return "GeoJSON" }

// legacyCRS is the pre-RFC 7946 "crs" member, still written by many tools.
type legacyCRS struct {
	CRS *struct {
		Type       string `json:"type"`
		Properties struct {
			Name string `json:"name"`
			Code int    `json:"code"`
		} `json:"properties"`
	} `json:"crs"`
}

func (d geojsonDriver) Read(path string) (*Layer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	features, err := decodeGeoJSON(data)
	if err != nil {
		return nil, err
	}

	layer := &Layer{Path: path, Driver: d.Name()}
	layer.SRID, layer.CRSText = geojsonCRS(data)

	seen := make(map[string]bool)
	for _, f := range features {
		keys := make([]string, 0, len(f.Properties))
		for k := range f.Properties {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if !seen[k] {
				seen[k] = true
				layer.Fields = append(layer.Fields, k)
			}
		}
		layer.Features = append(layer.Features, Feature{
			Geometry:   f.Geometry,
			Properties: map[string]any(f.Properties),
		})
	}
	layer.GeometryType = CommonType(layer.Features)
	return layer, nil
}

func (d geojsonDriver) Describe(path string) (*Metadata, error) {
	layer, err := d.Read(path)
	if err != nil {
		return nil, err
	}
	md := &Metadata{
		GeometryType: layer.GeometryType,
		SRID:         layer.SRID,
		CRSText:      layer.CRSText,
		FeatureCount: len(layer.Features),
		HasCount:     true,
	}
	if b, ok := layer.Bound(); ok {
		md.Extent = toExtent(b)
	}
	return md, nil
}

// decodeGeoJSON accepts a FeatureCollection, a single Feature or a bare
// geometry object.
func decodeGeoJSON(data []byte) ([]*geojson.Feature, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("decode geojson: %w", err)
	}

	switch head.Type {
	case "FeatureCollection":
		fc, err := geojson.UnmarshalFeatureCollection(data)
		if err != nil {
			return nil, fmt.Errorf("decode feature collection: %w", err)
		}
		return fc.Features, nil
	case "Feature":
		f, err := geojson.UnmarshalFeature(data)
		if err != nil {
			return nil, fmt.Errorf("decode feature: %w", err)
		}
		return []*geojson.Feature{f}, nil
	case "":
		return nil, fmt.Errorf("decode geojson: missing type member")
	default:
		g, err := geojson.UnmarshalGeometry(data)
		if err != nil {
			return nil, fmt.Errorf("decode geometry: %w", err)
		}
		return []*geojson.Feature{geojson.NewFeature(g.Geometry())}, nil
	}
}

// geojsonCRS honours a legacy crs member and otherwise returns WGS84,
// the only CRS RFC 7946 allows. A named CRS without an EPSG code is
// returned as text.
func geojsonCRS(data []byte) (int, string) {
	var lc legacyCRS
	if err := json.Unmarshal(data, &lc); err != nil || lc.CRS == nil {
		return SRIDWGS84, ""
	}
	if lc.CRS.Properties.Code > 0 {
		return lc.CRS.Properties.Code, ""
	}
	name := strings.TrimSpace(lc.CRS.Properties.Name)
	if name == "" {
		return SRIDWGS84, ""
	}
	if n, ok := ParseEPSG(name); ok {
		return n, ""
	}
	return 0, name
}
