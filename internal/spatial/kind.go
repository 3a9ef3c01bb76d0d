// Package spatial inspects spatial data files and reads their features for
// import. It ships GeoJSON and ESRI Shapefile drivers; other recognized
// formats are classified by extension only.
package spatial

import (
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/JonMunkholm/geopublish/internal/domain"
)

var vectorExtensions = map[string]bool{
	".shp":     true,
	".geojson": true,
	".json":    true,
	".kml":     true,
	".gpkg":    true,
	".gml":     true,
}

var rasterExtensions = map[string]bool{
	".tif":  true,
	".tiff": true,
	".img":  true,
	".jp2":  true,
	".png":  true,
	".jpg":  true,
}

// KindOf classifies a path by its extension.
func KindOf(path string) domain.Kind {
	ext := strings.ToLower(filepath.Ext(path))
	switch {
	case vectorExtensions[ext]:
		return domain.KindVector
	case rasterExtensions[ext]:
		return domain.KindRaster
	default:
		return domain.KindUnknown
	}
}

// FormatSize renders a byte count for display, e.g. "1.2 MiB".
func FormatSize(bytes int64) string {
	if bytes < 0 {
		bytes = 0
	}
	return humanize.IBytes(uint64(bytes))
}
