// Package styles holds the SLD documents installed as default styles.
package styles

import (
	"embed"
	"sort"
	"strings"
)

//go:embed sld/*.sld
var files embed.FS

// Style names.
const (
	Point   = "default_point"
	Line    = "default_line"
	Polygon = "default_polygon"
)

// Style is a named SLD document.
type Style struct {
	Name string
	SLD  string
}

// Get returns the embedded style with the given name.
func Get(name string) (Style, bool) {
	data, err := files.ReadFile("sld/" + name + ".sld")
	if err != nil {
		return Style{}, false
	}
	return Style{Name: name, SLD: string(data)}, true
}

// Defaults returns every embedded style ordered by name.
func Defaults() []Style {
	entries, _ := files.ReadDir("sld")
	out := make([]Style, 0, len(entries))
	for _, e := range entries {
		name := strings.TrimSuffix(e.Name(), ".sld")
		if s, ok := Get(name); ok {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ForGeometry picks the default style name for a PostGIS geometry type,
// or "" when none fits.
func ForGeometry(geometryType string) string {
	t := strings.ToUpper(geometryType)
	switch {
	case strings.Contains(t, "POINT"):
		return Point
	case strings.Contains(t, "LINE"):
		return Line
	case strings.Contains(t, "POLYGON"):
		return Polygon
	}
	return ""
}
