package spatial

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/JonMunkholm/geopublish/internal/domain"
	"github.com/JonMunkholm/geopublish/internal/logging"
)

// Reader reads the full feature content of a vector file. The database
// gateway imports through it.
type Reader interface {
	Read(path string) (*Layer, error)
}

// Metadata is what a driver can report without an import.
type Metadata struct {
	GeometryType string
	SRID         int
	CRSText      string // declared but unrecognized CRS
	Extent       *domain.Extent
	FeatureCount int
	HasCount     bool
}

type driver interface {
	Name() string
	Describe(path string) (*Metadata, error)
	Read(path string) (*Layer, error)
}

// FileInfo describes one inspected file.
type FileInfo struct {
	Path         string         `json:"path"`
	Name         string         `json:"name"`
	Kind         domain.Kind    `json:"kind"`
	Driver       string         `json:"driver,omitempty"`
	GeometryType string         `json:"geometryType"`
	CRS          string         `json:"crs"`
	SourceCRS    string         `json:"sourceCrs,omitempty"` // unrecognized declaration, verbatim
	FeatureCount *int           `json:"featureCount,omitempty"`
	Extent       *domain.Extent `json:"extent,omitempty"`
	SizeBytes    int64          `json:"sizeBytes"`
	Size         string         `json:"size"`
	Warnings     []string       `json:"warnings,omitempty"`
}

// Inspector classifies and describes spatial files.
type Inspector struct {
	drivers map[string]driver
	logger  *slog.Logger
}

// NewInspector returns an inspector with the built-in drivers. A nil
// logger uses slog.Default().
func NewInspector(logger *slog.Logger) *Inspector {
	gj := geojsonDriver{}
	return &Inspector{
		drivers: map[string]driver{
			".geojson": gj,
			".json":    gj,
			".shp":     shapefileDriver{},
		},
		logger: logging.OrDefault(logger),
	}
}

// Inspect describes path without modifying it. It fails only when the file
// cannot be read or its kind is unknown; metadata problems degrade to
// defaults and are reported in Warnings.
func (in *Inspector) Inspect(path string) (*FileInfo, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, domain.NewError(domain.ErrInspection, "inspect", path, err)
	}
	if fi.IsDir() {
		return nil, domain.NewError(domain.ErrInspection, "inspect", path+" is a directory", nil)
	}

	kind := KindOf(path)
	if kind == domain.KindUnknown {
		return nil, domain.NewError(domain.ErrInspection, "inspect",
			fmt.Sprintf("unrecognized file type %q", filepath.Ext(path)), nil)
	}

	info := &FileInfo{
		Path:         path,
		Name:         filepath.Base(path),
		Kind:         kind,
		GeometryType: GeometryAny,
		CRS:          domain.DefaultCRS,
		SizeBytes:    fi.Size(),
		Size:         FormatSize(fi.Size()),
	}

	if kind == domain.KindRaster {
		info.GeometryType = ""
		in.warn(info, "raster metadata is not read; assuming "+domain.DefaultCRS)
		return info, nil
	}

	drv, ok := in.drivers[strings.ToLower(filepath.Ext(path))]
	if !ok {
		in.warn(info, fmt.Sprintf("no metadata driver for %s files; using defaults", filepath.Ext(path)))
		return info, nil
	}
	info.Driver = drv.Name()

	md, err := drv.Describe(path)
	if err != nil {
		in.warn(info, fmt.Sprintf("read metadata: %v; using defaults", err))
		return info, nil
	}

	if md.GeometryType != "" {
		info.GeometryType = md.GeometryType
	}
	switch {
	case md.SRID > 0:
		info.CRS = FormatEPSG(md.SRID)
	case md.CRSText != "":
		info.SourceCRS = md.CRSText
		in.warn(info, "unrecognized coordinate reference system; the database reprojects it to "+
			domain.DefaultCRS+" on import")
	default:
		in.warn(info, "no coordinate reference system declared; assuming "+domain.DefaultCRS)
	}
	if md.Extent != nil {
		info.Extent = md.Extent
	} else {
		in.warn(info, "extent unavailable")
	}
	if md.HasCount {
		n := md.FeatureCount
		info.FeatureCount = &n
	}
	return info, nil
}

// Read loads all features of a vector file.
func (in *Inspector) Read(path string) (*Layer, error) {
	drv, ok := in.drivers[strings.ToLower(filepath.Ext(path))]
	if !ok {
		return nil, domain.ImportError("read",
			fmt.Sprintf("format not supported: %s", filepath.Ext(path)), nil)
	}
	layer, err := drv.Read(path)
	if err != nil {
		return nil, domain.ImportError("read", "cannot read "+filepath.Base(path), err)
	}
	return layer, nil
}

func (in *Inspector) warn(info *FileInfo, msg string) {
	in.logger.Warn("inspection degraded", "path", info.Path, "warning", msg)
	info.Warnings = append(info.Warnings, msg)
}
