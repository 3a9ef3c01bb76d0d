package core

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/JonMunkholm/geopublish/internal/domain"
	"github.com/JonMunkholm/geopublish/internal/logging"
	"github.com/JonMunkholm/geopublish/internal/naming"
	"github.com/JonMunkholm/geopublish/internal/postgis"
	"github.com/JonMunkholm/geopublish/internal/spatial"
)

// FileInspector describes one spatial file. Satisfied by *spatial.Inspector.
type FileInspector interface {
	Inspect(path string) (*spatial.FileInfo, error)
}

// ScanOptions filter a folder scan. Patterns are doublestar globs matched
// against the slash-separated path relative to the scan root, so
// "**/*.shp" matches shapefiles at any depth.
type ScanOptions struct {
	Include []string
	Exclude []string
	Logger  *slog.Logger
}

// ScanResult is the outcome of a folder scan.
type ScanResult struct {
	Root    string              `json:"root"`
	Items   []domain.DataItem   `json:"items"`
	Files   []*spatial.FileInfo `json:"files"`
	Skipped []SkippedFile       `json:"skipped,omitempty"`
}

// SkippedFile is a recognized file that could not be inspected.
type SkippedFile struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

// ScanFolder walks root and turns every recognized spatial file into a
// DataItem. Hidden directories are not entered. Target names are
// normalized from the file name and made unique within the scan.
func ScanFolder(ctx context.Context, inspector FileInspector, root string, opts ScanOptions) (*ScanResult, error) {
	if inspector == nil {
		return nil, domain.PrerequisiteError("scan-folder", "no file inspector configured")
	}
	for _, p := range append(append([]string{}, opts.Include...), opts.Exclude...) {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("scan-folder: invalid pattern %q", p)
		}
	}
	logger := logging.OrDefault(opts.Logger).With("root", root)

	res := &ScanResult{Root: root, Items: []domain.DataItem{}, Files: []*spatial.FileInfo{}}
	used := make(map[string]int)

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if spatial.KindOf(path) == domain.KindUnknown {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if !selected(filepath.ToSlash(rel), opts) {
			return nil
		}

		info, err := inspector.Inspect(path)
		if err != nil {
			logger.Warn("skipping file", "path", path, "error", err)
			res.Skipped = append(res.Skipped, SkippedFile{Path: path, Reason: err.Error()})
			return nil
		}

		item := ItemFromFile(info)
		item.TargetName = uniqueName(used, item.TargetName)
		res.Items = append(res.Items, item)
		res.Files = append(res.Files, info)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", root, err)
	}

	logger.Info("scan complete", "items", len(res.Items), "skipped", len(res.Skipped))
	return res, nil
}

func selected(rel string, opts ScanOptions) bool {
	if len(opts.Include) > 0 && !matchAny(opts.Include, rel) {
		return false
	}
	return !matchAny(opts.Exclude, rel)
}

func matchAny(patterns []string, rel string) bool {
	for _, p := range patterns {
		if ok, _ := doublestar.Match(p, rel); ok {
			return true
		}
	}
	return false
}

func uniqueName(used map[string]int, name string) string {
	used[name]++
	if n := used[name]; n > 1 {
		candidate := fmt.Sprintf("%s_%d", name, n)
		for used[candidate] > 0 {
			n++
			candidate = fmt.Sprintf("%s_%d", name, n)
		}
		used[candidate]++
		return candidate
	}
	return name
}

// ItemFromFile builds a DataItem from an inspected file.
func ItemFromFile(info *spatial.FileInfo) domain.DataItem {
	crs := info.CRS
	if crs == "" {
		crs = domain.DefaultCRS
	}
	return domain.DataItem{
		SourceIdentifier: info.Path,
		Kind:             info.Kind,
		TargetName:       naming.Normalize(naming.StripExt(filepath.Base(info.Path))),
		CRS:              crs,
		Style:            domain.DefaultStyle,
		GeometryType:     info.GeometryType,
		FeatureCount:     info.FeatureCount,
		Extent:           info.Extent,
		Size:             info.Size,
	}
}

// ItemsFromTables turns existing spatial tables into items that are only
// published. Tables without a geometry column are ignored.
func ItemsFromTables(tables []postgis.Table) []domain.DataItem {
	items := make([]domain.DataItem, 0, len(tables))
	for _, t := range tables {
		if !t.Spatial {
			continue
		}
		crs := domain.DefaultCRS
		if t.SRID > 0 {
			crs = spatial.FormatEPSG(t.SRID)
		}
		items = append(items, domain.DataItem{
			SourceIdentifier: t.QualifiedName(),
			Kind:             domain.KindExistingTable,
			TargetName:       t.Name,
			CRS:              crs,
			Style:            domain.DefaultStyle,
			GeometryType:     t.GeometryType,
			Size:             t.Size,
		})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].TargetName < items[j].TargetName })
	return items
}

// ApplyPrefix prefixes the target name of every file item. Existing tables
// keep their names since they are published as they are.
func ApplyPrefix(items []domain.DataItem, prefix string) {
	if strings.TrimSpace(prefix) == "" {
		return
	}
	for i := range items {
		if items[i].Kind == domain.KindExistingTable {
			continue
		}
		items[i].TargetName = naming.WithPrefix(prefix, items[i].TargetName)
	}
}

// ApplyStyle sets the style of every item. An empty style resets to the
// server default.
func ApplyStyle(items []domain.DataItem, style string) {
	style = strings.TrimSpace(style)
	if style == "" {
		style = domain.DefaultStyle
	}
	for i := range items {
		items[i].Style = style
	}
}
