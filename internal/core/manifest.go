package core

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/JonMunkholm/geopublish/internal/domain"
	"github.com/JonMunkholm/geopublish/internal/naming"
	"github.com/JonMunkholm/geopublish/internal/spatial"
)

// Manifest is a YAML batch description:
//
//	workspace: cities
//	prefix: city
//	style: default_polygon
//	items:
//	  - source: data/parcels.shp
//	    crs: EPSG:3857
//	  - source: public.roads
//	    kind: table
//	    style: default_line
type Manifest struct {
	Workspace string         `yaml:"workspace"`
	Prefix    string         `yaml:"prefix"`
	Style     string         `yaml:"style"`
	Overwrite *bool          `yaml:"overwrite"`
	TargetCRS string         `yaml:"target_crs"`
	Entries   []ManifestItem `yaml:"items"`

	dir string
}

// ManifestItem is one manifest entry. Only Source is required.
type ManifestItem struct {
	Source string `yaml:"source"`
	Kind   string `yaml:"kind"`
	Name   string `yaml:"name"`
	CRS    string `yaml:"crs"`
	Style  string `yaml:"style"`
}

// LoadManifest reads and parses a manifest file. Relative sources resolve
// against the manifest's directory.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	m, err := ParseManifest(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	m.dir = filepath.Dir(path)
	return m, nil
}

// ParseManifest parses manifest YAML. Unknown fields are rejected.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	if len(m.Entries) == 0 {
		return nil, fmt.Errorf("parse manifest: %w", ErrNoItems)
	}
	return &m, nil
}

// Items converts the entries to DataItems. The manifest prefix applies to
// file items, the manifest style to entries without their own.
func (m *Manifest) Items() ([]domain.DataItem, error) {
	items := make([]domain.DataItem, 0, len(m.Entries))
	for i, e := range m.Entries {
		item, err := m.item(e)
		if err != nil {
			return nil, fmt.Errorf("manifest item %d: %w", i+1, err)
		}
		items = append(items, item)
	}
	return items, nil
}

func (m *Manifest) item(e ManifestItem) (domain.DataItem, error) {
	source := strings.TrimSpace(e.Source)
	if source == "" {
		return domain.DataItem{}, fmt.Errorf("source is required")
	}

	var kind domain.Kind
	if e.Kind != "" {
		k, err := domain.ParseKind(e.Kind)
		if err != nil {
			return domain.DataItem{}, err
		}
		kind = k
	} else {
		kind = spatial.KindOf(source)
	}

	item := domain.DataItem{
		SourceIdentifier: source,
		Kind:             kind,
		CRS:              spatial.NormalizeCRS(e.CRS),
		Style:            firstNonEmpty(e.Style, m.Style, domain.DefaultStyle),
	}

	switch kind {
	case domain.KindExistingTable:
		name := source
		if i := strings.LastIndexByte(source, '.'); i >= 0 {
			name = source[i+1:]
		}
		item.TargetName = firstNonEmpty(e.Name, name)
	default:
		if m.dir != "" && !filepath.IsAbs(source) {
			item.SourceIdentifier = filepath.Join(m.dir, source)
		}
		name := e.Name
		if name == "" {
			name = naming.StripExt(filepath.Base(source))
		}
		item.TargetName = naming.WithPrefix(m.Prefix, name)
	}

	if item.CRS == "" {
		item.CRS = domain.DefaultCRS
	}
	return item, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
