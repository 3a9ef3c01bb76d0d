package domain

import (
	"fmt"
	"regexp"
	"time"
)

// DefaultCRS is used whenever a source CRS cannot be detected.
const DefaultCRS = "EPSG:4326"

// DefaultStyle is the style name that leaves the server's default in place.
const DefaultStyle = "default"

// Kind classifies a data item.
type Kind string

const (
	KindUnknown       Kind = "unknown"
	KindVector        Kind = "vector"
	KindRaster        Kind = "raster"
	KindExistingTable Kind = "existing_table"
)

// ParseKind accepts the canonical kind names plus a few aliases.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "vector", "VECTOR":
		return KindVector, nil
	case "raster", "RASTER":
		return KindRaster, nil
	case "existing_table", "EXISTING_SPATIAL_TABLE", "table", "existing":
		return KindExistingTable, nil
	}
	return KindUnknown, fmt.Errorf("unknown item kind %q", s)
}

// Extent is a bounding box in the item's CRS.
type Extent struct {
	MinX float64 `json:"minx" yaml:"minx"`
	MinY float64 `json:"miny" yaml:"miny"`
	MaxX float64 `json:"maxx" yaml:"maxx"`
	MaxY float64 `json:"maxy" yaml:"maxy"`
}

// DataItem is one unit of work through the pipeline.
type DataItem struct {
	SourceIdentifier string `json:"source"`
	Kind             Kind   `json:"kind"`
	TargetName       string `json:"targetName"`
	CRS              string `json:"crs"`
	Style            string `json:"style"`

	// Informational only.
	GeometryType string  `json:"geometryType,omitempty"`
	FeatureCount *int    `json:"featureCount,omitempty"`
	Extent       *Extent `json:"extent,omitempty"`
	Size         string  `json:"size,omitempty"`
}

var targetNameRe = regexp.MustCompile(`^[a-z0-9_]+$`)

// Validate checks the target name invariant and the kind.
//
// A leading digit is accepted on purpose: names come from naming.Normalize,
// which keeps them, so "2024_roads" is a valid target. PostGIS identifiers
// are always quoted, so such a name is still a usable table.
func (d DataItem) Validate() error {
	if d.TargetName == "" {
		return NameError("validate-item", "target name is empty")
	}
	if !targetNameRe.MatchString(d.TargetName) {
		return NameError("validate-item", fmt.Sprintf("target name %q must match [a-z0-9_]+", d.TargetName))
	}
	switch d.Kind {
	case KindVector, KindRaster, KindExistingTable:
	default:
		return NewError(ErrNotSupported, "validate-item", fmt.Sprintf("unsupported item kind %q", d.Kind), nil)
	}
	return nil
}

// EffectiveCRS returns the item's CRS or DefaultCRS.
func (d DataItem) EffectiveCRS() string {
	if d.CRS == "" {
		return DefaultCRS
	}
	return d.CRS
}

// EffectiveStyle returns the item's style or DefaultStyle.
func (d DataItem) EffectiveStyle() string {
	if d.Style == "" {
		return DefaultStyle
	}
	return d.Style
}

// ConnectionParams holds database connection settings.
type ConnectionParams struct {
	Host     string
	Port     int
	Database string
	User     string
	Password string
	Schema   string        // Schema the data store publishes from (default: public)
	Timeout  time.Duration // Connect timeout
}

// String masks the password.
func (p ConnectionParams) String() string {
	return fmt.Sprintf("postgres://%s:***@%s:%d/%s", p.User, p.Host, p.Port, p.Database)
}

// SchemaOrDefault returns the configured schema or "public".
func (p ConnectionParams) SchemaOrDefault() string {
	if p.Schema == "" {
		return "public"
	}
	return p.Schema
}

// PublishTarget names the workspace and store a run publishes into.
type PublishTarget struct {
	Workspace    string
	DataStore    string
	BaseURL      string
	Username     string
	Password     string
	NamespaceURI string
}

// DataStoreName derives the data store name for a workspace.
func DataStoreName(workspace string) string {
	return workspace + "_datastore"
}

// NewPublishTarget fills in the derived data store and namespace.
func NewPublishTarget(workspace, baseURL, username, password string) PublishTarget {
	return PublishTarget{
		Workspace:    workspace,
		DataStore:    DataStoreName(workspace),
		BaseURL:      baseURL,
		Username:     username,
		Password:     password,
		NamespaceURI: DefaultNamespaceURI(workspace),
	}
}

// DefaultNamespaceURI is the namespace assigned to new workspaces.
func DefaultNamespaceURI(workspace string) string {
	return "http://www.example.com/" + workspace
}

// Stage identifies where in the pipeline an item failed.
type Stage string

const (
	StageValidate  Stage = "validate"
	StageImport    Stage = "import"
	StagePublish   Stage = "publish"
	StageStyle     Stage = "style"
	StageCancelled Stage = "cancelled"
	StageInternal  Stage = "internal"
)

// ItemFailure records why one item did not complete.
type ItemFailure struct {
	Identifier string `json:"identifier"`
	TargetName string `json:"targetName"`
	Stage      Stage  `json:"stage"`
	Reason     string `json:"reason"`
	Err        error  `json:"-"`
}

// BatchResult is the aggregate outcome of one orchestration run.
type BatchResult struct {
	Total     int           `json:"total"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Failures  []ItemFailure `json:"failures"`
	OK        bool          `json:"ok"`
	Cancelled bool          `json:"cancelled"`
	Message   string        `json:"message"`
	SetupErr  error         `json:"-"`
	Duration  time.Duration `json:"duration"`
}
