// Package geoserver is the publishing gateway: one authenticated REST
// session to a GeoServer instance, used to create workspaces and PostGIS
// data stores, publish feature layers, and manage styles.
//
// Creation of workspaces, data stores and style descriptors treats HTTP 409
// as "already exists" and succeeds. Publishing a feature layer does not:
// a 409 there is reported as a PublishError.
package geoserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/JonMunkholm/geopublish/internal/domain"
	"github.com/JonMunkholm/geopublish/internal/logging"
)

// DefaultTimeout bounds every REST round trip.
const DefaultTimeout = 30 * time.Second

// SLDContentType is the media type for raw style bodies.
const SLDContentType = "application/vnd.ogc.sld+xml"

// Client owns one resty session against <baseURL>/rest.
type Client struct {
	http    *resty.Client
	baseURL string
	logger  *slog.Logger
}

type options struct {
	timeout time.Duration
	retries int
	logger  *slog.Logger
	hc      *http.Client
}

// Option configures a Client.
type Option func(*options)

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithRetries retries failed GET requests up to n times.
func WithRetries(n int) Option {
	return func(o *options) { o.retries = n }
}

// WithLogger sets the client logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithHTTPClient sets the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(o *options) { o.hc = hc }
}

// New builds a client for the server at baseURL, e.g.
// "http://localhost:8080/geoserver".
func New(baseURL, username, password string, opts ...Option) *Client {
	o := options{timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(&o)
	}
	logger := logging.OrDefault(o.logger).With("component", "geoserver")

	var rc *resty.Client
	if o.hc != nil {
		rc = resty.NewWithClient(o.hc)
	} else {
		rc = resty.New()
	}

	baseURL = strings.TrimRight(baseURL, "/")
	rc.SetBaseURL(baseURL+"/rest").
		SetBasicAuth(username, password).
		SetTimeout(o.timeout).
		SetHeader("Accept", "application/json").
		SetLogger(restyLogger{logger})

	if o.retries > 0 {
		rc.SetRetryCount(o.retries).
			SetRetryWaitTime(250 * time.Millisecond).
			AddRetryCondition(func(r *resty.Response, err error) bool {
				if r == nil || r.Request == nil || r.Request.Method != http.MethodGet {
					return false
				}
				return err != nil || r.StatusCode() >= http.StatusInternalServerError
			})
	}

	return &Client{http: rc, baseURL: baseURL, logger: logger}
}

// NewForTarget builds a client from a publish target.
func NewForTarget(t domain.PublishTarget, opts ...Option) *Client {
	return New(t.BaseURL, t.Username, t.Password, opts...)
}

// BaseURL returns the server URL without the /rest suffix.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// TestConnection checks the server answers the version endpoint with 200.
func (c *Client) TestConnection(ctx context.Context) error {
	const op = "test-connection"
	resp, err := c.http.R().SetContext(ctx).Get("/about/version")
	if err != nil {
		return c.fail(op, domain.ConnectionError(op, "map server unreachable", err))
	}
	if resp.StatusCode() != http.StatusOK {
		return c.fail(op, &domain.Error{
			Class:  domain.ErrConnection,
			Op:     op,
			Msg:    "map server rejected the connection",
			Status: resp.StatusCode(),
			Body:   resp.String(),
		})
	}
	return nil
}

// CreateWorkspace creates a workspace. It reports created=false with no
// error when the workspace already exists. An empty namespaceURI uses the
// default namespace for the workspace.
func (c *Client) CreateWorkspace(ctx context.Context, name, namespaceURI string) (bool, error) {
	const op = "create-workspace"
	if namespaceURI == "" {
		namespaceURI = domain.DefaultNamespaceURI(name)
	}
	body := workspaceBody{Workspace: workspaceInfo{Name: name, NamespaceURI: namespaceURI}}

	resp, err := c.http.R().SetContext(ctx).SetBody(body).Post("/workspaces")
	return c.created(op, resp, err, "workspace", name)
}

// CreatePostGISDatastore creates a PostGIS data store in workspace backed
// by the given database. It reports created=false when the store exists.
func (c *Client) CreatePostGISDatastore(ctx context.Context, workspace, store string, p domain.ConnectionParams) (bool, error) {
	const op = "create-datastore"
	body := dataStoreBody{DataStore: dataStoreInfo{
		Name:                 store,
		ConnectionParameters: postGISConnectionParameters(p),
	}}

	resp, err := c.http.R().SetContext(ctx).SetBody(body).
		Post("/workspaces/" + esc(workspace) + "/datastores")
	return c.created(op, resp, err, "datastore", workspace+":"+store)
}

func postGISConnectionParameters(p domain.ConnectionParams) map[string]string {
	return map[string]string{
		"host":                 p.Host,
		"port":                 strconv.Itoa(p.Port),
		"database":             p.Database,
		"user":                 p.User,
		"passwd":               p.Password,
		"dbtype":               "postgis",
		"schema":               p.SchemaOrDefault(),
		"Loose bbox":           "true",
		"Estimated extends":    "false",
		"validate connections": "true",
		"Connection timeout":   "20",
		"min connections":      "1",
		"max connections":      "10",
	}
}

// FeatureType describes a layer to publish from a database table.
type FeatureType struct {
	Workspace string
	Store     string
	Table     string
	Layer     string // defaults to Table
	Title     string // defaults to Layer
	SRS       string
}

// PublishFeatureLayer publishes a table as a feature layer. Only 200 and
// 201 succeed; publishing a layer that already exists fails.
func (c *Client) PublishFeatureLayer(ctx context.Context, ft FeatureType) error {
	const op = "publish-layer"
	if ft.Layer == "" {
		ft.Layer = ft.Table
	}
	if ft.Title == "" {
		ft.Title = ft.Layer
	}
	if ft.SRS == "" {
		ft.SRS = domain.DefaultCRS
	}

	body := featureTypeBody{FeatureType: featureTypeInfo{
		Name:       ft.Layer,
		NativeName: ft.Table,
		Title:      ft.Title,
		SRS:        ft.SRS,
		Enabled:    true,
		Advertised: true,
		Metadata: metadataInfo{Entry: []metadataEntry{
			{Key: "cachingEnabled", Value: "true"},
			{Key: "time", Value: "false"},
		}},
	}}

	resp, err := c.http.R().SetContext(ctx).SetBody(body).
		Post("/workspaces/" + esc(ft.Workspace) + "/datastores/" + esc(ft.Store) + "/featuretypes")
	if err != nil {
		return c.fail(op, domain.ConnectionError(op, "request failed", err))
	}
	if !isCreated(resp.StatusCode()) {
		return c.fail(op, domain.PublishError(op, resp.StatusCode(), resp.String()))
	}
	c.logger.Info("layer published", "workspace", ft.Workspace, "layer", ft.Layer, "srs", ft.SRS)
	return nil
}

// SetLayerStyle makes style the default style of workspace:layer.
func (c *Client) SetLayerStyle(ctx context.Context, workspace, layer, style string) error {
	const op = "set-layer-style"
	body := layerBody{Layer: layerInfo{DefaultStyle: nameRef{Name: style}}}

	resp, err := c.http.R().SetContext(ctx).SetBody(body).
		Put("/layers/" + esc(workspace+":"+layer))
	if err != nil {
		return c.fail(op, domain.ConnectionError(op, "request failed", err))
	}
	if !isCreated(resp.StatusCode()) {
		return c.fail(op, domain.PublishError(op, resp.StatusCode(), resp.String()))
	}
	return nil
}

// UploadStyle creates the style descriptor (tolerating an existing one)
// and then uploads the SLD body. An empty workspace targets global styles.
func (c *Client) UploadStyle(ctx context.Context, name, sld, workspace string) error {
	const op = "upload-style"
	prefix := "/styles"
	if workspace != "" {
		prefix = "/workspaces/" + esc(workspace) + "/styles"
	}

	body := styleBody{Style: styleInfo{Name: name, Filename: name + ".sld"}}
	resp, err := c.http.R().SetContext(ctx).SetBody(body).Post(prefix)
	if _, err := c.created(op, resp, err, "style", name); err != nil {
		return err
	}

	resp, err = c.http.R().SetContext(ctx).
		SetHeader("Content-Type", SLDContentType).
		SetBody([]byte(sld)).
		Put(prefix + "/" + esc(name))
	if err != nil {
		return c.fail(op, domain.ConnectionError(op, "request failed", err))
	}
	if !isCreated(resp.StatusCode()) {
		return c.fail(op, domain.PublishError(op, resp.StatusCode(), resp.String()))
	}
	c.logger.Info("style uploaded", "style", name, "workspace", workspace)
	return nil
}

// created interprets a create response: 200/201 created, 409 existing.
func (c *Client) created(op string, resp *resty.Response, err error, kind, name string) (bool, error) {
	if err != nil {
		return false, c.fail(op, domain.ConnectionError(op, "request failed", err))
	}
	switch code := resp.StatusCode(); {
	case isCreated(code):
		c.logger.Info(kind+" created", "name", name)
		return true, nil
	case code == http.StatusConflict:
		c.logger.Debug(kind+" already exists", "name", name)
		return false, nil
	default:
		return false, c.fail(op, domain.PublishError(op, code, resp.String()))
	}
}

func (c *Client) fail(op string, err error) error {
	c.logger.Error("geoserver operation failed", "op", op, "error", err)
	return err
}

func isCreated(code int) bool {
	return code == http.StatusOK || code == http.StatusCreated
}

func esc(s string) string {
	return url.PathEscape(s)
}

// IsConflict reports whether err is a PublishError for HTTP 409.
func IsConflict(err error) bool {
	return errors.Is(err, domain.ErrPublish) && domain.StatusOf(err) == http.StatusConflict
}

// restyLogger routes resty's internal messages through slog.
type restyLogger struct{ l *slog.Logger }

func (r restyLogger) Errorf(format string, v ...any) { r.l.Error(fmt.Sprintf(format, v...)) }
func (r restyLogger) Warnf(format string, v ...any)  { r.l.Warn(fmt.Sprintf(format, v...)) }
func (r restyLogger) Debugf(format string, v ...any) { r.l.Debug(fmt.Sprintf(format, v...)) }
