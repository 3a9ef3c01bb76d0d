package web

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/geopublish/internal/domain"
	"github.com/JonMunkholm/geopublish/internal/geoserver"
	"github.com/JonMunkholm/geopublish/internal/postgis"
	"github.com/JonMunkholm/geopublish/internal/spatial"
	"github.com/JonMunkholm/geopublish/internal/styles"
)

// Catalog is a connected view of the database tables. Satisfied by
// *postgis.Gateway.
type Catalog interface {
	ListSpatialTables(ctx context.Context) ([]postgis.Table, error)
	ListAllTables(ctx context.Context) ([]postgis.Table, error)
	RenameTable(ctx context.Context, oldName, newName, schema string) error
	Close(ctx context.Context) error
}

// CatalogFunc opens a Catalog for one request. The caller closes it.
type CatalogFunc func(ctx context.Context) (Catalog, error)

// PostGISCatalog opens a fresh PostGIS connection per request.
func PostGISCatalog(params domain.ConnectionParams, reader spatial.Reader, logger *slog.Logger) CatalogFunc {
	return func(ctx context.Context) (Catalog, error) {
		g, err := postgis.New(params, reader, postgis.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		if err := g.Connect(ctx); err != nil {
			return nil, err
		}
		return g, nil
	}
}

// MapServer is the read side of the map server plus style uploads.
// Satisfied by *geoserver.Client.
type MapServer interface {
	TestConnection(ctx context.Context) error
	ListWorkspaces(ctx context.Context) (geoserver.RefList, error)
	ListDatastores(ctx context.Context, workspace string) (geoserver.RefList, error)
	ListLayers(ctx context.Context, workspace string) (geoserver.RefList, error)
	ListStyles(ctx context.Context, workspace string) (geoserver.RefList, error)
	UploadStyle(ctx context.Context, name, sld, workspace string) error
}

// withCatalog opens a catalog, runs fn and closes it.
func (s *Server) withCatalog(ctx context.Context, fn func(Catalog) error) error {
	if s.deps.Catalog == nil {
		return errNotConfigured
	}
	catalog, err := s.deps.Catalog(ctx)
	if err != nil {
		return err
	}
	defer catalog.Close(context.WithoutCancel(ctx))
	return fn(catalog)
}

// handleListTables lists database tables. spatial=true restricts the list
// to tables with a registered geometry column.
func (s *Server) handleListTables(w http.ResponseWriter, r *http.Request) {
	spatialOnly := r.URL.Query().Get("spatial") == "true"

	var tables []postgis.Table
	err := s.withCatalog(r.Context(), func(c Catalog) error {
		var err error
		if spatialOnly {
			tables, err = c.ListSpatialTables(r.Context())
		} else {
			tables, err = c.ListAllTables(r.Context())
		}
		return err
	})
	if err != nil {
		respondError(w, r, err, 0)
		return
	}
	if tables == nil {
		tables = []postgis.Table{}
	}
	writeJSON(w, map[string]any{"tables": tables, "count": len(tables)})
}

type renameRequest struct {
	NewName string `json:"newName"`
}

// handleRenameTable renames schema.table. The new name must be a valid
// identifier and not already taken.
func (s *Server) handleRenameTable(w http.ResponseWriter, r *http.Request) {
	schema := chi.URLParam(r, "schema")
	table := chi.URLParam(r, "table")

	var req renameRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, r, err.Error())
		return
	}
	newName := strings.TrimSpace(req.NewName)
	if newName == "" {
		badRequest(w, r, "newName is required")
		return
	}

	err := s.withCatalog(r.Context(), func(c Catalog) error {
		return c.RenameTable(r.Context(), table, newName, schema)
	})
	if err != nil {
		respondError(w, r, err, 0)
		return
	}

	requestLogger(r).Info("table renamed", "schema", schema, "table", table, "new_name", newName)
	writeJSON(w, map[string]string{"schema": schema, "from": table, "to": newName})
}

func (s *Server) handleListWorkspaces(w http.ResponseWriter, r *http.Request) {
	s.writeRefs(w, r, "workspaces", func(ms MapServer) (geoserver.RefList, error) {
		return ms.ListWorkspaces(r.Context())
	})
}

func (s *Server) handleListDatastores(w http.ResponseWriter, r *http.Request) {
	ws := chi.URLParam(r, "ws")
	s.writeRefs(w, r, "datastores", func(ms MapServer) (geoserver.RefList, error) {
		return ms.ListDatastores(r.Context(), ws)
	})
}

func (s *Server) handleListLayers(w http.ResponseWriter, r *http.Request) {
	ws := chi.URLParam(r, "ws")
	s.writeRefs(w, r, "layers", func(ms MapServer) (geoserver.RefList, error) {
		return ms.ListLayers(r.Context(), ws)
	})
}

// handleListStyles lists global styles, or a workspace's own styles when
// workspace is given.
func (s *Server) handleListStyles(w http.ResponseWriter, r *http.Request) {
	ws := r.URL.Query().Get("workspace")
	s.writeRefs(w, r, "styles", func(ms MapServer) (geoserver.RefList, error) {
		return ms.ListStyles(r.Context(), ws)
	})
}

func (s *Server) writeRefs(w http.ResponseWriter, r *http.Request, key string, list func(MapServer) (geoserver.RefList, error)) {
	if s.deps.MapServer == nil {
		respondError(w, r, errNotConfigured, 0)
		return
	}
	refs, err := list(s.deps.MapServer)
	if err != nil {
		respondError(w, r, err, 0)
		return
	}
	if refs == nil {
		refs = geoserver.RefList{}
	}
	writeJSON(w, map[string]any{key: refs, "names": refs.Names()})
}

// uploadStyleRequest uploads one SLD document, or the built-in default
// styles when Defaults is set. A missing SLD for a built-in name uses the
// embedded document.
type uploadStyleRequest struct {
	Name      string `json:"name"`
	SLD       string `json:"sld"`
	Workspace string `json:"workspace"`
	Defaults  bool   `json:"defaults"`
}

func (s *Server) handleUploadStyle(w http.ResponseWriter, r *http.Request) {
	if s.deps.MapServer == nil {
		respondError(w, r, errNotConfigured, 0)
		return
	}

	var req uploadStyleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, r, err.Error())
		return
	}

	var docs []styles.Style
	switch {
	case req.Defaults:
		docs = styles.Defaults()
	case req.Name == "":
		badRequest(w, r, "name is required")
		return
	case req.SLD != "":
		docs = []styles.Style{{Name: req.Name, SLD: req.SLD}}
	default:
		builtin, ok := styles.Get(req.Name)
		if !ok {
			badRequest(w, r, "sld is required for "+req.Name)
			return
		}
		docs = []styles.Style{builtin}
	}

	uploaded := make([]string, 0, len(docs))
	for _, doc := range docs {
		if err := s.deps.MapServer.UploadStyle(r.Context(), doc.Name, doc.SLD, req.Workspace); err != nil {
			respondError(w, r, err, 0)
			return
		}
		uploaded = append(uploaded, doc.Name)
	}

	requestLogger(r).Info("styles uploaded", "styles", uploaded, "workspace", req.Workspace)
	writeJSONStatus(w, http.StatusCreated, map[string]any{"uploaded": uploaded, "workspace": req.Workspace})
}
