package geoserver

import (
	"context"
	"net/http"

	"github.com/JonMunkholm/geopublish/internal/domain"
)

// ListWorkspaces returns every workspace on the server.
func (c *Client) ListWorkspaces(ctx context.Context) (RefList, error) {
	return c.list(ctx, "list-workspaces", "/workspaces", "workspaces", "workspace")
}

// ListDatastores returns the data stores of workspace.
func (c *Client) ListDatastores(ctx context.Context, workspace string) (RefList, error) {
	return c.list(ctx, "list-datastores", "/workspaces/"+esc(workspace)+"/datastores", "dataStores", "dataStore")
}

// ListLayers returns the layers of workspace.
func (c *Client) ListLayers(ctx context.Context, workspace string) (RefList, error) {
	return c.list(ctx, "list-layers", "/workspaces/"+esc(workspace)+"/layers", "layers", "layer")
}

// ListStyles returns the styles of workspace, or the global styles when
// workspace is empty.
func (c *Client) ListStyles(ctx context.Context, workspace string) (RefList, error) {
	path := "/styles"
	if workspace != "" {
		path = "/workspaces/" + esc(workspace) + "/styles"
	}
	return c.list(ctx, "list-styles", path, "styles", "style")
}

func (c *Client) list(ctx context.Context, op, path, plural, singular string) (RefList, error) {
	resp, err := c.http.R().SetContext(ctx).Get(path)
	if err != nil {
		return nil, c.fail(op, domain.ConnectionError(op, "request failed", err))
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, c.fail(op, domain.PublishError(op, resp.StatusCode(), resp.String()))
	}

	refs, err := decodeCollection(resp.Body(), plural, singular)
	if err != nil {
		return nil, c.fail(op, &domain.Error{
			Class:  domain.ErrPublish,
			Op:     op,
			Msg:    "malformed response",
			Status: resp.StatusCode(),
			Cause:  err,
		})
	}
	return refs, nil
}
