package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/JonMunkholm/geopublish/internal/core"
	"github.com/JonMunkholm/geopublish/internal/logging"
)

var (
	errOutsideScanRoot = errors.New("path is outside the scan root")
	errInvalidPattern  = errors.New("invalid glob pattern")
)

type scanRequest struct {
	Dir     string   `json:"dir"`
	Include []string `json:"include"`
	Exclude []string `json:"exclude"`
	Prefix  string   `json:"prefix"`
	Style   string   `json:"style"`
}

// handleScan lists the publishable files under a folder of the scan root
// without starting a run.
func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	var req scanRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, r, err.Error())
		return
	}

	res, err := s.scan(r.Context(), req.Dir, req.Include, req.Exclude)
	if err != nil {
		respondError(w, r, err, 0)
		return
	}

	core.ApplyPrefix(res.Items, req.Prefix)
	if req.Style != "" {
		core.ApplyStyle(res.Items, req.Style)
	}
	writeJSON(w, res)
}

// scan runs a folder scan confined to the configured root. Request
// patterns replace the configured defaults when given.
func (s *Server) scan(ctx context.Context, dir string, include, exclude []string) (*core.ScanResult, error) {
	if s.deps.Inspector == nil {
		return nil, errNotConfigured
	}

	path, err := s.resolveScanDir(dir)
	if err != nil {
		return nil, err
	}

	if len(include) == 0 {
		include = s.cfg.Scan.Include
	}
	if len(exclude) == 0 {
		exclude = s.cfg.Scan.Exclude
	}
	for _, p := range append(append([]string{}, include...), exclude...) {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("%w: %q", errInvalidPattern, p)
		}
	}

	return core.ScanFolder(ctx, s.deps.Inspector, path, core.ScanOptions{
		Include: include,
		Exclude: exclude,
		Logger:  logging.FromContext(ctx),
	})
}

// resolveScanDir maps a folder or file path onto the scan root and rejects
// anything that leaves it, including through symlinks.
func (s *Server) resolveScanDir(dir string) (string, error) {
	root, err := filepath.Abs(s.cfg.Scan.Root)
	if err != nil {
		return "", fmt.Errorf("resolve scan root: %w", err)
	}

	target := filepath.FromSlash(dir)
	if !filepath.IsAbs(target) {
		target = filepath.Join(root, target)
	}
	target = filepath.Clean(target)

	if !within(root, target) {
		return "", fmt.Errorf("%w: %s", errOutsideScanRoot, dir)
	}

	realRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		return target, nil
	}
	if realTarget, err := filepath.EvalSymlinks(target); err == nil && !within(realRoot, realTarget) {
		return "", fmt.Errorf("%w: %s", errOutsideScanRoot, dir)
	}
	return target, nil
}

func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
