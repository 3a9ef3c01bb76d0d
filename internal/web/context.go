package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"

	"github.com/JonMunkholm/geopublish/internal/logging"
)

// maxBodyBytes caps JSON request bodies. Style uploads carry whole SLD
// documents, so the cap is generous.
const maxBodyBytes = 4 << 20

// requestLogger returns the context logger with the client's address and
// user agent attached, for events worth correlating with a caller.
func requestLogger(r *http.Request) *slog.Logger {
	return logging.WithFields(r.Context(),
		"ip", clientIP(r),
		"user_agent", r.UserAgent(),
	)
}

// clientIP returns the client address without its port. RemoteAddr is
// already rewritten by TrustedRealIP when the peer is a trusted proxy.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// decodeJSON reads a size-limited JSON body into v, rejecting unknown
// fields and trailing data. An empty body leaves v untouched.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("invalid request body: %w", err)
	}
	if dec.More() {
		return errors.New("invalid request body: trailing data")
	}
	return nil
}
