// Package postgis is the database gateway: it owns one connection to a
// PostgreSQL server with the PostGIS extension and performs every import,
// rename, drop and catalog listing the pipeline needs.
package postgis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/JonMunkholm/geopublish/internal/domain"
	"github.com/JonMunkholm/geopublish/internal/logging"
	"github.com/JonMunkholm/geopublish/internal/spatial"
)

// DefaultBatchSize is the number of rows queued per pgx batch on import.
const DefaultBatchSize = 500

// DefaultConnectTimeout bounds connection setup when params carry none.
const DefaultConnectTimeout = 10 * time.Second

// Conn is the subset of *pgx.Conn the gateway uses.
type Conn interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// ConnectFunc opens a connection. Tests replace it with a fake.
type ConnectFunc func(ctx context.Context, params domain.ConnectionParams) (Conn, error)

// Gateway owns one database connection for its lifetime.
type Gateway struct {
	params    domain.ConnectionParams
	reader    spatial.Reader
	connect   ConnectFunc
	logger    *slog.Logger
	batchSize int

	conn Conn
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithLogger sets the gateway logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gateway) { g.logger = l }
}

// WithConnectFunc replaces the pgx connector.
func WithConnectFunc(fn ConnectFunc) Option {
	return func(g *Gateway) { g.connect = fn }
}

// WithBatchSize sets the number of rows per insert batch.
func WithBatchSize(n int) Option {
	return func(g *Gateway) {
		if n > 0 {
			g.batchSize = n
		}
	}
}

// New builds a gateway. The reader is the spatial capability used by
// ImportVector; a nil reader is a configuration error.
func New(params domain.ConnectionParams, reader spatial.Reader, opts ...Option) (*Gateway, error) {
	if reader == nil {
		return nil, domain.PrerequisiteError("new-database-gateway", "no spatial file reader configured")
	}
	g := &Gateway{
		params:    params,
		reader:    reader,
		connect:   PgxConnect,
		batchSize: DefaultBatchSize,
	}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = logging.OrDefault(g.logger).With("component", "postgis", "database", params.Database)
	return g, nil
}

// PgxConnect opens a single pgx connection from params.
func PgxConnect(ctx context.Context, p domain.ConnectionParams) (Conn, error) {
	cfg, err := pgx.ParseConfig("")
	if err != nil {
		return nil, err
	}
	cfg.Host = p.Host
	cfg.Port = uint16(p.Port)
	cfg.Database = p.Database
	cfg.User = p.User
	cfg.Password = p.Password
	cfg.ConnectTimeout = p.Timeout
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	cfg.RuntimeParams["application_name"] = "geopublish"

	conn, err := pgx.ConnectConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Params returns the connection parameters the gateway was built with.
func (g *Gateway) Params() domain.ConnectionParams {
	return g.params
}

// Connect opens the connection and verifies the PostGIS extension is
// installed. Calling Connect on an open gateway is a no-op.
func (g *Gateway) Connect(ctx context.Context) error {
	const op = "connect"
	if g.conn != nil {
		return nil
	}

	conn, err := g.connect(ctx, g.params)
	if err != nil {
		return g.fail(op, domain.ConnectionError(op, "database connection failed", err))
	}

	var hasPostGIS bool
	err = conn.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM pg_extension WHERE extname = 'postgis')`,
	).Scan(&hasPostGIS)
	if err != nil {
		_ = conn.Close(ctx)
		return g.fail(op, domain.ConnectionError(op, "checking installed extensions", err))
	}
	if !hasPostGIS {
		_ = conn.Close(ctx)
		return g.fail(op, domain.PrerequisiteError(op,
			fmt.Sprintf("PostGIS extension is not installed in database %q", g.params.Database)))
	}

	g.conn = conn
	g.logger.Info("database connected", "target", g.params.String())
	return nil
}

// Ping checks the connection is still usable.
func (g *Gateway) Ping(ctx context.Context) error {
	conn, err := g.requireConn("ping")
	if err != nil {
		return err
	}
	if err := conn.Ping(ctx); err != nil {
		return g.fail("ping", domain.ConnectionError("ping", "database unreachable", err))
	}
	return nil
}

// Close releases the connection. It is safe to call more than once.
func (g *Gateway) Close(ctx context.Context) error {
	if g.conn == nil {
		return nil
	}
	err := g.conn.Close(ctx)
	g.conn = nil
	return err
}

func (g *Gateway) requireConn(op string) (Conn, error) {
	if g.conn == nil {
		return nil, g.fail(op, domain.ConnectionError(op, "database not connected", nil))
	}
	return g.conn, nil
}

// fail logs err with the operation name and returns it unchanged.
func (g *Gateway) fail(op string, err error) error {
	g.logger.Error("database operation failed", "op", op, "error", err)
	return err
}

// withTx runs fn in a transaction that is committed when fn succeeds and
// rolled back otherwise.
func (g *Gateway) withTx(ctx context.Context, op string, fn func(pgx.Tx) error) error {
	conn, err := g.requireConn(op)
	if err != nil {
		return err
	}

	tx, err := conn.Begin(ctx)
	if err != nil {
		return g.fail(op, domain.DatabaseError(op, fmt.Errorf("begin transaction: %w", err)))
	}
	defer tx.Rollback(ctx) // No-op if already committed

	if err := fn(tx); err != nil {
		var de *domain.Error
		if !errors.As(err, &de) {
			err = domain.DatabaseError(op, err)
		}
		return g.fail(op, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return g.fail(op, domain.DatabaseError(op, fmt.Errorf("commit: %w", err)))
	}
	return nil
}

func qualified(schema, name string) string {
	return pgx.Identifier{schema, name}.Sanitize()
}

func quote(name string) string {
	return pgx.Identifier{name}.Sanitize()
}
