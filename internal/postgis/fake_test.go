package postgis

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/JonMunkholm/geopublish/internal/domain"
)

// fakeDB records statements and answers the handful of catalog queries the
// gateway issues.
type fakeDB struct {
	postgis    bool
	tables     map[string]bool // "schema.name"
	listRows   [][]any
	failOn     string
	execs      []string
	batches    [][]*pgx.QueuedQuery
	begins     int
	commits    int
	rollbacks  int
	closed     bool
	connectErr error

	transformErr  error   // fails the ST_Transform check
	transformArgs [][]any // arguments of each ST_Transform check
}

func newFakeDB() *fakeDB {
	return &fakeDB{postgis: true, tables: map[string]bool{}}
}

func (db *fakeDB) connectFunc() ConnectFunc {
	return func(ctx context.Context, p domain.ConnectionParams) (Conn, error) {
		if db.connectErr != nil {
			return nil, db.connectErr
		}
		return &fakeConn{db: db}, nil
	}
}

func (db *fakeDB) exec(sql string) (pgconn.CommandTag, error) {
	db.execs = append(db.execs, sql)
	if db.failOn != "" && strings.Contains(sql, db.failOn) {
		return pgconn.CommandTag{}, errors.New("simulated failure: " + db.failOn)
	}
	return pgconn.NewCommandTag("OK"), nil
}

func (db *fakeDB) queryRow(sql string, args ...any) pgx.Row {
	switch {
	case strings.Contains(sql, "ST_Transform"):
		db.transformArgs = append(db.transformArgs, args)
		if db.transformErr != nil {
			return fakeRow{err: db.transformErr}
		}
		return fakeRow{vals: []any{int32(0)}}
	case strings.Contains(sql, "pg_extension"):
		return fakeRow{vals: []any{db.postgis}}
	case strings.Contains(sql, "information_schema.tables"), strings.Contains(sql, "pg_class"):
		key := fmt.Sprintf("%v.%v", args[0], args[1])
		return fakeRow{vals: []any{db.tables[key]}}
	}
	return fakeRow{err: fmt.Errorf("unexpected query: %s", sql)}
}

func (db *fakeDB) hasExec(substr string) bool {
	for _, s := range db.execs {
		if strings.Contains(s, substr) {
			return true
		}
	}
	return false
}

type fakeConn struct{ db *fakeDB }

func (c *fakeConn) Begin(ctx context.Context) (pgx.Tx, error) {
	c.db.begins++
	return &fakeTx{db: c.db}, nil
}

func (c *fakeConn) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return c.db.exec(sql)
}

func (c *fakeConn) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return &fakeRows{rows: c.db.listRows, idx: -1}, nil
}

func (c *fakeConn) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return c.db.queryRow(sql, args...)
}

func (c *fakeConn) Ping(ctx context.Context) error { return nil }

func (c *fakeConn) Close(ctx context.Context) error {
	c.db.closed = true
	return nil
}

// fakeTx implements the pgx.Tx methods the gateway calls; the embedded
// interface panics on anything else.
type fakeTx struct {
	pgx.Tx
	db   *fakeDB
	done bool
}

func (t *fakeTx) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return t.db.exec(sql)
}

func (t *fakeTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return t.db.queryRow(sql, args...)
}

func (t *fakeTx) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults {
	t.db.batches = append(t.db.batches, b.QueuedQueries)
	return &fakeBatchResults{db: t.db, n: b.Len()}
}

func (t *fakeTx) Commit(ctx context.Context) error {
	t.done = true
	t.db.commits++
	return nil
}

func (t *fakeTx) Rollback(ctx context.Context) error {
	if t.done {
		return pgx.ErrTxClosed
	}
	t.done = true
	t.db.rollbacks++
	return nil
}

type fakeBatchResults struct {
	pgx.BatchResults
	db *fakeDB
	n  int
}

func (b *fakeBatchResults) Exec() (pgconn.CommandTag, error) {
	if b.n == 0 {
		return pgconn.CommandTag{}, errors.New("no more results")
	}
	b.n--
	if b.db.failOn == "INSERT" {
		return pgconn.CommandTag{}, errors.New("simulated insert failure")
	}
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func (b *fakeBatchResults) Close() error { return nil }

type fakeRow struct {
	vals []any
	err  error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	return assign(r.vals, dest)
}

type fakeRows struct {
	pgx.Rows
	rows [][]any
	idx  int
}

func (r *fakeRows) Next() bool {
	r.idx++
	return r.idx < len(r.rows)
}

func (r *fakeRows) Scan(dest ...any) error { return assign(r.rows[r.idx], dest) }
func (r *fakeRows) Err() error             { return nil }
func (r *fakeRows) Close()                 {}

func assign(vals []any, dest []any) error {
	if len(vals) != len(dest) {
		return fmt.Errorf("scan: %d values into %d targets", len(vals), len(dest))
	}
	for i, d := range dest {
		switch p := d.(type) {
		case *bool:
			*p = vals[i].(bool)
		case *string:
			*p = vals[i].(string)
		case *int32:
			*p = vals[i].(int32)
		case *int64:
			*p = vals[i].(int64)
		default:
			return fmt.Errorf("scan: unsupported target %T", d)
		}
	}
	return nil
}
