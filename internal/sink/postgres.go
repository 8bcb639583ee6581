package sink

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ligustah/ccsift/internal/pipeline"
)

// Columns are the table columns written by Postgres, in copy order.
var Columns = []string{"segment", "record_id", "url", "text"}

// DB is the subset of *pgxpool.Pool used by Postgres.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Postgres mirrors units into a table with COPY.
type Postgres struct {
	db    DB
	table pgx.Identifier
}

// NewPostgres returns a sink for table, which may be schema-qualified.
func NewPostgres(db DB, table string) *Postgres {
	return &Postgres{db: db, table: pgx.Identifier(strings.Split(table, "."))}
}

// OpenPostgres connects to dsn and ensures the table exists. The returned
// pool must be closed by the caller.
func OpenPostgres(ctx context.Context, dsn, table string) (*Postgres, *pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("sink: connect: %w", err)
	}
	p := NewPostgres(pool, table)
	if err := p.EnsureTable(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return p, pool, nil
}

// EnsureTable creates the table when it does not exist.
func (p *Postgres) EnsureTable(ctx context.Context) error {
	sql := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id bigserial PRIMARY KEY,
	segment text NOT NULL,
	record_id text NOT NULL,
	url text NOT NULL,
	text text NOT NULL
)`, p.table.Sanitize())
	if _, err := p.db.Exec(ctx, sql); err != nil {
		return fmt.Errorf("sink: create table %s: %w", p.table.Sanitize(), err)
	}
	return nil
}

// CopySegment replaces the rows of segment with the units returned by next,
// which signals the end with io.EOF. The delete and the copy share one
// transaction, so a failed or retried segment never leaves partial rows.
// Units are streamed into COPY as next yields them.
func (p *Postgres) CopySegment(ctx context.Context, segment string, next func() (pipeline.Unit, error)) (int64, error) {
	tx, err := p.db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("sink: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	sql := fmt.Sprintf("DELETE FROM %s WHERE segment = $1", p.table.Sanitize())
	if _, err := tx.Exec(ctx, sql, segment); err != nil {
		return 0, fmt.Errorf("sink: delete segment %s: %w", segment, err)
	}

	src := &unitSource{next: next}
	n, err := tx.CopyFrom(ctx, p.table, Columns, src)
	if src.err != nil {
		return n, src.err
	}
	if err != nil {
		return n, fmt.Errorf("sink: copy into %s: %w", p.table.Sanitize(), err)
	}

	if err := tx.Commit(ctx); err != nil {
		return n, fmt.Errorf("sink: commit segment %s: %w", segment, err)
	}
	return n, nil
}

// unitSource adapts a unit iterator to pgx.CopyFromSource.
type unitSource struct {
	next func() (pipeline.Unit, error)
	cur  pipeline.Unit
	err  error
}

func (s *unitSource) Next() bool {
	u, err := s.next()
	if err != nil {
		if !errors.Is(err, io.EOF) {
			s.err = err
		}
		return false
	}
	s.cur = u
	return true
}

func (s *unitSource) Values() ([]any, error) {
	return []any{s.cur.Segment, s.cur.RecordID, s.cur.URL, s.cur.Text}, nil
}

func (s *unitSource) Err() error { return s.err }
