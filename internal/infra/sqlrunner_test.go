package infra

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"

	"tryon/internal/sqlinline"
)

type recordingDB struct {
	queries []string
	row     pgx.Row
}

func (d *recordingDB) Exec(_ context.Context, query string, _ ...any) (pgconn.CommandTag, error) {
	d.queries = append(d.queries, query)
	return pgconn.NewCommandTag("CREATE TABLE"), nil
}

func (d *recordingDB) QueryRow(_ context.Context, query string, _ ...any) pgx.Row {
	d.queries = append(d.queries, query)
	return d.row
}

type scanErr struct{ err error }

func (s scanErr) Scan(...any) error { return s.err }

func TestSQLRunnerStripsMarker(t *testing.T) {
	db := &recordingDB{}
	runner := NewSQLRunner(db, zerolog.Nop())

	if err := EnsureQuotaSchema(context.Background(), runner); err != nil {
		t.Fatalf("EnsureQuotaSchema: %v", err)
	}
	if len(db.queries) != 1 {
		t.Fatalf("expected 1 query, got %d", len(db.queries))
	}
	if strings.Contains(db.queries[0], "--sql") {
		t.Fatalf("marker leaked into query: %q", db.queries[0])
	}
	if !strings.HasPrefix(db.queries[0], "create table") {
		t.Fatalf("unexpected query: %q", db.queries[0])
	}
}

func TestSQLRunnerRejectsUnmarkedQueries(t *testing.T) {
	db := &recordingDB{}
	runner := NewSQLRunner(db, zerolog.Nop())

	if _, err := runner.Exec(context.Background(), "select 1"); !errors.Is(err, ErrMissingMarker) {
		t.Fatalf("Exec error = %v, want ErrMissingMarker", err)
	}
	var v int
	if err := runner.QueryRow(context.Background(), "select 1").Scan(&v); !errors.Is(err, ErrMissingMarker) {
		t.Fatalf("QueryRow error = %v, want ErrMissingMarker", err)
	}
	if len(db.queries) != 0 {
		t.Fatalf("unmarked queries must not reach the database")
	}
}

func TestSQLRunnerPassesNoRowsThrough(t *testing.T) {
	db := &recordingDB{row: scanErr{err: pgx.ErrNoRows}}
	runner := NewSQLRunner(db, zerolog.Nop())

	var v int
	err := runner.QueryRow(context.Background(), sqlinline.QSelectQuotaWindow, "k").Scan(&v)
	if !errors.Is(err, pgx.ErrNoRows) {
		t.Fatalf("Scan error = %v, want pgx.ErrNoRows", err)
	}
}

func TestExtractMarker(t *testing.T) {
	marker, body, err := extractMarker(sqlinline.QConsumeQuota)
	if err != nil {
		t.Fatalf("extractMarker: %v", err)
	}
	if marker != "0c9e4d7a-5f21-4b3c-8e6a-1d2f3a4b5c6d" {
		t.Fatalf("marker = %q", marker)
	}
	if !strings.HasPrefix(body, "insert into rate_limits") {
		t.Fatalf("body = %q", body)
	}
	if _, _, err := extractMarker("--sql not-a-uuid\nselect 1"); err == nil {
		t.Fatalf("expected error for malformed marker")
	}
}
