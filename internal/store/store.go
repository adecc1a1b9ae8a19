// Package store persists Stories, versioned Titles and Contents, and Reviews
// in SQLite with referential integrity, atomicity, and durability. All access
// goes through the typed repositories; no other package issues query text.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	pqerrors "github.com/Nomoos/PrismQ-sub002/internal/errors"
	"github.com/Nomoos/PrismQ-sub002/internal/transition"
)

// querier is satisfied by both *sql.DB and *sql.Tx so repositories can run
// inside or outside a unit of work.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store owns the database handle and exposes the repositories.
type Store struct {
	db        *sql.DB
	validator *transition.Validator

	Stories  *StoryRepo
	Titles   *ArtifactRepo
	Contents *ArtifactRepo
	Reviews  *ReviewRepo
}

// Open opens (or creates) the artifact store at dbPath. Use ":memory:" for an
// in-memory database. The transition validator guards every state change.
func Open(dbPath string, validator *transition.Validator) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", dbPath)
	if dbPath == ":memory:" {
		dsn = "file::memory:?_pragma=foreign_keys(1)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, pqerrors.Wrap(err, pqerrors.KindStoreFatal, "open sqlite database")
	}

	// SQLite is single-writer; one pooled connection serialises access and
	// keeps in-memory databases coherent across calls.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, validator: validator}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, pqerrors.Wrap(err, pqerrors.KindStoreFatal, "initialize schema")
	}

	s.Stories = &StoryRepo{q: db, validator: validator}
	s.Titles = &ArtifactRepo{q: db, table: "title"}
	s.Contents = &ArtifactRepo{q: db, table: "content"}
	s.Reviews = &ReviewRepo{q: db}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// UnitOfWork exposes the repositories bound to a single transaction. Writes
// through it become visible all-or-nothing at commit.
type UnitOfWork struct {
	Stories  *StoryRepo
	Titles   *ArtifactRepo
	Contents *ArtifactRepo
	Reviews  *ReviewRepo
}

// WithUnitOfWork runs fn inside one transaction. If fn returns an error the
// transaction rolls back and no partial writes remain visible.
func (s *Store) WithUnitOfWork(ctx context.Context, fn func(uow *UnitOfWork) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classify(err, "begin transaction")
	}

	uow := &UnitOfWork{
		Stories:  &StoryRepo{q: tx, validator: s.validator},
		Titles:   &ArtifactRepo{q: tx, table: "title"},
		Contents: &ArtifactRepo{q: tx, table: "content"},
		Reviews:  &ReviewRepo{q: tx},
	}

	if err := fn(uow); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return classify(err, "commit transaction")
	}
	return nil
}

// now returns the store's canonical timestamp: UTC, sub-second resolution.
func now() time.Time {
	return time.Now().UTC()
}

const timeLayout = time.RFC3339Nano

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t, nil
}

// classify maps driver errors onto pipeline error kinds. SQLite reports
// constraint and contention failures only through the error text, so the
// mapping is string-based.
func classify(err error, op string) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "UNIQUE constraint failed"):
		return pqerrors.Wrap(err, pqerrors.KindVersionConflict, op)
	case strings.Contains(msg, "CHECK constraint failed"):
		return pqerrors.Wrap(err, pqerrors.KindInvalidScore, op)
	case strings.Contains(msg, "database is locked"),
		strings.Contains(msg, "SQLITE_BUSY"),
		strings.Contains(msg, "busy"):
		return pqerrors.WrapRetryable(err, pqerrors.KindStoreTransient, op)
	default:
		return pqerrors.Wrap(err, pqerrors.KindStoreFatal, op)
	}
}
