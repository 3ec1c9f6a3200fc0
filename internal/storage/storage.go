// Package storage persists recorded request/response pairs. Three backings
// share one contract: a JSON file journal, an embedded SQLite database, and
// a Redis keyspace. Every operation is its own transaction and is safe under
// concurrent callers.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/egehanasal/apidouble/internal/domain/record"
	"go.uber.org/zap"
)

var (
	// ErrNotFound reports a lookup miss.
	ErrNotFound = errors.New("entry not found")
	// ErrClosed reports an operation against a closed store.
	ErrClosed = errors.New("storage is closed")
)

// Storage is the contract both replay lookup and record-on-forward consume.
type Storage interface {
	// Init prepares the backing: directories, journal document, or schema.
	Init(ctx context.Context) error

	// Save assigns a fresh id, stamps created_at and persists atomically.
	Save(ctx context.Context, req record.RequestRecord, resp record.ResponseRecord) (*record.RecordedEntry, error)

	// Find returns the most recently created entry with identical method
	// and path, or ErrNotFound.
	Find(ctx context.Context, method, path string) (*record.RecordedEntry, error)

	// FindByID returns the entry with the given id, or ErrNotFound.
	FindByID(ctx context.Context, id string) (*record.RecordedEntry, error)

	// List returns all entries, most recently created first.
	List(ctx context.Context) ([]*record.RecordedEntry, error)

	// Delete removes one entry; false when the id is unknown.
	Delete(ctx context.Context, id string) (bool, error)

	// Clear removes every entry.
	Clear(ctx context.Context) error

	// Count returns the number of persisted entries.
	Count(ctx context.Context) (int, error)

	// Close releases the underlying handle. Operations after Close fail
	// with ErrClosed; they never silently reopen.
	Close() error
}

// Searcher is the optional query surface some backings provide. The request
// engine never depends on it; admin endpoints feature-detect it.
type Searcher interface {
	// Search filters by exact method (empty = any) and a path glob where
	// `*` is the wildcard.
	Search(ctx context.Context, method, pathGlob string) ([]*record.RecordedEntry, error)

	// Range returns entries created within [from, to].
	Range(ctx context.Context, from, to time.Time) ([]*record.RecordedEntry, error)
}

// Options selects and configures a backing.
type Options struct {
	// Type is one of "lowdb" (file journal), "sqlite", "redis".
	Type string
	// Path is the journal or database file path.
	Path string
	// Addr is the redis address (host:port).
	Addr string
	// DB is the redis logical database.
	DB int
}

// New constructs the backing selected by opts. The store still needs Init.
func New(opts Options, log *zap.Logger) (Storage, error) {
	if log == nil {
		log = zap.NewNop()
	}

	switch opts.Type {
	case "", "lowdb", "file":
		return NewFileJournal(opts.Path, log), nil
	case "sqlite":
		return NewSQLite(opts.Path, log), nil
	case "redis":
		return NewRedisStore(opts.Addr, opts.DB, log), nil
	default:
		return nil, fmt.Errorf("unknown storage type %q", opts.Type)
	}
}
