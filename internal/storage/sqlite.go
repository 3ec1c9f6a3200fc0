package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/egehanasal/apidouble/internal/domain/record"
	"go.uber.org/zap"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS entries (
	id            TEXT PRIMARY KEY,
	method        TEXT NOT NULL,
	path          TEXT NOT NULL,
	url           TEXT NOT NULL,
	query         TEXT,
	headers       TEXT,
	body          TEXT,
	req_timestamp INTEGER NOT NULL,
	status        INTEGER NOT NULL,
	resp_headers  TEXT,
	resp_body     TEXT,
	resp_timestamp INTEGER NOT NULL,
	created_at    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_entries_method_path ON entries (method, path);
CREATE INDEX IF NOT EXISTS idx_entries_created_at ON entries (created_at);
`

// SQLite is the embedded relational backing. One table, two indexes, WAL
// enabled for concurrent read safety.
type SQLite struct {
	log  *zap.Logger
	path string

	mu     sync.RWMutex
	db     *sql.DB
	closed bool
}

var _ Storage = (*SQLite)(nil)
var _ Searcher = (*SQLite)(nil)

// NewSQLite creates a SQLite store at path. Call Init before use.
func NewSQLite(path string, log *zap.Logger) *SQLite {
	if log == nil {
		log = zap.NewNop()
	}
	return &SQLite{
		log:  log.Named("sqlite"),
		path: path,
	}
}

// Init opens the database with WAL mode and creates the schema if absent.
func (s *SQLite) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.db != nil {
		return nil
	}

	if dir := filepath.Dir(s.path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("mkdir %s: %w", dir, err)
		}
	}

	dsn := s.path + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return fmt.Errorf("init schema: %w", err)
	}

	s.db = db
	s.log.Info("database opened", zap.String("path", s.path))
	return nil
}

// handle returns the open db or ErrClosed. Operations after Close must fail
// rather than silently reopen.
func (s *SQLite) handle() (*sql.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	if s.db == nil {
		return nil, errors.New("storage not initialized")
	}
	return s.db, nil
}

func (s *SQLite) Save(ctx context.Context, req record.RequestRecord, resp record.ResponseRecord) (*record.RecordedEntry, error) {
	db, err := s.handle()
	if err != nil {
		return nil, err
	}

	entry := &record.RecordedEntry{
		ID:        GenerateID(),
		Request:   req,
		Response:  resp,
		CreatedAt: time.Now().UnixMilli(),
	}

	query, err := encodeJSONColumn(req.Query)
	if err != nil {
		return nil, err
	}
	headers, err := encodeJSONColumn(req.Headers)
	if err != nil {
		return nil, err
	}
	body, err := encodeBodyColumn(req.Body)
	if err != nil {
		return nil, err
	}
	respHeaders, err := encodeJSONColumn(resp.Headers)
	if err != nil {
		return nil, err
	}
	respBody, err := encodeBodyColumn(resp.Body)
	if err != nil {
		return nil, err
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO entries (id, method, path, url, query, headers, body, req_timestamp,
			status, resp_headers, resp_body, resp_timestamp, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, req.Method, req.Path, req.URL, query, headers, body, req.Timestamp,
		resp.Status, respHeaders, respBody, resp.Timestamp, entry.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert entry: %w", err)
	}
	return entry, nil
}

const entryColumns = `id, method, path, url, query, headers, body, req_timestamp,
	status, resp_headers, resp_body, resp_timestamp, created_at`

func (s *SQLite) Find(ctx context.Context, method, path string) (*record.RecordedEntry, error) {
	db, err := s.handle()
	if err != nil {
		return nil, err
	}

	row := db.QueryRowContext(ctx, `
		SELECT `+entryColumns+` FROM entries
		WHERE method = ? AND path = ?
		ORDER BY created_at DESC, rowid DESC LIMIT 1`, method, path)
	return scanEntry(row)
}

func (s *SQLite) FindByID(ctx context.Context, id string) (*record.RecordedEntry, error) {
	db, err := s.handle()
	if err != nil {
		return nil, err
	}

	row := db.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM entries WHERE id = ?`, id)
	return scanEntry(row)
}

func (s *SQLite) List(ctx context.Context) ([]*record.RecordedEntry, error) {
	return s.query(ctx, `SELECT `+entryColumns+` FROM entries ORDER BY created_at DESC, rowid DESC`)
}

func (s *SQLite) Delete(ctx context.Context, id string) (bool, error) {
	db, err := s.handle()
	if err != nil {
		return false, err
	}

	res, err := db.ExecContext(ctx, `DELETE FROM entries WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete entry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

func (s *SQLite) Clear(ctx context.Context) error {
	db, err := s.handle()
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, `DELETE FROM entries`); err != nil {
		return fmt.Errorf("clear entries: %w", err)
	}
	return nil
}

func (s *SQLite) Count(ctx context.Context) (int, error) {
	db, err := s.handle()
	if err != nil {
		return 0, err
	}
	var n int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM entries`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count entries: %w", err)
	}
	return n, nil
}

func (s *SQLite) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.db == nil {
		return nil
	}
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

func (s *SQLite) Search(ctx context.Context, method, pathGlob string) ([]*record.RecordedEntry, error) {
	var (
		conds []string
		args  []any
	)
	if method != "" {
		conds = append(conds, "method = ?")
		args = append(args, method)
	}
	if pathGlob != "" {
		// sqlite GLOB uses the same `*` wildcard as the contract
		conds = append(conds, "path GLOB ?")
		args = append(args, pathGlob)
	}

	q := `SELECT ` + entryColumns + ` FROM entries`
	if len(conds) > 0 {
		q += ` WHERE ` + strings.Join(conds, " AND ")
	}
	q += ` ORDER BY created_at DESC, rowid DESC`
	return s.query(ctx, q, args...)
}

func (s *SQLite) Range(ctx context.Context, from, to time.Time) ([]*record.RecordedEntry, error) {
	return s.query(ctx, `
		SELECT `+entryColumns+` FROM entries
		WHERE created_at BETWEEN ? AND ?
		ORDER BY created_at DESC, rowid DESC`,
		from.UnixMilli(), to.UnixMilli())
}

func (s *SQLite) query(ctx context.Context, q string, args ...any) ([]*record.RecordedEntry, error) {
	db, err := s.handle()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close()

	var out []*record.RecordedEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scan entries: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*record.RecordedEntry, error) {
	var (
		e                     record.RecordedEntry
		query, headers, body  sql.NullString
		respHeaders, respBody sql.NullString
	)
	err := row.Scan(&e.ID, &e.Request.Method, &e.Request.Path, &e.Request.URL,
		&query, &headers, &body, &e.Request.Timestamp,
		&e.Response.Status, &respHeaders, &respBody, &e.Response.Timestamp,
		&e.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan entry: %w", err)
	}

	if err := decodeJSONColumn(query, &e.Request.Query); err != nil {
		return nil, err
	}
	if err := decodeJSONColumn(headers, &e.Request.Headers); err != nil {
		return nil, err
	}
	if err := decodeBodyColumn(body, &e.Request.Body); err != nil {
		return nil, err
	}
	if err := decodeJSONColumn(respHeaders, &e.Response.Headers); err != nil {
		return nil, err
	}
	if err := decodeBodyColumn(respBody, &e.Response.Body); err != nil {
		return nil, err
	}
	return &e, nil
}

func encodeJSONColumn(m map[string]string) (sql.NullString, error) {
	if len(m) == 0 {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("encode column: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func decodeJSONColumn(col sql.NullString, dst *map[string]string) error {
	if !col.Valid {
		return nil
	}
	if err := json.Unmarshal([]byte(col.String), dst); err != nil {
		return fmt.Errorf("decode column: %w", err)
	}
	return nil
}

func encodeBodyColumn(b record.Body) (sql.NullString, error) {
	if b.IsAbsent() {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(b)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("encode body: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func decodeBodyColumn(col sql.NullString, dst *record.Body) error {
	if !col.Valid {
		return nil
	}
	if err := json.Unmarshal([]byte(col.String), dst); err != nil {
		return fmt.Errorf("decode body: %w", err)
	}
	return nil
}
