package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/egehanasal/apidouble/internal/domain/record"
	"go.uber.org/zap"
)

// journalDoc is the on-disk document: {"entries": [...]}. The same shape is
// used by CLI export/import.
type journalDoc struct {
	Entries []*record.RecordedEntry `json:"entries"`
}

// FileJournal keeps the whole corpus in memory and rewrites the JSON
// document on every mutation. Suitable for development-sized corpora.
type FileJournal struct {
	log  *zap.Logger
	path string

	mu      sync.RWMutex
	entries []*record.RecordedEntry // insertion order
	closed  bool
}

var _ Storage = (*FileJournal)(nil)
var _ Searcher = (*FileJournal)(nil)

// NewFileJournal creates a journal store at path. Call Init before use.
func NewFileJournal(path string, log *zap.Logger) *FileJournal {
	if log == nil {
		log = zap.NewNop()
	}
	return &FileJournal{
		log:  log.Named("filejournal"),
		path: path,
	}
}

// Init creates parent directories, loads an existing document or writes an
// empty one.
func (s *FileJournal) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	if dir := filepath.Dir(s.path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("mkdir %s: %w", dir, err)
		}
	}

	data, err := os.ReadFile(s.path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		s.entries = nil
		if err := s.flushLocked(); err != nil {
			return err
		}
	case err != nil:
		return fmt.Errorf("read journal: %w", err)
	default:
		var doc journalDoc
		if err := json.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("parse journal: %w", err)
		}
		s.entries = doc.Entries
	}

	s.log.Info("journal loaded", zap.String("path", s.path), zap.Int("entries", len(s.entries)))
	return nil
}

// flushLocked rewrites the document; the caller holds the write lock.
func (s *FileJournal) flushLocked() error {
	data, err := json.MarshalIndent(journalDoc{Entries: append([]*record.RecordedEntry{}, s.entries...)}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal journal: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("write journal: %w", err)
	}
	return nil
}

func (s *FileJournal) Save(ctx context.Context, req record.RequestRecord, resp record.ResponseRecord) (*record.RecordedEntry, error) {
	entry := &record.RecordedEntry{
		ID:        GenerateID(),
		Request:   req,
		Response:  resp,
		CreatedAt: time.Now().UnixMilli(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}

	s.entries = append(s.entries, entry)
	if err := s.flushLocked(); err != nil {
		// roll the in-memory view back so it never diverges from disk
		s.entries = s.entries[:len(s.entries)-1]
		return nil, err
	}
	return entry, nil
}

func (s *FileJournal) Find(ctx context.Context, method, path string) (*record.RecordedEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	// scan backwards: within a creation-instant tie the later insert wins
	var best *record.RecordedEntry
	for i := len(s.entries) - 1; i >= 0; i-- {
		e := s.entries[i]
		if e.Request.Method == method && e.Request.Path == path {
			if best == nil || e.CreatedAt > best.CreatedAt {
				best = e
			}
		}
	}
	if best == nil {
		return nil, ErrNotFound
	}
	return best, nil
}

func (s *FileJournal) FindByID(ctx context.Context, id string) (*record.RecordedEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	for _, e := range s.entries {
		if e.ID == id {
			return e, nil
		}
	}
	return nil, ErrNotFound
}

func (s *FileJournal) List(ctx context.Context) ([]*record.RecordedEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	return sortedDesc(s.entries), nil
}

func (s *FileJournal) Delete(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, ErrClosed
	}

	for i, e := range s.entries {
		if e.ID == id {
			removed := s.entries[i]
			s.entries = append(s.entries[:i], s.entries[i+1:]...)
			if err := s.flushLocked(); err != nil {
				s.entries = append(s.entries[:i], append([]*record.RecordedEntry{removed}, s.entries[i:]...)...)
				return false, err
			}
			return true, nil
		}
	}
	return false, nil
}

func (s *FileJournal) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	prev := s.entries
	s.entries = nil
	if err := s.flushLocked(); err != nil {
		s.entries = prev
		return err
	}
	return nil
}

func (s *FileJournal) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, ErrClosed
	}
	return len(s.entries), nil
}

func (s *FileJournal) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *FileJournal) Search(ctx context.Context, method, pathGlob string) ([]*record.RecordedEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	var out []*record.RecordedEntry
	for _, e := range s.entries {
		if method != "" && e.Request.Method != method {
			continue
		}
		if pathGlob != "" && !globMatch(pathGlob, e.Request.Path) {
			continue
		}
		out = append(out, e)
	}
	return sortedDesc(out), nil
}

func (s *FileJournal) Range(ctx context.Context, from, to time.Time) ([]*record.RecordedEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	lo, hi := from.UnixMilli(), to.UnixMilli()
	var out []*record.RecordedEntry
	for _, e := range s.entries {
		if e.CreatedAt >= lo && e.CreatedAt <= hi {
			out = append(out, e)
		}
	}
	return sortedDesc(out), nil
}

// sortedDesc copies entries ordered most-recent first; within a creation
// instant the later insert comes first.
func sortedDesc(entries []*record.RecordedEntry) []*record.RecordedEntry {
	out := make([]*record.RecordedEntry, len(entries))
	for i, e := range entries {
		out[len(entries)-1-i] = e
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt > out[j].CreatedAt
	})
	return out
}

// globMatch matches pattern against s where `*` spans any run of characters.
func globMatch(pattern, s string) bool {
	parts := strings.Split(pattern, "*")
	if len(parts) == 1 {
		return pattern == s
	}

	if !strings.HasPrefix(s, parts[0]) {
		return false
	}
	s = s[len(parts[0]):]

	for _, part := range parts[1 : len(parts)-1] {
		idx := strings.Index(s, part)
		if idx < 0 {
			return false
		}
		s = s[idx+len(part):]
	}

	return strings.HasSuffix(s, parts[len(parts)-1])
}
