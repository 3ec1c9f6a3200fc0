package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/egehanasal/apidouble/internal/domain/record"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	entryKeyPrefix = "apidouble:entry:" // → entry document; JSON(RecordedEntry)
	entryIndexKey  = "apidouble:entries" // ZSET of ids scored by created_at
)

// RedisStore keeps entries as JSON documents under a key prefix with a ZSET
// index ordered by creation instant.
type RedisStore struct {
	log    *zap.Logger
	client *redis.Client

	mu     sync.RWMutex
	closed bool
}

var _ Storage = (*RedisStore)(nil)
var _ Searcher = (*RedisStore)(nil)

// NewRedisStore creates a redis-backed store. Call Init before use.
func NewRedisStore(addr string, db int, log *zap.Logger) *RedisStore {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("redisstore")

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 5,
		MaxRetries:   3,
	})

	return &RedisStore{log: log, client: client}
}

func keyFor(id string) string { return entryKeyPrefix + id }

// Init pings the server and logs connection diagnostics.
func (s *RedisStore) Init(ctx context.Context) error {
	if err := s.guard(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()

	opts := s.client.Options()
	start := time.Now()
	err := s.client.Ping(ctx).Err()
	elapsed := time.Since(start)
	if err != nil {
		s.log.Warn("connection failed", zap.String("addr", opts.Addr), zap.Int("db", opts.DB),
			zap.Error(err), zap.Duration("ping_rtt", elapsed))
		return fmt.Errorf("ping: %w", err)
	}

	s.log.Info("connection established", zap.String("addr", opts.Addr), zap.Int("db", opts.DB),
		zap.Duration("ping_rtt", elapsed))
	return nil
}

func (s *RedisStore) guard() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

func (s *RedisStore) Save(ctx context.Context, req record.RequestRecord, resp record.ResponseRecord) (*record.RecordedEntry, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}

	entry := &record.RecordedEntry{
		ID:        GenerateID(),
		Request:   req,
		Response:  resp,
		CreatedAt: time.Now().UnixMilli(),
	}

	payload, err := json.Marshal(entry)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, keyFor(entry.ID), payload, 0)
	pipe.ZAdd(ctx, entryIndexKey, redis.Z{Score: float64(entry.CreatedAt), Member: entry.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("set+zadd: %w", err)
	}
	return entry, nil
}

func (s *RedisStore) Find(ctx context.Context, method, path string) (*record.RecordedEntry, error) {
	entries, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if e.Request.Method == method && e.Request.Path == path {
			return e, nil
		}
	}
	return nil, ErrNotFound
}

func (s *RedisStore) FindByID(ctx context.Context, id string) (*record.RecordedEntry, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}

	value, err := s.client.Get(ctx, keyFor(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get: %w", err)
	}

	var entry record.RecordedEntry
	if err := json.Unmarshal(value, &entry); err != nil {
		return nil, fmt.Errorf("unmarshal: %w", err)
	}
	return &entry, nil
}

// List retrieves all entries using the ZSET index, most recent first.
// Same-score members (created within one millisecond) come back in reverse
// lexicographic id order, which follows the random id suffix rather than
// creation order.
func (s *RedisStore) List(ctx context.Context) ([]*record.RecordedEntry, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}

	ids, err := s.client.ZRevRange(ctx, entryIndexKey, 0, -1).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("zrevrange: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, keyFor(id))
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("mget: %w", err)
	}

	out := make([]*record.RecordedEntry, 0, len(vals))
	for _, val := range vals {
		str, ok := val.(string)
		if !ok {
			continue // entry deleted between ZREVRANGE and MGET
		}
		var entry record.RecordedEntry
		if err := json.Unmarshal([]byte(str), &entry); err != nil {
			s.log.Warn("skipping unreadable entry", zap.Error(err))
			continue
		}
		out = append(out, &entry)
	}
	return out, nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) (bool, error) {
	if err := s.guard(); err != nil {
		return false, err
	}

	pipe := s.client.TxPipeline()
	del := pipe.Del(ctx, keyFor(id))
	pipe.ZRem(ctx, entryIndexKey, id)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("del+zrem: %w", err)
	}
	return del.Val() > 0, nil
}

func (s *RedisStore) Clear(ctx context.Context) error {
	if err := s.guard(); err != nil {
		return err
	}

	ids, err := s.client.ZRange(ctx, entryIndexKey, 0, -1).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("zrange: %w", err)
	}

	pipe := s.client.TxPipeline()
	for _, id := range ids {
		pipe.Del(ctx, keyFor(id))
	}
	pipe.Del(ctx, entryIndexKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("clear: %w", err)
	}
	return nil
}

func (s *RedisStore) Count(ctx context.Context) (int, error) {
	if err := s.guard(); err != nil {
		return 0, err
	}

	n, err := s.client.ZCard(ctx, entryIndexKey).Result()
	if err != nil {
		return 0, fmt.Errorf("zcard: %w", err)
	}
	return int(n), nil
}

func (s *RedisStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.client.Close()
}

func (s *RedisStore) Search(ctx context.Context, method, pathGlob string) ([]*record.RecordedEntry, error) {
	entries, err := s.List(ctx)
	if err != nil {
		return nil, err
	}

	var out []*record.RecordedEntry
	for _, e := range entries {
		if method != "" && e.Request.Method != method {
			continue
		}
		if pathGlob != "" && !globMatch(pathGlob, e.Request.Path) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *RedisStore) Range(ctx context.Context, from, to time.Time) ([]*record.RecordedEntry, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}

	ids, err := s.client.ZRevRangeByScore(ctx, entryIndexKey, &redis.ZRangeBy{
		Min: fmt.Sprintf("%d", from.UnixMilli()),
		Max: fmt.Sprintf("%d", to.UnixMilli()),
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("zrevrangebyscore: %w", err)
	}

	var out []*record.RecordedEntry
	for _, id := range ids {
		entry, err := s.FindByID(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, nil
}
