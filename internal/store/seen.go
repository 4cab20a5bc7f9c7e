// Package store persists the per-kind seen-event key sets so a process
// restart does not re-deliver events already shown.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/oddyssey/stream/internal/event"
)

// SeenStore is plain key-value storage for dedupe key sets, keyed per
// event kind. Implementations must tolerate missing keys (empty set).
type SeenStore interface {
	Load(kind event.Kind) ([]string, error)
	Save(kind event.Kind, keys []string) error
}

// storageKey mirrors the wire-side naming: "seen_events_{kind}".
func storageKey(kind event.Kind) string {
	return "seen_events_" + string(kind)
}

// MemoryStore is an in-process SeenStore, used in tests and as the
// fallback when no durable backend is configured.
type MemoryStore struct {
	mu   sync.Mutex
	sets map[string][]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sets: make(map[string][]string)}
}

func (s *MemoryStore) Load(kind event.Kind) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := s.sets[storageKey(kind)]
	out := make([]string, len(keys))
	copy(out, keys)
	return out, nil
}

func (s *MemoryStore) Save(kind event.Kind, keys []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]string, len(keys))
	copy(cp, keys)
	s.sets[storageKey(kind)] = cp
	return nil
}

// FileStore persists each kind's set as a JSON file under dir. This is
// the default durable backend.
type FileStore struct {
	mu  sync.Mutex
	dir string
}

func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("seen store dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(kind event.Kind) string {
	return filepath.Join(s.dir, storageKey(kind)+".json")
}

func (s *FileStore) Load(kind event.Kind) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := os.ReadFile(s.path(kind))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read seen set: %w", err)
	}

	var keys []string
	if err := json.Unmarshal(raw, &keys); err != nil {
		// A corrupt set is not worth failing startup over; start fresh.
		return nil, nil
	}
	return keys, nil
}

func (s *FileStore) Save(kind event.Kind, keys []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := json.Marshal(keys)
	if err != nil {
		return fmt.Errorf("marshal seen set: %w", err)
	}

	tmp := s.path(kind) + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("write seen set: %w", err)
	}
	if err := os.Rename(tmp, s.path(kind)); err != nil {
		return fmt.Errorf("rename seen set: %w", err)
	}
	return nil
}

// RedisStore keeps seen sets in redis so multiple processes share one
// dedupe horizon.
type RedisStore struct {
	client *redis.Client
	ctx    context.Context
}

func NewRedisStore(url string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis url: %w", err)
	}
	return &RedisStore{client: redis.NewClient(opts), ctx: context.Background()}, nil
}

func (s *RedisStore) Load(kind event.Kind) ([]string, error) {
	raw, err := s.client.Get(s.ctx, storageKey(kind)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var keys []string
	if err := json.Unmarshal([]byte(raw), &keys); err != nil {
		return nil, nil
	}
	return keys, nil
}

func (s *RedisStore) Save(kind event.Kind, keys []string) error {
	raw, err := json.Marshal(keys)
	if err != nil {
		return fmt.Errorf("marshal seen set: %w", err)
	}
	if err := s.client.Set(s.ctx, storageKey(kind), raw, 0).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
