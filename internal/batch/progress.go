package batch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Progress is a point-in-time snapshot of a run, used for status polling.
type Progress struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Progress  int       `json:"progress"`
	ItemCount int       `json:"item_count"`
	Finished  float64   `json:"finished"`
	Succeeded int       `json:"succeeded"`
	Failed    int       `json:"failed"`
	Done      bool      `json:"done"`
	Error     string    `json:"error,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Percent returns the completion as a whole percentage.
func (p Progress) Percent() int {
	return int(p.Finished * 100)
}

// Snapshot returns the progress of st under the given batch id.
func Snapshot[R any](id, kind string, st *State[R]) Progress {
	return Progress{
		ID:        id,
		Kind:      kind,
		Progress:  st.Progress,
		ItemCount: st.ItemCount,
		Finished:  st.Finished,
		Succeeded: st.Succeeded,
		Failed:    st.Failed,
		Done:      st.Done,
		Error:     st.LastError,
		UpdatedAt: time.Now().UTC(),
	}
}

// ProgressStore records run snapshots.
type ProgressStore interface {
	Save(ctx context.Context, p Progress) error
	Get(ctx context.Context, id string) (Progress, error)
}

// DefaultProgressTTL is how long a snapshot is kept after its last update.
const DefaultProgressTTL = 24 * time.Hour

const progressKeyPrefix = "activism:batch:progress:"

// RedisProgress stores snapshots as JSON strings in redis.
type RedisProgress struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisProgress creates a redis-backed store. A non-positive ttl uses
// DefaultProgressTTL.
func NewRedisProgress(rdb *redis.Client, ttl time.Duration) *RedisProgress {
	if ttl <= 0 {
		ttl = DefaultProgressTTL
	}
	return &RedisProgress{rdb: rdb, ttl: ttl}
}

func progressKey(id string) string {
	return progressKeyPrefix + id
}

func (s *RedisProgress) Save(ctx context.Context, p Progress) error {
	b, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode progress: %w", err)
	}
	if err := s.rdb.Set(ctx, progressKey(p.ID), b, s.ttl).Err(); err != nil {
		return fmt.Errorf("save progress %s: %w", p.ID, err)
	}
	return nil
}

func (s *RedisProgress) Get(ctx context.Context, id string) (Progress, error) {
	b, err := s.rdb.Get(ctx, progressKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Progress{}, fmt.Errorf("%s: %w", id, ErrBatchNotFound)
	}
	if err != nil {
		return Progress{}, fmt.Errorf("get progress %s: %w", id, err)
	}
	var p Progress
	if err := json.Unmarshal(b, &p); err != nil {
		return Progress{}, fmt.Errorf("decode progress %s: %w", id, err)
	}
	return p, nil
}

// MemoryProgress keeps snapshots in process memory.
type MemoryProgress struct {
	mu   sync.RWMutex
	runs map[string]Progress
}

// NewMemoryProgress creates an empty in-memory store.
func NewMemoryProgress() *MemoryProgress {
	return &MemoryProgress{runs: make(map[string]Progress)}
}

func (s *MemoryProgress) Save(_ context.Context, p Progress) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[p.ID] = p
	return nil
}

func (s *MemoryProgress) Get(_ context.Context, id string) (Progress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.runs[id]
	if !ok {
		return Progress{}, fmt.Errorf("%s: %w", id, ErrBatchNotFound)
	}
	return p, nil
}
