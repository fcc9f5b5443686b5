package batch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return mr, rdb
}

func TestRedisProgress(t *testing.T) {
	mr, rdb := newRedis(t)
	store := NewRedisProgress(rdb, time.Hour)
	ctx := context.Background()

	st := NewState[string](10)
	st.Progress = 4
	st.Finished = 0.4
	st.Succeeded = 4
	if err := store.Save(ctx, Snapshot("b1", "csv", st)); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, err := store.Get(ctx, "b1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Progress != 4 || got.ItemCount != 10 || got.Kind != "csv" || got.Percent() != 40 {
		t.Errorf("Get() = %+v", got)
	}
	if ttl := mr.TTL(progressKey("b1")); ttl != time.Hour {
		t.Errorf("TTL = %v, want 1h", ttl)
	}

	mr.FastForward(2 * time.Hour)
	if _, err := store.Get(ctx, "b1"); !errors.Is(err, ErrBatchNotFound) {
		t.Errorf("Get() after expiry error = %v, want ErrBatchNotFound", err)
	}
}

func TestRedisProgress_Unavailable(t *testing.T) {
	mr, rdb := newRedis(t)
	store := NewRedisProgress(rdb, 0)
	mr.Close()

	err := store.Save(context.Background(), Progress{ID: "b1"})
	if err == nil || errors.Is(err, ErrBatchNotFound) {
		t.Errorf("Save() error = %v, want a connection error", err)
	}
}

func TestMemoryProgress(t *testing.T) {
	store := NewMemoryProgress()
	ctx := context.Background()

	if _, err := store.Get(ctx, "missing"); !errors.Is(err, ErrBatchNotFound) {
		t.Errorf("Get(missing) error = %v", err)
	}
	if err := store.Save(ctx, Progress{ID: "b1", Done: true}); err != nil {
		t.Fatal(err)
	}
	if got, _ := store.Get(ctx, "b1"); !got.Done {
		t.Errorf("Get() = %+v", got)
	}
}
