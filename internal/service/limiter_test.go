package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestRunLimiter_AcquireRelease(t *testing.T) {
	l := NewRunLimiter(2, time.Second)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := l.Acquire(ctx); err != nil {
			t.Fatalf("Acquire() #%d error = %v", i+1, err)
		}
	}
	if st := l.Status(); st.Active != 2 || st.Available != 0 || st.MaxConcurrent != 2 {
		t.Errorf("Status() = %+v", st)
	}
	if l.TryAcquire() {
		t.Error("TryAcquire() = true with no free slot")
	}

	l.Release()
	l.Release()
	if got := l.ActiveCount(); got != 0 {
		t.Errorf("ActiveCount() = %d, want 0", got)
	}
}

func TestRunLimiter_TimesOut(t *testing.T) {
	l := NewRunLimiter(1, 50*time.Millisecond)
	ctx := context.Background()
	if err := l.Acquire(ctx); err != nil {
		t.Fatal(err)
	}
	defer l.Release()

	if err := l.Acquire(ctx); !errors.Is(err, ErrTooManyRuns) {
		t.Errorf("Acquire() error = %v, want ErrTooManyRuns", err)
	}
}

func TestRunLimiter_ContextCanceled(t *testing.T) {
	l := NewRunLimiter(1, time.Minute)
	if err := l.Acquire(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer l.Release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := l.Acquire(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Acquire() error = %v, want context.Canceled", err)
	}
}

func TestRunLimiter_Defaults(t *testing.T) {
	l := NewRunLimiter(0, 0)
	if got := l.Status().MaxConcurrent; got != DefaultMaxConcurrentRuns {
		t.Errorf("MaxConcurrent = %d, want %d", got, DefaultMaxConcurrentRuns)
	}
}

func TestRunLimiter_WaitForDrain(t *testing.T) {
	l := NewRunLimiter(3, time.Second)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		if err := l.Acquire(ctx); err != nil {
			t.Fatal(err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			time.Sleep(20 * time.Millisecond)
			l.Release()
		}()
	}

	drainCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if err := l.WaitForDrain(drainCtx); err != nil {
		t.Errorf("WaitForDrain() error = %v", err)
	}
	wg.Wait()
}
