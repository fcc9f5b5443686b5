package batch

import (
	"context"
	"errors"
	"strconv"
	"testing"
)

// sliceParser serves items from a slice. count overrides the reported item
// count when non-negative.
type sliceParser struct {
	items []string
	size  int
	count int
	fail  map[string]bool
	calls int
}

func newSliceParser(n, size int) *sliceParser {
	items := make([]string, n)
	for i := range items {
		items[i] = "item-" + strconv.Itoa(i)
	}
	return &sliceParser{items: items, size: size, count: -1}
}

func (p *sliceParser) ItemCount() int {
	if p.count >= 0 {
		return p.count
	}
	return len(p.items)
}

func (p *sliceParser) BatchSize() int { return p.size }

func (p *sliceParser) NextBatch(_ context.Context, position int) ([]string, error) {
	p.calls++
	if position >= len(p.items) {
		return nil, nil
	}
	end := position + p.size
	if end > len(p.items) {
		end = len(p.items)
	}
	return p.items[position:end], nil
}

func (p *sliceParser) ProcessItem(_ context.Context, item string, sandbox map[string]string) (string, error) {
	if p.fail[item] {
		return "", errors.New("cannot process " + item)
	}
	sandbox["last"] = item
	return "id-" + item, nil
}

func TestRun_Completion(t *testing.T) {
	tests := []struct {
		name      string
		items     int
		size      int
		count     int
		wantCalls int
	}{
		{"exact multiple", 6, 3, -1, 2},
		{"remainder", 7, 3, -1, 3},
		{"single batch", 2, 50, -1, 1},
		{"empty source", 0, 50, -1, 1},
		{"count includes header", 6, 3, 7, 3},
		{"count overstated", 2, 50, 10, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newSliceParser(tt.items, tt.size)
			p.count = tt.count
			st := NewState[string](p.ItemCount())

			if err := Run(context.Background(), p, st, Options{}); err != nil {
				t.Fatalf("Run() error = %v", err)
			}
			if p.calls != tt.wantCalls {
				t.Errorf("NextBatch calls = %d, want %d", p.calls, tt.wantCalls)
			}
			if !st.Done || st.Finished != 1 {
				t.Errorf("Done = %v, Finished = %v, want done", st.Done, st.Finished)
			}
			if st.Progress != tt.items || len(st.Results) != tt.items {
				t.Errorf("Progress = %d, Results = %d, want %d", st.Progress, len(st.Results), tt.items)
			}
		})
	}
}

func TestStep_Resumes(t *testing.T) {
	p := newSliceParser(5, 2)
	st := NewState[string](p.ItemCount())
	ctx := context.Background()

	if err := Step(ctx, p, st, Options{}); err != nil {
		t.Fatal(err)
	}
	if st.Progress != 2 || st.Done {
		t.Fatalf("Progress = %d, Done = %v after one step", st.Progress, st.Done)
	}
	if st.Finished != 0.4 {
		t.Errorf("Finished = %v, want 0.4", st.Finished)
	}
	if st.Sandbox["last"] != "item-1" {
		t.Errorf("sandbox last = %q", st.Sandbox["last"])
	}

	// A fresh parser resumes from the cursor alone.
	resumed := newSliceParser(5, 2)
	if err := Run(ctx, resumed, st, Options{}); err != nil {
		t.Fatal(err)
	}
	if resumed.calls != 2 {
		t.Errorf("resumed calls = %d, want 2", resumed.calls)
	}
	if st.Results[4] != "id-item-4" {
		t.Errorf("Results = %v", st.Results)
	}

	if err := Step(ctx, resumed, st, Options{}); err != nil || resumed.calls != 2 {
		t.Errorf("Step on a done run called NextBatch or failed: %v", err)
	}
}

func TestStep_BestEffort(t *testing.T) {
	p := newSliceParser(4, 10)
	p.fail = map[string]bool{"item-1": true}
	st := NewState[string](p.ItemCount())
	obs := &countingObserver{}

	if err := Run(context.Background(), p, st, Options{Observer: obs}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if st.Succeeded != 3 || st.Failed != 1 {
		t.Errorf("Succeeded = %d, Failed = %d", st.Succeeded, st.Failed)
	}
	if st.Results[1] != "" {
		t.Errorf("failed item result = %q, want zero", st.Results[1])
	}
	if st.LastError == "" {
		t.Error("LastError is empty")
	}
	if obs.items != 4 || obs.failed != 1 || obs.finished != 1 {
		t.Errorf("observer = %+v", obs)
	}
}

func TestStep_Strict(t *testing.T) {
	p := newSliceParser(4, 10)
	p.fail = map[string]bool{"item-2": true}
	st := NewState[string](p.ItemCount())

	err := Run(context.Background(), p, st, Options{Strict: true})
	if err == nil {
		t.Fatal("Run() error = nil, want item failure")
	}
	if st.Progress != 2 || st.Done {
		t.Errorf("Progress = %d, Done = %v, want stopped at the failing item", st.Progress, st.Done)
	}
}

func TestStep_Canceled(t *testing.T) {
	p := newSliceParser(4, 10)
	st := NewState[string](p.ItemCount())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := Step(ctx, p, st, Options{}); !errors.Is(err, context.Canceled) {
		t.Errorf("Step() error = %v, want context.Canceled", err)
	}
}

type countingObserver struct {
	items, failed, finished int
}

func (o *countingObserver) ItemProcessed(_ string, err error) {
	o.items++
	if err != nil {
		o.failed++
	}
}

func (o *countingObserver) RunFinished(string, int, int) {
	o.finished++
}
