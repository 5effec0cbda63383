package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hypro2/document-parser/internal/models"
)

func TestRun_PreservesInputOrder(t *testing.T) {
	units := []int{5, 1, 4, 2, 3, 0, 6, 2}
	fn := func(_ context.Context, u int) (string, error) {
		time.Sleep(time.Duration(u) * 3 * time.Millisecond)
		return fmt.Sprintf("unit-%d", u), nil
	}

	for _, tc := range []struct {
		mode    string
		workers int
	}{
		{models.ModeSequential, 1},
		{models.ModeParallel, 1},
		{models.ModeParallel, 2},
		{models.ModeParallel, 4},
		{models.ModeParallel, 16},
	} {
		t.Run(fmt.Sprintf("%s-%d", tc.mode, tc.workers), func(t *testing.T) {
			outcomes := Run(context.Background(), units, tc.mode, tc.workers, time.Second, fn)
			if len(outcomes) != len(units) {
				t.Fatalf("got %d outcomes, want %d", len(outcomes), len(units))
			}
			for i, o := range outcomes {
				if o.Unit != units[i] {
					t.Errorf("outcome %d: unit %d, want %d", i, o.Unit, units[i])
				}
				if want := fmt.Sprintf("unit-%d", units[i]); o.Result != want {
					t.Errorf("outcome %d: result %q, want %q", i, o.Result, want)
				}
			}
		})
	}
}

func TestRun_BoundsConcurrency(t *testing.T) {
	var inFlight, peak atomic.Int32
	fn := func(_ context.Context, _ int) (int, error) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		inFlight.Add(-1)
		return 0, nil
	}
	units := make([]int, 20)

	Run(context.Background(), units, models.ModeParallel, 3, time.Second, fn)
	if p := peak.Load(); p > 3 {
		t.Errorf("peak concurrency %d exceeds 3 workers", p)
	}

	peak.Store(0)
	Run(context.Background(), units, models.ModeSequential, 8, time.Second, fn)
	if p := peak.Load(); p != 1 {
		t.Errorf("sequential peak concurrency = %d, want 1", p)
	}
}

func TestRun_SequentialStartsInOrder(t *testing.T) {
	var started []int
	fn := func(_ context.Context, u int) (int, error) {
		started = append(started, u)
		return u, nil
	}
	Run(context.Background(), []int{3, 1, 2}, models.ModeSequential, 4, 0, fn)
	if fmt.Sprint(started) != "[3 1 2]" {
		t.Errorf("start order = %v, want [3 1 2]", started)
	}
}

func TestRun_TimeoutIsPerUnit(t *testing.T) {
	fn := func(_ context.Context, u int) (int, error) {
		if u == 1 {
			// Ignores its context on purpose.
			time.Sleep(300 * time.Millisecond)
		}
		return u * 10, nil
	}

	outcomes := Run(context.Background(), []int{0, 1, 2}, models.ModeParallel, 3, 30*time.Millisecond, fn)
	if !errors.Is(outcomes[1].Err, context.DeadlineExceeded) {
		t.Fatalf("slow unit error = %v, want deadline exceeded", outcomes[1].Err)
	}
	for _, i := range []int{0, 2} {
		if outcomes[i].Err != nil {
			t.Errorf("unit %d failed: %v", i, outcomes[i].Err)
		}
		if outcomes[i].Result != i*10 {
			t.Errorf("unit %d result = %d, want %d", i, outcomes[i].Result, i*10)
		}
	}
}

func TestRun_PanicBecomesUnitError(t *testing.T) {
	fn := func(_ context.Context, u int) (int, error) {
		if u == 2 {
			panic("boom")
		}
		return u, nil
	}
	outcomes := Run(context.Background(), []int{1, 2, 3}, models.ModeParallel, 2, time.Second, fn)
	if outcomes[1].Err == nil || !strings.Contains(outcomes[1].Err.Error(), "boom") {
		t.Fatalf("panic outcome error = %v", outcomes[1].Err)
	}
	if outcomes[0].Err != nil || outcomes[2].Err != nil {
		t.Errorf("siblings should succeed: %v, %v", outcomes[0].Err, outcomes[2].Err)
	}
}

func TestRun_Empty(t *testing.T) {
	outcomes := Run(context.Background(), nil, models.ModeParallel, 4, time.Second, func(context.Context, int) (int, error) {
		t.Fatal("fn must not be called")
		return 0, nil
	})
	if len(outcomes) != 0 {
		t.Errorf("got %d outcomes, want 0", len(outcomes))
	}
}
