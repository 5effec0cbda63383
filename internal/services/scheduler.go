package services

import (
	"context"
	"fmt"
	"time"

	"github.com/hypro2/document-parser/internal/models"
	"golang.org/x/sync/errgroup"
)

// Outcome pairs a unit with its result or error.
type Outcome[U, R any] struct {
	Unit   U
	Result R
	Err    error
}

// Run executes fn for every unit and returns outcomes in input order.
//
// In sequential mode units run one after another. In parallel mode at most
// workers units are in flight. A unit's error (including its timeout or a
// panic) is recorded in its own outcome and never stops sibling units.
func Run[U, R any](ctx context.Context, units []U, mode string, workers int, timeout time.Duration, fn func(context.Context, U) (R, error)) []Outcome[U, R] {
	outcomes := make([]Outcome[U, R], len(units))

	if mode != models.ModeParallel || workers <= 1 {
		for i, u := range units {
			outcomes[i] = runUnit(ctx, u, timeout, fn)
		}
		return outcomes
	}

	var eg errgroup.Group
	eg.SetLimit(workers)
	for i, u := range units {
		eg.Go(func() error {
			// Each goroutine owns slot i exclusively.
			outcomes[i] = runUnit(ctx, u, timeout, fn)
			return nil
		})
	}
	_ = eg.Wait()
	return outcomes
}

func runUnit[U, R any](ctx context.Context, u U, timeout time.Duration, fn func(context.Context, U) (R, error)) Outcome[U, R] {
	uctx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		uctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	done := make(chan Outcome[U, R], 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- Outcome[U, R]{Unit: u, Err: fmt.Errorf("unit panicked: %v", r)}
			}
		}()
		res, err := fn(uctx, u)
		done <- Outcome[U, R]{Unit: u, Result: res, Err: err}
	}()

	select {
	case o := <-done:
		return o
	case <-uctx.Done():
		// Prefer a result that raced the deadline.
		select {
		case o := <-done:
			return o
		default:
		}
		return Outcome[U, R]{Unit: u, Err: fmt.Errorf("unit abandoned: %w", uctx.Err())}
	}
}
