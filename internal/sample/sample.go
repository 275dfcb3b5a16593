// Package sample holds the demo workload: one function that succeeds after
// simulated work and one that always fails.
package sample

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/guillermoBallester/callmeter/internal/core/service"
)

var ErrSample = errors.New("Sample error") //nolint:staticcheck

// Work simulates d of work and returns "Success". It returns early with the
// context's error if ctx ends first.
func Work(ctx context.Context, d time.Duration) (string, error) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return "Success", nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Fail always returns ErrSample.
func Fail(context.Context) (string, error) {
	return "", ErrSample
}

type DemoOptions struct {
	Runs  int
	Work  time.Duration
	Pause time.Duration
}

// RunDemo calls Work opts.Runs times and Fail once, each through r, writing
// progress to w. Failures of the wrapped functions are reported, not returned;
// only a cancelled ctx stops the demo early.
func RunDemo(ctx context.Context, r *service.Recorder, opts DemoOptions, w io.Writer) error {
	work := service.Wrap1(r, "sample_function", Work)
	fail := service.Wrap(r, "failing_function", Fail)

	for range opts.Runs {
		_, _ = fmt.Fprintln(w, "\nRunning sample function...")
		if _, err := work(ctx, opts.Work); err != nil {
			_, _ = fmt.Fprintf(w, "Error in sample function: %v\n", err)
		}
		if err := sleep(ctx, opts.Pause); err != nil {
			return err
		}
	}

	_, _ = fmt.Fprintln(w, "\nRunning failing function...")
	if _, err := fail(ctx); err != nil {
		_, _ = fmt.Fprintf(w, "Error in failing function: %v\n", err)
	}
	return ctx.Err()
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
