// Package sinktest holds the behavioural contract every port.Sink adapter
// must satisfy. Adapter tests call Run with a constructor for a fresh sink.
package sinktest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/guillermoBallester/callmeter/internal/core/domain"
	"github.com/guillermoBallester/callmeter/internal/core/port"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Base is the start time used by Record offsets.
var Base = time.Date(2025, time.January, 15, 9, 30, 0, 0, time.UTC)

// Record builds a valid record starting offset after Base. A non-empty errMsg
// makes it an error record.
func Record(function string, offset time.Duration, durationMS int64, errMsg string) domain.CallRecord {
	rec := domain.CallRecord{
		Function:   function,
		StartTime:  Base.Add(offset),
		DurationMS: durationMS,
		Status:     domain.StatusSuccess,
	}
	if errMsg != "" {
		rec.Status = domain.StatusError
		rec.ErrorMessage = &errMsg
	}
	return rec
}

// Run exercises the Sink contract. open must return an empty sink; Run
// closes it when the subtest ends.
func Run(t *testing.T, open func(t *testing.T) port.Sink) {
	t.Helper()

	fresh := func(t *testing.T) port.Sink {
		t.Helper()
		s := open(t)
		t.Cleanup(func() { _ = s.Close() })
		return s
	}

	t.Run("sequence strictly increases", func(t *testing.T) {
		s := fresh(t)
		ctx := context.Background()
		for i := range 5 {
			require.NoError(t, s.Append(ctx, Record("step", time.Duration(i)*time.Second, int64(i), "")))
		}

		got, err := s.QueryRecent(ctx, 10)
		require.NoError(t, err)
		require.Len(t, got, 5)
		for i := 1; i < len(got); i++ {
			assert.Greater(t, got[i-1].Sequence, got[i].Sequence, "newest record must carry the highest sequence")
		}
		assert.Positive(t, got[len(got)-1].Sequence)
	})

	t.Run("recent ordered by start time descending", func(t *testing.T) {
		s := fresh(t)
		ctx := context.Background()
		// Appended out of start-time order on purpose.
		require.NoError(t, s.Append(ctx, Record("b", 2*time.Second, 5, "")))
		require.NoError(t, s.Append(ctx, Record("a", 1*time.Second, 5, "")))
		require.NoError(t, s.Append(ctx, Record("c", 3*time.Second, 5, "")))

		got, err := s.QueryRecent(ctx, 3)
		require.NoError(t, err)
		require.Len(t, got, 3)
		assert.Equal(t, []string{"c", "b", "a"}, functions(got))
	})

	t.Run("fewer records than requested", func(t *testing.T) {
		s := fresh(t)
		ctx := context.Background()
		require.NoError(t, s.Append(ctx, Record("only", 0, 1, "")))
		require.NoError(t, s.Append(ctx, Record("pair", time.Second, 1, "")))

		got, err := s.QueryRecent(ctx, 10)
		require.NoError(t, err)
		assert.Len(t, got, 2)
	})

	t.Run("limit caps results", func(t *testing.T) {
		s := fresh(t)
		ctx := context.Background()
		for i := range 6 {
			require.NoError(t, s.Append(ctx, Record(fmt.Sprintf("f%d", i), time.Duration(i)*time.Second, 1, "")))
		}

		got, err := s.QueryRecent(ctx, 2)
		require.NoError(t, err)
		assert.Equal(t, []string{"f5", "f4"}, functions(got))
	})

	t.Run("non-positive limit returns nothing", func(t *testing.T) {
		s := fresh(t)
		ctx := context.Background()
		require.NoError(t, s.Append(ctx, Record("x", 0, 1, "")))

		got, err := s.QueryRecent(ctx, 0)
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("empty sink", func(t *testing.T) {
		s := fresh(t)
		got, err := s.QueryRecent(context.Background(), 10)
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("fields round trip", func(t *testing.T) {
		s := fresh(t)
		ctx := context.Background()
		ok := Record("sample_function", 0, 1000, "")
		ok.StartTime = ok.StartTime.Add(123 * time.Millisecond)
		failed := Record("failing_function", time.Second, 0, "Sample error")
		require.NoError(t, s.Append(ctx, ok))
		require.NoError(t, s.Append(ctx, failed))

		got, err := s.QueryRecent(ctx, 2)
		require.NoError(t, err)
		require.Len(t, got, 2)

		assert.Equal(t, "failing_function", got[0].Function)
		assert.Equal(t, domain.StatusError, got[0].Status)
		require.NotNil(t, got[0].ErrorMessage)
		assert.Equal(t, "Sample error", *got[0].ErrorMessage)
		assert.True(t, failed.StartTime.Equal(got[0].StartTime), "start time %s != %s", got[0].StartTime, failed.StartTime)

		assert.Equal(t, "sample_function", got[1].Function)
		assert.Equal(t, domain.StatusSuccess, got[1].Status)
		assert.Nil(t, got[1].ErrorMessage)
		assert.Equal(t, int64(1000), got[1].DurationMS)
		assert.True(t, ok.StartTime.Equal(got[1].StartTime), "start time %s != %s", got[1].StartTime, ok.StartTime)
	})

	t.Run("rejects invalid record", func(t *testing.T) {
		s := fresh(t)
		bad := Record("bad", 0, 1, "")
		bad.Status = domain.StatusError // no message

		err := s.Append(context.Background(), bad)
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrStorage)

		got, err := s.QueryRecent(context.Background(), 10)
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("concurrent appends keep every record", func(t *testing.T) {
		s := fresh(t)
		ctx := context.Background()
		const n = 40

		var wg sync.WaitGroup
		errs := make(chan error, n)
		for i := range n {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				errs <- s.Append(ctx, Record(fmt.Sprintf("worker%d", i), time.Duration(i)*time.Millisecond, 1, ""))
			}(i)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		got, err := s.QueryRecent(ctx, 2*n)
		require.NoError(t, err)
		require.Len(t, got, n)

		seen := make(map[int64]bool, n)
		for _, rec := range got {
			assert.False(t, seen[rec.Sequence], "duplicate sequence %d", rec.Sequence)
			seen[rec.Sequence] = true
		}
	})

	t.Run("closed sink fails with storage error", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.Close())

		err := s.Append(context.Background(), Record("late", 0, 1, ""))
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrStorage)
	})
}

func functions(records []domain.CallRecord) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.Function
	}
	return out
}
