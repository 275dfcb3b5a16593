package sample

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/guillermoBallester/callmeter/internal/adapter/memory"
	"github.com/guillermoBallester/callmeter/internal/core/domain"
	"github.com/guillermoBallester/callmeter/internal/core/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWork(t *testing.T) {
	got, err := Work(context.Background(), time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, "Success", got)
}

func TestWork_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Work(ctx, time.Hour)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFail(t *testing.T) {
	_, err := Fail(context.Background())
	assert.ErrorIs(t, err, ErrSample)
	assert.Equal(t, "Sample error", err.Error())
}

func TestRunDemo(t *testing.T) {
	sink := memory.NewSink()
	r := service.NewRecorder(sink, slog.New(slog.NewTextHandler(io.Discard, nil)), nil, nil)

	var out bytes.Buffer
	err := RunDemo(context.Background(), r, DemoOptions{Runs: 3, Work: 5 * time.Millisecond, Pause: time.Millisecond}, &out)
	require.NoError(t, err)

	got, err := r.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, got, 4)

	assert.Equal(t, "failing_function", got[0].Function)
	assert.Equal(t, domain.StatusError, got[0].Status)
	assert.Equal(t, "Sample error", got[0].Error())
	for _, rec := range got[1:] {
		assert.Equal(t, "sample_function", rec.Function)
		assert.Equal(t, domain.StatusSuccess, rec.Status)
		assert.GreaterOrEqual(t, rec.DurationMS, int64(5))
	}

	assert.Equal(t, 3, bytes.Count(out.Bytes(), []byte("Running sample function...")))
	assert.Contains(t, out.String(), "Error in failing function: Sample error")
}

func TestRunDemo_StopsOnCancel(t *testing.T) {
	sink := memory.NewSink()
	r := service.NewRecorder(sink, slog.New(slog.NewTextHandler(io.Discard, nil)), nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := RunDemo(ctx, r, DemoOptions{Runs: 3, Work: time.Hour, Pause: time.Hour}, io.Discard)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, sink.Len(), "the interrupted call is still recorded")
}
