package memory

import (
	"context"
	"testing"
	"time"

	"github.com/guillermoBallester/callmeter/internal/core/domain"
	"github.com/guillermoBallester/callmeter/internal/core/port"
	"github.com/guillermoBallester/callmeter/internal/sinktest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSink_Contract(t *testing.T) {
	sinktest.Run(t, func(t *testing.T) port.Sink { return NewSink() })
}

func TestSink_QueryRecentReturnsCopy(t *testing.T) {
	s := NewSink()
	ctx := context.Background()
	require.NoError(t, s.Append(ctx, sinktest.Record("f", 0, 1, "")))

	got, err := s.QueryRecent(ctx, 1)
	require.NoError(t, err)
	got[0].Function = "mutated"

	again, err := s.QueryRecent(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "f", again[0].Function, "stored records are immutable")
}

func TestSortRecent_TiesBrokenBySequence(t *testing.T) {
	a := sinktest.Record("a", time.Second, 1, "")
	a.Sequence = 1
	b := sinktest.Record("b", time.Second, 1, "")
	b.Sequence = 2
	c := sinktest.Record("c", 0, 1, "")
	c.Sequence = 3

	records := []domain.CallRecord{a, b, c}
	SortRecent(records)
	assert.Equal(t, "b", records[0].Function)
	assert.Equal(t, "a", records[1].Function)
	assert.Equal(t, "c", records[2].Function)
}
