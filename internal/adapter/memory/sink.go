package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/guillermoBallester/callmeter/internal/core/domain"
)

// Sink keeps call records in process memory. Nothing survives a restart.
type Sink struct {
	mu      sync.RWMutex
	records []domain.CallRecord
	lastSeq int64
	closed  bool
}

func NewSink() *Sink {
	return &Sink{}
}

func (s *Sink) Append(_ context.Context, rec domain.CallRecord) error {
	if err := rec.Validate(); err != nil {
		return domain.NewStorageError("append", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return domain.NewStorageError("append", domain.ErrSinkClosed)
	}
	s.lastSeq++
	rec.Sequence = s.lastSeq
	s.records = append(s.records, rec)
	return nil
}

func (s *Sink) QueryRecent(_ context.Context, n int) ([]domain.CallRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, domain.NewStorageError("query recent", domain.ErrSinkClosed)
	}
	if n <= 0 {
		return []domain.CallRecord{}, nil
	}

	out := make([]domain.CallRecord, len(s.records))
	copy(out, s.records)
	SortRecent(out)
	if len(out) > n {
		out = out[:n]
	}
	return out, nil
}

// Len returns the number of stored records.
func (s *Sink) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// SortRecent orders records by start time descending, newest sequence first
// among equal start times.
func SortRecent(records []domain.CallRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		if !records[i].StartTime.Equal(records[j].StartTime) {
			return records[i].StartTime.After(records[j].StartTime)
		}
		return records[i].Sequence > records[j].Sequence
	})
}
