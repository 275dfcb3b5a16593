package domain

import (
	"fmt"
	"time"
)

// Status classifies the outcome of a single invocation.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	return s == StatusSuccess || s == StatusError
}

// Glyph returns the report symbol for the status.
func (s Status) Glyph() string {
	switch s {
	case StatusSuccess:
		return "✅"
	case StatusError:
		return "❌"
	default:
		return "?"
	}
}

// CallRecord describes one invocation of a wrapped function. Records are
// immutable once appended to a sink.
type CallRecord struct {
	// Sequence is assigned by the sink on append; zero before that.
	Sequence     int64     `json:"sequence"`
	Function     string    `json:"function_name"`
	StartTime    time.Time `json:"start_time"`
	DurationMS   int64     `json:"duration_ms"`
	Status       Status    `json:"status"`
	ErrorMessage *string   `json:"error_message"`
}

// NewCallRecord builds the record for a call that started at start and
// finished at end with the given outcome. The start time is truncated to
// millisecond precision and stored in UTC; the duration is rounded to the
// nearest millisecond and never negative.
func NewCallRecord(function string, start, end time.Time, err error) CallRecord {
	rec := CallRecord{
		Function:   function,
		StartTime:  start.Truncate(time.Millisecond).UTC(),
		DurationMS: DurationMS(end.Sub(start)),
		Status:     StatusSuccess,
	}
	if err != nil {
		msg := err.Error()
		rec.Status = StatusError
		rec.ErrorMessage = &msg
	}
	return rec
}

// DurationMS rounds d to the nearest whole millisecond, clamping at zero.
func DurationMS(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	return d.Round(time.Millisecond).Milliseconds()
}

// Error returns the error message, or "" for successful calls.
func (r CallRecord) Error() string {
	if r.ErrorMessage == nil {
		return ""
	}
	return *r.ErrorMessage
}

// Validate checks the invariants a record must satisfy before it is stored.
func (r CallRecord) Validate() error {
	if r.Function == "" {
		return fmt.Errorf("%w: function name is empty", ErrInvalidRecord)
	}
	if r.StartTime.IsZero() {
		return fmt.Errorf("%w: start time is zero", ErrInvalidRecord)
	}
	if r.DurationMS < 0 {
		return fmt.Errorf("%w: negative duration %d", ErrInvalidRecord, r.DurationMS)
	}
	if !r.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidRecord, r.Status)
	}
	if (r.Status == StatusError) != (r.ErrorMessage != nil) {
		return fmt.Errorf("%w: error message must be set exactly when status is %q", ErrInvalidRecord, StatusError)
	}
	return nil
}
