package port

import (
	"context"

	"github.com/guillermoBallester/callmeter/internal/core/domain"
)

// Sink stores call records. It is append-only: there is no update or delete.
// Implementations must be safe for concurrent use and must assign strictly
// increasing sequence numbers.
type Sink interface {
	// Append stores rec and assigns its sequence. Failures are *domain.StorageError.
	Append(ctx context.Context, rec domain.CallRecord) error
	// QueryRecent returns up to n records, most recent start time first.
	QueryRecent(ctx context.Context, n int) ([]domain.CallRecord, error)
	Close() error
}
