package telemetry

import (
	"context"

	"github.com/guillermoBallester/callmeter/internal/core/domain"
	"github.com/guillermoBallester/callmeter/internal/core/port"
)

// Multi fans every measurement out to each of its members.
type Multi []port.Instrumentation

func (m Multi) RecordCall(ctx context.Context, function string, status domain.Status, ms float64) {
	for _, i := range m {
		i.RecordCall(ctx, function, status, ms)
	}
}

func (m Multi) IncrementSinkErrors(ctx context.Context) {
	for _, i := range m {
		i.IncrementSinkErrors(ctx)
	}
}

func (m Multi) RecordQueryDuration(ctx context.Context, ms float64) {
	for _, i := range m {
		i.RecordQueryDuration(ctx, ms)
	}
}

func (m Multi) IncrementQueryErrors(ctx context.Context) {
	for _, i := range m {
		i.IncrementQueryErrors(ctx)
	}
}
