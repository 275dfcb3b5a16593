package port

import (
	"context"

	"github.com/guillermoBallester/callmeter/internal/core/domain"
)

// Instrumentation records application-level metrics.
type Instrumentation interface {
	RecordCall(ctx context.Context, function string, status domain.Status, ms float64)
	IncrementSinkErrors(ctx context.Context)
	RecordQueryDuration(ctx context.Context, ms float64)
	IncrementQueryErrors(ctx context.Context)
}

// NoopInstrumentation discards all metrics.
type NoopInstrumentation struct{}

func (NoopInstrumentation) RecordCall(context.Context, string, domain.Status, float64) {}
func (NoopInstrumentation) IncrementSinkErrors(context.Context)                        {}
func (NoopInstrumentation) RecordQueryDuration(context.Context, float64)               {}
func (NoopInstrumentation) IncrementQueryErrors(context.Context)                       {}
