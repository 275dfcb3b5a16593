package audit

import (
	"context"
	"errors"
	"log/slog"

	"github.com/guillermoBallester/callmeter/internal/core/domain"
	"github.com/guillermoBallester/callmeter/internal/core/port"
)

// Mirror appends every record to a primary sink and then to a journal.
// Only the primary decides success; journal failures are logged. Reads go
// to the primary.
type Mirror struct {
	primary port.Sink
	journal port.Sink
	logger  *slog.Logger
}

func NewMirror(primary, journal port.Sink, logger *slog.Logger) *Mirror {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Mirror{primary: primary, journal: journal, logger: logger}
}

// Primary returns the sink that serves reads.
func (m *Mirror) Primary() port.Sink { return m.primary }

func (m *Mirror) Append(ctx context.Context, rec domain.CallRecord) error {
	if err := m.primary.Append(ctx, rec); err != nil {
		return err
	}
	if err := m.journal.Append(ctx, rec); err != nil {
		m.logger.WarnContext(ctx, "audit journal write failed",
			slog.String("function", rec.Function),
			slog.String("error.message", err.Error()),
		)
	}
	return nil
}

func (m *Mirror) QueryRecent(ctx context.Context, n int) ([]domain.CallRecord, error) {
	return m.primary.QueryRecent(ctx, n)
}

func (m *Mirror) Close() error {
	return errors.Join(m.primary.Close(), m.journal.Close())
}
