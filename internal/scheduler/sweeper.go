package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"wisher/internal/types"
	"wisher/internal/tzcal"
)

// TaskEmitter publishes individual delivery tasks. The sweeper bypasses the
// batch dispatcher because recovery volumes are small and per-task failure
// isolation matters more than throughput.
type TaskEmitter interface {
	SendTask(ctx context.Context, task types.DeliveryTask, delaySeconds int64, reason string) error
}

// SweepMetrics records sweep outcomes. Implementations must be non-fatal.
type SweepMetrics interface {
	CountRecovered(ctx context.Context, recovered int)
}

// Sweeper re-enqueues deliveries that were due in the recent past but never
// committed to the ledger, closing the gap left by crashed ticks or a queue
// outage.
type Sweeper struct {
	index        UserIndex
	emitter      TaskEmitter
	metrics      SweepMetrics
	kind         sweepKind
	targetHour   int
	lookbackDays int
	clock        types.Clock
	logger       *slog.Logger
}

// sweepKind is the subset of the event capability the sweeper needs.
type sweepKind interface {
	Name() string
}

// NewSweeper wires a Sweeper.
func NewSweeper(index UserIndex, emitter TaskEmitter, metrics SweepMetrics, kind sweepKind, targetHour, lookbackDays int, clock types.Clock, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		index:        index,
		emitter:      emitter,
		metrics:      metrics,
		kind:         kind,
		targetHour:   targetHour,
		lookbackDays: lookbackDays,
		clock:        clock,
		logger:       logger,
	}
}

// Run executes one recovery sweep over the last lookbackDays calendar days
// (today included). The index query already excludes users whose ledger
// witnesses each day's occurrence; the in-process checks repeat that and drop
// occurrences whose target instant has not arrived yet. Per-user emit
// failures are logged and skipped; the sweep itself only fails when the index
// is unreachable.
func (s *Sweeper) Run(ctx context.Context) (int, error) {
	now := s.clock.Now()
	traceID := uuid.NewString()
	logger := s.logger.With(slog.String("trace_id", traceID))

	days := make([]time.Time, 0, s.lookbackDays+1)
	for offset := 0; offset <= s.lookbackDays; offset++ {
		days = append(days, now.AddDate(0, 0, -offset))
	}

	candidates, err := collectCandidates(ctx, s.index, s.kind.Name(), days)
	if err != nil {
		return 0, fmt.Errorf("sweep: query candidates: %w", err)
	}

	recovered := 0
	for _, c := range candidates {
		u := c.user

		if u.Marker(s.kind.Name()).DeliveredOn(c.occurrence) {
			continue
		}

		target, err := tzcal.TargetInstantUTC(c.occurrence, u.Timezone, s.targetHour)
		if err != nil {
			logger.ErrorContext(ctx, "candidate skipped",
				slog.String("user_id", u.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		if target.After(now) {
			// Not missed, just not due yet.
			continue
		}

		task := types.DeliveryTask{
			TaskID:         uuid.NewString(),
			TraceID:        traceID,
			UserID:         u.ID,
			FullName:       u.FullName(),
			EventKind:      s.kind.Name(),
			OccurrenceDate: c.occurrence,
			Timezone:       u.Timezone,
			TargetUTC:      target,
		}
		if err := s.emitter.SendTask(ctx, task, 0, "recovery"); err != nil {
			logger.ErrorContext(ctx, "recovery emit failed",
				slog.String("user_id", u.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		recovered++
	}

	s.metrics.CountRecovered(ctx, recovered)

	logger.InfoContext(ctx, "sweep complete",
		slog.Int("lookback_days", s.lookbackDays),
		slog.Int("candidates", len(candidates)),
		slog.Int("recovered", recovered),
	)
	return recovered, nil
}
