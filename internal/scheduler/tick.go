// Package scheduler contains the two producers of delivery tasks: the hourly
// tick processor and the recovery sweeper. Both query the recurrence index,
// re-check due-ness and the delivery ledger in process, and hand surviving
// candidates to the queue.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"wisher/internal/dispatch"
	"wisher/internal/event"
	"wisher/internal/types"
	"wisher/internal/tzcal"
)

// UserIndex is the recurrence lookup the scheduler queries.
type UserIndex interface {
	QueryByMonthDay(ctx context.Context, monthDay, kind, excludeDeliveredOn string) ([]*types.User, error)
}

// TaskDispatcher fans tasks out to the queue in batches.
type TaskDispatcher interface {
	Dispatch(ctx context.Context, tasks []types.DeliveryTask) (dispatch.Result, error)
}

// TickMetrics records tick outcomes. Implementations must be non-fatal.
type TickMetrics interface {
	CountTick(ctx context.Context, scheduled, enqueued, failed int)
}

// TickResult summarizes one tick run.
type TickResult struct {
	Candidates int
	Scheduled  int
	Enqueued   int
	Failed     int
}

// TickProcessor runs the hourly scheduling pass.
type TickProcessor struct {
	index      UserIndex
	dispatcher TaskDispatcher
	metrics    TickMetrics
	kind       event.Kind
	targetHour int
	clock      types.Clock
	logger     *slog.Logger
}

// NewTickProcessor wires a TickProcessor.
func NewTickProcessor(index UserIndex, dispatcher TaskDispatcher, metrics TickMetrics, kind event.Kind, targetHour int, clock types.Clock, logger *slog.Logger) *TickProcessor {
	return &TickProcessor{
		index:      index,
		dispatcher: dispatcher,
		metrics:    metrics,
		kind:       kind,
		targetHour: targetHour,
		clock:      clock,
		logger:     logger,
	}
}

// candidate pairs a user with the occurrence date of the index bucket that
// produced it.
type candidate struct {
	user       *types.User
	occurrence string
}

// indexKeys returns the MM-DD keys to query for the given calendar day. On
// March 1 of a non-leap year it also returns the leap key, because Feb 29
// users keep "02-29" as their index key and their occurrence normalizes to
// March 1 in such years.
func indexKeys(day time.Time) []string {
	keys := []string{day.Format(types.MonthDayLayout)}
	if day.Month() == time.March && day.Day() == 1 {
		leap := time.Date(day.Year(), 2, 29, 0, 0, 0, 0, time.UTC)
		if leap.Month() != time.February {
			keys = append(keys, "02-29")
		}
	}
	return keys
}

// collectCandidates queries the index for every (day, key) pair concurrently
// and returns the union, deduplicated by user id. Each day's own date is
// pushed down as the already-delivered exclusion.
func collectCandidates(ctx context.Context, index UserIndex, kind string, days []time.Time) ([]candidate, error) {
	var mu sync.Mutex
	var all []candidate
	g, gctx := errgroup.WithContext(ctx)

	for _, day := range days {
		occurrence := day.Format(types.DateLayout)
		for _, key := range indexKeys(day) {
			g.Go(func() error {
				users, err := index.QueryByMonthDay(gctx, key, kind, occurrence)
				if err != nil {
					return err
				}
				mu.Lock()
				defer mu.Unlock()
				for _, u := range users {
					all = append(all, candidate{user: u, occurrence: occurrence})
				}
				return nil
			})
		}
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(all))
	deduped := all[:0]
	for _, c := range all {
		if _, ok := seen[c.user.ID]; ok {
			continue
		}
		seen[c.user.ID] = struct{}{}
		deduped = append(deduped, c)
	}
	return deduped, nil
}

// Run executes one scheduling tick: query today's and tomorrow's index
// buckets (tomorrow covers zones ahead of UTC), keep users whose local target
// hour has arrived and whose ledger does not witness this occurrence, and
// dispatch the survivors. Partial dispatch failure is absorbed; only a tick
// that enqueues nothing while having work fails.
func (p *TickProcessor) Run(ctx context.Context) (TickResult, error) {
	now := p.clock.Now()
	traceID := uuid.NewString()
	logger := p.logger.With(slog.String("trace_id", traceID))

	days := []time.Time{now, now.AddDate(0, 0, 1)}
	candidates, err := collectCandidates(ctx, p.index, p.kind.Name(), days)
	if err != nil {
		return TickResult{}, fmt.Errorf("tick: query candidates: %w", err)
	}

	type pending struct {
		schedule   types.DeliverySchedule
		occurrence string
	}

	var schedules []pending
	for _, c := range candidates {
		u := c.user

		due, err := p.kind.IsDue(u, now)
		if err != nil {
			logger.ErrorContext(ctx, "candidate skipped",
				slog.String("user_id", u.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		if !due {
			continue
		}
		if u.Marker(p.kind.Name()).DeliveredOn(c.occurrence) {
			continue
		}

		target, err := tzcal.TargetInstantUTC(c.occurrence, u.Timezone, p.targetHour)
		if err != nil {
			logger.ErrorContext(ctx, "candidate skipped",
				slog.String("user_id", u.ID),
				slog.String("error", err.Error()),
			)
			continue
		}

		// The target hour has already arrived by the time a candidate
		// survives the due check, so the delay is always zero under
		// hourly ticks.
		schedules = append(schedules, pending{
			schedule:   types.DeliverySchedule{User: u, TargetUTC: target, DelaySeconds: 0},
			occurrence: c.occurrence,
		})
	}

	tasks := make([]types.DeliveryTask, 0, len(schedules))
	for _, s := range schedules {
		u := s.schedule.User
		tasks = append(tasks, types.DeliveryTask{
			TaskID:         uuid.NewString(),
			TraceID:        traceID,
			UserID:         u.ID,
			FullName:       u.FullName(),
			EventKind:      p.kind.Name(),
			OccurrenceDate: s.occurrence,
			Timezone:       u.Timezone,
			TargetUTC:      s.schedule.TargetUTC,
		})
	}

	res := TickResult{Candidates: len(candidates), Scheduled: len(tasks)}
	dres, derr := p.dispatcher.Dispatch(ctx, tasks)
	res.Enqueued = dres.Enqueued
	res.Failed = dres.Failed

	p.metrics.CountTick(ctx, res.Scheduled, res.Enqueued, res.Failed)

	logger.InfoContext(ctx, "tick complete",
		slog.Int("candidates", res.Candidates),
		slog.Int("scheduled", res.Scheduled),
		slog.Int("enqueued", res.Enqueued),
		slog.Int("failed", res.Failed),
	)

	if derr != nil {
		return res, fmt.Errorf("tick: dispatch: %w", derr)
	}
	return res, nil
}
