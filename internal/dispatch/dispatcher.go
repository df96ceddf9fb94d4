// Package dispatch fans a task list out to the queue in fixed-size batches.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"wisher/internal/types"
)

// DefaultBatchSize is the number of tasks per queue batch.
const DefaultBatchSize = 10

// ErrAllBatchesFailed signals that not a single task made it onto the queue.
// Partial failure is absorbed and reported through Result; total failure is
// the only condition that escalates to the caller.
var ErrAllBatchesFailed = errors.New("dispatch: all batches failed")

// BatchSender submits one batch of tasks and reports how many were accepted.
type BatchSender interface {
	SendTaskBatch(ctx context.Context, tasks []types.DeliveryTask) (int, error)
}

// Result summarizes one dispatch run.
type Result struct {
	Enqueued      int
	Failed        int
	Batches       int
	FailedBatches int
}

// Dispatcher splits task lists into batches and submits them concurrently.
type Dispatcher struct {
	sender    BatchSender
	batchSize int
	logger    *slog.Logger
}

// NewDispatcher creates a Dispatcher. A non-positive batchSize falls back to
// DefaultBatchSize.
func NewDispatcher(sender BatchSender, batchSize int, logger *slog.Logger) *Dispatcher {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Dispatcher{sender: sender, batchSize: batchSize, logger: logger}
}

// Dispatch submits all tasks in concurrent batches. A batch that fails is
// logged and counted; Dispatch returns ErrAllBatchesFailed only when tasks
// were given and none were enqueued.
func (d *Dispatcher) Dispatch(ctx context.Context, tasks []types.DeliveryTask) (Result, error) {
	res := Result{}
	if len(tasks) == 0 {
		return res, nil
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)

	for start := 0; start < len(tasks); start += d.batchSize {
		end := start + d.batchSize
		if end > len(tasks) {
			end = len(tasks)
		}
		batch := tasks[start:end]
		res.Batches++

		g.Go(func() error {
			sent, err := d.sender.SendTaskBatch(gctx, batch)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				res.FailedBatches++
				res.Failed += len(batch)
				d.logger.ErrorContext(gctx, "batch dispatch failed",
					slog.Int("batch_size", len(batch)),
					slog.String("error", err.Error()),
				)
				// Absorbed here; total failure is judged after all
				// batches finish.
				return nil
			}
			res.Enqueued += sent
			res.Failed += len(batch) - sent
			return nil
		})
	}

	_ = g.Wait()

	if res.Enqueued == 0 {
		return res, ErrAllBatchesFailed
	}
	return res, nil
}
