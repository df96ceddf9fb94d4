// Package consumer processes delivery tasks from the transport queue. Each
// record is checked against the live user record and the delivery ledger,
// sent to the sink, and committed with a conditional write. Failed records
// are reported as partial batch failures so the queue redelivers only them;
// records that keep failing land on the dead-letter queue via the redrive
// policy.
package consumer

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/aws/aws-lambda-go/events"

	"wisher/internal/event"
	"wisher/internal/types"
)

// UserFetcher reads the live user record.
type UserFetcher interface {
	Get(ctx context.Context, id string) (*types.User, error)
}

// Ledger commits delivery witnesses.
type Ledger interface {
	MarkDelivered(ctx context.Context, userID, kind, occurrenceDate string, now time.Time) (bool, error)
}

// MessageSink sends one rendered message downstream.
type MessageSink interface {
	Send(ctx context.Context, message string) error
}

// DeliveryMetrics records per-record outcomes. Implementations must be
// non-fatal.
type DeliveryMetrics interface {
	CountDelivery(ctx context.Context, result string)
	RecordQueueLag(ctx context.Context, lag time.Duration)
}

// Handler is the queue-consumer entrypoint.
type Handler struct {
	users    UserFetcher
	ledger   Ledger
	sink     MessageSink
	metrics  DeliveryMetrics
	registry *event.Registry
	clock    types.Clock
	logger   *slog.Logger
}

// NewHandler wires a Handler.
func NewHandler(users UserFetcher, ledger Ledger, sink MessageSink, metrics DeliveryMetrics, registry *event.Registry, clock types.Clock, logger *slog.Logger) *Handler {
	return &Handler{
		users:    users,
		ledger:   ledger,
		sink:     sink,
		metrics:  metrics,
		registry: registry,
		clock:    clock,
		logger:   logger,
	}
}

// Handle processes one SQS batch. Records are handled concurrently; each
// failure is reported individually through the partial batch response.
func (h *Handler) Handle(ctx context.Context, sqsEvent events.SQSEvent) (events.SQSEventResponse, error) {
	var mu sync.Mutex
	var failures []events.SQSBatchItemFailure
	var wg sync.WaitGroup

	for _, record := range sqsEvent.Records {
		wg.Add(1)
		go func(record events.SQSMessage) {
			defer wg.Done()
			if err := h.processRecord(ctx, record); err != nil {
				h.logger.ErrorContext(ctx, "record failed",
					slog.String("message_id", record.MessageId),
					slog.String("error", err.Error()),
				)
				mu.Lock()
				failures = append(failures, events.SQSBatchItemFailure{
					ItemIdentifier: record.MessageId,
				})
				mu.Unlock()
			}
		}(record)
	}
	wg.Wait()

	return events.SQSEventResponse{BatchItemFailures: failures}, nil
}

// processRecord handles one queue record to a terminal outcome. A returned
// error means the record should be redelivered; nil means it is settled
// (delivered, already delivered, or deliberately dropped).
func (h *Handler) processRecord(ctx context.Context, record events.SQSMessage) error {
	now := h.clock.Now()
	h.recordQueueLag(ctx, record, now)

	task, err := types.DecodeDeliveryTask([]byte(record.Body), now)
	if err != nil {
		// Undecodable payloads cannot succeed on retry either; redrive
		// moves them to the dead-letter queue once attempts run out.
		return err
	}

	logger := h.logger.With(
		slog.String("task_id", task.TaskID),
		slog.String("trace_id", task.TraceID),
		slog.String("user_id", task.UserID),
		slog.String("event_kind", task.EventKind),
		slog.String("occurrence_date", task.OccurrenceDate),
	)

	kind, err := h.registry.Get(task.EventKind)
	if err != nil {
		return err
	}

	user, err := h.users.Get(ctx, task.UserID)
	if err != nil {
		return err
	}
	if user == nil {
		// Deleted between scheduling and delivery. Settle the record.
		logger.InfoContext(ctx, "user gone, task dropped")
		h.metrics.CountDelivery(ctx, "skipped")
		return nil
	}

	if user.Marker(kind.Name()).DeliveredOn(task.OccurrenceDate) {
		logger.InfoContext(ctx, "already delivered, task skipped")
		h.metrics.CountDelivery(ctx, "skipped")
		return nil
	}

	// Render from the live record, not the task snapshot, so renames
	// between scheduling and delivery are honored.
	if err := h.sink.Send(ctx, kind.Message(user)); err != nil {
		h.metrics.CountDelivery(ctx, "failed")
		return err
	}

	committed, err := h.ledger.MarkDelivered(ctx, user.ID, kind.Name(), task.OccurrenceDate, h.clock.Now())
	if err != nil {
		// The message went out but the witness is unrecorded; redelivery
		// retries the commit and the idempotency checks bound the blast
		// radius to this failure window.
		h.metrics.CountDelivery(ctx, "failed")
		return err
	}
	if !committed {
		logger.InfoContext(ctx, "lost delivery race, duplicate send absorbed")
		h.metrics.CountDelivery(ctx, "race")
		return nil
	}

	logger.InfoContext(ctx, "delivery committed")
	h.metrics.CountDelivery(ctx, "success")
	return nil
}

// recordQueueLag reports how long the record waited on the queue, when the
// SentTimestamp attribute is present.
func (h *Handler) recordQueueLag(ctx context.Context, record events.SQSMessage, now time.Time) {
	ts, ok := record.Attributes["SentTimestamp"]
	if !ok {
		return
	}
	ms, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return
	}
	h.metrics.RecordQueueLag(ctx, now.Sub(time.UnixMilli(ms)))
}
