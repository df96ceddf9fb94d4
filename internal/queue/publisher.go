// Package queue wraps SQS publishing for delivery tasks.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"wisher/internal/types"
)

// MaxDelaySeconds is the SQS per-message delay ceiling.
const MaxDelaySeconds = 900

// MaxBatchEntries is the SQS SendMessageBatch entry ceiling.
const MaxBatchEntries = 10

// SQSAPI is the subset of the SQS client the publisher uses.
type SQSAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	SendMessageBatch(ctx context.Context, params *sqs.SendMessageBatchInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageBatchOutput, error)
}

// TaskPublisher publishes delivery tasks to the transport queue.
type TaskPublisher struct {
	client   SQSAPI
	queueURL string
	logger   *slog.Logger
}

// NewTaskPublisher creates a TaskPublisher for the given queue URL.
func NewTaskPublisher(client SQSAPI, queueURL string, logger *slog.Logger) *TaskPublisher {
	return &TaskPublisher{client: client, queueURL: queueURL, logger: logger}
}

// SendTask publishes a single task with the given delay. Delays beyond the
// SQS ceiling are clamped; the message will simply become visible early and
// the consumer's due check absorbs the difference.
func (p *TaskPublisher) SendTask(ctx context.Context, task types.DeliveryTask, delaySeconds int64, reason string) error {
	body, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("queue: marshal task %s: %w", task.TaskID, err)
	}

	delay := delaySeconds
	if delay > MaxDelaySeconds {
		delay = MaxDelaySeconds
	}
	if delay < 0 {
		delay = 0
	}

	_, err = p.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:     aws.String(p.queueURL),
		MessageBody:  aws.String(string(body)),
		DelaySeconds: int32(delay),
	})
	if err != nil {
		return fmt.Errorf("queue: send task %s: %w", task.TaskID, err)
	}

	p.logger.InfoContext(ctx, "task published",
		slog.String("task_id", task.TaskID),
		slog.String("user_id", task.UserID),
		slog.String("reason", reason),
		slog.Int64("delay_seconds", delay),
	)
	return nil
}

// SendTaskBatch publishes up to MaxBatchEntries tasks in one SQS batch call
// and returns how many were accepted. Per-entry rejections reported by SQS
// are logged and counted out; only a failed batch call itself is an error.
func (p *TaskPublisher) SendTaskBatch(ctx context.Context, tasks []types.DeliveryTask) (int, error) {
	if len(tasks) == 0 {
		return 0, nil
	}
	if len(tasks) > MaxBatchEntries {
		return 0, fmt.Errorf("queue: batch of %d exceeds limit %d", len(tasks), MaxBatchEntries)
	}

	entries := make([]sqstypes.SendMessageBatchRequestEntry, 0, len(tasks))
	for i, task := range tasks {
		body, err := json.Marshal(task)
		if err != nil {
			return 0, fmt.Errorf("queue: marshal task %s: %w", task.TaskID, err)
		}
		entries = append(entries, sqstypes.SendMessageBatchRequestEntry{
			Id:          aws.String(fmt.Sprintf("e%d", i)),
			MessageBody: aws.String(string(body)),
		})
	}

	out, err := p.client.SendMessageBatch(ctx, &sqs.SendMessageBatchInput{
		QueueUrl: aws.String(p.queueURL),
		Entries:  entries,
	})
	if err != nil {
		return 0, fmt.Errorf("queue: send batch: %w", err)
	}

	for _, f := range out.Failed {
		p.logger.ErrorContext(ctx, "batch entry rejected",
			slog.String("entry_id", aws.ToString(f.Id)),
			slog.String("code", aws.ToString(f.Code)),
			slog.String("message", aws.ToString(f.Message)),
		)
	}

	return len(tasks) - len(out.Failed), nil
}
