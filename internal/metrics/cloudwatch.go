// Package metrics publishes operational counters to CloudWatch. Metric
// publishing is never allowed to fail a request path; errors are logged and
// dropped.
package metrics

import (
	"context"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

// CloudWatchAPI is the subset of the CloudWatch client used here.
type CloudWatchAPI interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// Publisher emits counters under a single namespace.
type Publisher struct {
	client    CloudWatchAPI
	namespace string
	logger    *slog.Logger
}

// NewPublisher creates a metrics Publisher.
func NewPublisher(client CloudWatchAPI, namespace string, logger *slog.Logger) *Publisher {
	return &Publisher{client: client, namespace: namespace, logger: logger}
}

// CountTick records the outcome of one scheduling tick.
func (p *Publisher) CountTick(ctx context.Context, scheduled, enqueued, failed int) {
	p.put(ctx,
		datum("TickScheduled", float64(scheduled), nil),
		datum("TickEnqueued", float64(enqueued), nil),
		datum("TickFailed", float64(failed), nil),
	)
}

// CountDelivery records one terminal delivery outcome. Result is one of
// success, failed, skipped, race.
func (p *Publisher) CountDelivery(ctx context.Context, result string) {
	p.put(ctx, datum("Delivery", 1, []cwtypes.Dimension{{
		Name:  aws.String("Result"),
		Value: aws.String(result),
	}}))
}

// RecordQueueLag records how long a task sat on the queue before processing.
func (p *Publisher) RecordQueueLag(ctx context.Context, lag time.Duration) {
	if lag < 0 {
		return
	}
	p.put(ctx, cwtypes.MetricDatum{
		MetricName: aws.String("QueueLagSeconds"),
		Value:      aws.Float64(lag.Seconds()),
		Unit:       cwtypes.StandardUnitSeconds,
	})
}

// CountRecovered records how many deliveries a sweep re-enqueued.
func (p *Publisher) CountRecovered(ctx context.Context, recovered int) {
	p.put(ctx, datum("SweepRecovered", float64(recovered), nil))
}

func (p *Publisher) put(ctx context.Context, data ...cwtypes.MetricDatum) {
	_, err := p.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(p.namespace),
		MetricData: data,
	})
	if err != nil {
		p.logger.ErrorContext(ctx, "metric publish failed", slog.String("error", err.Error()))
	}
}

func datum(name string, value float64, dims []cwtypes.Dimension) cwtypes.MetricDatum {
	return cwtypes.MetricDatum{
		MetricName: aws.String(name),
		Value:      aws.Float64(value),
		Unit:       cwtypes.StandardUnitCount,
		Dimensions: dims,
	}
}
