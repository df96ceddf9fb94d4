// Package main is the entrypoint for the delivery worker Lambda.
//
// The worker consumes delivery tasks from the transport queue, re-checks each
// one against the live user record and the delivery ledger, posts the greeting
// to the message sink, and commits the delivery with a conditional write.
// Failed records are reported through the partial batch response so only they
// are redelivered.
//
// With APP_ENV=local the binary reads one JSON SQS event from stdin and
// processes it once instead of starting the Lambda runtime.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"wisher/internal/config"
	"wisher/internal/consumer"
	"wisher/internal/event"
	"wisher/internal/metrics"
	"wisher/internal/platform"
	"wisher/internal/sink"
	"wisher/internal/store"
	"wisher/internal/types"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config load failed:", err)
		os.Exit(1)
	}

	logger := platform.NewLogger(cfg.LogLevel)
	logger.Info("delivery worker initializing",
		"queue", cfg.DeliveryQueueURL,
		"users_table", cfg.UsersTable,
	)

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion(cfg.AWSRegion))
	if err != nil {
		logger.Error("aws config load failed", "error", err)
		os.Exit(1)
	}

	userStore := store.NewUserStore(dynamodb.NewFromConfig(awsCfg, platform.DynamoOptions(cfg)), cfg.UsersTable)
	messageSink := sink.NewWebhookSink(cfg.SinkURL, cfg.SinkTimeout, logger)
	publisher := metrics.NewPublisher(cloudwatch.NewFromConfig(awsCfg, platform.CloudWatchOptions(cfg)), cfg.MetricNamespace, logger)
	registry := event.NewRegistry(event.BirthdayKind{TargetHour: cfg.TargetHour})

	handler := consumer.NewHandler(userStore, userStore, messageSink, publisher, registry, types.RealClock{}, logger)

	if cfg.AppEnv == "local" {
		runLocal(handler, logger)
		return
	}

	lambda.Start(handler.Handle)
}

// runLocal reads one SQS event from stdin and processes it once.
func runLocal(handler *consumer.Handler, logger *slog.Logger) {
	payload, err := io.ReadAll(os.Stdin)
	if err != nil || len(payload) == 0 {
		logger.Error("no SQS event on stdin")
		os.Exit(1)
	}

	var sqsEvent events.SQSEvent
	if err := json.Unmarshal(payload, &sqsEvent); err != nil {
		logger.Error("stdin is not an SQS event", "error", err)
		os.Exit(1)
	}

	resp, err := handler.Handle(context.Background(), sqsEvent)
	if err != nil {
		logger.Error("handler failed", "error", err)
		os.Exit(1)
	}

	out, _ := json.MarshalIndent(resp, "", "  ")
	fmt.Println(string(out))
	logger.Info("run complete",
		"records", len(sqsEvent.Records),
		"failures", len(resp.BatchItemFailures),
	)
}
