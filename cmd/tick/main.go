// Package main is the entrypoint for the hourly scheduling tick Lambda.
//
// Each invocation queries the recurrence index for today's and tomorrow's
// month-day buckets, keeps users whose local target hour has arrived and whose
// ledger does not witness this year's occurrence, and dispatches delivery
// tasks to the transport queue in batches.
//
// With APP_ENV=local the binary runs one tick and exits.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"wisher/internal/config"
	"wisher/internal/dispatch"
	"wisher/internal/event"
	"wisher/internal/metrics"
	"wisher/internal/platform"
	"wisher/internal/queue"
	"wisher/internal/scheduler"
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
	logger.Info("tick processor initializing",
		"users_table", cfg.UsersTable,
		"target_hour", cfg.TargetHour,
	)

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion(cfg.AWSRegion))
	if err != nil {
		logger.Error("aws config load failed", "error", err)
		os.Exit(1)
	}

	userStore := store.NewUserStore(dynamodb.NewFromConfig(awsCfg, platform.DynamoOptions(cfg)), cfg.UsersTable)
	publisher := queue.NewTaskPublisher(sqs.NewFromConfig(awsCfg, platform.SQSOptions(cfg)), cfg.DeliveryQueueURL, logger)
	dispatcher := dispatch.NewDispatcher(publisher, cfg.DispatchBatchSize, logger)
	tickMetrics := metrics.NewPublisher(cloudwatch.NewFromConfig(awsCfg, platform.CloudWatchOptions(cfg)), cfg.MetricNamespace, logger)

	tick := scheduler.NewTickProcessor(
		userStore,
		dispatcher,
		tickMetrics,
		event.BirthdayKind{TargetHour: cfg.TargetHour},
		cfg.TargetHour,
		types.RealClock{},
		logger,
	)

	handle := func(ctx context.Context) error {
		_, err := tick.Run(ctx)
		return err
	}

	if cfg.AppEnv == "local" {
		if err := handle(context.Background()); err != nil {
			logger.Error("tick failed", "error", err)
			os.Exit(1)
		}
		return
	}

	lambda.Start(handle)
}
