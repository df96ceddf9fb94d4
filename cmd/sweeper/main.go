// Package main is the entrypoint for the recovery sweeper Lambda.
//
// The sweeper runs once a day, walks the recurrence index over the lookback
// window, and re-enqueues deliveries that were due but never committed to the
// ledger. The consumer's idempotency checks make re-enqueuing an already
// delivered occurrence harmless.
//
// With APP_ENV=local the binary runs one sweep and exits.
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
	logger.Info("sweeper initializing",
		"users_table", cfg.UsersTable,
		"lookback_days", cfg.LookbackDays,
	)

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion(cfg.AWSRegion))
	if err != nil {
		logger.Error("aws config load failed", "error", err)
		os.Exit(1)
	}

	userStore := store.NewUserStore(dynamodb.NewFromConfig(awsCfg, platform.DynamoOptions(cfg)), cfg.UsersTable)
	publisher := queue.NewTaskPublisher(sqs.NewFromConfig(awsCfg, platform.SQSOptions(cfg)), cfg.DeliveryQueueURL, logger)
	sweepMetrics := metrics.NewPublisher(cloudwatch.NewFromConfig(awsCfg, platform.CloudWatchOptions(cfg)), cfg.MetricNamespace, logger)

	sweeper := scheduler.NewSweeper(
		userStore,
		publisher,
		sweepMetrics,
		event.BirthdayKind{TargetHour: cfg.TargetHour},
		cfg.TargetHour,
		cfg.LookbackDays,
		types.RealClock{},
		logger,
	)

	handle := func(ctx context.Context) error {
		_, err := sweeper.Run(ctx)
		return err
	}

	if cfg.AppEnv == "local" {
		if err := handle(context.Background()); err != nil {
			logger.Error("sweep failed", "error", err)
			os.Exit(1)
		}
		return
	}

	lambda.Start(handle)
}
