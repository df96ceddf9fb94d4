// Package platform holds the small bootstrap helpers shared by every binary:
// logger construction and AWS client option shims for local development.
package platform

import (
	"log/slog"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"wisher/internal/config"
)

// NewLogger builds the JSON structured logger every binary uses.
func NewLogger(level string) *slog.Logger {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: l}))
}

// DynamoOptions points the DynamoDB client at the local endpoint when one is
// configured.
func DynamoOptions(cfg *config.Config) func(*dynamodb.Options) {
	return func(o *dynamodb.Options) {
		if cfg.AWSEndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.AWSEndpointURL)
		}
	}
}

// SQSOptions points the SQS client at the local endpoint when one is
// configured.
func SQSOptions(cfg *config.Config) func(*sqs.Options) {
	return func(o *sqs.Options) {
		if cfg.AWSEndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.AWSEndpointURL)
		}
	}
}

// CloudWatchOptions points the CloudWatch client at the local endpoint when
// one is configured.
func CloudWatchOptions(cfg *config.Config) func(*cloudwatch.Options) {
	return func(o *cloudwatch.Options) {
		if cfg.AWSEndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.AWSEndpointURL)
		}
	}
}
