// Package config loads runtime configuration from the environment.
//
// The loading sequence is:
//  1. Enforce UTC process time to prevent drift bugs.
//  2. Load a .env file via godotenv (non-fatal if absent).
//  3. Process envconfig struct tags.
//  4. Validate the populated struct with go-playground/validator.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config is the full runtime configuration for every entrypoint. Each binary
// reads the subset it needs; unused fields keep their defaults.
type Config struct {
	// AppEnv selects deployment behavior; "local" switches the Lambda
	// entrypoints to run-once mode and points AWS clients at the local
	// endpoint.
	AppEnv   string `envconfig:"APP_ENV" default:"local" validate:"oneof=local dev staging prod"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`

	// TargetHour is the local wall-clock hour deliveries aim for.
	TargetHour int `envconfig:"TARGET_HOUR" default:"9" validate:"min=0,max=23"`

	// LookbackDays is the recovery sweep window.
	LookbackDays int `envconfig:"LOOKBACK_DAYS" default:"7" validate:"min=0,max=366"`

	AWSRegion string `envconfig:"AWS_REGION" default:"us-east-1" validate:"required"`

	// AWSEndpointURL overrides the AWS endpoint for local development
	// against LocalStack. Empty means the real AWS endpoints.
	AWSEndpointURL string `envconfig:"AWS_ENDPOINT_URL"`

	UsersTable       string `envconfig:"USERS_TABLE" default:"wisher-users" validate:"required"`
	DeliveryQueueURL string `envconfig:"SQS_DELIVERY_QUEUE" validate:"required"`

	SinkURL     string        `envconfig:"SINK_URL" validate:"required,url"`
	SinkTimeout time.Duration `envconfig:"SINK_TIMEOUT" default:"10s"`

	DispatchBatchSize int    `envconfig:"DISPATCH_BATCH_SIZE" default:"10" validate:"min=1,max=10"`
	MetricNamespace   string `envconfig:"METRIC_NAMESPACE" default:"Wisher"`

	// APIListenAddr is only used by the API binary.
	APIListenAddr string `envconfig:"API_LISTEN_ADDR" default:":8080"`
}

// Load builds and validates the configuration from the environment.
func Load() (*Config, error) {
	time.Local = time.UTC

	// Does not override variables already set in the environment.
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("config: process environment: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("config: validation: %w", err)
	}

	return &cfg, nil
}
