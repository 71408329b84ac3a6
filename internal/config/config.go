// Package config loads the process configuration once at startup.
//
// Values resolve through the chain
//
//	OS environment -> .env file -> AWS SSM Parameter Store
//
// and the populated struct is validated before use. A missing or malformed
// value fails startup.
package config

import (
	"time"

	"stowage/internal/types"
)

// SecretString is the redacted secret type used for credentials.
type SecretString = types.SecretString

// Config is the top-level configuration. Components receive only the
// section they need.
type Config struct {
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"OTEL_SERVICE_NAME" default:"stowage-billing"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`

	Server        ServerConfig
	Database      DatabaseConfig
	AWS           AWSConfig
	Billing       BillingConfig
	Security      SecurityConfig
	Observability ObservabilityConfig

	// Injected via ldflags, not the environment.
	Build BuildInfo
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            string        `envconfig:"PORT" default:"8080"`
	RequestTimeout  time.Duration `envconfig:"REQUEST_TIMEOUT" default:"30s"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"15s"`
}

// DatabaseConfig holds the connection string and pool tuning.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"required"`

	MaxConns          int32         `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns          int32         `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
}

// AWSConfig holds AWS resource identifiers. Empty identifiers disable the
// integration that uses them.
type AWSConfig struct {
	Region string `envconfig:"AWS_REGION" default:"us-east-1"`

	ArchiveBucket      string `envconfig:"BILLING_ARCHIVE_BUCKET"`
	InvoiceEventsQueue string `envconfig:"SQS_INVOICE_EVENTS" validate:"omitempty,url"`

	// LocalStack support; empty in production.
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL" validate:"omitempty,url"`
}

// BillingConfig holds the billing engine tunables and the optional Stripe
// credentials used to dispatch sent invoices.
type BillingConfig struct {
	CutoffDay        int          `envconfig:"BILLING_CUTOFF_DAY" default:"25" validate:"min=1,max=31"`
	GraceDays        int          `envconfig:"BILLING_GRACE_DAYS" default:"10" validate:"min=1,max=90"`
	Currency         string       `envconfig:"BILLING_CURRENCY" default:"usd" validate:"len=3,lowercase"`
	FetchConcurrency int          `envconfig:"BILLING_FETCH_CONCURRENCY" default:"8" validate:"min=1,max=64"`
	MaxBatchInvoices int          `envconfig:"BILLING_MAX_BATCH_INVOICES" default:"500" validate:"min=1"`
	StripeSecretKey  SecretString `envconfig:"STRIPE_SECRET_KEY"`
	StripeBaseURL    string       `envconfig:"STRIPE_BASE_URL" default:"https://api.stripe.com" validate:"url"`
}

// SecurityConfig holds CORS settings.
type SecurityConfig struct {
	CorsAllowedOrigins []string `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
}

// ObservabilityConfig holds telemetry settings.
type ObservabilityConfig struct {
	MetricNamespace string `envconfig:"METRIC_NAMESPACE" default:"Stowage"`
	EnableMetrics   bool   `envconfig:"ENABLE_METRICS" default:"true"`
}

// BuildInfo holds build-time metadata injected via ldflags.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// ConfigErrorType categorizes configuration loading failures.
type ConfigErrorType string

const (
	ErrMissingEnv    ConfigErrorType = "MISSING_ENV"
	ErrSSMResolution ConfigErrorType = "SSM_FAILURE"
	ErrValidation    ConfigErrorType = "VALIDATION_FAILED"
	ErrParsing       ConfigErrorType = "PARSING_FAILED"
)
