// Package app wires the billing components from configuration. Every
// binary builds its dependencies through Build so the API, the cutoff
// Lambda and the local tools run the same object graph.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"

	"stowage/internal/archive"
	"stowage/internal/billing"
	"stowage/internal/config"
	"stowage/internal/db"
	"stowage/internal/external"
	"stowage/internal/queue"
	"stowage/internal/telemetry"
)

// Components is the built object graph.
type Components struct {
	Pool         *pgxpool.Pool
	Containers   *db.ContainerRepository
	Invoices     *db.InvoiceRepository
	RunLocks     *db.RunLockRepository
	RunHistory   *db.RunHistoryRepository
	Engine       *billing.Engine
	Materializer *billing.Materializer
	Metrics      telemetry.Recorder
	// Archiver is nil when no archive bucket is configured.
	Archiver *archive.Archiver
}

// Close releases the database pool.
func (c *Components) Close() {
	if c.Pool != nil {
		c.Pool.Close()
	}
}

// NewLogger creates the JSON logger used by every binary.
func NewLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

// NewPool opens and pings a pgx pool tuned from cfg.
func NewPool(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL.Unmask())
	if err != nil {
		return nil, fmt.Errorf("parsing database url: %w", err)
	}
	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	poolCfg.HealthCheckPeriod = cfg.HealthCheckPeriod

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating database pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return pool, nil
}

// LoadAWSConfig loads the default AWS configuration for the configured
// region. A non-empty EndpointURL points every client at LocalStack.
func LoadAWSConfig(ctx context.Context, cfg config.AWSConfig) (aws.Config, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return aws.Config{}, fmt.Errorf("loading aws config: %w", err)
	}
	if cfg.EndpointURL != "" {
		awsCfg.BaseEndpoint = aws.String(cfg.EndpointURL)
	}
	return awsCfg, nil
}

// Build opens the database and constructs every component.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Components, error) {
	awsCfg, err := LoadAWSConfig(ctx, cfg.AWS)
	if err != nil {
		return nil, err
	}
	pool, err := NewPool(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}

	clients := Clients{
		CloudWatch: cloudwatch.NewFromConfig(awsCfg),
		SQS:        sqs.NewFromConfig(awsCfg),
		S3: s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			o.UsePathStyle = cfg.AWS.EndpointURL != ""
		}),
		Stripe: external.NewStripeHTTPClient(),
	}
	c := Assemble(cfg, pool, clients, logger)
	c.Pool = pool
	return c, nil
}

// Clients holds the outbound clients Assemble needs. A nil client disables
// the integration behind it.
type Clients struct {
	CloudWatch telemetry.CloudWatchClient
	SQS        queue.SQSSender
	S3         archive.ObjectStore
	Stripe     *external.BaseClient
}

// Assemble constructs the components on top of an open database.
func Assemble(cfg *config.Config, database db.TxDB, clients Clients, logger *slog.Logger) *Components {
	c := &Components{
		Containers: db.NewContainerRepository(database),
		Invoices:   db.NewInvoiceRepository(database),
		RunLocks:   db.NewRunLockRepository(database),
		RunHistory: db.NewRunHistoryRepository(database),
		Metrics:    newMetrics(cfg.Observability, clients.CloudWatch, logger),
	}

	c.Engine = billing.NewEngine(c.Containers, billing.EngineConfig{
		CutoffDay:        cfg.Billing.CutoffDay,
		GraceDays:        cfg.Billing.GraceDays,
		FetchConcurrency: cfg.Billing.FetchConcurrency,
	}, logger)

	notifiers := Notifiers(cfg, clients, db.NewClientRepository(database), c.Metrics, logger)
	c.Materializer = billing.NewMaterializer(c.Invoices, logger, notifiers...)

	if cfg.AWS.ArchiveBucket != "" && clients.S3 != nil {
		c.Archiver = archive.NewArchiver(clients.S3, cfg.AWS.ArchiveBucket, logger)
	}
	return c
}

// Notifiers returns the invoice notifiers enabled by cfg, each counting its
// failures in metrics.
func Notifiers(cfg *config.Config, clients Clients, profiles external.ClientProfileLookup, metrics telemetry.BillingMetrics, logger *slog.Logger) []billing.InvoiceNotifier {
	var out []billing.InvoiceNotifier
	if cfg.AWS.InvoiceEventsQueue != "" && clients.SQS != nil {
		pub := queue.NewInvoiceEventPublisher(clients.SQS, cfg.AWS.InvoiceEventsQueue, cfg.Billing.Currency, logger)
		out = append(out, telemetry.CountFailures(pub, metrics))
	}
	if cfg.Billing.StripeSecretKey.IsSet() && clients.Stripe != nil {
		dispatcher := external.NewStripeInvoiceDispatcher(clients.Stripe, profiles, external.StripeDispatcherConfig{
			SecretKey: cfg.Billing.StripeSecretKey.Unmask(),
			BaseURL:   cfg.Billing.StripeBaseURL,
			Currency:  cfg.Billing.Currency,
			Logger:    logger,
		})
		out = append(out, telemetry.CountFailures(dispatcher, metrics))
	}
	return out
}

func newMetrics(cfg config.ObservabilityConfig, client telemetry.CloudWatchClient, logger *slog.Logger) telemetry.Recorder {
	if !cfg.EnableMetrics || client == nil {
		return telemetry.NoopRecorder{}
	}
	return telemetry.NewCloudWatchRecorder(client, cfg.MetricNamespace, logger)
}
