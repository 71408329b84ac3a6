package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stowage/internal/config"
	"stowage/internal/external"
	"stowage/internal/telemetry"
	"stowage/internal/types"
)

var errUnused = errors.New("not used in this test")

type nopDB struct{}

func (nopDB) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, errUnused
}
func (nopDB) Query(context.Context, string, ...any) (pgx.Rows, error) { return nil, errUnused }
func (nopDB) QueryRow(context.Context, string, ...any) pgx.Row        { return nil }
func (nopDB) Begin(context.Context) (pgx.Tx, error)                   { return nil, errUnused }

type nopCloudWatch struct{}

func (nopCloudWatch) PutMetricData(context.Context, *cloudwatch.PutMetricDataInput, ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error) {
	return &cloudwatch.PutMetricDataOutput{}, nil
}

type nopSQS struct{}

func (nopSQS) SendMessage(context.Context, *sqs.SendMessageInput, ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	return &sqs.SendMessageOutput{}, nil
}

type nopS3 struct{}

func (nopS3) PutObject(context.Context, *s3.PutObjectInput, ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	return &s3.PutObjectOutput{}, nil
}

func (nopS3) GetObject(context.Context, *s3.GetObjectInput, ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	return nil, errUnused
}

type nopProfiles struct{}

func (nopProfiles) GetBillingProfile(context.Context, string) (*types.ClientBillingProfile, error) {
	return nil, errUnused
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() *config.Config {
	return &config.Config{
		Environment: "local",
		Billing: config.BillingConfig{
			CutoffDay:        25,
			GraceDays:        10,
			Currency:         "usd",
			FetchConcurrency: 4,
			StripeBaseURL:    "https://api.stripe.com",
		},
		Observability: config.ObservabilityConfig{MetricNamespace: "Stowage", EnableMetrics: true},
	}
}

func allClients() Clients {
	return Clients{
		CloudWatch: nopCloudWatch{},
		SQS:        nopSQS{},
		S3:         nopS3{},
		Stripe:     external.NewStripeHTTPClient(),
	}
}

func notifierNames(t *testing.T, cfg *config.Config, clients Clients) []string {
	t.Helper()
	var names []string
	for _, n := range Notifiers(cfg, clients, nopProfiles{}, telemetry.NoopRecorder{}, testLogger()) {
		names = append(names, n.Name())
	}
	return names
}

func TestNotifiers(t *testing.T) {
	t.Run("none configured", func(t *testing.T) {
		assert.Empty(t, notifierNames(t, testConfig(), allClients()))
	})

	t.Run("queue only", func(t *testing.T) {
		cfg := testConfig()
		cfg.AWS.InvoiceEventsQueue = "https://sqs.us-east-1.amazonaws.com/123/invoices.fifo"
		assert.Equal(t, []string{"sqs_invoice_events"}, notifierNames(t, cfg, allClients()))
	})

	t.Run("queue and stripe", func(t *testing.T) {
		cfg := testConfig()
		cfg.AWS.InvoiceEventsQueue = "https://sqs.us-east-1.amazonaws.com/123/invoices"
		cfg.Billing.StripeSecretKey = "sk_test_123"
		assert.Equal(t, []string{"sqs_invoice_events", "stripe"}, notifierNames(t, cfg, allClients()))
	})

	t.Run("missing client disables notifier", func(t *testing.T) {
		cfg := testConfig()
		cfg.AWS.InvoiceEventsQueue = "https://sqs.us-east-1.amazonaws.com/123/invoices"
		cfg.Billing.StripeSecretKey = "sk_test_123"
		assert.Empty(t, notifierNames(t, cfg, Clients{}))
	})
}

func TestAssemble(t *testing.T) {
	t.Run("all integrations", func(t *testing.T) {
		cfg := testConfig()
		cfg.AWS.ArchiveBucket = "stowage-archive"

		c := Assemble(cfg, nopDB{}, allClients(), testLogger())
		require.NotNil(t, c.Engine)
		require.NotNil(t, c.Materializer)
		require.NotNil(t, c.Containers)
		require.NotNil(t, c.Invoices)
		require.NotNil(t, c.RunLocks)
		require.NotNil(t, c.RunHistory)
		assert.NotNil(t, c.Archiver)
		assert.IsType(t, &telemetry.CloudWatchRecorder{}, c.Metrics)
	})

	t.Run("metrics disabled and no bucket", func(t *testing.T) {
		cfg := testConfig()
		cfg.Observability.EnableMetrics = false

		c := Assemble(cfg, nopDB{}, allClients(), testLogger())
		assert.Nil(t, c.Archiver)
		assert.IsType(t, telemetry.NoopRecorder{}, c.Metrics)
	})

	t.Run("engine uses configured cutoff", func(t *testing.T) {
		cfg := testConfig()
		cfg.Billing.CutoffDay = 10

		c := Assemble(cfg, nopDB{}, Clients{}, testLogger())
		w, err := c.Engine.Window(mustDate(t, "2025-03-15"))
		require.NoError(t, err)
		assert.Equal(t, "2025-04-10", w.NextCutoff.Format("2006-01-02"))
	})
}

func TestComponentsClose_NoPool(t *testing.T) {
	assert.NotPanics(t, func() { (&Components{}).Close() })
}

func TestNewLogger(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		level   string
		enabled slog.Level
		blocked slog.Level
	}{
		{"debug", slog.LevelDebug, slog.LevelDebug - 1},
		{"info", slog.LevelInfo, slog.LevelDebug},
		{"warn", slog.LevelWarn, slog.LevelInfo},
		{"error", slog.LevelError, slog.LevelWarn},
		{"bogus", slog.LevelInfo, slog.LevelDebug},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			l := NewLogger(tt.level)
			assert.True(t, l.Enabled(ctx, tt.enabled))
			assert.False(t, l.Enabled(ctx, tt.blocked))
		})
	}
}

func mustDate(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := time.Parse(time.DateOnly, s)
	require.NoError(t, err)
	return d
}
