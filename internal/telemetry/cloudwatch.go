// Package telemetry publishes billing and API metrics to CloudWatch.
package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"stowage/internal/types"
)

// maxDatumsPerCall stays under the PutMetricData request limit.
const maxDatumsPerCall = 500

// CloudWatchClient is the subset of *cloudwatch.Client used here.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// BillingMetrics records the outcome of billing runs.
type BillingMetrics interface {
	RecordSimulation(ctx context.Context, trigger string, result *types.SimulationResult)
	RecordMaterialization(ctx context.Context, trigger string, result *types.MaterializeResult)
	RecordNotifierFailure(ctx context.Context, notifier string)
}

// Recorder is the full metrics surface used by the binaries. It satisfies
// core.MetricsCollector as well.
type Recorder interface {
	BillingMetrics
	RecordRequest(method, endpoint, status string, duration time.Duration)
	Flush(ctx context.Context) error
}

var _ Recorder = (*CloudWatchRecorder)(nil)

// CloudWatchRecorder sends billing metrics immediately and buffers
// per-request API metrics until Flush.
type CloudWatchRecorder struct {
	client    CloudWatchClient
	namespace string
	logger    *slog.Logger

	mu      sync.Mutex
	pending []cwtypes.MetricDatum
	now     func() time.Time
}

// NewCloudWatchRecorder creates a recorder publishing under namespace.
func NewCloudWatchRecorder(client CloudWatchClient, namespace string, logger *slog.Logger) *CloudWatchRecorder {
	if namespace == "" {
		namespace = types.MetricNamespace
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CloudWatchRecorder{
		client:    client,
		namespace: namespace,
		logger:    logger,
		now:       time.Now,
	}
}

// RecordSimulation emits invoice, skipped and amount totals of one run.
func (r *CloudWatchRecorder) RecordSimulation(ctx context.Context, trigger string, result *types.SimulationResult) {
	if result == nil {
		return
	}
	dims := []cwtypes.Dimension{dim(types.DimTrigger, trigger)}
	r.put(ctx, "billing run",
		r.datum(types.MetricBillingRunInvoices, float64(len(result.Invoices)), cwtypes.StandardUnitCount, dims),
		r.datum(types.MetricBillingRunSkipped, float64(len(result.Skipped)), cwtypes.StandardUnitCount, dims),
		r.datum(types.MetricBillingRunAmount, result.TotalAmount, cwtypes.StandardUnitNone, dims),
	)
}

// RecordMaterialization emits succeeded and failed invoice counts.
func (r *CloudWatchRecorder) RecordMaterialization(ctx context.Context, trigger string, result *types.MaterializeResult) {
	if result == nil {
		return
	}
	dims := []cwtypes.Dimension{dim(types.DimTrigger, trigger)}
	r.put(ctx, "materialization",
		r.datum(types.MetricInvoicesMaterialized, float64(result.Count), cwtypes.StandardUnitCount, dims),
		r.datum(types.MetricInvoiceMaterializeFailed, float64(len(result.Failed)), cwtypes.StandardUnitCount, dims),
	)
}

// RecordNotifierFailure counts one failed invoice notification.
func (r *CloudWatchRecorder) RecordNotifierFailure(ctx context.Context, notifier string) {
	r.put(ctx, "notifier failure",
		r.datum(types.MetricNotifierFailure, 1, cwtypes.StandardUnitCount,
			[]cwtypes.Dimension{dim(types.DimNotifier, notifier)}),
	)
}

// RecordRequest buffers latency and count for one API request.
func (r *CloudWatchRecorder) RecordRequest(method, endpoint, status string, duration time.Duration) {
	dims := []cwtypes.Dimension{
		dim(types.DimEndpoint, method+" "+endpoint),
		dim(types.DimStatus, status),
	}
	latency := r.datum(types.MetricAPILatency, float64(duration.Milliseconds()), cwtypes.StandardUnitMilliseconds, dims)
	count := r.datum(types.MetricAPIRequests, 1, cwtypes.StandardUnitCount, dims)

	r.mu.Lock()
	r.pending = append(r.pending, latency, count)
	r.mu.Unlock()
}

// Flush sends buffered request metrics. Datums of a failed call are
// dropped; metrics are best-effort.
func (r *CloudWatchRecorder) Flush(ctx context.Context) error {
	r.mu.Lock()
	batch := r.pending
	r.pending = nil
	r.mu.Unlock()

	for start := 0; start < len(batch); start += maxDatumsPerCall {
		end := min(start+maxDatumsPerCall, len(batch))
		if _, err := r.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
			Namespace:  aws.String(r.namespace),
			MetricData: batch[start:end],
		}); err != nil {
			return fmt.Errorf("telemetry: flushing %d request metrics: %w", len(batch)-start, err)
		}
	}
	return nil
}

// Run flushes every interval until ctx is done, then flushes once more.
func (r *CloudWatchRecorder) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := r.Flush(ctx); err != nil {
				r.logger.WarnContext(ctx, "failed to flush request metrics", "error", err)
			}
		case <-ctx.Done():
			final, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			if err := r.Flush(final); err != nil {
				r.logger.Warn("failed to flush request metrics on shutdown", "error", err)
			}
			cancel()
			return
		}
	}
}

func (r *CloudWatchRecorder) put(ctx context.Context, what string, data ...cwtypes.MetricDatum) {
	if _, err := r.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(r.namespace),
		MetricData: data,
	}); err != nil {
		r.logger.ErrorContext(ctx, "failed to record "+what+" metrics", "error", err)
	}
}

func (r *CloudWatchRecorder) datum(name string, value float64, unit cwtypes.StandardUnit, dims []cwtypes.Dimension) cwtypes.MetricDatum {
	return cwtypes.MetricDatum{
		MetricName: aws.String(name),
		Value:      aws.Float64(value),
		Unit:       unit,
		Timestamp:  aws.Time(r.now()),
		Dimensions: dims,
	}
}

func dim(name, value string) cwtypes.Dimension {
	return cwtypes.Dimension{Name: aws.String(name), Value: aws.String(value)}
}
