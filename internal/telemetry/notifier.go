package telemetry

import (
	"context"

	"stowage/internal/types"
)

// invoiceNotifier matches billing.InvoiceNotifier.
type invoiceNotifier interface {
	Name() string
	InvoiceSent(ctx context.Context, inv types.Invoice) error
}

// CountingNotifier wraps a notifier and counts its failures. Errors are
// passed through unchanged.
type CountingNotifier struct {
	next    invoiceNotifier
	metrics BillingMetrics
}

// CountFailures wraps n.
func CountFailures(n invoiceNotifier, m BillingMetrics) *CountingNotifier {
	return &CountingNotifier{next: n, metrics: m}
}

func (c *CountingNotifier) Name() string { return c.next.Name() }

func (c *CountingNotifier) InvoiceSent(ctx context.Context, inv types.Invoice) error {
	err := c.next.InvoiceSent(ctx, inv)
	if err != nil {
		c.metrics.RecordNotifierFailure(ctx, c.next.Name())
	}
	return err
}
