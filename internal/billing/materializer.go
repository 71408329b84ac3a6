package billing

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"stowage/internal/types"
)

// InvoiceStore persists one invoice with its lines atomically.
type InvoiceStore interface {
	CreateInvoice(ctx context.Context, inv *types.Invoice) error
}

// InvoiceNotifier is told about every invoice that was persisted. A
// notifier failure never undoes the persisted invoice.
type InvoiceNotifier interface {
	Name() string
	InvoiceSent(ctx context.Context, inv types.Invoice) error
}

// Materializer turns draft invoices into persisted, sent invoices.
//
// Each draft is handled on its own: a failure is logged and reported while
// the remaining drafts are still processed. Materializing the same drafts
// twice creates two sets of invoices.
type Materializer struct {
	store     InvoiceStore
	notifiers []InvoiceNotifier
	logger    *slog.Logger
	newID     func() string
	now       func() time.Time
}

// NewMaterializer creates a Materializer writing through store.
func NewMaterializer(store InvoiceStore, logger *slog.Logger, notifiers ...InvoiceNotifier) *Materializer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Materializer{
		store:     store,
		notifiers: notifiers,
		logger:    logger,
		newID:     uuid.NewString,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Materialize persists every valid draft under a new identity with status
// sent. The returned result lists succeeded and failed drafts; the error is
// non-nil only when ctx was already done.
func (m *Materializer) Materialize(ctx context.Context, drafts []types.Invoice) (*types.MaterializeResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	logger := types.LoggerFromContext(ctx, m.logger)

	result := &types.MaterializeResult{
		Succeeded: make([]types.Invoice, 0, len(drafts)),
		Failed:    []types.MaterializeFailure{},
	}

	for _, draft := range drafts {
		inv, err := m.materializeOne(ctx, draft)
		if err != nil {
			logger.ErrorContext(ctx, "Failed to materialize invoice",
				"client_id", draft.ClientID,
				"client_name", draft.ClientName,
				"period", fmt.Sprintf("%04d-%02d", draft.PeriodYear, draft.PeriodMonth),
				"error", err,
			)
			result.Failed = append(result.Failed, types.MaterializeFailure{
				ClientID:   draft.ClientID,
				ClientName: draft.ClientName,
				Error:      err.Error(),
			})
			continue
		}
		result.Succeeded = append(result.Succeeded, inv)
		m.notify(ctx, logger, inv)
	}

	result.Count = len(result.Succeeded)
	logger.InfoContext(ctx, "Invoices materialized",
		"count", result.Count,
		"failed", len(result.Failed),
	)
	return result, nil
}

func (m *Materializer) materializeOne(ctx context.Context, draft types.Invoice) (types.Invoice, error) {
	if err := ctx.Err(); err != nil {
		return types.Invoice{}, err
	}
	if err := ValidateDraft(draft); err != nil {
		return types.Invoice{}, err
	}

	inv := draft
	inv.Items = append([]types.InvoiceLine(nil), draft.Items...)
	if err := inv.MarkSent(m.newID(), m.now()); err != nil {
		return types.Invoice{}, types.NewAppError(types.ErrCodeValidationInvoice, err.Error(), nil)
	}
	if err := m.store.CreateInvoice(ctx, &inv); err != nil {
		return types.Invoice{}, err
	}
	return inv, nil
}

func (m *Materializer) notify(ctx context.Context, logger *slog.Logger, inv types.Invoice) {
	for _, n := range m.notifiers {
		if err := n.InvoiceSent(ctx, inv); err != nil {
			logger.WarnContext(ctx, "Invoice notifier failed",
				"notifier", n.Name(),
				"invoice_id", inv.ID,
				"client_id", inv.ClientID,
				"error", err,
			)
		}
	}
}

// ValidateDraft checks that a draft can be materialized: it is still a
// draft, names a client, has lines, and its total equals the sum of its
// lines.
func ValidateDraft(inv types.Invoice) error {
	switch {
	case inv.Status != types.InvoiceStatusDraft:
		return types.NewAppError(types.ErrCodeValidationInvoice,
			fmt.Sprintf("invoice for client %s has status %q, want draft", inv.ClientID, inv.Status), nil)
	case inv.ClientID == "":
		return types.NewAppError(types.ErrCodeValidationInvoice, "invoice has no client", nil)
	case len(inv.Items) == 0:
		return types.NewAppError(types.ErrCodeValidationInvoice,
			fmt.Sprintf("invoice for client %s has no lines", inv.ClientID), nil)
	}
	if math.Abs(inv.TotalAmount-inv.LinesTotal()) > 0.005 {
		return types.NewAppErrorWithDetails(types.ErrCodeValidationInvoice,
			fmt.Sprintf("invoice for client %s total does not match its lines", inv.ClientID), nil,
			map[string]any{"total_amount": inv.TotalAmount, "lines_total": inv.LinesTotal()})
	}
	return nil
}
