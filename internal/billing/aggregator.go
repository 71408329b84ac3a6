package billing

import (
	"time"

	"stowage/internal/types"
)

// Aggregator groups storage lines into one draft invoice per client. Clients
// keep the order in which they first appeared and lines keep the order in
// which they were added.
type Aggregator struct {
	window   types.BillingWindow
	asOf     time.Time
	order    []string
	byClient map[string]*types.Invoice
}

// NewAggregator creates an Aggregator for drafts billed in window. asOf
// becomes the drafts' CreatedAt.
func NewAggregator(window types.BillingWindow, asOf time.Time) *Aggregator {
	return &Aggregator{
		window:   window,
		asOf:     asOf,
		byClient: make(map[string]*types.Invoice),
	}
}

// Add appends line to the client's draft, creating the draft on first use.
func (a *Aggregator) Add(clientID, clientName string, line types.InvoiceLine) {
	inv, ok := a.byClient[clientID]
	if !ok {
		inv = &types.Invoice{
			ID:          types.DraftInvoiceID,
			ClientID:    clientID,
			ClientName:  clientName,
			PeriodMonth: int(a.window.NextCutoff.Month()),
			PeriodYear:  a.window.NextCutoff.Year(),
			Status:      types.InvoiceStatusDraft,
			DueDate:     a.window.DueDate,
			CreatedAt:   a.asOf,
		}
		a.byClient[clientID] = inv
		a.order = append(a.order, clientID)
	}
	inv.AddLine(line)
}

// Get returns the draft for a client.
func (a *Aggregator) Get(clientID string) (*types.Invoice, bool) {
	inv, ok := a.byClient[clientID]
	return inv, ok
}

// Len returns the number of drafts.
func (a *Aggregator) Len() int {
	return len(a.order)
}

// Invoices returns the drafts in first-seen client order.
func (a *Aggregator) Invoices() []types.Invoice {
	out := make([]types.Invoice, 0, len(a.order))
	for _, id := range a.order {
		out = append(out, *a.byClient[id])
	}
	return out
}
