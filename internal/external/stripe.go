package external

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	stripe "github.com/stripe/stripe-go/v82"

	"stowage/internal/types"
)

const stripeAPIBase = "https://api.stripe.com"

// ClientProfileLookup resolves the billing profile, and with it the Stripe
// customer id, of a client. *db.ClientRepository implements it.
type ClientProfileLookup interface {
	GetBillingProfile(ctx context.Context, clientID string) (*types.ClientBillingProfile, error)
}

// StripeDispatcherConfig configures a StripeInvoiceDispatcher. BaseURL
// defaults to the public Stripe API and Currency to usd; tests point BaseURL
// at an httptest server.
type StripeDispatcherConfig struct {
	SecretKey string
	BaseURL   string
	Currency  string
	Logger    *slog.Logger
}

// StripeInvoiceDispatcher mirrors every materialized invoice into Stripe
// and asks Stripe to e-mail it to the client. It implements
// billing.InvoiceNotifier.
//
// One Stripe invoice item is created per invoice line, then an invoice that
// collects the pending items, then the invoice is sent. Every request
// carries an idempotency key derived from the local invoice id, so a retried
// dispatch never bills a client twice. Clients without a Stripe customer are
// skipped.
type StripeInvoiceDispatcher struct {
	base      *BaseClient
	secretKey string
	baseURL   string
	currency  string
	clients   ClientProfileLookup
	logger    *slog.Logger
}

// NewStripeInvoiceDispatcher creates a dispatcher using base for transport.
func NewStripeInvoiceDispatcher(base *BaseClient, clients ClientProfileLookup, cfg StripeDispatcherConfig) *StripeInvoiceDispatcher {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = stripeAPIBase
	}
	currency := cfg.Currency
	if currency == "" {
		currency = "usd"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &StripeInvoiceDispatcher{
		base:      base,
		secretKey: cfg.SecretKey,
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		currency:  currency,
		clients:   clients,
		logger:    logger,
	}
}

// NewStripeHTTPClient returns the BaseClient configuration used for Stripe:
// a 20 second request timeout, the default retry policy and a breaker named
// "stripe" so its state is reported separately from other vendors.
func NewStripeHTTPClient() *BaseClient {
	return NewBaseClient(&http.Client{Timeout: 20 * time.Second}, "stripe", DefaultRetryPolicy(), "Stowage/1.0")
}

// Name identifies the notifier in logs and metrics.
func (s *StripeInvoiceDispatcher) Name() string { return "stripe" }

// InvoiceSent creates and sends the Stripe invoice for inv.
//
// The sequence is:
//  1. Look up the client's Stripe customer; skip the invoice when none is set.
//  2. POST /v1/invoiceitems once per line, in minor units.
//  3. POST /v1/invoices with collection_method=send_invoice, the local due
//     date, and the pending items included.
//  4. POST /v1/invoices/{id}/send.
//
// A failure at any step returns an upstream AppError. Retrying InvoiceSent
// for the same invoice replays the same idempotency keys.
func (s *StripeInvoiceDispatcher) InvoiceSent(ctx context.Context, inv types.Invoice) error {
	profile, err := s.clients.GetBillingProfile(ctx, inv.ClientID)
	if err != nil {
		return err
	}
	if profile.StripeCustomerID == nil || *profile.StripeCustomerID == "" {
		s.logger.DebugContext(ctx, "client has no Stripe customer; skipping dispatch",
			"client_id", inv.ClientID,
			"invoice_id", inv.ID,
		)
		return nil
	}
	customer := *profile.StripeCustomerID

	for i, line := range inv.Items {
		params := url.Values{}
		params.Set("customer", customer)
		params.Set("currency", s.currency)
		params.Set("amount", strconv.FormatInt(toMinorUnits(line.Amount), 10))
		params.Set("description", line.Description)
		params.Set("metadata[invoice_id]", inv.ID)
		if line.ContainerID != "" {
			params.Set("metadata[container_id]", line.ContainerID)
		}
		if m := line.Method(); m != "" {
			params.Set("metadata[calculation_method]", string(m))
		}

		var item stripe.InvoiceItem
		if err := s.post(ctx, "/v1/invoiceitems", idempotencyKey(inv.ID, fmt.Sprintf("item-%d", i)), params, &item); err != nil {
			return err
		}
	}

	params := url.Values{}
	params.Set("customer", customer)
	params.Set("collection_method", "send_invoice")
	params.Set("pending_invoice_items_behavior", "include")
	params.Set("due_date", strconv.FormatInt(inv.DueDate.Unix(), 10))
	params.Set("metadata[invoice_id]", inv.ID)
	params.Set("metadata[period]", fmt.Sprintf("%04d-%02d", inv.PeriodYear, inv.PeriodMonth))

	var created stripe.Invoice
	if err := s.post(ctx, "/v1/invoices", idempotencyKey(inv.ID, "invoice"), params, &created); err != nil {
		return err
	}

	var sent stripe.Invoice
	if err := s.post(ctx, "/v1/invoices/"+url.PathEscape(created.ID)+"/send", idempotencyKey(inv.ID, "send"), url.Values{}, &sent); err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "invoice dispatched to Stripe",
		"invoice_id", inv.ID,
		"client_id", inv.ClientID,
		"stripe_invoice_id", sent.ID,
		"stripe_status", string(sent.Status),
	)
	return nil
}

// post sends a form-encoded request and decodes a 2xx body into out.
func (s *StripeInvoiceDispatcher) post(ctx context.Context, path, idemKey string, params url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, strings.NewReader(params.Encode()))
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to build Stripe request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer "+s.secretKey)
	req.Header.Set("Stripe-Version", stripe.APIVersion)
	req.Header.Set("Idempotency-Key", idemKey)

	resp, err := s.base.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return stripeError(path, resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return types.NewAppError(types.ErrCodeUpstreamStripe,
			fmt.Sprintf("failed to decode Stripe response for %s", path), err)
	}
	return nil
}

func stripeError(path string, resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var body struct {
		Error *stripe.Error `json:"error"`
	}
	if err := json.Unmarshal(raw, &body); err != nil || body.Error == nil {
		return types.NewAppError(types.ErrCodeUpstreamStripe,
			fmt.Sprintf("Stripe returned %d for %s", resp.StatusCode, path), err)
	}

	details := map[string]any{
		"stripe_type":   string(body.Error.Type),
		"stripe_status": resp.StatusCode,
	}
	if body.Error.Code != "" {
		details["stripe_code"] = string(body.Error.Code)
	}
	if body.Error.Param != "" {
		details["stripe_param"] = body.Error.Param
	}
	return types.NewAppErrorWithDetails(types.ErrCodeUpstreamStripe,
		fmt.Sprintf("Stripe rejected %s: %s", path, body.Error.Msg), nil, details)
}

func idempotencyKey(invoiceID, step string) string {
	return "stowage-" + invoiceID + "-" + step
}

// toMinorUnits converts an amount to cents, rounding half away from zero.
func toMinorUnits(amount float64) int64 {
	return int64(math.Round(amount * 100))
}
