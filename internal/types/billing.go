package types

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// BillingStrategy selects which container metric drives snapshot billing.
// It is derived from the container's line items on every evaluation and is
// never persisted.
type BillingStrategy string

const (
	StrategyVolume   BillingStrategy = "VOLUME"
	StrategyWeight   BillingStrategy = "WEIGHT"
	StrategyQuantity BillingStrategy = "QUANTITY"
)

// MetricUnit returns the display unit of the metric a strategy bills on.
func (s BillingStrategy) MetricUnit() string {
	switch s {
	case StrategyVolume:
		return "m³"
	case StrategyWeight:
		return "kg"
	default:
		return "und"
	}
}

// InvoiceStatus follows a forward-only lifecycle: draft → sent → paid|overdue.
type InvoiceStatus string

const (
	InvoiceStatusDraft   InvoiceStatus = "draft"
	InvoiceStatusSent    InvoiceStatus = "sent"
	InvoiceStatusPaid    InvoiceStatus = "paid"
	InvoiceStatusOverdue InvoiceStatus = "overdue"
)

var invoiceTransitions = map[InvoiceStatus][]InvoiceStatus{
	InvoiceStatusDraft: {InvoiceStatusSent},
	InvoiceStatusSent:  {InvoiceStatusPaid, InvoiceStatusOverdue},
}

// CanTransitionTo reports whether moving from s to next is a legal step.
func (s InvoiceStatus) CanTransitionTo(next InvoiceStatus) bool {
	for _, allowed := range invoiceTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// LineType tags what an invoice line charges for. The billing engine only
// emits storage lines.
type LineType string

const (
	LineTypeStorage  LineType = "storage"
	LineTypeExitFee  LineType = "exit_fee"
	LineTypeHandling LineType = "handling"
	LineTypeOther    LineType = "other"
)

// ChargeMethod names the calculation branch that produced a storage line.
type ChargeMethod string

const (
	ChargeMethodProRata  ChargeMethod = "pro_rata"
	ChargeMethodSnapshot ChargeMethod = "volume_snapshot"
)

// ChargeDetails is the audit payload of a storage charge. It is a closed sum
// type: the only implementations are ProRataDetails and SnapshotDetails.
type ChargeDetails interface {
	Method() ChargeMethod
	chargeDetails()
}

// ProRataDetails records a first-period charge proportional to days stored.
type ProRataDetails struct {
	DaysBilled int     `json:"days_billed"`
	BaseCost   float64 `json:"base_cost"`
}

func (ProRataDetails) Method() ChargeMethod { return ChargeMethodProRata }
func (ProRataDetails) chargeDetails()       {}

// SnapshotDetails records a full-period charge proportional to occupancy.
type SnapshotDetails struct {
	MetricUsed          float64         `json:"metric_used"`
	MetricTotal         float64         `json:"metric_total"`
	MetricUnit          string          `json:"metric_unit"`
	OccupancyPercentage int             `json:"occupancy_percentage"`
	BillingStrategy     BillingStrategy `json:"billing_strategy"`
	BaseCost            float64         `json:"base_cost"`
	Savings             float64         `json:"savings"`
}

func (SnapshotDetails) Method() ChargeMethod { return ChargeMethodSnapshot }
func (SnapshotDetails) chargeDetails()       {}

// DecodeChargeDetails decodes a details payload for the given method.
// An empty method with an empty payload yields nil details, which is valid
// for non-storage lines.
func DecodeChargeDetails(method ChargeMethod, raw json.RawMessage) (ChargeDetails, error) {
	switch method {
	case ChargeMethodProRata:
		var d ProRataDetails
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, fmt.Errorf("decoding pro_rata details: %w", err)
		}
		return d, nil
	case ChargeMethodSnapshot:
		var d SnapshotDetails
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, fmt.Errorf("decoding volume_snapshot details: %w", err)
		}
		return d, nil
	case "":
		if len(raw) == 0 || string(raw) == "null" {
			return nil, nil
		}
		return nil, fmt.Errorf("charge details present without calculation_method")
	default:
		return nil, fmt.Errorf("unknown calculation_method %q", method)
	}
}

// InvoiceLine is one charge within an invoice.
type InvoiceLine struct {
	Description   string
	Amount        float64
	Type          LineType
	ContainerID   string
	ContainerCode string
	Details       ChargeDetails
}

// Method returns the calculation method of the line, or "" for lines that
// carry no charge details.
func (l InvoiceLine) Method() ChargeMethod {
	if l.Details == nil {
		return ""
	}
	return l.Details.Method()
}

type invoiceLineJSON struct {
	Description       string          `json:"description"`
	Amount            float64         `json:"amount"`
	Type              LineType        `json:"type"`
	ContainerID       string          `json:"container_id,omitempty"`
	ContainerCode     string          `json:"container_code,omitempty"`
	CalculationMethod ChargeMethod    `json:"calculation_method,omitempty"`
	Details           json.RawMessage `json:"details,omitempty"`
}

// MarshalJSON flattens the charge details next to a calculation_method tag.
func (l InvoiceLine) MarshalJSON() ([]byte, error) {
	out := invoiceLineJSON{
		Description:       l.Description,
		Amount:            l.Amount,
		Type:              l.Type,
		ContainerID:       l.ContainerID,
		ContainerCode:     l.ContainerCode,
		CalculationMethod: l.Method(),
	}
	if l.Details != nil {
		raw, err := json.Marshal(l.Details)
		if err != nil {
			return nil, err
		}
		out.Details = raw
	}
	return json.Marshal(out)
}

// UnmarshalJSON restores the charge details variant named by
// calculation_method.
func (l *InvoiceLine) UnmarshalJSON(data []byte) error {
	var in invoiceLineJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	details, err := DecodeChargeDetails(in.CalculationMethod, in.Details)
	if err != nil {
		return err
	}
	*l = InvoiceLine{
		Description:   in.Description,
		Amount:        in.Amount,
		Type:          in.Type,
		ContainerID:   in.ContainerID,
		ContainerCode: in.ContainerCode,
		Details:       details,
	}
	return nil
}

// DraftInvoiceID is the placeholder identity of an invoice that has not been
// materialized.
const DraftInvoiceID = "draft"

// Invoice is one client's bill for a period.
type Invoice struct {
	ID          string        `json:"id"`
	ClientID    string        `json:"client_id" validate:"required"`
	ClientName  string        `json:"client_name"`
	PeriodMonth int           `json:"period_month" validate:"min=1,max=12"`
	PeriodYear  int           `json:"period_year" validate:"min=2000,max=9999"`
	TotalAmount float64       `json:"total_amount" validate:"gte=0"`
	Status      InvoiceStatus `json:"status"`
	DueDate     time.Time     `json:"due_date"`
	CreatedAt   time.Time     `json:"created_at"`
	Items       []InvoiceLine `json:"items" validate:"required,min=1"`
}

// AddLine appends a line and folds its amount into the running total.
func (inv *Invoice) AddLine(line InvoiceLine) {
	inv.Items = append(inv.Items, line)
	inv.TotalAmount = RoundCents(inv.TotalAmount + line.Amount)
}

// LinesTotal recomputes the sum of the line amounts.
func (inv *Invoice) LinesTotal() float64 {
	var sum float64
	for _, it := range inv.Items {
		sum += it.Amount
	}
	return RoundCents(sum)
}

// MarkSent moves a draft to sent under a new persisted identity.
func (inv *Invoice) MarkSent(id string, at time.Time) error {
	if !inv.Status.CanTransitionTo(InvoiceStatusSent) {
		return fmt.Errorf("invoice for client %s cannot move from %q to %q", inv.ClientID, inv.Status, InvoiceStatusSent)
	}
	inv.ID = id
	inv.Status = InvoiceStatusSent
	inv.CreatedAt = at
	return nil
}

// RoundCents rounds a currency amount half away from zero to two decimals.
func RoundCents(v float64) float64 {
	return math.Round(v*100) / 100
}

// BillingWindow is the active billing period. PreviousCutoff is exclusive and
// NextCutoff inclusive.
type BillingWindow struct {
	PreviousCutoff time.Time `json:"previous_cutoff"`
	NextCutoff     time.Time `json:"next_cutoff"`
	DueDate        time.Time `json:"due_date"`
}

// SkippedContainer identifies a container whose charge could not be computed.
type SkippedContainer struct {
	ContainerID   string `json:"container_id"`
	ContainerCode string `json:"container_code"`
	Reason        string `json:"reason"`
}

// SimulationResult is the outcome of one billing simulation. Nothing in it
// has been persisted.
type SimulationResult struct {
	AsOf             time.Time          `json:"as_of"`
	Window           BillingWindow      `json:"window"`
	Invoices         []Invoice          `json:"invoices"`
	ContainersBilled int                `json:"containers_billed"`
	Skipped          []SkippedContainer `json:"skipped"`
	TotalAmount      float64            `json:"total_amount"`
}

// MaterializeFailure identifies a draft that could not be persisted.
type MaterializeFailure struct {
	ClientID   string `json:"client_id"`
	ClientName string `json:"client_name"`
	Error      string `json:"error"`
}

// MaterializeResult reports the persisted invoices and the drafts that
// failed, so callers can resubmit only the failures.
type MaterializeResult struct {
	Count     int                  `json:"count"`
	Succeeded []Invoice            `json:"succeeded"`
	Failed    []MaterializeFailure `json:"failed"`
}

// RunStatus is the final state of a billing run.
type RunStatus string

const (
	RunStatusRunning RunStatus = "running"
	RunStatusSuccess RunStatus = "success"
	// RunStatusPartial means some drafts failed to materialize.
	RunStatusPartial RunStatus = "partial"
	RunStatusFailed  RunStatus = "failed"
	RunStatusSkipped RunStatus = "skipped"
)

// RunOutcome is what a finished billing run records in its history entry.
type RunOutcome struct {
	Status     RunStatus
	Invoices   int
	Failed     int
	ArchiveKey string
	Err        error
}
