// Package queue publishes billing events to SQS for downstream consumers
// such as the accounting export and client e-mail workers.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqsTypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/google/uuid"

	"stowage/internal/types"
)

// EventInvoiceSent is the event type of InvoiceSentEvent.
const EventInvoiceSent = "invoice.sent"

// SQSSender is the subset of *sqs.Client used by the publisher.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// InvoiceSentEvent is the message body published for every persisted
// invoice. Lines are not included; consumers fetch the invoice when they
// need them.
type InvoiceSentEvent struct {
	EventID     string    `json:"event_id"`
	EventType   string    `json:"event_type"`
	OccurredAt  time.Time `json:"occurred_at"`
	RunID       string    `json:"run_id,omitempty"`
	InvoiceID   string    `json:"invoice_id"`
	ClientID    string    `json:"client_id"`
	ClientName  string    `json:"client_name"`
	PeriodMonth int       `json:"period_month"`
	PeriodYear  int       `json:"period_year"`
	TotalAmount float64   `json:"total_amount"`
	Currency    string    `json:"currency"`
	DueDate     time.Time `json:"due_date"`
	LineCount   int       `json:"line_count"`
}

// InvoiceEventPublisher sends an InvoiceSentEvent per materialized invoice.
// It implements billing.InvoiceNotifier.
type InvoiceEventPublisher struct {
	client   SQSSender
	queueURL string
	currency string
	logger   *slog.Logger
	now      func() time.Time
}

// NewInvoiceEventPublisher creates a publisher for queueURL. FIFO queues
// (URL ending in .fifo) get one message group per client and deduplicate
// on the invoice id.
func NewInvoiceEventPublisher(client SQSSender, queueURL, currency string, logger *slog.Logger) *InvoiceEventPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &InvoiceEventPublisher{
		client:   client,
		queueURL: queueURL,
		currency: currency,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Name identifies the notifier in logs and metrics.
func (p *InvoiceEventPublisher) Name() string { return "sqs_invoice_events" }

// InvoiceSent publishes the event for inv.
func (p *InvoiceEventPublisher) InvoiceSent(ctx context.Context, inv types.Invoice) error {
	evt := InvoiceSentEvent{
		EventID:     uuid.NewString(),
		EventType:   EventInvoiceSent,
		OccurredAt:  p.now(),
		RunID:       types.GetRunID(ctx),
		InvoiceID:   inv.ID,
		ClientID:    inv.ClientID,
		ClientName:  inv.ClientName,
		PeriodMonth: inv.PeriodMonth,
		PeriodYear:  inv.PeriodYear,
		TotalAmount: inv.TotalAmount,
		Currency:    p.currency,
		DueDate:     inv.DueDate,
		LineCount:   len(inv.Items),
	}

	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("queue: failed to marshal %s event: %w", EventInvoiceSent, err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqsTypes.MessageAttributeValue{
			"event_type": {
				DataType:    aws.String("String"),
				StringValue: aws.String(EventInvoiceSent),
			},
		},
	}
	if strings.HasSuffix(p.queueURL, ".fifo") {
		input.MessageGroupId = aws.String(inv.ClientID)
		input.MessageDeduplicationId = aws.String(inv.ID)
	}

	if _, err := p.client.SendMessage(ctx, input); err != nil {
		return types.NewAppError(types.ErrCodeUpstreamQueue,
			fmt.Sprintf("failed to publish %s for invoice %s", EventInvoiceSent, inv.ID), err)
	}

	p.logger.InfoContext(ctx, "invoice event published",
		"queue_url", p.queueURL,
		"event_id", evt.EventID,
		"invoice_id", inv.ID,
		"client_id", inv.ClientID,
	)
	return nil
}
