package queue

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stowage/internal/types"
)

// mockSQSSender captures SendMessage calls.
type mockSQSSender struct {
	calls []*sqs.SendMessageInput
	err   error
}

func (m *mockSQSSender) SendMessage(_ context.Context, params *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	m.calls = append(m.calls, params)
	if m.err != nil {
		return nil, m.err
	}
	return &sqs.SendMessageOutput{}, nil
}

const (
	testQueueURL     = "https://sqs.us-east-1.amazonaws.com/123456789/invoice-events"
	testFIFOQueueURL = "https://sqs.us-east-1.amazonaws.com/123456789/invoice-events.fifo"
)

func sentInvoice() types.Invoice {
	return types.Invoice{
		ID:          "5f7e2a8c-3b1d-4c9a-8e6f-0d2b4a6c8e10",
		ClientID:    "cl-1",
		ClientName:  "Acme Imports",
		PeriodMonth: 2,
		PeriodYear:  2024,
		TotalAmount: 440.5,
		Status:      types.InvoiceStatusSent,
		DueDate:     time.Date(2024, 3, 6, 0, 0, 0, 0, time.UTC),
		Items: []types.InvoiceLine{
			{Description: "Storage A", Amount: 400, Type: types.LineTypeStorage},
			{Description: "Storage B", Amount: 40.5, Type: types.LineTypeStorage},
		},
	}
}

func newTestPublisher(mock *mockSQSSender, url string) *InvoiceEventPublisher {
	p := NewInvoiceEventPublisher(mock, url, "usd", slog.New(slog.DiscardHandler))
	p.now = func() time.Time { return time.Date(2024, 2, 25, 6, 0, 0, 0, time.UTC) }
	return p
}

func TestInvoiceSent_PublishesEvent(t *testing.T) {
	mock := &mockSQSSender{}
	p := newTestPublisher(mock, testQueueURL)

	ctx := types.WithRunID(context.Background(), "run-42")
	require.NoError(t, p.InvoiceSent(ctx, sentInvoice()))
	require.Len(t, mock.calls, 1)

	call := mock.calls[0]
	assert.Equal(t, testQueueURL, *call.QueueUrl)
	assert.Equal(t, EventInvoiceSent, *call.MessageAttributes["event_type"].StringValue)
	assert.Nil(t, call.MessageGroupId)

	var evt InvoiceSentEvent
	require.NoError(t, json.Unmarshal([]byte(*call.MessageBody), &evt))
	assert.Equal(t, EventInvoiceSent, evt.EventType)
	assert.Equal(t, "run-42", evt.RunID)
	assert.Equal(t, "5f7e2a8c-3b1d-4c9a-8e6f-0d2b4a6c8e10", evt.InvoiceID)
	assert.Equal(t, "cl-1", evt.ClientID)
	assert.Equal(t, 440.5, evt.TotalAmount)
	assert.Equal(t, "usd", evt.Currency)
	assert.Equal(t, 2, evt.LineCount)
	assert.Len(t, evt.EventID, 36)
}

func TestInvoiceSent_FIFOQueue(t *testing.T) {
	mock := &mockSQSSender{}
	p := newTestPublisher(mock, testFIFOQueueURL)

	require.NoError(t, p.InvoiceSent(context.Background(), sentInvoice()))
	require.Len(t, mock.calls, 1)
	assert.Equal(t, "cl-1", *mock.calls[0].MessageGroupId)
	assert.Equal(t, "5f7e2a8c-3b1d-4c9a-8e6f-0d2b4a6c8e10", *mock.calls[0].MessageDeduplicationId)
}

func TestInvoiceSent_SendFailure(t *testing.T) {
	mock := &mockSQSSender{err: errors.New("AWS.SimpleQueueService.NonExistentQueue")}
	p := newTestPublisher(mock, testQueueURL)

	err := p.InvoiceSent(context.Background(), sentInvoice())

	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeUpstreamQueue, appErr.Code)
	assert.ErrorContains(t, err, "invoice.sent")
}

func TestPublisherName(t *testing.T) {
	assert.Equal(t, "sqs_invoice_events", NewInvoiceEventPublisher(&mockSQSSender{}, testQueueURL, "usd", nil).Name())
}
