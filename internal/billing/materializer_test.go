package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"stowage/internal/types"
)

type mockInvoiceStore struct {
	mock.Mock
}

func (m *mockInvoiceStore) CreateInvoice(ctx context.Context, inv *types.Invoice) error {
	args := m.Called(ctx, inv)
	return args.Error(0)
}

type recordingNotifier struct {
	name string
	err  error
	sent []types.Invoice
}

func (n *recordingNotifier) Name() string { return n.name }

func (n *recordingNotifier) InvoiceSent(_ context.Context, inv types.Invoice) error {
	n.sent = append(n.sent, inv)
	return n.err
}

func draft(clientID string, amounts ...float64) types.Invoice {
	inv := types.Invoice{
		ID:          types.DraftInvoiceID,
		ClientID:    clientID,
		ClientName:  "Client " + clientID,
		PeriodMonth: 2,
		PeriodYear:  2026,
		Status:      types.InvoiceStatusDraft,
		DueDate:     date(2026, 3, 7),
	}
	for i, a := range amounts {
		inv.AddLine(types.InvoiceLine{
			Description: fmt.Sprintf("Storage VOLUME - C%d", i),
			Amount:      a,
			Type:        types.LineTypeStorage,
			Details:     types.ProRataDetails{DaysBilled: 5, BaseCost: 3000},
		})
	}
	return inv
}

func newTestMaterializer(store InvoiceStore, notifiers ...InvoiceNotifier) *Materializer {
	m := NewMaterializer(store, slog.New(slog.DiscardHandler), notifiers...)
	n := 0
	m.newID = func() string {
		n++
		return fmt.Sprintf("inv-%d", n)
	}
	m.now = func() time.Time { return time.Date(2026, 2, 25, 6, 0, 0, 0, time.UTC) }
	return m
}

func TestMaterialize_TwoDrafts(t *testing.T) {
	store := new(mockInvoiceStore)
	store.On("CreateInvoice", mock.Anything, mock.AnythingOfType("*types.Invoice")).Return(nil).Twice()

	drafts := []types.Invoice{draft("cl-1", 3000), draft("cl-2", 500, 1500)}
	res, err := newTestMaterializer(store).Materialize(context.Background(), drafts)
	require.NoError(t, err)

	assert.Equal(t, 2, res.Count)
	assert.Empty(t, res.Failed)
	require.Len(t, res.Succeeded, 2)

	ids := map[string]bool{}
	for _, inv := range res.Succeeded {
		assert.Equal(t, types.InvoiceStatusSent, inv.Status)
		assert.NotEqual(t, types.DraftInvoiceID, inv.ID)
		assert.Equal(t, time.Date(2026, 2, 25, 6, 0, 0, 0, time.UTC), inv.CreatedAt)
		ids[inv.ID] = true
	}
	assert.Len(t, ids, 2, "ids must be distinct")

	// Drafts are left untouched so a failed subset can be resubmitted.
	assert.Equal(t, types.DraftInvoiceID, drafts[0].ID)
	assert.Equal(t, types.InvoiceStatusDraft, drafts[0].Status)
	store.AssertExpectations(t)
}

func TestMaterialize_DefaultIDsAreUUIDs(t *testing.T) {
	store := new(mockInvoiceStore)
	store.On("CreateInvoice", mock.Anything, mock.Anything).Return(nil)

	m := NewMaterializer(store, nil)
	first, err := m.Materialize(context.Background(), []types.Invoice{draft("cl-1", 10), draft("cl-2", 20)})
	require.NoError(t, err)
	second, err := m.Materialize(context.Background(), []types.Invoice{draft("cl-1", 10)})
	require.NoError(t, err)

	assert.Len(t, first.Succeeded[0].ID, 36)
	assert.NotEqual(t, first.Succeeded[0].ID, first.Succeeded[1].ID)
	assert.NotEqual(t, first.Succeeded[0].ID, second.Succeeded[0].ID)
}

func TestMaterialize_PartialFailureContinues(t *testing.T) {
	store := new(mockInvoiceStore)
	store.On("CreateInvoice", mock.Anything, mock.MatchedBy(func(inv *types.Invoice) bool {
		return inv.ClientID == "cl-2"
	})).Return(types.NewAppError(types.ErrCodeInternalDB, "insert failed", errors.New("deadlock"))).Once()
	store.On("CreateInvoice", mock.Anything, mock.Anything).Return(nil)

	res, err := newTestMaterializer(store).Materialize(context.Background(),
		[]types.Invoice{draft("cl-1", 10), draft("cl-2", 20), draft("cl-3", 30)})
	require.NoError(t, err)

	assert.Equal(t, 2, res.Count)
	require.Len(t, res.Failed, 1)
	assert.Equal(t, "cl-2", res.Failed[0].ClientID)
	assert.Equal(t, "Client cl-2", res.Failed[0].ClientName)
	assert.Contains(t, res.Failed[0].Error, "insert failed")
	assert.Equal(t, "cl-1", res.Succeeded[0].ClientID)
	assert.Equal(t, "cl-3", res.Succeeded[1].ClientID)
}

func TestMaterialize_RejectsInvalidDrafts(t *testing.T) {
	sent := draft("cl-1", 10)
	sent.Status = types.InvoiceStatusSent

	mismatched := draft("cl-2", 10)
	mismatched.TotalAmount = 99

	noLines := draft("cl-3")
	noClient := draft("", 10)

	store := new(mockInvoiceStore)
	res, err := newTestMaterializer(store).Materialize(context.Background(),
		[]types.Invoice{sent, mismatched, noLines, noClient})
	require.NoError(t, err)

	assert.Equal(t, 0, res.Count)
	assert.Len(t, res.Failed, 4)
	store.AssertNotCalled(t, "CreateInvoice", mock.Anything, mock.Anything)
}

func TestMaterialize_NotifierFailureDoesNotFailInvoice(t *testing.T) {
	store := new(mockInvoiceStore)
	store.On("CreateInvoice", mock.Anything, mock.Anything).Return(nil)

	broken := &recordingNotifier{name: "queue", err: errors.New("queue down")}
	ok := &recordingNotifier{name: "stripe"}

	res, err := newTestMaterializer(store, broken, ok).Materialize(context.Background(), []types.Invoice{draft("cl-1", 10)})
	require.NoError(t, err)

	assert.Equal(t, 1, res.Count)
	require.Len(t, broken.sent, 1)
	require.Len(t, ok.sent, 1)
	assert.Equal(t, "inv-1", ok.sent[0].ID)
}

func TestMaterialize_NotifiersSkipFailedInvoices(t *testing.T) {
	store := new(mockInvoiceStore)
	store.On("CreateInvoice", mock.Anything, mock.Anything).Return(errors.New("boom"))

	n := &recordingNotifier{name: "queue"}
	res, err := newTestMaterializer(store, n).Materialize(context.Background(), []types.Invoice{draft("cl-1", 10)})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Count)
	assert.Empty(t, n.sent)
}

func TestMaterialize_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := newTestMaterializer(new(mockInvoiceStore)).Materialize(ctx, []types.Invoice{draft("cl-1", 10)})
	assert.Nil(t, res)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMaterialize_Empty(t *testing.T) {
	res, err := newTestMaterializer(new(mockInvoiceStore)).Materialize(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Count)
	assert.Empty(t, res.Succeeded)
	assert.Empty(t, res.Failed)
}
