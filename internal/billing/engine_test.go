package billing

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stowage/internal/types"
)

// fakeSource is an in-memory ContainerSource.
type fakeSource struct {
	mu         sync.Mutex
	containers []types.Container
	items      map[string][]types.LineItem
	listErr    error
	itemsErr   map[string]error
	itemCalls  []string
}

func (s *fakeSource) FetchEligibleContainers(_ context.Context) ([]types.Container, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	out := make([]types.Container, len(s.containers))
	copy(out, s.containers)
	return out, nil
}

func (s *fakeSource) FetchLineItems(_ context.Context, containerID string) ([]types.LineItem, error) {
	s.mu.Lock()
	s.itemCalls = append(s.itemCalls, containerID)
	s.mu.Unlock()
	if err := s.itemsErr[containerID]; err != nil {
		return nil, err
	}
	return s.items[containerID], nil
}

func newTestEngine(src ContainerSource) *Engine {
	return NewEngine(src, EngineConfig{CutoffDay: 25, GraceDays: 10, FetchConcurrency: 2}, slog.New(slog.DiscardHandler))
}

func sampleSource() *fakeSource {
	full := volumeContainer(55)
	full.ID, full.Code = "c-full", "MSCU0000002"

	half := volumeContainer(27.5)
	half.ID, half.Code = "c-half", "MSCU0000001"

	newcomer := volumeContainer(5)
	newcomer.ID, newcomer.Code = "c-new", "TGHU0000003"
	newcomer.ClientID, newcomer.ClientName = strPtr("cl-2"), strPtr("Pacific Fruit")
	newcomer.StorageStartDate = timePtr(date(2026, 2, 20))

	orphan := volumeContainer(40)
	orphan.ID, orphan.Code = "c-orphan", "AAAU0000004"
	orphan.ClientID = nil

	return &fakeSource{
		containers: []types.Container{full, orphan, newcomer, half},
		items: map[string][]types.LineItem{
			"c-full":   {{VolumeCBM: f(55)}},
			"c-half":   {{VolumeCBM: f(27.5)}},
			"c-new":    {{VolumeCBM: f(5)}},
			"c-orphan": {{VolumeCBM: f(40)}},
		},
	}
}

func TestEngine_Simulate(t *testing.T) {
	src := sampleSource()
	res, err := newTestEngine(src).Simulate(context.Background(), date(2026, 2, 10))
	require.NoError(t, err)

	assert.Equal(t, date(2026, 2, 25), res.Window.NextCutoff)
	assert.Equal(t, 3, res.ContainersBilled)
	assert.Empty(t, res.Skipped)
	require.Len(t, res.Invoices, 2)

	// Containers are processed by code: MSCU0000001, MSCU0000002, TGHU0000003.
	first := res.Invoices[0]
	assert.Equal(t, "cl-1", first.ClientID)
	assert.Equal(t, "Andes Imports", first.ClientName)
	require.Len(t, first.Items, 2)
	assert.Equal(t, "MSCU0000001", first.Items[0].ContainerCode)
	assert.Equal(t, 1500.0, first.Items[0].Amount)
	assert.Equal(t, "MSCU0000002", first.Items[1].ContainerCode)
	assert.Equal(t, 3000.0, first.Items[1].Amount)
	assert.Equal(t, 4500.0, first.TotalAmount)

	second := res.Invoices[1]
	assert.Equal(t, "cl-2", second.ClientID)
	require.Len(t, second.Items, 1)
	assert.Equal(t, types.ProRataDetails{DaysBilled: 5, BaseCost: 3000}, second.Items[0].Details)
	assert.Equal(t, 500.0, second.TotalAmount)

	assert.Equal(t, 5000.0, res.TotalAmount)

	// The clientless container contributes nothing and its items are not read.
	for _, inv := range res.Invoices {
		for _, it := range inv.Items {
			assert.NotEqual(t, "c-orphan", it.ContainerID)
		}
	}
	assert.NotContains(t, src.itemCalls, "c-orphan")
}

func TestEngine_Simulate_IsDeterministic(t *testing.T) {
	a, err := newTestEngine(sampleSource()).Simulate(context.Background(), date(2026, 2, 10))
	require.NoError(t, err)

	src := sampleSource()
	// Reverse the storage order; output must not change.
	for i, j := 0, len(src.containers)-1; i < j; i, j = i+1, j-1 {
		src.containers[i], src.containers[j] = src.containers[j], src.containers[i]
	}
	b, err := newTestEngine(src).Simulate(context.Background(), date(2026, 2, 10))
	require.NoError(t, err)

	assert.Equal(t, a, b)
}

func TestEngine_Simulate_ListFailureAborts(t *testing.T) {
	src := &fakeSource{listErr: errors.New("connection refused")}

	res, err := newTestEngine(src).Simulate(context.Background(), date(2026, 2, 10))
	assert.Nil(t, res)
	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeInternalDB, appErr.Code)
}

func TestEngine_Simulate_ItemFailureAbortsWholeRun(t *testing.T) {
	src := sampleSource()
	src.itemsErr = map[string]error{"c-new": errors.New("timeout")}

	res, err := newTestEngine(src).Simulate(context.Background(), date(2026, 2, 10))
	assert.Nil(t, res)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line items")
}

func TestEngine_Simulate_SkipsFaultyContainer(t *testing.T) {
	src := sampleSource()
	src.containers[0].TotalVolumeM3 = math.NaN() // c-full

	res, err := newTestEngine(src).Simulate(context.Background(), date(2026, 2, 10))
	require.NoError(t, err)

	require.Len(t, res.Skipped, 1)
	assert.Equal(t, "c-full", res.Skipped[0].ContainerID)
	assert.Equal(t, 2, res.ContainersBilled)
	require.Len(t, res.Invoices, 2)
	assert.Equal(t, 1500.0, res.Invoices[0].TotalAmount)
}

func TestEngine_Simulate_NoContainers(t *testing.T) {
	res, err := newTestEngine(&fakeSource{}).Simulate(context.Background(), date(2026, 2, 10))
	require.NoError(t, err)
	assert.Empty(t, res.Invoices)
	assert.Equal(t, 0.0, res.TotalAmount)
}

func TestEngine_WindowGraceDays(t *testing.T) {
	tests := []struct {
		name  string
		grace int
		want  time.Time
	}{
		{"configured", 5, date(2026, 3, 2)},
		{"unset uses default", 0, date(2026, 3, 7)},
		{"negative uses default", -3, date(2026, 3, 7)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewEngine(&fakeSource{}, EngineConfig{CutoffDay: 25, GraceDays: tt.grace}, nil)
			w, err := e.Window(date(2026, 2, 10))
			require.NoError(t, err)
			assert.Equal(t, date(2026, 2, 25), w.NextCutoff)
			assert.Equal(t, tt.want, w.DueDate)
		})
	}
}

func TestEngine_Simulate_InvalidCutoff(t *testing.T) {
	e := NewEngine(&fakeSource{}, EngineConfig{CutoffDay: 40}, nil)
	_, err := e.Simulate(context.Background(), date(2026, 2, 10))
	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeValidationCutoffDay, appErr.Code)
}
