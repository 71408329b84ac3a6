package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"stowage/internal/types"
)

// DefaultFetchConcurrency bounds the parallel line-item reads of one run.
const DefaultFetchConcurrency = 8

// ContainerSource is the read side of the storage collaborator.
type ContainerSource interface {
	// FetchEligibleContainers returns containers that are not empty or
	// deleted, with their base monthly cost already resolved.
	FetchEligibleContainers(ctx context.Context) ([]types.Container, error)
	FetchLineItems(ctx context.Context, containerID string) ([]types.LineItem, error)
}

// EngineConfig holds the tunables of a simulation run.
type EngineConfig struct {
	CutoffDay        int
	GraceDays        int
	FetchConcurrency int
}

// Engine runs billing simulations. It holds no state between runs.
type Engine struct {
	source ContainerSource
	cfg    EngineConfig
	logger *slog.Logger
}

// NewEngine creates an Engine. Unset (zero or negative) config values fall
// back to the defaults; configuration rejects them before they get here.
func NewEngine(source ContainerSource, cfg EngineConfig, logger *slog.Logger) *Engine {
	if cfg.CutoffDay == 0 {
		cfg.CutoffDay = DefaultCutoffDay
	}
	if cfg.GraceDays <= 0 {
		cfg.GraceDays = DefaultGraceDays
	}
	if cfg.FetchConcurrency <= 0 {
		cfg.FetchConcurrency = DefaultFetchConcurrency
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{source: source, cfg: cfg, logger: logger}
}

// Window returns the billing window containing today.
func (e *Engine) Window(today time.Time) (types.BillingWindow, error) {
	return ResolvePeriod(today, e.cfg.CutoffDay, e.cfg.GraceDays)
}

// Simulate computes draft invoices for every billable container as of today.
// Nothing is persisted.
//
// All inputs are read before aggregation starts. A failed read aborts the run
// and no drafts are returned. A container whose charge cannot be computed is
// skipped, logged and reported in the result, and the run continues.
func (e *Engine) Simulate(ctx context.Context, today time.Time) (*types.SimulationResult, error) {
	window, err := e.Window(today)
	if err != nil {
		return nil, err
	}
	logger := types.LoggerFromContext(ctx, e.logger)

	containers, err := e.source.FetchEligibleContainers(ctx)
	if err != nil {
		return nil, fetchError("failed to fetch eligible containers", err)
	}
	sort.SliceStable(containers, func(i, j int) bool {
		return containers[i].Code < containers[j].Code
	})

	items, err := e.fetchItems(ctx, containers)
	if err != nil {
		return nil, err
	}

	result := &types.SimulationResult{
		AsOf:     today,
		Window:   window,
		Invoices: []types.Invoice{},
		Skipped:  []types.SkippedContainer{},
	}
	agg := NewAggregator(window, today)

	for i, c := range containers {
		if !c.HasClient() {
			continue
		}
		strategy := ResolveStrategy(items[i])
		line, err := CalculateCharge(c, strategy, window)
		if err != nil {
			logger.WarnContext(ctx, "Skipping container with invalid charge",
				"container_id", c.ID,
				"container_code", c.Code,
				"error", err,
			)
			result.Skipped = append(result.Skipped, types.SkippedContainer{
				ContainerID:   c.ID,
				ContainerCode: c.Code,
				Reason:        err.Error(),
			})
			continue
		}
		agg.Add(*c.ClientID, c.ClientDisplayName(), *line)
		result.ContainersBilled++
	}

	result.Invoices = agg.Invoices()
	for _, inv := range result.Invoices {
		result.TotalAmount += inv.TotalAmount
	}
	result.TotalAmount = types.RoundCents(result.TotalAmount)

	logger.InfoContext(ctx, "Billing simulation complete",
		"as_of", today.Format(time.DateOnly),
		"next_cutoff", window.NextCutoff.Format(time.DateOnly),
		"containers", len(containers),
		"billed", result.ContainersBilled,
		"skipped", len(result.Skipped),
		"invoices", len(result.Invoices),
	)
	return result, nil
}

// fetchItems reads line items for every billable container with bounded
// parallelism. Results are indexed like containers.
func (e *Engine) fetchItems(ctx context.Context, containers []types.Container) ([][]types.LineItem, error) {
	items := make([][]types.LineItem, len(containers))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.FetchConcurrency)

	for i, c := range containers {
		if !c.HasClient() {
			continue
		}
		g.Go(func() error {
			li, err := e.source.FetchLineItems(gCtx, c.ID)
			if err != nil {
				return fmt.Errorf("container %s: %w", c.Code, err)
			}
			items[i] = li
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, fetchError("failed to fetch line items", err)
	}
	return items, nil
}

func fetchError(msg string, err error) error {
	var appErr *types.AppError
	if errors.As(err, &appErr) {
		return types.NewAppErrorWithDetails(appErr.Code, msg, err, appErr.Details)
	}
	return types.NewAppError(types.ErrCodeInternalDB, msg, err)
}
