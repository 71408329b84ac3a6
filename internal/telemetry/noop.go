package telemetry

import (
	"context"
	"time"

	"stowage/internal/types"
)

// NoopRecorder discards every metric. It is used when ENABLE_METRICS is
// false and in local runs.
type NoopRecorder struct{}

var _ Recorder = NoopRecorder{}

func (NoopRecorder) RecordSimulation(context.Context, string, *types.SimulationResult)       {}
func (NoopRecorder) RecordMaterialization(context.Context, string, *types.MaterializeResult) {}
func (NoopRecorder) RecordNotifierFailure(context.Context, string)                           {}
func (NoopRecorder) RecordRequest(string, string, string, time.Duration)                     {}
func (NoopRecorder) Flush(context.Context) error                                             { return nil }
