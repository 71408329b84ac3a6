// Package scheduler runs the scheduled billing cutoff. It is invoked by the
// cutoff-runner Lambda on the cutoff day and can be replayed manually with a
// reference time.
package scheduler

import "time"

// Trigger names what started a billing run. It is the Trigger dimension of
// billing metrics.
type Trigger string

const (
	TriggerSchedule Trigger = "schedule"
	TriggerManual   Trigger = "manual"
)

// CutoffPayload is the JSON event sent by EventBridge to the cutoff runner:
//
//	{
//	  "reference_time": "2025-03-25T06:00:00Z",  // optional
//	  "dry_run": false,
//	  "trigger": "schedule"                       // optional
//	}
type CutoffPayload struct {
	// ReferenceTime replaces "now" for backfills and replays. Only its UTC
	// calendar date is used.
	ReferenceTime *time.Time `json:"reference_time,omitempty"`
	// DryRun simulates and archives without persisting invoices.
	DryRun  bool    `json:"dry_run"`
	Trigger Trigger `json:"trigger,omitempty"`
}

// CutoffResult summarises one run.
type CutoffResult struct {
	RunID        string    `json:"run_id"`
	Status       string    `json:"status"`
	Trigger      Trigger   `json:"trigger"`
	AsOf         string    `json:"as_of"`
	Period       string    `json:"period"`
	DryRun       bool      `json:"dry_run"`
	Invoices     int       `json:"invoices"`
	Materialized int       `json:"materialized"`
	Failed       int       `json:"failed"`
	Skipped      int       `json:"skipped"`
	TotalAmount  float64   `json:"total_amount"`
	ArchiveKey   string    `json:"archive_key,omitempty"`
	StartedAt    time.Time `json:"started_at"`
}
