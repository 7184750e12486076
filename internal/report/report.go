// Package report writes the JSON summary of a sweep run.
package report

import (
	"fmt"
	"os"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/jofern/favsweep/internal/harvest"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Target is the outcome of sweeping one URL. Error is set when the target
// failed before or during its run; Summary still carries whatever the loop
// accounted for up to that point.
type Target struct {
	URL     string          `json:"url"`
	Summary harvest.Summary `json:"summary"`
	Error   string          `json:"error,omitempty"`
}

// Report is the full accounting of one sweep invocation.
type Report struct {
	SweepID      string    `json:"sweep_id"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
	DryRun       bool      `json:"dry_run"`
	Targets      []Target  `json:"targets"`
	TotalActions int       `json:"total_actions"`
}

// Finalize fills in the derived fields.
func (r *Report) Finalize() {
	r.FinishedAt = time.Now().UTC()
	r.TotalActions = 0
	for _, t := range r.Targets {
		r.TotalActions += t.Summary.Actions
	}
}

// Write serializes the report to path as indented JSON.
func Write(path string, r *Report) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write report to '%s': %w", path, err)
	}
	return nil
}
