/*
store.go - Persistence interface for reconciliation runs

PURPOSE:
  Defines how finished runs are kept. A run is written once, as a whole,
  after it completes or fails; nothing is updated afterwards.

APPEND-ONLY CONTRACT:
  - SaveReport(): single atomic write of a run and all its outputs
  - NO Update() or Delete() methods exist
  - Saving an ID twice fails with ErrDuplicateRun
  - The tariff table is the only replaceable state (TariffStore)

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite
  - engine/store/memory.go: In-memory for tests and the CLI

SEE ALSO:
  - reconcile.go: Saves every run
*/
package engine

import (
	"context"
	"errors"
	"time"
)

// ErrDuplicateRun is returned when a run ID is saved twice.
var ErrDuplicateRun = errors.New("run already saved")

// RunStore persists reconciliation reports.
type RunStore interface {
	// SaveReport persists a finished or failed run atomically.
	SaveReport(ctx context.Context, report *Report) error

	// GetReport returns a stored run or ErrRunNotFound.
	GetReport(ctx context.Context, id string) (*Report, error)

	// ListRuns returns run summaries, newest first.
	ListRuns(ctx context.Context) ([]RunInfo, error)
}

// TariffStore keeps the current route tariff table. A replace swaps the whole
// table in one write.
type TariffStore interface {
	ReplaceTariffs(ctx context.Context, rows []TariffRow) error
	LoadTariffs(ctx context.Context) ([]TariffRow, error)
}

// RunInfo is the listing view of a stored run.
type RunInfo struct {
	ID          string    `json:"id"`
	Source      string    `json:"source,omitempty"`
	Status      RunStatus `json:"status"`
	Error       string    `json:"error,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
	Payments    int       `json:"payments"`
	Caveats     int       `json:"caveats"`
}

// Info returns the listing view of r.
func (r *Report) Info() RunInfo {
	return RunInfo{
		ID:          r.ID,
		Source:      r.Source,
		Status:      r.Status,
		Error:       r.Error,
		StartedAt:   r.StartedAt,
		CompletedAt: r.CompletedAt,
		Payments:    r.Summary.Payments,
		Caveats:     len(r.Caveats),
	}
}
