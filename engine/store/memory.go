// Package store provides in-process RunStore implementations.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/tariff-engine/engine"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/CLI)
// =============================================================================

type Memory struct {
	mu      sync.RWMutex
	runs    map[string]*engine.Report
	order   []string
	tariffs []engine.TariffRow
}

func NewMemory() *Memory {
	return &Memory{
		runs: make(map[string]*engine.Report),
	}
}

// SaveReport stores a run. Append-only.
func (m *Memory) SaveReport(_ context.Context, report *engine.Report) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.runs[report.ID]; exists {
		return engine.ErrDuplicateRun
	}
	cp := *report
	m.runs[report.ID] = &cp
	m.order = append(m.order, report.ID)
	return nil
}

func (m *Memory) GetReport(_ context.Context, id string) (*engine.Report, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.runs[id]
	if !ok {
		return nil, engine.ErrRunNotFound
	}
	cp := *r
	return &cp, nil
}

// ListRuns returns runs newest first; runs started at the same instant keep
// reverse save order.
func (m *Memory) ListRuns(_ context.Context) ([]engine.RunInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]engine.RunInfo, 0, len(m.order))
	for i := len(m.order) - 1; i >= 0; i-- {
		out = append(out, m.runs[m.order[i]].Info())
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	return out, nil
}

func (m *Memory) ReplaceTariffs(_ context.Context, rows []engine.TariffRow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tariffs = append([]engine.TariffRow(nil), rows...)
	return nil
}

func (m *Memory) LoadTariffs(_ context.Context) ([]engine.TariffRow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]engine.TariffRow(nil), m.tariffs...), nil
}
