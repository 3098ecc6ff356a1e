/*
scheduler.go - Automated reconciliation of dropped payment exports

PURPOSE:
  Periodically scans an inbox directory for payment CSV exports and
  reconciles each new file against the stored tariff table.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - A file counts as processed once any run (completed or failed) carries
    "inbox:<name>" as source, so a bad export is not retried every tick and
    API uploads of the same file name do not hide it
  - Files are processed in name order

CONFIGURATION:
  - Dir:           Inbox directory (INBOX_DIR); empty disables the scheduler
  - CheckInterval: How often to check (INBOX_INTERVAL, default: 1 minute)

USAGE:
  scheduler := NewInboxScheduler(handler, dir)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: CreateRun (manual reconciliation)
  - engine/reconcile.go: Reconciler
*/
package api

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/warp/tariff-engine/engine"
	"github.com/warp/tariff-engine/factory"
)

// inboxSourcePrefix marks the runs started from inbox files.
const inboxSourcePrefix = "inbox:"

func inboxSource(name string) string {
	return inboxSourcePrefix + name
}

// InboxScheduler reconciles payment exports dropped into a directory.
type InboxScheduler struct {
	Handler       *Handler
	Dir           string
	CheckInterval time.Duration

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewInboxScheduler creates a new scheduler.
func NewInboxScheduler(h *Handler, dir string) *InboxScheduler {
	return &InboxScheduler{
		Handler:       h,
		Dir:           dir,
		CheckInterval: time.Minute,
		stop:          make(chan struct{}),
	}
}

// Start begins the scheduler. It does nothing without a directory.
func (s *InboxScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Dir == "" {
		s.Handler.Logger.Info("inbox scheduler disabled")
		return
	}

	s.ticker = time.NewTicker(s.CheckInterval)
	s.wg.Add(1)
	go s.run()

	s.Handler.Logger.Info("inbox scheduler started", "dir", s.Dir, "interval", s.CheckInterval)
}

// Stop stops the scheduler and waits for the current check to finish.
func (s *InboxScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker != nil {
		s.ticker.Stop()
		close(s.stop)
		s.wg.Wait()
		s.ticker = nil
		s.Handler.Logger.Info("inbox scheduler stopped")
	}
}

func (s *InboxScheduler) run() {
	defer s.wg.Done()

	// Run immediately on start
	s.RunNow(context.Background())

	for {
		select {
		case <-s.ticker.C:
			s.RunNow(context.Background())
		case <-s.stop:
			return
		}
	}
}

// RunNow reconciles every unprocessed file once and returns how many runs
// it stored.
func (s *InboxScheduler) RunNow(ctx context.Context) int {
	logger := s.Handler.Logger

	files, err := s.pending(ctx)
	if err != nil {
		logger.Warn("inbox check failed", "dir", s.Dir, "err", err)
		return 0
	}

	processed := 0
	for _, name := range files {
		report, err := s.process(ctx, name)
		if report != nil {
			processed++
		}
		if err != nil {
			logger.Warn("inbox file failed", "file", name, "err", err)
			continue
		}
		logger.Info("inbox file reconciled", "file", name, "run_id", report.ID)
	}
	return processed
}

// pending lists the CSV files in Dir that no inbox run names as source.
func (s *InboxScheduler) pending(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read inbox: %w", err)
	}

	runs, err := s.Handler.Store.ListRuns(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	done := make(map[string]bool, len(runs))
	for _, r := range runs {
		done[r.Source] = true
	}

	var out []string
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".csv") {
			continue
		}
		if !done[inboxSource(e.Name())] {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out, nil
}

// process reconciles one file. A schema error still stores a failed run, so
// the returned report is non-nil whenever a run was saved.
func (s *InboxScheduler) process(ctx context.Context, name string) (*engine.Report, error) {
	h := s.Handler

	tariffs, err := h.Store.LoadTariffs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load tariff table: %w", err)
	}
	if len(tariffs) == 0 {
		return nil, engine.ErrNoDirectory
	}

	in := engine.RunInput{Tariffs: tariffs, Source: inboxSource(name)}

	f, err := os.Open(filepath.Join(s.Dir, name))
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", name, err)
	}
	defer f.Close()

	tbl, err := factory.ReadCSV(f, "payments")
	if err == nil {
		in.Payments, err = h.Factory.PaymentRows(tbl)
	}
	if err != nil {
		// Record unreadable exports as failed runs so they are not retried.
		return h.Reconciler.Fail(ctx, in, h.Options, err)
	}

	return h.Reconciler.Run(ctx, in, h.Options)
}
