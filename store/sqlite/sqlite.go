/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements engine.RunStore and engine.TariffStore using SQLite. The same
  schema works on PostgreSQL with minor dialect changes.

INTERFACES IMPLEMENTED:
  engine.RunStore:    Reconciliation runs and their outputs
  engine.TariffStore: The current tariff table

APPEND-ONLY ENFORCEMENT:
  Runs are immutable once written:
  - No UPDATE statements on runs, payment_annotations or caveats
  - No DELETE statements on those tables
  - A run and all its rows are written in one SQL transaction

KEY TABLES:
  runs:                One row per run; the full report as JSON
  payment_annotations: Duplicate recommendation per payment record
  caveats:             Every caveat of a run, queryable by kind
  tariff_rows:         Current tariff table, replaced as a whole

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. In production with PostgreSQL,
  database-level concurrency control handles this instead.

USAGE:
  store, err := sqlite.New("./data/tariffs.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  reconciler := engine.NewReconciler(store, logger)

SEE ALSO:
  - engine/store.go: Interface definitions
  - engine/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/tariff-engine/engine"
	"github.com/warp/tariff-engine/geo"
)

// sortableTime keeps a fixed width so TEXT ordering matches time ordering.
const sortableTime = "2006-01-02T15:04:05.000000000Z"

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every pooled connection would get its own empty database.
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Runs (append-only)
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		source TEXT,
		status TEXT NOT NULL,
		error TEXT,
		started_at TEXT NOT NULL,
		completed_at TEXT NOT NULL,
		payments INTEGER NOT NULL,
		caveat_count INTEGER NOT NULL,
		report_json TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_runs_started_at
		ON runs(started_at);

	-- One recommendation per reconciled payment record
	CREATE TABLE IF NOT EXISTS payment_annotations (
		run_id TEXT NOT NULL REFERENCES runs(id),
		record_index INTEGER NOT NULL,
		order_id TEXT NOT NULL,
		dup_date TEXT NOT NULL,
		dup_city TEXT NOT NULL,
		dup_facility TEXT NOT NULL,
		dup_technician TEXT NOT NULL,
		paid_value TEXT NOT NULL,
		group_id INTEGER NOT NULL,
		recommendation TEXT NOT NULL,
		PRIMARY KEY (run_id, record_index)
	);

	CREATE INDEX IF NOT EXISTS idx_annotations_recommendation
		ON payment_annotations(run_id, recommendation);

	CREATE TABLE IF NOT EXISTS caveats (
		run_id TEXT NOT NULL REFERENCES runs(id),
		seq INTEGER NOT NULL,
		kind TEXT NOT NULL,
		severity TEXT NOT NULL,
		order_id TEXT,
		facility TEXT,
		city TEXT,
		message TEXT NOT NULL,
		PRIMARY KEY (run_id, seq)
	);

	CREATE INDEX IF NOT EXISTS idx_caveats_kind
		ON caveats(run_id, kind);

	-- Current tariff table
	CREATE TABLE IF NOT EXISTS tariff_rows (
		seq INTEGER PRIMARY KEY,
		facility TEXT NOT NULL,
		city TEXT NOT NULL,
		city_lat REAL,
		city_lon REAL,
		home_lat REAL,
		home_lon REAL,
		home_city TEXT,
		home_state TEXT,
		phone TEXT,
		fixed_km TEXT,
		rate TEXT,
		allowance TEXT
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// RUN STORE
// =============================================================================

// SaveReport writes a run and its normalized rows atomically.
func (s *Store) SaveReport(ctx context.Context, report *engine.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	reportJSON, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	_, err = sqlTx.ExecContext(ctx, `
		INSERT INTO runs
		(id, source, status, error, started_at, completed_at, payments, caveat_count, report_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		report.ID,
		nullString(report.Source),
		report.Status,
		nullString(report.Error),
		report.StartedAt.UTC().Format(sortableTime),
		report.CompletedAt.UTC().Format(sortableTime),
		report.Summary.Payments,
		len(report.Caveats),
		string(reportJSON),
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return engine.ErrDuplicateRun
		}
		return fmt.Errorf("failed to insert run: %w", err)
	}

	for _, a := range report.Annotations {
		_, err := sqlTx.ExecContext(ctx, `
			INSERT INTO payment_annotations
			(run_id, record_index, order_id, dup_date, dup_city, dup_facility, dup_technician,
			 paid_value, group_id, recommendation)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			report.ID, a.Index, a.OrderID,
			a.Key.Date, a.Key.City, a.Key.Facility, a.Key.Technician,
			a.Paid.Value.String(), a.Group, a.Recommendation,
		)
		if err != nil {
			return fmt.Errorf("failed to insert annotation: %w", err)
		}
	}

	for i, c := range report.Caveats {
		_, err := sqlTx.ExecContext(ctx, `
			INSERT INTO caveats (run_id, seq, kind, severity, order_id, facility, city, message)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`,
			report.ID, i, c.Kind, c.Severity,
			nullString(c.OrderID), nullString(string(c.Facility)), nullString(string(c.City)),
			c.Message,
		)
		if err != nil {
			return fmt.Errorf("failed to insert caveat: %w", err)
		}
	}

	return sqlTx.Commit()
}

// GetReport returns a stored run.
func (s *Store) GetReport(ctx context.Context, id string) (*engine.Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var reportJSON string
	err := s.db.QueryRowContext(ctx, "SELECT report_json FROM runs WHERE id = ?", id).Scan(&reportJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, engine.ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load run: %w", err)
	}

	var report engine.Report
	if err := json.Unmarshal([]byte(reportJSON), &report); err != nil {
		return nil, fmt.Errorf("failed to decode run %s: %w", id, err)
	}
	return &report, nil
}

// ListRuns returns all runs, newest first.
func (s *Store) ListRuns(ctx context.Context) ([]engine.RunInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source, status, error, started_at, completed_at, payments, caveat_count
		FROM runs
		ORDER BY started_at DESC, rowid DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var out []engine.RunInfo
	for rows.Next() {
		var info engine.RunInfo
		var status string
		var source, runErr sql.NullString
		var started, completed string
		if err := rows.Scan(&info.ID, &source, &status, &runErr, &started, &completed, &info.Payments, &info.Caveats); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		info.Source = source.String
		info.Status = engine.RunStatus(status)
		info.Error = runErr.String
		info.StartedAt, _ = time.Parse(sortableTime, started)
		info.CompletedAt, _ = time.Parse(sortableTime, completed)
		out = append(out, info)
	}
	return out, rows.Err()
}

// ZeroOuts returns the annotations of a run recommended for zero-out, in
// input order.
func (s *Store) ZeroOuts(ctx context.Context, runID string) ([]engine.Annotation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT record_index, order_id, dup_date, dup_city, dup_facility, dup_technician,
		       paid_value, group_id, recommendation
		FROM payment_annotations
		WHERE run_id = ? AND recommendation = ?
		ORDER BY record_index ASC
	`, runID, engine.RecommendZeroOut)
	if err != nil {
		return nil, fmt.Errorf("failed to query annotations: %w", err)
	}
	defer rows.Close()

	var out []engine.Annotation
	for rows.Next() {
		var a engine.Annotation
		var city, facility, paid, rec string
		if err := rows.Scan(&a.Index, &a.OrderID, &a.Key.Date, &city, &facility, &a.Key.Technician,
			&paid, &a.Group, &rec); err != nil {
			return nil, fmt.Errorf("failed to scan annotation: %w", err)
		}
		a.Key.City = engine.CityKey(city)
		a.Key.Facility = engine.FacilityKey(facility)
		a.Paid = engine.Money(parseDecimal(paid))
		a.Recommendation = engine.Recommendation(rec)
		out = append(out, a)
	}
	return out, rows.Err()
}

// CaveatCounts returns caveats per kind for a run.
func (s *Store) CaveatCounts(ctx context.Context, runID string) (map[engine.CaveatKind]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT kind, COUNT(*) FROM caveats WHERE run_id = ? GROUP BY kind", runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query caveats: %w", err)
	}
	defer rows.Close()

	out := make(map[engine.CaveatKind]int)
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, fmt.Errorf("failed to scan caveat count: %w", err)
		}
		out[engine.CaveatKind(kind)] = n
	}
	return out, rows.Err()
}

// =============================================================================
// TARIFF STORE
// =============================================================================

// ReplaceTariffs swaps the whole tariff table in one transaction.
func (s *Store) ReplaceTariffs(ctx context.Context, tariffs []engine.TariffRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if _, err := sqlTx.ExecContext(ctx, "DELETE FROM tariff_rows"); err != nil {
		return fmt.Errorf("failed to clear tariffs: %w", err)
	}

	for i, t := range tariffs {
		cityLat, cityLon := coordArgs(t.CityCoord)
		homeLat, homeLon := coordArgs(t.Home)
		_, err := sqlTx.ExecContext(ctx, `
			INSERT INTO tariff_rows
			(seq, facility, city, city_lat, city_lon, home_lat, home_lon,
			 home_city, home_state, phone, fixed_km, rate, allowance)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			i, t.Facility, t.City, cityLat, cityLon, homeLat, homeLon,
			nullString(t.HomeCity), nullString(t.HomeState), nullString(t.Phone),
			nullDecimal(t.FixedKm), nullDecimal(t.Rate), nullDecimal(t.Allowance),
		)
		if err != nil {
			return fmt.Errorf("failed to insert tariff row %d: %w", i, err)
		}
	}

	return sqlTx.Commit()
}

// LoadTariffs returns the tariff table in its original row order.
func (s *Store) LoadTariffs(ctx context.Context) ([]engine.TariffRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT facility, city, city_lat, city_lon, home_lat, home_lon,
		       home_city, home_state, phone, fixed_km, rate, allowance
		FROM tariff_rows
		ORDER BY seq ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query tariffs: %w", err)
	}
	defer rows.Close()

	var out []engine.TariffRow
	for rows.Next() {
		var t engine.TariffRow
		var cityLat, cityLon, homeLat, homeLon sql.NullFloat64
		var homeCity, homeState, phone, fixedKm, rate, allowance sql.NullString
		if err := rows.Scan(&t.Facility, &t.City, &cityLat, &cityLon, &homeLat, &homeLon,
			&homeCity, &homeState, &phone, &fixedKm, &rate, &allowance); err != nil {
			return nil, fmt.Errorf("failed to scan tariff: %w", err)
		}
		t.CityCoord = coordOf(cityLat, cityLon)
		t.Home = coordOf(homeLat, homeLon)
		t.HomeCity, t.HomeState, t.Phone = homeCity.String, homeState.String, phone.String
		t.FixedKm = parseNullDecimal(fixedKm)
		t.Rate = parseNullDecimal(rate)
		t.Allowance = parseNullDecimal(allowance)
		out = append(out, t)
	}
	return out, rows.Err()
}

// =============================================================================
// HELPERS
// =============================================================================

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullDecimal(d decimal.NullDecimal) sql.NullString {
	if !d.Valid {
		return sql.NullString{}
	}
	return sql.NullString{String: d.Decimal.String(), Valid: true}
}

func parseNullDecimal(s sql.NullString) decimal.NullDecimal {
	if !s.Valid {
		return decimal.NullDecimal{}
	}
	d, err := decimal.NewFromString(s.String)
	if err != nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(d)
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func coordArgs(c *geo.Coordinate) (sql.NullFloat64, sql.NullFloat64) {
	if c == nil {
		return sql.NullFloat64{}, sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: c.Lat, Valid: true}, sql.NullFloat64{Float64: c.Lon, Valid: true}
}

func coordOf(lat, lon sql.NullFloat64) *geo.Coordinate {
	if !lat.Valid || !lon.Valid {
		return nil
	}
	return &geo.Coordinate{Lat: lat.Float64, Lon: lon.Float64}
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}
