/*
handlers.go - HTTP API handlers for the tariff reconciliation engine

PURPOSE:
  Exposes the engine via REST API. Handles HTTP request/response, JSON and
  CSV decoding, and delegates to the engine (directory, assigner, cost
  model, reconciler).

ENDPOINTS:
  Tariff table:
    GET    /api/tariffs                  Loaded table summary with routes
    PUT    /api/tariffs                  Replace table (JSON rows or CSV)

  Facilities:
    GET    /api/facilities               List facilities
    GET    /api/facilities/{id}          Facility with served cities
    GET    /api/facilities/nearby        ?lat=&lon=&radius_km=

  Pricing:
    POST   /api/assign                   Nearest-K facilities per point
    POST   /api/cost                     Price one trip for one facility

  Runs:
    POST   /api/runs                     Reconcile (JSON or multipart CSV)
    GET    /api/runs                     List runs, newest first
    GET    /api/runs/{id}                Run summary
    GET    /api/runs/{id}/assignments    Ranked candidates per order
    GET    /api/runs/{id}/savings        Scheduled vs suggested cost
    GET    /api/runs/{id}/duplicates     ?recommendation=
    GET    /api/runs/{id}/zero-outs      Records recommended for zero-out
    GET    /api/runs/{id}/itineraries    ?facility=
    GET    /api/runs/{id}/capillarity    Unmapped visits
    GET    /api/runs/{id}/same-city      Same-city payments
    GET    /api/runs/{id}/revisits       Weekly revisits
    GET    /api/runs/{id}/caveats        ?kind=
    GET    /api/runs/{id}/caveats/counts Caveats per kind

  Scenarios:
    GET    /api/scenarios                List demo scenarios
    POST   /api/scenarios/load           Load a demo scenario

ARCHITECTURE:
  Handler struct holds all dependencies:
  - Store: runs and the tariff table
  - Factory: CSV table to engine records
  - Reconciler: runs and persists reports
  - Cached directory built from the stored tariff table

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Invalid input (bad K, unresolved point, no table loaded)
  - 404: Facility or run not found
  - 422: Schema error (required column missing)
  - 500: Internal errors

SECURITY NOTE:
  No authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"sort"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"

	"github.com/warp/tariff-engine/engine"
	"github.com/warp/tariff-engine/factory"
	"github.com/warp/tariff-engine/geo"
)

// DefaultMaxBodyBytes caps request bodies and uploads.
const DefaultMaxBodyBytes = 32 << 20

var errBadRequest = errors.New("bad request")

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Store is the persistence the API needs.
type Store interface {
	engine.RunStore
	engine.TariffStore
}

// zeroOutLister is implemented by stores that index annotations.
type zeroOutLister interface {
	ZeroOuts(ctx context.Context, runID string) ([]engine.Annotation, error)
}

type caveatCounter interface {
	CaveatCounts(ctx context.Context, runID string) (map[engine.CaveatKind]int, error)
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store      Store
	Factory    *factory.TableFactory
	Reconciler *engine.Reconciler
	Options    engine.RunOptions
	Logger     *slog.Logger

	// Larger bodies are rejected with 413
	MaxBodyBytes int64

	// Directory built from the stored tariff table
	mu        sync.RWMutex
	directory *engine.Directory
	rows      int

	// Track currently loaded scenario
	currentScenario string
}

// NewHandler creates a new handler with the given store.
func NewHandler(store Store, tf *factory.TableFactory, opts engine.RunOptions, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if tf == nil {
		tf = factory.NewTableFactory(factory.DefaultMapping())
	}
	return &Handler{
		Store:      store,
		Factory:    tf,
		Reconciler: engine.NewReconciler(store, logger),
		Options:    opts,
		Logger:     logger,

		MaxBodyBytes: DefaultMaxBodyBytes,
	}
}

// LoadDirectory builds the cached directory from the stored tariff table.
func (h *Handler) LoadDirectory(ctx context.Context) error {
	rows, err := h.Store.LoadTariffs(ctx)
	if err != nil {
		return err
	}
	h.setDirectory(rows)
	return nil
}

func (h *Handler) setDirectory(rows []engine.TariffRow) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.rows = len(rows)
	if len(rows) == 0 {
		h.directory = nil
		return
	}
	h.directory = engine.NewDirectory(rows, h.Options.Directory)
}

func (h *Handler) currentDirectory() (*engine.Directory, int, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.directory == nil {
		return nil, 0, engine.ErrNoDirectory
	}
	return h.directory, h.rows, nil
}

// =============================================================================
// TARIFF TABLE HANDLERS
// =============================================================================

// GetTariffs returns the loaded tariff table with its route tariffs.
func (h *Handler) GetTariffs(w http.ResponseWriter, r *http.Request) {
	dir, rows, err := h.currentDirectory()
	if err != nil {
		writeEngineError(w, "No tariff table", err)
		return
	}
	resp := tariffTableResponse(dir, rows)
	resp.Routes = dir.Tariffs()
	writeJSON(w, http.StatusOK, resp)
}

// PutTariffs replaces the stored tariff table. The body is either a JSON
// array of rows or a CSV export (Content-Type: text/csv).
func (h *Handler) PutTariffs(w http.ResponseWriter, r *http.Request) {
	var rows []engine.TariffRow
	if isCSV(r) {
		tbl, err := factory.ReadCSV(http.MaxBytesReader(w, r.Body, h.MaxBodyBytes), "tariffs")
		if err != nil {
			writeEngineError(w, "Invalid tariff table", fmt.Errorf("%w: %w", errBadRequest, err))
			return
		}
		if rows, err = h.Factory.TariffRows(tbl); err != nil {
			writeEngineError(w, "Invalid tariff table", err)
			return
		}
	} else if err := h.decodeJSON(w, r, &rows); err != nil {
		writeEngineError(w, "Invalid request body", err)
		return
	}

	if err := engine.ValidateTariffs(rows); err != nil {
		writeEngineError(w, "Invalid tariff table", err)
		return
	}
	if err := h.Store.ReplaceTariffs(r.Context(), rows); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save tariff table", err)
		return
	}
	h.setDirectory(rows)

	dir, n, err := h.currentDirectory()
	if err != nil {
		writeEngineError(w, "No tariff table", err)
		return
	}
	h.Logger.Info("tariff table replaced", "rows", n, "facilities", dir.Len(), "tariffs", dir.TariffCount())
	writeJSON(w, http.StatusOK, tariffTableResponse(dir, n))
}

func tariffTableResponse(dir *engine.Directory, rows int) TariffTableResponse {
	return TariffTableResponse{
		Rows:       rows,
		Facilities: dir.Len(),
		Tariffs:    dir.TariffCount(),
		Excluded:   dir.Excluded(),
	}
}

// =============================================================================
// FACILITY HANDLERS
// =============================================================================

// ListFacilities returns all facilities of the directory in load order.
func (h *Handler) ListFacilities(w http.ResponseWriter, r *http.Request) {
	dir, _, err := h.currentDirectory()
	if err != nil {
		writeEngineError(w, "No tariff table", err)
		return
	}

	cities := citiesByFacility(dir)
	facilities := dir.Facilities()
	dtos := make([]FacilityDTO, len(facilities))
	for i, f := range facilities {
		dtos[i] = toFacilityDTO(f, cities[f.Key])
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetFacility returns one facility with the cities it holds tariffs for.
func (h *Handler) GetFacility(w http.ResponseWriter, r *http.Request) {
	dir, _, err := h.currentDirectory()
	if err != nil {
		writeEngineError(w, "No tariff table", err)
		return
	}

	name := chi.URLParam(r, "id")
	f, ok := dir.Facility(name)
	if !ok {
		writeEngineError(w, "Facility not found", fmt.Errorf("%w: %s", engine.ErrFacilityNotFound, name))
		return
	}
	writeJSON(w, http.StatusOK, toFacilityDTO(f, citiesByFacility(dir)[f.Key]))
}

// NearbyFacilities lists facilities whose home is within radius_km of
// (lat, lon). The radius defaults to the configured hint radius.
func (h *Handler) NearbyFacilities(w http.ResponseWriter, r *http.Request) {
	dir, _, err := h.currentDirectory()
	if err != nil {
		writeEngineError(w, "No tariff table", err)
		return
	}

	q := r.URL.Query()
	c, ok := geo.ParseCoordinate(q.Get("lat"), q.Get("lon"))
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid lat/lon", nil)
		return
	}
	radius := h.Options.NearbyRadiusKm
	if s := q.Get("radius_km"); s != "" {
		if radius, err = strconv.ParseFloat(s, 64); err != nil || radius <= 0 {
			writeError(w, http.StatusBadRequest, "Invalid radius_km", err)
			return
		}
	}

	matches, err := dir.Nearby(c, radius)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid nearby search", err)
		return
	}
	dtos := make([]NearbyDTO, len(matches))
	for i, m := range matches {
		dtos[i] = NearbyDTO{Facility: toFacilityDTO(m.Facility, nil), DistanceKm: m.DistanceKm}
	}
	writeJSON(w, http.StatusOK, dtos)
}

func citiesByFacility(dir *engine.Directory) map[engine.FacilityKey][]string {
	out := make(map[engine.FacilityKey][]string)
	for _, t := range dir.Tariffs() {
		out[t.Facility] = append(out[t.Facility], string(t.City))
	}
	for _, cities := range out {
		sort.Strings(cities)
	}
	return out
}

// =============================================================================
// ASSIGN / COST HANDLERS
// =============================================================================

// Assign ranks the K nearest facilities for each point. Points that cannot
// be resolved are returned with an error and no candidates.
func (h *Handler) Assign(w http.ResponseWriter, r *http.Request) {
	var req AssignRequest
	if err := h.decodeJSON(w, r, &req); err != nil {
		writeEngineError(w, "Invalid request body", err)
		return
	}
	dir, _, err := h.currentDirectory()
	if err != nil {
		writeEngineError(w, "No tariff table", err)
		return
	}

	k := req.K
	if k == 0 {
		k = h.Options.K
	}
	if k < 1 {
		writeEngineError(w, "Invalid k", engine.ErrInvalidK)
		return
	}

	resolver := engine.NewResolver(dir)
	assigner := engine.NewAssigner(dir, h.Options.Workers)
	dtos := make([]AssignmentDTO, 0, len(req.Points))
	for _, rec := range req.Points {
		p := resolver.Resolve(rec)
		a, err := assigner.NearestK(p, k)
		dtos = append(dtos, toAssignmentDTO(p, &a, err))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// Cost prices the trip from one facility to one point.
func (h *Handler) Cost(w http.ResponseWriter, r *http.Request) {
	var req CostRequest
	if err := h.decodeJSON(w, r, &req); err != nil {
		writeEngineError(w, "Invalid request body", err)
		return
	}
	dir, _, err := h.currentDirectory()
	if err != nil {
		writeEngineError(w, "No tariff table", err)
		return
	}

	f, ok := dir.Facility(req.Facility)
	if !ok {
		writeEngineError(w, "Facility not found", fmt.Errorf("%w: %s", engine.ErrFacilityNotFound, req.Facility))
		return
	}
	p := engine.NewResolver(dir).Resolve(req.Point)
	res, err := engine.NewCostModel(dir).Evaluate(p, f)
	if err != nil {
		writeEngineError(w, "Cost unavailable", err)
		return
	}
	writeJSON(w, http.StatusOK, toCostDTO(res))
}

// =============================================================================
// RUN HANDLERS
// =============================================================================

// CreateRun reconciles a payment table. JSON bodies carry typed records;
// multipart bodies carry "payments" and optional "tariffs" CSV files.
// Without tariffs the stored table is used.
func (h *Handler) CreateRun(w http.ResponseWriter, r *http.Request) {
	req, err := h.decodeRunRequest(w, r)
	if err != nil {
		if engine.IsFatal(err) {
			// An upload missing required columns is recorded like the
			// inbox records unreadable exports.
			report, ferr := h.Reconciler.Fail(r.Context(), engine.RunInput{Source: req.Source}, h.runOptions(req), err)
			if report != nil {
				w.Header().Set("X-Run-ID", report.ID)
			}
			err = ferr
		}
		writeEngineError(w, "Invalid run request", err)
		return
	}

	in := engine.RunInput{Tariffs: req.Tariffs, Payments: req.Payments, Source: req.Source}
	if len(in.Tariffs) == 0 {
		if in.Tariffs, err = h.Store.LoadTariffs(r.Context()); err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to load tariff table", err)
			return
		}
		if len(in.Tariffs) == 0 {
			writeEngineError(w, "No tariff table", engine.ErrNoDirectory)
			return
		}
	}

	report, err := h.Reconciler.Run(r.Context(), in, h.runOptions(req))
	if err != nil {
		if report != nil {
			w.Header().Set("X-Run-ID", report.ID)
		}
		writeEngineError(w, "Reconciliation failed", err)
		return
	}

	dto := toRunDTO(report.Info())
	dto.Summary = toSummaryDTO(report.Summary)
	dto.CaveatKinds = report.Summary.Caveats
	writeJSON(w, http.StatusCreated, dto)
}

func (h *Handler) decodeRunRequest(w http.ResponseWriter, r *http.Request) (RunRequest, error) {
	var req RunRequest
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		return req, h.decodeJSON(w, r, &req)
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.MaxBodyBytes)
	if err := r.ParseMultipartForm(h.MaxBodyBytes); err != nil {
		return req, fmt.Errorf("%w: invalid multipart body: %w", errBadRequest, err)
	}

	payments, header, err := r.FormFile("payments")
	if err != nil {
		return req, fmt.Errorf("%w: missing payments file: %w", errBadRequest, err)
	}
	defer payments.Close()
	req.Source = header.Filename
	tbl, err := factory.ReadCSV(payments, "payments")
	if err != nil {
		return req, fmt.Errorf("%w: %w", errBadRequest, err)
	}
	if req.Payments, err = h.Factory.PaymentRows(tbl); err != nil {
		return req, err
	}

	if tariffs, _, err := r.FormFile("tariffs"); err == nil {
		defer tariffs.Close()
		tbl, err := factory.ReadCSV(tariffs, "tariffs")
		if err != nil {
			return req, fmt.Errorf("%w: %w", errBadRequest, err)
		}
		if req.Tariffs, err = h.Factory.TariffRows(tbl); err != nil {
			return req, err
		}
	}

	if s := r.FormValue("k"); s != "" {
		if req.K, err = strconv.Atoi(s); err != nil {
			return req, fmt.Errorf("%w: %q", engine.ErrInvalidK, s)
		}
	}
	return req, nil
}

// runOptions applies the request overrides to the configured options.
func (h *Handler) runOptions(req RunRequest) engine.RunOptions {
	opts := h.Options
	if req.K != 0 {
		opts.K = req.K
	}
	if req.IncludeSpecial != nil {
		opts.Directory.IncludeSpecial = *req.IncludeSpecial
	}
	if req.ExcludedClients != nil {
		opts.Filter.ExcludedClients = req.ExcludedClients
	}
	if req.AllowedStatuses != nil {
		opts.Filter.AllowedStatuses = req.AllowedStatuses
	}
	return opts
}

// ListRuns returns stored runs, newest first.
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := h.Store.ListRuns(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list runs", err)
		return
	}
	dtos := make([]RunDTO, len(runs))
	for i, info := range runs {
		dtos[i] = toRunDTO(info)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetRun returns the run summary.
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	report, ok := h.loadReport(w, r)
	if !ok {
		return
	}
	dto := toRunDTO(report.Info())
	if report.Status == engine.RunCompleted {
		dto.Summary = toSummaryDTO(report.Summary)
		dto.CaveatKinds = report.Summary.Caveats
	}
	writeJSON(w, http.StatusOK, dto)
}

func (h *Handler) GetRunAssignments(w http.ResponseWriter, r *http.Request) {
	if report, ok := h.loadReport(w, r); ok {
		writeJSON(w, http.StatusOK, nonNil(report.Assignments))
	}
}

func (h *Handler) GetRunSavings(w http.ResponseWriter, r *http.Request) {
	if report, ok := h.loadReport(w, r); ok {
		writeJSON(w, http.StatusOK, nonNil(report.Savings))
	}
}

// GetRunDuplicates returns annotations and duplicate groups. The optional
// recommendation query keeps annotations of one kind.
func (h *Handler) GetRunDuplicates(w http.ResponseWriter, r *http.Request) {
	report, ok := h.loadReport(w, r)
	if !ok {
		return
	}
	annotations := report.Annotations
	if rec := r.URL.Query().Get("recommendation"); rec != "" {
		annotations = nil
		for _, a := range report.Annotations {
			if string(a.Recommendation) == rec {
				annotations = append(annotations, a)
			}
		}
	}
	writeJSON(w, http.StatusOK, DuplicatesResponse{
		Annotations: nonNil(annotations),
		Groups:      nonNil(report.Duplicates),
	})
}

// GetRunZeroOuts lists the records recommended for zero-out.
func (h *Handler) GetRunZeroOuts(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if zs, ok := h.Store.(zeroOutLister); ok {
		if _, ok := h.loadReport(w, r); !ok {
			return
		}
		out, err := zs.ZeroOuts(r.Context(), id)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to list zero-outs", err)
			return
		}
		writeJSON(w, http.StatusOK, nonNil(out))
		return
	}

	report, ok := h.loadReport(w, r)
	if !ok {
		return
	}
	var out []engine.Annotation
	for _, a := range report.Annotations {
		if a.Recommendation == engine.RecommendZeroOut {
			out = append(out, a)
		}
	}
	writeJSON(w, http.StatusOK, nonNil(out))
}

// GetRunItineraries returns daily itineraries, optionally for one facility.
func (h *Handler) GetRunItineraries(w http.ResponseWriter, r *http.Request) {
	report, ok := h.loadReport(w, r)
	if !ok {
		return
	}
	out := report.Itineraries
	if name := r.URL.Query().Get("facility"); name != "" {
		key := engine.FacilityKeyOf(name)
		out = nil
		for _, it := range report.Itineraries {
			if it.Key.Facility == key {
				out = append(out, it)
			}
		}
	}
	writeJSON(w, http.StatusOK, nonNil(out))
}

func (h *Handler) GetRunCapillarity(w http.ResponseWriter, r *http.Request) {
	if report, ok := h.loadReport(w, r); ok {
		writeJSON(w, http.StatusOK, nonNil(report.Capillarity))
	}
}

func (h *Handler) GetRunSameCity(w http.ResponseWriter, r *http.Request) {
	if report, ok := h.loadReport(w, r); ok {
		writeJSON(w, http.StatusOK, nonNil(report.SameCity))
	}
}

func (h *Handler) GetRunRevisits(w http.ResponseWriter, r *http.Request) {
	if report, ok := h.loadReport(w, r); ok {
		writeJSON(w, http.StatusOK, nonNil(report.Revisits))
	}
}

// GetRunCaveats returns the run caveats, optionally of one kind.
func (h *Handler) GetRunCaveats(w http.ResponseWriter, r *http.Request) {
	report, ok := h.loadReport(w, r)
	if !ok {
		return
	}
	out := report.Caveats
	if kind := r.URL.Query().Get("kind"); kind != "" {
		out = nil
		for _, c := range report.Caveats {
			if string(c.Kind) == kind {
				out = append(out, c)
			}
		}
	}
	writeJSON(w, http.StatusOK, nonNil(out))
}

// GetRunCaveatCounts returns caveats per kind.
func (h *Handler) GetRunCaveatCounts(w http.ResponseWriter, r *http.Request) {
	report, ok := h.loadReport(w, r)
	if !ok {
		return
	}
	cc, ok := h.Store.(caveatCounter)
	if !ok {
		writeJSON(w, http.StatusOK, report.Caveats.Counts())
		return
	}
	counts, err := cc.CaveatCounts(r.Context(), report.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to count caveats", err)
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

func (h *Handler) loadReport(w http.ResponseWriter, r *http.Request) (*engine.Report, bool) {
	report, err := h.Store.GetReport(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeEngineError(w, "Run not found", err)
		return nil, false
	}
	return report, true
}

// =============================================================================
// HELPERS
// =============================================================================

// decodeJSON reads a JSON body of at most MaxBodyBytes.
func (h *Handler) decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, h.MaxBodyBytes)).Decode(v); err != nil {
		return fmt.Errorf("%w: invalid request body: %w", errBadRequest, err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeEngineError maps engine errors to HTTP status codes.
func writeEngineError(w http.ResponseWriter, message string, err error) {
	var maxBytes *http.MaxBytesError
	switch {
	case engine.IsFatal(err):
		writeError(w, http.StatusUnprocessableEntity, message, err)
	case engine.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	case engine.IsClientError(err):
		writeError(w, http.StatusBadRequest, message, err)
	case errors.As(err, &maxBytes):
		writeError(w, http.StatusRequestEntityTooLarge, message, err)
	case errors.Is(err, errBadRequest):
		writeError(w, http.StatusBadRequest, message, err)
	case errors.Is(err, context.Canceled):
		writeError(w, http.StatusServiceUnavailable, message, err)
	default:
		writeError(w, http.StatusInternalServerError, message, err)
	}
}

func isCSV(r *http.Request) bool {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return mediaType == "text/csv"
}

// nonNil keeps empty lists as [] in JSON.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
