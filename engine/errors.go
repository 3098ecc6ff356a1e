/*
errors.go - Error types and run caveats

PURPOSE:
  One place for every failure the engine can report. Only schema problems
  abort a run. Everything else is recoverable and accumulates as a Caveat
  next to the normal output, so the business user always gets a report plus
  a list of things to check.

ERROR CATEGORIES:
  1. Fatal:       SchemaError (missing columns / empty required fields)
  2. Call errors: invalid K, unresolved point, missing facility
  3. Caveats:     resolution failure, tariff fallback, incomplete tariff,
                  inconsistent tariff, distance unavailable, excluded

SEE ALSO:
  - reconcile.go: Converts recoverable errors into caveats
  - api/handlers.go: Maps errors to HTTP status codes
*/
package engine

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrSchema is returned when an input table lacks a required field.
	ErrSchema = errors.New("schema error")

	// ErrInvalidK is returned when fewer than one candidate is requested.
	ErrInvalidK = errors.New("k must be at least 1")

	// ErrUnresolvedPoint is returned when ranking a point without coordinates.
	ErrUnresolvedPoint = errors.New("demand point has no coordinate")

	// ErrDistanceUnavailable is returned when neither a tariff distance nor a
	// great-circle fallback can be computed.
	ErrDistanceUnavailable = errors.New("distance unavailable")

	// ErrFacilityNotFound is returned when a facility is not in the directory.
	ErrFacilityNotFound = errors.New("facility not found")

	// ErrRunNotFound is returned when a stored run does not exist.
	ErrRunNotFound = errors.New("run not found")

	// ErrNoDirectory is returned when an operation needs a tariff table and
	// none has been loaded.
	ErrNoDirectory = errors.New("no tariff table loaded")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// SchemaError names the table and the required fields that are missing.
type SchemaError struct {
	Table   string
	Missing []string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("schema error: %s table is missing required fields: %s",
		e.Table, strings.Join(e.Missing, ", "))
}

func (e *SchemaError) Unwrap() error {
	return ErrSchema
}

// DistanceUnavailableError explains why a one-way distance could not be
// produced for a facility/city pair.
type DistanceUnavailableError struct {
	Facility FacilityKey
	City     CityKey
	Reason   string
}

func (e *DistanceUnavailableError) Error() string {
	return fmt.Sprintf("distance unavailable for %s -> %s: %s", e.Facility, e.City, e.Reason)
}

func (e *DistanceUnavailableError) Unwrap() error {
	return ErrDistanceUnavailable
}

// =============================================================================
// CAVEATS - Recoverable conditions reported next to the output
// =============================================================================

type CaveatKind string

const (
	CaveatResolutionFailure   CaveatKind = "resolution_failure"
	CaveatTariffFallback      CaveatKind = "tariff_fallback"
	CaveatIncompleteTariff    CaveatKind = "incomplete_tariff"
	CaveatInconsistentTariff  CaveatKind = "inconsistent_tariff"
	CaveatDistanceUnavailable CaveatKind = "distance_unavailable"
	CaveatExcluded            CaveatKind = "excluded"
)

type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
)

// Caveat is one recoverable condition met during a run.
type Caveat struct {
	Kind     CaveatKind  `json:"kind"`
	Severity Severity    `json:"severity"`
	OrderID  string      `json:"order_id,omitempty"`
	Facility FacilityKey `json:"facility,omitempty"`
	City     CityKey     `json:"city,omitempty"`
	Message  string      `json:"message"`
}

func (c Caveat) String() string {
	return fmt.Sprintf("[%s] %s: %s", c.Severity, c.Kind, c.Message)
}

// Caveats is an ordered list of caveats.
type Caveats []Caveat

// Count returns how many caveats of kind are present.
func (cs Caveats) Count(kind CaveatKind) int {
	n := 0
	for _, c := range cs {
		if c.Kind == kind {
			n++
		}
	}
	return n
}

// Counts returns the number of caveats per kind.
func (cs Caveats) Counts() map[CaveatKind]int {
	out := make(map[CaveatKind]int)
	for _, c := range cs {
		out[c.Kind]++
	}
	return out
}

// Kinds returns the kinds present, sorted.
func (cs Caveats) Kinds() []CaveatKind {
	counts := cs.Counts()
	kinds := make([]CaveatKind, 0, len(counts))
	for k := range counts {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

func fallbackCaveat(orderID string, f FacilityKey, c CityKey, reason string) Caveat {
	return Caveat{
		Kind:     CaveatTariffFallback,
		Severity: SeverityInfo,
		OrderID:  orderID,
		Facility: f,
		City:     c,
		Message:  "using great-circle distance: " + reason,
	}
}

func incompleteCaveat(orderID string, f FacilityKey, c CityKey, field string) Caveat {
	return Caveat{
		Kind:     CaveatIncompleteTariff,
		Severity: SeverityWarning,
		OrderID:  orderID,
		Facility: f,
		City:     c,
		Message:  field + " missing, defaulted to 0; tariff needs completion",
	}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsFatal returns true if the error must abort a run.
func IsFatal(err error) bool {
	return errors.Is(err, ErrSchema)
}

// IsClientError returns true if the error is due to invalid caller input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrSchema) ||
		errors.Is(err, ErrInvalidK) ||
		errors.Is(err, ErrUnresolvedPoint) ||
		errors.Is(err, ErrDistanceUnavailable) ||
		errors.Is(err, ErrNoDirectory)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrFacilityNotFound) ||
		errors.Is(err, ErrRunNotFound)
}
