/*
duplicates.go - Duplicate payment detection

PURPOSE:
  Flags repeated travel payments for the same (date, city, representative,
  technician). Flagging only: records are annotated, never changed or
  removed.

ALGORITHM (map-reduce, single goroutine):
  1. Map:    key every record, append its input index to the key's group
  2. Reduce: first index of a multi-member group is "keep", the others
             "zero_out"; single-member groups are "unique"
  Group membership depends only on keys and input order, so the result is
  the same however the caller produced the slice.

POLICY NOTE:
  The key carries no trip or segment identifier. Two genuine same-day visits
  to the same city by the same pair are reported as a duplicate. This is a
  business heuristic to confirm with the owner, not something to fix here.

SEE ALSO:
  - reconcile.go: Filters paid > 0 before calling DetectDuplicates
*/
package engine

import (
	"fmt"

	"github.com/shopspring/decimal"
)

type Recommendation string

const (
	RecommendUnique  Recommendation = "unique"
	RecommendKeep    Recommendation = "keep"
	RecommendZeroOut Recommendation = "zero_out"
)

// Label returns the text shown to reviewers.
func (r Recommendation) Label() string {
	switch r {
	case RecommendKeep:
		return "keep, maintain value"
	case RecommendZeroOut:
		return "excess, recommend zero-out"
	default:
		return "unique, no action"
	}
}

// DuplicateKey identifies one billing slot.
type DuplicateKey struct {
	Date       string      `json:"date"`
	City       CityKey     `json:"city"`
	Facility   FacilityKey `json:"facility"`
	Technician string      `json:"technician"`
}

func (k DuplicateKey) String() string {
	return fmt.Sprintf("%s|%s|%s|%s", k.Date, k.City, k.Facility, k.Technician)
}

// KeyOf returns the duplicate key of a payment record.
func KeyOf(p PaymentRecord) DuplicateKey {
	return DuplicateKey{
		Date:       DateKey(p.Date),
		City:       CityKeyOf(p.City),
		Facility:   FacilityKeyOf(p.Facility),
		Technician: NormalizeKey(p.Technician),
	}
}

// Annotation is the recommendation for one input record.
type Annotation struct {
	Index          int            `json:"index"`
	OrderID        string         `json:"order_id"`
	Key            DuplicateKey   `json:"key"`
	Paid           Amount         `json:"paid"`
	Group          int            `json:"group"`
	Recommendation Recommendation `json:"recommendation"`
}

// DuplicateGroup lists the input indexes sharing a key, in input order.
type DuplicateGroup struct {
	ID      int          `json:"id"`
	Key     DuplicateKey `json:"key"`
	Members []int        `json:"members"`
	Excess  Amount       `json:"excess"`
}

// FilterPaid returns the records with a positive paid amount, in order.
func FilterPaid(records []PaymentRecord) []PaymentRecord {
	out := make([]PaymentRecord, 0, len(records))
	for _, r := range records {
		if r.Paid().IsPositive() {
			out = append(out, r)
		}
	}
	return out
}

// DetectDuplicates annotates every record and returns the duplicate groups
// ordered by their first member. Group IDs start at 1; unique records have
// Group 0.
func DetectDuplicates(records []PaymentRecord) ([]Annotation, []DuplicateGroup) {
	keys := make([]DuplicateKey, len(records))
	members := make(map[DuplicateKey][]int)
	var order []DuplicateKey

	for i, r := range records {
		k := KeyOf(r)
		keys[i] = k
		if _, seen := members[k]; !seen {
			order = append(order, k)
		}
		members[k] = append(members[k], i)
	}

	annotations := make([]Annotation, len(records))
	for i, r := range records {
		annotations[i] = Annotation{
			Index:          i,
			OrderID:        r.OrderID,
			Key:            keys[i],
			Paid:           r.Paid(),
			Recommendation: RecommendUnique,
		}
	}

	var groups []DuplicateGroup
	for _, k := range order {
		idx := members[k]
		if len(idx) < 2 {
			continue
		}
		g := DuplicateGroup{ID: len(groups) + 1, Key: k, Members: idx, Excess: Money(decimal.Zero)}
		for pos, i := range idx {
			annotations[i].Group = g.ID
			if pos == 0 {
				annotations[i].Recommendation = RecommendKeep
				continue
			}
			annotations[i].Recommendation = RecommendZeroOut
			g.Excess = g.Excess.Add(annotations[i].Paid)
		}
		groups = append(groups, g)
	}

	return annotations, groups
}
