package engine

import (
	"sort"
	"time"
)

// =============================================================================
// SAME-CITY PAYMENTS
// =============================================================================

// SameCityPayment is a travel payment for an order in the representative's
// own home city.
type SameCityPayment struct {
	Index    int         `json:"index"`
	OrderID  string      `json:"order_id"`
	Facility FacilityKey `json:"facility"`
	City     CityKey     `json:"city"`
	Paid     Amount      `json:"paid"`
}

// SameCityPayments flags paid records whose city equals the representative's
// home city. The home city comes from the record when present, else from the
// directory.
func SameCityPayments(dir *Directory, records []PaymentRecord) []SameCityPayment {
	var out []SameCityPayment
	for i, r := range records {
		if !r.Paid().IsPositive() {
			continue
		}
		home := CityKeyOf(r.HomeCity)
		if home == "" {
			if f, ok := dir.BillingFacility(r.Facility); ok {
				home = CityKeyOf(f.HomeCity)
			}
		}
		city := CityKeyOf(r.City)
		if home == "" || home != city {
			continue
		}
		out = append(out, SameCityPayment{
			Index:    i,
			OrderID:  r.OrderID,
			Facility: FacilityKeyOf(r.Facility),
			City:     city,
			Paid:     r.Paid(),
		})
	}
	return out
}

// =============================================================================
// WEEKLY REVISITS
// =============================================================================

const (
	DefaultRevisitMinDays = 6
	DefaultRevisitMaxDays = 7
)

// Revisit is a representative returning to a city a few days after a
// previous visit, a hint that both trips could have been one.
type Revisit struct {
	Facility     FacilityKey `json:"facility"`
	City         CityKey     `json:"city"`
	FirstDate    string      `json:"first_date"`
	SecondDate   string      `json:"second_date"`
	DaysApart    int         `json:"days_apart"`
	FirstOrders  []string    `json:"first_orders"`
	SecondOrders []string    `json:"second_orders"`
}

// DetectRevisits pairs visit dates of the same representative and city that
// are between minDays and maxDays apart, inclusive.
func DetectRevisits(records []PaymentRecord, minDays, maxDays int) []Revisit {
	type pairKey struct {
		facility FacilityKey
		city     CityKey
	}
	visits := make(map[pairKey]map[string][]string)
	var pairs []pairKey

	for _, r := range records {
		k := pairKey{facility: FacilityKeyOf(r.Facility), city: CityKeyOf(r.City)}
		if k.facility == "" || k.city == "" || r.Date.IsZero() {
			continue
		}
		byDate, ok := visits[k]
		if !ok {
			byDate = make(map[string][]string)
			visits[k] = byDate
			pairs = append(pairs, k)
		}
		d := DateKey(r.Date)
		byDate[d] = append(byDate[d], r.OrderID)
	}

	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].facility != pairs[j].facility {
			return pairs[i].facility < pairs[j].facility
		}
		return pairs[i].city < pairs[j].city
	})

	var out []Revisit
	for _, k := range pairs {
		dates := make([]string, 0, len(visits[k]))
		for d := range visits[k] {
			dates = append(dates, d)
		}
		sort.Strings(dates)

		for i := range dates {
			for j := i + 1; j < len(dates); j++ {
				apart := daysBetween(dates[i], dates[j])
				if apart > maxDays {
					break
				}
				if apart < minDays {
					continue
				}
				out = append(out, Revisit{
					Facility:     k.facility,
					City:         k.city,
					FirstDate:    dates[i],
					SecondDate:   dates[j],
					DaysApart:    apart,
					FirstOrders:  visits[k][dates[i]],
					SecondOrders: visits[k][dates[j]],
				})
			}
		}
	}
	return out
}

func daysBetween(a, b string) int {
	ta, _ := time.Parse("2006-01-02", a)
	tb, _ := time.Parse("2006-01-02", b)
	return int(tb.Sub(ta).Hours() / 24)
}

// =============================================================================
// PAYMENT FILTERS
// =============================================================================

// DefaultExcludedClients are clients whose orders are not reconciled.
var DefaultExcludedClients = []string{
	"LIGHT SERVICOS DE ELETRICIDADE S/A",
	"FCA CRHYSLER",
	"FCA FIAT CHRYSLER AUTOMOVEIS BRASIL LTDA",
}

// SuggestedStatuses are the order statuses usually reconciled. An empty
// allow list accepts every status.
var SuggestedStatuses = []string{
	"Agendada",
	"Pendente",
	"Aguardando Agendamento",
	"Serviços realizados",
	"Parcialmente realizado",
}

// PaymentFilter drops records by client and status.
type PaymentFilter struct {
	ExcludedClients []string
	AllowedStatuses []string
}

// Apply returns the records that pass the filter, in order, and how many were
// dropped.
func (f PaymentFilter) Apply(records []PaymentRecord) ([]PaymentRecord, int) {
	excluded := keySet(f.ExcludedClients)
	allowed := keySet(f.AllowedStatuses)

	out := make([]PaymentRecord, 0, len(records))
	for _, r := range records {
		if excluded[NormalizeKey(r.Client)] {
			continue
		}
		if len(allowed) > 0 && !allowed[NormalizeKey(r.Status)] {
			continue
		}
		out = append(out, r)
	}
	return out, len(records) - len(out)
}

func keySet(values []string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		if k := NormalizeKey(v); k != "" {
			set[k] = true
		}
	}
	return set
}
