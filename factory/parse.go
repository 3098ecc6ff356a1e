package factory

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// CELL PARSERS - every fallback is an explicit (value, ok) branch
// =============================================================================

// ParseDecimal parses plain and Brazilian-formatted numbers:
// "1234.5", "1.234,56", "R$ 80,00", "20". Without a comma, dots that split
// the number into thousands groups ("1.500", "1.234.567") are thousands
// separators; any other dot is the decimal point.
func ParseDecimal(s string) (decimal.Decimal, bool) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "R$")
	s = strings.ReplaceAll(s, " ", "")
	s = strings.ReplaceAll(s, "\u00a0", "")
	if s == "" || s == "-" {
		return decimal.Zero, false
	}

	if strings.Contains(s, ",") || thousandsGrouped(s) {
		s = strings.ReplaceAll(s, ".", "")
		s = strings.Replace(s, ",", ".", 1)
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

// thousandsGrouped reports whether s reads as "d.ddd[.ddd...]" with a
// non-zero leading group of one to three digits.
func thousandsGrouped(s string) bool {
	groups := strings.Split(strings.TrimPrefix(s, "-"), ".")
	if len(groups) < 2 {
		return false
	}
	lead := groups[0]
	if len(lead) == 0 || len(lead) > 3 || lead[0] == '0' || !allDigits(lead) {
		return false
	}
	for _, g := range groups[1:] {
		if len(g) != 3 || !allDigits(g) {
			return false
		}
	}
	return true
}

func allDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// ParseNullDecimal is ParseDecimal with absence as an invalid NullDecimal.
func ParseNullDecimal(s string) decimal.NullDecimal {
	d, ok := ParseDecimal(s)
	if !ok {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(d)
}

// ParseAmount parses a paid amount. Empty or unparsable cells count as 0.
func ParseAmount(s string) decimal.Decimal {
	d, _ := ParseDecimal(s)
	return d
}

var dateLayouts = []string{
	"02/01/2006",
	"02/01/2006 15:04",
	"02/01/2006 15:04:05",
	"2/1/2006",
	"02-01-2006",
	"02/01/06",
	"2006-01-02",
	"2006-01-02 15:04:05",
	time.RFC3339,
}

// ParseDate parses a day-first date. Only the calendar day is kept.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			y, m, d := t.Date()
			return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), true
		}
	}
	return time.Time{}, false
}

// OrderRoot strips a ".N" suffix from a work-order id.
func OrderRoot(id string) string {
	id = strings.TrimSpace(id)
	if i := strings.Index(id, "."); i > 0 {
		return id[:i]
	}
	return id
}
