package factory

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"

	"github.com/warp/tariff-engine/engine"
	"github.com/warp/tariff-engine/geo"
)

// =============================================================================
// TABLE - raw header + rows
// =============================================================================

// Table is a decoded spreadsheet: one header row and string cells.
type Table struct {
	Name   string
	Header []string
	Rows   [][]string
}

// ReadCSV decodes a CSV export. Latin-1 input is converted to UTF-8 and the
// separator is ',' unless the header only splits on ';'. Short rows are
// padded; blank rows are skipped.
func ReadCSV(r io.Reader, name string) (*Table, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", name, err)
	}
	if !utf8.Valid(data) {
		data, err = charmap.ISO8859_1.NewDecoder().Bytes(data)
		if err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", name, err)
		}
	}
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))

	sep := ','
	firstLine, _, _ := bytes.Cut(data, []byte("\n"))
	if bytes.Count(firstLine, []byte(";")) > bytes.Count(firstLine, []byte(",")) {
		sep = ';'
	}

	cr := csv.NewReader(bytes.NewReader(data))
	cr.Comma = sep
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", name, err)
	}
	if len(records) == 0 {
		return nil, &engine.SchemaError{Table: name, Missing: []string{"header"}}
	}

	t := &Table{Name: name, Header: records[0]}
	for _, rec := range records[1:] {
		if blank(rec) {
			continue
		}
		for len(rec) < len(t.Header) {
			rec = append(rec, "")
		}
		t.Rows = append(t.Rows, rec)
	}
	return t, nil
}

func blank(rec []string) bool {
	for _, c := range rec {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// columns resolves declared header names to indexes.
type columns struct {
	index map[string]int
}

func (t *Table) columns() columns {
	idx := make(map[string]int, len(t.Header))
	for i, h := range t.Header {
		k := headerKey(h)
		if _, dup := idx[k]; !dup {
			idx[k] = i
		}
	}
	return columns{index: idx}
}

func headerKey(h string) string {
	return strings.ToLower(strings.TrimSpace(h))
}

func (c columns) has(name string) bool {
	if name == "" {
		return false
	}
	_, ok := c.index[headerKey(name)]
	return ok
}

func (c columns) cell(row []string, name string) string {
	if name == "" {
		return ""
	}
	i, ok := c.index[headerKey(name)]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

// =============================================================================
// TABLE FACTORY - Table -> engine records
// =============================================================================

// TableFactory maps tables with one declared Mapping.
type TableFactory struct {
	mapping Mapping
}

func NewTableFactory(m Mapping) *TableFactory {
	return &TableFactory{mapping: m}
}

func (f *TableFactory) Mapping() Mapping {
	return f.mapping
}

// TariffRows maps a tariff table. Facility and city columns are required,
// plus at least one of fixed distance, rate or allowance.
func (f *TableFactory) TariffRows(t *Table) ([]engine.TariffRow, error) {
	m := f.mapping.Tariffs
	cols := t.columns()

	var missing []string
	for _, req := range []string{m.Facility, m.City} {
		if !cols.has(req) {
			missing = append(missing, req)
		}
	}
	if !cols.has(m.FixedKm) && !cols.has(m.Rate) && !cols.has(m.Allowance) {
		missing = append(missing, m.FixedKm+"|"+m.Rate+"|"+m.Allowance)
	}
	if len(missing) > 0 {
		return nil, &engine.SchemaError{Table: t.Name, Missing: missing}
	}

	rows := make([]engine.TariffRow, 0, len(t.Rows))
	for _, r := range t.Rows {
		row := engine.TariffRow{
			Facility:  cols.cell(r, m.Facility),
			City:      cols.cell(r, m.City),
			HomeCity:  cols.cell(r, m.HomeCity),
			HomeState: cols.cell(r, m.HomeState),
			Phone:     cols.cell(r, m.Phone),
			FixedKm:   ParseNullDecimal(cols.cell(r, m.FixedKm)),
			Rate:      ParseNullDecimal(cols.cell(r, m.Rate)),
			Allowance: ParseNullDecimal(cols.cell(r, m.Allowance)),
		}
		if c, ok := geo.ParseCoordinate(cols.cell(r, m.CityLat), cols.cell(r, m.CityLon)); ok {
			row.CityCoord = c.Ptr()
		}
		if c, ok := geo.ParseCoordinate(cols.cell(r, m.HomeLat), cols.cell(r, m.HomeLon)); ok {
			row.Home = c.Ptr()
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// PaymentRows maps a payment table. Order id, date, city, facility,
// technician and trip amount columns are required.
func (f *TableFactory) PaymentRows(t *Table) ([]engine.PaymentRecord, error) {
	m := f.mapping.Payments
	cols := t.columns()

	var missing []string
	for _, req := range []string{m.OrderID, m.Date, m.City, m.Facility, m.Technician, m.Trip} {
		if !cols.has(req) {
			missing = append(missing, req)
		}
	}
	if len(missing) > 0 {
		return nil, &engine.SchemaError{Table: t.Name, Missing: missing}
	}

	records := make([]engine.PaymentRecord, 0, len(t.Rows))
	for _, r := range t.Rows {
		orderID := cols.cell(r, m.OrderID)
		if f.mapping.StripOrderSuffix {
			orderID = OrderRoot(orderID)
		}
		date, _ := ParseDate(cols.cell(r, m.Date))

		records = append(records, engine.PaymentRecord{
			DemandRecord: engine.DemandRecord{
				OrderID:   orderID,
				City:      cols.cell(r, m.City),
				Latitude:  cols.cell(r, m.Latitude),
				Longitude: cols.cell(r, m.Longitude),
				LatLon:    cols.cell(r, m.LatLon),
			},
			Date:       date,
			Facility:   cols.cell(r, m.Facility),
			Technician: cols.cell(r, m.Technician),
			Trip:       ParseAmount(cols.cell(r, m.Trip)),
			Toll:       ParseAmount(cols.cell(r, m.Toll)),
			Rate:       ParseNullDecimal(cols.cell(r, m.Rate)),
			Allowance:  ParseNullDecimal(cols.cell(r, m.Allowance)),
			Client:     cols.cell(r, m.Client),
			Status:     cols.cell(r, m.Status),
			HomeCity:   cols.cell(r, m.HomeCity),
		})
	}
	return records, nil
}
