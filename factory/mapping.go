/*
Package factory turns raw spreadsheet tables into typed engine records.

PURPOSE:
  The engine only accepts fully mapped TariffRow and PaymentRecord values.
  This package owns everything before that: the declared column mapping,
  CSV decoding, and cell parsing (BRL amounts, day-first dates, decimal
  commas).

DECLARED MAPPING:
  Columns are located by exact header name (case and surrounding spaces
  ignored), never by substring search. The mapping is resolved once per
  table; a required column that is absent fails with *engine.SchemaError.

  tariffs:
    facility: nm_representante
    city: nm_cidade_atendimento
    city_lat: cd_latitude_atendimento
    ...
  payments:
    order_id: OS
    date: Data de Fechamento
    ...

  A YAML or JSON file may override any subset of names; the rest keep the
  defaults.

USAGE:
  m, err := factory.LoadMapping("mapping.yaml")
  f := factory.NewTableFactory(m)
  tbl, err := factory.ReadCSV(file, "tariffs")
  rows, err := f.TariffRows(tbl)

SEE ALSO:
  - table.go: CSV reading
  - parse.go: cell parsers
  - engine/types.go: target record shapes
*/
package factory

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// MAPPING TYPES
// =============================================================================

// TariffColumns names the tariff table headers.
type TariffColumns struct {
	Facility  string `yaml:"facility" json:"facility"`
	City      string `yaml:"city" json:"city"`
	CityLat   string `yaml:"city_lat" json:"city_lat"`
	CityLon   string `yaml:"city_lon" json:"city_lon"`
	HomeLat   string `yaml:"home_lat" json:"home_lat"`
	HomeLon   string `yaml:"home_lon" json:"home_lon"`
	HomeCity  string `yaml:"home_city" json:"home_city"`
	HomeState string `yaml:"home_state" json:"home_state"`
	Phone     string `yaml:"phone" json:"phone"`
	FixedKm   string `yaml:"fixed_km" json:"fixed_km"`
	Rate      string `yaml:"rate" json:"rate"`
	Allowance string `yaml:"allowance" json:"allowance"`
}

// PaymentColumns names the payment table headers.
type PaymentColumns struct {
	OrderID    string `yaml:"order_id" json:"order_id"`
	Date       string `yaml:"date" json:"date"`
	City       string `yaml:"city" json:"city"`
	Facility   string `yaml:"facility" json:"facility"`
	Technician string `yaml:"technician" json:"technician"`
	Trip       string `yaml:"trip" json:"trip"`
	Toll       string `yaml:"toll" json:"toll"`
	Rate       string `yaml:"rate" json:"rate"`
	Allowance  string `yaml:"allowance" json:"allowance"`
	Client     string `yaml:"client" json:"client"`
	Status     string `yaml:"status" json:"status"`
	HomeCity   string `yaml:"home_city" json:"home_city"`
	Latitude   string `yaml:"latitude" json:"latitude"`
	Longitude  string `yaml:"longitude" json:"longitude"`
	LatLon     string `yaml:"lat_lon" json:"lat_lon"`
}

// Mapping is the full declared schema mapping.
type Mapping struct {
	Tariffs  TariffColumns  `yaml:"tariffs" json:"tariffs"`
	Payments PaymentColumns `yaml:"payments" json:"payments"`

	// StripOrderSuffix reduces "12345.2" to "12345".
	StripOrderSuffix bool `yaml:"strip_order_suffix" json:"strip_order_suffix"`
}

// DefaultMapping matches the headers of the standard tariff export and the
// paid-lots report.
func DefaultMapping() Mapping {
	return Mapping{
		Tariffs: TariffColumns{
			Facility:  "nm_representante",
			City:      "nm_cidade_atendimento",
			CityLat:   "cd_latitude_atendimento",
			CityLon:   "cd_longitude_atendimento",
			HomeLat:   "cd_latitude_representante",
			HomeLon:   "cd_longitude_representante",
			HomeCity:  "nm_cidade_representante",
			HomeState: "nm_estado_representante",
			Phone:     "telefone",
			FixedKm:   "qt_distancia_atendimento_km",
			Rate:      "valor km",
			Allowance: "abrangência",
		},
		Payments: PaymentColumns{
			OrderID:    "OS",
			Date:       "Data de Fechamento",
			City:       "Cidade O.S.",
			Facility:   "Representante",
			Technician: "Técnico",
			Trip:       "Valor Deslocamento",
			Toll:       "Pedágio",
			Rate:       "Valor KM",
			Allowance:  "Abrangência",
			Client:     "Cliente",
			Status:     "Status",
			HomeCity:   "Cidade RT",
			LatLon:     "Lat/Long Agendamento",
		},
		StripOrderSuffix: true,
	}
}

// =============================================================================
// LOADING
// =============================================================================

// ParseMapping reads a YAML (or JSON) mapping. Names not given keep their
// default.
func ParseMapping(data []byte) (Mapping, error) {
	m := DefaultMapping()
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Mapping{}, fmt.Errorf("invalid mapping: %w", err)
	}
	return m, nil
}

// LoadMapping reads a mapping file. An empty path returns DefaultMapping.
func LoadMapping(path string) (Mapping, error) {
	if path == "" {
		return DefaultMapping(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Mapping{}, fmt.Errorf("failed to read mapping %s: %w", path, err)
	}
	return ParseMapping(data)
}
