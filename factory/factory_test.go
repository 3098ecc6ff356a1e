package factory_test

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/tariff-engine/engine"
	"github.com/warp/tariff-engine/factory"
)

const tariffCSV = `nm_representante;nm_cidade_atendimento;cd_latitude_atendimento;cd_longitude_atendimento;cd_latitude_representante;cd_longitude_representante;qt_distancia_atendimento_km;valor km;abrangência
Rep A;Campinas;-22,9;-47,06;-23,55;-46,63;95;1,20;20
Rep A;Jundiaí;-23,18;-46,88;-23,55;-46,63;;1,20;
`

const paymentCSV = `OS,Data de Fechamento,Cidade O.S.,Representante,Técnico,Valor Deslocamento,Pedágio,Cliente,Status,Lat/Long Agendamento
12345.1,10/01/2024,Campinas,Rep A,Ana,"R$ 1.234,56","12,40",ACME,Agendada,"-22.9,-47.06"
12346,11/01/2024,Jundiaí,Rep A,Ana,80,,ACME,Pendente,
,,,,,,,,,
`

// =============================================================================
// CELL PARSERS
// =============================================================================

func TestParseDecimal(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"1234.5", "1234.5", true},
		{"1.234,56", "1234.56", true},
		{"R$ 80,00", "80", true},
		{"R$1.000.000,10", "1000000.10", true},
		{" 20 ", "20", true},
		{"-3,5", "-3.5", true},
		{"R$ 1.500", "1500", true},
		{"1.234.567", "1234567", true},
		{"-2.000", "-2000", true},
		{"12.5", "12.5", true},
		{"0.500", "0.5", true},
		{"1234.567", "1234.567", true},
		{"", "0", false},
		{"abc", "0", false},
	}
	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			got, ok := factory.ParseDecimal(tc.in)
			assert.Equal(t, tc.ok, ok)
			assert.Truef(t, decimal.RequireFromString(tc.want).Equal(got), "got %s", got)
		})
	}

	assert.False(t, factory.ParseNullDecimal("").Valid)
	assert.True(t, factory.ParseNullDecimal("0").Valid)
}

func TestParseDate_DayFirst(t *testing.T) {
	want := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	for _, in := range []string{"10/01/2024", "10/01/2024 14:35", "2024-01-10", "10-01-2024", "2024-01-10T09:00:00-03:00"} {
		got, ok := factory.ParseDate(in)
		require.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}

	_, ok := factory.ParseDate("not a date")
	assert.False(t, ok)
}

func TestOrderRoot(t *testing.T) {
	assert.Equal(t, "12345", factory.OrderRoot("12345.2"))
	assert.Equal(t, "12345", factory.OrderRoot(" 12345 "))
	assert.Equal(t, ".5", factory.OrderRoot(".5"))
}

// =============================================================================
// TABLES
// =============================================================================

func TestTariffRows_DefaultMapping(t *testing.T) {
	// GIVEN: A semicolon export with decimal commas
	tbl, err := factory.ReadCSV(strings.NewReader(tariffCSV), "tariffs")
	require.NoError(t, err)

	// WHEN: Mapping with the defaults
	rows, err := factory.NewTableFactory(factory.DefaultMapping()).TariffRows(tbl)
	require.NoError(t, err)

	// THEN: Typed rows, missing cells stay absent
	require.Len(t, rows, 2)
	assert.Equal(t, "Rep A", rows[0].Facility)
	require.NotNil(t, rows[0].CityCoord)
	assert.InDelta(t, -22.9, rows[0].CityCoord.Lat, 1e-9)
	require.NotNil(t, rows[0].Home)
	assert.True(t, rows[0].FixedKm.Valid)
	assert.Equal(t, "1.2", rows[0].Rate.Decimal.String())
	assert.False(t, rows[1].FixedKm.Valid)
	assert.False(t, rows[1].Allowance.Valid)
}

func TestTariffRows_MissingColumnsIsSchemaError(t *testing.T) {
	tbl, err := factory.ReadCSV(strings.NewReader("nm_representante,cidade\nA,X\n"), "tariffs")
	require.NoError(t, err)

	_, err = factory.NewTableFactory(factory.DefaultMapping()).TariffRows(tbl)

	var se *engine.SchemaError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "tariffs", se.Table)
	assert.Contains(t, se.Missing, "nm_cidade_atendimento")
	assert.Len(t, se.Missing, 2)
}

func TestPaymentRows_DefaultMapping(t *testing.T) {
	tbl, err := factory.ReadCSV(strings.NewReader(paymentCSV), "payments")
	require.NoError(t, err)
	require.Len(t, tbl.Rows, 2, "blank row skipped")

	recs, err := factory.NewTableFactory(factory.DefaultMapping()).PaymentRows(tbl)
	require.NoError(t, err)

	require.Len(t, recs, 2)
	first := recs[0]
	assert.Equal(t, "12345", first.OrderID)
	assert.Equal(t, time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC), first.Date)
	assert.Equal(t, "1234.56", first.Trip.String())
	assert.Equal(t, "12.4", first.Toll.String())
	assert.Equal(t, "1246.96", first.Paid().Value.String())
	assert.Equal(t, "-22.9,-47.06", first.LatLon)
	assert.True(t, recs[1].Toll.IsZero())
}

func TestPaymentRows_MissingTechnician(t *testing.T) {
	tbl, err := factory.ReadCSV(strings.NewReader("OS,Data de Fechamento,Cidade O.S.,Representante,Valor Deslocamento\n1,10/01/2024,X,A,10\n"), "payments")
	require.NoError(t, err)

	_, err = factory.NewTableFactory(factory.DefaultMapping()).PaymentRows(tbl)

	var se *engine.SchemaError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, []string{"Técnico"}, se.Missing)
}

func TestReadCSV_Latin1(t *testing.T) {
	// "Técnico" and "Jundiaí" in ISO-8859-1
	raw := []byte("OS,T\xe9cnico\n1,Jundia\xed\n")

	tbl, err := factory.ReadCSV(bytes.NewReader(raw), "payments")
	require.NoError(t, err)

	assert.Equal(t, "Técnico", tbl.Header[1])
	assert.Equal(t, "Jundiaí", tbl.Rows[0][1])
}

func TestParseMapping_OverridesSubset(t *testing.T) {
	m, err := factory.ParseMapping([]byte("payments:\n  technician: Tecnico\n  date: Data\nstrip_order_suffix: false\n"))
	require.NoError(t, err)

	assert.Equal(t, "Tecnico", m.Payments.Technician)
	assert.Equal(t, "Data", m.Payments.Date)
	assert.Equal(t, "OS", m.Payments.OrderID, "unset names keep defaults")
	assert.False(t, m.StripOrderSuffix)

	// JSON is valid YAML.
	m, err = factory.ParseMapping([]byte(`{"tariffs": {"rate": "vl_km"}}`))
	require.NoError(t, err)
	assert.Equal(t, "vl_km", m.Tariffs.Rate)
	assert.Equal(t, "nm_representante", m.Tariffs.Facility)
}
