package engine_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/warp/tariff-engine/engine"
	"github.com/warp/tariff-engine/geo"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var (
	homeA   = geo.Coordinate{Lat: -23.55, Lon: -46.63}
	homeB   = geo.Coordinate{Lat: -22.90, Lon: -43.17}
	cityX   = geo.Coordinate{Lat: -23.50, Lon: -46.60}
	cityY   = geo.Coordinate{Lat: -23.2802, Lon: -46.63} // ~30 km north of homeA
	jan10   = time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	jan11   = time.Date(2024, 1, 11, 0, 0, 0, 0, time.UTC)
	jan17   = time.Date(2024, 1, 17, 0, 0, 0, 0, time.UTC)
	noValue = decimal.NullDecimal{}
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func some(s string) decimal.NullDecimal { return decimal.NewNullDecimal(dec(s)) }

func tariff(facility string, home geo.Coordinate, city string, cityCoord *geo.Coordinate, fixedKm, rate, allowance decimal.NullDecimal) engine.TariffRow {
	return engine.TariffRow{
		Facility:  facility,
		City:      city,
		CityCoord: cityCoord,
		Home:      home.Ptr(),
		FixedKm:   fixedKm,
		Rate:      rate,
		Allowance: allowance,
	}
}

// standardTariffs: A serves CITYX (50 km, 2.00/km, 20 km allowance) and
// knows CITYY only by coordinate; B serves nothing near.
func standardTariffs() []engine.TariffRow {
	return []engine.TariffRow{
		tariff("A", homeA, "CITYX", cityX.Ptr(), some("50"), some("2.00"), some("20")),
		tariff("B", homeB, "RIO", homeB.Ptr(), some("10"), some("1.50"), some("0")),
		{City: "CITYY", CityCoord: cityY.Ptr()},
	}
}

func newDirectory(t *testing.T, rows []engine.TariffRow) *engine.Directory {
	t.Helper()
	return engine.NewDirectory(rows, engine.DefaultDirectoryOptions())
}

func point(orderID, city string, c geo.Coordinate) engine.DemandPoint {
	return engine.DemandPoint{
		OrderID:  orderID,
		City:     engine.CityKeyOf(city),
		CityName: city,
		Coord:    c.Ptr(),
		Origin:   engine.OriginExplicit,
	}
}

func payment(orderID string, date time.Time, city, facility, tech, trip string) engine.PaymentRecord {
	return engine.PaymentRecord{
		DemandRecord: engine.DemandRecord{OrderID: orderID, City: city},
		Date:         date,
		Facility:     facility,
		Technician:   tech,
		Trip:         dec(trip),
		Toll:         decimal.Zero,
	}
}

func assertDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.Truef(t, dec(want).Equal(got), "want %s, got %s", want, got.String())
}
