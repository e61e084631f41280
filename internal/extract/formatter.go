package extract

import (
	"math"
	"strings"

	"github.com/livinlefevreloca/stationsync/internal/sales"
	"github.com/livinlefevreloca/stationsync/internal/settlement"
)

// Formatter shapes detail sale records into settlement payloads
type Formatter struct {
	fields     settlement.FieldMap
	timeFormat string
}

// NewFormatter creates a formatter using the configured field names and time layout
func NewFormatter(cfg settlement.Config) *Formatter {
	fields := cfg.Fields
	if fields == nil {
		fields = settlement.DefaultFields()
	}
	return &Formatter{
		fields:     fields,
		timeFormat: cfg.TimeFormat,
	}
}

// Format validates rec and returns its payload. A *sales.FormatError concerns
// this record only.
func (f *Formatter) Format(st *sales.Station, rec sales.DetailSaleRecord) (settlement.Record, error) {
	if err := validate(rec); err != nil {
		return settlement.Record{}, err
	}

	unitPrice := rec.UnitPrice
	if unitPrice <= 0 {
		unitPrice = rec.TotalPrice / rec.SaleLiter
	}

	out := make(map[string]any, len(f.fields))
	f.set(out, settlement.FieldReference, rec.ID)
	f.set(out, settlement.FieldStationID, rec.StationID)
	f.set(out, settlement.FieldStationName, st.Name)
	f.set(out, settlement.FieldLicenseNo, st.LicenseNo)
	f.set(out, settlement.FieldVoucher, strings.TrimSpace(rec.Voucher))
	f.set(out, settlement.FieldNozzle, rec.Nozzle)
	f.set(out, settlement.FieldFuelType, strings.TrimSpace(rec.FuelType))
	f.set(out, settlement.FieldCarNo, rec.CarNo)
	f.set(out, settlement.FieldVehicleType, rec.VehicleType)
	f.set(out, settlement.FieldCashType, rec.CashType)
	f.set(out, settlement.FieldLiters, round(rec.SaleLiter, 3))
	f.set(out, settlement.FieldUnitPrice, round(unitPrice, 2))
	f.set(out, settlement.FieldAmount, round(rec.TotalPrice, 2))
	f.set(out, settlement.FieldSoldAt, rec.SoldAt.UTC().Format(f.timeFormat))

	return settlement.Record{Reference: rec.ID, Fields: out}, nil
}

func (f *Formatter) set(out map[string]any, canonical string, value any) {
	if name, ok := f.fields.Name(canonical); ok {
		out[name] = value
	}
}

func validate(rec sales.DetailSaleRecord) error {
	fail := func(field, reason string) error {
		return &sales.FormatError{RecordID: rec.ID, Field: field, Reason: reason}
	}

	switch {
	case rec.ID == "":
		return fail(settlement.FieldReference, "missing record id")
	case strings.TrimSpace(rec.Voucher) == "":
		return fail(settlement.FieldVoucher, "missing")
	case strings.TrimSpace(rec.FuelType) == "":
		return fail(settlement.FieldFuelType, "missing")
	case rec.SoldAt.IsZero():
		return fail(settlement.FieldSoldAt, "missing")
	case math.IsNaN(rec.SaleLiter) || math.IsInf(rec.SaleLiter, 0) || rec.SaleLiter <= 0:
		return fail(settlement.FieldLiters, "must be positive")
	case math.IsNaN(rec.TotalPrice) || math.IsInf(rec.TotalPrice, 0) || rec.TotalPrice < 0:
		return fail(settlement.FieldAmount, "must not be negative")
	case math.IsNaN(rec.UnitPrice) || math.IsInf(rec.UnitPrice, 0) || rec.UnitPrice < 0:
		return fail(settlement.FieldUnitPrice, "must not be negative")
	}
	return nil
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
