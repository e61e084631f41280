package settlement

import (
	"fmt"
	"net/url"
	"time"
)

// Config describes how to reach the settlement service. The success code and
// field names belong to the external API and are configuration, not code.
type Config struct {
	BaseURL    string `toml:"base_url" env:"BASE_URL"`
	AuthPath   string `toml:"auth_path"`
	SubmitPath string `toml:"submit_path"`
	Username   string `toml:"username" env:"USERNAME"`
	Password   string `toml:"password" env:"PASSWORD"`

	// Bound on every single request to the service
	Timeout time.Duration `toml:"timeout"`

	// Response status value that means the batch was recorded
	SuccessStatus string `toml:"success_status"`

	// Used when neither the auth response nor the token itself carries an expiry
	TokenTTL time.Duration `toml:"token_ttl"`

	// Layout for timestamps in submitted records
	TimeFormat string `toml:"time_format"`

	// Canonical record field -> name the service expects. "-" drops the field.
	Fields FieldMap `toml:"fields"`
}

// FieldMap renames canonical record fields for the external payload
type FieldMap map[string]string

// Canonical record fields
const (
	FieldReference   = "reference"
	FieldStationID   = "station_id"
	FieldStationName = "station_name"
	FieldLicenseNo   = "license_no"
	FieldVoucher     = "voucher"
	FieldNozzle      = "nozzle"
	FieldFuelType    = "fuel_type"
	FieldCarNo       = "car_no"
	FieldVehicleType = "vehicle_type"
	FieldCashType    = "cash_type"
	FieldLiters      = "liters"
	FieldUnitPrice   = "unit_price"
	FieldAmount      = "amount"
	FieldSoldAt      = "sold_at"
)

// DefaultFields returns the field names used by the settlement API
func DefaultFields() FieldMap {
	return FieldMap{
		FieldReference:   "reference",
		FieldStationID:   "station_id",
		FieldStationName: "station_name",
		FieldLicenseNo:   "license_no",
		FieldVoucher:     "voucher_no",
		FieldNozzle:      "nozzle_no",
		FieldFuelType:    "fuel_type",
		FieldCarNo:       "vehicle_no",
		FieldVehicleType: "vehicle_type",
		FieldCashType:    "payment_type",
		FieldLiters:      "liter",
		FieldUnitPrice:   "unit_price",
		FieldAmount:      "total_amount",
		FieldSoldAt:      "sale_date",
	}
}

// Name returns the external name for a canonical field and whether it is sent at all
func (m FieldMap) Name(canonical string) (string, bool) {
	name, ok := m[canonical]
	if !ok || name == "" {
		return canonical, true
	}
	if name == "-" {
		return "", false
	}
	return name, true
}

// DefaultConfig returns settlement defaults matching the MPTA API
func DefaultConfig() Config {
	return Config{
		AuthPath:      "/api/auth/token",
		SubmitPath:    "/api/detail-sales",
		Timeout:       30 * time.Second,
		SuccessStatus: "200",
		TokenTTL:      10 * time.Minute,
		TimeFormat:    time.RFC3339,
		Fields:        DefaultFields(),
	}
}

// Validate checks settlement configuration
func (c Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("settlement base_url must be specified")
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("settlement base_url is not an absolute URL: %q", c.BaseURL)
	}
	if c.AuthPath == "" || c.SubmitPath == "" {
		return fmt.Errorf("settlement auth_path and submit_path must be specified")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("settlement timeout must be positive, got %v", c.Timeout)
	}
	if c.SuccessStatus == "" {
		return fmt.Errorf("settlement success_status must be specified")
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("settlement token_ttl must be positive, got %v", c.TokenTTL)
	}
	if name, ok := c.Fields.Name(FieldReference); !ok || name == "" {
		return fmt.Errorf("settlement field %q cannot be dropped", FieldReference)
	}
	return nil
}
