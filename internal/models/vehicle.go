package models

import "time"

// FuelType is the normalized fuel classification of a vehicle.
type FuelType string

const (
	FuelPetrol   FuelType = "Petrol"
	FuelDiesel   FuelType = "Diesel"
	FuelCNG      FuelType = "CNG"
	FuelElectric FuelType = "Electric"
)

// BodyType is the body classification used for dealer economics.
type BodyType string

const (
	BodyHatchback BodyType = "Hatchback"
	BodySedan     BodyType = "Sedan"
	BodySUV       BodyType = "SUV"
	BodyLuxury    BodyType = "Luxury"
)

// VehicleClass selects the IDV depreciation grid.
type VehicleClass string

const (
	ClassTwoWheeler  VehicleClass = "2W"
	ClassFourWheeler VehicleClass = "4W"
)

// VehicleRecord is the normalized snapshot every pipeline consumes.
// ManufacturingYear is the source of truth for age; it is always derived
// from the manufacturing date, never the registration date.
type VehicleRecord struct {
	RCNumber           string       `json:"rc_number,omitempty"`
	Make               string       `json:"make"`
	BaseModel          string       `json:"base_model"`
	FullModel          string       `json:"full_model,omitempty"`
	Variant            string       `json:"variant,omitempty"`
	FuelType           FuelType     `json:"fuel_type"`
	ManufacturingYear  string       `json:"manufacturing_year"`
	ManufacturingMonth int          `json:"manufacturing_month"`
	RegistrationCode   string       `json:"registration_code,omitempty"`
	City               string       `json:"city"`
	BodyType           BodyType     `json:"body_type,omitempty"`
	Color              string       `json:"color,omitempty"`
	OwnerCount         int          `json:"owner_count"`
	OdometerKM         int          `json:"odometer_km,omitempty"`
	Class              VehicleClass `json:"vehicle_class,omitempty"`
}

// CacheKey is the coarse equivalence class for valuation reuse. All four
// fields must match exactly (case-normalized) for a hit.
type CacheKey struct {
	Make              string `json:"make"`
	BaseModel         string `json:"base_model"`
	ManufacturingYear string `json:"manufacturing_year"`
	City              string `json:"city"`
}

// ResaleValuation is the output of the resale pipeline.
type ResaleValuation struct {
	FairMarketRetailValue float64                `json:"fair_market_retail_value"`
	DealerPurchasePrice   float64                `json:"dealer_purchase_price"`
	Metadata              map[string]interface{} `json:"metadata"`
}

// IDVValuation is the output of the IDV pipeline.
type IDVValuation struct {
	VehicleType          VehicleClass           `json:"vehicle_type"`
	VehicleAge           string                 `json:"vehicle_age"`
	OriginalOnRoadPrice  float64                `json:"original_on_road_price"`
	DepreciationPercent  float64                `json:"depreciation_percent"`
	CalculatedIDV        float64                `json:"calculated_idv"`
	MarketMedianEstimate float64                `json:"market_median_estimate,omitempty"`
	DifferencePercent    float64                `json:"difference_percent"`
	ValidationStatus     string                 `json:"validation_status"`
	ConfidenceScore      float64                `json:"confidence_score"`
	Metadata             map[string]interface{} `json:"metadata"`
}

// Validation statuses. Threshold breaches are normal output states consumed
// by human review, never errors.
const (
	StatusWithinRange  = "Within Acceptable Range"
	StatusManualReview = "Manual Review Required"
	StatusNoMarketData = "No Market Data"
)

// CacheRecord is a persisted valuation row. Rows are append-only: each
// computation inserts a new record and reads select the most recent one
// inside the validity window.
type CacheRecord struct {
	ID                      int64     `json:"id"`
	RCNumber                string    `json:"rc_number"`
	Make                    string    `json:"vehicle_make"`
	BaseModel               string    `json:"vehicle_model"`
	Variant                 string    `json:"variant,omitempty"`
	ManufacturingYear       string    `json:"manufacturing_year"`
	City                    string    `json:"city"`
	FuelType                string    `json:"fuel_type"`
	OwnerCount              int       `json:"owner_count"`
	VehicleAge              string    `json:"vehicle_age"`
	EstimatedOdometer       int       `json:"estimated_odometer"`
	CurrentExShowroom       float64   `json:"current_ex_showroom"`
	BaseDepreciationPercent float64   `json:"base_depreciation_percent"`
	BookValue               float64   `json:"book_value"`
	MarketListingsMean      float64   `json:"market_listings_mean"`
	FairMarketRetailValue   float64   `json:"fair_market_retail_value"`
	DealerPurchasePrice     float64   `json:"dealer_purchase_price"`
	CalculatedIDV           float64   `json:"calculated_idv"`
	ValidationStatus        string    `json:"validation_status"`
	ConfidenceScore         float64   `json:"confidence_score"`
	Source                  string    `json:"source,omitempty"`
	CreatedAt               time.Time `json:"created_at"`
}

// Key returns the cache key for the record.
func (r *CacheRecord) Key() CacheKey {
	return CacheKey{
		Make:              r.Make,
		BaseModel:         r.BaseModel,
		ManufacturingYear: r.ManufacturingYear,
		City:              r.City,
	}
}
