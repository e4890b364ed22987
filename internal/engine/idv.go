package engine

import (
	"math"

	"github.com/rotisserie/eris"

	"vehicle-valuation/internal/models"
)

// IDVInput carries the inputs for the insurance pipeline. The market median
// is an externally sourced, untrusted estimate; zero means absent.
type IDVInput struct {
	Record               models.VehicleRecord
	OriginalOnRoadPrice  float64
	MarketMedianEstimate float64
}

const (
	// Validation threshold: a computed IDV deviating more than this from
	// the market median is flagged for human review.
	validationThresholdPercent = 20.0

	confidenceBase         = 85.0
	confidenceBaseNoMarket = 75.0
	confidenceFailPenalty  = 20.0

	// EV split: the battery/charger/electronics share depreciates faster
	// than the body.
	evAccessoryShare      = 0.15
	evExtraDepreciation   = 10.0
	evMaxAccessoryPercent = 80.0
)

// IDV computes the Insured Declared Value: class-specific grid
// depreciation, the EV accessory split where applicable, the owner-count
// penalty, and the market-median validation with its confidence score.
// Threshold breaches are a normal output state, never an error.
func (e *Engine) IDV(in IDVInput) (*models.IDVValuation, error) {
	if in.OriginalOnRoadPrice <= 0 {
		return nil, eris.Wrap(models.ErrValidation, "original_on_road_price must be positive")
	}
	rec := in.Record

	ageMonths, err := e.AgeMonths(&rec)
	if err != nil {
		return nil, err
	}

	grid := IDVFourWheelerGrid
	if rec.Class == models.ClassTwoWheeler {
		grid = IDVTwoWheelerGrid
	}
	depreciation := grid.PercentAt(ageMonths)

	var idv float64
	meta := map[string]interface{}{}
	if rec.FuelType == models.FuelElectric {
		accessoryDepreciation := math.Min(depreciation+evExtraDepreciation, evMaxAccessoryPercent)
		base := in.OriginalOnRoadPrice * (1 - evAccessoryShare) * (1 - depreciation/100)
		accessories := in.OriginalOnRoadPrice * evAccessoryShare * (1 - accessoryDepreciation/100)
		idv = base + accessories
		meta["ev_accessory_depreciation_percent"] = accessoryDepreciation
	} else {
		idv = in.OriginalOnRoadPrice * (1 - depreciation/100)
	}

	owner := ownerFactor(rec.OwnerCount)
	idv *= owner

	status, difference, confidence := validateIDV(idv, in.MarketMedianEstimate)

	meta["vehicle_age_months"] = ageMonths
	meta["estimated_odometer"] = EstimateOdometer(ageMonths)
	meta["owner_adjustment_factor"] = owner
	meta["base_depreciation_percent"] = depreciation

	return &models.IDVValuation{
		VehicleType:          rec.Class,
		VehicleAge:           AgeString(ageMonths),
		OriginalOnRoadPrice:  round2(in.OriginalOnRoadPrice),
		DepreciationPercent:  depreciation,
		CalculatedIDV:        round2(idv),
		MarketMedianEstimate: round2(in.MarketMedianEstimate),
		DifferencePercent:    difference,
		ValidationStatus:     status,
		ConfidenceScore:      confidence,
		Metadata:             meta,
	}, nil
}

// validateIDV compares a computed IDV with the market median and scores
// confidence. With a median present the base score is 85, minus 20 when the
// difference breaches the threshold; with no median at all the base is 75.
// The score is clamped to [0, 100].
func validateIDV(idv, median float64) (status string, differencePercent, confidence float64) {
	if median <= 0 {
		return models.StatusNoMarketData, 0, clampScore(confidenceBaseNoMarket)
	}

	// The threshold check uses the raw difference; rounding is for display
	// only, so a 20.004% deviation still flags review.
	rawDifference := math.Abs(idv-median) / median * 100
	confidence = confidenceBase
	status = models.StatusWithinRange
	if rawDifference > validationThresholdPercent {
		status = models.StatusManualReview
		confidence -= confidenceFailPenalty
	}
	return status, round2(rawDifference), clampScore(confidence)
}

func clampScore(v float64) float64 {
	return math.Max(0, math.Min(100, v))
}
