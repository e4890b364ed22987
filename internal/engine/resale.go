package engine

import (
	"math"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"vehicle-valuation/internal/models"
)

// ResaleInput carries a normalized record plus the price inputs for the
// resale pipeline. MarketListingsMean and MarketListingCount are optional;
// OdometerKM of zero means "estimate from age".
type ResaleInput struct {
	Record             models.VehicleRecord
	CurrentExShowroom  float64
	MarketListingsMean float64
	MarketListingCount int
	OdometerKM         int
}

// Pipeline constants. Adjustment factors are fixed rule tables, not fitted
// models.
const (
	inflationReversalPerYear = 0.03
	highUsageAnnualKM        = 15000
	lowUsageAnnualKM         = 6000
	highUsagePenalty         = 5.0
	lowUsageBonus            = 3.0
	maxDepreciationPercent   = 75.0
	scrapFraction            = 0.02
	negotiationGap           = 0.07
	marketWeightReliable     = 0.70
	marketWeightDefault      = 0.50
	reliableListingCount     = 2
)

// dealerTerms maps a body type to its margin and refurbishment cost.
var dealerTerms = map[models.BodyType]struct {
	Margin float64
	Refurb float64
}{
	models.BodyHatchback: {0.10, 8000},
	models.BodySedan:     {0.12, 15000},
	models.BodySUV:       {0.12, 15000},
	models.BodyLuxury:    {0.15, 25000},
}

// Resale runs the six-layer resale pipeline: derived metrics, base
// depreciation, market intelligence, regional adjustment, market
// convergence, and dealer economics. Every intermediate quantity surfaces
// in the result metadata for auditability.
func (e *Engine) Resale(in ResaleInput) (*models.ResaleValuation, error) {
	if in.CurrentExShowroom <= 0 {
		return nil, eris.Wrap(models.ErrValidation, "current_ex_showroom must be positive")
	}
	rec := in.Record
	meta := map[string]interface{}{}

	// Layer 1: derived metrics.
	ageMonths, err := e.AgeMonths(&rec)
	if err != nil {
		return nil, err
	}
	ageYears := float64(ageMonths) / 12.0

	odometer := in.OdometerKM
	if odometer <= 0 {
		odometer = EstimateOdometer(ageMonths)
	}
	mileageAdjustment := 0.0
	if ageYears > 0 {
		avgAnnual := float64(odometer) / ageYears
		if avgAnnual > highUsageAnnualKM {
			mileageAdjustment = highUsagePenalty
		} else if avgAnnual < lowUsageAnnualKM {
			mileageAdjustment = -lowUsageBonus
		}
	}

	// Layer 2: base depreciation and book value.
	depreciation := ResaleGrid.PercentAt(ageMonths) + mileageAdjustment
	if depreciation > maxDepreciationPercent {
		depreciation = maxDepreciationPercent
	}
	estimatedHistorical := in.CurrentExShowroom * (1 - inflationReversalPerYear*ageYears)
	bookValue := estimatedHistorical * (1 - depreciation/100)

	// Layer 3: market intelligence, then the owner-count penalty, both
	// against book value before convergence.
	bookValue, _ = applyRules(bookValue, &rec, ageMonths, marketRules, meta)
	bookValue *= ownerFactor(rec.OwnerCount)

	// Layer 4: regional adjustment. Past the NCR diesel scrap threshold the
	// book value collapses to scrap and the ban multiplier no longer
	// applies; the remaining regional rules still do.
	regional := regionalRules
	regionalFactor := 1.0
	if isDieselScrap(&rec, ageMonths) {
		bookValue = estimatedHistorical * scrapFraction
		meta["ncr_diesel_scrap"] = true
		regional = regionalRules[1:]
	}
	bookValue, regionalFactor = applyRules(bookValue, &rec, ageMonths, regional, meta)

	// Layer 5: convergence with observed market prices, then the
	// negotiation gap.
	blended := bookValue
	if in.MarketListingsMean > 0 {
		w := marketWeight(in.MarketListingCount, ageMonths)
		blended = in.MarketListingsMean*w + bookValue*(1-w)
		meta["market_weight"] = w
	}
	fairMarket := blended * (1 - negotiationGap)

	// Layer 6: dealer economics.
	terms, ok := dealerTerms[rec.BodyType]
	if !ok {
		terms = dealerTerms[models.BodyHatchback]
	}
	dealerPrice := math.Max(fairMarket*(1-terms.Margin)-terms.Refurb, 0)

	meta["vehicle_age_years"] = round2(ageYears)
	meta["vehicle_age_months"] = ageMonths
	meta["estimated_odometer"] = odometer
	meta["base_depreciation_percent"] = round2(depreciation)
	meta["book_value"] = round2(bookValue)
	meta["regional_adjustment_factor"] = round2(regionalFactor)
	meta["dealer_margin"] = terms.Margin
	meta["refurbishment_cost"] = terms.Refurb

	zap.L().Debug("resale valuation computed",
		zap.String("make", rec.Make),
		zap.String("base_model", rec.BaseModel),
		zap.Int("age_months", ageMonths),
		zap.Float64("fair_market_retail_value", round2(fairMarket)),
	)

	return &models.ResaleValuation{
		FairMarketRetailValue: round2(fairMarket),
		DealerPurchasePrice:   round2(dealerPrice),
		Metadata:              meta,
	}, nil
}

// ownerFactor applies the owner-count penalty: 1st owner none, then 4
// points per additional owner, capped at the 4th.
func ownerFactor(owners int) float64 {
	if owners < 2 {
		return 1.0
	}
	extra := owners - 1
	if extra > 3 {
		extra = 3
	}
	return 1 - 0.04*float64(extra)
}

// marketWeight picks the convergence weight. A sample with multiple
// listings is trusted at 70%; when the sample size is unknown, vehicles
// under five years lean on the market and older ones split evenly.
func marketWeight(listingCount, ageMonths int) float64 {
	if listingCount >= reliableListingCount {
		return marketWeightReliable
	}
	if listingCount == 0 && ageMonths < 60 {
		return marketWeightReliable
	}
	return marketWeightDefault
}
