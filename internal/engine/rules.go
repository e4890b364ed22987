package engine

import (
	"strings"

	"vehicle-valuation/internal/models"
)

// Rule pairs a named predicate with a multiplicative factor. Rules in a
// chain are evaluated independently, in declaration order, and compound
// against the running value; the order is never changed at runtime.
type Rule struct {
	Name    string
	Applies func(rec *models.VehicleRecord, ageMonths int) bool
	Factor  float64
}

// applyRules runs a chain against a value and records each fired rule's
// factor under its name in meta. Returns the adjusted value and the product
// of fired factors.
func applyRules(value float64, rec *models.VehicleRecord, ageMonths int, rules []Rule, meta map[string]interface{}) (float64, float64) {
	product := 1.0
	for _, r := range rules {
		if r.Applies(rec, ageMonths) {
			value *= r.Factor
			product *= r.Factor
			meta[r.Name] = r.Factor
		}
	}
	return value, product
}

// Model lists driving the lifecycle penalties. Matching is substring-based
// against the full model string, mirroring how the listing feeds name trims.
var discontinuedModels = []string{
	"Ecosport", "Figo", "Aspire", "Civic", "CR-V", "Yaris",
	"Etios", "Corolla Altis", "Punto", "Linea", "Aveo", "Beat", "Sail",
}

var newGenerationModels = []string{
	"Swift", "Dzire", "Baleno", "Creta", "Venue", "i20", "Verna",
	"Seltos", "Sonet", "City", "Amaze", "WR-V", "Brezza", "Ertiga",
}

var preferredColors = map[string]bool{
	"White": true, "Silver": true, "Grey": true, "Black": true,
}

func modelInList(model string, list []string) bool {
	lower := strings.ToLower(model)
	for _, m := range list {
		if strings.Contains(lower, strings.ToLower(m)) {
			return true
		}
	}
	return false
}

// marketRules are the lifecycle penalties of the resale pipeline, applied
// in this order: discontinued model, new generation launched, non-preferred
// color. Penalties compound against the running value.
var marketRules = []Rule{
	{
		Name: "discontinued_penalty",
		Applies: func(rec *models.VehicleRecord, _ int) bool {
			return modelInList(rec.FullModel, discontinuedModels)
		},
		Factor: 0.85,
	},
	{
		Name: "new_generation_penalty",
		Applies: func(rec *models.VehicleRecord, ageMonths int) bool {
			return ageMonths > 36 && modelInList(rec.FullModel, newGenerationModels)
		},
		Factor: 0.90,
	},
	{
		Name: "color_penalty",
		Applies: func(rec *models.VehicleRecord, _ int) bool {
			return rec.Color != "" && !preferredColors[rec.Color]
		},
		Factor: 0.98,
	},
}

// NCR cities covered by the diesel restrictions.
var ncrCities = map[string]bool{
	"DELHI": true, "NEW DELHI": true, "NOIDA": true, "GURGAON": true,
	"GURUGRAM": true, "FARIDABAD": true, "GHAZIABAD": true,
}

var southPrefixes = []string{"KA", "TS", "TN", "KL", "AP"}

var coastalCities = map[string]bool{
	"MUMBAI": true, "CHENNAI": true, "KOLKATA": true,
}

func inNCR(rec *models.VehicleRecord) bool {
	return strings.HasPrefix(rec.RegistrationCode, "DL") || ncrCities[rec.City]
}

// regionalRules are location- and fuel-conditioned multipliers, evaluated
// independently and compounded in this order.
var regionalRules = []Rule{
	{
		Name: "ncr_diesel_ban",
		Applies: func(rec *models.VehicleRecord, ageMonths int) bool {
			return rec.FuelType == models.FuelDiesel && inNCR(rec) && ageMonths >= 96
		},
		Factor: 0.75,
	},
	{
		Name: "south_india_premium",
		Applies: func(rec *models.VehicleRecord, _ int) bool {
			for _, p := range southPrefixes {
				if strings.HasPrefix(rec.RegistrationCode, p) {
					return true
				}
			}
			return false
		},
		Factor: 1.12,
	},
	{
		Name: "coastal_corrosion",
		Applies: func(rec *models.VehicleRecord, ageMonths int) bool {
			return coastalCities[rec.City] && ageMonths >= 60
		},
		Factor: 0.96,
	},
}

// dieselScrapMonths is the NCR threshold past which a diesel vehicle is
// worth scrap only: 9.5 years, in months.
const dieselScrapMonths = 114

func isDieselScrap(rec *models.VehicleRecord, ageMonths int) bool {
	return rec.FuelType == models.FuelDiesel && inNCR(rec) && ageMonths > dieselScrapMonths
}
