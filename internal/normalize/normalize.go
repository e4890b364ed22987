// Package normalize canonicalizes raw registration-record attributes into
// the VehicleRecord consumed by the valuation pipelines and the cache key
// used for exact-match reuse. It performs no I/O.
package normalize

import (
	"regexp"
	"strings"

	"github.com/rotisserie/eris"

	"vehicle-valuation/internal/models"
)

// RawAttributes are the fields as returned by the registration-record
// lookup, before any cleanup.
type RawAttributes struct {
	RCNumber          string `json:"rc_number"`
	MakerDescription  string `json:"maker_description"`
	MakerModel        string `json:"maker_model"`
	ManufacturingDate string `json:"manufacturing_date"`
	FuelType          string `json:"fuel_type"`
	BodyType          string `json:"body_type"`
	VehicleCategory   string `json:"vehicle_category"`
	RegisteredAt      string `json:"registered_at"`
	Color             string `json:"color"`
	OwnerCount        int    `json:"owner_count"`
}

// Corporate-entity suffixes stripped from manufacturer names, longest first
// so compound suffixes win over their components.
var corporateSuffixes = []string{
	"PRIVATE LIMITED", "CORPORATION", "INDIA LTD", "LIMITED", "COMPANY",
	"MOTORS", "MOTOR", "INDIA", "PVT", "LTD", "CO.", "INC",
}

var yearRE = regexp.MustCompile(`\b(19|20)\d{2}\b`)

// Vehicle builds a normalized VehicleRecord from raw attributes. It fails
// with a NormalizationError when make, model, or the manufacturing date is
// absent or unparseable.
func Vehicle(raw RawAttributes) (*models.VehicleRecord, error) {
	mk := CleanMake(raw.MakerDescription)
	if mk == "" {
		return nil, eris.Wrap(models.ErrNormalization, "missing manufacturer")
	}

	model := strings.TrimSpace(raw.MakerModel)
	if model == "" {
		return nil, eris.Wrap(models.ErrNormalization, "missing model")
	}

	year, month, err := ManufacturingYear(raw.ManufacturingDate)
	if err != nil {
		return nil, err
	}

	owners := raw.OwnerCount
	if owners < 1 {
		owners = 1
	}

	return &models.VehicleRecord{
		RCNumber:           strings.ToUpper(strings.TrimSpace(raw.RCNumber)),
		Make:               mk,
		BaseModel:          BaseModel(model),
		FullModel:          model,
		FuelType:           FuelType(raw.FuelType),
		ManufacturingYear:  year,
		ManufacturingMonth: month,
		RegistrationCode:   RegistrationCode(raw.RCNumber),
		City:               City(raw.RegisteredAt),
		BodyType:           BodyType(raw.BodyType),
		Color:              titleCase(raw.Color),
		OwnerCount:         owners,
		Class:              Class(raw.VehicleCategory),
	}, nil
}

// Key derives the exact-match cache key from a normalized record.
func Key(rec *models.VehicleRecord) models.CacheKey {
	return models.CacheKey{
		Make:              strings.ToUpper(rec.Make),
		BaseModel:         rec.BaseModel,
		ManufacturingYear: rec.ManufacturingYear,
		City:              rec.City,
	}
}

// CleanMake strips trailing corporate-entity suffixes from a manufacturer
// string, repeatedly, so "HONDA MOTORCYCLE & SCOOTER INDIA PVT LTD" reduces
// to "HONDA MOTORCYCLE & SCOOTER".
func CleanMake(s string) string {
	out := strings.Join(strings.Fields(s), " ")
	for {
		trimmed := out
		upper := strings.ToUpper(out)
		for _, suffix := range corporateSuffixes {
			if upper == suffix {
				continue
			}
			if strings.HasSuffix(upper, " "+suffix) {
				trimmed = strings.TrimSpace(out[:len(out)-len(suffix)-1])
				break
			}
		}
		if trimmed == out {
			return out
		}
		out = trimmed
	}
}

// BaseModel returns the first whitespace-delimited token of a model string,
// uppercased. Trim and variant tokens are deliberately ignored.
func BaseModel(model string) string {
	fields := strings.Fields(model)
	if len(fields) == 0 {
		return ""
	}
	return strings.ToUpper(fields[0])
}

// ManufacturingYear extracts the 4-digit year and (when present) month from
// a manufacturing-date string such as "2017-12", "2019-03-15" or "2019".
func ManufacturingYear(date string) (string, int, error) {
	date = strings.TrimSpace(date)
	year := yearRE.FindString(date)
	if year == "" {
		return "", 0, eris.Wrapf(models.ErrNormalization, "unparseable manufacturing date %q", date)
	}

	month := 1
	if idx := strings.Index(date, year); idx >= 0 {
		rest := strings.TrimLeft(date[idx+len(year):], "-/")
		if len(rest) >= 2 {
			if m := int(rest[0]-'0')*10 + int(rest[1]-'0'); m >= 1 && m <= 12 {
				month = m
			}
		}
	}
	return year, month, nil
}

// City extracts the city token from a registration-location field such as
// "DELHI, Delhi" and uppercases it.
func City(registeredAt string) string {
	city := registeredAt
	if idx := strings.Index(registeredAt, ","); idx >= 0 {
		city = registeredAt[:idx]
	}
	return strings.ToUpper(strings.TrimSpace(city))
}

// RegistrationCode returns the RTO prefix (first four characters) of a
// registration number, e.g. "DL08AB1234" -> "DL08".
func RegistrationCode(rcNumber string) string {
	rc := strings.ToUpper(strings.TrimSpace(rcNumber))
	if len(rc) > 4 {
		return rc[:4]
	}
	return rc
}

// FuelType maps a raw fuel string onto the normalized enum. Unrecognized
// values default to Petrol, matching the upstream feed's bias.
func FuelType(raw string) models.FuelType {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "DIESEL":
		return models.FuelDiesel
	case "CNG", "LPG":
		return models.FuelCNG
	case "ELECTRIC", "EV", "BATTERY":
		return models.FuelElectric
	default:
		return models.FuelPetrol
	}
}

// BodyType maps raw body-type strings onto dealer-economics categories.
// Two-wheelers share the Hatchback margin band.
func BodyType(raw string) models.BodyType {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "SEDAN":
		return models.BodySedan
	case "SUV", "MUV":
		return models.BodySUV
	case "LUXURY", "COUPE", "CONVERTIBLE":
		return models.BodyLuxury
	}
	// Two-wheelers and unrecognized bodies share the Hatchback margin band.
	return models.BodyHatchback
}

func titleCase(s string) string {
	words := strings.Fields(strings.ToLower(s))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

// Class detects the IDV grid class from the vehicle-category description,
// e.g. "Scooter(2WN)" -> 2W.
func Class(category string) models.VehicleClass {
	upper := strings.ToUpper(category)
	if strings.Contains(upper, "SCOOTER") || strings.Contains(upper, "MOTORCYCLE") {
		return models.ClassTwoWheeler
	}
	return models.ClassFourWheeler
}
