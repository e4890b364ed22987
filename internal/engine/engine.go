// Package engine implements the deterministic valuation core: the layered
// resale pipeline and the IDV pipeline with its validator. Every
// computation is a pure function of the normalized record, the supplied
// price inputs, and the engine clock; the engine performs no I/O.
package engine

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/rotisserie/eris"

	"vehicle-valuation/internal/models"
)

// Engine evaluates valuation pipelines against a fixed clock.
type Engine struct {
	now func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the engine clock. Tests pin it for deterministic
// age-derived outputs.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// New creates an Engine. The default clock is time.Now.
func New(opts ...Option) *Engine {
	e := &Engine{now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// AgeMonths computes the vehicle age in whole months from its manufacturing
// year and month. Age always derives from the manufacturing date, never the
// registration date.
func (e *Engine) AgeMonths(rec *models.VehicleRecord) (int, error) {
	year, err := strconv.Atoi(rec.ManufacturingYear)
	if err != nil {
		return 0, eris.Wrapf(models.ErrNormalization, "manufacturing year %q", rec.ManufacturingYear)
	}
	month := rec.ManufacturingMonth
	if month < 1 || month > 12 {
		month = 1
	}

	now := e.now()
	months := (now.Year()-year)*12 + int(now.Month()) - month
	if months < 0 {
		months = 0
	}
	return months, nil
}

// AgeString renders an age in months as "X years Y months".
func AgeString(months int) string {
	return fmt.Sprintf("%d years %d months", months/12, months%12)
}

// EstimateOdometer returns the standard odometer assumption of 1000 km per
// month of age, used when no actual reading is available.
func EstimateOdometer(ageMonths int) int {
	return ageMonths * 1000
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
