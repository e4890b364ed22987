package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"vehicle-valuation/internal/discovery"
	"vehicle-valuation/internal/engine"
	"vehicle-valuation/internal/models"
	"vehicle-valuation/internal/normalize"
)

// manualValuationRequest carries explicit vehicle attributes plus the
// prices the caller already knows.
type manualValuationRequest struct {
	normalize.RawAttributes
	Variant            string  `json:"variant"`
	OdometerKM         int     `json:"odometer_km"`
	CurrentExShowroom  float64 `json:"current_ex_showroom"`
	MarketListingsMean float64 `json:"market_listings_mean"`
	MarketListingCount int     `json:"market_listing_count"`
}

type manualIDVRequest struct {
	normalize.RawAttributes
	OriginalOnRoadPrice  float64 `json:"original_on_road_price"`
	MarketMedianEstimate float64 `json:"market_median_estimate"`
}

// rcRequest identifies a vehicle by registration number. Caller-supplied
// prices, when present, take precedence over discovered ones.
type rcRequest struct {
	RCNumber           string  `json:"rc_number"`
	CurrentExShowroom  float64 `json:"current_ex_showroom,omitempty"`
	MarketListingsMean float64 `json:"market_listings_mean,omitempty"`
	MarketListingCount int     `json:"market_listing_count,omitempty"`
}

// rcIDVRequest drives the registry-only IDV flow: the caller supplies the
// on-road price, so no price discovery happens.
type rcIDVRequest struct {
	RCNumber             string  `json:"rc_number"`
	OriginalOnRoadPrice  float64 `json:"original_on_road_price"`
	MarketMedianEstimate float64 `json:"market_median_estimate,omitempty"`
}

// batchRequest values either explicit vehicle payloads offline or RC numbers
// through the full lookup flow. Vehicles wins when both are present.
type batchRequest struct {
	Vehicles  []manualValuationRequest `json:"vehicles"`
	RCNumbers []string                 `json:"rc_numbers,omitempty"`
}

// valuationResponse is the combined output of the RC-driven flows.
type valuationResponse struct {
	Vehicle         *models.VehicleRecord   `json:"vehicle"`
	Resale          *models.ResaleValuation `json:"resale,omitempty"`
	IDV             *models.IDVValuation    `json:"idv,omitempty"`
	SimilarVehicles []models.CacheRecord    `json:"similar_vehicles,omitempty"`
	Source          string                  `json:"source"`
	CachedAt        *time.Time              `json:"cached_at,omitempty"`
	Error           string                  `json:"error,omitempty"`
}

// Handlers
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleManualValuation(w http.ResponseWriter, r *http.Request) {
	var req manualValuationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	rec, err := normalize.Vehicle(req.RawAttributes)
	if err != nil {
		respondMappedError(w, err)
		return
	}
	rec.Variant = req.Variant
	rec.OdometerKM = req.OdometerKM

	resale, err := s.engine.Resale(engine.ResaleInput{
		Record:             *rec,
		CurrentExShowroom:  req.CurrentExShowroom,
		MarketListingsMean: req.MarketListingsMean,
		MarketListingCount: req.MarketListingCount,
		OdometerKM:         req.OdometerKM,
	})
	if err != nil {
		respondMappedError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, valuationResponse{
		Vehicle: rec,
		Resale:  resale,
		Source:  "computed",
	})
}

func (s *Server) handleManualIDV(w http.ResponseWriter, r *http.Request) {
	var req manualIDVRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	rec, err := normalize.Vehicle(req.RawAttributes)
	if err != nil {
		respondMappedError(w, err)
		return
	}

	idv, err := s.engine.IDV(engine.IDVInput{
		Record:               *rec,
		OriginalOnRoadPrice:  req.OriginalOnRoadPrice,
		MarketMedianEstimate: req.MarketMedianEstimate,
	})
	if err != nil {
		respondMappedError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, valuationResponse{
		Vehicle: rec,
		IDV:     idv,
		Source:  "computed",
	})
}

func (s *Server) handleRCValuation(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeRC(w, r)
	if !ok {
		return
	}

	resp, err := s.valueByRC(r.Context(), req, false)
	if err != nil {
		respondMappedError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

// handleRCIDV looks up the vehicle by RC number and computes the IDV from
// the caller's own on-road price. No price discovery is involved, so only
// the registry credential is needed.
func (s *Server) handleRCIDV(w http.ResponseWriter, r *http.Request) {
	var req rcIDVRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.RCNumber == "" {
		respondError(w, http.StatusBadRequest, "rc_number is required")
		return
	}
	if req.OriginalOnRoadPrice <= 0 {
		respondError(w, http.StatusBadRequest, "original_on_road_price is required")
		return
	}
	if s.rto == nil {
		respondError(w, http.StatusUnauthorized, "lookup credentials not configured")
		return
	}

	regRecord, err := s.rto.Lookup(r.Context(), req.RCNumber)
	if err != nil {
		respondMappedError(w, err)
		return
	}
	rec, err := normalize.Vehicle(regRecord.Raw())
	if err != nil {
		respondMappedError(w, err)
		return
	}

	idv, err := s.engine.IDV(engine.IDVInput{
		Record:               *rec,
		OriginalOnRoadPrice:  req.OriginalOnRoadPrice,
		MarketMedianEstimate: req.MarketMedianEstimate,
	})
	if err != nil {
		respondMappedError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, valuationResponse{
		Vehicle: rec,
		IDV:     idv,
		Source:  "computed",
	})
}

// handleCachedValuation is the cache-checked full flow. A fresh record for
// the same make, model, year and city answers immediately with only the
// age-dependent fields recomputed; skip_cache=true forces a recompute.
func (s *Server) handleCachedValuation(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeRC(w, r)
	if !ok {
		return
	}

	skipCache := r.URL.Query().Get("skip_cache") == "true"
	resp, err := s.valueByRC(r.Context(), req, !skipCache)
	if err != nil {
		respondMappedError(w, err)
		return
	}
	resp.SimilarVehicles = s.similarVehicles(r.Context(), resp.Vehicle)
	respondJSON(w, http.StatusOK, resp)
}

// similarVehicles fetches other valued vehicles of the same model, year and
// fuel type. A store failure degrades to an empty list.
func (s *Server) similarVehicles(ctx context.Context, rec *models.VehicleRecord) []models.CacheRecord {
	similar, err := s.store.Similar(ctx, rec.BaseModel, rec.ManufacturingYear, string(rec.FuelType), rec.RCNumber, 5)
	if err != nil {
		zap.L().Warn("similar vehicles query failed", zap.Error(err))
		return nil
	}
	return similar
}

// handleBatchValuation values a list of vehicles. Explicit vehicle payloads
// are computed offline with no collaborators; RC numbers go through the full
// lookup flow. One vehicle failing must not sink the batch.
func (s *Server) handleBatchValuation(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	if len(req.Vehicles) > 0 {
		results := make([]valuationResponse, 0, len(req.Vehicles))
		for _, v := range req.Vehicles {
			results = append(results, s.valueManual(v))
		}
		respondWithMeta(w, results, &meta{Total: len(results)})
		return
	}

	if len(req.RCNumbers) == 0 {
		respondError(w, http.StatusBadRequest, "vehicles or rc_numbers is required")
		return
	}
	if s.rto == nil || s.discovery == nil {
		respondError(w, http.StatusUnauthorized, "lookup credentials not configured")
		return
	}

	results := make([]valuationResponse, 0, len(req.RCNumbers))
	for _, rc := range req.RCNumbers {
		resp, err := s.valueByRC(r.Context(), rcRequest{RCNumber: rc}, true)
		if err != nil {
			results = append(results, valuationResponse{
				Vehicle: &models.VehicleRecord{RCNumber: rc},
				Error:   err.Error(),
			})
			continue
		}
		results = append(results, *resp)
	}

	respondWithMeta(w, results, &meta{Total: len(results)})
}

// valueManual runs the resale pipeline for one explicit payload; failures
// become per-entry errors.
func (s *Server) valueManual(req manualValuationRequest) valuationResponse {
	rec, err := normalize.Vehicle(req.RawAttributes)
	if err != nil {
		return valuationResponse{
			Vehicle: &models.VehicleRecord{RCNumber: req.RCNumber},
			Error:   err.Error(),
		}
	}
	rec.Variant = req.Variant
	rec.OdometerKM = req.OdometerKM

	resale, err := s.engine.Resale(engine.ResaleInput{
		Record:             *rec,
		CurrentExShowroom:  req.CurrentExShowroom,
		MarketListingsMean: req.MarketListingsMean,
		MarketListingCount: req.MarketListingCount,
		OdometerKM:         req.OdometerKM,
	})
	if err != nil {
		return valuationResponse{Vehicle: rec, Error: err.Error()}
	}

	return valuationResponse{Vehicle: rec, Resale: resale, Source: "computed"}
}

// handleRCDetails returns the raw registry payload for an RC number without
// running any valuation.
func (s *Server) handleRCDetails(w http.ResponseWriter, r *http.Request) {
	var req rcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.RCNumber == "" {
		respondError(w, http.StatusBadRequest, "rc_number is required")
		return
	}
	if s.rto == nil {
		respondError(w, http.StatusUnauthorized, "lookup credentials not configured")
		return
	}

	regRecord, err := s.rto.Lookup(r.Context(), req.RCNumber)
	if err != nil {
		respondMappedError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, regRecord)
}

func (s *Server) handleValuationHistory(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	rcNumber := muxVar(r, "rc_number")

	records, err := s.store.History(r.Context(), rcNumber)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if len(records) == 0 {
		respondError(w, http.StatusNotFound, "no valuations found for vehicle")
		return
	}

	respondWithMeta(w, records, &meta{
		Total:   len(records),
		QueryMs: time.Since(start).Milliseconds(),
	})
}

func (s *Server) handleRecentValuations(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, _ = strconv.Atoi(v)
	}

	records, err := s.store.Recent(r.Context(), limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondWithMeta(w, records, &meta{Total: len(records), Limit: limit})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Stats(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, stats)
}

func (s *Server) decodeRC(w http.ResponseWriter, r *http.Request) (rcRequest, bool) {
	var req rcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON")
		return req, false
	}
	if req.RCNumber == "" {
		respondError(w, http.StatusBadRequest, "rc_number is required")
		return req, false
	}
	if s.rto == nil || s.discovery == nil {
		respondError(w, http.StatusUnauthorized, "lookup credentials not configured")
		return req, false
	}
	return req, true
}

// valueByRC runs the full pipeline for one RC number: registry lookup,
// normalization, optional cache consult, price discovery and both
// valuations. Cache read and write failures degrade to a plain recompute.
func (s *Server) valueByRC(ctx context.Context, req rcRequest, useCache bool) (*valuationResponse, error) {
	regRecord, err := s.rto.Lookup(ctx, req.RCNumber)
	if err != nil {
		return nil, err
	}

	rec, err := normalize.Vehicle(regRecord.Raw())
	if err != nil {
		return nil, err
	}

	if useCache {
		if cached, cacheErr := s.store.Get(ctx, normalize.Key(rec)); cacheErr != nil {
			zap.L().Warn("cache lookup failed, recomputing", zap.Error(cacheErr))
		} else if cached != nil {
			return s.respondFromCache(rec, cached)
		}
	}

	suggestion, err := s.discovery.Suggest(ctx, discovery.Descriptor{
		Make:              rec.Make,
		Model:             rec.BaseModel,
		Variant:           rec.Variant,
		ManufacturingYear: rec.ManufacturingYear,
		City:              rec.City,
		FuelType:          string(rec.FuelType),
		BodyType:          string(rec.BodyType),
		Class:             string(rec.Class),
	})
	if err != nil {
		return nil, err
	}
	if rec.Variant == "" {
		rec.Variant = suggestion.VariantGuess
	}
	if req.CurrentExShowroom > 0 {
		suggestion.CurrentExShowroom = req.CurrentExShowroom
	}
	if req.MarketListingsMean > 0 {
		suggestion.MarketListingsMean = req.MarketListingsMean
		suggestion.MarketListingCount = req.MarketListingCount
	}

	resale, err := s.engine.Resale(engine.ResaleInput{
		Record:             *rec,
		CurrentExShowroom:  suggestion.CurrentExShowroom,
		MarketListingsMean: suggestion.MarketListingsMean,
		MarketListingCount: suggestion.MarketListingCount,
	})
	if err != nil {
		return nil, err
	}

	onRoad := suggestion.OriginalOnRoadPrice
	if onRoad <= 0 {
		onRoad = suggestion.CurrentExShowroom
	}
	idv, err := s.engine.IDV(engine.IDVInput{
		Record:               *rec,
		OriginalOnRoadPrice:  onRoad,
		MarketMedianEstimate: suggestion.MarketMedianIDV,
	})
	if err != nil {
		return nil, err
	}

	if useCache {
		if putErr := s.store.Put(ctx, buildCacheRecord(rec, suggestion, resale, idv)); putErr != nil {
			zap.L().Warn("cache write failed", zap.Error(putErr))
		}
	}

	return &valuationResponse{
		Vehicle: rec,
		Resale:  resale,
		IDV:     idv,
		Source:  "computed",
	}, nil
}

// respondFromCache serves a hit. Monetary figures come straight from the
// stored row; only the age and the odometer estimate are recomputed so a
// months-old hit still reports the current age.
func (s *Server) respondFromCache(rec *models.VehicleRecord, cached *models.CacheRecord) (*valuationResponse, error) {
	ageMonths, err := s.engine.AgeMonths(rec)
	if err != nil {
		return nil, err
	}

	age := engine.AgeString(ageMonths)
	odometer := engine.EstimateOdometer(ageMonths)
	cachedAt := cached.CreatedAt

	resale := &models.ResaleValuation{
		FairMarketRetailValue: cached.FairMarketRetailValue,
		DealerPurchasePrice:   cached.DealerPurchasePrice,
		Metadata: map[string]interface{}{
			"vehicle_age":               age,
			"vehicle_age_months":        ageMonths,
			"estimated_odometer":        odometer,
			"base_depreciation_percent": cached.BaseDepreciationPercent,
			"book_value":                cached.BookValue,
		},
	}
	idv := &models.IDVValuation{
		VehicleType:      rec.Class,
		VehicleAge:       age,
		CalculatedIDV:    cached.CalculatedIDV,
		ValidationStatus: cached.ValidationStatus,
		ConfidenceScore:  cached.ConfidenceScore,
		Metadata: map[string]interface{}{
			"vehicle_age_months": ageMonths,
			"estimated_odometer": odometer,
		},
	}

	return &valuationResponse{
		Vehicle:  rec,
		Resale:   resale,
		IDV:      idv,
		Source:   "cache",
		CachedAt: &cachedAt,
	}, nil
}

func buildCacheRecord(rec *models.VehicleRecord, suggestion *discovery.Suggestion, resale *models.ResaleValuation, idv *models.IDVValuation) *models.CacheRecord {
	cr := &models.CacheRecord{
		RCNumber:              rec.RCNumber,
		Make:                  rec.Make,
		BaseModel:             rec.BaseModel,
		Variant:               rec.Variant,
		ManufacturingYear:     rec.ManufacturingYear,
		City:                  rec.City,
		FuelType:              string(rec.FuelType),
		OwnerCount:            rec.OwnerCount,
		VehicleAge:            idv.VehicleAge,
		CurrentExShowroom:     suggestion.CurrentExShowroom,
		MarketListingsMean:    suggestion.MarketListingsMean,
		FairMarketRetailValue: resale.FairMarketRetailValue,
		DealerPurchasePrice:   resale.DealerPurchasePrice,
		CalculatedIDV:         idv.CalculatedIDV,
		ValidationStatus:      idv.ValidationStatus,
		ConfidenceScore:       idv.ConfidenceScore,
		Source:                "computed",
	}
	if v, ok := resale.Metadata["estimated_odometer"].(int); ok {
		cr.EstimatedOdometer = v
	}
	if v, ok := resale.Metadata["base_depreciation_percent"].(float64); ok {
		cr.BaseDepreciationPercent = v
	}
	if v, ok := resale.Metadata["book_value"].(float64); ok {
		cr.BookValue = v
	}
	return cr
}

func muxVar(r *http.Request, name string) string {
	return mux.Vars(r)[name]
}
