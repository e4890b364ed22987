package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vehicle-valuation/internal/cache"
	"vehicle-valuation/internal/discovery"
	"vehicle-valuation/internal/engine"
	"vehicle-valuation/internal/models"
	"vehicle-valuation/internal/rto"
)

var apiNow = func() time.Time {
	return time.Date(2024, time.June, 15, 12, 0, 0, 0, time.UTC)
}

// mockRTO and mockDiscovery are function-backed test doubles.
type mockRTO struct {
	lookup func(ctx context.Context, rcNumber string) (*rto.Record, error)
}

func (m *mockRTO) Lookup(ctx context.Context, rcNumber string) (*rto.Record, error) {
	return m.lookup(ctx, rcNumber)
}

type mockDiscovery struct {
	suggest func(ctx context.Context, d discovery.Descriptor) (*discovery.Suggestion, error)
	calls   int
}

func (m *mockDiscovery) Suggest(ctx context.Context, d discovery.Descriptor) (*discovery.Suggestion, error) {
	m.calls++
	return m.suggest(ctx, d)
}

// failingStore errors on every read; writes succeed against nothing.
type failingStore struct{ *cache.Memory }

func (f *failingStore) Get(context.Context, models.CacheKey) (*models.CacheRecord, error) {
	return nil, eris.New("disk on fire")
}

func swiftRecord() *rto.Record {
	return &rto.Record{
		RCNumber:                   "DL08AB1234",
		MakerDescription:           "MARUTI SUZUKI INDIA LTD",
		MakerModel:                 "SWIFT VXI",
		FuelType:                   "PETROL",
		Color:                      "WHITE",
		BodyType:                   "HATCHBACK",
		VehicleCategory:            "Motor Car(LMV)",
		ManufacturingDateFormatted: "2019-03",
		RegisteredAt:               "DELHI, Delhi",
		OwnerNumber:                "1",
	}
}

func swiftSuggestion() *discovery.Suggestion {
	return &discovery.Suggestion{
		CurrentExShowroom:   650000,
		OriginalOnRoadPrice: 720000,
		MarketListingsMean:  425000,
		MarketListingCount:  4,
		MarketMedianIDV:     310000,
		VariantGuess:        "VXI",
	}
}

func newTestServer(store cache.Store, rtoClient rto.Client, discoveryClient discovery.Client) *Server {
	return NewServer(store, engine.New(engine.WithClock(apiNow)), rtoClient, discoveryClient)
}

func doJSON(t *testing.T, srv *Server, method, path string, body interface{}) (*httptest.ResponseRecorder, apiResponse) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	var resp apiResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	return w, resp
}

func TestHealth(t *testing.T) {
	srv := newTestServer(cache.NewMemory(apiNow), nil, nil)
	w, resp := doJSON(t, srv, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, resp.Success)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestManualValuation(t *testing.T) {
	srv := newTestServer(cache.NewMemory(apiNow), nil, nil)

	w, resp := doJSON(t, srv, http.MethodPost, "/api/v1/valuation/manual", map[string]interface{}{
		"maker_description":    "MARUTI SUZUKI INDIA LTD",
		"maker_model":          "Alto LXI",
		"manufacturing_date":   "2019-03",
		"fuel_type":            "PETROL",
		"body_type":            "HATCHBACK",
		"registered_at":        "PUNE, Maharashtra",
		"rc_number":            "MH12AB1234",
		"color":                "WHITE",
		"owner_count":          1,
		"current_ex_showroom":  650000,
		"market_listings_mean": 425000,
	})
	require.Equal(t, http.StatusOK, w.Code)
	require.True(t, resp.Success)

	data, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	var vr valuationResponse
	require.NoError(t, json.Unmarshal(data, &vr))

	assert.Equal(t, "computed", vr.Source)
	assert.Equal(t, "MARUTI SUZUKI", vr.Vehicle.Make)
	require.NotNil(t, vr.Resale)
	assert.InDelta(t, 350412.38, vr.Resale.FairMarketRetailValue, 0.01)
	assert.InDelta(t, 307371.14, vr.Resale.DealerPurchasePrice, 0.01)
}

func TestManualValuationBadInput(t *testing.T) {
	srv := newTestServer(cache.NewMemory(apiNow), nil, nil)

	w, resp := doJSON(t, srv, http.MethodPost, "/api/v1/valuation/manual", map[string]interface{}{
		"maker_model":         "Alto LXI",
		"manufacturing_date":  "2019-03",
		"current_ex_showroom": 650000,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "manufacturer")
}

func TestManualIDV(t *testing.T) {
	srv := newTestServer(cache.NewMemory(apiNow), nil, nil)

	w, resp := doJSON(t, srv, http.MethodPost, "/api/v1/idv/calculate", map[string]interface{}{
		"maker_description":      "HONDA MOTORCYCLE & SCOOTER INDIA PVT LTD",
		"maker_model":            "Activa 4G",
		"manufacturing_date":     "2017-05",
		"vehicle_category":       "Scooter(2WN)",
		"registered_at":          "DELHI, Delhi",
		"original_on_road_price": 100000,
		"market_median_estimate": 30000,
	})
	require.Equal(t, http.StatusOK, w.Code)
	require.True(t, resp.Success)

	data, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	var vr valuationResponse
	require.NoError(t, json.Unmarshal(data, &vr))

	require.NotNil(t, vr.IDV)
	assert.Equal(t, models.ClassTwoWheeler, vr.IDV.VehicleType)
	assert.InDelta(t, 35000.0, vr.IDV.CalculatedIDV, 0.01)
	assert.Equal(t, models.StatusWithinRange, vr.IDV.ValidationStatus)
}

func TestRCEndpointsRequireClients(t *testing.T) {
	srv := newTestServer(cache.NewMemory(apiNow), nil, nil)

	for _, path := range []string{"/api/v1/valuation/rc", "/api/v1/idv/gemini", "/api/v1/rc/details"} {
		w, resp := doJSON(t, srv, http.MethodPost, path, map[string]string{"rc_number": "DL08AB1234"})
		assert.Equal(t, http.StatusUnauthorized, w.Code, path)
		assert.Contains(t, resp.Error, "not configured", path)
	}

	w, resp := doJSON(t, srv, http.MethodPost, "/api/v1/idv/rc", map[string]interface{}{
		"rc_number":              "DL08AB1234",
		"original_on_road_price": 100000,
	})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, resp.Error, "not configured")
}

func TestRCIDVRequiresOnRoadPrice(t *testing.T) {
	srv := newTestServer(cache.NewMemory(apiNow), &mockRTO{}, nil)
	w, resp := doJSON(t, srv, http.MethodPost, "/api/v1/idv/rc", map[string]string{"rc_number": "DL08AB1234"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, resp.Error, "original_on_road_price")
}

func TestRCIDVUsesCallerPriceWithoutDiscovery(t *testing.T) {
	rtoClient := &mockRTO{lookup: func(context.Context, string) (*rto.Record, error) {
		return swiftRecord(), nil
	}}
	disc := &mockDiscovery{suggest: func(context.Context, discovery.Descriptor) (*discovery.Suggestion, error) {
		return &discovery.Suggestion{OriginalOnRoadPrice: 720000}, nil
	}}
	srv := newTestServer(cache.NewMemory(apiNow), rtoClient, disc)

	w, resp := doJSON(t, srv, http.MethodPost, "/api/v1/idv/rc", map[string]interface{}{
		"rc_number":              "DL08AB1234",
		"original_on_road_price": 100000,
		"market_median_estimate": 42000,
	})
	require.Equal(t, http.StatusOK, w.Code)
	vr := decodeValuation(t, resp)

	// 63 months on the car grid is 55% depreciation of the caller's price.
	require.NotNil(t, vr.IDV)
	assert.InDelta(t, 45000.0, vr.IDV.CalculatedIDV, 0.01)
	assert.Equal(t, models.StatusWithinRange, vr.IDV.ValidationStatus)
	assert.Nil(t, vr.Resale)
	assert.Equal(t, 0, disc.calls, "caller-priced IDV must not run discovery")
}

func TestRCIDVWorksWithoutDiscoveryClient(t *testing.T) {
	rtoClient := &mockRTO{lookup: func(context.Context, string) (*rto.Record, error) {
		return swiftRecord(), nil
	}}
	srv := newTestServer(cache.NewMemory(apiNow), rtoClient, nil)

	w, resp := doJSON(t, srv, http.MethodPost, "/api/v1/idv/rc", map[string]interface{}{
		"rc_number":              "DL08AB1234",
		"original_on_road_price": 100000,
	})
	require.Equal(t, http.StatusOK, w.Code)
	vr := decodeValuation(t, resp)
	require.NotNil(t, vr.IDV)
	assert.Equal(t, models.StatusNoMarketData, vr.IDV.ValidationStatus)
}

func TestRCDetails(t *testing.T) {
	rtoClient := &mockRTO{lookup: func(context.Context, string) (*rto.Record, error) {
		return swiftRecord(), nil
	}}
	srv := newTestServer(cache.NewMemory(apiNow), rtoClient, nil)

	w, resp := doJSON(t, srv, http.MethodPost, "/api/v1/rc/details", map[string]string{"rc_number": "DL08AB1234"})
	require.Equal(t, http.StatusOK, w.Code)
	require.True(t, resp.Success)

	data, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	var rec rto.Record
	require.NoError(t, json.Unmarshal(data, &rec))
	assert.Equal(t, "MARUTI SUZUKI INDIA LTD", rec.MakerDescription)
	assert.Equal(t, "SWIFT VXI", rec.MakerModel)
}

func TestRCValuationMissingNumber(t *testing.T) {
	srv := newTestServer(cache.NewMemory(apiNow), &mockRTO{}, &mockDiscovery{})
	w, resp := doJSON(t, srv, http.MethodPost, "/api/v1/valuation/rc", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, resp.Error, "rc_number")
}

func TestRCValuationUpstreamFailure(t *testing.T) {
	rtoClient := &mockRTO{lookup: func(context.Context, string) (*rto.Record, error) {
		return nil, eris.Wrap(models.ErrCollaborator, "rto: unexpected status 503")
	}}
	srv := newTestServer(cache.NewMemory(apiNow), rtoClient, &mockDiscovery{})

	w, resp := doJSON(t, srv, http.MethodPost, "/api/v1/valuation/rc", map[string]string{"rc_number": "DL08AB1234"})
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Contains(t, resp.Error, "503")
}

func TestRCValuationPriceOverride(t *testing.T) {
	rtoClient := &mockRTO{lookup: func(context.Context, string) (*rto.Record, error) {
		return swiftRecord(), nil
	}}
	disc := &mockDiscovery{suggest: func(context.Context, discovery.Descriptor) (*discovery.Suggestion, error) {
		return swiftSuggestion(), nil
	}}
	srv := newTestServer(cache.NewMemory(apiNow), rtoClient, disc)

	w, resp := doJSON(t, srv, http.MethodPost, "/api/v1/valuation/rc", map[string]string{"rc_number": "DL08AB1234"})
	require.Equal(t, http.StatusOK, w.Code)
	baseline := decodeValuation(t, resp)

	w, resp = doJSON(t, srv, http.MethodPost, "/api/v1/valuation/rc", map[string]interface{}{
		"rc_number":            "DL08AB1234",
		"current_ex_showroom":  700000,
		"market_listings_mean": 500000,
		"market_listing_count": 3,
	})
	require.Equal(t, http.StatusOK, w.Code)
	overridden := decodeValuation(t, resp)

	assert.Greater(t, overridden.Resale.FairMarketRetailValue, baseline.Resale.FairMarketRetailValue)
}

func decodeValuation(t *testing.T, resp apiResponse) valuationResponse {
	t.Helper()
	data, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	var vr valuationResponse
	require.NoError(t, json.Unmarshal(data, &vr))
	return vr
}

func TestCachedValuationFlow(t *testing.T) {
	store := cache.NewMemory(apiNow)
	rtoClient := &mockRTO{lookup: func(context.Context, string) (*rto.Record, error) {
		return swiftRecord(), nil
	}}
	disc := &mockDiscovery{suggest: func(context.Context, discovery.Descriptor) (*discovery.Suggestion, error) {
		return swiftSuggestion(), nil
	}}
	srv := newTestServer(store, rtoClient, disc)

	// First call computes and stores.
	w, resp := doJSON(t, srv, http.MethodPost, "/api/v1/idv/gemini", map[string]string{"rc_number": "DL08AB1234"})
	require.Equal(t, http.StatusOK, w.Code)
	first := decodeValuation(t, resp)
	assert.Equal(t, "computed", first.Source)
	assert.Equal(t, 1, disc.calls)

	stored, err := store.Get(context.Background(), models.CacheKey{
		Make: "MARUTI SUZUKI", BaseModel: "SWIFT", ManufacturingYear: "2019", City: "DELHI",
	})
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, first.Resale.FairMarketRetailValue, stored.FairMarketRetailValue)

	// Second call answers from the cache without consulting discovery.
	w, resp = doJSON(t, srv, http.MethodPost, "/api/v1/idv/gemini", map[string]string{"rc_number": "DL08AB1234"})
	require.Equal(t, http.StatusOK, w.Code)
	second := decodeValuation(t, resp)
	assert.Equal(t, "cache", second.Source)
	assert.Equal(t, 1, disc.calls, "cache hit must not re-run discovery")
	assert.NotNil(t, second.CachedAt)

	// Monetary figures are reused verbatim; age fields are recomputed.
	assert.Equal(t, first.Resale.FairMarketRetailValue, second.Resale.FairMarketRetailValue)
	assert.Equal(t, first.Resale.DealerPurchasePrice, second.Resale.DealerPurchasePrice)
	assert.Equal(t, first.IDV.CalculatedIDV, second.IDV.CalculatedIDV)
	assert.EqualValues(t, 63, second.IDV.Metadata["vehicle_age_months"])
	assert.EqualValues(t, 63000, second.IDV.Metadata["estimated_odometer"])
}

func TestCachedValuationSkipCache(t *testing.T) {
	store := cache.NewMemory(apiNow)
	rtoClient := &mockRTO{lookup: func(context.Context, string) (*rto.Record, error) {
		return swiftRecord(), nil
	}}
	disc := &mockDiscovery{suggest: func(context.Context, discovery.Descriptor) (*discovery.Suggestion, error) {
		return swiftSuggestion(), nil
	}}
	srv := newTestServer(store, rtoClient, disc)

	doJSON(t, srv, http.MethodPost, "/api/v1/idv/gemini", map[string]string{"rc_number": "DL08AB1234"})
	w, resp := doJSON(t, srv, http.MethodPost, "/api/v1/idv/gemini?skip_cache=true", map[string]string{"rc_number": "DL08AB1234"})
	require.Equal(t, http.StatusOK, w.Code)
	vr := decodeValuation(t, resp)
	assert.Equal(t, "computed", vr.Source)
	assert.Equal(t, 2, disc.calls)
}

func TestCachedValuationDegradesOnStoreFailure(t *testing.T) {
	store := &failingStore{cache.NewMemory(apiNow)}
	rtoClient := &mockRTO{lookup: func(context.Context, string) (*rto.Record, error) {
		return swiftRecord(), nil
	}}
	disc := &mockDiscovery{suggest: func(context.Context, discovery.Descriptor) (*discovery.Suggestion, error) {
		return swiftSuggestion(), nil
	}}
	srv := newTestServer(store, rtoClient, disc)

	w, resp := doJSON(t, srv, http.MethodPost, "/api/v1/idv/gemini", map[string]string{"rc_number": "DL08AB1234"})
	require.Equal(t, http.StatusOK, w.Code)
	vr := decodeValuation(t, resp)
	assert.Equal(t, "computed", vr.Source, "a broken cache must not fail the request")
}

func TestBatchValuationOfflineVehicles(t *testing.T) {
	// Explicit payloads need neither registry nor discovery credentials.
	srv := newTestServer(cache.NewMemory(apiNow), nil, nil)

	w, resp := doJSON(t, srv, http.MethodPost, "/api/v1/valuation/batch", map[string]interface{}{
		"vehicles": []map[string]interface{}{
			{
				"maker_description":    "MARUTI SUZUKI INDIA LTD",
				"maker_model":          "Alto LXI",
				"manufacturing_date":   "2019-03",
				"fuel_type":            "PETROL",
				"registered_at":        "PUNE, Maharashtra",
				"owner_count":          1,
				"current_ex_showroom":  650000,
				"market_listings_mean": 425000,
			},
			{
				"maker_model":         "Nexon XZ",
				"manufacturing_date":  "2021-06",
				"current_ex_showroom": 1100000,
			},
		},
	})
	require.Equal(t, http.StatusOK, w.Code)
	require.True(t, resp.Success)
	require.NotNil(t, resp.Meta)
	assert.Equal(t, 2, resp.Meta.Total)

	data, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	var results []valuationResponse
	require.NoError(t, json.Unmarshal(data, &results))
	require.Len(t, results, 2)

	require.NotNil(t, results[0].Resale)
	assert.InDelta(t, 350412.38, results[0].Resale.FairMarketRetailValue, 0.01)
	assert.Empty(t, results[0].Error)

	assert.Nil(t, results[1].Resale)
	assert.Contains(t, results[1].Error, "manufacturer")
}

func TestBatchValuationMissingBody(t *testing.T) {
	srv := newTestServer(cache.NewMemory(apiNow), nil, nil)
	w, resp := doJSON(t, srv, http.MethodPost, "/api/v1/valuation/batch", map[string]interface{}{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, resp.Error, "vehicles")
}

func TestBatchValuationIsolatesFailures(t *testing.T) {
	rtoClient := &mockRTO{lookup: func(_ context.Context, rcNumber string) (*rto.Record, error) {
		if rcNumber == "BAD0000000" {
			return nil, eris.Wrap(models.ErrCollaborator, "rto: record not found")
		}
		rec := swiftRecord()
		rec.RCNumber = rcNumber
		return rec, nil
	}}
	disc := &mockDiscovery{suggest: func(context.Context, discovery.Descriptor) (*discovery.Suggestion, error) {
		return swiftSuggestion(), nil
	}}
	srv := newTestServer(cache.NewMemory(apiNow), rtoClient, disc)

	w, resp := doJSON(t, srv, http.MethodPost, "/api/v1/valuation/batch", map[string]interface{}{
		"rc_numbers": []string{"DL08AB1234", "BAD0000000", "DL08AB5678"},
	})
	require.Equal(t, http.StatusOK, w.Code)
	require.True(t, resp.Success)
	require.NotNil(t, resp.Meta)
	assert.Equal(t, 3, resp.Meta.Total)

	data, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	var results []valuationResponse
	require.NoError(t, json.Unmarshal(data, &results))
	require.Len(t, results, 3)
	assert.Empty(t, results[0].Error)
	assert.Contains(t, results[1].Error, "not found")
	assert.Empty(t, results[2].Error)
}

func TestCachedValuationAttachesSimilarVehicles(t *testing.T) {
	store := cache.NewMemory(apiNow)
	seed := &models.CacheRecord{
		RCNumber: "KA01MJ5678", Make: "MARUTI SUZUKI", BaseModel: "SWIFT",
		ManufacturingYear: "2019", City: "BANGALORE", FuelType: "Petrol",
		FairMarketRetailValue: 340000,
	}
	require.NoError(t, store.Put(context.Background(), seed))

	rtoClient := &mockRTO{lookup: func(context.Context, string) (*rto.Record, error) {
		return swiftRecord(), nil
	}}
	disc := &mockDiscovery{suggest: func(context.Context, discovery.Descriptor) (*discovery.Suggestion, error) {
		return swiftSuggestion(), nil
	}}
	srv := newTestServer(store, rtoClient, disc)

	// Computed path: the seed is a different city, so no cache hit, but it
	// is the same model, year and fuel.
	w, resp := doJSON(t, srv, http.MethodPost, "/api/v1/idv/gemini", map[string]string{"rc_number": "DL08AB1234"})
	require.Equal(t, http.StatusOK, w.Code)
	first := decodeValuation(t, resp)
	assert.Equal(t, "computed", first.Source)
	require.Len(t, first.SimilarVehicles, 1)
	assert.Equal(t, "KA01MJ5678", first.SimilarVehicles[0].RCNumber)

	// Cached path carries similar vehicles too, still excluding the vehicle
	// being valued.
	w, resp = doJSON(t, srv, http.MethodPost, "/api/v1/idv/gemini", map[string]string{"rc_number": "DL08AB1234"})
	require.Equal(t, http.StatusOK, w.Code)
	second := decodeValuation(t, resp)
	assert.Equal(t, "cache", second.Source)
	require.Len(t, second.SimilarVehicles, 1)
	assert.Equal(t, "KA01MJ5678", second.SimilarVehicles[0].RCNumber)
}

func TestValuationHistoryAndRecent(t *testing.T) {
	store := cache.NewMemory(apiNow)
	rec := &models.CacheRecord{
		RCNumber: "DL08AB1234", Make: "MARUTI SUZUKI", BaseModel: "SWIFT",
		ManufacturingYear: "2019", City: "DELHI", FairMarketRetailValue: 350412.38,
	}
	require.NoError(t, store.Put(context.Background(), rec))

	srv := newTestServer(store, nil, nil)

	w, resp := doJSON(t, srv, http.MethodGet, "/api/v1/valuations/DL08AB1234", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, resp.Meta.Total)

	w, _ = doJSON(t, srv, http.MethodGet, "/api/v1/valuations/UNKNOWN123", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, resp = doJSON(t, srv, http.MethodGet, "/api/v1/valuations/recent?limit=5", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, resp.Meta.Total)
	assert.Equal(t, 5, resp.Meta.Limit)
}

func TestStats(t *testing.T) {
	srv := newTestServer(cache.NewMemory(apiNow), nil, nil)
	w, resp := doJSON(t, srv, http.MethodGet, "/api/v1/stats", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, resp.Success)
}
