package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"vehicle-valuation/internal/cache"
	"vehicle-valuation/internal/discovery"
	"vehicle-valuation/internal/engine"
	"vehicle-valuation/internal/models"
	"vehicle-valuation/internal/rto"
)

// Server represents the API server. The rto and discovery clients are
// optional; endpoints that need an unconfigured client respond 401.
type Server struct {
	store     cache.Store
	engine    *engine.Engine
	rto       rto.Client
	discovery discovery.Client
	router    *mux.Router
}

// NewServer creates a new API server.
func NewServer(store cache.Store, eng *engine.Engine, rtoClient rto.Client, discoveryClient discovery.Client) *Server {
	s := &Server{
		store:     store,
		engine:    eng,
		rto:       rtoClient,
		discovery: discoveryClient,
		router:    mux.NewRouter(),
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	// Health check
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	// Resale valuation endpoints
	s.router.HandleFunc("/api/v1/valuation/manual", s.handleManualValuation).Methods("POST")
	s.router.HandleFunc("/api/v1/valuation/rc", s.handleRCValuation).Methods("POST")
	s.router.HandleFunc("/api/v1/valuation/batch", s.handleBatchValuation).Methods("POST")

	// IDV endpoints
	s.router.HandleFunc("/api/v1/idv/calculate", s.handleManualIDV).Methods("POST")
	s.router.HandleFunc("/api/v1/idv/rc", s.handleRCIDV).Methods("POST")
	s.router.HandleFunc("/api/v1/idv/gemini", s.handleCachedValuation).Methods("POST")

	// Registry passthrough
	s.router.HandleFunc("/api/v1/rc/details", s.handleRCDetails).Methods("POST")

	// Stored valuation endpoints
	s.router.HandleFunc("/api/v1/valuations/recent", s.handleRecentValuations).Methods("GET")
	s.router.HandleFunc("/api/v1/valuations/{rc_number}", s.handleValuationHistory).Methods("GET")

	// Stats endpoint
	s.router.HandleFunc("/api/v1/stats", s.handleStats).Methods("GET")

	// Add middleware
	s.router.Use(requestIDMiddleware)
	s.router.Use(loggingMiddleware)
	s.router.Use(jsonMiddleware)
}

// Router returns the configured router
func (s *Server) Router() *mux.Router {
	return s.router
}

// Middleware
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r)
	})
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		zap.L().Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("request_id", w.Header().Get("X-Request-ID")),
			zap.Duration("duration", time.Since(start)))
	})
}

func jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// Response helpers
type apiResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Meta    *meta       `json:"meta,omitempty"`
}

type meta struct {
	Total   int   `json:"total,omitempty"`
	Limit   int   `json:"limit,omitempty"`
	QueryMs int64 `json:"query_ms,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(apiResponse{Success: true, Data: data})
}

func respondError(w http.ResponseWriter, status int, message string) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(apiResponse{Success: false, Error: message})
}

func respondWithMeta(w http.ResponseWriter, data interface{}, m *meta) {
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(apiResponse{Success: true, Data: data, Meta: m})
}

// respondMappedError translates a pipeline error into an HTTP status:
// bad input and unusable registry payloads are the caller's fault,
// collaborator failures are upstream faults.
func respondMappedError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrValidation), errors.Is(err, models.ErrNormalization):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, models.ErrCollaborator):
		respondError(w, http.StatusBadGateway, err.Error())
	default:
		respondError(w, http.StatusInternalServerError, err.Error())
	}
}
