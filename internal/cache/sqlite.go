package cache

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rotisserie/eris"

	"vehicle-valuation/internal/models"
)

// SQLite is the durable Store backed by an append-only valuations table.
type SQLite struct {
	conn *sql.DB
	now  func() time.Time
}

// NewSQLite opens (and initializes) the valuation database at dbPath.
// A nil clock means time.Now.
func NewSQLite(dbPath string, now func() time.Time) (*SQLite, error) {
	// WAL keeps reads cheap while the single writer appends.
	connStr := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_cache_size=10000", dbPath)

	conn, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, eris.Wrap(err, "failed to open database")
	}

	conn.SetMaxOpenConns(1) // SQLite works best with single writer
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(time.Hour)

	if now == nil {
		now = time.Now
	}
	s := &SQLite{conn: conn, now: now}

	if err := s.initialize(); err != nil {
		return nil, eris.Wrap(err, "failed to initialize database")
	}

	return s, nil
}

func (s *SQLite) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS valuations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		rc_number TEXT NOT NULL,
		vehicle_make TEXT NOT NULL,
		vehicle_model TEXT NOT NULL,
		variant TEXT,
		manufacturing_year TEXT NOT NULL,
		city TEXT NOT NULL,
		fuel_type TEXT,
		owner_count INTEGER,
		vehicle_age TEXT,
		estimated_odometer INTEGER,
		current_ex_showroom REAL,
		base_depreciation_percent REAL,
		book_value REAL,
		market_listings_mean REAL,
		fair_market_retail_value REAL,
		dealer_purchase_price REAL,
		calculated_idv REAL,
		validation_status TEXT,
		confidence_score REAL,
		source TEXT,
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_valuations_key
		ON valuations(vehicle_make, vehicle_model, manufacturing_year, city);
	CREATE INDEX IF NOT EXISTS idx_valuations_rc ON valuations(rc_number);
	CREATE INDEX IF NOT EXISTS idx_valuations_created ON valuations(created_at);
	`

	_, err := s.conn.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SQLite) Close() error {
	return s.conn.Close()
}

const recordColumns = `id, rc_number, vehicle_make, vehicle_model, variant, manufacturing_year,
	       city, fuel_type, owner_count, vehicle_age, estimated_odometer,
	       current_ex_showroom, base_depreciation_percent, book_value, market_listings_mean,
	       fair_market_retail_value, dealer_purchase_price, calculated_idv,
	       validation_status, confidence_score, source, created_at`

// Get returns the newest record for the key inside the validity window,
// or (nil, nil) when none exists. Key matching is case-insensitive.
func (s *SQLite) Get(ctx context.Context, key models.CacheKey) (*models.CacheRecord, error) {
	key = normalizeKey(key)
	cutoff := s.now().Add(-ValidityWindow)

	query := `
		SELECT ` + recordColumns + `
		FROM valuations
		WHERE UPPER(vehicle_make) = ? AND UPPER(vehicle_model) = ?
		  AND manufacturing_year = ? AND UPPER(city) = ?
		  AND created_at >= ?
		ORDER BY created_at DESC
		LIMIT 1
	`

	row := s.conn.QueryRowContext(ctx, query,
		key.Make, key.BaseModel, key.ManufacturingYear, key.City, cutoff)

	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "cache lookup failed")
	}
	return rec, nil
}

// Put appends a new valuation row. A zero CreatedAt is stamped with the
// store clock; existing rows for the same key are left untouched.
func (s *SQLite) Put(ctx context.Context, rec *models.CacheRecord) error {
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}

	query := `
		INSERT INTO valuations
		(rc_number, vehicle_make, vehicle_model, variant, manufacturing_year,
		 city, fuel_type, owner_count, vehicle_age, estimated_odometer,
		 current_ex_showroom, base_depreciation_percent, book_value, market_listings_mean,
		 fair_market_retail_value, dealer_purchase_price, calculated_idv,
		 validation_status, confidence_score, source, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	result, err := s.conn.ExecContext(ctx, query,
		rec.RCNumber, rec.Make, rec.BaseModel, rec.Variant, rec.ManufacturingYear,
		rec.City, rec.FuelType, rec.OwnerCount, rec.VehicleAge, rec.EstimatedOdometer,
		rec.CurrentExShowroom, rec.BaseDepreciationPercent, rec.BookValue, rec.MarketListingsMean,
		rec.FairMarketRetailValue, rec.DealerPurchasePrice, rec.CalculatedIDV,
		rec.ValidationStatus, rec.ConfidenceScore, rec.Source, createdAt,
	)
	if err != nil {
		return eris.Wrap(err, "cache insert failed")
	}

	id, _ := result.LastInsertId()
	rec.ID = id
	rec.CreatedAt = createdAt
	return nil
}

// History returns every stored valuation for an RC number, newest first.
func (s *SQLite) History(ctx context.Context, rcNumber string) ([]models.CacheRecord, error) {
	query := `
		SELECT ` + recordColumns + `
		FROM valuations
		WHERE UPPER(rc_number) = ?
		ORDER BY created_at DESC
	`
	rows, err := s.conn.QueryContext(ctx, query, strings.ToUpper(strings.TrimSpace(rcNumber)))
	if err != nil {
		return nil, eris.Wrap(err, "history query failed")
	}
	defer rows.Close()

	return collectRecords(rows)
}

// Recent returns the newest valuations across all vehicles.
func (s *SQLite) Recent(ctx context.Context, limit int) ([]models.CacheRecord, error) {
	query := `
		SELECT ` + recordColumns + `
		FROM valuations
		ORDER BY created_at DESC
	`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, eris.Wrap(err, "recent query failed")
	}
	defer rows.Close()

	return collectRecords(rows)
}

// Similar returns valued vehicles of the same model, year and fuel type,
// newest first, excluding the vehicle being valued.
func (s *SQLite) Similar(ctx context.Context, baseModel, year, fuelType, excludeRC string, limit int) ([]models.CacheRecord, error) {
	query := `
		SELECT ` + recordColumns + `
		FROM valuations
		WHERE UPPER(vehicle_model) = ? AND manufacturing_year = ?
		  AND UPPER(fuel_type) = ? AND UPPER(rc_number) != ?
		ORDER BY created_at DESC
	`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.conn.QueryContext(ctx, query,
		strings.ToUpper(strings.TrimSpace(baseModel)),
		strings.TrimSpace(year),
		strings.ToUpper(strings.TrimSpace(fuelType)),
		strings.ToUpper(strings.TrimSpace(excludeRC)))
	if err != nil {
		return nil, eris.Wrap(err, "similar query failed")
	}
	defer rows.Close()

	return collectRecords(rows)
}

// Stats returns row counts for the health and stats endpoints.
func (s *SQLite) Stats(ctx context.Context) (map[string]interface{}, error) {
	stats := make(map[string]interface{})

	var total int64
	if err := s.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM valuations").Scan(&total); err != nil {
		return nil, eris.Wrap(err, "stats query failed")
	}
	stats["total_valuations"] = total

	cutoff := s.now().Add(-ValidityWindow)
	var fresh int64
	if err := s.conn.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM valuations WHERE created_at >= ?", cutoff).Scan(&fresh); err != nil {
		return nil, eris.Wrap(err, "stats query failed")
	}
	stats["fresh_valuations"] = fresh

	var vehicles int64
	if err := s.conn.QueryRowContext(ctx,
		"SELECT COUNT(DISTINCT rc_number) FROM valuations").Scan(&vehicles); err != nil {
		return nil, eris.Wrap(err, "stats query failed")
	}
	stats["distinct_vehicles"] = vehicles

	return stats, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (*models.CacheRecord, error) {
	var r models.CacheRecord
	var variant, fuelType, vehicleAge, status, source sql.NullString
	var ownerCount, odometer sql.NullInt64
	var exShowroom, basePct, book, marketMean, fair, dealer, idv, confidence sql.NullFloat64

	err := row.Scan(
		&r.ID, &r.RCNumber, &r.Make, &r.BaseModel, &variant, &r.ManufacturingYear,
		&r.City, &fuelType, &ownerCount, &vehicleAge, &odometer,
		&exShowroom, &basePct, &book, &marketMean,
		&fair, &dealer, &idv,
		&status, &confidence, &source, &r.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	r.Variant = variant.String
	r.FuelType = fuelType.String
	r.OwnerCount = int(ownerCount.Int64)
	r.VehicleAge = vehicleAge.String
	r.EstimatedOdometer = int(odometer.Int64)
	r.CurrentExShowroom = exShowroom.Float64
	r.BaseDepreciationPercent = basePct.Float64
	r.BookValue = book.Float64
	r.MarketListingsMean = marketMean.Float64
	r.FairMarketRetailValue = fair.Float64
	r.DealerPurchasePrice = dealer.Float64
	r.CalculatedIDV = idv.Float64
	r.ValidationStatus = status.String
	r.ConfidenceScore = confidence.Float64
	r.Source = source.String
	return &r, nil
}

func collectRecords(rows *sql.Rows) ([]models.CacheRecord, error) {
	var results []models.CacheRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, *rec)
	}
	return results, rows.Err()
}
