package cache

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"vehicle-valuation/internal/models"
)

// ValidityWindow is how long a cached valuation stays servable. Older rows
// are ignored on reads but never deleted.
const ValidityWindow = 90 * 24 * time.Hour

// Store persists valuation records. Get returns (nil, nil) on a miss; a
// non-nil error means the backing store failed, which callers treat as a
// miss rather than a request failure.
type Store interface {
	Get(ctx context.Context, key models.CacheKey) (*models.CacheRecord, error)
	Put(ctx context.Context, rec *models.CacheRecord) error
	History(ctx context.Context, rcNumber string) ([]models.CacheRecord, error)
	Recent(ctx context.Context, limit int) ([]models.CacheRecord, error)
	Similar(ctx context.Context, baseModel, year, fuelType, excludeRC string, limit int) ([]models.CacheRecord, error)
	Stats(ctx context.Context) (map[string]interface{}, error)
	Close() error
}

// Memory is an in-process Store used by tests and the CLI dry-run path.
type Memory struct {
	mu   sync.Mutex
	rows []models.CacheRecord
	now  func() time.Time
}

// NewMemory returns an empty in-memory store. A nil clock means time.Now.
func NewMemory(now func() time.Time) *Memory {
	if now == nil {
		now = time.Now
	}
	return &Memory{now: now}
}

func normalizeKey(k models.CacheKey) models.CacheKey {
	return models.CacheKey{
		Make:              strings.ToUpper(strings.TrimSpace(k.Make)),
		BaseModel:         strings.ToUpper(strings.TrimSpace(k.BaseModel)),
		ManufacturingYear: strings.TrimSpace(k.ManufacturingYear),
		City:              strings.ToUpper(strings.TrimSpace(k.City)),
	}
}

func (m *Memory) Get(_ context.Context, key models.CacheKey) (*models.CacheRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key = normalizeKey(key)
	cutoff := m.now().Add(-ValidityWindow)

	var best *models.CacheRecord
	for i := range m.rows {
		r := &m.rows[i]
		if normalizeKey(r.Key()) != key || r.CreatedAt.Before(cutoff) {
			continue
		}
		if best == nil || r.CreatedAt.After(best.CreatedAt) {
			best = r
		}
	}
	if best == nil {
		return nil, nil
	}
	out := *best
	return &out, nil
}

func (m *Memory) Put(_ context.Context, rec *models.CacheRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r := *rec
	if r.CreatedAt.IsZero() {
		r.CreatedAt = m.now()
	}
	r.ID = int64(len(m.rows) + 1)
	m.rows = append(m.rows, r)
	rec.ID = r.ID
	rec.CreatedAt = r.CreatedAt
	return nil
}

func (m *Memory) History(_ context.Context, rcNumber string) ([]models.CacheRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rc := strings.ToUpper(strings.TrimSpace(rcNumber))
	var out []models.CacheRecord
	for _, r := range m.rows {
		if strings.ToUpper(r.RCNumber) == rc {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) Recent(_ context.Context, limit int) ([]models.CacheRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]models.CacheRecord, len(m.rows))
	copy(out, m.rows)
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Similar returns valued vehicles of the same model, year and fuel type,
// newest first, excluding the vehicle being valued.
func (m *Memory) Similar(_ context.Context, baseModel, year, fuelType, excludeRC string, limit int) ([]models.CacheRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	baseModel = strings.ToUpper(strings.TrimSpace(baseModel))
	fuelType = strings.ToUpper(strings.TrimSpace(fuelType))
	excludeRC = strings.ToUpper(strings.TrimSpace(excludeRC))

	var out []models.CacheRecord
	for _, r := range m.rows {
		if strings.ToUpper(r.BaseModel) != baseModel ||
			r.ManufacturingYear != strings.TrimSpace(year) ||
			strings.ToUpper(r.FuelType) != fuelType ||
			strings.ToUpper(r.RCNumber) == excludeRC {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) Stats(_ context.Context) (map[string]interface{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-ValidityWindow)
	var fresh int64
	for _, r := range m.rows {
		if !r.CreatedAt.Before(cutoff) {
			fresh++
		}
	}
	return map[string]interface{}{
		"total_valuations": int64(len(m.rows)),
		"fresh_valuations": fresh,
	}, nil
}

func (m *Memory) Close() error { return nil }
