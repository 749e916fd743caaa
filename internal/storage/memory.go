package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/savegress/vitalsense/pkg/models"
)

// MemoryReadings is an in-memory ReadingStore for development and tests
type MemoryReadings struct {
	mu       sync.RWMutex
	readings map[string][]models.Reading // patientID -> newest first
}

// NewMemoryReadings creates an empty in-memory reading store
func NewMemoryReadings() *MemoryReadings {
	return &MemoryReadings{readings: make(map[string][]models.Reading)}
}

// Insert stores a reading
func (m *MemoryReadings) Insert(ctx context.Context, reading *models.Reading) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	list := m.readings[reading.PatientID]
	m.readings[reading.PatientID] = append([]models.Reading{*reading}, list...)
	return nil
}

// ListRecent returns up to limit readings for a patient, newest first
func (m *MemoryReadings) ListRecent(ctx context.Context, patientID string, limit int) ([]models.Reading, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	list := m.readings[patientID]
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	out := make([]models.Reading, len(list))
	copy(out, list)
	return out, nil
}

// MemoryAlerts is an in-memory AlertStore for development and tests
type MemoryAlerts struct {
	mu     sync.RWMutex
	alerts map[string]*models.Alert
}

// NewMemoryAlerts creates an empty in-memory alert store
func NewMemoryAlerts() *MemoryAlerts {
	return &MemoryAlerts{alerts: make(map[string]*models.Alert)}
}

// UpsertActive merges into the existing active alert of the same
// (patient, type) or stores the alert as new
func (m *MemoryAlerts) UpsertActive(ctx context.Context, alert *models.Alert) (*models.Alert, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.alerts {
		if existing.PatientID == alert.PatientID &&
			existing.Type == alert.Type &&
			existing.Status == models.AlertStatusActive {
			mergeActive(existing, alert)
			merged := *existing
			return &merged, false, nil
		}
	}

	stored := *alert
	m.alerts[stored.ID] = &stored
	created := stored
	return &created, true, nil
}

// Get returns an alert by ID
func (m *MemoryAlerts) Get(ctx context.Context, id string) (*models.Alert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	alert, ok := m.alerts[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *alert
	return &copied, nil
}

// Update replaces a stored alert
func (m *MemoryAlerts) Update(ctx context.Context, alert *models.Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.alerts[alert.ID]; !ok {
		return ErrNotFound
	}
	copied := *alert
	m.alerts[alert.ID] = &copied
	return nil
}

// List returns alerts matching the filter, newest first
func (m *MemoryAlerts) List(ctx context.Context, filter AlertFilter) ([]models.Alert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.Alert
	for _, alert := range m.alerts {
		if filter.PatientID != "" && alert.PatientID != filter.PatientID {
			continue
		}
		if filter.Status != "" && alert.Status != filter.Status {
			continue
		}
		if filter.Type != "" && alert.Type != filter.Type {
			continue
		}
		out = append(out, *alert)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})

	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// CountSince counts alerts raised for a patient since the given time
func (m *MemoryAlerts) CountSince(ctx context.Context, patientID string, since time.Time) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, alert := range m.alerts {
		if alert.PatientID == patientID && !alert.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

// MemoryThresholds is an in-memory ThresholdStore for development and tests
type MemoryThresholds struct {
	mu   sync.RWMutex
	cfgs map[string]*models.ThresholdConfig
}

// NewMemoryThresholds creates an empty in-memory threshold store
func NewMemoryThresholds() *MemoryThresholds {
	return &MemoryThresholds{cfgs: make(map[string]*models.ThresholdConfig)}
}

// Get returns the custom threshold configuration for a patient
func (m *MemoryThresholds) Get(ctx context.Context, patientID string) (*models.ThresholdConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cfg, ok := m.cfgs[patientID]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *cfg
	return &copied, nil
}

// Put stores the custom threshold configuration for a patient
func (m *MemoryThresholds) Put(ctx context.Context, cfg *models.ThresholdConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	copied := *cfg
	m.cfgs[cfg.PatientID] = &copied
	return nil
}
