// Package storage defines the persistence contracts for readings, alerts
// and threshold configurations. The core pipeline only sees these
// interfaces; memory and postgres adapters are interchangeable.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/savegress/vitalsense/pkg/models"
)

var ErrNotFound = errors.New("not found")

// ReadingStore persists immutable vital-sign readings
type ReadingStore interface {
	Insert(ctx context.Context, reading *models.Reading) error
	// ListRecent returns up to limit readings for a patient, newest first
	ListRecent(ctx context.Context, patientID string, limit int) ([]models.Reading, error)
}

// AlertFilter narrows an alert listing
type AlertFilter struct {
	PatientID string
	Status    models.AlertStatus
	Type      models.AlertType
	Limit     int
}

// AlertStore persists alerts and enforces the one-active-alert-per-
// (patient, type) invariant.
type AlertStore interface {
	// UpsertActive atomically merges the candidate alert into an existing
	// active alert of the same (patientID, type), or inserts it as a new
	// row when none exists. Merging refreshes the data snapshot and
	// message and keeps the higher severity; it never creates a second
	// active row. Returns the stored alert and whether a row was created.
	UpsertActive(ctx context.Context, alert *models.Alert) (*models.Alert, bool, error)

	Get(ctx context.Context, id string) (*models.Alert, error)
	Update(ctx context.Context, alert *models.Alert) error
	List(ctx context.Context, filter AlertFilter) ([]models.Alert, error)
	// CountSince counts alerts raised for a patient since the given time
	CountSince(ctx context.Context, patientID string, since time.Time) (int, error)
}

// ThresholdStore persists per-patient threshold configurations.
// Get returns ErrNotFound when the patient has no custom configuration.
type ThresholdStore interface {
	Get(ctx context.Context, patientID string) (*models.ThresholdConfig, error)
	Put(ctx context.Context, cfg *models.ThresholdConfig) error
}

// mergeActive applies the merge semantics shared by both adapters: the
// snapshot, message and device follow the newest candidate, severity never
// downgrades, and lifecycle fields are untouched.
func mergeActive(existing, candidate *models.Alert) {
	existing.DeviceID = candidate.DeviceID
	existing.Title = candidate.Title
	existing.Message = candidate.Message
	existing.Data = candidate.Data
	existing.Severity = models.MaxSeverity(existing.Severity, candidate.Severity)
	existing.UpdatedAt = candidate.UpdatedAt
}
