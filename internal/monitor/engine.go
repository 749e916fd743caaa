// Package monitor wires the ingestion pipeline: validate, persist,
// evaluate, raise alerts and broadcast.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/savegress/vitalsense/internal/alerts"
	"github.com/savegress/vitalsense/internal/cache"
	"github.com/savegress/vitalsense/internal/config"
	"github.com/savegress/vitalsense/internal/devices"
	"github.com/savegress/vitalsense/internal/metrics"
	"github.com/savegress/vitalsense/internal/realtime"
	"github.com/savegress/vitalsense/internal/risk"
	"github.com/savegress/vitalsense/internal/storage"
	"github.com/savegress/vitalsense/internal/thresholds"
	"github.com/savegress/vitalsense/internal/validator"
	"github.com/savegress/vitalsense/pkg/models"
)

// Engine runs the ingestion pipeline for incoming readings
type Engine struct {
	cfg         *config.Config
	readings    storage.ReadingStore
	thresholds  storage.ThresholdStore
	alertStore  storage.AlertStore
	manager     *alerts.Manager
	registry    *devices.Registry
	broadcaster realtime.Broadcaster
	cache       *cache.Cache
}

// NewEngine creates the ingestion engine
func NewEngine(
	cfg *config.Config,
	readings storage.ReadingStore,
	thresholdStore storage.ThresholdStore,
	alertStore storage.AlertStore,
	manager *alerts.Manager,
	registry *devices.Registry,
	broadcaster realtime.Broadcaster,
	c *cache.Cache,
) *Engine {
	return &Engine{
		cfg:         cfg,
		readings:    readings,
		thresholds:  thresholdStore,
		alertStore:  alertStore,
		manager:     manager,
		registry:    registry,
		broadcaster: broadcaster,
		cache:       c,
	}
}

// Ingest validates a raw device payload, evaluates it against the
// patient's thresholds, persists it with its derived status, raises
// alerts for abnormal vitals and broadcasts the reading.
func (e *Engine) Ingest(ctx context.Context, raw *validator.RawReading) (*models.Reading, error) {
	reading, err := validator.Validate(raw)
	if err != nil {
		metrics.ReadingsRejected.Inc()
		return nil, err
	}

	metrics.ReadingsIngested.Inc()
	if reading.Quality == models.QualityPoor {
		metrics.PoorQualityReadings.Inc()
	}

	cfg, err := e.thresholdsFor(ctx, reading.PatientID)
	if err != nil {
		return nil, err
	}

	result := thresholds.Evaluate(reading, cfg, thresholds.Options{
		QualityDamping: e.cfg.Alerts.QualityDamping,
	})

	reading.ID = uuid.New().String()
	reading.Status = result.Status
	reading.CreatedAt = time.Now().UTC()

	if err := e.readings.Insert(ctx, reading); err != nil {
		return nil, fmt.Errorf("failed to store reading: %w", err)
	}

	e.registry.Seen(reading.DeviceID, reading.PatientID)

	var raiseErr error
	if e.cfg.Alerts.Enabled {
		for _, cand := range result.Candidates {
			if _, err := e.manager.Raise(ctx, cand); err != nil {
				log.Printf("monitor: failed to raise %s alert for patient %s: %v",
					cand.Type, cand.PatientID, err)
				if raiseErr == nil {
					raiseErr = err
				}
			}
		}
	}

	e.broadcaster.Publish(realtime.PatientTopic(realtime.TopicReadings, reading.PatientID), reading)

	if err := e.cache.SetLatestReading(ctx, reading); err != nil {
		log.Printf("monitor: failed to cache latest reading for patient %s: %v", reading.PatientID, err)
	}

	if e.cfg.Monitor.AutoPredict {
		if _, err := e.PredictRisk(ctx, reading.PatientID); err != nil {
			log.Printf("monitor: auto risk prediction for patient %s failed: %v", reading.PatientID, err)
		}
	}

	if raiseErr != nil {
		return reading, fmt.Errorf("reading stored but alerting failed: %w", raiseErr)
	}
	return reading, nil
}

// PredictRisk scores the patient's recent reading window, broadcasts the
// prediction and raises a prediction alert when the risk is high or
// critical.
func (e *Engine) PredictRisk(ctx context.Context, patientID string) (*models.RiskPrediction, error) {
	window, err := e.readings.ListRecent(ctx, patientID, e.cfg.Monitor.RecentWindow)
	if err != nil {
		return nil, fmt.Errorf("failed to load recent readings: %w", err)
	}

	since := time.Now().UTC().Add(-e.cfg.Monitor.PriorAlertWindow)
	priorAlerts, err := e.alertStore.CountSince(ctx, patientID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to count recent alerts: %w", err)
	}

	pred := risk.Score(patientID, window, priorAlerts)
	metrics.RiskPredictions.WithLabelValues(string(pred.RiskLevel)).Inc()

	e.broadcaster.Publish(realtime.PatientTopic(realtime.TopicRisk, patientID), pred)

	if err := e.cache.SetLatestRisk(ctx, &pred); err != nil {
		log.Printf("monitor: failed to cache risk for patient %s: %v", patientID, err)
	}

	if e.cfg.Alerts.Enabled {
		if cand, ok := predictionCandidate(&pred); ok {
			if _, err := e.manager.Raise(ctx, cand); err != nil {
				log.Printf("monitor: failed to raise prediction alert for patient %s: %v", patientID, err)
			}
		}
	}

	return &pred, nil
}

// predictionCandidate converts a high or critical prediction into an
// alert candidate
func predictionCandidate(pred *models.RiskPrediction) (models.AlertCandidate, bool) {
	var sev models.AlertSeverity
	switch pred.RiskLevel {
	case models.RiskCritical:
		sev = models.SeverityCritical
	case models.RiskHigh:
		sev = models.SeverityWarning
	default:
		return models.AlertCandidate{}, false
	}

	return models.AlertCandidate{
		PatientID: pred.PatientID,
		Type:      models.AlertTypePrediction,
		Severity:  sev,
		Title:     "Elevated deterioration risk",
		Message: fmt.Sprintf("Risk score %d (%s). %s",
			pred.RiskScore, pred.RiskLevel, pred.Recommendation),
		Data: models.AlertData{
			Value:     float64(pred.RiskScore),
			Threshold: 50,
		},
	}, true
}

// Thresholds returns the effective configuration for a patient and
// whether it is a custom one
func (e *Engine) Thresholds(ctx context.Context, patientID string) (*models.ThresholdConfig, bool, error) {
	cfg, err := e.thresholds.Get(ctx, patientID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			def := thresholds.Defaults()
			def.PatientID = patientID
			return def, false, nil
		}
		return nil, false, fmt.Errorf("failed to load thresholds: %w", err)
	}
	return cfg, true, nil
}

// SetThresholds stores a custom configuration for a patient
func (e *Engine) SetThresholds(ctx context.Context, cfg *models.ThresholdConfig) error {
	cfg.UpdatedAt = time.Now().UTC()
	if err := e.thresholds.Put(ctx, cfg); err != nil {
		return fmt.Errorf("failed to store thresholds: %w", err)
	}
	return nil
}

// thresholdsFor resolves the evaluation config; a patient without a custom
// configuration evaluates against nil (the evaluator's defaults)
func (e *Engine) thresholdsFor(ctx context.Context, patientID string) (*models.ThresholdConfig, error) {
	cfg, err := e.thresholds.Get(ctx, patientID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load thresholds: %w", err)
	}
	return cfg, nil
}

// DeviceOffline raises a device alert when a monitoring device stops
// reporting; wired as the registry's status-change callback
func (e *Engine) DeviceOffline(device *models.Device, oldStatus, newStatus models.DeviceStatus) {
	if newStatus != models.DeviceStatusOffline || !e.cfg.Alerts.Enabled {
		return
	}

	cand := models.AlertCandidate{
		PatientID: device.PatientID,
		DeviceID:  device.ID,
		Type:      models.AlertTypeDevice,
		Severity:  models.SeverityWarning,
		Title:     "Device offline",
		Message:   fmt.Sprintf("Device %s has stopped reporting readings", device.ID),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := e.manager.Raise(ctx, cand); err != nil {
		log.Printf("monitor: failed to raise device alert for %s: %v", device.ID, err)
	}
}
