package monitor

import (
	"context"
	"testing"
	"time"

	"github.com/savegress/vitalsense/internal/alerts"
	"github.com/savegress/vitalsense/internal/cache"
	"github.com/savegress/vitalsense/internal/config"
	"github.com/savegress/vitalsense/internal/devices"
	"github.com/savegress/vitalsense/internal/realtime"
	"github.com/savegress/vitalsense/internal/storage"
	"github.com/savegress/vitalsense/internal/thresholds"
	"github.com/savegress/vitalsense/internal/validator"
	"github.com/savegress/vitalsense/pkg/models"
)

func floatPtr(v float64) *float64 {
	return &v
}

type testEnv struct {
	engine     *Engine
	readings   *storage.MemoryReadings
	alertStore *storage.MemoryAlerts
	registry   *devices.Registry
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	cfg := config.LoadFromEnv()
	cfg.Monitor.RecentWindow = 20
	cfg.Monitor.AutoPredict = false

	readings := storage.NewMemoryReadings()
	alertStore := storage.NewMemoryAlerts()
	thresholdStore := storage.NewMemoryThresholds()

	manager := alerts.NewManager(alertStore, realtime.Nop{}, cfg.Alerts.SuppressionWindow)
	registry := devices.NewRegistry(&cfg.Devices)

	engine := NewEngine(cfg, readings, thresholdStore, alertStore,
		manager, registry, realtime.Nop{}, cache.New(nil, ""))

	return &testEnv{
		engine:     engine,
		readings:   readings,
		alertStore: alertStore,
		registry:   registry,
	}
}

func TestIngest_WarningReadingRaisesAlerts(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	reading, err := env.engine.Ingest(ctx, &validator.RawReading{
		PatientID:   "pat-1",
		DeviceID:    "dev-1",
		HeartRate:   floatPtr(105),
		Temperature: floatPtr(38.2),
		SpO2:        floatPtr(94),
	})
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}

	// All three vitals cross warning bounds, none a critical one
	if reading.Status != models.ReadingStatusWarning {
		t.Errorf("expected warning status, got %s", reading.Status)
	}
	if reading.ID == "" {
		t.Error("expected an assigned reading ID")
	}

	stored, _ := env.readings.ListRecent(ctx, "pat-1", 10)
	if len(stored) != 1 {
		t.Fatalf("expected 1 stored reading, got %d", len(stored))
	}

	active, _ := env.alertStore.List(ctx, storage.AlertFilter{
		PatientID: "pat-1",
		Status:    models.AlertStatusActive,
	})
	if len(active) != 3 {
		t.Fatalf("expected 3 active alerts, got %d", len(active))
	}
	for _, a := range active {
		if a.Severity != models.SeverityWarning {
			t.Errorf("alert %s: expected warning severity, got %s", a.Type, a.Severity)
		}
	}

	// The device was seen and auto-registered
	device, ok := env.registry.Get("dev-1")
	if !ok {
		t.Fatal("expected device to be auto-registered")
	}
	if device.PatientID != "pat-1" || device.Status != models.DeviceStatusOnline {
		t.Errorf("unexpected device state: %+v", device)
	}
}

func TestIngest_NormalReadingRaisesNothing(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	reading, err := env.engine.Ingest(ctx, &validator.RawReading{
		PatientID: "pat-1",
		DeviceID:  "dev-1",
		HeartRate: floatPtr(72),
		SpO2:      floatPtr(98),
	})
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}

	if reading.Status != models.ReadingStatusNormal {
		t.Errorf("expected normal status, got %s", reading.Status)
	}

	active, _ := env.alertStore.List(ctx, storage.AlertFilter{PatientID: "pat-1"})
	if len(active) != 0 {
		t.Errorf("expected no alerts, got %d", len(active))
	}
}

func TestIngest_InvalidPayloadStoresNothing(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	_, err := env.engine.Ingest(ctx, &validator.RawReading{DeviceID: "dev-1", HeartRate: floatPtr(80)})
	if err == nil {
		t.Fatal("expected validation error")
	}

	stored, _ := env.readings.ListRecent(ctx, "", 10)
	if len(stored) != 0 {
		t.Error("rejected payloads must not be stored")
	}
}

func TestIngest_RepeatConditionMergesAlert(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	for i := 0; i < 3; i++ {
		_, err := env.engine.Ingest(ctx, &validator.RawReading{
			PatientID: "pat-1",
			DeviceID:  "dev-1",
			HeartRate: floatPtr(105),
		})
		if err != nil {
			t.Fatalf("Ingest failed: %v", err)
		}
	}

	active, _ := env.alertStore.List(ctx, storage.AlertFilter{
		PatientID: "pat-1",
		Status:    models.AlertStatusActive,
	})
	if len(active) != 1 {
		t.Errorf("persisting condition must keep a single active alert, got %d", len(active))
	}
}

func TestIngest_GlitchedSensorDampenedToWarning(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	reading, err := env.engine.Ingest(ctx, &validator.RawReading{
		PatientID: "pat-1",
		DeviceID:  "dev-1",
		HeartRate: floatPtr(300), // outside the sensor's physical range
	})
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}

	if reading.Quality != models.QualityPoor {
		t.Errorf("expected poor quality, got %s", reading.Quality)
	}

	active, _ := env.alertStore.List(ctx, storage.AlertFilter{PatientID: "pat-1"})
	if len(active) != 1 {
		t.Fatalf("expected 1 alert, got %d", len(active))
	}
	if active[0].Severity != models.SeverityWarning {
		t.Errorf("flagged vital must be dampened to warning, got %s", active[0].Severity)
	}
}

func TestIngest_CustomThresholdsApply(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	cfg := thresholds.Defaults()
	cfg.PatientID = "pat-1"
	cfg.HeartRate.WarnMax = 110
	if err := env.engine.SetThresholds(ctx, cfg); err != nil {
		t.Fatalf("SetThresholds failed: %v", err)
	}

	reading, err := env.engine.Ingest(ctx, &validator.RawReading{
		PatientID: "pat-1",
		DeviceID:  "dev-1",
		HeartRate: floatPtr(105),
	})
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}

	if reading.Status != models.ReadingStatusNormal {
		t.Errorf("105 bpm is normal under the custom config, got %s", reading.Status)
	}

	// Another patient still evaluates against the defaults
	other, _ := env.engine.Ingest(ctx, &validator.RawReading{
		PatientID: "pat-2",
		DeviceID:  "dev-2",
		HeartRate: floatPtr(105),
	})
	if other.Status != models.ReadingStatusWarning {
		t.Errorf("default thresholds should flag 105 bpm, got %s", other.Status)
	}
}

func TestPredictRisk_LowRisk(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	for i := 0; i < 10; i++ {
		env.readings.Insert(ctx, &models.Reading{
			PatientID:   "pat-1",
			HeartRate:   floatPtr(105),
			Temperature: floatPtr(36.5),
			SpO2:        floatPtr(98),
			Status:      models.ReadingStatusNormal,
		})
	}

	pred, err := env.engine.PredictRisk(ctx, "pat-1")
	if err != nil {
		t.Fatalf("PredictRisk failed: %v", err)
	}

	if pred.RiskScore != 20 {
		t.Errorf("expected score 20, got %d", pred.RiskScore)
	}
	if pred.RiskLevel != models.RiskLow {
		t.Errorf("expected low level, got %s", pred.RiskLevel)
	}

	// Low risk must not raise a prediction alert
	predictions, _ := env.alertStore.List(ctx, storage.AlertFilter{Type: models.AlertTypePrediction})
	if len(predictions) != 0 {
		t.Errorf("expected no prediction alert, got %d", len(predictions))
	}
}

func TestPredictRisk_CriticalRaisesPredictionAlert(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	for i := 0; i < 10; i++ {
		env.readings.Insert(ctx, &models.Reading{
			PatientID:   "pat-1",
			HeartRate:   floatPtr(115),
			Temperature: floatPtr(38.0),
			SpO2:        floatPtr(91),
			Status:      models.ReadingStatusCritical,
		})
	}

	pred, err := env.engine.PredictRisk(ctx, "pat-1")
	if err != nil {
		t.Fatalf("PredictRisk failed: %v", err)
	}

	if pred.RiskLevel != models.RiskCritical {
		t.Errorf("expected critical level, got %s (score %d)", pred.RiskLevel, pred.RiskScore)
	}

	predictions, _ := env.alertStore.List(ctx, storage.AlertFilter{Type: models.AlertTypePrediction})
	if len(predictions) != 1 {
		t.Fatalf("expected 1 prediction alert, got %d", len(predictions))
	}
	if predictions[0].Severity != models.SeverityCritical {
		t.Errorf("critical risk maps to critical severity, got %s", predictions[0].Severity)
	}
}

func TestThresholds_DefaultsVersusCustom(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	cfg, custom, err := env.engine.Thresholds(ctx, "pat-1")
	if err != nil {
		t.Fatalf("Thresholds failed: %v", err)
	}
	if custom {
		t.Error("expected defaults for an unconfigured patient")
	}
	if cfg.HeartRate.WarnMax != 100 {
		t.Errorf("expected default band, got %+v", cfg.HeartRate)
	}

	stored := thresholds.Defaults()
	stored.PatientID = "pat-1"
	stored.HeartRate.WarnMax = 115
	env.engine.SetThresholds(ctx, stored)

	cfg, custom, err = env.engine.Thresholds(ctx, "pat-1")
	if err != nil {
		t.Fatalf("Thresholds failed: %v", err)
	}
	if !custom {
		t.Error("expected custom config after SetThresholds")
	}
	if cfg.HeartRate.WarnMax != 115 {
		t.Errorf("expected stored band, got %+v", cfg.HeartRate)
	}
}

func TestDeviceOffline_RaisesDeviceAlert(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	now := time.Now().UTC()
	env.engine.DeviceOffline(&models.Device{
		ID:        "dev-9",
		PatientID: "pat-3",
		LastSeen:  &now,
	}, models.DeviceStatusOnline, models.DeviceStatusOffline)

	active, _ := env.alertStore.List(ctx, storage.AlertFilter{
		PatientID: "pat-3",
		Type:      models.AlertTypeDevice,
	})
	if len(active) != 1 {
		t.Fatalf("expected 1 device alert, got %d", len(active))
	}
	if active[0].Severity != models.SeverityWarning {
		t.Errorf("expected warning severity, got %s", active[0].Severity)
	}
}
