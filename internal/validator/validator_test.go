package validator

import (
	"errors"
	"testing"
	"time"

	"github.com/savegress/vitalsense/pkg/models"
)

func floatPtr(v float64) *float64 {
	return &v
}

func TestValidate_MissingPatientID(t *testing.T) {
	_, err := Validate(&RawReading{DeviceID: "dev-1", HeartRate: floatPtr(80)})
	if err == nil {
		t.Fatal("expected error for missing patientId")
	}

	var missing *MissingFieldError
	if !errors.As(err, &missing) {
		t.Fatalf("expected MissingFieldError, got %T", err)
	}
	if missing.Field != "patientId" {
		t.Errorf("expected field patientId, got %s", missing.Field)
	}
}

func TestValidate_MissingDeviceID(t *testing.T) {
	_, err := Validate(&RawReading{PatientID: "pat-1", HeartRate: floatPtr(80)})

	var missing *MissingFieldError
	if !errors.As(err, &missing) {
		t.Fatalf("expected MissingFieldError, got %v", err)
	}
	if missing.Field != "deviceId" {
		t.Errorf("expected field deviceId, got %s", missing.Field)
	}
}

func TestValidate_GoodReading(t *testing.T) {
	reading, err := Validate(&RawReading{
		PatientID:     "pat-1",
		DeviceID:      "dev-1",
		HeartRate:     floatPtr(72),
		Temperature:   floatPtr(36.6),
		SpO2:          floatPtr(98),
		BloodPressure: &models.BloodPressure{Systolic: 120, Diastolic: 80},
	})
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}

	if reading.Quality != models.QualityGood {
		t.Errorf("expected good quality, got %s", reading.Quality)
	}
	if len(reading.PoorVitals) != 0 {
		t.Errorf("expected no flagged vitals, got %v", reading.PoorVitals)
	}
	if reading.Units[models.VitalHeartRate] != "bpm" {
		t.Errorf("expected bpm unit, got %s", reading.Units[models.VitalHeartRate])
	}
	if reading.Units[models.VitalBloodPressure] != "mmHg" {
		t.Errorf("expected mmHg unit, got %s", reading.Units[models.VitalBloodPressure])
	}
	if reading.Timestamp.IsZero() {
		t.Error("expected timestamp to be defaulted")
	}
}

func TestValidate_KeepsProvidedTimestamp(t *testing.T) {
	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	reading, err := Validate(&RawReading{
		PatientID: "pat-1",
		DeviceID:  "dev-1",
		Timestamp: &ts,
		HeartRate: floatPtr(72),
	})
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if !reading.Timestamp.Equal(ts) {
		t.Errorf("expected timestamp %v, got %v", ts, reading.Timestamp)
	}
}

func TestValidate_OutOfRangeFlaggedNotClamped(t *testing.T) {
	reading, err := Validate(&RawReading{
		PatientID: "pat-1",
		DeviceID:  "dev-1",
		HeartRate: floatPtr(300),
	})
	if err != nil {
		t.Fatalf("out-of-range value must not reject the payload: %v", err)
	}

	if reading.Quality != models.QualityPoor {
		t.Errorf("expected poor quality, got %s", reading.Quality)
	}
	if !reading.VitalFlagged(models.VitalHeartRate) {
		t.Error("expected heart rate to be flagged")
	}
	if *reading.HeartRate != 300 {
		t.Errorf("value must be retained as sent, got %g", *reading.HeartRate)
	}
}

func TestValidate_OutOfRangeBloodPressure(t *testing.T) {
	reading, err := Validate(&RawReading{
		PatientID:     "pat-1",
		DeviceID:      "dev-1",
		BloodPressure: &models.BloodPressure{Systolic: 300, Diastolic: 80},
	})
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if !reading.VitalFlagged(models.VitalBloodPressure) {
		t.Error("expected blood pressure to be flagged")
	}
}

func TestValidate_PartialVitals(t *testing.T) {
	reading, err := Validate(&RawReading{
		PatientID: "pat-1",
		DeviceID:  "dev-1",
		SpO2:      floatPtr(97),
	})
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}

	if reading.HeartRate != nil || reading.Temperature != nil || reading.BloodPressure != nil {
		t.Error("absent vitals must stay nil")
	}
	if _, ok := reading.Units[models.VitalHeartRate]; ok {
		t.Error("absent vitals must not get units")
	}
}
