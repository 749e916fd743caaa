// Package validator normalizes raw device payloads into readings.
package validator

import (
	"fmt"
	"time"

	"github.com/savegress/vitalsense/pkg/models"
)

// Absolute sensor ranges. Values outside these limits are physically
// implausible and indicate a sensor glitch rather than a patient condition.
const (
	HeartRateMin = 0
	HeartRateMax = 250

	TemperatureMin = 30
	TemperatureMax = 45

	SpO2Min = 0
	SpO2Max = 100

	SystolicMin  = 60
	SystolicMax  = 250
	DiastolicMin = 40
	DiastolicMax = 150
)

// RawReading is the ingestion payload posted by a device
type RawReading struct {
	PatientID     string                `json:"patientId"`
	DeviceID      string                `json:"deviceId"`
	Timestamp     *time.Time            `json:"timestamp,omitempty"`
	HeartRate     *float64              `json:"heartRate,omitempty"`
	Temperature   *float64              `json:"temperature,omitempty"`
	SpO2          *float64              `json:"spo2,omitempty"`
	BloodPressure *models.BloodPressure `json:"bloodPressure,omitempty"`
}

// MissingFieldError reports a required field absent from the payload
type MissingFieldError struct {
	Field string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("missing required field: %s", e.Field)
}

// Validate normalizes a raw payload into a Reading.
//
// Out-of-range vitals are retained, not clamped: the value is kept as sent
// and the vital is flagged so the evaluator treats it cautiously instead of
// raising a critical alert from sensor noise. Only missing identifiers
// reject the payload.
func Validate(raw *RawReading) (*models.Reading, error) {
	if raw.PatientID == "" {
		return nil, &MissingFieldError{Field: "patientId"}
	}
	if raw.DeviceID == "" {
		return nil, &MissingFieldError{Field: "deviceId"}
	}

	ts := time.Now().UTC()
	if raw.Timestamp != nil && !raw.Timestamp.IsZero() {
		ts = raw.Timestamp.UTC()
	}

	reading := &models.Reading{
		PatientID:     raw.PatientID,
		DeviceID:      raw.DeviceID,
		Timestamp:     ts,
		HeartRate:     raw.HeartRate,
		Temperature:   raw.Temperature,
		SpO2:          raw.SpO2,
		BloodPressure: raw.BloodPressure,
		Units:         make(map[models.VitalType]string),
		Quality:       models.QualityGood,
	}

	if raw.HeartRate != nil {
		reading.Units[models.VitalHeartRate] = models.VitalHeartRate.Unit()
		if *raw.HeartRate < HeartRateMin || *raw.HeartRate > HeartRateMax {
			flag(reading, models.VitalHeartRate)
		}
	}
	if raw.Temperature != nil {
		reading.Units[models.VitalTemperature] = models.VitalTemperature.Unit()
		if *raw.Temperature < TemperatureMin || *raw.Temperature > TemperatureMax {
			flag(reading, models.VitalTemperature)
		}
	}
	if raw.SpO2 != nil {
		reading.Units[models.VitalSpO2] = models.VitalSpO2.Unit()
		if *raw.SpO2 < SpO2Min || *raw.SpO2 > SpO2Max {
			flag(reading, models.VitalSpO2)
		}
	}
	if raw.BloodPressure != nil {
		reading.Units[models.VitalBloodPressure] = models.VitalBloodPressure.Unit()
		bp := raw.BloodPressure
		if bp.Systolic < SystolicMin || bp.Systolic > SystolicMax ||
			bp.Diastolic < DiastolicMin || bp.Diastolic > DiastolicMax {
			flag(reading, models.VitalBloodPressure)
		}
	}

	return reading, nil
}

func flag(r *models.Reading, v models.VitalType) {
	r.Quality = models.QualityPoor
	r.PoorVitals = append(r.PoorVitals, v)
}
