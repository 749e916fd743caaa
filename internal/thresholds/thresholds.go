// Package thresholds evaluates readings against per-patient alert bands.
package thresholds

import (
	"fmt"

	"github.com/savegress/vitalsense/pkg/models"
)

// Defaults returns the clinical default bands used when a patient has no
// custom threshold configuration
func Defaults() *models.ThresholdConfig {
	return &models.ThresholdConfig{
		HeartRate: models.Band{
			WarnMin: 60, WarnMax: 100,
			CritMin: 40, CritMax: 120,
		},
		Temperature: models.Band{
			WarnMin: 36.1, WarnMax: 37.8,
			CritMin: 35, CritMax: 38.5,
		},
		SpO2: models.LowerBand{
			WarnMin: 95,
			CritMin: 90,
		},
		BloodPressure: models.BloodPressureBands{
			Systolic:  models.UpperBand{WarnMax: 140, CritMax: 180},
			Diastolic: models.UpperBand{WarnMax: 90, CritMax: 120},
		},
	}
}

// Options controls evaluation behavior
type Options struct {
	// QualityDamping caps the severity of candidates produced from
	// out-of-range sensor values at warning, so a glitching sensor cannot
	// raise critical alerts on its own.
	QualityDamping bool
}

// Result is the outcome of evaluating one reading
type Result struct {
	Status     models.ReadingStatus
	Candidates []models.AlertCandidate
}

// Evaluate classifies each vital present in the reading against the given
// config (or the defaults when cfg is nil) and derives the overall status.
//
// Evaluation is a pure function of the reading and the config: the same
// inputs always produce the same result.
func Evaluate(reading *models.Reading, cfg *models.ThresholdConfig, opts Options) Result {
	if cfg == nil {
		cfg = Defaults()
	}

	res := Result{Status: models.ReadingStatusNormal}

	if reading.HeartRate != nil {
		sev, bound := classifyBand(*reading.HeartRate, cfg.HeartRate)
		if sev != models.SeverityInfo {
			sev = dampen(sev, reading, models.VitalHeartRate, opts)
			res.add(reading, models.AlertCandidate{
				Type:     models.AlertTypeHeartRate,
				Severity: sev,
				Title:    "Abnormal heart rate",
				Message: fmt.Sprintf("Heart rate %.0f bpm is outside the %s range",
					*reading.HeartRate, severityNoun(sev)),
				Data: models.AlertData{
					Value:     *reading.HeartRate,
					Threshold: bound,
					Unit:      models.VitalHeartRate.Unit(),
				},
			}, sev)
		}
	}

	if reading.Temperature != nil {
		sev, bound := classifyBand(*reading.Temperature, cfg.Temperature)
		if sev != models.SeverityInfo {
			sev = dampen(sev, reading, models.VitalTemperature, opts)
			res.add(reading, models.AlertCandidate{
				Type:     models.AlertTypeTemperature,
				Severity: sev,
				Title:    "Abnormal temperature",
				Message: fmt.Sprintf("Temperature %.1f°C is outside the %s range",
					*reading.Temperature, severityNoun(sev)),
				Data: models.AlertData{
					Value:     *reading.Temperature,
					Threshold: bound,
					Unit:      models.VitalTemperature.Unit(),
				},
			}, sev)
		}
	}

	if reading.SpO2 != nil {
		sev, bound := classifyLower(*reading.SpO2, cfg.SpO2)
		if sev != models.SeverityInfo {
			sev = dampen(sev, reading, models.VitalSpO2, opts)
			res.add(reading, models.AlertCandidate{
				Type:     models.AlertTypeSpO2,
				Severity: sev,
				Title:    "Low oxygen saturation",
				Message: fmt.Sprintf("SpO2 %.0f%% is below the %s minimum of %.0f%%",
					*reading.SpO2, severityNoun(sev), bound),
				Data: models.AlertData{
					Value:     *reading.SpO2,
					Threshold: bound,
					Unit:      models.VitalSpO2.Unit(),
				},
			}, sev)
		}
	}

	if reading.BloodPressure != nil {
		if cand, sev, ok := classifyBloodPressure(reading, cfg.BloodPressure, opts); ok {
			res.add(reading, cand, sev)
		}
	}

	return res
}

func (r *Result) add(reading *models.Reading, c models.AlertCandidate, sev models.AlertSeverity) {
	c.PatientID = reading.PatientID
	c.DeviceID = reading.DeviceID
	r.Candidates = append(r.Candidates, c)
	if status := severityStatus(sev); statusRank(status) > statusRank(r.Status) {
		r.Status = status
	}
}

// classifyBand compares a value against a two-sided band and returns the
// severity plus the bound that was crossed (for the alert snapshot)
func classifyBand(value float64, b models.Band) (models.AlertSeverity, float64) {
	switch {
	case value < b.CritMin:
		return models.SeverityCritical, b.CritMin
	case value > b.CritMax:
		return models.SeverityCritical, b.CritMax
	case value < b.WarnMin:
		return models.SeverityWarning, b.WarnMin
	case value > b.WarnMax:
		return models.SeverityWarning, b.WarnMax
	}
	return models.SeverityInfo, 0
}

func classifyLower(value float64, b models.LowerBand) (models.AlertSeverity, float64) {
	switch {
	case value < b.CritMin:
		return models.SeverityCritical, b.CritMin
	case value < b.WarnMin:
		return models.SeverityWarning, b.WarnMin
	}
	return models.SeverityInfo, 0
}

func classifyUpper(value float64, b models.UpperBand) (models.AlertSeverity, float64) {
	switch {
	case value > b.CritMax:
		return models.SeverityCritical, b.CritMax
	case value > b.WarnMax:
		return models.SeverityWarning, b.WarnMax
	}
	return models.SeverityInfo, 0
}

// classifyBloodPressure produces at most one candidate even when both
// components are abnormal; the severities are merged and the message names
// every abnormal component.
func classifyBloodPressure(reading *models.Reading, bands models.BloodPressureBands, opts Options) (models.AlertCandidate, models.AlertSeverity, bool) {
	bp := reading.BloodPressure

	sysSev, sysBound := classifyUpper(bp.Systolic, bands.Systolic)
	diaSev, diaBound := classifyUpper(bp.Diastolic, bands.Diastolic)
	sev := models.MaxSeverity(sysSev, diaSev)
	if sev == models.SeverityInfo {
		return models.AlertCandidate{}, sev, false
	}
	sev = dampen(sev, reading, models.VitalBloodPressure, opts)

	var msg string
	value, bound := bp.Systolic, sysBound
	switch {
	case sysSev != models.SeverityInfo && diaSev != models.SeverityInfo:
		msg = fmt.Sprintf("Blood pressure %.0f/%.0f mmHg is elevated (systolic above %.0f, diastolic above %.0f)",
			bp.Systolic, bp.Diastolic, sysBound, diaBound)
	case sysSev != models.SeverityInfo:
		msg = fmt.Sprintf("Systolic blood pressure %.0f mmHg is above %.0f", bp.Systolic, sysBound)
	default:
		msg = fmt.Sprintf("Diastolic blood pressure %.0f mmHg is above %.0f", bp.Diastolic, diaBound)
		value, bound = bp.Diastolic, diaBound
	}

	return models.AlertCandidate{
		Type:     models.AlertTypeBloodPressure,
		Severity: sev,
		Title:    "Elevated blood pressure",
		Message:  msg,
		Data: models.AlertData{
			Value:     value,
			Threshold: bound,
			Unit:      models.VitalBloodPressure.Unit(),
		},
	}, sev, true
}

func dampen(sev models.AlertSeverity, reading *models.Reading, vital models.VitalType, opts Options) models.AlertSeverity {
	if !opts.QualityDamping {
		return sev
	}
	if reading.VitalFlagged(vital) && sev.Rank() > models.SeverityWarning.Rank() {
		return models.SeverityWarning
	}
	return sev
}

func severityStatus(sev models.AlertSeverity) models.ReadingStatus {
	switch sev {
	case models.SeverityCritical, models.SeverityEmergency:
		return models.ReadingStatusCritical
	case models.SeverityWarning:
		return models.ReadingStatusWarning
	}
	return models.ReadingStatusNormal
}

func statusRank(s models.ReadingStatus) int {
	switch s {
	case models.ReadingStatusNormal:
		return 0
	case models.ReadingStatusWarning:
		return 1
	case models.ReadingStatusCritical:
		return 2
	}
	return 0
}

func severityNoun(sev models.AlertSeverity) string {
	if sev == models.SeverityCritical {
		return "critical"
	}
	return "normal"
}
