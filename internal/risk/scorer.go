// Package risk computes a heuristic deterioration score from recent readings.
//
// The scorer uses the multi-reading trend variant: every contribution is
// derived from window means over the most recent readings, so a single noisy
// sample cannot move the score on its own. Contributions are additive and
// independent; the sum is clamped to [0,100].
package risk

import (
	"time"

	"github.com/savegress/vitalsense/pkg/models"
)

// Window sizes and weights for the scoring heuristic
const (
	meanWindow = 10 // readings per mean
	trendRatio = 1.1

	weightHighHeartRate  = 20
	weightHeartRateTrend = 10
	weightHighFever      = 25
	weightMildFever      = 10
	weightLowSpO2        = 30
	weightBorderlineSpO2 = 15
	weightHighBP         = 20
	weightAbnormalShare  = 15
	weightAlertHistory   = 10

	abnormalShareLimit = 0.3
	alertHistoryLimit  = 3
)

// Risk level boundaries are fixed: low 0-29, medium 30-49, high 50-69,
// critical 70-100.
const (
	mediumFloor   = 30
	highFloor     = 50
	criticalFloor = 70
)

// Score computes a risk prediction for a patient from a window of recent
// readings (ordered newest first) and the number of alerts raised in the
// recent history window.
func Score(patientID string, readings []models.Reading, priorAlerts int) models.RiskPrediction {
	pred := models.RiskPrediction{
		PatientID:   patientID,
		RiskLevel:   models.RiskLow,
		Confidence:  0.85,
		GeneratedAt: time.Now().UTC(),
	}

	score := 0
	addFactor := func(weight int, factor string, sev models.AlertSeverity, value float64) {
		score += weight
		pred.Factors = append(pred.Factors, models.RiskFactor{
			Factor:   factor,
			Severity: sev,
			Value:    value,
		})
	}

	shortWindow := len(readings) < meanWindow
	if shortWindow {
		pred.Confidence = 0.5
		pred.Factors = append(pred.Factors, models.RiskFactor{
			Factor:   "Insufficient Data",
			Severity: models.SeverityInfo,
			Value:    float64(len(readings)),
		})
	}

	if hr, ok := meanOf(readings[:min(len(readings), meanWindow)], heartRate); ok && hr > 100 {
		addFactor(weightHighHeartRate, "Elevated Heart Rate", models.SeverityWarning, hr)
	}

	// Trend contributions need a full prior window; skipped when the
	// history is too short.
	if !shortWindow {
		recent := readings[:meanWindow]
		prior := readings[meanWindow:min(len(readings), 2*meanWindow)]
		r, okR := meanOf(recent, heartRate)
		p, okP := meanOf(prior, heartRate)
		if okR && okP && r > trendRatio*p {
			addFactor(weightHeartRateTrend, "Rising Heart Rate Trend", models.SeverityWarning, r/p)
		}
	}

	if temp, ok := meanOf(readings[:min(len(readings), meanWindow)], temperature); ok {
		switch {
		case temp > 37.5:
			addFactor(weightHighFever, "Fever", models.SeverityCritical, temp)
		case temp > 37.2:
			addFactor(weightMildFever, "Elevated Temperature", models.SeverityWarning, temp)
		}
	}

	if spo2, ok := meanOf(readings[:min(len(readings), meanWindow)], oxygen); ok {
		switch {
		case spo2 < 92:
			addFactor(weightLowSpO2, "Low Oxygen Saturation", models.SeverityCritical, spo2)
		case spo2 < 95:
			addFactor(weightBorderlineSpO2, "Borderline Oxygen Saturation", models.SeverityWarning, spo2)
		}
	}

	sys, okSys := meanOf(readings[:min(len(readings), meanWindow)], systolic)
	dia, okDia := meanOf(readings[:min(len(readings), meanWindow)], diastolic)
	if (okSys && sys > 140) || (okDia && dia > 90) {
		addFactor(weightHighBP, "Elevated Blood Pressure", models.SeverityWarning, sys)
	}

	if len(readings) > 0 {
		abnormal := 0
		for _, r := range readings {
			if r.Status == models.ReadingStatusWarning || r.Status == models.ReadingStatusCritical {
				abnormal++
			}
		}
		share := float64(abnormal) / float64(len(readings))
		if share > abnormalShareLimit {
			addFactor(weightAbnormalShare, "Frequent Abnormal Readings", models.SeverityWarning, share)
		}
	}

	if priorAlerts >= alertHistoryLimit {
		addFactor(weightAlertHistory, "Recent Alert History", models.SeverityWarning, float64(priorAlerts))
	}

	pred.RiskScore = clamp(score)
	pred.RiskLevel = Level(pred.RiskScore)
	pred.Recommendation = recommendation(pred.RiskLevel)
	return pred
}

// Level maps a score to its qualitative bucket
func Level(score int) models.RiskLevel {
	switch {
	case score >= criticalFloor:
		return models.RiskCritical
	case score >= highFloor:
		return models.RiskHigh
	case score >= mediumFloor:
		return models.RiskMedium
	}
	return models.RiskLow
}

func recommendation(level models.RiskLevel) string {
	switch level {
	case models.RiskCritical:
		return "Urgent clinical attention required. Contact the care team immediately."
	case models.RiskHigh:
		return "Schedule a consultation promptly and increase monitoring frequency."
	case models.RiskMedium:
		return "Continue close monitoring and review the recent readings."
	}
	return "Routine monitoring. No action needed."
}

func clamp(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

type extractor func(*models.Reading) (float64, bool)

func heartRate(r *models.Reading) (float64, bool) {
	if r.HeartRate == nil {
		return 0, false
	}
	return *r.HeartRate, true
}

func temperature(r *models.Reading) (float64, bool) {
	if r.Temperature == nil {
		return 0, false
	}
	return *r.Temperature, true
}

func oxygen(r *models.Reading) (float64, bool) {
	if r.SpO2 == nil {
		return 0, false
	}
	return *r.SpO2, true
}

func systolic(r *models.Reading) (float64, bool) {
	if r.BloodPressure == nil {
		return 0, false
	}
	return r.BloodPressure.Systolic, true
}

func diastolic(r *models.Reading) (float64, bool) {
	if r.BloodPressure == nil {
		return 0, false
	}
	return r.BloodPressure.Diastolic, true
}

// meanOf averages one vital over a window, skipping readings that don't
// carry it. ok is false when no reading in the window has the vital.
func meanOf(window []models.Reading, get extractor) (float64, bool) {
	sum := 0.0
	n := 0
	for i := range window {
		if v, ok := get(&window[i]); ok {
			sum += v
			n++
		}
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}
