package models

import (
	"time"
)

// VitalType identifies one measured physiological quantity
type VitalType string

const (
	VitalHeartRate     VitalType = "heartRate"
	VitalTemperature   VitalType = "temperature"
	VitalSpO2          VitalType = "spo2"
	VitalBloodPressure VitalType = "bloodPressure"
)

// Unit returns the default unit for a vital
func (v VitalType) Unit() string {
	switch v {
	case VitalHeartRate:
		return "bpm"
	case VitalTemperature:
		return "°C"
	case VitalSpO2:
		return "%"
	case VitalBloodPressure:
		return "mmHg"
	}
	return ""
}

// ReadingStatus is the derived classification of a reading
type ReadingStatus string

const (
	ReadingStatusNormal   ReadingStatus = "normal"
	ReadingStatusWarning  ReadingStatus = "warning"
	ReadingStatusCritical ReadingStatus = "critical"
	ReadingStatusError    ReadingStatus = "error"
)

// DataQuality flags readings carrying values outside the sensor's physical range
type DataQuality string

const (
	QualityGood DataQuality = "good"
	QualityPoor DataQuality = "poor"
)

// BloodPressure holds one systolic/diastolic pair
type BloodPressure struct {
	Systolic  float64 `json:"systolic"`
	Diastolic float64 `json:"diastolic"`
}

// Reading is one vital-sign sample from a monitoring device.
// Readings are immutable once stored; Status is derived at evaluation time.
type Reading struct {
	ID            string               `json:"id"`
	PatientID     string               `json:"patientId"`
	DeviceID      string               `json:"deviceId"`
	Timestamp     time.Time            `json:"timestamp"`
	HeartRate     *float64             `json:"heartRate,omitempty"`
	Temperature   *float64             `json:"temperature,omitempty"`
	SpO2          *float64             `json:"spo2,omitempty"`
	BloodPressure *BloodPressure       `json:"bloodPressure,omitempty"`
	Units         map[VitalType]string `json:"units,omitempty"`
	Quality       DataQuality          `json:"quality"`
	// PoorVitals lists the vitals whose values fell outside the sensor range.
	// They are retained, not clamped, so the evaluator can dampen them.
	PoorVitals []VitalType   `json:"poorVitals,omitempty"`
	Status     ReadingStatus `json:"status"`
	CreatedAt  time.Time     `json:"createdAt"`
}

// VitalFlagged reports whether a specific vital was marked out-of-range
func (r *Reading) VitalFlagged(v VitalType) bool {
	for _, f := range r.PoorVitals {
		if f == v {
			return true
		}
	}
	return false
}

// Band is a warning range nested inside a wider critical range.
// Values outside [CritMin, CritMax] are critical; outside [WarnMin, WarnMax]
// but inside the critical band are warnings.
type Band struct {
	WarnMin float64 `json:"warnMin" yaml:"warn_min"`
	WarnMax float64 `json:"warnMax" yaml:"warn_max"`
	CritMin float64 `json:"critMin" yaml:"crit_min"`
	CritMax float64 `json:"critMax" yaml:"crit_max"`
}

// LowerBand bounds a vital from below only (SpO2 has no meaningful upper limit)
type LowerBand struct {
	WarnMin float64 `json:"warnMin" yaml:"warn_min"`
	CritMin float64 `json:"critMin" yaml:"crit_min"`
}

// UpperBand bounds a vital from above only
type UpperBand struct {
	WarnMax float64 `json:"warnMax" yaml:"warn_max"`
	CritMax float64 `json:"critMax" yaml:"crit_max"`
}

// BloodPressureBands holds the upper bounds for both pressure components
type BloodPressureBands struct {
	Systolic  UpperBand `json:"systolic" yaml:"systolic"`
	Diastolic UpperBand `json:"diastolic" yaml:"diastolic"`
}

// ThresholdConfig holds the alert bands for one patient.
// A nil config means the clinical defaults apply.
type ThresholdConfig struct {
	PatientID     string             `json:"patientId,omitempty"`
	HeartRate     Band               `json:"heartRate" yaml:"heart_rate"`
	Temperature   Band               `json:"temperature" yaml:"temperature"`
	SpO2          LowerBand          `json:"spo2" yaml:"spo2"`
	BloodPressure BloodPressureBands `json:"bloodPressure" yaml:"blood_pressure"`
	UpdatedAt     time.Time          `json:"updatedAt,omitempty"`
}

// AlertType represents the kind of condition an alert describes
type AlertType string

const (
	AlertTypeHeartRate     AlertType = "heartRate"
	AlertTypeTemperature   AlertType = "temperature"
	AlertTypeSpO2          AlertType = "spo2"
	AlertTypeBloodPressure AlertType = "bloodPressure"
	AlertTypeDevice        AlertType = "device"
	AlertTypePrediction    AlertType = "prediction"
	AlertTypeEmergency     AlertType = "emergency"
)

// AlertSeverity represents how serious an alert is
type AlertSeverity string

const (
	SeverityInfo      AlertSeverity = "info"
	SeverityWarning   AlertSeverity = "warning"
	SeverityCritical  AlertSeverity = "critical"
	SeverityEmergency AlertSeverity = "emergency"
)

// Rank orders severities so comparisons never depend on string ordering
func (s AlertSeverity) Rank() int {
	switch s {
	case SeverityInfo:
		return 0
	case SeverityWarning:
		return 1
	case SeverityCritical:
		return 2
	case SeverityEmergency:
		return 3
	}
	return -1
}

// MaxSeverity returns the more severe of two severities
func MaxSeverity(a, b AlertSeverity) AlertSeverity {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// AlertStatus represents the lifecycle state of an alert
type AlertStatus string

const (
	AlertStatusActive       AlertStatus = "active"
	AlertStatusAcknowledged AlertStatus = "acknowledged"
	AlertStatusResolved     AlertStatus = "resolved"
	AlertStatusEscalated    AlertStatus = "escalated"
)

// AlertData is the snapshot of the measurement that triggered an alert
type AlertData struct {
	Value     float64 `json:"value"`
	Threshold float64 `json:"threshold"`
	Unit      string  `json:"unit,omitempty"`
}

// AlertCandidate is an unpersisted description of an abnormal condition,
// produced by the evaluator before de-duplication
type AlertCandidate struct {
	PatientID string        `json:"patientId"`
	DeviceID  string        `json:"deviceId"`
	Type      AlertType     `json:"type"`
	Severity  AlertSeverity `json:"severity"`
	Title     string        `json:"title"`
	Message   string        `json:"message"`
	Data      AlertData     `json:"data"`
}

// Alert is one raised condition with its full transition history
type Alert struct {
	ID        string        `json:"id"`
	PatientID string        `json:"patientId"`
	DeviceID  string        `json:"deviceId,omitempty"`
	Type      AlertType     `json:"type"`
	Severity  AlertSeverity `json:"severity"`
	Status    AlertStatus   `json:"status"`
	Title     string        `json:"title"`
	Message   string        `json:"message"`
	Data      AlertData     `json:"data"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	AckedBy string     `json:"ackedBy,omitempty"`
	AckedAt *time.Time `json:"ackedAt,omitempty"`

	ResolvedBy       string     `json:"resolvedBy,omitempty"`
	ResolvedAt       *time.Time `json:"resolvedAt,omitempty"`
	ResolutionMethod string     `json:"resolutionMethod,omitempty"`
	ResolutionNotes  string     `json:"resolutionNotes,omitempty"`

	EscalationLevel  int        `json:"escalationLevel,omitempty"`
	EscalatedTo      string     `json:"escalatedTo,omitempty"`
	EscalatedAt      *time.Time `json:"escalatedAt,omitempty"`
	EscalationReason string     `json:"escalationReason,omitempty"`
}

// RiskLevel is the qualitative bucket for a risk score
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// RiskFactor is one contribution to a risk score
type RiskFactor struct {
	Factor   string        `json:"factor"`
	Severity AlertSeverity `json:"severity"`
	Value    float64       `json:"value"`
}

// RiskPrediction is the computed risk assessment for a patient.
// It is ephemeral; high and critical predictions may be persisted as
// alerts of type "prediction".
type RiskPrediction struct {
	PatientID      string       `json:"patientId"`
	RiskScore      int          `json:"riskScore"`
	RiskLevel      RiskLevel    `json:"riskLevel"`
	Factors        []RiskFactor `json:"factors"`
	Recommendation string       `json:"recommendation"`
	Confidence     float64      `json:"confidence"`
	GeneratedAt    time.Time    `json:"generatedAt"`
}

// DeviceStatus represents the connectivity state of a monitoring device
type DeviceStatus string

const (
	DeviceStatusOnline  DeviceStatus = "online"
	DeviceStatusOffline DeviceStatus = "offline"
	DeviceStatusUnknown DeviceStatus = "unknown"
)

// Device is one registered patient-monitoring device
type Device struct {
	ID        string       `json:"id"`
	PatientID string       `json:"patientId,omitempty"`
	Name      string       `json:"name"`
	Model     string       `json:"model,omitempty"`
	Status    DeviceStatus `json:"status"`
	LastSeen  *time.Time   `json:"lastSeen,omitempty"`
	CreatedAt time.Time    `json:"createdAt"`
	UpdatedAt time.Time    `json:"updatedAt"`
}
