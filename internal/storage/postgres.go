package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/savegress/vitalsense/pkg/models"
)

// DB wraps a pgx connection pool shared by the postgres adapters
type DB struct {
	pool *pgxpool.Pool
}

// NewDB connects to postgres and verifies the connection. Zero conn
// bounds keep the pool defaults.
func NewDB(ctx context.Context, databaseURL string, maxConns, minConns int32) (*DB, error) {
	poolCfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid database url: %w", err)
	}
	if maxConns > 0 {
		poolCfg.MaxConns = maxConns
	}
	if minConns > 0 {
		poolCfg.MinConns = minConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{pool: pool}, nil
}

// Close closes the pool
func (db *DB) Close() {
	db.pool.Close()
}

// Migrate creates the schema. The partial unique index on
// (patient_id, type) WHERE status = 'active' is what makes UpsertActive
// safe under concurrent writers.
func (db *DB) Migrate(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS readings (
			id            TEXT PRIMARY KEY,
			patient_id    TEXT NOT NULL,
			device_id     TEXT NOT NULL,
			ts            TIMESTAMPTZ NOT NULL,
			heart_rate    DOUBLE PRECISION,
			temperature   DOUBLE PRECISION,
			spo2          DOUBLE PRECISION,
			systolic      DOUBLE PRECISION,
			diastolic     DOUBLE PRECISION,
			quality       TEXT NOT NULL DEFAULT 'good',
			poor_vitals   TEXT[] NOT NULL DEFAULT '{}',
			status        TEXT NOT NULL DEFAULT 'normal',
			created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_readings_patient_ts ON readings (patient_id, ts DESC)`,
		`CREATE TABLE IF NOT EXISTS alerts (
			id                TEXT PRIMARY KEY,
			patient_id        TEXT NOT NULL,
			device_id         TEXT,
			type              TEXT NOT NULL,
			severity          TEXT NOT NULL,
			status            TEXT NOT NULL DEFAULT 'active',
			title             TEXT NOT NULL,
			message           TEXT NOT NULL,
			value             DOUBLE PRECISION NOT NULL DEFAULT 0,
			threshold         DOUBLE PRECISION NOT NULL DEFAULT 0,
			unit              TEXT NOT NULL DEFAULT '',
			created_at        TIMESTAMPTZ NOT NULL,
			updated_at        TIMESTAMPTZ NOT NULL,
			acked_by          TEXT NOT NULL DEFAULT '',
			acked_at          TIMESTAMPTZ,
			resolved_by       TEXT NOT NULL DEFAULT '',
			resolved_at       TIMESTAMPTZ,
			resolution_method TEXT NOT NULL DEFAULT '',
			resolution_notes  TEXT NOT NULL DEFAULT '',
			escalation_level  INT NOT NULL DEFAULT 0,
			escalated_to      TEXT NOT NULL DEFAULT '',
			escalated_at      TIMESTAMPTZ,
			escalation_reason TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_alerts_one_active
			ON alerts (patient_id, type) WHERE status = 'active'`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_patient_created ON alerts (patient_id, created_at DESC)`,
		`CREATE TABLE IF NOT EXISTS thresholds (
			patient_id  TEXT PRIMARY KEY,
			config      JSONB NOT NULL,
			updated_at  TIMESTAMPTZ NOT NULL
		)`,
	}

	for _, stmt := range statements {
		if _, err := db.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// PostgresReadings is the postgres ReadingStore adapter
type PostgresReadings struct {
	db *DB
}

// NewPostgresReadings creates a postgres-backed reading store
func NewPostgresReadings(db *DB) *PostgresReadings {
	return &PostgresReadings{db: db}
}

// Insert stores a reading
func (s *PostgresReadings) Insert(ctx context.Context, r *models.Reading) error {
	var systolic, diastolic *float64
	if r.BloodPressure != nil {
		systolic = &r.BloodPressure.Systolic
		diastolic = &r.BloodPressure.Diastolic
	}

	poor := make([]string, len(r.PoorVitals))
	for i, v := range r.PoorVitals {
		poor[i] = string(v)
	}

	query := `
		INSERT INTO readings (id, patient_id, device_id, ts, heart_rate, temperature, spo2,
			systolic, diastolic, quality, poor_vitals, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err := s.db.pool.Exec(ctx, query,
		r.ID, r.PatientID, r.DeviceID, r.Timestamp, r.HeartRate, r.Temperature, r.SpO2,
		systolic, diastolic, string(r.Quality), poor, string(r.Status), r.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert reading: %w", err)
	}
	return nil
}

// ListRecent returns up to limit readings for a patient, newest first
func (s *PostgresReadings) ListRecent(ctx context.Context, patientID string, limit int) ([]models.Reading, error) {
	query := `
		SELECT id, patient_id, device_id, ts, heart_rate, temperature, spo2,
			systolic, diastolic, quality, poor_vitals, status, created_at
		FROM readings
		WHERE patient_id = $1
		ORDER BY ts DESC
		LIMIT $2
	`
	rows, err := s.db.pool.Query(ctx, query, patientID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list readings: %w", err)
	}
	defer rows.Close()

	var out []models.Reading
	for rows.Next() {
		var r models.Reading
		var systolic, diastolic *float64
		var quality, status string
		var poor []string

		err := rows.Scan(&r.ID, &r.PatientID, &r.DeviceID, &r.Timestamp,
			&r.HeartRate, &r.Temperature, &r.SpO2,
			&systolic, &diastolic, &quality, &poor, &status, &r.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan reading: %w", err)
		}

		if systolic != nil && diastolic != nil {
			r.BloodPressure = &models.BloodPressure{Systolic: *systolic, Diastolic: *diastolic}
		}
		r.Quality = models.DataQuality(quality)
		r.Status = models.ReadingStatus(status)
		for _, v := range poor {
			r.PoorVitals = append(r.PoorVitals, models.VitalType(v))
		}
		r.Units = unitsFor(&r)
		out = append(out, r)
	}
	return out, rows.Err()
}

func unitsFor(r *models.Reading) map[models.VitalType]string {
	units := make(map[models.VitalType]string)
	if r.HeartRate != nil {
		units[models.VitalHeartRate] = models.VitalHeartRate.Unit()
	}
	if r.Temperature != nil {
		units[models.VitalTemperature] = models.VitalTemperature.Unit()
	}
	if r.SpO2 != nil {
		units[models.VitalSpO2] = models.VitalSpO2.Unit()
	}
	if r.BloodPressure != nil {
		units[models.VitalBloodPressure] = models.VitalBloodPressure.Unit()
	}
	return units
}

// PostgresAlerts is the postgres AlertStore adapter
type PostgresAlerts struct {
	db *DB
}

// NewPostgresAlerts creates a postgres-backed alert store
func NewPostgresAlerts(db *DB) *PostgresAlerts {
	return &PostgresAlerts{db: db}
}

const alertColumns = `id, patient_id, device_id, type, severity, status, title, message,
	value, threshold, unit, created_at, updated_at,
	acked_by, acked_at, resolved_by, resolved_at, resolution_method, resolution_notes,
	escalation_level, escalated_to, escalated_at, escalation_reason`

// UpsertActive inserts the alert or merges it into the existing active row
// of the same (patient, type) in a single statement, guarded by the partial
// unique index, so concurrent raises cannot create duplicate active alerts.
func (s *PostgresAlerts) UpsertActive(ctx context.Context, a *models.Alert) (*models.Alert, bool, error) {
	query := `
		INSERT INTO alerts (id, patient_id, device_id, type, severity, status, title, message,
			value, threshold, unit, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 'active', $6, $7, $8, $9, $10, $11, $11)
		ON CONFLICT (patient_id, type) WHERE status = 'active'
		DO UPDATE SET
			device_id  = EXCLUDED.device_id,
			title      = EXCLUDED.title,
			message    = EXCLUDED.message,
			value      = EXCLUDED.value,
			threshold  = EXCLUDED.threshold,
			unit       = EXCLUDED.unit,
			updated_at = EXCLUDED.updated_at,
			severity   = CASE
				WHEN array_position(ARRAY['info','warning','critical','emergency']::text[], EXCLUDED.severity)
				   > array_position(ARRAY['info','warning','critical','emergency']::text[], alerts.severity)
				THEN EXCLUDED.severity
				ELSE alerts.severity
			END
		RETURNING ` + alertColumns + `, (xmax = 0) AS inserted
	`

	row := s.db.pool.QueryRow(ctx, query,
		a.ID, a.PatientID, a.DeviceID, string(a.Type), string(a.Severity),
		a.Title, a.Message, a.Data.Value, a.Data.Threshold, a.Data.Unit, a.CreatedAt,
	)

	stored, inserted, err := scanAlertWithInserted(row)
	if err != nil {
		return nil, false, fmt.Errorf("failed to upsert alert: %w", err)
	}
	return stored, inserted, nil
}

// Get returns an alert by ID
func (s *PostgresAlerts) Get(ctx context.Context, id string) (*models.Alert, error) {
	query := `SELECT ` + alertColumns + ` FROM alerts WHERE id = $1`

	alert, err := scanAlert(s.db.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get alert: %w", err)
	}
	return alert, nil
}

// Update persists the lifecycle fields of an alert
func (s *PostgresAlerts) Update(ctx context.Context, a *models.Alert) error {
	query := `
		UPDATE alerts SET
			severity = $2, status = $3, title = $4, message = $5,
			value = $6, threshold = $7, unit = $8, updated_at = $9,
			acked_by = $10, acked_at = $11,
			resolved_by = $12, resolved_at = $13, resolution_method = $14, resolution_notes = $15,
			escalation_level = $16, escalated_to = $17, escalated_at = $18, escalation_reason = $19
		WHERE id = $1
	`
	tag, err := s.db.pool.Exec(ctx, query,
		a.ID, string(a.Severity), string(a.Status), a.Title, a.Message,
		a.Data.Value, a.Data.Threshold, a.Data.Unit, a.UpdatedAt,
		a.AckedBy, a.AckedAt,
		a.ResolvedBy, a.ResolvedAt, a.ResolutionMethod, a.ResolutionNotes,
		a.EscalationLevel, a.EscalatedTo, a.EscalatedAt, a.EscalationReason,
	)
	if err != nil {
		return fmt.Errorf("failed to update alert: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns alerts matching the filter, newest first
func (s *PostgresAlerts) List(ctx context.Context, filter AlertFilter) ([]models.Alert, error) {
	query := `SELECT ` + alertColumns + ` FROM alerts WHERE 1=1`
	args := []interface{}{}

	if filter.PatientID != "" {
		args = append(args, filter.PatientID)
		query += fmt.Sprintf(" AND patient_id = $%d", len(args))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if filter.Type != "" {
		args = append(args, string(filter.Type))
		query += fmt.Sprintf(" AND type = $%d", len(args))
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	defer rows.Close()

	var out []models.Alert
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		out = append(out, *alert)
	}
	return out, rows.Err()
}

// CountSince counts alerts raised for a patient since the given time
func (s *PostgresAlerts) CountSince(ctx context.Context, patientID string, since time.Time) (int, error) {
	var n int
	err := s.db.pool.QueryRow(ctx,
		`SELECT count(*) FROM alerts WHERE patient_id = $1 AND created_at >= $2`,
		patientID, since,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count alerts: %w", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAlert(row rowScanner) (*models.Alert, error) {
	a := &models.Alert{}
	var typ, severity, status string
	err := row.Scan(&a.ID, &a.PatientID, &a.DeviceID, &typ, &severity, &status,
		&a.Title, &a.Message, &a.Data.Value, &a.Data.Threshold, &a.Data.Unit,
		&a.CreatedAt, &a.UpdatedAt,
		&a.AckedBy, &a.AckedAt,
		&a.ResolvedBy, &a.ResolvedAt, &a.ResolutionMethod, &a.ResolutionNotes,
		&a.EscalationLevel, &a.EscalatedTo, &a.EscalatedAt, &a.EscalationReason)
	if err != nil {
		return nil, err
	}
	a.Type = models.AlertType(typ)
	a.Severity = models.AlertSeverity(severity)
	a.Status = models.AlertStatus(status)
	return a, nil
}

func scanAlertWithInserted(row rowScanner) (*models.Alert, bool, error) {
	a := &models.Alert{}
	var typ, severity, status string
	var inserted bool
	err := row.Scan(&a.ID, &a.PatientID, &a.DeviceID, &typ, &severity, &status,
		&a.Title, &a.Message, &a.Data.Value, &a.Data.Threshold, &a.Data.Unit,
		&a.CreatedAt, &a.UpdatedAt,
		&a.AckedBy, &a.AckedAt,
		&a.ResolvedBy, &a.ResolvedAt, &a.ResolutionMethod, &a.ResolutionNotes,
		&a.EscalationLevel, &a.EscalatedTo, &a.EscalatedAt, &a.EscalationReason,
		&inserted)
	if err != nil {
		return nil, false, err
	}
	a.Type = models.AlertType(typ)
	a.Severity = models.AlertSeverity(severity)
	a.Status = models.AlertStatus(status)
	return a, inserted, nil
}

// PostgresThresholds is the postgres ThresholdStore adapter.
// Configurations are stored as JSONB documents keyed by patient.
type PostgresThresholds struct {
	db *DB
}

// NewPostgresThresholds creates a postgres-backed threshold store
func NewPostgresThresholds(db *DB) *PostgresThresholds {
	return &PostgresThresholds{db: db}
}

// Get returns the custom threshold configuration for a patient
func (s *PostgresThresholds) Get(ctx context.Context, patientID string) (*models.ThresholdConfig, error) {
	var raw []byte
	var updatedAt time.Time
	err := s.db.pool.QueryRow(ctx,
		`SELECT config, updated_at FROM thresholds WHERE patient_id = $1`,
		patientID,
	).Scan(&raw, &updatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get thresholds: %w", err)
	}

	cfg := &models.ThresholdConfig{}
	if err := json.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("failed to decode thresholds: %w", err)
	}
	cfg.PatientID = patientID
	cfg.UpdatedAt = updatedAt
	return cfg, nil
}

// Put stores the custom threshold configuration for a patient
func (s *PostgresThresholds) Put(ctx context.Context, cfg *models.ThresholdConfig) error {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode thresholds: %w", err)
	}

	_, err = s.db.pool.Exec(ctx, `
		INSERT INTO thresholds (patient_id, config, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (patient_id) DO UPDATE SET config = EXCLUDED.config, updated_at = EXCLUDED.updated_at
	`, cfg.PatientID, raw, cfg.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to put thresholds: %w", err)
	}
	return nil
}
