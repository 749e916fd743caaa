// Package alerts turns evaluator candidates into persisted alerts and
// drives the alert lifecycle.
package alerts

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/savegress/vitalsense/internal/metrics"
	"github.com/savegress/vitalsense/internal/realtime"
	"github.com/savegress/vitalsense/internal/storage"
	"github.com/savegress/vitalsense/pkg/models"
)

var (
	// ErrAlreadyResolved is returned for transitions on a resolved alert
	ErrAlreadyResolved = errors.New("alert already resolved")
	// ErrInvalidTransition is returned for transitions the lifecycle forbids
	ErrInvalidTransition = errors.New("invalid alert transition")
)

// Notifier delivers an alert to one notification channel
type Notifier interface {
	Name() string
	Notify(alert *models.Alert) error
}

// Manager raises alerts with de-duplication and drives the
// active -> acknowledged -> resolved lifecycle with escalation.
type Manager struct {
	store       storage.AlertStore
	broadcaster realtime.Broadcaster
	notifiers   []Notifier
	dispatcher  *Dispatcher

	// suppressionWindow bounds how often a persisting condition re-notifies;
	// within the window repeated candidates only refresh the stored alert.
	suppressionWindow time.Duration

	mu        sync.Mutex
	cooldowns map[string]time.Time // patientID:type -> last notification
}

// NewManager creates an alert manager
func NewManager(store storage.AlertStore, broadcaster realtime.Broadcaster, suppressionWindow time.Duration) *Manager {
	return &Manager{
		store:             store,
		broadcaster:       broadcaster,
		dispatcher:        NewDispatcher(defaultDispatchWorkers, defaultDispatchQueue),
		suppressionWindow: suppressionWindow,
		cooldowns:         make(map[string]time.Time),
	}
}

// Close stops the notification dispatcher after draining pending deliveries
func (m *Manager) Close() {
	m.dispatcher.Stop()
}

// AddNotifier adds a notification channel
func (m *Manager) AddNotifier(n Notifier) {
	m.notifiers = append(m.notifiers, n)
}

// Event is what subscribers receive on every alert change
type Event struct {
	Action string        `json:"action"` // raised, updated, acknowledged, resolved, escalated
	Alert  *models.Alert `json:"alert"`
}

// Raise persists a candidate as an alert. When an active alert of the same
// (patient, type) already exists, the candidate is merged into it instead
// of creating a duplicate: the snapshot refreshes and severity never
// downgrades. Notifications for the merged alert are suppressed until the
// suppression window has passed.
func (m *Manager) Raise(ctx context.Context, cand models.AlertCandidate) (*models.Alert, error) {
	now := time.Now().UTC()
	alert := &models.Alert{
		ID:        uuid.New().String(),
		PatientID: cand.PatientID,
		DeviceID:  cand.DeviceID,
		Type:      cand.Type,
		Severity:  cand.Severity,
		Status:    models.AlertStatusActive,
		Title:     cand.Title,
		Message:   cand.Message,
		Data:      cand.Data,
		CreatedAt: now,
		UpdatedAt: now,
	}

	stored, created, err := m.store.UpsertActive(ctx, alert)
	if err != nil {
		return nil, fmt.Errorf("failed to raise alert: %w", err)
	}

	if created {
		metrics.AlertsRaised.WithLabelValues(string(stored.Type), string(stored.Severity)).Inc()
		m.publish("raised", stored)
		m.cooldownElapsed(stored) // start the notification cooldown
		m.dispatch(stored)
		return stored, nil
	}

	metrics.AlertsSuppressed.WithLabelValues(string(stored.Type)).Inc()
	m.publish("updated", stored)
	if m.cooldownElapsed(stored) {
		m.dispatch(stored)
	}
	return stored, nil
}

// Acknowledge marks an active alert as seen by a caregiver
func (m *Manager) Acknowledge(ctx context.Context, id, userID string) (*models.Alert, error) {
	alert, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	switch alert.Status {
	case models.AlertStatusActive:
	case models.AlertStatusResolved:
		return nil, ErrAlreadyResolved
	default:
		return nil, fmt.Errorf("%w: cannot acknowledge %s alert", ErrInvalidTransition, alert.Status)
	}

	now := time.Now().UTC()
	alert.Status = models.AlertStatusAcknowledged
	alert.AckedBy = userID
	alert.AckedAt = &now
	alert.UpdatedAt = now

	if err := m.store.Update(ctx, alert); err != nil {
		return nil, fmt.Errorf("failed to acknowledge alert: %w", err)
	}

	metrics.AlertTransitions.WithLabelValues("acknowledge").Inc()
	m.publish("acknowledged", alert)
	m.dispatch(alert)
	return alert, nil
}

// Resolve closes an alert from any non-resolved state. Resolved is terminal.
func (m *Manager) Resolve(ctx context.Context, id, userID, method, notes string) (*models.Alert, error) {
	alert, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if alert.Status == models.AlertStatusResolved {
		return nil, ErrAlreadyResolved
	}

	now := time.Now().UTC()
	alert.Status = models.AlertStatusResolved
	alert.ResolvedBy = userID
	alert.ResolvedAt = &now
	alert.ResolutionMethod = method
	alert.ResolutionNotes = notes
	alert.UpdatedAt = now

	if err := m.store.Update(ctx, alert); err != nil {
		return nil, fmt.Errorf("failed to resolve alert: %w", err)
	}

	metrics.AlertTransitions.WithLabelValues("resolve").Inc()
	m.publish("resolved", alert)
	m.dispatch(alert)
	return alert, nil
}

// Escalate bumps an active or acknowledged alert to emergency severity.
// The alert stays escalated until explicitly resolved.
func (m *Manager) Escalate(ctx context.Context, id string, level int, escalatedTo, reason string) (*models.Alert, error) {
	alert, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	switch alert.Status {
	case models.AlertStatusActive, models.AlertStatusAcknowledged:
	case models.AlertStatusResolved:
		return nil, ErrAlreadyResolved
	default:
		return nil, fmt.Errorf("%w: cannot escalate %s alert", ErrInvalidTransition, alert.Status)
	}

	now := time.Now().UTC()
	alert.Status = models.AlertStatusEscalated
	alert.Severity = models.SeverityEmergency
	alert.EscalationLevel = level
	alert.EscalatedTo = escalatedTo
	alert.EscalatedAt = &now
	alert.EscalationReason = reason
	alert.UpdatedAt = now

	if err := m.store.Update(ctx, alert); err != nil {
		return nil, fmt.Errorf("failed to escalate alert: %w", err)
	}

	metrics.AlertTransitions.WithLabelValues("escalate").Inc()
	m.publish("escalated", alert)
	m.dispatch(alert)
	return alert, nil
}

// publish broadcasts the event on the global and the patient-scoped alert
// topics. Fire-and-forget.
func (m *Manager) publish(action string, alert *models.Alert) {
	event := Event{Action: action, Alert: alert}
	m.broadcaster.Publish(realtime.TopicAlerts, event)
	m.broadcaster.Publish(realtime.PatientTopic(realtime.TopicAlerts, alert.PatientID), event)
}

// dispatch fans the alert out to every notifier through the bounded
// dispatcher. Delivery is best-effort and never propagates to the caller.
func (m *Manager) dispatch(alert *models.Alert) {
	for _, notifier := range m.notifiers {
		m.dispatcher.Submit(notifier, alert)
	}
}

// cooldownElapsed reports whether the suppressed alert may notify again,
// and records the attempt when it may
func (m *Manager) cooldownElapsed(alert *models.Alert) bool {
	if m.suppressionWindow <= 0 {
		return true
	}

	key := alert.PatientID + ":" + string(alert.Type)
	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()
	if last, ok := m.cooldowns[key]; ok && now.Sub(last) < m.suppressionWindow {
		return false
	}
	m.cooldowns[key] = now
	return true
}
