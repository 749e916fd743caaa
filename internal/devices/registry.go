// Package devices tracks registered monitoring devices and their
// connectivity.
package devices

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/savegress/vitalsense/internal/config"
	"github.com/savegress/vitalsense/pkg/models"
)

var ErrDeviceNotFound = errors.New("device not found")

// Registry manages device registration and online/offline status.
// A device that stops posting readings past the offline threshold is
// reported through the status-change callback so the alert manager can
// raise a device alert for its patient.
type Registry struct {
	config  *config.DevicesConfig
	devices map[string]*models.Device
	mu      sync.RWMutex
	running bool
	stopCh  chan struct{}

	onStatusChange func(device *models.Device, oldStatus, newStatus models.DeviceStatus)
}

// NewRegistry creates a new device registry
func NewRegistry(cfg *config.DevicesConfig) *Registry {
	return &Registry{
		config:  cfg,
		devices: make(map[string]*models.Device),
		stopCh:  make(chan struct{}),
	}
}

// Start starts the offline monitor loop
func (r *Registry) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = true
	r.mu.Unlock()

	go r.monitorLoop(ctx)
	return nil
}

// Stop stops the registry
func (r *Registry) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		close(r.stopCh)
		r.running = false
	}
}

// SetStatusChangeCallback sets a callback for device status changes
func (r *Registry) SetStatusChangeCallback(cb func(device *models.Device, oldStatus, newStatus models.DeviceStatus)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onStatusChange = cb
}

func (r *Registry) monitorLoop(ctx context.Context) {
	ticker := time.NewTicker(r.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.checkDeviceStatus()
		}
	}
}

func (r *Registry) checkDeviceStatus() {
	r.mu.Lock()
	var transitions []*models.Device

	now := time.Now()
	for _, device := range r.devices {
		if device.LastSeen == nil || device.Status != models.DeviceStatusOnline {
			continue
		}
		if now.Sub(*device.LastSeen) > r.config.OfflineThreshold {
			device.Status = models.DeviceStatusOffline
			device.UpdatedAt = now
			copied := *device
			transitions = append(transitions, &copied)
		}
	}
	cb := r.onStatusChange
	r.mu.Unlock()

	if cb == nil {
		return
	}
	for _, device := range transitions {
		cb(device, models.DeviceStatusOnline, models.DeviceStatusOffline)
	}
}

// Register adds a device. An empty ID is assigned one.
func (r *Registry) Register(device *models.Device) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if device.ID == "" {
		device.ID = uuid.New().String()
	}
	if device.Status == "" {
		device.Status = models.DeviceStatusUnknown
	}

	now := time.Now().UTC()
	device.CreatedAt = now
	device.UpdatedAt = now

	copied := *device
	r.devices[device.ID] = &copied
	return nil
}

// Get returns a device by ID
func (r *Registry) Get(id string) (*models.Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	device, ok := r.devices[id]
	if !ok {
		return nil, false
	}
	copied := *device
	return &copied, true
}

// List returns all registered devices
func (r *Registry) List() []models.Device {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.Device, 0, len(r.devices))
	for _, device := range r.devices {
		out = append(out, *device)
	}
	return out
}

// Heartbeat records that a device is alive
func (r *Registry) Heartbeat(id string) error {
	return r.touch(id, "")
}

// Seen records device activity from an ingested reading, registering
// unknown devices on first contact
func (r *Registry) Seen(deviceID, patientID string) {
	if err := r.touch(deviceID, patientID); errors.Is(err, ErrDeviceNotFound) {
		now := time.Now().UTC()
		r.mu.Lock()
		r.devices[deviceID] = &models.Device{
			ID:        deviceID,
			PatientID: patientID,
			Name:      deviceID,
			Status:    models.DeviceStatusOnline,
			LastSeen:  &now,
			CreatedAt: now,
			UpdatedAt: now,
		}
		r.mu.Unlock()
	}
}

func (r *Registry) touch(id, patientID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	device, ok := r.devices[id]
	if !ok {
		return ErrDeviceNotFound
	}

	now := time.Now().UTC()
	device.LastSeen = &now
	device.Status = models.DeviceStatusOnline
	device.UpdatedAt = now
	if patientID != "" {
		device.PatientID = patientID
	}
	return nil
}
