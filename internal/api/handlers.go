package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"

	"github.com/savegress/vitalsense/internal/alerts"
	"github.com/savegress/vitalsense/internal/storage"
	"github.com/savegress/vitalsense/internal/validator"
	"github.com/savegress/vitalsense/pkg/models"
)

// Health check
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "healthy",
		"service": "vitalsense",
		"time":    time.Now().UTC(),
	})
}

// Reading handlers

func (s *Server) ingestReading(w http.ResponseWriter, r *http.Request) {
	var raw validator.RawReading
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	reading, err := s.engine.Ingest(r.Context(), &raw)
	if err != nil {
		respondStoreError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, reading)
}

func (s *Server) listReadings(w http.ResponseWriter, r *http.Request) {
	patientID := chi.URLParam(r, "id")

	limit := s.cfg.Monitor.RecentWindow
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	readings, err := s.readings.ListRecent(r.Context(), patientID, limit)
	if err != nil {
		respondStoreError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, readings)
}

func (s *Server) latestReading(w http.ResponseWriter, r *http.Request) {
	patientID := chi.URLParam(r, "id")

	// Cache first, store fallback
	if reading, err := s.cache.LatestReading(r.Context(), patientID); err == nil {
		respondJSON(w, http.StatusOK, reading)
		return
	} else if !errors.Is(err, redis.Nil) {
		respondError(w, http.StatusServiceUnavailable, "Cache unavailable")
		return
	}

	readings, err := s.readings.ListRecent(r.Context(), patientID, 1)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	if len(readings) == 0 {
		respondError(w, http.StatusNotFound, "No readings for patient")
		return
	}

	respondJSON(w, http.StatusOK, readings[0])
}

// Risk handlers

func (s *Server) predictRisk(w http.ResponseWriter, r *http.Request) {
	patientID := chi.URLParam(r, "id")

	pred, err := s.engine.PredictRisk(r.Context(), patientID)
	if err != nil {
		respondStoreError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, pred)
}

// Threshold handlers

func (s *Server) getThresholds(w http.ResponseWriter, r *http.Request) {
	patientID := chi.URLParam(r, "id")

	cfg, custom, err := s.engine.Thresholds(r.Context(), patientID)
	if err != nil {
		respondStoreError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"custom":     custom,
		"thresholds": cfg,
	})
}

func (s *Server) putThresholds(w http.ResponseWriter, r *http.Request) {
	patientID := chi.URLParam(r, "id")

	var cfg models.ThresholdConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	cfg.PatientID = patientID
	if err := s.engine.SetThresholds(r.Context(), &cfg); err != nil {
		respondStoreError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, cfg)
}

// Alert handlers

func (s *Server) listAlerts(w http.ResponseWriter, r *http.Request) {
	filter := storage.AlertFilter{
		PatientID: r.URL.Query().Get("patientId"),
		Status:    models.AlertStatus(r.URL.Query().Get("status")),
		Type:      models.AlertType(r.URL.Query().Get("type")),
	}

	if limit := r.URL.Query().Get("limit"); limit != "" {
		if l, err := strconv.Atoi(limit); err == nil {
			filter.Limit = l
		}
	}

	list, err := s.alerts.List(r.Context(), filter)
	if err != nil {
		respondStoreError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, list)
}

func (s *Server) listPatientAlerts(w http.ResponseWriter, r *http.Request) {
	filter := storage.AlertFilter{
		PatientID: chi.URLParam(r, "id"),
		Status:    models.AlertStatus(r.URL.Query().Get("status")),
	}

	list, err := s.alerts.List(r.Context(), filter)
	if err != nil {
		respondStoreError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, list)
}

func (s *Server) getAlert(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	alert, err := s.alerts.Get(r.Context(), id)
	if err != nil {
		respondStoreError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, alert)
}

func (s *Server) acknowledgeAlert(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req struct {
		UserID string `json:"userId"`
	}
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&req)
	}
	if req.UserID == "" {
		req.UserID = UserIDFromContext(r.Context())
	}

	alert, err := s.manager.Acknowledge(r.Context(), id, req.UserID)
	if err != nil {
		respondStoreError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, alert)
}

func (s *Server) resolveAlert(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req struct {
		UserID string `json:"userId"`
		Method string `json:"method"`
		Notes  string `json:"notes"`
	}
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&req)
	}
	if req.UserID == "" {
		req.UserID = UserIDFromContext(r.Context())
	}
	if req.Method == "" {
		req.Method = "manual"
	}

	alert, err := s.manager.Resolve(r.Context(), id, req.UserID, req.Method, req.Notes)
	if err != nil {
		respondStoreError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, alert)
}

func (s *Server) escalateAlert(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req struct {
		Level       int    `json:"level"`
		EscalatedTo string `json:"escalatedTo"`
		Reason      string `json:"reason"`
	}
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&req)
	}
	if req.Level <= 0 {
		req.Level = 1
	}

	alert, err := s.manager.Escalate(r.Context(), id, req.Level, req.EscalatedTo, req.Reason)
	if err != nil {
		respondStoreError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, alert)
}

// Device handlers

func (s *Server) listDevices(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.registry.List())
}

func (s *Server) registerDevice(w http.ResponseWriter, r *http.Request) {
	var device models.Device
	if err := json.NewDecoder(r.Body).Decode(&device); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := s.registry.Register(&device); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondJSON(w, http.StatusCreated, device)
}

func (s *Server) getDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	device, ok := s.registry.Get(id)
	if !ok {
		respondError(w, http.StatusNotFound, "Device not found")
		return
	}
	respondJSON(w, http.StatusOK, device)
}

func (s *Server) deviceHeartbeat(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.registry.Heartbeat(id); err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Stats

func (s *Server) getStats(w http.ResponseWriter, r *http.Request) {
	active, err := s.alerts.List(r.Context(), storage.AlertFilter{Status: models.AlertStatusActive})
	if err != nil {
		respondStoreError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"activeAlerts": len(active),
		"devices":      len(s.registry.List()),
		"websocket":    s.hub.Stats(),
		"cacheEnabled": s.cache.IsEnabled(),
	})
}

// Helper functions

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]interface{}{
		"error":   http.StatusText(status),
		"message": message,
	})
}

// respondStoreError maps domain errors onto HTTP status codes
func respondStoreError(w http.ResponseWriter, err error) {
	var missing *validator.MissingFieldError

	switch {
	case errors.As(err, &missing):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, storage.ErrNotFound):
		respondError(w, http.StatusNotFound, "Not found")
	case errors.Is(err, alerts.ErrAlreadyResolved),
		errors.Is(err, alerts.ErrInvalidTransition):
		respondError(w, http.StatusConflict, err.Error())
	default:
		respondError(w, http.StatusInternalServerError, err.Error())
	}
}
