package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/savegress/vitalsense/internal/alerts"
	"github.com/savegress/vitalsense/internal/cache"
	"github.com/savegress/vitalsense/internal/config"
	"github.com/savegress/vitalsense/internal/devices"
	"github.com/savegress/vitalsense/internal/monitor"
	"github.com/savegress/vitalsense/internal/realtime"
	"github.com/savegress/vitalsense/internal/storage"
	"github.com/savegress/vitalsense/pkg/models"
)

func newTestServer(t *testing.T, jwtSecret string) (*Server, *storage.MemoryAlerts) {
	t.Helper()

	cfg := config.LoadFromEnv()
	cfg.Server.JWTSecret = jwtSecret

	readings := storage.NewMemoryReadings()
	alertStore := storage.NewMemoryAlerts()
	thresholdStore := storage.NewMemoryThresholds()

	hub := realtime.NewHub()
	go hub.Run()
	t.Cleanup(hub.Stop)

	manager := alerts.NewManager(alertStore, hub, cfg.Alerts.SuppressionWindow)
	registry := devices.NewRegistry(&cfg.Devices)
	latestCache := cache.New(nil, "")

	engine := monitor.NewEngine(cfg, readings, thresholdStore, alertStore,
		manager, registry, hub, latestCache)

	return NewServer(cfg, engine, manager, readings, alertStore, registry, hub, latestCache), alertStore
}

func doRequest(t *testing.T, s *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, dest interface{}) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(dest); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
}

func ingestBody(hr float64) map[string]interface{} {
	return map[string]interface{}{
		"patientId": "pat-1",
		"deviceId":  "dev-1",
		"heartRate": hr,
	}
}

func TestHealthCheck(t *testing.T) {
	s, _ := newTestServer(t, "")

	rec := doRequest(t, s, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestIngestReading(t *testing.T) {
	s, _ := newTestServer(t, "")

	rec := doRequest(t, s, http.MethodPost, "/api/v1/readings", ingestBody(105))
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var reading models.Reading
	decode(t, rec, &reading)
	if reading.Status != models.ReadingStatusWarning {
		t.Errorf("expected warning status, got %s", reading.Status)
	}
	if reading.ID == "" {
		t.Error("expected an assigned reading ID")
	}
}

func TestIngestReading_BadRequests(t *testing.T) {
	s, _ := newTestServer(t, "")

	req := httptest.NewRequest(http.MethodPost, "/api/v1/readings", bytes.NewReader([]byte("{not json")))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("malformed JSON: expected 400, got %d", rec.Code)
	}

	rec = doRequest(t, s, http.MethodPost, "/api/v1/readings", map[string]interface{}{
		"deviceId":  "dev-1",
		"heartRate": 80,
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing patientId: expected 400, got %d", rec.Code)
	}
}

func TestListAndLatestReadings(t *testing.T) {
	s, _ := newTestServer(t, "")

	doRequest(t, s, http.MethodPost, "/api/v1/readings", ingestBody(70))
	doRequest(t, s, http.MethodPost, "/api/v1/readings", ingestBody(75))

	rec := doRequest(t, s, http.MethodGet, "/api/v1/patients/pat-1/readings?limit=10", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var readings []models.Reading
	decode(t, rec, &readings)
	if len(readings) != 2 {
		t.Fatalf("expected 2 readings, got %d", len(readings))
	}
	if *readings[0].HeartRate != 75 {
		t.Errorf("expected newest first, got %g", *readings[0].HeartRate)
	}

	rec = doRequest(t, s, http.MethodGet, "/api/v1/patients/pat-1/readings/latest", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var latest models.Reading
	decode(t, rec, &latest)
	if *latest.HeartRate != 75 {
		t.Errorf("expected latest reading, got %g", *latest.HeartRate)
	}

	rec = doRequest(t, s, http.MethodGet, "/api/v1/patients/nobody/readings/latest", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for patient without readings, got %d", rec.Code)
	}
}

func TestAlertLifecycleEndpoints(t *testing.T) {
	s, _ := newTestServer(t, "")

	// A critical reading raises an alert
	doRequest(t, s, http.MethodPost, "/api/v1/readings", ingestBody(130))

	rec := doRequest(t, s, http.MethodGet, "/api/v1/alerts/?patientId=pat-1&status=active", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var list []models.Alert
	decode(t, rec, &list)
	if len(list) != 1 {
		t.Fatalf("expected 1 active alert, got %d", len(list))
	}
	id := list[0].ID

	// Acknowledge
	rec = doRequest(t, s, http.MethodPost, "/api/v1/alerts/"+id+"/acknowledge",
		map[string]string{"userId": "nurse-1"})
	if rec.Code != http.StatusOK {
		t.Fatalf("acknowledge: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var acked models.Alert
	decode(t, rec, &acked)
	if acked.Status != models.AlertStatusAcknowledged {
		t.Errorf("expected acknowledged, got %s", acked.Status)
	}

	// Acknowledging again is a conflict
	rec = doRequest(t, s, http.MethodPost, "/api/v1/alerts/"+id+"/acknowledge",
		map[string]string{"userId": "nurse-1"})
	if rec.Code != http.StatusConflict {
		t.Errorf("double acknowledge: expected 409, got %d", rec.Code)
	}

	// Escalate
	rec = doRequest(t, s, http.MethodPost, "/api/v1/alerts/"+id+"/escalate",
		map[string]interface{}{"level": 2, "escalatedTo": "on-call", "reason": "no improvement"})
	if rec.Code != http.StatusOK {
		t.Fatalf("escalate: expected 200, got %d", rec.Code)
	}
	var escalated models.Alert
	decode(t, rec, &escalated)
	if escalated.Severity != models.SeverityEmergency {
		t.Errorf("expected emergency severity, got %s", escalated.Severity)
	}

	// Resolve
	rec = doRequest(t, s, http.MethodPost, "/api/v1/alerts/"+id+"/resolve",
		map[string]string{"userId": "dr-1", "notes": "patient stabilized"})
	if rec.Code != http.StatusOK {
		t.Fatalf("resolve: expected 200, got %d", rec.Code)
	}

	// Resolved is terminal
	rec = doRequest(t, s, http.MethodPost, "/api/v1/alerts/"+id+"/resolve",
		map[string]string{"userId": "dr-1"})
	if rec.Code != http.StatusConflict {
		t.Errorf("double resolve: expected 409, got %d", rec.Code)
	}
}

func TestGetAlert_NotFound(t *testing.T) {
	s, _ := newTestServer(t, "")

	rec := doRequest(t, s, http.MethodGet, "/api/v1/alerts/missing", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestThresholdEndpoints(t *testing.T) {
	s, _ := newTestServer(t, "")

	rec := doRequest(t, s, http.MethodGet, "/api/v1/patients/pat-1/thresholds", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp struct {
		Custom     bool                   `json:"custom"`
		Thresholds models.ThresholdConfig `json:"thresholds"`
	}
	decode(t, rec, &resp)
	if resp.Custom {
		t.Error("expected defaults for an unconfigured patient")
	}
	if resp.Thresholds.HeartRate.WarnMax != 100 {
		t.Errorf("expected default heart rate band, got %+v", resp.Thresholds.HeartRate)
	}

	custom := resp.Thresholds
	custom.HeartRate.WarnMax = 115
	rec = doRequest(t, s, http.MethodPut, "/api/v1/patients/pat-1/thresholds", custom)
	if rec.Code != http.StatusOK {
		t.Fatalf("put thresholds: expected 200, got %d", rec.Code)
	}

	rec = doRequest(t, s, http.MethodGet, "/api/v1/patients/pat-1/thresholds", nil)
	decode(t, rec, &resp)
	if !resp.Custom {
		t.Error("expected custom config after PUT")
	}
	if resp.Thresholds.HeartRate.WarnMax != 115 {
		t.Errorf("expected stored band, got %+v", resp.Thresholds.HeartRate)
	}
}

func TestDeviceEndpoints(t *testing.T) {
	s, _ := newTestServer(t, "")

	rec := doRequest(t, s, http.MethodPost, "/api/v1/devices/", map[string]string{
		"name":      "bedside monitor",
		"patientId": "pat-1",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("register: expected 201, got %d", rec.Code)
	}
	var device models.Device
	decode(t, rec, &device)
	if device.ID == "" {
		t.Fatal("expected an assigned device ID")
	}

	rec = doRequest(t, s, http.MethodPost, "/api/v1/devices/"+device.ID+"/heartbeat", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("heartbeat: expected 200, got %d", rec.Code)
	}

	rec = doRequest(t, s, http.MethodPost, "/api/v1/devices/missing/heartbeat", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown device heartbeat: expected 404, got %d", rec.Code)
	}

	rec = doRequest(t, s, http.MethodGet, "/api/v1/devices/"+device.ID, nil)
	if rec.Code != http.StatusOK {
		t.Errorf("get device: expected 200, got %d", rec.Code)
	}
}

func TestStatsEndpoint(t *testing.T) {
	s, _ := newTestServer(t, "")

	rec := doRequest(t, s, http.MethodGet, "/api/v1/stats", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var stats map[string]interface{}
	decode(t, rec, &stats)
	if _, ok := stats["websocket"]; !ok {
		t.Error("expected websocket stats")
	}
}

func TestAuthMiddleware(t *testing.T) {
	const secret = "test-secret"
	s, _ := newTestServer(t, secret)

	// No token
	rec := doRequest(t, s, http.MethodGet, "/api/v1/alerts/", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without token, got %d", rec.Code)
	}

	// Health stays open
	rec = doRequest(t, s, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("health must not require auth, got %d", rec.Code)
	}

	// Valid token
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "nurse-1",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/alerts/", nil)
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", signed))
	recorder := httptest.NewRecorder()
	s.Handler().ServeHTTP(recorder, req)
	if recorder.Code != http.StatusOK {
		t.Errorf("expected 200 with valid token, got %d: %s", recorder.Code, recorder.Body.String())
	}

	// Garbage token
	req = httptest.NewRequest(http.MethodGet, "/api/v1/alerts/", nil)
	req.Header.Set("Authorization", "Bearer not.a.token")
	recorder = httptest.NewRecorder()
	s.Handler().ServeHTTP(recorder, req)
	if recorder.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 with invalid token, got %d", recorder.Code)
	}
}
