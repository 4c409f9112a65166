package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/Shivam-nitt/CropionApp/internal/db"
	"github.com/Shivam-nitt/CropionApp/internal/logger"
)

// telemetryRequest is the HTTP ingestion body. Timestamp is optional and
// defaults to receive time.
type telemetryRequest struct {
	DeviceID    string   `json:"device_id"`
	Timestamp   flexTime `json:"timestamp"`
	Battery     float64  `json:"battery"`
	Lat         float64  `json:"lat"`
	Lon         float64  `json:"lon"`
	Temperature float64  `json:"temperature"`
	Altitude    float64  `json:"altitude"`
	Speed       float64  `json:"speed"`
}

// flexTime decodes either an RFC3339 string or fractional unix seconds.
// Onboard publishers send epoch floats; the dashboard sends RFC3339.
type flexTime struct {
	t   time.Time
	set bool
}

func (f *flexTime) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var t time.Time
		if err := json.Unmarshal(data, &t); err != nil {
			return err
		}
		f.t, f.set = t, true
		return nil
	}
	var epoch float64
	if err := json.Unmarshal(data, &epoch); err != nil {
		return err
	}
	sec := int64(epoch)
	nsec := int64((epoch - float64(sec)) * float64(time.Second))
	f.t, f.set = time.Unix(sec, nsec).UTC(), true
	return nil
}

// handlePostTelemetry ingests one reading over HTTP.
// POST /telemetry
func (s *Server) handlePostTelemetry(w http.ResponseWriter, r *http.Request) {
	log := logger.Ctx(r.Context())

	var req telemetryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.DeviceID == "" {
		req.DeviceID = "unknown"
	}

	ts := time.Now().UTC()
	if req.Timestamp.set {
		ts = req.Timestamp.t.UTC()
	}

	reading := db.Reading{
		DeviceID:    req.DeviceID,
		Timestamp:   ts,
		Battery:     req.Battery,
		Lat:         req.Lat,
		Lon:         req.Lon,
		Temperature: req.Temperature,
		Altitude:    req.Altitude,
		Speed:       req.Speed,
	}
	if err := s.db.InsertTelemetry(r.Context(), &reading); err != nil {
		log.Error("failed to store telemetry", "error", err)
		respondError(w, http.StatusInternalServerError, "Failed to store telemetry")
		return
	}

	if s.latest != nil {
		s.latest.Set(reading)
	}
	var alerts interface{} = []struct{}{}
	if s.detector != nil {
		if fired := s.detector.Process(reading); len(fired) > 0 {
			alerts = fired
		}
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status": "stored",
		"id":     reading.ID,
		"alerts": alerts,
	})
}

// handleLatestTelemetry returns the most recent reading, consulting the
// in-memory holder first and the database on cold start.
// GET /telemetry/latest
func (s *Server) handleLatestTelemetry(w http.ResponseWriter, r *http.Request) {
	if s.latest != nil {
		if reading := s.latest.Get(); reading != nil {
			respondJSON(w, http.StatusOK, reading)
			return
		}
	}

	reading, err := s.db.LatestTelemetry(r.Context())
	if err != nil {
		logger.Ctx(r.Context()).Error("failed to query latest telemetry", "error", err)
		respondError(w, http.StatusInternalServerError, "Failed to query telemetry")
		return
	}
	if reading == nil {
		respondError(w, http.StatusNotFound, "No telemetry received yet")
		return
	}
	respondJSON(w, http.StatusOK, reading)
}

// handleTelemetryHistory returns readings from the trailing window.
// GET /telemetry/history?last=<seconds>
func (s *Server) handleTelemetryHistory(w http.ResponseWriter, r *http.Request) {
	lastSeconds := 300
	if raw := r.URL.Query().Get("last"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			respondError(w, http.StatusBadRequest, "last must be a positive integer of seconds")
			return
		}
		lastSeconds = parsed
	}

	since := time.Now().UTC().Add(-time.Duration(lastSeconds) * time.Second)
	readings, err := s.db.TelemetryHistory(r.Context(), since)
	if err != nil {
		logger.Ctx(r.Context()).Error("failed to query telemetry history", "error", err)
		respondError(w, http.StatusInternalServerError, "Failed to query telemetry")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"since":    since,
		"count":    len(readings),
		"readings": readings,
	})
}

// handleAlerts returns recent anomaly alerts, newest first.
// GET /alerts?limit=<n>
func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	alerts := []interface{}{}
	if s.detector != nil {
		for _, alert := range s.detector.Alerts(limit) {
			alerts = append(alerts, alert)
		}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"count":  len(alerts),
		"alerts": alerts,
	})
}
