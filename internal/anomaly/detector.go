package anomaly

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Shivam-nitt/CropionApp/internal/db"
)

// Alert types emitted by the detector.
const (
	TypeBatteryLow    = "battery_low"
	TypeBatteryDrop   = "battery_drop"
	TypeAltitudeSpike = "altitude_spike"
	TypeGPSLoss       = "gps_loss"
)

// Detection thresholds.
const (
	batteryLowPct      = 20.0
	batteryDropPct     = 15.0
	batteryDropWindow  = 10 * time.Second
	altitudeSpikeRate  = 10.0 // meters per second
	silenceThreshold   = 3 * time.Second
	maxRetainedAlerts  = 1000
)

// Alert is one detected anomaly.
type Alert struct {
	Timestamp time.Time      `json:"timestamp"`
	DeviceID  string         `json:"device_id"`
	Type      string         `json:"type"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
}

type deviceState struct {
	lastReading  db.Reading
	lastSeen     time.Time
	silenceFired bool
}

// Detector evaluates telemetry readings against anomaly rules and keeps a
// bounded in-memory alert history.
type Detector struct {
	log *slog.Logger
	now func() time.Time

	mu      sync.Mutex
	devices map[string]*deviceState
	alerts  []Alert
}

// NewDetector creates a detector. now is swappable for tests; nil means
// time.Now.
func NewDetector(log *slog.Logger, now func() time.Time) *Detector {
	if log == nil {
		log = slog.Default()
	}
	if now == nil {
		now = time.Now
	}
	return &Detector{
		log:     log,
		now:     now,
		devices: make(map[string]*deviceState),
	}
}

// Process evaluates one reading and returns any alerts it triggered.
func (d *Detector) Process(r db.Reading) []Alert {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	var fired []Alert

	if r.Battery < batteryLowPct {
		fired = append(fired, d.raise(r.DeviceID, TypeBatteryLow,
			"battery below safe threshold",
			map[string]any{"battery": r.Battery}))
	}

	state, seen := d.devices[r.DeviceID]
	if seen {
		elapsed := r.Timestamp.Sub(state.lastReading.Timestamp)

		if elapsed > 0 && elapsed <= batteryDropWindow {
			if drop := state.lastReading.Battery - r.Battery; drop > batteryDropPct {
				fired = append(fired, d.raise(r.DeviceID, TypeBatteryDrop,
					"battery dropping abnormally fast",
					map[string]any{"drop_pct": drop, "window_s": elapsed.Seconds()}))
			}
		}

		if elapsed > 0 {
			rate := (r.Altitude - state.lastReading.Altitude) / elapsed.Seconds()
			if rate > altitudeSpikeRate || rate < -altitudeSpikeRate {
				fired = append(fired, d.raise(r.DeviceID, TypeAltitudeSpike,
					"altitude changing faster than plausible",
					map[string]any{"rate_mps": rate}))
			}
		}
	} else {
		state = &deviceState{}
		d.devices[r.DeviceID] = state
	}

	state.lastReading = r
	state.lastSeen = now
	state.silenceFired = false
	return fired
}

// Alerts returns the newest alerts, most recent first, capped at limit.
// limit <= 0 returns everything retained.
func (d *Detector) Alerts(limit int) []Alert {
	d.mu.Lock()
	defer d.mu.Unlock()

	n := len(d.alerts)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]Alert, n)
	for i := 0; i < n; i++ {
		out[i] = d.alerts[len(d.alerts)-1-i]
	}
	return out
}

// CheckSilence raises gps_loss for devices not heard from within the
// silence threshold. Fires once per silent stretch.
func (d *Detector) CheckSilence() []Alert {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	var fired []Alert
	for deviceID, state := range d.devices {
		if state.silenceFired {
			continue
		}
		if silent := now.Sub(state.lastSeen); silent > silenceThreshold {
			state.silenceFired = true
			fired = append(fired, d.raise(deviceID, TypeGPSLoss,
				"no telemetry received recently",
				map[string]any{"silent_s": silent.Seconds()}))
		}
	}
	return fired
}

// StartSilenceMonitor runs CheckSilence every second until ctx is done.
func (d *Detector) StartSilenceMonitor(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(1 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				d.CheckSilence()
			}
		}
	}()
}

// raise records and logs one alert. Caller holds the mutex.
func (d *Detector) raise(deviceID, alertType, message string, details map[string]any) Alert {
	alert := Alert{
		Timestamp: d.now(),
		DeviceID:  deviceID,
		Type:      alertType,
		Message:   message,
		Details:   details,
	}
	d.alerts = append(d.alerts, alert)
	if len(d.alerts) > maxRetainedAlerts {
		d.alerts = d.alerts[len(d.alerts)-maxRetainedAlerts:]
	}
	d.log.Warn("anomaly detected",
		"device_id", deviceID,
		"type", alertType,
		"details", details)
	return alert
}
