package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/Shivam-nitt/CropionApp/internal/anomaly"
	"github.com/Shivam-nitt/CropionApp/internal/db"
)

// MQTTConfig holds broker connection settings.
type MQTTConfig struct {
	BrokerURL      string
	ClientID       string
	TelemetryTopic string
	FrameTopic     string
}

// telemetryMessage is the wire shape published by devices.
type telemetryMessage struct {
	DeviceID    string   `json:"device_id"`
	Timestamp   *float64 `json:"timestamp"` // unix seconds at publish
	Battery     float64  `json:"battery"`
	Lat         float64  `json:"lat"`
	Lon         float64  `json:"lon"`
	Temperature float64  `json:"temperature"`
	Altitude    float64  `json:"altitude"`
	Speed       float64  `json:"speed"`
}

// frameMessage marks one published video frame.
type frameMessage struct {
	DeviceID  string  `json:"device_id"`
	FrameID   int64   `json:"frame_id"`
	Timestamp float64 `json:"timestamp"`
}

// Ingestor consumes device telemetry from an MQTT broker and fans it out
// to the database, the latest-state holder, and the anomaly detector.
type Ingestor struct {
	cfg      MQTTConfig
	db       *db.DB
	latest   *Latest
	detector *anomaly.Detector
	log      *slog.Logger
	client   mqtt.Client
}

// NewIngestor wires an ingestor. latest and detector may be nil.
func NewIngestor(cfg MQTTConfig, database *db.DB, latest *Latest, detector *anomaly.Detector, log *slog.Logger) *Ingestor {
	if log == nil {
		log = slog.Default()
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "cropion-ingest-" + uuid.New().String()[:8]
	}
	return &Ingestor{
		cfg:      cfg,
		db:       database,
		latest:   latest,
		detector: detector,
		log:      log,
	}
}

// Start connects to the broker and subscribes. Blocks until the initial
// connection settles; reconnects are handled by the client afterwards.
func (i *Ingestor) Start(ctx context.Context) error {
	opts := mqtt.NewClientOptions().
		AddBroker(i.cfg.BrokerURL).
		SetClientID(i.cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetryInterval(5 * time.Second)

	opts.SetOnConnectHandler(func(client mqtt.Client) {
		i.log.Info("connected to mqtt broker", "broker", i.cfg.BrokerURL)
		if i.cfg.TelemetryTopic != "" {
			client.Subscribe(i.cfg.TelemetryTopic, 1, i.handleTelemetry)
		}
		if i.cfg.FrameTopic != "" {
			client.Subscribe(i.cfg.FrameTopic, 0, i.handleFrame)
		}
	})
	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		i.log.Warn("mqtt connection lost", "error", err)
	})

	i.client = mqtt.NewClient(opts)
	token := i.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return fmt.Errorf("timed out connecting to mqtt broker %s", i.cfg.BrokerURL)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to connect to mqtt broker: %w", err)
	}

	go func() {
		<-ctx.Done()
		i.client.Disconnect(250)
	}()
	return nil
}

func (i *Ingestor) handleTelemetry(_ mqtt.Client, msg mqtt.Message) {
	receiveTS := time.Now().UTC()

	var payload telemetryMessage
	if err := json.Unmarshal(msg.Payload(), &payload); err != nil {
		i.log.Warn("dropping malformed telemetry message", "error", err)
		return
	}
	if payload.DeviceID == "" {
		payload.DeviceID = "unknown"
	}

	reading := db.Reading{
		DeviceID:    payload.DeviceID,
		Timestamp:   receiveTS,
		Battery:     payload.Battery,
		Lat:         payload.Lat,
		Lon:         payload.Lon,
		Temperature: payload.Temperature,
		Altitude:    payload.Altitude,
		Speed:       payload.Speed,
	}
	if payload.Timestamp != nil {
		publishTS := unixFloat(*payload.Timestamp)
		reading.Timestamp = publishTS
		if err := i.db.InsertLatency(context.Background(), payload.DeviceID, publishTS, receiveTS); err != nil {
			i.log.Error("failed to record latency", "error", err)
		}
	}

	if err := i.db.InsertTelemetry(context.Background(), &reading); err != nil {
		i.log.Error("failed to store telemetry", "error", err)
		return
	}
	if i.latest != nil {
		i.latest.Set(reading)
	}
	if i.detector != nil {
		i.detector.Process(reading)
	}
}

func (i *Ingestor) handleFrame(_ mqtt.Client, msg mqtt.Message) {
	receiveTS := time.Now().UTC()

	var payload frameMessage
	if err := json.Unmarshal(msg.Payload(), &payload); err != nil {
		i.log.Warn("dropping malformed frame message", "error", err)
		return
	}

	err := i.db.InsertFrame(context.Background(), payload.DeviceID, payload.FrameID,
		unixFloat(payload.Timestamp), receiveTS)
	if err != nil {
		i.log.Error("failed to record frame", "error", err)
	}
}

// unixFloat converts fractional unix seconds to a UTC time.
func unixFloat(ts float64) time.Time {
	sec := int64(ts)
	nsec := int64((ts - float64(sec)) * float64(time.Second))
	return time.Unix(sec, nsec).UTC()
}
