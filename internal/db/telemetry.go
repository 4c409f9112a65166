package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Reading is one telemetry sample from a device.
type Reading struct {
	ID          string    `json:"id"`
	DeviceID    string    `json:"device_id"`
	Timestamp   time.Time `json:"timestamp"`
	Battery     float64   `json:"battery"`
	Lat         float64   `json:"lat"`
	Lon         float64   `json:"lon"`
	Temperature float64   `json:"temperature"`
	Altitude    float64   `json:"altitude"`
	Speed       float64   `json:"speed"`
}

// InsertTelemetry stores one reading. A missing ID is filled in.
func (db *DB) InsertTelemetry(ctx context.Context, r *Reading) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	query := `INSERT INTO telemetry (id, device_id, ts, battery, lat, lon, temperature, altitude, speed)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := db.conn.ExecContext(ctx, query,
		r.ID, r.DeviceID, r.Timestamp.UTC(), r.Battery, r.Lat, r.Lon, r.Temperature, r.Altitude, r.Speed)
	if err != nil {
		return fmt.Errorf("failed to insert telemetry: %w", err)
	}
	return nil
}

// InsertTelemetryBatch stores readings in one transaction. Used by the
// radio listener's batched writer.
func (db *DB) InsertTelemetryBatch(ctx context.Context, readings []Reading) error {
	if len(readings) == 0 {
		return nil
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `INSERT INTO telemetry (id, device_id, ts, battery, lat, lon, temperature, altitude, speed)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	for i := range readings {
		r := &readings[i]
		if r.ID == "" {
			r.ID = uuid.New().String()
		}
		if _, err := tx.ExecContext(ctx, query,
			r.ID, r.DeviceID, r.Timestamp.UTC(), r.Battery, r.Lat, r.Lon, r.Temperature, r.Altitude, r.Speed); err != nil {
			return fmt.Errorf("failed to insert telemetry batch: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit telemetry batch: %w", err)
	}
	return nil
}

// LatestTelemetry returns the most recent reading, or nil when the table
// is empty.
func (db *DB) LatestTelemetry(ctx context.Context) (*Reading, error) {
	query := `SELECT id, device_id, ts, battery, lat, lon, temperature, altitude, speed
	          FROM telemetry ORDER BY ts DESC LIMIT 1`

	var r Reading
	err := db.conn.QueryRowContext(ctx, query).Scan(
		&r.ID, &r.DeviceID, &r.Timestamp, &r.Battery, &r.Lat, &r.Lon, &r.Temperature, &r.Altitude, &r.Speed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query latest telemetry: %w", err)
	}
	return &r, nil
}

// TelemetryHistory returns readings at or after since, oldest first.
func (db *DB) TelemetryHistory(ctx context.Context, since time.Time) ([]Reading, error) {
	query := `SELECT id, device_id, ts, battery, lat, lon, temperature, altitude, speed
	          FROM telemetry WHERE ts >= $1 ORDER BY ts ASC`

	rows, err := db.conn.QueryContext(ctx, query, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query telemetry history: %w", err)
	}
	defer rows.Close()

	readings := []Reading{}
	for rows.Next() {
		var r Reading
		if err := rows.Scan(&r.ID, &r.DeviceID, &r.Timestamp, &r.Battery, &r.Lat, &r.Lon, &r.Temperature, &r.Altitude, &r.Speed); err != nil {
			return nil, fmt.Errorf("failed to scan telemetry row: %w", err)
		}
		readings = append(readings, r)
	}
	return readings, rows.Err()
}

// InsertLatency records observed publish-to-receive latency for a reading.
func (db *DB) InsertLatency(ctx context.Context, deviceID string, publishTS, receiveTS time.Time) error {
	query := `INSERT INTO telemetry_latency (id, device_id, publish_ts, receive_ts, latency_ms)
	          VALUES ($1, $2, $3, $4, $5)`

	latencyMS := float64(receiveTS.Sub(publishTS)) / float64(time.Millisecond)
	_, err := db.conn.ExecContext(ctx, query,
		uuid.New().String(), deviceID, publishTS.UTC(), receiveTS.UTC(), latencyMS)
	if err != nil {
		return fmt.Errorf("failed to insert latency: %w", err)
	}
	return nil
}

// InsertFrame records receipt of one video frame marker.
func (db *DB) InsertFrame(ctx context.Context, deviceID string, frameID int64, publishTS, receiveTS time.Time) error {
	query := `INSERT INTO frames_received (id, device_id, frame_id, publish_ts, receive_ts, latency_ms)
	          VALUES ($1, $2, $3, $4, $5, $6)`

	latencyMS := float64(receiveTS.Sub(publishTS)) / float64(time.Millisecond)
	_, err := db.conn.ExecContext(ctx, query,
		uuid.New().String(), deviceID, frameID, publishTS.UTC(), receiveTS.UTC(), latencyMS)
	if err != nil {
		return fmt.Errorf("failed to insert frame: %w", err)
	}
	return nil
}
