package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// Drone is one registered device.
type Drone struct {
	ID        string         `json:"drone_id"`
	Owner     string         `json:"owner"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// RegisterDrone inserts a new drone. Returns ErrDroneExists when the ID is
// already taken.
func (db *DB) RegisterDrone(ctx context.Context, id, owner string, metadata map[string]any) (*Drone, error) {
	metaJSON := "{}"
	if metadata != nil {
		raw, err := json.Marshal(metadata)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal drone metadata: %w", err)
		}
		metaJSON = string(raw)
	}

	drone := &Drone{
		ID:        id,
		Owner:     owner,
		Metadata:  metadata,
		CreatedAt: time.Now().UTC(),
	}

	query := `INSERT INTO drones (id, owner, metadata, created_at) VALUES ($1, $2, $3, $4)`
	_, err := db.conn.ExecContext(ctx, query, drone.ID, drone.Owner, metaJSON, drone.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDroneExists
		}
		return nil, fmt.Errorf("failed to register drone: %w", err)
	}
	return drone, nil
}

// GetDrone retrieves one drone by ID.
func (db *DB) GetDrone(ctx context.Context, id string) (*Drone, error) {
	query := `SELECT id, owner, metadata, created_at FROM drones WHERE id = $1`

	var drone Drone
	var metaJSON sql.NullString
	err := db.conn.QueryRowContext(ctx, query, id).Scan(&drone.ID, &drone.Owner, &metaJSON, &drone.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrDroneNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get drone: %w", err)
	}

	if metaJSON.Valid && metaJSON.String != "" {
		_ = json.Unmarshal([]byte(metaJSON.String), &drone.Metadata)
	}
	return &drone, nil
}

// ListDrones returns all registered drones, newest first.
func (db *DB) ListDrones(ctx context.Context) ([]Drone, error) {
	query := `SELECT id, owner, metadata, created_at FROM drones ORDER BY created_at DESC`

	rows, err := db.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list drones: %w", err)
	}
	defer rows.Close()

	drones := []Drone{}
	for rows.Next() {
		var drone Drone
		var metaJSON sql.NullString
		if err := rows.Scan(&drone.ID, &drone.Owner, &metaJSON, &drone.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan drone row: %w", err)
		}
		if metaJSON.Valid && metaJSON.String != "" {
			_ = json.Unmarshal([]byte(metaJSON.String), &drone.Metadata)
		}
		drones = append(drones, drone)
	}
	return drones, rows.Err()
}

// DeleteDrone removes a drone registration.
func (db *DB) DeleteDrone(ctx context.Context, id string) error {
	result, err := db.conn.ExecContext(ctx, `DELETE FROM drones WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete drone: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check delete result: %w", err)
	}
	if rows == 0 {
		return ErrDroneNotFound
	}
	return nil
}

// isUniqueViolation detects primary-key conflicts for both backends.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
