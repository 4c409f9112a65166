package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Upload session status values
const (
	SessionOpen      = "open"
	SessionCompleted = "completed"
)

// UploadSession is the server-side record of one chunked upload.
type UploadSession struct {
	ID           string
	Filename     string
	ChunkSize    int64
	Status       string
	ArtifactPath string
	CreatedAt    time.Time
	CompletedAt  *time.Time
}

// CreateUploadSession inserts a new open session.
func (db *DB) CreateUploadSession(ctx context.Context, id, filename string, chunkSize int64) error {
	query := `INSERT INTO upload_sessions (id, filename, chunk_size, status, created_at)
	          VALUES ($1, $2, $3, $4, $5)`

	_, err := db.conn.ExecContext(ctx, query, id, filename, chunkSize, SessionOpen, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to create upload session: %w", err)
	}
	return nil
}

// GetUploadSession retrieves a session by ID.
func (db *DB) GetUploadSession(ctx context.Context, id string) (*UploadSession, error) {
	query := `SELECT id, filename, chunk_size, status, artifact_path, created_at, completed_at
	          FROM upload_sessions WHERE id = $1`

	var session UploadSession
	var artifactPath sql.NullString
	var completedAt sql.NullTime
	err := db.conn.QueryRowContext(ctx, query, id).Scan(
		&session.ID,
		&session.Filename,
		&session.ChunkSize,
		&session.Status,
		&artifactPath,
		&session.CreatedAt,
		&completedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get upload session: %w", err)
	}

	if artifactPath.Valid {
		session.ArtifactPath = artifactPath.String
	}
	if completedAt.Valid {
		t := completedAt.Time
		session.CompletedAt = &t
	}
	return &session, nil
}

// MarkUploadCompleted transitions a session to completed and records where
// the assembled artifact lives. The row is kept so repeated completion
// requests stay idempotent.
func (db *DB) MarkUploadCompleted(ctx context.Context, id, artifactPath string) error {
	query := `UPDATE upload_sessions
	          SET status = $1, artifact_path = $2, completed_at = $3
	          WHERE id = $4`

	result, err := db.conn.ExecContext(ctx, query, SessionCompleted, artifactPath, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to mark upload completed: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if rows == 0 {
		return ErrSessionNotFound
	}
	return nil
}
