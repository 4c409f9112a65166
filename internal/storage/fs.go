package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// FSStore keeps chunks and artifacts on the local filesystem:
//
//	<root>/sessions/<upload_id>/chunk_00000000.part
//	<root>/artifacts/<upload_id>__<filename>
//
// Chunk writes and artifact assembly both go through a temp file plus
// rename, so readers never observe partial data.
type FSStore struct {
	root string
}

// NewFSStore creates a filesystem-backed chunk store rooted at dir.
func NewFSStore(dir string) (*FSStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("storage root is required")
	}
	for _, sub := range []string{"sessions", "artifacts"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0755); err != nil {
			return nil, fmt.Errorf("failed to create storage directory: %w", err)
		}
	}
	return &FSStore{root: dir}, nil
}

func (s *FSStore) sessionDir(uploadID string) string {
	return filepath.Join(s.root, "sessions", uploadID)
}

// PutChunk writes one chunk atomically. Re-writing an existing index
// replaces it.
func (s *FSStore) PutChunk(ctx context.Context, uploadID string, index int, data []byte) error {
	dir := s.sessionDir(uploadID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create session directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".chunk-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp chunk: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write chunk: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close chunk: %w", err)
	}

	if err := os.Rename(tmpPath, filepath.Join(dir, chunkObjectName(index))); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to finalize chunk: %w", err)
	}
	return nil
}

// ListAccepted scans the session directory for finished chunk files.
func (s *FSStore) ListAccepted(ctx context.Context, uploadID string) ([]int, error) {
	entries, err := os.ReadDir(s.sessionDir(uploadID))
	if err != nil {
		if os.IsNotExist(err) {
			return []int{}, nil
		}
		return nil, fmt.Errorf("failed to list session chunks: %w", err)
	}

	indices := make([]int, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		index, err := parseChunkObjectName(entry.Name())
		if err != nil {
			continue
		}
		indices = append(indices, index)
	}
	sort.Ints(indices)
	return indices, nil
}

// Assemble concatenates chunks [0, totalChunks) into the artifact file.
// The artifact is staged under a temp name and renamed into place only
// after every chunk has been copied.
func (s *FSStore) Assemble(ctx context.Context, uploadID, filename string, totalChunks int) (string, error) {
	artifactDir := filepath.Join(s.root, "artifacts")
	finalPath := filepath.Join(artifactDir, artifactName(uploadID, filename))

	tmp, err := os.CreateTemp(artifactDir, ".assembling-*.tmp")
	if err != nil {
		return "", fmt.Errorf("failed to stage artifact: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		tmp.Close()
		os.Remove(tmpPath)
	}()

	dir := s.sessionDir(uploadID)
	for index := 0; index < totalChunks; index++ {
		chunk, err := os.Open(filepath.Join(dir, chunkObjectName(index)))
		if err != nil {
			if os.IsNotExist(err) {
				return "", fmt.Errorf("%w: index %d", ErrChunkMissing, index)
			}
			return "", fmt.Errorf("failed to open chunk %d: %w", index, err)
		}
		_, err = io.Copy(tmp, chunk)
		chunk.Close()
		if err != nil {
			return "", fmt.Errorf("failed to copy chunk %d: %w", index, err)
		}
	}

	if err := tmp.Sync(); err != nil {
		return "", fmt.Errorf("failed to sync artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to close artifact: %w", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return "", fmt.Errorf("failed to finalize artifact: %w", err)
	}
	return finalPath, nil
}

// RemoveSession deletes the session's chunk directory.
func (s *FSStore) RemoveSession(ctx context.Context, uploadID string) error {
	if err := os.RemoveAll(s.sessionDir(uploadID)); err != nil {
		return fmt.Errorf("failed to remove session chunks: %w", err)
	}
	return nil
}
