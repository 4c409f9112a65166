package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ErrChunkMissing is returned by Assemble when a requested index has no
// stored chunk. Assembly never produces a partial artifact.
var ErrChunkMissing = errors.New("chunk missing from storage")

// ChunkStore persists raw chunks for upload sessions and assembles them
// into final artifacts. Implementations must make PutChunk idempotent:
// re-writing an index replaces the previous bytes.
type ChunkStore interface {
	// PutChunk durably stores the bytes for one chunk index.
	PutChunk(ctx context.Context, uploadID string, index int, data []byte) error

	// ListAccepted returns the chunk indices currently stored for a
	// session, sorted ascending. An unknown session yields an empty list.
	ListAccepted(ctx context.Context, uploadID string) ([]int, error)

	// Assemble concatenates the chunks for indices [0, totalChunks) in
	// order into the final artifact and returns its location. The artifact
	// only becomes visible once fully written.
	Assemble(ctx context.Context, uploadID, filename string, totalChunks int) (string, error)

	// RemoveSession deletes all chunk data for a session. Unknown sessions
	// are a no-op.
	RemoveSession(ctx context.Context, uploadID string) error
}

// artifactName builds the collision-proof artifact name for a session.
// The session ID prefix keeps two uploads of "photo.jpg" apart.
func artifactName(uploadID, filename string) string {
	return uploadID + "__" + sanitizeFilename(filename)
}

// sanitizeFilename strips any path components from a client-supplied
// filename so it cannot escape the artifact area.
func sanitizeFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "." || name == ".." || name == "/" || name == "" {
		return "upload"
	}
	return name
}

// chunkObjectName formats the storage name for a chunk index. Zero-padding
// keeps lexical and numeric ordering identical.
func chunkObjectName(index int) string {
	return fmt.Sprintf("chunk_%08d.part", index)
}

// parseChunkObjectName extracts the index from a chunk object name.
func parseChunkObjectName(name string) (int, error) {
	var index int
	if _, err := fmt.Sscanf(name, "chunk_%08d.part", &index); err != nil {
		return 0, fmt.Errorf("invalid chunk name format: %s", name)
	}
	return index, nil
}
