package upload

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/Shivam-nitt/CropionApp/internal/db"
	"github.com/Shivam-nitt/CropionApp/internal/storage"
)

// DefaultChunkSize is the chunk size handed to clients at initiation.
const DefaultChunkSize = 10 * 1024 * 1024 // 10MB

// Sentinel errors for session operations
var (
	// ErrIncomplete means completion was requested while chunk indices
	// are still missing. The session stays open.
	ErrIncomplete = errors.New("upload incomplete")

	// ErrSessionCompleted means a chunk arrived for an already-assembled
	// session.
	ErrSessionCompleted = errors.New("session already completed")

	// ErrInvalidIndex means the chunk index is negative.
	ErrInvalidIndex = errors.New("invalid chunk index")

	// ErrChunkTooLarge means the chunk body exceeds the session chunk size.
	ErrChunkTooLarge = errors.New("chunk exceeds session chunk size")

	// ErrInvalidTotal means the declared total chunk count is not positive.
	ErrInvalidTotal = errors.New("total chunk count must be at least 1")
)

// Manager owns upload session state: metadata in the database, chunk bytes
// in a ChunkStore. All handler-facing session operations go through here.
type Manager struct {
	db        *db.DB
	store     storage.ChunkStore
	chunkSize int64

	mu         sync.Mutex
	finalizing map[string]*sync.Mutex
}

// NewManager creates a session manager. chunkSize <= 0 selects the default.
func NewManager(database *db.DB, store storage.ChunkStore, chunkSize int64) *Manager {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Manager{
		db:         database,
		store:      store,
		chunkSize:  chunkSize,
		finalizing: make(map[string]*sync.Mutex),
	}
}

// SessionChunkSize returns the chunk size a session was opened with. It can
// differ from ChunkSize when the configured size changed after initiation.
func (m *Manager) SessionChunkSize(ctx context.Context, id string) (int64, error) {
	session, err := m.db.GetUploadSession(ctx, id)
	if err != nil {
		return 0, err
	}
	return session.ChunkSize, nil
}

// Initiate creates a fresh session and returns its ID and chunk size.
func (m *Manager) Initiate(ctx context.Context, filename string) (string, int64, error) {
	id := uuid.New().String()
	if err := m.db.CreateUploadSession(ctx, id, filename, m.chunkSize); err != nil {
		return "", 0, err
	}
	return id, m.chunkSize, nil
}

// Status returns the session status and the sorted accepted chunk indices.
// Completed sessions report an empty index list: their chunk backing is
// already gone.
func (m *Manager) Status(ctx context.Context, id string) (string, []int, error) {
	session, err := m.db.GetUploadSession(ctx, id)
	if err != nil {
		return "", nil, err
	}
	if session.Status == db.SessionCompleted {
		return session.Status, []int{}, nil
	}

	indices, err := m.store.ListAccepted(ctx, id)
	if err != nil {
		return "", nil, err
	}
	return session.Status, indices, nil
}

// PutChunk validates and durably stores one chunk. Re-sending an index the
// store already holds simply overwrites it with identical bytes.
func (m *Manager) PutChunk(ctx context.Context, id string, index int, data []byte) error {
	session, err := m.db.GetUploadSession(ctx, id)
	if err != nil {
		return err
	}
	if session.Status == db.SessionCompleted {
		return ErrSessionCompleted
	}
	if index < 0 {
		return ErrInvalidIndex
	}
	if int64(len(data)) > session.ChunkSize {
		return fmt.Errorf("%w: got %d bytes, chunk size is %d", ErrChunkTooLarge, len(data), session.ChunkSize)
	}

	return m.store.PutChunk(ctx, id, index, data)
}

// Complete assembles the artifact once every index in [0, totalChunks) has
// been accepted, then drops the chunk backing. Safe to call repeatedly:
// a completed session returns its recorded artifact path. Concurrent calls
// for the same session serialize on a per-session mutex so assembly runs
// once.
func (m *Manager) Complete(ctx context.Context, id string, totalChunks int) (string, error) {
	lock := m.finalizeLock(id)
	lock.Lock()
	defer lock.Unlock()

	session, err := m.db.GetUploadSession(ctx, id)
	if err != nil {
		return "", err
	}
	if session.Status == db.SessionCompleted {
		return session.ArtifactPath, nil
	}
	if totalChunks < 1 {
		return "", ErrInvalidTotal
	}

	indices, err := m.store.ListAccepted(ctx, id)
	if err != nil {
		return "", err
	}
	if err := checkComplete(indices, totalChunks); err != nil {
		return "", err
	}

	artifactPath, err := m.store.Assemble(ctx, id, session.Filename, totalChunks)
	if err != nil {
		if errors.Is(err, storage.ErrChunkMissing) {
			return "", fmt.Errorf("%w: %v", ErrIncomplete, err)
		}
		return "", err
	}

	if err := m.db.MarkUploadCompleted(ctx, id, artifactPath); err != nil {
		return "", err
	}

	// Chunk cleanup is best-effort: the artifact already exists and the
	// session is marked completed, so leftovers only waste space.
	_ = m.store.RemoveSession(ctx, id)

	return artifactPath, nil
}

// checkComplete verifies the accepted indices cover exactly [0, total).
func checkComplete(indices []int, total int) error {
	seen := make(map[int]bool, len(indices))
	for _, index := range indices {
		if index >= total {
			return fmt.Errorf("%w: chunk %d outside declared range of %d", ErrIncomplete, index, total)
		}
		seen[index] = true
	}
	for index := 0; index < total; index++ {
		if !seen[index] {
			return fmt.Errorf("%w: missing chunk %d of %d", ErrIncomplete, index, total)
		}
	}
	return nil
}

// finalizeLock returns the mutex serializing Complete calls for a session.
// Entries are never removed; every caller for a given id sees the same mutex
// for the life of the process.
func (m *Manager) finalizeLock(id string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.finalizing[id]
	if !ok {
		lock = &sync.Mutex{}
		m.finalizing[id] = lock
	}
	return lock
}
