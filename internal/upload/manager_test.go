package upload

import (
	"bytes"
	"context"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Shivam-nitt/CropionApp/internal/db"
	"github.com/Shivam-nitt/CropionApp/internal/storage"
)

func newTestManager(t *testing.T, chunkSize int64) *Manager {
	t.Helper()
	database, err := db.Connect(":memory:")
	require.NoError(t, err)
	require.NoError(t, database.Migrate())
	t.Cleanup(func() { database.Close() })

	store, err := storage.NewFSStore(t.TempDir())
	require.NoError(t, err)

	return NewManager(database, store, chunkSize)
}

func TestInitiateAndStatus(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, 16)

	id, chunkSize, err := m.Initiate(ctx, "video.bin")
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Equal(t, int64(16), chunkSize)

	status, indices, err := m.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, db.SessionOpen, status)
	assert.Empty(t, indices)
}

func TestStatusUnknownSession(t *testing.T) {
	m := newTestManager(t, 16)
	_, _, err := m.Status(context.Background(), "missing")
	assert.ErrorIs(t, err, db.ErrSessionNotFound)
}

func TestPutChunkValidation(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, 4)

	id, _, err := m.Initiate(ctx, "f.bin")
	require.NoError(t, err)

	t.Run("unknown session", func(t *testing.T) {
		err := m.PutChunk(ctx, "missing", 0, []byte("x"))
		assert.ErrorIs(t, err, db.ErrSessionNotFound)
	})

	t.Run("negative index", func(t *testing.T) {
		err := m.PutChunk(ctx, id, -1, []byte("x"))
		assert.ErrorIs(t, err, ErrInvalidIndex)
	})

	t.Run("oversized chunk", func(t *testing.T) {
		err := m.PutChunk(ctx, id, 0, []byte("too big"))
		assert.ErrorIs(t, err, ErrChunkTooLarge)
	})

	t.Run("valid chunk", func(t *testing.T) {
		require.NoError(t, m.PutChunk(ctx, id, 0, []byte("abcd")))
	})
}

func TestOutOfOrderAndIdempotentChunks(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, 4)

	id, _, err := m.Initiate(ctx, "f.bin")
	require.NoError(t, err)

	require.NoError(t, m.PutChunk(ctx, id, 2, []byte("cc")))
	require.NoError(t, m.PutChunk(ctx, id, 0, []byte("aaaa")))
	require.NoError(t, m.PutChunk(ctx, id, 0, []byte("aaaa")))

	_, indices, err := m.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 2}, indices)
}

func TestCompleteRejectsGaps(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, 4)

	id, _, err := m.Initiate(ctx, "f.bin")
	require.NoError(t, err)

	require.NoError(t, m.PutChunk(ctx, id, 0, []byte("aaaa")))
	require.NoError(t, m.PutChunk(ctx, id, 2, []byte("cc")))

	_, err = m.Complete(ctx, id, 3)
	assert.ErrorIs(t, err, ErrIncomplete)

	// Session must remain open and resumable.
	status, indices, err := m.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, db.SessionOpen, status)
	assert.Equal(t, []int{0, 2}, indices)
}

func TestCompleteRejectsStrayIndices(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, 4)

	id, _, err := m.Initiate(ctx, "f.bin")
	require.NoError(t, err)

	require.NoError(t, m.PutChunk(ctx, id, 0, []byte("aaaa")))
	require.NoError(t, m.PutChunk(ctx, id, 5, []byte("zz")))

	_, err = m.Complete(ctx, id, 1)
	assert.ErrorIs(t, err, ErrIncomplete)
}

func TestCompleteRejectsBadTotal(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, 4)

	id, _, err := m.Initiate(ctx, "f.bin")
	require.NoError(t, err)

	_, err = m.Complete(ctx, id, 0)
	assert.ErrorIs(t, err, ErrInvalidTotal)
}

func TestCompleteAssemblesAndCleansUp(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, 4)

	id, _, err := m.Initiate(ctx, "f.bin")
	require.NoError(t, err)

	require.NoError(t, m.PutChunk(ctx, id, 0, []byte("aaaa")))
	require.NoError(t, m.PutChunk(ctx, id, 1, []byte("bb")))

	path, err := m.Complete(ctx, id, 2)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, bytes.Equal([]byte("aaaabb"), data))

	status, indices, err := m.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, db.SessionCompleted, status)
	assert.Empty(t, indices)

	t.Run("repeat completion is idempotent", func(t *testing.T) {
		again, err := m.Complete(ctx, id, 2)
		require.NoError(t, err)
		assert.Equal(t, path, again)
	})

	t.Run("chunks rejected after completion", func(t *testing.T) {
		err := m.PutChunk(ctx, id, 0, []byte("aaaa"))
		assert.ErrorIs(t, err, ErrSessionCompleted)
	})
}

func TestConcurrentCompletionRunsOnce(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, 4)

	id, _, err := m.Initiate(ctx, "f.bin")
	require.NoError(t, err)
	require.NoError(t, m.PutChunk(ctx, id, 0, []byte("data")))

	var wg sync.WaitGroup
	paths := make([]string, 4)
	errs := make([]error, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			paths[i], errs[i] = m.Complete(ctx, id, 1)
		}(i)
	}
	wg.Wait()

	for i := 0; i < 4; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, paths[0], paths[i])
	}
}

func TestFinalizeLockIsStable(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, 4)

	id, _, err := m.Initiate(ctx, "f.bin")
	require.NoError(t, err)
	require.NoError(t, m.PutChunk(ctx, id, 0, []byte("data")))

	lock := m.finalizeLock(id)

	_, err = m.Complete(ctx, id, 1)
	require.NoError(t, err)

	// Every caller keeps serializing on the same mutex, completion included.
	assert.Same(t, lock, m.finalizeLock(id))

	_, err = m.Complete(ctx, id, 1)
	require.NoError(t, err)
	assert.Same(t, lock, m.finalizeLock(id))
}
