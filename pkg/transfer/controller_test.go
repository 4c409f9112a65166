package transfer

import (
	"context"
	"crypto/rand"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Shivam-nitt/CropionApp/internal/anomaly"
	serverapi "github.com/Shivam-nitt/CropionApp/internal/api"
	"github.com/Shivam-nitt/CropionApp/internal/auth"
	"github.com/Shivam-nitt/CropionApp/internal/db"
	"github.com/Shivam-nitt/CropionApp/internal/ingest"
	"github.com/Shivam-nitt/CropionApp/internal/storage"
	"github.com/Shivam-nitt/CropionApp/internal/upload"
	"github.com/Shivam-nitt/CropionApp/pkg/api"
	"github.com/Shivam-nitt/CropionApp/pkg/progress"
)

// testBackend is a full server stack over an in-memory database and a
// temp-dir chunk store.
type testBackend struct {
	ts      *httptest.Server
	db      *db.DB
	manager *upload.Manager
}

func newBackend(t *testing.T, chunkSize int64) *testBackend {
	t.Helper()
	database, err := db.Connect(":memory:")
	require.NoError(t, err)
	require.NoError(t, database.Migrate())
	t.Cleanup(func() { database.Close() })

	store, err := storage.NewFSStore(t.TempDir())
	require.NoError(t, err)

	manager := upload.NewManager(database, store, chunkSize)
	server := serverapi.NewServer(database, manager, ingest.NewLatest(), anomaly.NewDetector(nil, nil),
		auth.Config{Secret: "test", TokenTTL: time.Hour}, nil)

	ts := httptest.NewServer(server.SetupRoutes())
	t.Cleanup(ts.Close)
	return &testBackend{ts: ts, db: database, manager: manager}
}

func (b *testBackend) controller(t *testing.T, baseURL string) *Controller {
	t.Helper()
	client := api.NewClient(baseURL, 5*time.Second)
	policy := RetryPolicy{
		Backoff: []time.Duration{time.Millisecond, time.Millisecond, time.Millisecond, time.Millisecond},
		Sleep:   func(time.Duration) {},
	}
	return NewController(client, policy, nil)
}

func writeSource(t *testing.T, size int) string {
	t.Helper()
	data := make([]byte, size)
	_, err := rand.Read(data)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "source.bin")
	require.NoError(t, os.WriteFile(path, data, 0644))
	return path
}

func assertArtifactMatches(t *testing.T, artifactPath, sourcePath string) {
	t.Helper()
	artifact, err := os.ReadFile(artifactPath)
	require.NoError(t, err)
	source, err := os.ReadFile(sourcePath)
	require.NoError(t, err)
	assert.Equal(t, source, artifact)
}

func TestRunUploadsWholeFile(t *testing.T) {
	backend := newBackend(t, 1024)
	ctrl := backend.controller(t, backend.ts.URL)
	src := writeSource(t, 2500) // 3 chunks, short tail

	result, err := ctrl.Run(context.Background(), src, -1)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, result.Outcome)
	assert.Equal(t, 3, result.TotalChunks)
	assert.Equal(t, 3, result.SentChunks)
	assert.False(t, result.Resumed)
	assertArtifactMatches(t, result.ArtifactPath, src)

	// Sidecar gone after completion.
	_, statErr := os.Stat(progress.MetaPath(src))
	assert.True(t, os.IsNotExist(statErr))
}

func TestRunResumesAfterBoundedRun(t *testing.T) {
	backend := newBackend(t, 1024)
	ctrl := backend.controller(t, backend.ts.URL)
	src := writeSource(t, 3*1024+100) // 4 chunks

	first, err := ctrl.Run(context.Background(), src, 2)
	require.NoError(t, err)
	assert.Equal(t, OutcomeIncomplete, first.Outcome)
	assert.Equal(t, 2, first.SentChunks)

	second, err := ctrl.Run(context.Background(), src, -1)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, second.Outcome)
	assert.True(t, second.Resumed)
	assert.Equal(t, first.UploadID, second.UploadID)
	// Only the remaining chunks travel on the second run.
	assert.Equal(t, 2, second.SentChunks)
	assert.Equal(t, 2, second.SkippedChunks)
	assertArtifactMatches(t, second.ArtifactPath, src)
}

func TestRunZeroByteFile(t *testing.T) {
	backend := newBackend(t, 1024)
	ctrl := backend.controller(t, backend.ts.URL)
	src := filepath.Join(t.TempDir(), "empty.bin")
	require.NoError(t, os.WriteFile(src, nil, 0644))

	result, err := ctrl.Run(context.Background(), src, -1)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, result.Outcome)
	assert.Equal(t, 1, result.TotalChunks)
	assert.Equal(t, 1, result.SentChunks)

	info, err := os.Stat(result.ArtifactPath)
	require.NoError(t, err)
	assert.Zero(t, info.Size())
}

func TestRunDiscardsStaleProgress(t *testing.T) {
	backend := newBackend(t, 1024)
	ctrl := backend.controller(t, backend.ts.URL)
	src := writeSource(t, 2048)

	first, err := ctrl.Run(context.Background(), src, 1)
	require.NoError(t, err)
	require.Equal(t, OutcomeIncomplete, first.Outcome)

	// Rewrite the file: recorded checksum no longer matches.
	require.NoError(t, os.WriteFile(src, []byte("completely different contents"), 0644))

	second, err := ctrl.Run(context.Background(), src, -1)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, second.Outcome)
	assert.NotEqual(t, first.UploadID, second.UploadID)
	assert.False(t, second.Resumed)
	assert.Zero(t, second.SkippedChunks)
	assertArtifactMatches(t, second.ArtifactPath, src)
}

func TestRunStartsFreshWhenServerForgetsSession(t *testing.T) {
	backend := newBackend(t, 1024)
	ctrl := backend.controller(t, backend.ts.URL)
	src := writeSource(t, 512)

	checksum, err := progress.FileChecksum(src)
	require.NoError(t, err)
	rec := &progress.Record{
		UploadID:  "no-such-session",
		ChunkSize: 1024,
		FileSize:  512,
		Filename:  "source.bin",
		Checksum:  checksum,
	}
	require.NoError(t, rec.Save(src))

	result, err := ctrl.Run(context.Background(), src, -1)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, result.Outcome)
	assert.NotEqual(t, "no-such-session", result.UploadID)
	assertArtifactMatches(t, result.ArtifactPath, src)
}

func TestRunCorruptSidecarStartsFresh(t *testing.T) {
	backend := newBackend(t, 1024)
	ctrl := backend.controller(t, backend.ts.URL)
	src := writeSource(t, 512)
	require.NoError(t, os.WriteFile(progress.MetaPath(src), []byte("{garbage"), 0644))

	result, err := ctrl.Run(context.Background(), src, -1)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, result.Outcome)
}

func TestRunRetriesTransientChunkFailures(t *testing.T) {
	backend := newBackend(t, 1024)
	src := writeSource(t, 1500) // 2 chunks

	// Flaky proxy: the first two chunk PUTs answer 503, everything else
	// passes through to the real server.
	var failures atomic.Int32
	proxy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPut && failures.Add(1) <= 2 {
			http.Error(w, `{"error":"backend overloaded"}`, http.StatusServiceUnavailable)
			return
		}
		req, err := http.NewRequestWithContext(r.Context(), r.Method, backend.ts.URL+r.URL.Path, r.Body)
		require.NoError(t, err)
		req.Header = r.Header.Clone()
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		w.WriteHeader(resp.StatusCode)
		_, _ = io.Copy(w, resp.Body)
	}))
	defer proxy.Close()

	ctrl := backend.controller(t, proxy.URL)
	result, err := ctrl.Run(context.Background(), src, -1)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, result.Outcome)
	assert.Equal(t, 2, result.SentChunks)
	assertArtifactMatches(t, result.ArtifactPath, src)
}

func TestRunAbortsWhenRetriesExhausted(t *testing.T) {
	backend := newBackend(t, 1024)
	src := writeSource(t, 100)

	// Every chunk PUT fails; everything else passes through.
	proxy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPut {
			http.Error(w, `{"error":"backend down"}`, http.StatusServiceUnavailable)
			return
		}
		req, err := http.NewRequestWithContext(r.Context(), r.Method, backend.ts.URL+r.URL.Path, r.Body)
		require.NoError(t, err)
		req.Header = r.Header.Clone()
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		w.WriteHeader(resp.StatusCode)
		_, _ = io.Copy(w, resp.Body)
	}))
	defer proxy.Close()

	ctrl := backend.controller(t, proxy.URL)
	result, err := ctrl.Run(context.Background(), src, -1)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrChunkFailed)
	assert.Equal(t, OutcomeIncomplete, result.Outcome)

	// Progress survives for a later resume.
	rec, err := progress.Load(src)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, result.UploadID, rec.UploadID)
}

func TestRunMissingSourceFileFails(t *testing.T) {
	backend := newBackend(t, 1024)
	ctrl := backend.controller(t, backend.ts.URL)

	_, err := ctrl.Run(context.Background(), filepath.Join(t.TempDir(), "missing.bin"), -1)
	require.Error(t, err)
}
