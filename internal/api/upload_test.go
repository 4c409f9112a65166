package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Shivam-nitt/CropionApp/internal/anomaly"
	"github.com/Shivam-nitt/CropionApp/internal/auth"
	"github.com/Shivam-nitt/CropionApp/internal/db"
	"github.com/Shivam-nitt/CropionApp/internal/ingest"
	"github.com/Shivam-nitt/CropionApp/internal/storage"
	"github.com/Shivam-nitt/CropionApp/internal/upload"
	"github.com/Shivam-nitt/CropionApp/pkg/api"
)

func newTestServer(t *testing.T, chunkSize int64) *httptest.Server {
	t.Helper()
	database, err := db.Connect(":memory:")
	require.NoError(t, err)
	require.NoError(t, database.Migrate())
	t.Cleanup(func() { database.Close() })

	store, err := storage.NewFSStore(t.TempDir())
	require.NoError(t, err)

	manager := upload.NewManager(database, store, chunkSize)
	detector := anomaly.NewDetector(nil, nil)
	authConfig := auth.Config{Secret: "test-secret", TokenTTL: time.Hour}

	server := NewServer(database, manager, ingest.NewLatest(), detector, authConfig, nil)
	ts := httptest.NewServer(server.SetupRoutes())
	t.Cleanup(ts.Close)
	return ts
}

func doJSON(t *testing.T, method, url string, body interface{}) *http.Response {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decode(t *testing.T, resp *http.Response, out interface{}) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
}

func initiateSession(t *testing.T, ts *httptest.Server) api.InitiateResponse {
	t.Helper()
	resp := doJSON(t, http.MethodPost, ts.URL+"/api/v1/upload/initiate", api.InitiateRequest{Filename: "f.bin"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var init api.InitiateResponse
	decode(t, resp, &init)
	return init
}

func putChunk(t *testing.T, ts *httptest.Server, uploadID string, index int, data []byte) *http.Response {
	t.Helper()
	url := fmt.Sprintf("%s/api/v1/upload/%s/chunk/%d", ts.URL, uploadID, index)
	req, err := http.NewRequest(http.MethodPut, url, bytes.NewReader(data))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func TestUploadFlowOverHTTP(t *testing.T) {
	ts := newTestServer(t, 4)
	init := initiateSession(t, ts)
	assert.NotEmpty(t, init.UploadID)
	assert.Equal(t, int64(4), init.ChunkSize)

	// Chunks out of order
	resp := putChunk(t, ts, init.UploadID, 1, []byte("bb"))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
	resp = putChunk(t, ts, init.UploadID, 0, []byte("aaaa"))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = doJSON(t, http.MethodGet, ts.URL+"/api/v1/upload/"+init.UploadID+"/status", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var status api.StatusResponse
	decode(t, resp, &status)
	assert.Equal(t, api.SessionOpen, status.Status)
	assert.Equal(t, []int{0, 1}, status.UploadedChunks)

	resp = doJSON(t, http.MethodPost, ts.URL+"/api/v1/upload/"+init.UploadID+"/complete", api.CompleteRequest{TotalChunks: 2})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var comp api.CompleteResponse
	decode(t, resp, &comp)
	assert.Equal(t, "completed", comp.Status)
	assert.Contains(t, comp.FinalPath, init.UploadID+"__f.bin")
}

func TestUploadUnknownSessionIs404(t *testing.T) {
	ts := newTestServer(t, 4)

	resp := doJSON(t, http.MethodGet, ts.URL+"/api/v1/upload/nope/status", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()

	resp = putChunk(t, ts, "nope", 0, []byte("x"))
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()

	resp = doJSON(t, http.MethodPost, ts.URL+"/api/v1/upload/nope/complete", api.CompleteRequest{TotalChunks: 1})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestUploadValidationErrors(t *testing.T) {
	ts := newTestServer(t, 4)
	init := initiateSession(t, ts)

	t.Run("oversized chunk", func(t *testing.T) {
		resp := putChunk(t, ts, init.UploadID, 0, []byte("way too big"))
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		resp.Body.Close()
	})

	t.Run("bad index", func(t *testing.T) {
		resp := putChunk(t, ts, init.UploadID, -1, []byte("x"))
		// chi does not match a negative segment against the chunk route
		// pattern, but a literal parse failure must be a 400 either way.
		assert.Contains(t, []int{http.StatusBadRequest, http.StatusNotFound, http.StatusMethodNotAllowed}, resp.StatusCode)
		resp.Body.Close()
	})

	t.Run("complete with gaps", func(t *testing.T) {
		resp := putChunk(t, ts, init.UploadID, 0, []byte("aaaa"))
		require.Equal(t, http.StatusOK, resp.StatusCode)
		resp.Body.Close()

		resp = doJSON(t, http.MethodPost, ts.URL+"/api/v1/upload/"+init.UploadID+"/complete", api.CompleteRequest{TotalChunks: 3})
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
		resp.Body.Close()
	})

	t.Run("zero total", func(t *testing.T) {
		resp := doJSON(t, http.MethodPost, ts.URL+"/api/v1/upload/"+init.UploadID+"/complete", api.CompleteRequest{TotalChunks: 0})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		resp.Body.Close()
	})
}

func TestChunkAfterCompletionIsConflict(t *testing.T) {
	ts := newTestServer(t, 4)
	init := initiateSession(t, ts)

	resp := putChunk(t, ts, init.UploadID, 0, []byte("data"))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = doJSON(t, http.MethodPost, ts.URL+"/api/v1/upload/"+init.UploadID+"/complete", api.CompleteRequest{TotalChunks: 1})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = putChunk(t, ts, init.UploadID, 0, []byte("data"))
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp.Body.Close()

	// Repeated completion stays idempotent.
	resp = doJSON(t, http.MethodPost, ts.URL+"/api/v1/upload/"+init.UploadID+"/complete", api.CompleteRequest{TotalChunks: 1})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}

func TestZstdCompressedChunkBody(t *testing.T) {
	ts := newTestServer(t, 1<<20)
	init := initiateSession(t, ts)

	payload := bytes.Repeat([]byte("telemetry"), 1000)
	encoder, err := zstd.NewWriter(nil)
	require.NoError(t, err)
	compressed := encoder.EncodeAll(payload, nil)

	url := fmt.Sprintf("%s/api/v1/upload/%s/chunk/0", ts.URL, init.UploadID)
	req, err := http.NewRequest(http.MethodPut, url, bytes.NewReader(compressed))
	require.NoError(t, err)
	req.Header.Set("Content-Encoding", "zstd")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	// The stored chunk must be the decompressed payload.
	resp = doJSON(t, http.MethodPost, ts.URL+"/api/v1/upload/"+init.UploadID+"/complete", api.CompleteRequest{TotalChunks: 1})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var comp api.CompleteResponse
	decode(t, resp, &comp)

	data, err := os.ReadFile(comp.FinalPath)
	require.NoError(t, err)
	assert.Equal(t, payload, data)
}

func TestChunkSizeSurvivesReconfiguration(t *testing.T) {
	database, err := db.Connect(":memory:")
	require.NoError(t, err)
	require.NoError(t, database.Migrate())
	t.Cleanup(func() { database.Close() })

	store, err := storage.NewFSStore(t.TempDir())
	require.NoError(t, err)

	detector := anomaly.NewDetector(nil, nil)
	authConfig := auth.Config{Secret: "test-secret", TokenTTL: time.Hour}

	before := NewServer(database, upload.NewManager(database, store, 16), ingest.NewLatest(), detector, authConfig, nil)
	tsBefore := httptest.NewServer(before.SetupRoutes())
	t.Cleanup(tsBefore.Close)

	init := initiateSession(t, tsBefore)
	require.Equal(t, int64(16), init.ChunkSize)

	// Same database and store behind a smaller configured chunk size, as
	// after a restart with a changed CHUNK_SIZE.
	after := NewServer(database, upload.NewManager(database, store, 8), ingest.NewLatest(), detector, authConfig, nil)
	tsAfter := httptest.NewServer(after.SetupRoutes())
	t.Cleanup(tsAfter.Close)

	// A full-size chunk for the original session must be stored intact,
	// not cut down to the new configured size.
	payload := []byte("0123456789abcdef")
	resp := putChunk(t, tsAfter, init.UploadID, 0, payload)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = doJSON(t, http.MethodPost, tsAfter.URL+"/api/v1/upload/"+init.UploadID+"/complete", api.CompleteRequest{TotalChunks: 1})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var comp api.CompleteResponse
	decode(t, resp, &comp)

	data, err := os.ReadFile(comp.FinalPath)
	require.NoError(t, err)
	assert.Equal(t, payload, data)
}

func TestUnsupportedContentEncoding(t *testing.T) {
	ts := newTestServer(t, 4)
	init := initiateSession(t, ts)

	url := fmt.Sprintf("%s/api/v1/upload/%s/chunk/0", ts.URL, init.UploadID)
	req, err := http.NewRequest(http.MethodPut, url, bytes.NewReader([]byte("x")))
	require.NoError(t, err)
	req.Header.Set("Content-Encoding", "gzip")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnsupportedMediaType, resp.StatusCode)
	resp.Body.Close()
}
