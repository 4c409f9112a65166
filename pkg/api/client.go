package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
)

const (
	// compressionThreshold is the minimum body size to compress.
	// Below this, compression overhead isn't worth it.
	compressionThreshold = 1024 // 1KB
)

// ErrNotFound is returned when the server has no record of the session.
// Callers should discard local progress and start a fresh session.
var ErrNotFound = errors.New("upload session not found")

// ErrTransient marks failures worth retrying: connection errors, timeouts,
// and 5xx responses. Check with errors.Is.
var ErrTransient = errors.New("transient transport failure")

// ErrSessionCompleted is returned when the server refuses a chunk because
// the session has already been assembled.
var ErrSessionCompleted = errors.New("session already completed")

// Client talks the chunked-upload protocol to a server.
type Client struct {
	baseURL    string
	httpClient *http.Client
	encoder    *zstd.Encoder
}

// NewClient creates a protocol client for the given server base URL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	encoder, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		encoder: encoder,
	}
}

// Initiate registers a new upload session for the given filename.
func (c *Client) Initiate(ctx context.Context, filename string) (*InitiateResponse, error) {
	var resp InitiateResponse
	err := c.doJSON(ctx, http.MethodPost, "/api/v1/upload/initiate", InitiateRequest{Filename: filename}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// Status fetches the authoritative set of accepted chunk indices.
func (c *Client) Status(ctx context.Context, uploadID string) (*StatusResponse, error) {
	var resp StatusResponse
	err := c.doJSON(ctx, http.MethodGet, "/api/v1/upload/"+uploadID+"/status", nil, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// PutChunk uploads the raw bytes for one chunk index. The operation is
// idempotent: re-sending an already-accepted index succeeds.
func (c *Client) PutChunk(ctx context.Context, uploadID string, index int, data []byte) error {
	path := fmt.Sprintf("/api/v1/upload/%s/chunk/%d", uploadID, index)

	body := data
	contentEncoding := ""
	if len(data) >= compressionThreshold {
		body = c.encoder.EncodeAll(data, make([]byte, 0, len(data)/2))
		contentEncoding = "zstd"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	if contentEncoding != "" {
		req.Header.Set("Content-Encoding", contentEncoding)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return classifyStatus(resp)
	}

	var ack PutChunkResponse
	if err := json.NewDecoder(resp.Body).Decode(&ack); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// Complete asks the server to assemble the artifact from its stored chunks.
func (c *Client) Complete(ctx context.Context, uploadID string, totalChunks int) (*CompleteResponse, error) {
	var resp CompleteResponse
	err := c.doJSON(ctx, http.MethodPost, "/api/v1/upload/"+uploadID+"/complete", CompleteRequest{TotalChunks: totalChunks}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// doJSON performs a request with an optional JSON body and parses the JSON
// response. Bodies larger than 1KB are compressed with zstd.
func (c *Client) doJSON(ctx context.Context, method, path string, reqBody, respBody interface{}) error {
	var bodyReader io.Reader
	var contentEncoding string

	if reqBody != nil {
		payload, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		if len(payload) >= compressionThreshold {
			compressed := c.encoder.EncodeAll(payload, make([]byte, 0, len(payload)/2))
			bodyReader = bytes.NewReader(compressed)
			contentEncoding = "zstd"
		} else {
			bodyReader = bytes.NewReader(payload)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
		if contentEncoding != "" {
			req.Header.Set("Content-Encoding", contentEncoding)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return classifyStatus(resp)
	}

	if respBody != nil {
		if err := json.NewDecoder(resp.Body).Decode(respBody); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
	}
	return nil
}

// classifyStatus maps non-2xx responses onto the client error taxonomy.
func classifyStatus(resp *http.Response) error {
	message := readErrorMessage(resp.Body)

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, message)
	case resp.StatusCode == http.StatusConflict:
		if strings.Contains(strings.ToLower(message), "completed") {
			return fmt.Errorf("%w: %s", ErrSessionCompleted, message)
		}
		return fmt.Errorf("server refused request (status %d): %s", resp.StatusCode, message)
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: server error (status %d): %s", ErrTransient, resp.StatusCode, message)
	default:
		return fmt.Errorf("request failed (status %d): %s", resp.StatusCode, message)
	}
}

// readErrorMessage extracts the error field from a JSON error body, falling
// back to the raw body text.
func readErrorMessage(body io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(body, 4096))
	if err != nil || len(raw) == 0 {
		return "no details"
	}

	var errResp ErrorResponse
	if json.Unmarshal(raw, &errResp) == nil && errResp.Error != "" {
		return errResp.Error
	}
	return strings.TrimSpace(string(raw))
}
