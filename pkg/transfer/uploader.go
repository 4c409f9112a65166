package transfer

import (
	"context"
	"errors"
	"fmt"

	"github.com/Shivam-nitt/CropionApp/pkg/api"
)

// ErrChunkFailed is returned when a chunk could not be delivered even after
// exhausting the retry schedule. The run aborts but remains resumable.
var ErrChunkFailed = errors.New("chunk delivery failed after retries")

// Uploader delivers single chunks with bounded retry on transient failures.
type Uploader struct {
	client *api.Client
	policy RetryPolicy
}

// NewUploader creates an uploader around a protocol client.
func NewUploader(client *api.Client, policy RetryPolicy) *Uploader {
	return &Uploader{client: client, policy: policy}
}

// Upload sends one chunk, retrying transient failures. Transient errors that
// survive the full schedule come back wrapped in ErrChunkFailed; terminal
// errors (session not found, session completed) pass through untouched.
func (u *Uploader) Upload(ctx context.Context, uploadID string, index int, data []byte) error {
	err := u.policy.Do(ctx, func() error {
		return u.client.PutChunk(ctx, uploadID, index, data)
	})
	if err == nil {
		return nil
	}
	if errors.Is(err, api.ErrTransient) {
		return fmt.Errorf("%w: chunk %d: %v", ErrChunkFailed, index, err)
	}
	return err
}
