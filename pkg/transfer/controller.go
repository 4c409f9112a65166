package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/Shivam-nitt/CropionApp/pkg/api"
	"github.com/Shivam-nitt/CropionApp/pkg/progress"
)

// Outcome classifies how a transfer run ended.
type Outcome int

const (
	// OutcomeCompleted means the server assembled the artifact and local
	// progress was cleared.
	OutcomeCompleted Outcome = iota
	// OutcomeIncomplete means the run stopped with chunks outstanding.
	// Progress is preserved and a later run can resume.
	OutcomeIncomplete
)

// Result summarizes a transfer run.
type Result struct {
	Outcome      Outcome
	UploadID     string
	TotalChunks  int
	SentChunks   int
	SkippedChunks int
	Resumed      bool
	ArtifactPath string
}

// Controller drives a whole-file transfer: session setup or resume, chunk
// iteration, and completion. It owns the progress sidecar for the file.
type Controller struct {
	client   *api.Client
	uploader *Uploader
	log      *slog.Logger
}

// NewController wires a controller from a protocol client and retry policy.
func NewController(client *api.Client, policy RetryPolicy, log *slog.Logger) *Controller {
	if log == nil {
		log = slog.Default()
	}
	return &Controller{
		client:   client,
		uploader: NewUploader(client, policy),
		log:      log,
	}
}

// Run uploads filePath, resuming a previous session when valid progress
// exists. maxChunks caps how many chunks this run may send; negative means
// unlimited. Zero is valid and sends nothing, which exercises resume paths.
//
// An OutcomeIncomplete result with a nil error means the run stopped at the
// chunk cap; with a non-nil error, delivery or completion failed but the
// session is still resumable.
func (c *Controller) Run(ctx context.Context, filePath string, maxChunks int) (*Result, error) {
	info, err := os.Stat(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat source file: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("source %s is a directory", filePath)
	}

	checksum, err := progress.FileChecksum(filePath)
	if err != nil {
		return nil, err
	}

	rec, accepted, resumed, err := c.prepare(ctx, filePath, info, checksum)
	if err != nil {
		return &Result{Outcome: OutcomeIncomplete}, err
	}
	if rec == nil {
		// Server already holds the completed artifact for this session.
		return &Result{Outcome: OutcomeCompleted, Resumed: true}, nil
	}

	result := &Result{
		Outcome:     OutcomeIncomplete,
		UploadID:    rec.UploadID,
		TotalChunks: rec.TotalChunks(),
		Resumed:     resumed,
	}

	f, err := os.Open(filePath)
	if err != nil {
		return result, fmt.Errorf("failed to open source file: %w", err)
	}
	defer f.Close()

	for index := 0; index < result.TotalChunks; index++ {
		if accepted[index] {
			result.SkippedChunks++
			continue
		}
		if maxChunks >= 0 && result.SentChunks >= maxChunks {
			c.log.Info("chunk limit reached, stopping",
				"upload_id", rec.UploadID,
				"sent", result.SentChunks)
			return result, nil
		}

		data, err := readChunk(f, rec.ChunkSize, info.Size(), index)
		if err != nil {
			return result, err
		}

		if err := c.uploader.Upload(ctx, rec.UploadID, index, data); err != nil {
			c.log.Error("chunk upload failed",
				"upload_id", rec.UploadID,
				"index", index,
				"error", err)
			return result, err
		}

		result.SentChunks++
		accepted[index] = true
		if err := rec.Save(filePath); err != nil {
			return result, err
		}
		c.log.Debug("chunk accepted",
			"upload_id", rec.UploadID,
			"index", index,
			"size", len(data))
	}

	comp, err := c.client.Complete(ctx, rec.UploadID, result.TotalChunks)
	if err != nil {
		c.log.Error("completion failed",
			"upload_id", rec.UploadID,
			"error", err)
		return result, fmt.Errorf("failed to complete upload: %w", err)
	}

	if err := progress.Clear(filePath); err != nil {
		return result, err
	}

	result.Outcome = OutcomeCompleted
	result.ArtifactPath = comp.FinalPath
	c.log.Info("upload completed",
		"upload_id", rec.UploadID,
		"artifact", comp.FinalPath,
		"sent", result.SentChunks,
		"skipped", result.SkippedChunks)
	return result, nil
}

// prepare resolves the session to use: resume the recorded one when the
// file is unchanged and the server still knows it, otherwise start fresh.
// A (nil, nil, true, nil) return means the recorded session is already
// completed server-side.
func (c *Controller) prepare(ctx context.Context, filePath string, info os.FileInfo, checksum string) (*progress.Record, map[int]bool, bool, error) {
	rec, err := progress.Load(filePath)
	if err != nil {
		return nil, nil, false, err
	}

	if rec != nil && rec.Checksum != checksum {
		c.log.Info("source file changed since last run, starting over",
			"upload_id", rec.UploadID)
		if err := progress.Clear(filePath); err != nil {
			return nil, nil, false, err
		}
		rec = nil
	}

	if rec != nil {
		status, err := c.client.Status(ctx, rec.UploadID)
		switch {
		case errors.Is(err, api.ErrNotFound):
			c.log.Warn("server no longer knows session, starting over",
				"upload_id", rec.UploadID)
			if err := progress.Clear(filePath); err != nil {
				return nil, nil, false, err
			}
			rec = nil
		case err != nil:
			return nil, nil, false, fmt.Errorf("failed to query session status: %w", err)
		case status.Status == api.SessionCompleted:
			c.log.Info("session already completed on server",
				"upload_id", rec.UploadID)
			if err := progress.Clear(filePath); err != nil {
				return nil, nil, false, err
			}
			return nil, nil, true, nil
		default:
			accepted := make(map[int]bool, len(status.UploadedChunks))
			for _, idx := range status.UploadedChunks {
				accepted[idx] = true
			}
			c.log.Info("resuming upload",
				"upload_id", rec.UploadID,
				"accepted_chunks", len(accepted))
			return rec, accepted, true, nil
		}
	}

	init, err := c.client.Initiate(ctx, filepath.Base(filePath))
	if err != nil {
		return nil, nil, false, fmt.Errorf("failed to initiate upload: %w", err)
	}

	rec = &progress.Record{
		UploadID:  init.UploadID,
		ChunkSize: init.ChunkSize,
		FileSize:  info.Size(),
		Filename:  filepath.Base(filePath),
		Checksum:  checksum,
	}
	if err := rec.Save(filePath); err != nil {
		return nil, nil, false, err
	}
	c.log.Info("initiated upload",
		"upload_id", rec.UploadID,
		"chunk_size", rec.ChunkSize,
		"total_chunks", rec.TotalChunks())
	return rec, make(map[int]bool), false, nil
}

// readChunk reads the bytes for one chunk index. The final chunk may be
// short; a zero-byte file yields a single empty chunk.
func readChunk(f *os.File, chunkSize, fileSize int64, index int) ([]byte, error) {
	offset := int64(index) * chunkSize
	size := chunkSize
	if remaining := fileSize - offset; remaining < size {
		size = remaining
	}
	if size <= 0 {
		return []byte{}, nil
	}

	buf := make([]byte, size)
	if _, err := io.ReadFull(io.NewSectionReader(f, offset, size), buf); err != nil {
		return nil, fmt.Errorf("failed to read chunk %d: %w", index, err)
	}
	return buf, nil
}
