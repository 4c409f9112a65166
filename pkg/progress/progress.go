package progress

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// MetaSuffix is appended to the source file path to form the sidecar
// progress file, e.g. video.bin -> video.bin.uploadmeta.json.
const MetaSuffix = ".uploadmeta.json"

// Record is the client's persistent memory of an in-flight upload.
// It lives next to the source file so a restarted process can resume
// the same server session instead of re-sending everything.
type Record struct {
	UploadID  string `json:"upload_id"`
	ChunkSize int64  `json:"chunk_size"`
	FileSize  int64  `json:"file_size"`
	Filename  string `json:"filename"`
	Checksum  string `json:"file_md5"`
}

// MetaPath returns the sidecar path for a source file.
func MetaPath(filePath string) string {
	return filePath + MetaSuffix
}

// Load reads the progress record for a source file. A missing or
// unparseable sidecar returns (nil, nil): corrupt progress is treated the
// same as no progress, so the worst case is re-uploading chunks the server
// already has.
func Load(filePath string) (*Record, error) {
	data, err := os.ReadFile(MetaPath(filePath))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read progress file: %w", err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, nil
	}
	if rec.UploadID == "" || rec.ChunkSize <= 0 {
		return nil, nil
	}
	return &rec, nil
}

// Save writes the record atomically via a temp file and rename, so a crash
// mid-write never leaves a truncated sidecar behind.
func (r *Record) Save(filePath string) error {
	metaPath := MetaPath(filePath)

	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal progress: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(metaPath), ".uploadmeta-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write progress: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, metaPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename progress file: %w", err)
	}
	return nil
}

// Clear removes the sidecar. Missing sidecars are not an error.
func Clear(filePath string) error {
	err := os.Remove(MetaPath(filePath))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove progress file: %w", err)
	}
	return nil
}

// TotalChunks returns the chunk count for the recorded file size.
// Zero-byte files still occupy one (empty) chunk.
func (r *Record) TotalChunks() int {
	if r.FileSize <= 0 {
		return 1
	}
	n := r.FileSize / r.ChunkSize
	if r.FileSize%r.ChunkSize != 0 {
		n++
	}
	return int(n)
}

// FileChecksum computes the MD5 hex digest of a file's full contents.
// Used to detect that the source file changed since progress was saved.
func FileChecksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("failed to hash file: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
