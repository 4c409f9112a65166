package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Sentinel errors for object storage operations
var (
	// ErrObjectNotFound indicates the requested object does not exist
	ErrObjectNotFound = errors.New("object not found")

	// ErrAccessDenied indicates insufficient permissions for the operation
	ErrAccessDenied = errors.New("access denied")

	// ErrNetworkError indicates a network connectivity issue
	ErrNetworkError = errors.New("network error")
)

// S3Config holds S3/MinIO configuration
type S3Config struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	UseSSL          bool
}

// S3Store keeps chunks and artifacts in an S3/MinIO bucket:
//
//	sessions/<upload_id>/chunk_00000000.part
//	artifacts/<upload_id>__<filename>
//
// Object PUTs are atomic, so the artifact key never holds partial data.
type S3Store struct {
	client *minio.Client
	bucket string
}

// NewS3Store creates an S3/MinIO-backed chunk store. The bucket must be
// created out-of-band.
func NewS3Store(config S3Config) (*S3Store, error) {
	client, err := minio.New(config.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(config.AccessKeyID, config.SecretAccessKey, ""),
		Secure: config.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 client: %w", err)
	}

	ctx := context.Background()
	exists, err := client.BucketExists(ctx, config.BucketName)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket existence: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("bucket %q does not exist: create it before starting the server", config.BucketName)
	}

	return &S3Store{
		client: client,
		bucket: config.BucketName,
	}, nil
}

func (s *S3Store) chunkKey(uploadID string, index int) string {
	return fmt.Sprintf("sessions/%s/%s", uploadID, chunkObjectName(index))
}

func (s *S3Store) sessionPrefix(uploadID string) string {
	return fmt.Sprintf("sessions/%s/", uploadID)
}

// PutChunk stores one chunk object. Re-writing an index replaces it.
func (s *S3Store) PutChunk(ctx context.Context, uploadID string, index int, data []byte) error {
	_, err := s.client.PutObject(ctx, s.bucket, s.chunkKey(uploadID, index),
		bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/octet-stream"})
	if err != nil {
		return classifyStorageError(err, "put chunk")
	}
	return nil
}

// ListAccepted lists stored chunk indices for a session, sorted ascending.
func (s *S3Store) ListAccepted(ctx context.Context, uploadID string) ([]int, error) {
	prefix := s.sessionPrefix(uploadID)
	indices := []int{}

	for object := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: prefix}) {
		if object.Err != nil {
			return nil, classifyStorageError(object.Err, "list chunks")
		}
		index, err := parseChunkObjectName(strings.TrimPrefix(object.Key, prefix))
		if err != nil {
			continue
		}
		indices = append(indices, index)
	}
	sort.Ints(indices)
	return indices, nil
}

// Assemble streams chunks [0, totalChunks) in order into the artifact
// object. The object only appears under its key once the PUT finishes.
func (s *S3Store) Assemble(ctx context.Context, uploadID, filename string, totalChunks int) (string, error) {
	key := "artifacts/" + artifactName(uploadID, filename)

	pr, pw := io.Pipe()
	go func() {
		for index := 0; index < totalChunks; index++ {
			object, err := s.client.GetObject(ctx, s.bucket, s.chunkKey(uploadID, index), minio.GetObjectOptions{})
			if err != nil {
				pw.CloseWithError(classifyStorageError(err, "read chunk"))
				return
			}
			_, err = io.Copy(pw, object)
			object.Close()
			if err != nil {
				classified := classifyStorageError(err, "read chunk")
				if errors.Is(classified, ErrObjectNotFound) {
					classified = fmt.Errorf("%w: index %d", ErrChunkMissing, index)
				}
				pw.CloseWithError(classified)
				return
			}
		}
		pw.Close()
	}()

	_, err := s.client.PutObject(ctx, s.bucket, key, pr, -1,
		minio.PutObjectOptions{ContentType: "application/octet-stream"})
	if err != nil {
		return "", classifyStorageError(err, "write artifact")
	}
	return key, nil
}

// RemoveSession deletes every chunk object for a session.
func (s *S3Store) RemoveSession(ctx context.Context, uploadID string) error {
	prefix := s.sessionPrefix(uploadID)

	for object := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: prefix}) {
		if object.Err != nil {
			return classifyStorageError(object.Err, "list chunks")
		}
		if err := s.client.RemoveObject(ctx, s.bucket, object.Key, minio.RemoveObjectOptions{}); err != nil {
			return classifyStorageError(err, "delete chunk")
		}
	}
	return nil
}

// classifyStorageError examines a storage error and returns an appropriate sentinel error
func classifyStorageError(err error, operation string) error {
	if err == nil {
		return nil
	}

	var minioErr minio.ErrorResponse
	if errors.As(err, &minioErr) {
		switch minioErr.Code {
		case "NoSuchKey", "NoSuchBucket":
			return fmt.Errorf("%s: %w", operation, ErrObjectNotFound)
		case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch":
			return fmt.Errorf("%s: %w", operation, ErrAccessDenied)
		}
	}

	errStr := err.Error()
	if containsAny(errStr, []string{"connection", "timeout", "network", "dial", "refused"}) {
		return fmt.Errorf("%s network issue: %w", operation, ErrNetworkError)
	}

	return fmt.Errorf("%s failed: %w", operation, err)
}

// containsAny checks if a string contains any of the given substrings
func containsAny(s string, substrs []string) bool {
	for _, substr := range substrs {
		if strings.Contains(s, substr) {
			return true
		}
	}
	return false
}
