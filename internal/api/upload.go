package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/Shivam-nitt/CropionApp/internal/db"
	"github.com/Shivam-nitt/CropionApp/internal/logger"
	"github.com/Shivam-nitt/CropionApp/internal/upload"
	"github.com/Shivam-nitt/CropionApp/pkg/api"
)

// handleInitiateUpload opens a new upload session.
// POST /api/v1/upload/initiate
func (s *Server) handleInitiateUpload(w http.ResponseWriter, r *http.Request) {
	log := logger.Ctx(r.Context())

	var req api.InitiateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Filename == "" {
		respondError(w, http.StatusBadRequest, "filename is required")
		return
	}

	id, chunkSize, err := s.uploads.Initiate(r.Context(), req.Filename)
	if err != nil {
		log.Error("failed to initiate upload", "error", err)
		respondError(w, http.StatusInternalServerError, "Failed to initiate upload")
		return
	}

	log.Info("upload initiated", "upload_id", id, "filename", req.Filename)
	respondJSON(w, http.StatusOK, api.InitiateResponse{
		UploadID:  id,
		ChunkSize: chunkSize,
	})
}

// handleUploadStatus reports the authoritative accepted chunk set.
// GET /api/v1/upload/{uploadID}/status
func (s *Server) handleUploadStatus(w http.ResponseWriter, r *http.Request) {
	uploadID := chi.URLParam(r, "uploadID")

	status, indices, err := s.uploads.Status(r.Context(), uploadID)
	if err != nil {
		s.respondUploadError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, api.StatusResponse{
		Status:         status,
		UploadedChunks: indices,
	})
}

// handlePutChunk stores one chunk body.
// PUT /api/v1/upload/{uploadID}/chunk/{index}
func (s *Server) handlePutChunk(w http.ResponseWriter, r *http.Request) {
	log := logger.Ctx(r.Context())
	uploadID := chi.URLParam(r, "uploadID")

	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid chunk index")
		return
	}

	// Cap the body at the size recorded for this session, not the current
	// configured size: sessions opened before a config change keep theirs.
	// One byte past the limit is enough to detect an oversized body without
	// buffering unbounded input.
	limit, err := s.uploads.SessionChunkSize(r.Context(), uploadID)
	if err != nil {
		s.respondUploadError(w, r, err)
		return
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		log.Error("failed to read chunk body", "upload_id", uploadID, "error", err)
		respondError(w, http.StatusBadRequest, "Failed to read chunk body")
		return
	}

	if err := s.uploads.PutChunk(r.Context(), uploadID, index, data); err != nil {
		s.respondUploadError(w, r, err)
		return
	}

	log.Debug("chunk stored", "upload_id", uploadID, "index", index, "size", len(data))
	respondJSON(w, http.StatusOK, api.PutChunkResponse{
		Status: "chunk uploaded",
		Index:  index,
	})
}

// handleCompleteUpload assembles the artifact.
// POST /api/v1/upload/{uploadID}/complete
func (s *Server) handleCompleteUpload(w http.ResponseWriter, r *http.Request) {
	log := logger.Ctx(r.Context())
	uploadID := chi.URLParam(r, "uploadID")

	var req api.CompleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	artifactPath, err := s.uploads.Complete(r.Context(), uploadID, req.TotalChunks)
	if err != nil {
		s.respondUploadError(w, r, err)
		return
	}

	log.Info("upload completed", "upload_id", uploadID, "artifact", artifactPath)
	respondJSON(w, http.StatusOK, api.CompleteResponse{
		Status:    "completed",
		FinalPath: artifactPath,
	})
}

// respondUploadError maps session errors onto protocol status codes.
func (s *Server) respondUploadError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, db.ErrSessionNotFound):
		respondError(w, http.StatusNotFound, "Upload session not found")
	case errors.Is(err, upload.ErrSessionCompleted):
		respondError(w, http.StatusConflict, "Session already completed")
	case errors.Is(err, upload.ErrIncomplete):
		respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, upload.ErrInvalidIndex),
		errors.Is(err, upload.ErrChunkTooLarge),
		errors.Is(err, upload.ErrInvalidTotal):
		respondError(w, http.StatusBadRequest, err.Error())
	default:
		logger.Ctx(r.Context()).Error("upload operation failed", "error", err)
		respondError(w, http.StatusInternalServerError, "Internal server error")
	}
}
