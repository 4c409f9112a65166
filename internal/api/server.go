package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/Shivam-nitt/CropionApp/internal/anomaly"
	"github.com/Shivam-nitt/CropionApp/internal/auth"
	"github.com/Shivam-nitt/CropionApp/internal/db"
	"github.com/Shivam-nitt/CropionApp/internal/ingest"
	"github.com/Shivam-nitt/CropionApp/internal/logger"
	"github.com/Shivam-nitt/CropionApp/internal/upload"
)

// Server holds dependencies for API handlers
type Server struct {
	db             *db.DB
	uploads        *upload.Manager
	latest         *ingest.Latest
	detector       *anomaly.Detector
	authConfig     auth.Config
	allowedOrigins []string
}

// NewServer creates a new API server
func NewServer(database *db.DB, uploads *upload.Manager, latest *ingest.Latest, detector *anomaly.Detector, authConfig auth.Config, allowedOrigins []string) *Server {
	return &Server{
		db:             database,
		uploads:        uploads,
		latest:         latest,
		detector:       detector,
		authConfig:     authConfig,
		allowedOrigins: allowedOrigins,
	}
}

// SetupRoutes configures HTTP routes
func (s *Server) SetupRoutes() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(logger.Middleware)
	if len(s.allowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   s.allowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Content-Encoding"},
			AllowCredentials: true,
		}))
	}
	r.Use(decodeBody)

	// Health check
	r.Get("/health", s.handleHealth)
	r.Get("/", s.handleRoot)

	// Upload protocol
	r.Route("/api/v1/upload", func(r chi.Router) {
		r.Post("/initiate", s.handleInitiateUpload)
		r.Get("/{uploadID}/status", s.handleUploadStatus)
		r.Put("/{uploadID}/chunk/{index}", s.handlePutChunk)
		r.Post("/{uploadID}/complete", s.handleCompleteUpload)
	})

	// Telemetry ingestion and dashboards
	r.Post("/telemetry", s.handlePostTelemetry)
	r.Get("/telemetry/latest", s.handleLatestTelemetry)
	r.Get("/telemetry/history", s.handleTelemetryHistory)
	r.Get("/alerts", s.handleAlerts)

	// Drone registry (token protected)
	r.Post("/auth/token", s.handleCreateToken)
	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(s.authConfig))
		r.Post("/drones", s.handleRegisterDrone)
		r.Get("/drones", s.handleListDrones)
		r.Get("/drones/{droneID}", s.handleGetDrone)
		r.Delete("/drones/{droneID}", s.handleDeleteDrone)
	})

	return r
}

// handleHealth returns server health status
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// handleRoot returns API info
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"service": "cropion-backend",
		"version": "v1",
	})
}

// respondJSON writes a JSON response
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError writes an error JSON response
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{
		"error": message,
	})
}
