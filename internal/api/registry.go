package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Shivam-nitt/CropionApp/internal/auth"
	"github.com/Shivam-nitt/CropionApp/internal/db"
	"github.com/Shivam-nitt/CropionApp/internal/logger"
)

type tokenRequest struct {
	Username string `json:"username"`
	Role     string `json:"role"`
}

// handleCreateToken issues a registry access token.
// POST /auth/token
func (s *Server) handleCreateToken(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Username == "" {
		respondError(w, http.StatusBadRequest, "username is required")
		return
	}
	if req.Role == "" {
		req.Role = "operator"
	}

	token, expiresAt, err := auth.CreateToken(s.authConfig, req.Username, req.Role)
	if err != nil {
		logger.Ctx(r.Context()).Error("failed to issue token", "error", err)
		respondError(w, http.StatusInternalServerError, "Failed to issue token")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"access_token": token,
		"token_type":   "bearer",
		"expires_at":   expiresAt,
	})
}

type registerDroneRequest struct {
	DroneID  string         `json:"drone_id"`
	Metadata map[string]any `json:"metadata"`
}

// handleRegisterDrone registers a new drone for the authenticated user.
// POST /drones
func (s *Server) handleRegisterDrone(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}

	var req registerDroneRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.DroneID == "" {
		respondError(w, http.StatusBadRequest, "drone_id is required")
		return
	}

	drone, err := s.db.RegisterDrone(r.Context(), req.DroneID, claims.Subject, req.Metadata)
	if err != nil {
		if errors.Is(err, db.ErrDroneExists) {
			respondError(w, http.StatusConflict, "Drone already registered")
			return
		}
		logger.Ctx(r.Context()).Error("failed to register drone", "error", err)
		respondError(w, http.StatusInternalServerError, "Failed to register drone")
		return
	}

	respondJSON(w, http.StatusOK, drone)
}

// handleListDrones lists all registered drones.
// GET /drones
func (s *Server) handleListDrones(w http.ResponseWriter, r *http.Request) {
	drones, err := s.db.ListDrones(r.Context())
	if err != nil {
		logger.Ctx(r.Context()).Error("failed to list drones", "error", err)
		respondError(w, http.StatusInternalServerError, "Failed to list drones")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"count":  len(drones),
		"drones": drones,
	})
}

// handleGetDrone returns one drone.
// GET /drones/{droneID}
func (s *Server) handleGetDrone(w http.ResponseWriter, r *http.Request) {
	drone, err := s.db.GetDrone(r.Context(), chi.URLParam(r, "droneID"))
	if err != nil {
		if errors.Is(err, db.ErrDroneNotFound) {
			respondError(w, http.StatusNotFound, "Drone not found")
			return
		}
		logger.Ctx(r.Context()).Error("failed to get drone", "error", err)
		respondError(w, http.StatusInternalServerError, "Failed to get drone")
		return
	}
	respondJSON(w, http.StatusOK, drone)
}

// handleDeleteDrone removes a drone registration. Only the owner may
// delete it.
// DELETE /drones/{droneID}
func (s *Server) handleDeleteDrone(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}
	droneID := chi.URLParam(r, "droneID")

	drone, err := s.db.GetDrone(r.Context(), droneID)
	if err != nil {
		if errors.Is(err, db.ErrDroneNotFound) {
			respondError(w, http.StatusNotFound, "Drone not found")
			return
		}
		logger.Ctx(r.Context()).Error("failed to get drone", "error", err)
		respondError(w, http.StatusInternalServerError, "Failed to delete drone")
		return
	}
	if drone.Owner != claims.Subject && claims.Role != "admin" {
		respondError(w, http.StatusForbidden, "Only the owner may delete a drone")
		return
	}

	if err := s.db.DeleteDrone(r.Context(), droneID); err != nil {
		logger.Ctx(r.Context()).Error("failed to delete drone", "error", err)
		respondError(w, http.StatusInternalServerError, "Failed to delete drone")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
