package db

import "errors"

// Sentinel errors for type-safe error checking
// Use errors.Is() instead of string comparison
var (
	// Upload session errors
	ErrSessionNotFound = errors.New("upload session not found")

	// Drone registry errors
	ErrDroneNotFound = errors.New("drone not found")
	ErrDroneExists   = errors.New("drone already registered")
)
