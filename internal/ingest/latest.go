package ingest

import (
	"sync"

	"github.com/Shivam-nitt/CropionApp/internal/db"
)

// Latest holds the most recently ingested reading for fast dashboard reads.
type Latest struct {
	mu      sync.RWMutex
	reading *db.Reading
}

// NewLatest creates an empty holder.
func NewLatest() *Latest {
	return &Latest{}
}

// Set records a new most-recent reading.
func (l *Latest) Set(r db.Reading) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.reading = &r
}

// Get returns a copy of the most recent reading, or nil when nothing has
// been ingested yet.
func (l *Latest) Get() *db.Reading {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.reading == nil {
		return nil
	}
	copied := *l.reading
	return &copied
}
