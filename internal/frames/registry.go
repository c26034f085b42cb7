// Package frames keeps transient camera frames addressable by id until released.
package frames

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// MimeJPEG is the content type of robot camera frames.
const MimeJPEG = "image/jpeg"

// Frame is an immutable blob handle.
type Frame struct {
	ID        string
	Mime      string
	Data      []byte
	CreatedAt time.Time
}

// Registry owns frames until they are released.
type Registry struct {
	mu     sync.RWMutex
	frames map[string]*Frame
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{frames: make(map[string]*Frame)}
}

// Create stores a copy of data and returns its handle.
func (r *Registry) Create(data []byte, mime string) *Frame {
	f := &Frame{
		ID:        uuid.NewString(),
		Mime:      mime,
		Data:      append([]byte(nil), data...),
		CreatedAt: time.Now(),
	}
	r.mu.Lock()
	r.frames[f.ID] = f
	r.mu.Unlock()
	return f
}

// Get returns the frame with id, if it is still held.
func (r *Registry) Get(id string) (*Frame, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.frames[id]
	return f, ok
}

// Release drops the frame. Releasing an unknown id is a no-op.
func (r *Registry) Release(id string) {
	r.mu.Lock()
	delete(r.frames, id)
	r.mu.Unlock()
}

// Len returns the number of held frames.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.frames)
}
