package queue

import (
	"context"
	"sync"
	"time"

	"hookrelay/internal/models"
)

// HandlerFunc executes one job and returns an optional result payload
// that is serialized into the job record on success.
type HandlerFunc func(ctx context.Context, job *models.Job) (interface{}, error)

// Handler binds a job type to its executable function and retry policy.
// MaxAttempts and RetryDelay, when set, override the job's own values.
type Handler struct {
	Type        string
	Handle      HandlerFunc
	MaxAttempts int
	RetryDelay  time.Duration
}

type registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func newRegistry() *registry {
	return &registry{handlers: make(map[string]Handler)}
}

// register stores a handler; re-registration overwrites.
func (r *registry) register(h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[h.Type] = h
}

func (r *registry) get(jobType string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[jobType]
	return h, ok
}

func (r *registry) has(jobType string) bool {
	_, ok := r.get(jobType)
	return ok
}
