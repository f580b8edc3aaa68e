package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/ankitraval/jobforge/internal/service"
	"github.com/ankitraval/jobforge/pkg/models"
)

// ProgressFunc durably records handler progress. Percent is clamped to
// [0, 100] before it reaches the store.
type ProgressFunc func(ctx context.Context, percent int, message string) error

// Result is what a handler hands back to the engine. Children are follow-on
// job specs; the engine persists them before the parent is finalized, so a
// crash between handler return and finalize never loses the chain.
type Result struct {
	Output   json.RawMessage
	Children []service.CreateJobParams
}

// Handler executes one job type. It may return an error to trigger the
// retry/dead-letter path, and it may report progress at any point. Handlers
// run outside any transaction and can take as long as they need; the
// stuck-job sweep is the only bound on a hung handler.
type Handler func(ctx context.Context, job *models.Job, report ProgressFunc) (*Result, error)

// Registry maps job types to handlers. It is constructed once at startup and
// injected into the worker; there is no global registry. Safe for concurrent
// use.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates an empty handler registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register binds a handler to a job type. Registering the same type twice is
// a programming error and is rejected.
func (r *Registry) Register(jobType string, h Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[jobType]; exists {
		return fmt.Errorf("handler already registered for job type %q", jobType)
	}
	r.handlers[jobType] = h
	return nil
}

// Get returns the handler for the given job type.
func (r *Registry) Get(jobType string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[jobType]
	return h, ok
}

// Types returns all registered job types.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	return types
}
