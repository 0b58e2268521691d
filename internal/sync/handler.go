package sync

import (
	"context"
	"encoding/json"
	"sort"
	stdsync "sync"

	apperrors "github.com/virtuallab/labsync/internal/errors"
	"github.com/virtuallab/labsync/internal/models"
)

// Handler sends one queued mutation to the remote service.
//
// A nil error means the remote applied the mutation. Failures are classified
// by their error code: REMOTE_REJECTED (or any other non-retryable code) is
// fatal for the action, NETWORK_UNREACHABLE aborts the pass, and anything
// else is retried.
type Handler interface {
	Send(ctx context.Context, payload json.RawMessage) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, payload json.RawMessage) error

// Send calls f.
func (f HandlerFunc) Send(ctx context.Context, payload json.RawMessage) error {
	return f(ctx, payload)
}

// Registry maps action kinds to their handlers. It is populated at startup
// and read during drains.
type Registry struct {
	mu       stdsync.RWMutex
	handlers map[models.ActionKind]Handler
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[models.ActionKind]Handler)}
}

// Register installs h for kind, replacing any previous handler.
func (r *Registry) Register(kind models.ActionKind, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[kind] = h
}

// Lookup returns the handler for kind.
func (r *Registry) Lookup(kind models.ActionKind) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[kind]
	return h, ok
}

// Kinds lists the registered kinds, sorted.
func (r *Registry) Kinds() []models.ActionKind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]models.ActionKind, 0, len(r.handlers))
	for k := range r.handlers {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// Transient marks err as a retryable remote failure.
func Transient(err error) error {
	return apperrors.Wrap(apperrors.ErrRemoteTransient, "remote call failed", err)
}

// Rejected marks err as a fatal remote failure.
func Rejected(err error) error {
	return apperrors.Wrap(apperrors.ErrRemoteRejected, "remote rejected the action", err)
}

// Unreachable marks err as a failure to contact the remote at all.
func Unreachable(err error) error {
	return apperrors.Wrap(apperrors.ErrNetworkUnreachable, "remote unreachable", err)
}
