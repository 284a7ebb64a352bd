// Package mutator holds the named, pure payload transformations shared by
// the client (optimistic application) and the server (authoritative
// re-application).
package mutator

import (
	stderrors "errors"
	"fmt"
	"sort"
	"sync"

	"github.com/devrev/storesync/internal/errors"
	"github.com/devrev/storesync/internal/model"
)

// Func computes the next payload of a record from its current payload and
// the mutation arguments. A nil current payload means the record does not
// exist; a nil result deletes it. A Func must be deterministic and must not
// touch anything but its inputs.
type Func func(current model.Payload, args model.Args) (model.Payload, error)

type entry struct {
	fn      Func
	guarded bool
}

// Option configures a registered mutator.
type Option func(*entry)

// WithVersionGuard makes the client stamp the expected record version on the
// mutation, and the server reject it when the record has moved on instead of
// re-applying it to the newer payload.
func WithVersionGuard() Option {
	return func(e *entry) {
		e.guarded = true
	}
}

// Registry maps mutator names to functions.
type Registry struct {
	mu       sync.RWMutex
	mutators map[string]entry
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		mutators: make(map[string]entry),
	}
}

// Register adds a mutator. Names are unique.
func (r *Registry) Register(name string, fn Func, opts ...Option) error {
	if name == "" || fn == nil {
		return errors.InvalidArgument("mutator name and function are required", nil)
	}

	e := entry{fn: fn}
	for _, opt := range opts {
		opt(&e)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.mutators[name]; exists {
		return errors.InvalidArgument(fmt.Sprintf("mutator %q already registered", name), nil)
	}
	r.mutators[name] = e
	return nil
}

// MustRegister is Register for static registrations.
func (r *Registry) MustRegister(name string, fn Func, opts ...Option) {
	if err := r.Register(name, fn, opts...); err != nil {
		panic(err)
	}
}

// Apply runs mutator name on copies of current and args. Failures are
// returned as MutationError; an unregistered name as UnknownMutator.
func (r *Registry) Apply(name string, current model.Payload, args model.Args) (model.Payload, error) {
	r.mu.RLock()
	e, ok := r.mutators[name]
	r.mu.RUnlock()
	if !ok {
		return nil, errors.UnknownMutator(name)
	}

	next, err := e.fn(current.Clone(), model.Args(model.Payload(args).Clone()))
	if err != nil {
		var se *errors.SyncError
		if stderrors.As(err, &se) {
			return nil, se
		}
		return nil, errors.MutationFailed(name, err.Error())
	}
	return next, nil
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.mutators[name]
	return ok
}

// Guarded reports whether name was registered WithVersionGuard.
func (r *Registry) Guarded(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.mutators[name].guarded
}

// Names returns the registered mutator names in order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.mutators))
	for name := range r.mutators {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
