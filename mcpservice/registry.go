package mcpservice

import (
	"slices"
	"strings"
	"sync"
)

// Registry is an identity-keyed set of capability handles of one kind. It is
// safe for concurrent use: List and Get never observe a partially applied
// Add, and listing works on a copy so callers may iterate while additions
// continue.
type Registry[T any] struct {
	kind     Kind
	identity func(T) string
	// prepare runs once per Add and its result is kept next to the handle.
	prepare func(T) (any, error)
	// release runs with the kept result once its handle is replaced, removed
	// or the registry is closed.
	release func(aux any)

	mu      sync.RWMutex
	entries map[string]entry[T]

	changes ChangeNotifier[struct{}]
}

type entry[T any] struct {
	handle T
	aux    any
}

func newRegistry[T any](kind Kind, identity func(T) string, prepare func(T) (any, error)) *Registry[T] {
	return &Registry[T]{
		kind:     kind,
		identity: identity,
		prepare:  prepare,
		entries:  make(map[string]entry[T]),
	}
}

// Kind returns the capability kind held by the registry.
func (r *Registry[T]) Kind() Kind { return r.kind }

// Add registers h under its identity, replacing any previous handle.
func (r *Registry[T]) Add(h T) error {
	id := r.identity(h)
	var aux any
	if r.prepare != nil {
		var err error
		if aux, err = r.prepare(h); err != nil {
			return err
		}
	}

	r.mu.Lock()
	old, replaced := r.entries[id]
	r.entries[id] = entry[T]{handle: h, aux: aux}
	r.mu.Unlock()

	if replaced {
		r.releaseEntry(old)
	}
	r.changes.Notify(struct{}{})
	return nil
}

// Remove unregisters the handle under id. It reports whether one existed.
func (r *Registry[T]) Remove(id string) bool {
	r.mu.Lock()
	old, ok := r.entries[id]
	delete(r.entries, id)
	r.mu.Unlock()

	if ok {
		r.releaseEntry(old)
		r.changes.Notify(struct{}{})
	}
	return ok
}

// Get returns the handle registered under id.
func (r *Registry[T]) Get(id string) (T, bool) {
	e, ok := r.lookup(id)
	return e.handle, ok
}

func (r *Registry[T]) lookup(id string) (entry[T], bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	return e, ok
}

// List returns the registered handles ordered by identity.
func (r *Registry[T]) List() []T {
	r.mu.RLock()
	ids := make([]string, 0, len(r.entries))
	snapshot := make(map[string]T, len(r.entries))
	for id, e := range r.entries {
		ids = append(ids, id)
		snapshot[id] = e.handle
	}
	r.mu.RUnlock()

	slices.SortFunc(ids, strings.Compare)
	out := make([]T, len(ids))
	for i, id := range ids {
		out[i] = snapshot[id]
	}
	return out
}

// Len returns the number of registered handles.
func (r *Registry[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// HasAny reports whether at least one handle is registered.
func (r *Registry[T]) HasAny() bool {
	return r.Len() > 0
}

// Subscriber returns a channel signalled after every Add or Remove.
func (r *Registry[T]) Subscriber() <-chan struct{} {
	return r.changes.Subscriber()
}

// Close releases every registered handle's watch state and closes every
// subscriber channel. The handles stay registered.
func (r *Registry[T]) Close() {
	r.mu.RLock()
	entries := make([]entry[T], 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	for _, e := range entries {
		r.releaseEntry(e)
	}
	r.changes.Close()
}

func (r *Registry[T]) releaseEntry(e entry[T]) {
	if r.release != nil && e.aux != nil {
		r.release(e.aux)
	}
}

func (r *Registry[T]) notFound(id string) error {
	return &NotFoundError{Kind: r.kind, Identity: id}
}
