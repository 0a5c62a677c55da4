package db

import (
	"fmt"
	"sort"
	"sync"
)

// Registry is a mapping from a caller chosen name to SQL text, used to
// decouple where a query is defined from where it is issued. By convention
// names are namespaced, eg. "users:get_all", but the registry treats any
// string as an opaque key.
//
// Queries are expected to be registered at startup before concurrent traffic
// begins, but the registry is internally synchronized so late registration
// racing lookups is safe (last writer wins).
type Registry struct {
	mu      sync.RWMutex
	queries map[string]string
}

func NewRegistry() *Registry {
	return &Registry{queries: map[string]string{}}
}

// Store inserts or overwrites the SQL text for name. It never fails; a later
// Store with the same name silently overwrites.
func (r *Registry) Store(name, sql string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queries[name] = sql
}

// Resolve returns the stored SQL text for name. No validation of the SQL is
// performed; invalid SQL surfaces only when executed by the backend.
func (r *Registry) Resolve(name string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sql, ok := r.queries[name]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrQueryNotFound, name)
	}
	return sql, nil
}

// Names returns the registered query names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.queries))
	for name := range r.queries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
