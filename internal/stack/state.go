package stack

import (
	"sort"
	"sync"
)

// GlobalNamespace is the shared-state namespace used when callers name none.
const GlobalNamespace = "global"

// SharedState is a (namespace, key) → value store shared across all
// branches of an agent. Writes are visible to subsequent reads immediately;
// isolation between branches is a caller convention, not enforced here.
type SharedState struct {
	mu   sync.RWMutex
	data map[string]map[string]any
}

// NewSharedState creates an empty store.
func NewSharedState() *SharedState {
	return &SharedState{data: make(map[string]map[string]any)}
}

func normalizeNamespace(namespace string) string {
	if namespace == "" {
		return GlobalNamespace
	}
	return namespace
}

// Get returns the value for key in the namespace, or def when unset.
func (s *SharedState) Get(key, namespace string, def any) any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ns, ok := s.data[normalizeNamespace(namespace)]
	if !ok {
		return def
	}
	value, ok := ns[key]
	if !ok {
		return def
	}
	return value
}

// Set stores value under key in the namespace. Last write wins.
func (s *SharedState) Set(key string, value any, namespace string) {
	namespace = normalizeNamespace(namespace)
	s.mu.Lock()
	defer s.mu.Unlock()
	ns, ok := s.data[namespace]
	if !ok {
		ns = make(map[string]any)
		s.data[namespace] = ns
	}
	ns[key] = value
}

// All returns a copy of every key in the namespace.
func (s *SharedState) All(namespace string) map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ns := s.data[normalizeNamespace(namespace)]
	out := make(map[string]any, len(ns))
	for k, v := range ns {
		out[k] = v
	}
	return out
}

// Namespaces returns the sorted list of namespaces holding at least one key.
func (s *SharedState) Namespaces() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.data))
	for ns, keys := range s.data {
		if len(keys) > 0 {
			out = append(out, ns)
		}
	}
	sort.Strings(out)
	return out
}

// Export returns a deep-enough copy of the whole store for serialization.
func (s *SharedState) Export() map[string]map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]map[string]any, len(s.data))
	for ns, keys := range s.data {
		copied := make(map[string]any, len(keys))
		for k, v := range keys {
			copied[k] = v
		}
		out[ns] = copied
	}
	return out
}

// Import replaces the store contents. Used when restoring a snapshot.
func (s *SharedState) Import(data map[string]map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = make(map[string]map[string]any, len(data))
	for ns, keys := range data {
		copied := make(map[string]any, len(keys))
		for k, v := range keys {
			copied[k] = v
		}
		s.data[normalizeNamespace(ns)] = copied
	}
}
