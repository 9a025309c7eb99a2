package agentsec

import "sync"

// Registry is a process-global idempotency tracker for patched
// libraries. No component outside the registry keeps patch state.
type Registry struct {
	mu      sync.Mutex
	patched map[string]bool
}

// NewRegistry builds an empty Registry. A default process-global
// instance is created lazily by Protect for CLI convenience; tests
// that need isolation construct their own.
func NewRegistry() *Registry {
	return &Registry{patched: make(map[string]bool)}
}

// IsPatched reports whether name has already been marked patched.
func (r *Registry) IsPatched(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.patched[name]
}

// MarkPatched marks name as patched. Calling it repeatedly for the
// same name is a no-op after the first call.
func (r *Registry) MarkPatched(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.patched[name] = true
	recordPatched(name)
}

// PatchedNames returns the names currently marked patched.
func (r *Registry) PatchedNames() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.patched))
	for name, ok := range r.patched {
		if ok {
			out = append(out, name)
		}
	}
	return out
}

// reset clears all patch state. Exposed only for tests that need a
// clean registry between runs of Protect.
func (r *Registry) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.patched = make(map[string]bool)
}
