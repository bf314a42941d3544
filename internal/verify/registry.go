package verify

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/jkaninda/echoservice/internal/connection"
	"github.com/jkaninda/echoservice/internal/diag"
)

// Registry maps kind names to verifiers. Kinds are matched case-insensitively.
type Registry struct {
	mu      sync.RWMutex
	runners map[string]Runner
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{runners: make(map[string]Runner)}
}

// Register adds r. Registering the same kind twice is an error.
func (reg *Registry) Register(r Runner) error {
	key := strings.ToLower(r.Kind())
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if _, exists := reg.runners[key]; exists {
		return fmt.Errorf("verifier %q already registered", r.Kind())
	}
	reg.runners[key] = r
	return nil
}

// Lookup returns the verifier for kind.
func (reg *Registry) Lookup(kind string) (Runner, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	r, ok := reg.runners[strings.ToLower(strings.TrimSpace(kind))]
	return r, ok
}

// Kinds returns the registered kind names, sorted.
func (reg *Registry) Kinds() []string {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	out := make([]string, 0, len(reg.runners))
	for _, r := range reg.runners {
		out = append(out, r.Kind())
	}
	sort.Strings(out)
	return out
}

// Verify dispatches to the verifier for kind. An unknown kind is a failed
// result, not an error.
func (reg *Registry) Verify(ctx context.Context, scope *diag.Scope, kind string, params Params) Result {
	r, ok := reg.Lookup(kind)
	if !ok {
		err := &connection.NotFoundError{Kind: "verifier", Name: kind}
		scope.Set(diag.KeyErrorClass, ClassNotFound)
		return Failed(Failure{Error: err.Error(), Diagnostics: scope.Entries()})
	}
	return r.Verify(ctx, scope, params)
}
