package cloud

import (
	"slices"
	"sync"

	"github.com/hugh/go-reclaim/internal/database/models"
)

type executorKey struct {
	service string
	kind    models.ActionKind
}

// Registry dispatches by service and by (service, action kind).
type Registry struct {
	mu         sync.RWMutex
	inspectors map[string]ResourceInspector
	executors  map[executorKey]ActionExecutor
}

func NewRegistry() *Registry {
	return &Registry{
		inspectors: make(map[string]ResourceInspector),
		executors:  make(map[executorKey]ActionExecutor),
	}
}

// RegisterInspector replaces any inspector already registered for the same service.
func (r *Registry) RegisterInspector(i ResourceInspector) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inspectors[i.Service()] = i
}

func (r *Registry) RegisterExecutor(e ActionExecutor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors[executorKey{service: e.Service(), kind: e.Kind()}] = e
}

func (r *Registry) Inspector(service string) (ResourceInspector, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i, ok := r.inspectors[service]
	return i, ok
}

func (r *Registry) Executor(service string, kind models.ActionKind) (ActionExecutor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.executors[executorKey{service: service, kind: kind}]
	return e, ok
}

// Services returns the inspectable services, sorted.
func (r *Registry) Services() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.inspectors))
	for s := range r.inspectors {
		out = append(out, s)
	}
	slices.Sort(out)
	return out
}
