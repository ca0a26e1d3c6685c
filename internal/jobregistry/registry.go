// Package jobregistry resolves a task definition's job.class to a concrete
// contracts.JobConstructor, the registry lookup named in Design Notes §9 of
// the specification: job classes are registered once at process start, and
// a task definition naming an unregistered class fails with
// contracts.ErrUnknownJobClass when the Executor constructs its job, which
// happens after the task has been claimed.
package jobregistry

import (
	"sync"

	"github.com/ciqueue/runner/contracts"
)

// Registry is a concurrency-safe map of job class name to constructor.
type Registry struct {
	mu    sync.RWMutex
	ctors map[string]contracts.JobConstructor
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{ctors: make(map[string]contracts.JobConstructor)}
}

// Register binds a job class name to a constructor. Re-registering a class
// overwrites the previous binding — callers are expected to register all
// classes once at startup, in deterministic order.
func (r *Registry) Register(class string, ctor contracts.JobConstructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ctors[class] = ctor
}

// Resolve returns the constructor for class, or contracts.ErrUnknownJobClass
// if no class was registered under that name.
func (r *Registry) Resolve(class string) (contracts.JobConstructor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ctor, ok := r.ctors[class]
	if !ok {
		return nil, contracts.ErrUnknownJobClass
	}
	return ctor, nil
}

// Construct resolves class and invokes its constructor in one step, the
// form internal/executor uses to build a Job from a TaskDefinition's job
// spec.
func (r *Registry) Construct(class string, spec contracts.JobSpec, repoURL, refspec, workDir string) (contracts.Job, error) {
	ctor, err := r.Resolve(class)
	if err != nil {
		return nil, err
	}
	return ctor(spec, repoURL, refspec, workDir)
}

// AsConstructor adapts the registry itself into a contracts.JobConstructor
// that dispatches on spec.Class, the shape internal/executor.New expects.
func (r *Registry) AsConstructor() contracts.JobConstructor {
	return func(spec contracts.JobSpec, repoURL, refspec, workDir string) (contracts.Job, error) {
		return r.Construct(spec.Class, spec, repoURL, refspec, workDir)
	}
}
