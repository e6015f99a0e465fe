// Package worker implements spec.md §4.6's worker protocol: poll, claim,
// fetch code, execute, ship logs, report. Grounded on the teacher's
// pkg/serve/odb (errgroup-based concurrent I/O) and pkg/command worker
// loops, generalised from Git object transfer to invocation execution.
//
// A real worker interprets source fetched from the control plane; this
// engine's workers instead dispatch to Go functions registered ahead of
// time and keyed by (workflow_file, stage_name) — the practical Go
// analogue of "load the module and call the named function". Fetched
// workflow file bytes are still retrieved and cached exactly as spec.md
// describes, so a registry entry can inspect or hash its own source if it
// needs to.
package worker

import (
	"context"
	"fmt"
	"sync"
)

// StageFunc is a registered stage implementation. args/kwargs mirror the
// reconstructed (*args, **kwargs) call spec.md §4.6 describes; the return
// value is JSON-marshalled into StageRun.result_value.
type StageFunc func(ctx context.Context, sc *StageContext, args []any, kwargs map[string]any) (any, error)

func registryKey(workflowFile, stageName string) string {
	return workflowFile + "::" + stageName
}

// Registry maps (workflow_file, stage_name) to a StageFunc.
type Registry struct {
	mu    sync.RWMutex
	funcs map[string]StageFunc
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{funcs: make(map[string]StageFunc)}
}

// Register binds (workflowFile, stageName) to fn. Registering the same key
// twice overwrites the previous binding, matching how a reloaded module
// would redefine a function.
func (r *Registry) Register(workflowFile, stageName string, fn StageFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.funcs[registryKey(workflowFile, stageName)] = fn
}

// Lookup returns the registered function for (workflowFile, stageName), or
// false if none is bound.
func (r *Registry) Lookup(workflowFile, stageName string) (StageFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.funcs[registryKey(workflowFile, stageName)]
	return fn, ok
}

// ErrNotRegistered is returned when a claimed call names a stage function
// this worker has no binding for.
type ErrNotRegistered struct {
	WorkflowFile string
	StageName    string
}

func (e *ErrNotRegistered) Error() string {
	return fmt.Sprintf("worker: no stage function registered for %s::%s", e.WorkflowFile, e.StageName)
}
