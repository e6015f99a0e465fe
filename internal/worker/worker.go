package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/stagegraph/stagegraph/internal/client"
)

// Config configures a Worker.
type Config struct {
	ServerURL    string
	WorkerID     string
	PollInterval time.Duration
	Concurrency  int64 // max calls executed in parallel by this process
}

func (c Config) withDefaults() Config {
	if c.WorkerID == "" {
		c.WorkerID = uuid.NewString()
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Second
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	return c
}

// Worker implements spec.md §4.6's poll/claim/fetch/execute/log/report
// loop, running one cooperative pool of execution tasks per process (§5).
// Grounded on the teacher's errgroup-based concurrent odb transfers
// (pkg/serve/odb/oss.go), generalised from a fixed fan-out to a bounded
// pool gated by golang.org/x/sync/semaphore so polling never blocks behind
// in-flight executions.
type Worker struct {
	cfg      Config
	cp       *client.Client
	registry *Registry
	cache    *ModuleCache
	sem      *semaphore.Weighted
}

// New builds a Worker against the control plane at cfg.ServerURL, executing
// calls through registry.
func New(cfg Config, registry *Registry) *Worker {
	cfg = cfg.withDefaults()
	cp := client.New(cfg.ServerURL)
	return &Worker{
		cfg:      cfg,
		cp:       cp,
		registry: registry,
		cache:    NewModuleCache(cp),
		sem:      semaphore.NewWeighted(cfg.Concurrency),
	}
}

// Run polls until ctx is cancelled. Each claimed call is executed on its
// own goroutine bounded by cfg.Concurrency; Run itself never blocks on a
// call's completion, so polling continues at cfg.PollInterval regardless
// of how long in-flight executions take.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		w.pollOnce(ctx)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (w *Worker) pollOnce(ctx context.Context) {
	calls, err := w.cp.PollPending(ctx, 16)
	if err != nil {
		logrus.Warnf("worker[%s]: poll failed: %v", w.cfg.WorkerID, err)
		return
	}
	for _, call := range calls {
		call := call
		if !w.sem.TryAcquire(1) {
			break // pool is full; remaining pending calls wait for next poll
		}
		go func() {
			defer w.sem.Release(1)
			w.claimAndExecute(ctx, call)
		}()
	}
}

func (w *Worker) claimAndExecute(ctx context.Context, call client.CallState) {
	if err := w.cp.Start(ctx, call.InvocationID, w.cfg.WorkerID); err != nil {
		var statusErr *client.StatusError
		if errors.As(err, &statusErr) && statusErr.Status == 409 {
			return // lost the claim race; another worker has it
		}
		logrus.Warnf("worker[%s]: claim %s: %v", w.cfg.WorkerID, call.InvocationID, err)
		return
	}

	result, execErr := w.execute(ctx, call)
	if execErr != nil {
		if err := w.cp.Finish(ctx, call.InvocationID, false, nil, execErr.Error()); err != nil {
			logrus.Warnf("worker[%s]: report failure for %s: %v", w.cfg.WorkerID, call.InvocationID, err)
		}
		return
	}
	if err := w.cp.Finish(ctx, call.InvocationID, true, result, ""); err != nil {
		logrus.Warnf("worker[%s]: report success for %s: %v", w.cfg.WorkerID, call.InvocationID, err)
	}
}

// execute fetches the workflow file (module cache), looks up the stage
// function, and runs it with its own log shipper and execution context —
// no state is shared across calls (spec.md §4.6).
func (w *Worker) execute(ctx context.Context, call client.CallState) (result any, err error) {
	if _, err := w.cache.Fetch(ctx, call.RepoName, call.CommitHash, call.WorkflowFile); err != nil {
		return nil, fmt.Errorf("worker: %w", err)
	}

	fn, ok := w.registry.Lookup(call.WorkflowFile, call.FunctionName)
	if !ok {
		return nil, &ErrNotRegistered{WorkflowFile: call.WorkflowFile, StageName: call.FunctionName}
	}

	args, kwargs := unpackArguments(call.Arguments)
	sc := newStageContext(w.cp, w.cfg.ServerURL, call.InvocationID, call.RepoName, call.CommitHash, w.sem)

	shipper := newLogShipper(w.cp, call.InvocationID)
	defer shipper.Close()

	ctx = withLogWriter(ctx, shipper)

	// Stage function panics (the Go analogue of a raised exception) become
	// WorkflowExecutionError on the invocation, never propagate (spec.md §4.8).
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("worker: stage %s::%s panicked: %v", call.WorkflowFile, call.FunctionName, rec)
		}
	}()
	return fn(ctx, sc, args, kwargs)
}

// unpackArguments reconstructs (args, kwargs) from the JSON value
// transport carries them as — either the typed client.CallArguments shape
// the worker itself produced, or the generic map[string]any a JSON decode
// from the wire leaves it as.
func unpackArguments(raw any) ([]any, map[string]any) {
	if raw == nil {
		return nil, nil
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return nil, nil
	}
	var wire struct {
		Args   []any          `json:"args"`
		Kwargs map[string]any `json:"kwargs"`
	}
	if err := json.Unmarshal(b, &wire); err != nil {
		return nil, nil
	}
	return wire.Args, wire.Kwargs
}
