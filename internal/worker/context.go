package worker

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/stagegraph/stagegraph/internal/client"
)

// StageContext carries (control_plane_url, stage_run_id, repo_name,
// commit_hash) into an executing stage function and exposes read_file/
// write_file and nested stage dispatch (spec.md §4.6). One StageContext is
// built per execution — never shared across calls.
type StageContext struct {
	ControlPlaneURL string
	StageRunID      string
	RepoName        string
	CommitHash      string

	cp   *client.Client
	self string // own stage run id, used as parent_id for nested calls
	sem  *semaphore.Weighted
}

func newStageContext(cp *client.Client, baseURL, stageRunID, repoName, commitHash string, sem *semaphore.Weighted) *StageContext {
	return &StageContext{
		ControlPlaneURL: baseURL,
		StageRunID:      stageRunID,
		RepoName:        repoName,
		CommitHash:      commitHash,
		cp:              cp,
		self:            stageRunID,
		sem:             sem,
	}
}

// ReadFile retrieves a StageFile previously written under path on this
// invocation.
func (sc *StageContext) ReadFile(ctx context.Context, path string) ([]byte, error) {
	return sc.cp.ReadFile(ctx, sc.StageRunID, path)
}

// WriteFile uploads data as a StageFile at path on this invocation.
func (sc *StageContext) WriteFile(ctx context.Context, path string, data []byte) error {
	_, _, err := sc.cp.WriteFile(ctx, sc.StageRunID, path, data)
	return err
}

const childPollInterval = 200 * time.Millisecond

// CallChild dispatches a nested stage call with parent_id = self, through
// the same HTTP API a top-level call uses (spec.md §4.6), and blocks until
// the child reaches a terminal status.
//
// Waiting on the child releases this goroutine's concurrency-pool permit
// for the duration of the wait (spec.md §5: "the worker must still be able
// to serve other calls meanwhile") — otherwise every worker goroutine could
// end up parked waiting on a child call that can never be claimed because
// the whole pool is itself blocked waiting on children. The permit is
// re-acquired, unconditionally and ignoring ctx cancellation, before
// CallChild returns, so the one-permit-per-in-flight-execution invariant
// the caller's defer w.sem.Release(1) relies on always holds.
func (sc *StageContext) CallChild(ctx context.Context, workflowFile, stageName string, args []any, kwargs map[string]any) (any, error) {
	id, err := sc.cp.CreateCall(ctx, client.CreateCallRequest{
		CallerID:     sc.self,
		FunctionName: stageName,
		Arguments:    client.CallArguments{Args: args, Kwargs: kwargs},
		RepoName:     sc.RepoName,
		CommitHash:   sc.CommitHash,
		WorkflowFile: workflowFile,
	})
	if err != nil {
		return nil, fmt.Errorf("worker: create child call %s::%s: %w", workflowFile, stageName, err)
	}

	if sc.sem != nil {
		sc.sem.Release(1)
		defer func() { _ = sc.sem.Acquire(context.Background(), 1) }()
	}

	ticker := time.NewTicker(childPollInterval)
	defer ticker.Stop()
	for {
		state, err := sc.cp.GetCall(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("worker: poll child call %s: %w", id, err)
		}
		switch state.Status {
		case "COMPLETED":
			return state.ResultValue, nil
		case "FAILED":
			return nil, fmt.Errorf("worker: child call %s failed: %s", id, state.ErrorMessage)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
