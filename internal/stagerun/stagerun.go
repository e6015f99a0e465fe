// Package stagerun implements spec.md §4.5's invocation store and
// dispatcher: computing a StageRun's content-addressable id, deduplicating
// creation, and enforcing the PENDING->RUNNING->{COMPLETED,FAILED} status
// machine. Grounded on the teacher's pkg/serve dispatch handlers (the
// request/claim/ack flow of modules/zeta/protocol), generalised from "push
// objects, clone repos" to "create invocations, claim them, report
// results".
package stagerun

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/stagegraph/stagegraph/internal/objhash"
	"github.com/stagegraph/stagegraph/internal/store"
)

// ComputeID implements spec.md §3's StageRun id formula:
//
//	id = SHA256(parent_id || "|" || commit_hash || "|" || workflow_file
//	              || "|" || stage_name || "|" || canonical_json(arguments))
//
// arguments must already be a canonical JSON string (sorted keys, no
// whitespace) — callers build it via objhash.CanonicalString.
func ComputeID(parentID, commitHash, workflowFile, stageName, canonicalArguments string) string {
	h := sha256.New()
	h.Write([]byte(parentID))
	h.Write([]byte("|"))
	h.Write([]byte(commitHash))
	h.Write([]byte("|"))
	h.Write([]byte(workflowFile))
	h.Write([]byte("|"))
	h.Write([]byte(stageName))
	h.Write([]byte("|"))
	h.Write([]byte(canonicalArguments))
	return hex.EncodeToString(h.Sum(nil))
}

// Dispatcher wraps the relational store with the content-addressing and
// status-machine rules from spec.md §4.5/§4.6.
type Dispatcher struct {
	db *store.DB
}

// New returns a Dispatcher backed by db.
func New(db *store.DB) *Dispatcher {
	return &Dispatcher{db: db}
}

// CreateCall implements create_call: computes the content-addressable id
// from (parentID, commitHash, workflowFile, stageName, arguments) and
// either returns the existing row or inserts a new PENDING one (spec.md
// §4.5's "INSERT OR RETURN EXISTING"). arguments is any JSON-marshalable
// value; it is canonicalised internally.
func (d *Dispatcher) CreateCall(ctx context.Context, parentID, repoName, commitHash, workflowFile, stageName string, arguments any, triggeredBy, triggerEvent string) (*store.StageRunRow, bool, error) {
	canonArgs, err := objhash.Canonical(arguments)
	if err != nil {
		return nil, false, fmt.Errorf("stagerun: canonicalise arguments: %w", err)
	}
	id := ComputeID(parentID, commitHash, workflowFile, stageName, string(canonArgs))
	return d.db.CreateOrGetStageRun(ctx, id, store.StageRunRow{
		ParentID:     parentID,
		RepoName:     repoName,
		CommitHash:   commitHash,
		WorkflowFile: workflowFile,
		StageName:    stageName,
		Arguments:    string(canonArgs),
		Status:       store.StatusPending,
		TriggeredBy:  triggeredBy,
		TriggerEvent: triggerEvent,
		CreatedAt:    time.Now(),
	})
}

// Poll returns up to limit oldest PENDING rows (spec.md §4.5's "A worker
// requesting work receives the oldest status = PENDING rows").
func (d *Dispatcher) Poll(ctx context.Context, limit int) ([]*store.StageRunRow, error) {
	return d.db.ListPendingStageRuns(ctx, limit)
}

// ErrClaimConflict is returned when the caller lost the compare-and-set
// race for a PENDING row — the HTTP layer maps this to 409 (spec.md §7's
// "claim race: concurrent start on the same PENDING row").
var ErrClaimConflict = store.ErrClaimConflict

// Claim performs the PENDING->RUNNING compare-and-set.
func (d *Dispatcher) Claim(ctx context.Context, id string) (*store.StageRunRow, error) {
	return d.db.ClaimStageRun(ctx, id, time.Now())
}

// ErrInvalidTransition is returned on any transition other than
// PENDING->RUNNING or RUNNING->{COMPLETED,FAILED}.
var ErrInvalidTransition = store.ErrInvalidTransition

// FinishOK performs RUNNING->COMPLETED, recording the JSON-serialised
// return value.
func (d *Dispatcher) FinishOK(ctx context.Context, id string, resultValue string) (*store.StageRunRow, error) {
	return d.db.FinishStageRun(ctx, id, store.StatusCompleted, &resultValue, nil, time.Now())
}

// FinishError performs RUNNING->FAILED, recording the error string.
func (d *Dispatcher) FinishError(ctx context.Context, id string, errMessage string) (*store.StageRunRow, error) {
	return d.db.FinishStageRun(ctx, id, store.StatusFailed, nil, &errMessage, time.Now())
}

// Get fetches a stage run by id.
func (d *Dispatcher) Get(ctx context.Context, id string) (*store.StageRunRow, error) {
	return d.db.GetStageRun(ctx, id)
}

// ListByTriggerEvent returns every stage run sharing a trigger event, used
// by the PR check engine's merge gate (spec.md §4.7).
func (d *Dispatcher) ListByTriggerEvent(ctx context.Context, triggerEvent string) ([]*store.StageRunRow, error) {
	return d.db.ListStageRunsByTriggerEvent(ctx, triggerEvent)
}

// RecordLogLines appends a batch of log lines, assigning dense monotonic
// indices starting from the current count (I6). Not safe for concurrent
// callers writing the same stage_run_id: the count and the insert are not
// serialised here, and the HTTP log handler adds no locking of its own.
func (d *Dispatcher) RecordLogLines(ctx context.Context, stageRunID string, lines []string, timestamps []time.Time) (int, error) {
	if len(lines) != len(timestamps) {
		return 0, fmt.Errorf("stagerun: lines/timestamps length mismatch")
	}
	start, err := d.db.CountLogLines(ctx, stageRunID)
	if err != nil {
		return 0, err
	}
	rows := make([]store.LogLineRow, len(lines))
	for i, l := range lines {
		rows[i] = store.LogLineRow{
			StageRunID: stageRunID,
			Index:      start + int64(i),
			Timestamp:  timestamps[i].UTC().Format(time.RFC3339Nano),
			Contents:   l,
		}
	}
	return d.db.AppendLogLines(ctx, rows)
}

// ListLogLines returns a page of log lines with a has_more flag (spec.md
// §6.1's concrete pagination scenario).
func (d *Dispatcher) ListLogLines(ctx context.Context, stageRunID string, sinceIndex int64, limit int) ([]store.LogLineRow, bool, error) {
	return d.db.ListLogLines(ctx, stageRunID, sinceIndex, limit)
}

// WriteStageFile records a worker's write_file(path, bytes) output as a
// StageFile row, idempotent by (stage_run_id, file_path) (spec.md §3).
func (d *Dispatcher) WriteStageFile(ctx context.Context, stageRunID, filePath string, contentHash objhash.Hash, storageKey string, size int64) error {
	id := sha256Hex(stageRunID + "|" + filePath)
	return d.db.UpsertStageFile(ctx, store.StageFileRow{
		ID:          id,
		StageRunID:  stageRunID,
		FilePath:    filePath,
		ContentHash: contentHash.String(),
		StorageKey:  storageKey,
		Size:        size,
	})
}

func sha256Hex(s string) string {
	h := sha256.Sum256([]byte(s))
	return hex.EncodeToString(h[:])
}
