package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// StageRunStatus is the status-machine value from spec.md §4.5.
type StageRunStatus string

const (
	StatusPending   StageRunStatus = "PENDING"
	StatusRunning   StageRunStatus = "RUNNING"
	StatusCompleted StageRunStatus = "COMPLETED"
	StatusFailed    StageRunStatus = "FAILED"
)

// StageRunRow is the persisted shape of spec.md §3's StageRun.
type StageRunRow struct {
	ID           string
	ParentID     string // "" if none
	RepoName     string
	CommitHash   string
	WorkflowFile string
	StageName    string
	Arguments    string // canonical JSON
	Status       StageRunStatus
	StartedAt    *time.Time
	CompletedAt  *time.Time
	ResultValue  *string
	ErrorMessage *string
	TriggeredBy  string
	TriggerEvent string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ErrInvalidTransition is spec.md §7's InvalidTransition error kind.
var ErrInvalidTransition = errors.New("store: invalid stage run status transition")

// ErrClaimConflict is returned when a claim loses its compare-and-set race.
var ErrClaimConflict = errors.New("store: stage run not claimable")

// CreateOrGetStageRun implements spec.md §4.5's "INSERT OR RETURN EXISTING":
// two callers requesting the identical (parent, commit, file, stage, args)
// tuple receive the same row. Returns the row and whether it was newly
// created; a caller whose insert was a no-op because a concurrent caller
// inserted the same id first also gets true.
func (db *DB) CreateOrGetStageRun(ctx context.Context, id string, row StageRunRow) (*StageRunRow, bool, error) {
	if existing, err := db.GetStageRun(ctx, id); err == nil {
		return existing, false, nil
	} else if _, ok := err.(*NotFoundError); !ok {
		return nil, false, err
	}

	var parent any
	if row.ParentID != "" {
		parent = row.ParentID
	}
	now := row.CreatedAt.UTC().Format(time.RFC3339Nano)
	stmt := db.insertIgnore(`INSERT INTO stage_runs
		(id, parent_id, repo_name, commit_hash, workflow_file, stage_name, arguments, status, triggered_by, trigger_event, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, "id")
	_, err := db.sql.ExecContext(ctx, stmt,
		id, parent, row.RepoName, row.CommitHash, row.WorkflowFile, row.StageName, row.Arguments,
		StatusPending, row.TriggeredBy, row.TriggerEvent, now, now)
	if err != nil {
		return nil, false, fmt.Errorf("store: create stage run: %w", err)
	}
	created, err := db.GetStageRun(ctx, id)
	if err != nil {
		return nil, false, err
	}
	// A concurrent caller may have won the race to insert the same
	// content-addressed id; either way the row we read back is "the"
	// row for this tuple (I2). created=true is reported in both cases:
	// the insert result does not tell the two apart.
	return created, true, nil
}

// GetStageRun fetches a stage run by id.
func (db *DB) GetStageRun(ctx context.Context, id string) (*StageRunRow, error) {
	row := db.sql.QueryRowContext(ctx, `SELECT
		id, parent_id, repo_name, commit_hash, workflow_file, stage_name, arguments, status,
		started_at, completed_at, result_value, error_message, triggered_by, trigger_event, created_at, updated_at
		FROM stage_runs WHERE id = ?`, id)
	return scanStageRun(row)
}

func scanStageRun(row *sql.Row) (*StageRunRow, error) {
	var r StageRunRow
	var parent, started, completed, result, errMsg, triggeredBy, triggerEvent sql.NullString
	var created, updated string
	if err := row.Scan(&r.ID, &parent, &r.RepoName, &r.CommitHash, &r.WorkflowFile, &r.StageName,
		&r.Arguments, &r.Status, &started, &completed, &result, &errMsg, &triggeredBy, &triggerEvent,
		&created, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound("stage_run", "")
		}
		return nil, err
	}
	r.CreatedAt = parseTime(created)
	r.UpdatedAt = parseTime(updated)
	r.ParentID = parent.String
	r.TriggeredBy = triggeredBy.String
	r.TriggerEvent = triggerEvent.String
	if started.Valid {
		t := parseTime(started.String)
		r.StartedAt = &t
	}
	if completed.Valid {
		t := parseTime(completed.String)
		r.CompletedAt = &t
	}
	if result.Valid {
		r.ResultValue = &result.String
	}
	if errMsg.Valid {
		r.ErrorMessage = &errMsg.String
	}
	return &r, nil
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

// ListPendingStageRuns returns up to limit PENDING rows, oldest first
// (spec.md §4.5's "oldest status=PENDING rows").
func (db *DB) ListPendingStageRuns(ctx context.Context, limit int) ([]*StageRunRow, error) {
	rows, err := db.sql.QueryContext(ctx, `SELECT
		id, parent_id, repo_name, commit_hash, workflow_file, stage_name, arguments, status,
		started_at, completed_at, result_value, error_message, triggered_by, trigger_event, created_at, updated_at
		FROM stage_runs WHERE status = ? ORDER BY created_at ASC, id ASC LIMIT ?`, StatusPending, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list pending: %w", err)
	}
	defer rows.Close()
	var out []*StageRunRow
	for rows.Next() {
		r, err := scanStageRunRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanStageRunRows(rows *sql.Rows) (*StageRunRow, error) {
	var r StageRunRow
	var parent, started, completed, result, errMsg, triggeredBy, triggerEvent sql.NullString
	var created, updated string
	if err := rows.Scan(&r.ID, &parent, &r.RepoName, &r.CommitHash, &r.WorkflowFile, &r.StageName,
		&r.Arguments, &r.Status, &started, &completed, &result, &errMsg, &triggeredBy, &triggerEvent,
		&created, &updated); err != nil {
		return nil, err
	}
	r.CreatedAt = parseTime(created)
	r.UpdatedAt = parseTime(updated)
	r.ParentID = parent.String
	r.TriggeredBy = triggeredBy.String
	r.TriggerEvent = triggerEvent.String
	if started.Valid {
		t := parseTime(started.String)
		r.StartedAt = &t
	}
	if completed.Valid {
		t := parseTime(completed.String)
		r.CompletedAt = &t
	}
	if result.Valid {
		r.ResultValue = &result.String
	}
	if errMsg.Valid {
		r.ErrorMessage = &errMsg.String
	}
	return &r, nil
}

// ClaimStageRun performs the compare-and-set PENDING -> RUNNING described in
// spec.md §4.5/§4.6: "Claim is a compare-and-set on status (PENDING->RUNNING)
// atomic at the row level; the first successful claim wins, losers retry."
func (db *DB) ClaimStageRun(ctx context.Context, id string, now time.Time) (*StageRunRow, error) {
	res, err := db.sql.ExecContext(ctx,
		`UPDATE stage_runs SET status = ?, started_at = ?, updated_at = ? WHERE id = ? AND status = ?`,
		StatusRunning, now.UTC().Format(time.RFC3339Nano), now.UTC().Format(time.RFC3339Nano), id, StatusPending)
	if err != nil {
		return nil, fmt.Errorf("store: claim stage run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, ErrClaimConflict
	}
	return db.GetStageRun(ctx, id)
}

// FinishStageRun performs the RUNNING -> {COMPLETED, FAILED} transition.
func (db *DB) FinishStageRun(ctx context.Context, id string, status StageRunStatus, resultValue, errMessage *string, now time.Time) (*StageRunRow, error) {
	if status != StatusCompleted && status != StatusFailed {
		return nil, ErrInvalidTransition
	}
	res, err := db.sql.ExecContext(ctx,
		`UPDATE stage_runs SET status = ?, completed_at = ?, result_value = ?, error_message = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		status, now.UTC().Format(time.RFC3339Nano), nullableString(resultValue), nullableString(errMessage),
		now.UTC().Format(time.RFC3339Nano), id, StatusRunning)
	if err != nil {
		return nil, fmt.Errorf("store: finish stage run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, ErrInvalidTransition
	}
	return db.GetStageRun(ctx, id)
}

func nullableString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

// ListStageRunsByTriggerEvent returns all stage runs sharing a trigger
// event, used by the PR check engine's merge gate (spec.md §4.7).
func (db *DB) ListStageRunsByTriggerEvent(ctx context.Context, triggerEvent string) ([]*StageRunRow, error) {
	rows, err := db.sql.QueryContext(ctx, `SELECT
		id, parent_id, repo_name, commit_hash, workflow_file, stage_name, arguments, status,
		started_at, completed_at, result_value, error_message, triggered_by, trigger_event, created_at, updated_at
		FROM stage_runs WHERE trigger_event = ? ORDER BY created_at ASC`, triggerEvent)
	if err != nil {
		return nil, fmt.Errorf("store: list by trigger event: %w", err)
	}
	defer rows.Close()
	var out []*StageRunRow
	for rows.Next() {
		r, err := scanStageRunRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListChildStageRuns returns the direct children of parentID, used by the
// VFS's StageRunNode.children() (spec.md §4.4).
func (db *DB) ListChildStageRuns(ctx context.Context, parentID string) ([]*StageRunRow, error) {
	rows, err := db.sql.QueryContext(ctx, `SELECT
		id, parent_id, repo_name, commit_hash, workflow_file, stage_name, arguments, status,
		started_at, completed_at, result_value, error_message, triggered_by, trigger_event, created_at, updated_at
		FROM stage_runs WHERE parent_id = ? ORDER BY stage_name ASC, id ASC`, parentID)
	if err != nil {
		return nil, fmt.Errorf("store: list children: %w", err)
	}
	defer rows.Close()
	var out []*StageRunRow
	for rows.Next() {
		r, err := scanStageRunRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListRootStageRunsForWorkflowFile returns the parent-less stage runs
// attached to (repoName, commitHash, workflowFile) — spec.md §4.4's
// BlobNode.children(): "workflow invocations attached to this source file,
// only roots, i.e. parent_id IS NULL".
func (db *DB) ListRootStageRunsForWorkflowFile(ctx context.Context, repoName, commitHash, workflowFile string) ([]*StageRunRow, error) {
	rows, err := db.sql.QueryContext(ctx, `SELECT
		id, parent_id, repo_name, commit_hash, workflow_file, stage_name, arguments, status,
		started_at, completed_at, result_value, error_message, triggered_by, trigger_event, created_at, updated_at
		FROM stage_runs
		WHERE repo_name = ? AND commit_hash = ? AND workflow_file = ? AND parent_id IS NULL
		ORDER BY stage_name ASC, id ASC`, repoName, commitHash, workflowFile)
	if err != nil {
		return nil, fmt.Errorf("store: list roots: %w", err)
	}
	defer rows.Close()
	var out []*StageRunRow
	for rows.Next() {
		r, err := scanStageRunRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
