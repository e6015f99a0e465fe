package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// PullRequestStatus is the PullRequest.status enumeration from spec.md §3.
type PullRequestStatus string

const (
	PRStatusOpen   PullRequestStatus = "OPEN"
	PRStatusClosed PullRequestStatus = "CLOSED"
	PRStatusMerged PullRequestStatus = "MERGED"
)

// PullRequestRow is the persisted shape of spec.md §3's PullRequest.
type PullRequestRow struct {
	ID              int64
	RepoName        string
	Number          int
	BaseBranch      string
	HeadBranch      string
	Title           string
	Description     string
	Author          string
	Status          PullRequestStatus
	MergeCommitHash string
	MergedAt        *time.Time
	MergedBy        string
}

// CreatePullRequest inserts a PR, assigning the next per-repo sequence
// number (spec.md §3: "number (per-repo sequence)").
func (db *DB) CreatePullRequest(ctx context.Context, repoName, base, head, title, description, author string) (*PullRequestRow, error) {
	tx, err := db.sql.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("store: create pr: begin: %w", err)
	}
	defer tx.Rollback()

	var maxNum sql.NullInt64
	if err := tx.QueryRowContext(ctx,
		`SELECT MAX(number) FROM pull_requests WHERE repo_name = ?`, repoName).Scan(&maxNum); err != nil {
		return nil, err
	}
	number := int(maxNum.Int64) + 1

	res, err := tx.ExecContext(ctx,
		`INSERT INTO pull_requests (repo_name, number, base_branch, head_branch, title, description, author, status)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		repoName, number, base, head, title, description, author, PRStatusOpen)
	if err != nil {
		return nil, fmt.Errorf("store: create pr: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &PullRequestRow{
		ID: id, RepoName: repoName, Number: number, BaseBranch: base, HeadBranch: head,
		Title: title, Description: description, Author: author, Status: PRStatusOpen,
	}, nil
}

// GetPullRequest looks up a PR by (repoName, number).
func (db *DB) GetPullRequest(ctx context.Context, repoName string, number int) (*PullRequestRow, error) {
	row := db.sql.QueryRowContext(ctx, `SELECT
		id, repo_name, number, base_branch, head_branch, title, description, author, status,
		merge_commit_hash, merged_at, merged_by
		FROM pull_requests WHERE repo_name = ? AND number = ?`, repoName, number)
	return scanPullRequest(row)
}

func scanPullRequest(row *sql.Row) (*PullRequestRow, error) {
	var pr PullRequestRow
	var desc, mergeHash, mergedAt, mergedBy sql.NullString
	if err := row.Scan(&pr.ID, &pr.RepoName, &pr.Number, &pr.BaseBranch, &pr.HeadBranch, &pr.Title,
		&desc, &pr.Author, &pr.Status, &mergeHash, &mergedAt, &mergedBy); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound("pull_request", "")
		}
		return nil, err
	}
	pr.Description = desc.String
	pr.MergeCommitHash = mergeHash.String
	pr.MergedBy = mergedBy.String
	if mergedAt.Valid {
		t := parseTime(mergedAt.String)
		pr.MergedAt = &t
	}
	return &pr, nil
}

// ListPullRequests returns every PR for a repository, newest first.
func (db *DB) ListPullRequests(ctx context.Context, repoName string) ([]*PullRequestRow, error) {
	rows, err := db.sql.QueryContext(ctx, `SELECT
		id, repo_name, number, base_branch, head_branch, title, description, author, status,
		merge_commit_hash, merged_at, merged_by
		FROM pull_requests WHERE repo_name = ? ORDER BY number DESC`, repoName)
	if err != nil {
		return nil, fmt.Errorf("store: list prs: %w", err)
	}
	defer rows.Close()
	var out []*PullRequestRow
	for rows.Next() {
		var pr PullRequestRow
		var desc, mergeHash, mergedAt, mergedBy sql.NullString
		if err := rows.Scan(&pr.ID, &pr.RepoName, &pr.Number, &pr.BaseBranch, &pr.HeadBranch, &pr.Title,
			&desc, &pr.Author, &pr.Status, &mergeHash, &mergedAt, &mergedBy); err != nil {
			return nil, err
		}
		pr.Description = desc.String
		pr.MergeCommitHash = mergeHash.String
		pr.MergedBy = mergedBy.String
		if mergedAt.Valid {
			t := parseTime(mergedAt.String)
			pr.MergedAt = &t
		}
		out = append(out, &pr)
	}
	return out, rows.Err()
}

// SetPullRequestStatus updates status (CLOSED/OPEN transitions that don't
// touch merge fields).
func (db *DB) SetPullRequestStatus(ctx context.Context, id int64, status PullRequestStatus) error {
	_, err := db.sql.ExecContext(ctx, `UPDATE pull_requests SET status = ? WHERE id = ?`, status, id)
	return err
}

// MergePullRequest marks a PR MERGED and records the merge commit.
func (db *DB) MergePullRequest(ctx context.Context, id int64, mergeCommitHash, mergedBy string, mergedAt time.Time) error {
	_, err := db.sql.ExecContext(ctx,
		`UPDATE pull_requests SET status = ?, merge_commit_hash = ?, merged_by = ?, merged_at = ? WHERE id = ?`,
		PRStatusMerged, mergeCommitHash, mergedBy, mergedAt.UTC().Format(time.RFC3339Nano), id)
	return err
}

// PullRequestCommentRow is the persisted shape of spec.md §3's PullRequestComment.
type PullRequestCommentRow struct {
	ID        int64
	PRID      int64
	Author    string
	Body      string
	CreatedAt time.Time
}

// AddPullRequestComment appends a time-ordered comment.
func (db *DB) AddPullRequestComment(ctx context.Context, prID int64, author, body string, createdAt time.Time) (*PullRequestCommentRow, error) {
	res, err := db.sql.ExecContext(ctx,
		`INSERT INTO pull_request_comments (pr_id, author, body, created_at) VALUES (?, ?, ?, ?)`,
		prID, author, body, createdAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("store: add comment: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &PullRequestCommentRow{ID: id, PRID: prID, Author: author, Body: body, CreatedAt: createdAt}, nil
}

// ListPullRequestComments returns a PR's comments in creation order.
func (db *DB) ListPullRequestComments(ctx context.Context, prID int64) ([]*PullRequestCommentRow, error) {
	rows, err := db.sql.QueryContext(ctx,
		`SELECT id, pr_id, author, body, created_at FROM pull_request_comments WHERE pr_id = ? ORDER BY id ASC`, prID)
	if err != nil {
		return nil, fmt.Errorf("store: list comments: %w", err)
	}
	defer rows.Close()
	var out []*PullRequestCommentRow
	for rows.Next() {
		var c PullRequestCommentRow
		var created string
		if err := rows.Scan(&c.ID, &c.PRID, &c.Author, &c.Body, &created); err != nil {
			return nil, err
		}
		c.CreatedAt = parseTime(created)
		out = append(out, &c)
	}
	return out, rows.Err()
}
