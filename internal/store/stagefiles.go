package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// StageFileRow is the persisted shape of spec.md §3's StageFile.
type StageFileRow struct {
	ID          string
	StageRunID  string
	FilePath    string
	ContentHash string
	StorageKey  string
	Size        int64
}

// UpsertStageFile records a named output of a stage run. Idempotent by id
// (I1): id = SHA256(stage_run_id "|" file_path), so re-writing the same
// path overwrites the prior mapping (the bytes themselves are immutable and
// addressed separately in the blob backend).
func (db *DB) UpsertStageFile(ctx context.Context, f StageFileRow) error {
	if db.dialect == dialectMySQL {
		_, err := db.sql.ExecContext(ctx,
			`INSERT INTO stage_files (id, stage_run_id, file_path, content_hash, storage_key, size)
			 VALUES (?, ?, ?, ?, ?, ?)
			 ON DUPLICATE KEY UPDATE content_hash = VALUES(content_hash), storage_key = VALUES(storage_key), size = VALUES(size)`,
			f.ID, f.StageRunID, f.FilePath, f.ContentHash, f.StorageKey, f.Size)
		if err != nil {
			return fmt.Errorf("store: upsert stage file: %w", err)
		}
		return nil
	}
	_, err := db.sql.ExecContext(ctx,
		`INSERT INTO stage_files (id, stage_run_id, file_path, content_hash, storage_key, size)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET content_hash = excluded.content_hash, storage_key = excluded.storage_key, size = excluded.size`,
		f.ID, f.StageRunID, f.FilePath, f.ContentHash, f.StorageKey, f.Size)
	if err != nil {
		return fmt.Errorf("store: upsert stage file: %w", err)
	}
	return nil
}

// GetStageFileByPath looks up a stage run's output by its path.
func (db *DB) GetStageFileByPath(ctx context.Context, stageRunID, filePath string) (*StageFileRow, error) {
	row := db.sql.QueryRowContext(ctx,
		`SELECT id, stage_run_id, file_path, content_hash, storage_key, size
		 FROM stage_files WHERE stage_run_id = ? AND file_path = ?`, stageRunID, filePath)
	return scanStageFile(row, filePath)
}

func scanStageFile(row *sql.Row, key string) (*StageFileRow, error) {
	var f StageFileRow
	if err := row.Scan(&f.ID, &f.StageRunID, &f.FilePath, &f.ContentHash, &f.StorageKey, &f.Size); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound("stage_file", key)
		}
		return nil, err
	}
	return &f, nil
}

// ListStageFiles returns every output of a stage run, ordered by path —
// used by the VFS's StageRunNode.children() (spec.md §4.4).
func (db *DB) ListStageFiles(ctx context.Context, stageRunID string) ([]*StageFileRow, error) {
	rows, err := db.sql.QueryContext(ctx,
		`SELECT id, stage_run_id, file_path, content_hash, storage_key, size
		 FROM stage_files WHERE stage_run_id = ? ORDER BY file_path ASC`, stageRunID)
	if err != nil {
		return nil, fmt.Errorf("store: list stage files: %w", err)
	}
	defer rows.Close()
	var out []*StageFileRow
	for rows.Next() {
		var f StageFileRow
		if err := rows.Scan(&f.ID, &f.StageRunID, &f.FilePath, &f.ContentHash, &f.StorageKey, &f.Size); err != nil {
			return nil, err
		}
		out = append(out, &f)
	}
	return out, rows.Err()
}

// LogLineRow is the persisted shape of spec.md §3's StageLogLine.
type LogLineRow struct {
	StageRunID string
	Index      int64
	Timestamp  string
	Contents   string
}

// AppendLogLines inserts a batch of log lines. Indices must already be
// dense/unique per stage run (I6); stagerun.Dispatcher.RecordLogLines
// assigns them from the stage run's current line count.
func (db *DB) AppendLogLines(ctx context.Context, lines []LogLineRow) (int, error) {
	if len(lines) == 0 {
		return 0, nil
	}
	tx, err := db.sql.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("store: append logs: begin: %w", err)
	}
	defer tx.Rollback()
	for _, l := range lines {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO stage_log_lines (stage_run_id, log_line_index, timestamp, log_contents) VALUES (?, ?, ?, ?)`,
			l.StageRunID, l.Index, l.Timestamp, l.Contents); err != nil {
			return 0, fmt.Errorf("store: append log line: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(lines), nil
}

// ListLogLines returns up to limit lines with index > sinceIndex (the last
// index the caller has already seen), sorted ascending, plus whether more
// lines exist beyond the page. Matches spec.md §8's concrete tailing
// scenario: after 50 lines, since_index=5&limit=10 returns indices 6..15.
func (db *DB) ListLogLines(ctx context.Context, stageRunID string, sinceIndex int64, limit int) ([]LogLineRow, bool, error) {
	rows, err := db.sql.QueryContext(ctx,
		`SELECT stage_run_id, log_line_index, timestamp, log_contents
		 FROM stage_log_lines WHERE stage_run_id = ? AND log_line_index > ?
		 ORDER BY log_line_index ASC LIMIT ?`, stageRunID, sinceIndex, limit+1)
	if err != nil {
		return nil, false, fmt.Errorf("store: list log lines: %w", err)
	}
	defer rows.Close()
	var out []LogLineRow
	for rows.Next() {
		var l LogLineRow
		if err := rows.Scan(&l.StageRunID, &l.Index, &l.Timestamp, &l.Contents); err != nil {
			return nil, false, err
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, false, err
	}
	hasMore := len(out) > limit
	if hasMore {
		out = out[:limit]
	}
	return out, hasMore, nil
}

// CountLogLines returns the number of log lines recorded for a stage run,
// used to assign the next dense log_line_index (I6).
func (db *DB) CountLogLines(ctx context.Context, stageRunID string) (int64, error) {
	var n int64
	err := db.sql.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM stage_log_lines WHERE stage_run_id = ?`, stageRunID).Scan(&n)
	return n, err
}
