package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Repository is the row for spec.md §3's Repository entity.
type Repository struct {
	ID          int64
	Name        string
	Description string
	MainBranch  string
}

// CreateRepository inserts a new repository row. Name must be unique.
func (db *DB) CreateRepository(ctx context.Context, name, description, mainBranch string) (*Repository, error) {
	if mainBranch == "" {
		mainBranch = "main"
	}
	res, err := db.sql.ExecContext(ctx,
		`INSERT INTO repositories (name, description, main_branch) VALUES (?, ?, ?)`,
		name, description, mainBranch)
	if err != nil {
		return nil, fmt.Errorf("store: create repository: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &Repository{ID: id, Name: name, Description: description, MainBranch: mainBranch}, nil
}

// GetRepositoryByName looks up a repository by its unique name.
func (db *DB) GetRepositoryByName(ctx context.Context, name string) (*Repository, error) {
	row := db.sql.QueryRowContext(ctx,
		`SELECT id, name, description, main_branch FROM repositories WHERE name = ?`, name)
	r, err := scanRepository(row)
	if _, ok := err.(*NotFoundError); ok {
		return nil, notFound("repository", name)
	}
	return r, err
}

// ListRepositories returns every repository, ordered by name.
func (db *DB) ListRepositories(ctx context.Context) ([]*Repository, error) {
	rows, err := db.sql.QueryContext(ctx, `SELECT id, name, description, main_branch FROM repositories ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("store: list repositories: %w", err)
	}
	defer rows.Close()
	var out []*Repository
	for rows.Next() {
		var r Repository
		var desc sql.NullString
		if err := rows.Scan(&r.ID, &r.Name, &desc, &r.MainBranch); err != nil {
			return nil, err
		}
		r.Description = desc.String
		out = append(out, &r)
	}
	return out, rows.Err()
}

func scanRepository(row *sql.Row) (*Repository, error) {
	var r Repository
	var desc sql.NullString
	err := row.Scan(&r.ID, &r.Name, &desc, &r.MainBranch)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("repository", "")
	}
	if err != nil {
		return nil, err
	}
	r.Description = desc.String
	return &r, nil
}
