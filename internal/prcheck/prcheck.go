// Package prcheck implements spec.md §4.7's pull-request check engine: a
// per-repo `.pr-checks.yml` loader, dispatch of check invocations bound to
// a (repo, pr#) trigger, and a merge-gate evaluator. Grounded on the
// teacher's pkg/serve webhook/CI config loading (protect-branch rule
// config parsed with gopkg.in/yaml.v3), generalised from "branch
// protection rules" to "named checks that must COMPLETE before merge".
package prcheck

import (
	"context"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/stagegraph/stagegraph/internal/repo"
	"github.com/stagegraph/stagegraph/internal/stagerun"
	"github.com/stagegraph/stagegraph/internal/store"
)

// ConfigFileName is the well-known path spec.md §4.7 reads from the PR's
// base branch.
const ConfigFileName = ".pr-checks.yml"

// Check is one entry of .pr-checks.yml's checks list.
type Check struct {
	Name         string `yaml:"name"`
	WorkflowFile string `yaml:"workflow_file"`
	StageName    string `yaml:"stage_name"`
	Arguments    any    `yaml:"arguments"`
	Required     *bool  `yaml:"required"`
}

// IsRequired defaults to true per spec.md §4.7 ("required: bool, default
// true").
func (c Check) IsRequired() bool {
	return c.Required == nil || *c.Required
}

// Config is the parsed shape of .pr-checks.yml.
type Config struct {
	Version string  `yaml:"version"`
	Checks  []Check `yaml:"checks"`
}

// LoadConfig parses raw .pr-checks.yml bytes.
func LoadConfig(raw []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("prcheck: parse %s: %w", ConfigFileName, err)
	}
	seen := make(map[string]bool, len(cfg.Checks))
	for _, c := range cfg.Checks {
		if c.Name == "" {
			return nil, fmt.Errorf("prcheck: check missing name")
		}
		if strings.ContainsAny(c.Name, "/\n\r\t") {
			return nil, fmt.Errorf("prcheck: check name %q contains a disallowed character", c.Name)
		}
		if seen[c.Name] {
			return nil, fmt.Errorf("prcheck: duplicate check name %q", c.Name)
		}
		seen[c.Name] = true
	}
	return &cfg, nil
}

// TriggerEvent builds the shared trigger_event string spec.md §4.7 uses to
// group a PR's check StageRuns: "pr:<repo_id>:<pr_number>".
func TriggerEvent(repoID int64, prNumber int) string {
	return fmt.Sprintf("pr:%d:%d", repoID, prNumber)
}

// Engine dispatches and evaluates PR checks.
type Engine struct {
	dispatcher *stagerun.Dispatcher
}

// New returns an Engine backed by dispatcher.
func New(dispatcher *stagerun.Dispatcher) *Engine {
	return &Engine{dispatcher: dispatcher}
}

// DispatchForPullRequest loads .pr-checks.yml from the PR's base branch
// (via r, already opened against the PR's repository) and creates one
// StageRun per check against the PR's head commit hash, all sharing
// TriggerEvent(repoID, prNumber) (spec.md §4.7). Returns nil, nil if no
// config file is present — PR checks are optional.
func (e *Engine) DispatchForPullRequest(ctx context.Context, r *repo.Repo, pr *store.PullRequestRow, headCommitHash string) ([]*store.StageRunRow, error) {
	baseCommitHash, err := r.GetRef(ctx, "refs/heads/"+pr.BaseBranch)
	if err != nil {
		return nil, fmt.Errorf("prcheck: resolve base branch %q: %w", pr.BaseBranch, err)
	}
	baseCommit, err := r.GetCommit(ctx, baseCommitHash)
	if err != nil {
		return nil, err
	}
	blobHash, found, err := r.GetBlobHashFromPath(ctx, baseCommit.TreeHash, ConfigFileName)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	raw, err := r.ReadBlob(ctx, blobHash)
	if err != nil {
		return nil, err
	}
	cfg, err := LoadConfig(raw)
	if err != nil {
		return nil, err
	}

	triggerEvent := TriggerEvent(r.Row.ID, pr.Number)
	out := make([]*store.StageRunRow, 0, len(cfg.Checks))
	for _, c := range cfg.Checks {
		row, _, err := e.dispatcher.CreateCall(ctx, "", r.Row.Name, headCommitHash, c.WorkflowFile, c.StageName,
			c.Arguments, pr.Author, triggerEvent)
		if err != nil {
			return nil, fmt.Errorf("prcheck: dispatch check %q: %w", c.Name, err)
		}
		out = append(out, row)
	}
	return out, nil
}

// CanMergePR implements spec.md §4.7's merge gate: PR must be OPEN and
// every required check StageRun sharing the PR's trigger event must be
// COMPLETED. r must be opened against the PR's repository; required-ness
// is read back from the base branch's current .pr-checks.yml and matched
// to runs by (workflow_file, stage_name), since StageRun itself has no
// "required" field in spec.md §3's data model. Returns (true, "") if
// mergeable, else (false, human-readable reason).
func (e *Engine) CanMergePR(ctx context.Context, r *repo.Repo, pr *store.PullRequestRow) (bool, string, error) {
	if pr.Status != store.PRStatusOpen {
		return false, fmt.Sprintf("pull request is %s, not OPEN", pr.Status), nil
	}
	triggerEvent := TriggerEvent(r.Row.ID, pr.Number)
	runs, err := e.dispatcher.ListByTriggerEvent(ctx, triggerEvent)
	if err != nil {
		return false, "", err
	}
	if len(runs) == 0 {
		return true, "", nil
	}

	required := e.requiredStageKeys(ctx, r, pr)

	blocking := 0
	for _, run := range runs {
		if required != nil && !required[stageKey{run.WorkflowFile, run.StageName}] {
			continue
		}
		if run.Status != store.StatusCompleted {
			blocking++
		}
	}
	if blocking > 0 {
		return false, fmt.Sprintf("%d check(s) still running", blocking), nil
	}
	return true, "", nil
}

type stageKey struct {
	workflowFile string
	stageName    string
}

// requiredStageKeys re-reads .pr-checks.yml from the PR's base branch and
// returns the set of (workflow_file, stage_name) pairs marked required.
// Returns nil if the config can no longer be read (e.g. branch advanced
// past it) — callers then treat every run as required, the conservative
// default.
func (e *Engine) requiredStageKeys(ctx context.Context, r *repo.Repo, pr *store.PullRequestRow) map[stageKey]bool {
	baseCommitHash, err := r.GetRef(ctx, "refs/heads/"+pr.BaseBranch)
	if err != nil {
		return nil
	}
	baseCommit, err := r.GetCommit(ctx, baseCommitHash)
	if err != nil {
		return nil
	}
	blobHash, found, err := r.GetBlobHashFromPath(ctx, baseCommit.TreeHash, ConfigFileName)
	if err != nil || !found {
		return nil
	}
	raw, err := r.ReadBlob(ctx, blobHash)
	if err != nil {
		return nil
	}
	cfg, err := LoadConfig(raw)
	if err != nil {
		return nil
	}
	out := make(map[stageKey]bool, len(cfg.Checks))
	for _, c := range cfg.Checks {
		if c.IsRequired() {
			out[stageKey{c.WorkflowFile, c.StageName}] = true
		}
	}
	return out
}
