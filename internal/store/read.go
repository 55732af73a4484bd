package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/todocheck/internal/harness"
)

// ErrRunNotFound is returned by GetRun for an unknown run id.
var ErrRunNotFound = errors.New("run not found")

// RunSummary is one row of the run list.
type RunSummary struct {
	ID         string    `json:"run_id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Passed     int       `json:"passed"`
	Failed     int       `json:"failed"`
	Total      int       `json:"total"`
}

// ScenarioRun is one stored outcome of a named scenario.
type ScenarioRun struct {
	RunID       string            `json:"run_id"`
	StartedAt   time.Time         `json:"started_at"`
	Status      harness.Status    `json:"status"`
	FailingStep *int              `json:"failing_step,omitempty"`
	Code        harness.ErrorCode `json:"code,omitempty"`
	Duration    time.Duration     `json:"duration_ns"`
}

// ListRuns returns up to limit runs, newest first. limit <= 0 means no limit.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, started_at, finished_at, passed, failed, total
		FROM runs
		ORDER BY started_at DESC, id ASC
		LIMIT ?
	`, sqlLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []RunSummary
	for rows.Next() {
		var (
			r                 RunSummary
			started, finished string
		)
		if err := rows.Scan(&r.ID, &started, &finished, &r.Passed, &r.Failed, &r.Total); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		if r.StartedAt, err = parseTime(started); err != nil {
			return nil, err
		}
		if r.FinishedAt, err = parseTime(finished); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// GetRun reads back a stored run with its scenarios in input order and their
// steps in file order.
func (s *Store) GetRun(ctx context.Context, id string) (*harness.SuiteResult, error) {
	var started, finished string
	run := &harness.SuiteResult{RunID: id}
	err := s.db.QueryRowContext(ctx, `
		SELECT started_at, finished_at, passed, failed, total
		FROM runs WHERE id = ?
	`, id).Scan(&started, &finished, &run.Passed, &run.Failed, &run.Total)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("query run %s: %w", id, err)
	}
	if run.StartedAt, err = parseTime(started); err != nil {
		return nil, err
	}
	if run.FinishedAt, err = parseTime(finished); err != nil {
		return nil, err
	}

	if run.Results, err = s.readScenarios(ctx, id); err != nil {
		return nil, err
	}
	if err := s.readSteps(ctx, id, run.Results); err != nil {
		return nil, err
	}
	return run, nil
}

func (s *Store) readScenarios(ctx context.Context, runID string) ([]*harness.Result, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, path, tags, status, failing_step, failing_action,
		       code, diagnostic, screenshot, duration_ns
		FROM scenario_results
		WHERE run_id = ?
		ORDER BY seq
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query scenarios of %s: %w", runID, err)
	}
	defer rows.Close()

	var results []*harness.Result
	for rows.Next() {
		var (
			r        harness.Result
			tags     string
			status   string
			code     string
			failing  sql.NullInt64
			duration int64
		)
		err := rows.Scan(&r.Name, &r.Path, &tags, &status, &failing, &r.FailingAction,
			&code, &r.Diagnostic, &r.Screenshot, &duration)
		if err != nil {
			return nil, fmt.Errorf("scan scenario: %w", err)
		}
		if r.Tags, err = unmarshalTags(tags); err != nil {
			return nil, fmt.Errorf("scenario %s: %w", r.Name, err)
		}
		r.Status = harness.Status(status)
		r.Code = harness.ErrorCode(code)
		r.Duration = time.Duration(duration)
		if failing.Valid {
			step := int(failing.Int64)
			r.FailingStep = &step
		}
		results = append(results, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate scenarios: %w", err)
	}
	return results, nil
}

func (s *Store) readSteps(ctx context.Context, runID string, results []*harness.Result) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT scenario_seq, seq, label, action, target, outcome, error, duration_ns
		FROM step_records
		WHERE run_id = ?
		ORDER BY scenario_seq, seq
	`, runID)
	if err != nil {
		return fmt.Errorf("query steps of %s: %w", runID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			scenario int
			step     harness.StepRecord
			outcome  string
			duration int64
		)
		err := rows.Scan(&scenario, &step.Seq, &step.Label, &step.Action, &step.Target,
			&outcome, &step.Error, &duration)
		if err != nil {
			return fmt.Errorf("scan step: %w", err)
		}
		if scenario < 0 || scenario >= len(results) {
			return fmt.Errorf("step %d references missing scenario %d", step.Seq, scenario)
		}
		step.Outcome = harness.Outcome(outcome)
		step.Duration = time.Duration(duration)
		results[scenario].Steps = append(results[scenario].Steps, step)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate steps: %w", err)
	}
	return nil
}

// ScenarioHistory returns the stored outcomes of the named scenario, newest
// first. limit <= 0 means no limit.
func (s *Store) ScenarioHistory(ctx context.Context, name string, limit int) ([]ScenarioRun, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.started_at, sr.status, sr.failing_step, sr.code, sr.duration_ns
		FROM scenario_results sr
		JOIN runs r ON r.id = sr.run_id
		WHERE sr.name = ?
		ORDER BY r.started_at DESC, r.id ASC
		LIMIT ?
	`, name, sqlLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("query history of %s: %w", name, err)
	}
	defer rows.Close()

	var out []ScenarioRun
	for rows.Next() {
		var (
			h        ScenarioRun
			started  string
			status   string
			code     string
			failing  sql.NullInt64
			duration int64
		)
		if err := rows.Scan(&h.RunID, &started, &status, &failing, &code, &duration); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		if h.StartedAt, err = parseTime(started); err != nil {
			return nil, err
		}
		h.Status = harness.Status(status)
		h.Code = harness.ErrorCode(code)
		h.Duration = time.Duration(duration)
		if failing.Valid {
			step := int(failing.Int64)
			h.FailingStep = &step
		}
		out = append(out, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	return out, nil
}

// sqlLimit maps "no limit" to SQLite's -1.
func sqlLimit(limit int) int {
	if limit <= 0 {
		return -1
	}
	return limit
}
