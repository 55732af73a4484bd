package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/todocheck/internal/harness"
)

// WriteRun records a suite run in one transaction. Writing a run id that is
// already stored is a no-op.
func (s *Store) WriteRun(ctx context.Context, run *harness.SuiteResult) error {
	if run.RunID == "" {
		return fmt.Errorf("write run: run id is required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO runs (id, started_at, finished_at, passed, failed, total)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, run.RunID, formatTime(run.StartedAt), formatTime(run.FinishedAt), run.Passed, run.Failed, run.Total)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", run.RunID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil
	}

	for i, r := range run.Results {
		if err := writeScenario(ctx, tx, run.RunID, i, r); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit run %s: %w", run.RunID, err)
	}
	return nil
}

func writeScenario(ctx context.Context, tx *sql.Tx, runID string, seq int, r *harness.Result) error {
	tags, err := marshalTags(r.Tags)
	if err != nil {
		return fmt.Errorf("scenario %s: %w", r.Name, err)
	}

	var failing sql.NullInt64
	if r.FailingStep != nil {
		failing = sql.NullInt64{Int64: int64(*r.FailingStep), Valid: true}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO scenario_results (
			run_id, seq, name, path, tags, status, failing_step,
			failing_action, code, diagnostic, screenshot, duration_ns
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, runID, seq, r.Name, r.Path, tags, string(r.Status), failing,
		r.FailingAction, string(r.Code), r.Diagnostic, r.Screenshot, int64(r.Duration))
	if err != nil {
		return fmt.Errorf("insert scenario %s: %w", r.Name, err)
	}

	for _, step := range r.Steps {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO step_records (
				run_id, scenario_seq, seq, label, action, target, outcome, error, duration_ns
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, runID, seq, step.Seq, step.Label, step.Action, step.Target,
			string(step.Outcome), step.Error, int64(step.Duration))
		if err != nil {
			return fmt.Errorf("insert step %d of %s: %w", step.Seq, r.Name, err)
		}
	}
	return nil
}
