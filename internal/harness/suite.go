package harness

import (
	"context"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/todocheck/internal/browser"
)

// SuiteResult aggregates one run of many scenarios.
type SuiteResult struct {
	RunID      string    `json:"run_id"`
	Results    []*Result `json:"scenarios"`
	Passed     int       `json:"passed"`
	Failed     int       `json:"failed"`
	Total      int       `json:"total"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// AllPassed reports whether every scenario passed.
func (r *SuiteResult) AllPassed() bool {
	return r.Failed == 0
}

// Suite runs scenarios in isolated browser sessions.
type Suite struct {
	Harness  *Harness
	Launcher browser.Launcher

	// Parallel bounds how many scenarios run at once. Values below 1 mean 1.
	Parallel int

	// NewRunID generates the run id. Defaults to a UUIDv7, so ids sort by
	// start time.
	NewRunID func() string

	// Now defaults to time.Now.
	Now func() time.Time
}

// Run executes every scenario in its own session and returns results in
// input order. A scenario's failure, including failure to start its session,
// never affects its siblings.
func (s *Suite) Run(ctx context.Context, scenarios []*Scenario) *SuiteResult {
	now := s.Now
	if now == nil {
		now = time.Now
	}
	newRunID := s.NewRunID
	if newRunID == nil {
		newRunID = newRunID7
	}

	out := &SuiteResult{
		RunID:     newRunID(),
		Results:   make([]*Result, len(scenarios)),
		Total:     len(scenarios),
		StartedAt: now(),
	}

	limit := s.Parallel
	if limit < 1 {
		limit = 1
	}

	var g errgroup.Group
	g.SetLimit(limit)
	for i, sc := range scenarios {
		g.Go(func() error {
			out.Results[i] = s.runOne(ctx, sc)
			return nil
		})
	}
	_ = g.Wait()

	for _, r := range out.Results {
		if r.Passed() {
			out.Passed++
		} else {
			out.Failed++
		}
	}
	out.FinishedAt = now()

	s.Harness.logger.Info("suite finished",
		"run_id", out.RunID,
		"passed", out.Passed,
		"failed", out.Failed,
		"total", out.Total)
	return out
}

func (s *Suite) runOne(ctx context.Context, sc *Scenario) *Result {
	session, err := s.openSession(ctx)
	if err != nil {
		result := NewResult(sc)
		code := CodeSessionFailure
		if ctx.Err() != nil {
			code = CodeCancelled
		}
		result.Fail(&StepError{Step: 0, Action: "session", Code: code, Err: &SessionError{Err: err}})
		s.Harness.logger.Info("scenario failed", "scenario", sc.Name, "code", string(code), "error", err)
		return result
	}
	defer func() {
		if err := session.Close(); err != nil {
			s.Harness.logger.Warn("session close failed", "scenario", sc.Name, "error", err)
		}
	}()

	return s.Harness.Run(ctx, session, sc)
}

func (s *Suite) openSession(ctx context.Context) (browser.Session, error) {
	if timeout := s.Harness.opts.SessionTimeout; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return s.Launcher.NewSession(ctx)
}

func newRunID7() string {
	return uuid.Must(uuid.NewV7()).String()
}
