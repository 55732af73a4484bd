package harness

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/todocheck/internal/identity"
	"github.com/roach88/todocheck/internal/locator"
	"github.com/roach88/todocheck/internal/reset"
	"github.com/roach88/todocheck/internal/verify"
)

// Status is the overall outcome of a scenario.
type Status string

const (
	StatusPass Status = "pass"
	StatusFail Status = "fail"
)

// Outcome is the outcome of a single step.
type Outcome string

const (
	OutcomePass    Outcome = "pass"
	OutcomeFail    Outcome = "fail"
	OutcomeSkipped Outcome = "skipped"
)

// ErrorCode categorizes a scenario failure.
type ErrorCode string

const (
	CodeNotFound         ErrorCode = "NOT_FOUND"
	CodeConditionTimeout ErrorCode = "CONDITION_TIMEOUT"
	CodeUnexpectedCount  ErrorCode = "UNEXPECTED_COUNT"
	CodeResetFailure     ErrorCode = "RESET_FAILURE"
	CodeActionFailed     ErrorCode = "ACTION_FAILED"
	CodeIdentity         ErrorCode = "IDENTITY"
	CodeSessionFailure   ErrorCode = "SESSION_FAILURE"
	CodeCancelled        ErrorCode = "CANCELLED"
	CodeInvalidScenario  ErrorCode = "INVALID_SCENARIO"
)

// StepError is the failure of one step. Step is 1-based in file order; 0 is
// the implicit reset.
type StepError struct {
	Step   int
	Action string
	Target string
	Code   ErrorCode
	Err    error
}

func (e *StepError) Error() string {
	if e.Target != "" {
		return fmt.Sprintf("step %d (%s %s): %v", e.Step, e.Action, e.Target, e.Err)
	}
	return fmt.Sprintf("step %d (%s): %v", e.Step, e.Action, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// SessionError is a browser session that could not be started.
type SessionError struct {
	Err error
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("SESSION_FAILURE: %v", e.Err)
}

func (e *SessionError) Unwrap() error { return e.Err }

// CodeOf classifies err. Typed errors take precedence over the context
// errors they may wrap, so a reset that hit its own deadline is still a
// RESET_FAILURE.
func CodeOf(err error) ErrorCode {
	var se *StepError
	if errors.As(err, &se) && se.Code != "" {
		return se.Code
	}

	switch {
	case err == nil:
		return ""
	case reset.IsFailure(err):
		return CodeResetFailure
	case verify.IsUnexpectedCount(err):
		return CodeUnexpectedCount
	case verify.IsConditionTimeout(err):
		return CodeConditionTimeout
	case locator.IsNotFound(err):
		return CodeNotFound
	case errors.Is(err, identity.ErrNotCreated), errors.Is(err, identity.ErrUnsupportedTransition):
		return CodeIdentity
	case isSessionError(err):
		return CodeSessionFailure
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return CodeCancelled
	}
	return CodeActionFailed
}

func isSessionError(err error) bool {
	var se *SessionError
	return errors.As(err, &se)
}

// StepRecord is what happened to one step.
type StepRecord struct {
	Seq      int           `json:"seq"`
	Label    string        `json:"label"`
	Action   string        `json:"action"`
	Target   string        `json:"target,omitempty"`
	Outcome  Outcome       `json:"outcome"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration_ns"`
}

// Result is the outcome of one scenario.
type Result struct {
	Name   string   `json:"name"`
	Path   string   `json:"path,omitempty"`
	Tags   []string `json:"tags,omitempty"`
	Status Status   `json:"status"`

	// FailingStep is nil when the scenario passed.
	FailingStep   *int      `json:"failing_step,omitempty"`
	FailingAction string    `json:"failing_action,omitempty"`
	Code          ErrorCode `json:"code,omitempty"`
	Diagnostic    string    `json:"diagnostic,omitempty"`

	// Screenshot is the PNG written for the failing step, if any.
	Screenshot string `json:"screenshot,omitempty"`

	Steps    []StepRecord  `json:"steps"`
	Duration time.Duration `json:"duration_ns"`

	// Err is the failing step's error.
	Err error `json:"-"`
}

// NewResult returns a passing result with every step still to run.
func NewResult(sc *Scenario) *Result {
	r := &Result{
		Name:   sc.Name,
		Path:   sc.Path,
		Tags:   sc.Tags,
		Status: StatusPass,
		Steps:  make([]StepRecord, 0, len(sc.Steps)+1),
	}
	if !sc.explicitReset() {
		r.Steps = append(r.Steps, StepRecord{Seq: 0, Label: "reset (implicit)", Action: ActionReset, Outcome: OutcomeSkipped})
	}
	for i, step := range sc.Steps {
		rec := StepRecord{Seq: i + 1, Label: step.Label(), Action: step.Action, Outcome: OutcomeSkipped}
		if step.Target != nil {
			rec.Target = step.Target.String()
		}
		r.Steps = append(r.Steps, rec)
	}
	return r
}

// Passed reports whether every step passed.
func (r *Result) Passed() bool {
	return r.Status == StatusPass
}

func (r *Result) record(seq int, outcome Outcome, d time.Duration, err error) {
	for i := range r.Steps {
		if r.Steps[i].Seq != seq {
			continue
		}
		r.Steps[i].Outcome = outcome
		r.Steps[i].Duration = d
		if err != nil {
			r.Steps[i].Error = err.Error()
		}
		return
	}
}

// Fail marks the result failed at err's step. Steps after it stay skipped.
func (r *Result) Fail(err *StepError) {
	step := err.Step
	r.Status = StatusFail
	r.FailingStep = &step
	r.FailingAction = err.Action
	r.Code = err.Code
	r.Diagnostic = err.Err.Error()
	r.Err = err
}

func (s *Scenario) explicitReset() bool {
	return len(s.Steps) > 0 && s.Steps[0].Action == ActionReset
}
