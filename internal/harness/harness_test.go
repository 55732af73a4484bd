package harness

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/roach88/todocheck/internal/identity"
	"github.com/roach88/todocheck/internal/locator"
	"github.com/roach88/todocheck/internal/reset"
	"github.com/roach88/todocheck/internal/testutil"
	"github.com/roach88/todocheck/internal/verify"
)

func testOptions() Options {
	opts := DefaultOptions()
	opts.BaseURL = testutil.DefaultAppURL
	opts.ResetTimeout = time.Second
	opts.ActionTimeout = 300 * time.Millisecond
	opts.AssertTimeout = 300 * time.Millisecond
	opts.SessionTimeout = time.Second
	opts.Poll = verify.PollOptions{
		Interval:     5 * time.Millisecond,
		MaxInterval:  20 * time.Millisecond,
		Multiplier:   1.5,
		SettleWindow: 100 * time.Millisecond,
	}
	return opts
}

func newHarness(t *testing.T, mutate func(*Options)) *Harness {
	t.Helper()
	opts := testOptions()
	if mutate != nil {
		mutate(&opts)
	}
	h, err := New(opts)
	require.NoError(t, err)
	return h
}

func mustParse(t *testing.T, yaml string) *Scenario {
	t.Helper()
	sc, err := ParseScenario(t.Name()+".yaml", []byte(yaml))
	require.NoError(t, err)
	return sc
}

func outcomes(r *Result) []Outcome {
	out := make([]Outcome, len(r.Steps))
	for i, s := range r.Steps {
		out[i] = s.Outcome
	}
	return out
}

func TestRun_Passes(t *testing.T) {
	app := testutil.NewApp(testutil.AppOptions{RenderDelay: 10 * time.Millisecond})
	app.Seed("left over from a previous run")

	result := newHarness(t, nil).Run(context.Background(), app, mustParse(t, addTaskYAML))

	require.True(t, result.Passed(), result.Diagnostic)
	assert.Nil(t, result.FailingStep)
	assert.Empty(t, result.Code)
	assert.Equal(t, []Outcome{OutcomePass, OutcomePass, OutcomePass, OutcomePass, OutcomePass}, outcomes(result))
	assert.Equal(t, 0, result.Steps[0].Seq)
	assert.Equal(t, ActionReset, result.Steps[0].Action)

	incomplete, completed := app.TaskTexts()
	assert.Equal(t, []string{"Write test plan"}, incomplete)
	assert.Empty(t, completed)
}

func TestRun_FailFastSkipsRemainingSteps(t *testing.T) {
	sc := mustParse(t, `name: missing
description: d
steps:
  - action: assert
    target: { css: h1 }
    expect: { visible: true }
  - action: assert
    target: { id: no-such-element }
    expect: { visible: true }
  - action: navigate
    tab: todo
`)

	result := newHarness(t, nil).Run(context.Background(), testutil.NewApp(testutil.AppOptions{}), sc)

	require.False(t, result.Passed())
	require.NotNil(t, result.FailingStep)
	assert.Equal(t, 2, *result.FailingStep)
	assert.Equal(t, ActionAssert, result.FailingAction)
	assert.Equal(t, CodeNotFound, result.Code)
	assert.Contains(t, result.Diagnostic, "NOT_FOUND: no element matches id(no-such-element)")
	assert.Equal(t, []Outcome{OutcomePass, OutcomePass, OutcomeFail, OutcomeSkipped}, outcomes(result))

	var se *StepError
	require.ErrorAs(t, result.Err, &se)
	assert.Equal(t, "id(no-such-element)", se.Target)
	assert.True(t, locator.IsNotFound(result.Err))
}

func TestRun_FailureCodes(t *testing.T) {
	tests := []struct {
		name       string
		app        testutil.AppOptions
		steps      string
		wantStep   int
		wantCode   ErrorCode
		wantDetail string
	}{
		{
			name:       "condition timeout",
			steps:      "  - action: assert\n    target: { css: h1 }\n    expect: { text: Shopping List }\n",
			wantStep:   1,
			wantCode:   CodeConditionTimeout,
			wantDetail: `last observed "To Do List"`,
		},
		{
			name:       "unexpected count",
			steps:      "  - action: assert\n    target: { css: \"#incomplete-tasks li\" }\n    expect: { count: 1 }\n",
			wantStep:   1,
			wantCode:   CodeUnexpectedCount,
			wantDetail: "matched 0 elements, expected 1",
		},
		{
			name:       "reset failure",
			app:        testutil.AppOptions{FailClear: errors.New("quota exceeded")},
			steps:      "  - action: navigate\n    tab: todo\n",
			wantStep:   0,
			wantCode:   CodeResetFailure,
			wantDetail: "RESET_FAILURE: clear_storage",
		},
		{
			name:       "hidden element is not actionable",
			steps:      "  - action: click\n    target: { css: \"#todo\" }\n",
			wantStep:   1,
			wantCode:   CodeConditionTimeout,
			wantDetail: "last observed hidden",
		},
		{
			name:       "action error",
			steps:      "  - action: fill\n    target: { css: h1 }\n    value: x\n",
			wantStep:   1,
			wantCode:   CodeConditionTimeout,
			wantDetail: "not interactable",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sc := mustParse(t, "name: x\ndescription: d\nsteps:\n"+tt.steps)
			result := newHarness(t, nil).Run(context.Background(), testutil.NewApp(tt.app), sc)

			require.False(t, result.Passed())
			assert.Equal(t, tt.wantStep, *result.FailingStep)
			assert.Equal(t, tt.wantCode, result.Code)
			assert.Contains(t, result.Diagnostic, tt.wantDetail)
		})
	}
}

func TestRun_ResetFailureSkipsEveryStep(t *testing.T) {
	app := testutil.NewApp(testutil.AppOptions{FailReload: errors.New("renderer crashed")})

	result := newHarness(t, nil).Run(context.Background(), app, mustParse(t, addTaskYAML))

	assert.Equal(t, 0, *result.FailingStep)
	assert.Equal(t, ActionReset, result.FailingAction)
	assert.True(t, reset.IsFailure(result.Err))
	assert.Equal(t, []Outcome{OutcomeFail, OutcomeSkipped, OutcomeSkipped, OutcomeSkipped, OutcomeSkipped}, outcomes(result))
}

const toggleTwiceYAML = `name: toggle_twice
description: Completing a task and then clicking it again
steps:
  - action: fill
    target: { id: new-task }
    value: Flip me
  - action: click
    target: { css: button, nth: 0 }
    effect: create
  - action: navigate
    tab: todo
  - action: click
    target: { task: 1 }
    effect: toggle
  - action: navigate
    tab: completed
  - action: click
    target: { task: 1 }
    effect: toggle
  - action: navigate
    tab: todo
  - action: assert
    target: { task: 1 }
    expect: { visible: true }
`

func TestRun_ToggleIsOneDirectionalByDefault(t *testing.T) {
	app := testutil.NewApp(testutil.AppOptions{})

	result := newHarness(t, nil).Run(context.Background(), app, mustParse(t, toggleTwiceYAML))

	require.False(t, result.Passed())
	assert.Equal(t, 6, *result.FailingStep)
	assert.Equal(t, CodeIdentity, result.Code)
	assert.ErrorIs(t, result.Err, identity.ErrUnsupportedTransition)
	assert.Contains(t, result.Diagnostic, "completed -> incomplete")

	// The refused click never reached the application.
	_, completed := app.TaskTexts()
	assert.Equal(t, []string{"Flip me"}, completed)
}

func TestRun_ToggleBackWhenProfileAllows(t *testing.T) {
	app := testutil.NewApp(testutil.AppOptions{AllowUncomplete: true})
	h := newHarness(t, func(o *Options) { o.Profile.AllowUncomplete = true })

	result := h.Run(context.Background(), app, mustParse(t, toggleTwiceYAML))

	require.True(t, result.Passed(), result.Diagnostic)
	incomplete, _ := app.TaskTexts()
	assert.Equal(t, []string{"Flip me"}, incomplete)
}

const deleteKeepsIdentityYAML = `name: delete_keeps_identity
description: Deleting a task neither renumbers the others nor reuses its id
steps:
  - action: fill
    target: { id: new-task }
    value: Task A
  - action: click
    target: { css: button, nth: 0 }
    effect: create
  - action: fill
    target: { id: new-task }
    value: Task B
  - action: click
    target: { css: button, nth: 0 }
    effect: create
  - action: navigate
    tab: todo
  - action: click
    target: { css: "li:has(#text-1) .delete" }
    effect: delete
    task: 1
  - action: assert
    target: { task: 1 }
    expect: { count: 0 }
  - action: assert
    target: { task: 2 }
    expect: { text: Task B }
`

func TestRun_DeleteThenAddressByIdentity(t *testing.T) {
	app := testutil.NewApp(testutil.AppOptions{RenderDelay: 5 * time.Millisecond})

	result := newHarness(t, nil).Run(context.Background(), app, mustParse(t, deleteKeepsIdentityYAML))

	require.True(t, result.Passed(), result.Diagnostic)
}

func TestRun_DetectsRenumberingApplication(t *testing.T) {
	app := testutil.NewApp(testutil.AppOptions{Renumber: true})

	result := newHarness(t, nil).Run(context.Background(), app, mustParse(t, deleteKeepsIdentityYAML))

	require.False(t, result.Passed())
	assert.Equal(t, 7, *result.FailingStep)
	assert.Equal(t, CodeUnexpectedCount, result.Code)
}

func TestRun_Cancelled(t *testing.T) {
	t.Run("before start", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		result := newHarness(t, nil).Run(ctx, testutil.NewApp(testutil.AppOptions{}), mustParse(t, addTaskYAML))

		assert.Equal(t, 0, *result.FailingStep)
		assert.Equal(t, CodeCancelled, result.Code)
	})

	t.Run("while polling", func(t *testing.T) {
		sc := mustParse(t, "name: x\ndescription: d\ntimeout: 1m\nsteps:\n  - action: assert\n    target: { id: never }\n    expect: { visible: true }\n")
		ctx, cancel := context.WithCancel(context.Background())
		time.AfterFunc(30*time.Millisecond, cancel)

		start := time.Now()
		result := newHarness(t, nil).Run(ctx, testutil.NewApp(testutil.AppOptions{}), sc)

		assert.Less(t, time.Since(start), 5*time.Second)
		assert.Equal(t, 1, *result.FailingStep)
		assert.Equal(t, CodeCancelled, result.Code)
		assert.ErrorIs(t, result.Err, context.Canceled)
	})
}

func TestRun_ScreenshotOnFailure(t *testing.T) {
	dir := t.TempDir()
	h := newHarness(t, func(o *Options) { o.ArtifactsDir = dir })
	sc := mustParse(t, "name: shot\ndescription: d\nsteps:\n  - action: assert\n    target: { css: h2 }\n    expect: { visible: true }\n")

	result := h.Run(context.Background(), testutil.NewApp(testutil.AppOptions{}), sc)

	require.False(t, result.Passed())
	require.NotEmpty(t, result.Screenshot)
	data, err := os.ReadFile(result.Screenshot)
	require.NoError(t, err)
	assert.Equal(t, []byte("\x89PNG\r\n\x1a\n"), data)
	assert.Contains(t, result.Screenshot, "shot-step1.png")
}

func TestRun_NoScreenshotWhenPassing(t *testing.T) {
	dir := t.TempDir()
	h := newHarness(t, func(o *Options) { o.ArtifactsDir = dir })

	result := h.Run(context.Background(), testutil.NewApp(testutil.AppOptions{}), mustParse(t, addTaskYAML))

	require.True(t, result.Passed())
	assert.Empty(t, result.Screenshot)
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRun_ExplicitResetIsStepOne(t *testing.T) {
	sc := mustParse(t, "name: x\ndescription: d\nsteps:\n  - action: reset\n  - action: assert\n    target: { css: h1 }\n    expect: { text: Nope }\n")

	result := newHarness(t, nil).Run(context.Background(), testutil.NewApp(testutil.AppOptions{}), sc)

	require.Len(t, result.Steps, 2)
	assert.Equal(t, 1, result.Steps[0].Seq)
	assert.Equal(t, OutcomePass, result.Steps[0].Outcome)
	assert.Equal(t, 2, *result.FailingStep)
}

func TestRun_InvalidScenario(t *testing.T) {
	sc := &Scenario{Name: "broken", Description: "d", Steps: []Step{{Action: ActionFill, Value: "x"}}}

	result := newHarness(t, nil).Run(context.Background(), testutil.NewApp(testutil.AppOptions{}), sc)

	require.False(t, result.Passed())
	assert.Equal(t, CodeInvalidScenario, result.Code)
	assert.Contains(t, result.Diagnostic, "fill: target is required")
}

func TestRun_PageAndURLConditions(t *testing.T) {
	sc := mustParse(t, `name: page
description: d
steps:
  - action: assert
    expect: { url: "{base_url}" }
  - action: assert
    expect: { title: To-Do List }
  - action: navigate
    tab: completed
  - action: assert
    expect: { url: "{base_url}#completed" }
`)

	result := newHarness(t, nil).Run(context.Background(), testutil.NewApp(testutil.AppOptions{}), sc)
	require.True(t, result.Passed(), result.Diagnostic)
}

func TestRun_ScenarioURLOverride(t *testing.T) {
	sc := mustParse(t, "name: x\ndescription: d\nurl: https://elsewhere.test/\nsteps:\n  - action: navigate\n    tab: todo\n")

	result := newHarness(t, nil).Run(context.Background(), testutil.NewApp(testutil.AppOptions{}), sc)

	assert.Equal(t, CodeResetFailure, result.Code)
	assert.Contains(t, result.Diagnostic, "https://elsewhere.test/")
}

// Each scenario starts from an empty store even on a shared page, and leaves
// the store as its last step left it.
func TestRun_IsolationBetweenScenarios(t *testing.T) {
	app := testutil.NewApp(testutil.AppOptions{})
	h := newHarness(t, nil)

	first := h.Run(context.Background(), app, mustParse(t, addTaskYAML))
	require.True(t, first.Passed(), first.Diagnostic)
	assert.NotEmpty(t, app.Storage())

	empty := mustParse(t, "name: empty\ndescription: d\nsteps:\n  - action: assert\n    target: { css: \"#incomplete-tasks li\" }\n    expect: { count: 0 }\n  - action: navigate\n    tab: todo\n")
	second := h.Run(context.Background(), app, empty)
	require.True(t, second.Passed(), second.Diagnostic)

	// The identity model restarted too: the first create is task 1 again.
	third := h.Run(context.Background(), app, mustParse(t, addTaskYAML))
	require.True(t, third.Passed(), third.Diagnostic)
}

func TestRun_Spans(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	h := newHarness(t, func(o *Options) { o.Tracer = tp.Tracer("test") })
	sc := mustParse(t, "name: traced\ndescription: d\nsteps:\n  - action: navigate\n    tab: todo\n  - action: assert\n    target: { id: gone }\n    expect: { visible: true }\n")
	h.Run(context.Background(), testutil.NewApp(testutil.AppOptions{}), sc)

	spans := sr.Ended()
	require.Len(t, spans, 4)

	var names []string
	for _, s := range spans {
		names = append(names, s.Name())
	}
	assert.Equal(t, []string{"step reset", "step navigate", "step assert", "scenario traced"}, names)

	root := spans[3]
	for _, s := range spans[:3] {
		assert.Equal(t, root.SpanContext().SpanID(), s.Parent().SpanID())
	}
	assert.Equal(t, codes.Error, spans[2].Status().Code)
	assert.Equal(t, string(CodeNotFound), spans[2].Status().Description)
	assert.Equal(t, codes.Error, root.Status().Code)
	assert.Equal(t, codes.Unset, spans[1].Status().Code)
}

func TestNew_RejectsBadOptions(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Options)
		wantErr string
	}{
		{
			name:    "template without placeholder",
			mutate:  func(o *Options) { o.Profile.IDTemplate = "text" },
			wantErr: "invalid profile",
		},
		{
			name:    "missing tab",
			mutate:  func(o *Options) { o.Profile.Tabs = map[string]string{TabTodo: "#todo"} },
			wantErr: `no fragment for tab "add-item"`,
		},
		{
			name:    "zero timeout",
			mutate:  func(o *Options) { o.AssertTimeout = 0 },
			wantErr: "timeouts must be positive",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := testOptions()
			tt.mutate(&opts)
			_, err := New(opts)
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestCodeOf(t *testing.T) {
	tests := []struct {
		err  error
		want ErrorCode
	}{
		{nil, ""},
		{&reset.Failure{Stage: reset.StageLoad, Err: context.DeadlineExceeded}, CodeResetFailure},
		{&verify.UnexpectedCountError{}, CodeUnexpectedCount},
		{fmt.Errorf("wrapped: %w", &verify.ConditionTimeoutError{}), CodeConditionTimeout},
		{&locator.NotFoundError{}, CodeNotFound},
		{fmt.Errorf("task 3: %w", identity.ErrNotCreated), CodeIdentity},
		{&SessionError{Err: errors.New("no chrome")}, CodeSessionFailure},
		{context.Canceled, CodeCancelled},
		{errors.New("boom"), CodeActionFailed},
		{&StepError{Code: CodeIdentity, Err: errors.New("x")}, CodeIdentity},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, CodeOf(tt.err), "%v", tt.err)
	}
}

func TestStepError(t *testing.T) {
	err := &StepError{Step: 3, Action: ActionClick, Target: "task(1)", Err: errors.New("boom")}
	assert.EqualError(t, err, "step 3 (click task(1)): boom")

	err = &StepError{Step: 0, Action: ActionReset, Err: errors.New("boom")}
	assert.EqualError(t, err, "step 0 (reset): boom")
}
