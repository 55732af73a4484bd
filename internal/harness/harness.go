package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/todocheck/internal/browser"
	"github.com/roach88/todocheck/internal/identity"
	"github.com/roach88/todocheck/internal/locator"
	"github.com/roach88/todocheck/internal/reset"
	"github.com/roach88/todocheck/internal/verify"
)

const tracerName = "github.com/roach88/todocheck/internal/harness"

// screenshotTimeout bounds the failure screenshot, which runs even when the
// scenario context is already cancelled.
const screenshotTimeout = 5 * time.Second

// Profile describes how the application under test exposes its tasks.
type Profile struct {
	// IDTemplate maps a task id to its element id.
	IDTemplate locator.IDTemplate

	// Tabs maps tab names to the fragment their anchor links to.
	Tabs map[string]string

	// TaskItems matches every rendered task item. After a reset it must
	// match nothing. Empty skips that check.
	TaskItems string

	// AllowUncomplete lets a toggle move a completed task back.
	AllowUncomplete bool
}

// DefaultProfile is the to-do application's profile.
func DefaultProfile() Profile {
	return Profile{
		IDTemplate: locator.DefaultIDTemplate,
		Tabs: map[string]string{
			TabAddItem:   "#add-item",
			TabTodo:      "#todo",
			TabCompleted: "#completed",
		},
		TaskItems: "#incomplete-tasks li, #completed-tasks li",
	}
}

// Options configures a Harness.
type Options struct {
	// BaseURL is the application entry URL. A scenario's url overrides it.
	BaseURL string

	ResetTimeout   time.Duration
	ActionTimeout  time.Duration
	AssertTimeout  time.Duration
	SessionTimeout time.Duration

	Profile Profile
	Poll    verify.PollOptions

	// ArtifactsDir receives a screenshot of each failing step. Empty
	// disables screenshots.
	ArtifactsDir string

	Logger *slog.Logger
	Tracer trace.Tracer
}

// DefaultOptions returns options for the public to-do application.
func DefaultOptions() Options {
	return Options{
		BaseURL:        "https://abhigyank.github.io/To-Do-List/",
		ResetTimeout:   15 * time.Second,
		ActionTimeout:  5 * time.Second,
		AssertTimeout:  5 * time.Second,
		SessionTimeout: 30 * time.Second,
		Profile:        DefaultProfile(),
		Poll:           verify.DefaultPollOptions(),
	}
}

// Harness runs scenarios against browser pages.
type Harness struct {
	opts   Options
	logger *slog.Logger
	tracer trace.Tracer
}

// New returns a harness. A nil logger discards output; a nil tracer uses the
// global tracer provider.
func New(opts Options) (*Harness, error) {
	if opts.Profile.IDTemplate == "" {
		opts.Profile.IDTemplate = locator.DefaultIDTemplate
	}
	if err := opts.Profile.IDTemplate.Validate(); err != nil {
		return nil, fmt.Errorf("invalid profile: %w", err)
	}
	for _, tab := range []string{TabAddItem, TabTodo, TabCompleted} {
		if opts.Profile.Tabs[tab] == "" {
			return nil, fmt.Errorf("invalid profile: no fragment for tab %q", tab)
		}
	}
	if opts.Profile.TaskItems != "" {
		if err := browser.CSSSelector(opts.Profile.TaskItems).Validate(); err != nil {
			return nil, fmt.Errorf("invalid profile: task items: %w", err)
		}
	}
	if opts.ResetTimeout <= 0 || opts.ActionTimeout <= 0 || opts.AssertTimeout <= 0 {
		return nil, fmt.Errorf("timeouts must be positive")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}
	return &Harness{opts: opts, logger: logger, tracer: tracer}, nil
}

// Options returns the harness configuration.
func (h *Harness) Options() Options {
	return h.opts
}

// run is the state of one scenario execution.
type run struct {
	h       *Harness
	page    browser.Page
	sc      *Scenario
	baseURL string
	tracker *identity.Tracker
	engine  *verify.Engine
	result  *Result

	// lastFill is the text most recently typed, which a create records.
	lastFill string
}

// Run resets the application and executes the scenario's steps in order,
// stopping at the first failure. It never returns an error: failures are
// reported in the Result. The page is left as the last step left it.
func (h *Harness) Run(ctx context.Context, page browser.Page, sc *Scenario) *Result {
	start := time.Now()

	ctx, span := h.tracer.Start(ctx, "scenario "+sc.Name, trace.WithAttributes(
		attribute.String("scenario.name", sc.Name),
		attribute.Int("scenario.steps", len(sc.Steps)),
	))
	defer span.End()

	tracker := identity.New(h.opts.Profile.AllowUncomplete)
	r := &run{
		h:       h,
		page:    page,
		sc:      sc,
		baseURL: h.entryURL(sc),
		tracker: tracker,
		engine:  verify.New(locator.NewResolver(h.opts.Profile.IDTemplate, tracker), h.opts.Poll, h.logger),
		result:  NewResult(sc),
	}

	var failure *StepError
	if err := validateScenario(sc); err != nil {
		failure = &StepError{Step: 0, Action: "validate", Code: CodeInvalidScenario, Err: err}
	} else if !sc.explicitReset() {
		failure = r.step(ctx, 0, Step{Action: ActionReset})
	}
	for i := 0; failure == nil && i < len(sc.Steps); i++ {
		failure = r.step(ctx, i+1, sc.Steps[i])
	}

	result := r.result
	result.Duration = time.Since(start)

	if failure == nil {
		h.logger.Info("scenario passed", "scenario", sc.Name, "elapsed", result.Duration)
		return result
	}

	result.Fail(failure)
	span.RecordError(failure)
	span.SetStatus(codes.Error, string(failure.Code))
	h.logger.Info("scenario failed",
		"scenario", sc.Name,
		"step", failure.Step,
		"action", failure.Action,
		"code", string(failure.Code),
		"error", failure.Err)

	path, err := h.screenshot(ctx, page, sc, failure.Step)
	if err != nil {
		h.logger.Warn("failure screenshot not saved", "scenario", sc.Name, "error", err)
	}
	result.Screenshot = path
	return result
}

func (h *Harness) entryURL(sc *Scenario) string {
	if sc.URL != "" {
		return sc.URL
	}
	return h.opts.BaseURL
}

func (r *run) step(ctx context.Context, seq int, step Step) *StepError {
	ctx, span := r.h.tracer.Start(ctx, "step "+step.Action, trace.WithAttributes(
		attribute.Int("step.seq", seq),
		attribute.String("step.action", step.Action),
	))
	defer span.End()
	if step.Target != nil {
		span.SetAttributes(attribute.String("step.target", step.Target.String()))
	}

	start := time.Now()
	err := ctx.Err()
	if err == nil {
		err = r.exec(ctx, step)
	}
	elapsed := time.Since(start)

	if err == nil {
		r.result.record(seq, OutcomePass, elapsed, nil)
		r.h.logger.Debug("step passed", "scenario", r.sc.Name, "step", seq, "action", step.Action, "elapsed", elapsed)
		return nil
	}

	code := CodeOf(err)
	if ctx.Err() != nil {
		code = CodeCancelled
	}
	se := &StepError{Step: seq, Action: step.Action, Code: code, Err: err}
	if step.Target != nil {
		se.Target = step.Target.String()
	}

	r.result.record(seq, OutcomeFail, elapsed, err)
	span.RecordError(err)
	span.SetStatus(codes.Error, string(code))
	return se
}

func (r *run) exec(ctx context.Context, step Step) error {
	switch step.Action {
	case ActionReset:
		return r.reset(ctx)
	case ActionNavigate:
		fragment, ok := r.h.opts.Profile.Tabs[step.Tab]
		if !ok {
			return fmt.Errorf("no fragment configured for tab %q", step.Tab)
		}
		return r.engine.Act(ctx, r.page, locator.AttrMatch("href", fragment), r.timeout(step, r.h.opts.ActionTimeout), click)
	case ActionFill:
		err := r.engine.Act(ctx, r.page, *step.Target, r.timeout(step, r.h.opts.ActionTimeout), func(ctx context.Context, el browser.Element) error {
			return el.Fill(ctx, step.Value)
		})
		if err == nil {
			r.lastFill = step.Value
		}
		return err
	case ActionClick:
		return r.click(ctx, step)
	case ActionAssert:
		cond, err := step.Expect.Condition(r.baseURL)
		if err != nil {
			return err
		}
		return r.engine.Assert(ctx, r.page, step.Target, cond, r.timeout(step, r.h.opts.AssertTimeout))
	}
	return fmt.Errorf("unknown action %q", step.Action)
}

func click(ctx context.Context, el browser.Element) error {
	return el.Click(ctx)
}

func (r *run) reset(ctx context.Context) error {
	c := reset.Controller{
		URL:     r.baseURL,
		Timeout: r.h.opts.ResetTimeout,
		Logger:  r.h.logger,
	}
	if items := r.h.opts.Profile.TaskItems; items != "" {
		sel := browser.CSSSelector(items)
		c.EmptySelector = &sel
	}
	if err := c.Reset(ctx, r.page); err != nil {
		return err
	}
	r.tracker.Reset()
	r.lastFill = ""
	return nil
}

// click performs the click and then applies its identity effect. Toggle and
// delete are checked against the model first so an impossible transition
// never reaches the application.
func (r *run) click(ctx context.Context, step Step) error {
	n := step.EffectTask()
	switch step.Effect {
	case EffectToggle:
		if err := r.tracker.CheckToggle(n); err != nil {
			return err
		}
	case EffectDelete:
		if err := r.tracker.CheckDelete(n); err != nil {
			return err
		}
	}

	if err := r.engine.Act(ctx, r.page, *step.Target, r.timeout(step, r.h.opts.ActionTimeout), click); err != nil {
		return err
	}

	switch step.Effect {
	case EffectCreate:
		id := r.tracker.RecordCreate(r.lastFill)
		r.h.logger.Debug("task created", "scenario", r.sc.Name, "task", id, "text", r.lastFill)
	case EffectToggle:
		return r.tracker.RecordToggle(n)
	case EffectDelete:
		return r.tracker.RecordDelete(n)
	}
	return nil
}

func (r *run) timeout(step Step, fallback time.Duration) time.Duration {
	if step.Timeout > 0 {
		return step.Timeout
	}
	if r.sc.Timeout > 0 {
		return r.sc.Timeout
	}
	return fallback
}

func (h *Harness) screenshot(ctx context.Context, page browser.Page, sc *Scenario, step int) (string, error) {
	if h.opts.ArtifactsDir == "" {
		return "", nil
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), screenshotTimeout)
	defer cancel()

	png, err := page.Screenshot(ctx)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(h.opts.ArtifactsDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create artifacts dir: %w", err)
	}
	path := filepath.Join(h.opts.ArtifactsDir, fmt.Sprintf("%s-step%d.png", sc.Name, step))
	if err := os.WriteFile(path, png, 0o644); err != nil {
		return "", fmt.Errorf("failed to write screenshot: %w", err)
	}
	return path, nil
}
