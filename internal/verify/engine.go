// Package verify is the assertion engine. It polls a condition against the
// live document with bounded exponential backoff until the condition holds,
// the timeout elapses, or the context is cancelled.
//
// Every attempt re-resolves its locator. Nothing observed in one attempt is
// reused by the next.
package verify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/roach88/todocheck/internal/browser"
	"github.com/roach88/todocheck/internal/locator"
)

// PollOptions shapes the polling schedule. Jitter is always zero so the
// schedule is reproducible.
type PollOptions struct {
	Interval    time.Duration
	MaxInterval time.Duration
	Multiplier  float64

	// SettleWindow is how long a wrong count must have stayed unchanged when
	// the timeout elapses for the failure to be reported as UnexpectedCount
	// instead of ConditionTimeout. It never shortens the timeout. Zero always
	// reports ConditionTimeout.
	SettleWindow time.Duration
}

// DefaultPollOptions returns 50ms initial, 500ms max, x1.5, 1s settle.
func DefaultPollOptions() PollOptions {
	return PollOptions{
		Interval:     50 * time.Millisecond,
		MaxInterval:  500 * time.Millisecond,
		Multiplier:   1.5,
		SettleWindow: time.Second,
	}
}

// Engine evaluates conditions and performs auto-waiting actions.
type Engine struct {
	Resolver *locator.Resolver
	Poll     PollOptions
	Logger   *slog.Logger
}

// New returns an engine. A nil logger discards output.
func New(resolver *locator.Resolver, poll PollOptions, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Engine{Resolver: resolver, Poll: poll, Logger: logger}
}

func (e *Engine) backOff(ctx context.Context) backoff.BackOff {
	p := e.Poll
	if p.Interval <= 0 {
		p.Interval = DefaultPollOptions().Interval
	}
	if p.MaxInterval < p.Interval {
		p.MaxInterval = p.Interval
	}
	if p.Multiplier < 1 {
		p.Multiplier = 1
	}

	b := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(p.Interval),
		backoff.WithMaxInterval(p.MaxInterval),
		backoff.WithMultiplier(p.Multiplier),
		backoff.WithRandomizationFactor(0),
		backoff.WithMaxElapsedTime(0),
	)
	return backoff.WithContext(b, ctx)
}

// errPending marks an attempt whose condition did not hold yet.
var errPending = errors.New("condition not met")

// observation is what one attempt saw.
type observation struct {
	// found is false when an element-level condition matched nothing.
	found bool
	count int
	value string
	ok    bool
}

// Assert polls until cond holds for target. target is ignored (and may be
// nil) for page-level conditions.
func (e *Engine) Assert(ctx context.Context, page browser.Page, target *locator.Descriptor, cond Condition, timeout time.Duration) error {
	if err := cond.Validate(); err != nil {
		return err
	}

	var subject string
	if !cond.PageLevel() {
		if target == nil {
			return fmt.Errorf("%s needs a target", cond.Kind)
		}
		// Identity and syntax errors cannot fix themselves by waiting.
		if _, err := e.Resolver.Selector(*target); err != nil {
			return fmt.Errorf("resolve %s: %w", target, err)
		}
		subject = target.String()
	}

	pollCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var (
		last        observation
		observed    bool
		lastErr     error
		attempts    int
		stableCount = -1
		stableSince time.Time
		stableFor   time.Duration
	)

	op := func() error {
		attempts++
		obs, err := e.observe(pollCtx, page, target, cond)
		if err != nil {
			// An attempt cut short by the deadline tells us nothing new.
			if pollCtx.Err() == nil {
				lastErr = err
			}
			return err
		}
		last, observed, lastErr = obs, true, nil
		if obs.ok {
			return nil
		}

		if cond.Kind == KindCount {
			now := time.Now()
			if obs.count != stableCount {
				stableCount, stableSince = obs.count, now
			}
			stableFor = now.Sub(stableSince)
		}
		return errPending
	}

	start := time.Now()
	err := backoff.Retry(op, e.backOff(pollCtx))
	if err == nil {
		e.Logger.Debug("condition met",
			"locator", subject,
			"condition", cond.String(),
			"attempts", attempts,
			"elapsed", time.Since(start))
		return nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("assert %s %s: %w", subject, cond, ctxErr)
	}

	// A wrong count that held still for the settle window is a real
	// miscount, not a list still rendering.
	if cond.Kind == KindCount && observed && lastErr == nil &&
		e.Poll.SettleWindow > 0 && stableFor >= e.Poll.SettleWindow {
		return &UnexpectedCountError{
			Locator:   subject,
			Expected:  cond.Count,
			Actual:    last.count,
			StableFor: stableFor,
		}
	}

	if observed && lastErr == nil && !last.found && !cond.PageLevel() && cond.Kind != KindCount {
		sel, _ := e.Resolver.Selector(*target)
		return &locator.NotFoundError{Locator: subject, Selector: sel, Waited: timeout}
	}

	lastValue := last.value
	switch {
	case lastErr != nil:
		lastValue = "error: " + lastErr.Error()
	case !observed:
		lastValue = "nothing (no attempt completed)"
	}
	return &ConditionTimeoutError{
		Locator:      subject,
		Condition:    cond.String(),
		Expected:     cond.Expected(),
		LastObserved: lastValue,
		Attempts:     attempts,
		Timeout:      timeout,
	}
}

func (e *Engine) observe(ctx context.Context, page browser.Page, target *locator.Descriptor, cond Condition) (observation, error) {
	switch cond.Kind {
	case KindTitle:
		title, err := page.Title(ctx)
		if err != nil {
			return observation{}, err
		}
		return observation{found: true, value: fmt.Sprintf("%q", title), ok: Normalize(title) == Normalize(cond.Text)}, nil
	case KindURL:
		url, err := page.URL(ctx)
		if err != nil {
			return observation{}, err
		}
		return observation{found: true, value: fmt.Sprintf("%q", url), ok: url == cond.Text}, nil
	}

	h, err := e.Resolver.ResolveAll(ctx, page, *target)
	if err != nil {
		return observation{}, err
	}

	n := h.Count()
	obs := observation{found: n > 0, count: n}

	switch cond.Kind {
	case KindCount:
		obs.value = fmt.Sprint(n)
		obs.ok = n == cond.Count
		return obs, nil
	case KindContains:
		if n == 0 {
			obs.value = "no elements"
			return obs, nil
		}
		want := Normalize(cond.Text)
		texts := make([]string, 0, n)
		for _, el := range h.Elements {
			text, err := el.Text(ctx)
			if err != nil {
				return observation{}, err
			}
			text = Normalize(text)
			if strings.Contains(text, want) {
				obs.ok = true
			}
			texts = append(texts, fmt.Sprintf("%q", text))
		}
		obs.value = strings.Join(texts, ", ")
		return obs, nil
	}

	// The remaining conditions read exactly one element.
	switch {
	case n == 0:
		obs.value = "no elements"
		return obs, nil
	case n > 1:
		obs.value = fmt.Sprintf("matched %d elements", n)
		return obs, nil
	}
	el := h.Elements[0]

	switch cond.Kind {
	case KindVisible:
		visible, err := el.Visible(ctx)
		if err != nil {
			return observation{}, err
		}
		obs.ok = visible
		obs.value = "hidden"
		if visible {
			obs.value = "visible"
		}
	case KindText:
		text, err := el.Text(ctx)
		if err != nil {
			return observation{}, err
		}
		text = Normalize(text)
		obs.ok = text == Normalize(cond.Text)
		obs.value = fmt.Sprintf("%q", text)
	case KindValue:
		value, err := el.Value(ctx)
		if err != nil {
			return observation{}, err
		}
		obs.ok = value == cond.Text
		obs.value = fmt.Sprintf("%q", value)
	}
	return obs, nil
}

// Act waits until target resolves to exactly one visible element and runs
// action on it. Detached and not-interactable errors are retried until the
// timeout; any other action error is returned at once.
func (e *Engine) Act(ctx context.Context, page browser.Page, target locator.Descriptor, timeout time.Duration, action func(context.Context, browser.Element) error) error {
	if _, err := e.Resolver.Selector(target); err != nil {
		return fmt.Errorf("resolve %s: %w", target, err)
	}

	pollCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var (
		observed  string
		found     bool
		attempts  int
		actionErr error
	)

	op := func() error {
		attempts++
		h, err := e.Resolver.ResolveAll(pollCtx, page, target)
		if err != nil {
			observed = "error: " + err.Error()
			return err
		}

		found = h.Count() > 0
		switch n := h.Count(); {
		case n == 0:
			observed = "no elements"
			return errPending
		case n > 1:
			observed = fmt.Sprintf("matched %d elements", n)
			return errPending
		}

		el := h.Elements[0]
		visible, err := el.Visible(pollCtx)
		if err != nil {
			observed = "error: " + err.Error()
			return err
		}
		if !visible {
			observed = "hidden"
			return errPending
		}

		if err := action(pollCtx, el); err != nil {
			if errors.Is(err, browser.ErrDetached) || errors.Is(err, browser.ErrNotInteractable) {
				observed = err.Error()
				return err
			}
			actionErr = err
			return backoff.Permanent(err)
		}
		return nil
	}

	err := backoff.Retry(op, e.backOff(pollCtx))
	if err == nil {
		e.Logger.Debug("action performed", "locator", target.String(), "attempts", attempts)
		return nil
	}

	if actionErr != nil {
		return fmt.Errorf("act on %s: %w", target, actionErr)
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("act on %s: %w", target, ctxErr)
	}
	if !found {
		sel, _ := e.Resolver.Selector(target)
		return &locator.NotFoundError{Locator: target.String(), Selector: sel, Waited: timeout}
	}
	return &ConditionTimeoutError{
		Locator:      target.String(),
		Condition:    "actionable",
		Expected:     "one visible element",
		LastObserved: observed,
		Attempts:     attempts,
		Timeout:      timeout,
	}
}
