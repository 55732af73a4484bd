// Package reset returns the application to an empty, freshly loaded state
// before a scenario runs.
package reset

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/roach88/todocheck/internal/browser"
)

// Stage names one step of a reset.
type Stage string

const (
	StageNavigate Stage = "navigate"
	StageClear    Stage = "clear_storage"
	StageReload   Stage = "reload"
	StageLoad     Stage = "wait_for_load"
	StageVerify   Stage = "verify_empty"
)

// Failure is a ResetFailure: the stage that failed and why.
type Failure struct {
	Stage Stage
	URL   string
	Err   error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("RESET_FAILURE: %s %s: %v", f.Stage, f.URL, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

// IsFailure reports whether err is or wraps a reset Failure.
func IsFailure(err error) bool {
	var f *Failure
	return errors.As(err, &f)
}

// Controller resets one page.
type Controller struct {
	// URL is the application's entry document.
	URL string

	// Timeout bounds the whole reset, load barrier included.
	Timeout time.Duration

	// EmptySelector, when set, must match zero elements after the reload.
	EmptySelector *browser.Selector

	Logger *slog.Logger
}

// Reset navigates to the entry URL, clears local and session storage,
// reloads, and blocks until the document has fully loaded. When
// EmptySelector is set it also checks that no task items rendered.
func (c *Controller) Reset(ctx context.Context, page browser.Page) error {
	logger := c.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	fail := func(stage Stage, err error) error {
		logger.Debug("reset failed", "stage", string(stage), "url", c.URL, "error", err)
		return &Failure{Stage: stage, URL: c.URL, Err: err}
	}

	start := time.Now()

	if err := page.Navigate(ctx, c.URL); err != nil {
		return fail(StageNavigate, err)
	}
	if err := page.ClearStorage(ctx); err != nil {
		return fail(StageClear, err)
	}
	if err := page.Reload(ctx); err != nil {
		return fail(StageReload, err)
	}
	if err := page.WaitForLoad(ctx); err != nil {
		return fail(StageLoad, err)
	}

	if c.EmptySelector != nil {
		els, err := page.Find(ctx, *c.EmptySelector)
		if err != nil {
			return fail(StageVerify, err)
		}
		if len(els) != 0 {
			return fail(StageVerify, fmt.Errorf("%d items still match %s", len(els), c.EmptySelector))
		}
	}

	logger.Debug("reset complete", "url", c.URL, "elapsed", time.Since(start))
	return nil
}
