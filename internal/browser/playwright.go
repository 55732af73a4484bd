package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/playwright-community/playwright-go"
)

// PlaywrightLauncher drives Chromium through playwright-go. One browser is
// shared; each session is a fresh BrowserContext with its own storage.
type PlaywrightLauncher struct {
	pw      *playwright.Playwright
	browser playwright.Browser
	opts    Options
	logger  *slog.Logger
}

// NewPlaywrightLauncher starts the playwright driver and launches Chromium.
// The driver and browsers must already be installed.
func NewPlaywrightLauncher(opts Options, logger *slog.Logger) (*PlaywrightLauncher, error) {
	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("start playwright: %w", err)
	}

	launch := playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(opts.Headless),
	}
	if opts.SlowMo > 0 {
		launch.SlowMo = playwright.Float(float64(opts.SlowMo.Milliseconds()))
	}

	b, err := pw.Chromium.Launch(launch)
	if err != nil {
		_ = pw.Stop()
		return nil, fmt.Errorf("launch chromium: %w", err)
	}

	if opts.WindowWidth == 0 || opts.WindowHeight == 0 {
		d := DefaultOptions()
		opts.WindowWidth, opts.WindowHeight = d.WindowWidth, d.WindowHeight
	}

	return &PlaywrightLauncher{pw: pw, browser: b, opts: opts, logger: logger}, nil
}

// NewSession opens a new browser context and page.
func (l *PlaywrightLauncher) NewSession(ctx context.Context) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	bctx, err := l.browser.NewContext(playwright.BrowserNewContextOptions{
		Viewport: &playwright.Size{Width: l.opts.WindowWidth, Height: l.opts.WindowHeight},
	})
	if err != nil {
		return nil, fmt.Errorf("new browser context: %w", err)
	}

	page, err := bctx.NewPage()
	if err != nil {
		_ = bctx.Close()
		return nil, fmt.Errorf("new page: %w", err)
	}

	l.logger.Debug("browser session started", "driver", DriverPlaywright)
	return &playwrightSession{bctx: bctx, page: page}, nil
}

// Close closes the browser and stops the driver.
func (l *PlaywrightLauncher) Close() error {
	var errs []error
	if err := l.browser.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close browser: %w", err))
	}
	if err := l.pw.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("stop playwright: %w", err))
	}
	return errors.Join(errs...)
}

// timeoutMillis converts the ctx deadline into a playwright timeout. A ctx
// with no deadline maps to 0, which playwright treats as no timeout.
func timeoutMillis(ctx context.Context) (*float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	deadline, ok := ctx.Deadline()
	if !ok {
		return playwright.Float(0), nil
	}
	remaining := time.Until(deadline)
	if remaining <= 0 {
		return nil, context.DeadlineExceeded
	}
	return playwright.Float(float64(remaining.Milliseconds())), nil
}

// classify maps playwright errors onto the package sentinels.
func classify(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "not attached to the DOM"):
		return fmt.Errorf("%w: %v", ErrDetached, err)
	case strings.Contains(msg, "not visible"), strings.Contains(msg, "not enabled"):
		return fmt.Errorf("%w: %v", ErrNotInteractable, err)
	default:
		return err
	}
}

type playwrightSession struct {
	bctx playwright.BrowserContext
	page playwright.Page

	// handles are the ElementHandles returned by the last Find. They pin
	// their nodes in the page until disposed.
	handles []playwright.ElementHandle
}

// disposeHandles releases the handles of the previous Find.
func (s *playwrightSession) disposeHandles() {
	for _, h := range s.handles {
		_ = h.Dispose()
	}
	s.handles = nil
}

func (s *playwrightSession) Navigate(ctx context.Context, url string) error {
	timeout, err := timeoutMillis(ctx)
	if err != nil {
		return err
	}
	if _, err := s.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateLoad,
		Timeout:   timeout,
	}); err != nil {
		return fmt.Errorf("navigate to %s: %w", url, err)
	}
	return nil
}

func (s *playwrightSession) Reload(ctx context.Context) error {
	timeout, err := timeoutMillis(ctx)
	if err != nil {
		return err
	}
	if _, err := s.page.Reload(playwright.PageReloadOptions{Timeout: timeout}); err != nil {
		return fmt.Errorf("reload: %w", err)
	}
	return nil
}

func (s *playwrightSession) WaitForLoad(ctx context.Context) error {
	timeout, err := timeoutMillis(ctx)
	if err != nil {
		return err
	}
	if err := s.page.WaitForLoadState(playwright.PageWaitForLoadStateOptions{
		State:   playwright.LoadStateLoad,
		Timeout: timeout,
	}); err != nil {
		return fmt.Errorf("wait for load: %w", err)
	}
	return nil
}

func (s *playwrightSession) ClearStorage(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := s.page.Evaluate(`() => { window.localStorage.clear(); window.sessionStorage.clear(); }`); err != nil {
		return fmt.Errorf("clear storage: %w", err)
	}
	return nil
}

func (s *playwrightSession) Title(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	title, err := s.page.Title()
	if err != nil {
		return "", fmt.Errorf("read title: %w", err)
	}
	return title, nil
}

func (s *playwrightSession) URL(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return s.page.URL(), nil
}

func (s *playwrightSession) Find(ctx context.Context, sel Selector) ([]Element, error) {
	if err := sel.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.disposeHandles()
	handles, err := s.page.QuerySelectorAll(string(sel.Kind) + "=" + sel.Expr)
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", sel, err)
	}
	s.handles = handles

	elements := make([]Element, 0, len(handles))
	for _, h := range handles {
		elements = append(elements, &playwrightElement{handle: h})
	}
	return elements, nil
}

func (s *playwrightSession) Screenshot(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	buf, err := s.page.Screenshot()
	if err != nil {
		return nil, fmt.Errorf("capture screenshot: %w", err)
	}
	return buf, nil
}

func (s *playwrightSession) Close() error {
	s.disposeHandles()
	var errs []error
	if err := s.page.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close page: %w", err))
	}
	if err := s.bctx.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close browser context: %w", err))
	}
	return errors.Join(errs...)
}

type playwrightElement struct {
	handle playwright.ElementHandle
}

func (e *playwrightElement) Text(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	text, err := e.handle.TextContent()
	if err != nil {
		return "", fmt.Errorf("read text: %w", classify(err))
	}
	return text, nil
}

func (e *playwrightElement) Value(ctx context.Context) (string, error) {
	timeout, err := timeoutMillis(ctx)
	if err != nil {
		return "", err
	}
	value, err := e.handle.InputValue(playwright.ElementHandleInputValueOptions{Timeout: timeout})
	if err != nil {
		return "", fmt.Errorf("read value: %w", classify(err))
	}
	return value, nil
}

func (e *playwrightElement) Visible(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	visible, err := e.handle.IsVisible()
	if err != nil {
		return false, fmt.Errorf("read visibility: %w", classify(err))
	}
	return visible, nil
}

func (e *playwrightElement) Click(ctx context.Context) error {
	timeout, err := timeoutMillis(ctx)
	if err != nil {
		return err
	}
	if err := e.handle.Click(playwright.ElementHandleClickOptions{Timeout: timeout}); err != nil {
		return fmt.Errorf("click: %w", classify(err))
	}
	return nil
}

func (e *playwrightElement) Fill(ctx context.Context, value string) error {
	timeout, err := timeoutMillis(ctx)
	if err != nil {
		return err
	}
	if err := e.handle.Fill(value, playwright.ElementHandleFillOptions{Timeout: timeout}); err != nil {
		return fmt.Errorf("fill: %w", classify(err))
	}
	return nil
}
