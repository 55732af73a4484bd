package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/chromedp"
)

// elementOpTimeout caps a single element operation. chromedp node queries
// wait for the node to appear, which never happens for a detached node.
const elementOpTimeout = 2 * time.Second

// loadPollInterval is how often WaitForLoad samples document.readyState.
const loadPollInterval = 50 * time.Millisecond

// ChromeLauncher starts one headless Chrome per session through a shared exec
// allocator. Each browser gets its own temporary profile, so sessions never
// share localStorage.
type ChromeLauncher struct {
	allocCtx context.Context
	cancel   context.CancelFunc
	logger   *slog.Logger
}

// NewChromeLauncher creates the exec allocator. No browser is started until
// NewSession is called.
func NewChromeLauncher(opts Options, logger *slog.Logger) *ChromeLauncher {
	if opts.WindowWidth == 0 || opts.WindowHeight == 0 {
		d := DefaultOptions()
		opts.WindowWidth, opts.WindowHeight = d.WindowWidth, d.WindowHeight
	}

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.WindowSize(opts.WindowWidth, opts.WindowHeight),
	)
	if opts.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(opts.ExecPath))
	}

	allocCtx, cancel := chromedp.NewExecAllocator(context.Background(), allocOpts...)
	return &ChromeLauncher{allocCtx: allocCtx, cancel: cancel, logger: logger}
}

// NewSession starts a new browser and returns its first tab.
func (l *ChromeLauncher) NewSession(ctx context.Context) (Session, error) {
	tabCtx, cancel := chromedp.NewContext(l.allocCtx,
		chromedp.WithLogf(func(format string, args ...any) {
			l.logger.Debug(fmt.Sprintf(format, args...), "driver", DriverChromedp)
		}),
	)

	// The first Run allocates the browser with the context it is given, so it
	// must run on the tab context itself: a cancelled child would kill Chrome.
	// ctx only bounds the wait.
	started := make(chan error, 1)
	go func() { started <- chromedp.Run(tabCtx) }()

	select {
	case err := <-started:
		if err != nil {
			cancel()
			return nil, fmt.Errorf("start chrome: %w", err)
		}
	case <-ctx.Done():
		cancel()
		<-started
		return nil, fmt.Errorf("start chrome: %w", ctx.Err())
	}

	l.logger.Debug("browser session started", "driver", DriverChromedp)
	return &chromeSession{ctx: tabCtx, cancel: cancel}, nil
}

// Close shuts down the allocator and every browser it started.
func (l *ChromeLauncher) Close() error {
	l.cancel()
	return nil
}

type chromeSession struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// run executes actions on the tab, bounded by the caller's ctx and, when
// limit > 0, by limit. chromedp needs its own tab context for the executor,
// so the caller's deadline and cancellation are grafted onto a child of it.
func (s *chromeSession) run(ctx context.Context, limit time.Duration, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(s.ctx)
	defer cancel()

	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	if deadline, ok := ctx.Deadline(); ok {
		var cancelDeadline context.CancelFunc
		runCtx, cancelDeadline = context.WithDeadline(runCtx, deadline)
		defer cancelDeadline()
	}
	if limit > 0 {
		var cancelLimit context.CancelFunc
		runCtx, cancelLimit = context.WithTimeout(runCtx, limit)
		defer cancelLimit()
	}

	if err := chromedp.Run(runCtx, actions...); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return err
	}
	return nil
}

func (s *chromeSession) Navigate(ctx context.Context, url string) error {
	if err := s.run(ctx, 0, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigate to %s: %w", url, err)
	}
	return nil
}

func (s *chromeSession) Reload(ctx context.Context) error {
	if err := s.run(ctx, 0, chromedp.Reload()); err != nil {
		return fmt.Errorf("reload: %w", err)
	}
	return nil
}

func (s *chromeSession) WaitForLoad(ctx context.Context) error {
	ticker := time.NewTicker(loadPollInterval)
	defer ticker.Stop()

	for {
		var state string
		err := s.run(ctx, elementOpTimeout, chromedp.Evaluate(`document.readyState`, &state))
		if err == nil && state == "complete" {
			return nil
		}
		select {
		case <-ctx.Done():
			if err != nil {
				return fmt.Errorf("wait for load: %w (last error: %v)", ctx.Err(), err)
			}
			return fmt.Errorf("wait for load: %w (readyState %q)", ctx.Err(), state)
		case <-ticker.C:
		}
	}
}

func (s *chromeSession) ClearStorage(ctx context.Context) error {
	const script = `window.localStorage.clear(); window.sessionStorage.clear();`
	if err := s.run(ctx, 0, chromedp.Evaluate(script, nil)); err != nil {
		return fmt.Errorf("clear storage: %w", err)
	}
	return nil
}

func (s *chromeSession) Title(ctx context.Context) (string, error) {
	var title string
	if err := s.run(ctx, elementOpTimeout, chromedp.Title(&title)); err != nil {
		return "", fmt.Errorf("read title: %w", err)
	}
	return title, nil
}

func (s *chromeSession) URL(ctx context.Context) (string, error) {
	var url string
	if err := s.run(ctx, elementOpTimeout, chromedp.Location(&url)); err != nil {
		return "", fmt.Errorf("read location: %w", err)
	}
	return url, nil
}

func (s *chromeSession) Find(ctx context.Context, sel Selector) ([]Element, error) {
	if err := sel.Validate(); err != nil {
		return nil, err
	}

	by := chromedp.ByQueryAll
	if sel.Kind == XPath {
		by = chromedp.BySearch
	}

	var nodes []*cdp.Node
	if err := s.run(ctx, elementOpTimeout, chromedp.Nodes(sel.Expr, &nodes, by, chromedp.AtLeast(0))); err != nil {
		return nil, fmt.Errorf("find %s: %w", sel, err)
	}

	elements := make([]Element, 0, len(nodes))
	for _, n := range nodes {
		elements = append(elements, &chromeElement{session: s, node: n})
	}
	return elements, nil
}

func (s *chromeSession) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := s.run(ctx, 0, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, fmt.Errorf("capture screenshot: %w", err)
	}
	return buf, nil
}

func (s *chromeSession) Close() error {
	err := chromedp.Cancel(s.ctx)
	s.cancel()
	return err
}

type chromeElement struct {
	session *chromeSession
	node    *cdp.Node
}

func (e *chromeElement) ids() []cdp.NodeID {
	return []cdp.NodeID{e.node.NodeID}
}

func (e *chromeElement) Text(ctx context.Context) (string, error) {
	var text string
	if err := e.session.run(ctx, elementOpTimeout, chromedp.TextContent(e.ids(), &text, chromedp.ByNodeID)); err != nil {
		return "", fmt.Errorf("read text: %w", classifyNode(ctx, err))
	}
	return text, nil
}

func (e *chromeElement) Value(ctx context.Context) (string, error) {
	var value string
	if err := e.session.run(ctx, elementOpTimeout, chromedp.Value(e.ids(), &value, chromedp.ByNodeID)); err != nil {
		return "", fmt.Errorf("read value: %w", classifyNode(ctx, err))
	}
	return value, nil
}

// Visible reports whether the node has a non-empty box model. Nodes that are
// display:none (or gone) have no box model at all.
func (e *chromeElement) Visible(ctx context.Context) (bool, error) {
	var visible bool
	err := e.session.run(ctx, elementOpTimeout, chromedp.ActionFunc(func(ctx context.Context) error {
		model, err := dom.GetBoxModel().WithNodeID(e.node.NodeID).Do(ctx)
		if err != nil {
			visible = false
			return nil
		}
		visible = model.Width > 0 && model.Height > 0
		return nil
	}))
	if err != nil {
		return false, fmt.Errorf("read visibility: %w", classifyNode(ctx, err))
	}
	return visible, nil
}

func (e *chromeElement) Click(ctx context.Context) error {
	if err := e.session.run(ctx, elementOpTimeout, chromedp.Click(e.ids(), chromedp.ByNodeID)); err != nil {
		return fmt.Errorf("click: %w", classifyNode(ctx, err))
	}
	return nil
}

func (e *chromeElement) Fill(ctx context.Context, value string) error {
	err := e.session.run(ctx, elementOpTimeout,
		chromedp.SetValue(e.ids(), "", chromedp.ByNodeID),
		chromedp.SendKeys(e.ids(), value, chromedp.ByNodeID),
	)
	if err != nil {
		return fmt.Errorf("fill: %w", classifyNode(ctx, err))
	}
	return nil
}

// classifyNode maps chromedp node errors onto the package sentinels. A
// ByNodeID query waits for its node to show up in the frame, so a node that
// was re-rendered away surfaces as the elementOpTimeout deadline rather than
// a protocol error.
func classifyNode(ctx context.Context, err error) error {
	if err == nil || ctx.Err() != nil {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrDetached, err)
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "could not find node"),
		strings.Contains(msg, "no node with given id"),
		strings.Contains(msg, "node is detached"),
		strings.Contains(msg, "node not found"):
		return fmt.Errorf("%w: %v", ErrDetached, err)
	case strings.Contains(msg, "could not compute box model"),
		strings.Contains(msg, "could not compute content quads"),
		strings.Contains(msg, "does not have a layout object"),
		strings.Contains(msg, "not visible"):
		return fmt.Errorf("%w: %v", ErrNotInteractable, err)
	default:
		return err
	}
}
