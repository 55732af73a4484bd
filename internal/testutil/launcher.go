package testutil

import (
	"context"
	"sync"

	"github.com/roach88/todocheck/internal/browser"
)

// Launcher hands out fake app sessions. By default every session is a fresh
// App with its own storage, like a new browser profile.
type Launcher struct {
	// NewApp builds the app for each session. Defaults to NewApp(Options).
	NewApp  func() *App
	Options AppOptions

	// FailSession, when set, is returned by NewSession for every session
	// whose index (1-based) satisfies it.
	FailSession func(n int) error

	mu     sync.Mutex
	apps   []*App
	closed bool
}

var _ browser.Launcher = (*Launcher)(nil)

// NewLauncher returns a launcher whose sessions are isolated apps.
func NewLauncher(opts AppOptions) *Launcher {
	return &Launcher{Options: opts}
}

// SharedLauncher returns a launcher whose sessions all drive the same app.
// Sessions must then be used one at a time.
func SharedLauncher(app *App) *Launcher {
	return &Launcher{NewApp: func() *App { return app }}
}

func (l *Launcher) NewSession(ctx context.Context) (browser.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	n := len(l.apps) + 1
	if l.FailSession != nil {
		if err := l.FailSession(n); err != nil {
			l.apps = append(l.apps, nil)
			return nil, err
		}
	}

	var app *App
	if l.NewApp != nil {
		app = l.NewApp()
		app.mu.Lock()
		app.closed = false
		app.mu.Unlock()
	} else {
		app = NewApp(l.Options)
	}
	l.apps = append(l.apps, app)
	return app, nil
}

// Apps returns every app handed out so far, in session order. Failed
// sessions appear as nil.
func (l *Launcher) Apps() []*App {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*App(nil), l.apps...)
}

// Closed reports whether Close was called.
func (l *Launcher) Closed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

func (l *Launcher) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}
