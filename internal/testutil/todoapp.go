package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/andybalholm/cascadia"
	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"

	"github.com/roach88/todocheck/internal/browser"
)

// DefaultAppURL is the entry URL the fake app answers on.
const DefaultAppURL = "https://todo.test/To-Do-List/"

// StorageKey is the localStorage key the app persists its state under.
const StorageKey = "todos"

// AppOptions tunes the fake to-do application.
type AppOptions struct {
	// URL is the entry document. Navigation to any other host fails.
	URL string

	// RenderDelay postpones every DOM mutation caused by a click, the way the
	// real app re-renders after its storage write.
	RenderDelay time.Duration

	// LoadDelay keeps readyState at "loading" for this long after each
	// navigation or reload.
	LoadDelay time.Duration

	// Renumber makes delete renumber the remaining tasks 1..k. The real app
	// does not do this; it exists to prove the harness notices.
	Renumber bool

	// AllowUncomplete makes clicking a completed task move it back.
	AllowUncomplete bool

	// FailClear and FailReload inject errors into those operations.
	FailClear  error
	FailReload error
}

type appTask struct {
	ID        int    `json:"id"`
	Text      string `json:"text"`
	Completed bool   `json:"completed"`
}

type persisted struct {
	NextID int       `json:"nextId"`
	Tasks  []appTask `json:"tasks"`
}

type pendingMutation struct {
	at    time.Time
	apply func()
}

// App is an in-memory to-do application that implements browser.Session.
//
// It renders the same structure as the real application: three tab panels of
// which only the active one is displayed, an input #new-task with an add
// button, and task lists #incomplete-tasks and #completed-tasks whose items
// carry span#text-N and a .delete button. State is persisted as JSON in an
// in-memory localStorage and re-read on every load.
//
// Every re-render bumps a generation counter. Elements from an older
// generation fail with browser.ErrDetached.
type App struct {
	mu   sync.Mutex
	opts AppOptions

	storage map[string]string

	url      string
	loaded   bool
	loadedAt time.Time
	tab      string
	input    string
	tasks    []appTask
	nextID   int
	pending  []pendingMutation
	closed   bool

	gen *Generation
	doc *html.Node
	// docGen is the generation doc was rendered for.
	docGen int64
}

// NewApp returns an app on about:blank with empty storage.
func NewApp(opts AppOptions) *App {
	if opts.URL == "" {
		opts.URL = DefaultAppURL
	}
	return &App{
		opts:    opts,
		storage: map[string]string{},
		url:     "about:blank",
		tab:     "add-item",
		nextID:  1,
		gen:     &Generation{},
	}
}

var _ browser.Session = (*App)(nil)

// Seed writes tasks straight into storage, as a previous session would have.
// They become visible on the next load.
func (a *App) Seed(texts ...string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	state := a.readStorage()
	for _, text := range texts {
		state.Tasks = append(state.Tasks, appTask{ID: state.NextID, Text: text})
		state.NextID++
	}
	a.writeStorage(state)
}

// Storage returns a copy of localStorage.
func (a *App) Storage() map[string]string {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make(map[string]string, len(a.storage))
	for k, v := range a.storage {
		out[k] = v
	}
	return out
}

// TaskTexts returns the rendered task texts per list, applying due mutations.
func (a *App) TaskTexts() (incomplete, completed []string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.settle()

	for _, t := range a.tasks {
		if t.Completed {
			completed = append(completed, t.Text)
		} else {
			incomplete = append(incomplete, t.Text)
		}
	}
	return incomplete, completed
}

// Generation returns the current render generation.
func (a *App) Generation() int64 {
	return a.gen.Current()
}

func (a *App) checkOpen() error {
	if a.closed {
		return errors.New("session closed")
	}
	return nil
}

func (a *App) readStorage() persisted {
	state := persisted{NextID: 1}
	raw, ok := a.storage[StorageKey]
	if !ok {
		return state
	}
	if err := json.Unmarshal([]byte(raw), &state); err != nil || state.NextID < 1 {
		return persisted{NextID: 1}
	}
	return state
}

func (a *App) writeStorage(state persisted) {
	buf, _ := json.Marshal(state)
	a.storage[StorageKey] = string(buf)
}

func (a *App) persist() {
	a.writeStorage(persisted{NextID: a.nextID, Tasks: a.tasks})
}

// load re-reads storage and renders a fresh document.
func (a *App) load() {
	state := a.readStorage()
	a.tasks = state.Tasks
	a.nextID = state.NextID
	a.input = ""
	a.pending = nil
	a.loaded = true
	a.loadedAt = time.Now().Add(a.opts.LoadDelay)
	a.gen.Next()
}

// settle applies every pending mutation that is due.
func (a *App) settle() {
	now := time.Now()
	kept := a.pending[:0]
	for _, p := range a.pending {
		if !now.Before(p.at) {
			p.apply()
			a.gen.Next()
			continue
		}
		kept = append(kept, p)
	}
	a.pending = kept
}

func (a *App) schedule(apply func()) {
	a.pending = append(a.pending, pendingMutation{at: time.Now().Add(a.opts.RenderDelay), apply: apply})
	a.settle()
}

func (a *App) sameApp(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	entry, _ := url.Parse(a.opts.URL)
	if u.Host != entry.Host {
		return nil, fmt.Errorf("net::ERR_NAME_NOT_RESOLVED at %s", raw)
	}
	return u, nil
}

// Navigate loads the app. A fragment selects the initial tab.
func (a *App) Navigate(ctx context.Context, raw string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.checkOpen(); err != nil {
		return err
	}

	u, err := a.sameApp(raw)
	if err != nil {
		return err
	}
	a.url = raw
	a.tab = "add-item"
	if u.Fragment != "" {
		a.tab = u.Fragment
	}
	a.load()
	return nil
}

func (a *App) Reload(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.checkOpen(); err != nil {
		return err
	}
	if a.opts.FailReload != nil {
		return a.opts.FailReload
	}
	if !a.loaded {
		return errors.New("nothing to reload")
	}
	a.load()
	return nil
}

func (a *App) WaitForLoad(ctx context.Context) error {
	for {
		a.mu.Lock()
		if err := a.checkOpen(); err != nil {
			a.mu.Unlock()
			return err
		}
		wait := time.Until(a.loadedAt)
		loaded := a.loaded
		a.mu.Unlock()

		if loaded && wait <= 0 {
			return nil
		}
		if !loaded {
			wait = 10 * time.Millisecond
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("wait for load: %w", ctx.Err())
		case <-timer.C:
		}
	}
}

func (a *App) ClearStorage(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.checkOpen(); err != nil {
		return err
	}
	if !a.loaded {
		return errors.New("SecurityError: localStorage is not available on about:blank")
	}
	if a.opts.FailClear != nil {
		return a.opts.FailClear
	}
	a.storage = map[string]string{}
	return nil
}

func (a *App) Title(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.loaded {
		return "", nil
	}
	return "To-Do List", nil
}

func (a *App) URL(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.url, nil
}

func (a *App) Screenshot(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	// A PNG signature is enough for callers that only persist the bytes.
	return []byte("\x89PNG\r\n\x1a\n"), nil
}

func (a *App) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	return nil
}

// Find runs sel against the current render.
func (a *App) Find(ctx context.Context, sel browser.Selector) ([]browser.Element, error) {
	if err := sel.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.checkOpen(); err != nil {
		return nil, err
	}
	if !a.loaded {
		return nil, nil
	}

	a.settle()
	doc, gen, err := a.document()
	if err != nil {
		return nil, err
	}

	var nodes []*html.Node
	switch sel.Kind {
	case browser.CSS:
		compiled, err := cascadia.Compile(sel.Expr)
		if err != nil {
			return nil, fmt.Errorf("invalid css selector %q: %w", sel.Expr, err)
		}
		nodes = compiled.MatchAll(doc)
	case browser.XPath:
		nodes, err = htmlquery.QueryAll(doc, sel.Expr)
		if err != nil {
			return nil, fmt.Errorf("invalid xpath %q: %w", sel.Expr, err)
		}
	}

	out := make([]browser.Element, 0, len(nodes))
	for _, n := range nodes {
		if n.Type != html.ElementNode {
			continue
		}
		out = append(out, &appElement{app: a, node: n, gen: gen})
	}
	return out, nil
}

func (a *App) document() (*html.Node, int64, error) {
	gen := a.gen.Current()
	if a.doc != nil && a.docGen == gen {
		return a.doc, gen, nil
	}
	doc, err := html.Parse(strings.NewReader(a.render()))
	if err != nil {
		return nil, 0, fmt.Errorf("parse render: %w", err)
	}
	a.doc, a.docGen = doc, gen
	return doc, gen, nil
}

func (a *App) render() string {
	var b bytes.Buffer
	panel := func(id string) string {
		if a.tab == id {
			return fmt.Sprintf(`<div id="%s" class="tab-content">`, id)
		}
		return fmt.Sprintf(`<div id="%s" class="tab-content" style="display:none">`, id)
	}
	item := func(t appTask) {
		fmt.Fprintf(&b, `<li data-id="%d"><span id="text-%d" data-action="toggle">%s</span>`+
			`<button class="delete" data-action="delete"><i class="material-icons">delete</i></button></li>`,
			t.ID, t.ID, html.EscapeString(t.Text))
	}

	b.WriteString(`<!DOCTYPE html><html><head><title>To-Do List</title></head><body>`)
	b.WriteString(`<h1>To Do List</h1>`)
	b.WriteString(`<ul class="tabs">`)
	b.WriteString(`<li class="tab"><a href="#add-item">Add Item</a></li>`)
	b.WriteString(`<li class="tab"><a href="#todo">To-Do Tasks</a></li>`)
	b.WriteString(`<li class="tab"><a href="#completed">Completed</a></li>`)
	b.WriteString(`</ul>`)

	b.WriteString(panel("add-item"))
	fmt.Fprintf(&b, `<input id="new-task" type="text" value="%s">`, html.EscapeString(a.input))
	b.WriteString(`<button class="btn" data-action="add"><i class="material-icons">add</i></button>`)
	b.WriteString(`</div>`)

	b.WriteString(panel("todo"))
	b.WriteString(`<ul id="incomplete-tasks">`)
	for _, t := range a.tasks {
		if !t.Completed {
			item(t)
		}
	}
	b.WriteString(`</ul></div>`)

	b.WriteString(panel("completed"))
	b.WriteString(`<ul id="completed-tasks">`)
	for _, t := range a.tasks {
		if t.Completed {
			item(t)
		}
	}
	b.WriteString(`</ul></div>`)

	b.WriteString(`</body></html>`)
	return b.String()
}

func attr(n *html.Node, key string) (string, bool) {
	for _, at := range n.Attr {
		if at.Key == key {
			return at.Val, true
		}
	}
	return "", false
}

func visible(n *html.Node) bool {
	for p := n; p != nil; p = p.Parent {
		if p.Type != html.ElementNode {
			continue
		}
		if _, hidden := attr(p, "hidden"); hidden {
			return false
		}
		if style, ok := attr(p, "style"); ok && strings.Contains(strings.ReplaceAll(style, " ", ""), "display:none") {
			return false
		}
	}
	return true
}

// dispatch runs the app's click handler for the nearest actionable ancestor.
func (a *App) dispatch(n *html.Node) {
	for p := n; p != nil; p = p.Parent {
		if p.Type != html.ElementNode {
			continue
		}

		if p.Data == "a" {
			if href, ok := attr(p, "href"); ok && strings.HasPrefix(href, "#") {
				tab := strings.TrimPrefix(href, "#")
				base, _, _ := strings.Cut(a.url, "#")
				a.url = base + href
				a.schedule(func() { a.tab = tab })
				return
			}
		}

		action, ok := attr(p, "data-action")
		if !ok {
			continue
		}
		switch action {
		case "add":
			text := strings.TrimSpace(a.input)
			if text == "" {
				return
			}
			// The handler empties the input at once; the list catches up later.
			a.input = ""
			a.gen.Next()
			a.schedule(func() {
				a.tasks = append(a.tasks, appTask{ID: a.nextID, Text: text})
				a.nextID++
				a.persist()
			})
		case "toggle", "delete":
			id := taskID(p)
			a.schedule(func() { a.mutate(action, id) })
		}
		return
	}
}

func taskID(n *html.Node) int {
	for p := n; p != nil; p = p.Parent {
		if raw, ok := attr(p, "data-id"); ok {
			id, _ := strconv.Atoi(raw)
			return id
		}
	}
	return 0
}

func (a *App) mutate(action string, id int) {
	for i := range a.tasks {
		if a.tasks[i].ID != id {
			continue
		}
		switch action {
		case "toggle":
			if !a.tasks[i].Completed {
				a.tasks[i].Completed = true
			} else if a.opts.AllowUncomplete {
				a.tasks[i].Completed = false
			}
		case "delete":
			a.tasks = append(a.tasks[:i], a.tasks[i+1:]...)
			if a.opts.Renumber {
				for j := range a.tasks {
					a.tasks[j].ID = j + 1
				}
				a.nextID = len(a.tasks) + 1
			}
		}
		a.persist()
		return
	}
}

type appElement struct {
	app  *App
	node *html.Node
	gen  int64
}

// live settles pending work and checks the handle still belongs to the
// current render. Callers hold app.mu.
func (e *appElement) live(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := e.app.checkOpen(); err != nil {
		return err
	}
	e.app.settle()
	if e.app.gen.Current() != e.gen {
		return browser.ErrDetached
	}
	return nil
}

func (e *appElement) Text(ctx context.Context) (string, error) {
	e.app.mu.Lock()
	defer e.app.mu.Unlock()
	if err := e.live(ctx); err != nil {
		return "", err
	}
	return htmlquery.InnerText(e.node), nil
}

func (e *appElement) Value(ctx context.Context) (string, error) {
	e.app.mu.Lock()
	defer e.app.mu.Unlock()
	if err := e.live(ctx); err != nil {
		return "", err
	}
	if e.node.Data != "input" && e.node.Data != "textarea" {
		return "", fmt.Errorf("<%s> has no value", e.node.Data)
	}
	v, _ := attr(e.node, "value")
	return v, nil
}

func (e *appElement) Visible(ctx context.Context) (bool, error) {
	e.app.mu.Lock()
	defer e.app.mu.Unlock()
	if err := e.live(ctx); err != nil {
		return false, err
	}
	return visible(e.node), nil
}

func (e *appElement) Click(ctx context.Context) error {
	e.app.mu.Lock()
	defer e.app.mu.Unlock()
	if err := e.live(ctx); err != nil {
		return err
	}
	if !visible(e.node) {
		return browser.ErrNotInteractable
	}
	e.app.dispatch(e.node)
	return nil
}

// Fill updates the input in place; typing does not re-render the page.
func (e *appElement) Fill(ctx context.Context, value string) error {
	e.app.mu.Lock()
	defer e.app.mu.Unlock()
	if err := e.live(ctx); err != nil {
		return err
	}
	if e.node.Data != "input" && e.node.Data != "textarea" {
		return fmt.Errorf("%w: <%s> is not editable", browser.ErrNotInteractable, e.node.Data)
	}
	if !visible(e.node) {
		return browser.ErrNotInteractable
	}

	e.app.input = value
	for i := range e.node.Attr {
		if e.node.Attr[i].Key == "value" {
			e.node.Attr[i].Val = value
			return nil
		}
	}
	e.node.Attr = append(e.node.Attr, html.Attribute{Key: "value", Val: value})
	return nil
}

// IsClosed reports whether the session was closed.
func (a *App) IsClosed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closed
}
