// Package report renders suite results for people.
//
// Output goes through a lipgloss renderer bound to the destination writer, so
// colour is used only when that writer is a terminal.
package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"github.com/roach88/todocheck/internal/harness"
)

var (
	purple = lipgloss.Color("99")
	green  = lipgloss.Color("76")
	red    = lipgloss.Color("204")
	yellow = lipgloss.Color("214")
	dim    = lipgloss.Color("243")
	faint  = lipgloss.Color("238")
)

// Printer writes styled reports to one writer.
type Printer struct {
	w io.Writer
	r *lipgloss.Renderer

	// Verbose adds every step to scenario output, not just failures.
	Verbose bool

	success lipgloss.Style
	failure lipgloss.Style
	warn    lipgloss.Style
	muted   lipgloss.Style
	bold    lipgloss.Style
}

// Option configures a Printer.
type Option func(*Printer)

// WithVerbose lists every step of every scenario.
func WithVerbose(v bool) Option {
	return func(p *Printer) { p.Verbose = v }
}

// WithPlain disables colour regardless of the writer.
func WithPlain() Option {
	return func(p *Printer) { p.r.SetColorProfile(termenv.Ascii) }
}

// NewPrinter returns a Printer for w.
func NewPrinter(w io.Writer, opts ...Option) *Printer {
	p := &Printer{w: w, r: lipgloss.NewRenderer(w)}
	for _, opt := range opts {
		opt(p)
	}
	p.success = p.r.NewStyle().Foreground(green)
	p.failure = p.r.NewStyle().Foreground(red)
	p.warn = p.r.NewStyle().Foreground(yellow)
	p.muted = p.r.NewStyle().Foreground(dim)
	p.bold = p.r.NewStyle().Bold(true)
	return p
}

// Suite writes one line per scenario, failure details, and a summary.
func (p *Printer) Suite(run *harness.SuiteResult) error {
	var sb strings.Builder
	for _, r := range run.Results {
		p.scenario(&sb, r)
	}
	if len(run.Results) > 0 {
		sb.WriteString("\n")
	}

	summary := fmt.Sprintf("%d scenarios: %s, %s",
		run.Total,
		p.success.Render(fmt.Sprintf("%d passed", run.Passed)),
		p.countStyle(run.Failed).Render(fmt.Sprintf("%d failed", run.Failed)))
	sb.WriteString(p.bold.Render(summary))
	sb.WriteString(p.muted.Render(fmt.Sprintf("  (run %s, %s)", run.RunID, formatDuration(run.FinishedAt.Sub(run.StartedAt)))))
	sb.WriteString("\n")

	_, err := io.WriteString(p.w, sb.String())
	return err
}

func (p *Printer) countStyle(failed int) lipgloss.Style {
	if failed > 0 {
		return p.failure
	}
	return p.muted
}

func (p *Printer) scenario(sb *strings.Builder, r *harness.Result) {
	mark := p.success.Render("✓")
	if !r.Passed() {
		mark = p.failure.Render("✗")
	}
	fmt.Fprintf(sb, "%s %s %s\n", mark, r.Name, p.muted.Render("("+formatDuration(r.Duration)+")"))

	if p.Verbose {
		for _, step := range r.Steps {
			fmt.Fprintf(sb, "    %s %d %s\n", p.outcomeMark(step.Outcome), step.Seq, step.Label)
		}
	}

	if r.Passed() {
		return
	}

	if r.FailingStep != nil {
		label := r.FailingAction
		for _, step := range r.Steps {
			if step.Seq == *r.FailingStep {
				label = step.Label
				break
			}
		}
		fmt.Fprintf(sb, "    %s step %d (%s)\n", p.failure.Render(string(r.Code)), *r.FailingStep, label)
	}
	if r.Diagnostic != "" {
		for _, line := range strings.Split(r.Diagnostic, "\n") {
			fmt.Fprintf(sb, "    %s\n", line)
		}
	}
	if r.Screenshot != "" {
		fmt.Fprintf(sb, "    %s %s\n", p.muted.Render("screenshot:"), r.Screenshot)
	}
}

func (p *Printer) outcomeMark(o harness.Outcome) string {
	switch o {
	case harness.OutcomePass:
		return p.success.Render("✓")
	case harness.OutcomeFail:
		return p.failure.Render("✗")
	default:
		return p.muted.Render("-")
	}
}

// Validation writes the outcome of loading scenario files.
func (p *Printer) Validation(v *harness.ValidationResult) error {
	var sb strings.Builder
	for _, f := range v.Failures {
		fmt.Fprintf(&sb, "%s %s\n    %s\n", p.failure.Render("✗"), f.Path, f.Error)
	}
	if len(v.Failures) > 0 {
		sb.WriteString("\n")
	}

	status := p.success.Render(fmt.Sprintf("%d valid", v.Valid))
	if v.Invalid > 0 {
		status += ", " + p.failure.Render(fmt.Sprintf("%d invalid", v.Invalid))
	}
	fmt.Fprintf(&sb, "%s\n", p.bold.Render(fmt.Sprintf("%d scenario files: %s", v.Total, status)))

	_, err := io.WriteString(p.w, sb.String())
	return err
}

// Warn writes a one-line warning.
func (p *Printer) Warn(format string, a ...any) error {
	_, err := fmt.Fprintf(p.w, "%s %s\n", p.warn.Render("!"), fmt.Sprintf(format, a...))
	return err
}

func formatDuration(d time.Duration) string {
	switch {
	case d <= 0:
		return "0s"
	case d < time.Millisecond:
		return d.String()
	default:
		return d.Round(time.Millisecond).String()
	}
}
