package report

import (
	"fmt"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/roach88/todocheck/internal/store"
)

// Runs writes stored runs as a table, newest first.
func (p *Printer) Runs(runs []store.RunSummary) error {
	if len(runs) == 0 {
		_, err := fmt.Fprintln(p.w, p.muted.Render("no runs recorded"))
		return err
	}

	rows := make([][]string, len(runs))
	for i, r := range runs {
		rows[i] = []string{
			r.ID,
			r.StartedAt.UTC().Format(time.RFC3339),
			formatDuration(r.FinishedAt.Sub(r.StartedAt)),
			strconv.Itoa(r.Passed),
			strconv.Itoa(r.Failed),
			strconv.Itoa(r.Total),
		}
	}
	_, err := fmt.Fprintln(p.w, p.table([]string{"RUN", "STARTED", "DURATION", "PASSED", "FAILED", "TOTAL"}, rows))
	return err
}

// History writes one scenario's stored outcomes as a table.
func (p *Printer) History(name string, history []store.ScenarioRun) error {
	if len(history) == 0 {
		_, err := fmt.Fprintln(p.w, p.muted.Render(fmt.Sprintf("no runs recorded for %s", name)))
		return err
	}

	rows := make([][]string, len(history))
	for i, h := range history {
		step := ""
		if h.FailingStep != nil {
			step = strconv.Itoa(*h.FailingStep)
		}
		rows[i] = []string{
			h.RunID,
			h.StartedAt.UTC().Format(time.RFC3339),
			string(h.Status),
			step,
			string(h.Code),
			formatDuration(h.Duration),
		}
	}
	_, err := fmt.Fprintln(p.w, p.table([]string{"RUN", "STARTED", "STATUS", "STEP", "CODE", "DURATION"}, rows))
	return err
}

func (p *Printer) table(headers []string, rows [][]string) string {
	headerStyle := p.r.NewStyle().Foreground(purple).Bold(true).Padding(0, 1)
	cellStyle := p.r.NewStyle().Padding(0, 1)
	oddStyle := cellStyle.Foreground(dim)

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(p.r.NewStyle().Foreground(faint)).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return headerStyle
			case row%2 == 0:
				return cellStyle
			default:
				return oddStyle
			}
		}).
		Headers(headers...).
		Rows(rows...)

	return t.String()
}
