package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"

	"github.com/tonimelisma/tasksync/internal/task"
)

// statusf prints a status message to stderr unless quiet mode is set.
func statusf(w io.Writer, quiet bool, format string, args ...any) {
	if !quiet {
		fmt.Fprintf(w, format, args...)
	}
}

// Statusf prints a status message to stderr unless quiet mode is set.
func (cc *CLIContext) Statusf(format string, args ...any) {
	statusf(cc.errOut, cc.Flags.Quiet, format, args...)
}

// Display layouts.
const (
	deadlineLayout = "2006-01-02 15:04"
	dateOnlyLayout = "2006-01-02"
	shortIDLen     = 8
)

// deadlineLayouts are tried before natural-language parsing.
var deadlineLayouts = []string{time.RFC3339, deadlineLayout, dateOnlyLayout}

var errUnparsableDeadline = errors.New("could not understand deadline")

// deadlineParser recognizes phrases like "tomorrow 5pm" or "next friday".
var deadlineParser = func() *when.Parser {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)

	return w
}()

// parseDeadline accepts RFC 3339, "YYYY-MM-DD HH:MM", "YYYY-MM-DD" (end of
// day), or an English phrase relative to now. Local layouts are read in
// now's location.
func parseDeadline(input string, now time.Time) (time.Time, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return time.Time{}, fmt.Errorf("%w: empty", errUnparsableDeadline)
	}

	for _, layout := range deadlineLayouts {
		t, err := time.ParseInLocation(layout, input, now.Location())
		if err != nil {
			continue
		}

		if layout == dateOnlyLayout {
			t = t.Add(24*time.Hour - time.Minute)
		}

		return t, nil
	}

	r, err := deadlineParser.Parse(input, now)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w %q: %w", errUnparsableDeadline, input, err)
	}

	if r == nil {
		return time.Time{}, fmt.Errorf("%w %q", errUnparsableDeadline, input)
	}

	return r.Time, nil
}

// formatDeadline renders a deadline in the viewer's local time.
func formatDeadline(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(deadlineLayout)
}

// shortID abbreviates a task id for tables. Any unique prefix is accepted
// back by the task commands.
func shortID(id string) string {
	if len(id) <= shortIDLen {
		return id
	}

	return id[:shortIDLen]
}

// taskTable renders tasks as an aligned table. When styled, statuses and
// overdue deadlines are colored; widths are measured on the visible text.
type taskTable struct {
	styled bool
	now    time.Time
	loc    *time.Location
}

var (
	headerStyle    = lipgloss.NewStyle().Bold(true)
	completedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Strikethrough(true)
	onHoldStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	activeStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	overdueStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
)

func (tt taskTable) render(w io.Writer, tasks []task.Task) {
	headers := []string{"ID", "STATUS", "DEADLINE", "TITLE"}
	rows := make([][]string, 0, len(tasks))

	for i := range tasks {
		t := &tasks[i]
		rows = append(rows, []string{
			shortID(t.ID),
			tt.status(t.Status),
			tt.deadline(t),
			t.Title,
		})
	}

	if tt.styled {
		for i, h := range headers {
			headers[i] = headerStyle.Render(h)
		}
	}

	printTable(w, headers, rows)
}

func (tt taskTable) status(s task.Status) string {
	if !tt.styled {
		return string(s)
	}

	switch s {
	case task.StatusCompleted:
		return completedStyle.Render(string(s))
	case task.StatusOnHold:
		return onHoldStyle.Render(string(s))
	default:
		return activeStyle.Render(string(s))
	}
}

func (tt taskTable) deadline(t *task.Task) string {
	text := formatDeadline(t.Deadline, tt.loc)
	if tt.styled && t.Status == task.StatusActive && t.Deadline.Before(tt.now) {
		return overdueStyle.Render(text)
	}

	return text
}

// printTable writes aligned columns to the given writer. headers and each
// row must have the same length. Cells may carry ANSI styling.
func printTable(w io.Writer, headers []string, rows [][]string) {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = lipgloss.Width(h)
	}

	for _, row := range rows {
		for i, cell := range row {
			widths[i] = max(widths[i], lipgloss.Width(cell))
		}
	}

	printRow(w, headers, widths)

	for _, row := range rows {
		printRow(w, row, widths)
	}
}

// printRow writes a single padded row. The last column is not padded.
func printRow(w io.Writer, cells []string, widths []int) {
	var b strings.Builder

	for i, cell := range cells {
		if i > 0 {
			b.WriteString("  ")
		}

		b.WriteString(cell)

		if i < len(cells)-1 {
			b.WriteString(strings.Repeat(" ", widths[i]-lipgloss.Width(cell)))
		}
	}

	fmt.Fprintln(w, b.String())
}

// stdoutStyled reports whether w is a terminal that should get colors.
func stdoutStyled(w io.Writer) bool {
	f, ok := w.(*os.File)

	return ok && isTerminal(f)
}
