// Package output provides styled terminal output helpers (success, error,
// warning, board and event formatting) using lipgloss.
package output

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"

	"github.com/marcus/boardsync/internal/events"
	"github.com/marcus/boardsync/internal/models"
)

var (
	// Styles
	titleStyle   = lipgloss.NewStyle().Bold(true)
	subtleStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	columnStyle  = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)
	kindStyles = map[events.Kind]lipgloss.Style{
		events.ItemAdded:   lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		events.ItemUpdated: lipgloss.NewStyle().Foreground(lipgloss.Color("45")),
		events.ItemMoved:   lipgloss.NewStyle().Foreground(lipgloss.Color("141")),
		events.ItemDeleted: lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
		events.ListAdded:   lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		events.ListDeleted: lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
	}
)

// Success prints a success message
func Success(format string, args ...interface{}) {
	fmt.Println(successStyle.Render(fmt.Sprintf(format, args...)))
}

// Error prints an error message
func Error(format string, args ...interface{}) {
	fmt.Println(errorStyle.Render("ERROR: " + fmt.Sprintf(format, args...)))
}

// Warning prints a warning message
func Warning(format string, args ...interface{}) {
	fmt.Println(warningStyle.Render("Warning: " + fmt.Sprintf(format, args...)))
}

// Info prints an info message
func Info(format string, args ...interface{}) {
	fmt.Println(fmt.Sprintf(format, args...))
}

// JSON outputs data as JSON
func JSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

// Error codes for structured JSON output
const (
	ErrCodeNotFound     = "not_found"
	ErrCodeInvalidInput = "invalid_input"
	ErrCodeUnreachable  = "unreachable"
	ErrCodeServerError  = "server_error"
)

// JSONError outputs an error as JSON
func JSONError(code, message string) {
	data, _ := json.Marshal(map[string]map[string]string{
		"error": {"code": code, "message": message},
	})
	fmt.Println(string(data))
}

// FormatList formats a list header line: "ls-ab12  Todo  (3 items)".
func FormatList(l models.List, count int) string {
	noun := "items"
	if count == 1 {
		noun = "item"
	}
	return strings.Join([]string{
		subtleStyle.Render(l.ID),
		titleStyle.Render(l.Title),
		subtleStyle.Render(fmt.Sprintf("(%d %s)", count, noun)),
	}, "  ")
}

// FormatItemShort formats an item in short format
func FormatItemShort(it models.Item) string {
	parts := []string{
		subtleStyle.Render(fmt.Sprintf("%2d.", it.Position)),
		titleStyle.Render(it.ID),
		it.Title,
	}
	if it.Description != "" {
		parts = append(parts, subtleStyle.Render(Truncate(it.Description, 40)))
	}
	return strings.Join(parts, "  ")
}

// FormatItemLong formats an item with all of its fields
func FormatItemLong(it models.Item) string {
	var sb strings.Builder
	sb.WriteString(titleStyle.Render(fmt.Sprintf("%s: %s", it.ID, it.Title)))
	sb.WriteString("\n")
	sb.WriteString(fmt.Sprintf("List: %s | Position: %d\n", it.ListID, it.Position))
	if !it.UpdatedAt.IsZero() {
		sb.WriteString(subtleStyle.Render("Updated " + FormatTimeAgo(it.UpdatedAt)))
		sb.WriteString("\n")
	}
	if it.Description != "" {
		sb.WriteString("\n")
		sb.WriteString(it.Description)
		sb.WriteString("\n")
	}
	return sb.String()
}

// FormatEvent formats a realtime event as one line.
func FormatEvent(ev events.Envelope) string {
	style, ok := kindStyles[ev.Type]
	if !ok {
		style = subtleStyle
	}
	label := style.Render(fmt.Sprintf("[%s]", ev.Type))

	var detail string
	switch ev.Type {
	case events.ItemAdded, events.ItemUpdated:
		if it, err := ev.Item(); err == nil {
			detail = fmt.Sprintf("%s %q in %s at %d", it.ID, it.Title, it.ListID, it.Position)
		}
	case events.ItemMoved:
		var p events.ItemMovedPayload
		if ev.Decode(&p) == nil {
			detail = fmt.Sprintf("%s -> %s at %d", p.ItemID, p.NewListID, p.NewPosition)
		}
	case events.ItemDeleted:
		var p events.ItemDeletedPayload
		if ev.Decode(&p) == nil {
			detail = p.ItemID
		}
	case events.ListAdded:
		if l, err := ev.List(); err == nil {
			detail = fmt.Sprintf("%s %q", l.ID, l.Title)
		}
	case events.ListDeleted:
		var p events.ListDeletedPayload
		if ev.Decode(&p) == nil {
			detail = p.ListID
		}
	}
	if detail == "" {
		return label
	}
	return label + " " + detail
}

// RenderBoard lays lists out as side-by-side columns, wrapping onto new rows
// when they do not fit in width. items must be in display order.
func RenderBoard(lists []models.List, items []models.Item, width int) string {
	if len(lists) == 0 {
		return subtleStyle.Render("(no lists)")
	}

	byList := make(map[string][]models.Item, len(lists))
	for _, it := range items {
		byList[it.ListID] = append(byList[it.ListID], it)
	}

	const colWidth = 28
	perRow := width / (colWidth + 4)
	if perRow < 1 {
		perRow = 1
	}

	var rows []string
	var row []string
	for _, l := range lists {
		lines := []string{titleStyle.Render(Truncate(l.Title, colWidth))}
		for _, it := range byList[l.ID] {
			lines = append(lines, Truncate(it.Title, colWidth))
		}
		if len(byList[l.ID]) == 0 {
			lines = append(lines, subtleStyle.Render("empty"))
		}
		row = append(row, columnStyle.Width(colWidth).Render(strings.Join(lines, "\n")))
		if len(row) == perRow {
			rows = append(rows, lipgloss.JoinHorizontal(lipgloss.Top, row...))
			row = nil
		}
	}
	if len(row) > 0 {
		rows = append(rows, lipgloss.JoinHorizontal(lipgloss.Top, row...))
	}
	return lipgloss.JoinVertical(lipgloss.Left, rows...)
}

// SectionHeader returns a formatted section header for CLI output
// e.g., "\nLS-AB12:"
func SectionHeader(title string) string {
	return fmt.Sprintf("\n%s:", strings.ToUpper(title))
}

// Truncate shortens s to at most n display cells, marking the cut with "…".
// Escape sequences are kept whole. n <= 0 disables truncation.
func Truncate(s string, n int) string {
	if n <= 0 {
		return s
	}
	return ansi.Truncate(s, n, "…")
}

// FormatTimeAgo formats a time as a human-readable "ago" string
func FormatTimeAgo(t time.Time) string {
	diff := time.Since(t)

	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		mins := int(diff.Minutes())
		if mins == 1 {
			return "1m ago"
		}
		return fmt.Sprintf("%dm ago", mins)
	case diff < 24*time.Hour:
		hours := int(diff.Hours())
		if hours == 1 {
			return "1h ago"
		}
		return fmt.Sprintf("%dh ago", hours)
	case diff < 7*24*time.Hour:
		days := int(diff.Hours() / 24)
		if days == 1 {
			return "1d ago"
		}
		return fmt.Sprintf("%dd ago", days)
	default:
		return t.Format("2006-01-02")
	}
}
