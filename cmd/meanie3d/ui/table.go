package ui

import (
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// SimpleTable renders static rows, e.g. the runs and steps of the ledger.
// Columns whose cells are all numbers are right aligned.
type SimpleTable struct {
	Title   string
	Headers []string
	Rows    [][]string
}

// NewSimpleTable creates a table with the given title and headers.
func NewSimpleTable(title string, headers ...string) *SimpleTable {
	return &SimpleTable{Title: title, Headers: headers}
}

// AddRow adds a row. Missing cells render empty, extra cells are dropped.
func (t *SimpleTable) AddRow(cells ...string) {
	row := make([]string, len(t.Headers))
	copy(row, cells)
	t.Rows = append(t.Rows, row)
}

// View renders the table. An empty table renders as the title and a note.
func (t *SimpleTable) View(styles Styles) string {
	var sb strings.Builder
	if t.Title != "" {
		sb.WriteString(styles.Title.Render(t.Title))
		sb.WriteString("\n")
	}
	if len(t.Rows) == 0 {
		sb.WriteString(styles.Muted.Render("(none)"))
		sb.WriteString("\n")
		return sb.String()
	}

	widths := make([]int, len(t.Headers))
	numeric := make([]bool, len(t.Headers))
	for i, h := range t.Headers {
		widths[i] = lipgloss.Width(h)
		numeric[i] = true
	}
	for _, row := range t.Rows {
		for i, cell := range row {
			widths[i] = max(widths[i], lipgloss.Width(cell))
			if _, err := strconv.ParseFloat(cell, 64); err != nil && cell != "" {
				numeric[i] = false
			}
		}
	}

	cell := func(style lipgloss.Style, i int, text string) string {
		align := lipgloss.Left
		if numeric[i] {
			align = lipgloss.Right
		}
		return style.Width(widths[i] + 2).Padding(0, 1).Align(align).Render(text)
	}
	sep := styles.Muted.Render("│")

	parts := make([]string, len(t.Headers))
	for i, h := range t.Headers {
		parts[i] = cell(styles.Bold, i, h)
	}
	sb.WriteString(strings.Join(parts, sep))
	sb.WriteString("\n")

	total := len(t.Headers) - 1
	for _, w := range widths {
		total += w + 2
	}
	sb.WriteString(styles.RenderDivider(total))
	sb.WriteString("\n")

	for _, row := range t.Rows {
		for i, text := range row {
			parts[i] = cell(styles.Body, i, text)
		}
		sb.WriteString(strings.Join(parts, sep))
		sb.WriteString("\n")
	}
	return sb.String()
}
