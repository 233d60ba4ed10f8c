package ui

import (
	_ "embed"
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/glamour"
)

//go:embed reference.md
var reference string

// Sections lists the names accepted by Reference.
func Sections() []string {
	var names []string
	for _, line := range strings.Split(reference, "\n") {
		if name, ok := strings.CutPrefix(line, "## "); ok {
			names = append(names, strings.TrimSpace(name))
		}
	}
	sort.Strings(names)
	return names
}

// Reference returns the configuration reference as markdown, or the named
// section of it.
func Reference(section string) (string, error) {
	if section == "" {
		return reference, nil
	}
	lines := strings.Split(reference, "\n")
	start := -1
	for i, line := range lines {
		if strings.TrimSpace(strings.TrimPrefix(line, "## ")) == section && strings.HasPrefix(line, "## ") {
			start = i
			break
		}
	}
	if start < 0 {
		return "", fmt.Errorf("unknown section %q (sections: %s)", section, strings.Join(Sections(), ", "))
	}
	end := len(lines)
	for i := start + 1; i < len(lines); i++ {
		if strings.HasPrefix(lines[i], "## ") {
			end = i
			break
		}
	}
	return strings.Join(lines[start:end], "\n"), nil
}

// RenderMarkdown renders markdown for the terminal. Plain text is returned
// when rendering fails.
func RenderMarkdown(md string, width int, styles Styles) string {
	style := glamour.WithStylePath("light")
	if styles.Theme.IsDark {
		style = glamour.WithAutoStyle()
	}
	r, err := glamour.NewTermRenderer(style, glamour.WithWordWrap(width))
	if err != nil {
		return md
	}
	out, err := r.Render(md)
	if err != nil {
		return md
	}
	return out
}
