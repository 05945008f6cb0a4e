package main

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	chipOkStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("229")).
			Background(lipgloss.Color("28")).
			Padding(0, 1)

	chipErrStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("229")).
			Background(lipgloss.Color("160")).
			Padding(0, 1)
)

// renderChips lays labels out left to right wrapping at width, each
// rendered with style. width <= 0 disables wrapping.
func renderChips(labels []string, style lipgloss.Style, width int) string {
	var lines []string
	var cur strings.Builder
	curWidth := 0
	for _, l := range labels {
		chip := style.Render(l)
		w := lipgloss.Width(chip)
		if width > 0 && curWidth > 0 && curWidth+w > width {
			lines = append(lines, cur.String())
			cur.Reset()
			curWidth = 0
		}
		cur.WriteString(chip)
		curWidth += w
	}
	if cur.Len() > 0 {
		lines = append(lines, cur.String())
	}
	return strings.Join(lines, "\n")
}
