// Package console renders the VM's diagnostic snapshots (jovm heap, jovm
// threads) and the debugger attach banner, adapted from the teacher's
// utils/styles.go box-and-color vocabulary.
package console

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	CriticalColor = lipgloss.Color("#CC3333")
	WarningColor  = lipgloss.Color("#FF8800")
	GoodColor     = lipgloss.Color("#228B22")
	InfoColor     = lipgloss.Color("#4682B4")
	TextColor     = lipgloss.Color("#CCCCCC")
	MutedColor    = lipgloss.Color("#888888")
	BorderColor   = lipgloss.Color("#666666")
)

var (
	CriticalStyle = lipgloss.NewStyle().Foreground(CriticalColor).Bold(true)
	WarningStyle  = lipgloss.NewStyle().Foreground(WarningColor).Bold(true)
	GoodStyle     = lipgloss.NewStyle().Foreground(GoodColor).Bold(true)
	InfoStyle     = lipgloss.NewStyle().Foreground(InfoColor)
	MutedStyle    = lipgloss.NewStyle().Foreground(MutedColor)
	TextStyle     = lipgloss.NewStyle().Foreground(TextColor)

	TitleStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFFFF")).Bold(true).Padding(0, 1)

	BoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(BorderColor).
			Padding(1, 2)

	HeaderStyle = lipgloss.NewStyle().
			Foreground(TextColor).
			Background(lipgloss.Color("#1a1a1a")).
			Bold(true).
			Padding(0, 1)
)

// StyleForStatus picks a color for a thread/chunk status word, matching
// the teacher's severity-coloring convention.
func StyleForStatus(status string) lipgloss.Style {
	switch strings.ToLower(status) {
	case "dead", "exception":
		return CriticalStyle
	case "blocked", "waiting", "suspended":
		return WarningStyle
	case "runnable":
		return GoodStyle
	default:
		return MutedStyle
	}
}

// Table renders a simple header + rows box, column-aligned, used by both
// `jovm heap`'s chunk histogram and `jovm threads`' thread table.
func Table(title string, headers []string, rows [][]string) string {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) && len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	var b strings.Builder
	b.WriteString(TitleStyle.Render(title))
	b.WriteString("\n")
	b.WriteString(HeaderStyle.Render(padRow(headers, widths)))
	b.WriteString("\n")
	for _, row := range rows {
		b.WriteString(padRow(row, widths))
		b.WriteString("\n")
	}
	return BoxStyle.Render(strings.TrimRight(b.String(), "\n"))
}

func padRow(cells []string, widths []int) string {
	parts := make([]string, len(cells))
	for i, c := range cells {
		w := 0
		if i < len(widths) {
			w = widths[i]
		}
		parts[i] = fmt.Sprintf("%-*s", w, c)
	}
	return strings.Join(parts, "  ")
}

// AttachBanner is printed once a debugger connects, matching the
// teacher's box-drawn status banners.
func AttachBanner(addr string) string {
	return BoxStyle.Render(fmt.Sprintf("%s\n%s",
		TitleStyle.Render("jovm debugger"),
		InfoStyle.Render("listening on "+addr+", waiting for JDWP client")))
}
