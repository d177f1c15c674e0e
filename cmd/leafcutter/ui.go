package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"github.com/leafcutter/leafcutter/internal/navigation"
	"github.com/leafcutter/leafcutter/internal/playback"
	"github.com/leafcutter/leafcutter/pkg/models"
)

// Color palette
var (
	primary = lipgloss.Color("#7c3aed") // Purple
	accent  = lipgloss.Color("#10b981") // Emerald
	info    = lipgloss.Color("#3b82f6") // Blue
	warning = lipgloss.Color("#f59e0b") // Amber
	danger  = lipgloss.Color("#ef4444") // Red
	muted   = lipgloss.Color("#64748b") // Slate-500
)

var (
	titleStyle = lipgloss.NewStyle().
			Foreground(primary).
			Bold(true)

	dirStyle = lipgloss.NewStyle().
			Foreground(info).
			Bold(true)

	fileStyle = lipgloss.NewStyle()

	highlightStyle = lipgloss.NewStyle().
			Foreground(accent).
			Bold(true)

	mutedStyle = lipgloss.NewStyle().
			Foreground(muted)

	warningStyle = lipgloss.NewStyle().
			Foreground(warning)

	errorStyle = lipgloss.NewStyle().
			Foreground(danger).
			Bold(true)

	successStyle = lipgloss.NewStyle().
			Foreground(accent).
			Bold(true)

	playedStyle = lipgloss.NewStyle().
			Foreground(accent)

	unplayedStyle = lipgloss.NewStyle().
			Foreground(muted)
)

// nameWidth is the column width of entry names in listings.
const nameWidth = 48

// fit truncates or pads s to exactly width terminal columns.
func fit(s string, width int) string {
	if runewidth.StringWidth(s) > width {
		s = runewidth.Truncate(s, width, "…")
	}
	return runewidth.FillRight(s, width)
}

func formatSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

// renderBreadcrumbs joins crumbs with a separator, the last one emphasised.
func renderBreadcrumbs(crumbs []navigation.Breadcrumb) string {
	parts := make([]string, len(crumbs))
	for i, c := range crumbs {
		if i == len(crumbs)-1 {
			parts[i] = titleStyle.Render(c.Title)
		} else {
			parts[i] = mutedStyle.Render(c.Title)
		}
	}
	return strings.Join(parts, mutedStyle.Render(" / "))
}

// renderEntry renders one row of a directory listing.
func renderEntry(e models.Entry, highlighted bool) string {
	if e.IsDir() {
		return dirStyle.Render(fit(e.Name+"/", nameWidth))
	}
	style := fileStyle
	if highlighted {
		style = highlightStyle
	}
	return style.Render(fit(e.Name, nameWidth)) + "  " +
		mutedStyle.Render(fmt.Sprintf("%-5s %10s", strings.ToLower(e.Format), formatSize(e.Size)))
}

// renderState renders a navigation snapshot: breadcrumbs, visible entries
// and a show-more hint.
func renderState(s navigation.State) string {
	var b strings.Builder
	b.WriteString(renderBreadcrumbs(s.Breadcrumbs))
	b.WriteString("\n")
	visible := navigation.Visible(s)
	if len(visible) == 0 {
		b.WriteString(mutedStyle.Render("  (empty)"))
		b.WriteString("\n")
	}
	for _, e := range visible {
		b.WriteString("  ")
		b.WriteString(renderEntry(e, e.IsFile() && e.Name == s.Highlight))
		b.WriteString("\n")
	}
	if navigation.HasMore(s) {
		hidden := s.Content.Len() - s.DisplayLimit
		b.WriteString(mutedStyle.Render(fmt.Sprintf("  … %d more (use -more)", hidden)))
		b.WriteString("\n")
	}
	return b.String()
}

var levels = []rune("▁▂▃▄▅▆▇█")

// renderWaveform draws one block character per peak. Bars left of the
// playhead column are drawn played.
func renderWaveform(peaks []playback.Peak, playhead int) string {
	var played, rest strings.Builder
	for i, p := range peaks {
		amp := max(abs32(p.Min), abs32(p.Max))
		level := int(amp * float32(len(levels)-1))
		level = min(max(level, 0), len(levels)-1)
		if i < playhead {
			played.WriteRune(levels[level])
		} else {
			rest.WriteRune(levels[level])
		}
	}
	return playedStyle.Render(played.String()) + unplayedStyle.Render(rest.String())
}

func abs32(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}
