package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// ─────────────────────────────────────────────────────────────────────────
// Color Palette
//
// Every color the CLI uses. 256-color indices.
// ─────────────────────────────────────────────────────────────────────────

var (
	ColorAccent   = lipgloss.Color("173") // Vermilion, the seal-ink accent
	ColorAccentBg = lipgloss.Color("94")  // Dark ochre, banners and overlays
	ColorGreen    = lipgloss.Color("78")  // success, copied, mounted
	ColorYellow   = lipgloss.Color("220") // warnings, partial sets
	ColorRed      = lipgloss.Color("203") // errors, failed stages
	ColorCyan     = lipgloss.Color("81")  // paths, commands, links
	ColorGray     = lipgloss.Color("245") // secondary text
	ColorSubtle   = lipgloss.Color("238") // borders, separators
	ColorBright   = lipgloss.Color("15")  // headings
)

// ─────────────────────────────────────────────────────────────────────────
// Icons
//
// No emoji: they have variable width across terminals.
// ─────────────────────────────────────────────────────────────────────────

const (
	IconCheck   = "✓"
	IconCross   = "✗"
	IconWarn    = "▲"
	IconPending = "○"
	IconArrow   = "→"
	IconBullet  = "•"
	IconPlay    = "▸"
	IconNote    = "♪"
)

// ─────────────────────────────────────────────────────────────────────────
// Semantic Styles
//
// Command code uses these instead of constructing lipgloss styles inline.
// ─────────────────────────────────────────────────────────────────────────

var (
	TitleStyle   = lipgloss.NewStyle().Bold(true).Foreground(ColorAccent)
	HeadingStyle = lipgloss.NewStyle().Bold(true).Foreground(ColorBright)
	BoldStyle    = lipgloss.NewStyle().Bold(true)

	SuccessStyle = lipgloss.NewStyle().Foreground(ColorGreen)
	WarningStyle = lipgloss.NewStyle().Foreground(ColorYellow)
	ErrorStyle   = lipgloss.NewStyle().Foreground(ColorRed)
	InfoStyle    = lipgloss.NewStyle().Foreground(ColorCyan)
	MutedStyle   = lipgloss.NewStyle().Foreground(ColorGray)
	DimStyle     = lipgloss.NewStyle().Foreground(ColorGray).Faint(true)
	SubtleStyle  = lipgloss.NewStyle().Foreground(ColorSubtle)
	PathStyle    = lipgloss.NewStyle().Foreground(ColorCyan)

	SelectedStyle = lipgloss.NewStyle().Foreground(ColorAccent).Bold(true)

	BannerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorBright).
			Background(ColorAccentBg).
			Padding(0, 2)

	boxBorder = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorAccentBg).
			Padding(1, 2)

	keyLabel = lipgloss.NewStyle().Foreground(ColorGray).Width(14)
)

// StatusIcon returns a colored ✓ or ✗.
func StatusIcon(ok bool) string {
	if ok {
		return SuccessStyle.Render(IconCheck)
	}
	return ErrorStyle.Render(IconCross)
}

// Check levels used by DiagIcon.
const (
	LevelOK = iota
	LevelWarn
	LevelFail
)

// DiagIcon returns the icon for a doctor check level.
func DiagIcon(level int) string {
	switch level {
	case LevelOK:
		return SuccessStyle.Render(IconCheck)
	case LevelWarn:
		return WarningStyle.Render(IconWarn)
	case LevelFail:
		return ErrorStyle.Render(IconCross)
	default:
		return MutedStyle.Render("?")
	}
}

// RunStatusBadge formats a recorded run or stage status.
func RunStatusBadge(status string) string {
	switch status {
	case "succeeded":
		return SuccessStyle.Render(IconCheck + " succeeded")
	case "failed":
		return ErrorStyle.Render(IconCross + " failed")
	case "running":
		return WarningStyle.Render(IconPlay + " running")
	default:
		return MutedStyle.Render(status)
	}
}

// ArtifactBadge marks an artifact as present or missing.
func ArtifactBadge(name string, present bool) string {
	if present {
		return SuccessStyle.Render(IconCheck) + " " + name
	}
	return ErrorStyle.Render(IconCross) + " " + MutedStyle.Render(name+" (missing)")
}

// KeyValue renders an aligned "key value" line.
func KeyValue(key, value string) string {
	return fmt.Sprintf("  %s %s", keyLabel.Render(key), value)
}

// SectionHeader renders a bold heading with a leading blank line.
func SectionHeader(title string) string {
	return "\n" + HeadingStyle.Render("  "+title)
}

// Box wraps content in a rounded border.
func Box(content string) string {
	return boxBorder.Render(content)
}

// Divider returns a horizontal rule; width <= 0 means 48.
func Divider(width int) string {
	if width <= 0 {
		width = 48
	}
	return SubtleStyle.Render(strings.Repeat("─", width))
}

// Indent prefixes every non-empty line with level*2 spaces.
func Indent(s string, level int) string {
	pad := strings.Repeat("  ", level)
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		if l != "" {
			lines[i] = pad + l
		}
	}
	return strings.Join(lines, "\n")
}

// ValueOrMuted returns v, or a muted placeholder when v is empty.
func ValueOrMuted(v, placeholder string) string {
	if v == "" {
		return MutedStyle.Render(placeholder)
	}
	return v
}

// HumanBytes formats n with binary units.
func HumanBytes(n int64) string {
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
