package tui

import (
	"fmt"
	"os"
	"sync/atomic"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

// Table renders a rounded lipgloss table. Cells equal to "-" are dimmed.
func Table(headers []string, rows [][]string) string {
	if len(rows) == 0 {
		return DimStyle.Render("  (no data)")
	}

	headerStyle := lipgloss.NewStyle().Bold(true).Foreground(ColorAccent).Padding(0, 1)
	cellStyle := lipgloss.NewStyle().Padding(0, 1)
	dimCellStyle := cellStyle.Foreground(ColorGray)

	t := table.New().
		Headers(headers...).
		Rows(rows...).
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(ColorSubtle)).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			if row >= 0 && row < len(rows) && col < len(rows[row]) && rows[row][col] == "-" {
				return dimCellStyle
			}
			return cellStyle
		})

	return t.Render()
}

// TreeNode renders one line of a tree-style listing.
func TreeNode(name, status, message string, isLast bool) string {
	prefix := SubtleStyle.Render("├── ")
	if isLast {
		prefix = SubtleStyle.Render("└── ")
	}
	line := fmt.Sprintf("  %s%s  %s", prefix, name, status)
	if message != "" {
		line += "  " + MutedStyle.Render(message)
	}
	return line
}

// 0 = detect from stdin, 1 = forced on, 2 = forced off.
var interactiveMode atomic.Int32

// SetInteractive forces interactive rendering on or off. --non-interactive
// and the config's interactive: false turn it off.
func SetInteractive(on bool) {
	if on {
		interactiveMode.Store(1)
		return
	}
	interactiveMode.Store(2)
}

// IsInteractive reports whether spinners and full-screen views may be used.
// Unless forced, it is true when stdin is a terminal.
func IsInteractive() bool {
	switch interactiveMode.Load() {
	case 1:
		return true
	case 2:
		return false
	}
	fi, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}
