package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	btable "github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// BrowserConfig configures a full-screen table browser.
type BrowserConfig struct {
	Title   string
	Headers []string
	Rows    [][]string
	// Detail renders the overlay for the selected row. Empty output, or a nil
	// Detail, closes the browser with that row selected.
	Detail func(row []string, index int) string
}

// Selection is the row chosen in a browser.
type Selection struct {
	Row   []string
	Index int
}

type browserKeys struct {
	btable.KeyMap
	Quit   key.Binding
	Enter  key.Binding
	Back   key.Binding
	Filter key.Binding
	Help   key.Binding
}

func (k browserKeys) ShortHelp() []key.Binding {
	return []key.Binding{k.LineUp, k.LineDown, k.Enter, k.Filter, k.Quit}
}

func (k browserKeys) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.LineUp, k.LineDown, k.PageUp, k.PageDown},
		{k.GotoTop, k.GotoBottom},
		{k.Enter, k.Filter, k.Back, k.Quit},
	}
}

func defaultBrowserKeys() browserKeys {
	return browserKeys{
		KeyMap: btable.DefaultKeyMap(),
		Quit:   key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
		Enter:  key.NewBinding(key.WithKeys("enter"), key.WithHelp("⏎", "details")),
		Back:   key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "back")),
		Filter: key.NewBinding(key.WithKeys("/"), key.WithHelp("/", "filter")),
		Help:   key.NewBinding(key.WithKeys("?"), key.WithHelp("?", "help")),
	}
}

type browserModel struct {
	title    string
	table    btable.Model
	keys     browserKeys
	help     help.Model
	allRows  []btable.Row
	detailFn func([]string, int) string

	detail   string
	detailVP viewport.Model
	selected *Selection
	quit     bool

	filtering bool
	filter    string

	width, height int
}

func columnsFor(headers []string, rows [][]string) []btable.Column {
	cols := make([]btable.Column, len(headers))
	for i, h := range headers {
		w := lipgloss.Width(h)
		for _, row := range rows {
			if i < len(row) && lipgloss.Width(row[i]) > w {
				w = lipgloss.Width(row[i])
			}
		}
		cols[i] = btable.Column{Title: h, Width: w + 2}
	}
	return cols
}

func newBrowserModel(cfg BrowserConfig) browserModel {
	rows := make([]btable.Row, len(cfg.Rows))
	for i, r := range cfg.Rows {
		rows[i] = btable.Row(r)
	}

	t := btable.New(
		btable.WithColumns(columnsFor(cfg.Headers, cfg.Rows)),
		btable.WithRows(rows),
		btable.WithFocused(true),
		btable.WithHeight(min(len(rows)+1, 20)),
	)
	st := btable.DefaultStyles()
	st.Header = lipgloss.NewStyle().
		Bold(true).
		Foreground(ColorAccent).
		BorderStyle(lipgloss.NormalBorder()).
		BorderBottom(true).
		BorderForeground(ColorSubtle).
		Padding(0, 1)
	st.Selected = lipgloss.NewStyle().Bold(true).Foreground(ColorBright).Background(ColorAccentBg)
	st.Cell = lipgloss.NewStyle().Padding(0, 1)
	t.SetStyles(st)

	h := help.New()
	h.Styles.ShortKey = lipgloss.NewStyle().Foreground(ColorAccent)
	h.Styles.ShortDesc = MutedStyle

	return browserModel{
		title:    cfg.Title,
		table:    t,
		keys:     defaultBrowserKeys(),
		help:     h,
		allRows:  rows,
		detailFn: cfg.Detail,
	}
}

func (m browserModel) Init() tea.Cmd { return nil }

func (m browserModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.help.Width = msg.Width
		m.table.SetHeight(max(msg.Height-6, 3))
		return m, nil

	case tea.KeyMsg:
		if m.filtering {
			m.updateFilter(msg)
			return m, nil
		}
		switch {
		case key.Matches(msg, m.keys.Quit):
			m.quit = true
			return m, tea.Quit

		case key.Matches(msg, m.keys.Enter):
			if m.detail != "" {
				return m, nil
			}
			row := m.table.SelectedRow()
			if row == nil {
				return m, nil
			}
			m.selected = &Selection{Row: []string(row), Index: m.indexOf(row)}
			if m.detailFn != nil {
				if m.detail = m.detailFn(m.selected.Row, m.selected.Index); m.detail != "" {
					m.openDetail()
					return m, nil
				}
			}
			return m, tea.Quit

		case key.Matches(msg, m.keys.Back):
			if m.detail != "" {
				m.detail, m.selected = "", nil
				return m, nil
			}
			m.quit = true
			return m, tea.Quit

		case key.Matches(msg, m.keys.Filter):
			m.filtering, m.filter = true, ""
			return m, nil

		case key.Matches(msg, m.keys.Help):
			m.help.ShowAll = !m.help.ShowAll
			return m, nil
		}
	}

	var cmd tea.Cmd
	if m.detail != "" {
		m.detailVP, cmd = m.detailVP.Update(msg)
		return m, cmd
	}
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m *browserModel) updateFilter(msg tea.KeyMsg) {
	switch msg.String() {
	case "esc":
		m.filtering, m.filter = false, ""
	case "enter":
		m.filtering = false
		return
	case "backspace":
		if m.filter != "" {
			r := []rune(m.filter)
			m.filter = string(r[:len(r)-1])
		}
	default:
		if msg.Type == tea.KeyRunes {
			m.filter += string(msg.Runes)
		}
	}
	m.table.SetRows(filterRows(m.allRows, m.filter))
	m.table.SetCursor(0)
}

func filterRows(rows []btable.Row, filter string) []btable.Row {
	if filter == "" {
		return rows
	}
	needle := strings.ToLower(filter)
	var out []btable.Row
	for _, row := range rows {
		for _, cell := range row {
			if strings.Contains(strings.ToLower(cell), needle) {
				out = append(out, row)
				break
			}
		}
	}
	return out
}

// indexOf maps a possibly filtered row back to its position in the input.
func (m browserModel) indexOf(row btable.Row) int {
	for i, r := range m.allRows {
		if len(r) > 0 && len(row) > 0 && r[0] == row[0] {
			return i
		}
	}
	return m.table.Cursor()
}

func (m browserModel) overlayWidth() int {
	return min(max(m.width-8, 40), 100)
}

func (m *browserModel) openDetail() {
	contentW := max(m.overlayWidth()-6, 20)
	content := lipgloss.NewStyle().Width(contentW).Render(m.detail) +
		"\n\n" + DimStyle.Render("esc to close · ↑↓ scroll")
	height := min(strings.Count(content, "\n")+1, max(m.height-8, 5))
	m.detailVP = viewport.New(contentW, height)
	m.detailVP.SetContent(content)
}

func (m browserModel) View() string {
	if m.detail != "" {
		scroll := ""
		if m.detailVP.TotalLineCount() > m.detailVP.VisibleLineCount() {
			scroll = DimStyle.Render(fmt.Sprintf(" %d%%", int(m.detailVP.ScrollPercent()*100)))
		}
		overlay := lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorAccentBg).
			Padding(1, 2).
			Width(m.overlayWidth()).
			Render(m.detailVP.View() + scroll)
		return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, overlay)
	}

	var sb strings.Builder
	sb.WriteString(TitleStyle.MarginBottom(1).Render(m.title))
	sb.WriteString("\n")
	if m.filtering {
		sb.WriteString(WarningStyle.Bold(true).Render(fmt.Sprintf("  / %s▌", m.filter)))
		sb.WriteString("\n")
	}
	sb.WriteString(m.table.View())
	sb.WriteString("\n")

	count := fmt.Sprintf("  %d items", len(m.table.Rows()))
	if m.filter != "" {
		count = fmt.Sprintf("  %d/%d items (filtered)", len(m.table.Rows()), len(m.allRows))
	}
	sb.WriteString(DimStyle.Render(count))
	sb.WriteString("\n")
	sb.WriteString(m.help.View(m.keys))
	return sb.String()
}

// Browse runs a full-screen table browser and returns the selected row, or
// nil when the user quits. Without a terminal it prints a static table.
func Browse(cfg BrowserConfig) (*Selection, error) {
	if !IsInteractive() {
		fmt.Fprintln(outWriter(), Table(cfg.Headers, cfg.Rows))
		return nil, nil
	}

	final, err := tea.NewProgram(newBrowserModel(cfg), tea.WithAltScreen()).Run()
	if err != nil {
		return nil, err
	}
	rm := final.(browserModel)
	if rm.quit {
		return nil, nil
	}
	return rm.selected, nil
}
