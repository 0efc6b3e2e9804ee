package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/pithecene-io/vellum/usage"
)

// statBox renders one labeled number.
var statBox = lipgloss.NewStyle().
	Border(lipgloss.RoundedBorder()).
	BorderForeground(highlightColor).
	Padding(0, 2).
	Width(20).
	Align(lipgloss.Center)

// UsageModel is a read-only view of usage totals and recent history.
type UsageModel struct {
	totals   usage.Totals
	limit    int
	quitting bool
}

// NewUsageModel creates a usage view showing up to limit history rows.
func NewUsageModel(totals usage.Totals, limit int) UsageModel {
	return UsageModel{totals: totals, limit: limit}
}

// Init implements tea.Model.
func (m UsageModel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m UsageModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if msg, ok := msg.(tea.KeyMsg); ok && key.Matches(msg, keys.Quit) {
		m.quitting = true
		return m, tea.Quit
	}
	return m, nil
}

// View implements tea.Model.
func (m UsageModel) View() string {
	if m.quitting {
		return ""
	}
	t := m.totals
	boxes := lipgloss.JoinHorizontal(lipgloss.Top,
		stat("runs", fmt.Sprintf("%d", t.Runs)),
		stat("tokens", fmt.Sprintf("%d", t.TotalTokens())),
		stat("cost", fmt.Sprintf("$%.4f", t.Cost)),
	)

	var b strings.Builder
	b.WriteString(TitleStyle.Render("Usage") + "\n")
	b.WriteString(boxes + "\n")

	if len(t.History) > 0 {
		b.WriteString("\n" + TitleStyle.Render("Recent generations") + "\n")
		shown := 0
		for i := len(t.History) - 1; i >= 0; i-- {
			if m.limit > 0 && shown >= m.limit {
				break
			}
			r := t.History[i]
			line := fmt.Sprintf("%s  %-28s %8d tokens  $%.6f",
				r.Timestamp.Local().Format("2006-01-02 15:04"), r.Model, r.InputTokens+r.OutputTokens, r.Cost)
			if r.TestMode {
				line += "  " + ThinkingStyle.Render("test")
			}
			b.WriteString(line + "\n")
			shown++
		}
	}

	b.WriteString(HelpStyle.Render("Press q or Ctrl+C to quit"))
	return b.String()
}

func stat(label, value string) string {
	return statBox.Render(
		lipgloss.NewStyle().Bold(true).Render(value) + "\n" + LabelStyle.UnsetWidth().Render(label),
	)
}

// RunUsage shows the usage view until the user quits.
func RunUsage(totals usage.Totals, limit int) error {
	_, err := tea.NewProgram(NewUsageModel(totals, limit), tea.WithAltScreen()).Run()
	return err
}
