package tui

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/pithecene-io/vellum/preview"
	"github.com/pithecene-io/vellum/runtime"
	"github.com/pithecene-io/vellum/types"
)

// Messages delivered to PreviewModel by a Bridge.
type (
	replaceMsg  struct{ content string }
	appendMsg   struct{ fragment string }
	stateMsg    struct{ state types.SessionState }
	thinkingMsg struct{ text string }
	// DoneMsg ends the generation. Summary is shown until the user quits.
	DoneMsg struct {
		Summary string
		Err     error
	}
)

// headerHeight is the number of lines above the viewport.
const headerHeight = 4

// viewWindow is how many trailing bytes of the document the viewport holds.
const viewWindow = 64 * 1024

// PreviewModel shows a generation's document as it streams in.
type PreviewModel struct {
	title    string
	viewport viewport.Model
	spinner  spinner.Model
	content  strings.Builder
	state    types.SessionState
	thinking string
	ready    bool
	done     *DoneMsg
	canceled bool
	follow   bool
	window   int
}

// NewPreviewModel creates a preview model titled with the model name.
func NewPreviewModel(title string) *PreviewModel {
	return &PreviewModel{
		title:   title,
		spinner: spinner.New(spinner.WithSpinner(spinner.Dot)),
		state:   types.StateIdle,
		follow:  true,
		window:  viewWindow,
	}
}

// Canceled reports whether the user quit before the generation finished.
func (m *PreviewModel) Canceled() bool {
	return m.canceled
}

// Content returns the previewed document.
func (m *PreviewModel) Content() string {
	return m.content.String()
}

// Init implements tea.Model.
func (m *PreviewModel) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update implements tea.Model.
func (m *PreviewModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		height := max(1, msg.Height-headerHeight-2)
		if !m.ready {
			m.viewport = viewport.New(msg.Width, height)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = height
		}
		m.refresh()

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Quit):
			if m.done == nil {
				m.canceled = true
			}
			return m, tea.Quit
		case key.Matches(msg, keys.Follow):
			m.follow = !m.follow
			m.refresh()
		}

	case replaceMsg:
		m.content.Reset()
		m.content.WriteString(msg.content)
		m.refresh()

	case appendMsg:
		m.content.WriteString(msg.fragment)
		m.refresh()

	case stateMsg:
		m.state = msg.state

	case thinkingMsg:
		m.thinking = msg.text

	case DoneMsg:
		m.done = &msg
		return m, nil

	case spinner.TickMsg:
		if m.done == nil {
			var cmd tea.Cmd
			m.spinner, cmd = m.spinner.Update(msg)
			cmds = append(cmds, cmd)
		}
	}

	if m.ready {
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		cmds = append(cmds, cmd)
	}
	return m, tea.Batch(cmds...)
}

func (m *PreviewModel) refresh() {
	if !m.ready {
		return
	}
	m.viewport.SetContent(m.visible())
	if m.follow {
		m.viewport.GotoBottom()
	}
}

// View implements tea.Model.
func (m *PreviewModel) View() string {
	var b strings.Builder

	status := StateStyle(m.state).Render(string(m.state))
	indicator := m.spinner.View()
	if m.done != nil {
		indicator = "•"
	}
	header := lipgloss.JoinHorizontal(lipgloss.Top,
		TitleStyle.Render(m.title), "  ", indicator, " ", status,
		"  ", LabelStyle.Render(fmt.Sprintf("%d bytes", m.content.Len())),
	)
	b.WriteString(header + "\n")
	if m.thinking != "" && m.done == nil {
		b.WriteString(ThinkingStyle.Render(truncate(m.thinking, 120)) + "\n")
	}
	b.WriteString(StatusBarStyle.Render("") + "\n")

	if m.ready {
		b.WriteString(m.viewport.View())
	} else {
		b.WriteString(m.visible())
	}

	if m.done != nil {
		summary := m.done.Summary
		if m.done.Err != nil {
			summary = errorStyle.Render(m.done.Err.Error())
		}
		b.WriteString("\n" + BoxStyle.Render(summary))
	}
	b.WriteString("\n" + HelpStyle.Render(keys.help()))
	return b.String()
}

// visible returns the tail of the document shown in the viewport, starting
// at a line boundary when one falls inside the window.
func (m *PreviewModel) visible() string {
	s := m.content.String()
	if len(s) <= m.window {
		return s
	}
	cut := len(s) - m.window
	tail := s[cut:]
	if s[cut-1] != '\n' {
		if i := strings.IndexByte(tail, '\n'); i >= 0 && i < len(tail)-1 {
			tail = tail[i+1:]
		}
	}
	for len(tail) > 0 && !utf8.RuneStart(tail[0]) {
		tail = tail[1:]
	}
	return LabelStyle.Render(fmt.Sprintf("… %d earlier bytes not shown", len(s)-len(tail))) + "\n" + tail
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}

// keyMap defines key bindings.
type keyMap struct {
	Quit   key.Binding
	Follow key.Binding
}

func (k keyMap) help() string {
	return fmt.Sprintf("%s %s • %s %s",
		k.Quit.Help().Key, k.Quit.Help().Desc,
		k.Follow.Help().Key, k.Follow.Help().Desc)
}

var keys = keyMap{
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
	Follow: key.NewBinding(
		key.WithKeys("f"),
		key.WithHelp("f", "toggle follow"),
	),
}

// sender is the part of *tea.Program a Bridge needs.
type sender interface {
	Send(msg tea.Msg)
}

// Bridge forwards preview updates and session progress from the
// generation goroutine to a running program.
type Bridge struct {
	program sender
}

// NewBridge creates a Bridge sending to p.
func NewBridge(p sender) *Bridge {
	return &Bridge{program: p}
}

// Replace implements preview.Surface.
func (b *Bridge) Replace(content string) error {
	b.program.Send(replaceMsg{content: content})
	return nil
}

// Append implements preview.Surface.
func (b *Bridge) Append(fragment string) error {
	b.program.Send(appendMsg{fragment: fragment})
	return nil
}

// OnStateChange implements runtime.Observer.
func (b *Bridge) OnStateChange(state types.SessionState) {
	b.program.Send(stateMsg{state: state})
}

// OnThinking implements runtime.Observer.
func (b *Bridge) OnThinking(text string) {
	b.program.Send(thinkingMsg{text: text})
}

var (
	_ preview.Surface  = (*Bridge)(nil)
	_ runtime.Observer = (*Bridge)(nil)
)

// GenerateFunc runs one generation against the bridge and returns a summary.
type GenerateFunc func(ctx context.Context, bridge *Bridge) (summary string, err error)

// RunPreview runs generate while showing the live preview. Quitting the
// preview before the generation finishes cancels ctx passed to generate.
// Returns generate's error.
func RunPreview(ctx context.Context, title string, generate GenerateFunc) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	model := NewPreviewModel(title)
	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
	bridge := NewBridge(p)

	errc := make(chan error, 1)
	go func() {
		summary, err := generate(ctx, bridge)
		p.Send(DoneMsg{Summary: summary, Err: err})
		errc <- err
	}()

	if _, err := p.Run(); err != nil && ctx.Err() == nil {
		cancel()
		<-errc
		return fmt.Errorf("preview: %w", err)
	}
	cancel()
	return <-errc
}
