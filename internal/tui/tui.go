// Package tui is the bubbletea presentation layer: it renders the
// message log and contact panel and turns Enter/Ctrl+C into calls on
// an *engine.Engine, translating engine.Event values into what the
// user sees instead of touching the wire protocol directly.
package tui

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/samcharles93/lanchat/internal/engine"
)

var (
	primaryColor    = lipgloss.Color("#7C3AED")
	accentColor     = lipgloss.Color("#10B981")
	warningColor    = lipgloss.Color("#F59E0B")
	errorColor      = lipgloss.Color("#EF4444")
	mutedColor      = lipgloss.Color("#6B7280")
	backgroundColor = lipgloss.Color("#1F2937")

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(primaryColor).
			Padding(0, 1)

	peerPanelStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(mutedColor).
			Padding(0, 1)

	messagePanelStyle = lipgloss.NewStyle().
				BorderStyle(lipgloss.RoundedBorder()).
				BorderForeground(mutedColor).
				Padding(0, 1)

	statusBarStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Background(backgroundColor).
			Padding(0, 1)

	inputStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(accentColor).
			Padding(0, 1)

	systemMessageStyle = lipgloss.NewStyle().
				Foreground(accentColor).
				Italic(true)

	warningMessageStyle = lipgloss.NewStyle().
				Foreground(warningColor).
				Italic(true)

	errorMessageStyle = lipgloss.NewStyle().
				Foreground(errorColor).
				Italic(true)

	ownMessageStyle = lipgloss.NewStyle().
			Foreground(primaryColor).
			Bold(true)

	peerMessageStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#3B82F6"))

	timestampStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Faint(true)

	peerConnectedStyle = lipgloss.NewStyle().
				Foreground(accentColor)
)

type chatLine struct {
	sender    string
	content   string
	timestamp time.Time
	isSystem  bool
	isWarning bool
	isError   bool
}

// engineEventMsg wraps an engine.Event as a tea.Msg.
type engineEventMsg engine.Event

// eventsClosedMsg is delivered once Engine.Events() closes, meaning
// Engine.Run has returned.
type eventsClosedMsg struct{}

type tickMsg time.Time

// Model is the bubbletea model driving the chat TUI.
type Model struct {
	eng *engine.Engine

	lines    []chatLine
	contacts map[string]string // peerID -> nick

	viewport viewport.Model
	textarea textarea.Model

	ready    bool
	showHelp bool
	width    int
	height   int
	lastTick time.Time
}

// New builds a Model bound to eng. Call tea.NewProgram(tui.New(eng))
// once eng.Run has been started in its own goroutine.
func New(eng *engine.Engine) *Model {
	ta := textarea.New()
	ta.Placeholder = "Type a message or /help ..."
	ta.Focus()
	ta.Prompt = "┃ "
	ta.CharLimit = 255
	ta.SetWidth(80)
	ta.SetHeight(1)
	ta.ShowLineNumbers = false

	vp := viewport.New(80, 20)
	vp.SetContent("")

	return &Model{
		eng:      eng,
		contacts: make(map[string]string),
		viewport: vp,
		textarea: ta,
		lastTick: time.Now(),
	}
}

func (m *Model) Init() tea.Cmd {
	return tea.Batch(textarea.Blink, listenForEvents(m.eng), tickCmd())
}

func listenForEvents(eng *engine.Engine) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-eng.Events()
		if !ok {
			return eventsClosedMsg{}
		}
		return engineEventMsg(ev)
	}
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func sendCmd(eng *engine.Engine, text string) tea.Cmd {
	return func() tea.Msg {
		if err := eng.SendText(text); err != nil {
			return engineEventMsg{Kind: engine.NetworkError, Message: err.Error()}
		}
		return nil
	}
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var tiCmd, vpCmd tea.Cmd
	m.textarea, tiCmd = m.textarea.Update(msg)
	m.viewport, vpCmd = m.viewport.Update(msg)

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			m.eng.LeaveChat()
			return m, tea.Quit

		case tea.KeyCtrlH:
			m.showHelp = !m.showHelp
			m.refreshViewport()
			return m, nil

		case tea.KeyEnter:
			input := strings.TrimSpace(m.textarea.Value())
			if input == "" {
				return m, nil
			}
			if input == "/quit" || input == "/exit" {
				m.eng.LeaveChat()
				return m, tea.Quit
			}
			m.textarea.Reset()
			m.appendLine(chatLine{sender: m.eng.OwnNick(), content: input, timestamp: time.Now()})
			return m, sendCmd(m.eng, input)
		}

	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.ready = true

		headerHeight, footerHeight, statusBarHeight := 3, 5, 1
		m.viewport.Width = m.width - 35
		m.viewport.Height = m.height - headerHeight - footerHeight - statusBarHeight
		m.textarea.SetWidth(m.width - 4)
		m.refreshViewport()

	case engineEventMsg:
		m.handleEngineEvent(engine.Event(msg))
		return m, listenForEvents(m.eng)

	case eventsClosedMsg:
		return m, tea.Quit

	case tickMsg:
		m.lastTick = time.Time(msg)
		return m, tickCmd()
	}

	return m, tea.Batch(tiCmd, vpCmd)
}

func (m *Model) handleEngineEvent(ev engine.Event) {
	switch ev.Kind {
	case engine.TextReceived:
		m.appendLine(chatLine{sender: ev.SenderNick, content: ev.Text, timestamp: time.Now()})

	case engine.TextSent:
		if len(ev.FailedPeerIDs) > 0 {
			m.appendLine(chatLine{
				content:   fmt.Sprintf("delivery failed for %d peer(s)", len(ev.FailedPeerIDs)),
				timestamp: time.Now(),
				isWarning: true,
			})
		}

	case engine.UserJoined:
		m.contacts[ev.PeerID] = ev.Nick
		m.appendLine(chatLine{content: fmt.Sprintf("%s joined", ev.Nick), timestamp: time.Now(), isSystem: true})

	case engine.UserLeft:
		delete(m.contacts, ev.PeerID)
		m.appendLine(chatLine{content: fmt.Sprintf("%s left", ev.Nick), timestamp: time.Now(), isSystem: true})

	case engine.NetworkError:
		m.appendLine(chatLine{content: ev.Message, timestamp: time.Now(), isError: true})
	}
}

func (m *Model) appendLine(l chatLine) {
	m.lines = append(m.lines, l)
	m.refreshViewport()
	m.viewport.GotoBottom()
}

func (m *Model) refreshViewport() {
	var b strings.Builder
	if m.showHelp {
		b.WriteString(helpText)
	} else {
		for _, l := range m.lines {
			b.WriteString(m.renderLine(l))
			b.WriteString("\n")
		}
	}
	m.viewport.SetContent(b.String())
}

func (m *Model) renderLine(l chatLine) string {
	ts := timestampStyle.Render(l.timestamp.Format("15:04:05"))

	switch {
	case l.isSystem:
		return fmt.Sprintf("%s %s", ts, systemMessageStyle.Render(l.content))
	case l.isWarning:
		return fmt.Sprintf("%s %s", ts, warningMessageStyle.Render(l.content))
	case l.isError:
		return fmt.Sprintf("%s %s", ts, errorMessageStyle.Render(l.content))
	}

	style := peerMessageStyle
	prefix := l.sender
	if l.sender == m.eng.OwnNick() {
		style = ownMessageStyle
		prefix = "You"
	}
	return fmt.Sprintf("%s %s %s", ts, style.Render(fmt.Sprintf("[%s]", prefix)), l.content)
}

const helpText = `
LANCHAT HELP

  Type a line and press Enter to broadcast it to everyone on the
  multicast group. Delivery to each peer is retried automatically;
  a "delivery failed" line means a peer never acknowledged it.

  /quit, /exit          leave the chat and exit
  Ctrl+H                toggle this help screen
  Ctrl+C / Esc          leave and exit

Press Ctrl+H to close this help screen
`

func (m *Model) View() string {
	if !m.ready {
		return "\n  starting lanchat...\n"
	}

	header := headerStyle.Render("lanchat")

	messagePanel := messagePanelStyle.Width(m.width - 35).Height(m.viewport.Height + 2).Render(
		fmt.Sprintf("messages\n%s", m.viewport.View()))
	peerPanel := m.renderPeerPanel()
	mainContent := lipgloss.JoinHorizontal(lipgloss.Top, messagePanel, peerPanel)

	statusBar := m.renderStatusBar()
	inputArea := inputStyle.Width(m.width - 4).Render(
		fmt.Sprintf("input (Ctrl+H for help)\n%s", m.textarea.View()))

	return lipgloss.JoinVertical(lipgloss.Left, header, mainContent, statusBar, inputArea)
}

func (m *Model) sortedNicks() []string {
	nicks := make([]string, 0, len(m.contacts))
	for _, nick := range m.contacts {
		nicks = append(nicks, nick)
	}
	sort.Strings(nicks)
	return nicks
}

func (m *Model) renderPeerPanel() string {
	var b strings.Builder
	b.WriteString("contacts\n")
	b.WriteString(strings.Repeat("-", 28) + "\n")

	nicks := m.sortedNicks()
	if len(nicks) == 0 {
		b.WriteString("  (none seen yet)\n")
	}
	for i, nick := range nicks {
		b.WriteString(fmt.Sprintf("  %s %s\n", peerConnectedStyle.Render("*"), nick))
		if i >= 15 {
			b.WriteString(fmt.Sprintf("  ... and %d more\n", len(nicks)-i-1))
			break
		}
	}

	panelHeight := m.viewport.Height + 2
	for i := len(nicks) + 2; i < panelHeight; i++ {
		b.WriteString("\n")
	}
	return peerPanelStyle.Width(30).Height(panelHeight).Render(b.String())
}

func (m *Model) renderStatusBar() string {
	left := fmt.Sprintf("nick: %s", m.eng.OwnNick())
	right := fmt.Sprintf("contacts: %d | %s", len(m.contacts), m.lastTick.Format("15:04:05"))

	totalWidth := m.width - 4
	spacing := totalWidth - lipgloss.Width(left) - lipgloss.Width(right)
	if spacing < 0 {
		spacing = 0
	}
	return statusBarStyle.Width(m.width - 4).Render(left + strings.Repeat(" ", spacing) + right)
}
