package ui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"node.town/voxroom/history"
	"node.town/voxroom/session"
)

// Controller is the command surface the UI drives.
type Controller interface {
	Connect(ctx context.Context) (session.SessionState, error)
	Disconnect()
	ToggleVoiceMode(ctx context.Context) (bool, error)
	ToggleMute(ctx context.Context) (session.MicState, error)
	ToggleOutputAudio() bool
	SendText(ctx context.Context, content string) error
	Status() session.Status
}

type resultMsg struct {
	op  string
	err error
}

var (
	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFDF5")).
			Background(lipgloss.Color("#25A065")).
			Padding(0, 1)
	badgeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFDF5")).
			Padding(0, 1)
	helpStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	interimStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF5F5F"))

	senderStyles = map[history.Sender]lipgloss.Style{
		history.SenderUser:      lipgloss.NewStyle().Foreground(lipgloss.Color("#5FAFFF")).Bold(true),
		history.SenderAssistant: lipgloss.NewStyle().Foreground(lipgloss.Color("#25A065")).Bold(true),
		history.SenderSystem:    lipgloss.NewStyle().Foreground(lipgloss.Color("#FF8800")),
	}
	sessionColors = map[session.SessionState]lipgloss.Color{
		session.Idle:       lipgloss.Color("241"),
		session.Connecting: lipgloss.Color("#D7AF00"),
		session.Connected:  lipgloss.Color("#25A065"),
		session.Error:      lipgloss.Color("#D70000"),
	}
)

type model struct {
	ctx      context.Context
	ctrl     Controller
	feed     *Feed
	viewport viewport.Model
	input    textinput.Model
	status   session.Status
	entries  []history.Entry
	interim  string
	lastErr  string
	ready    bool
}

func newModel(ctx context.Context, ctrl Controller, feed *Feed) model {
	input := textinput.New()
	input.Placeholder = "Type a message"
	input.Prompt = "> "
	input.CharLimit = 2000
	input.Focus()

	return model{
		ctx:    ctx,
		ctrl:   ctrl,
		feed:   feed,
		input:  input,
		status: ctrl.Status(),
	}
}

// Run shows the conversation until the user quits.
func Run(ctx context.Context, ctrl Controller, feed *Feed) error {
	p := tea.NewProgram(newModel(ctx, ctrl, feed), tea.WithAltScreen())
	_, err := p.Run()
	return err
}

func (m model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.feed.wait())
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			return m, tea.Quit
		case "enter":
			text := m.input.Value()
			m.input.Reset()
			if strings.TrimSpace(text) != "" {
				cmds = append(cmds, m.run("send", func() error {
					return m.ctrl.SendText(m.ctx, text)
				}))
			}
			return m, tea.Batch(cmds...)
		case "alt+c":
			return m, m.run("connect", func() error {
				_, err := m.ctrl.Connect(m.ctx)
				return err
			})
		case "alt+d":
			return m, m.run("disconnect", func() error {
				m.ctrl.Disconnect()
				return nil
			})
		case "alt+v":
			return m, m.run("voice", func() error {
				_, err := m.ctrl.ToggleVoiceMode(m.ctx)
				return err
			})
		case "alt+m":
			return m, m.run("mute", func() error {
				_, err := m.ctrl.ToggleMute(m.ctx)
				return err
			})
		case "alt+a":
			return m, m.run("audio", func() error {
				m.ctrl.ToggleOutputAudio()
				return nil
			})
		}

	case tea.WindowSizeMsg:
		headerHeight := lipgloss.Height(m.headerView())
		footerHeight := lipgloss.Height(m.footerView())
		height := msg.Height - headerHeight - footerHeight
		if !m.ready {
			m.viewport = viewport.New(msg.Width, height)
			m.viewport.YPosition = headerHeight
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = height
		}
		m.input.Width = msg.Width - 4
		m.refresh()

	case statusMsg:
		m.status = session.Status(msg)
		if !m.status.Voice {
			m.interim = ""
		}
		m.refresh()
		cmds = append(cmds, m.feed.wait())

	case entryMsg:
		entry := history.Entry(msg)
		m.entries = append(m.entries, entry)
		if entry.Sender == history.SenderUser && entry.Modality == history.ModalityVoice {
			m.interim = ""
		}
		m.refresh()
		cmds = append(cmds, m.feed.wait())

	case interimMsg:
		m.interim = string(msg)
		m.refresh()
		cmds = append(cmds, m.feed.wait())

	case resultMsg:
		m.lastErr = ""
		if msg.err != nil && !errors.Is(msg.err, context.Canceled) {
			m.lastErr = fmt.Sprintf("%s: %v", msg.op, msg.err)
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

// run executes a controller command off the update loop.
func (m model) run(op string, f func() error) tea.Cmd {
	return func() tea.Msg {
		return resultMsg{op: op, err: f()}
	}
}

func (m *model) refresh() {
	if !m.ready {
		return
	}
	m.viewport.SetContent(m.conversationView())
	m.viewport.GotoBottom()
}

func (m model) View() string {
	if !m.ready {
		return "\n  Initializing..."
	}
	return fmt.Sprintf(
		"%s\n%s\n%s",
		m.headerView(),
		m.viewport.View(),
		m.footerView(),
	)
}

func (m model) headerView() string {
	title := titleStyle.Render("Voice Assistant")
	state := badgeStyle.
		Background(sessionColors[m.status.Session]).
		Render(m.status.Session.String())
	flags := helpStyle.Render(" " + statusFlags(m.status))
	line := strings.Repeat(
		"─",
		max(0, m.viewport.Width-lipgloss.Width(title)-lipgloss.Width(state)-lipgloss.Width(flags)-1),
	)
	return lipgloss.JoinHorizontal(lipgloss.Center, title, state, flags, " ", line)
}

func (m model) footerView() string {
	var b strings.Builder
	if m.lastErr != "" {
		b.WriteString(errorStyle.Render(m.lastErr))
		b.WriteString("\n")
	}
	b.WriteString(m.input.View())
	b.WriteString("\n")
	b.WriteString(helpStyle.Render(
		"alt+c connect · alt+d disconnect · alt+v voice · alt+m mute · alt+a audio · esc quit",
	))
	return b.String()
}

func (m model) conversationView() string {
	var b strings.Builder
	for _, entry := range m.entries {
		b.WriteString(formatEntry(entry))
		b.WriteString("\n")
	}
	if m.interim != "" {
		b.WriteString(interimStyle.Render("… " + m.interim))
		b.WriteString("\n")
	}
	return b.String()
}

func formatEntry(e history.Entry) string {
	style, ok := senderStyles[e.Sender]
	if !ok {
		style = lipgloss.NewStyle()
	}
	stamp := helpStyle.Render(e.CreatedAt.Format("15:04:05"))
	name := style.Render(senderLabel(e.Sender))
	if e.Modality == history.ModalityVoice {
		name += helpStyle.Render(" (voice)")
	}
	return fmt.Sprintf("%s %s %s", stamp, name, e.Content)
}

func senderLabel(s history.Sender) string {
	switch s {
	case history.SenderUser:
		return "You"
	case history.SenderAssistant:
		return "Assistant"
	case history.SenderSystem:
		return "System"
	default:
		return string(s)
	}
}

func statusFlags(s session.Status) string {
	voice := "voice off"
	if s.Voice {
		voice = "voice on"
	}
	if !s.Speech {
		voice = "no speech"
	}
	mic := "mic " + s.Mic.String()
	if s.MicHeld {
		mic += " (held)"
	}
	audio := "audio on"
	if !s.OutputAudio {
		audio = "audio off"
	}
	return strings.Join([]string{voice, mic, audio}, " · ")
}
