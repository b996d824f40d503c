// Package tui renders a chat session in the terminal with bubbletea.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/zhouzirui/talkbox/backend/internal/model/chat"
	"github.com/zhouzirui/talkbox/backend/internal/model/profile"
	chatService "github.com/zhouzirui/talkbox/backend/internal/service/chat"
)

// TimeLayout formats message timestamps.
const TimeLayout = "15:04"

const (
	headerHeight = 1
	typingHeight = 1
	inputHeight  = 3
	footerHeight = 1
)

type (
	eventMsg  chat.Event
	closedMsg struct{}
)

// Model is the bubbletea model of one chat session.
type Model struct {
	ctx     context.Context
	svc     *chatService.Service
	profile profile.Profile
	session chat.Session

	events <-chan chat.Event
	cancel func()

	messages []chat.Message
	state    chat.State

	input    textinput.Model
	viewport viewport.Model
	spinner  spinner.Model

	width, height int
	ready         bool
	ended         bool
	err           error
}

// New opens a session on svc and subscribes to its events. Call Close when
// the program exits.
func New(ctx context.Context, svc *chatService.Service, p profile.Profile) (*Model, error) {
	session, err := svc.CreateSession(ctx, p.ID)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	events, cancel, err := svc.Subscribe(session.ID)
	if err != nil {
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	transcript, err := svc.LoadTranscript(ctx, session.ID)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("load transcript: %w", err)
	}

	ti := textinput.New()
	ti.Placeholder = "Type your message..."
	ti.Prompt = "> "
	ti.CharLimit = 2000
	ti.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = typingStyle

	m := &Model{
		ctx:      ctx,
		svc:      svc,
		profile:  p,
		session:  session,
		events:   events,
		cancel:   cancel,
		messages: transcript,
		state:    chat.StateIdle,
		input:    ti,
		viewport: viewport.New(80, 20),
		spinner:  sp,
	}
	m.refresh()
	return m, nil
}

// Close ends the session behind the model.
func (m *Model) Close() {
	m.cancel()
	_ = m.svc.EndSession(m.ctx, m.session.ID)
}

func waitForEvent(events <-chan chat.Event) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-events
		if !ok {
			return closedMsg{}
		}
		return eventMsg(ev)
	}
}

// Init starts the cursor blink, the spinner and the event pump.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(
		textinput.Blink,
		m.spinner.Tick,
		waitForEvent(m.events),
	)
}

// Update handles input, resizes and session events.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyEnter:
			m.submit()
			return m, nil
		case tea.KeyUp, tea.KeyDown, tea.KeyPgUp, tea.KeyPgDown:
			// The input is single-line, so these keys scroll the transcript.
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)
		return m, nil

	case eventMsg:
		m.apply(chat.Event(msg))
		return m, waitForEvent(m.events)

	case closedMsg:
		m.ended = true
		m.input.Blur()
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

// CanSubmit reports whether Enter would send the current input.
func (m *Model) CanSubmit() bool {
	return !m.ended && m.state == chat.StateIdle && strings.TrimSpace(m.input.Value()) != ""
}

func (m *Model) submit() {
	if !m.CanSubmit() {
		return
	}
	_, err := m.svc.Submit(m.ctx, m.session.ID, m.input.Value())
	switch {
	case err == nil:
		m.err = nil
		m.input.SetValue("")
	case errors.Is(err, chatService.ErrEmptyMessage), errors.Is(err, chatService.ErrComposing):
	default:
		m.err = err
	}
}

func (m *Model) apply(ev chat.Event) {
	switch ev.Type {
	case chat.EventMessage:
		if ev.Message != nil {
			m.messages = append(m.messages, *ev.Message)
		}
	}
	m.state = ev.State
	m.refresh()
}

func (m *Model) resize(width, height int) {
	m.width, m.height = width, height
	vpHeight := height - headerHeight - typingHeight - inputHeight - footerHeight
	if vpHeight < 1 {
		vpHeight = 1
	}
	m.viewport.Width = width
	m.viewport.Height = vpHeight
	m.input.Width = width - 6
	m.ready = true
	m.refresh()
}

func (m *Model) refresh() {
	m.viewport.SetContent(m.renderMessages())
	m.viewport.GotoBottom()
}

func (m *Model) renderMessages() string {
	width := m.viewport.Width
	bubbleWidth := width * 3 / 4
	if bubbleWidth < 10 {
		bubbleWidth = width
	}

	lines := make([]string, 0, len(m.messages))
	for _, msg := range m.messages {
		style := botBubble
		align := lipgloss.Left
		if !msg.IsBot() {
			style = userBubble
			align = lipgloss.Right
		}
		bubble := style.MaxWidth(bubbleWidth).Render(msg.Text)
		stamp := timeStyle.Render(msg.CreatedAt.Local().Format(TimeLayout))
		block := lipgloss.JoinVertical(align, bubble, stamp)
		lines = append(lines, lipgloss.PlaceHorizontal(width, align, block))
	}
	return strings.Join(lines, "\n\n")
}

// View renders the header, transcript, typing indicator, input and footer.
func (m *Model) View() string {
	header := headerStyle.Render(m.profile.Name) + " " + statusStyle.Render("● "+m.profile.Status)

	typing := ""
	if m.state == chat.StateComposing {
		typing = m.spinner.View() + typingStyle.Render(m.profile.Name+" is typing...")
	}
	if m.err != nil {
		typing = errorStyle.Render(m.err.Error())
	}
	if m.ended {
		typing = typingStyle.Render("Conversation ended.")
	}

	footer := footerStyle.Render(m.profile.Disclaimer)

	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		m.viewport.View(),
		typing,
		inputStyle.Render(m.input.View()),
		footer,
	)
}
