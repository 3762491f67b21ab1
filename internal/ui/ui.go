package ui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/skywisej/qr-music-card-maker/internal/cards"
	"github.com/skywisej/qr-music-card-maker/internal/controller"
	"github.com/skywisej/qr-music-card-maker/internal/shared"
)

// ViewState represents the current view in the TUI.
type ViewState int

const (
	CardView ViewState = iota
	EntryView
)

// Controls is what the TUI drives. [controller.Controller] satisfies it.
type Controls interface {
	Tap(ctx context.Context) error
	Scan(ctx context.Context, ref string) error
}

// Model represents the TUI application state.
type Model struct {
	ctx     context.Context
	ctrl    Controls
	updates <-chan controller.Update
	mode    controller.Mode
	now     func() time.Time

	view    ViewState
	hasCard bool
	session string
	state   cards.State
	busy    bool
	meta    *cards.Metadata
	status  string
	errMsg  string
	closed  bool

	activity list.Model
	input    textinput.Model
	spinner  spinner.Model
	help     help.Model
	keys     keyMap
	width    int
	height   int
}

// NewModel creates a TUI over ctrl that renders the updates it publishes.
func NewModel(ctx context.Context, ctrl Controls, updates <-chan controller.Update, mode controller.Mode) *Model {
	input := textinput.New()
	input.Placeholder = "card URL or spotify:track:..."
	input.CharLimit = 512
	input.Width = 48

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	status := "Scan a card to begin."
	if mode == controller.ModeHost {
		status = "Hosting. Waiting for cards from guests."
	}

	return &Model{
		ctx:      ctx,
		ctrl:     ctrl,
		updates:  updates,
		mode:     mode,
		now:      time.Now,
		view:     CardView,
		status:   status,
		activity: newActivityList(),
		input:    input,
		spinner:  sp,
		help:     help.New(),
		keys:     newKeyMap(),
	}
}

// Init starts listening for controller updates.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.waitForUpdate(), m.spinner.Tick)
}

// Update handles incoming messages and updates the model state.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.activity.SetSize(msg.Width-4, max(msg.Height-18, 4))
		return m, nil

	case tea.KeyMsg:
		switch m.view {
		case EntryView:
			return m.handleEntryKeys(msg)
		default:
			return m.handleCardKeys(msg)
		}

	case updateMsg:
		m.apply(controller.Update(msg))
		return m, m.waitForUpdate()

	case closedMsg:
		m.closed = true
		return m, tea.Quit

	case submitErrMsg:
		m.errMsg = shared.UserMessage(msg.err)
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

// apply folds a controller update into the view state.
func (m *Model) apply(u controller.Update) {
	switch u.Kind {
	case controller.UpdateCard:
		m.hasCard, m.session = true, u.Session
		m.state, m.busy, m.meta = u.State, u.Busy, nil
		m.status, m.errMsg = u.Message, ""

	case controller.UpdateState:
		if u.Session != m.session {
			return
		}
		m.state, m.busy, m.status = u.State, u.Busy, u.Message
		if u.State == cards.Revealed && u.Metadata != nil {
			meta := *u.Metadata
			m.meta = &meta
		}
		if !u.Busy {
			m.errMsg = ""
		}

	case controller.UpdateError:
		if u.Session == "" || u.Session == m.session {
			m.busy = false
		}
		m.errMsg = u.Message
		pushActivity(&m.activity, u, m.now())

	case controller.UpdateReady:
		m.hasCard, m.session, m.meta = false, "", nil
		m.state, m.busy = cards.Hidden, false
		m.status, m.errMsg = u.Message, ""

	case controller.UpdateRelay:
		pushActivity(&m.activity, u, m.now())
	}
}

func (m *Model) handleCardKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.entry):
		m.view = EntryView
		m.input.Reset()
		return m, m.input.Focus()
	case key.Matches(msg, m.keys.tap):
		return m, m.tap()
	}
	return m, nil
}

func (m *Model) handleEntryKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case msg.String() == "ctrl+c":
		return m, tea.Quit
	case key.Matches(msg, m.keys.back):
		m.view = CardView
		m.input.Blur()
		return m, nil
	case key.Matches(msg, m.keys.submit):
		ref := strings.TrimSpace(m.input.Value())
		m.view = CardView
		m.input.Blur()
		if ref == "" {
			return m, nil
		}
		m.status = "Loading card..."
		return m, m.scan(ref)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *Model) tap() tea.Cmd {
	return func() tea.Msg {
		if err := m.ctrl.Tap(m.ctx); err != nil {
			return submitErrMsg{err: err}
		}
		return nil
	}
}

func (m *Model) scan(ref string) tea.Cmd {
	return func() tea.Msg {
		if err := m.ctrl.Scan(m.ctx, ref); err != nil {
			return submitErrMsg{err: err}
		}
		return nil
	}
}

func (m *Model) waitForUpdate() tea.Cmd {
	return func() tea.Msg {
		select {
		case u, ok := <-m.updates:
			if !ok {
				return closedMsg{}
			}
			return updateMsg(u)
		case <-m.ctx.Done():
			return closedMsg{}
		}
	}
}

// View renders the UI based on the current view state.
func (m *Model) View() string {
	var b strings.Builder

	b.WriteString(styles.title.Render(fmt.Sprintf("qrdeck • %s", m.mode)))
	b.WriteString("\n")

	if m.view == EntryView {
		b.WriteString("Card URL or track:\n\n")
		b.WriteString(m.input.View())
		b.WriteString("\n\n")
		b.WriteString(m.help.ShortHelpView([]key.Binding{m.keys.submit, m.keys.back}))
		return b.String()
	}

	b.WriteString(styles.card.Render(m.renderCard()))
	b.WriteString("\n")

	if m.errMsg != "" {
		b.WriteString(styles.err.Render(m.errMsg))
		b.WriteString("\n")
	}

	if len(m.activity.Items()) > 0 {
		b.WriteString("\n")
		b.WriteString(m.activity.View())
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(m.help.View(m.keys))
	return b.String()
}

func (m *Model) renderCard() string {
	if !m.hasCard {
		return styles.help.Render(m.status)
	}

	switch {
	case m.busy:
		return fmt.Sprintf("%s %s", m.spinner.View(), m.status)
	case m.state == cards.Revealed && m.meta != nil:
		lines := []string{styles.ok.Render(orUnknown(m.meta.Title))}
		lines = append(lines, orUnknown(m.meta.Artist))
		if m.meta.Year != "" {
			lines = append(lines, styles.warn.Render(m.meta.Year))
		}
		lines = append(lines, "", styles.help.Render(m.status))
		return strings.Join(lines, "\n")
	case m.state == cards.Playing:
		return styles.ok.Render("♪ ") + m.status
	default:
		return m.status
	}
}

func orUnknown(s string) string {
	if s == "" {
		return "Unknown"
	}
	return s
}
