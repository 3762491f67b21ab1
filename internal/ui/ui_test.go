package ui

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/skywisej/qr-music-card-maker/internal/cards"
	"github.com/skywisej/qr-music-card-maker/internal/controller"
	"github.com/skywisej/qr-music-card-maker/internal/shared"
)

type fakeControls struct {
	mu    sync.Mutex
	taps  int
	scans []string
	err   error
}

func (f *fakeControls) Tap(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.taps++
	return f.err
}

func (f *fakeControls) Scan(ctx context.Context, ref string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scans = append(f.scans, ref)
	return f.err
}

func runes(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

// press feeds msg to the model without running the returned command.
func press(m *Model, msg tea.Msg) {
	m.Update(msg)
}

// send feeds msg to the model and runs the returned command once, feeding an error back.
func send(t *testing.T, m *Model, msg tea.Msg) {
	t.Helper()

	_, cmd := m.Update(msg)
	if cmd == nil {
		t.Fatalf("expected a command for %v", msg)
	}
	if out, ok := cmd().(submitErrMsg); ok {
		m.Update(out)
	}
}

func TestModel(t *testing.T) {
	meta := &cards.Metadata{Title: "Take On Me", Artist: "a-ha", Year: "1985"}

	t.Run("Metadata Stays Hidden Until Reveal", func(t *testing.T) {
		m := NewModel(context.Background(), &fakeControls{}, nil, controller.ModeDirect)

		m.Update(updateMsg{Kind: controller.UpdateCard, Session: "s1", State: cards.Hidden, Message: "Card ready. Tap to play."})
		m.Update(updateMsg{Kind: controller.UpdateState, Session: "s1", State: cards.Playing, Message: "Playing. Tap to reveal."})

		view := m.View()
		if strings.Contains(view, "a-ha") || strings.Contains(view, "Take On Me") {
			t.Fatalf("metadata rendered before reveal:\n%s", view)
		}
		if !strings.Contains(view, "Playing. Tap to reveal.") {
			t.Errorf("expected playing status, got:\n%s", view)
		}

		m.Update(updateMsg{Kind: controller.UpdateState, Session: "s1", State: cards.Revealed, Metadata: meta, Message: "Tap to scan the next card."})
		view = m.View()
		for _, want := range []string{"Take On Me", "a-ha", "1985"} {
			if !strings.Contains(view, want) {
				t.Errorf("expected %q after reveal, got:\n%s", want, view)
			}
		}
	})

	t.Run("Updates For Another Session Are Ignored", func(t *testing.T) {
		m := NewModel(context.Background(), &fakeControls{}, nil, controller.ModeDirect)
		m.Update(updateMsg{Kind: controller.UpdateCard, Session: "s2", State: cards.Hidden})
		m.Update(updateMsg{Kind: controller.UpdateState, Session: "s1", State: cards.Revealed, Metadata: meta})

		if m.state != cards.Hidden || m.meta != nil {
			t.Errorf("stale update applied: state=%s meta=%v", m.state, m.meta)
		}
	})

	t.Run("Error Shows Message And Clears Busy", func(t *testing.T) {
		m := NewModel(context.Background(), &fakeControls{}, nil, controller.ModeDirect)
		m.Update(updateMsg{Kind: controller.UpdateCard, Session: "s1", State: cards.Hidden})
		m.Update(updateMsg{Kind: controller.UpdateState, Session: "s1", State: cards.Hidden, Busy: true, Message: "Starting playback..."})

		msg := shared.UserMessage(shared.ErrPlaybackForbidden)
		m.Update(updateMsg{Kind: controller.UpdateError, Session: "s1", State: cards.Hidden, Message: msg, Err: shared.ErrPlaybackForbidden})

		if m.busy {
			t.Error("expected busy to clear on error")
		}
		if !strings.Contains(m.View(), msg) {
			t.Errorf("expected error message in view, got:\n%s", m.View())
		}
	})

	t.Run("Ready Resets The Card", func(t *testing.T) {
		m := NewModel(context.Background(), &fakeControls{}, nil, controller.ModeDirect)
		m.Update(updateMsg{Kind: controller.UpdateCard, Session: "s1"})
		m.Update(updateMsg{Kind: controller.UpdateState, Session: "s1", State: cards.Revealed, Metadata: meta})
		m.Update(updateMsg{Kind: controller.UpdateReady, Session: "s1", Message: "Scan the next card."})

		if m.hasCard || m.meta != nil {
			t.Error("expected card to be cleared")
		}
		if strings.Contains(m.View(), "a-ha") {
			t.Error("metadata of the finished card still rendered")
		}
	})

	t.Run("Space Taps", func(t *testing.T) {
		ctrl := &fakeControls{}
		m := NewModel(context.Background(), ctrl, nil, controller.ModeDirect)

		send(t, m, tea.KeyMsg{Type: tea.KeySpace})
		send(t, m, tea.KeyMsg{Type: tea.KeyEnter})

		if ctrl.taps != 2 {
			t.Errorf("expected 2 taps, got %d", ctrl.taps)
		}
	})

	t.Run("Failed Tap Is Reported", func(t *testing.T) {
		ctrl := &fakeControls{err: controller.ErrStopped}
		m := NewModel(context.Background(), ctrl, nil, controller.ModeDirect)

		send(t, m, tea.KeyMsg{Type: tea.KeySpace})
		if m.errMsg == "" {
			t.Error("expected an error message")
		}
	})

	t.Run("Manual Entry Scans", func(t *testing.T) {
		ctrl := &fakeControls{}
		m := NewModel(context.Background(), ctrl, nil, controller.ModeDirect)

		press(m, runes("/"))
		if m.view != EntryView {
			t.Fatalf("expected entry view, got %d", m.view)
		}

		press(m, runes("spotify:track:7ouMYWpwJ422jRcDASZB7P"))
		send(t, m, tea.KeyMsg{Type: tea.KeyEnter})

		if m.view != CardView {
			t.Errorf("expected card view after submit, got %d", m.view)
		}
		if len(ctrl.scans) != 1 || ctrl.scans[0] != "spotify:track:7ouMYWpwJ422jRcDASZB7P" {
			t.Errorf("unexpected scans %v", ctrl.scans)
		}
		if ctrl.taps != 0 {
			t.Error("enter in entry view must not tap")
		}
	})

	t.Run("Escape Leaves Entry Without Scanning", func(t *testing.T) {
		ctrl := &fakeControls{}
		m := NewModel(context.Background(), ctrl, nil, controller.ModeDirect)

		press(m, runes("/"))
		press(m, runes("q"))
		press(m, tea.KeyMsg{Type: tea.KeyEsc})

		if m.view != CardView || len(ctrl.scans) != 0 {
			t.Errorf("expected no scan, view=%d scans=%v", m.view, ctrl.scans)
		}
	})

	t.Run("Relay Updates Go To Activity", func(t *testing.T) {
		m := NewModel(context.Background(), &fakeControls{}, nil, controller.ModeHost)
		m.Update(tea.WindowSizeMsg{Width: 80, Height: 40})
		m.Update(updateMsg{Kind: controller.UpdateRelay, Session: "01J", Message: "Playing a card for guest."})

		if len(m.activity.Items()) != 1 {
			t.Fatalf("expected 1 activity item, got %d", len(m.activity.Items()))
		}
		if !strings.Contains(m.View(), "Playing a card for guest.") {
			t.Errorf("expected activity in view, got:\n%s", m.View())
		}
	})

	t.Run("Closed Updates Quit", func(t *testing.T) {
		updates := make(chan controller.Update)
		close(updates)
		m := NewModel(context.Background(), &fakeControls{}, updates, controller.ModeDirect)

		msg := m.waitForUpdate()()
		if _, ok := msg.(closedMsg); !ok {
			t.Fatalf("expected closedMsg, got %T", msg)
		}
		if _, cmd := m.Update(msg); cmd == nil {
			t.Error("expected quit command")
		}
	})

	t.Run("Update Is Read From The Channel", func(t *testing.T) {
		updates := make(chan controller.Update, 1)
		updates <- controller.Update{Kind: controller.UpdateCard, Session: "s9", Message: "Card ready. Tap to play."}
		m := NewModel(context.Background(), &fakeControls{}, updates, controller.ModeDirect)

		msg := m.waitForUpdate()()
		m.Update(msg)
		if m.session != "s9" || !m.hasCard {
			t.Errorf("expected card s9, got %q", m.session)
		}
	})

	t.Run("Submit Error Uses User Message", func(t *testing.T) {
		m := NewModel(context.Background(), &fakeControls{}, nil, controller.ModeDirect)
		m.Update(submitErrMsg{err: errors.New("boom")})
		if m.errMsg != shared.UserMessage(errors.New("boom")) {
			t.Errorf("unexpected message %q", m.errMsg)
		}
	})
}
