package tui

import (
	"context"
	"strings"
	"sync"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"page-ocr-translate/src/controller"
	"page-ocr-translate/src/messages"
	"page-ocr-translate/src/notify"
	"page-ocr-translate/src/router"
	"page-ocr-translate/src/store"
)

type stubSelector struct {
	mu     sync.Mutex
	count  int
	active bool
	kinds  []messages.Kind
}

func (s *stubSelector) serve(inbox <-chan messages.Envelope) {
	for env := range inbox {
		s.mu.Lock()
		s.kinds = append(s.kinds, env.Message.Kind())
		switch env.Message.(type) {
		case messages.GetSelectedImages:
			env.Respond(messages.SelectionCount{Count: s.count})
		case messages.GetSelectionModeState:
			env.Respond(messages.SelectionModeState{Active: s.active})
		case messages.ToggleSelection:
			s.active = !s.active
		case messages.ClearSelection:
			s.count = 0
		}
		s.mu.Unlock()
	}
}

func (s *stubSelector) saw(k messages.Kind) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, got := range s.kinds {
		if got == k {
			return true
		}
	}
	return false
}

func newTestModel(t *testing.T, count int) (Model, *stubSelector) {
	t.Helper()
	r := router.NewRouter()
	t.Cleanup(r.Shutdown)
	inbox, err := r.Register(messages.ContextSelector, 8)
	if err != nil {
		t.Fatal(err)
	}
	sel := &stubSelector{count: count}
	go sel.serve(inbox)
	m := New(context.Background(), Options{Controller: controller.New(r, store.NewMemory())})
	m = apply(t, m, m.loadView()())
	return m, sel
}

func key(k string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(k)}
}

func apply(t *testing.T, m Model, msg tea.Msg) Model {
	t.Helper()
	next, _ := m.Update(msg)
	return next.(Model)
}

// press sends a key and runs the resulting command once.
func press(t *testing.T, m Model, msg tea.KeyMsg) Model {
	t.Helper()
	next, cmd := m.Update(msg)
	m = next.(Model)
	if cmd != nil {
		if out := cmd(); out != nil {
			m = apply(t, m, out)
		}
	}
	return m
}

func TestViewShowsCount(t *testing.T) {
	m, _ := newTestModel(t, 2)
	if !m.view.CountKnown || m.view.Count != 2 {
		t.Fatalf("unexpected view %+v", m.view)
	}
	if !strings.Contains(m.View(), "Selected: ") {
		t.Fatal("view should show the selection count")
	}
}

func TestToggleFlipsMode(t *testing.T) {
	m, _ := newTestModel(t, 0)
	m = press(t, m, key("t"))
	if !m.view.Active || !strings.Contains(m.status, "Selection mode on") {
		t.Fatalf("unexpected state %+v %q", m.view, m.status)
	}
}

func TestClearNeedsConfirmation(t *testing.T) {
	m, sel := newTestModel(t, 3)
	m = press(t, m, key("c"))
	if m.mode != modeConfirm || !strings.Contains(m.pending.Prompt, "3 images") {
		t.Fatalf("expected confirmation, mode=%v prompt=%q", m.mode, m.pending.Prompt)
	}
	if !strings.Contains(m.View(), "y confirm") {
		t.Fatal("confirmation hint missing")
	}

	m = press(t, m, key("n"))
	if m.mode != modeMain || sel.saw(messages.KindClearSelection) {
		t.Fatal("cancel must not clear")
	}

	m = press(t, m, key("c"))
	m = press(t, m, key("y"))
	if m.status != "Selection cleared." {
		t.Fatalf("unexpected status %q", m.status)
	}
	// The view queries are answered after the clear in inbox order.
	m = apply(t, m, m.loadView()())
	if m.view.Count != 0 {
		t.Fatalf("count not refreshed: %+v", m.view)
	}
	if !sel.saw(messages.KindClearSelection) {
		t.Fatal("clear not sent")
	}
}

func TestTranslateWithEmptySelection(t *testing.T) {
	m, sel := newTestModel(t, 0)
	m = press(t, m, key("x"))
	if m.mode != modeMain || !m.isErr || !strings.Contains(m.status, "select at least one image") {
		t.Fatalf("expected no-selection notice, got mode=%v status=%q", m.mode, m.status)
	}
	if sel.saw(messages.KindTranslateSelected) {
		t.Fatal("translate sent despite empty selection")
	}
}

func TestKeyEntry(t *testing.T) {
	m, _ := newTestModel(t, 0)
	m = press(t, m, key("k"))
	if m.mode != modeKeyInput {
		t.Fatal("expected key input mode")
	}
	m = press(t, m, key("sk-abcdefgh1234x"))
	m = press(t, m, tea.KeyMsg{Type: tea.KeyBackspace})
	if strings.Contains(m.View(), "sk-abc") {
		t.Fatal("key must be masked while typing")
	}
	m = press(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	if m.mode != modeMain || m.view.Credential.Kind != controller.StatusOK {
		t.Fatalf("key not saved: mode=%v cred=%+v", m.mode, m.view.Credential)
	}

	m = press(t, m, key("k"))
	m = press(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	if !m.isErr || m.mode != modeKeyInput {
		t.Fatalf("empty key should be rejected, status=%q", m.status)
	}
}

func TestNoticeUpdatesStatus(t *testing.T) {
	m, _ := newTestModel(t, 0)
	m = apply(t, m, noticeMsg{notice: notify.Notice{Level: notify.Alert, Text: "Translation failed (401): bad key"}})
	if !m.isErr || !strings.Contains(m.View(), "bad key") {
		t.Fatalf("alert not shown: %q", m.status)
	}
}

func TestQuit(t *testing.T) {
	m, _ := newTestModel(t, 0)
	_, cmd := m.Update(key("q"))
	if cmd == nil {
		t.Fatal("expected quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Fatal("expected tea.QuitMsg")
	}
}
