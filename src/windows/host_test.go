package windows

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"page-ocr-translate/src/coordinator"
	"page-ocr-translate/src/messages"
	"page-ocr-translate/src/router"
	"page-ocr-translate/src/store"
	"page-ocr-translate/src/surface"
)

func newHost(t *testing.T, r *router.Router, st store.Store) *Host {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return New(ctx, r, func(id messages.WindowID) *surface.Surface {
		return surface.New(surface.Options{Store: st, Window: id, Ready: ReadySignal(r)})
	})
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestCreateFocusClose(t *testing.T) {
	r := router.NewRouter()
	defer r.Shutdown()
	coordInbox, err := r.Register(messages.ContextCoordinator, 8)
	if err != nil {
		t.Fatal(err)
	}
	h := newHost(t, r, store.NewMemory())

	id, err := h.Create(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(id), "results-") || !r.Registered(string(id)) {
		t.Fatalf("window %s not registered", id)
	}
	if !h.Exists(id) || h.Focused() != id {
		t.Fatal("new window should exist and be focused")
	}

	env := <-coordInbox
	if ready, ok := env.Message.(messages.SurfaceReady); !ok || ready.Window != id {
		t.Fatalf("expected ready from %s, got %+v", id, env.Message)
	}

	if err := h.Close(id); err != nil {
		t.Fatal(err)
	}
	if h.Exists(id) || r.Registered(string(id)) || h.Focused() != "" {
		t.Fatal("closed window still visible")
	}
	env = <-coordInbox
	if closed, ok := env.Message.(messages.WindowClosed); !ok || closed.Window != id {
		t.Fatalf("expected windowClosed for %s, got %+v", id, env.Message)
	}
	if err := h.Close(id); !errors.Is(err, ErrNoWindow) {
		t.Fatalf("expected ErrNoWindow, got %v", err)
	}
	if err := h.Focus(id); !errors.Is(err, ErrNoWindow) {
		t.Fatalf("expected ErrNoWindow, got %v", err)
	}
}

func TestCoordinatorDeliversThroughHost(t *testing.T) {
	r := router.NewRouter()
	defer r.Shutdown()
	st := store.NewMemory()
	h := newHost(t, r, st)
	c := coordinator.New(coordinator.Options{Host: h, Post: Post(r), ReadyTimeout: time.Minute})

	inbox, err := r.Register(messages.ContextCoordinator, 16)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Serve(ctx, inbox)

	for _, text := range []string{"Hello\n\nWorld", "Second"} {
		if err := r.Send(messages.ContextSelector, messages.ContextCoordinator, messages.DeliverTranslation{TranslatedText: text}); err != nil {
			t.Fatal(err)
		}
	}
	waitFor(t, "records", func() bool {
		id := c.Current()
		s, ok := h.Surface(id)
		return ok && len(s.Records()) == 2
	})
	if got := len(h.List()); got != 1 {
		t.Fatalf("expected one window, got %d", got)
	}
	s, _ := h.Surface(c.Current())
	recs := s.Records()
	if recs[0].TranslatedText != "Hello\n\nWorld" || recs[1].TranslatedText != "Second" {
		t.Fatalf("records out of order: %+v", recs)
	}
	doc, err := s.Document()
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(doc, "<p>Hello</p>\n<p>World</p>") {
		t.Fatalf("expected two paragraphs in document:\n%s", doc)
	}

	first := c.Current()
	if err := h.Close(first); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "identity cleared", func() bool { return c.Current() == "" })

	if err := r.Send(messages.ContextSelector, messages.ContextCoordinator, messages.DeliverTranslation{TranslatedText: "Third"}); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "new window", func() bool {
		s, ok := h.Surface(c.Current())
		return ok && len(s.Records()) == 3
	})
	if c.Current() == first {
		t.Fatal("a closed window must not be reused")
	}
}

func TestShutdownClosesAll(t *testing.T) {
	r := router.NewRouter()
	defer r.Shutdown()
	h := newHost(t, r, store.NewMemory())
	for i := 0; i < 2; i++ {
		if _, err := h.Create(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	if len(h.List()) != 2 {
		t.Fatal("expected two windows")
	}
	h.Shutdown()
	if len(h.List()) != 0 {
		t.Fatal("windows left open after shutdown")
	}
}
