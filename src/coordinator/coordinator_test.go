package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"page-ocr-translate/src/messages"
	"page-ocr-translate/src/router"
)

type fakeHost struct {
	mu      sync.Mutex
	live    map[messages.WindowID]bool
	created int
	focused []messages.WindowID
	failErr error
}

func newFakeHost() *fakeHost { return &fakeHost{live: map[messages.WindowID]bool{}} }

func (h *fakeHost) Create(ctx context.Context) (messages.WindowID, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.failErr != nil {
		return "", h.failErr
	}
	h.created++
	id := messages.WindowID(fmt.Sprintf("results-%d", h.created))
	h.live[id] = true
	return id, nil
}

func (h *fakeHost) Exists(id messages.WindowID) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.live[id]
}

func (h *fakeHost) Focus(id messages.WindowID) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.focused = append(h.focused, id)
	return nil
}

func (h *fakeHost) kill(id messages.WindowID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.live, id)
}

type posted struct {
	id  messages.WindowID
	rec messages.AddTranslation
}

type postLog struct {
	mu  sync.Mutex
	got []posted
	err error
}

func (p *postLog) post(id messages.WindowID, m messages.AddTranslation) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.got = append(p.got, posted{id, m})
	return nil
}

func (p *postLog) snapshot() []posted {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]posted(nil), p.got...)
}

func newCoordinator(h *fakeHost, p *postLog, timeout time.Duration) *Coordinator {
	return New(Options{Host: h, Post: p.post, ReadyTimeout: timeout})
}

func deliver(t *testing.T, c *Coordinator, text string) {
	t.Helper()
	if err := c.Deliver(context.Background(), messages.DeliverTranslation{TranslatedText: text}); err != nil {
		t.Fatalf("deliver %q: %v", text, err)
	}
}

func TestCreatesOnceAcrossDeliveries(t *testing.T) {
	h, p := newFakeHost(), &postLog{}
	c := newCoordinator(h, p, time.Minute)

	deliver(t, c, "first")
	deliver(t, c, "second")
	if h.created != 1 {
		t.Fatalf("expected one window, created %d", h.created)
	}
	if len(p.snapshot()) != 0 {
		t.Fatal("records must wait for readiness")
	}

	c.SurfaceReady(c.Current())
	got := p.snapshot()
	if len(got) != 2 || got[0].rec.TranslatedText != "first" || got[1].rec.TranslatedText != "second" {
		t.Fatalf("unexpected flush %+v", got)
	}
	deliver(t, c, "third")
	if got := p.snapshot(); len(got) != 3 || got[2].id != "results-1" {
		t.Fatalf("live window should receive directly: %+v", got)
	}
	if h.created != 1 {
		t.Fatalf("live window must not be recreated, created %d", h.created)
	}
	if len(h.focused) == 0 {
		t.Fatal("delivery to a live window should focus it")
	}
}

func TestStaleWindowIsRecreated(t *testing.T) {
	h, p := newFakeHost(), &postLog{}
	c := newCoordinator(h, p, time.Minute)
	deliver(t, c, "first")
	c.SurfaceReady("results-1")

	h.kill("results-1")
	deliver(t, c, "second")
	if h.created != 2 || c.Current() != "results-2" {
		t.Fatalf("stale handle should be replaced: created=%d current=%s", h.created, c.Current())
	}
	c.SurfaceReady("results-2")
	got := p.snapshot()
	if len(got) != 2 || got[1].id != "results-2" {
		t.Fatalf("unexpected posts %+v", got)
	}
}

func TestVanishedReceiverIsRecreated(t *testing.T) {
	h, p := newFakeHost(), &postLog{}
	c := newCoordinator(h, p, time.Minute)
	deliver(t, c, "first")
	c.SurfaceReady("results-1")

	p.err = fmt.Errorf("%w: results-1", router.ErrNoReceiver)
	deliver(t, c, "second")
	p.err = nil
	if c.Current() != "results-2" {
		t.Fatalf("expected recreated window, current=%s", c.Current())
	}
	c.SurfaceReady("results-2")
	if got := p.snapshot(); len(got) != 2 || got[1].rec.TranslatedText != "second" {
		t.Fatalf("record should reach the new window: %+v", got)
	}
}

func TestWindowClosedClearsOnlyMatchingIdentity(t *testing.T) {
	h, p := newFakeHost(), &postLog{}
	c := newCoordinator(h, p, time.Minute)
	deliver(t, c, "first")

	c.WindowClosed("results-99")
	if c.Current() != "results-1" {
		t.Fatal("unrelated close must not clear identity")
	}
	c.WindowClosed("results-1")
	if c.Current() != "" {
		t.Fatal("identity should be cleared")
	}
	c.SurfaceReady("results-1")
	if len(p.snapshot()) != 0 {
		t.Fatal("records queued for a closed window are dropped")
	}
	deliver(t, c, "second")
	if h.created != 2 {
		t.Fatalf("expected a new window, created %d", h.created)
	}
}

func TestReadyTimeoutFlushesAnyway(t *testing.T) {
	h, p := newFakeHost(), &postLog{}
	c := newCoordinator(h, p, 20*time.Millisecond)
	deliver(t, c, "late")

	deadline := time.Now().Add(2 * time.Second)
	for len(p.snapshot()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("timeout fallback never flushed")
		}
		time.Sleep(5 * time.Millisecond)
	}
	c.SurfaceReady("results-1")
	if len(p.snapshot()) != 1 {
		t.Fatal("late ready must not flush twice")
	}
}

func TestCreateFailureLeavesIdentityUnset(t *testing.T) {
	h, p := newFakeHost(), &postLog{}
	h.failErr = errors.New("no display")
	c := newCoordinator(h, p, time.Minute)
	if err := c.Deliver(context.Background(), messages.DeliverTranslation{TranslatedText: "x"}); err == nil {
		t.Fatal("expected error")
	}
	if c.Current() != "" {
		t.Fatal("identity must stay unset")
	}
}

func TestEnsureSurfaceFocusesExisting(t *testing.T) {
	h, p := newFakeHost(), &postLog{}
	c := newCoordinator(h, p, time.Minute)
	id, err := c.EnsureSurface(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	again, err := c.EnsureSurface(context.Background())
	if err != nil || again != id || h.created != 1 {
		t.Fatalf("expected same window, got %s created=%d err=%v", again, h.created, err)
	}
	if len(h.focused) != 1 || h.focused[0] != id {
		t.Fatalf("expected focus on %s, got %v", id, h.focused)
	}
}

func TestServeRoutesMessages(t *testing.T) {
	h, p := newFakeHost(), &postLog{}
	c := newCoordinator(h, p, time.Minute)
	r := router.NewRouter()
	defer r.Shutdown()
	inbox, err := r.Register(messages.ContextCoordinator, 8)
	if err != nil {
		t.Fatal(err)
	}
	done := make(chan struct{})
	go func() {
		c.Serve(context.Background(), inbox)
		close(done)
	}()

	send := func(m messages.Message) {
		t.Helper()
		if err := r.Send("test", messages.ContextCoordinator, m); err != nil {
			t.Fatal(err)
		}
	}
	send(messages.DeliverTranslation{TranslatedText: "Hello\n\nWorld"})
	send(messages.SurfaceReady{Window: "results-1"})
	send(messages.OpenResults{})
	send(messages.WindowClosed{Window: "results-1"})
	send(messages.DIENOW{})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not stop")
	}
	if got := p.snapshot(); len(got) != 1 || got[0].rec.TranslatedText != "Hello\n\nWorld" {
		t.Fatalf("unexpected posts %+v", got)
	}
	if c.Current() != "" || h.created != 1 {
		t.Fatalf("unexpected final state current=%q created=%d", c.Current(), h.created)
	}
}
