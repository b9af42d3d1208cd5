// Package windows hosts results windows. Each window is a surface goroutine
// with its own router inbox; closing a window notifies the coordinator.
package windows

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"page-ocr-translate/src/messages"
	"page-ocr-translate/src/router"
	"page-ocr-translate/src/surface"
)

var ErrNoWindow = errors.New("no such window")

const inboxSize = 32

// SurfaceFactory builds the surface shown in a new window.
type SurfaceFactory func(id messages.WindowID) *surface.Surface

// Info summarizes one open window.
type Info struct {
	ID      messages.WindowID
	Created time.Time
	Focused bool
	Records int
}

type window struct {
	surface *surface.Surface
	cancel  context.CancelFunc
	done    chan struct{}
	created time.Time
}

type Host struct {
	ctx        context.Context
	router     *router.Router
	newSurface SurfaceFactory

	mu      sync.Mutex
	windows map[messages.WindowID]*window
	focused messages.WindowID
}

// New creates a host whose windows live at most as long as ctx.
func New(ctx context.Context, r *router.Router, factory SurfaceFactory) *Host {
	return &Host{
		ctx:        ctx,
		router:     r,
		newSurface: factory,
		windows:    make(map[messages.WindowID]*window),
	}
}

// Create opens a window. Its inbox is registered before Create returns, so
// records can be posted immediately; the surface reports readiness on its own.
func (h *Host) Create(ctx context.Context) (messages.WindowID, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	id := messages.WindowID("results-" + uuid.NewString())
	inbox, err := h.router.Register(string(id), inboxSize)
	if err != nil {
		return "", fmt.Errorf("register window inbox: %w", err)
	}

	s := h.newSurface(id)
	wctx, cancel := context.WithCancel(h.ctx)
	w := &window{surface: s, cancel: cancel, done: make(chan struct{}), created: time.Now()}

	h.mu.Lock()
	h.windows[id] = w
	h.focused = id
	h.mu.Unlock()

	go func() {
		defer close(w.done)
		s.Serve(wctx, inbox)
	}()
	log.Printf("Windows: opened %s", id)
	return id, nil
}

func (h *Host) Exists(id messages.WindowID) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.windows[id]
	return ok
}

// Focus brings id to the front.
func (h *Host) Focus(id messages.WindowID) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.windows[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNoWindow, id)
	}
	h.focused = id
	return nil
}

// Focused returns the front window, or "" when none is open.
func (h *Host) Focused() messages.WindowID {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.focused
}

// Surface returns the surface shown in id.
func (h *Host) Surface(id messages.WindowID) (*surface.Surface, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	w, ok := h.windows[id]
	if !ok {
		return nil, false
	}
	return w.surface, true
}

// List returns the open windows, oldest first.
func (h *Host) List() []Info {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Info, 0, len(h.windows))
	for id, w := range h.windows {
		out = append(out, Info{ID: id, Created: w.created, Focused: id == h.focused, Records: len(w.surface.Records())})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Created.Before(out[j].Created) })
	return out
}

// Close tears the window down, waits for its final save and tells the
// coordinator.
func (h *Host) Close(id messages.WindowID) error {
	h.mu.Lock()
	w, ok := h.windows[id]
	if ok {
		delete(h.windows, id)
		if h.focused == id {
			h.focused = ""
		}
	}
	h.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoWindow, id)
	}

	h.router.Unregister(string(id))
	w.cancel()
	<-w.done
	log.Printf("Windows: closed %s", id)

	err := h.router.Send(messages.ContextWindowHost, messages.ContextCoordinator, messages.WindowClosed{Window: id})
	if err != nil && !errors.Is(err, router.ErrNoReceiver) {
		log.Printf("Windows: close notification for %s failed: %v", id, err)
	}
	return nil
}

// Shutdown closes every window.
func (h *Host) Shutdown() {
	h.mu.Lock()
	ids := make([]messages.WindowID, 0, len(h.windows))
	for id := range h.windows {
		ids = append(ids, id)
	}
	h.mu.Unlock()
	for _, id := range ids {
		_ = h.Close(id)
	}
}

// Post returns the coordinator's send path into results windows.
func Post(r *router.Router) func(id messages.WindowID, m messages.AddTranslation) error {
	return func(id messages.WindowID, m messages.AddTranslation) error {
		return r.Send(messages.ContextCoordinator, string(id), m)
	}
}

// ReadySignal returns the surface's readiness callback.
func ReadySignal(r *router.Router) func(id messages.WindowID) error {
	return func(id messages.WindowID) error {
		return r.Send(string(id), messages.ContextCoordinator, messages.SurfaceReady{Window: id})
	}
}
