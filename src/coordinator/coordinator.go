// Package coordinator is the process-wide background context. It owns the
// identity of the results window and routes finished translations to it,
// creating or refocusing the window as needed.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"page-ocr-translate/src/messages"
	"page-ocr-translate/src/router"
)

const DefaultReadyTimeout = 2 * time.Second

// WindowHost creates and tracks results windows.
type WindowHost interface {
	Create(ctx context.Context) (messages.WindowID, error)
	Exists(id messages.WindowID) bool
	Focus(id messages.WindowID) error
}

// PostFunc sends a record to a results window.
type PostFunc func(id messages.WindowID, m messages.AddTranslation) error

type Options struct {
	Host         WindowHost
	Post         PostFunc
	ReadyTimeout time.Duration
}

type Coordinator struct {
	host         WindowHost
	post         PostFunc
	readyTimeout time.Duration

	mu      sync.Mutex
	current messages.WindowID
	ready   bool
	pending []messages.AddTranslation
	timer   *time.Timer
}

func New(opts Options) *Coordinator {
	timeout := opts.ReadyTimeout
	if timeout <= 0 {
		timeout = DefaultReadyTimeout
	}
	return &Coordinator{host: opts.Host, post: opts.Post, readyTimeout: timeout}
}

// Current returns the remembered results window, or "" when none is known.
func (c *Coordinator) Current() messages.WindowID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Deliver forwards a finished translation to the results window. A window
// that was just created gets the record once it reports ready.
func (c *Coordinator) Deliver(ctx context.Context, m messages.DeliverTranslation) error {
	rec := messages.AddTranslation{SourceText: m.SourceText, TranslatedText: m.TranslatedText}

	c.mu.Lock()
	defer c.mu.Unlock()

	id, err := c.ensureLocked(ctx)
	if err != nil {
		return err
	}
	if !c.ready {
		c.pending = append(c.pending, rec)
		log.Printf("Coordinator: queued record for %s until ready (%d pending)", id, len(c.pending))
		return nil
	}

	err = c.post(id, rec)
	if err == nil {
		return nil
	}
	if !errors.Is(err, router.ErrNoReceiver) {
		return fmt.Errorf("deliver to %s: %w", id, err)
	}

	// The window went away between the liveness check and the post.
	log.Printf("Coordinator: window %s vanished, recreating", id)
	c.resetLocked()
	if _, err := c.ensureLocked(ctx); err != nil {
		return err
	}
	c.pending = append(c.pending, rec)
	return nil
}

// EnsureSurface opens the results window if none is live and focuses it
// otherwise.
func (c *Coordinator) EnsureSurface(ctx context.Context) (messages.WindowID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ensureLocked(ctx)
}

func (c *Coordinator) ensureLocked(ctx context.Context) (messages.WindowID, error) {
	if c.current != "" && !c.host.Exists(c.current) {
		log.Printf("Coordinator: stale window %s, clearing", c.current)
		c.resetLocked()
	}
	if c.current != "" {
		if err := c.host.Focus(c.current); err != nil {
			log.Printf("Coordinator: focus %s failed: %v", c.current, err)
		}
		return c.current, nil
	}

	id, err := c.host.Create(ctx)
	if err != nil {
		return "", fmt.Errorf("create results window: %w", err)
	}
	c.current = id
	c.ready = false
	c.timer = time.AfterFunc(c.readyTimeout, func() { c.readyTimedOut(id) })
	log.Printf("Coordinator: created results window %s", id)
	return id, nil
}

// SurfaceReady marks id as able to receive records and flushes the queue.
func (c *Coordinator) SurfaceReady(id messages.WindowID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if id != c.current {
		log.Printf("Coordinator: ignoring ready from %s (current %q)", id, c.current)
		return
	}
	if c.ready {
		return
	}
	c.stopTimerLocked()
	c.ready = true
	c.flushLocked()
}

func (c *Coordinator) readyTimedOut(id messages.WindowID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if id != c.current || c.ready {
		return
	}
	log.Printf("Coordinator: window %s not ready after %s, delivering anyway", id, c.readyTimeout)
	c.timer = nil
	c.ready = true
	c.flushLocked()
}

func (c *Coordinator) flushLocked() {
	for _, rec := range c.pending {
		if err := c.post(c.current, rec); err != nil {
			log.Printf("Coordinator: flush to %s failed: %v", c.current, err)
		}
	}
	c.pending = nil
}

// WindowClosed forgets the window if it is the remembered one.
func (c *Coordinator) WindowClosed(id messages.WindowID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if id == "" || id != c.current {
		return
	}
	log.Printf("Coordinator: results window %s closed", id)
	c.resetLocked()
}

func (c *Coordinator) resetLocked() {
	if n := len(c.pending); n > 0 {
		log.Printf("Coordinator: dropping %d records queued for %s", n, c.current)
	}
	c.stopTimerLocked()
	c.current = ""
	c.ready = false
	c.pending = nil
}

func (c *Coordinator) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

// Serve handles coordinator messages until ctx ends, the inbox closes or
// DIENOW arrives.
func (c *Coordinator) Serve(ctx context.Context, inbox <-chan messages.Envelope) {
	defer func() {
		c.mu.Lock()
		c.stopTimerLocked()
		c.mu.Unlock()
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-inbox:
			if !ok {
				return
			}
			switch m := env.Message.(type) {
			case messages.DeliverTranslation:
				if err := c.Deliver(ctx, m); err != nil {
					log.Printf("Coordinator: delivery failed: %v", err)
				}
			case messages.OpenResults:
				if _, err := c.EnsureSurface(ctx); err != nil {
					log.Printf("Coordinator: open results failed: %v", err)
				}
			case messages.SurfaceReady:
				c.SurfaceReady(m.Window)
			case messages.WindowClosed:
				c.WindowClosed(m.Window)
			case messages.DIENOW:
				log.Printf("Coordinator: DIENOW received")
				return
			default:
				log.Printf("Coordinator: ignoring %s from %s", env.Message.Kind(), env.From)
			}
		}
	}
}
