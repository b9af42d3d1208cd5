// Package controller is the popup logic: it holds no state of its own and
// queries the selector fresh every time it is opened.
package controller

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"page-ocr-translate/src/logutil"
	"page-ocr-translate/src/messages"
	"page-ocr-translate/src/store"
)

var (
	ErrNoSelection     = errors.New("no images selected")
	ErrEmptyCredential = errors.New("API key is empty")
)

const (
	// RefreshDelay is how long the view waits before re-reading the count
	// after a clear.
	RefreshDelay = 100 * time.Millisecond

	queryTimeout = 2 * time.Second
	self         = messages.ContextController
)

// Messenger is the router surface the controller needs.
type Messenger interface {
	Send(from, to string, m messages.Message) error
	Request(ctx context.Context, from, to string, m messages.Message) (messages.Message, error)
}

type StatusKind int

const (
	StatusNone StatusKind = iota
	StatusOK
	StatusError
)

// Status is the text of the credential indicator.
type Status struct {
	Kind StatusKind
	Text string
}

// View is what the popup shows. Unknown values come from an unreachable
// selector and are rendered as such rather than as errors.
type View struct {
	Count      int
	CountKnown bool
	Active     bool
	ModeKnown  bool
	Credential Status
}

// Command is a confirmed action: show Prompt, then Execute on "yes".
type Command struct {
	Prompt string
	run    func(ctx context.Context) error
}

func (c Command) Execute(ctx context.Context) error {
	if c.run == nil {
		return nil
	}
	return c.run(ctx)
}

type Controller struct {
	msg   Messenger
	store store.Store
	sleep func(ctx context.Context, d time.Duration)
}

func New(msg Messenger, st store.Store) *Controller {
	return &Controller{msg: msg, store: st, sleep: sleepCtx}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

// Open builds a fresh view.
func (c *Controller) Open(ctx context.Context) View {
	v := View{}
	if n, err := c.count(ctx); err == nil {
		v.Count, v.CountKnown = n, true
	} else {
		log.Printf("Controller: could not get selected count: %v", err)
	}
	if active, err := c.mode(ctx); err == nil {
		v.Active, v.ModeKnown = active, true
	} else {
		log.Printf("Controller: could not get selection mode: %v", err)
	}
	_, v.Credential = c.LoadCredential(ctx)
	return v
}

func (c *Controller) count(ctx context.Context) (int, error) {
	qctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	resp, err := c.msg.Request(qctx, self, messages.ContextSelector, messages.GetSelectedImages{})
	if err != nil {
		return 0, err
	}
	return resp.(messages.SelectionCount).Count, nil
}

func (c *Controller) mode(ctx context.Context) (bool, error) {
	qctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	resp, err := c.msg.Request(qctx, self, messages.ContextSelector, messages.GetSelectionModeState{})
	if err != nil {
		return false, err
	}
	return resp.(messages.SelectionModeState).Active, nil
}

// ToggleMode asks the selector to flip its mode and flips the local view
// without waiting for confirmation.
func (c *Controller) ToggleMode(ctx context.Context, v View) View {
	if err := c.msg.Send(self, messages.ContextSelector, messages.ToggleSelection{}); err != nil {
		log.Printf("Controller: toggle failed: %v", err)
		v.ModeKnown = false
		return v
	}
	if v.ModeKnown {
		v.Active = !v.Active
	}
	return v
}

// PrepareClear reads a fresh count and returns the confirmed clear command.
func (c *Controller) PrepareClear(ctx context.Context) (Command, error) {
	n, err := c.count(ctx)
	if err != nil {
		return Command{}, fmt.Errorf("selector unavailable: %w", err)
	}
	if n == 0 {
		return Command{}, ErrNoSelection
	}
	return Command{
		Prompt: fmt.Sprintf("Clear selection of %d images?", n),
		run: func(ctx context.Context) error {
			return c.msg.Send(self, messages.ContextSelector, messages.ClearSelection{})
		},
	}, nil
}

// AfterClear re-reads the count once the selector has had time to apply the
// clear.
func (c *Controller) AfterClear(ctx context.Context, v View) View {
	c.sleep(ctx, RefreshDelay)
	if n, err := c.count(ctx); err == nil {
		v.Count, v.CountKnown = n, true
	} else {
		v.CountKnown = false
	}
	return v
}

// PrepareTranslate reads a fresh count and returns the confirmed batch
// command.
func (c *Controller) PrepareTranslate(ctx context.Context) (Command, error) {
	n, err := c.count(ctx)
	if err != nil {
		return Command{}, fmt.Errorf("selector unavailable: %w", err)
	}
	if n == 0 {
		return Command{}, ErrNoSelection
	}
	return Command{
		Prompt: fmt.Sprintf("Translate %d selected images? This will use API credits.", n),
		run: func(ctx context.Context) error {
			return c.msg.Send(self, messages.ContextSelector, messages.TranslateSelected{})
		},
	}, nil
}

// OpenResults asks the coordinator to open or focus the results window.
func (c *Controller) OpenResults(ctx context.Context) error {
	return c.msg.Send(self, messages.ContextCoordinator, messages.OpenResults{})
}

// LoadCredential returns the stored key and the indicator for it.
func (c *Controller) LoadCredential(ctx context.Context) (string, Status) {
	raw, found, err := c.store.Get(ctx, store.KeyCredential)
	if err != nil {
		log.Printf("Controller: load credential failed: %v", err)
		return "", Status{Kind: StatusError, Text: "Could not read API key"}
	}
	key := strings.TrimSpace(string(raw))
	if !found || key == "" {
		return "", Status{Kind: StatusNone, Text: "No API key set"}
	}
	return key, Status{Kind: StatusOK, Text: "API key saved (" + logutil.RedactKey(key) + ")"}
}

// SaveCredential stores a trimmed, non-empty key.
func (c *Controller) SaveCredential(ctx context.Context, raw string) (Status, error) {
	key := strings.TrimSpace(raw)
	if key == "" {
		return Status{Kind: StatusError, Text: "Please enter an API key"}, ErrEmptyCredential
	}
	if err := c.store.Set(ctx, store.KeyCredential, []byte(key)); err != nil {
		return Status{Kind: StatusError, Text: "Could not save API key"}, fmt.Errorf("save credential: %w", err)
	}
	log.Printf("Controller: API key saved (%s)", logutil.RedactKey(key))
	return Status{Kind: StatusOK, Text: "API key saved (" + logutil.RedactKey(key) + ")"}, nil
}

// PrepareDeleteCredential returns the confirmed delete command.
func (c *Controller) PrepareDeleteCredential(ctx context.Context) Command {
	return Command{
		Prompt: "Delete the saved API key?",
		run: func(ctx context.Context) error {
			if err := c.store.Remove(ctx, store.KeyCredential); err != nil {
				return fmt.Errorf("delete credential: %w", err)
			}
			log.Printf("Controller: API key deleted")
			return nil
		},
	}
}
