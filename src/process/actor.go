package process

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

const stopTimeout = 5 * time.Second

// ServeFunc is a context's message loop. It returns when ctx ends, the inbox
// closes or it decides to stop (DIENOW).
type ServeFunc func(ctx context.Context, inbox <-chan messages.Envelope)

// Actor adapts a ServeFunc to the Process lifecycle: Start registers the inbox
// and runs the loop on its own goroutine; the inbox is unregistered when the
// loop exits.
type Actor struct {
	name   string
	buffer int
	serve  ServeFunc

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
	lastErr error
}

func NewActor(name string, buffer int, serve ServeFunc) *Actor {
	return &Actor{name: name, buffer: buffer, serve: serve}
}

func (a *Actor) Name() string { return a.name }

func (a *Actor) Start(ctx context.Context, r *router.Router) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.running {
		return fmt.Errorf("process %s already running", a.name)
	}
	inbox, err := r.Register(a.name, a.buffer)
	if err != nil {
		return err
	}
	actx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	a.running, a.cancel, a.done, a.lastErr = true, cancel, done, nil

	go func() {
		var err error
		defer func() {
			if p := recover(); p != nil {
				err = fmt.Errorf("panic: %v", p)
				log.Printf("Process %s panicked: %v", a.name, p)
			}
			cancel()
			r.Unregister(a.name)
			a.mu.Lock()
			a.running = false
			a.lastErr = err
			a.mu.Unlock()
			close(done)
		}()
		a.serve(actx, inbox)
	}()
	return nil
}

// Stop cancels the loop and waits for it to exit.
func (a *Actor) Stop() error {
	a.mu.Lock()
	cancel, done := a.cancel, a.done
	a.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-done:
		return nil
	case <-time.After(stopTimeout):
		return errors.New("timed out waiting for " + a.name)
	}
}

func (a *Actor) IsRunning() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.running
}

// Err is the reason the last run ended abnormally, if any.
func (a *Actor) Err() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastErr
}

// Done is closed when the current run exits.
func (a *Actor) Done() <-chan struct{} {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.done
}
