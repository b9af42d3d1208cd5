package router

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"page-ocr-translate/src/messages"
)

var (
	// ErrNoReceiver is returned when the destination context is not registered.
	// Fire-and-forget senders are expected to ignore it.
	ErrNoReceiver = errors.New("no receiver")
	// ErrShutdown is returned once the router has been shut down.
	ErrShutdown = errors.New("router is shutting down")
)

const (
	sendTimeout      = 5 * time.Second
	broadcastTimeout = 1 * time.Second
)

// ChannelInfo holds information about a context inbox
type ChannelInfo struct {
	Channel chan messages.Envelope
	Name    string
	Active  bool
}

// Router delivers envelopes between registered contexts. Each receiver owns one
// buffered channel, so messages from a single sender arrive in send order.
type Router struct {
	channels    map[string]*ChannelInfo
	mu          sync.RWMutex
	ctx         context.Context
	cancel      context.CancelFunc
	logMessages bool
}

// NewRouter creates a new message router
func NewRouter() *Router {
	ctx, cancel := context.WithCancel(context.Background())
	return &Router{
		channels: make(map[string]*ChannelInfo),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Register creates the inbox for a context
func (r *Router) Register(name string, bufferSize int) (<-chan messages.Envelope, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.channels[name]; exists {
		return nil, fmt.Errorf("context %s already registered", name)
	}

	ch := make(chan messages.Envelope, bufferSize)
	r.channels[name] = &ChannelInfo{
		Channel: ch,
		Name:    name,
		Active:  true,
	}

	log.Printf("Router: Registered %s with buffer size %d", name, bufferSize)
	return ch, nil
}

// Unregister removes a context and closes its inbox
func (r *Router) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if info, exists := r.channels[name]; exists {
		info.Active = false
		close(info.Channel)
		delete(r.channels, name)
		log.Printf("Router: Unregistered %s", name)
	}
}

// Registered reports whether name currently has an inbox
func (r *Router) Registered(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.channels[name]
	return ok && info.Active
}

// Send delivers a fire-and-forget message. Queries must go through Request.
func (r *Router) Send(from, to string, m messages.Message) error {
	if _, ok := messages.ExpectsReply(m); ok {
		return fmt.Errorf("%s is a query, use Request", m.Kind())
	}
	return r.deliver(messages.Envelope{From: from, To: to, Message: m})
}

// Request sends a query and waits for its typed reply.
func (r *Router) Request(ctx context.Context, from, to string, m messages.Message) (messages.Message, error) {
	want, ok := messages.ExpectsReply(m)
	if !ok {
		return nil, fmt.Errorf("%s expects no reply, use Send", m.Kind())
	}
	reply := make(chan messages.Message, 1)
	if err := r.deliver(messages.Envelope{From: from, To: to, Message: m, Reply: reply}); err != nil {
		return nil, err
	}
	select {
	case resp := <-reply:
		if resp == nil || resp.Kind() != want {
			return nil, fmt.Errorf("%s answered %s with unexpected reply", to, m.Kind())
		}
		return resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-r.ctx.Done():
		return nil, ErrShutdown
	}
}

func (r *Router) deliver(envelope messages.Envelope) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.logMessages {
		log.Printf("Router: %s -> %s: %s", envelope.From, envelope.To, envelope.Message.Kind())
	}

	info, exists := r.channels[envelope.To]
	if !exists || !info.Active {
		return fmt.Errorf("%w: %s", ErrNoReceiver, envelope.To)
	}

	select {
	case info.Channel <- envelope:
		return nil
	case <-time.After(sendTimeout):
		return fmt.Errorf("timeout sending %s to %s", envelope.Message.Kind(), envelope.To)
	case <-r.ctx.Done():
		return ErrShutdown
	}
}

// Broadcast sends a message to every registered context except the sender
func (r *Router) Broadcast(from string, m messages.Message) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.logMessages {
		log.Printf("Router: Broadcasting %s from %s", m.Kind(), from)
	}

	var failed []string
	for name, info := range r.channels {
		if !info.Active || name == from {
			continue
		}
		select {
		case info.Channel <- messages.Envelope{From: from, To: name, Message: m}:
		case <-time.After(broadcastTimeout):
			failed = append(failed, name)
		case <-r.ctx.Done():
			return
		}
	}

	if len(failed) > 0 {
		log.Printf("Router: Broadcast timeouts: %v", failed)
	}
}

// ActiveContexts returns the names of registered contexts
func (r *Router) ActiveContexts() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var active []string
	for name, info := range r.channels {
		if info.Active {
			active = append(active, name)
		}
	}
	return active
}

// SetMessageLogging enables or disables message logging
func (r *Router) SetMessageLogging(enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logMessages = enabled
}

// Shutdown closes every inbox and fails pending requests
func (r *Router) Shutdown() {
	log.Printf("Router: Shutting down...")

	r.cancel()

	r.mu.Lock()
	defer r.mu.Unlock()

	for name, info := range r.channels {
		if info.Active {
			info.Active = false
			close(info.Channel)
			log.Printf("Router: Closed inbox of %s", name)
		}
	}
	r.channels = make(map[string]*ChannelInfo)
}
