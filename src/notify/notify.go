// Package notify carries user-visible notices (errors, confirmations of
// finished work) from background contexts to whatever front end is attached.
package notify

import (
	"fmt"
	"log"
	"sync"
	"time"
)

type Level int

const (
	Info Level = iota
	Alert
)

func (l Level) String() string {
	if l == Alert {
		return "alert"
	}
	return "info"
}

// Notice is one message shown to the user.
type Notice struct {
	Level Level
	Text  string
	Time  time.Time
}

const (
	maxDisplayRunes = 200
	historySize     = 20
)

// Center fans notices out to subscribers and keeps a short history for
// front ends that attach late.
type Center struct {
	mu      sync.Mutex
	history []Notice
	subs    map[int]chan Notice
	nextID  int
	now     func() time.Time
}

func NewCenter() *Center {
	return &Center{subs: make(map[int]chan Notice), now: time.Now}
}

// Notify posts an informational notice.
func (c *Center) Notify(text string) { c.post(Info, text) }

// Alert posts an error notice.
func (c *Center) Alert(text string) { c.post(Alert, text) }

// Alertf formats and posts an error notice.
func (c *Center) Alertf(format string, args ...any) { c.post(Alert, fmt.Sprintf(format, args...)) }

func (c *Center) post(level Level, text string) {
	n := Notice{Level: level, Text: truncate(text, maxDisplayRunes), Time: c.now()}
	log.Printf("Notify: [%s] %s", level, n.Text)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.history = append(c.history, n)
	if len(c.history) > historySize {
		c.history = c.history[len(c.history)-historySize:]
	}
	for id, ch := range c.subs {
		select {
		case ch <- n:
		default:
			log.Printf("Notify: subscriber %d is slow, notice dropped", id)
		}
	}
}

// Subscribe returns a channel receiving every later notice and a function
// that ends the subscription.
func (c *Center) Subscribe(buffer int) (<-chan Notice, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID
	c.nextID++
	ch := make(chan Notice, buffer)
	c.subs[id] = ch
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			delete(c.subs, id)
			close(ch)
		})
	}
}

// Recent returns the retained history, oldest first.
func (c *Center) Recent() []Notice {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Notice(nil), c.history...)
}

// Last returns the newest notice.
func (c *Center) Last() (Notice, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.history) == 0 {
		return Notice{}, false
	}
	return c.history[len(c.history)-1], true
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "..."
}
