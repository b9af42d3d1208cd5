// Package page models the web page the selector is embedded in: an HTML
// document whose image elements can be clicked, intercepted and marked.
package page

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

const maxPageBytes = 16 << 20

// Element is a handle to one image-like element. Handles are compared by
// pointer identity; two elements with the same src are distinct handles.
type Element struct {
	doc   *Document
	node  *html.Node
	index int
	src   string
}

// Src is the absolute image location, resolved against the document base.
func (e *Element) Src() string { return e.src }

// Index is the element's position among the document's images.
func (e *Element) Index() int { return e.index }

// Alt returns the alt text, if any.
func (e *Element) Alt() string { return attr(e.node, "alt") }

// Style returns the element's inline style attribute.
func (e *Element) Style() string {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	return attr(e.node, "style")
}

func (e *Element) String() string { return fmt.Sprintf("img#%d(%s)", e.index, e.src) }

// Event is a click event dispatched to an element.
type Event struct {
	Target             *Element
	defaultPrevented   bool
	propagationStopped bool
}

func (ev *Event) PreventDefault()          { ev.defaultPrevented = true }
func (ev *Event) StopPropagation()         { ev.propagationStopped = true }
func (ev *Event) DefaultPrevented() bool   { return ev.defaultPrevented }
func (ev *Event) PropagationStopped() bool { return ev.propagationStopped }

// Listener handles a click on el.
type Listener func(el *Element, ev *Event)

type registration struct {
	owner string
	fn    Listener
}

// Document is a parsed page.
type Document struct {
	mu       sync.Mutex
	root     *html.Node
	base     *url.URL
	title    string
	images   []*Element
	capture  map[*Element][]registration
	bubble   map[*Element][]registration
	fallback func(el *Element)
}

// Parse reads an HTML document; base resolves relative image sources.
func Parse(r io.Reader, base string) (*Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	var baseURL *url.URL
	if base != "" {
		if baseURL, err = url.Parse(base); err != nil {
			return nil, fmt.Errorf("parse base url: %w", err)
		}
	}
	d := &Document{
		root:    root,
		base:    baseURL,
		capture: make(map[*Element][]registration),
		bubble:  make(map[*Element][]registration),
	}
	d.walk(root)
	return d, nil
}

// Load fetches location (http(s) URL or local file path) and parses it. A nil
// client means http.DefaultClient.
func Load(ctx context.Context, client *http.Client, location string) (*Document, error) {
	if u, err := url.Parse(location); err == nil && (u.Scheme == "http" || u.Scheme == "https") {
		if client == nil {
			client = http.DefaultClient
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
		if err != nil {
			return nil, err
		}
		resp, err := client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("fetch page: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("fetch page: status %d", resp.StatusCode)
		}
		return Parse(io.LimitReader(resp.Body, maxPageBytes), resp.Request.URL.String())
	}

	abs, err := filepath.Abs(location)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("read page: %w", err)
	}
	return Parse(bytes.NewReader(data), (&url.URL{Scheme: "file", Path: abs}).String())
}

func (d *Document) walk(n *html.Node) {
	if n.Type == html.ElementNode {
		switch {
		case n.DataAtom == atom.Title && n.FirstChild != nil && d.title == "":
			d.title = strings.TrimSpace(n.FirstChild.Data)
		case isImageLike(n):
			d.images = append(d.images, &Element{doc: d, node: n, index: len(d.images), src: d.resolve(imageSource(n))})
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		d.walk(c)
	}
}

func isImageLike(n *html.Node) bool {
	if n.DataAtom == atom.Img {
		return true
	}
	return n.DataAtom == atom.Input && strings.EqualFold(attr(n, "type"), "image")
}

// imageSource prefers src and falls back to the lazy-loading attributes many
// reader sites use.
func imageSource(n *html.Node) string {
	for _, key := range []string{"src", "data-src", "data-original"} {
		if v := strings.TrimSpace(attr(n, key)); v != "" {
			return v
		}
	}
	return ""
}

func (d *Document) resolve(src string) string {
	if src == "" || d.base == nil {
		return src
	}
	u, err := url.Parse(src)
	if err != nil {
		return src
	}
	return d.base.ResolveReference(u).String()
}

// Title returns the document title.
func (d *Document) Title() string { return d.title }

// Base returns the document location, or "" for documents parsed without one.
func (d *Document) Base() string {
	if d.base == nil {
		return ""
	}
	return d.base.String()
}

// Images returns every image-like element in document order.
func (d *Document) Images() []*Element {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Element(nil), d.images...)
}

// Image returns the i-th image element.
func (d *Document) Image(i int) (*Element, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i < 0 || i >= len(d.images) {
		return nil, false
	}
	return d.images[i], true
}

// AddCaptureListener attaches a capturing click listener owned by owner.
// Capturing listeners run before the page's own listeners.
func (d *Document) AddCaptureListener(el *Element, owner string, fn Listener) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.capture[el] = appendUnique(d.capture[el], owner, fn)
}

// RemoveCaptureListener detaches owner's capturing listener from el.
func (d *Document) RemoveCaptureListener(el *Element, owner string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.capture[el] = without(d.capture[el], owner)
	if len(d.capture[el]) == 0 {
		delete(d.capture, el)
	}
}

// AddListener attaches a page (bubbling) click listener.
func (d *Document) AddListener(el *Element, owner string, fn Listener) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.bubble[el] = appendUnique(d.bubble[el], owner, fn)
}

// HasCaptureListener reports whether owner intercepts clicks on el.
func (d *Document) HasCaptureListener(el *Element, owner string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, r := range d.capture[el] {
		if r.owner == owner {
			return true
		}
	}
	return false
}

// SetDefaultAction installs the action a click performs when nothing
// prevents it (following the enclosing link, opening a lightbox).
func (d *Document) SetDefaultAction(fn func(el *Element)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fallback = fn
}

// Click dispatches a click on el: capturing listeners first, then page
// listeners unless propagation stopped, then the default action unless
// prevented.
func (d *Document) Click(el *Element) *Event {
	d.mu.Lock()
	capture := append([]registration(nil), d.capture[el]...)
	bubble := append([]registration(nil), d.bubble[el]...)
	fallback := d.fallback
	d.mu.Unlock()

	ev := &Event{Target: el}
	for _, r := range capture {
		r.fn(el, ev)
		if ev.propagationStopped {
			break
		}
	}
	if !ev.propagationStopped {
		for _, r := range bubble {
			r.fn(el, ev)
			if ev.propagationStopped {
				break
			}
		}
	}
	if !ev.defaultPrevented && fallback != nil {
		fallback(el)
	}
	return ev
}

// Render serializes the document including current inline styles.
func (d *Document) Render(w io.Writer) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return html.Render(w, d.root)
}

func appendUnique(regs []registration, owner string, fn Listener) []registration {
	regs = without(regs, owner)
	return append(regs, registration{owner: owner, fn: fn})
}

func without(regs []registration, owner string) []registration {
	out := regs[:0:0]
	for _, r := range regs {
		if r.owner != owner {
			out = append(out, r)
		}
	}
	return out
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}
