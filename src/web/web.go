// Package web serves results windows and the working page to a browser.
package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"page-ocr-translate/src/messages"
	"page-ocr-translate/src/page"
	"page-ocr-translate/src/surface"
	"page-ocr-translate/src/windows"
)

// WindowHost is the part of the window host the viewer needs.
type WindowHost interface {
	List() []windows.Info
	Surface(id messages.WindowID) (*surface.Surface, bool)
	Close(id messages.WindowID) error
}

// Opener asks the coordinator to open or focus the results window.
type Opener interface {
	OpenResults(ctx context.Context) error
}

// Page is the working document.
type Page interface {
	Image(i int) (*page.Element, bool)
	Click(el *page.Element) *page.Event
	Render(w io.Writer) error
}

// DeliverFunc hands a finished translation to the coordinator.
type DeliverFunc func(m messages.DeliverTranslation) error

type Handle struct {
	host    WindowHost
	opener  Opener
	page    Page
	deliver DeliverFunc
}

func New(host WindowHost, opener Opener, p Page) *Handle {
	return &Handle{host: host, opener: opener, page: p}
}

// AcceptDeliveries enables POST /deliver, which lets other processes sharing
// the store append to this process's results window instead of writing the
// saved translations themselves.
func (h *Handle) AcceptDeliveries(fn DeliverFunc) *Handle {
	h.deliver = fn
	return h
}

// Routes registers every endpoint on a new mux.
func (h *Handle) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("GET /{$}", h.Index)
	mux.HandleFunc("GET /windows", h.ListWindows)
	mux.HandleFunc("GET /windows/{id}", h.Window)
	mux.HandleFunc("POST /windows/{id}/close", h.CloseWindow)
	mux.HandleFunc("POST /windows/{id}/clear", h.Clear)
	mux.HandleFunc("POST /windows/{id}/font", h.Font)
	mux.HandleFunc("POST /windows/{id}/records/{n}/copy", h.Copy)
	mux.HandleFunc("POST /open", h.Open)
	if h.deliver != nil {
		mux.HandleFunc("POST /deliver", h.Deliver)
	}
	if h.page != nil {
		mux.HandleFunc("GET /page", h.Page)
		mux.HandleFunc("POST /page/images/{i}/click", h.Click)
	}
	return mux
}

// Serve runs the viewer on addr until ctx ends.
func Serve(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		log.Printf("Web: listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}

var indexTemplate = template.Must(template.New("index").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Results windows</title></head>
<body>
<h1>Results windows</h1>
{{if .}}<ul>
{{range .}}<li><a href="/windows/{{.ID}}">{{.ID}}</a> ({{.Records}} translations){{if .Focused}} focused{{end}}</li>
{{end}}</ul>{{else}}<p>No results window is open.</p>{{end}}
<form method="post" action="/open"><button>Open results</button></form>
</body>
</html>
`))

// Index lists the open windows as HTML.
func (h *Handle) Index(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if err := indexTemplate.Execute(&buf, h.host.List()); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeHTML(w, buf.Bytes())
}

type windowInfo struct {
	ID      messages.WindowID `json:"id"`
	Created time.Time         `json:"created"`
	Focused bool              `json:"focused"`
	Records int               `json:"records"`
}

// ListWindows returns the open windows as JSON.
func (h *Handle) ListWindows(w http.ResponseWriter, r *http.Request) {
	list := h.host.List()
	out := make([]windowInfo, 0, len(list))
	for _, info := range list {
		out = append(out, windowInfo{ID: info.ID, Created: info.Created, Focused: info.Focused, Records: info.Records})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handle) surface(w http.ResponseWriter, r *http.Request) (*surface.Surface, bool) {
	id := messages.WindowID(r.PathValue("id"))
	s, ok := h.host.Surface(id)
	if !ok {
		http.Error(w, "no such window", http.StatusNotFound)
	}
	return s, ok
}

// Window returns the rendered window document.
func (h *Handle) Window(w http.ResponseWriter, r *http.Request) {
	s, ok := h.surface(w, r)
	if !ok {
		return
	}
	doc, err := s.Document()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeHTML(w, []byte(doc))
}

// CloseWindow closes the window, which also tells the coordinator.
func (h *Handle) CloseWindow(w http.ResponseWriter, r *http.Request) {
	id := messages.WindowID(r.PathValue("id"))
	if err := h.host.Close(id); err != nil {
		if errors.Is(err, windows.ErrNoWindow) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Clear empties the window. The browser-side prompt is answered by the
// confirm query parameter; without confirm=true nothing is cleared.
func (h *Handle) Clear(w http.ResponseWriter, r *http.Request) {
	s, ok := h.surface(w, r)
	if !ok {
		return
	}
	confirmed, _ := strconv.ParseBool(r.URL.Query().Get("confirm"))
	cleared, err := s.ClearAll(r.Context(), func(string) bool { return confirmed })
	if err != nil {
		http.Error(w, "clear failed: "+err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cleared": cleared, "prompt": surface.ClearPrompt})
}

type fontReq struct {
	Family string `json:"family"`
	Size   int    `json:"size"`
}

// Font updates the window's font family and/or size.
func (h *Handle) Font(w http.ResponseWriter, r *http.Request) {
	s, ok := h.surface(w, r)
	if !ok {
		return
	}
	var req fontReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json: "+err.Error(), http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Family) != "" {
		if err := s.SetFontFamily(r.Context(), req.Family); err != nil {
			fontError(w, err)
			return
		}
	}
	if req.Size != 0 {
		if err := s.SetFontSize(r.Context(), req.Size); err != nil {
			fontError(w, err)
			return
		}
	}
	f := s.Font()
	writeJSON(w, http.StatusOK, fontReq{Family: f.Family, Size: f.SizePx})
}

func fontError(w http.ResponseWriter, err error) {
	if errors.Is(err, surface.ErrInvalidFontSize) || errors.Is(err, surface.ErrEmptyFontFamily) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	http.Error(w, err.Error(), http.StatusInternalServerError)
}

// Copy puts record n (one based, as displayed) on the clipboard.
func (h *Handle) Copy(w http.ResponseWriter, r *http.Request) {
	s, ok := h.surface(w, r)
	if !ok {
		return
	}
	n, err := strconv.Atoi(r.PathValue("n"))
	if err != nil {
		http.Error(w, "bad record number", http.StatusBadRequest)
		return
	}
	if err := s.CopyRecord(n - 1); err != nil {
		if errors.Is(err, surface.ErrNoRecord) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, "copy failed: "+err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Open asks the coordinator for the results window.
func (h *Handle) Open(w http.ResponseWriter, r *http.Request) {
	if err := h.opener.OpenResults(r.Context()); err != nil {
		http.Error(w, "open failed: "+err.Error(), http.StatusBadGateway)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// Delivery is the body of POST /deliver.
type Delivery struct {
	SourceText     string `json:"sourceText"`
	TranslatedText string `json:"translatedText"`
}

// Deliver routes a translation produced elsewhere to the results window.
func (h *Handle) Deliver(w http.ResponseWriter, r *http.Request) {
	var d Delivery
	if err := json.NewDecoder(r.Body).Decode(&d); err != nil {
		http.Error(w, "bad json: "+err.Error(), http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(d.TranslatedText) == "" {
		http.Error(w, "empty translation", http.StatusBadRequest)
		return
	}
	if err := h.deliver(messages.DeliverTranslation{SourceText: d.SourceText, TranslatedText: d.TranslatedText}); err != nil {
		http.Error(w, "deliver failed: "+err.Error(), http.StatusBadGateway)
		return
	}
	log.Printf("Web: accepted delivery of %d chars", len(d.TranslatedText))
	w.WriteHeader(http.StatusAccepted)
}

// Page renders the working document with the current selection marks.
func (h *Handle) Page(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if err := h.page.Render(&buf); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeHTML(w, buf.Bytes())
}

// Click dispatches a click on image i of the working document.
func (h *Handle) Click(w http.ResponseWriter, r *http.Request) {
	i, err := strconv.Atoi(r.PathValue("i"))
	if err != nil {
		http.Error(w, "bad image index", http.StatusBadRequest)
		return
	}
	el, ok := h.page.Image(i)
	if !ok {
		http.Error(w, fmt.Sprintf("no image %d", i), http.StatusNotFound)
		return
	}
	ev := h.page.Click(el)
	writeJSON(w, http.StatusOK, map[string]bool{
		"defaultPrevented": ev.DefaultPrevented(),
		"marked":           page.Marked(el),
	})
}

func writeHTML(w http.ResponseWriter, body []byte) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
