// Package selector owns the page-side selection state: which images are
// selected, whether clicks are being intercepted, and the OCR + translation
// batch that turns the selection into a delivered translation.
package selector

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"golang.org/x/sync/semaphore"

	"page-ocr-translate/src/logutil"
	"page-ocr-translate/src/messages"
	"page-ocr-translate/src/page"
	"page-ocr-translate/src/translate"
	"page-ocr-translate/src/worker"
)

var (
	ErrNoSelection     = errors.New("no images selected")
	ErrBatchInProgress = errors.New("a translation batch is already running")
)

// listenerOwner tags the capture listeners this package attaches.
const listenerOwner = "selector"

// RecognitionError reports the image that failed to load or recognize.
type RecognitionError struct {
	Index int
	Src   string
	Err   error
}

func (e *RecognitionError) Error() string {
	return fmt.Sprintf("image %d (%s): %v", e.Index+1, e.Src, e.Err)
}

func (e *RecognitionError) Unwrap() error { return e.Err }

// Page is the document the selector is embedded in.
type Page interface {
	Images() []*page.Element
	AddCaptureListener(el *page.Element, owner string, fn page.Listener)
	RemoveCaptureListener(el *page.Element, owner string)
}

// Marker shows selection state on an element.
type Marker interface {
	Mark(el *page.Element)
	Unmark(el *page.Element)
}

// ImageLoader fetches the encoded bytes behind an element.
type ImageLoader interface {
	Load(ctx context.Context, el *page.Element) ([]byte, error)
}

// Notifier shows user-visible notices.
type Notifier interface {
	Notify(text string)
	Alert(text string)
}

// DeliverFunc hands a finished translation to the coordinator.
type DeliverFunc func(m messages.DeliverTranslation) error

type Options struct {
	Page       Page
	Marker     Marker
	Loader     ImageLoader
	OCR        *worker.Slot
	Translator translate.Translator
	Deliver    DeliverFunc
	Notices    Notifier
}

// BatchResult describes one finished batch.
type BatchResult struct {
	Images         int
	Texts          []string
	SourceText     string
	TranslatedText string
	Delivered      bool
}

type Selector struct {
	loader     ImageLoader
	slot       *worker.Slot
	translator translate.Translator
	deliver    DeliverFunc
	notices    Notifier
	marker     Marker

	mu          sync.Mutex
	page        Page
	active      bool
	selected    []*page.Element
	intercepted []*page.Element

	gate *semaphore.Weighted
	wg   sync.WaitGroup
}

func New(opts Options) *Selector {
	return &Selector{
		page:       opts.Page,
		marker:     opts.Marker,
		loader:     opts.Loader,
		slot:       opts.OCR,
		translator: opts.Translator,
		deliver:    opts.Deliver,
		notices:    opts.Notices,
		gate:       semaphore.NewWeighted(1),
	}
}

// ToggleSelectionMode flips the mode flag and returns the new value. The
// selection itself is never touched.
func (s *Selector) ToggleSelectionMode() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = !s.active
	if s.active {
		s.attachLocked()
		log.Printf("Selector: selection mode activated (%d images intercepted)", len(s.intercepted))
	} else {
		s.detachLocked()
		log.Printf("Selector: selection mode deactivated")
	}
	return s.active
}

func (s *Selector) attachLocked() {
	if s.page == nil {
		return
	}
	s.detachLocked()
	for _, el := range s.page.Images() {
		s.page.AddCaptureListener(el, listenerOwner, s.HandleImageClick)
		s.intercepted = append(s.intercepted, el)
	}
}

func (s *Selector) detachLocked() {
	for _, el := range s.intercepted {
		s.page.RemoveCaptureListener(el, listenerOwner)
	}
	s.intercepted = nil
}

// HandleImageClick toggles el's membership. While selection mode is active
// the click never reaches the page.
func (s *Selector) HandleImageClick(el *page.Element, ev *page.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return
	}
	if ev != nil {
		ev.PreventDefault()
		ev.StopPropagation()
	}

	for i, sel := range s.selected {
		if sel == el {
			s.selected = append(s.selected[:i], s.selected[i+1:]...)
			s.marker.Unmark(el)
			log.Printf("Selector: selected images: %d", len(s.selected))
			return
		}
	}
	s.selected = append(s.selected, el)
	s.marker.Mark(el)
	log.Printf("Selector: selected images: %d", len(s.selected))
}

func (s *Selector) SelectionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.selected)
}

func (s *Selector) SelectionModeActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Selected returns the selection in click order.
func (s *Selector) Selected() []*page.Element {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*page.Element(nil), s.selected...)
}

// ClearSelection unmarks and forgets every selected image.
func (s *Selector) ClearSelection() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, el := range s.selected {
		s.marker.Unmark(el)
	}
	s.selected = nil
	log.Printf("Selector: selection cleared")
}

// Navigate switches to a new document. Selection and mode do not survive
// navigation.
func (s *Selector) Navigate(p Page) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.detachLocked()
	for _, el := range s.selected {
		s.marker.Unmark(el)
	}
	s.selected = nil
	s.active = false
	s.page = p
	log.Printf("Selector: navigated, selection reset")
}

// RunOCRAndTranslate recognizes every selected image in selection order,
// translates the joined text once and delivers the result. Only one batch
// runs at a time; an overlapping call fails with ErrBatchInProgress.
func (s *Selector) RunOCRAndTranslate(ctx context.Context) (BatchResult, error) {
	batch := s.Selected()
	if len(batch) == 0 {
		return BatchResult{}, ErrNoSelection
	}
	if !s.gate.TryAcquire(1) {
		return BatchResult{}, ErrBatchInProgress
	}
	defer s.gate.Release(1)

	log.Printf("Selector: batch started for %d images", len(batch))
	texts, err := s.recognizeAll(ctx, batch)
	if err != nil {
		return BatchResult{Images: len(batch)}, err
	}
	res := BatchResult{Images: len(batch), Texts: texts}
	if len(texts) == 0 {
		log.Printf("Selector: no text found in %d images", len(batch))
		return res, nil
	}

	res.SourceText = strings.Join(texts, "\n\n")
	translated, err := s.translator.Translate(ctx, res.SourceText)
	if err != nil {
		return res, fmt.Errorf("translate: %w", err)
	}
	res.TranslatedText = translated
	log.Printf("Selector: translated %q", logutil.Sanitize(translated))

	if err := s.deliver(messages.DeliverTranslation{SourceText: "", TranslatedText: translated}); err != nil {
		log.Printf("Selector: delivery failed: %v", err)
		return res, nil
	}
	res.Delivered = true
	return res, nil
}

// recognizeAll owns the OCR worker for the duration of one batch and
// releases it on every path.
func (s *Selector) recognizeAll(ctx context.Context, batch []*page.Element) ([]string, error) {
	w, err := s.slot.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = s.slot.Release() }()

	var texts []string
	for i, el := range batch {
		data, err := s.loader.Load(ctx, el)
		if err != nil {
			return nil, &RecognitionError{Index: i, Src: el.Src(), Err: err}
		}
		text, err := w.Recognize(ctx, data)
		if err != nil {
			return nil, &RecognitionError{Index: i, Src: el.Src(), Err: err}
		}
		text = strings.TrimSpace(text)
		if text == "" {
			log.Printf("Selector: image %d produced no text", i+1)
			continue
		}
		texts = append(texts, text)
	}
	return texts, nil
}

// Describe turns a batch error into notice text.
func Describe(err error) string {
	var recErr *RecognitionError
	var reqErr *translate.RequestError
	switch {
	case errors.Is(err, ErrNoSelection):
		return "Please select at least one image first."
	case errors.Is(err, ErrBatchInProgress):
		return "A translation is already running."
	case errors.Is(err, translate.ErrMissingCredential):
		return "Please set your API key in the control panel first."
	case errors.As(err, &reqErr):
		return fmt.Sprintf("Translation failed (%d): %s", reqErr.Status, reqErr.Body)
	case errors.As(err, &recErr):
		return fmt.Sprintf("OCR failed for image %d: %v", recErr.Index+1, recErr.Err)
	default:
		return "Translation failed: " + err.Error()
	}
}

func (s *Selector) runAndReport(ctx context.Context) {
	defer s.wg.Done()
	res, err := s.RunOCRAndTranslate(ctx)
	if s.notices == nil {
		return
	}
	switch {
	case err != nil:
		log.Printf("Selector: batch failed: %v", err)
		s.notices.Alert(Describe(err))
	case len(res.Texts) == 0:
		s.notices.Notify("No text found in the selected images.")
	case res.Delivered:
		s.notices.Notify(fmt.Sprintf("Translated %d images.", res.Images))
	}
}

// Serve answers controller messages until ctx ends, the inbox closes or a
// DIENOW arrives. Batches run on their own goroutine so queries stay
// answerable while one is in flight.
func (s *Selector) Serve(ctx context.Context, inbox <-chan messages.Envelope) {
	defer s.wg.Wait()
	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-inbox:
			if !ok {
				return
			}
			if !s.handle(ctx, env) {
				return
			}
		}
	}
}

func (s *Selector) handle(ctx context.Context, env messages.Envelope) bool {
	switch env.Message.(type) {
	case messages.ToggleSelection:
		s.ToggleSelectionMode()
	case messages.GetSelectedImages:
		env.Respond(messages.SelectionCount{Count: s.SelectionCount()})
	case messages.GetSelectionModeState:
		env.Respond(messages.SelectionModeState{Active: s.SelectionModeActive()})
	case messages.ClearSelection:
		s.ClearSelection()
	case messages.TranslateSelected:
		s.wg.Add(1)
		go s.runAndReport(ctx)
	case messages.DIENOW:
		log.Printf("Selector: DIENOW received")
		return false
	default:
		log.Printf("Selector: ignoring %s from %s", env.Message.Kind(), env.From)
	}
	return true
}
