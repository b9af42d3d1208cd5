// Package surface is the results window: an append-only list of translation
// records mirrored in memory, rendered once per record and persisted.
package surface

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"page-ocr-translate/src/logutil"
	"page-ocr-translate/src/messages"
	"page-ocr-translate/src/store"
)

const (
	DefaultAutosaveInterval = 10 * time.Second
	DefaultFontFamily       = "Georgia, serif"
	DefaultFontSize         = 16
	MinFontSize             = 10
	MaxFontSize             = 40

	ClearPrompt = "Clear all translation results? This will permanently delete all saved translations."
)

var (
	ErrNoRecord        = errors.New("no such record")
	ErrInvalidFontSize = fmt.Errorf("font size must be between %d and %d px", MinFontSize, MaxFontSize)
	ErrEmptyFontFamily = errors.New("font family is empty")
	// ErrNotLoaded is returned by Save while the saved records could not be
	// read; writing the mirror then would replace history it never saw.
	ErrNotLoaded = errors.New("saved translations were not loaded")
)

// Record is one persisted translation.
type Record struct {
	SourceText     string    `json:"sourceText"`
	TranslatedText string    `json:"translatedText"`
	Timestamp      time.Time `json:"timestamp"`
}

// UnmarshalJSON also accepts records saved under the older "originalText" key.
func (r *Record) UnmarshalJSON(data []byte) error {
	var raw struct {
		SourceText     *string   `json:"sourceText"`
		OriginalText   string    `json:"originalText"`
		TranslatedText string    `json:"translatedText"`
		Timestamp      time.Time `json:"timestamp"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	r.SourceText = raw.OriginalText
	if raw.SourceText != nil {
		r.SourceText = *raw.SourceText
	}
	r.TranslatedText = raw.TranslatedText
	r.Timestamp = raw.Timestamp
	return nil
}

// FontPreference is the display style of translated text.
type FontPreference struct {
	Family string
	SizePx int
}

// Confirmer asks the user to confirm a destructive action.
type Confirmer func(prompt string) bool

type Options struct {
	Store            store.Store
	Window           messages.WindowID
	AutosaveInterval time.Duration
	Labels           Labels
	// Copy writes text to the system clipboard.
	Copy func(text string) error
	// Ready announces that the window can receive records.
	Ready func(id messages.WindowID) error
	Now   func() time.Time
}

type Surface struct {
	store    store.Store
	id       messages.WindowID
	interval time.Duration
	renderer *Renderer
	copy     func(string) error
	ready    func(messages.WindowID) error
	now      func() time.Time

	mu      sync.Mutex
	records []Record
	items   []template.HTML
	font    FontPreference
	loaded  bool

	saveMu sync.Mutex
}

func New(opts Options) *Surface {
	interval := opts.AutosaveInterval
	if interval <= 0 {
		interval = DefaultAutosaveInterval
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Surface{
		store:    opts.Store,
		id:       opts.Window,
		interval: interval,
		renderer: NewRenderer(opts.Labels),
		copy:     opts.Copy,
		ready:    opts.Ready,
		now:      now,
		font:     FontPreference{Family: DefaultFontFamily, SizePx: DefaultFontSize},
	}
}

// ID is the window identity this surface belongs to.
func (s *Surface) ID() messages.WindowID { return s.id }

// Init loads the saved records and font preference and renders every record
// in stored order. A font preference that cannot be read falls back to the
// defaults. When the records cannot be read the surface still works but
// refuses to save until the list is cleared.
func (s *Surface) Init(ctx context.Context) error {
	var records []Record
	if _, err := store.GetJSON(ctx, s.store, store.KeyRecords, &records); err != nil {
		return fmt.Errorf("load records: %w", err)
	}
	items := make([]template.HTML, 0, len(records))
	for i, rec := range records {
		item, err := s.renderer.Item(i+1, rec)
		if err != nil {
			return err
		}
		items = append(items, template.HTML(item))
	}

	s.mu.Lock()
	s.records = records
	s.items = items
	s.loaded = true
	s.mu.Unlock()
	log.Printf("Surface: %s loaded %d saved translations", s.id, len(records))

	font, err := s.loadFont(ctx)
	if err != nil {
		log.Printf("Surface: %s using default font: %v", s.id, err)
	}
	s.mu.Lock()
	s.font = font
	s.mu.Unlock()
	return nil
}

func (s *Surface) loadFont(ctx context.Context) (FontPreference, error) {
	font := FontPreference{Family: DefaultFontFamily, SizePx: DefaultFontSize}
	family, found, err := s.store.Get(ctx, store.KeyFontFamily)
	if err != nil {
		return font, fmt.Errorf("load font family: %w", err)
	}
	if found && strings.TrimSpace(string(family)) != "" {
		font.Family = strings.TrimSpace(string(family))
	}
	size, found, err := s.store.Get(ctx, store.KeyFontSize)
	if err != nil {
		return font, fmt.Errorf("load font size: %w", err)
	}
	if found {
		if px, err := strconv.Atoi(strings.Trim(strings.TrimSpace(string(size)), `"`)); err == nil && px >= MinFontSize && px <= MaxFontSize {
			font.SizePx = px
		}
	}
	return font, nil
}

// Receive appends a record, renders exactly one new item and persists the
// mirror.
func (s *Surface) Receive(ctx context.Context, source, translated string) (Record, error) {
	rec := Record{SourceText: source, TranslatedText: translated, Timestamp: s.now().UTC()}

	s.mu.Lock()
	item, err := s.renderer.Item(len(s.records)+1, rec)
	if err != nil {
		s.mu.Unlock()
		return Record{}, err
	}
	s.records = append(s.records, rec)
	s.items = append(s.items, template.HTML(item))
	n := len(s.records)
	s.mu.Unlock()

	log.Printf("Surface: added translation #%d %q", n, logutil.Sanitize(translated))
	if err := s.Save(ctx); err != nil {
		return rec, err
	}
	return rec, nil
}

// Save persists the whole mirror. It returns ErrNotLoaded, writing nothing,
// when the saved records were never read.
func (s *Surface) Save(ctx context.Context) error {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()
	s.mu.Lock()
	loaded := s.loaded
	records := append([]Record(nil), s.records...)
	s.mu.Unlock()
	if !loaded {
		return ErrNotLoaded
	}
	if records == nil {
		records = []Record{}
	}
	if err := store.SetJSON(ctx, s.store, store.KeyRecords, records); err != nil {
		return fmt.Errorf("save records: %w", err)
	}
	return nil
}

// ClearAll empties the list after confirmation and persists the empty state
// immediately. It reports whether anything was cleared.
func (s *Surface) ClearAll(ctx context.Context, confirm Confirmer) (bool, error) {
	if confirm != nil && !confirm(ClearPrompt) {
		return false, nil
	}
	s.mu.Lock()
	s.records = nil
	s.items = nil
	s.loaded = true
	s.mu.Unlock()
	log.Printf("Surface: %s cleared", s.id)
	return true, s.Save(ctx)
}

// SetFontFamily changes the display family and persists it.
func (s *Surface) SetFontFamily(ctx context.Context, family string) error {
	family = strings.TrimSpace(cssValue(family))
	if family == "" {
		return ErrEmptyFontFamily
	}
	s.mu.Lock()
	s.font.Family = family
	s.mu.Unlock()
	return s.store.Set(ctx, store.KeyFontFamily, []byte(family))
}

// SetFontSize changes the display size and persists it.
func (s *Surface) SetFontSize(ctx context.Context, px int) error {
	if px < MinFontSize || px > MaxFontSize {
		return ErrInvalidFontSize
	}
	s.mu.Lock()
	s.font.SizePx = px
	s.mu.Unlock()
	return s.store.Set(ctx, store.KeyFontSize, []byte(strconv.Itoa(px)))
}

// CopyRecord puts the translated text of record i (zero based) on the
// clipboard.
func (s *Surface) CopyRecord(i int) error {
	s.mu.Lock()
	if i < 0 || i >= len(s.records) {
		s.mu.Unlock()
		return ErrNoRecord
	}
	text := s.records[i].TranslatedText
	s.mu.Unlock()
	if s.copy == nil {
		return errors.New("no clipboard configured")
	}
	return s.copy(text)
}

func (s *Surface) Records() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Record(nil), s.records...)
}

func (s *Surface) Font() FontPreference {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.font
}

// Items returns the rendered record fragments in display order.
func (s *Surface) Items() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.items))
	for i, it := range s.items {
		out[i] = string(it)
	}
	return out
}

// Document renders the complete window page.
func (s *Surface) Document() (string, error) {
	s.mu.Lock()
	data := struct {
		FontFamily template.CSS
		FontSize   int
		Items      []template.HTML
		Empty      template.HTML
	}{
		FontFamily: template.CSS(cssValue(s.font.Family)),
		FontSize:   s.font.SizePx,
		Items:      append([]template.HTML(nil), s.items...),
		Empty:      template.HTML(EmptyStateHTML),
	}
	s.mu.Unlock()

	var buf bytes.Buffer
	if err := documentTemplate.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render document: %w", err)
	}
	return buf.String(), nil
}

// Serve initializes the surface, announces readiness and then applies
// incoming records until ctx ends, the inbox closes or DIENOW arrives. The
// mirror is saved every autosave interval and once more on the way out.
func (s *Surface) Serve(ctx context.Context, inbox <-chan messages.Envelope) {
	if err := s.Init(ctx); err != nil {
		log.Printf("Surface: %s init failed, new translations will not be saved: %v", s.id, err)
	}
	if s.ready != nil {
		if err := s.ready(s.id); err != nil {
			log.Printf("Surface: %s ready signal failed: %v", s.id, err)
		}
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	defer func() {
		saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := s.Save(saveCtx); err != nil && !errors.Is(err, ErrNotLoaded) {
			log.Printf("Surface: %s final save failed: %v", s.id, err)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Save(ctx); err != nil && !errors.Is(err, ErrNotLoaded) {
				log.Printf("Surface: %s autosave failed: %v", s.id, err)
			}
		case env, ok := <-inbox:
			if !ok {
				return
			}
			switch m := env.Message.(type) {
			case messages.AddTranslation:
				if _, err := s.Receive(ctx, m.SourceText, m.TranslatedText); err != nil {
					log.Printf("Surface: %s persist failed: %v", s.id, err)
				}
			case messages.DIENOW:
				return
			default:
				log.Printf("Surface: ignoring %s from %s", env.Message.Kind(), env.From)
			}
		}
	}
}
