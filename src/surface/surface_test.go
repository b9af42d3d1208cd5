package surface

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"page-ocr-translate/src/messages"
	"page-ocr-translate/src/store"
)

func fixedClock() func() time.Time {
	t := time.Date(2026, 3, 1, 14, 5, 0, 0, time.UTC)
	return func() time.Time {
		t = t.Add(time.Minute)
		return t
	}
}

func newSurface(s store.Store) *Surface {
	return New(Options{Store: s, Window: "results-test", Now: fixedClock()})
}

func TestRenderKoreanExampleAsTwoParagraphs(t *testing.T) {
	r := NewRenderer(Labels{})
	got, err := r.Text("Hello\n\nWorld")
	if err != nil {
		t.Fatal(err)
	}
	if got != "<p>Hello</p>\n<p>World</p>" {
		t.Fatalf("unexpected html %q", got)
	}
}

func TestRenderText(t *testing.T) {
	r := NewRenderer(Labels{})
	tests := []struct {
		name    string
		in      string
		want    []string
		notWant []string
	}{
		{"line break", "first line\nsecond line", []string{"first line<br>", "second line"}, []string{"</p>\n<p>"}},
		{"html escaped", "<b>bold</b> & more", []string{"&lt;b&gt;bold&lt;/b&gt; &amp; more"}, []string{"<b>"}},
		{"no emphasis", "*not* _emphasis_", []string{"*not* _emphasis_"}, []string{"<em>"}},
		{"no heading", "# Chapter 1", []string{"<p># Chapter 1</p>"}, []string{"<h1>"}},
		{"no list", "1. first\n- second", []string{"1. first<br>", "- second"}, []string{"<ol>", "<ul>"}},
		{"no code block", "    indented text", []string{"<p>\u00a0\u00a0\u00a0\u00a0indented text</p>"}, []string{"<pre>"}},
		{"indentation kept", "she said:\n  go\n\tand left", []string{"\u00a0\u00a0go<br>", "\u00a0\u00a0\u00a0\u00a0and left"}, nil},
		{"blank indented line", "a\n   \nb", []string{"<p>a</p>", "<p>b</p>"}, nil},
		{"no link", "[a](http://x) <http://y>", []string{"[a](http://x)"}, []string{"<a "}},
		{"windows newlines", "a\r\n\r\nb", []string{"<p>a</p>", "<p>b</p>"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.Text(tt.in)
			if err != nil {
				t.Fatal(err)
			}
			for _, w := range tt.want {
				if !strings.Contains(got, w) {
					t.Errorf("%q missing %q", got, w)
				}
			}
			for _, w := range tt.notWant {
				if strings.Contains(got, w) {
					t.Errorf("%q should not contain %q", got, w)
				}
			}
		})
	}
}

func TestItemSourceSectionOnlyWhenPresent(t *testing.T) {
	r := NewRenderer(Labels{Source: "Original Korean Text:", Target: "English Translation:"})
	withoutSource, err := r.Item(1, Record{SourceText: "  ", TranslatedText: "Hello", Timestamp: time.Now()})
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(withoutSource, "original-text") || !strings.Contains(withoutSource, "English Translation:") {
		t.Fatalf("unexpected item %s", withoutSource)
	}
	withSource, err := r.Item(2, Record{SourceText: "안녕\n<세계>", TranslatedText: "Hello", Timestamp: time.Now()})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(withSource, "Original Korean Text:") || !strings.Contains(withSource, "안녕<br>&lt;세계&gt;") {
		t.Fatalf("unexpected item %s", withSource)
	}
	if !strings.Contains(withSource, "Translation #2") {
		t.Fatalf("item should be numbered: %s", withSource)
	}
}

func TestReceivePersistsAndReloads(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	s := newSurface(st)
	if err := s.Init(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Receive(ctx, "", "Hello\n\nWorld"); err != nil {
		t.Fatal(err)
	}
	first := s.Items()[0]
	if _, err := s.Receive(ctx, "세계", "World"); err != nil {
		t.Fatal(err)
	}
	if s.Items()[0] != first {
		t.Fatal("earlier items must not be re-rendered")
	}
	if len(s.Items()) != 2 || !strings.Contains(s.Items()[1], "Translation #2") {
		t.Fatalf("unexpected items %v", s.Items())
	}

	reloaded := newSurface(st)
	if err := reloaded.Init(ctx); err != nil {
		t.Fatal(err)
	}
	want, got := s.Records(), reloaded.Records()
	if len(got) != 2 {
		t.Fatalf("expected 2 records, got %d", len(got))
	}
	for i := range want {
		if got[i].SourceText != want[i].SourceText || got[i].TranslatedText != want[i].TranslatedText || !got[i].Timestamp.Equal(want[i].Timestamp) {
			t.Errorf("record %d differs: %+v vs %+v", i, got[i], want[i])
		}
	}
	if reloaded.Items()[1] != s.Items()[1] {
		t.Error("reloaded rendering should match the original")
	}
}

func TestClearAllSurvivesReload(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	s := newSurface(st)
	_ = s.Init(ctx)
	_, _ = s.Receive(ctx, "", "one")

	cleared, err := s.ClearAll(ctx, func(string) bool { return false })
	if err != nil || cleared || len(s.Records()) != 1 {
		t.Fatalf("declined clear changed state: cleared=%v err=%v", cleared, err)
	}

	var prompt string
	cleared, err = s.ClearAll(ctx, func(p string) bool { prompt = p; return true })
	if err != nil || !cleared {
		t.Fatalf("clear failed: %v", err)
	}
	if prompt != ClearPrompt {
		t.Errorf("unexpected prompt %q", prompt)
	}
	doc, err := s.Document()
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(doc, "No translations yet") {
		t.Fatal("empty state placeholder missing")
	}

	reloaded := newSurface(st)
	if err := reloaded.Init(ctx); err != nil {
		t.Fatal(err)
	}
	if len(reloaded.Records()) != 0 {
		t.Fatal("clear must be persisted immediately")
	}
	raw, _, _ := st.Get(ctx, store.KeyRecords)
	if string(raw) != "[]" {
		t.Errorf("expected empty array persisted, got %s", raw)
	}

	_, _ = s.Receive(ctx, "", "after")
	if !strings.Contains(s.Items()[0], "Translation #1") {
		t.Error("numbering restarts after clear")
	}
}

func TestFontPreferences(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	s := newSurface(st)
	_ = s.Init(ctx)
	_, _ = s.Receive(ctx, "", "text")
	before := s.Records()

	if err := s.SetFontFamily(ctx, `"Noto Serif KR", serif`); err != nil {
		t.Fatal(err)
	}
	if err := s.SetFontSize(ctx, 22); err != nil {
		t.Fatal(err)
	}
	if err := s.SetFontSize(ctx, 200); !errors.Is(err, ErrInvalidFontSize) {
		t.Fatalf("expected ErrInvalidFontSize, got %v", err)
	}
	if err := s.SetFontFamily(ctx, " ; "); !errors.Is(err, ErrEmptyFontFamily) {
		t.Fatalf("expected ErrEmptyFontFamily, got %v", err)
	}

	doc, err := s.Document()
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(doc, `--translation-font-family: "Noto Serif KR", serif;`) || !strings.Contains(doc, "--translation-font-size: 22px") {
		t.Fatalf("font variables missing from document:\n%s", doc)
	}
	if len(s.Records()) != len(before) || s.Records()[0] != before[0] {
		t.Fatal("font changes must not touch records")
	}

	reloaded := newSurface(st)
	_ = reloaded.Init(ctx)
	if f := reloaded.Font(); f.Family != `"Noto Serif KR", serif` || f.SizePx != 22 {
		t.Fatalf("font not restored: %+v", f)
	}
}

func TestLegacyRecordKey(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	_ = st.Set(ctx, store.KeyRecords, []byte(`[{"originalText":"안녕","translatedText":"Hello","timestamp":"2025-01-02T03:04:05Z"}]`))
	_ = st.Set(ctx, store.KeyFontSize, []byte(`"18"`))
	s := newSurface(st)
	if err := s.Init(ctx); err != nil {
		t.Fatal(err)
	}
	recs := s.Records()
	if len(recs) != 1 || recs[0].SourceText != "안녕" {
		t.Fatalf("legacy record not decoded: %+v", recs)
	}
	if s.Font().SizePx != 18 {
		t.Errorf("quoted font size not decoded: %+v", s.Font())
	}
}

func TestCopyRecord(t *testing.T) {
	ctx := context.Background()
	var copied string
	s := New(Options{Store: store.NewMemory(), Copy: func(text string) error { copied = text; return nil }})
	_ = s.Init(ctx)
	_, _ = s.Receive(ctx, "", "Hello\n\nWorld")
	if err := s.CopyRecord(0); err != nil {
		t.Fatal(err)
	}
	if copied != "Hello\n\nWorld" {
		t.Fatalf("copied %q", copied)
	}
	if err := s.CopyRecord(5); !errors.Is(err, ErrNoRecord) {
		t.Fatalf("expected ErrNoRecord, got %v", err)
	}
}

func TestServeSignalsReadyAndSavesOnExit(t *testing.T) {
	st := store.NewMemory()
	readyCh := make(chan messages.WindowID, 1)
	s := New(Options{
		Store:            st,
		Window:           "results-1",
		AutosaveInterval: time.Hour,
		Ready: func(id messages.WindowID) error {
			readyCh <- id
			return nil
		},
	})
	inbox := make(chan messages.Envelope, 4)
	done := make(chan struct{})
	go func() {
		s.Serve(context.Background(), inbox)
		close(done)
	}()

	select {
	case id := <-readyCh:
		if id != "results-1" {
			t.Fatalf("ready from %s", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no ready signal")
	}
	inbox <- messages.Envelope{Message: messages.AddTranslation{TranslatedText: "Hello\n\nWorld"}}
	inbox <- messages.Envelope{Message: messages.DIENOW{}}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not stop")
	}

	var saved []Record
	if _, err := store.GetJSON(context.Background(), st, store.KeyRecords, &saved); err != nil {
		t.Fatal(err)
	}
	if len(saved) != 1 || saved[0].TranslatedText != "Hello\n\nWorld" {
		t.Fatalf("unexpected saved records %+v", saved)
	}
}

func TestAutosaveBackstop(t *testing.T) {
	st := store.NewMemory()
	s := New(Options{Store: st, AutosaveInterval: 10 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Serve(ctx, make(chan messages.Envelope))
		close(done)
	}()
	defer func() {
		cancel()
		<-done
	}()

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, found, _ := st.Get(context.Background(), store.KeyRecords); found {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("autosave never ran")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// failingStore fails every Get of one key.
type failingStore struct {
	store.Store
	key string
}

func (f failingStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if key == f.key {
		return nil, false, errors.New("read failed")
	}
	return f.Store.Get(ctx, key)
}

func seedRecords(t *testing.T, st store.Store, texts ...string) {
	t.Helper()
	records := make([]Record, 0, len(texts))
	for _, text := range texts {
		records = append(records, Record{TranslatedText: text, Timestamp: time.Now().UTC()})
	}
	if err := store.SetJSON(context.Background(), st, store.KeyRecords, records); err != nil {
		t.Fatal(err)
	}
}

func savedTexts(t *testing.T, st store.Store) []string {
	t.Helper()
	var saved []Record
	if _, err := store.GetJSON(context.Background(), st, store.KeyRecords, &saved); err != nil {
		t.Fatal(err)
	}
	out := make([]string, 0, len(saved))
	for _, rec := range saved {
		out = append(out, rec.TranslatedText)
	}
	return out
}

func TestFontReadFailureKeepsRecords(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	seedRecords(t, mem, "one", "two")

	s := newSurface(failingStore{Store: mem, key: store.KeyFontSize})
	if err := s.Init(ctx); err != nil {
		t.Fatalf("font failure should not fail init: %v", err)
	}
	if f := s.Font(); f.SizePx != DefaultFontSize {
		t.Errorf("expected default size, got %d", f.SizePx)
	}
	if _, err := s.Receive(ctx, "", "three"); err != nil {
		t.Fatal(err)
	}
	if got := strings.Join(savedTexts(t, mem), ","); got != "one,two,three" {
		t.Fatalf("history lost, saved %q", got)
	}
}

func TestRecordReadFailureNeverOverwrites(t *testing.T) {
	mem := store.NewMemory()
	seedRecords(t, mem, "one", "two")

	readyCh := make(chan messages.WindowID, 1)
	s := New(Options{
		Store:            failingStore{Store: mem, key: store.KeyRecords},
		Window:           "results-1",
		AutosaveInterval: 5 * time.Millisecond,
		Ready: func(id messages.WindowID) error {
			readyCh <- id
			return nil
		},
	})
	inbox := make(chan messages.Envelope, 2)
	done := make(chan struct{})
	go func() {
		s.Serve(context.Background(), inbox)
		close(done)
	}()
	select {
	case <-readyCh:
	case <-time.After(2 * time.Second):
		t.Fatal("no ready signal")
	}

	inbox <- messages.Envelope{Message: messages.AddTranslation{TranslatedText: "three"}}
	time.Sleep(20 * time.Millisecond)
	inbox <- messages.Envelope{Message: messages.DIENOW{}}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not stop")
	}

	if len(s.Records()) != 1 {
		t.Errorf("new translation should still be shown, got %d records", len(s.Records()))
	}
	if err := s.Save(context.Background()); !errors.Is(err, ErrNotLoaded) {
		t.Errorf("expected ErrNotLoaded, got %v", err)
	}
	if got := strings.Join(savedTexts(t, mem), ","); got != "one,two" {
		t.Fatalf("saved history was overwritten: %q", got)
	}
}
