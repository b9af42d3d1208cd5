package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	if _, found, err := s.Get(ctx, KeyCredential); err != nil || found {
		t.Fatalf("expected missing key, found=%v err=%v", found, err)
	}
	if err := s.Set(ctx, KeyCredential, []byte("sk-one")); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := s.Set(ctx, KeyCredential, []byte("sk-two")); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	v, found, err := s.Get(ctx, KeyCredential)
	if err != nil || !found || string(v) != "sk-two" {
		t.Fatalf("get after overwrite: %q found=%v err=%v", v, found, err)
	}
	if err := s.Remove(ctx, KeyCredential); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, found, _ := s.Get(ctx, KeyCredential); found {
		t.Fatal("expected key removed")
	}
	if err := s.Remove(ctx, "never-set"); err != nil {
		t.Fatalf("remove of absent key should succeed: %v", err)
	}

	type font struct {
		Family string `json:"family"`
	}
	if err := SetJSON(ctx, s, KeyFontFamily, font{Family: "Georgia"}); err != nil {
		t.Fatalf("set json: %v", err)
	}
	var got font
	found, err = GetJSON(ctx, s, KeyFontFamily, &got)
	if err != nil || !found || got.Family != "Georgia" {
		t.Fatalf("get json: %+v found=%v err=%v", got, found, err)
	}
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemory())
}

func TestMemoryStoreCopiesValues(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	buf := []byte("abc")
	_ = m.Set(ctx, "k", buf)
	buf[0] = 'x'
	v, _, _ := m.Get(ctx, "k")
	if string(v) != "abc" {
		t.Fatalf("stored value aliased caller buffer: %q", v)
	}
}

func TestMemoryStoreClosed(t *testing.T) {
	m := NewMemory()
	_ = m.Close()
	if err := m.Set(context.Background(), "k", nil); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestSQLiteStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "storage.db")
	s, err := OpenSQLite(context.Background(), path)
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	defer s.Close()
	exerciseStore(t, s)
}

func TestSQLiteStoreSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "storage.db")
	ctx := context.Background()
	s, err := OpenSQLite(ctx, path)
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	if err := s.Set(ctx, KeyRecords, []byte(`[{"translatedText":"Hello"}]`)); err != nil {
		t.Fatalf("set: %v", err)
	}
	_ = s.Close()

	reopened, err := OpenSQLite(ctx, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	v, found, err := reopened.Get(ctx, KeyRecords)
	if err != nil || !found || string(v) != `[{"translatedText":"Hello"}]` {
		t.Fatalf("after reopen: %q found=%v err=%v", v, found, err)
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	if _, err := Open(context.Background(), "redis", ""); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}
