package notify

import (
	"strings"
	"testing"
	"time"
)

func TestSubscribeReceivesNotices(t *testing.T) {
	c := NewCenter()
	ch, cancel := c.Subscribe(4)
	defer cancel()

	c.Notify("done")
	c.Alertf("OCR failed for image %d", 2)

	first := <-ch
	if first.Level != Info || first.Text != "done" {
		t.Fatalf("unexpected first notice %+v", first)
	}
	second := <-ch
	if second.Level != Alert || second.Text != "OCR failed for image 2" {
		t.Fatalf("unexpected second notice %+v", second)
	}
}

func TestCancelClosesChannel(t *testing.T) {
	c := NewCenter()
	ch, cancel := c.Subscribe(1)
	cancel()
	cancel()
	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatal("channel not closed")
	}
	c.Notify("after cancel")
}

func TestHistoryIsBounded(t *testing.T) {
	c := NewCenter()
	for i := 0; i < historySize+5; i++ {
		c.Notify("n")
	}
	if got := len(c.Recent()); got != historySize {
		t.Fatalf("expected %d notices, got %d", historySize, got)
	}
	if _, ok := c.Last(); !ok {
		t.Fatal("expected a last notice")
	}
}

func TestLongTextTruncated(t *testing.T) {
	c := NewCenter()
	c.Alert(strings.Repeat("가", 500))
	n, _ := c.Last()
	if !strings.HasSuffix(n.Text, "...") || len([]rune(n.Text)) != maxDisplayRunes+3 {
		t.Fatalf("unexpected truncation: %d runes", len([]rune(n.Text)))
	}
}

func TestSlowSubscriberDoesNotBlock(t *testing.T) {
	c := NewCenter()
	_, cancel := c.Subscribe(0)
	defer cancel()
	done := make(chan struct{})
	go func() {
		c.Notify("x")
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("post blocked on a slow subscriber")
	}
}
