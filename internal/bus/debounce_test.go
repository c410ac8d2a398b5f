package bus

import (
	"sync"
	"testing"
	"time"
)

func TestInboundDebouncer_MergesSameSender(t *testing.T) {
	var mu sync.Mutex
	var got []GatewayMessage
	done := make(chan struct{}, 4)

	d := NewInboundDebouncer(30*time.Millisecond, func(m GatewayMessage) {
		mu.Lock()
		got = append(got, m)
		mu.Unlock()
		done <- struct{}{}
	})
	defer d.Stop()

	first := testMsg("1")
	first.Content = "hello"
	second := testMsg("2")
	second.Content = "world"
	d.Push(first)
	d.Push(second)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("flush never happened")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 {
		t.Fatalf("flushed %d messages, want 1", len(got))
	}
	if got[0].Content != "hello\nworld" {
		t.Errorf("merged content = %q, want %q", got[0].Content, "hello\nworld")
	}
	if got[0].ID != "2" {
		t.Errorf("merged id = %q, want latest id 2", got[0].ID)
	}
}

func TestInboundDebouncer_DisabledFlushesImmediately(t *testing.T) {
	var n int
	d := NewInboundDebouncer(0, func(GatewayMessage) { n++ })
	d.Push(testMsg("1"))
	d.Push(testMsg("2"))
	if n != 2 {
		t.Errorf("flush count = %d, want 2", n)
	}
}

func TestInboundDebouncer_StopFlushesPending(t *testing.T) {
	var n int
	d := NewInboundDebouncer(time.Hour, func(GatewayMessage) { n++ })
	d.Push(testMsg("1"))
	other := testMsg("2")
	other.UserID = "someone-else"
	d.Push(other)

	if d.Pending() != 2 {
		t.Fatalf("Pending() = %d, want 2", d.Pending())
	}
	d.Stop()
	if n != 2 {
		t.Errorf("flush count after Stop = %d, want 2", n)
	}
}

func TestDedupeCache(t *testing.T) {
	c := NewDedupeCache(time.Minute, 2)

	if c.IsDuplicate("a") {
		t.Error("first sighting of a reported duplicate")
	}
	if !c.IsDuplicate("a") {
		t.Error("second sighting of a not reported duplicate")
	}

	c.IsDuplicate("b")
	c.IsDuplicate("c") // evicts a
	if c.IsDuplicate("a") {
		t.Error("evicted key a still reported duplicate")
	}

	c.Forget("c")
	if c.IsDuplicate("c") {
		t.Error("forgotten key c still reported duplicate")
	}
	if c.IsDuplicate("") || c.IsDuplicate("") {
		t.Error("empty key reported duplicate")
	}
}

func TestDedupeCache_Expiry(t *testing.T) {
	c := NewDedupeCache(40*time.Millisecond, 0)
	c.IsDuplicate("k")
	if !c.IsDuplicate("k") {
		t.Fatal("k not reported duplicate inside the window")
	}
	time.Sleep(120 * time.Millisecond)
	if c.IsDuplicate("k") {
		t.Error("expired key k still reported duplicate")
	}
}
