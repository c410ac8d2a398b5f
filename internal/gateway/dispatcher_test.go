package gateway

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nextlevelbuilder/clawgate/internal/bus"
	"github.com/nextlevelbuilder/clawgate/pkg/protocol"
)

type frameSink struct {
	mu     sync.Mutex
	frames []protocol.EventFrame
}

func (s *frameSink) deliver(ev protocol.EventFrame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, ev)
}

func (s *frameSink) seqs() []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]uint64, len(s.frames))
	for i, f := range s.frames {
		out[i] = f.Seq
	}
	return out
}

func seqsOf(events []protocol.EventFrame) []uint64 {
	out := make([]uint64, len(events))
	for i, e := range events {
		out[i] = e.Seq
	}
	return out
}

func equalSeqs(a, b []uint64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestDispatcher_SequenceAndReplay(t *testing.T) {
	d := NewEventDispatcher(0, 0, nil)
	sink := &frameSink{}
	d.Attach("a", sink.deliver)

	for i := 0; i < 3; i++ {
		d.Broadcast(bus.Event{Name: protocol.EventMessageReceived, Platform: bus.PlatformDiscord})
	}

	if got := sink.seqs(); !equalSeqs(got, []uint64{1, 2, 3}) {
		t.Errorf("delivered seqs = %v, want [1 2 3]", got)
	}
	events, err := d.EventsSince("a", 1)
	if err != nil {
		t.Fatal(err)
	}
	if got := seqsOf(events); !equalSeqs(got, []uint64{2, 3}) {
		t.Errorf("EventsSince(1) = %v, want [2 3]", got)
	}
	if d.LastSeq() != 3 {
		t.Errorf("LastSeq = %d, want 3", d.LastSeq())
	}
	if events[0].Platform != "discord" || events[0].Event != protocol.EventMessageReceived {
		t.Errorf("event = %+v", events[0])
	}
}

func TestDispatcher_RingOverflow(t *testing.T) {
	d := NewEventDispatcher(2, 0, nil)
	d.Attach("a", nil)

	for i := 0; i < 5; i++ {
		d.Broadcast(bus.Event{Name: protocol.EventMessageReceived})
	}
	events, _ := d.EventsSince("a", 0)
	if got := seqsOf(events); !equalSeqs(got, []uint64{4, 5}) {
		t.Errorf("EventsSince(0) = %v, want [4 5]", got)
	}
}

func TestDispatcher_Subscriptions(t *testing.T) {
	d := NewEventDispatcher(0, 0, nil)
	sink := &frameSink{}
	d.Attach("b", sink.deliver)

	subs, _ := d.Subscriptions("b")
	if len(subs) != 1 || subs[0] != protocol.SubscribeAll {
		t.Errorf("default subscriptions = %v, want [*]", subs)
	}

	if err := d.RemoveSubscription("b", protocol.SubscribeAll); err != nil {
		t.Fatal(err)
	}
	if err := d.AddSubscription("b", "slack"); err != nil {
		t.Fatal(err)
	}

	d.Broadcast(bus.Event{Name: protocol.EventMessageReceived, Platform: bus.PlatformDiscord}) // 1, filtered
	d.Broadcast(bus.Event{Name: protocol.EventMessageReceived, Platform: bus.PlatformSlack})   // 2
	d.Broadcast(bus.Event{Name: protocol.EventThreadCreated})                                  // 3, global

	if got := sink.seqs(); !equalSeqs(got, []uint64{2, 3}) {
		t.Errorf("delivered seqs = %v, want [2 3]", got)
	}

	if err := d.AddSubscription("nobody", "slack"); !errors.Is(err, ErrUnknownClient) {
		t.Errorf("AddSubscription(unknown) err = %v, want ErrUnknownClient", err)
	}
}

func TestDispatcher_InternalEvents(t *testing.T) {
	d := NewEventDispatcher(0, 0, nil)
	sink := &frameSink{}
	d.Attach("a", sink.deliver)

	var handled []string
	d.Subscribe("consumer", func(ev bus.Event) { handled = append(handled, ev.Name) })

	d.Broadcast(bus.Event{Name: protocol.EventConfigReloaded})
	d.Broadcast(bus.Event{Name: protocol.EventPlatformConnected, Platform: bus.PlatformTelegram})

	if len(handled) != 2 {
		t.Errorf("handler saw %v, want both events", handled)
	}
	if got := sink.seqs(); !equalSeqs(got, []uint64{1}) {
		t.Errorf("client seqs = %v, want [1]", got)
	}

	d.Unsubscribe("consumer")
	d.Broadcast(bus.Event{Name: protocol.EventPlatformError})
	if len(handled) != 2 {
		t.Errorf("handler called after Unsubscribe")
	}
}

func TestDispatcher_DetachAndResume(t *testing.T) {
	d := NewEventDispatcher(0, time.Minute, nil)
	now := time.Unix(1000, 0)
	d.now = func() time.Time { return now }

	first := &frameSink{}
	gen, resumed := d.Attach("c", first.deliver)
	if resumed {
		t.Error("new client reported resumed")
	}
	d.Broadcast(bus.Event{Name: protocol.EventMessageReceived}) // 1
	d.Detach("c", gen)

	d.Broadcast(bus.Event{Name: protocol.EventMessageReceived}) // 2, buffered only
	if got := first.seqs(); !equalSeqs(got, []uint64{1}) {
		t.Errorf("detached client received %v", got)
	}
	if attached, detached := d.ClientCount(); attached != 0 || detached != 1 {
		t.Errorf("ClientCount = %d/%d, want 0/1", attached, detached)
	}

	now = now.Add(30 * time.Second)
	second := &frameSink{}
	if _, resumed := d.Attach("c", second.deliver); !resumed {
		t.Error("reconnect within retention not resumed")
	}
	events, _ := d.EventsSince("c", 1)
	if got := seqsOf(events); !equalSeqs(got, []uint64{2}) {
		t.Errorf("catch-up = %v, want [2]", got)
	}
}

func TestDispatcher_RetentionExpiry(t *testing.T) {
	d := NewEventDispatcher(0, time.Minute, nil)
	now := time.Unix(1000, 0)
	d.now = func() time.Time { return now }

	gen, _ := d.Attach("c", nil)
	d.Detach("c", gen)

	now = now.Add(2 * time.Minute)
	if n := d.Sweep(); n != 1 {
		t.Errorf("Sweep = %d, want 1", n)
	}
	if _, err := d.EventsSince("c", 0); !errors.Is(err, ErrUnknownClient) {
		t.Errorf("EventsSince after expiry err = %v, want ErrUnknownClient", err)
	}
	if _, resumed := d.Attach("c", nil); resumed {
		t.Error("expired client reported resumed")
	}
}

func TestDispatcher_TakeoverIgnoresStaleDetach(t *testing.T) {
	d := NewEventDispatcher(0, 0, nil)
	oldGen, _ := d.Attach("c", func(protocol.EventFrame) {})
	newSink := &frameSink{}
	d.Attach("c", newSink.deliver)

	d.Detach("c", oldGen)
	d.Broadcast(bus.Event{Name: protocol.EventMessageReceived})

	if got := newSink.seqs(); !equalSeqs(got, []uint64{1}) {
		t.Errorf("new connection seqs = %v, want [1]", got)
	}
	if attached, _ := d.ClientCount(); attached != 1 {
		t.Errorf("attached = %d, want 1", attached)
	}
}

func TestValidSubscription(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"*", true},
		{"discord", true},
		{"telegram", true},
		{"", false},
		{"irc", false},
	}
	for _, tt := range tests {
		if got := ValidSubscription(tt.in); got != tt.want {
			t.Errorf("ValidSubscription(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestDispatcher_ConcurrentBroadcastDeliversInOrder(t *testing.T) {
	d := NewEventDispatcher(1024, 0, nil)
	sink := &frameSink{}
	d.Attach("a", sink.deliver)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				d.Broadcast(bus.Event{Name: protocol.EventMessageReceived, Platform: bus.PlatformSlack})
			}
		}()
	}
	wg.Wait()

	got := sink.seqs()
	if len(got) != 400 {
		t.Fatalf("delivered %d frames, want 400", len(got))
	}
	for i, seq := range got {
		if seq != uint64(i+1) {
			t.Fatalf("frame %d has seq %d, want %d", i, seq, i+1)
		}
	}
}
