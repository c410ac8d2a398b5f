package bus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func testMsg(id string) GatewayMessage {
	return GatewayMessage{ID: id, Platform: PlatformDiscord, UserID: "u", ChannelID: "c", Content: "hi", Timestamp: 1}
}

func TestMessageQueue_TrySendFull(t *testing.T) {
	q := NewMessageQueue(2)

	if err := q.TrySend(testMsg("1")); err != nil {
		t.Fatalf("first TrySend: %v", err)
	}
	if err := q.TrySend(testMsg("2")); err != nil {
		t.Fatalf("second TrySend: %v", err)
	}
	if err := q.TrySend(testMsg("3")); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("third TrySend = %v, want ErrQueueFull", err)
	}
	if got := q.Len(); got != 2 {
		t.Errorf("Len() = %d, want 2", got)
	}
}

func TestMessageQueue_SizeTracksReceives(t *testing.T) {
	q := NewMessageQueue(4)
	consumer, err := q.TakeConsumer()
	if err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		if err := q.Send(ctx, testMsg(id)); err != nil {
			t.Fatalf("Send(%s): %v", id, err)
		}
	}

	for i, want := range []string{"a", "b", "c"} {
		msg, ok := consumer.Recv(ctx)
		if !ok {
			t.Fatalf("Recv #%d returned false", i)
		}
		if msg.ID != want {
			t.Errorf("Recv #%d id = %q, want %q", i, msg.ID, want)
		}
		if got, wantLen := q.Len(), 2-i; got != wantLen {
			t.Errorf("after Recv #%d Len() = %d, want %d", i, got, wantLen)
		}
	}
}

func TestMessageQueue_SendRollsBackOnCancel(t *testing.T) {
	q := NewMessageQueue(1)
	if err := q.TrySend(testMsg("1")); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := q.Send(ctx, testMsg("2")); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Send on full queue = %v, want deadline exceeded", err)
	}
	if got := q.Len(); got != 1 {
		t.Errorf("Len() after failed send = %d, want 1", got)
	}
}

func TestMessageQueue_TakeConsumerOnce(t *testing.T) {
	q := NewMessageQueue(1)
	if _, err := q.TakeConsumer(); err != nil {
		t.Fatalf("first TakeConsumer: %v", err)
	}
	if _, err := q.TakeConsumer(); !errors.Is(err, ErrConsumerTaken) {
		t.Fatalf("second TakeConsumer = %v, want ErrConsumerTaken", err)
	}
}

func TestMessageQueue_ConcurrentTrySendNeverExceedsCap(t *testing.T) {
	const capacity = 8
	q := NewMessageQueue(capacity)

	var wg sync.WaitGroup
	var mu sync.Mutex
	accepted := 0
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if q.TrySend(testMsg("x")) == nil {
				mu.Lock()
				accepted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if accepted != capacity {
		t.Errorf("accepted = %d, want %d", accepted, capacity)
	}
	if q.Len() != capacity {
		t.Errorf("Len() = %d, want %d", q.Len(), capacity)
	}
}

func TestMessageQueue_CloseDrains(t *testing.T) {
	q := NewMessageQueue(2)
	consumer, _ := q.TakeConsumer()
	_ = q.TrySend(testMsg("1"))
	q.Close()

	if err := q.TrySend(testMsg("2")); !errors.Is(err, ErrQueueClosed) {
		t.Errorf("TrySend after Close = %v, want ErrQueueClosed", err)
	}
	if msg, ok := consumer.Recv(context.Background()); !ok || msg.ID != "1" {
		t.Errorf("Recv after Close = (%q, %v), want (1, true)", msg.ID, ok)
	}
	if _, ok := consumer.Recv(context.Background()); ok {
		t.Error("Recv on drained closed queue should return false")
	}
}
