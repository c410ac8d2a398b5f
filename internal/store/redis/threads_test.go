package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/nextlevelbuilder/clawgate/internal/bus"
	"github.com/nextlevelbuilder/clawgate/internal/store"
)

func TestThreadStore_RoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	s, err := Open(ctx, mr.Addr())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	now := time.Now().UTC().Truncate(time.Millisecond)
	m := store.ThreadMapping{Platform: bus.PlatformSlack, ExternalID: "C1", ThreadID: "t1", CreatedAt: now, LastMessageAt: now}
	if err := s.Save(ctx, m); err != nil {
		t.Fatalf("Save: %v", err)
	}
	m.ThreadID = "t2"
	if err := s.Save(ctx, m); err != nil {
		t.Fatalf("Save replace: %v", err)
	}

	if !mr.Exists(DefaultKey) {
		t.Fatalf("hash %q not created", DefaultKey)
	}

	got, err := s.LoadAll(ctx)
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if len(got) != 1 || got[0].ThreadID != "t2" || got[0].Platform != bus.PlatformSlack {
		t.Fatalf("LoadAll = %+v", got)
	}

	if err := s.Delete(ctx, bus.PlatformSlack, "C1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := s.Delete(ctx, bus.PlatformSlack, "C1"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("second Delete = %v, want ErrNotFound", err)
	}
}

func TestOpen_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := Open(ctx, addr); err == nil {
		t.Error("Open against a closed server should fail")
	}
}
