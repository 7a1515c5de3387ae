package presence

import (
	"context"
	"testing"
	"time"

	"github.com/vivek5200/Temp-Chat/internal/clock"
	"github.com/vivek5200/Temp-Chat/internal/docstore"
	"github.com/vivek5200/Temp-Chat/internal/models"
)

func newStore() *docstore.MemoryStore {
	return docstore.NewMemoryStore(clock.Fake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)))
}

func TestTracker_Get(t *testing.T) {
	store := newStore()
	ctx := context.Background()
	tr := NewTracker(store)
	changed := time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC)

	_ = store.Set(ctx, docstore.Doc("status", "on"), models.PresenceStatus{State: "online", LastChanged: changed})
	_ = store.Set(ctx, docstore.Doc("status", "off"), models.PresenceStatus{State: "offline"})
	_ = store.Set(ctx, docstore.Doc("status", "odd"), models.PresenceStatus{State: "away"})

	tests := []struct {
		uid    string
		online bool
	}{
		{"on", true},
		{"off", false},
		{"odd", false},
		{"missing", false},
	}
	for _, tt := range tests {
		t.Run(tt.uid, func(t *testing.T) {
			p, err := tr.Get(ctx, tt.uid)
			if err != nil {
				t.Fatalf("Get() error = %v", err)
			}
			if p.UID != tt.uid || p.Online != tt.online {
				t.Errorf("Get() = %+v, want online=%v", p, tt.online)
			}
		})
	}

	p, _ := tr.Get(ctx, "on")
	if p.LastChanged == nil || !p.LastChanged.Equal(changed) {
		t.Errorf("LastChanged = %v, want %v", p.LastChanged, changed)
	}
}

func TestTracker_Observe(t *testing.T) {
	store := newStore()
	ctx := context.Background()
	tr := NewTracker(store)

	updates := make(chan Presence, 8)
	sub := tr.Observe("u1", func(p Presence) { updates <- p })
	defer sub.Cancel()

	next := func() Presence {
		t.Helper()
		select {
		case p := <-updates:
			return p
		case <-time.After(2 * time.Second):
			t.Fatal("no presence update")
			return Presence{}
		}
	}

	if p := next(); p.Online {
		t.Fatalf("initial presence = %+v, want offline", p)
	}
	_ = store.Set(ctx, docstore.Doc("status", "u1"), models.PresenceStatus{State: "online"})
	if p := next(); !p.Online {
		t.Fatalf("after online write = %+v", p)
	}
	_, _ = store.Delete(ctx, docstore.Doc("status", "u1"))
	if p := next(); p.Online {
		t.Fatalf("after delete = %+v, want offline", p)
	}

	sub.Cancel()
	_ = store.Set(ctx, docstore.Doc("status", "u1"), models.PresenceStatus{State: "online"})
	select {
	case p := <-updates:
		t.Errorf("update after Cancel: %+v", p)
	case <-time.After(50 * time.Millisecond):
	}
}
