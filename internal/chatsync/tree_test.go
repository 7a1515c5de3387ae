package chatsync

import (
	"sort"
	"sync"
	"testing"
)

type recorder struct {
	mu    sync.Mutex
	order []string
}

func (r *recorder) handle(name string) Canceler {
	return cancelFunc(func() {
		r.mu.Lock()
		r.order = append(r.order, name)
		r.mu.Unlock()
	})
}

func (r *recorder) cancelled() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.order...)
}

func TestTree_CancelDescendantsFirst(t *testing.T) {
	rec := &recorder{}
	tr := NewTree()
	tr.Add("", "user:a", rec.handle("user:a"))
	tr.Add("user:a", "chat:1", rec.handle("chat:1"))
	tr.Add("chat:1", "profile:1", rec.handle("profile:1"))
	tr.Add("user:a", "chat:2", rec.handle("chat:2"))

	tr.Cancel("chat:1")
	got := rec.cancelled()
	want := []string{"profile:1", "chat:1"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("cancel order = %v, want %v", got, want)
	}
	if tr.Has("profile:1") || tr.Has("chat:1") {
		t.Error("cancelled nodes still indexed")
	}
	if children := tr.Children("user:a"); len(children) != 1 || children[0] != "chat:2" {
		t.Errorf("Children(user:a) = %v, want [chat:2]", children)
	}
	if tr.Len() != 2 {
		t.Errorf("Len() = %d, want 2", tr.Len())
	}
}

func TestTree_AddReplacesExistingKey(t *testing.T) {
	rec := &recorder{}
	tr := NewTree()
	tr.Add("", "user:a", rec.handle("user:a"))
	tr.Add("user:a", "chat:1", rec.handle("chat:1/old"))
	tr.Add("chat:1", "profile:1", rec.handle("profile:1/old"))

	tr.Add("user:a", "chat:1", rec.handle("chat:1/new"))
	got := rec.cancelled()
	if len(got) != 2 || got[0] != "profile:1/old" || got[1] != "chat:1/old" {
		t.Fatalf("replaced subtree cancel = %v", got)
	}
	if !tr.Has("chat:1") || tr.Has("profile:1") {
		t.Error("replacement should keep the key and drop the old children")
	}
}

func TestTree_AddUnderMissingParent(t *testing.T) {
	rec := &recorder{}
	tr := NewTree()
	if tr.Add("chat:9", "profile:9", rec.handle("profile:9")) {
		t.Fatal("Add() under a missing parent should fail")
	}
	if got := rec.cancelled(); len(got) != 1 {
		t.Errorf("orphan handle not cancelled: %v", got)
	}
	if tr.Len() != 0 {
		t.Errorf("Len() = %d, want 0", tr.Len())
	}
}

func TestTree_CancelAll(t *testing.T) {
	rec := &recorder{}
	tr := NewTree()
	tr.Add("", "user:a", rec.handle("user:a"))
	tr.Add("user:a", "chat:1", rec.handle("chat:1"))
	tr.Add("user:a", "chat:2", rec.handle("chat:2"))
	tr.Add("chat:2", "profile:2", rec.handle("profile:2"))

	tr.CancelAll()
	got := rec.cancelled()
	if len(got) != 4 {
		t.Fatalf("cancelled = %v, want 4 handles", got)
	}
	if got[len(got)-1] != "user:a" {
		t.Errorf("root cancelled before its children: %v", got)
	}
	sorted := append([]string(nil), got...)
	sort.Strings(sorted)
	if sorted[0] != "chat:1" || sorted[3] != "user:a" {
		t.Errorf("unexpected handles %v", sorted)
	}
	if tr.Len() != 0 {
		t.Errorf("Len() = %d after CancelAll", tr.Len())
	}
	tr.Cancel("user:a")
}
