package ws

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"
)

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func fakeClient(h *Hub, uid string) *Client {
	return &Client{hub: h, uid: uid, feed: "test", send: make(chan []byte, 4)}
}

func TestHub_OnlineEmpty(t *testing.T) {
	hub := NewHub()
	if n := hub.Online("nobody"); n != 0 {
		t.Errorf("Online() = %d, want 0", n)
	}
	if hub.Total() != 0 {
		t.Errorf("Total() = %d, want 0", hub.Total())
	}
}

func TestHub_RegisterUnregister(t *testing.T) {
	hub := NewHub()
	a1, a2, b := fakeClient(hub, "a"), fakeClient(hub, "a"), fakeClient(hub, "b")
	hub.register <- a1
	hub.register <- a2
	hub.register <- b

	waitFor(t, "three connections", func() bool { return hub.Total() == 3 })
	if hub.Online("a") != 2 || hub.Online("b") != 1 {
		t.Errorf("Online(a)=%d Online(b)=%d, want 2 and 1", hub.Online("a"), hub.Online("b"))
	}

	hub.unregister <- a1
	waitFor(t, "a1 removed", func() bool { return hub.Online("a") == 1 })
	if a1.Send(Event{Type: "late"}) {
		t.Error("Send() on an unregistered client should fail")
	}
	// 重复注销是安全的
	hub.unregister <- a1
	waitFor(t, "total 2", func() bool { return hub.Total() == 2 })
}

func TestHub_CloseUser(t *testing.T) {
	hub := NewHub()
	a1, a2, b := fakeClient(hub, "a"), fakeClient(hub, "a"), fakeClient(hub, "b")
	for _, c := range []*Client{a1, a2, b} {
		hub.register <- c
	}
	waitFor(t, "registered", func() bool { return hub.Total() == 3 })

	hub.CloseUser("a")
	for _, c := range []*Client{a1, a2} {
		select {
		case _, ok := <-c.send:
			if ok {
				t.Error("expected closed send channel")
			}
		case <-time.After(time.Second):
			t.Fatal("send channel not closed")
		}
	}
	if !b.Send(Event{Type: "ping"}) {
		t.Error("other users should stay connected")
	}
}

func TestClient_Send(t *testing.T) {
	hub := NewHub()
	c := fakeClient(hub, "u")
	if !c.Send(Event{Type: "chats", Data: []string{"c1"}}) {
		t.Fatal("Send() failed on an empty queue")
	}
	var evt struct {
		Type string   `json:"type"`
		Data []string `json:"data"`
	}
	if err := json.Unmarshal(<-c.send, &evt); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if evt.Type != "chats" || len(evt.Data) != 1 || evt.Data[0] != "c1" {
		t.Errorf("event = %+v", evt)
	}
}

func TestClient_SlowConsumerDisconnected(t *testing.T) {
	hub := NewHub()
	c := fakeClient(hub, "u")
	for i := 0; i < cap(c.send); i++ {
		if !c.Send(Event{Type: "n"}) {
			t.Fatalf("Send() #%d failed before the queue filled", i)
		}
	}
	if c.Send(Event{Type: "overflow"}) {
		t.Fatal("Send() should fail when the queue is full")
	}
	if c.Send(Event{Type: "after"}) {
		t.Error("Send() after overflow should fail")
	}
	c.shutdown()
}

func TestHub_Concurrent(t *testing.T) {
	hub := NewHub()
	const n = 20
	var wg sync.WaitGroup
	clients := make([]*Client, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			clients[i] = fakeClient(hub, fmt.Sprintf("u%d", i%5))
			hub.register <- clients[i]
		}(i)
	}
	wg.Wait()
	waitFor(t, "all registered", func() bool { return hub.Total() == n })
	if hub.Online("u0") != 4 {
		t.Errorf("Online(u0) = %d, want 4", hub.Online("u0"))
	}

	for _, c := range clients {
		wg.Add(1)
		go func(c *Client) {
			defer wg.Done()
			hub.unregister <- c
		}(c)
	}
	wg.Wait()
	waitFor(t, "all unregistered", func() bool { return hub.Total() == 0 })
}
