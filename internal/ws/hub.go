package ws

import (
	"sync"
	"sync/atomic"

	"github.com/vivek5200/Temp-Chat/internal/metrics"
)

// Hub 按 uid 管理所有实时连接，登出时可以一次关闭某个用户的全部连接。
type Hub struct {
	clients    map[string]map[*Client]bool
	register   chan *Client
	unregister chan *Client
	closeUser  chan string
	total      int32

	mu     sync.RWMutex
	online map[string]int
}

// NewHub 创建并启动 Hub 的事件循环。
func NewHub() *Hub {
	h := &Hub{
		clients:    make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		closeUser:  make(chan string),
		online:     make(map[string]int),
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	for {
		select {
		case c := <-h.register:
			set := h.clients[c.uid]
			if set == nil {
				set = make(map[*Client]bool)
				h.clients[c.uid] = set
			}
			set[c] = true
			h.sync(c.uid)
			metrics.WsConnections.Inc()
		case c := <-h.unregister:
			if set, ok := h.clients[c.uid]; ok && set[c] {
				delete(set, c)
				if len(set) == 0 {
					delete(h.clients, c.uid)
				}
				c.shutdown()
				h.sync(c.uid)
				metrics.WsConnections.Dec()
			}
		case uid := <-h.closeUser:
			for c := range h.clients[uid] {
				c.shutdown()
			}
		}
	}
}

func (h *Hub) sync(uid string) {
	n := len(h.clients[uid])
	h.mu.Lock()
	if n == 0 {
		delete(h.online, uid)
	} else {
		h.online[uid] = n
	}
	h.mu.Unlock()
	total := 0
	for _, set := range h.clients {
		total += len(set)
	}
	atomic.StoreInt32(&h.total, int32(total))
}

// Online 返回 uid 当前的连接数。
func (h *Hub) Online(uid string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.online[uid]
}

// Total 返回全部连接数。
func (h *Hub) Total() int { return int(atomic.LoadInt32(&h.total)) }

// CloseUser 关闭 uid 的全部连接，连接随后由 readPump 注销。
func (h *Hub) CloseUser(uid string) { h.closeUser <- uid }
