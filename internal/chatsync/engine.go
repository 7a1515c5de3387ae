// Package chatsync 维护用户的实时私聊列表：用户文档 -> 每个聊天文档 -> 对方资料，三级依赖订阅。
package chatsync

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/vivek5200/Temp-Chat/internal/auth"
	"github.com/vivek5200/Temp-Chat/internal/docstore"
	"github.com/vivek5200/Temp-Chat/internal/metrics"
	"github.com/vivek5200/Temp-Chat/internal/models"
)

const (
	UnknownName      = "Unknown"
	NoMessagesYet    = "No messages yet"
	DefaultAvatarURL = "https://randomuser.me/api/portraits/lego/5.jpg"
)

// Profiles 按 uid 读取用户资料，cache.Profiles 实现了它。
type Profiles interface {
	Get(ctx context.Context, uid string) (*models.User, error)
}

// Record 是私聊列表中的一项，按聊天 id 唯一。
type Record struct {
	ID          string     `json:"id"`
	UserID      string     `json:"userId"`
	Name        string     `json:"name"`
	LastMessage string     `json:"lastMessage"`
	Time        string     `json:"time"`
	Avatar      string     `json:"avatar"`
	Timestamp   *time.Time `json:"timestamp,omitempty"`
}

type Engine struct {
	store         docstore.Store
	profiles      Profiles
	defaultAvatar string
}

func NewEngine(store docstore.Store, profiles Profiles, defaultAvatar string) *Engine {
	if defaultAvatar == "" {
		defaultAvatar = DefaultAvatarURL
	}
	return &Engine{store: store, profiles: profiles, defaultAvatar: defaultAvatar}
}

func chatKey(id string) string    { return "chat:" + id }
func profileKey(id string) string { return "profile:" + id }

// View 是一个会话的私聊列表。所有状态变更都在 View 自己的事件 goroutine 上执行。
type View struct {
	e        *Engine
	uid      string
	root     string
	onChange func([]Record)
	tree     *Tree

	mu     sync.Mutex
	queue  []func()
	closed bool
	// emitMu 覆盖 closed 检查与 onChange 调用，Close 借此等待进行中的回调结束
	emitMu sync.Mutex
	wake   chan struct{}
	done   chan struct{}
	once   sync.Once

	// 以下字段只在事件 goroutine 上访问
	order    []string
	records  map[string]Record
	chatGen  map[string]uint64
	fetchGen map[string]uint64
	seq      uint64

	snapMu  sync.Mutex
	current []Record
	subs    int
}

// Subscribe 为 sess 打开私聊列表。onChange 在列表变化时以完整副本调用，调用方用完后必须 Close。
// onChange 内不能调用 Close。
func (e *Engine) Subscribe(sess auth.Session, onChange func([]Record)) *View {
	v := &View{
		e:        e,
		uid:      sess.UID,
		root:     "user:" + sess.UID,
		onChange: onChange,
		tree:     NewTree(),
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
		records:  make(map[string]Record),
		chatGen:  make(map[string]uint64),
		fetchGen: make(map[string]uint64),
		current:  []Record{},
	}
	sub := e.store.WatchDoc(docstore.Doc("users", sess.UID), func(snap *docstore.Snapshot) {
		v.push(func() { v.onUser(snap) })
	})
	v.tree.Add("", v.root, sub)
	metrics.ChatListViews.Inc()
	go v.loop()
	return v
}

// Records 返回当前列表的副本。
func (v *View) Records() []Record {
	v.snapMu.Lock()
	defer v.snapMu.Unlock()
	return append([]Record(nil), v.current...)
}

// Subscriptions 返回当前仍然存活的订阅与读取数量。
func (v *View) Subscriptions() int { return v.tree.Len() }

// Close 同步取消整棵订阅树。进行中的 onChange 结束后才返回，返回后不会再调用 onChange。可重复调用。
func (v *View) Close() {
	v.once.Do(func() {
		v.emitMu.Lock()
		v.mu.Lock()
		v.closed = true
		v.queue = nil
		v.mu.Unlock()
		v.emitMu.Unlock()
		v.tree.CancelAll()
		close(v.done)
		metrics.ChatListViews.Dec()
		v.snapMu.Lock()
		metrics.ChatListSubscriptions.Sub(float64(v.subs))
		v.subs = 0
		v.snapMu.Unlock()
	})
}

func (v *View) push(fn func()) {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	v.queue = append(v.queue, fn)
	v.mu.Unlock()
	select {
	case v.wake <- struct{}{}:
	default:
	}
}

func (v *View) loop() {
	for {
		select {
		case <-v.done:
			return
		case <-v.wake:
		}
		for {
			v.mu.Lock()
			if v.closed || len(v.queue) == 0 {
				v.mu.Unlock()
				break
			}
			fn := v.queue[0]
			v.queue = v.queue[1:]
			v.mu.Unlock()
			fn()
			v.trackSubs()
		}
	}
}

func (v *View) trackSubs() {
	n := v.tree.Len()
	v.snapMu.Lock()
	if v.subs != n {
		metrics.ChatListSubscriptions.Add(float64(n - v.subs))
		v.subs = n
	}
	v.snapMu.Unlock()
}

func (v *View) onUser(snap *docstore.Snapshot) {
	var ids []string
	if snap.Exists {
		var u models.User
		if err := snap.DataTo(&u); err != nil {
			log.Warn().Err(err).Str("uid", v.uid).Msg("decode user for chat list")
			return
		}
		ids = u.Chats
	}
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}

	changed := false
	for _, key := range v.tree.Children(v.root) {
		id := key[len("chat:"):]
		if want[id] {
			continue
		}
		v.tree.Cancel(key)
		delete(v.chatGen, id)
		delete(v.fetchGen, id)
		if v.remove(id) {
			changed = true
		}
	}
	for _, id := range ids {
		if id == "" || v.tree.Has(chatKey(id)) {
			continue
		}
		v.seq++
		gen := v.seq
		v.chatGen[id] = gen
		chatID := id
		sub := v.e.store.WatchDoc(docstore.Doc("chats", chatID), func(s *docstore.Snapshot) {
			v.push(func() { v.onChat(chatID, gen, s) })
		})
		v.tree.Add(v.root, chatKey(chatID), sub)
	}
	if changed {
		v.emit()
	}
}

func (v *View) onChat(id string, gen uint64, snap *docstore.Snapshot) {
	if v.chatGen[id] != gen {
		return
	}
	if !snap.Exists {
		v.tree.Cancel(profileKey(id))
		delete(v.fetchGen, id)
		if v.remove(id) {
			v.emit()
		}
		return
	}
	var chat models.Chat
	if err := snap.DataTo(&chat); err != nil {
		log.Warn().Err(err).Str("chat_id", id).Msg("decode chat for chat list")
		return
	}
	other := chat.Counterpart(v.uid)
	if other == "" {
		return
	}

	v.seq++
	fgen := v.seq
	v.fetchGen[id] = fgen
	ctx, cancel := context.WithCancel(context.Background())
	if !v.tree.Add(chatKey(id), profileKey(id), cancelFunc(cancel)) {
		return
	}
	go func() {
		u, err := v.e.profiles.Get(ctx, other)
		if ctx.Err() != nil {
			return
		}
		v.push(func() { v.onProfile(id, fgen, &chat, other, u, err) })
	}()
}

func (v *View) onProfile(id string, fgen uint64, chat *models.Chat, other string, u *models.User, err error) {
	if v.fetchGen[id] != fgen {
		return
	}
	v.tree.Cancel(profileKey(id))
	if err != nil {
		log.Debug().Err(err).Str("chat_id", id).Str("uid", other).Msg("counterpart profile unavailable")
		u = nil
	}
	v.upsert(v.e.record(id, other, chat, u))
	v.emit()
}

func (e *Engine) record(id, other string, chat *models.Chat, u *models.User) Record {
	r := Record{ID: id, UserID: other, Name: UnknownName, LastMessage: NoMessagesYet, Avatar: e.defaultAvatar}
	if u != nil {
		switch {
		case u.DisplayName != "":
			r.Name = u.DisplayName
		case u.Username != "":
			r.Name = u.Username
		}
		if u.PhotoURL != "" {
			r.Avatar = u.PhotoURL
		}
	}
	if lm := chat.LastMessage; lm != nil {
		if lm.Text != "" {
			r.LastMessage = lm.Text
		}
		if !lm.Timestamp.IsZero() {
			ts := lm.Timestamp
			r.Time = ts.UTC().Format("15:04")
			r.Timestamp = &ts
		}
	}
	return r
}

// upsert 按聊天 id 原位替换；新出现的 id 插到最前面。
func (v *View) upsert(r Record) {
	if _, ok := v.records[r.ID]; !ok {
		v.order = append([]string{r.ID}, v.order...)
	}
	v.records[r.ID] = r
}

func (v *View) remove(id string) bool {
	if _, ok := v.records[id]; !ok {
		return false
	}
	delete(v.records, id)
	for i, x := range v.order {
		if x == id {
			v.order = append(v.order[:i:i], v.order[i+1:]...)
			break
		}
	}
	return true
}

func (v *View) emit() {
	out := make([]Record, 0, len(v.order))
	for _, id := range v.order {
		out = append(out, v.records[id])
	}
	v.snapMu.Lock()
	v.current = out
	v.snapMu.Unlock()
	if v.onChange == nil {
		return
	}
	v.emitMu.Lock()
	defer v.emitMu.Unlock()
	v.mu.Lock()
	closed := v.closed
	v.mu.Unlock()
	if !closed {
		v.onChange(append([]Record(nil), out...))
	}
}
