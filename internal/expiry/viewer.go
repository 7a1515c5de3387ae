package expiry

import (
	"sync"
	"time"

	"github.com/vivek5200/Temp-Chat/internal/clock"
	"github.com/vivek5200/Temp-Chat/internal/docstore"
	"github.com/vivek5200/Temp-Chat/internal/service"
)

// RoomWatcher 提供查看者的房间列表订阅与级联删除。
type RoomWatcher interface {
	Expirer
	WatchMemberRooms(uid string, fn func([]service.RoomSummary)) docstore.Subscription
}

// Viewer 是一个查看者的房间列表：订阅成员房间，并为其中每个房间挂一个看门狗定时器。
// 定时器触发后该房间从本地列表移除，即使删除失败也不再显示。
type Viewer struct {
	dog      *Watchdog
	sub      docstore.Subscription
	onChange func([]service.RoomSummary)

	mu      sync.Mutex
	rooms   []service.RoomSummary
	expired map[string]bool
	closed  bool
}

// NewViewer 开始订阅 uid 的房间列表。onChange 在持有 Viewer 内部锁时调用，不能回调 Viewer 的方法。
func NewViewer(rooms RoomWatcher, clk clock.Clock, uid string, onChange func([]service.RoomSummary)) *Viewer {
	v := &Viewer{onChange: onChange, expired: make(map[string]bool)}
	v.dog = NewWatchdog(clk, rooms, v.remove)
	v.sub = rooms.WatchMemberRooms(uid, v.update)
	return v
}

func (v *Viewer) update(list []service.RoomSummary) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return
	}
	kept := make([]service.RoomSummary, 0, len(list))
	due := make(map[string]time.Time, len(list))
	for _, r := range list {
		if v.expired[r.ID] {
			continue
		}
		kept = append(kept, r)
		due[r.ID] = r.ExpiresAt
	}
	v.rooms = kept
	v.dog.Sync(due)
	v.notifyLocked()
}

func (v *Viewer) remove(roomID string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return
	}
	v.expired[roomID] = true
	for i, r := range v.rooms {
		if r.ID == roomID {
			v.rooms = append(v.rooms[:i:i], v.rooms[i+1:]...)
			v.notifyLocked()
			return
		}
	}
}

func (v *Viewer) notifyLocked() {
	if v.onChange != nil {
		v.onChange(append([]service.RoomSummary(nil), v.rooms...))
	}
}

// Rooms 返回当前本地列表的副本。
func (v *Viewer) Rooms() []service.RoomSummary {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]service.RoomSummary(nil), v.rooms...)
}

func (v *Viewer) Pending() int { return v.dog.Pending() }

// Close 取消订阅与全部定时器。
func (v *Viewer) Close() {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	v.closed = true
	v.mu.Unlock()
	v.sub.Cancel()
	v.dog.Stop()
}
