// Package expiry 实现两个互不协调的到期触发方：查看者本地的看门狗定时器与周期性清扫。
// 两者都调用同一个幂等的 Expire，可以重复或并发执行。
package expiry

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/vivek5200/Temp-Chat/internal/clock"
	"github.com/vivek5200/Temp-Chat/internal/metrics"
)

const fireTimeout = 30 * time.Second

// Expirer 级联删除一个房间，service.RoomService 实现了它。
type Expirer interface {
	Expire(ctx context.Context, roomID string) (bool, error)
}

// Watchdog 为每个房间维护一个在 expiresAt 触发的一次性定时器。
// 触发是尽力而为的：失败只记录日志，进程退出时未触发的定时器直接丢失。
type Watchdog struct {
	clk       clock.Clock
	rooms     Expirer
	onExpired func(roomID string)

	mu      sync.Mutex
	timers  map[string]*clock.Timer
	stopped bool
	wg      sync.WaitGroup
}

func NewWatchdog(clk clock.Clock, rooms Expirer, onExpired func(roomID string)) *Watchdog {
	return &Watchdog{clk: clk, rooms: rooms, onExpired: onExpired, timers: make(map[string]*clock.Timer)}
}

// Schedule 为 roomID 安排定时器。已安排的房间不会重复安排；expiresAt 已过时立即异步触发。
func (w *Watchdog) Schedule(roomID string, expiresAt time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	if _, ok := w.timers[roomID]; ok {
		return
	}
	d := expiresAt.Sub(w.clk.Now())
	if d <= 0 {
		w.timers[roomID] = nil
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			w.fire(roomID)
		}()
		return
	}
	w.timers[roomID] = w.clk.AfterFunc(d, func() { w.fire(roomID) })
}

// Unschedule 取消 roomID 尚未触发的定时器。
func (w *Watchdog) Unschedule(roomID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t := w.timers[roomID]; t != nil {
		t.Stop()
	}
	delete(w.timers, roomID)
}

// Sync 让定时器集合与 rooms 一致：新房间安排定时器，不在列表中的房间取消定时器。
func (w *Watchdog) Sync(rooms map[string]time.Time) {
	w.mu.Lock()
	var stale []string
	for id := range w.timers {
		if _, ok := rooms[id]; !ok {
			stale = append(stale, id)
		}
	}
	w.mu.Unlock()
	for _, id := range stale {
		w.Unschedule(id)
	}
	for id, exp := range rooms {
		w.Schedule(id, exp)
	}
}

// Pending 返回尚未触发的房间数。
func (w *Watchdog) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.timers)
}

// Stop 取消全部定时器，并等待已开始的立即触发结束。
func (w *Watchdog) Stop() {
	w.mu.Lock()
	w.stopped = true
	for id, t := range w.timers {
		if t != nil {
			t.Stop()
		}
		delete(w.timers, id)
	}
	w.mu.Unlock()
	w.wg.Wait()
}

func (w *Watchdog) fire(roomID string) {
	w.mu.Lock()
	_, ok := w.timers[roomID]
	if w.stopped || !ok {
		w.mu.Unlock()
		return
	}
	delete(w.timers, roomID)
	w.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), fireTimeout)
	defer cancel()
	deleted, err := w.rooms.Expire(ctx, roomID)
	switch {
	case err != nil:
		log.Warn().Err(err).Str("room_id", roomID).Str("trigger", "watchdog").Msg("expire room failed")
	case deleted:
		metrics.RoomsExpiredTotal.WithLabelValues("watchdog").Inc()
		log.Info().Str("room_id", roomID).Str("trigger", "watchdog").Msg("room expired")
	}
	if w.onExpired != nil {
		w.onExpired(roomID)
	}
}
