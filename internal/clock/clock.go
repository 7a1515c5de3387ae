// Package clock 抽象时间操作，生产代码注入 Real()，测试注入 Fake() 以确定性地推进时间。
package clock

import "time"

// Clock 是 Watchdog、Sweeper 与 RoomService 依赖的时间来源。
type Clock interface {
	Now() time.Time
	// AfterFunc 在 d 之后调用 f；d <= 0 时立即调用。
	AfterFunc(d time.Duration, f func()) *Timer
	NewTicker(d time.Duration) *Ticker
}

// Timer 是 AfterFunc 返回的一次性定时器句柄。
type Timer struct {
	stop func() bool
}

// Stop 阻止定时器触发；已触发或已停止时返回 false。
func (t *Timer) Stop() bool { return t.stop() }

// Ticker 周期性地在 C 上投递时间，消费方落后时丢弃多余的 tick。
type Ticker struct {
	C    <-chan time.Time
	stop func()
}

func (t *Ticker) Stop() { t.stop() }

// Real 返回基于 time 包的 Clock。
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) *Timer {
	t := time.AfterFunc(d, f)
	return &Timer{stop: t.Stop}
}

func (realClock) NewTicker(d time.Duration) *Ticker {
	t := time.NewTicker(d)
	return &Ticker{C: t.C, stop: t.Stop}
}
