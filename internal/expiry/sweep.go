package expiry

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/vivek5200/Temp-Chat/internal/clock"
	"github.com/vivek5200/Temp-Chat/internal/metrics"
)

const DefaultSweepParallelism = 4

// RoomSweeper 列出到期房间并级联删除。
type RoomSweeper interface {
	Expirer
	ExpiredRooms(ctx context.Context, now time.Time) ([]string, error)
}

// Result 是一次清扫的统计。Deleted 为无错误完成级联的房间数，包括已被其他触发方删掉的房间。
type Result struct {
	Scanned int `json:"scanned"`
	Deleted int `json:"deleted"`
	Failed  int `json:"failed"`
}

type Sweeper struct {
	rooms       RoomSweeper
	clk         clock.Clock
	parallelism int
}

func NewSweeper(rooms RoomSweeper, clk clock.Clock) *Sweeper {
	return &Sweeper{rooms: rooms, clk: clk, parallelism: DefaultSweepParallelism}
}

// Run 扫描 expiresAt <= now 的房间并逐个级联删除。单个房间失败只计入 Failed，下次清扫会重试。
func (s *Sweeper) Run(ctx context.Context) (Result, error) {
	ids, err := s.rooms.ExpiredRooms(ctx, s.clk.Now())
	if err != nil {
		metrics.SweepRunsTotal.WithLabelValues("error").Inc()
		return Result{}, err
	}

	var deleted, failed atomic.Int64
	var g errgroup.Group
	g.SetLimit(s.parallelism)
	for _, id := range ids {
		g.Go(func() error {
			removed, err := s.rooms.Expire(ctx, id)
			if err != nil {
				failed.Add(1)
				log.Warn().Err(err).Str("room_id", id).Str("trigger", "sweep").Msg("expire room failed")
				return nil
			}
			deleted.Add(1)
			if removed {
				metrics.RoomsExpiredTotal.WithLabelValues("sweep").Inc()
			}
			return nil
		})
	}
	_ = g.Wait()

	res := Result{Scanned: len(ids), Deleted: int(deleted.Load()), Failed: int(failed.Load())}
	outcome := "ok"
	if res.Failed > 0 {
		outcome = "partial"
	}
	metrics.SweepRunsTotal.WithLabelValues(outcome).Inc()
	log.Info().Int("scanned", res.Scanned).Int("deleted", res.Deleted).Int("failed", res.Failed).Msg("sweep finished")
	return res, nil
}

// Scheduler 在服务进程内按固定间隔运行清扫。
type Scheduler struct {
	sweeper  *Sweeper
	clk      clock.Clock
	interval time.Duration
	onRun    func(Result, error)
}

// NewScheduler 创建调度器；interval <= 0 时 Run 立即返回。
func NewScheduler(sweeper *Sweeper, clk clock.Clock, interval time.Duration) *Scheduler {
	return &Scheduler{sweeper: sweeper, clk: clk, interval: interval}
}

// OnRun 注册每次清扫结束后的回调。
func (s *Scheduler) OnRun(fn func(Result, error)) { s.onRun = fn }

// Run 阻塞直到 ctx 结束。
func (s *Scheduler) Run(ctx context.Context) {
	if s.interval <= 0 {
		log.Info().Msg("scheduled sweep disabled")
		return
	}
	ticker := s.clk.NewTicker(s.interval)
	defer ticker.Stop()
	log.Info().Dur("interval", s.interval).Msg("scheduled sweep started")
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			res, err := s.sweeper.Run(ctx)
			if err != nil {
				log.Error().Err(err).Msg("scheduled sweep failed")
			}
			if s.onRun != nil {
				s.onRun(res, err)
			}
		}
	}
}
