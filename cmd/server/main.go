package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
	"gorm.io/gorm"

	"github.com/vivek5200/Temp-Chat/internal/auth"
	"github.com/vivek5200/Temp-Chat/internal/cache"
	"github.com/vivek5200/Temp-Chat/internal/chatsync"
	"github.com/vivek5200/Temp-Chat/internal/clock"
	"github.com/vivek5200/Temp-Chat/internal/config"
	"github.com/vivek5200/Temp-Chat/internal/db"
	"github.com/vivek5200/Temp-Chat/internal/docstore"
	"github.com/vivek5200/Temp-Chat/internal/expiry"
	"github.com/vivek5200/Temp-Chat/internal/identity"
	clog "github.com/vivek5200/Temp-Chat/internal/log"
	"github.com/vivek5200/Temp-Chat/internal/mw"
	"github.com/vivek5200/Temp-Chat/internal/presence"
	"github.com/vivek5200/Temp-Chat/internal/server"
	"github.com/vivek5200/Temp-Chat/internal/service"
	"github.com/vivek5200/Temp-Chat/internal/ws"
)

func main() {
	// .env 只用于本地开发，缺失时直接使用环境变量。
	_ = godotenv.Load()
	cfg := config.Load()
	clog.Init(cfg.Env, "tempchat-server")
	if err := config.Validate(cfg); err != nil {
		log.Fatal().Err(err).Msg("config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	gdb, err := db.Connect(cfg.DatabaseDriver, cfg.DatabaseDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("db connect")
	}
	if err := db.Migrate(gdb); err != nil {
		log.Fatal().Err(err).Msg("db migrate")
	}

	clk := clock.Real()
	store := openStore(ctx, cfg, gdb, clk)

	var rdb *redis.Client
	if cfg.RedisURL != "" {
		if rdb, err = cache.NewRedisClient(cfg.RedisURL); err != nil {
			log.Warn().Err(err).Msg("redis unavailable, profile cache is process-local")
		}
	}
	profiles := cache.NewProfiles(store, rdb, clk, cache.DefaultProfileTTL)

	provider := identity.NewLocalProvider(gdb, identity.LogMailer{}, clk, cfg.PublicBaseURL)
	users := service.NewUserService(store, provider, auth.NewIssuer(gdb, cfg), profiles, clk)
	rooms := service.NewRoomService(store, clk, cfg.DefaultRoomTTLMinutes)
	chats := service.NewChatService(store, clk, profiles)
	tracker := presence.NewTracker(store)
	sweeper := expiry.NewSweeper(rooms, clk)

	hub := ws.NewHub()
	users.OnLogout(hub.CloseUser)
	feeds := ws.NewFeeds(hub, chatsync.NewEngine(store, profiles, cfg.DefaultAvatarURL), rooms, chats, tracker, clk)

	sched := expiry.NewScheduler(sweeper, clk, cfg.SweepInterval)
	sched.OnRun(func(res expiry.Result, err error) {
		if err == nil {
			log.Info().Int("scanned", res.Scanned).Int("deleted", res.Deleted).Int("failed", res.Failed).Msg("scheduled sweep")
		}
	})
	go sched.Run(ctx)

	rl := mw.NewRateLimiter(clk, rate.Every(time.Second/20), 40, 2*time.Minute)
	go rl.RunGC(30 * time.Second)
	defer rl.Stop()

	h := server.NewHandler(cfg, clk, users, rooms, chats, tracker, sweeper)
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           server.SetupRouter(cfg, gdb, h, feeds, rl),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info().Str("addr", srv.Addr).Str("docstore", cfg.DocstoreDriver).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server run")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown")
	}
}

// openStore 按配置选择文档存储。gorm 存储在配置了 REDIS_URL 时通过 Relay 跨进程转发变更。
func openStore(ctx context.Context, cfg config.Config, gdb *gorm.DB, clk clock.Clock) docstore.Store {
	if cfg.DocstoreDriver == "memory" {
		log.Warn().Msg("using in-memory docstore, data is lost on restart")
		return docstore.NewMemoryStore(clk)
	}
	gs := docstore.NewGormStore(gdb, clk)
	if err := gs.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("docstore migrate")
	}
	if cfg.RedisURL != "" {
		relay, err := docstore.NewRelay(cfg.RedisURL)
		if err != nil {
			log.Warn().Err(err).Msg("docstore relay disabled")
			return gs
		}
		gs.UseRelay(ctx, relay)
	}
	return gs
}
