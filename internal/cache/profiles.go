// Package cache 缓存用户资料，供聊天列表等高频读取路径使用。
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"

	"github.com/vivek5200/Temp-Chat/internal/clock"
	"github.com/vivek5200/Temp-Chat/internal/docstore"
	"github.com/vivek5200/Temp-Chat/internal/models"
)

const (
	// profileKeyPrefix 格式: profile:<uid>
	profileKeyPrefix = "profile:%s"

	DefaultProfileTTL = time.Minute
)

type entry struct {
	user    *models.User
	expires time.Time
}

// Profiles 是两级缓存：进程内 map 在前，可选的 Redis 在后，未命中时读取 users/{uid}。
type Profiles struct {
	store docstore.Store
	rdb   *redis.Client
	clk   clock.Clock
	ttl   time.Duration

	mu    sync.Mutex
	local map[string]entry
}

func NewProfiles(store docstore.Store, rdb *redis.Client, clk clock.Clock, ttl time.Duration) *Profiles {
	if ttl <= 0 {
		ttl = DefaultProfileTTL
	}
	return &Profiles{store: store, rdb: rdb, clk: clk, ttl: ttl, local: make(map[string]entry)}
}

// NewRedisClient 解析 URL 并 Ping，连接失败时返回错误。
func NewRedisClient(redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// Get 返回用户资料。用户不存在时返回 docstore.ErrNotFound，该结果不缓存。
func (p *Profiles) Get(ctx context.Context, uid string) (*models.User, error) {
	now := p.clk.Now()
	p.mu.Lock()
	e, ok := p.local[uid]
	p.mu.Unlock()
	if ok && now.Before(e.expires) {
		return e.user, nil
	}

	if u := p.fromRedis(ctx, uid); u != nil {
		p.remember(uid, u)
		return u, nil
	}

	snap, err := p.store.Get(ctx, docstore.Doc("users", uid))
	if err != nil {
		return nil, err
	}
	var u models.User
	if err := snap.DataTo(&u); err != nil {
		return nil, err
	}
	u.UID = uid
	p.remember(uid, &u)
	p.toRedis(ctx, &u)
	return &u, nil
}

// Invalidate 在资料更新后丢弃两级缓存。
func (p *Profiles) Invalidate(ctx context.Context, uid string) {
	p.mu.Lock()
	delete(p.local, uid)
	p.mu.Unlock()
	if p.rdb == nil {
		return
	}
	if err := p.rdb.Del(ctx, fmt.Sprintf(profileKeyPrefix, uid)).Err(); err != nil {
		log.Warn().Err(err).Str("uid", uid).Msg("profile cache invalidate")
	}
}

func (p *Profiles) remember(uid string, u *models.User) {
	p.mu.Lock()
	p.local[uid] = entry{user: u, expires: p.clk.Now().Add(p.ttl)}
	p.mu.Unlock()
}

func (p *Profiles) fromRedis(ctx context.Context, uid string) *models.User {
	if p.rdb == nil {
		return nil
	}
	raw, err := p.rdb.Get(ctx, fmt.Sprintf(profileKeyPrefix, uid)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Warn().Err(err).Str("uid", uid).Msg("profile cache get")
		}
		return nil
	}
	var u models.User
	if err := json.Unmarshal(raw, &u); err != nil {
		return nil
	}
	u.UID = uid
	return &u
}

func (p *Profiles) toRedis(ctx context.Context, u *models.User) {
	if p.rdb == nil {
		return
	}
	raw, err := json.Marshal(u)
	if err != nil {
		return
	}
	if err := p.rdb.Set(ctx, fmt.Sprintf(profileKeyPrefix, u.UID), raw, p.ttl).Err(); err != nil {
		log.Warn().Err(err).Str("uid", u.UID).Msg("profile cache set")
	}
}
