package docstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

const relayChannel = "docstore:changes"

// Relay 通过 Redis 发布/订阅在多个进程之间转发已提交的文档路径，
// 接收方重新读取这些路径并通知本地订阅者。
type Relay struct {
	client  *redis.Client
	channel string
	origin  string
}

type relayMessage struct {
	Origin string   `json:"origin"`
	Paths  []string `json:"paths"`
}

// NewRelay 解析 redisURL（如 "redis://localhost:6379/0"）并 ping 确认连通。
func NewRelay(redisURL string) (*Relay, error) {
	if redisURL == "" {
		return nil, fmt.Errorf("redis URL cannot be empty")
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &Relay{client: client, channel: relayChannel, origin: uuid.NewString()}, nil
}

func (r *Relay) Publish(ctx context.Context, paths []string) error {
	b, err := json.Marshal(relayMessage{Origin: r.origin, Paths: paths})
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, r.channel, b).Err()
}

// Run 订阅频道并对其他进程发布的路径调用 onChange，直到 ctx 结束。
func (r *Relay) Run(ctx context.Context, onChange func(paths []string)) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", r.channel, err)
	}
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var m relayMessage
			if err := json.Unmarshal([]byte(msg.Payload), &m); err != nil || m.Origin == r.origin {
				continue
			}
			onChange(m.Paths)
		}
	}
}

func (r *Relay) Close() error { return r.client.Close() }
