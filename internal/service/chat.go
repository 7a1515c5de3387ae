package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/vivek5200/Temp-Chat/internal/cache"
	"github.com/vivek5200/Temp-Chat/internal/clock"
	"github.com/vivek5200/Temp-Chat/internal/docstore"
	"github.com/vivek5200/Temp-Chat/internal/metrics"
	"github.com/vivek5200/Temp-Chat/internal/models"
)

// ChatService 封装一对一聊天的创建、删除与消息读写。
type ChatService struct {
	store    docstore.Store
	clk      clock.Clock
	profiles *cache.Profiles

	group singleflight.Group
	mu    sync.Mutex
	known map[string]string // 有序 uid 对 -> chatId
}

// chatCreateTimeout 限制合并后的查找/创建耗时，它不随任何单个调用方取消。
const chatCreateTimeout = 15 * time.Second

func NewChatService(store docstore.Store, clk clock.Clock, profiles *cache.Profiles) *ChatService {
	return &ChatService{store: store, clk: clk, profiles: profiles, known: make(map[string]string)}
}

func chatPath(id string) string { return docstore.Doc("chats", id) }

func chatMessagesOf(chatID string) string { return docstore.Collection(chatPath(chatID), "messages") }

func pairKey(a, b string) string {
	p := []string{a, b}
	sort.Strings(p)
	return p[0] + "|" + p[1]
}

func decodeChat(snap *docstore.Snapshot) (*models.Chat, error) {
	var c models.Chat
	if err := snap.DataTo(&c); err != nil {
		return nil, err
	}
	c.ID = snap.ID
	return &c, nil
}

// GetOrCreateChat 返回 self 与 other 之间的聊天 id，不存在时创建。
// 同一进程内对同一对用户的并发调用合并为一次，某个调用方取消只影响它自己；
// 创建聊天与写入双方列表是两个步骤。
func (s *ChatService) GetOrCreateChat(ctx context.Context, selfUID, otherUID string) (string, error) {
	if selfUID == "" || otherUID == "" || strings.Contains(otherUID, "/") {
		return "", Validation("Both participants are required")
	}
	if selfUID == otherUID {
		return "", ErrSelfChat
	}
	key := pairKey(selfUID, otherUID)

	s.mu.Lock()
	cached, ok := s.known[key]
	s.mu.Unlock()
	if ok {
		snap, err := s.store.Get(ctx, chatPath(cached))
		if err != nil {
			return "", err
		}
		if snap.Exists {
			return cached, nil
		}
		s.forget(key)
	}

	ch := s.group.DoChan(key, func() (any, error) {
		wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), chatCreateTimeout)
		defer cancel()
		return s.findOrCreate(wctx, selfUID, otherUID)
	})
	var res singleflight.Result
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res = <-ch:
	}
	if res.Err != nil {
		return "", res.Err
	}
	chatID := res.Val.(string)
	s.mu.Lock()
	s.known[key] = chatID
	s.mu.Unlock()
	return chatID, nil
}

func (s *ChatService) forget(key string) {
	s.mu.Lock()
	delete(s.known, key)
	s.mu.Unlock()
}

func (s *ChatService) findOrCreate(ctx context.Context, selfUID, otherUID string) (string, error) {
	if _, err := s.profiles.Get(ctx, otherUID); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return "", ErrUserNotFound
		}
		return "", err
	}

	snaps, err := s.store.Query(ctx, docstore.From("chats").Where("participants", docstore.ArrayContains, selfUID))
	if err != nil {
		return "", err
	}
	for _, snap := range snaps {
		c, err := decodeChat(snap)
		if err != nil {
			continue
		}
		if c.Includes(otherUID) {
			return c.ID, nil
		}
	}

	chat := &models.Chat{
		ID:           s.store.NewID(),
		Participants: []string{selfUID, otherUID},
		CreatedAt:    s.clk.Now(),
	}
	if err := s.store.Create(ctx, chatPath(chat.ID), chat); err != nil {
		return "", fmt.Errorf("create chat: %w", err)
	}
	batch := s.store.Batch()
	batch.Update(docstore.Doc("users", selfUID), docstore.Update{Path: "chats", Value: docstore.ArrayUnion(chat.ID)})
	batch.Update(docstore.Doc("users", otherUID), docstore.Update{Path: "chats", Value: docstore.ArrayUnion(chat.ID)})
	if err := batch.Commit(ctx); err != nil {
		log.Error().Err(err).Str("chat_id", chat.ID).Str("uid", selfUID).Msg("link chat to users")
		return "", fmt.Errorf("link chat %s: %w", chat.ID, err)
	}
	return chat.ID, nil
}

// Chat 读取聊天并校验 uid 是参与者。
func (s *ChatService) Chat(ctx context.Context, chatID, uid string) (*models.Chat, error) {
	if chatID == "" || strings.Contains(chatID, "/") {
		return nil, ErrChatNotFound
	}
	snap, err := s.store.Get(ctx, chatPath(chatID))
	if err != nil {
		return nil, err
	}
	if !snap.Exists {
		return nil, ErrChatNotFound
	}
	c, err := decodeChat(snap)
	if err != nil {
		return nil, err
	}
	if !c.Includes(uid) {
		return nil, ErrNotParticipant
	}
	return c, nil
}

// DeleteChat 先分批删除消息，再删除聊天文档，最后只从调用方自己的列表中移除该 id。
// 对方列表中的引用保留，由其聊天列表在文档缺失时自行丢弃。
func (s *ChatService) DeleteChat(ctx context.Context, chatID, selfUID string) error {
	c, err := s.Chat(ctx, chatID, selfUID)
	switch {
	case errors.Is(err, ErrChatNotFound):
	case err != nil:
		return err
	default:
		if err := s.deleteMessages(ctx, chatID); err != nil {
			return err
		}
		if _, err := s.store.Delete(ctx, chatPath(chatID)); err != nil {
			return fmt.Errorf("delete chat %s: %w", chatID, err)
		}
		s.forget(pairKey(c.Participants[0], c.Participants[len(c.Participants)-1]))
	}
	err = s.store.Update(ctx, docstore.Doc("users", selfUID), docstore.Update{Path: "chats", Value: docstore.ArrayRemove(chatID)})
	if err != nil && !errors.Is(err, docstore.ErrNotFound) {
		return fmt.Errorf("unlink chat %s: %w", chatID, err)
	}
	return nil
}

func (s *ChatService) deleteMessages(ctx context.Context, chatID string) error {
	q := docstore.From(chatMessagesOf(chatID)).Take(docstore.MaxBatchSize)
	for {
		msgs, err := s.store.Query(ctx, q)
		if err != nil {
			return fmt.Errorf("list messages of chat %s: %w", chatID, err)
		}
		if len(msgs) == 0 {
			return nil
		}
		batch := s.store.Batch()
		for _, m := range msgs {
			batch.Delete(m.Path)
		}
		if err := batch.Commit(ctx); err != nil {
			return fmt.Errorf("delete messages of chat %s: %w", chatID, err)
		}
	}
}

// SendMessage 写入消息并更新聊天的 lastMessage，两者在同一批次中提交。
func (s *ChatService) SendMessage(ctx context.Context, chatID, fromUID, text string) (*models.ChatMessage, error) {
	if strings.TrimSpace(text) == "" {
		return nil, Validation("Message cannot be empty")
	}
	if _, err := s.Chat(ctx, chatID, fromUID); err != nil {
		return nil, err
	}
	now := s.clk.Now()
	msg := &models.ChatMessage{ID: s.store.NewID(), Text: text, From: fromUID, CreatedAt: now}
	batch := s.store.Batch()
	batch.Create(docstore.Doc(chatMessagesOf(chatID), msg.ID), msg)
	batch.Update(chatPath(chatID),
		docstore.Update{Path: "lastMessage", Value: models.LastMessage{Text: text, Timestamp: now}},
		docstore.Update{Path: "lastMessageAt", Value: docstore.ServerTimestamp},
	)
	if err := batch.Commit(ctx); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, ErrChatNotFound
		}
		return nil, err
	}
	metrics.MessagesTotal.WithLabelValues("chat").Inc()
	return msg, nil
}

func (s *ChatService) ownMessage(ctx context.Context, chatID, msgID, uid string) (string, error) {
	if _, err := s.Chat(ctx, chatID, uid); err != nil {
		return "", err
	}
	if msgID == "" || strings.Contains(msgID, "/") {
		return "", ErrMessageNotFound
	}
	path := docstore.Doc(chatMessagesOf(chatID), msgID)
	snap, err := s.store.Get(ctx, path)
	if err != nil {
		return "", err
	}
	if !snap.Exists {
		return "", ErrMessageNotFound
	}
	var m models.ChatMessage
	if err := snap.DataTo(&m); err != nil {
		return "", err
	}
	if m.From != uid {
		return "", ErrNotSender
	}
	return path, nil
}

// EditMessage 只允许发送者修改文本，并标记 edited。
func (s *ChatService) EditMessage(ctx context.Context, chatID, msgID, uid, text string) error {
	if strings.TrimSpace(text) == "" {
		return Validation("Message cannot be empty")
	}
	path, err := s.ownMessage(ctx, chatID, msgID, uid)
	if err != nil {
		return err
	}
	return s.store.Update(ctx, path,
		docstore.Update{Path: "text", Value: text},
		docstore.Update{Path: "edited", Value: true},
	)
}

// DeleteMessage 只允许发送者删除自己的消息。
func (s *ChatService) DeleteMessage(ctx context.Context, chatID, msgID, uid string) error {
	path, err := s.ownMessage(ctx, chatID, msgID, uid)
	if err != nil {
		return err
	}
	_, err = s.store.Delete(ctx, path)
	return err
}

func decodeChatMessages(snaps []*docstore.Snapshot) []*models.ChatMessage {
	out := make([]*models.ChatMessage, 0, len(snaps))
	for _, snap := range snaps {
		var m models.ChatMessage
		if err := snap.DataTo(&m); err != nil {
			continue
		}
		m.ID = snap.ID
		out = append(out, &m)
	}
	return out
}

func messagesQuery(chatID string) docstore.Query {
	return docstore.From(chatMessagesOf(chatID)).Order("createdAt", true)
}

// Messages 按创建时间倒序返回消息。
func (s *ChatService) Messages(ctx context.Context, chatID, uid string) ([]*models.ChatMessage, error) {
	if _, err := s.Chat(ctx, chatID, uid); err != nil {
		return nil, err
	}
	snaps, err := s.store.Query(ctx, messagesQuery(chatID))
	if err != nil {
		return nil, err
	}
	return decodeChatMessages(snaps), nil
}

// WatchMessages 实时订阅消息，调用方需先通过 Chat 校验参与者身份。
func (s *ChatService) WatchMessages(chatID string, fn func([]*models.ChatMessage)) docstore.Subscription {
	return s.store.WatchQuery(messagesQuery(chatID), func(snaps []*docstore.Snapshot) {
		fn(decodeChatMessages(snaps))
	})
}

// MarkRead 把对方发来的未读消息标记为已读，返回标记数量。
func (s *ChatService) MarkRead(ctx context.Context, chatID, uid string) (int, error) {
	if _, err := s.Chat(ctx, chatID, uid); err != nil {
		return 0, err
	}
	snaps, err := s.store.Query(ctx, docstore.From(chatMessagesOf(chatID)).Where("read", docstore.Eq, false))
	if err != nil {
		return 0, err
	}
	var pending []string
	for _, snap := range snaps {
		if from, _ := snap.Data["from"].(string); from != uid {
			pending = append(pending, snap.Path)
		}
	}
	for start := 0; start < len(pending); start += docstore.MaxBatchSize {
		end := min(start+docstore.MaxBatchSize, len(pending))
		batch := s.store.Batch()
		for _, p := range pending[start:end] {
			batch.Update(p, docstore.Update{Path: "read", Value: true})
		}
		if err := batch.Commit(ctx); err != nil {
			return start, err
		}
	}
	return len(pending), nil
}
