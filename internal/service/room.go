package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/vivek5200/Temp-Chat/internal/clock"
	"github.com/vivek5200/Temp-Chat/internal/docstore"
	"github.com/vivek5200/Temp-Chat/internal/metrics"
	"github.com/vivek5200/Temp-Chat/internal/models"
)

// DefaultRoomTTLMinutes 是未指定有效期时的房间存活时间。
const DefaultRoomTTLMinutes = 30

// RoomService 封装临时房间的创建、加入与级联删除。
type RoomService struct {
	store      docstore.Store
	clk        clock.Clock
	defaultTTL int
}

func NewRoomService(store docstore.Store, clk clock.Clock, defaultTTLMinutes int) *RoomService {
	if defaultTTLMinutes <= 0 {
		defaultTTLMinutes = DefaultRoomTTLMinutes
	}
	return &RoomService{store: store, clk: clk, defaultTTL: defaultTTLMinutes}
}

func roomPath(id string) string { return docstore.Doc("rooms", id) }

func messagesOf(roomID string) string { return docstore.Collection(roomPath(roomID), "messages") }

func decodeRoom(snap *docstore.Snapshot) (*models.Room, error) {
	var r models.Room
	if err := snap.DataTo(&r); err != nil {
		return nil, err
	}
	r.ID = snap.ID
	return &r, nil
}

// CreateRoomInput 是创建房间的参数。Passcode 为空表示公开房间。
type CreateRoomInput struct {
	Name               string `json:"name"`
	Passcode           string `json:"passcode"`
	TTLMinutes         int    `json:"ttlMinutes"`
	CreatorUID         string `json:"-"`
	CreatorDisplayName string `json:"displayName"`
}

// CreateRoom 创建房间，expiresAt = now + ttl，且之后不再修改。
// 同名检查不是原子的，并发创建仍可能产生同名房间。
func (s *RoomService) CreateRoom(ctx context.Context, in CreateRoomInput) (*models.Room, error) {
	name := strings.TrimSpace(in.Name)
	displayName := strings.TrimSpace(in.CreatorDisplayName)
	if name == "" {
		return nil, Validation("Room name is required")
	}
	if displayName == "" {
		return nil, Validation("Display name is required")
	}
	if in.CreatorUID == "" {
		return nil, Validation("Creator is required")
	}
	ttl := in.TTLMinutes
	if ttl == 0 {
		ttl = s.defaultTTL
	}
	if ttl < 0 {
		return nil, Validation("Room lifetime must be positive")
	}

	existing, err := s.store.Query(ctx, docstore.From("rooms").Where("name", docstore.Eq, name).Take(1))
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		return nil, ErrRoomNameTaken
	}

	now := s.clk.Now()
	room := &models.Room{
		ID:            s.store.NewID(),
		Name:          name,
		CreatedAt:     now,
		ExpiresAt:     now.Add(time.Duration(ttl) * time.Minute),
		CreatedBy:     in.CreatorUID,
		Members:       []string{in.CreatorUID},
		MemberDetails: map[string]models.MemberDetail{in.CreatorUID: {DisplayName: displayName}},
	}
	if pc := strings.TrimSpace(in.Passcode); pc != "" {
		room.Passcode = &pc
	}
	if err := s.store.Create(ctx, roomPath(room.ID), room); err != nil {
		return nil, err
	}
	metrics.RoomsCreatedTotal.Inc()
	return room, nil
}

// LookupRoom 按名称查找房间。同名房间有多个时优先返回未过期且最新创建的那个。
func (s *RoomService) LookupRoom(ctx context.Context, name string) (*models.Room, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, Validation("Room name is required")
	}
	snaps, err := s.store.Query(ctx, docstore.From("rooms").Where("name", docstore.Eq, name))
	if err != nil {
		return nil, err
	}
	if len(snaps) == 0 {
		return nil, ErrRoomNotFound
	}
	now := s.clk.Now()
	var best *models.Room
	for _, snap := range snaps {
		r, err := decodeRoom(snap)
		if err != nil {
			continue
		}
		if best == nil {
			best = r
			continue
		}
		bestLive, live := !best.Expired(now), !r.Expired(now)
		if live != bestLive {
			if live {
				best = r
			}
			continue
		}
		if r.CreatedAt.After(best.CreatedAt) {
			best = r
		}
	}
	if best == nil {
		return nil, ErrRoomNotFound
	}
	if best.Expired(now) {
		return nil, ErrRoomExpired
	}
	return best, nil
}

// JoinRoomInput 是加入房间的参数。
type JoinRoomInput struct {
	Name        string `json:"name"`
	Passcode    string `json:"passcode"`
	UID         string `json:"-"`
	DisplayName string `json:"displayName"`
}

// JoinRoom 把 uid 合并进成员集合并记录显示名。重复加入只会更新显示名。
func (s *RoomService) JoinRoom(ctx context.Context, in JoinRoomInput) (*models.Room, error) {
	displayName := strings.TrimSpace(in.DisplayName)
	if displayName == "" {
		return nil, Validation("Please enter your name")
	}
	if in.UID == "" {
		return nil, Validation("No user is logged in")
	}
	room, err := s.LookupRoom(ctx, in.Name)
	if err != nil {
		return nil, err
	}
	if room.IsPrivate() && subtle.ConstantTimeCompare([]byte(*room.Passcode), []byte(in.Passcode)) != 1 {
		return nil, ErrWrongPasscode
	}
	err = s.store.Update(ctx, roomPath(room.ID),
		docstore.Update{Path: "members", Value: docstore.ArrayUnion(in.UID)},
		docstore.Update{Path: "memberDetails." + in.UID, Value: models.MemberDetail{DisplayName: displayName}},
	)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, ErrRoomNotFound
		}
		return nil, err
	}
	metrics.RoomsJoinedTotal.Inc()
	return s.Room(ctx, room.ID)
}

// Room 读取单个房间。
func (s *RoomService) Room(ctx context.Context, roomID string) (*models.Room, error) {
	snap, err := s.store.Get(ctx, roomPath(roomID))
	if err != nil {
		return nil, err
	}
	if !snap.Exists {
		return nil, ErrRoomNotFound
	}
	return decodeRoom(snap)
}

// DeleteRoomCascade 先分批删除全部消息，再删除房间文档。可重复调用，也可与其他触发方并发执行。
func (s *RoomService) DeleteRoomCascade(ctx context.Context, roomID string) error {
	_, err := s.Expire(ctx, roomID)
	return err
}

// Expire 与 DeleteRoomCascade 相同，额外返回本次调用是否删除了房间文档。
// 每个消息批次原子提交；中途失败时已提交的批次保留，重新调用即可继续。
func (s *RoomService) Expire(ctx context.Context, roomID string) (bool, error) {
	if roomID == "" || strings.Contains(roomID, "/") {
		return false, Validation("invalid room id")
	}
	q := docstore.From(messagesOf(roomID)).Take(docstore.MaxBatchSize)
	for {
		msgs, err := s.store.Query(ctx, q)
		if err != nil {
			return false, fmt.Errorf("list messages of room %s: %w", roomID, err)
		}
		if len(msgs) == 0 {
			break
		}
		batch := s.store.Batch()
		for _, m := range msgs {
			batch.Delete(m.Path)
		}
		if err := batch.Commit(ctx); err != nil {
			return false, fmt.Errorf("delete messages of room %s: %w", roomID, err)
		}
	}
	deleted, err := s.store.Delete(ctx, roomPath(roomID))
	if err != nil {
		return false, fmt.Errorf("delete room %s: %w", roomID, err)
	}
	return deleted, nil
}

// ExpireIfDue 只删除已到期（expiresAt <= now）的房间，未到期时返回 ErrRoomNotExpired。
func (s *RoomService) ExpireIfDue(ctx context.Context, roomID string) (bool, error) {
	room, err := s.Room(ctx, roomID)
	if err != nil {
		if errors.Is(err, ErrRoomNotFound) {
			return false, nil
		}
		return false, err
	}
	if s.clk.Now().Before(room.ExpiresAt) {
		return false, ErrRoomNotExpired
	}
	return s.Expire(ctx, roomID)
}

// ExpiredRooms 返回 expiresAt <= now 的房间 id。
func (s *RoomService) ExpiredRooms(ctx context.Context, now time.Time) ([]string, error) {
	snaps, err := s.store.Query(ctx, docstore.From("rooms").Where("expiresAt", docstore.Lte, now).Order("expiresAt", false))
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(snaps))
	for _, snap := range snaps {
		ids = append(ids, snap.ID)
	}
	return ids, nil
}

// RoomSummary 是房间列表中的一项。
type RoomSummary struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	IsPrivate   bool      `json:"isPrivate"`
	CreatedAt   time.Time `json:"createdAt"`
	ExpiresAt   time.Time `json:"expiresAt"`
	CreatedBy   string    `json:"createdBy"`
	DisplayName string    `json:"displayName"`
	LastMessage string    `json:"lastMessage"`
	ExpiresIn   string    `json:"expiresIn"`
}

// TimeRemaining 把剩余时间格式化为 "N min" / "N hours" / "N days"。
func TimeRemaining(now, expiresAt time.Time) string {
	minutes := int(expiresAt.Sub(now) / time.Minute)
	switch {
	case minutes < 60:
		return fmt.Sprintf("%d min", minutes)
	case minutes < 1440:
		return fmt.Sprintf("%d hours", minutes/60)
	}
	return fmt.Sprintf("%d days", minutes/1440)
}

func (s *RoomService) summarize(uid string, snaps []*docstore.Snapshot) []RoomSummary {
	now := s.clk.Now()
	out := make([]RoomSummary, 0, len(snaps))
	for _, snap := range snaps {
		r, err := decodeRoom(snap)
		if err != nil {
			log.Warn().Err(err).Str("room_id", snap.ID).Msg("decode room")
			continue
		}
		name := r.MemberDetails[uid].DisplayName
		if name == "" {
			name = "You"
		}
		desc := "Public room"
		if r.IsPrivate() {
			desc = "Private room"
		}
		out = append(out, RoomSummary{
			ID:          r.ID,
			Name:        r.Name,
			IsPrivate:   r.IsPrivate(),
			CreatedAt:   r.CreatedAt,
			ExpiresAt:   r.ExpiresAt,
			CreatedBy:   r.CreatedBy,
			DisplayName: name,
			LastMessage: desc,
			ExpiresIn:   TimeRemaining(now, r.ExpiresAt),
		})
	}
	return out
}

func (s *RoomService) memberRoomsQuery(uid string) docstore.Query {
	return docstore.From("rooms").
		Where("members", docstore.ArrayContains, uid).
		Where("expiresAt", docstore.Gt, s.clk.Now()).
		Order("expiresAt", false)
}

// MemberRooms 返回 uid 所在且尚未到期的房间，按到期时间升序。
func (s *RoomService) MemberRooms(ctx context.Context, uid string) ([]RoomSummary, error) {
	snaps, err := s.store.Query(ctx, s.memberRoomsQuery(uid))
	if err != nil {
		return nil, err
	}
	return s.summarize(uid, snaps), nil
}

// WatchMemberRooms 实时订阅 uid 的房间列表。到期过滤以订阅时刻为准，之后到期的房间由看门狗移除。
func (s *RoomService) WatchMemberRooms(uid string, fn func([]RoomSummary)) docstore.Subscription {
	return s.store.WatchQuery(s.memberRoomsQuery(uid), func(snaps []*docstore.Snapshot) {
		fn(s.summarize(uid, snaps))
	})
}

// SendRoomMessage 以成员的房间显示名发送消息。
func (s *RoomService) SendRoomMessage(ctx context.Context, roomID, uid, text string) (*models.RoomMessage, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, Validation("Message cannot be empty")
	}
	room, err := s.Room(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if room.Expired(s.clk.Now()) {
		return nil, ErrRoomExpired
	}
	if !room.HasMember(uid) {
		return nil, ErrNotMember
	}
	senderName := room.MemberDetails[uid].DisplayName
	if senderName == "" {
		senderName = "Anonymous"
	}
	msg := &models.RoomMessage{
		ID:         s.store.NewID(),
		Text:       text,
		SenderID:   uid,
		SenderName: senderName,
		CreatedAt:  s.clk.Now(),
	}
	if err := s.store.Create(ctx, docstore.Doc(messagesOf(roomID), msg.ID), msg); err != nil {
		return nil, err
	}
	metrics.MessagesTotal.WithLabelValues("room").Inc()
	return msg, nil
}

func decodeRoomMessages(snaps []*docstore.Snapshot) []*models.RoomMessage {
	out := make([]*models.RoomMessage, 0, len(snaps))
	for _, snap := range snaps {
		var m models.RoomMessage
		if err := snap.DataTo(&m); err != nil {
			continue
		}
		m.ID = snap.ID
		out = append(out, &m)
	}
	return out
}

// RoomMessages 按创建时间升序返回房间消息，仅成员可读。
func (s *RoomService) RoomMessages(ctx context.Context, roomID, uid string) ([]*models.RoomMessage, error) {
	room, err := s.Room(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if !room.HasMember(uid) {
		return nil, ErrNotMember
	}
	snaps, err := s.store.Query(ctx, docstore.From(messagesOf(roomID)).Order("createdAt", false))
	if err != nil {
		return nil, err
	}
	return decodeRoomMessages(snaps), nil
}

type multiSub struct {
	once sync.Once
	subs []docstore.Subscription
}

func (m *multiSub) Cancel() {
	m.once.Do(func() {
		for _, s := range m.subs {
			s.Cancel()
		}
	})
}

// WatchRoomMessages 订阅房间消息；房间被删除或到期时调用一次 onClosed。
func (s *RoomService) WatchRoomMessages(roomID string, onMessages func([]*models.RoomMessage), onClosed func()) docstore.Subscription {
	var closeOnce sync.Once
	roomSub := s.store.WatchDoc(roomPath(roomID), func(snap *docstore.Snapshot) {
		closed := !snap.Exists
		if !closed {
			if r, err := decodeRoom(snap); err != nil || r.Expired(s.clk.Now()) {
				closed = true
			}
		}
		if closed {
			closeOnce.Do(onClosed)
		}
	})
	msgSub := s.store.WatchQuery(docstore.From(messagesOf(roomID)).Order("createdAt", false), func(snaps []*docstore.Snapshot) {
		onMessages(decodeRoomMessages(snaps))
	})
	return &multiSub{subs: []docstore.Subscription{roomSub, msgSub}}
}
