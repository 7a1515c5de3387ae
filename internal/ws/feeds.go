package ws

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/vivek5200/Temp-Chat/internal/auth"
	"github.com/vivek5200/Temp-Chat/internal/chatsync"
	"github.com/vivek5200/Temp-Chat/internal/clock"
	"github.com/vivek5200/Temp-Chat/internal/expiry"
	"github.com/vivek5200/Temp-Chat/internal/models"
	"github.com/vivek5200/Temp-Chat/internal/mw"
	"github.com/vivek5200/Temp-Chat/internal/presence"
	"github.com/vivek5200/Temp-Chat/internal/service"
)

const inboundTimeout = 10 * time.Second

// Feeds 提供各个实时订阅端点，路由需先经过鉴权中间件。
type Feeds struct {
	hub      *Hub
	engine   *chatsync.Engine
	rooms    *service.RoomService
	chats    *service.ChatService
	presence *presence.Tracker
	clk      clock.Clock
}

func NewFeeds(hub *Hub, engine *chatsync.Engine, rooms *service.RoomService, chats *service.ChatService, tracker *presence.Tracker, clk clock.Clock) *Feeds {
	return &Feeds{hub: hub, engine: engine, rooms: rooms, chats: chats, presence: tracker, clk: clk}
}

// serve 升级连接并注册到 Hub；attach 建立订阅并返回取消函数，连接断开后调用。
func (f *Feeds) serve(c *gin.Context, feed string, attach func(cl *Client) func(), onMessage func(cl *Client, in InboundMessage)) {
	sess := auth.GetSession(c)
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn().Err(err).Str("feed", feed).Msg("ws upgrade")
		return
	}
	client := newClient(f.hub, conn, sess.UID, feed)
	f.hub.register <- client
	cancel := attach(client)

	go client.writePump()
	var handler func(InboundMessage)
	if onMessage != nil {
		handler = func(in InboundMessage) { onMessage(client, in) }
	}
	client.readPump(handler)
	cancel()
}

func replyError(cl *Client, err error) {
	var svcErr *service.Error
	if errors.As(err, &svcErr) {
		cl.Send(Event{Type: "error", Error: svcErr.Message})
		return
	}
	log.Error().Err(err).Str("uid", cl.uid).Str("feed", cl.feed).Msg("ws inbound")
	cl.Send(Event{Type: "error", Error: "internal error"})
}

// ChatList 推送个人私聊列表，每次变化发送完整列表。
func (f *Feeds) ChatList(c *gin.Context) {
	sess := auth.GetSession(c)
	f.serve(c, "chats", func(cl *Client) func() {
		view := f.engine.Subscribe(sess, func(rs []chatsync.Record) {
			cl.Send(Event{Type: "chats", Data: rs})
		})
		return view.Close
	}, nil)
}

// RoomList 推送查看者的房间列表，并在房间到期时触发删除。
func (f *Feeds) RoomList(c *gin.Context) {
	sess := auth.GetSession(c)
	f.serve(c, "rooms", func(cl *Client) func() {
		viewer := expiry.NewViewer(f.rooms, f.clk, sess.UID, func(rooms []service.RoomSummary) {
			cl.Send(Event{Type: "rooms", Data: rooms})
		})
		return viewer.Close
	}, nil)
}

// RoomMessages 推送房间消息；房间删除或到期时发送 room_closed 并断开。
func (f *Feeds) RoomMessages(c *gin.Context) {
	sess := auth.GetSession(c)
	roomID := c.Param("id")
	room, err := f.rooms.Room(c.Request.Context(), roomID)
	if err != nil {
		mw.WriteError(c, err)
		return
	}
	if !room.HasMember(sess.UID) {
		mw.WriteError(c, service.ErrNotMember)
		return
	}
	f.serve(c, "room", func(cl *Client) func() {
		sub := f.rooms.WatchRoomMessages(roomID, func(msgs []*models.RoomMessage) {
			cl.Send(Event{Type: "messages", Data: models.RoomMessageViews(msgs)})
		}, func() {
			cl.Send(Event{Type: "room_closed", Data: gin.H{"room_id": roomID}})
			cl.shutdown()
		})
		return sub.Cancel
	}, func(cl *Client, in InboundMessage) {
		if in.Type != "message" {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), inboundTimeout)
		defer cancel()
		if _, err := f.rooms.SendRoomMessage(ctx, roomID, sess.UID, in.Text); err != nil {
			replyError(cl, err)
		}
	})
}

// ChatMessages 推送一对一聊天的消息，并接收发送、编辑、删除与已读。
func (f *Feeds) ChatMessages(c *gin.Context) {
	sess := auth.GetSession(c)
	chatID := c.Param("id")
	if _, err := f.chats.Chat(c.Request.Context(), chatID, sess.UID); err != nil {
		mw.WriteError(c, err)
		return
	}
	f.serve(c, "chat", func(cl *Client) func() {
		sub := f.chats.WatchMessages(chatID, func(msgs []*models.ChatMessage) {
			cl.Send(Event{Type: "messages", Data: models.ChatMessageViews(msgs)})
		})
		return sub.Cancel
	}, func(cl *Client, in InboundMessage) {
		ctx, cancel := context.WithTimeout(context.Background(), inboundTimeout)
		defer cancel()
		var err error
		switch in.Type {
		case "message":
			_, err = f.chats.SendMessage(ctx, chatID, sess.UID, in.Text)
		case "edit":
			err = f.chats.EditMessage(ctx, chatID, in.ID, sess.UID, in.Text)
		case "delete":
			err = f.chats.DeleteMessage(ctx, chatID, in.ID, sess.UID)
		case "read":
			_, err = f.chats.MarkRead(ctx, chatID, sess.UID)
		default:
			return
		}
		if err != nil {
			replyError(cl, err)
		}
	})
}

// Presence 推送某个用户的在线状态。
func (f *Feeds) Presence(c *gin.Context) {
	uid := c.Param("uid")
	if uid == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid uid"})
		return
	}
	f.serve(c, "presence", func(cl *Client) func() {
		sub := f.presence.Observe(uid, func(p presence.Presence) {
			cl.Send(Event{Type: "presence", Data: p})
		})
		return sub.Cancel
	}, nil)
}
