package server

import (
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/vivek5200/Temp-Chat/internal/auth"
	"github.com/vivek5200/Temp-Chat/internal/clock"
	"github.com/vivek5200/Temp-Chat/internal/config"
	"github.com/vivek5200/Temp-Chat/internal/expiry"
	"github.com/vivek5200/Temp-Chat/internal/models"
	"github.com/vivek5200/Temp-Chat/internal/mw"
	"github.com/vivek5200/Temp-Chat/internal/presence"
	"github.com/vivek5200/Temp-Chat/internal/service"
)

// Handler 聚合所有 HTTP handler，依赖注入 service 层。
type Handler struct {
	users    *service.UserService
	rooms    *service.RoomService
	chats    *service.ChatService
	presence *presence.Tracker
	sweeper  *expiry.Sweeper
	clk      clock.Clock
	cfg      config.Config
}

func NewHandler(cfg config.Config, clk clock.Clock, users *service.UserService, rooms *service.RoomService, chats *service.ChatService, tracker *presence.Tracker, sweeper *expiry.Sweeper) *Handler {
	return &Handler{users: users, rooms: rooms, chats: chats, presence: tracker, sweeper: sweeper, clk: clk, cfg: cfg}
}

func badPayload(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"kind": "validation", "error": "invalid payload"})
}

// roomDTO 是返回给客户端的房间，不包含口令。
type roomDTO struct {
	ID            string                         `json:"id"`
	Name          string                         `json:"name"`
	IsPrivate     bool                           `json:"isPrivate"`
	CreatedAt     time.Time                      `json:"createdAt"`
	ExpiresAt     time.Time                      `json:"expiresAt"`
	CreatedBy     string                         `json:"createdBy"`
	Members       []string                       `json:"members"`
	MemberDetails map[string]models.MemberDetail `json:"memberDetails"`
	ExpiresIn     string                         `json:"expiresIn"`
}

func (h *Handler) roomView(r *models.Room) roomDTO {
	return roomDTO{
		ID:            r.ID,
		Name:          r.Name,
		IsPrivate:     r.IsPrivate(),
		CreatedAt:     r.CreatedAt,
		ExpiresAt:     r.ExpiresAt,
		CreatedBy:     r.CreatedBy,
		Members:       r.Members,
		MemberDetails: r.MemberDetails,
		ExpiresIn:     service.TimeRemaining(h.clk.Now(), r.ExpiresAt),
	}
}

// ---- auth ----

func (h *Handler) Register(c *gin.Context) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
		Username string `json:"username"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badPayload(c)
		return
	}
	uid, err := h.users.Register(c.Request.Context(), req.Email, req.Password, req.Username)
	if err != nil {
		mw.WriteError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"uid": uid, "verificationSent": true})
}

func (h *Handler) Login(c *gin.Context) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badPayload(c)
		return
	}
	res, err := h.users.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		mw.WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) ResendVerification(c *gin.Context) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badPayload(c)
		return
	}
	if err := h.users.ResendVerification(c.Request.Context(), req.Email, req.Password); err != nil {
		mw.WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sent": true})
}

// VerifyEmail 处理邮件中的验证链接。
func (h *Handler) VerifyEmail(c *gin.Context) {
	if err := h.users.VerifyEmail(c.Request.Context(), c.Query("token")); err != nil {
		mw.WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"verified": true})
}

func (h *Handler) SendPasswordReset(c *gin.Context) {
	var req struct {
		Email string `json:"email"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badPayload(c)
		return
	}
	if err := h.users.SendPasswordReset(c.Request.Context(), req.Email); err != nil {
		mw.WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sent": true})
}

func (h *Handler) ResetPassword(c *gin.Context) {
	var req struct {
		Token    string `json:"token"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badPayload(c)
		return
	}
	if err := h.users.ResetPassword(c.Request.Context(), req.Token, req.Password); err != nil {
		mw.WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reset": true})
}

// Refresh 旋转 refresh token；非业务错误一律视为 token 无效。
func (h *Handler) Refresh(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.RefreshToken == "" {
		badPayload(c)
		return
	}
	res, err := h.users.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		if service.KindOf(err) != service.KindInternal {
			mw.WriteError(c, err)
			return
		}
		log.Warn().Err(err).Msg("refresh token")
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid refresh token"})
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) Logout(c *gin.Context) {
	if err := h.users.Logout(c.Request.Context(), auth.GetSession(c)); err != nil {
		mw.WriteError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) UsernameAvailable(c *gin.Context) {
	ok, err := h.users.UsernameAvailable(c.Request.Context(), c.Query("username"))
	if err != nil {
		mw.WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"available": ok})
}

// ---- users ----

func (h *Handler) Me(c *gin.Context) {
	u, err := h.users.Profile(c.Request.Context(), auth.GetSession(c).UID)
	if err != nil {
		mw.WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"uid": u.UID, "user": u})
}

func (h *Handler) UpdateMe(c *gin.Context) {
	var req service.ProfileUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		badPayload(c)
		return
	}
	u, err := h.users.UpdateProfile(c.Request.Context(), auth.GetSession(c).UID, req)
	if err != nil {
		mw.WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"uid": u.UID, "user": u})
}

func (h *Handler) GetUser(c *gin.Context) {
	u, err := h.users.Profile(c.Request.Context(), c.Param("uid"))
	if err != nil {
		mw.WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"uid":         u.UID,
		"username":    u.Username,
		"displayName": u.DisplayName,
		"photoURL":    u.PhotoURL,
	})
}

func (h *Handler) SearchUsers(c *gin.Context) {
	users, err := h.users.Search(c.Request.Context(), auth.GetSession(c).UID, c.Query("q"))
	if err != nil {
		mw.WriteError(c, err)
		return
	}
	type userDTO struct {
		UID         string `json:"uid"`
		Username    string `json:"username"`
		DisplayName string `json:"displayName"`
		PhotoURL    string `json:"photoURL"`
	}
	out := make([]userDTO, 0, len(users))
	for _, u := range users {
		out = append(out, userDTO{UID: u.UID, Username: u.Username, DisplayName: u.DisplayName, PhotoURL: u.PhotoURL})
	}
	c.JSON(http.StatusOK, gin.H{"users": out})
}

func (h *Handler) Presence(c *gin.Context) {
	p, err := h.presence.Get(c.Request.Context(), c.Param("uid"))
	if err != nil {
		mw.WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// ---- rooms ----

func (h *Handler) CreateRoom(c *gin.Context) {
	var in service.CreateRoomInput
	if err := c.ShouldBindJSON(&in); err != nil {
		badPayload(c)
		return
	}
	sess := auth.GetSession(c)
	in.CreatorUID = sess.UID
	if in.CreatorDisplayName == "" {
		in.CreatorDisplayName = sess.DisplayName
	}
	room, err := h.rooms.CreateRoom(c.Request.Context(), in)
	if err != nil {
		mw.WriteError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"room": h.roomView(room)})
}

func (h *Handler) JoinRoom(c *gin.Context) {
	var in service.JoinRoomInput
	if err := c.ShouldBindJSON(&in); err != nil {
		badPayload(c)
		return
	}
	in.UID = auth.GetSession(c).UID
	room, err := h.rooms.JoinRoom(c.Request.Context(), in)
	if err != nil {
		mw.WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"room": h.roomView(room)})
}

// LookupRoom 按名称查找房间，用于加入前提示是否需要口令。
func (h *Handler) LookupRoom(c *gin.Context) {
	room, err := h.rooms.LookupRoom(c.Request.Context(), c.Query("name"))
	if err != nil {
		mw.WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": room.ID, "name": room.Name, "isPrivate": room.IsPrivate(), "expiresAt": room.ExpiresAt})
}

func (h *Handler) ListRooms(c *gin.Context) {
	rooms, err := h.rooms.MemberRooms(c.Request.Context(), auth.GetSession(c).UID)
	if err != nil {
		mw.WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rooms": rooms})
}

func (h *Handler) GetRoom(c *gin.Context) {
	room, err := h.rooms.Room(c.Request.Context(), c.Param("id"))
	if err != nil {
		mw.WriteError(c, err)
		return
	}
	if !room.HasMember(auth.GetSession(c).UID) {
		mw.WriteError(c, service.ErrNotMember)
		return
	}
	if room.Expired(h.clk.Now()) {
		mw.WriteError(c, service.ErrRoomExpired)
		return
	}
	c.JSON(http.StatusOK, gin.H{"room": h.roomView(room)})
}

func (h *Handler) RoomMessages(c *gin.Context) {
	msgs, err := h.rooms.RoomMessages(c.Request.Context(), c.Param("id"), auth.GetSession(c).UID)
	if err != nil {
		mw.WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": models.RoomMessageViews(msgs)})
}

func (h *Handler) SendRoomMessage(c *gin.Context) {
	var req struct {
		Text string `json:"text"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badPayload(c)
		return
	}
	msg, err := h.rooms.SendRoomMessage(c.Request.Context(), c.Param("id"), auth.GetSession(c).UID, req.Text)
	if err != nil {
		mw.WriteError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": models.RoomMessageView{ID: msg.ID, RoomMessage: msg}})
}

// ExpireRoom 由客户端计时器在到期时调用；未到期返回 409，重复调用安全。
func (h *Handler) ExpireRoom(c *gin.Context) {
	deleted, err := h.rooms.ExpireIfDue(c.Request.Context(), c.Param("id"))
	if err != nil {
		mw.WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": deleted})
}

// ---- chats ----

func (h *Handler) OpenChat(c *gin.Context) {
	var req struct {
		UserID string `json:"userId"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badPayload(c)
		return
	}
	id, err := h.chats.GetOrCreateChat(c.Request.Context(), auth.GetSession(c).UID, req.UserID)
	if err != nil {
		mw.WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"chatId": id})
}

func (h *Handler) GetChat(c *gin.Context) {
	chat, err := h.chats.Chat(c.Request.Context(), c.Param("id"), auth.GetSession(c).UID)
	if err != nil {
		mw.WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": chat.ID, "chat": chat})
}

func (h *Handler) DeleteChat(c *gin.Context) {
	if err := h.chats.DeleteChat(c.Request.Context(), c.Param("id"), auth.GetSession(c).UID); err != nil {
		mw.WriteError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) ChatMessages(c *gin.Context) {
	msgs, err := h.chats.Messages(c.Request.Context(), c.Param("id"), auth.GetSession(c).UID)
	if err != nil {
		mw.WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": models.ChatMessageViews(msgs)})
}

func (h *Handler) SendChatMessage(c *gin.Context) {
	var req struct {
		Text string `json:"text"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badPayload(c)
		return
	}
	msg, err := h.chats.SendMessage(c.Request.Context(), c.Param("id"), auth.GetSession(c).UID, req.Text)
	if err != nil {
		mw.WriteError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": models.ChatMessageView{ID: msg.ID, ChatMessage: msg}})
}

func (h *Handler) EditChatMessage(c *gin.Context) {
	var req struct {
		Text string `json:"text"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badPayload(c)
		return
	}
	err := h.chats.EditMessage(c.Request.Context(), c.Param("id"), c.Param("msgId"), auth.GetSession(c).UID, req.Text)
	if err != nil {
		mw.WriteError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) DeleteChatMessage(c *gin.Context) {
	if err := h.chats.DeleteMessage(c.Request.Context(), c.Param("id"), c.Param("msgId"), auth.GetSession(c).UID); err != nil {
		mw.WriteError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) MarkChatRead(c *gin.Context) {
	n, err := h.chats.MarkRead(c.Request.Context(), c.Param("id"), auth.GetSession(c).UID)
	if err != nil {
		mw.WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"marked": n})
}

// ---- internal ----

// Sweep 触发一次到期清扫，供外部定时任务调用。未配置 SweepToken 时该端点关闭。
func (h *Handler) Sweep(c *gin.Context) {
	if h.cfg.SweepToken == "" {
		c.AbortWithStatus(http.StatusNotFound)
		return
	}
	if subtle.ConstantTimeCompare([]byte(auth.BearerToken(c)), []byte(h.cfg.SweepToken)) != 1 {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "invalid sweep token"})
		return
	}
	res, err := h.sweeper.Run(c.Request.Context())
	if err != nil {
		mw.WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}
