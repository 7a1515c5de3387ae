package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/vivek5200/Temp-Chat/internal/auth"
	"github.com/vivek5200/Temp-Chat/internal/config"
	"github.com/vivek5200/Temp-Chat/internal/metrics"
	"github.com/vivek5200/Temp-Chat/internal/mw"
	"github.com/vivek5200/Temp-Chat/internal/ws"
)

// SetupRouter 统一初始化 Gin 中间件、REST API 以及 WebSocket 端点。feeds 为 nil 时不注册实时端点。
func SetupRouter(cfg config.Config, db *gorm.DB, h *Handler, feeds *ws.Feeds, rl *mw.RL) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(metrics.GinMiddleware())
	r.Use(mw.CORS(cfg.Env))
	if rl != nil {
		r.Use(mw.RateLimit(rl))
	}

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.POST("/internal/sweep", h.Sweep)

	api := r.Group("/api/v1")
	api.POST("/auth/register", h.Register)
	api.POST("/auth/login", h.Login)
	api.POST("/auth/refresh", h.Refresh)
	api.POST("/auth/verification", h.ResendVerification)
	api.GET("/auth/verify", h.VerifyEmail)
	api.POST("/auth/password-reset", h.SendPasswordReset)
	api.POST("/auth/password-reset/confirm", h.ResetPassword)
	api.GET("/usernames/available", h.UsernameAvailable)

	// 需要 Bearer Token 的业务接口。
	authed := api.Group("")
	authed.Use(auth.AuthMiddleware(cfg, db))

	authed.POST("/auth/logout", h.Logout)
	authed.GET("/me", h.Me)
	authed.PATCH("/me", h.UpdateMe)
	authed.GET("/users", h.SearchUsers)
	authed.GET("/users/:uid", h.GetUser)
	authed.GET("/users/:uid/presence", h.Presence)

	authed.POST("/rooms", h.CreateRoom)
	authed.POST("/rooms/join", h.JoinRoom)
	authed.GET("/rooms/lookup", h.LookupRoom)
	authed.GET("/rooms", h.ListRooms)
	authed.GET("/rooms/:id", h.GetRoom)
	authed.GET("/rooms/:id/messages", h.RoomMessages)
	authed.POST("/rooms/:id/messages", h.SendRoomMessage)
	authed.POST("/rooms/:id/expire", h.ExpireRoom)

	authed.POST("/chats", h.OpenChat)
	authed.GET("/chats/:id", h.GetChat)
	authed.DELETE("/chats/:id", h.DeleteChat)
	authed.GET("/chats/:id/messages", h.ChatMessages)
	authed.POST("/chats/:id/messages", h.SendChatMessage)
	authed.PATCH("/chats/:id/messages/:msgId", h.EditChatMessage)
	authed.DELETE("/chats/:id/messages/:msgId", h.DeleteChatMessage)
	authed.POST("/chats/:id/read", h.MarkChatRead)

	if feeds != nil {
		live := r.Group("/ws")
		live.Use(auth.AuthMiddleware(cfg, db))
		live.GET("/chats", feeds.ChatList)
		live.GET("/chats/:id", feeds.ChatMessages)
		live.GET("/rooms", feeds.RoomList)
		live.GET("/rooms/:id", feeds.RoomMessages)
		live.GET("/presence/:uid", feeds.Presence)
	}
	return r
}
