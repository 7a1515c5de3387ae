package mw

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/vivek5200/Temp-Chat/internal/service"
)

// StatusFor 把业务错误的大类映射为 HTTP 状态码。
func StatusFor(err error) int {
	switch service.KindOf(err) {
	case service.KindValidation:
		return http.StatusBadRequest
	case service.KindConflict:
		return http.StatusConflict
	case service.KindNotFound:
		return http.StatusNotFound
	case service.KindState:
		return http.StatusConflict
	case service.KindPermission:
		return http.StatusForbidden
	case service.KindTransient:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// WriteError 以统一格式返回错误；内部错误只记录日志，不向客户端暴露细节。
func WriteError(c *gin.Context, err error) {
	status := StatusFor(err)
	body := gin.H{"kind": service.KindOf(err).String()}
	var svcErr *service.Error
	switch {
	case errors.As(err, &svcErr):
		body["error"] = svcErr.Message
		if svcErr.Action != "" {
			body["action"] = svcErr.Action
		}
	case status == http.StatusServiceUnavailable:
		body["error"] = "service temporarily unavailable, please retry"
	default:
		log.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
		body["error"] = "internal error"
	}
	c.AbortWithStatusJSON(status, body)
}
