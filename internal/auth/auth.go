package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/vivek5200/Temp-Chat/internal/config"
	"github.com/vivek5200/Temp-Chat/internal/models"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// Session 是登录后的身份信息，由 Login 返回并显式传给其他组件。
type Session struct {
	UID         string `json:"uid"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
	Verified    bool   `json:"verified"`
}

type Claims struct {
	UID         string `json:"uid"`
	Email       string `json:"email"`
	DisplayName string `json:"name"`
	Verified    bool   `json:"email_verified"`
	jwt.RegisteredClaims
}

func (c *Claims) Session() Session {
	return Session{UID: c.UID, Email: c.Email, DisplayName: c.DisplayName, Verified: c.Verified}
}

func HashPassword(pw string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(pw), bcrypt.DefaultCost)
	return string(b), err
}

func VerifyPassword(hash, pw string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(pw)) == nil
}

func GenerateAccessToken(s Session, secret string, ttlMinutes int) (string, error) {
	now := time.Now()
	claims := Claims{
		UID:         s.UID,
		Email:       s.Email,
		DisplayName: s.DisplayName,
		Verified:    s.Verified,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   s.UID,
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Duration(ttlMinutes) * time.Minute)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

func ParseAccessToken(tokenStr, secret string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	if claims, ok := token.Claims.(*Claims); ok && token.Valid && claims.UID != "" {
		return claims, nil
	}
	return nil, errors.New("invalid token")
}

func GenerateRefreshToken() (string, error) {
	b := make([]byte, 32)
	_, err := rand.Read(b)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func SaveRefreshToken(db *gorm.DB, uid, token string, expiresAt time.Time) error {
	rt := models.RefreshToken{UID: uid, Token: token, ExpiresAt: expiresAt}
	return db.Create(&rt).Error
}

func ValidateRefreshToken(db *gorm.DB, token string) (*models.RefreshToken, error) {
	var rt models.RefreshToken
	err := db.Where("token = ? AND revoked_at IS NULL AND expires_at > ?", token, time.Now()).First(&rt).Error
	if err != nil {
		return nil, err
	}
	return &rt, nil
}

func RevokeRefreshToken(db *gorm.DB, token string) error {
	now := time.Now()
	return db.Model(&models.RefreshToken{}).Where("token = ?", token).Update("revoked_at", &now).Error
}

// RevokeUserTokens 吊销某个用户全部未吊销的 refresh token，用于登出。
func RevokeUserTokens(db *gorm.DB, uid string) error {
	now := time.Now()
	return db.Model(&models.RefreshToken{}).Where("uid = ? AND revoked_at IS NULL", uid).Update("revoked_at", &now).Error
}

// BearerToken 从 Authorization 头或 token 查询参数（WebSocket 握手）中取出 token。
func BearerToken(c *gin.Context) string {
	authz := c.GetHeader("Authorization")
	if len(authz) > 7 && strings.EqualFold(authz[:7], "bearer ") {
		return strings.TrimSpace(authz[7:])
	}
	return c.Query("token")
}

func AuthMiddleware(cfg config.Config, db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenStr := BearerToken(c)
		if tokenStr == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		claims, err := ParseAccessToken(tokenStr, cfg.JWTSecret)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		var count int64
		if err := db.Model(&models.Account{}).Where("uid = ?", claims.UID).Count(&count).Error; err != nil || count == 0 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
			return
		}
		c.Set("session", claims.Session())
		c.Next()
	}
}

func GetSession(c *gin.Context) Session {
	if v, ok := c.Get("session"); ok {
		if s, ok2 := v.(Session); ok2 {
			return s
		}
	}
	return Session{}
}
