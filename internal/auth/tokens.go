package auth

import (
	"context"
	"time"

	"github.com/vivek5200/Temp-Chat/internal/config"
	"gorm.io/gorm"
)

// Issuer 签发 access token 并管理 refresh token 的旋转与吊销。
type Issuer struct {
	db  *gorm.DB
	cfg config.Config
}

func NewIssuer(db *gorm.DB, cfg config.Config) *Issuer {
	return &Issuer{db: db, cfg: cfg}
}

func (i *Issuer) refreshExpiry() time.Time {
	return time.Now().Add(time.Duration(i.cfg.RefreshTokenTTLDays) * 24 * time.Hour)
}

// Issue 为登录成功的会话签发 token 对。
func (i *Issuer) Issue(ctx context.Context, s Session) (string, string, error) {
	at, err := GenerateAccessToken(s, i.cfg.JWTSecret, i.cfg.AccessTokenTTLMinutes)
	if err != nil {
		return "", "", err
	}
	rt, err := GenerateRefreshToken()
	if err != nil {
		return "", "", err
	}
	if err := SaveRefreshToken(i.db.WithContext(ctx), s.UID, rt, i.refreshExpiry()); err != nil {
		return "", "", err
	}
	return at, rt, nil
}

// Rotate 验证旧 refresh token 并签发新 token 对（旋转刷新）。lookup 负责按 uid 重建最新的会话信息。
func (i *Issuer) Rotate(ctx context.Context, oldRT string, lookup func(ctx context.Context, uid string) (Session, error)) (string, string, error) {
	var accessToken, refreshToken string
	err := i.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rec, err := ValidateRefreshToken(tx, oldRT)
		if err != nil {
			return err
		}
		if err := RevokeRefreshToken(tx, oldRT); err != nil {
			return err
		}
		s, err := lookup(ctx, rec.UID)
		if err != nil {
			return err
		}
		at, err := GenerateAccessToken(s, i.cfg.JWTSecret, i.cfg.AccessTokenTTLMinutes)
		if err != nil {
			return err
		}
		newRT, err := GenerateRefreshToken()
		if err != nil {
			return err
		}
		if err := SaveRefreshToken(tx, rec.UID, newRT, i.refreshExpiry()); err != nil {
			return err
		}
		accessToken = at
		refreshToken = newRT
		return nil
	})
	if err != nil {
		return "", "", err
	}
	return accessToken, refreshToken, nil
}

func (i *Issuer) RevokeAll(ctx context.Context, uid string) error {
	return RevokeUserTokens(i.db.WithContext(ctx), uid)
}
