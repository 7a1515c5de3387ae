package identity

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/vivek5200/Temp-Chat/internal/auth"
	"github.com/vivek5200/Temp-Chat/internal/clock"
	"github.com/vivek5200/Temp-Chat/internal/models"
	"gorm.io/gorm"
)

const (
	purposeVerifyEmail   = "verify_email"
	purposeResetPassword = "reset_password"

	verifyTokenTTL = 24 * time.Hour
	resetTokenTTL  = time.Hour
)

// LocalProvider 把账号保存在 accounts 表，一次性 token 保存在 action_tokens 表。
type LocalProvider struct {
	db      *gorm.DB
	mailer  Mailer
	clk     clock.Clock
	baseURL string
}

func NewLocalProvider(db *gorm.DB, mailer Mailer, clk clock.Clock, baseURL string) *LocalProvider {
	if mailer == nil {
		mailer = LogMailer{}
	}
	return &LocalProvider{db: db, mailer: mailer, clk: clk, baseURL: strings.TrimRight(baseURL, "/")}
}

func normalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", ErrInvalidEmail
	}
	return email, nil
}

// CreateUser 创建未验证的邮箱密码账号。
func (p *LocalProvider) CreateUser(ctx context.Context, email, password string) (*models.Account, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}
	if len(password) < MinPasswordLength {
		return nil, ErrWeakPassword
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, err
	}
	acct := models.Account{UID: uuid.NewString(), Email: email, PasswordHash: hash}
	var count int64
	if err := p.db.WithContext(ctx).Model(&models.Account{}).Where("email = ?", email).Count(&count).Error; err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, ErrEmailInUse
	}
	if err := p.db.WithContext(ctx).Create(&acct).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrEmailInUse
		}
		return nil, err
	}
	return &acct, nil
}

func (p *LocalProvider) DeleteUser(ctx context.Context, uid string) error {
	return p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("uid = ?", uid).Delete(&models.ActionToken{}).Error; err != nil {
			return err
		}
		return tx.Where("uid = ?", uid).Delete(&models.Account{}).Error
	})
}

// SignIn 校验邮箱密码。未验证邮箱的账号也能登录成功，由调用方决定是否放行。
func (p *LocalProvider) SignIn(ctx context.Context, email, password string) (*models.Account, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	var acct models.Account
	if err := p.db.WithContext(ctx).Where("email = ?", email).First(&acct).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if !auth.VerifyPassword(acct.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}
	return &acct, nil
}

func (p *LocalProvider) GetUser(ctx context.Context, uid string) (*models.Account, error) {
	var acct models.Account
	if err := p.db.WithContext(ctx).Where("uid = ?", uid).First(&acct).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &acct, nil
}

func (p *LocalProvider) UpdateProfile(ctx context.Context, uid, displayName, photoURL string) error {
	res := p.db.WithContext(ctx).Model(&models.Account{}).Where("uid = ?", uid).
		Updates(map[string]any{"display_name": displayName, "photo_url": photoURL})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// SendEmailVerification 生成 24 小时有效的验证链接并投递。
func (p *LocalProvider) SendEmailVerification(ctx context.Context, uid string) error {
	acct, err := p.GetUser(ctx, uid)
	if err != nil {
		return err
	}
	token, err := p.issueToken(ctx, uid, purposeVerifyEmail, verifyTokenTTL)
	if err != nil {
		return err
	}
	return p.mailer.Send(ctx, acct.Email, "Verify your email", p.baseURL+"/api/v1/auth/verify?token="+token)
}

// VerifyEmail 消费验证 token 并把账号标记为已验证，返回账号 uid。
func (p *LocalProvider) VerifyEmail(ctx context.Context, token string) (string, error) {
	var uid string
	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rec, err := p.consumeToken(tx, token, purposeVerifyEmail)
		if err != nil {
			return err
		}
		uid = rec.UID
		return tx.Model(&models.Account{}).Where("uid = ?", rec.UID).Update("email_verified", true).Error
	})
	return uid, err
}

func (p *LocalProvider) SendPasswordReset(ctx context.Context, email string) error {
	email, err := normalizeEmail(email)
	if err != nil {
		return err
	}
	var acct models.Account
	if err := p.db.WithContext(ctx).Where("email = ?", email).First(&acct).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrAccountNotFound
		}
		return err
	}
	token, err := p.issueToken(ctx, acct.UID, purposeResetPassword, resetTokenTTL)
	if err != nil {
		return err
	}
	return p.mailer.Send(ctx, acct.Email, "Reset your password", p.baseURL+"/reset-password?token="+token)
}

func (p *LocalProvider) ResetPassword(ctx context.Context, token, newPassword string) error {
	if len(newPassword) < MinPasswordLength {
		return ErrWeakPassword
	}
	hash, err := auth.HashPassword(newPassword)
	if err != nil {
		return err
	}
	return p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rec, err := p.consumeToken(tx, token, purposeResetPassword)
		if err != nil {
			return err
		}
		return tx.Model(&models.Account{}).Where("uid = ?", rec.UID).Update("password_hash", hash).Error
	})
}

func (p *LocalProvider) issueToken(ctx context.Context, uid, purpose string, ttl time.Duration) (string, error) {
	token, err := auth.GenerateRefreshToken()
	if err != nil {
		return "", err
	}
	rec := models.ActionToken{UID: uid, Purpose: purpose, Token: token, ExpiresAt: p.clk.Now().Add(ttl)}
	if err := p.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return "", err
	}
	return token, nil
}

func (p *LocalProvider) consumeToken(tx *gorm.DB, token, purpose string) (*models.ActionToken, error) {
	var rec models.ActionToken
	err := tx.Where("token = ? AND purpose = ? AND used_at IS NULL AND expires_at > ?", token, purpose, p.clk.Now()).First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, err
	}
	now := p.clk.Now()
	if err := tx.Model(&rec).Update("used_at", &now).Error; err != nil {
		return nil, err
	}
	return &rec, nil
}
