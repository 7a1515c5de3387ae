// Package identity 是账号体系的提供方：邮箱密码账号、邮箱验证与密码重置。
package identity

import (
	"context"
	"errors"

	"github.com/vivek5200/Temp-Chat/internal/models"
)

var (
	ErrEmailInUse         = errors.New("identity: email already in use")
	ErrWeakPassword       = errors.New("identity: password should be at least 6 characters")
	ErrInvalidEmail       = errors.New("identity: invalid email")
	ErrInvalidCredentials = errors.New("identity: invalid credentials")
	ErrInvalidToken       = errors.New("identity: invalid or expired token")
	ErrAccountNotFound    = errors.New("identity: account not found")
)

// MinPasswordLength 是允许的最短密码长度。
const MinPasswordLength = 6

// Provider 是注册、登录流程依赖的身份提供方。
type Provider interface {
	CreateUser(ctx context.Context, email, password string) (*models.Account, error)
	DeleteUser(ctx context.Context, uid string) error
	SignIn(ctx context.Context, email, password string) (*models.Account, error)
	GetUser(ctx context.Context, uid string) (*models.Account, error)
	UpdateProfile(ctx context.Context, uid, displayName, photoURL string) error
	SendEmailVerification(ctx context.Context, uid string) error
	VerifyEmail(ctx context.Context, token string) (string, error)
	SendPasswordReset(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, token, newPassword string) error
}
