package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/vivek5200/Temp-Chat/internal/auth"
	"github.com/vivek5200/Temp-Chat/internal/cache"
	"github.com/vivek5200/Temp-Chat/internal/clock"
	"github.com/vivek5200/Temp-Chat/internal/docstore"
	"github.com/vivek5200/Temp-Chat/internal/identity"
	"github.com/vivek5200/Temp-Chat/internal/models"
)

const (
	usernameSearchLimit    = 5
	displayNameSearchLimit = 10
)

// Tokens 是登录会话的 token 管理方，生产环境由 auth.Issuer 实现。
type Tokens interface {
	Issue(ctx context.Context, s auth.Session) (string, string, error)
	Rotate(ctx context.Context, oldRT string, lookup func(ctx context.Context, uid string) (auth.Session, error)) (string, string, error)
	RevokeAll(ctx context.Context, uid string) error
}

// UserService 封装注册、登录与用户资料相关的业务逻辑。
type UserService struct {
	store    docstore.Store
	provider identity.Provider
	tokens   Tokens
	profiles *cache.Profiles
	clk      clock.Clock

	mu       sync.Mutex
	onLogout []func(uid string)
}

func NewUserService(store docstore.Store, provider identity.Provider, tokens Tokens, profiles *cache.Profiles, clk clock.Clock) *UserService {
	return &UserService{store: store, provider: provider, tokens: tokens, profiles: profiles, clk: clk}
}

// OnLogout 注册登出回调，用于关闭该用户的实时订阅。
func (s *UserService) OnLogout(fn func(uid string)) {
	s.mu.Lock()
	s.onLogout = append(s.onLogout, fn)
	s.mu.Unlock()
}

func mapProviderErr(err error) error {
	switch {
	case errors.Is(err, identity.ErrEmailInUse):
		return ErrEmailInUse
	case errors.Is(err, identity.ErrWeakPassword):
		return ErrWeakPassword
	case errors.Is(err, identity.ErrInvalidEmail):
		return ErrInvalidEmail
	case errors.Is(err, identity.ErrInvalidCredentials):
		return ErrInvalidCredentials
	case errors.Is(err, identity.ErrInvalidToken):
		return ErrInvalidToken
	case errors.Is(err, identity.ErrAccountNotFound):
		return ErrUserNotFound
	}
	return err
}

// UsernameAvailable 查询用户名是否未被占用，供注册表单的防抖检查使用。
func (s *UserService) UsernameAvailable(ctx context.Context, username string) (bool, error) {
	lower := strings.ToLower(strings.TrimSpace(username))
	if lower == "" {
		return false, Validation("Please enter a username")
	}
	snap, err := s.store.Get(ctx, docstore.Doc("usernames", lower))
	if err != nil {
		return false, err
	}
	return !snap.Exists, nil
}

// Register 先创建身份账号，再在一个存储事务中完成用户名预留与资料创建。
// 事务失败时删除该账号，不留下部分状态。返回新用户的 uid。
// 身份提供方不在事务内调用：两者共用单连接的 SQLite 时，事务会占住唯一的连接。
func (s *UserService) Register(ctx context.Context, email, password, username string) (string, error) {
	email = strings.TrimSpace(email)
	username = strings.TrimSpace(username)
	if email == "" || password == "" {
		return "", Validation("Please enter both email and password")
	}
	if username == "" || strings.Contains(username, "/") {
		return "", Validation("Please enter a username")
	}
	lower := strings.ToLower(username)
	reservationPath := docstore.Doc("usernames", lower)

	// 预检只用于避免无谓地创建账号，最终以事务内的检查为准。
	if available, err := s.UsernameAvailable(ctx, lower); err != nil {
		return "", err
	} else if !available {
		return "", ErrUsernameTaken
	}
	acct, err := s.provider.CreateUser(ctx, email, password)
	if err != nil {
		return "", mapProviderErr(err)
	}

	err = s.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		snap, err := tx.Get(reservationPath)
		if err != nil {
			return err
		}
		if snap.Exists {
			return ErrUsernameTaken
		}
		now := s.clk.Now()
		if err := tx.Create(reservationPath, models.UsernameReservation{UID: acct.UID, CreatedAt: now}); err != nil {
			return err
		}
		return tx.Create(docstore.Doc("users", acct.UID), models.User{
			Email:       acct.Email,
			Username:    lower,
			DisplayName: username,
			Chats:       []string{},
			CreatedAt:   now,
		})
	})
	if err != nil {
		if derr := s.provider.DeleteUser(context.WithoutCancel(ctx), acct.UID); derr != nil {
			log.Error().Err(derr).Str("uid", acct.UID).Msg("register compensate delete account")
		}
		if errors.Is(err, docstore.ErrAlreadyExists) {
			return "", ErrUsernameTaken
		}
		return "", err
	}

	if err := s.provider.UpdateProfile(ctx, acct.UID, username, ""); err != nil {
		log.Warn().Err(err).Str("uid", acct.UID).Msg("register set display name")
	}
	if err := s.provider.SendEmailVerification(ctx, acct.UID); err != nil {
		log.Warn().Err(err).Str("uid", acct.UID).Msg("register send verification")
	}
	return acct.UID, nil
}

// LoginResult 登录成功后返回的数据。
type LoginResult struct {
	Session      auth.Session `json:"user"`
	AccessToken  string       `json:"access_token"`
	RefreshToken string       `json:"refresh_token"`
}

// Login 校验邮箱密码并签发 token 对；邮箱未验证时返回 ErrEmailNotVerified。
func (s *UserService) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	if strings.TrimSpace(email) == "" || password == "" {
		return nil, Validation("Please enter both email and password")
	}
	acct, err := s.provider.SignIn(ctx, email, password)
	if err != nil {
		return nil, mapProviderErr(err)
	}
	if !acct.EmailVerified {
		return nil, ErrEmailNotVerified
	}
	sess := s.sessionFor(ctx, acct)
	at, rt, err := s.tokens.Issue(ctx, sess)
	if err != nil {
		return nil, fmt.Errorf("issue tokens: %w", err)
	}
	return &LoginResult{Session: sess, AccessToken: at, RefreshToken: rt}, nil
}

func (s *UserService) sessionFor(ctx context.Context, acct *models.Account) auth.Session {
	name := acct.DisplayName
	if u, err := s.profiles.Get(ctx, acct.UID); err == nil && u.DisplayName != "" {
		name = u.DisplayName
	}
	return auth.Session{UID: acct.UID, Email: acct.Email, DisplayName: name, Verified: acct.EmailVerified}
}

// ResendVerification 重新登录后补发验证邮件。
func (s *UserService) ResendVerification(ctx context.Context, email, password string) error {
	acct, err := s.provider.SignIn(ctx, email, password)
	if err != nil {
		return mapProviderErr(err)
	}
	if acct.EmailVerified {
		return nil
	}
	return mapProviderErr(s.provider.SendEmailVerification(ctx, acct.UID))
}

func (s *UserService) VerifyEmail(ctx context.Context, token string) error {
	if token == "" {
		return ErrInvalidToken
	}
	_, err := s.provider.VerifyEmail(ctx, token)
	return mapProviderErr(err)
}

func (s *UserService) SendPasswordReset(ctx context.Context, email string) error {
	if strings.TrimSpace(email) == "" {
		return Validation("Please enter your email")
	}
	return mapProviderErr(s.provider.SendPasswordReset(ctx, email))
}

func (s *UserService) ResetPassword(ctx context.Context, token, newPassword string) error {
	return mapProviderErr(s.provider.ResetPassword(ctx, token, newPassword))
}

// RefreshResult 刷新 token 后返回的新 token 对。
type RefreshResult struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// Refresh 旋转 refresh token。
func (s *UserService) Refresh(ctx context.Context, refreshToken string) (*RefreshResult, error) {
	at, rt, err := s.tokens.Rotate(ctx, refreshToken, func(ctx context.Context, uid string) (auth.Session, error) {
		acct, err := s.provider.GetUser(ctx, uid)
		if err != nil {
			return auth.Session{}, err
		}
		return s.sessionFor(ctx, acct), nil
	})
	if err != nil {
		return nil, err
	}
	return &RefreshResult{AccessToken: at, RefreshToken: rt}, nil
}

// Logout 吊销 refresh token 并通知实时层关闭该用户的订阅。
func (s *UserService) Logout(ctx context.Context, sess auth.Session) error {
	if err := s.tokens.RevokeAll(ctx, sess.UID); err != nil {
		return err
	}
	s.mu.Lock()
	hooks := append([]func(string){}, s.onLogout...)
	s.mu.Unlock()
	for _, fn := range hooks {
		fn(sess.UID)
	}
	return nil
}

// Profile 读取 users/{uid}。
func (s *UserService) Profile(ctx context.Context, uid string) (*models.User, error) {
	snap, err := s.store.Get(ctx, docstore.Doc("users", uid))
	if err != nil {
		return nil, err
	}
	if !snap.Exists {
		return nil, ErrUserNotFound
	}
	var u models.User
	if err := snap.DataTo(&u); err != nil {
		return nil, err
	}
	u.UID = uid
	return &u, nil
}

// ProfileUpdate 中为 nil 的字段保持不变。
type ProfileUpdate struct {
	DisplayName *string `json:"displayName"`
	PhotoURL    *string `json:"photoURL"`
}

// UpdateProfile 以字段合并的方式更新资料，并同步到身份提供方。
func (s *UserService) UpdateProfile(ctx context.Context, uid string, in ProfileUpdate) (*models.User, error) {
	var updates []docstore.Update
	if in.DisplayName != nil {
		name := strings.TrimSpace(*in.DisplayName)
		if name == "" {
			return nil, Validation("Display name cannot be empty")
		}
		updates = append(updates, docstore.Update{Path: "displayName", Value: name})
	}
	if in.PhotoURL != nil {
		updates = append(updates, docstore.Update{Path: "photoURL", Value: strings.TrimSpace(*in.PhotoURL)})
	}
	if len(updates) > 0 {
		if err := s.store.Update(ctx, docstore.Doc("users", uid), updates...); err != nil {
			if errors.Is(err, docstore.ErrNotFound) {
				return nil, ErrUserNotFound
			}
			return nil, err
		}
		s.profiles.Invalidate(ctx, uid)
	}
	u, err := s.Profile(ctx, uid)
	if err != nil {
		return nil, err
	}
	if err := s.provider.UpdateProfile(ctx, uid, u.DisplayName, u.PhotoURL); err != nil {
		log.Warn().Err(err).Str("uid", uid).Msg("sync provider profile")
	}
	return u, nil
}

// Search 按用户名精确匹配与显示名前缀匹配查找用户，排除自己并去重。
func (s *UserService) Search(ctx context.Context, selfUID, term string) ([]*models.User, error) {
	term = strings.TrimSpace(term)
	if term == "" {
		return []*models.User{}, nil
	}
	byUsername, err := s.store.Query(ctx, docstore.From("users").
		Where("username", docstore.Eq, strings.ToLower(term)).Take(usernameSearchLimit))
	if err != nil {
		return nil, err
	}
	byDisplayName, err := s.store.Query(ctx, docstore.From("users").
		Where("displayName", docstore.Gte, term).
		Where("displayName", docstore.Lte, term+"\uf8ff").
		Order("displayName", false).Take(displayNameSearchLimit))
	if err != nil {
		return nil, err
	}

	out := []*models.User{}
	seen := map[string]bool{selfUID: true}
	for _, snap := range append(byUsername, byDisplayName...) {
		if seen[snap.ID] {
			continue
		}
		seen[snap.ID] = true
		var u models.User
		if err := snap.DataTo(&u); err != nil {
			continue
		}
		u.UID = snap.ID
		out = append(out, &u)
	}
	return out, nil
}
