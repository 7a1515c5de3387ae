package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/vivek5200/Temp-Chat/internal/auth"
	"github.com/vivek5200/Temp-Chat/internal/cache"
	"github.com/vivek5200/Temp-Chat/internal/clock"
	"github.com/vivek5200/Temp-Chat/internal/docstore"
	"github.com/vivek5200/Temp-Chat/internal/identity"
	"github.com/vivek5200/Temp-Chat/internal/models"
)

// fakeProvider 是内存中的身份提供方。
type fakeProvider struct {
	mu        sync.Mutex
	seq       int
	accounts  map[string]*models.Account
	passwords map[string]string
	sent      []string
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{accounts: map[string]*models.Account{}, passwords: map[string]string{}}
}

func (p *fakeProvider) byEmail(email string) *models.Account {
	for _, a := range p.accounts {
		if a.Email == email {
			return a
		}
	}
	return nil
}

func (p *fakeProvider) CreateUser(ctx context.Context, email, password string) (*models.Account, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	email = strings.ToLower(email)
	if !strings.Contains(email, "@") {
		return nil, identity.ErrInvalidEmail
	}
	if len(password) < identity.MinPasswordLength {
		return nil, identity.ErrWeakPassword
	}
	if p.byEmail(email) != nil {
		return nil, identity.ErrEmailInUse
	}
	p.seq++
	a := &models.Account{UID: fmt.Sprintf("uid-%d", p.seq), Email: email}
	p.accounts[a.UID] = a
	p.passwords[a.UID] = password
	cp := *a
	return &cp, nil
}

func (p *fakeProvider) DeleteUser(ctx context.Context, uid string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.accounts, uid)
	delete(p.passwords, uid)
	return nil
}

func (p *fakeProvider) SignIn(ctx context.Context, email, password string) (*models.Account, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	a := p.byEmail(strings.ToLower(email))
	if a == nil || p.passwords[a.UID] != password {
		return nil, identity.ErrInvalidCredentials
	}
	cp := *a
	return &cp, nil
}

func (p *fakeProvider) GetUser(ctx context.Context, uid string) (*models.Account, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	a, ok := p.accounts[uid]
	if !ok {
		return nil, identity.ErrAccountNotFound
	}
	cp := *a
	return &cp, nil
}

func (p *fakeProvider) UpdateProfile(ctx context.Context, uid, displayName, photoURL string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	a, ok := p.accounts[uid]
	if !ok {
		return identity.ErrAccountNotFound
	}
	a.DisplayName, a.PhotoURL = displayName, photoURL
	return nil
}

func (p *fakeProvider) SendEmailVerification(ctx context.Context, uid string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, uid)
	return nil
}

// VerifyEmail 把 token 当作 uid 使用。
func (p *fakeProvider) VerifyEmail(ctx context.Context, token string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	a, ok := p.accounts[token]
	if !ok {
		return "", identity.ErrInvalidToken
	}
	a.EmailVerified = true
	return a.UID, nil
}

func (p *fakeProvider) SendPasswordReset(ctx context.Context, email string) error { return nil }

func (p *fakeProvider) ResetPassword(ctx context.Context, token, newPassword string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.accounts[token]; !ok {
		return identity.ErrInvalidToken
	}
	p.passwords[token] = newPassword
	return nil
}

func (p *fakeProvider) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.accounts)
}

func (p *fakeProvider) verificationsSent() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sent)
}

type fakeTokens struct {
	mu      sync.Mutex
	live    map[string]string // refresh token -> uid
	seq     int
	revoked []string
}

func newFakeTokens() *fakeTokens { return &fakeTokens{live: map[string]string{}} }

func (f *fakeTokens) Issue(ctx context.Context, s auth.Session) (string, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	rt := fmt.Sprintf("rt-%d", f.seq)
	f.live[rt] = s.UID
	return "at-" + s.UID + "-" + s.DisplayName, rt, nil
}

func (f *fakeTokens) Rotate(ctx context.Context, oldRT string, lookup func(ctx context.Context, uid string) (auth.Session, error)) (string, string, error) {
	f.mu.Lock()
	uid, ok := f.live[oldRT]
	delete(f.live, oldRT)
	f.mu.Unlock()
	if !ok {
		return "", "", errors.New("invalid refresh token")
	}
	sess, err := lookup(ctx, uid)
	if err != nil {
		return "", "", err
	}
	return f.Issue(ctx, sess)
}

func (f *fakeTokens) RevokeAll(ctx context.Context, uid string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for rt, owner := range f.live {
		if owner == uid {
			delete(f.live, rt)
		}
	}
	f.revoked = append(f.revoked, uid)
	return nil
}

var errInjected = errors.New("injected failure")

// failingStore 在事务中对匹配前缀的 Create 注入失败。
type failingStore struct {
	docstore.Store
	failCreate string
}

func (s *failingStore) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx docstore.Tx) error) error {
	return s.Store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		return fn(ctx, &failingTx{Tx: tx, failCreate: s.failCreate})
	})
}

type failingTx struct {
	docstore.Tx
	failCreate string
}

func (t *failingTx) Create(path string, data any) error {
	if strings.HasPrefix(path, t.failCreate) {
		return errInjected
	}
	return t.Tx.Create(path, data)
}

type env struct {
	ctx      context.Context
	clk      *clock.FakeClock
	store    docstore.Store
	profiles *cache.Profiles
	provider *fakeProvider
	tokens   *fakeTokens
	users    *UserService
	rooms    *RoomService
	chats    *ChatService
}

func newEnv() *env {
	clk := clock.Fake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	store := docstore.NewMemoryStore(clk)
	profiles := cache.NewProfiles(store, nil, clk, time.Minute)
	provider := newFakeProvider()
	tokens := newFakeTokens()
	return &env{
		ctx:      context.Background(),
		clk:      clk,
		store:    store,
		profiles: profiles,
		provider: provider,
		tokens:   tokens,
		users:    NewUserService(store, provider, tokens, profiles, clk),
		rooms:    NewRoomService(store, clk, DefaultRoomTTLMinutes),
		chats:    NewChatService(store, clk, profiles),
	}
}

func (e *env) exists(path string) bool {
	snap, err := e.store.Get(e.ctx, path)
	return err == nil && snap.Exists
}

func (e *env) count(collection string) int {
	snaps, err := e.store.Query(e.ctx, docstore.From(collection))
	if err != nil {
		return -1
	}
	return len(snaps)
}
