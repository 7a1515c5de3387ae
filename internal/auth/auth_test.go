package auth

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/vivek5200/Temp-Chat/internal/config"
	"github.com/vivek5200/Temp-Chat/internal/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func TestHashPassword(t *testing.T) {
	tests := []struct {
		name     string
		password string
		wantErr  bool
	}{
		{"valid password", "password123", false},
		{"empty password", "", false},
		{"long password", "a" + string(make([]byte, 70)), false}, // bcrypt max is 72 bytes
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hash, err := HashPassword(tt.password)
			if (err != nil) != tt.wantErr {
				t.Errorf("HashPassword() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && hash == "" {
				t.Error("HashPassword() returned empty hash")
			}
		})
	}
}

func TestHashPassword_DifferentHashes(t *testing.T) {
	password := "testpassword"
	hash1, _ := HashPassword(password)
	hash2, _ := HashPassword(password)

	if hash1 == hash2 {
		t.Error("HashPassword() should produce different hashes for same password")
	}
}

func TestVerifyPassword(t *testing.T) {
	password := "testpassword123"
	hash, err := HashPassword(password)
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}

	tests := []struct {
		name     string
		hash     string
		password string
		want     bool
	}{
		{"correct password", hash, password, true},
		{"wrong password", hash, "wrongpassword", false},
		{"empty password", hash, "", false},
		{"invalid hash", "invalidhash", password, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := VerifyPassword(tt.hash, tt.password); got != tt.want {
				t.Errorf("VerifyPassword() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGenerateAccessToken(t *testing.T) {
	tests := []struct {
		name       string
		uid        string
		secret     string
		ttlMinutes int
		wantErr    bool
	}{
		{"valid token", "u1", "test-secret", 15, false},
		{"empty uid", "", "test-secret", 15, false},
		{"empty secret", "u1", "", 15, false},
		{"zero ttl", "u1", "test-secret", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, err := GenerateAccessToken(Session{UID: tt.uid}, tt.secret, tt.ttlMinutes)
			if (err != nil) != tt.wantErr {
				t.Errorf("GenerateAccessToken() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && token == "" {
				t.Error("GenerateAccessToken() returned empty token")
			}
		})
	}
}

func TestParseAccessToken(t *testing.T) {
	secret := "test-secret-key"
	sess := Session{UID: "u42", Email: "a@b.co", DisplayName: "Alice", Verified: true}

	token, err := GenerateAccessToken(sess, secret, 15)
	if err != nil {
		t.Fatalf("GenerateAccessToken() error = %v", err)
	}

	tests := []struct {
		name    string
		token   string
		secret  string
		wantUID string
		wantErr bool
	}{
		{"valid token", token, secret, sess.UID, false},
		{"wrong secret", token, "wrong-secret", "", true},
		{"invalid token", "invalid.token.here", secret, "", true},
		{"empty token", "", secret, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims, err := ParseAccessToken(tt.token, tt.secret)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseAccessToken() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && claims.UID != tt.wantUID {
				t.Errorf("ParseAccessToken() UID = %v, want %v", claims.UID, tt.wantUID)
			}
			if !tt.wantErr && claims.Session() != sess {
				t.Errorf("ParseAccessToken() Session = %+v, want %+v", claims.Session(), sess)
			}
		})
	}
}

func TestParseAccessToken_Expired(t *testing.T) {
	secret := "test-secret"
	// Generate token with -1 minute TTL (already expired)
	token, err := GenerateAccessToken(Session{UID: "u1"}, secret, -1)
	if err != nil {
		t.Fatalf("GenerateAccessToken() error = %v", err)
	}

	claims, err := ParseAccessToken(token, secret)
	if err == nil {
		t.Error("ParseAccessToken() should return error for expired token")
	}
	if claims != nil {
		t.Error("ParseAccessToken() should return nil claims for expired token")
	}
}

func TestGenerateRefreshToken(t *testing.T) {
	token1, err := GenerateRefreshToken()
	if err != nil {
		t.Fatalf("GenerateRefreshToken() error = %v", err)
	}

	token2, err := GenerateRefreshToken()
	if err != nil {
		t.Fatalf("GenerateRefreshToken() error = %v", err)
	}

	if token1 == "" {
		t.Error("GenerateRefreshToken() returned empty token")
	}

	if token1 == token2 {
		t.Error("GenerateRefreshToken() should generate unique tokens")
	}

	// Check token length (hex encoded 32 bytes = 64 chars)
	if len(token1) != 64 {
		t.Errorf("GenerateRefreshToken() token length = %d, want 64", len(token1))
	}
}

func TestParseAccessToken_RejectsEmptyUID(t *testing.T) {
	token, err := GenerateAccessToken(Session{}, "secret", 15)
	if err != nil {
		t.Fatalf("GenerateAccessToken() error = %v", err)
	}
	if _, err := ParseAccessToken(token, "secret"); err == nil {
		t.Error("ParseAccessToken() should reject a token without uid")
	}
}

func TestRefreshTokens_SQLite(t *testing.T) {
	gdb, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())), &gorm.Config{})
	if err != nil {
		t.Skipf("sqlite not available: %v", err)
	}
	if err := gdb.AutoMigrate(&models.RefreshToken{}); err != nil {
		t.Skipf("migrate failed: %v", err)
	}

	rt, _ := GenerateRefreshToken()
	if err := SaveRefreshToken(gdb, "u1", rt, time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("SaveRefreshToken() error = %v", err)
	}
	rec, err := ValidateRefreshToken(gdb, rt)
	if err != nil || rec.UID != "u1" {
		t.Fatalf("ValidateRefreshToken() = %+v, %v", rec, err)
	}

	expired, _ := GenerateRefreshToken()
	_ = SaveRefreshToken(gdb, "u1", expired, time.Now().Add(-time.Hour))
	if _, err := ValidateRefreshToken(gdb, expired); err == nil {
		t.Error("ValidateRefreshToken() should reject expired tokens")
	}

	if err := RevokeUserTokens(gdb, "u1"); err != nil {
		t.Fatalf("RevokeUserTokens() error = %v", err)
	}
	if _, err := ValidateRefreshToken(gdb, rt); err == nil {
		t.Error("ValidateRefreshToken() should reject revoked tokens")
	}
}

func TestIssuer_RotateAndRevoke(t *testing.T) {
	gdb, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())), &gorm.Config{})
	if err != nil {
		t.Skipf("sqlite not available: %v", err)
	}
	if err := gdb.AutoMigrate(&models.RefreshToken{}); err != nil {
		t.Skipf("migrate failed: %v", err)
	}
	cfg := config.Config{JWTSecret: "secret", AccessTokenTTLMinutes: 15, RefreshTokenTTLDays: 7}
	iss := NewIssuer(gdb, cfg)
	ctx := context.Background()
	sess := Session{UID: "u1", Email: "a@b.co", DisplayName: "Alice", Verified: true}

	_, rt, err := iss.Issue(ctx, sess)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	lookup := func(context.Context, string) (Session, error) {
		renamed := sess
		renamed.DisplayName = "Alicia"
		return renamed, nil
	}
	at, rt2, err := iss.Rotate(ctx, rt, lookup)
	if err != nil {
		t.Fatalf("Rotate() error = %v", err)
	}
	claims, err := ParseAccessToken(at, cfg.JWTSecret)
	if err != nil || claims.DisplayName != "Alicia" {
		t.Errorf("rotated claims = %+v, %v", claims, err)
	}
	if _, _, err := iss.Rotate(ctx, rt, lookup); err == nil {
		t.Error("Rotate() should reject a used refresh token")
	}

	if err := iss.RevokeAll(ctx, "u1"); err != nil {
		t.Fatalf("RevokeAll() error = %v", err)
	}
	if _, _, err := iss.Rotate(ctx, rt2, lookup); err == nil {
		t.Error("Rotate() should reject a revoked refresh token")
	}
}
