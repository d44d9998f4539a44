package jwt

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestAccessTokenRoundTrip(t *testing.T) {
	svc := NewService("secret", time.Minute)
	userID := uuid.New()

	token, err := svc.GenerateAccessToken(userID, RoleAdmin)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	claims, err := svc.ValidateAccessToken(token)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if claims.UserID != userID || claims.Role != RoleAdmin {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestValidateAccessToken_Rejects(t *testing.T) {
	svc := NewService("secret", time.Minute)
	other := NewService("other-secret", time.Minute)

	token, _ := other.GenerateAccessToken(uuid.New(), RolePlayer)
	if _, err := svc.ValidateAccessToken(token); err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken for foreign signature, got %v", err)
	}

	expired := NewService("secret", -time.Minute)
	token, _ = expired.GenerateAccessToken(uuid.New(), RolePlayer)
	if _, err := svc.ValidateAccessToken(token); err != ErrExpiredToken {
		t.Fatalf("expected ErrExpiredToken, got %v", err)
	}
}

func TestAccessTokenLivesForAccessTTL(t *testing.T) {
	svc := NewService("secret", 90*time.Minute)

	token, err := svc.GenerateAccessToken(uuid.New(), RolePlayer)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	claims, err := svc.ValidateAccessToken(token)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if got := claims.ExpiresAt.Sub(claims.IssuedAt.Time); got != svc.GetAccessTTL() {
		t.Fatalf("expected lifetime %s, got %s", svc.GetAccessTTL(), got)
	}
}
