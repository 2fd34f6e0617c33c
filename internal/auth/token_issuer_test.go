package auth

import (
	"context"
	"testing"
	"time"
)

func TestTokenIssuerIssuesSessionTokens(t *testing.T) {
	clockNow := time.Date(2024, 9, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return clockNow }
	issuer, err := NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte(testSessionSigningSecret),
		TokenTTL:      15 * time.Minute,
		Clock:         clock,
	})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}

	tokenString, expiresAt, err := issuer.IssueSessionToken(context.Background(), OperatorIdentity{
		ID:    "operator-1",
		Email: "ops@example.com",
		Name:  "Ops",
		Roles: []string{"admin"},
	})
	if err != nil {
		t.Fatalf("expected successful issuance: %v", err)
	}
	if !expiresAt.Equal(clockNow.Add(15 * time.Minute)) {
		t.Fatalf("unexpected expiry %s", expiresAt)
	}

	validator := newTestValidator(t, clock)
	claims, err := validator.ValidateToken(tokenString)
	if err != nil {
		t.Fatalf("expected issued token to validate: %v", err)
	}
	if claims.OperatorID() != "operator-1" {
		t.Fatalf("unexpected subject %s", claims.Subject)
	}
	if claims.Email != "ops@example.com" || claims.Name != "Ops" {
		t.Fatalf("unexpected identity %s <%s>", claims.Name, claims.Email)
	}
	if claims.Issuer != defaultSessionIssuer {
		t.Fatalf("unexpected issuer %s", claims.Issuer)
	}
	if !claims.HasRole("admin") || claims.HasRole("viewer") {
		t.Fatalf("unexpected roles %#v", claims.Roles)
	}
}

func TestTokenIssuerRejectsMissingSecret(t *testing.T) {
	_, err := NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: nil,
		TokenTTL:      30 * time.Minute,
	})
	if err == nil {
		t.Fatalf("expected constructor error for missing secret")
	}
}

func TestTokenIssuerRequiresSubject(t *testing.T) {
	issuer, err := NewTokenIssuer(TokenIssuerConfig{SigningSecret: []byte("secret")})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}
	if _, _, err := issuer.IssueSessionToken(context.Background(), OperatorIdentity{Email: "ops@example.com"}); err == nil {
		t.Fatalf("expected error for missing subject")
	}
}

func TestNewTokenIssuerDefaultsTTL(t *testing.T) {
	clockNow := time.Date(2024, 9, 1, 12, 0, 0, 0, time.UTC)
	issuer, err := NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte("secret"),
		Clock:         func() time.Time { return clockNow },
	})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}
	_, expiresAt, err := issuer.IssueSessionToken(context.Background(), OperatorIdentity{ID: "operator-1"})
	if err != nil {
		t.Fatalf("unexpected issuance error: %v", err)
	}
	if !expiresAt.Equal(clockNow.Add(defaultTokenTTL)) {
		t.Fatalf("expected default ttl, got expiry %s", expiresAt)
	}
}
