package auth

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func newTestManager(ttl time.Duration) (*Manager, *InMemorySessionStore) {
	store := NewInMemorySessionStore()
	return NewManager([]byte("test-secret"), ttl, store), store
}

func TestManagerIssueAndValidate(t *testing.T) {
	manager, store := newTestManager(time.Minute)

	token, err := manager.Issue(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if token.AccessToken == "" || token.TokenType != "bearer" {
		t.Fatalf("unexpected token: %+v", token)
	}
	if store.Len() != 1 {
		t.Fatalf("expected one stored session, got %d", store.Len())
	}

	claims, err := manager.Validate(context.Background(), token.AccessToken)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if claims.UserID != "user-1" {
		t.Fatalf("unexpected subject %q", claims.UserID)
	}
	if !store.Has(claims.TokenID) {
		t.Fatal("expected session to be stored under the token id")
	}
}

func TestManagerIssueValidation(t *testing.T) {
	manager, _ := newTestManager(time.Minute)
	if _, err := manager.Issue(context.Background(), ""); err == nil {
		t.Fatal("expected error for empty user id")
	}
}

func TestManagerValidateFailures(t *testing.T) {
	manager, _ := newTestManager(time.Minute)

	if _, err := manager.Validate(context.Background(), ""); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected invalid token for empty input, got %v", err)
	}
	if _, err := manager.Validate(context.Background(), "not.a.jwt"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected invalid token for garbage, got %v", err)
	}

	token, err := manager.Issue(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	other := NewManager([]byte("other-secret"), time.Minute, NewInMemorySessionStore())
	if _, err := other.Validate(context.Background(), token.AccessToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected signature failure, got %v", err)
	}

	tampered := token.AccessToken[:strings.LastIndex(token.AccessToken, ".")] + ".AAAA"
	if _, err := manager.Validate(context.Background(), tampered); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected tampered token to fail, got %v", err)
	}
}

func TestManagerExpiry(t *testing.T) {
	manager, _ := newTestManager(time.Minute)
	base := time.Date(2024, time.January, 1, 12, 0, 0, 0, time.UTC)
	manager.WithNowFunc(func() time.Time { return base })

	token, err := manager.Issue(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	manager.WithNowFunc(func() time.Time { return base.Add(2 * time.Minute) })
	if _, err := manager.Validate(context.Background(), token.AccessToken); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected expired token, got %v", err)
	}

	if err := manager.Revoke(context.Background(), token.AccessToken); err != nil {
		t.Fatalf("expired tokens should still be revocable: %v", err)
	}
}

func TestManagerRevoke(t *testing.T) {
	manager, store := newTestManager(time.Hour)

	token, err := manager.Issue(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if err := manager.Revoke(context.Background(), token.AccessToken); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if store.Len() != 0 {
		t.Fatalf("expected session removed, %d remain", store.Len())
	}
	if _, err := manager.Validate(context.Background(), token.AccessToken); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected session not found after revoke, got %v", err)
	}
	if err := manager.Revoke(context.Background(), token.AccessToken); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected second revoke to report missing session, got %v", err)
	}
}
