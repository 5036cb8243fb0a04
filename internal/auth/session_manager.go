package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/geoclip/geoclip/internal/models"
)

var (
	// ErrSessionNotFound indicates the token's session was revoked or never issued.
	ErrSessionNotFound = errors.New("session not found")
	// ErrTokenExpired indicates the access token is past its expiry.
	ErrTokenExpired = errors.New("access token expired")
	// ErrInvalidToken indicates the token is malformed or carries a bad signature.
	ErrInvalidToken = errors.New("invalid access token")
)

// SessionStore persists issued tokens so they can be revoked and survive restarts.
type SessionStore interface {
	Save(ctx context.Context, session Session) error
	Find(ctx context.Context, tokenID string) (Session, error)
	Delete(ctx context.Context, tokenID string) error
}

// Session represents an access token issued to a user.
type Session struct {
	TokenID   string
	UserID    string
	ExpiresAt time.Time
}

// Claims identifies the authenticated user behind a validated token.
type Claims struct {
	UserID    string
	TokenID   string
	ExpiresAt time.Time
}

// Manager issues and validates HS256 bearer tokens backed by a persistent session store.
type Manager struct {
	secret    []byte
	accessTTL time.Duration

	store SessionStore
	now   func() time.Time
}

// NewManager constructs a Manager that signs tokens with secret and expires them after accessTTL.
func NewManager(secret []byte, accessTTL time.Duration, store SessionStore) *Manager {
	if store == nil {
		panic("auth: session store must not be nil")
	}
	if len(secret) == 0 {
		panic("auth: signing secret must not be empty")
	}
	return &Manager{
		secret:    secret,
		accessTTL: accessTTL,
		store:     store,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// WithNowFunc overrides the clock. Intended for tests.
func (m *Manager) WithNowFunc(now func() time.Time) {
	m.now = now
}

// Issue creates a signed access token for the provided user identifier.
func (m *Manager) Issue(ctx context.Context, userID string) (models.AccessToken, error) {
	if userID == "" {
		return models.AccessToken{}, errors.New("user id must be provided")
	}

	now := m.now()
	expires := now.Add(m.accessTTL)
	tokenID := uuid.NewString()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   userID,
		ID:        tokenID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expires),
	})
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return models.AccessToken{}, fmt.Errorf("sign access token: %w", err)
	}

	if err := m.store.Save(ctx, Session{TokenID: tokenID, UserID: userID, ExpiresAt: expires}); err != nil {
		return models.AccessToken{}, err
	}

	return models.AccessToken{AccessToken: signed, TokenType: "bearer", ExpiresAt: expires}, nil
}

// Validate verifies the signature and expiry of a token and checks its session is still active.
func (m *Manager) Validate(ctx context.Context, token string) (Claims, error) {
	claims, err := m.parse(token, true)
	if err != nil {
		return Claims{}, err
	}

	session, err := m.store.Find(ctx, claims.TokenID)
	if err != nil {
		return Claims{}, err
	}
	if session.UserID != claims.UserID {
		return Claims{}, ErrInvalidToken
	}
	if m.now().After(session.ExpiresAt) {
		_ = m.store.Delete(ctx, claims.TokenID)
		return Claims{}, ErrTokenExpired
	}

	return claims, nil
}

// Revoke removes the token's session. Expired but well-signed tokens can still be revoked.
func (m *Manager) Revoke(ctx context.Context, token string) error {
	claims, err := m.parse(token, false)
	if err != nil {
		return err
	}
	return m.store.Delete(ctx, claims.TokenID)
}

func (m *Manager) parse(token string, validateClaims bool) (Claims, error) {
	if token == "" {
		return Claims{}, ErrInvalidToken
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(m.now),
	}
	if !validateClaims {
		opts = append(opts, jwt.WithoutClaimsValidation())
	}

	var registered jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(token, &registered, func(*jwt.Token) (any, error) {
		return m.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, ErrTokenExpired
		}
		return Claims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if registered.Subject == "" || registered.ID == "" {
		return Claims{}, ErrInvalidToken
	}

	claims := Claims{UserID: registered.Subject, TokenID: registered.ID}
	if registered.ExpiresAt != nil {
		claims.ExpiresAt = registered.ExpiresAt.Time.UTC()
	}
	return claims, nil
}
