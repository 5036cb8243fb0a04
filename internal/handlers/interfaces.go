package handlers

import (
	"context"

	"github.com/geoclip/geoclip/internal/auth"
	"github.com/geoclip/geoclip/internal/events"
	"github.com/geoclip/geoclip/internal/models"
	"github.com/geoclip/geoclip/internal/storage"
)

// UserStore captures the persistence operations required by the auth handlers.
type UserStore interface {
	Create(ctx context.Context, user models.User) error
	FindByEmail(ctx context.Context, email string) (models.User, error)
	FindByID(ctx context.Context, id string) (models.User, error)
}

// TokenManager issues, validates and revokes bearer tokens.
type TokenManager interface {
	Issue(ctx context.Context, userID string) (models.AccessToken, error)
	Validate(ctx context.Context, token string) (auth.Claims, error)
	Revoke(ctx context.Context, token string) error
}

// VideoStore captures persistence for clip records.
type VideoStore interface {
	Create(ctx context.Context, video models.Video) error
	ListByOwner(ctx context.Context, ownerID string, limit int) ([]models.Video, error)
	FindByID(ctx context.Context, ownerID, id string) (models.Video, error)
	FindByIdempotencyKey(ctx context.Context, ownerID, key string) (models.Video, error)
	Delete(ctx context.Context, ownerID, id string) (models.Video, error)
}

// AssetStore holds clip bytes.
type AssetStore = storage.Storage

// EventPublisher announces video lifecycle changes.
type EventPublisher interface {
	Publish(ctx context.Context, eventType string, event events.VideoEvent) error
}

// BodyValidator checks raw request bodies against a named schema.
type BodyValidator interface {
	Body(name string, body []byte) error
}
