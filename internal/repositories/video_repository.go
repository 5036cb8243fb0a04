package repositories

import (
	"context"

	"github.com/geoclip/geoclip/internal/models"
)

// VideoRepository exposes data access for recorded clips.
type VideoRepository interface {
	Create(ctx context.Context, video models.Video) error
	ListByOwner(ctx context.Context, ownerID string, limit int) ([]models.Video, error)
	FindByID(ctx context.Context, ownerID, id string) (models.Video, error)
	FindByIdempotencyKey(ctx context.Context, ownerID, key string) (models.Video, error)
	Delete(ctx context.Context, ownerID, id string) (models.Video, error)
}
