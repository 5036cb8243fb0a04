package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/geoclip/geoclip/internal/auth"
	"github.com/geoclip/geoclip/internal/config"
	"github.com/geoclip/geoclip/internal/db"
	"github.com/geoclip/geoclip/internal/events"
	"github.com/geoclip/geoclip/internal/handlers"
	"github.com/geoclip/geoclip/internal/metrics"
	"github.com/geoclip/geoclip/internal/middleware"
	"github.com/geoclip/geoclip/internal/repositories"
	"github.com/geoclip/geoclip/internal/storage"
	"github.com/geoclip/geoclip/internal/validate"
	"github.com/geoclip/geoclip/internal/videos"
)

const (
	authRequestsPerMinute = 10
	authBurst             = 5
	limiterTTL            = 10 * time.Minute
	sessionSweepInterval  = 15 * time.Minute
)

// buildDependencies wires together concrete implementations used by the HTTP handlers.
func buildDependencies(ctx context.Context, pool db.Pool, cfg config.Config, m *metrics.Metrics, logger *slog.Logger) (handlers.Dependencies, func(context.Context) error, error) {
	validator, err := validate.New()
	if err != nil {
		return handlers.Dependencies{}, nil, err
	}

	assets, err := buildStorage(ctx, cfg, logger)
	if err != nil {
		return handlers.Dependencies{}, nil, err
	}
	assets = videos.NewCachingStorage(storage.WithMetrics(assets, m), cfg.AssetCacheTTL, m)

	sessionStore := repositories.NewPostgresSessionStore(pool)
	publisher := events.Connect(cfg.NATSURL, m, logger)

	sweepCtx, stopSweep := context.WithCancel(context.Background())
	sweepDone := make(chan struct{})
	go func() {
		defer close(sweepDone)
		sweepSessions(sweepCtx, sessionStore, logger)
	}()

	cleanup := func(ctx context.Context) error {
		stopSweep()
		select {
		case <-sweepDone:
		case <-ctx.Done():
		}
		return errors.Join(publisher.Close(), ctx.Err())
	}

	deps := handlers.Dependencies{
		Users:     repositories.NewPostgresUserRepository(pool),
		Tokens:    auth.NewManager([]byte(cfg.JWTSecret), cfg.AccessTokenTTL, sessionStore),
		Videos:    repositories.NewPostgresVideoRepository(pool),
		Assets:    assets,
		Events:    publisher,
		Validator: validator,
		Limiter:   middleware.NewThrottle(middleware.ThrottleConfig{PerMinute: authRequestsPerMinute, Burst: authBurst, IdleTTL: limiterTTL}),
		Policy:    videos.NewPolicy(cfg.Uploads.MaxBytes, cfg.Uploads.AllowedMediaTypes),
		Metrics:   m,
	}
	return deps, cleanup, nil
}

func buildStorage(ctx context.Context, cfg config.Config, logger *slog.Logger) (storage.Storage, error) {
	if cfg.ObjectStore.Bucket == "" {
		logger.Warn("no object store bucket configured, clips are kept in memory")
		return storage.NewMemoryStorage(), nil
	}
	return storage.NewS3Storage(ctx, cfg.ObjectStore)
}

type expiredSessionPruner interface {
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// sweepSessions removes expired sessions until ctx is cancelled.
func sweepSessions(ctx context.Context, store expiredSessionPruner, logger *slog.Logger) {
	ticker := time.NewTicker(sessionSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pruned, err := store.DeleteExpired(ctx, time.Now())
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					logger.Warn("prune expired sessions failed", "error", err)
				}
				continue
			}
			if pruned > 0 {
				logger.Info("pruned expired sessions", "count", pruned)
			}
		}
	}
}
