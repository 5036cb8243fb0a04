package device

import (
	"context"

	"github.com/geoclip/geoclip/internal/config"
)

// StaticLocation reports a configured position. Machines without GPS use it.
type StaticLocation struct {
	Latitude  float64
	Longitude float64
}

// NewStaticLocation returns nil when the configuration leaves location off.
func NewStaticLocation(cfg config.StaticLocation) *StaticLocation {
	if !cfg.Enabled {
		return nil
	}
	return &StaticLocation{Latitude: cfg.Latitude, Longitude: cfg.Longitude}
}

func (s *StaticLocation) Current(ctx context.Context) (float64, float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, 0, err
	}
	return s.Latitude, s.Longitude, nil
}
