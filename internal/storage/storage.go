package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/geoclip/geoclip/internal/metrics"
)

// ErrNotFound indicates no object exists under the key.
var ErrNotFound = errors.New("object not found")

// Object is a stored clip.
type Object struct {
	Key         string
	ContentType string
	Data        []byte
}

// Storage persists clip bytes by key.
type Storage interface {
	Put(ctx context.Context, key, contentType string, data []byte) error
	Get(ctx context.Context, key string) (Object, error)
	Delete(ctx context.Context, key string) error
}

// VideoKey returns the object key of a clip.
func VideoKey(ownerID, videoID string) string {
	return fmt.Sprintf("videos/%s/%s", ownerID, videoID)
}

func normaliseKey(key string) (string, error) {
	key = strings.TrimLeft(strings.TrimSpace(key), "/")
	if key == "" {
		return "", errors.New("storage: empty key")
	}
	return key, nil
}

type instrumented struct {
	next    Storage
	metrics *metrics.Metrics
}

// WithMetrics records the latency and outcome of every call on s.
func WithMetrics(s Storage, m *metrics.Metrics) Storage {
	if m == nil {
		return s
	}
	return &instrumented{next: s, metrics: m}
}

func (i *instrumented) Put(ctx context.Context, key, contentType string, data []byte) error {
	start := time.Now()
	err := i.next.Put(ctx, key, contentType, data)
	i.metrics.ObserveStorage("put", err, time.Since(start))
	return err
}

func (i *instrumented) Get(ctx context.Context, key string) (Object, error) {
	start := time.Now()
	obj, err := i.next.Get(ctx, key)
	// A missing object is an answer, not a storage failure.
	observed := err
	if errors.Is(err, ErrNotFound) {
		observed = nil
	}
	i.metrics.ObserveStorage("get", observed, time.Since(start))
	return obj, err
}

func (i *instrumented) Delete(ctx context.Context, key string) error {
	start := time.Now()
	err := i.next.Delete(ctx, key)
	i.metrics.ObserveStorage("delete", err, time.Since(start))
	return err
}
