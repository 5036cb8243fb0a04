package videos

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/geoclip/geoclip/internal/storage"
)

func TestDataURIRoundTrip(t *testing.T) {
	data := []byte("\x00\x00\x00\x18ftypmp42")
	uri := EncodeDataURI("video/mp4", data)

	if !strings.HasPrefix(uri, "data:video/mp4;base64,") {
		t.Fatalf("unexpected prefix: %s", uri)
	}

	decoded, err := ParseDataURI(uri)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if decoded.MediaType != "video/mp4" || string(decoded.Data) != string(data) {
		t.Fatalf("unexpected round trip: %+v", decoded)
	}
}

func TestParseDataURIHeader(t *testing.T) {
	tests := []struct {
		in        string
		mediaType string
		wantErr   bool
	}{
		{in: "data:video/mp4;base64,AAAA", mediaType: "video/mp4"},
		{in: "data:VIDEO/WebM;codecs=vp9;base64,AAAA", mediaType: "video/webm"},
		{in: "data:;base64,AAAA", mediaType: "text/plain"},
		{in: "data:video/mp4,AAAA", wantErr: true},
		{in: "video/mp4;base64,AAAA", wantErr: true},
		{in: "data:video/mp4;base64", wantErr: true},
	}

	for _, tt := range tests {
		mediaType, _, err := ParseDataURIHeader(tt.in)
		if tt.wantErr {
			if !errors.Is(err, ErrInvalidDataURI) {
				t.Errorf("%q: expected ErrInvalidDataURI, got %v", tt.in, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("%q: unexpected error %v", tt.in, err)
			continue
		}
		if mediaType != tt.mediaType {
			t.Errorf("%q: media type = %q want %q", tt.in, mediaType, tt.mediaType)
		}
	}
}

func TestPolicyDecode(t *testing.T) {
	policy := NewPolicy(8, nil)

	if _, err := policy.Decode(EncodeDataURI("video/mp4", []byte("12345678"))); err != nil {
		t.Fatalf("expected clip at limit to pass: %v", err)
	}
	if _, err := policy.Decode(EncodeDataURI("video/mp4", []byte("123456789"))); !errors.Is(err, ErrMediaTooLarge) {
		t.Fatalf("expected ErrMediaTooLarge, got %v", err)
	}
	if _, err := policy.Decode(EncodeDataURI("image/png", []byte("1"))); !errors.Is(err, ErrMediaTypeNotAllowed) {
		t.Fatalf("expected ErrMediaTypeNotAllowed, got %v", err)
	}
	if _, err := policy.Decode("data:video/mp4;base64,@@@@"); !errors.Is(err, ErrInvalidDataURI) {
		t.Fatalf("expected ErrInvalidDataURI for bad base64, got %v", err)
	}
	if _, err := policy.Decode("data:video/mp4;base64,"); !errors.Is(err, ErrInvalidDataURI) {
		t.Fatalf("expected ErrInvalidDataURI for empty payload, got %v", err)
	}
}

func TestNewPolicyDefaults(t *testing.T) {
	policy := NewPolicy(0, []string{" Video/MP4 ", ""})
	if policy.MaxBytes != DefaultMaxBytes {
		t.Fatalf("expected default max bytes, got %d", policy.MaxBytes)
	}
	if !policy.Allows("video/mp4") || policy.Allows("video/webm") {
		t.Fatalf("unexpected allow list %v", policy.AllowedMediaTypes)
	}
}

type countingStorage struct {
	storage.Storage
	gets int
}

func (c *countingStorage) Get(ctx context.Context, key string) (storage.Object, error) {
	c.gets++
	return c.Storage.Get(ctx, key)
}

func TestCachingStorageGet(t *testing.T) {
	ctx := context.Background()
	base := &countingStorage{Storage: storage.NewMemoryStorage()}
	cache := NewCachingStorage(base, time.Minute, nil)
	now := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return now }

	if err := cache.Put(ctx, "videos/u/1", "video/mp4", []byte("clip")); err != nil {
		t.Fatalf("put: %v", err)
	}

	for i := 0; i < 2; i++ {
		obj, err := cache.Get(ctx, "videos/u/1")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if string(obj.Data) != "clip" {
			t.Fatalf("unexpected object %+v", obj)
		}
	}
	if base.gets != 1 {
		t.Fatalf("expected cached result, base called %d times", base.gets)
	}

	now = now.Add(2 * time.Minute)
	if _, err := cache.Get(ctx, "videos/u/1"); err != nil {
		t.Fatalf("get after expiry: %v", err)
	}
	if base.gets != 2 {
		t.Fatalf("expected expired entry to be refetched, base called %d times", base.gets)
	}
}

func TestCachingStorageInvalidatesOnDelete(t *testing.T) {
	ctx := context.Background()
	cache := NewCachingStorage(storage.NewMemoryStorage(), time.Minute, nil)

	if err := cache.Put(ctx, "videos/u/1", "video/mp4", []byte("clip")); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, err := cache.Get(ctx, "videos/u/1"); err != nil {
		t.Fatalf("get: %v", err)
	}
	if err := cache.Delete(ctx, "videos/u/1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := cache.Get(ctx, "videos/u/1"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestCachingStorageEvictsWhenFull(t *testing.T) {
	ctx := context.Background()
	cache := NewCachingStorage(storage.NewMemoryStorage(), time.Minute, nil)
	cache.maxEntries = 2

	for _, key := range []string{"a", "b", "c"} {
		if err := cache.Put(ctx, key, "video/mp4", []byte(key)); err != nil {
			t.Fatalf("put %s: %v", key, err)
		}
		if _, err := cache.Get(ctx, key); err != nil {
			t.Fatalf("get %s: %v", key, err)
		}
	}

	cache.mu.RLock()
	defer cache.mu.RUnlock()
	if len(cache.items) > 2 {
		t.Fatalf("expected at most 2 cached entries, got %d", len(cache.items))
	}
}
