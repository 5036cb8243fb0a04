package db

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"testing/fstest"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestMigratorNamesSortedSQLOnly(t *testing.T) {
	m := &Migrator{files: fstest.MapFS{
		"0002_videos.sql":  {Data: []byte("SELECT 1")},
		"0001_init.sql":    {Data: []byte("SELECT 1")},
		"README.md":        {Data: []byte("docs")},
		"archive/0000.sql": {Data: []byte("SELECT 1")},
	}}

	names, err := m.names()
	if err != nil {
		t.Fatalf("names: %v", err)
	}
	if len(names) != 2 || names[0] != "0001_init.sql" || names[1] != "0002_videos.sql" {
		t.Fatalf("unexpected migration order %v", names)
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{err: &pgconn.PgError{Code: "40001"}, want: true},
		{err: fmt.Errorf("apply: %w", &pgconn.PgError{Code: "40P01"}), want: true},
		{err: &pgconn.PgError{Code: "42601"}, want: false},
		{err: context.DeadlineExceeded, want: true},
		{err: errors.New("boom"), want: false},
	}
	for _, tt := range tests {
		if got := isRetryable(tt.err); got != tt.want {
			t.Errorf("isRetryable(%v) = %v want %v", tt.err, got, tt.want)
		}
	}
}

func TestBackoffCapped(t *testing.T) {
	if got := backoff(1); got != migrationBaseBackoff {
		t.Fatalf("first retry backoff = %v", got)
	}
	if got := backoff(2); got != 2*migrationBaseBackoff {
		t.Fatalf("second retry backoff = %v", got)
	}
	if got := backoff(20); got != migrationMaxBackoff {
		t.Fatalf("expected cap, got %v", got)
	}
}

func TestSeedPath(t *testing.T) {
	if got := SeedPath("seeds", "dev"); got != "seeds/dev_seed.sql" {
		t.Fatalf("unexpected path %q", got)
	}
	if got := SeedPath("seeds", "custom.sql"); got != "seeds/custom.sql" {
		t.Fatalf("unexpected path %q", got)
	}
}

func TestSleepCtxCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := sleepCtx(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
}
