package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"GEOCLIP_PORT", "GEOCLIP_JWT_SECRET", "GEOCLIP_ACCESS_TOKEN_TTL", "GEOCLIP_CORS_ORIGINS", "GEOCLIP_S3_BUCKET"} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.AppPort != 8001 {
		t.Fatalf("expected default port 8001, got %d", cfg.AppPort)
	}
	if cfg.AccessTokenTTL != 30*time.Minute {
		t.Fatalf("expected 30m token ttl, got %v", cfg.AccessTokenTTL)
	}
	if !cfg.UsesDevSecret() {
		t.Fatal("expected development secret by default")
	}
	if len(cfg.CORSOrigins) != 1 || cfg.CORSOrigins[0] != "*" {
		t.Fatalf("unexpected cors origins %v", cfg.CORSOrigins)
	}
	if cfg.ObjectStore.Bucket != "" {
		t.Fatalf("expected no bucket, got %q", cfg.ObjectStore.Bucket)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("GEOCLIP_PORT", "9090")
	t.Setenv("GEOCLIP_JWT_SECRET", "s3cret")
	t.Setenv("GEOCLIP_ALLOWED_MEDIA_TYPES", "video/mp4, video/webm ,")
	t.Setenv("GEOCLIP_TRACING", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.AppPort != 9090 {
		t.Fatalf("expected port 9090, got %d", cfg.AppPort)
	}
	if cfg.UsesDevSecret() {
		t.Fatal("expected custom secret")
	}
	if got := cfg.Uploads.AllowedMediaTypes; len(got) != 2 || got[1] != "video/webm" {
		t.Fatalf("unexpected media types %v", got)
	}
	if !cfg.TracingEnabled {
		t.Fatal("expected tracing enabled")
	}
}

func TestLoadRejectsBadTTL(t *testing.T) {
	t.Setenv("GEOCLIP_ACCESS_TOKEN_TTL", "-1m")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for negative ttl")
	}
}

func TestLoadEnvFilesDoesNotOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("GEOCLIP_LOG_LEVEL=debug\nGEOCLIP_SEEDS=from-file\n"), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv("GEOCLIP_LOG_LEVEL", "error")
	t.Setenv("GEOCLIP_SEEDS", "")
	os.Unsetenv("GEOCLIP_SEEDS")

	if err := LoadEnvFiles(path, filepath.Join(dir, "missing.env")); err != nil {
		t.Fatalf("load env files: %v", err)
	}
	if got := os.Getenv("GEOCLIP_LOG_LEVEL"); got != "error" {
		t.Fatalf("process env should win, got %q", got)
	}
	if got := os.Getenv("GEOCLIP_SEEDS"); got != "from-file" {
		t.Fatalf("expected value from file, got %q", got)
	}
}

func TestLoadClientFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	contents := `
base_url = "https://clips.example.com/"
keystore_path = "/tmp/keys.json"
location_timeout = 2

[capture]
device_model = "ThinkPad X1"
device_brand = "Lenovo"

[location]
enabled = true
latitude = 52.52
longitude = 13.405
`
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv(BaseURLEnv, "")

	cfg, err := LoadClient(path)
	if err != nil {
		t.Fatalf("load client: %v", err)
	}
	if cfg.BaseURL != "https://clips.example.com" {
		t.Fatalf("expected trailing slash trimmed, got %q", cfg.BaseURL)
	}
	if cfg.LocationWait() != 2*time.Second {
		t.Fatalf("unexpected location wait %v", cfg.LocationWait())
	}
	if cfg.Capture.DeviceBrand != "Lenovo" || cfg.Capture.FFmpegPath != "ffmpeg" {
		t.Fatalf("unexpected capture config %+v", cfg.Capture)
	}
	if !cfg.Location.Enabled || cfg.Location.Latitude != 52.52 {
		t.Fatalf("unexpected location config %+v", cfg.Location)
	}
}

func TestLoadClientEnvOverride(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv(BaseURLEnv, "http://10.0.0.5:8001")

	cfg, err := LoadClient(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("load client: %v", err)
	}
	if cfg.BaseURL != "http://10.0.0.5:8001" {
		t.Fatalf("expected env base url, got %q", cfg.BaseURL)
	}
}

func TestLoadClientValidation(t *testing.T) {
	t.Setenv(BaseURLEnv, "ftp://nope")
	if _, err := LoadClient(""); err == nil {
		t.Fatal("expected scheme validation error")
	}

	t.Setenv(BaseURLEnv, "")
	cfg := DefaultClient()
	cfg.Location = StaticLocation{Enabled: true, Latitude: 123}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected latitude range error")
	}
}
