package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestFromEnvDefaults(t *testing.T) {
	for _, k := range []string{"PORT", "MAX_UPLOAD_MB", "HISTORY_LIST_LIMIT", "THUMBNAIL_MAX_WIDTH", "THUMBNAIL_CACHE_TTL", "S3_RESULT_PREFIX"} {
		t.Setenv(k, "")
	}
	cfg := FromEnv()
	if cfg.HTTP.Port != "3000" {
		t.Errorf("port = %q", cfg.HTTP.Port)
	}
	if cfg.HTTP.MaxUploadMB != 100 {
		t.Errorf("max upload = %d", cfg.HTTP.MaxUploadMB)
	}
	if cfg.History.ListLimit != 100 || !cfg.History.Enabled {
		t.Errorf("history = %+v", cfg.History)
	}
	if cfg.Thumbnail.MaxWidth != 200 || cfg.Thumbnail.MaxHeight != 200 {
		t.Errorf("thumbnail box = %dx%d", cfg.Thumbnail.MaxWidth, cfg.Thumbnail.MaxHeight)
	}
	if cfg.Redis.ThumbnailTTL != 10*time.Minute {
		t.Errorf("thumbnail ttl = %v", cfg.Redis.ThumbnailTTL)
	}
	if cfg.Storage.ResultPrefix != "results" {
		t.Errorf("result prefix = %q", cfg.Storage.ResultPrefix)
	}
	if cfg.Storage.ResultRetention != 24*time.Hour {
		t.Errorf("result retention = %v", cfg.Storage.ResultRetention)
	}
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "8080")
	t.Setenv("MAX_UPLOAD_MB", "-3")
	t.Setenv("HISTORY_ENABLED", "no")
	t.Setenv("HISTORY_TIMEOUT", "250ms")
	t.Setenv("THUMBNAIL_CONCURRENCY", "0")
	t.Setenv("S3_USE_PATH_STYLE", "yes")
	t.Setenv("S3_RESULT_PREFIX", "/out/")
	t.Setenv("AXIOM_DATASET", "prod")

	cfg := FromEnv()
	if cfg.HTTP.Port != "8080" {
		t.Errorf("port = %q", cfg.HTTP.Port)
	}
	if cfg.HTTP.MaxUploadMB != 100 {
		t.Errorf("negative upload limit should fall back, got %d", cfg.HTTP.MaxUploadMB)
	}
	if cfg.History.Enabled {
		t.Error("history should be disabled")
	}
	if cfg.History.Timeout != 250*time.Millisecond {
		t.Errorf("history timeout = %v", cfg.History.Timeout)
	}
	if cfg.Thumbnail.Concurrency != 1 {
		t.Errorf("concurrency = %d", cfg.Thumbnail.Concurrency)
	}
	if !cfg.Storage.UsePathStyle || cfg.Storage.ResultPrefix != "out" {
		t.Errorf("storage = %+v", cfg.Storage)
	}
	if cfg.Axiom.Dataset != "prod_pagecomposer" {
		t.Errorf("dataset = %q", cfg.Axiom.Dataset)
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.env")
	if err := os.WriteFile(path, []byte("HISTORY_MAX=42\nPORT=9999\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PORT", "7000")
	t.Setenv("HISTORY_MAX", "")
	os.Unsetenv("HISTORY_MAX")

	cfg := Load(path, filepath.Join(dir, "missing.env"))
	if cfg.Redis.HistoryMax != 42 {
		t.Errorf("history max = %d, want 42 from file", cfg.Redis.HistoryMax)
	}
	if cfg.HTTP.Port != "7000" {
		t.Errorf("port = %q, environment should win", cfg.HTTP.Port)
	}
}

func TestParseHelpers(t *testing.T) {
	if parseInt("x", 5) != 5 || parseInt("7", 5) != 7 {
		t.Error("parseInt")
	}
	if !parseBool(" ON ") || parseBool("0") {
		t.Error("parseBool")
	}
	if parseDuration("bad", time.Second) != time.Second {
		t.Error("parseDuration")
	}
}
