package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// LoggingConfig holds logging-related configuration.
type LoggingConfig struct {
	Level      string
	Pretty     bool
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// AxiomConfig holds Axiom logging configuration.
type AxiomConfig struct {
	Send          bool
	APIKey        string
	OrgID         string
	Dataset       string
	FlushInterval time.Duration
}

// HTTPConfig controls the API server.
type HTTPConfig struct {
	Port            string
	MaxUploadMB     int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// RedisConfig is shared by the history store and the thumbnail cache.
type RedisConfig struct {
	URL          string
	HistoryKey   string
	HistoryMax   int
	ThumbnailTTL time.Duration // 0 disables the thumbnail cache
}

type HistoryConfig struct {
	Enabled   bool
	Timeout   time.Duration
	ListLimit int
}

type ThumbnailConfig struct {
	MaxWidth    int
	MaxHeight   int
	Concurrency int
}

// StorageConfig configures S3 sources and result uploads for /api/compose.
type StorageConfig struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
	ResultPrefix    string
	ResultDir       string // local fallback when Bucket is empty
	ResultRetention time.Duration
	SourceDir       string // root for file:// sources; empty disables them
}

// Config is the top-level configuration.
type Config struct {
	Logging   LoggingConfig
	Axiom     AxiomConfig
	HTTP      HTTPConfig
	Redis     RedisConfig
	History   HistoryConfig
	Thumbnail ThumbnailConfig
	Storage   StorageConfig
}

// Load reads .env files (missing ones are ignored) and then the environment.
// Variables already set in the environment win.
func Load(files ...string) Config {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		_ = godotenv.Load(f)
	}
	return FromEnv()
}

// FromEnv loads configuration from environment with sensible defaults.
func FromEnv() Config {
	cfg := Config{}

	cfg.Logging = LoggingConfig{
		Level:      getEnv("LOG_LEVEL", "info"),
		Pretty:     parseBool(getEnv("LOG_PRETTY", devDefaultPretty())),
		File:       getEnv("LOG_FILE", "logs/pagecomposer.log"),
		MaxSizeMB:  parseInt(getEnv("LOG_MAX_SIZE_MB", "100"), 100),
		MaxBackups: parseInt(getEnv("LOG_MAX_BACKUPS", "10"), 10),
		MaxAgeDays: parseInt(getEnv("LOG_MAX_AGE_DAYS", "30"), 30),
		Compress:   parseBool(getEnv("LOG_COMPRESS", "true")),
	}

	baseDataset := getEnv("AXIOM_DATASET", "dev")
	cfg.Axiom = AxiomConfig{
		Send:          parseBool(getEnv("SEND_LOGS_TO_AXIOM", "0")),
		APIKey:        getEnv("AXIOM_API_KEY", ""),
		OrgID:         getEnv("AXIOM_ORG_ID", ""),
		Dataset:       baseDataset + "_pagecomposer",
		FlushInterval: parseDuration(getEnv("AXIOM_FLUSH_INTERVAL", "10s"), 10*time.Second),
	}

	cfg.HTTP = HTTPConfig{
		Port:            getEnv("PORT", "3000"),
		MaxUploadMB:     parseInt(getEnv("MAX_UPLOAD_MB", "100"), 100),
		ReadTimeout:     parseDuration(getEnv("HTTP_READ_TIMEOUT", "60s"), 60*time.Second),
		WriteTimeout:    parseDuration(getEnv("HTTP_WRITE_TIMEOUT", "120s"), 120*time.Second),
		ShutdownTimeout: parseDuration(getEnv("HTTP_SHUTDOWN_TIMEOUT", "15s"), 15*time.Second),
	}
	if cfg.HTTP.MaxUploadMB <= 0 {
		cfg.HTTP.MaxUploadMB = 100
	}

	cfg.Redis = RedisConfig{
		URL:          getEnv("REDIS_URL", "redis://localhost:6379"),
		HistoryKey:   getEnv("HISTORY_KEY", "pagecomposer:history"),
		HistoryMax:   parseInt(getEnv("HISTORY_MAX", "1000"), 1000),
		ThumbnailTTL: parseDuration(getEnv("THUMBNAIL_CACHE_TTL", "10m"), 10*time.Minute),
	}

	cfg.History = HistoryConfig{
		Enabled:   parseBool(getEnv("HISTORY_ENABLED", "true")),
		Timeout:   parseDuration(getEnv("HISTORY_TIMEOUT", "5s"), 5*time.Second),
		ListLimit: parseInt(getEnv("HISTORY_LIST_LIMIT", "100"), 100),
	}

	cfg.Thumbnail = ThumbnailConfig{
		MaxWidth:    parseInt(getEnv("THUMBNAIL_MAX_WIDTH", "200"), 200),
		MaxHeight:   parseInt(getEnv("THUMBNAIL_MAX_HEIGHT", "200"), 200),
		Concurrency: parseInt(getEnv("THUMBNAIL_CONCURRENCY", "4"), 4),
	}
	if cfg.Thumbnail.Concurrency <= 0 {
		cfg.Thumbnail.Concurrency = 1
	}

	cfg.Storage = StorageConfig{
		Bucket:          getEnv("S3_BUCKET", ""),
		Region:          getEnv("AWS_REGION", "us-east-1"),
		Endpoint:        getEnv("S3_ENDPOINT", ""),
		AccessKeyID:     getEnv("AWS_ACCESS_KEY_ID", ""),
		SecretAccessKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),
		UsePathStyle:    parseBool(getEnv("S3_USE_PATH_STYLE", "false")),
		ResultPrefix:    strings.Trim(getEnv("S3_RESULT_PREFIX", "results"), "/"),
		ResultDir:       getEnv("RESULT_DIR", "results"),
		ResultRetention: parseDuration(getEnv("RESULT_RETENTION", "24h"), 24*time.Hour),
		SourceDir:       getEnv("SOURCE_DIR", ""),
	}

	return cfg
}

// Helpers
func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseInt(s string, def int) int {
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}

func parseBool(s string) bool {
	v := strings.ToLower(strings.TrimSpace(s))
	return v == "1" || v == "true" || v == "yes" || v == "on"
}

func parseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}
	return def
}

func devDefaultPretty() string {
	env := strings.ToLower(os.Getenv("ENVIRONMENT"))
	if env == "dev" || env == "development" || env == "local" {
		return "true"
	}
	return "false"
}
