package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Store and blob drivers.
const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"

	BlobDriverFilesystem = "filesystem"
	BlobDriverS3         = "s3"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv             string
	Port               string
	StoreDriver        string
	DatabaseURL        string
	DBMaxConns         int32
	BlobDriver         string
	StoragePath        string
	StorageBaseURL     string
	S3Bucket           string
	S3Region           string
	S3Endpoint         string
	S3AccessKeyID      string
	S3SecretKey        string
	S3PresignTTL       time.Duration
	RedisAddr          string
	RedisPassword      string
	RedisDB            int
	URLCacheTTL        time.Duration
	RenderServiceURL   string
	RenderTimeout      time.Duration
	ExportRetention    time.Duration
	ExportRateLimit    int
	MaxUploadBytes     int64
	SentryDSN          string
	CORSAllowedOrigins []string
	HTTPReadTimeout    time.Duration
	HTTPWriteTimeout   time.Duration
	HTTPIdleTimeout    time.Duration
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	port := getEnv("PORT", "8080")
	cfg := &Config{
		AppEnv:             getEnv("APP_ENV", "development"),
		Port:               port,
		StoreDriver:        strings.ToLower(getEnv("STORE_DRIVER", StoreDriverPostgres)),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		DBMaxConns:         int32(getEnvInt("DB_MAX_CONNS", 10)),
		BlobDriver:         strings.ToLower(getEnv("BLOB_DRIVER", BlobDriverFilesystem)),
		StoragePath:        getEnv("STORAGE_PATH", "./storage"),
		StorageBaseURL:     getEnv("STORAGE_BASE_URL", fmt.Sprintf("http://localhost:%s/static", port)),
		S3Bucket:           os.Getenv("S3_BUCKET"),
		S3Region:           getEnv("S3_REGION", "auto"),
		S3Endpoint:         os.Getenv("S3_ENDPOINT"),
		S3AccessKeyID:      os.Getenv("S3_ACCESS_KEY_ID"),
		S3SecretKey:        os.Getenv("S3_SECRET_ACCESS_KEY"),
		S3PresignTTL:       time.Second * time.Duration(getEnvInt("S3_PRESIGN_TTL_SECONDS", 3600)),
		RedisAddr:          os.Getenv("REDIS_ADDR"),
		RedisPassword:      os.Getenv("REDIS_PASSWORD"),
		RedisDB:            getEnvInt("REDIS_DB", 0),
		URLCacheTTL:        time.Second * time.Duration(getEnvInt("REDIS_URL_TTL_SECONDS", 3000)),
		RenderServiceURL:   os.Getenv("RENDER_SERVICE_URL"),
		RenderTimeout:      time.Second * time.Duration(getEnvInt("RENDER_TIMEOUT_SECONDS", 60)),
		ExportRetention:    time.Minute * time.Duration(getEnvInt("EXPORT_RETENTION_MINUTES", 30)),
		ExportRateLimit:    getEnvInt("EXPORT_RATE_LIMIT_PER_MINUTE", 10),
		MaxUploadBytes:     int64(getEnvInt("MAX_UPLOAD_MB", 20)) << 20,
		SentryDSN:          os.Getenv("SENTRY_DSN"),
		CORSAllowedOrigins: splitList(getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000")),
		HTTPReadTimeout:    time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout:   time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 120)),
		HTTPIdleTimeout:    time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
	}

	switch cfg.StoreDriver {
	case StoreDriverPostgres:
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required")
		}
	case StoreDriverMemory:
	default:
		return nil, fmt.Errorf("unsupported STORE_DRIVER %q", cfg.StoreDriver)
	}

	switch cfg.BlobDriver {
	case BlobDriverFilesystem:
	case BlobDriverS3:
		if cfg.S3Bucket == "" {
			return nil, fmt.Errorf("S3_BUCKET is required when BLOB_DRIVER=s3")
		}
	default:
		return nil, fmt.Errorf("unsupported BLOB_DRIVER %q", cfg.BlobDriver)
	}

	if cfg.RenderTimeout <= 0 {
		return nil, fmt.Errorf("RENDER_TIMEOUT_SECONDS must be positive")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
