package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds shared runtime configuration for the API, worker and cleanup commands.
type Config struct {
	Env         string
	HTTPPort    string
	MetricsAddr string

	QueueBackend       string
	RedisAddr          string
	RedisPassword      string
	RedisDB            int
	QueuePrefix        string
	VisibilityTimeout  time.Duration
	WorkerPollInterval time.Duration
	WorkerConcurrency  int
	BackoffInitial     time.Duration
	BackoffMax         time.Duration
	DLQName            string

	PostgresDSN string

	BlobBackend string
	S3Bucket    string
	S3Endpoint  string
	S3Region    string
	S3AccessKey string
	S3SecretKey string
	S3PathStyle bool
	BlobDir     string

	STTEngine  string
	STTModel   string
	STTBaseURL string
	STTAPIKey  string
	STTTimeout time.Duration

	TemplateDir     string
	DefaultTemplate string
	WorkDir         string

	MaxUploadBytes    int64
	RateLimitCapacity int
	RateLimitRefill   float64

	RetentionMaxAge   time.Duration
	RetentionInterval time.Duration
}

// Load reads configuration from environment variables with sane defaults for local development.
func Load() Config {
	return Config{
		Env:         getEnv("APP_ENV", "dev"),
		HTTPPort:    getEnv("HTTP_PORT", "8080"),
		MetricsAddr: getEnv("METRICS_ADDR", ":9090"),

		QueueBackend:       strings.ToLower(getEnv("QUEUE_BACKEND", "redis")),
		RedisAddr:          getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:      getEnv("REDIS_PASSWORD", ""),
		RedisDB:            getEnvInt("REDIS_DB", 0),
		QueuePrefix:        getEnv("QUEUE_PREFIX", "protocols"),
		VisibilityTimeout:  getEnvDuration("VISIBILITY_TIMEOUT", 30*time.Minute),
		WorkerPollInterval: getEnvDuration("WORKER_POLL_INTERVAL", time.Second),
		WorkerConcurrency:  getEnvInt("WORKER_CONCURRENCY", 2),
		BackoffInitial:     getEnvDuration("BACKOFF_INITIAL", time.Second),
		BackoffMax:         getEnvDuration("BACKOFF_MAX", 30*time.Second),
		DLQName:            getEnv("DLQ_NAME", "protocols:dlq"),

		PostgresDSN: getEnv("POSTGRES_DSN", ""),

		BlobBackend: strings.ToLower(getEnv("BLOB_BACKEND", "s3")),
		S3Bucket:    getEnv("S3_BUCKET_NAME", "protoscript-protocols"),
		S3Endpoint:  getEnv("S3_ENDPOINT_URL", ""),
		S3Region:    getEnv("S3_REGION", "us-east-1"),
		S3AccessKey: getEnv("S3_ACCESS_KEY", ""),
		S3SecretKey: getEnv("S3_SECRET_KEY", ""),
		S3PathStyle: getEnvBool("S3_PATH_STYLE", false),
		BlobDir:     getEnv("BLOB_DIR", "./data"),

		STTEngine:  strings.ToLower(getEnv("STT_ENGINE", "whisper")),
		STTModel:   getEnv("STT_MODEL", "whisper-1"),
		STTBaseURL: getEnv("STT_BASE_URL", "https://api.openai.com/v1"),
		STTAPIKey:  getEnv("STT_API_KEY", ""),
		STTTimeout: getEnvDuration("STT_TIMEOUT", 30*time.Minute),

		TemplateDir:     getEnv("TEMPLATE_DIR", ""),
		DefaultTemplate: getEnv("DEFAULT_TEMPLATE", "default.md.j2"),
		WorkDir:         getEnv("WORK_DIR", ""),

		MaxUploadBytes:    int64(getEnvInt("MAX_UPLOAD_BYTES", 512<<20)),
		RateLimitCapacity: getEnvInt("RATE_LIMIT_CAPACITY", 20),
		RateLimitRefill:   getEnvFloat("RATE_LIMIT_REFILL_PER_SEC", 0.5),

		RetentionMaxAge:   getEnvDuration("RETENTION_MAX_AGE", 60*time.Minute),
		RetentionInterval: getEnvDuration("RETENTION_INTERVAL", 0),
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
