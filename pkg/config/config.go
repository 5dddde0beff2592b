package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	Port          string
	Debug         bool
	AdminToken    string
	AdminRate     int // Admin requests per second per client
	EnableMetrics bool
	EnableTracing bool

	// Storage
	StorageDriver    string // local or s3
	StorageRoot      string
	ImagesRoot       string
	S3Endpoint       string
	S3Region         string
	S3Bucket         string
	S3BackupBucket   string
	S3Prefix         string
	S3AccessKey      string
	S3SecretKey      string
	S3ForcePathStyle bool

	// Redis (markers, batches, settings). Empty means in-process only.
	RedisAddrs      []string
	RedisPassword   string
	RedisDB         int
	MemoryCacheSize int

	// Kafka generation queue. Empty means the in-process worker pool.
	KafkaBrokers []string
	KafkaTopic   string
	KafkaGroupID string

	// Rendering
	FontPath    string
	JPEGQuality int

	// Scheduling and caching
	Workers            int
	QueueSize          int
	SettingsCacheTTL   time.Duration
	ScheduleMarkerTTL  time.Duration
	SubmitTimeout      time.Duration
	FreshnessTTL       time.Duration
	BatchTTL           time.Duration
	BatchCacheSize     int
	BulkConcurrency    int
	BulkRatePerSec     float64
	CacheRetentionDays int
	CleanupInterval    time.Duration
}

// LoadConfig loads configuration from environment variables
func LoadConfig() Config {
	godotenv.Load()

	return Config{
		Port:          getEnv("PORT", "8080"),
		Debug:         getEnvBool("DEBUG", false),
		AdminToken:    os.Getenv("ADMIN_TOKEN"),
		AdminRate:     getEnvInt("ADMIN_RATE_LIMIT", 5),
		EnableMetrics: getEnvBool("ENABLE_METRICS", false),
		EnableTracing: getEnvBool("ENABLE_TRACING", false),

		StorageDriver:    getEnv("STORAGE_DRIVER", "local"),
		StorageRoot:      getEnv("STORAGE_ROOT", "./storage"),
		ImagesRoot:       getEnv("IMAGES_ROOT", "products"),
		S3Endpoint:       os.Getenv("S3_ENDPOINT"),
		S3Region:         getEnv("S3_REGION", "auto"),
		S3Bucket:         os.Getenv("S3_BUCKET"),
		S3BackupBucket:   os.Getenv("S3_BACKUP_BUCKET"),
		S3Prefix:         os.Getenv("S3_PREFIX"),
		S3AccessKey:      os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey:      os.Getenv("S3_SECRET_KEY"),
		S3ForcePathStyle: getEnvBool("S3_FORCE_PATH_STYLE", false),

		RedisAddrs:      getEnvSlice("REDIS_ADDR"),
		RedisPassword:   os.Getenv("REDIS_PASSWORD"),
		RedisDB:         getEnvInt("REDIS_DB", 0),
		MemoryCacheSize: getEnvInt("MEMORY_CACHE_SIZE", 10000),

		KafkaBrokers: getEnvSlice("KAFKA_BROKERS"),
		KafkaTopic:   getEnv("KAFKA_TOPIC", "watermark-generation"),
		KafkaGroupID: getEnv("KAFKA_GROUP_ID", "watermark-workers"),

		FontPath:    os.Getenv("FONT_PATH"),
		JPEGQuality: getEnvInt("JPEG_QUALITY", 90),

		Workers:            getEnvInt("WORKERS", 2),
		QueueSize:          getEnvInt("QUEUE_SIZE", 256),
		SettingsCacheTTL:   time.Duration(getEnvInt("SETTINGS_CACHE_TTL_SECS", 300)) * time.Second,
		ScheduleMarkerTTL:  time.Duration(getEnvInt("SCHEDULE_MARKER_TTL_SECS", 300)) * time.Second,
		SubmitTimeout:      time.Duration(getEnvInt("SCHEDULE_SUBMIT_TIMEOUT_MS", 250)) * time.Millisecond,
		FreshnessTTL:       time.Duration(getEnvInt("FRESHNESS_TTL_SECS", 600)) * time.Second,
		BatchTTL:           time.Duration(getEnvInt("BATCH_TTL_HOURS", 24)) * time.Hour,
		BatchCacheSize:     getEnvInt("BATCH_CACHE_SIZE", 1000),
		BulkConcurrency:    getEnvInt("BULK_CONCURRENCY", 2),
		BulkRatePerSec:     getEnvFloat("BULK_RATE_PER_SEC", 0),
		CacheRetentionDays: getEnvInt("CACHE_RETENTION_DAYS", 0),
		CleanupInterval:    time.Duration(getEnvInt("CLEANUP_INTERVAL_MINS", 60)) * time.Minute,
	}
}

// Helpers
func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvSlice(key string) []string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return nil
	}
	var result []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			result = append(result, part)
		}
	}
	return result
}

func getEnvBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		val, err := strconv.ParseBool(value)
		if err == nil {
			return val
		}
	}
	return fallback
}
func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		val, err := strconv.Atoi(value)
		if err == nil {
			return val
		}
	}
	return fallback
}
func getEnvFloat(key string, fallback float64) float64 {
	if value, ok := os.LookupEnv(key); ok {
		val, err := strconv.ParseFloat(value, 64)
		if err == nil {
			return val
		}
	}
	return fallback
}
