package engine

import (
	"fmt"
	"time"

	"github.com/CodeTease/wmcache/pkg/cache"
	"github.com/CodeTease/wmcache/pkg/config"
	"github.com/CodeTease/wmcache/pkg/settings"
	"github.com/CodeTease/wmcache/pkg/storage"
)

// l1MarkerTTL caps how long a process trusts its local copy of a shared
// marker.
const l1MarkerTTL = 30 * time.Second

// NewFromConfig builds the production collaborators: local or S3 storage,
// Redis-backed markers and settings when REDIS_ADDR is set, in-process ones
// otherwise.
func NewFromConfig(cfg config.Config) (*Engine, error) {
	var store storage.BlobStore
	switch cfg.StorageDriver {
	case "s3":
		if cfg.S3Bucket == "" || cfg.S3AccessKey == "" || cfg.S3SecretKey == "" {
			return nil, fmt.Errorf("missing required S3 configuration")
		}
		s3Store, err := storage.NewS3Store(cfg)
		if err != nil {
			return nil, err
		}
		store = s3Store
	case "local", "":
		local, err := storage.NewLocalStore(cfg.StorageRoot)
		if err != nil {
			return nil, err
		}
		store = local
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.StorageDriver)
	}

	memory := cache.NewMemoryCache(cfg.MemoryCacheSize)
	deps := Deps{Store: store, Markers: memory, Settings: settings.NewMemoryStore(nil)}
	if len(cfg.RedisAddrs) > 0 {
		client := cache.NewRedisClient(cfg.RedisAddrs, cfg.RedisPassword, cfg.RedisDB)
		shared := cache.NewRedisCache(client)
		deps.Markers = cache.NewTieredCache(memory, shared, l1MarkerTTL)
		// Batches go straight to Redis so any instance can report them.
		deps.Batches = shared
		deps.Settings = settings.NewRedisStore(client, "")
	}
	return New(cfg, deps)
}
