package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"
)

// ErrRejected is returned when a backend drops a write (ristretto does so
// under contention).
var ErrRejected = errors.New("cache: write rejected")

// MarkerCache is the fast key-value store for short-lived markers: scheduled
// generations, freshness shortcuts and batch records. A zero ttl means no
// expiry.
type MarkerCache interface {
	Has(ctx context.Context, key string) bool
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// SetNX stores value only when key is absent and reports whether it did.
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, key string) error
	// DeletePrefix removes every key starting with prefix and returns how many
	// were removed.
	DeletePrefix(ctx context.Context, prefix string) (int, error)
}

// HashKey returns a hex sha256 over parts, each followed by a separator so
// ("ab","c") and ("a","bc") differ.
func HashKey(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
