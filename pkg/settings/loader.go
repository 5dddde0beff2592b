package settings

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"
)

const snapshotKey = "current"

// Loader reads a Snapshot from a Store and keeps it for a short TTL.
type Loader struct {
	store Store
	cache *expirable.LRU[string, Snapshot]
	group singleflight.Group

	// gen counts invalidations. A read only fills the cache if no
	// invalidation happened while it ran.
	mu  sync.Mutex
	gen uint64
}

func NewLoader(store Store, ttl time.Duration) *Loader {
	return &Loader{
		store: store,
		cache: expirable.NewLRU[string, Snapshot](1, nil, ttl),
	}
}

// Get returns the cached snapshot, reading the store on a miss. Concurrent
// misses share one read.
func (l *Loader) Get(ctx context.Context) (Snapshot, error) {
	if s, ok := l.cache.Get(snapshotKey); ok {
		return s, nil
	}
	l.mu.Lock()
	gen := l.gen
	l.mu.Unlock()

	// Keyed by generation so a Get issued after Invalidate never joins a
	// read that started before it.
	v, err, _ := l.group.Do(snapshotKey+":"+strconv.FormatUint(gen, 10), func() (interface{}, error) {
		s, err := Read(ctx, l.store)
		if err != nil {
			return Snapshot{}, err
		}
		l.mu.Lock()
		if l.gen == gen {
			l.cache.Add(snapshotKey, s)
		}
		l.mu.Unlock()
		return s, nil
	})
	if err != nil {
		return Snapshot{}, err
	}
	return v.(Snapshot), nil
}

// Invalidate drops the cached snapshot. Called after every settings write.
func (l *Loader) Invalidate() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.gen++
	l.cache.Purge()
}

// Read builds a Snapshot straight from the store. Invalid values fall back
// to their defaults and are logged; only store errors fail the read.
func Read(ctx context.Context, store Store) (Snapshot, error) {
	s := Default()
	get := func(key string) (string, bool, error) {
		v, ok, err := store.Get(ctx, key)
		if err != nil {
			return "", false, fmt.Errorf("read setting %s: %w", key, err)
		}
		return strings.TrimSpace(v), ok && strings.TrimSpace(v) != "", nil
	}

	if v, ok, err := get(KeyEnabled); err != nil {
		return s, err
	} else if ok {
		if b, perr := strconv.ParseBool(v); perr == nil {
			s.Enabled = b
		} else {
			slog.Warn("[SETTINGS] Invalid value, using default", "key", KeyEnabled, "value", v)
		}
	}

	text, _, err := get(KeyText)
	if err != nil {
		return s, err
	}
	s.Text = text

	logo, _, err := get(KeyLogo)
	if err != nil {
		return s, err
	}
	s.LogoPath = logo

	if v, ok, err := get(KeyPosition); err != nil {
		return s, err
	} else if ok {
		if p, perr := ParsePosition(v); perr == nil {
			s.Position = p
		} else {
			slog.Warn("[SETTINGS] Invalid value, using default", "key", KeyPosition, "value", v)
		}
	}

	if v, ok, err := get(KeyOpacity); err != nil {
		return s, err
	} else if ok {
		if n, perr := strconv.Atoi(strings.TrimSuffix(v, "%")); perr == nil {
			s.Opacity = ClampOpacity(n)
		} else {
			slog.Warn("[SETTINGS] Invalid value, using default", "key", KeyOpacity, "value", v)
		}
	}

	if v, ok, err := get(KeyTextSize); err != nil {
		return s, err
	} else if ok {
		if sz, perr := ParseTextSize(v); perr == nil {
			s.TextSize = sz
		} else {
			slog.Warn("[SETTINGS] Invalid value, using default", "key", KeyTextSize, "value", v)
		}
	}

	if v, ok, err := get(KeyLogoSize); err != nil {
		return s, err
	} else if ok {
		if sz, perr := ParseLogoSize(v); perr == nil {
			s.LogoSize = sz
		} else {
			slog.Warn("[SETTINGS] Invalid value, using default", "key", KeyLogoSize, "value", v)
		}
	}

	if v, ok, err := get(KeyTextColor); err != nil {
		return s, err
	} else if ok {
		if c, perr := ParseRGB(v); perr == nil {
			s.TextColor = c
		} else {
			slog.Warn("[SETTINGS] Invalid value, using default", "key", KeyTextColor, "value", v)
		}
	}

	return s, nil
}
