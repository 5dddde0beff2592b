package watermark

import (
	"bytes"
	"context"
	"image"
	"log/slog"
	"sync"
	"time"

	"github.com/disintegration/imaging"

	"github.com/CodeTease/wmcache/pkg/settings"
	"github.com/CodeTease/wmcache/pkg/storage"
)

// Logo widths in pixels per size category.
var logoWidthPx = map[settings.Size]int{
	settings.Small:  80,
	settings.Medium: 120,
	settings.Large:  160,
}

// maxLogoShare bounds the logo to this fraction of either source dimension.
const maxLogoShare = 0.8

type logoEntry struct {
	img     image.Image
	modTime time.Time
}

// LogoCache keeps decoded logos in memory and reloads one when its object
// in the store is newer than the cached copy.
type LogoCache struct {
	store   storage.BlobStore
	mu      sync.RWMutex
	entries map[string]logoEntry
}

func NewLogoCache(store storage.BlobStore) *LogoCache {
	return &LogoCache{
		store:   store,
		entries: make(map[string]logoEntry),
	}
}

func (m *LogoCache) Get(ctx context.Context, p string) (image.Image, error) {
	info, err := m.store.Stat(ctx, p)
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	// If mod time hasn't changed and we have an image, return it
	if e, ok := m.entries[p]; ok && !info.ModTime.After(e.modTime) {
		m.mu.RUnlock()
		return e.img, nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	// Double check
	if e, ok := m.entries[p]; ok && !info.ModTime.After(e.modTime) {
		return e.img, nil
	}

	slog.Debug("[LOGO] Loading logo", "path", p)
	data, err := m.store.Read(ctx, p)
	if err != nil {
		return nil, err
	}
	// imaging.Decode keeps the alpha channel of PNG/GIF logos.
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}

	m.entries[p] = logoEntry{img: img, modTime: info.ModTime}
	return img, nil
}

// fitLogo scales logo to the category width, then shrinks it further if it
// would exceed maxLogoShare of the canvas in either dimension.
func fitLogo(logo image.Image, size settings.Size, canvasW, canvasH int) *image.NRGBA {
	width, ok := logoWidthPx[size]
	if !ok {
		width = logoWidthPx[settings.Medium]
	}
	scaled := imaging.Resize(logo, width, 0, imaging.Lanczos)

	maxW := int(float64(canvasW) * maxLogoShare)
	maxH := int(float64(canvasH) * maxLogoShare)
	if maxW < 1 {
		maxW = 1
	}
	if maxH < 1 {
		maxH = 1
	}
	b := scaled.Bounds()
	if b.Dx() > maxW || b.Dy() > maxH {
		scaled = imaging.Fit(scaled, maxW, maxH, imaging.Lanczos)
	}
	return scaled
}
