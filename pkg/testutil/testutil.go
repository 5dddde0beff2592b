// Package testutil holds fixtures shared by package tests.
package testutil

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"testing"
	"time"

	"github.com/CodeTease/wmcache/pkg/storage"
)

// NewStore returns a LocalStore rooted in a per-test temp dir.
func NewStore(t *testing.T) *storage.LocalStore {
	t.Helper()
	s, err := storage.NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStore() error = %v", err)
	}
	return s
}

// Gradient returns a w x h opaque image with a diagonal gradient, so any
// overlay changes pixels.
func Gradient(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x * 255 / w), G: uint8(y * 255 / h), B: 96, A: 255})
		}
	}
	return img
}

func JPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, Gradient(w, h), &jpeg.Options{Quality: 90}); err != nil {
		t.Fatalf("jpeg.Encode() error = %v", err)
	}
	return buf.Bytes()
}

func PNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png.Encode() error = %v", err)
	}
	return buf.Bytes()
}

// Logo returns a w x h PNG: an opaque red square on a transparent field.
func Logo(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := h / 4; y < 3*h/4; y++ {
		for x := w / 4; x < 3*w/4; x++ {
			img.Set(x, y, color.NRGBA{R: 255, A: 255})
		}
	}
	return PNG(t, img)
}

// Put writes data at p and fails the test on error.
func Put(t *testing.T, s storage.BlobStore, p string, data []byte) {
	t.Helper()
	if err := s.Write(t.Context(), p, data); err != nil {
		t.Fatalf("Write(%s) error = %v", p, err)
	}
}

// SetModTime backdates or postdates an object in a LocalStore.
func SetModTime(t *testing.T, s *storage.LocalStore, p string, mt time.Time) {
	t.Helper()
	if err := os.Chtimes(s.Path(p), mt, mt); err != nil {
		t.Fatalf("Chtimes(%s) error = %v", p, err)
	}
}
