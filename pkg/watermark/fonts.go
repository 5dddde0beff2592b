package watermark

import (
	"fmt"
	"os"

	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"

	"github.com/CodeTease/wmcache/pkg/settings"
)

// Text sizes in pixels. They are deliberately independent of the image size
// so the mark reads the same on thumbnails and full-size photos.
var textSizePx = map[settings.Size]float64{
	settings.Small:  16,
	settings.Medium: 24,
	settings.Large:  32,
}

// LoadFont parses a TTF/OTF file, or the embedded Go Regular face when path
// is empty.
func LoadFont(path string) (*opentype.Font, error) {
	data := goregular.TTF
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read font %s: %w", path, err)
		}
		data = b
	}
	return opentype.Parse(data)
}

// newFace builds a face for one draw; faces are not safe for concurrent use
// while the parsed font is.
func newFace(f *opentype.Font, size settings.Size) (font.Face, error) {
	px, ok := textSizePx[size]
	if !ok {
		px = textSizePx[settings.Medium]
	}
	return opentype.NewFace(f, &opentype.FaceOptions{
		Size:    px,
		DPI:     72,
		Hinting: font.HintingFull,
	})
}
