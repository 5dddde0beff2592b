package watermark

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"path"
	"strings"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	"github.com/gen2brain/avif"
)

// Format is an image encoding the compositor reads and writes.
type Format string

const (
	JPEG Format = "jpeg"
	PNG  Format = "png"
	GIF  Format = "gif"
	BMP  Format = "bmp"
	TIFF Format = "tiff"
	WEBP Format = "webp"
	AVIF Format = "avif"
)

// DetectFormat derives the format from the file extension and falls back to
// sniffing the content with the registered decoders.
func DetectFormat(name string, data []byte) (Format, error) {
	switch strings.ToLower(path.Ext(name)) {
	case ".jpg", ".jpeg":
		return JPEG, nil
	case ".png":
		return PNG, nil
	case ".gif":
		return GIF, nil
	case ".bmp":
		return BMP, nil
	case ".tif", ".tiff":
		return TIFF, nil
	case ".webp":
		return WEBP, nil
	case ".avif":
		return AVIF, nil
	}

	_, sniffed, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("unrecognized image format for %s: %w", name, err)
	}
	switch f := Format(sniffed); f {
	case JPEG, PNG, GIF, BMP, TIFF, WEBP, AVIF:
		return f, nil
	}
	return "", fmt.Errorf("unsupported image format %q for %s", sniffed, name)
}

func decodeImage(data []byte, f Format) (image.Image, error) {
	r := bytes.NewReader(data)
	switch f {
	case WEBP:
		return webp.Decode(r)
	case AVIF:
		return avif.Decode(r)
	default:
		return imaging.Decode(r, imaging.AutoOrientation(true))
	}
}

func encodeImage(w io.Writer, img image.Image, f Format, quality int) error {
	if quality <= 0 || quality > 100 {
		quality = 90
	}

	switch f {
	case PNG:
		return imaging.Encode(w, img, imaging.PNG)
	case GIF:
		return imaging.Encode(w, img, imaging.GIF)
	case BMP:
		return imaging.Encode(w, img, imaging.BMP)
	case TIFF:
		return imaging.Encode(w, img, imaging.TIFF)
	case WEBP:
		return webp.Encode(w, img, &webp.Options{Quality: float32(quality)})
	case AVIF:
		return avif.Encode(w, img, avif.Options{Quality: quality})
	default: // jpeg
		return jpeg.Encode(w, img, &jpeg.Options{Quality: quality})
	}
}
