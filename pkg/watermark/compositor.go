package watermark

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"strings"

	"github.com/disintegration/imaging"
	"golang.org/x/image/font"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"

	"github.com/CodeTease/wmcache/pkg/settings"
	"github.com/CodeTease/wmcache/pkg/storage"
)

// Renderer turns an encoded source image into an encoded watermarked copy.
type Renderer interface {
	Composite(ctx context.Context, src []byte, name string, s settings.Snapshot) ([]byte, error)
}

// Ensure Compositor implements Renderer
var _ Renderer = (*Compositor)(nil)

// Compositor draws the logo and text overlays. It is safe for concurrent use.
type Compositor struct {
	font        *opentype.Font
	logos       *LogoCache
	jpegQuality int
}

// NewCompositor loads the text font up front so a bad FONT_PATH fails at
// startup rather than on every generation.
func NewCompositor(store storage.BlobStore, fontPath string, jpegQuality int) (*Compositor, error) {
	f, err := LoadFont(fontPath)
	if err != nil {
		return nil, &ImageProcessingError{Op: "font", Path: fontPath, Err: err}
	}
	return &Compositor{
		font:        f,
		logos:       NewLogoCache(store),
		jpegQuality: jpegQuality,
	}, nil
}

// Composite decodes src, draws the overlays on a copy and encodes the result
// in the format src was in. name is used for format detection and errors.
func (c *Compositor) Composite(ctx context.Context, src []byte, name string, s settings.Snapshot) ([]byte, error) {
	format, err := DetectFormat(name, src)
	if err != nil {
		return nil, &ImageProcessingError{Op: "decode", Path: name, Err: err}
	}
	decoded, err := decodeImage(src, format)
	if err != nil {
		return nil, &ImageProcessingError{Op: "decode", Path: name, Err: err}
	}

	canvas := imaging.Clone(decoded)
	bounds := canvas.Bounds()

	if s.LogoPath != "" {
		logo, err := c.logos.Get(ctx, s.LogoPath)
		if err != nil {
			return nil, &ImageProcessingError{Op: "logo", Path: s.LogoPath, Err: err}
		}
		fitted := fitLogo(logo, s.LogoSize, bounds.Dx(), bounds.Dy())
		lb := fitted.Bounds()
		x, y := Place(bounds.Dx(), bounds.Dy(), lb.Dx(), lb.Dy(), s.Position)
		canvas = imaging.Overlay(canvas, fitted, image.Pt(x, y), float64(s.Opacity)/100)
	}

	if text := strings.TrimSpace(s.Text); text != "" {
		if err := c.drawText(canvas, text, s); err != nil {
			return nil, &ImageProcessingError{Op: "font", Path: name, Err: err}
		}
	}

	buf := new(bytes.Buffer)
	if err := encodeImage(buf, canvas, format, c.jpegQuality); err != nil {
		return nil, &ImageProcessingError{Op: "encode", Path: name, Err: err}
	}
	return buf.Bytes(), nil
}

func (c *Compositor) drawText(dst *image.NRGBA, text string, s settings.Snapshot) error {
	face, err := newFace(c.font, s.TextSize)
	if err != nil {
		return err
	}
	defer face.Close()

	ink, _ := font.BoundString(face, text)
	w := (ink.Max.X - ink.Min.X).Ceil()
	h := (ink.Max.Y - ink.Min.Y).Ceil()
	// The shadow sits one pixel right of and below the text.
	x, y := Place(dst.Bounds().Dx(), dst.Bounds().Dy(), w+1, h+1, s.Position)
	dot := fixed.Point26_6{X: fixed.I(x) - ink.Min.X, Y: fixed.I(y) - ink.Min.Y}

	alpha := uint8(s.Opacity * 255 / 100)
	shadow := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(color.NRGBA{A: alpha}),
		Face: face,
		Dot:  dot.Add(fixed.P(1, 1)),
	}
	shadow.DrawString(text)

	fg := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(color.NRGBA{R: s.TextColor.R, G: s.TextColor.G, B: s.TextColor.B, A: alpha}),
		Face: face,
		Dot:  dot,
	}
	fg.DrawString(text)
	return nil
}
