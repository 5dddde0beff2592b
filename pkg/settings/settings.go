// Package settings turns the flat watermark keys held in a key-value store
// into an immutable Snapshot and tracks which changes affect pixels.
package settings

import (
	"fmt"
	"strconv"
	"strings"
)

// Keys read from the settings store.
const (
	KeyEnabled   = "watermark_enabled"
	KeyText      = "watermark_text"
	KeyLogo      = "watermark_logo"
	KeyPosition  = "watermark_position"
	KeyOpacity   = "watermark_opacity"
	KeyTextSize  = "watermark_text_size"
	KeyLogoSize  = "watermark_logo_size"
	KeyTextColor = "watermark_text_color"
)

// visualKeys are the keys whose values change rendered output. KeyEnabled
// gates watermarking but does not change pixels.
var visualKeys = []string{KeyText, KeyLogo, KeyPosition, KeyOpacity, KeyTextSize, KeyLogoSize, KeyTextColor}

// IsVisualKey reports whether a change to key can change rendered output.
func IsVisualKey(key string) bool {
	for _, k := range visualKeys {
		if k == key {
			return true
		}
	}
	return false
}

type Position string

const (
	TopLeft      Position = "top-left"
	TopCenter    Position = "top-center"
	TopRight     Position = "top-right"
	CenterLeft   Position = "center-left"
	Center       Position = "center"
	CenterRight  Position = "center-right"
	BottomLeft   Position = "bottom-left"
	BottomCenter Position = "bottom-center"
	BottomRight  Position = "bottom-right"
)

// Positions lists the grid row by row.
var Positions = []Position{
	TopLeft, TopCenter, TopRight,
	CenterLeft, Center, CenterRight,
	BottomLeft, BottomCenter, BottomRight,
}

// ParsePosition accepts the canonical names plus the spellings admin forms
// tend to produce (middle-*, center-center, underscores).
func ParsePosition(s string) (Position, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	v = strings.ReplaceAll(v, "_", "-")
	v = strings.ReplaceAll(v, " ", "-")
	v = strings.ReplaceAll(v, "middle", "center")
	switch v {
	case "center-center", "centre":
		v = string(Center)
	case "left-center":
		v = string(CenterLeft)
	case "right-center":
		v = string(CenterRight)
	}
	for _, p := range Positions {
		if string(p) == v {
			return p, nil
		}
	}
	return "", fmt.Errorf("unknown watermark position %q", s)
}

type Size string

const (
	Small  Size = "small"
	Medium Size = "medium"
	Large  Size = "large"
)

// Pixel thresholds used to fold legacy numeric sizes into categories.
const (
	textSmallMaxPx  = 18
	textMediumMaxPx = 28
	logoSmallMaxPx  = 100
	logoMediumMaxPx = 140
)

// ParseTextSize normalizes a category name or a legacy pixel size.
func ParseTextSize(s string) (Size, error) {
	return parseSize(s, textSmallMaxPx, textMediumMaxPx)
}

// ParseLogoSize normalizes a category name or a legacy pixel width.
func ParseLogoSize(s string) (Size, error) {
	return parseSize(s, logoSmallMaxPx, logoMediumMaxPx)
}

func parseSize(s string, smallMax, mediumMax float64) (Size, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	switch Size(v) {
	case Small, Medium, Large:
		return Size(v), nil
	}
	px, err := strconv.ParseFloat(strings.TrimSuffix(v, "px"), 64)
	if err != nil || px <= 0 {
		return "", fmt.Errorf("unknown size %q", s)
	}
	switch {
	case px <= smallMax:
		return Small, nil
	case px <= mediumMax:
		return Medium, nil
	default:
		return Large, nil
	}
}

// RGB is a text color.
type RGB struct {
	R uint8 `json:"r"`
	G uint8 `json:"g"`
	B uint8 `json:"b"`
}

var White = RGB{255, 255, 255}

// ParseRGB accepts #RRGGBB, RRGGBB and #RGB.
func ParseRGB(s string) (RGB, error) {
	v := strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(v) == 3 {
		v = string([]byte{v[0], v[0], v[1], v[1], v[2], v[2]})
	}
	if len(v) != 6 {
		return RGB{}, fmt.Errorf("invalid color %q", s)
	}
	n, err := strconv.ParseUint(v, 16, 32)
	if err != nil {
		return RGB{}, fmt.Errorf("invalid color %q: %w", s, err)
	}
	return RGB{R: uint8(n >> 16), G: uint8(n >> 8), B: uint8(n)}, nil
}

func (c RGB) Hex() string {
	return fmt.Sprintf("#%02X%02X%02X", c.R, c.G, c.B)
}

const (
	MinOpacity     = 10
	MaxOpacity     = 90
	DefaultOpacity = 50
)

// ClampOpacity forces a percentage into [MinOpacity, MaxOpacity].
func ClampOpacity(v int) int {
	if v < MinOpacity {
		return MinOpacity
	}
	if v > MaxOpacity {
		return MaxOpacity
	}
	return v
}

// Snapshot is the watermark configuration at one point in time. It is a
// value; copies never alias.
type Snapshot struct {
	Enabled   bool     `json:"enabled"`
	Text      string   `json:"text"`
	LogoPath  string   `json:"logo_path,omitempty"`
	Position  Position `json:"position"`
	Opacity   int      `json:"opacity"`
	TextSize  Size     `json:"text_size"`
	LogoSize  Size     `json:"logo_size"`
	TextColor RGB      `json:"text_color"`
}

// Default returns the settings used for keys that are absent or invalid.
func Default() Snapshot {
	return Snapshot{
		Enabled:   false,
		Position:  BottomRight,
		Opacity:   DefaultOpacity,
		TextSize:  Medium,
		LogoSize:  Medium,
		TextColor: White,
	}
}

// HasContent reports whether there is anything to draw.
func (s Snapshot) HasContent() bool {
	return strings.TrimSpace(s.Text) != "" || s.LogoPath != ""
}

// Active reports whether a watermark should be applied at all.
func (s Snapshot) Active() bool {
	return s.Enabled && s.HasContent()
}

// Visual is the subset of a Snapshot that determines rendered pixels. Field
// order is fixed; it is what the derivative cache key hashes.
type Visual struct {
	Text      string   `json:"text"`
	Opacity   int      `json:"opacity"`
	Position  Position `json:"position"`
	TextSize  Size     `json:"text_size"`
	LogoPath  string   `json:"logo_path"`
	LogoSize  Size     `json:"logo_size"`
	TextColor string   `json:"text_color"`
}

func (s Snapshot) Visual() Visual {
	return Visual{
		Text:      s.Text,
		Opacity:   s.Opacity,
		Position:  s.Position,
		TextSize:  s.TextSize,
		LogoPath:  s.LogoPath,
		LogoSize:  s.LogoSize,
		TextColor: s.TextColor.Hex(),
	}
}

// VisuallyEqual reports whether a and b render identically.
func VisuallyEqual(a, b Snapshot) bool {
	return a.Visual() == b.Visual()
}
