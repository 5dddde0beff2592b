package watermark

import "github.com/CodeTease/wmcache/pkg/settings"

// Padding is the gap kept between the watermark and each edge it is
// anchored to.
const Padding = 20

// Place returns the top-left pixel of a wmW x wmH watermark on a canvasW x
// canvasH canvas. Centered axes use integer midpoint arithmetic. Offsets
// that would fall outside the canvas (watermark larger than the space) are
// clamped to 0. Unknown positions are treated as bottom-right.
func Place(canvasW, canvasH, wmW, wmH int, pos settings.Position) (x, y int) {
	left, hcenter, right := Padding, (canvasW-wmW)/2, canvasW-wmW-Padding
	top, vcenter, bottom := Padding, (canvasH-wmH)/2, canvasH-wmH-Padding

	switch pos {
	case settings.TopLeft:
		x, y = left, top
	case settings.TopCenter:
		x, y = hcenter, top
	case settings.TopRight:
		x, y = right, top
	case settings.CenterLeft:
		x, y = left, vcenter
	case settings.Center:
		x, y = hcenter, vcenter
	case settings.CenterRight:
		x, y = right, vcenter
	case settings.BottomLeft:
		x, y = left, bottom
	case settings.BottomCenter:
		x, y = hcenter, bottom
	default:
		x, y = right, bottom
	}

	if x < 0 {
		x = 0
	}
	if y < 0 {
		y = 0
	}
	return x, y
}
