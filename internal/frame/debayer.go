package frame

import (
	"fmt"
	"strings"
)

// bayerRed gives the 2x2 cell (row, col parity) holding the red sample for
// each supported mosaic layout.
var bayerRed = map[string][2]int{
	"RGGB": {0, 0},
	"BGGR": {1, 1},
	"GRBG": {0, 1},
	"GBRG": {1, 0},
}

// Debayer reconstructs a 3-channel frame from Bayer-mosaic data via bilinear
// interpolation. Frames without a BAYERPAT key pass through untouched. On an
// unknown pattern, or data that is not a single plane, the original frame is
// returned together with the error so callers can warn and continue.
func Debayer(f *Frame) (*Frame, error) {
	hdr := f.Header
	if hdr == nil || !hdr.Has("BAYERPAT") {
		return f, nil
	}
	pattern, _ := hdr.Str("BAYERPAT")
	pattern = strings.ToUpper(strings.TrimSpace(pattern))
	red, ok := bayerRed[pattern]
	if !ok {
		return f, fmt.Errorf("unknown bayer pattern %q", pattern)
	}
	if f.Channels != 1 {
		return f, fmt.Errorf("bayer data must be single-plane, have %d channels", f.Channels)
	}

	out := &Frame{
		Data:     demosaic(f.Data, f.Width, f.Height, red[0], red[1]),
		Width:    f.Width,
		Height:   f.Height,
		Channels: 3,
		Header:   f.Header,
		Path:     f.Path,
	}
	return out, nil
}

// demosaic runs clamped bilinear interpolation over the mosaic. rRow/rCol
// are the parities of the red sample's cell; blue sits in the opposite cell
// and green in the remaining two.
func demosaic(data []float32, w, h, rRow, rCol int) []float32 {
	out := make([]float32, w*h*3)

	px := func(x, y int) float32 {
		if x < 0 {
			x = 0
		} else if x >= w {
			x = w - 1
		}
		if y < 0 {
			y = 0
		} else if y >= h {
			y = h - 1
		}
		return data[y*w+x]
	}
	plus := func(x, y int) float32 {
		return (px(x-1, y) + px(x+1, y) + px(x, y-1) + px(x, y+1)) / 4
	}
	cross := func(x, y int) float32 {
		return (px(x-1, y-1) + px(x+1, y-1) + px(x-1, y+1) + px(x+1, y+1)) / 4
	}
	horiz := func(x, y int) float32 { return (px(x-1, y) + px(x+1, y)) / 2 }
	vert := func(x, y int) float32 { return (px(x, y-1) + px(x, y+1)) / 2 }

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var r, g, b float32
			onRedRow := y&1 == rRow
			onRedCol := x&1 == rCol
			switch {
			case onRedRow && onRedCol:
				r = px(x, y)
				g = plus(x, y)
				b = cross(x, y)
			case !onRedRow && !onRedCol:
				b = px(x, y)
				g = plus(x, y)
				r = cross(x, y)
			case onRedRow:
				// Green sample whose row neighbors are red.
				g = px(x, y)
				r = horiz(x, y)
				b = vert(x, y)
			default:
				g = px(x, y)
				r = vert(x, y)
				b = horiz(x, y)
			}
			idx := (y*w + x) * 3
			out[idx], out[idx+1], out[idx+2] = r, g, b
		}
	}
	return out
}
