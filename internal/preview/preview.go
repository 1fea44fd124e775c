// Package preview renders stacked frames as 8-bit PNGs for monitoring
// surfaces. Astronomical data lives in a narrow band of the float range, so
// each channel is stretched between its low and high percentiles before
// encoding.
package preview

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"gopkg.in/gographics/imagick.v3/imagick"

	"stargazer/internal/frame"
)

const (
	lowPercentile  = 0.005
	highPercentile = 0.995
)

// WritePNG renders f to path as a stretched 8-bit PNG.
func WritePNG(f *frame.Frame, path string) error {
	if f == nil || len(f.Data) == 0 {
		return errors.New("no frame to render")
	}

	channels := f.Channels
	pixmap := "I"
	if channels == 3 {
		pixmap = "RGB"
	}
	vals := make([]float64, len(f.Data))
	for c := 0; c < channels; c++ {
		stretchChannel(f.Data, vals, c, channels)
	}

	imagick.Initialize()
	defer imagick.Terminate()

	mw := imagick.NewMagickWand()
	defer mw.Destroy()

	if err := mw.ConstituteImage(uint(f.Width), uint(f.Height), pixmap, imagick.PIXEL_DOUBLE, vals); err != nil {
		return fmt.Errorf("constitute preview: %v", err)
	}
	if err := mw.SetImageFormat("PNG"); err != nil {
		return fmt.Errorf("set preview format: %v", err)
	}
	if err := mw.SetImageDepth(8); err != nil {
		return fmt.Errorf("set preview depth: %v", err)
	}
	if err := mw.WriteImage(path); err != nil {
		return fmt.Errorf("write preview: %v", err)
	}
	return nil
}

// PNG encodes f as a stretched 8-bit PNG and returns the bytes.
func PNG(f *frame.Frame) ([]byte, error) {
	tmp, err := os.CreateTemp("", "stargazer-preview-*.png")
	if err != nil {
		return nil, err
	}
	path := tmp.Name()
	tmp.Close()
	defer os.Remove(path)

	if err := WritePNG(f, path); err != nil {
		return nil, err
	}
	return os.ReadFile(path)
}

// stretchChannel maps one interleaved channel of src into dst, scaled so the
// low percentile lands at 0 and the high percentile at 1.
func stretchChannel(src []float32, dst []float64, c, channels int) {
	n := len(src) / channels
	sorted := make([]float64, 0, n)
	for i := 0; i < n; i++ {
		sorted = append(sorted, float64(src[i*channels+c]))
	}
	sort.Float64s(sorted)
	low := quantileSorted(sorted, lowPercentile)
	high := quantileSorted(sorted, highPercentile)
	span := high - low
	for i := 0; i < n; i++ {
		idx := i*channels + c
		if span <= 0 {
			dst[idx] = 0
			continue
		}
		v := (float64(src[idx]) - low) / span
		if v < 0 {
			v = 0
		} else if v > 1 {
			v = 1
		}
		dst[idx] = v
	}
}

func quantileSorted(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if len(sorted) == 1 {
		return sorted[0]
	}
	index := q * float64(len(sorted)-1)
	lower := int(index)
	upper := lower + 1
	if upper >= len(sorted) {
		return sorted[len(sorted)-1]
	}
	weight := index - float64(lower)
	return sorted[lower]*(1-weight) + sorted[upper]*weight
}
