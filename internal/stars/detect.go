// Package stars finds and matches point sources between exposures. Detection
// works on a single plane; color frames pass their green channel in.
package stars

import (
	"math"
	"sort"
)

// Star is one detected point source with its intensity-weighted centroid.
type Star struct {
	X    float64
	Y    float64
	Flux float64
}

const (
	// DefaultSigma is the detection threshold in noise units above the
	// sky background.
	DefaultSigma = 5.0

	minBlobSize = 2
	maxBlobSize = 1000
	maxStars    = 100

	// Planes larger than this are stride-subsampled for the background
	// estimate; sorting every pixel of a full-resolution sensor is wasted
	// work for a sky statistic.
	backgroundSampleCap = 1 << 18
)

// Background estimates the sky level and noise of a plane as the median and
// the scaled median absolute deviation (1.4826*MAD, the normal-consistent
// estimator). Robust against the stars themselves.
func Background(plane []float32) (median, noise float64) {
	if len(plane) == 0 {
		return 0, 0
	}
	stride := 1
	if len(plane) > backgroundSampleCap {
		stride = len(plane)/backgroundSampleCap + 1
	}
	sample := make([]float64, 0, len(plane)/stride+1)
	for i := 0; i < len(plane); i += stride {
		sample = append(sample, float64(plane[i]))
	}
	sort.Float64s(sample)
	median = quantileSorted(sample)

	for i, v := range sample {
		sample[i] = math.Abs(v - median)
	}
	sort.Float64s(sample)
	return median, 1.4826 * quantileSorted(sample)
}

func quantileSorted(sorted []float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n%2 == 0 {
		return (sorted[n/2-1] + sorted[n/2]) / 2
	}
	return sorted[n/2]
}

func stddev(plane []float32) float64 {
	var sum, sumSq float64
	for _, v := range plane {
		f := float64(v)
		sum += f
		sumSq += f * f
	}
	n := float64(len(plane))
	variance := sumSq/n - (sum/n)*(sum/n)
	if variance <= 0 {
		return 0
	}
	return math.Sqrt(variance)
}

// Detect finds bright compact sources in a plane. Pixels above
// background+sigma*noise are grouped into connected blobs; blobs within the
// plausible star size range become stars at their intensity-weighted
// centroid. Returns at most maxStars stars, brightest first.
func Detect(plane []float32, width, height int, sigma float64) []Star {
	if width <= 0 || height <= 0 || len(plane) < width*height {
		return nil
	}
	if sigma <= 0 {
		sigma = DefaultSigma
	}
	sky, noise := Background(plane)
	if noise == 0 {
		// MAD collapses on mostly-flat data; fall back to the standard
		// deviation, which the sources themselves keep nonzero.
		noise = stddev(plane)
	}
	if noise == 0 {
		return nil
	}
	threshold := float32(sky + sigma*noise)

	var found []Star
	visited := make([]bool, width*height)
	var stack []int

	for start := 0; start < width*height; start++ {
		if visited[start] || plane[start] <= threshold {
			continue
		}

		// Flood fill the blob with 4-connectivity.
		stack = append(stack[:0], start)
		visited[start] = true
		var sumX, sumY, flux float64
		size := 0
		for len(stack) > 0 {
			idx := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			x, y := idx%width, idx/width

			w := float64(plane[idx]) - sky
			sumX += float64(x) * w
			sumY += float64(y) * w
			flux += w
			size++

			for _, n := range [4]int{idx - 1, idx + 1, idx - width, idx + width} {
				if n < 0 || n >= width*height {
					continue
				}
				// Reject horizontal wrap-around.
				if n == idx-1 && x == 0 || n == idx+1 && x == width-1 {
					continue
				}
				if !visited[n] && plane[n] > threshold {
					visited[n] = true
					stack = append(stack, n)
				}
			}
		}

		if size >= minBlobSize && size <= maxBlobSize && flux > 0 {
			found = append(found, Star{X: sumX / flux, Y: sumY / flux, Flux: flux})
		}
	}

	sort.Slice(found, func(i, j int) bool { return found[i].Flux > found[j].Flux })
	if len(found) > maxStars {
		found = found[:maxStars]
	}
	return found
}
