package stars

import "math"

// Metrics summarizes a single frame for file-list triage: how many stars it
// shows, how sharp they are, how bright the sky glow is, and a combined
// 0-100 score.
type Metrics struct {
	Stars  int
	FWHM   float64
	SkyPct float64
	SNR    float64
	Score  float64
}

// Analyze computes triage metrics for one plane. Shares its background and
// source detection with the alignment path, so a frame that scores well here
// is also one the registration step can use.
func Analyze(plane []float32, width, height int) Metrics {
	var m Metrics
	if len(plane) == 0 {
		return m
	}

	sky, _ := Background(plane)
	found := Detect(plane, width, height, DefaultSigma)
	m.Stars = len(found)

	var sum, sumSq float64
	peak := float64(plane[0])
	for _, v := range plane {
		f := float64(v)
		sum += f
		sumSq += f * f
		if f > peak {
			peak = f
		}
	}
	n := float64(len(plane))
	mean := sum / n
	variance := sumSq/n - mean*mean
	if variance > 0 {
		m.SNR = mean / math.Sqrt(variance)
	}
	if peak > 0 {
		m.SkyPct = sky / peak * 100
	}

	sample := found
	if len(sample) > 20 {
		sample = sample[:20]
	}
	var fwhmSum float64
	fwhmCount := 0
	for _, s := range sample {
		if f := fwhmAt(plane, width, height, s, sky); f > 0 {
			fwhmSum += f
			fwhmCount++
		}
	}
	if fwhmCount > 0 {
		m.FWHM = fwhmSum / float64(fwhmCount)
	}

	score := math.Min(float64(m.Stars)*2, 40)
	score += math.Max(0, 20-m.FWHM*2)
	score += math.Max(0, 20-m.SkyPct/5)
	m.Score = math.Max(0, math.Min(100, score))
	return m
}

// fwhmAt estimates a star's full width at half maximum from the
// background-subtracted second moment inside a small box around its
// centroid. For a Gaussian profile the radial second moment is 2*sigma^2.
func fwhmAt(plane []float32, width, height int, s Star, sky float64) float64 {
	const box = 5
	cx, cy := int(math.Round(s.X)), int(math.Round(s.Y))

	var moment, total float64
	for y := cy - box; y <= cy+box; y++ {
		if y < 0 || y >= height {
			continue
		}
		for x := cx - box; x <= cx+box; x++ {
			if x < 0 || x >= width {
				continue
			}
			w := float64(plane[y*width+x]) - sky
			if w <= 0 {
				continue
			}
			dx, dy := float64(x)-s.X, float64(y)-s.Y
			moment += w * (dx*dx + dy*dy)
			total += w
		}
	}
	if total <= 0 {
		return 0
	}
	sigma := math.Sqrt(moment / total / 2)
	return 2.3548 * sigma
}
