package align

import (
	"fmt"

	"stargazer/internal/frame"
	"stargazer/internal/stars"
)

// Result is the outcome of registering one frame against the reference. A
// dropped frame is a first-class outcome, not an error: Reason says why and
// Frame is nil.
type Result struct {
	Frame     *frame.Frame
	Transform Affine
	Matches   int
	Inliers   int
	Reason    string
}

// Aligned reports whether the frame registered successfully.
func (r Result) Aligned() bool {
	return r.Reason == ""
}

func failure(format string, args ...any) Result {
	return Result{Reason: fmt.Sprintf(format, args...)}
}

// Reference is a stacking target with its point sources detected once, so a
// batch of frames can register against it without repeating that work.
type Reference struct {
	Frame *frame.Frame
	Stars []stars.Star
}

// Aligner estimates a transform on the representative plane of each frame
// and applies it to every channel. Stateless; one value can serve
// concurrent goroutines.
type Aligner struct {
	// Sigma is the star detection threshold in noise units.
	Sigma float64
	// Iterations bounds the consensus search.
	Iterations int
	// Tolerance is the inlier residual limit in pixels.
	Tolerance float64
	// MinMatches is the fewest matched pairs worth fitting.
	MinMatches int
}

// New returns an aligner with the default detection and consensus settings.
func New() *Aligner {
	return &Aligner{
		Sigma:      stars.DefaultSigma,
		Iterations: 2000,
		Tolerance:  3.0,
		MinMatches: 4,
	}
}

// repPlane picks the plane registration works on: green for color frames,
// the data itself for mono.
func repPlane(f *frame.Frame) []float32 {
	if f.Color() {
		return f.Plane(1)
	}
	return f.Plane(0)
}

// Prepare detects the reference's point sources for reuse across a batch.
func (a *Aligner) Prepare(ref *frame.Frame) Reference {
	return Reference{
		Frame: ref,
		Stars: stars.Detect(repPlane(ref), ref.Width, ref.Height, a.Sigma),
	}
}

// Estimate fits the transform mapping src onto the prepared reference
// without applying it. Execution strategies share this so the accelerated
// path computes the identical mapping and differs only in how pixels are
// resampled.
func (a *Aligner) Estimate(src *frame.Frame, ref Reference) (Affine, int, int, error) {
	if src == nil || ref.Frame == nil {
		return Affine{}, 0, 0, fmt.Errorf("missing frame")
	}
	if src.Channels != ref.Frame.Channels {
		return Affine{}, 0, 0, fmt.Errorf("channel mismatch: frame has %d, reference has %d", src.Channels, ref.Frame.Channels)
	}
	if len(ref.Stars) < a.MinMatches {
		return Affine{}, 0, 0, fmt.Errorf("%w in reference: %d", ErrTooFewStars, len(ref.Stars))
	}

	srcStars := stars.Detect(repPlane(src), src.Width, src.Height, a.Sigma)
	if len(srcStars) < a.MinMatches {
		return Affine{}, 0, 0, fmt.Errorf("%w in frame: %d", ErrTooFewStars, len(srcStars))
	}

	matches := stars.MatchStars(srcStars, ref.Stars)
	if len(matches) < a.MinMatches {
		return Affine{}, 0, 0, fmt.Errorf("%w matched: %d", ErrTooFewStars, len(matches))
	}

	t, inliers, err := EstimateTransform(srcStars, ref.Stars, matches, a.Iterations, a.Tolerance)
	if err != nil {
		return Affine{}, 0, 0, fmt.Errorf("transform estimation: %w", err)
	}
	return t, len(matches), len(inliers), nil
}

// Align registers src against the prepared reference. The transform is
// estimated once on the representative plane and then applied identically to
// every channel, so color planes cannot drift relative to each other.
func (a *Aligner) Align(src *frame.Frame, ref Reference) Result {
	t, matches, inliers, err := a.Estimate(src, ref)
	if err != nil {
		return failure("%v", err)
	}

	dst := ref.Frame
	out := &frame.Frame{
		Data:     make([]float32, dst.Width*dst.Height*src.Channels),
		Width:    dst.Width,
		Height:   dst.Height,
		Channels: src.Channels,
		Header:   src.Header,
		Path:     src.Path,
	}
	for c := 0; c < src.Channels; c++ {
		warped, err := Resample(src.Plane(c), src.Width, src.Height, dst.Width, dst.Height, t)
		if err != nil {
			return failure("resample channel %d: %v", c, err)
		}
		out.SetPlane(c, warped)
	}

	return Result{
		Frame:     out,
		Transform: t,
		Matches:   matches,
		Inliers:   inliers,
	}
}
