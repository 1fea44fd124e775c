// Package align estimates and applies the geometric transform that maps one
// exposure onto a reference.
package align

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/mat"

	"stargazer/internal/stars"
)

var (
	// ErrTooFewStars marks a frame or reference without enough detected or
	// matched stars to fit a transform.
	ErrTooFewStars = errors.New("too few stars")
	// ErrNoConsensus marks a match set on which the consensus search found
	// no transform with majority support.
	ErrNoConsensus = errors.New("no consensus transform")
)

// Affine maps source coordinates into the reference frame:
//
//	u = A*x + B*y + C
//	v = D*x + E*y + F
type Affine struct {
	A, B, C, D, E, F float64
}

// Identity returns the no-op transform.
func Identity() Affine {
	return Affine{A: 1, E: 1}
}

// Apply maps a source point into reference coordinates.
func (t Affine) Apply(x, y float64) (float64, float64) {
	return t.A*x + t.B*y + t.C, t.D*x + t.E*y + t.F
}

// Invert returns the reference-to-source mapping. The second return is false
// when the transform is singular.
func (t Affine) Invert() (Affine, bool) {
	det := t.A*t.E - t.B*t.D
	if math.Abs(det) < 1e-12 {
		return Affine{}, false
	}
	return Affine{
		A: t.E / det,
		B: -t.B / det,
		C: (t.B*t.F - t.E*t.C) / det,
		D: -t.D / det,
		E: t.A / det,
		F: (t.D*t.C - t.A*t.F) / det,
	}, true
}

// solveAffine least-squares fits the affine mapping src -> dst. Three point
// pairs give the exact solution; more are fit through QR.
func solveAffine(src, dst [][2]float64) (Affine, error) {
	n := len(src)
	if n < 3 || len(dst) != n {
		return Affine{}, fmt.Errorf("need at least 3 point pairs, have %d/%d", n, len(dst))
	}
	a := mat.NewDense(n, 3, nil)
	b := mat.NewDense(n, 2, nil)
	for i := 0; i < n; i++ {
		a.Set(i, 0, src[i][0])
		a.Set(i, 1, src[i][1])
		a.Set(i, 2, 1)
		b.Set(i, 0, dst[i][0])
		b.Set(i, 1, dst[i][1])
	}
	var p mat.Dense
	if err := p.Solve(a, b); err != nil {
		return Affine{}, fmt.Errorf("solve affine: %w", err)
	}
	return Affine{
		A: p.At(0, 0), B: p.At(1, 0), C: p.At(2, 0),
		D: p.At(0, 1), E: p.At(1, 1), F: p.At(2, 1),
	}, nil
}

// ransacSeed keeps transform estimation reproducible run to run.
const ransacSeed = 0x5747

// EstimateTransform fits a consensus affine over matched star pairs. Random
// minimal samples vote for inlier sets; the winner is refit by least squares
// over its inliers, then once more after dropping residuals far beyond the
// median. Returns the indices of the pairs that survived.
func EstimateTransform(src, ref []stars.Star, matches []stars.Match, iterations int, tolerance float64) (Affine, []int, error) {
	if len(matches) < 3 {
		return Affine{}, nil, fmt.Errorf("%w: need at least 3 matches, have %d", ErrTooFewStars, len(matches))
	}
	if iterations <= 0 {
		iterations = 2000
	}
	if tolerance <= 0 {
		tolerance = 3.0
	}

	srcPts := make([][2]float64, len(matches))
	dstPts := make([][2]float64, len(matches))
	for i, m := range matches {
		srcPts[i] = [2]float64{src[m.Src].X, src[m.Src].Y}
		dstPts[i] = [2]float64{ref[m.Ref].X, ref[m.Ref].Y}
	}

	rng := rand.New(rand.NewSource(ransacSeed))
	var bestInliers []int
	for iter := 0; iter < iterations; iter++ {
		i, j, k := sampleThree(rng, len(matches))
		if collinear(srcPts[i], srcPts[j], srcPts[k]) {
			continue
		}
		t, err := solveAffine(
			[][2]float64{srcPts[i], srcPts[j], srcPts[k]},
			[][2]float64{dstPts[i], dstPts[j], dstPts[k]},
		)
		if err != nil {
			continue
		}
		inliers := inlierSet(t, srcPts, dstPts, tolerance)
		if len(inliers) > len(bestInliers) {
			bestInliers = inliers
			if len(bestInliers) == len(matches) {
				break
			}
		}
	}
	if len(bestInliers) < 3 {
		return Affine{}, nil, fmt.Errorf("%w: best support %d of %d", ErrNoConsensus, len(bestInliers), len(matches))
	}

	t, err := refit(srcPts, dstPts, bestInliers)
	if err != nil {
		return Affine{}, nil, err
	}

	// Drop stragglers well beyond the typical residual and refit once.
	residuals := make([]float64, len(bestInliers))
	for i, idx := range bestInliers {
		residuals[i] = residual(t, srcPts[idx], dstPts[idx])
	}
	sorted := append([]float64(nil), residuals...)
	sort.Float64s(sorted)
	cut := 2.5 * sorted[len(sorted)/2]
	if cut < tolerance {
		cut = tolerance
	}
	kept := bestInliers[:0]
	for i, idx := range bestInliers {
		if residuals[i] <= cut {
			kept = append(kept, idx)
		}
	}
	if len(kept) >= 3 && len(kept) < len(residuals) {
		if t2, err := refit(srcPts, dstPts, kept); err == nil {
			t = t2
		}
	}
	return t, kept, nil
}

func refit(src, dst [][2]float64, idx []int) (Affine, error) {
	s := make([][2]float64, len(idx))
	d := make([][2]float64, len(idx))
	for i, j := range idx {
		s[i] = src[j]
		d[i] = dst[j]
	}
	return solveAffine(s, d)
}

func inlierSet(t Affine, src, dst [][2]float64, tol float64) []int {
	var in []int
	for i := range src {
		if residual(t, src[i], dst[i]) < tol {
			in = append(in, i)
		}
	}
	return in
}

func residual(t Affine, src, dst [2]float64) float64 {
	u, v := t.Apply(src[0], src[1])
	return math.Hypot(u-dst[0], v-dst[1])
}

func sampleThree(rng *rand.Rand, n int) (int, int, int) {
	i := rng.Intn(n)
	j := rng.Intn(n)
	for j == i {
		j = rng.Intn(n)
	}
	k := rng.Intn(n)
	for k == i || k == j {
		k = rng.Intn(n)
	}
	return i, j, k
}

func collinear(p, q, r [2]float64) bool {
	area := (q[0]-p[0])*(r[1]-p[1]) - (r[0]-p[0])*(q[1]-p[1])
	return math.Abs(area) < 1e-6
}
