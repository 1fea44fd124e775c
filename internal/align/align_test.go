package align

import (
	"errors"
	"math"
	"testing"

	"stargazer/internal/frame"
	"stargazer/internal/stars"
)

func TestAffineApplyInvertRoundTrip(t *testing.T) {
	tr := Affine{A: 1.02, B: -0.05, C: 12.5, D: 0.04, E: 0.98, F: -7.25}
	inv, ok := tr.Invert()
	if !ok {
		t.Fatalf("expected invertible transform")
	}
	for _, p := range [][2]float64{{0, 0}, {100, 50}, {-20, 300}} {
		u, v := tr.Apply(p[0], p[1])
		x, y := inv.Apply(u, v)
		if math.Abs(x-p[0]) > 1e-9 || math.Abs(y-p[1]) > 1e-9 {
			t.Fatalf("round trip (%v,%v) -> (%v,%v)", p[0], p[1], x, y)
		}
	}
}

func TestAffineInvertSingular(t *testing.T) {
	if _, ok := (Affine{}).Invert(); ok {
		t.Fatalf("expected zero transform to be singular")
	}
}

func TestSolveAffineExact(t *testing.T) {
	want := Affine{A: 0.9, B: 0.1, C: 4, D: -0.2, E: 1.1, F: -6}
	src := [][2]float64{{0, 0}, {50, 10}, {20, 80}}
	dst := make([][2]float64, len(src))
	for i, p := range src {
		u, v := want.Apply(p[0], p[1])
		dst[i] = [2]float64{u, v}
	}
	got, err := solveAffine(src, dst)
	if err != nil {
		t.Fatalf("solve: %v", err)
	}
	for _, d := range []float64{
		got.A - want.A, got.B - want.B, got.C - want.C,
		got.D - want.D, got.E - want.E, got.F - want.F,
	} {
		if math.Abs(d) > 1e-9 {
			t.Fatalf("expected %+v, got %+v", want, got)
		}
	}
}

func TestEstimateTransformRejectsOutliers(t *testing.T) {
	want := Affine{A: 1.01, B: -0.02, C: 5.5, D: 0.015, E: 0.99, F: -3.25}
	srcStars := []stars.Star{
		{X: 10, Y: 15}, {X: 80, Y: 20}, {X: 45, Y: 70}, {X: 20, Y: 90},
		{X: 95, Y: 85}, {X: 60, Y: 40}, {X: 30, Y: 55}, {X: 75, Y: 65},
		{X: 15, Y: 40}, {X: 85, Y: 50},
	}
	refStars := make([]stars.Star, len(srcStars), len(srcStars)+2)
	var matches []stars.Match
	for i, s := range srcStars {
		u, v := want.Apply(s.X, s.Y)
		refStars[i] = stars.Star{X: u, Y: v}
		matches = append(matches, stars.Match{Src: i, Ref: i})
	}
	// Two bogus pairings far off the true mapping.
	srcStars = append(srcStars, stars.Star{X: 5, Y: 5}, stars.Star{X: 99, Y: 99})
	refStars = append(refStars, stars.Star{X: 70, Y: 3}, stars.Star{X: 2, Y: 60})
	matches = append(matches,
		stars.Match{Src: 10, Ref: 10},
		stars.Match{Src: 11, Ref: 11},
	)

	got, inliers, err := EstimateTransform(srcStars, refStars, matches, 2000, 3.0)
	if err != nil {
		t.Fatalf("estimate: %v", err)
	}
	if len(inliers) != 10 {
		t.Fatalf("expected 10 inliers, got %d: %v", len(inliers), inliers)
	}
	for _, idx := range inliers {
		if idx >= 10 {
			t.Fatalf("bogus pairing %d kept as inlier", idx)
		}
	}
	for _, d := range []float64{
		got.A - want.A, got.B - want.B, got.C - want.C,
		got.D - want.D, got.E - want.E, got.F - want.F,
	} {
		if math.Abs(d) > 1e-6 {
			t.Fatalf("expected %+v, got %+v", want, got)
		}
	}
}

func TestEstimateTransformTooFewMatches(t *testing.T) {
	s := []stars.Star{{X: 1, Y: 1}, {X: 2, Y: 2}}
	m := []stars.Match{{Src: 0, Ref: 0}, {Src: 1, Ref: 1}}
	if _, _, err := EstimateTransform(s, s, m, 100, 3.0); !errors.Is(err, ErrTooFewStars) {
		t.Fatalf("err = %v, want ErrTooFewStars", err)
	}
}

func TestEstimateTransformCollinearStars(t *testing.T) {
	var s []stars.Star
	var m []stars.Match
	for i := 0; i < 5; i++ {
		s = append(s, stars.Star{X: float64(i) * 10, Y: float64(i) * 10})
		m = append(m, stars.Match{Src: i, Ref: i})
	}
	if _, _, err := EstimateTransform(s, s, m, 50, 3.0); !errors.Is(err, ErrNoConsensus) {
		t.Fatalf("err = %v, want ErrNoConsensus", err)
	}
}

func TestResampleIdentity(t *testing.T) {
	w, h := 8, 6
	plane := make([]float32, w*h)
	for i := range plane {
		plane[i] = float32(i)
	}
	out, err := Resample(plane, w, h, w, h, Identity())
	if err != nil {
		t.Fatalf("resample: %v", err)
	}
	for i := range plane {
		if out[i] != plane[i] {
			t.Fatalf("pixel %d: expected %v, got %v", i, plane[i], out[i])
		}
	}
}

func TestResampleIntegerTranslation(t *testing.T) {
	w, h := 8, 6
	plane := make([]float32, w*h)
	for i := range plane {
		plane[i] = float32(i + 1)
	}
	// Source (x,y) lands at reference (x+2, y+1).
	tr := Affine{A: 1, E: 1, C: 2, F: 1}
	out, err := Resample(plane, w, h, w, h, tr)
	if err != nil {
		t.Fatalf("resample: %v", err)
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var want float32
			if x >= 2 && y >= 1 {
				want = plane[(y-1)*w+(x-2)]
			}
			if out[y*w+x] != want {
				t.Fatalf("pixel (%d,%d): expected %v, got %v", x, y, want, out[y*w+x])
			}
		}
	}
}

// stampStar adds a compact 3x3 source at (x, y).
func stampStar(plane []float32, w, x, y int, amp float32) {
	for dy := -1; dy <= 1; dy++ {
		for dx := -1; dx <= 1; dx++ {
			v := amp / 2
			if dx == 0 && dy == 0 {
				v = amp
			}
			plane[(y+dy)*w+(x+dx)] += v
		}
	}
}

var fieldPositions = [][2]int{
	{12, 14}, {70, 18}, {40, 60}, {20, 80}, {85, 75},
	{55, 35}, {28, 48}, {68, 58}, {15, 35}, {78, 45},
}

func fieldPlane(w, h, dx, dy int) []float32 {
	plane := make([]float32, w*h)
	for i := range plane {
		plane[i] = 0.05
	}
	for i, p := range fieldPositions {
		stampStar(plane, w, p[0]+dx, p[1]+dy, 1.0-float32(i)*0.05)
	}
	return plane
}

func TestAlignerRecoversIntegerShiftMono(t *testing.T) {
	w, h := 100, 100
	ref := &frame.Frame{Data: fieldPlane(w, h, 0, 0), Width: w, Height: h, Channels: 1}
	src := &frame.Frame{Data: fieldPlane(w, h, 3, -2), Width: w, Height: h, Channels: 1}

	a := New()
	res := a.Align(src, a.Prepare(ref))
	if !res.Aligned() {
		t.Fatalf("expected alignment, got failure: %s", res.Reason)
	}
	// The fitted mapping must undo the (+3,-2) shift.
	if math.Abs(res.Transform.C+3) > 0.2 || math.Abs(res.Transform.F-2) > 0.2 {
		t.Fatalf("expected translation near (-3,+2), got (%.3f,%.3f)", res.Transform.C, res.Transform.F)
	}
	for y := 5; y < h-5; y++ {
		for x := 5; x < w-5; x++ {
			d := float64(res.Frame.Data[y*w+x] - ref.Data[y*w+x])
			if math.Abs(d) > 1e-2 {
				t.Fatalf("pixel (%d,%d) off by %v after alignment", x, y, d)
			}
		}
	}
}

func TestAlignerColorChannelsMoveTogether(t *testing.T) {
	w, h := 100, 100
	base := fieldPlane(w, h, 0, 0)
	shifted := fieldPlane(w, h, 4, 3)

	makeColor := func(plane []float32) *frame.Frame {
		f := frame.New(w, h, 3)
		scaled := func(k float32) []float32 {
			out := make([]float32, len(plane))
			for i, v := range plane {
				out[i] = v * k
			}
			return out
		}
		f.SetPlane(0, scaled(0.5))
		f.SetPlane(1, plane)
		f.SetPlane(2, scaled(0.25))
		return f
	}
	ref := makeColor(base)
	src := makeColor(shifted)

	a := New()
	res := a.Align(src, a.Prepare(ref))
	if !res.Aligned() {
		t.Fatalf("expected alignment, got failure: %s", res.Reason)
	}
	for c := 0; c < 3; c++ {
		refPlane := ref.Plane(c)
		gotPlane := res.Frame.Plane(c)
		for y := 8; y < h-8; y++ {
			for x := 8; x < w-8; x++ {
				d := float64(gotPlane[y*w+x] - refPlane[y*w+x])
				if math.Abs(d) > 1e-2 {
					t.Fatalf("channel %d pixel (%d,%d) off by %v", c, x, y, d)
				}
			}
		}
	}
}

func TestAlignerFailsOnBlankFrame(t *testing.T) {
	w, h := 100, 100
	ref := &frame.Frame{Data: fieldPlane(w, h, 0, 0), Width: w, Height: h, Channels: 1}
	blank := frame.New(w, h, 1)

	a := New()
	res := a.Align(blank, a.Prepare(ref))
	if res.Aligned() {
		t.Fatalf("expected failure for blank frame")
	}
	if res.Frame != nil {
		t.Fatalf("failed result must carry no frame")
	}
	if res.Reason == "" {
		t.Fatalf("failed result must carry a reason")
	}
}

func TestAlignerChannelMismatch(t *testing.T) {
	w, h := 100, 100
	ref := &frame.Frame{Data: fieldPlane(w, h, 0, 0), Width: w, Height: h, Channels: 1}
	color := frame.New(w, h, 3)

	a := New()
	if res := a.Align(color, a.Prepare(ref)); res.Aligned() {
		t.Fatalf("expected channel mismatch failure")
	}
}
