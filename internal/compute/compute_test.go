package compute

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"stargazer/internal/align"
	"stargazer/internal/frame"
)

type stubAligner struct {
	mu    sync.Mutex
	calls int
}

func (s *stubAligner) Align(src *frame.Frame, ref align.Reference) align.Result {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if strings.HasPrefix(src.Path, "bad") {
		return align.Result{Reason: "too few stars in frame: 0"}
	}
	if strings.HasPrefix(src.Path, "boom") {
		panic("index out of range")
	}
	return align.Result{Frame: src, Inliers: 5, Matches: 6}
}

func (s *stubAligner) Estimate(src *frame.Frame, ref align.Reference) (align.Affine, int, int, error) {
	return align.Identity(), 6, 5, nil
}

func testFrames(n int) []*frame.Frame {
	frames := make([]*frame.Frame, n)
	for i := range frames {
		f := frame.New(4, 4, 1)
		f.Path = fmt.Sprintf("frame-%d.fits", i)
		frames[i] = f
	}
	return frames
}

func TestNativeResultsMatchInputOrder(t *testing.T) {
	stub := &stubAligner{}
	n := NewNative(3, stub, slog.Default())

	frames := testFrames(8)
	frames[2].Path = "bad-2.fits"
	frames[5].Path = "bad-5.fits"

	ref := align.Reference{Frame: frame.New(4, 4, 1)}
	results, err := n.RunBatch(context.Background(), frames, ref)
	if err != nil {
		t.Fatalf("run batch: %v", err)
	}
	if len(results) != 8 {
		t.Fatalf("expected 8 results, got %d", len(results))
	}
	for i, res := range results {
		if i == 2 || i == 5 {
			if res.Aligned() {
				t.Fatalf("slot %d: expected failure", i)
			}
			continue
		}
		if !res.Aligned() {
			t.Fatalf("slot %d: unexpected failure %q", i, res.Reason)
		}
		if res.Frame != frames[i] {
			t.Fatalf("slot %d holds the wrong frame: %s", i, res.Frame.Path)
		}
	}
	if stub.calls != 8 {
		t.Fatalf("expected 8 align calls, got %d", stub.calls)
	}
}

func TestNativeWorkerPanicDropsOnlyThatFrame(t *testing.T) {
	stub := &stubAligner{}
	n := NewNative(2, stub, slog.Default())

	frames := testFrames(4)
	frames[1].Path = "boom-1.fits"

	results, err := n.RunBatch(context.Background(), frames, align.Reference{Frame: frame.New(4, 4, 1)})
	if err != nil {
		t.Fatalf("run batch: %v", err)
	}
	for i, res := range results {
		if i == 1 {
			if res.Aligned() || !strings.Contains(res.Reason, "panic") {
				t.Fatalf("slot 1 = %+v, want panic reason", res)
			}
			continue
		}
		if !res.Aligned() {
			t.Fatalf("slot %d: unexpected failure %q", i, res.Reason)
		}
	}
}

func TestNativeCancelledBeforeStart(t *testing.T) {
	stub := &stubAligner{}
	n := NewNative(2, stub, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results, err := n.RunBatch(ctx, testFrames(4), align.Reference{Frame: frame.New(4, 4, 1)})
	if err != nil {
		t.Fatalf("run batch: %v", err)
	}
	for i, res := range results {
		if res.Reason != "cancelled" {
			t.Fatalf("slot %d: expected cancelled, got %+v", i, res)
		}
	}
	if stub.calls != 0 {
		t.Fatalf("expected no align calls after cancellation, got %d", stub.calls)
	}
}

type stubStrategy struct {
	name    string
	failing bool
	calls   int
}

func (s *stubStrategy) Name() string      { return s.name }
func (s *stubStrategy) Accelerated() bool { return s.name == "accel" }
func (s *stubStrategy) Close()            {}

func (s *stubStrategy) RunBatch(ctx context.Context, frames []*frame.Frame, ref align.Reference) ([]align.Result, error) {
	s.calls++
	if s.failing {
		return nil, errors.New("device wedged")
	}
	results := make([]align.Result, len(frames))
	for i, f := range frames {
		results[i] = align.Result{Frame: f}
	}
	return results, nil
}

func TestFallbackSwitchesPermanently(t *testing.T) {
	primary := &stubStrategy{name: "accel", failing: true}
	secondary := &stubStrategy{name: "native"}
	fb := &fallbackStrategy{primary: primary, fallback: secondary, log: slog.Default()}

	frames := testFrames(3)
	ref := align.Reference{Frame: frame.New(4, 4, 1)}

	results, err := fb.RunBatch(context.Background(), frames, ref)
	if err != nil {
		t.Fatalf("expected recovered batch, got %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if primary.calls != 1 || secondary.calls != 1 {
		t.Fatalf("expected one call each after failover, got primary=%d secondary=%d",
			primary.calls, secondary.calls)
	}
	if fb.Name() != "native" || fb.Accelerated() {
		t.Fatalf("expected degraded identity, got %s accel=%v", fb.Name(), fb.Accelerated())
	}

	// Later batches must not re-probe the failed strategy.
	if _, err := fb.RunBatch(context.Background(), frames, ref); err != nil {
		t.Fatalf("second batch: %v", err)
	}
	if primary.calls != 1 {
		t.Fatalf("primary re-probed: %d calls", primary.calls)
	}
	if secondary.calls != 2 {
		t.Fatalf("expected fallback to keep serving, got %d calls", secondary.calls)
	}
}

func TestFallbackStaysOnHealthyPrimary(t *testing.T) {
	primary := &stubStrategy{name: "accel"}
	secondary := &stubStrategy{name: "native"}
	fb := &fallbackStrategy{primary: primary, fallback: secondary, log: slog.Default()}

	frames := testFrames(2)
	ref := align.Reference{Frame: frame.New(4, 4, 1)}
	for i := 0; i < 3; i++ {
		if _, err := fb.RunBatch(context.Background(), frames, ref); err != nil {
			t.Fatalf("batch %d: %v", i, err)
		}
	}
	if primary.calls != 3 || secondary.calls != 0 {
		t.Fatalf("expected all batches on primary, got primary=%d secondary=%d",
			primary.calls, secondary.calls)
	}
	if fb.Name() != "accel" || !fb.Accelerated() {
		t.Fatalf("unexpected identity %s accel=%v", fb.Name(), fb.Accelerated())
	}
}

func TestSelectForcedNative(t *testing.T) {
	s := Select(slog.Default(), &stubAligner{}, Options{Backend: "native", Workers: 2})
	n, ok := s.(*Native)
	if !ok {
		t.Fatalf("expected native strategy, got %T", s)
	}
	if n.Workers() != 2 {
		t.Fatalf("expected 2 workers, got %d", n.Workers())
	}
}
