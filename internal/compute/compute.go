// Package compute abstracts where alignment work executes: a CPU worker
// pool, or an accelerated ImageMagick path with permanent fallback.
package compute

import (
	"context"
	"log/slog"

	"stargazer/internal/align"
	"stargazer/internal/frame"
)

// Strategy runs a batch of registrations against one reference. Results
// match the input order. A non-nil error means the strategy itself broke
// (staging, device, library); per-frame alignment failures are in-band
// results, not errors.
type Strategy interface {
	Name() string
	// Accelerated distinguishes the device path for memory planning.
	Accelerated() bool
	RunBatch(ctx context.Context, frames []*frame.Frame, ref align.Reference) ([]align.Result, error)
	Close()
}

// Aligner is what strategies need from the registration engine.
type Aligner interface {
	Align(src *frame.Frame, ref align.Reference) align.Result
	Estimate(src *frame.Frame, ref align.Reference) (align.Affine, int, int, error)
}

// Options selects the execution strategy.
type Options struct {
	// Backend is "auto", "native" or "magick".
	Backend string
	// Workers sizes the CPU pool; 0 means one per core.
	Workers int
}

// Select probes the requested backend once at startup and returns the
// strategy for the whole run. When the accelerated path is requested or
// probed automatically, it is wrapped so that its first hard failure
// switches the rest of the run to the CPU pool. There is no later re-probe.
func Select(log *slog.Logger, aligner Aligner, opts Options) Strategy {
	native := NewNative(opts.Workers, aligner, log)
	if opts.Backend == "native" {
		return native
	}

	magick, err := NewMagick(aligner, log)
	if err != nil {
		if opts.Backend == "magick" {
			log.Warn("accelerated backend unavailable, using cpu pool", "error", err)
		} else {
			log.Debug("accelerated backend unavailable", "error", err)
		}
		return native
	}
	log.Info("accelerated backend selected", "backend", magick.Name())
	return &fallbackStrategy{primary: magick, fallback: native, log: log}
}

// fallbackStrategy runs the primary strategy until its first hard failure,
// then the fallback for the remainder of the run. Batches are dispatched
// sequentially by the accumulator, so no locking is needed here.
type fallbackStrategy struct {
	primary  Strategy
	fallback Strategy
	log      *slog.Logger
	degraded bool
}

func (f *fallbackStrategy) Name() string {
	if f.degraded {
		return f.fallback.Name()
	}
	return f.primary.Name()
}

func (f *fallbackStrategy) Accelerated() bool {
	if f.degraded {
		return f.fallback.Accelerated()
	}
	return f.primary.Accelerated()
}

func (f *fallbackStrategy) RunBatch(ctx context.Context, frames []*frame.Frame, ref align.Reference) ([]align.Result, error) {
	if !f.degraded {
		results, err := f.primary.RunBatch(ctx, frames, ref)
		if err == nil {
			return results, nil
		}
		f.degraded = true
		f.primary.Close()
		f.log.Warn("accelerated strategy failed, switching to cpu pool for the rest of the run",
			"error", err)
	}
	return f.fallback.RunBatch(ctx, frames, ref)
}

func (f *fallbackStrategy) Close() {
	if !f.degraded {
		f.primary.Close()
	}
	f.fallback.Close()
}
