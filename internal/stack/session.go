package stack

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"stargazer/internal/align"
	"stargazer/internal/compute"
	"stargazer/internal/fits"
	"stargazer/internal/frame"
	"stargazer/internal/fsutil"
	"stargazer/internal/logging"
	"stargazer/internal/stars"
	"stargazer/internal/storage"
)

// ErrNoReference marks a run that could not establish its reference frame.
// Every later failure is recoverable; this one is not.
var ErrNoReference = errors.New("no usable reference frame")

// prefetchDepth bounds how many decoded frames the loader may run ahead of
// alignment.
const prefetchDepth = 4

// Options tune a stacking run.
type Options struct {
	// Output is the path for the stacked FITS image; empty skips writing.
	Output string
	// BatchSize fixes the alignment batch size; 0 sizes it from available
	// memory once the reference frame reveals the geometry.
	BatchSize int
	// Workers is recorded in the output header audit trail.
	Workers int
	// Callbacks observe the run; any of them may be nil.
	Callbacks *Callbacks
	// Bus, when set, receives the same run events for remote observers.
	Bus *Bus
	// Store, when set, persists the session and per-frame outcomes.
	Store *storage.Store
	// Memory probes available bytes for batch sizing; nil uses the host.
	Memory func() uint64
}

// Summary describes a finished (or cancelled) stacking run.
type Summary struct {
	SessionID string
	Stack     *frame.Frame
	Header    *fits.Header
	Combined  int // frames folded into the stack, reference included
	Total     int // inputs offered
	Skipped   int // inputs that failed to load
	Dropped   int // frames that failed alignment
	BatchSize int
	Output    string
	Elapsed   time.Duration
}

// Runner drives one stacking session at a time: load, align in batches, fold.
type Runner struct {
	log      *slog.Logger
	aligner  *align.Aligner
	strategy compute.Strategy
	opts     Options
}

// NewRunner builds a runner around an alignment strategy.
func NewRunner(log *slog.Logger, aligner *align.Aligner, strategy compute.Strategy, opts Options) *Runner {
	if log == nil {
		log = slog.Default()
	}
	if aligner == nil {
		aligner = align.New()
	}
	if opts.Memory == nil {
		opts.Memory = fsutil.AvailableMemory
	}
	return &Runner{log: log, aligner: aligner, strategy: strategy, opts: opts}
}

// Stack registers and stacks paths in order. The first frame becomes the
// reference; losing it fails the run with ErrNoReference. Frames that fail to
// load are skipped, frames that fail to align are dropped, and the run keeps
// going either way. On cancellation the partial summary is returned alongside
// the context error.
func (r *Runner) Stack(ctx context.Context, paths []string) (*Summary, error) {
	if len(paths) == 0 {
		return nil, errors.New("no input frames")
	}
	start := time.Now()
	id := uuid.NewString()
	total := len(paths)
	store := r.opts.Store

	logging.LogSessionStart(r.log, id, total, r.strategy.Name())
	_ = store.RecordSessionStart(storage.SessionRecord{
		ID:        id,
		State:     "running",
		Reference: filepath.Base(paths[0]),
		Strategy:  r.strategy.Name(),
		Total:     total,
	})

	frames := startLoader(ctx, paths, prefetchDepth)

	first, ok := <-frames
	if !ok {
		_ = store.FinishSession(id, "cancelled", 0, 0, 0, "", "")
		return nil, ctx.Err()
	}
	cur, isColor, err := r.prepareReference(id, first)
	if err != nil {
		r.progress(id, fmt.Sprintf("Cannot load reference frame %s: %v", filepath.Base(first.path), err), LevelError)
		_ = store.RecordFrame(storage.FrameRecord{SessionID: id, Path: first.path, Status: storage.FrameLoadFailed, Reason: err.Error()})
		ferr := fmt.Errorf("%w: %s: %v", ErrNoReference, filepath.Base(first.path), err)
		_ = store.FinishSession(id, "failed", 0, 1, 0, "", ferr.Error())
		logging.LogSessionError(r.log, id, time.Since(start), ferr)
		return nil, ferr
	}

	headers := []*fits.Header{first.hdr}
	combined := 1
	processed := 1
	skipped, dropped := 0, 0

	r.progress(id, fmt.Sprintf("Reference frame: %s", filepath.Base(first.path)), LevelInfo)
	_ = store.RecordFrame(storage.FrameRecord{SessionID: id, Path: first.path, Status: storage.FrameStacked})
	r.measure(cur)
	r.counted(id, processed, total)
	r.previewed(id, cur, first.hdr, combined)

	batchSize := r.opts.BatchSize
	if batchSize <= 0 {
		batchSize = EstimateBatchSize(cur.Width, cur.Height, cur.Channels, r.strategy.Accelerated(), r.opts.Memory())
		r.progress(id, fmt.Sprintf("Adjusted batch size: %d frames", batchSize), LevelInfo)
	}

	batch := make([]*frame.Frame, 0, batchSize)
	for lf := range frames {
		if ctx.Err() != nil {
			break
		}
		if lf.err != nil {
			skipped++
			processed++
			r.progress(id, fmt.Sprintf("Skipping %s: %v", filepath.Base(lf.path), lf.err), LevelWarning)
			_ = store.RecordFrame(storage.FrameRecord{SessionID: id, Path: lf.path, Status: storage.FrameLoadFailed, Reason: lf.err.Error()})
			r.counted(id, processed, total)
			continue
		}
		f, err := frame.FromFITS(lf.img, lf.hdr, lf.path)
		if err != nil {
			skipped++
			processed++
			r.progress(id, fmt.Sprintf("Skipping %s: %v", filepath.Base(lf.path), err), LevelWarning)
			_ = store.RecordFrame(storage.FrameRecord{SessionID: id, Path: lf.path, Status: storage.FrameLoadFailed, Reason: err.Error()})
			r.counted(id, processed, total)
			continue
		}
		if isColor {
			f = r.debayer(id, f)
		}
		r.measure(f)

		headers = append(headers, lf.hdr)
		batch = append(batch, f)
		processed++
		r.counted(id, processed, total)

		if len(batch) >= batchSize {
			var valid, droppedHere int
			cur, valid, droppedHere = r.foldBatch(ctx, id, batch, cur, combined)
			combined += valid
			dropped += droppedHere
			batch = batch[:0]
			_ = store.UpdateSessionProgress(id, combined, skipped, dropped)
			r.previewed(id, cur, first.hdr, combined)
		}
	}

	if ctx.Err() != nil {
		r.progress(id, "Stacking cancelled", LevelWarning)
		_ = store.FinishSession(id, "cancelled", combined, skipped, dropped, "", "")
		return r.summary(id, cur, nil, combined, total, skipped, dropped, batchSize, "", start), ctx.Err()
	}

	if len(batch) > 0 {
		var valid, droppedHere int
		cur, valid, droppedHere = r.foldBatch(ctx, id, batch, cur, combined)
		combined += valid
		dropped += droppedHere
		_ = store.UpdateSessionProgress(id, combined, skipped, dropped)
		r.previewed(id, cur, first.hdr, combined)
	}

	merged := fits.Merge(headers, fits.StackSummary{
		Combined:  combined,
		Reference: filepath.Base(paths[0]),
		Strategy:  r.strategy.Name(),
		Workers:   r.opts.Workers,
		BatchSize: batchSize,
		IsColor:   isColor,
	})
	cur.Header = merged

	out := r.opts.Output
	if out != "" {
		if err := fits.WriteImage(out, cur.ToFITS(), merged); err != nil {
			r.progress(id, fmt.Sprintf("Failed to save %s: %v", out, err), LevelError)
			_ = store.FinishSession(id, "failed", combined, skipped, dropped, "", err.Error())
			logging.LogSessionError(r.log, id, time.Since(start), err)
			return nil, fmt.Errorf("write stacked image: %w", err)
		}
		r.progress(id, fmt.Sprintf("Saved stacked image: %s", out), LevelSuccess)
	}

	r.progress(id, fmt.Sprintf("Stacked %d of %d frames", combined, total), LevelSuccess)
	_ = store.FinishSession(id, "completed", combined, skipped, dropped, out, "")
	logging.LogSessionComplete(r.log, id, combined, total, time.Since(start))
	r.opts.Bus.Publish(Event{Type: EventDone, SessionID: id, Combined: combined, Total: total})

	return r.summary(id, cur, merged, combined, total, skipped, dropped, batchSize, out, start), nil
}

// prepareReference decodes the first frame and fixes the run's color mode.
func (r *Runner) prepareReference(id string, lf loadedFrame) (*frame.Frame, bool, error) {
	if lf.err != nil {
		return nil, false, lf.err
	}
	isColor := frame.IsColor(lf.hdr, lf.img)
	f, err := frame.FromFITS(lf.img, lf.hdr, lf.path)
	if err != nil {
		return nil, false, err
	}
	if isColor {
		f = r.debayer(id, f)
	}
	return f, isColor, nil
}

func (r *Runner) debayer(id string, f *frame.Frame) *frame.Frame {
	db, err := frame.Debayer(f)
	if err != nil {
		r.progress(id, fmt.Sprintf("Debayer failed for %s, using raw data: %v", filepath.Base(f.Path), err), LevelWarning)
		return f
	}
	return db
}

// measure records triage metrics for a loaded frame. Nothing reads them
// during the run, so without a store the pass is skipped entirely.
func (r *Runner) measure(f *frame.Frame) {
	if r.opts.Store == nil || f == nil {
		return
	}
	plane := f.Plane(0)
	if f.Color() {
		plane = f.Plane(1)
	}
	m := stars.Analyze(plane, f.Width, f.Height)
	_ = r.opts.Store.RecordQuality(storage.QualityRecord{
		Path:       f.Path,
		Stars:      m.Stars,
		FWHM:       m.FWHM,
		SkyPercent: m.SkyPct,
		SNR:        m.SNR,
		Score:      m.Score,
	})
}

// foldBatch aligns one batch against the current stack and folds the valid
// results in. A strategy-level failure keeps the stack untouched and drops
// the whole batch.
func (r *Runner) foldBatch(ctx context.Context, id string, batch []*frame.Frame, cur *frame.Frame, combined int) (*frame.Frame, int, int) {
	r.progress(id, fmt.Sprintf("Aligning batch of %d frames", len(batch)), LevelInfo)
	results, err := r.strategy.RunBatch(ctx, batch, r.aligner.Prepare(cur))
	if err != nil {
		r.progress(id, fmt.Sprintf("Batch alignment failed, keeping current stack: %v", err), LevelError)
		for _, f := range batch {
			_ = r.opts.Store.RecordFrame(storage.FrameRecord{
				SessionID: id, Path: f.Path, Status: storage.FrameDropped,
				Reason: fmt.Sprintf("batch failure: %v", err),
			})
		}
		return cur, 0, len(batch)
	}

	droppedHere := 0
	for i, res := range results {
		if res.Aligned() {
			logging.LogFrameEvent(r.log, id, batch[i].Path, storage.FrameStacked, "")
			_ = r.opts.Store.RecordFrame(storage.FrameRecord{SessionID: id, Path: batch[i].Path, Status: storage.FrameStacked})
			continue
		}
		droppedHere++
		r.progress(id, fmt.Sprintf("Dropped %s: %s", filepath.Base(batch[i].Path), res.Reason), LevelWarning)
		_ = r.opts.Store.RecordFrame(storage.FrameRecord{SessionID: id, Path: batch[i].Path, Status: storage.FrameDropped, Reason: res.Reason})
	}

	next, valid := foldMean(cur, results, combined)
	if valid > 0 {
		r.progress(id, fmt.Sprintf("Stacked %d of %d frames in batch", valid, len(batch)), LevelSuccess)
	}
	return next, valid, droppedHere
}

func (r *Runner) summary(id string, stack *frame.Frame, hdr *fits.Header, combined, total, skipped, dropped, batchSize int, out string, start time.Time) *Summary {
	return &Summary{
		SessionID: id,
		Stack:     stack,
		Header:    hdr,
		Combined:  combined,
		Total:     total,
		Skipped:   skipped,
		Dropped:   dropped,
		BatchSize: batchSize,
		Output:    out,
		Elapsed:   time.Since(start),
	}
}

func (r *Runner) progress(id, msg string, level Level) {
	switch level {
	case LevelWarning:
		r.log.Warn(msg, "session", id)
	case LevelError:
		r.log.Error(msg, "session", id)
	default:
		r.log.Info(msg, "session", id)
	}
	r.opts.Callbacks.report(msg, level)
	r.opts.Bus.Publish(Event{Type: EventProgress, SessionID: id, Message: msg, Level: level})
}

func (r *Runner) counted(id string, current, total int) {
	r.opts.Callbacks.count(current, total)
	r.opts.Bus.Publish(Event{Type: EventCounter, SessionID: id, Current: current, Total: total})
}

func (r *Runner) previewed(id string, stack *frame.Frame, hdr *fits.Header, combined int) {
	r.opts.Callbacks.preview(stack, hdr)
	r.opts.Bus.Publish(Event{Type: EventPreview, SessionID: id, Combined: combined})
}
