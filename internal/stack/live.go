package stack

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"stargazer/internal/fits"
	"stargazer/internal/frame"
	"stargazer/internal/logging"
	"stargazer/internal/storage"
)

// defaultFlushAfter folds a partial batch that has been waiting this long, so
// live previews keep moving between captures. The fold arithmetic is batch
// agnostic, so early folds never change the final stack.
const defaultFlushAfter = 5 * time.Second

// StackStream stacks frames as their paths arrive, for live capture mode. The
// first path that loads becomes the reference; paths that fail to load are
// skipped, even at the start, since more captures are coming. The session ends
// when the channel closes or the context is cancelled. With no loadable frame
// at all the run fails with ErrNoReference.
func (r *Runner) StackStream(ctx context.Context, paths <-chan string, flushAfter time.Duration) (*Summary, error) {
	if flushAfter <= 0 {
		flushAfter = defaultFlushAfter
	}
	start := time.Now()
	id := uuid.NewString()
	store := r.opts.Store
	logging.LogSessionStart(r.log, id, 0, r.strategy.Name())
	_ = store.RecordSessionStart(storage.SessionRecord{ID: id, State: "running", Strategy: r.strategy.Name()})

	var cur *frame.Frame
	var firstHdr *fits.Header
	var headers []*fits.Header
	var refName string
	isColor := false
	combined := 0
	processed, skipped, dropped := 0, 0, 0
	batchSize := r.opts.BatchSize
	var batch []*frame.Frame

	flush := func() {
		if cur == nil || len(batch) == 0 {
			return
		}
		var valid, droppedHere int
		cur, valid, droppedHere = r.foldBatch(ctx, id, batch, cur, combined)
		combined += valid
		dropped += droppedHere
		batch = batch[:0]
		_ = store.UpdateSessionProgress(id, combined, skipped, dropped)
		r.previewed(id, cur, firstHdr, combined)
	}

	skip := func(path string, err error) {
		skipped++
		r.progress(id, fmt.Sprintf("Skipping %s: %v", filepath.Base(path), err), LevelWarning)
		_ = store.RecordFrame(storage.FrameRecord{SessionID: id, Path: path, Status: storage.FrameLoadFailed, Reason: err.Error()})
	}

	timer := time.NewTimer(flushAfter)
	defer timer.Stop()

	running := true
	for running {
		select {
		case <-ctx.Done():
			running = false
		case <-timer.C:
			flush()
			timer.Reset(flushAfter)
		case path, ok := <-paths:
			if !ok {
				running = false
				break
			}
			processed++
			img, hdr, err := fits.ReadImage(path)
			if err != nil {
				skip(path, err)
				r.counted(id, processed, processed)
				continue
			}
			if cur == nil {
				isColor = frame.IsColor(hdr, img)
			}
			f, err := frame.FromFITS(img, hdr, path)
			if err != nil {
				skip(path, err)
				r.counted(id, processed, processed)
				continue
			}
			if isColor {
				f = r.debayer(id, f)
			}
			r.measure(f)

			if cur == nil {
				cur = f
				firstHdr = hdr
				refName = filepath.Base(path)
				headers = append(headers, hdr)
				combined = 1
				_ = store.RecordSessionStart(storage.SessionRecord{
					ID: id, State: "running", Reference: refName, Strategy: r.strategy.Name(),
				})
				_ = store.RecordFrame(storage.FrameRecord{SessionID: id, Path: path, Status: storage.FrameStacked})
				r.progress(id, fmt.Sprintf("Reference frame: %s", refName), LevelInfo)
				r.counted(id, processed, processed)
				r.previewed(id, cur, firstHdr, combined)

				if batchSize <= 0 {
					batchSize = EstimateBatchSize(cur.Width, cur.Height, cur.Channels, r.strategy.Accelerated(), r.opts.Memory())
					r.progress(id, fmt.Sprintf("Adjusted batch size: %d frames", batchSize), LevelInfo)
				}
				continue
			}

			headers = append(headers, hdr)
			batch = append(batch, f)
			r.counted(id, processed, processed)
			if len(batch) >= batchSize {
				flush()
				timer.Reset(flushAfter)
			}
		}
	}

	if ctx.Err() != nil {
		r.progress(id, "Live stacking cancelled", LevelWarning)
		_ = store.FinishSession(id, "cancelled", combined, skipped, dropped, "", "")
		if cur == nil {
			return nil, ctx.Err()
		}
		return r.summary(id, cur, nil, combined, processed, skipped, dropped, batchSize, "", start), ctx.Err()
	}

	if cur == nil {
		err := fmt.Errorf("%w: no frames arrived", ErrNoReference)
		_ = store.FinishSession(id, "failed", 0, skipped, 0, "", err.Error())
		logging.LogSessionError(r.log, id, time.Since(start), err)
		return nil, err
	}

	flush()

	merged := fits.Merge(headers, fits.StackSummary{
		Combined:  combined,
		Reference: refName,
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

	r.progress(id, fmt.Sprintf("Stacked %d of %d frames", combined, processed), LevelSuccess)
	_ = store.FinishSession(id, "completed", combined, skipped, dropped, out, "")
	logging.LogSessionComplete(r.log, id, combined, processed, time.Since(start))
	r.opts.Bus.Publish(Event{Type: EventDone, SessionID: id, Combined: combined, Total: processed})

	return r.summary(id, cur, merged, combined, processed, skipped, dropped, batchSize, out, start), nil
}
