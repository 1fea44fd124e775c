package compute

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"

	"stargazer/internal/align"
	"stargazer/internal/frame"
)

// Native fans alignment out across a fixed-size goroutine pool. Each frame
// is a pure function of (frame, reference), so workers share nothing but the
// result slice, each writing only its own slot.
type Native struct {
	workers int
	aligner Aligner
	log     *slog.Logger
}

// NewNative builds the CPU strategy. workers <= 0 selects one per core.
func NewNative(workers int, aligner Aligner, log *slog.Logger) *Native {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Native{workers: workers, aligner: aligner, log: log}
}

func (n *Native) Name() string { return "native" }

func (n *Native) Accelerated() bool { return false }

// Workers reports the pool size.
func (n *Native) Workers() int { return n.workers }

func (n *Native) RunBatch(ctx context.Context, frames []*frame.Frame, ref align.Reference) ([]align.Result, error) {
	results := make([]align.Result, len(frames))
	jobs := make(chan int)

	var wg sync.WaitGroup
	for w := 0; w < n.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				results[idx] = n.align(frames[idx], ref)
			}
		}()
	}

	cancelled := -1
feed:
	for i := range frames {
		if ctx.Err() != nil {
			cancelled = i
			break
		}
		select {
		case <-ctx.Done():
			cancelled = i
			break feed
		case jobs <- i:
		}
	}
	close(jobs)
	wg.Wait()

	if cancelled >= 0 {
		for i := cancelled; i < len(results); i++ {
			results[i] = align.Result{Reason: "cancelled"}
		}
	}
	return results, nil
}

// align runs one job, converting a panic into a dropped-frame result.
func (n *Native) align(f *frame.Frame, ref align.Reference) (res align.Result) {
	defer func() {
		if r := recover(); r != nil {
			if n.log != nil {
				n.log.Error("alignment worker panic", "file", f.Path, "panic", r)
			}
			res = align.Result{Reason: fmt.Sprintf("panic: %v", r)}
		}
	}()
	return n.aligner.Align(f, ref)
}

func (n *Native) Close() {}
