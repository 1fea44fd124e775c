package stack

import (
	"context"

	"stargazer/internal/fits"
)

// loadedFrame is one decoded input, delivered in submission order. A non-nil
// err means the file could not be read or decoded; the image and header are
// nil in that case.
type loadedFrame struct {
	index int
	path  string
	img   *fits.Image
	hdr   *fits.Header
	err   error
}

// startLoader decodes paths on a separate goroutine so disk and decode work
// overlaps alignment. Frames arrive on the returned channel in the original
// path order, up to depth frames ahead of the consumer. The loader checks for
// cancellation between files and closes the channel when done.
func startLoader(ctx context.Context, paths []string, depth int) <-chan loadedFrame {
	if depth < 1 {
		depth = 1
	}
	out := make(chan loadedFrame, depth)
	go func() {
		defer close(out)
		for i, path := range paths {
			if ctx.Err() != nil {
				return
			}
			img, hdr, err := fits.ReadImage(path)
			lf := loadedFrame{index: i, path: path, img: img, hdr: hdr, err: err}
			select {
			case out <- lf:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
