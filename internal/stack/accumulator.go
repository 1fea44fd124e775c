package stack

import (
	"stargazer/internal/align"
	"stargazer/internal/frame"
)

// foldMean merges one batch of alignment results into the running stack.
//
// The aligned frames are averaged first, then blended with the current stack
// using the combine counts as weights:
//
//	weight = combined / (combined + valid)
//	next   = cur*weight + batchMean*(1 - weight)
//
// which keeps the stack an exact running mean of every frame folded so far,
// independent of how the frames were split into batches. Results that did not
// align contribute nothing. With zero valid results the current stack is
// returned untouched alongside a zero count.
func foldMean(cur *frame.Frame, results []align.Result, combined int) (*frame.Frame, int) {
	n := len(cur.Data)
	sum := make([]float64, n)
	valid := 0
	for _, res := range results {
		if !res.Aligned() {
			continue
		}
		for i, v := range res.Frame.Data {
			sum[i] += float64(v)
		}
		valid++
	}
	if valid == 0 {
		return cur, 0
	}

	next := frame.New(cur.Width, cur.Height, cur.Channels)
	next.Header = cur.Header
	next.Path = cur.Path
	weight := float64(combined) / float64(combined+valid)
	inv := (1 - weight) / float64(valid)
	for i := range next.Data {
		next.Data[i] = float32(float64(cur.Data[i])*weight + sum[i]*inv)
	}
	return next, valid
}
