package fits

import "fmt"

// MultipleSentinel marks a tracked key whose value differs across the
// merged frames.
const MultipleSentinel = "Multiple"

// trackedKeys are the per-instrument fields reconciled across frames.
var trackedKeys = []string{
	"TELESCOP", "INSTRUME", "OBSERVER", "OBJECT",
	"FOCALLEN", "APERTURE", "FILTER", "GAIN",
	"XPIXSZ", "YPIXSZ", "XBINNING", "YBINNING",
	"BAYERPAT", "CCD-TEMP",
}

// StackSummary describes a finished stacking run for the output header.
type StackSummary struct {
	Combined  int
	Reference string
	Strategy  string
	Workers   int
	BatchSize int
	IsColor   bool
}

// Merge reconciles the headers of every stacked frame into one record. The
// first header seeds the result; tracked keys that disagree across frames
// collapse to the "Multiple" sentinel, history logs are concatenated in input
// order, and audit entries describing the run are appended last.
func Merge(headers []*Header, sum StackSummary) *Header {
	if len(headers) == 0 {
		headers = []*Header{NewHeader()}
	}
	result := headers[0].Clone()

	for _, h := range headers[1:] {
		for _, line := range h.History() {
			result.AddHistory(line)
		}
	}

	for _, key := range trackedKeys {
		var first Card
		distinct := map[string]bool{}
		for _, h := range headers {
			idx := h.find(key)
			if idx < 0 {
				continue
			}
			c := h.cards[idx]
			if len(distinct) == 0 {
				first = c
			}
			distinct[valueText(c.Value)] = true
		}
		switch {
		case len(distinct) == 1:
			result.Set(key, first.Value, first.Comment)
		case len(distinct) > 1:
			result.SetStr(key, MultipleSentinel, "differs across stacked frames")
		}
	}

	result.SetInt("NCOMBINE", sum.Combined, "frames combined into this stack")
	result.SetBool("COLORIMG", sum.IsColor, "")
	result.AddHistory(fmt.Sprintf("Stacked %d frames", sum.Combined))
	if sum.Reference != "" {
		result.AddHistory(fmt.Sprintf("Reference frame: %s", sum.Reference))
	}
	if sum.Strategy != "" {
		result.AddHistory(fmt.Sprintf("Processing mode: %s", sum.Strategy))
	}
	if sum.Workers > 0 {
		result.AddHistory(fmt.Sprintf("CPU threads: %d", sum.Workers))
	}
	if sum.BatchSize > 0 {
		result.AddHistory(fmt.Sprintf("Batch size: %d", sum.BatchSize))
	}
	return result
}
