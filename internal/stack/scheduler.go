package stack

const (
	// minBatch keeps the pipeline moving even under memory pressure.
	minBatch = 2
	// maxCPUBatch bounds the CPU pool batch so alignment results and the
	// running sum fit comfortably alongside the loader prefetch.
	maxCPUBatch = 16
	// maxAccelBatch bounds accelerated batches, whose working set carries
	// wand-side copies of every frame.
	maxAccelBatch = 8

	cpuOverhead   = 2.0
	accelOverhead = 3.0
)

// EstimateBatchSize sizes one alignment batch from the frame geometry and the
// memory the host can spare. Each frame costs width*height*channels float32
// samples, multiplied by a working-set overhead: 2x for the CPU pool (source
// plus warped copy), 3x for accelerated strategies which also stage pixels on
// the wand side. The CPU pool doubles the raw estimate because its copies are
// short-lived, capped at 16; accelerated batches cap at 8. The floor is 2 so
// stacking always makes progress.
//
// The session computes this once, after the first frame reveals the true
// geometry, and keeps the result for the whole run.
func EstimateBatchSize(width, height, channels int, accelerated bool, availableBytes uint64) int {
	bytesPerFrame := uint64(width) * uint64(height) * uint64(channels) * 4
	if bytesPerFrame == 0 {
		return minBatch
	}

	overhead := cpuOverhead
	if accelerated {
		overhead = accelOverhead
	}
	perImage := float64(bytesPerFrame) * overhead

	raw := int(float64(availableBytes) / perImage)
	if raw < minBatch {
		raw = minBatch
	}

	if accelerated {
		if raw > maxAccelBatch {
			return maxAccelBatch
		}
		return raw
	}
	if raw*2 > maxCPUBatch {
		return maxCPUBatch
	}
	return raw * 2
}
