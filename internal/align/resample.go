package align

import (
	"errors"
	"math"
)

var errSingularTransform = errors.New("singular transform")

// Resample warps a source plane into the reference grid through t, which
// maps source coordinates onto reference coordinates. Each destination pixel
// is bilinearly interpolated at its inverse-mapped source position;
// positions outside the source read as zero.
func Resample(plane []float32, srcW, srcH, dstW, dstH int, t Affine) ([]float32, error) {
	inv, ok := t.Invert()
	if !ok {
		return nil, errSingularTransform
	}
	out := make([]float32, dstW*dstH)
	for y := 0; y < dstH; y++ {
		fy := float64(y)
		for x := 0; x < dstW; x++ {
			sx, sy := inv.Apply(float64(x), fy)
			out[y*dstW+x] = sampleBilinear(plane, srcW, srcH, sx, sy)
		}
	}
	return out, nil
}

func sampleBilinear(plane []float32, width, height int, x, y float64) float32 {
	x0 := int(math.Floor(x))
	y0 := int(math.Floor(y))
	if x0 < -1 || x0 >= width || y0 < -1 || y0 >= height {
		return 0
	}
	fx := float32(x - float64(x0))
	fy := float32(y - float64(y0))

	at := func(px, py int) float32 {
		if px < 0 || px >= width || py < 0 || py >= height {
			return 0
		}
		return plane[py*width+px]
	}

	top := at(x0, y0)*(1-fx) + at(x0+1, y0)*fx
	bot := at(x0, y0+1)*(1-fx) + at(x0+1, y0+1)*fx
	return top*(1-fy) + bot*fy
}
