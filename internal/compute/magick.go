package compute

import (
	"context"
	"fmt"
	"log/slog"

	"gopkg.in/gographics/imagick.v3/imagick"

	"stargazer/internal/align"
	"stargazer/internal/frame"
)

// Magick is the accelerated strategy: transform estimation runs through the
// shared aligner, while resampling stages pixel buffers into ImageMagick and
// applies the mapping as an affine projection distort. Numerically this is
// the same algorithm as the CPU path; only the resampler differs.
type Magick struct {
	aligner Aligner
	log     *slog.Logger
}

// NewMagick initializes the library and runs a one-shot self test. An error
// here means the accelerated path stays off for the whole run.
func NewMagick(aligner Aligner, log *slog.Logger) (*Magick, error) {
	imagick.Initialize()
	if err := probeMagick(); err != nil {
		imagick.Terminate()
		return nil, fmt.Errorf("imagemagick probe: %w", err)
	}
	return &Magick{aligner: aligner, log: log}, nil
}

// probeMagick pushes a tiny plane through the constitute/distort/export
// sequence used for real frames.
func probeMagick() error {
	mw := imagick.NewMagickWand()
	defer mw.Destroy()

	probe := make([]float64, 16)
	for i := range probe {
		probe[i] = float64(i) / 16
	}
	if err := mw.ConstituteImage(4, 4, "I", imagick.PIXEL_DOUBLE, probe); err != nil {
		return err
	}
	if err := mw.DistortImage(imagick.DISTORTION_AFFINE_PROJECTION,
		[]float64{1, 0, 0, 1, 0, 0}, false); err != nil {
		return err
	}
	out, err := mw.ExportImagePixels(0, 0, 4, 4, "I", imagick.PIXEL_DOUBLE)
	if err != nil {
		return err
	}
	if v, ok := out.([]float64); !ok || len(v) != 16 {
		return fmt.Errorf("unexpected export shape %T", out)
	}
	return nil
}

func (m *Magick) Name() string { return "magick" }

func (m *Magick) Accelerated() bool { return true }

func (m *Magick) RunBatch(ctx context.Context, frames []*frame.Frame, ref align.Reference) ([]align.Result, error) {
	results := make([]align.Result, len(frames))
	for i, f := range frames {
		if err := ctx.Err(); err != nil {
			for ; i < len(results); i++ {
				results[i] = align.Result{Reason: "cancelled"}
			}
			break
		}
		t, matches, inliers, err := m.aligner.Estimate(f, ref)
		if err != nil {
			results[i] = align.Result{Reason: err.Error()}
			continue
		}
		warped, err := m.distort(f, ref.Frame, t)
		if err != nil {
			// The library itself failed; report upstream so the run
			// degrades to the CPU pool.
			return nil, err
		}
		results[i] = align.Result{
			Frame:     warped,
			Transform: t,
			Matches:   matches,
			Inliers:   inliers,
		}
	}
	return results, nil
}

// distort stages the frame's pixels, applies the affine projection with
// black virtual pixels so off-frame reads match the CPU path's zero fill,
// and exports the result in reference geometry.
func (m *Magick) distort(src, ref *frame.Frame, t align.Affine) (*frame.Frame, error) {
	mw := imagick.NewMagickWand()
	defer mw.Destroy()

	pmap := "I"
	if src.Color() {
		pmap = "RGB"
	}
	staged := make([]float64, len(src.Data))
	for i, v := range src.Data {
		staged[i] = float64(v)
	}
	if err := mw.ConstituteImage(uint(src.Width), uint(src.Height), pmap, imagick.PIXEL_DOUBLE, staged); err != nil {
		return nil, fmt.Errorf("stage frame: %w", err)
	}
	mw.SetImageVirtualPixelMethod(imagick.VIRTUAL_PIXEL_BLACK)

	// AffineProjection takes the forward coefficients as sx, rx, ry, sy,
	// tx, ty.
	args := []float64{t.A, t.D, t.B, t.E, t.C, t.F}
	if err := mw.DistortImage(imagick.DISTORTION_AFFINE_PROJECTION, args, false); err != nil {
		return nil, fmt.Errorf("distort: %w", err)
	}

	out, err := mw.ExportImagePixels(0, 0, uint(ref.Width), uint(ref.Height), pmap, imagick.PIXEL_DOUBLE)
	if err != nil {
		return nil, fmt.Errorf("export: %w", err)
	}

	aligned := &frame.Frame{
		Width:    ref.Width,
		Height:   ref.Height,
		Channels: src.Channels,
		Header:   src.Header,
		Path:     src.Path,
	}
	switch v := out.(type) {
	case []float64:
		aligned.Data = make([]float32, len(v))
		for i, p := range v {
			aligned.Data[i] = float32(p)
		}
	case []float32:
		aligned.Data = append([]float32(nil), v...)
	default:
		return nil, fmt.Errorf("unexpected pixel type %T", out)
	}
	if len(aligned.Data) != ref.Width*ref.Height*src.Channels {
		return nil, fmt.Errorf("export returned %d samples, expected %d",
			len(aligned.Data), ref.Width*ref.Height*src.Channels)
	}
	return aligned, nil
}

func (m *Magick) Close() {
	imagick.Terminate()
}
