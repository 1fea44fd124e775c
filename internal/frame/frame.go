// Package frame holds the in-memory representation of a single exposure:
// pixel data in a canonical layout plus the header it was loaded with.
package frame

import (
	"fmt"

	"stargazer/internal/fits"
)

// Frame is one exposure's pixels and metadata. Pixel layout is always
// channel-last: index (y*Width+x)*Channels+c. Mono frames have Channels=1.
type Frame struct {
	Data     []float32
	Width    int
	Height   int
	Channels int
	Header   *fits.Header
	Path     string
}

// New allocates a zeroed frame of the given geometry.
func New(width, height, channels int) *Frame {
	return &Frame{
		Data:     make([]float32, width*height*channels),
		Width:    width,
		Height:   height,
		Channels: channels,
	}
}

// FromFITS converts a decoded image into canonical layout. Planar color data
// is transposed to channel-last; mono and interleaved data copy through.
func FromFITS(img *fits.Image, hdr *fits.Header, path string) (*Frame, error) {
	if img.Width <= 0 || img.Height <= 0 {
		return nil, fmt.Errorf("invalid geometry %dx%d", img.Width, img.Height)
	}
	f := &Frame{
		Width:    img.Width,
		Height:   img.Height,
		Channels: img.Channels,
		Header:   hdr,
		Path:     path,
	}
	if f.Channels == 0 {
		f.Channels = 1
	}

	n := img.Width * img.Height
	if img.Planar && img.Channels > 1 {
		f.Data = make([]float32, n*img.Channels)
		for c := 0; c < img.Channels; c++ {
			plane := img.Data[c*n : (c+1)*n]
			for i, v := range plane {
				f.Data[i*img.Channels+c] = v
			}
		}
	} else {
		f.Data = make([]float32, len(img.Data))
		copy(f.Data, img.Data)
	}
	if len(f.Data) != n*f.Channels {
		return nil, fmt.Errorf("pixel count %d does not match %dx%dx%d",
			len(f.Data), img.Width, img.Height, f.Channels)
	}
	return f, nil
}

// ToFITS returns the frame in the codec's image form. Data stays
// channel-last; the encoder handles file ordering.
func (f *Frame) ToFITS() *fits.Image {
	return &fits.Image{
		Data:     f.Data,
		Width:    f.Width,
		Height:   f.Height,
		Channels: f.Channels,
	}
}

// Color reports whether the frame carries three channels.
func (f *Frame) Color() bool {
	return f.Channels == 3
}

// At returns the sample at (x, y) in channel c. No bounds checking beyond
// the slice's own.
func (f *Frame) At(x, y, c int) float32 {
	return f.Data[(y*f.Width+x)*f.Channels+c]
}

// Plane copies channel c out as a contiguous Width*Height slice.
func (f *Frame) Plane(c int) []float32 {
	n := f.Width * f.Height
	out := make([]float32, n)
	if f.Channels == 1 {
		copy(out, f.Data)
		return out
	}
	for i := 0; i < n; i++ {
		out[i] = f.Data[i*f.Channels+c]
	}
	return out
}

// SetPlane writes a Width*Height slice back into channel c.
func (f *Frame) SetPlane(c int, plane []float32) {
	n := f.Width * f.Height
	if f.Channels == 1 {
		copy(f.Data, plane)
		return
	}
	for i := 0; i < n; i++ {
		f.Data[i*f.Channels+c] = plane[i]
	}
}

// Clone deep-copies the frame, including its header.
func (f *Frame) Clone() *Frame {
	out := &Frame{
		Data:     make([]float32, len(f.Data)),
		Width:    f.Width,
		Height:   f.Height,
		Channels: f.Channels,
		Path:     f.Path,
	}
	copy(out.Data, f.Data)
	if f.Header != nil {
		out.Header = f.Header.Clone()
	}
	return out
}
