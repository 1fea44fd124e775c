package frame

import "stargazer/internal/fits"

// IsColor decides whether a decoded image should be treated as color.
// Checks run in priority order and the first hit wins: a third-axis key,
// then an explicit color flag, then a Bayer pattern, then the data shape
// itself. Anything else is monochrome.
func IsColor(hdr *fits.Header, img *fits.Image) bool {
	if hdr != nil {
		if hdr.Has("NAXIS3") {
			return true
		}
		if v, ok := hdr.Bool("COLORIMG"); ok {
			return v
		}
		if hdr.Has("BAYERPAT") {
			return true
		}
	}
	return img != nil && img.Channels == 3
}
