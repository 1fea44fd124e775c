package fits

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
)

const (
	blockSize = 2880
	cardSize  = 80
)

// Image is a decoded primary HDU pixel array in file axis order. For
// NAXIS=3 data the slice is planar (channel, then row, then column); callers
// canonicalize layout themselves.
type Image struct {
	Data     []float32
	Width    int
	Height   int
	Channels int
	// Planar is true when the file stored channels as the slowest axis
	// (NAXIS3=3); false when the channel axis was fastest (NAXIS1=3).
	Planar bool
}

// ReadImage decodes the primary HDU of the FITS file at path.
func ReadImage(path string) (*Image, *Header, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	return Decode(f)
}

// Decode reads a primary HDU from r.
func Decode(r io.Reader) (*Image, *Header, error) {
	br := bufio.NewReaderSize(r, blockSize)

	hdr, err := readHeader(br)
	if err != nil {
		return nil, nil, err
	}

	simple, ok := hdr.Bool("SIMPLE")
	if !ok || !simple {
		return nil, nil, fmt.Errorf("not a standard FITS primary HDU")
	}
	bitpix, ok := hdr.Int("BITPIX")
	if !ok {
		return nil, nil, fmt.Errorf("missing BITPIX")
	}
	naxis, ok := hdr.Int("NAXIS")
	if !ok {
		return nil, nil, fmt.Errorf("missing NAXIS")
	}

	var axes []int
	for i := 1; i <= naxis; i++ {
		n, ok := hdr.Int(fmt.Sprintf("NAXIS%d", i))
		if !ok || n <= 0 {
			return nil, nil, fmt.Errorf("missing or invalid NAXIS%d", i)
		}
		axes = append(axes, n)
	}

	img := &Image{Channels: 1}
	switch {
	case naxis == 2:
		img.Width, img.Height = axes[0], axes[1]
	case naxis == 3 && axes[2] == 3:
		img.Width, img.Height, img.Channels = axes[0], axes[1], 3
		img.Planar = true
	case naxis == 3 && axes[0] == 3:
		// Channel-first layout: channel is the fastest axis.
		img.Channels, img.Width, img.Height = 3, axes[1], axes[2]
	default:
		return nil, nil, fmt.Errorf("unsupported axis layout NAXIS=%d %v", naxis, axes)
	}

	count := img.Width * img.Height * img.Channels
	bscale := 1.0
	if v, ok := hdr.Float("BSCALE"); ok {
		bscale = v
	}
	bzero := 0.0
	if v, ok := hdr.Float("BZERO"); ok {
		bzero = v
	}

	data, err := readPixels(br, bitpix, count, bscale, bzero)
	if err != nil {
		return nil, nil, fmt.Errorf("pixel data: %w", err)
	}
	img.Data = data
	return img, hdr, nil
}

func readHeader(r io.Reader) (*Header, error) {
	hdr := NewHeader()
	block := make([]byte, blockSize)
	for {
		if _, err := io.ReadFull(r, block); err != nil {
			return nil, fmt.Errorf("header block: %w", err)
		}
		for off := 0; off < blockSize; off += cardSize {
			line := string(block[off : off+cardSize])
			key := strings.TrimRight(line[:8], " ")
			if key == "END" {
				return hdr, nil
			}
			hdr.cards = append(hdr.cards, parseCard(key, line))
		}
	}
}

func parseCard(key, line string) Card {
	if key == "HISTORY" || key == "COMMENT" || key == "" {
		return Card{Key: key, Comment: strings.TrimRight(line[8:], " ")}
	}
	if line[8] != '=' {
		// Keyword without a value indicator; keep the raw text.
		return Card{Key: key, Comment: strings.TrimRight(line[8:], " ")}
	}

	field := line[10:]
	var value any
	var comment string

	trimmed := strings.TrimLeft(field, " ")
	if strings.HasPrefix(trimmed, "'") {
		// Quoted string with '' as the escape for a single quote.
		var sb strings.Builder
		i := 1
		for i < len(trimmed) {
			if trimmed[i] == '\'' {
				if i+1 < len(trimmed) && trimmed[i+1] == '\'' {
					sb.WriteByte('\'')
					i += 2
					continue
				}
				i++
				break
			}
			sb.WriteByte(trimmed[i])
			i++
		}
		value = strings.TrimRight(sb.String(), " ")
		comment = trailingComment(trimmed[i:])
		return Card{Key: key, Value: value, Comment: comment}
	}

	valText := field
	if idx := strings.IndexByte(field, '/'); idx >= 0 {
		valText = field[:idx]
		comment = strings.TrimSpace(field[idx+1:])
	}
	valText = strings.TrimSpace(valText)

	switch {
	case valText == "T":
		value = true
	case valText == "F":
		value = false
	case valText == "":
		value = ""
	default:
		if n, err := strconv.Atoi(valText); err == nil {
			value = n
		} else if f, err := strconv.ParseFloat(strings.ReplaceAll(valText, "D", "E"), 64); err == nil {
			value = f
		} else {
			value = valText
		}
	}
	return Card{Key: key, Value: value, Comment: comment}
}

func trailingComment(rest string) string {
	if idx := strings.IndexByte(rest, '/'); idx >= 0 {
		return strings.TrimSpace(rest[idx+1:])
	}
	return ""
}

func readPixels(r io.Reader, bitpix, count int, bscale, bzero float64) ([]float32, error) {
	bytesPer := abs(bitpix) / 8
	need := count * bytesPer
	raw := make([]byte, padTo(need, blockSize))
	n, err := io.ReadFull(r, raw)
	if err != nil && n < need {
		// Truncated padding after the payload is tolerated; a short
		// payload is not.
		return nil, err
	}

	out := make([]float32, count)
	scaled := bscale != 1.0 || bzero != 0.0
	switch bitpix {
	case 8:
		for i := 0; i < count; i++ {
			out[i] = float32(raw[i])
		}
	case 16:
		for i := 0; i < count; i++ {
			out[i] = float32(int16(binary.BigEndian.Uint16(raw[i*2:])))
		}
	case 32:
		for i := 0; i < count; i++ {
			out[i] = float32(int32(binary.BigEndian.Uint32(raw[i*4:])))
		}
	case -32:
		for i := 0; i < count; i++ {
			out[i] = math.Float32frombits(binary.BigEndian.Uint32(raw[i*4:]))
		}
	case -64:
		for i := 0; i < count; i++ {
			out[i] = float32(math.Float64frombits(binary.BigEndian.Uint64(raw[i*8:])))
		}
	default:
		return nil, fmt.Errorf("unsupported BITPIX %d", bitpix)
	}

	if scaled {
		for i := range out {
			out[i] = float32(bzero + bscale*float64(out[i]))
		}
	}
	return out, nil
}

func padTo(n, block int) int {
	if rem := n % block; rem != 0 {
		return n + block - rem
	}
	return n
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
