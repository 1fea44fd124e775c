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

// Keys the encoder owns. They are derived from the image geometry on every
// write, so copies carried in the header are discarded.
var structuralKeys = map[string]bool{
	"SIMPLE": true, "BITPIX": true, "NAXIS": true,
	"NAXIS1": true, "NAXIS2": true, "NAXIS3": true,
	"EXTEND": true, "BSCALE": true, "BZERO": true,
}

// WriteImage writes img as a single-HDU FITS file at path. Pixels are stored
// as 32-bit floats; color data is written with the channel axis slowest.
func WriteImage(path string, img *Image, hdr *Header) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := Encode(f, img, hdr); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Encode writes a primary HDU to w.
func Encode(w io.Writer, img *Image, hdr *Header) error {
	bw := bufio.NewWriterSize(w, blockSize)

	cards := buildCards(img, hdr)
	written := 0
	for _, c := range cards {
		if _, err := bw.WriteString(c); err != nil {
			return err
		}
		written += cardSize
	}
	if err := padCards(bw, written); err != nil {
		return err
	}

	var buf [4]byte
	for _, v := range pixelOrder(img) {
		binary.BigEndian.PutUint32(buf[:], math.Float32bits(v))
		if _, err := bw.Write(buf[:]); err != nil {
			return err
		}
	}
	dataBytes := len(img.Data) * 4
	for i := dataBytes; i%blockSize != 0; i++ {
		if err := bw.WriteByte(0); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// pixelOrder returns the data in file order. Interleaved color is transposed
// to planar; mono and already-planar data pass through.
func pixelOrder(img *Image) []float32 {
	if img.Channels <= 1 || img.Planar {
		return img.Data
	}
	n := img.Width * img.Height
	out := make([]float32, n*img.Channels)
	for c := 0; c < img.Channels; c++ {
		for i := 0; i < n; i++ {
			out[c*n+i] = img.Data[i*img.Channels+c]
		}
	}
	return out
}

func buildCards(img *Image, hdr *Header) []string {
	var cards []string
	add := func(key string, value any, comment string) {
		cards = append(cards, formatCard(key, value, comment))
	}

	add("SIMPLE", true, "conforms to FITS standard")
	add("BITPIX", -32, "32-bit floating point")
	if img.Channels > 1 {
		add("NAXIS", 3, "")
		add("NAXIS1", img.Width, "")
		add("NAXIS2", img.Height, "")
		add("NAXIS3", img.Channels, "")
	} else {
		add("NAXIS", 2, "")
		add("NAXIS1", img.Width, "")
		add("NAXIS2", img.Height, "")
	}

	if hdr != nil {
		for _, c := range hdr.Cards() {
			if structuralKeys[c.Key] {
				continue
			}
			switch c.Key {
			case "HISTORY", "COMMENT":
				for _, line := range splitText(c.Comment) {
					cards = append(cards, formatText(c.Key, line))
				}
			case "":
				// Blank keyword spacer cards are dropped on write.
			default:
				cards = append(cards, formatCard(c.Key, c.Value, c.Comment))
			}
		}
	}

	cards = append(cards, padRight("END", cardSize))
	return cards
}

func formatCard(key string, value any, comment string) string {
	var sb strings.Builder
	sb.WriteString(padRight(key, 8))
	sb.WriteString("= ")

	switch v := value.(type) {
	case bool:
		t := "F"
		if v {
			t = "T"
		}
		sb.WriteString(padLeft(t, 20))
	case string:
		quoted := "'" + padRight(strings.ReplaceAll(v, "'", "''"), 8) + "'"
		sb.WriteString(quoted)
		if len(quoted) < 20 {
			sb.WriteString(strings.Repeat(" ", 20-len(quoted)))
		}
	case int:
		sb.WriteString(padLeft(strconv.Itoa(v), 20))
	case int64:
		sb.WriteString(padLeft(strconv.FormatInt(v, 10), 20))
	case float64:
		sb.WriteString(padLeft(formatFloat(v), 20))
	case float32:
		sb.WriteString(padLeft(formatFloat(float64(v)), 20))
	case nil:
		sb.WriteString(padLeft("", 20))
	default:
		sb.WriteString(padLeft(fmt.Sprintf("%v", v), 20))
	}

	if comment != "" {
		sb.WriteString(" / ")
		sb.WriteString(comment)
	}
	return clipCard(sb.String())
}

func formatText(key, text string) string {
	return clipCard(padRight(key, 8) + text)
}

// splitText breaks commentary text into chunks that fit a single card.
func splitText(text string) []string {
	const width = cardSize - 8
	if len(text) <= width {
		return []string{text}
	}
	var lines []string
	for len(text) > width {
		lines = append(lines, text[:width])
		text = text[width:]
	}
	if text != "" {
		lines = append(lines, text)
	}
	return lines
}

func formatFloat(v float64) string {
	s := strconv.FormatFloat(v, 'G', -1, 64)
	if !strings.ContainsAny(s, ".E") {
		s += "."
	}
	return s
}

func clipCard(s string) string {
	if len(s) > cardSize {
		return s[:cardSize]
	}
	return padRight(s, cardSize)
}

func padRight(s string, n int) string {
	if len(s) >= n {
		return s
	}
	return s + strings.Repeat(" ", n-len(s))
}

func padLeft(s string, n int) string {
	if len(s) >= n {
		return s
	}
	return strings.Repeat(" ", n-len(s)) + s
}

func padCards(w *bufio.Writer, written int) error {
	for written%blockSize != 0 {
		if _, err := w.WriteString(strings.Repeat(" ", cardSize)); err != nil {
			return err
		}
		written += cardSize
	}
	return nil
}
