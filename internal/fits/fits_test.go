package fits

import (
	"bytes"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseCardValues(t *testing.T) {
	cases := []struct {
		line    string
		key     string
		value   any
		comment string
	}{
		{"SIMPLE  =                    T / conforms", "SIMPLE", true, "conforms"},
		{"EXTEND  =                    F", "EXTEND", false, ""},
		{"BITPIX  =                  -32 / float", "BITPIX", -32, "float"},
		{"EXPTIME =                120.5 / seconds", "EXPTIME", 120.5, "seconds"},
		{"CDELT1  =              1.5D3", "CDELT1", 1500.0, ""},
		{"TELESCOP= 'ACME 200''s '       / scope", "TELESCOP", "ACME 200's", "scope"},
		{"FILTER  = 'Ha      '", "FILTER", "Ha", ""},
	}
	for _, tc := range cases {
		line := padRight(tc.line, cardSize)
		key := strings.TrimRight(line[:8], " ")
		c := parseCard(key, line)
		if c.Key != tc.key {
			t.Fatalf("%q: expected key %q, got %q", tc.line, tc.key, c.Key)
		}
		if c.Value != tc.value {
			t.Fatalf("%q: expected value %#v, got %#v", tc.line, tc.value, c.Value)
		}
		if c.Comment != tc.comment {
			t.Fatalf("%q: expected comment %q, got %q", tc.line, tc.comment, c.Comment)
		}
	}
}

func TestParseCardHistory(t *testing.T) {
	line := padRight("HISTORY Stacked 12 frames", cardSize)
	c := parseCard("HISTORY", line)
	if c.Value != nil {
		t.Fatalf("expected nil value for history card, got %#v", c.Value)
	}
	if c.Comment != "Stacked 12 frames" {
		t.Fatalf("unexpected history text %q", c.Comment)
	}
}

func TestEncodeDecodeMonoRoundTrip(t *testing.T) {
	img := &Image{
		Data:   []float32{0, 1.5, -2.25, 3, 100.125, 7, 8, 9, 10, 11, 12, 13},
		Width:  4,
		Height: 3,
	}
	hdr := NewHeader()
	hdr.SetStr("TELESCOP", "ACME 200", "test scope")
	hdr.SetFloat("EXPTIME", 120.5, "seconds")
	hdr.SetInt("GAIN", 100, "")
	hdr.AddHistory("Dark subtracted")

	var buf bytes.Buffer
	if err := Encode(&buf, img, hdr); err != nil {
		t.Fatalf("encode: %v", err)
	}
	if buf.Len()%blockSize != 0 {
		t.Fatalf("output not block aligned: %d bytes", buf.Len())
	}

	got, gotHdr, err := Decode(&buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Width != 4 || got.Height != 3 || got.Channels != 1 {
		t.Fatalf("unexpected geometry %dx%dx%d", got.Width, got.Height, got.Channels)
	}
	for i := range img.Data {
		if got.Data[i] != img.Data[i] {
			t.Fatalf("pixel %d: expected %v, got %v", i, img.Data[i], got.Data[i])
		}
	}
	if v, ok := gotHdr.Str("TELESCOP"); !ok || v != "ACME 200" {
		t.Fatalf("expected TELESCOP round trip, got %q ok=%v", v, ok)
	}
	if v, ok := gotHdr.Float("EXPTIME"); !ok || v != 120.5 {
		t.Fatalf("expected EXPTIME round trip, got %v ok=%v", v, ok)
	}
	if v, ok := gotHdr.Int("GAIN"); !ok || v != 100 {
		t.Fatalf("expected GAIN round trip, got %v ok=%v", v, ok)
	}
	hist := gotHdr.History()
	if len(hist) != 1 || hist[0] != "Dark subtracted" {
		t.Fatalf("expected history round trip, got %v", hist)
	}
	if bp, _ := gotHdr.Int("BITPIX"); bp != -32 {
		t.Fatalf("expected BITPIX -32, got %d", bp)
	}
}

func TestEncodeDecodeColorPlanar(t *testing.T) {
	w, h := 3, 2
	data := make([]float32, w*h*3)
	for i := range data {
		data[i] = float32(i) * 0.5
	}
	img := &Image{Data: data, Width: w, Height: h, Channels: 3, Planar: true}

	var buf bytes.Buffer
	if err := Encode(&buf, img, nil); err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, hdr, err := Decode(&buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !got.Planar || got.Channels != 3 || got.Width != w || got.Height != h {
		t.Fatalf("unexpected decoded shape %+v", got)
	}
	if n, _ := hdr.Int("NAXIS3"); n != 3 {
		t.Fatalf("expected NAXIS3=3, got %d", n)
	}
	for i := range data {
		if got.Data[i] != data[i] {
			t.Fatalf("pixel %d: expected %v, got %v", i, data[i], got.Data[i])
		}
	}
}

func TestEncodeInterleavedWritesPlanar(t *testing.T) {
	// 2x1 RGB, channel-last in memory.
	img := &Image{
		Data:     []float32{1, 2, 3, 4, 5, 6},
		Width:    2,
		Height:   1,
		Channels: 3,
	}
	var buf bytes.Buffer
	if err := Encode(&buf, img, nil); err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, _, err := Decode(&buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := []float32{1, 4, 2, 5, 3, 6}
	for i := range want {
		if got.Data[i] != want[i] {
			t.Fatalf("plane order: expected %v, got %v", want, got.Data)
		}
	}
}

func TestDecodeScaledInt16(t *testing.T) {
	var buf bytes.Buffer
	writeCard := func(s string) { buf.WriteString(padRight(s, cardSize)) }
	writeCard("SIMPLE  =                    T")
	writeCard("BITPIX  =                   16")
	writeCard("NAXIS   =                    2")
	writeCard("NAXIS1  =                    2")
	writeCard("NAXIS2  =                    1")
	writeCard("BZERO   =               32768.")
	writeCard("BSCALE  =                   1.")
	writeCard("END")
	for buf.Len()%blockSize != 0 {
		buf.WriteString(strings.Repeat(" ", cardSize))
	}
	raw := []int16{-32768, 0}
	for _, v := range raw {
		var b [2]byte
		binary.BigEndian.PutUint16(b[:], uint16(v))
		buf.Write(b[:])
	}
	for buf.Len()%blockSize != 0 {
		buf.WriteByte(0)
	}

	img, _, err := Decode(&buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if img.Data[0] != 0 || img.Data[1] != 32768 {
		t.Fatalf("expected unsigned mapping [0 32768], got %v", img.Data)
	}
}

func TestDecodeChannelFirstLayout(t *testing.T) {
	var buf bytes.Buffer
	writeCard := func(s string) { buf.WriteString(padRight(s, cardSize)) }
	writeCard("SIMPLE  =                    T")
	writeCard("BITPIX  =                  -32")
	writeCard("NAXIS   =                    3")
	writeCard("NAXIS1  =                    3")
	writeCard("NAXIS2  =                    2")
	writeCard("NAXIS3  =                    1")
	writeCard("END")
	for buf.Len()%blockSize != 0 {
		buf.WriteString(strings.Repeat(" ", cardSize))
	}
	vals := []float32{1, 2, 3, 4, 5, 6}
	for _, v := range vals {
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], math.Float32bits(v))
		buf.Write(b[:])
	}
	for buf.Len()%blockSize != 0 {
		buf.WriteByte(0)
	}

	img, _, err := Decode(&buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if img.Planar || img.Channels != 3 || img.Width != 2 || img.Height != 1 {
		t.Fatalf("unexpected shape for channel-first data: %+v", img)
	}
	for i, v := range vals {
		if img.Data[i] != v {
			t.Fatalf("pixel %d: expected %v, got %v", i, v, img.Data[i])
		}
	}
}

func TestWriteImageReadImage(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "stack.fits")
	img := &Image{Data: []float32{1, 2, 3, 4}, Width: 2, Height: 2}
	hdr := NewHeader()
	hdr.SetStr("OBJECT", "M31", "")

	if err := WriteImage(path, img, hdr); err != nil {
		t.Fatalf("write: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Size()%blockSize != 0 {
		t.Fatalf("file not block aligned: %d", info.Size())
	}

	got, gotHdr, err := ReadImage(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.Width != 2 || got.Height != 2 {
		t.Fatalf("unexpected geometry %dx%d", got.Width, got.Height)
	}
	if v, _ := gotHdr.Str("OBJECT"); v != "M31" {
		t.Fatalf("expected OBJECT=M31, got %q", v)
	}
}

func TestLongHistorySplitsAcrossCards(t *testing.T) {
	hdr := NewHeader()
	long := strings.Repeat("x", 150)
	hdr.AddHistory(long)

	var buf bytes.Buffer
	img := &Image{Data: []float32{0}, Width: 1, Height: 1}
	if err := Encode(&buf, img, hdr); err != nil {
		t.Fatalf("encode: %v", err)
	}
	_, gotHdr, err := Decode(&buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	joined := strings.Join(gotHdr.History(), "")
	if joined != long {
		t.Fatalf("expected split history to reassemble, got %d chars", len(joined))
	}
}
