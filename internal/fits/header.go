// Package fits implements the subset of the FITS format used by capture
// software: a single primary HDU with an 80-column card header and a
// big-endian pixel array. Cards that the pipeline does not recognize are
// preserved verbatim so headers round-trip through read/merge/write.
package fits

import (
	"fmt"
	"strconv"
	"strings"
)

// Card is one 80-column header record. Value is nil for commentary cards
// (HISTORY, COMMENT, blank keyword); otherwise it is bool, int, float64 or
// string.
type Card struct {
	Key     string
	Value   any
	Comment string
}

// Header is an ordered card list with keyed access. Commentary cards keep
// their position but are excluded from keyed lookup.
type Header struct {
	cards []Card
}

func NewHeader() *Header {
	return &Header{}
}

// Cards returns the underlying card slice in file order.
func (h *Header) Cards() []Card {
	return h.cards
}

func (h *Header) find(key string) int {
	if key == "HISTORY" || key == "COMMENT" || key == "" {
		return -1
	}
	for i := range h.cards {
		if h.cards[i].Key == key {
			return i
		}
	}
	return -1
}

// Has reports whether a value card with the given key exists.
func (h *Header) Has(key string) bool {
	return h.find(key) >= 0
}

// Str returns the string value for key. Non-string values are formatted.
func (h *Header) Str(key string) (string, bool) {
	i := h.find(key)
	if i < 0 {
		return "", false
	}
	return valueText(h.cards[i].Value), true
}

// Int returns the integer value for key, converting floats with truncation.
func (h *Header) Int(key string) (int, bool) {
	i := h.find(key)
	if i < 0 {
		return 0, false
	}
	switch v := h.cards[i].Value.(type) {
	case int:
		return v, true
	case float64:
		return int(v), true
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n, true
		}
	}
	return 0, false
}

// Float returns the floating-point value for key.
func (h *Header) Float(key string) (float64, bool) {
	i := h.find(key)
	if i < 0 {
		return 0, false
	}
	switch v := h.cards[i].Value.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return f, true
		}
	}
	return 0, false
}

// Bool returns the logical value for key. Integers follow C truthiness and
// the strings T/TRUE/1 parse as true.
func (h *Header) Bool(key string) (bool, bool) {
	i := h.find(key)
	if i < 0 {
		return false, false
	}
	switch v := h.cards[i].Value.(type) {
	case bool:
		return v, true
	case int:
		return v != 0, true
	case string:
		switch strings.ToUpper(strings.TrimSpace(v)) {
		case "T", "TRUE", "1":
			return true, true
		case "F", "FALSE", "0":
			return false, true
		}
	}
	return false, false
}

// Set upserts a value card, keeping the original position on update.
func (h *Header) Set(key string, value any, comment string) {
	if i := h.find(key); i >= 0 {
		h.cards[i].Value = value
		if comment != "" {
			h.cards[i].Comment = comment
		}
		return
	}
	h.cards = append(h.cards, Card{Key: key, Value: value, Comment: comment})
}

func (h *Header) SetStr(key, value, comment string) { h.Set(key, value, comment) }

func (h *Header) SetInt(key string, value int, comment string) { h.Set(key, value, comment) }

func (h *Header) SetFloat(key string, value float64, comment string) { h.Set(key, value, comment) }

func (h *Header) SetBool(key string, value bool, comment string) { h.Set(key, value, comment) }

// Delete removes the value card for key if present.
func (h *Header) Delete(key string) {
	if i := h.find(key); i >= 0 {
		h.cards = append(h.cards[:i], h.cards[i+1:]...)
	}
}

// AddHistory appends a HISTORY entry. Entries longer than one card are split
// across continuation cards at write time, not here.
func (h *Header) AddHistory(text string) {
	h.cards = append(h.cards, Card{Key: "HISTORY", Value: nil, Comment: text})
}

// History returns all HISTORY entries in file order.
func (h *Header) History() []string {
	var out []string
	for _, c := range h.cards {
		if c.Key == "HISTORY" {
			out = append(out, c.Comment)
		}
	}
	return out
}

// Clone returns a deep copy.
func (h *Header) Clone() *Header {
	out := &Header{cards: make([]Card, len(h.cards))}
	copy(out.cards, h.cards)
	return out
}

// valueText renders a card value the way comparisons and merge want to see
// it: the canonical string form, without FITS quoting.
func valueText(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		if t {
			return "T"
		}
		return "F"
	case int:
		return strconv.Itoa(t)
	case float64:
		return strconv.FormatFloat(t, 'G', -1, 64)
	default:
		return fmt.Sprintf("%v", t)
	}
}
