package annotation

import (
	"errors"
	"strings"
	"unicode/utf16"

	"github.com/google/uuid"
)

var ErrInvalidSpan = errors.New("invalid span")

// Offsets exchanged with the toolkit count UTF-16 code units, the way the
// browser measures string length.

// TextLen returns the length of text in UTF-16 code units.
func TextLen(text string) int {
	return len(utf16.Encode([]rune(text)))
}

// Slice returns text[start:end] with UTF-16 offsets.
func Slice(text string, start, end int) (string, error) {
	units := utf16.Encode([]rune(text))
	if start < 0 || end > len(units) || start >= end {
		return "", ErrInvalidSpan
	}
	return string(utf16.Decode(units[start:end])), nil
}

// ValidateSpan checks that [start, end) is a non-empty range inside a text
// of the given UTF-16 length.
func ValidateSpan(start, end, textLen int) error {
	if start < 0 || end > textLen || start >= end {
		return ErrInvalidSpan
	}
	return nil
}

// Index finds the first occurrence of keyword in text and returns its
// UTF-16 start and end offsets.
func Index(text, keyword string) (int, int, bool) {
	if keyword == "" {
		return 0, 0, false
	}
	byteIndex := strings.Index(text, keyword)
	if byteIndex < 0 {
		return 0, 0, false
	}
	start := TextLen(text[:byteIndex])
	return start, start + TextLen(keyword), true
}

// NewKeyword builds a toolkit-shaped annotation covering the first
// occurrence of keyword in text, carrying a single classifying body.
func NewKeyword(text, keyword string, c Classification) (Annotation, bool) {
	start, end, ok := Index(text, keyword)
	if !ok {
		return Annotation{}, false
	}
	exact := keyword
	a := Annotation{
		Context: W3CContext,
		ID:      uuid.New().String(),
		Type:    "Annotation",
		Target: Target{Selector: []Selector{
			{Type: SelectorTextQuote, Exact: &exact},
			{Type: SelectorTextPosition, Start: &start, End: &end},
		}},
	}
	if err := a.UpsertClassification(c); err != nil {
		return Annotation{}, false
	}
	return a, true
}
