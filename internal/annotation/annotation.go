// Package annotation models the W3C-style annotation objects produced by the
// span-selection toolkit and translates them into flat records.
package annotation

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"normative/api/internal/norm"
)

const (
	W3CContext = "http://www.w3.org/ns/anno.jsonld"

	SelectorTextQuote    = "TextQuoteSelector"
	SelectorTextPosition = "TextPositionSelector"

	PurposeCommenting  = "commenting"
	PurposeClassifying = "classifying"
)

var ErrMalformed = errors.New("malformed annotation")

type Selector struct {
	Type  string  `json:"type"`
	Exact *string `json:"exact,omitempty"`
	Start *int    `json:"start,omitempty"`
	End   *int    `json:"end,omitempty"`
}

type Target struct {
	Selector []Selector `json:"selector"`
}

// Body is one entry of an annotation's body list. Value is a JSON string for
// commenting bodies and a Classification object for classifying bodies.
type Body struct {
	Type    string          `json:"type,omitempty"`
	Purpose string          `json:"purpose"`
	Value   json.RawMessage `json:"value,omitempty"`
	Creator json.RawMessage `json:"creator,omitempty"`
	Created string          `json:"created,omitempty"`
}

type Annotation struct {
	Context string `json:"@context,omitempty"`
	ID      string `json:"id"`
	Type    string `json:"type,omitempty"`
	Body    []Body `json:"body"`
	Target  Target `json:"target"`

	// Raw is the object exactly as the toolkit sent it.
	Raw json.RawMessage `json:"-"`
}

// Classification is the value of a classifying body. Both subfields travel
// together so an update never clears the other one.
type Classification struct {
	Type          norm.LawType       `json:"type"`
	Justification norm.Justification `json:"justification"`
}

func Unchecked() Classification {
	return Classification{Type: norm.LawTypeUnchecked, Justification: norm.JustificationUnchecked}
}

// partialClassification tolerates a classifying body missing one subfield.
type partialClassification struct {
	Type          *norm.LawType       `json:"type"`
	Justification *norm.Justification `json:"justification"`
}

func Parse(raw []byte) (Annotation, error) {
	var a Annotation
	if err := json.Unmarshal(raw, &a); err != nil {
		return Annotation{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	a.Raw = append(json.RawMessage(nil), raw...)
	return a, nil
}

// Encode returns the object to store verbatim. Annotations that were not
// parsed from toolkit bytes are marshalled from their fields.
func (a Annotation) Encode() (json.RawMessage, error) {
	if len(a.Raw) > 0 {
		return a.Raw, nil
	}
	raw, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("encode annotation: %w", err)
	}
	return raw, nil
}

// StripID removes the fragment marker the toolkit prefixes to the ids it
// generates.
func StripID(id string) string {
	return strings.TrimPrefix(id, "#")
}

func (b Body) comment() (*string, bool) {
	if len(b.Value) == 0 {
		return nil, true
	}
	var value string
	if err := json.Unmarshal(b.Value, &value); err != nil {
		return nil, false
	}
	return &value, true
}

func (b Body) classification() partialClassification {
	var value partialClassification
	if len(b.Value) == 0 {
		return value
	}
	if err := json.Unmarshal(b.Value, &value); err != nil {
		return partialClassification{}
	}
	return value
}

// SetID replaces the annotation id in both the typed fields and Raw.
func (a *Annotation) SetID(id string) error {
	if a.ID == id {
		return nil
	}
	a.ID = id
	return a.reencode()
}

// UpsertClassification replaces the classifying body with c, or appends one
// when the annotation has none. Raw is re-encoded so the stored object
// matches the new body.
func (a *Annotation) UpsertClassification(c Classification) error {
	value, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode classification: %w", err)
	}

	replaced := false
	for i := range a.Body {
		if a.Body[i].Purpose == PurposeClassifying {
			a.Body[i].Value = value
			replaced = true
		}
	}
	if !replaced {
		a.Body = append(a.Body, Body{Purpose: PurposeClassifying, Value: value})
	}

	return a.reencode()
}

// reencode rewrites Raw from the typed fields, keeping any members of the
// original object that the typed model does not know about.
func (a *Annotation) reencode() error {
	typed, err := json.Marshal(struct {
		Context string `json:"@context,omitempty"`
		ID      string `json:"id"`
		Type    string `json:"type,omitempty"`
		Body    []Body `json:"body"`
		Target  Target `json:"target"`
	}{a.Context, a.ID, a.Type, a.Body, a.Target})
	if err != nil {
		return fmt.Errorf("encode annotation: %w", err)
	}
	if len(a.Raw) == 0 {
		a.Raw = typed
		return nil
	}

	merged := map[string]json.RawMessage{}
	if err := json.Unmarshal(a.Raw, &merged); err != nil {
		a.Raw = typed
		return nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(typed, &fields); err != nil {
		return fmt.Errorf("encode annotation: %w", err)
	}
	for key, value := range fields {
		merged[key] = value
	}
	raw, err := json.Marshal(merged)
	if err != nil {
		return fmt.Errorf("encode annotation: %w", err)
	}
	a.Raw = raw
	return nil
}
