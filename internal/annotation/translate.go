package annotation

import "normative/api/internal/norm"

// Fields is the flat translation of a toolkit annotation. A nil field means
// the corresponding selector or body entry was absent.
type Fields struct {
	Start            *int
	End              *int
	OrigText         *string
	Comment          *string
	LawType          *norm.LawType
	LawJustification *norm.Justification
}

// Translate scans the selector list and the body list once each. When the
// same kind of entry appears more than once the last one wins.
func Translate(a Annotation) Fields {
	var out Fields

	for _, selector := range a.Target.Selector {
		switch selector.Type {
		case SelectorTextQuote:
			out.OrigText = cloneString(selector.Exact)
		case SelectorTextPosition:
			out.Start = cloneInt(selector.Start)
			out.End = cloneInt(selector.End)
		}
	}

	for _, body := range a.Body {
		switch body.Purpose {
		case PurposeCommenting:
			if comment, ok := body.comment(); ok {
				out.Comment = comment
			}
		case PurposeClassifying:
			value := body.classification()
			out.LawType = value.Type
			out.LawJustification = value.Justification
		}
	}

	return out
}

// Classification returns the translated pair with absent subfields defaulted
// to UNCHECKED.
func (f Fields) Classification() Classification {
	c := Unchecked()
	if f.LawType != nil {
		c.Type = *f.LawType
	}
	if f.LawJustification != nil {
		c.Justification = *f.LawJustification
	}
	return c
}

// CurrentClassification reads the last classifying body, if any.
func (a Annotation) CurrentClassification() (Classification, bool) {
	found := false
	c := Unchecked()
	for _, body := range a.Body {
		if body.Purpose != PurposeClassifying {
			continue
		}
		found = true
		value := body.classification()
		c = Unchecked()
		if value.Type != nil {
			c.Type = *value.Type
		}
		if value.Justification != nil {
			c.Justification = *value.Justification
		}
	}
	return c, found
}

type DisplayClass string

const (
	DisplayLawType          DisplayClass = "law-type"
	DisplayLawJustification DisplayClass = "law-justification"
	DisplayComment          DisplayClass = "comment"
)

// Format picks the styling class for an annotation. A law type takes
// priority over a justification when both are set.
func Format(a Annotation) DisplayClass {
	hasJustification := false
	for _, body := range a.Body {
		if body.Purpose != PurposeClassifying {
			continue
		}
		value := body.classification()
		if value.Type != nil && *value.Type != norm.LawTypeUnchecked {
			return DisplayLawType
		}
		if value.Justification != nil && *value.Justification != norm.JustificationUnchecked {
			hasJustification = true
		}
	}
	if hasJustification {
		return DisplayLawJustification
	}
	return DisplayComment
}

func cloneString(value *string) *string {
	if value == nil {
		return nil
	}
	v := *value
	return &v
}

func cloneInt(value *int) *int {
	if value == nil {
		return nil
	}
	v := *value
	return &v
}
