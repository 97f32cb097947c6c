// Package widget holds the classification control shown next to an
// annotation: two pickers, one for the law type and one for the
// justification.
package widget

import (
	"errors"
	"fmt"

	"normative/api/internal/annotation"
	"normative/api/internal/norm"
	"normative/api/internal/rbac"
)

var ErrReadOnly = errors.New("classification control is read-only")

const (
	FieldJustification = "justification"
	FieldType          = "type"
)

type Option struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

type Picker struct {
	Name     string   `json:"name"`
	Label    string   `json:"label"`
	Options  []Option `json:"options"`
	Selected string   `json:"selected"`
	Disabled bool     `json:"disabled"`
}

type View struct {
	Justification Picker `json:"justification"`
	LawType       Picker `json:"type"`
}

// ChangeFunc receives the full classification after every pick.
type ChangeFunc func(annotation.Classification) error

type Control struct {
	value    annotation.Classification
	readOnly bool
	onChange ChangeFunc
}

// New initialises the pickers from the annotation's classifying body, or
// UNCHECKED for both when there is none. A nil annotation is a fresh one.
func New(current *annotation.Annotation, ac rbac.AuthContext, onChange ChangeFunc) *Control {
	value := annotation.Unchecked()
	if current != nil {
		if c, ok := current.CurrentClassification(); ok {
			value = c
		}
	}
	return &Control{
		value:    value,
		readOnly: !ac.IsAuthenticated(),
		onChange: onChange,
	}
}

func (c *Control) Value() annotation.Classification {
	return c.value
}

func (c *Control) ReadOnly() bool {
	return c.readOnly
}

func (c *Control) Render() View {
	justifications := make([]Option, 0, len(norm.Justifications()))
	for _, j := range norm.Justifications() {
		justifications = append(justifications, Option{Value: string(j), Label: optionLabel(string(j), j.Label())})
	}
	lawTypes := make([]Option, 0, len(norm.LawTypes()))
	for _, t := range norm.LawTypes() {
		lawTypes = append(lawTypes, Option{Value: string(t), Label: optionLabel(string(t), t.Label())})
	}

	return View{
		Justification: Picker{
			Name:     FieldJustification,
			Label:    "Профиль нормы",
			Options:  justifications,
			Selected: string(c.value.Justification),
			Disabled: c.readOnly,
		},
		LawType: Picker{
			Name:     FieldType,
			Label:    "Тип нормы",
			Options:  lawTypes,
			Selected: string(c.value.Type),
			Disabled: c.readOnly,
		},
	}
}

func optionLabel(value, label string) string {
	if value == "UNCHECKED" {
		return "нет"
	}
	return label
}

func (c *Control) SelectLawType(value norm.LawType) error {
	if c.readOnly {
		return ErrReadOnly
	}
	if !value.Valid() {
		return fmt.Errorf("law type %q: %w", value, norm.ErrUnknownValue)
	}
	next := c.value
	next.Type = value
	return c.emit(next)
}

func (c *Control) SelectJustification(value norm.Justification) error {
	if c.readOnly {
		return ErrReadOnly
	}
	if !value.Valid() {
		return fmt.Errorf("justification %q: %w", value, norm.ErrUnknownValue)
	}
	next := c.value
	next.Justification = value
	return c.emit(next)
}

// Select applies a pick addressed by picker name, as posted by the host.
func (c *Control) Select(field, value string) error {
	switch field {
	case FieldType:
		return c.SelectLawType(norm.LawType(value))
	case FieldJustification:
		return c.SelectJustification(norm.Justification(value))
	default:
		return fmt.Errorf("picker %q: %w", field, norm.ErrUnknownValue)
	}
}

func (c *Control) emit(next annotation.Classification) error {
	c.value = next
	if c.onChange == nil {
		return nil
	}
	return c.onChange(next)
}
