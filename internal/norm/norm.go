// Package norm holds the closed vocabularies used to classify a legal norm:
// its law type, its moral justification categories and the document review
// status.
package norm

import (
	"errors"
	"fmt"
)

var ErrUnknownValue = errors.New("unknown value")

type LawType string

const (
	LawTypeUnchecked LawType = "UNCHECKED"
	LawTypeAllow     LawType = "ALLOW"
	LawTypeDuty      LawType = "DUTY"
	LawTypeBan       LawType = "BAN"
	LawTypeDef       LawType = "DEF"
	LawTypeDec       LawType = "DEC"
	LawTypeGoal      LawType = "GOAL"
	LawTypeOther     LawType = "OTHER"
)

var lawTypeLabels = map[LawType]string{
	LawTypeUnchecked: "Не проверено",
	LawTypeAllow:     "Дозволение",
	LawTypeDuty:      "Обязанность",
	LawTypeBan:       "Запрет",
	LawTypeDef:       "Дефиниция",
	LawTypeDec:       "Декларация",
	LawTypeGoal:      "Цель",
	LawTypeOther:     "Иное",
}

// LawTypes returns every law type in picker order.
func LawTypes() []LawType {
	return []LawType{
		LawTypeUnchecked,
		LawTypeAllow,
		LawTypeDuty,
		LawTypeBan,
		LawTypeDef,
		LawTypeDec,
		LawTypeGoal,
		LawTypeOther,
	}
}

func (t LawType) Valid() bool {
	_, ok := lawTypeLabels[t]
	return ok
}

func (t LawType) Label() string {
	return lawTypeLabels[t]
}

func ParseLawType(value string) (LawType, error) {
	t := LawType(value)
	if !t.Valid() {
		return "", fmt.Errorf("law type %q: %w", value, ErrUnknownValue)
	}
	return t, nil
}

type Justification string

const (
	JustificationUnchecked Justification = "UNCHECKED"
	JustificationAuth      Justification = "AUTH"
	JustificationCare      Justification = "CARE"
	JustificationLoyal     Justification = "LOYAL"
	JustificationFair      Justification = "FAIR"
	JustificationPur       Justification = "PUR"
	JustificationNon       Justification = "NON"
)

var justificationLabels = map[Justification]string{
	JustificationUnchecked: "Не проверено",
	JustificationAuth:      "Авторитет",
	JustificationCare:      "Забота",
	JustificationLoyal:     "Лояльность",
	JustificationFair:      "Справедливость",
	JustificationPur:       "Чистота",
	JustificationNon:       "Нет этической окраски",
}

// Justifications returns every justification value in picker order,
// UNCHECKED first.
func Justifications() []Justification {
	return append([]Justification{JustificationUnchecked}, Categories()...)
}

// Categories returns the six point-bearing justification categories in
// profile order.
func Categories() []Justification {
	return []Justification{
		JustificationAuth,
		JustificationCare,
		JustificationLoyal,
		JustificationFair,
		JustificationPur,
		JustificationNon,
	}
}

func (j Justification) Valid() bool {
	_, ok := justificationLabels[j]
	return ok
}

// IsCategory reports whether j carries points in a justification profile.
func (j Justification) IsCategory() bool {
	return j.Valid() && j != JustificationUnchecked
}

func (j Justification) Label() string {
	return justificationLabels[j]
}

// PointsField is the classifier field name holding the category's points.
func (j Justification) PointsField() string {
	return string(j) + "_points"
}

func ParseJustification(value string) (Justification, error) {
	j := Justification(value)
	if !j.Valid() {
		return "", fmt.Errorf("justification %q: %w", value, ErrUnknownValue)
	}
	return j, nil
}

// ParseCategory accepts only point-bearing categories.
func ParseCategory(value string) (Justification, error) {
	j := Justification(value)
	if !j.IsCategory() {
		return "", fmt.Errorf("justification category %q: %w", value, ErrUnknownValue)
	}
	return j, nil
}

type Status string

const (
	StatusUnmarked  Status = "UNMARKED"
	StatusMarked    Status = "MARKED"
	StatusChecked   Status = "CHECKED"
	StatusGenerated Status = "GENERATED"
)

var statusLabels = map[Status]string{
	StatusUnmarked:  "Не размечено",
	StatusMarked:    "Размечено",
	StatusChecked:   "Проверено",
	StatusGenerated: "Сгенерировано",
}

func Statuses() []Status {
	return []Status{StatusUnmarked, StatusMarked, StatusChecked, StatusGenerated}
}

func (s Status) Valid() bool {
	_, ok := statusLabels[s]
	return ok
}

func (s Status) Label() string {
	return statusLabels[s]
}

func ParseStatus(value string) (Status, error) {
	s := Status(value)
	if !s.Valid() {
		return "", fmt.Errorf("status %q: %w", value, ErrUnknownValue)
	}
	return s, nil
}
