package store

import (
	"errors"
	"regexp"
	"strings"
	"time"

	"normative/api/internal/budget"
	"normative/api/internal/norm"
	"normative/api/internal/persist"
)

var (
	ErrBudgetExceeded = errors.New("justification points exceed the budget")
	ErrInvalidPoints  = errors.New("points must be between 0 and 10")
	ErrUnknownField   = errors.New("unknown classifier field")
	ErrUserExists     = errors.New("username already taken")
)

const DefaultNPA = "NOTSELECTED"

type User struct {
	ID           string
	Username     string
	PasswordHash string
	IsStaff      bool
	IsSuperuser  bool
	Permissions  []string
	CreatedAt    time.Time
}

type Document struct {
	ID                    int64
	UserID                string
	Username              string
	Title                 string
	Text                  string
	NPA                   string
	Status                norm.Status
	LawType               norm.LawType
	DominantJustification norm.Justification
	Points                budget.Points
	CreatedAt             time.Time
}

// Classifier is the classification part of a document.
type Classifier struct {
	DocumentID            int64
	Points                budget.Points
	DominantJustification norm.Justification
	LawType               norm.LawType
	NPA                   string
}

// ClassifierPatch carries the fields to change; nil and absent entries are
// left alone.
type ClassifierPatch struct {
	Points  map[norm.Justification]int
	LawType *norm.LawType
	NPA     *string
}

// ParseClassifierField turns a "<CATEGORY>_points", "law_type" or "NPA"
// field and its value into a patch.
func ParseClassifierField(field string, value any) (ClassifierPatch, error) {
	switch field {
	case "law_type":
		text, ok := value.(string)
		if !ok {
			return ClassifierPatch{}, ErrUnknownField
		}
		lawType, err := norm.ParseLawType(text)
		if err != nil {
			return ClassifierPatch{}, err
		}
		return ClassifierPatch{LawType: &lawType}, nil
	case "NPA":
		text, ok := value.(string)
		if !ok {
			return ClassifierPatch{}, ErrUnknownField
		}
		return ClassifierPatch{NPA: &text}, nil
	}

	if !strings.HasSuffix(field, "_points") {
		return ClassifierPatch{}, ErrUnknownField
	}
	category, err := norm.ParseCategory(strings.TrimSuffix(field, "_points"))
	if err != nil {
		return ClassifierPatch{}, ErrUnknownField
	}
	points, ok := toInt(value)
	if !ok || points < 0 || points > budget.Max {
		return ClassifierPatch{}, ErrInvalidPoints
	}
	return ClassifierPatch{Points: map[norm.Justification]int{category: points}}, nil
}

func toInt(value any) (int, bool) {
	switch v := value.(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		if v != float64(int(v)) {
			return 0, false
		}
		return int(v), true
	default:
		return 0, false
	}
}

// Apply returns the classifier after the patch, or ErrBudgetExceeded when
// the new profile would break the budget.
func (p ClassifierPatch) Apply(current Classifier) (Classifier, error) {
	next := current
	next.Points = current.Points.Clone()
	for category, value := range p.Points {
		next.Points[category] = value
	}
	if next.Points.Total() > budget.Max {
		return Classifier{}, ErrBudgetExceeded
	}
	if p.LawType != nil {
		next.LawType = *p.LawType
	}
	if p.NPA != nil {
		next.NPA = *p.NPA
	}
	next.DominantJustification = next.Points.Dominant()
	return next, nil
}

// ExportedDocument is a document together with its annotations, as written
// to a dataset export.
type ExportedDocument struct {
	Document
	Annotations []persist.AnnotationRecord
}

var newlineRuns = regexp.MustCompile(`\n+`)

// NormalizeText trims the text, turns carriage returns into newlines and
// collapses runs of newlines.
func NormalizeText(text string) string {
	text = strings.ReplaceAll(strings.TrimSpace(text), "\r", "\n")
	return newlineRuns.ReplaceAllString(text, "\n")
}
