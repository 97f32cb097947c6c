// Package budget keeps a document's justification profile within its
// ten-point budget.
package budget

import (
	"context"
	"errors"
	"fmt"

	"normative/api/internal/logger"
	"normative/api/internal/norm"
	"normative/api/internal/persist"
	"normative/api/internal/rbac"
)

// Max is the total number of points a profile may hold.
const Max = 10

var ErrReadOnly = errors.New("justification profile is read-only")

// Points maps each justification category to its points. Missing categories
// count as zero.
type Points map[norm.Justification]int

func (p Points) Total() int {
	total := 0
	for _, category := range norm.Categories() {
		total += p[category]
	}
	return total
}

func (p Points) Remaining() int {
	return Max - p.Total()
}

// Dominant is the category with the most points, first in profile order on
// ties, or UNCHECKED when the profile is empty.
func (p Points) Dominant() norm.Justification {
	best := norm.JustificationUnchecked
	bestValue := 0
	for _, category := range norm.Categories() {
		if p[category] > bestValue {
			best = category
			bestValue = p[category]
		}
	}
	return best
}

func (p Points) Clone() Points {
	out := make(Points, len(norm.Categories()))
	for _, category := range norm.Categories() {
		out[category] = p[category]
	}
	return out
}

// Fits reports whether setting category to value keeps the profile within
// budget. Other categories are never adjusted to make room.
func (p Points) Fits(category norm.Justification, value int) bool {
	return p.Total()-p[category]+value <= Max
}

type Outcome string

const (
	Accepted Outcome = "accepted"
	Rejected Outcome = "rejected"
)

// Tracker owns the profile of one document for the caller viewing it.
type Tracker struct {
	documentID int64
	points     Points
	readOnly   bool
	store      persist.ClassifierStore
	log        *logger.Logger
}

func NewTracker(documentID int64, points Points, ac rbac.AuthContext, store persist.ClassifierStore, log *logger.Logger) *Tracker {
	return &Tracker{
		documentID: documentID,
		points:     points.Clone(),
		readOnly:   !ac.IsAuthenticated(),
		store:      store,
		log:        logger.OrNop(log).With("document_id", documentID),
	}
}

func (t *Tracker) Points() Points {
	return t.points.Clone()
}

func (t *Tracker) Remaining() int {
	return t.points.Remaining()
}

func (t *Tracker) ReadOnly() bool {
	return t.readOnly
}

// Allowed is the check the input control runs before letting a value move.
func (t *Tracker) Allowed(category norm.Justification, value int) bool {
	return !t.readOnly && t.points.Fits(category, value)
}

// Set writes one category. Over-budget values are rejected without touching
// local state or the store. On a store failure the local profile is left as
// it was and a *persist.Error is returned.
func (t *Tracker) Set(ctx context.Context, category norm.Justification, value int) (Outcome, error) {
	if t.readOnly {
		return Rejected, ErrReadOnly
	}
	if !category.IsCategory() {
		return Rejected, fmt.Errorf("justification category %q: %w", category, norm.ErrUnknownValue)
	}
	if !t.points.Fits(category, value) {
		t.log.Debug("justification points rejected", "category", category, "value", value, "total", t.points.Total())
		return Rejected, nil
	}

	if err := t.store.PatchClassifier(ctx, t.documentID, category.PointsField(), value); err != nil {
		t.log.Error("justification points update failed", "category", category, "value", value, "error", err)
		return Rejected, persist.Failed("patch classifier", err)
	}
	t.points[category] = value
	return Accepted, nil
}
