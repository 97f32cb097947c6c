// Package workflow decides which review statuses a caller may move a
// document to, and applies the chosen one.
package workflow

import (
	"context"
	"errors"
	"fmt"

	"normative/api/internal/logger"
	"normative/api/internal/norm"
	"normative/api/internal/persist"
	"normative/api/internal/rbac"
)

var ErrNotPermitted = errors.New("status option is not available to the caller")

// Enabled is the per-option rule, recomputed for every render. A document in
// CHECKED can only be touched by checkers; otherwise the target decides which
// capability is needed. Superusers pass every rule through rbac.Has.
func Enabled(current, target norm.Status, ac rbac.AuthContext) bool {
	if current == norm.StatusChecked {
		return ac.Has(rbac.CapMarkAsChecked)
	}
	switch target {
	case norm.StatusMarked, norm.StatusGenerated:
		return ac.Has(rbac.CapMarkAsMarked)
	case norm.StatusChecked:
		return ac.Has(rbac.CapMarkAsChecked)
	case norm.StatusUnmarked:
		return ac.Has(rbac.CapMarkAsMarked) || ac.Has(rbac.CapMarkAsChecked)
	default:
		return false
	}
}

type Option struct {
	Status   norm.Status `json:"value"`
	Label    string      `json:"label"`
	Enabled  bool        `json:"enabled"`
	Selected bool        `json:"selected"`
}

// Selectable lists the statuses a person can pick. GENERATED is only set by
// the automated classification run.
func Selectable() []norm.Status {
	return []norm.Status{norm.StatusUnmarked, norm.StatusMarked, norm.StatusChecked}
}

func Options(current norm.Status, ac rbac.AuthContext) []Option {
	options := make([]Option, 0, 3)
	for _, status := range Selectable() {
		options = append(options, Option{
			Status:   status,
			Label:    status.Label(),
			Enabled:  Enabled(current, status, ac),
			Selected: status == current,
		})
	}
	return options
}

type NoticeKind string

const (
	NoticeSuccess NoticeKind = "success"
	NoticeError   NoticeKind = "error"
)

// Notice is the transient message shown after a status change. Success and
// failure notices are rendered the same way.
type Notice struct {
	Kind        NoticeKind `json:"status"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
}

func changedNotice(status norm.Status) Notice {
	return Notice{
		Kind:        NoticeSuccess,
		Title:       "Статус изменен",
		Description: fmt.Sprintf("Статус документа изменен на %s.", status.Label()),
	}
}

func failedNotice(status norm.Status) Notice {
	return Notice{
		Kind:        NoticeError,
		Title:       "Статус не изменен",
		Description: fmt.Sprintf("Не удалось изменить статус документа на %s.", status.Label()),
	}
}

// Workflow holds the status of one document for the caller viewing it.
type Workflow struct {
	documentID int64
	status     norm.Status
	ac         rbac.AuthContext
	store      persist.StatusStore
	log        *logger.Logger
}

func New(documentID int64, status norm.Status, ac rbac.AuthContext, store persist.StatusStore, log *logger.Logger) *Workflow {
	return &Workflow{
		documentID: documentID,
		status:     status,
		ac:         ac,
		store:      store,
		log:        logger.OrNop(log).With("document_id", documentID),
	}
}

func (w *Workflow) Status() norm.Status {
	return w.status
}

func (w *Workflow) Options() []Option {
	return Options(w.status, w.ac)
}

// Select persists target and then adopts it locally. Disabled options are
// refused before anything is written. A failed write leaves the local status
// unchanged and returns a failure notice with a *persist.Error.
func (w *Workflow) Select(ctx context.Context, target norm.Status) (Notice, error) {
	if !target.Valid() {
		return Notice{}, fmt.Errorf("status %q: %w", target, norm.ErrUnknownValue)
	}
	if !Enabled(w.status, target, w.ac) {
		return Notice{}, ErrNotPermitted
	}

	if err := w.store.PatchStatus(ctx, w.documentID, target); err != nil {
		w.log.Error("status update failed", "from", w.status, "to", target, "error", err)
		return failedNotice(target), persist.Failed("patch status", err)
	}
	w.log.Info("status updated", "from", w.status, "to", target, "user_id", w.ac.UserID)
	w.status = target
	return changedNotice(target), nil
}
