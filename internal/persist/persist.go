// Package persist declares the storage collaborators the annotation core
// writes through, and the failure type every write reports.
package persist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"normative/api/internal/norm"
)

// Error marks a collaborator call that did not complete. Callers log it and
// keep their local state as it was before the call.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("persist %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

var (
	// ErrNotFound is returned for an annotation id the document does not own.
	ErrNotFound  = errors.New("annotation not found in document")
	ErrInvalidID = errors.New("annotation id is not a uuid")
)

// Rejected reports store answers about the request itself, which are not
// persistence failures.
func Rejected(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalidID)
}

func Failed(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Err: err}
}

func IsFailed(err error) bool {
	var target *Error
	return errors.As(err, &target)
}

// AnnotationRecord is the flat row stored for one annotation. Raw keeps the
// toolkit object verbatim; business logic reads only the typed fields.
type AnnotationRecord struct {
	ID               string             `json:"id"`
	DocumentID       int64              `json:"document"`
	Start            int                `json:"start"`
	End              int                `json:"end"`
	OrigText         string             `json:"orig_text"`
	Comment          *string            `json:"comment"`
	LawType          norm.LawType       `json:"law_type"`
	LawJustification norm.Justification `json:"law_justification"`
	Raw              json.RawMessage    `json:"json_data"`
}

type AnnotationStore interface {
	ListAnnotations(ctx context.Context, documentID int64) ([]AnnotationRecord, error)
	CreateAnnotation(ctx context.Context, record AnnotationRecord) error
	// UpdateAnnotation and DeleteAnnotation only touch a row owned by the
	// given document; the owner itself is never rewritten.
	UpdateAnnotation(ctx context.Context, record AnnotationRecord) error
	DeleteAnnotation(ctx context.Context, documentID int64, id string) error
}

// ClassifierStore patches one classifier field: a "<CATEGORY>_points" field
// or "law_type".
type ClassifierStore interface {
	PatchClassifier(ctx context.Context, documentID int64, field string, value any) error
}

type StatusStore interface {
	PatchStatus(ctx context.Context, documentID int64, status norm.Status) error
}

type NewDocument struct {
	Title  string `json:"title"`
	Text   string `json:"text"`
	NPA    string `json:"NPA"`
	UserID string `json:"-"`
}

type CreatedDocument struct {
	ID   int64  `json:"id"`
	Text string `json:"text"`
}

type DocumentStore interface {
	CreateDocument(ctx context.Context, doc NewDocument) (CreatedDocument, error)
}
