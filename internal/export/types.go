// Package export produces the annotated dataset: every reviewed document with
// its flat annotation rows, as JSON, optionally archived to object storage.
package export

import (
	"errors"
	"time"

	"normative/api/internal/norm"
)

// Document is one dataset entry. Field names follow the dataset consumers,
// so the points keep their upper-case category prefix.
type Document struct {
	ID                    int64              `json:"id"`
	Username              string             `json:"username"`
	Title                 string             `json:"title"`
	Text                  string             `json:"text"`
	CreatedAt             time.Time          `json:"created_at"`
	NPA                   string             `json:"NPA"`
	Status                norm.Status        `json:"status"`
	LawType               norm.LawType       `json:"law_type"`
	DominantJustification norm.Justification `json:"dominant_justification"`
	AuthPoints            int                `json:"AUTH_points"`
	CarePoints            int                `json:"CARE_points"`
	LoyalPoints           int                `json:"LOYAL_points"`
	FairPoints            int                `json:"FAIR_points"`
	PurPoints             int                `json:"PUR_points"`
	NonPoints             int                `json:"NON_points"`
	Annotations           []Annotation       `json:"annotations"`
}

// Annotation is the flat export row; the raw toolkit object is not exported.
type Annotation struct {
	ID               string             `json:"id"`
	Document         int64              `json:"document"`
	Start            int                `json:"start"`
	End              int                `json:"end"`
	OrigText         string             `json:"orig_text"`
	Comment          *string            `json:"comment"`
	LawType          norm.LawType       `json:"law_type"`
	LawJustification norm.Justification `json:"law_justification"`
}

// Result describes an archived snapshot.
type Result struct {
	Bucket    string `json:"bucket"`
	Object    string `json:"object"`
	Size      int64  `json:"size"`
	Documents int    `json:"documents"`
}

var ErrArchiveDisabled = errors.New("dataset archive is not configured")
