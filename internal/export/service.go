package export

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"normative/api/internal/logger"
	"normative/api/internal/norm"
	"normative/api/internal/store"
)

// DataStore defines the interface for data access
type DataStore interface {
	ExportDocuments(ctx context.Context) ([]store.ExportedDocument, error)
}

// Archiver uploads a finished snapshot.
type Archiver interface {
	Put(ctx context.Context, object string, data []byte, contentType string) (bucket string, err error)
}

// Service builds dataset snapshots
type Service struct {
	store    DataStore
	archiver Archiver
	log      *logger.Logger
	now      func() time.Time
}

// NewService creates a new export service. archiver may be nil, in which case
// Archive reports ErrArchiveDisabled.
func NewService(store DataStore, archiver Archiver, log *logger.Logger) *Service {
	return &Service{
		store:    store,
		archiver: archiver,
		log:      logger.OrNop(log),
		now:      time.Now,
	}
}

// Snapshot returns the dataset. Documents produced by automated
// classification are excluded by the store.
func (s *Service) Snapshot(ctx context.Context) ([]Document, error) {
	items, err := s.store.ExportDocuments(ctx)
	if err != nil {
		return nil, fmt.Errorf("load export: %w", err)
	}
	out := make([]Document, 0, len(items))
	for _, item := range items {
		out = append(out, toDocument(item))
	}
	return out, nil
}

func toDocument(item store.ExportedDocument) Document {
	doc := Document{
		ID:                    item.ID,
		Username:              item.Username,
		Title:                 item.Title,
		Text:                  item.Text,
		CreatedAt:             item.CreatedAt,
		NPA:                   item.NPA,
		Status:                item.Status,
		LawType:               item.LawType,
		DominantJustification: item.DominantJustification,
		AuthPoints:            item.Points[norm.JustificationAuth],
		CarePoints:            item.Points[norm.JustificationCare],
		LoyalPoints:           item.Points[norm.JustificationLoyal],
		FairPoints:            item.Points[norm.JustificationFair],
		PurPoints:             item.Points[norm.JustificationPur],
		NonPoints:             item.Points[norm.JustificationNon],
		Annotations:           make([]Annotation, 0, len(item.Annotations)),
	}
	for _, a := range item.Annotations {
		doc.Annotations = append(doc.Annotations, Annotation{
			ID:               a.ID,
			Document:         a.DocumentID,
			Start:            a.Start,
			End:              a.End,
			OrigText:         a.OrigText,
			Comment:          a.Comment,
			LawType:          a.LawType,
			LawJustification: a.LawJustification,
		})
	}
	return doc
}

// Archive uploads the current snapshot as a timestamped JSON object.
func (s *Service) Archive(ctx context.Context) (Result, error) {
	if s.archiver == nil {
		return Result{}, ErrArchiveDisabled
	}
	docs, err := s.Snapshot(ctx)
	if err != nil {
		return Result{}, err
	}

	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(docs); err != nil {
		return Result{}, fmt.Errorf("encode export: %w", err)
	}

	object := fmt.Sprintf("exports/dataset-%s.json", s.now().UTC().Format("20060102T150405Z"))
	bucket, err := s.archiver.Put(ctx, object, buf.Bytes(), "application/json")
	if err != nil {
		s.log.Error("dataset archive failed", "object", object, "error", err)
		return Result{}, fmt.Errorf("archive export: %w", err)
	}
	s.log.Info("dataset archived", "bucket", bucket, "object", object, "documents", len(docs))
	return Result{Bucket: bucket, Object: object, Size: int64(buf.Len()), Documents: len(docs)}, nil
}
