// Package annosync persists the toolkit's annotation lifecycle events for one
// document and supplies the display formatter the toolkit styles spans with.
package annosync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"normative/api/internal/annotation"
	"normative/api/internal/logger"
	"normative/api/internal/persist"
)

var (
	ErrInvalidSpan           = annotation.ErrInvalidSpan
	ErrMissingQuote          = errors.New("annotation has no quote selector")
	ErrInvalidClassification = errors.New("annotation classification is not in the vocabulary")
	ErrUnknownEvent          = errors.New("unknown annotation event")
)

type State string

const (
	StateCreated State = "created"
	StateSyncing State = "syncing"
	StateSynced  State = "synced"
)

const (
	EventCreate = "createAnnotation"
	EventUpdate = "updateAnnotation"
	EventDelete = "deleteAnnotation"
)

// Document is the text the annotations point into.
type Document struct {
	ID   int64
	Text string
}

type Engine struct {
	doc     Document
	textLen int
	store   persist.AnnotationStore
	log     *logger.Logger

	mu     sync.Mutex
	states map[string]State
}

func New(doc Document, store persist.AnnotationStore, log *logger.Logger) *Engine {
	return &Engine{
		doc:     doc,
		textLen: annotation.TextLen(doc.Text),
		store:   store,
		log:     logger.OrNop(log).With("document_id", doc.ID),
		states:  make(map[string]State),
	}
}

// Formatter is handed to the toolkit; it runs on every render.
func (e *Engine) Formatter() func(annotation.Annotation) annotation.DisplayClass {
	return annotation.Format
}

// State reports the sync state of an annotation id, if the engine has seen it.
func (e *Engine) State(id string) (State, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	state, ok := e.states[annotation.StripID(id)]
	return state, ok
}

func (e *Engine) setState(id string, state State) {
	e.mu.Lock()
	e.states[id] = state
	e.mu.Unlock()
}

// Load returns the stored toolkit objects for the document and marks every
// one of them synced.
func (e *Engine) Load(ctx context.Context) ([]json.RawMessage, error) {
	records, err := e.store.ListAnnotations(ctx, e.doc.ID)
	if err != nil {
		e.log.Error("annotation load failed", "error", err)
		return nil, persist.Failed("list annotations", err)
	}
	items := make([]json.RawMessage, 0, len(records))
	for _, record := range records {
		e.setState(record.ID, StateSynced)
		items = append(items, record.Raw)
	}
	return items, nil
}

// OnCreate persists a freshly drawn annotation under its own id (without the
// toolkit's fragment marker) and then hands that same id back through
// override.
func (e *Engine) OnCreate(ctx context.Context, a annotation.Annotation, override func(id string)) error {
	id := annotation.StripID(a.ID)
	if err := a.SetID(id); err != nil {
		return err
	}
	record, err := e.record(a)
	if err != nil {
		e.log.Warn("annotation rejected", "annotation_id", id, "error", err)
		return err
	}

	e.setState(id, StateCreated)
	if err := e.store.CreateAnnotation(ctx, record); err != nil {
		if persist.Rejected(err) {
			e.restoreState(id, "", false)
		}
		return e.storeError("create annotation", id, err)
	}
	e.setState(id, StateSynced)

	if override != nil {
		override(id)
	}
	return nil
}

// OnUpdate re-translates the annotation and writes the full record. An id
// this document does not own is answered with persist.ErrNotFound.
func (e *Engine) OnUpdate(ctx context.Context, a annotation.Annotation) error {
	id := annotation.StripID(a.ID)
	if err := a.SetID(id); err != nil {
		return err
	}
	record, err := e.record(a)
	if err != nil {
		e.log.Warn("annotation rejected", "annotation_id", id, "error", err)
		return err
	}

	previous, seen := e.State(id)
	e.setState(id, StateSyncing)
	if err := e.store.UpdateAnnotation(ctx, record); err != nil {
		if persist.Rejected(err) {
			e.restoreState(id, previous, seen)
		}
		return e.storeError("update annotation", id, err)
	}
	e.setState(id, StateSynced)
	return nil
}

func (e *Engine) OnDelete(ctx context.Context, a annotation.Annotation) error {
	id := annotation.StripID(a.ID)
	if err := e.store.DeleteAnnotation(ctx, e.doc.ID, id); err != nil {
		return e.storeError("delete annotation", id, err)
	}
	e.mu.Lock()
	delete(e.states, id)
	e.mu.Unlock()
	return nil
}

// restoreState undoes the tracking of a write the store refused. Writes that
// failed keep their optimistic state.
func (e *Engine) restoreState(id string, state State, seen bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if seen {
		e.states[id] = state
	} else {
		delete(e.states, id)
	}
}

func (e *Engine) storeError(op, id string, err error) error {
	if persist.Rejected(err) {
		e.log.Warn(op+" rejected", "annotation_id", id, "error", err)
		return err
	}
	e.log.Error(op+" failed", "annotation_id", id, "error", err)
	return persist.Failed(op, err)
}

// Event is one toolkit callback forwarded by the host.
type Event struct {
	Name       string          `json:"event"`
	Annotation json.RawMessage `json:"annotation"`
}

type Outcome struct {
	ID      string                  `json:"id"`
	Display annotation.DisplayClass `json:"display"`
	// OverrideID is set after a create; the toolkit must adopt it.
	OverrideID string `json:"overrideId,omitempty"`
}

func (e *Engine) Handle(ctx context.Context, event Event) (Outcome, error) {
	a, err := annotation.Parse(event.Annotation)
	if err != nil {
		return Outcome{}, err
	}
	outcome := Outcome{ID: annotation.StripID(a.ID), Display: annotation.Format(a)}

	switch event.Name {
	case EventCreate:
		err = e.OnCreate(ctx, a, func(id string) { outcome.OverrideID = id })
	case EventUpdate:
		err = e.OnUpdate(ctx, a)
	case EventDelete:
		err = e.OnDelete(ctx, a)
	default:
		return Outcome{}, fmt.Errorf("%q: %w", event.Name, ErrUnknownEvent)
	}
	return outcome, err
}

// record validates the translation against the document before anything is
// sent to the store.
func (e *Engine) record(a annotation.Annotation) (persist.AnnotationRecord, error) {
	fields := annotation.Translate(a)
	if fields.Start == nil || fields.End == nil {
		return persist.AnnotationRecord{}, ErrInvalidSpan
	}
	if err := annotation.ValidateSpan(*fields.Start, *fields.End, e.textLen); err != nil {
		return persist.AnnotationRecord{}, err
	}
	if fields.OrigText == nil {
		return persist.AnnotationRecord{}, ErrMissingQuote
	}

	c := fields.Classification()
	if !c.Type.Valid() || !c.Justification.Valid() {
		return persist.AnnotationRecord{}, ErrInvalidClassification
	}

	raw, err := a.Encode()
	if err != nil {
		return persist.AnnotationRecord{}, err
	}

	return persist.AnnotationRecord{
		ID:               a.ID,
		DocumentID:       e.doc.ID,
		Start:            *fields.Start,
		End:              *fields.End,
		OrigText:         *fields.OrigText,
		Comment:          fields.Comment,
		LawType:          c.Type,
		LawJustification: c.Justification,
		Raw:              raw,
	}, nil
}
