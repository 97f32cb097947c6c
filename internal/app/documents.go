package app

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"strings"

	"github.com/google/uuid"

	"normative/api/internal/annosync"
	"normative/api/internal/annotation"
	"normative/api/internal/autoclass"
	"normative/api/internal/budget"
	"normative/api/internal/export"
	"normative/api/internal/norm"
	"normative/api/internal/persist"
	"normative/api/internal/rbac"
	"normative/api/internal/store"
	"normative/api/internal/widget"
	"normative/api/internal/workflow"
)

const (
	defaultPageSize = 25
	maxPageSize     = 100
)

func requireAuth(ac rbac.AuthContext) error {
	if !ac.IsAuthenticated() {
		return errAuthRequired
	}
	return nil
}

type DocumentInput struct {
	Title string `json:"title"`
	Text  string `json:"text"`
	NPA   string `json:"NPA"`
}

func (s *Service) validateDocument(input DocumentInput) error {
	details := map[string]string{}
	if strings.TrimSpace(input.Title) == "" {
		details["title"] = "required"
	}
	if strings.TrimSpace(input.Text) == "" {
		details["text"] = "required"
	}
	if input.NPA != "" && !s.knownNPA(input.NPA) {
		details["NPA"] = "unknown value"
	}
	if len(details) > 0 {
		return validationError("Invalid document", details)
	}
	return nil
}

func (s *Service) knownNPA(value string) bool {
	if value == store.DefaultNPA || len(s.cfg.NPA) == 0 {
		return true
	}
	for _, item := range s.cfg.NPA {
		if item.Value == value {
			return true
		}
	}
	return false
}

func documentPayload(doc store.Document) map[string]any {
	payload := map[string]any{
		"id":                     doc.ID,
		"user":                   doc.UserID,
		"username":               doc.Username,
		"title":                  doc.Title,
		"text":                   doc.Text,
		"created_at":             doc.CreatedAt,
		"NPA":                    doc.NPA,
		"status":                 doc.Status,
		"law_type":               doc.LawType,
		"dominant_justification": doc.DominantJustification,
	}
	for _, category := range norm.Categories() {
		payload[category.PointsField()] = doc.Points[category]
	}
	return payload
}

func classifierPayload(c store.Classifier) map[string]any {
	payload := map[string]any{
		"dominant_justification": c.DominantJustification,
		"law_type":               c.LawType,
		"NPA":                    c.NPA,
	}
	for _, category := range norm.Categories() {
		payload[category.PointsField()] = c.Points[category]
	}
	return payload
}

// ListDocuments pages through documents newest first.
func (s *Service) ListDocuments(ctx context.Context, page, pageSize int) (map[string]any, error) {
	documents, err := s.store.ListDocuments(ctx)
	if err != nil {
		return nil, err
	}
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	if page <= 0 {
		page = 1
	}

	start := (page - 1) * pageSize
	if start > len(documents) {
		start = len(documents)
	}
	end := start + pageSize
	if end > len(documents) {
		end = len(documents)
	}
	results := make([]map[string]any, 0, end-start)
	for _, doc := range documents[start:end] {
		results = append(results, documentPayload(doc))
	}
	return map[string]any{
		"count":     len(documents),
		"page":      page,
		"page_size": pageSize,
		"results":   results,
	}, nil
}

func (s *Service) GetDocument(ctx context.Context, documentID int64) (map[string]any, error) {
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	return documentPayload(doc), nil
}

func (s *Service) CreateDocument(ctx context.Context, session Session, input DocumentInput) (map[string]any, error) {
	if err := requireAuth(session.Auth); err != nil {
		return nil, err
	}
	if err := s.validateDocument(input); err != nil {
		return nil, err
	}
	doc, err := s.store.InsertDocument(ctx, store.Document{
		UserID: session.UserID,
		Title:  strings.TrimSpace(input.Title),
		Text:   input.Text,
		NPA:    input.NPA,
	})
	if err != nil {
		return nil, err
	}
	doc.Username = session.UserName
	s.log.Info("document created", "document_id", doc.ID, "user_id", session.UserID)
	return documentPayload(doc), nil
}

// UpdateDocument replaces title, text and NPA. The store drops the
// document's annotations when the normalised text changes.
func (s *Service) UpdateDocument(ctx context.Context, session Session, documentID int64, input DocumentInput) (map[string]any, error) {
	if err := requireAuth(session.Auth); err != nil {
		return nil, err
	}
	if err := s.validateDocument(input); err != nil {
		return nil, err
	}
	doc, err := s.store.UpdateDocument(ctx, documentID, strings.TrimSpace(input.Title), input.Text, input.NPA)
	if err != nil {
		return nil, err
	}
	return documentPayload(doc), nil
}

func (s *Service) DeleteDocument(ctx context.Context, session Session, documentID int64) error {
	if err := requireAuth(session.Auth); err != nil {
		return err
	}
	if err := s.store.DeleteDocument(ctx, documentID); err != nil {
		return err
	}
	s.log.Info("document deleted", "document_id", documentID, "user_id", session.UserID)
	return nil
}

// CopyDocument stores a fresh, unclassified copy of a document's text owned
// by the caller.
func (s *Service) CopyDocument(ctx context.Context, session Session, documentID int64) (map[string]any, error) {
	if err := requireAuth(session.Auth); err != nil {
		return nil, err
	}
	source, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	doc, err := s.store.InsertDocument(ctx, store.Document{
		UserID: session.UserID,
		Title:  source.Title + " (копия)",
		Text:   source.Text,
		NPA:    source.NPA,
	})
	if err != nil {
		return nil, err
	}
	doc.Username = session.UserName
	return documentPayload(doc), nil
}

func (s *Service) GetClassifier(ctx context.Context, documentID int64) (map[string]any, error) {
	classifier, err := s.store.GetClassifier(ctx, documentID)
	if err != nil {
		return nil, err
	}
	return classifierPayload(classifier), nil
}

// PatchClassifier applies several classifier fields at once. The budget is
// judged on the combined result.
func (s *Service) PatchClassifier(ctx context.Context, session Session, documentID int64, fields map[string]any) (map[string]any, error) {
	if err := requireAuth(session.Auth); err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var patch store.ClassifierPatch
	for _, key := range keys {
		if key == "dominant_justification" {
			continue
		}
		next, err := store.ParseClassifierField(key, fields[key])
		if err != nil {
			return nil, withField(err, key)
		}
		if next.Points != nil {
			if patch.Points == nil {
				patch.Points = map[norm.Justification]int{}
			}
			for category, value := range next.Points {
				patch.Points[category] = value
			}
		}
		if next.LawType != nil {
			patch.LawType = next.LawType
		}
		if next.NPA != nil {
			if !s.knownNPA(*next.NPA) {
				return nil, validationError("Unknown NPA", map[string]string{"NPA": *next.NPA})
			}
			patch.NPA = next.NPA
		}
	}

	classifier, err := s.store.UpdateClassifier(ctx, documentID, patch)
	if err != nil {
		return nil, err
	}
	return classifierPayload(classifier), nil
}

func withField(err error, field string) error {
	status, code, message, _ := mapError(err)
	return domainError(status, code, message, map[string]string{"field": field})
}

// SetPoints moves one justification category through the budget tracker.
func (s *Service) SetPoints(ctx context.Context, session Session, documentID int64, category string, value int) (map[string]any, error) {
	classifier, err := s.store.GetClassifier(ctx, documentID)
	if err != nil {
		return nil, err
	}
	tracker := budget.NewTracker(documentID, classifier.Points, session.Auth, s.store, s.log)
	if tracker.ReadOnly() {
		return nil, errAuthRequired
	}
	parsed, err := norm.ParseCategory(category)
	if err != nil {
		return nil, err
	}
	if value < 0 || value > budget.Max {
		return nil, store.ErrInvalidPoints
	}

	outcome, err := tracker.Set(ctx, parsed, value)
	if err != nil {
		return nil, err
	}
	points := tracker.Points()
	payload := map[string]any{
		"outcome":                outcome,
		"points":                 pointsPayload(points),
		"remaining":              tracker.Remaining(),
		"dominant_justification": points.Dominant(),
	}
	if outcome == budget.Rejected {
		payload["notice"] = workflow.Notice{
			Kind:        workflow.NoticeError,
			Title:       "Баллы не сохранены",
			Description: "Сумма баллов не может превышать 10.",
		}
	}
	return payload, nil
}

func pointsPayload(points budget.Points) map[string]int {
	out := make(map[string]int, len(norm.Categories()))
	for _, category := range norm.Categories() {
		out[string(category)] = points[category]
	}
	return out
}

func (s *Service) StatusOptions(ctx context.Context, session Session, documentID int64) (map[string]any, error) {
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"status":  doc.Status,
		"label":   doc.Status.Label(),
		"options": workflow.Options(doc.Status, session.Auth),
	}, nil
}

// UpdateStatus checks the caller's permission against the stored status and
// writes the new one.
func (s *Service) UpdateStatus(ctx context.Context, session Session, documentID int64, value string) (map[string]any, error) {
	if err := requireAuth(session.Auth); err != nil {
		return nil, err
	}
	target, err := norm.ParseStatus(value)
	if err != nil {
		return nil, domainError(http.StatusBadRequest, "INVALID_STATUS", "Invalid status", nil)
	}
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}

	flow := workflow.New(documentID, doc.Status, session.Auth, s.store, s.log)
	notice, err := flow.Select(ctx, target)
	if err != nil {
		if persist.IsFailed(err) {
			return nil, domainError(http.StatusServiceUnavailable, "PERSISTENCE_FAILED", notice.Description, map[string]any{"notice": notice})
		}
		return nil, err
	}
	return map[string]any{
		"message": "Document status updated successfully",
		"status":  flow.Status(),
		"notice":  notice,
		"options": flow.Options(),
	}, nil
}

func (s *Service) engineFor(ctx context.Context, documentID int64) (*annosync.Engine, error) {
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	return annosync.New(annosync.Document{ID: doc.ID, Text: doc.Text}, s.store, s.log), nil
}

// AnnotationList returns the stored toolkit objects of a document.
func (s *Service) AnnotationList(ctx context.Context, documentID int64) ([]json.RawMessage, error) {
	engine, err := s.engineFor(ctx, documentID)
	if err != nil {
		return nil, err
	}
	return engine.Load(ctx)
}

func (s *Service) GetAnnotation(ctx context.Context, id string) (persist.AnnotationRecord, error) {
	return s.store.GetAnnotation(ctx, annotation.StripID(id))
}

// AnnotationInput is the flat REST shape. Only Document, ID and JSONData are
// read; the typed columns are always derived from the toolkit object.
type AnnotationInput struct {
	ID       string          `json:"id"`
	Document int64           `json:"document"`
	JSONData json.RawMessage `json:"json_data"`
}

func (in AnnotationInput) annotation(id string) (annotation.Annotation, error) {
	a, err := annotation.Parse(in.JSONData)
	if err != nil {
		return annotation.Annotation{}, err
	}
	switch {
	case id != "":
	case a.ID != "":
		id = a.ID
	case in.ID != "":
		id = in.ID
	default:
		id = uuid.NewString()
	}
	if err := a.SetID(annotation.StripID(id)); err != nil {
		return annotation.Annotation{}, err
	}
	return a, nil
}

func (s *Service) CreateAnnotation(ctx context.Context, session Session, input AnnotationInput) (persist.AnnotationRecord, error) {
	if err := requireAuth(session.Auth); err != nil {
		return persist.AnnotationRecord{}, err
	}
	a, err := input.annotation("")
	if err != nil {
		return persist.AnnotationRecord{}, err
	}
	engine, err := s.engineFor(ctx, input.Document)
	if err != nil {
		return persist.AnnotationRecord{}, err
	}
	var id string
	if err := engine.OnCreate(ctx, a, func(override string) { id = override }); err != nil {
		return persist.AnnotationRecord{}, err
	}
	return s.store.GetAnnotation(ctx, id)
}

func (s *Service) UpdateAnnotation(ctx context.Context, session Session, id string, input AnnotationInput) (persist.AnnotationRecord, error) {
	if err := requireAuth(session.Auth); err != nil {
		return persist.AnnotationRecord{}, err
	}
	current, err := s.store.GetAnnotation(ctx, annotation.StripID(id))
	if err != nil {
		return persist.AnnotationRecord{}, err
	}
	a, err := input.annotation(current.ID)
	if err != nil {
		return persist.AnnotationRecord{}, err
	}
	engine, err := s.engineFor(ctx, current.DocumentID)
	if err != nil {
		return persist.AnnotationRecord{}, err
	}
	if err := engine.OnUpdate(ctx, a); err != nil {
		return persist.AnnotationRecord{}, err
	}
	return s.store.GetAnnotation(ctx, current.ID)
}

func (s *Service) DeleteAnnotation(ctx context.Context, session Session, id string) error {
	if err := requireAuth(session.Auth); err != nil {
		return err
	}
	current, err := s.store.GetAnnotation(ctx, annotation.StripID(id))
	if err != nil {
		return err
	}
	engine, err := s.engineFor(ctx, current.DocumentID)
	if err != nil {
		return err
	}
	return engine.OnDelete(ctx, annotation.Annotation{ID: current.ID})
}

// HandleEvent forwards one toolkit lifecycle event to the document's sync
// engine.
func (s *Service) HandleEvent(ctx context.Context, session Session, documentID int64, event annosync.Event) (annosync.Outcome, error) {
	if err := requireAuth(session.Auth); err != nil {
		return annosync.Outcome{}, err
	}
	engine, err := s.engineFor(ctx, documentID)
	if err != nil {
		return annosync.Outcome{}, err
	}
	return engine.Handle(ctx, event)
}

func (s *Service) loadAnnotation(ctx context.Context, id string) (persist.AnnotationRecord, annotation.Annotation, error) {
	record, err := s.store.GetAnnotation(ctx, annotation.StripID(id))
	if err != nil {
		return persist.AnnotationRecord{}, annotation.Annotation{}, err
	}
	a, err := annotation.Parse(record.Raw)
	if err != nil {
		return persist.AnnotationRecord{}, annotation.Annotation{}, err
	}
	return record, a, nil
}

// AnnotationControl renders the classification pickers for an annotation.
func (s *Service) AnnotationControl(ctx context.Context, session Session, id string) (map[string]any, error) {
	_, a, err := s.loadAnnotation(ctx, id)
	if err != nil {
		return nil, err
	}
	control := widget.New(&a, session.Auth, nil)
	return map[string]any{
		"control": control.Render(),
		"display": annotation.Format(a),
	}, nil
}

// SelectClassification applies a picker change: the classifying body is
// upserted with both values and the annotation goes through the sync
// engine's update path.
func (s *Service) SelectClassification(ctx context.Context, session Session, id, field, value string) (map[string]any, error) {
	record, a, err := s.loadAnnotation(ctx, id)
	if err != nil {
		return nil, err
	}
	engine, err := s.engineFor(ctx, record.DocumentID)
	if err != nil {
		return nil, err
	}
	control := widget.New(&a, session.Auth, func(c annotation.Classification) error {
		if err := a.UpsertClassification(c); err != nil {
			return err
		}
		return engine.OnUpdate(ctx, a)
	})
	if control.ReadOnly() {
		return nil, errAuthRequired
	}
	if err := control.Select(field, value); err != nil {
		return nil, err
	}
	return map[string]any{
		"control": control.Render(),
		"display": annotation.Format(a),
		"value":   control.Value(),
	}, nil
}

func (s *Service) ExportAll(ctx context.Context) ([]export.Document, error) {
	return s.exports.Snapshot(ctx)
}

func (s *Service) ArchiveExport(ctx context.Context, session Session) (export.Result, error) {
	if err := requireAuth(session.Auth); err != nil {
		return export.Result{}, err
	}
	return s.exports.Archive(ctx)
}

func (s *Service) Generate(ctx context.Context, session Session, req autoclass.Request) (autoclass.Result, error) {
	if err := requireAuth(session.Auth); err != nil {
		return autoclass.Result{}, err
	}
	if strings.TrimSpace(req.Title) == "" || strings.TrimSpace(req.Text) == "" {
		return autoclass.Result{}, validationError("title and text are required", nil)
	}
	if req.NPA != "" && !s.knownNPA(req.NPA) {
		return autoclass.Result{}, validationError("Unknown NPA", map[string]string{"NPA": req.NPA})
	}
	return s.generator.Run(ctx, session.Auth, req)
}
