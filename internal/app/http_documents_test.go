package app

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	"normative/api/internal/autoclass"
	"normative/api/internal/budget"
	"normative/api/internal/norm"
	"normative/api/internal/store"
)

func TestAnonymousCanReadButNotWrite(t *testing.T) {
	fs := newFakeStore()
	doc := fs.addDocument(t, store.Document{Title: "Статья 1", Text: "Запрещается курение"})
	handler := NewHTTPServer(newTestService(fs), "*", nil).Handler()

	rr := doRequest(t, handler, http.MethodGet, "/api/documents/1/", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	payload := decodeObject(t, rr)
	if payload["title"] != doc.Title || payload["NPA"] != store.DefaultNPA {
		t.Fatalf("unexpected document payload: %v", payload)
	}
	if payload["AUTH_points"] != float64(0) || payload["dominant_justification"] != "UNCHECKED" {
		t.Fatalf("expected empty profile, got %v", payload)
	}

	rr = doRequest(t, handler, http.MethodPost, "/api/documents/", "", map[string]string{"title": "x", "text": "y"})
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401 for anonymous create, got %d", rr.Code)
	}

	rr = doRequest(t, handler, http.MethodPatch, "/api/classifiers/1/", "", map[string]any{"AUTH_points": 2})
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401 for anonymous classifier patch, got %d", rr.Code)
	}
}

func TestCreateDocumentNormalisesText(t *testing.T) {
	fs := newFakeStore()
	fs.addUser(t, "marker", "correct-horse", nil, false)
	handler := NewHTTPServer(newTestService(fs), "*", nil).Handler()
	access, _ := signIn(t, handler, "marker", "correct-horse")

	rr := doRequest(t, handler, http.MethodPost, "/api/documents/", access, map[string]string{
		"title": "  Статья 2 ",
		"text":  "  Первая часть\r\n\r\nВторая часть  ",
		"NPA":   "UK",
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d body=%s", rr.Code, rr.Body.String())
	}
	payload := decodeObject(t, rr)
	if payload["text"] != "Первая часть\nВторая часть" {
		t.Fatalf("expected normalised text, got %q", payload["text"])
	}
	if payload["title"] != "Статья 2" || payload["username"] != "marker" {
		t.Fatalf("unexpected payload: %v", payload)
	}
	if payload["status"] != string(norm.StatusUnmarked) {
		t.Fatalf("expected UNMARKED, got %v", payload["status"])
	}
}

func TestCreateDocumentValidation(t *testing.T) {
	fs := newFakeStore()
	fs.addUser(t, "marker", "correct-horse", nil, false)
	handler := NewHTTPServer(newTestService(fs), "*", nil).Handler()
	access, _ := signIn(t, handler, "marker", "correct-horse")

	rr := doRequest(t, handler, http.MethodPost, "/api/documents/", access, map[string]string{
		"title": " ",
		"text":  "текст",
		"NPA":   "GK",
	})
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected status 422, got %d", rr.Code)
	}
	details, _ := decodeObject(t, rr)["details"].(map[string]any)
	if details["title"] != "required" || details["NPA"] != "unknown value" {
		t.Fatalf("expected title and NPA details, got %v", details)
	}
	if len(fs.documents) != 0 {
		t.Fatalf("expected nothing stored")
	}
}

func TestUpdateDocumentDropsAnnotationsWhenTextChanges(t *testing.T) {
	fs := newFakeStore()
	fs.addUser(t, "marker", "correct-horse", nil, false)
	fs.addDocument(t, store.Document{Title: "Статья 3", Text: annotatedText})
	handler := NewHTTPServer(newTestService(fs), "*", nil).Handler()
	access, _ := signIn(t, handler, "marker", "correct-horse")
	createAnnotationEvent(t, handler, access, 1, banAnnotation)

	rr := doRequest(t, handler, http.MethodPut, "/api/documents/1/", access, map[string]string{
		"title": "Статья 3",
		"text":  annotatedText,
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if len(fs.annotations) != 1 {
		t.Fatalf("expected annotation kept for unchanged text, got %d", len(fs.annotations))
	}

	rr = doRequest(t, handler, http.MethodPut, "/api/documents/1/", access, map[string]string{
		"title": "Статья 3",
		"text":  "Новый текст",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if len(fs.annotations) != 0 {
		t.Fatalf("expected annotations dropped, got %d", len(fs.annotations))
	}
}

func TestCopyAndDeleteDocument(t *testing.T) {
	fs := newFakeStore()
	owner := fs.addUser(t, "owner", "correct-horse", nil, false)
	fs.addUser(t, "marker", "correct-horse", nil, false)
	fs.addDocument(t, store.Document{UserID: owner.ID, Title: "Статья 4", Text: "текст", NPA: "UK"})
	handler := NewHTTPServer(newTestService(fs), "*", nil).Handler()
	access, _ := signIn(t, handler, "marker", "correct-horse")

	rr := doRequest(t, handler, http.MethodPost, "/api/documents/1/copy/", access, nil)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d body=%s", rr.Code, rr.Body.String())
	}
	payload := decodeObject(t, rr)
	if payload["title"] != "Статья 4 (копия)" || payload["username"] != "marker" || payload["NPA"] != "UK" {
		t.Fatalf("unexpected copy: %v", payload)
	}

	rr = doRequest(t, handler, http.MethodDelete, "/api/documents/1/", access, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	rr = doRequest(t, handler, http.MethodGet, "/api/documents/1/", access, nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404 after delete, got %d", rr.Code)
	}
}

func TestPatchClassifierEnforcesBudget(t *testing.T) {
	fs := newFakeStore()
	fs.addUser(t, "marker", "correct-horse", nil, false)
	fs.addDocument(t, store.Document{Title: "Статья 5", Text: "текст"})
	handler := NewHTTPServer(newTestService(fs), "*", nil).Handler()
	access, _ := signIn(t, handler, "marker", "correct-horse")

	rr := doRequest(t, handler, http.MethodPatch, "/api/classifiers/1/", access, map[string]any{
		"AUTH_points": 6,
		"PUR_points":  5,
	})
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected status 422, got %d", rr.Code)
	}
	if code := decodeObject(t, rr)["code"]; code != "BUDGET_EXCEEDED" {
		t.Fatalf("expected BUDGET_EXCEEDED, got %v", code)
	}
	if total := fs.documents[1].Points.Total(); total != 0 {
		t.Fatalf("expected profile untouched, got total %d", total)
	}

	rr = doRequest(t, handler, http.MethodPatch, "/api/classifiers/1/", access, map[string]any{
		"AUTH_points":            6,
		"PUR_points":             4,
		"law_type":               "BAN",
		"dominant_justification": "CARE",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	payload := decodeObject(t, rr)
	if payload["dominant_justification"] != "AUTH" {
		t.Fatalf("expected dominant AUTH to be derived, got %v", payload["dominant_justification"])
	}
	if payload["law_type"] != "BAN" || payload["PUR_points"] != float64(4) {
		t.Fatalf("unexpected classifier: %v", payload)
	}
}

func TestPatchClassifierUnknownField(t *testing.T) {
	fs := newFakeStore()
	fs.addUser(t, "marker", "correct-horse", nil, false)
	fs.addDocument(t, store.Document{Title: "Статья 6", Text: "текст"})
	handler := NewHTTPServer(newTestService(fs), "*", nil).Handler()
	access, _ := signIn(t, handler, "marker", "correct-horse")

	rr := doRequest(t, handler, http.MethodPatch, "/api/classifiers/1", access, map[string]any{"MAGIC_points": 1})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
	details, _ := decodeObject(t, rr)["details"].(map[string]any)
	if details["field"] != "MAGIC_points" {
		t.Fatalf("expected the field to be named, got %v", details)
	}
}

func TestSetPointsRejectsOverBudget(t *testing.T) {
	fs := newFakeStore()
	fs.addUser(t, "marker", "correct-horse", nil, false)
	fs.addDocument(t, store.Document{
		Title:  "Статья 7",
		Text:   "текст",
		Points: budget.Points{norm.JustificationAuth: 8},
	})
	handler := NewHTTPServer(newTestService(fs), "*", nil).Handler()
	access, _ := signIn(t, handler, "marker", "correct-horse")

	rr := doRequest(t, handler, http.MethodPost, "/api/documents/1/points/", access, map[string]any{"category": "PUR", "value": 3})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	payload := decodeObject(t, rr)
	if payload["outcome"] != string(budget.Rejected) {
		t.Fatalf("expected rejected outcome, got %v", payload["outcome"])
	}
	if _, ok := payload["notice"]; !ok {
		t.Fatalf("expected an error notice")
	}
	if fs.documents[1].Points[norm.JustificationPur] != 0 {
		t.Fatalf("expected PUR untouched")
	}

	rr = doRequest(t, handler, http.MethodPost, "/api/documents/1/points/", access, map[string]any{"category": "PUR", "value": 2})
	payload = decodeObject(t, rr)
	if payload["outcome"] != string(budget.Accepted) || payload["remaining"] != float64(0) {
		t.Fatalf("expected accepted with nothing remaining, got %v", payload)
	}
	if fs.documents[1].Points[norm.JustificationPur] != 2 {
		t.Fatalf("expected PUR stored")
	}
}

func TestUpdateStatusChecksPermissions(t *testing.T) {
	fs := newFakeStore()
	fs.addUser(t, "reader", "correct-horse", nil, false)
	fs.addUser(t, "marker", "correct-horse", []string{"can_mark_as_marked"}, false)
	fs.addDocument(t, store.Document{Title: "Статья 8", Text: "текст"})
	handler := NewHTTPServer(newTestService(fs), "*", nil).Handler()

	reader, _ := signIn(t, handler, "reader", "correct-horse")
	rr := doRequest(t, handler, http.MethodPatch, "/api/update_status/1/", reader, map[string]string{"status": "MARKED"})
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected status 403, got %d", rr.Code)
	}

	marker, _ := signIn(t, handler, "marker", "correct-horse")
	rr = doRequest(t, handler, http.MethodPatch, "/api/update_status/1/", marker, map[string]string{"status": "SHIPPED"})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}

	rr = doRequest(t, handler, http.MethodPatch, "/api/update_status/1/", marker, map[string]string{"status": "MARKED"})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	payload := decodeObject(t, rr)
	notice, _ := payload["notice"].(map[string]any)
	if payload["status"] != "MARKED" || notice["status"] != "success" {
		t.Fatalf("unexpected payload: %v", payload)
	}
	if fs.documents[1].Status != norm.StatusMarked {
		t.Fatalf("expected MARKED stored, got %s", fs.documents[1].Status)
	}
}

func TestUpdateStatusReportsPersistenceFailure(t *testing.T) {
	fs := newFakeStore()
	fs.addUser(t, "marker", "correct-horse", []string{"can_mark_as_marked"}, false)
	fs.addDocument(t, store.Document{Title: "Статья 9", Text: "текст"})
	fs.patchStatusFn = func(context.Context, int64, norm.Status) error {
		return errors.New("connection reset")
	}
	handler := NewHTTPServer(newTestService(fs), "*", nil).Handler()
	access, _ := signIn(t, handler, "marker", "correct-horse")

	rr := doRequest(t, handler, http.MethodPatch, "/api/update_status/1/", access, map[string]string{"status": "MARKED"})
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}
	payload := decodeObject(t, rr)
	details, _ := payload["details"].(map[string]any)
	notice, _ := details["notice"].(map[string]any)
	if notice["status"] != "error" || notice["title"] == "" {
		t.Fatalf("expected an error notice, got %v", payload)
	}
	if fs.documents[1].Status != norm.StatusUnmarked {
		t.Fatalf("expected status unchanged")
	}
}

func TestStatusOptionsFollowCaller(t *testing.T) {
	fs := newFakeStore()
	fs.addUser(t, "checker", "correct-horse", []string{"can_mark_as_checked"}, false)
	fs.addDocument(t, store.Document{Title: "Статья 10", Text: "текст", Status: norm.StatusMarked})
	handler := NewHTTPServer(newTestService(fs), "*", nil).Handler()
	access, _ := signIn(t, handler, "checker", "correct-horse")

	rr := doRequest(t, handler, http.MethodGet, "/api/documents/1/status-options/", access, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	options, _ := decodeObject(t, rr)["options"].([]any)
	enabled := map[string]bool{}
	for _, item := range options {
		option := item.(map[string]any)
		enabled[option["value"].(string)] = option["enabled"].(bool)
	}
	if !enabled["CHECKED"] || enabled["MARKED"] {
		t.Fatalf("expected checker to reach CHECKED only, got %v", enabled)
	}
}

func TestExportAllSkipsGenerated(t *testing.T) {
	fs := newFakeStore()
	fs.addDocument(t, store.Document{Title: "размечено", Text: "текст", Status: norm.StatusMarked})
	fs.addDocument(t, store.Document{Title: "модель", Text: "текст", Status: norm.StatusGenerated})
	handler := NewHTTPServer(newTestService(fs), "*", nil).Handler()

	rr := doRequest(t, handler, http.MethodGet, "/api/export_all/", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if body := rr.Body.String(); !containsAll(body, `"title":"размечено"`, `"AUTH_points":0`) || containsAll(body, `"модель"`) {
		t.Fatalf("unexpected export: %s", body)
	}
}

func TestArchiveWithoutBucket(t *testing.T) {
	fs := newFakeStore()
	fs.addUser(t, "marker", "correct-horse", nil, false)
	handler := NewHTTPServer(newTestService(fs), "*", nil).Handler()
	access, _ := signIn(t, handler, "marker", "correct-horse")

	rr := doRequest(t, handler, http.MethodPost, "/api/export_all/archive", access, nil)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}
}

func containsAll(body string, parts ...string) bool {
	for _, part := range parts {
		if !strings.Contains(body, part) {
			return false
		}
	}
	return true
}

type stubModel struct {
	norms []autoclass.Norm
}

func (m stubModel) Classify(context.Context, string) ([]autoclass.Norm, error) {
	return m.norms, nil
}

func TestGenerateStoresDocuments(t *testing.T) {
	fs := newFakeStore()
	fs.addUser(t, "marker", "correct-horse", []string{"can_mark_as_marked"}, false)
	svc := newTestService(fs)
	handler := NewHTTPServer(svc, "*", nil).Handler()
	access, _ := signIn(t, handler, "marker", "correct-horse")

	rr := doRequest(t, handler, http.MethodPost, "/api/generate/", access, map[string]string{"title": "Статья 11", "text": "Запрещается курение"})
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503 without a model, got %d", rr.Code)
	}

	svc.UseModel(stubModel{norms: []autoclass.Norm{{Paragraph: "Запрещается курение"}}})
	rr = doRequest(t, handler, http.MethodPost, "/api/generate/", access, map[string]string{"title": "Статья 11", "text": "Запрещается курение", "NPA": "KOAP"})
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d body=%s", rr.Code, rr.Body.String())
	}
	if len(fs.documents) != 1 {
		t.Fatalf("expected one generated document, got %d", len(fs.documents))
	}
	doc := fs.documents[1]
	if doc.Status != norm.StatusGenerated || doc.NPA != "KOAP" {
		t.Fatalf("unexpected generated document: %+v", doc)
	}
}
