package apiclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"normative/api/internal/norm"
	"normative/api/internal/persist"
	"normative/api/internal/rbac"
)

type fakeAPI struct {
	mu        sync.Mutex
	logins    int
	refreshes int
	valid     string
	requests  []string
	bodies    map[string]map[string]any
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := r.Method + " " + r.URL.Path
	f.requests = append(f.requests, key)
	var body map[string]any
	_ = json.NewDecoder(r.Body).Decode(&body)
	if f.bodies == nil {
		f.bodies = map[string]map[string]any{}
	}
	f.bodies[key] = body

	switch key {
	case "POST /api/login/":
		if body["password"] != "correct-horse" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"code":"INVALID_CREDENTIALS","error":"Invalid credentials"}`))
			return
		}
		f.logins++
		f.valid = "access-login"
		_, _ = w.Write([]byte(`{"access":"access-login","refresh":"refresh-1"}`))
		return
	case "POST /api/token/refresh/":
		if body["refresh"] != "refresh-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		f.refreshes++
		f.valid = "access-refreshed"
		_, _ = w.Write([]byte(`{"access":"access-refreshed","refresh":"refresh-2"}`))
		return
	}

	if r.Header.Get("Authorization") != "Bearer "+f.valid {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"code":"UNAUTHORIZED","error":"Unauthorized"}`))
		return
	}

	switch key {
	case "GET /api/me/":
		_, _ = w.Write([]byte(`{"id":"7","username":"marker","permissions":["can_mark_as_marked"],"is_staff":false,"is_superuser":false}`))
	case "POST /api/documents/":
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":42,"text":"Запрещается курение","title":"t","NPA":"UK"}`))
	case "GET /api/annotations_list/42/":
		_, _ = w.Write([]byte(`[{"id":"c0ffee","body":[{"purpose":"classifying","value":{"type":"BAN","justification":"CARE"}}],
			"target":{"selector":[{"type":"TextQuoteSelector","exact":"Запрещается"},{"type":"TextPositionSelector","start":0,"end":11}]}}]`))
	case "PATCH /api/update_status/42/":
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"code":"FORBIDDEN","error":"no"}`))
	default:
		_, _ = w.Write([]byte(`{}`))
	}
}

func (f *fakeAPI) expire() {
	f.mu.Lock()
	f.valid = "something-else"
	f.mu.Unlock()
}

func signedIn(t *testing.T, api *fakeAPI) *Client {
	t.Helper()
	server := httptest.NewServer(api)
	t.Cleanup(server.Close)
	client := New(server.URL+"/", time.Second, nil)
	require.NoError(t, client.Login(context.Background(), "marker", "correct-horse"))
	return client
}

func TestLoginFailure(t *testing.T) {
	server := httptest.NewServer(&fakeAPI{})
	defer server.Close()

	err := New(server.URL, time.Second, nil).Login(context.Background(), "marker", "wrong")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
	assert.Equal(t, "INVALID_CREDENTIALS", apiErr.Code)
}

func TestRequiresLogin(t *testing.T) {
	_, err := New("http://127.0.0.1:1", time.Second, nil).CreateDocument(context.Background(), persist.NewDocument{})
	assert.ErrorIs(t, err, ErrNotSignedIn)
}

func TestCreateDocumentAndMe(t *testing.T) {
	api := &fakeAPI{}
	client := signedIn(t, api)
	ctx := context.Background()

	created, err := client.CreateDocument(ctx, persist.NewDocument{Title: "t", Text: "Запрещается курение", NPA: "UK", UserID: "7"})
	require.NoError(t, err)
	assert.Equal(t, int64(42), created.ID)
	assert.Equal(t, "Запрещается курение", created.Text)
	_, hasUser := api.bodies["POST /api/documents/"]["UserID"]
	assert.False(t, hasUser)
	assert.Equal(t, "UK", api.bodies["POST /api/documents/"]["NPA"])

	ac, err := client.Me(ctx)
	require.NoError(t, err)
	assert.True(t, ac.IsAuthenticated())
	assert.True(t, ac.Has(rbac.CapMarkAsMarked))
	assert.False(t, ac.Has(rbac.CapMarkAsChecked))
}

func TestRefreshesOnUnauthorized(t *testing.T) {
	api := &fakeAPI{}
	client := signedIn(t, api)
	api.expire()

	require.NoError(t, client.PatchClassifier(context.Background(), 42, "AUTH_points", 3))
	assert.Equal(t, 1, api.refreshes)
	assert.Equal(t, 1, api.logins)
	assert.Equal(t, float64(3), api.bodies["PATCH /api/classifiers/42/"]["AUTH_points"])
}

func TestSignsInAgainWhenRefreshFails(t *testing.T) {
	api := &fakeAPI{}
	client := signedIn(t, api)
	client.refresh = "stale"
	api.expire()

	require.NoError(t, client.DeleteAnnotation(context.Background(), 42, "c0ffee"))
	assert.Equal(t, 2, api.logins)
	assert.Contains(t, api.requests, "POST /api/documents/42/events/")
	assert.Equal(t, "deleteAnnotation", api.bodies["POST /api/documents/42/events/"]["event"])
	assert.Equal(t, map[string]any{"id": "c0ffee"}, api.bodies["POST /api/documents/42/events/"]["annotation"])
}

func TestListAnnotationsKeepsToolkitObjects(t *testing.T) {
	client := signedIn(t, &fakeAPI{})

	records, err := client.ListAnnotations(context.Background(), 42)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "c0ffee", records[0].ID)
	assert.Equal(t, int64(42), records[0].DocumentID)
	assert.Contains(t, string(records[0].Raw), `"exact":"Запрещается"`)
	assert.Zero(t, records[0].End, "typed fields are not rebuilt from the toolkit object")
	assert.Empty(t, records[0].LawType)
}

func TestAnnotationWritesSendToolkitObject(t *testing.T) {
	api := &fakeAPI{}
	client := signedIn(t, api)
	raw := json.RawMessage(`{"id":"c0ffee","body":[]}`)

	require.NoError(t, client.CreateAnnotation(context.Background(), persist.AnnotationRecord{ID: "c0ffee", DocumentID: 42, Raw: raw}))
	body := api.bodies["POST /api/annotations/"]
	assert.Equal(t, "c0ffee", body["id"])
	assert.Equal(t, float64(42), body["document"])
	assert.Equal(t, map[string]any{"id": "c0ffee", "body": []any{}}, body["json_data"])

	require.NoError(t, client.UpdateAnnotation(context.Background(), persist.AnnotationRecord{ID: "c0ffee", Raw: raw}))
	assert.Contains(t, api.requests, "PUT /api/annotations/c0ffee/")
}

func TestStatusErrorIsReported(t *testing.T) {
	client := signedIn(t, &fakeAPI{})

	err := client.PatchStatus(context.Background(), 42, norm.StatusGenerated)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusForbidden, apiErr.Status)
	assert.Equal(t, "FORBIDDEN", apiErr.Code)
}
