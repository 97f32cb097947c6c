// Package apiclient talks to a running annotation service over its REST API.
// It implements the persist collaborator interfaces so the classification
// generator can write to a remote deployment exactly as it writes locally.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"normative/api/internal/annotation"
	"normative/api/internal/logger"
	"normative/api/internal/norm"
	"normative/api/internal/persist"
	"normative/api/internal/rbac"
)

const maxResponseBytes = 8 << 20

var ErrNotSignedIn = errors.New("api client is not signed in")

// APIError is a non-2xx answer from the service.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"error"`
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("api returned %d", e.Status)
	}
	return fmt.Sprintf("api returned %d %s: %s", e.Status, e.Code, e.Message)
}

type Client struct {
	baseURL    string
	httpClient *http.Client
	log        *logger.Logger

	mu       sync.Mutex
	username string
	password string
	access   string
	refresh  string
}

func New(baseURL string, timeout time.Duration, log *logger.Logger) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		log:        logger.OrNop(log),
	}
}

// Login signs in and keeps the credentials so an expired session can be
// re-established without the caller noticing.
func (c *Client) Login(ctx context.Context, username, password string) error {
	var tokens tokenPair
	if err := c.send(ctx, http.MethodPost, "/api/login/", "", map[string]string{
		"username": username,
		"password": password,
	}, &tokens); err != nil {
		return fmt.Errorf("login: %w", err)
	}
	c.mu.Lock()
	c.username, c.password = username, password
	c.access, c.refresh = tokens.Access, tokens.Refresh
	c.mu.Unlock()
	return nil
}

type tokenPair struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

// Me builds the caller's auth context from the service's view of the user.
func (c *Client) Me(ctx context.Context) (rbac.AuthContext, error) {
	var me struct {
		ID          string   `json:"id"`
		Username    string   `json:"username"`
		Permissions []string `json:"permissions"`
		IsStaff     bool     `json:"is_staff"`
		IsSuperuser bool     `json:"is_superuser"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/me/", nil, &me); err != nil {
		return rbac.AuthContext{}, err
	}
	return rbac.NewAuthContext(me.ID, me.Username, me.Permissions, me.IsStaff, me.IsSuperuser), nil
}

func (c *Client) CreateDocument(ctx context.Context, doc persist.NewDocument) (persist.CreatedDocument, error) {
	var created persist.CreatedDocument
	if err := c.do(ctx, http.MethodPost, "/api/documents/", doc, &created); err != nil {
		return persist.CreatedDocument{}, err
	}
	return created, nil
}

// ListAnnotations returns the stored toolkit objects of a document. This
// route only carries the raw objects, so the typed fields stay empty.
func (c *Client) ListAnnotations(ctx context.Context, documentID int64) ([]persist.AnnotationRecord, error) {
	var items []json.RawMessage
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/annotations_list/%d/", documentID), nil, &items); err != nil {
		return nil, err
	}
	records := make([]persist.AnnotationRecord, 0, len(items))
	for _, raw := range items {
		var head struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(raw, &head); err != nil {
			return nil, fmt.Errorf("decode annotation: %w", err)
		}
		records = append(records, persist.AnnotationRecord{
			ID:         annotation.StripID(head.ID),
			DocumentID: documentID,
			Raw:        raw,
		})
	}
	return records, nil
}

type annotationBody struct {
	ID       string          `json:"id,omitempty"`
	Document int64           `json:"document,omitempty"`
	JSONData json.RawMessage `json:"json_data"`
}

func (c *Client) CreateAnnotation(ctx context.Context, record persist.AnnotationRecord) error {
	return c.do(ctx, http.MethodPost, "/api/annotations/", annotationBody{
		ID:       record.ID,
		Document: record.DocumentID,
		JSONData: record.Raw,
	}, nil)
}

func (c *Client) UpdateAnnotation(ctx context.Context, record persist.AnnotationRecord) error {
	return c.do(ctx, http.MethodPut, "/api/annotations/"+record.ID+"/", annotationBody{JSONData: record.Raw}, nil)
}

// DeleteAnnotation goes through the document's event route so the service
// only removes an annotation that document owns.
func (c *Client) DeleteAnnotation(ctx context.Context, documentID int64, id string) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/api/documents/%d/events/", documentID), map[string]any{
		"event":      "deleteAnnotation",
		"annotation": map[string]string{"id": id},
	}, nil)
}

func (c *Client) PatchClassifier(ctx context.Context, documentID int64, field string, value any) error {
	return c.do(ctx, http.MethodPatch, fmt.Sprintf("/api/classifiers/%d/", documentID), map[string]any{field: value}, nil)
}

func (c *Client) PatchStatus(ctx context.Context, documentID int64, status norm.Status) error {
	return c.do(ctx, http.MethodPatch, fmt.Sprintf("/api/update_status/%d/", documentID), map[string]string{"status": string(status)}, nil)
}

// do sends an authenticated request. A 401 triggers one token refresh, or a
// fresh login when the refresh token is also gone, and a single retry.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	c.mu.Lock()
	access := c.access
	c.mu.Unlock()
	if access == "" {
		return ErrNotSignedIn
	}

	err := c.send(ctx, method, path, access, body, out)
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusUnauthorized {
		return err
	}

	c.log.Debug("access token rejected, renewing", "path", path)
	access, err = c.renew(ctx)
	if err != nil {
		return err
	}
	return c.send(ctx, method, path, access, body, out)
}

func (c *Client) renew(ctx context.Context) (string, error) {
	c.mu.Lock()
	refresh, username, password := c.refresh, c.username, c.password
	c.mu.Unlock()

	var tokens tokenPair
	err := c.send(ctx, http.MethodPost, "/api/token/refresh/", "", map[string]string{"refresh": refresh}, &tokens)
	if err != nil {
		c.log.Warn("token refresh failed, signing in again", "error", err)
		if err := c.Login(ctx, username, password); err != nil {
			return "", err
		}
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.access, nil
	}

	c.mu.Lock()
	c.access, c.refresh = tokens.Access, tokens.Refresh
	c.mu.Unlock()
	return tokens.Access, nil
}

func (c *Client) send(ctx context.Context, method, path, token string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		_ = json.Unmarshal(payload, apiErr)
		return apiErr
	}
	if out == nil || len(payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
