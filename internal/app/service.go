package app

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"normative/api/internal/auth"
	"normative/api/internal/authpw"
	"normative/api/internal/autoclass"
	"normative/api/internal/config"
	"normative/api/internal/export"
	"normative/api/internal/logger"
	"normative/api/internal/norm"
	"normative/api/internal/persist"
	"normative/api/internal/rbac"
	"normative/api/internal/store"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	JTI          string
	ExpiresAt    time.Time
	Auth         rbac.AuthContext
}

type dataStore interface {
	Ping(ctx context.Context) error

	GetUserByUsername(context.Context, string) (store.User, error)
	GetUserByID(context.Context, string) (store.User, error)
	CreateUser(context.Context, store.User) (store.User, error)
	RevokeAccessToken(context.Context, string, time.Time) error
	IsAccessTokenRevoked(context.Context, string) (bool, error)

	ListDocuments(context.Context) ([]store.Document, error)
	GetDocument(context.Context, int64) (store.Document, error)
	InsertDocument(context.Context, store.Document) (store.Document, error)
	CreateDocument(context.Context, persist.NewDocument) (persist.CreatedDocument, error)
	UpdateDocument(context.Context, int64, string, string, string) (store.Document, error)
	DeleteDocument(context.Context, int64) error

	GetClassifier(context.Context, int64) (store.Classifier, error)
	UpdateClassifier(context.Context, int64, store.ClassifierPatch) (store.Classifier, error)
	PatchClassifier(context.Context, int64, string, any) error
	PatchStatus(context.Context, int64, norm.Status) error

	ListAnnotations(context.Context, int64) ([]persist.AnnotationRecord, error)
	GetAnnotation(context.Context, string) (persist.AnnotationRecord, error)
	CreateAnnotation(context.Context, persist.AnnotationRecord) error
	UpdateAnnotation(context.Context, persist.AnnotationRecord) error
	DeleteAnnotation(context.Context, int64, string) error

	ExportDocuments(context.Context) ([]store.ExportedDocument, error)
}

// SessionStore keeps refresh tokens. The Postgres store implements it; a
// Redis store can take its place.
type SessionStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (string, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
}

type Service struct {
	cfg       config.Config
	store     dataStore
	sessions  SessionStore
	passwords *authpw.Service
	exports   *export.Service
	generator *autoclass.Generator
	log       *logger.Logger
}

func New(cfg config.Config, dataStore *store.PostgresStore, log *logger.Logger) *Service {
	return newService(cfg, dataStore, dataStore, log)
}

func NewWithSessionStore(cfg config.Config, dataStore *store.PostgresStore, sessions SessionStore, log *logger.Logger) *Service {
	return newService(cfg, dataStore, sessions, log)
}

func newService(cfg config.Config, ds dataStore, sessions SessionStore, log *logger.Logger) *Service {
	log = logger.OrNop(log)
	return &Service{
		cfg:       cfg,
		store:     ds,
		sessions:  sessions,
		passwords: authpw.NewService(ds),
		exports:   export.NewService(ds, nil, log),
		generator: autoclass.NewGenerator(nil, ds, log),
		log:       log,
	}
}

// UseModel enables automated classification.
func (s *Service) UseModel(model autoclass.Model) {
	s.generator = autoclass.NewGenerator(model, s.store, s.log)
}

// UseArchiver enables dataset uploads.
func (s *Service) UseArchiver(archiver export.Archiver) {
	s.exports = export.NewService(s.store, archiver, s.log)
}

func (s *Service) Passwords() *authpw.Service {
	return s.passwords
}

func (s *Service) Login(ctx context.Context, username, password string) (Session, error) {
	user, err := s.passwords.SignIn(ctx, authpw.SignInRequest{Username: username, Password: password})
	if err != nil {
		return Session{}, err
	}
	s.log.Info("user signed in", "user_id", user.ID, "username", user.Username)
	return s.issueSession(ctx, user)
}

// Refresh rotates a refresh token: the presented one is revoked and a new
// pair is issued.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return Session{}, auth.ErrInvalidToken
	}
	tokenHash := auth.HashToken(refreshToken)
	userID, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := uuid.NewString()

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.NewClaims(user.ID, user.Username, jti, expiresAt))
	if err != nil {
		return Session{}, err
	}

	refresh := uuid.NewString() + uuid.NewString()
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, now.Add(s.cfg.RefreshTTL)); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.Username,
		JTI:          jti,
		ExpiresAt:    expiresAt,
		Auth:         authContext(user),
	}, nil
}

func authContext(user store.User) rbac.AuthContext {
	return rbac.NewAuthContext(user.ID, user.Username, user.Permissions, user.IsStaff, user.IsSuperuser)
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.store.IsAccessTokenRevoked(ctx, claims.ID)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	user, err := s.store.GetUserByID(ctx, claims.Subject)
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.Username,
		JTI:       claims.ID,
		ExpiresAt: claims.ExpiresAt.Time,
		Auth:      authContext(user),
	}, nil
}

func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	var errs []error
	if session.JTI != "" {
		errs = append(errs, s.store.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt))
	}
	if refreshToken != "" {
		errs = append(errs, s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken)))
	}
	if err := errors.Join(errs...); err != nil {
		s.log.Warn("logout incomplete", "user_id", session.UserID, "error", err)
	}
	return nil
}

// Me describes the signed-in user the way the web client expects it.
func (s *Service) Me(ctx context.Context, session Session) (map[string]any, error) {
	user, err := s.store.GetUserByID(ctx, session.UserID)
	if err != nil {
		return nil, err
	}
	permissions := user.Permissions
	if permissions == nil {
		permissions = []string{}
	}
	return map[string]any{
		"id":           user.ID,
		"username":     user.Username,
		"permissions":  permissions,
		"is_staff":     user.IsStaff,
		"is_superuser": user.IsSuperuser,
	}, nil
}

// NPAList returns the selectable source acts as [value, label] pairs.
func (s *Service) NPAList() map[string]any {
	items := make([][2]string, 0, len(s.cfg.NPA))
	for _, item := range s.cfg.NPA {
		items = append(items, [2]string{item.Value, item.Label})
	}
	return map[string]any{"npa": items}
}

// Ping checks the health of service dependencies (database, etc.)
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}
