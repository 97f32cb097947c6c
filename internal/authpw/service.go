// Package authpw provides username/password authentication for annotators.
package authpw

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"normative/api/internal/rbac"
	"normative/api/internal/store"
)

var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrWeakPassword       = errors.New("password must be at least 8 characters")
	ErrUnknownPermission  = errors.New("unknown permission")
)

// UserStore defines the storage interface for auth
type UserStore interface {
	GetUserByUsername(ctx context.Context, username string) (store.User, error)
	CreateUser(ctx context.Context, user store.User) (store.User, error)
}

// Service provides username/password authentication
type Service struct {
	store UserStore
	cost  int
}

func NewService(store UserStore) *Service {
	return &Service{store: store, cost: bcrypt.DefaultCost}
}

// WithCost overrides the bcrypt cost, mainly for tests.
func (s *Service) WithCost(cost int) *Service {
	s.cost = cost
	return s
}

type SignInRequest struct {
	Username string
	Password string
}

// SignIn authenticates a user. Unknown users and wrong passwords yield the
// same error.
func (s *Service) SignIn(ctx context.Context, req SignInRequest) (store.User, error) {
	username := strings.TrimSpace(req.Username)
	if username == "" || req.Password == "" {
		return store.User{}, ErrInvalidCredentials
	}

	user, err := s.store.GetUserByUsername(ctx, username)
	if err != nil {
		return store.User{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return store.User{}, ErrInvalidCredentials
	}
	return user, nil
}

type CreateUserRequest struct {
	Username    string
	Password    string
	Permissions []string
	Staff       bool
	Superuser   bool
}

// CreateUser provisions an account. Permissions are normalised to codenames.
func (s *Service) CreateUser(ctx context.Context, req CreateUserRequest) (store.User, error) {
	username := strings.TrimSpace(req.Username)
	if username == "" {
		return store.User{}, errors.New("username is required")
	}
	if len(req.Password) < 8 {
		return store.User{}, ErrWeakPassword
	}

	permissions := make([]string, 0, len(req.Permissions))
	for _, value := range req.Permissions {
		capability, ok := rbac.Normalize(value)
		if !ok {
			return store.User{}, fmt.Errorf("%w: %s", ErrUnknownPermission, value)
		}
		permissions = append(permissions, string(capability))
	}

	hash, err := s.HashPassword(req.Password)
	if err != nil {
		return store.User{}, err
	}
	return s.store.CreateUser(ctx, store.User{
		Username:     username,
		PasswordHash: hash,
		IsStaff:      req.Staff,
		IsSuperuser:  req.Superuser,
		Permissions:  permissions,
	})
}

func (s *Service) HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}
