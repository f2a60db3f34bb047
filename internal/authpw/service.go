// Package authpw provides email/password credential handling for accounts.
package authpw

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"devflow/api/internal/store"
	"devflow/api/internal/util"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrEmailTaken         = errors.New("email already registered")
)

// UserStore defines the storage interface for credential auth
type UserStore interface {
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	CreateUser(ctx context.Context, user store.User) error
}

type Service struct {
	store UserStore
}

func NewService(userStore UserStore) *Service {
	return &Service{store: userStore}
}

type SignUpRequest struct {
	Email    string
	Password string
	Name     string
}

// SignUp creates a new account with a bcrypt password hash.
func (s *Service) SignUp(ctx context.Context, req SignUpRequest) (store.User, error) {
	email := strings.TrimSpace(strings.ToLower(req.Email))
	name := strings.TrimSpace(req.Name)
	if email == "" || req.Password == "" || name == "" {
		return store.User{}, errors.New("email, password, and name are required")
	}
	if len(req.Password) < 8 {
		return store.User{}, errors.New("password must be at least 8 characters")
	}

	if _, err := s.store.GetUserByEmail(ctx, email); err == nil {
		return store.User{}, ErrEmailTaken
	} else if !errors.Is(err, sql.ErrNoRows) {
		return store.User{}, fmt.Errorf("lookup email: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return store.User{}, fmt.Errorf("hash password: %w", err)
	}

	user := store.User{
		ID:           util.NewID("usr"),
		Name:         name,
		Email:        email,
		PasswordHash: string(hash),
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		return store.User{}, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

// SignIn authenticates a user by email and password.
func (s *Service) SignIn(ctx context.Context, email, password string) (store.User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return store.User{}, ErrInvalidCredentials
	}

	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.User{}, ErrInvalidCredentials
		}
		return store.User{}, fmt.Errorf("lookup user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return store.User{}, ErrInvalidCredentials
	}
	return user, nil
}
