package users

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"github.com/gridwatch/vms/internal/auth"
	"github.com/gridwatch/vms/internal/data"
	"github.com/gridwatch/vms/internal/tokens"
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrEmailTaken         = errors.New("email already registered")
	ErrWeakPassword       = errors.New("password must be at least 8 characters")
)

// Every account is an operator; there is no finer-grained role model.
const defaultRole = "operator"

type UserStore interface {
	Create(ctx context.Context, u *data.User) error
	GetByEmail(ctx context.Context, email string) (*data.User, error)
}

// TokenPair is what a successful login returns.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

type Service struct {
	store  UserStore
	tokens *tokens.Manager
}

func NewService(store UserStore, tm *tokens.Manager) *Service {
	return &Service{store: store, tokens: tm}
}

func (s *Service) Register(ctx context.Context, email, password string) (*data.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, fmt.Errorf("invalid email address: %w", err)
	}
	if len(password) < 8 {
		return nil, ErrWeakPassword
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, err
	}

	u := &data.User{Email: email, PasswordHash: hash}
	if err := s.store.Create(ctx, u); err != nil {
		if errors.Is(err, data.ErrDuplicate) {
			return nil, ErrEmailTaken
		}
		return nil, err
	}
	return u, nil
}

// Login verifies credentials and issues a token pair. A missing account and a
// wrong password are indistinguishable to the caller.
func (s *Service) Login(ctx context.Context, email, password string) (*data.User, *TokenPair, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	u, err := s.store.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, data.ErrRecordNotFound) {
			return nil, nil, ErrInvalidCredentials
		}
		return nil, nil, err
	}

	ok, err := auth.CheckPassword(password, u.PasswordHash)
	if err != nil || !ok {
		return nil, nil, ErrInvalidCredentials
	}

	access, err := s.tokens.GenerateAccessToken(u.ID.String(), defaultRole)
	if err != nil {
		return nil, nil, err
	}
	refresh, err := s.tokens.GenerateRefreshToken(u.ID.String(), defaultRole)
	if err != nil {
		return nil, nil, err
	}
	return u, &TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

// Refresh exchanges a valid refresh token for a new pair.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	claims, err := s.tokens.Validate(refreshToken)
	if err != nil {
		return nil, err
	}
	if claims.TokenType != tokens.Refresh {
		return nil, tokens.ErrInvalidToken
	}

	access, err := s.tokens.GenerateAccessToken(claims.UserID, claims.Role)
	if err != nil {
		return nil, err
	}
	refresh, err := s.tokens.GenerateRefreshToken(claims.UserID, claims.Role)
	if err != nil {
		return nil, err
	}
	return &TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}
