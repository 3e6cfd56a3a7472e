package auth

import (
	"context"
	"errors"
	"strings"
)

// Service logs users in and rotates token pairs.
type Service struct {
	users  UserStore
	codec  *TokenCodec
	verify func(hash, password string) error
}

// NewService constructs a Service.
func NewService(users UserStore, codec *TokenCodec) (*Service, error) {
	if users == nil {
		return nil, errors.New("user store is required")
	}
	if codec == nil {
		return nil, errors.New("token codec is required")
	}
	return &Service{users: users, codec: codec, verify: VerifyPassword}, nil
}

// Login checks credentials and issues a fresh access and refresh token.
func (s *Service) Login(ctx context.Context, email, password string) (TokenPair, User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return TokenPair{}, User{}, ErrUnauthorized
	}
	user, err := s.users.UserByEmail(ctx, email)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return TokenPair{}, User{}, err
	}
	if err != nil || !user.Active || user.PasswordHash == "" {
		// Same bcrypt cost whether or not the account can log in.
		_ = s.verify(placeholderHash(), password)
		return TokenPair{}, User{}, ErrUnauthorized
	}
	if err := s.verify(user.PasswordHash, password); err != nil {
		return TokenPair{}, User{}, err
	}
	pair, err := s.mint(user)
	if err != nil {
		return TokenPair{}, User{}, err
	}
	return pair, user, nil
}

// Refresh exchanges a valid refresh token for a new pair. Token errors are
// returned unchanged so callers can tell expiry from a wrong token type.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (TokenPair, User, error) {
	claims, err := s.codec.VerifyRefreshToken(refreshToken)
	if err != nil {
		return TokenPair{}, User{}, err
	}
	user, err := s.users.UserByID(ctx, claims.UserID)
	if errors.Is(err, ErrNotFound) {
		return TokenPair{}, User{}, ErrUnauthorized
	}
	if err != nil {
		return TokenPair{}, User{}, err
	}
	if !user.Active {
		return TokenPair{}, User{}, ErrUnauthorized
	}
	pair, err := s.mint(user)
	if err != nil {
		return TokenPair{}, User{}, err
	}
	return pair, user, nil
}

func (s *Service) mint(user User) (TokenPair, error) {
	sub := SubjectFromUser(user)
	access, err := s.codec.IssueAccessToken(sub)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := s.codec.IssueRefreshToken(sub)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		AccessToken:      access.Raw,
		AccessExpiresAt:  access.ExpiresAt,
		RefreshToken:     refresh.Raw,
		RefreshExpiresAt: refresh.ExpiresAt,
	}, nil
}
