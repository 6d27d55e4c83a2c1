// Package auth implements the login pipeline.
package auth

import (
	"context"

	"github.com/rs/zerolog"

	charapp "textrpg-server/internal/app/character"
	userapp "textrpg-server/internal/app/user"
	"textrpg-server/internal/platform/apperr"
	"textrpg-server/internal/platform/mq"
	"textrpg-server/internal/platform/password"
	"textrpg-server/internal/platform/session"
)

type Service struct {
	users      *userapp.Service
	characters *charapp.Service
	hasher     *password.Hasher
	pub        mq.Publisher
	logger     zerolog.Logger
}

func NewService(users *userapp.Service, characters *charapp.Service, hasher *password.Hasher, pub mq.Publisher, logger zerolog.Logger) *Service {
	return &Service{users: users, characters: characters, hasher: hasher, pub: pub, logger: logger}
}

// Attach stores the authenticated user in the caller's session.
type Attach func(ctx context.Context, u *session.User) error

// Login runs look up user → verify password → look up characters → attach.
// Any failure is logged and returned; attach is only called on success.
func (s *Service) Login(ctx context.Context, email, plaintext string, attach Attach) (*session.User, error) {
	u, err := s.login(ctx, email, plaintext, attach)
	if err != nil {
		s.logger.Warn().Err(err).Str("code", apperr.Code(err)).Str("email", email).Msg("login failed")
		return nil, err
	}
	s.logger.Info().Str("user_id", u.ID).Msg("login")
	if err := mq.PublishJSON(ctx, s.pub, mq.SubjectSessionCreated, map[string]any{"userId": u.ID}); err != nil {
		s.logger.Warn().Err(err).Str("subject", mq.SubjectSessionCreated).Msg("event publish failed")
	}
	return u, nil
}

func (s *Service) login(ctx context.Context, email, plaintext string, attach Attach) (*session.User, error) {
	found, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, apperr.Auth(apperr.CodeInvalidEmail, "no user with that email")
	}

	ok, err := s.hasher.Compare(plaintext, found.Password)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.Auth(apperr.CodeInvalidPassword, "password does not match")
	}

	id := found.ID.Hex()
	characters, err := s.characters.IDsByUser(ctx, id)
	if err != nil {
		return nil, err
	}

	u := &session.User{ID: id, Alias: found.Alias, Email: found.Email, Characters: characters}
	if err := attach(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}
