// Package session keeps per-client state server side. The client holds a
// cookie with an HS256-signed token whose jti is the session id.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// User is the copy of the logged-in user kept in the session. Password is
// never part of it.
type User struct {
	ID         string   `json:"_id"`
	Alias      string   `json:"alias"`
	Email      string   `json:"email"`
	Characters []string `json:"characters"`
}

func (u *User) HasCharacter(id string) bool {
	return u != nil && slices.Contains(u.Characters, id)
}

func (u *User) AddCharacter(id string) {
	if !u.HasCharacter(id) {
		u.Characters = append(u.Characters, id)
	}
}

func (u *User) RemoveCharacter(id string) {
	u.Characters = slices.DeleteFunc(u.Characters, func(c string) bool { return c == id })
}

type Session struct {
	ID        string    `json:"id"`
	User      *User     `json:"user"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func (s *Session) clone() *Session {
	out := *s
	if s.User != nil {
		u := *s.User
		u.Characters = slices.Clone(s.User.Characters)
		out.User = &u
	}
	return &out
}

type Options struct {
	CookieName string
	Secret     string
	TTL        time.Duration
	Secure     bool
}

type Manager struct {
	store  Store
	opts   Options
	logger zerolog.Logger
	now    func() time.Time
}

func NewManager(store Store, opts Options, logger zerolog.Logger) *Manager {
	return &Manager{store: store, opts: opts, logger: logger, now: time.Now}
}

type ctxKey struct{}

// FromContext returns the session loaded by Load. It is never nil inside a
// request served through Load.
func FromContext(ctx context.Context) *Session {
	s, _ := ctx.Value(ctxKey{}).(*Session)
	return s
}

// CurrentUser returns the session user or nil.
func CurrentUser(ctx context.Context) *User {
	if s := FromContext(ctx); s != nil {
		return s.User
	}
	return nil
}

func WithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, ctxKey{}, s)
}

// Load attaches the caller's session to the request context. A missing,
// forged or expired cookie yields a fresh anonymous session that is only
// stored once saved.
func (m *Manager) Load(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s, err := m.load(r)
		if err != nil {
			m.logger.Warn().Err(err).Msg("session load failed")
		}
		if s == nil {
			s = m.fresh()
		}
		next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), s)))
	})
}

func (m *Manager) load(r *http.Request) (*Session, error) {
	c, err := r.Cookie(m.opts.CookieName)
	if err != nil {
		return nil, nil
	}
	id, err := m.parse(c.Value)
	if err != nil {
		return nil, nil
	}
	return m.store.Get(r.Context(), id)
}

func (m *Manager) fresh() *Session {
	return &Session{ID: uuid.NewString(), ExpiresAt: m.now().Add(m.opts.TTL)}
}

// Save persists s, extends its lifetime and refreshes the cookie.
func (m *Manager) Save(ctx context.Context, w http.ResponseWriter, s *Session) error {
	s.ExpiresAt = m.now().Add(m.opts.TTL)
	if err := m.store.Save(ctx, s); err != nil {
		return err
	}
	token, err := m.sign(s)
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     m.opts.CookieName,
		Value:    token,
		Path:     "/",
		Expires:  s.ExpiresAt,
		MaxAge:   int(m.opts.TTL.Seconds()),
		HttpOnly: true,
		Secure:   m.opts.Secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// Regenerate moves s to a new id, dropping the stored state of the old one.
func (m *Manager) Regenerate(ctx context.Context, w http.ResponseWriter, s *Session) error {
	if err := m.store.Delete(ctx, s.ID); err != nil {
		return err
	}
	s.ID = uuid.NewString()
	return m.Save(ctx, w, s)
}

// Destroy deletes s from the store and expires the cookie.
func (m *Manager) Destroy(ctx context.Context, w http.ResponseWriter, s *Session) error {
	s.User = nil
	if err := m.store.Delete(ctx, s.ID); err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     m.opts.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.opts.Secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

func (m *Manager) sign(s *Session) (string, error) {
	claims := jwt.RegisteredClaims{
		ID:        s.ID,
		IssuedAt:  jwt.NewNumericDate(m.now()),
		ExpiresAt: jwt.NewNumericDate(s.ExpiresAt),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(m.opts.Secret))
	if err != nil {
		return "", fmt.Errorf("sign session cookie: %w", err)
	}
	return signed, nil
}

var errInvalidCookie = errors.New("invalid session cookie")

func (m *Manager) parse(token string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return []byte(m.opts.Secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(m.now))
	if err != nil || !parsed.Valid || claims.ID == "" {
		return "", errInvalidCookie
	}
	return claims.ID, nil
}
