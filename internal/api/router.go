// Package api serves the JSON HTTP surface. Every response, success or
// failure, is an envelope {"error": ..., "data": ...}.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	authapp "textrpg-server/internal/app/auth"
	charapp "textrpg-server/internal/app/character"
	userapp "textrpg-server/internal/app/user"
	"textrpg-server/internal/domain/character"
	"textrpg-server/internal/domain/user"
	"textrpg-server/internal/platform/observability"
	"textrpg-server/internal/platform/schema"
	"textrpg-server/internal/platform/session"
)

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Deps struct {
	Logger         zerolog.Logger
	Sessions       *session.Manager
	Auth           *authapp.Service
	Users          *userapp.Service
	Characters     *charapp.Service
	UserModel      *schema.Model
	CharacterModel *schema.Model
	Store          Pinger
	CorsOrigin     string
	MaxBodySize    int64
	RequestTimeout time.Duration
}

type Handler struct {
	logger         zerolog.Logger
	sessions       *session.Manager
	auth           *authapp.Service
	users          *userapp.Service
	characters     *charapp.Service
	userModel      *schema.Model
	characterModel *schema.Model
	store          Pinger
	corsOrigin     string
	maxBodySize    int64
	requestTimeout time.Duration
}

func NewHandler(d Deps) *Handler {
	h := &Handler{
		logger:         d.Logger,
		sessions:       d.Sessions,
		auth:           d.Auth,
		users:          d.Users,
		characters:     d.Characters,
		userModel:      d.UserModel,
		characterModel: d.CharacterModel,
		store:          d.Store,
		corsOrigin:     d.CorsOrigin,
		maxBodySize:    d.MaxBodySize,
		requestTimeout: d.RequestTimeout,
	}
	if h.maxBodySize <= 0 {
		h.maxBodySize = 1 << 20
	}
	if h.requestTimeout <= 0 {
		h.requestTimeout = 20 * time.Second
	}
	return h
}

func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observability.RequestLogger(h.logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(h.requestTimeout))
	r.Use(h.cors)

	r.Get("/healthz", h.health)
	r.Get("/readyz", h.ready)

	// Writes pass the model filter before the ownership gate.
	r.Group(func(app chi.Router) {
		app.Use(h.sessions.Load)

		app.Get("/session", h.currentSession)
		app.Post("/session", h.login)
		app.Delete("/session", h.logout)
		app.Get("/session/destroy", h.logout)

		app.Route("/users", func(users chi.Router) {
			users.Use(fields(user.Fields))
			users.Get("/", h.listUsers)
			users.With(h.filter(h.userModel)).Post("/", h.createUser)
			users.With(h.owner(ownsUser)).Get("/{userId}", h.getUser)
			users.With(h.filter(h.userModel), h.owner(ownsUser)).Patch("/{userId}", h.updateUser)
			users.With(h.owner(ownsUser)).Delete("/{userId}", h.deleteUser)
		})

		app.Route("/characters", func(chars chi.Router) {
			chars.Use(fields(character.Fields))
			chars.Get("/", h.listCharacters)
			chars.With(h.filter(h.characterModel)).Post("/", h.createCharacter)
			chars.With(h.owner(ownsCharacter)).Get("/{characterId}", h.getCharacter)
			chars.With(h.filter(character.MoveFields), h.owner(ownsCharacter)).Patch("/{characterId}", h.moveCharacter)
			chars.With(h.owner(ownsCharacter)).Delete("/{characterId}", h.deleteCharacter)
		})
	})

	return r
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (h *Handler) ready(w http.ResponseWriter, r *http.Request) {
	if h.store != nil {
		if err := h.store.Ping(r.Context()); err != nil {
			h.logger.Warn().Err(err).Msg("store ping failed")
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func (h *Handler) cors(next http.Handler) http.Handler {
	origin := h.corsOrigin
	if origin == "" {
		origin = "*"
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		if origin != "*" {
			w.Header().Set("Access-Control-Allow-Credentials", "true")
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PATCH,DELETE,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
