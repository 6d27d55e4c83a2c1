package api

import (
	"context"
	"net/http"

	"textrpg-server/internal/platform/session"
)

func (h *Handler) currentSession(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, http.StatusOK, session.CurrentUser(r.Context()))
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !h.decodeBody(w, r, &req, false) {
		return
	}
	s := session.FromContext(r.Context())
	u, err := h.auth.Login(r.Context(), req.Email, req.Password, func(ctx context.Context, u *session.User) error {
		s.User = u
		if err := h.sessions.Regenerate(ctx, w, s); err != nil {
			s.User = nil
			return err
		}
		return nil
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respond(w, r, http.StatusOK, u)
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Destroy(r.Context(), w, session.FromContext(r.Context())); err != nil {
		h.fail(w, r, err)
		return
	}
	h.respond(w, r, http.StatusOK, nil)
}
