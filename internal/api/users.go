package api

import (
	"net/http"

	"textrpg-server/internal/platform/apperr"
	"textrpg-server/internal/platform/session"
)

func (h *Handler) listUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.users.List(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respond(w, r, http.StatusOK, users)
}

func (h *Handler) getUser(w http.ResponseWriter, r *http.Request) {
	u, err := h.users.Get(r.Context(), idParam(r, "userId"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respond(w, r, http.StatusOK, u)
}

// createUser answers with null data; the new account is read back by
// logging in.
func (h *Handler) createUser(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	if !h.decodeBody(w, r, &body, false) {
		return
	}
	if _, err := h.users.Create(r.Context(), body); err != nil {
		h.fail(w, r, err)
		return
	}
	h.respond(w, r, http.StatusCreated, nil)
}

func (h *Handler) updateUser(w http.ResponseWriter, r *http.Request) {
	if !isOwner(r.Context()) {
		h.fail(w, r, apperr.Auth(apperr.CodeForbidden, "only the owner may change this user"))
		return
	}
	var body map[string]any
	if !h.decodeBody(w, r, &body, false) {
		return
	}
	id := idParam(r, "userId")
	u, err := h.users.Update(r.Context(), id, body)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	s := session.FromContext(r.Context())
	if u != nil && s.User != nil && s.User.ID == id {
		s.User.Alias = u.Alias
		s.User.Email = u.Email
		if err := h.sessions.Save(r.Context(), w, s); err != nil {
			h.fail(w, r, err)
			return
		}
	}
	h.respond(w, r, http.StatusOK, u)
}

func (h *Handler) deleteUser(w http.ResponseWriter, r *http.Request) {
	if !isOwner(r.Context()) {
		h.fail(w, r, apperr.Auth(apperr.CodeForbidden, "only the owner may delete this user"))
		return
	}
	if _, err := h.users.Delete(r.Context(), idParam(r, "userId")); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.sessions.Destroy(r.Context(), w, session.FromContext(r.Context())); err != nil {
		h.fail(w, r, err)
		return
	}
	h.respond(w, r, http.StatusOK, nil)
}
