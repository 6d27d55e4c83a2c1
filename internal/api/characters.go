package api

import (
	"fmt"
	"net/http"
	"strconv"

	"textrpg-server/internal/domain/character"
	"textrpg-server/internal/platform/apperr"
	"textrpg-server/internal/platform/session"
)

func (h *Handler) listCharacters(w http.ResponseWriter, r *http.Request) {
	chars, err := h.characters.List(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respond(w, r, http.StatusOK, chars)
}

func (h *Handler) getCharacter(w http.ResponseWriter, r *http.Request) {
	c, err := h.characters.Get(r.Context(), idParam(r, "characterId"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respond(w, r, http.StatusOK, c)
}

func (h *Handler) createCharacter(w http.ResponseWriter, r *http.Request) {
	s := session.FromContext(r.Context())
	if s.User == nil {
		h.fail(w, r, apperr.Auth(apperr.CodeAuthRequired, "log in to create a character"))
		return
	}
	var body map[string]any
	if !h.decodeBody(w, r, &body, false) {
		return
	}
	c, err := h.characters.Create(r.Context(), s.User.ID, body)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	s.User.AddCharacter(c.ID.Hex())
	if err := h.sessions.Save(r.Context(), w, s); err != nil {
		h.fail(w, r, err)
		return
	}
	h.respond(w, r.WithContext(withOwner(r.Context(), true)), http.StatusCreated, c)
}

// moveCharacter reads move-x and move-y from the body, falling back to the
// query string. Only the sign of each signal is used.
func (h *Handler) moveCharacter(w http.ResponseWriter, r *http.Request) {
	if !isOwner(r.Context()) {
		h.fail(w, r, apperr.Auth(apperr.CodeForbidden, "only the owner may move this character"))
		return
	}
	body := map[string]any{}
	if !h.decodeBody(w, r, &body, true) {
		return
	}
	dx, err := moveSignal(r, body, character.MoveX)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	dy, err := moveSignal(r, body, character.MoveY)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	c, err := h.characters.Move(r.Context(), idParam(r, "characterId"), character.Step(dx), character.Step(dy))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respond(w, r, http.StatusOK, c)
}

func moveSignal(r *http.Request, body map[string]any, name string) (float64, error) {
	raw, ok := body[name]
	if !ok || raw == nil {
		q := r.URL.Query().Get(name)
		if q == "" {
			return 0, nil
		}
		raw = q
	}
	switch v := raw.(type) {
	case float64:
		return v, nil
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err == nil {
			return f, nil
		}
	}
	return 0, apperr.Validation("invalid movement", apperr.FieldError{
		Field:   name,
		Message: fmt.Sprintf("%v is not a number", raw),
	})
}

func (h *Handler) deleteCharacter(w http.ResponseWriter, r *http.Request) {
	if !isOwner(r.Context()) {
		h.fail(w, r, apperr.Auth(apperr.CodeForbidden, "only the owner may delete this character"))
		return
	}
	id := idParam(r, "characterId")
	if _, err := h.characters.Delete(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	s := session.FromContext(r.Context())
	if s.User != nil {
		s.User.RemoveCharacter(id)
		if err := h.sessions.Save(r.Context(), w, s); err != nil {
			h.fail(w, r, err)
			return
		}
	}
	h.respond(w, r, http.StatusOK, nil)
}
