package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"textrpg-server/internal/domain/policy"
	"textrpg-server/internal/platform/apperr"
	"textrpg-server/internal/platform/schema"
	"textrpg-server/internal/platform/session"
)

type contextKey string

const (
	policyContextKey contextKey = "field_policy"
	ownerContextKey  contextKey = "is_owner"
)

func policyFrom(ctx context.Context) (policy.Fields, bool) {
	p, ok := ctx.Value(policyContextKey).(policy.Fields)
	return p, ok
}

func isOwner(ctx context.Context) bool {
	v, _ := ctx.Value(ownerContextKey).(bool)
	return v
}

func withOwner(ctx context.Context, owner bool) context.Context {
	return context.WithValue(ctx, ownerContextKey, owner)
}

// fields attaches the read policy applied when the response is written.
func fields(p policy.Fields) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), policyContextKey, p)))
		})
	}
}

// filter drops every top-level body key the property set does not declare.
// Bodies that are not JSON objects are passed on untouched for the handler
// to reject.
func (h *Handler) filter(props schema.PropertySet) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodySize))
			_ = r.Body.Close()
			if err != nil {
				h.fail(w, r, apperr.InvalidJSON(err))
				return
			}
			var body map[string]any
			if err := json.Unmarshal(raw, &body); err == nil && body != nil {
				for k := range body {
					if !props.HasProperty(k) {
						delete(body, k)
					}
				}
				if filtered, err := json.Marshal(body); err == nil {
					raw = filtered
				}
			}
			r.Body = io.NopCloser(bytes.NewReader(raw))
			r.ContentLength = int64(len(raw))
			next.ServeHTTP(w, r)
		})
	}
}

// ownerPredicate decides whether the caller owns the addressed resource.
type ownerPredicate func(r *http.Request) (bool, error)

// owner records the predicate's verdict for later middleware and handlers.
// A non-owner still reaches the handler; only a predicate error stops the
// request.
func (h *Handler) owner(pred ownerPredicate) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ok, err := pred(r)
			if err != nil {
				h.fail(w, r, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(withOwner(r.Context(), ok)))
		})
	}
}

func ownsUser(r *http.Request) (bool, error) {
	id, err := objectIDParam(r, "userId")
	if err != nil {
		return false, err
	}
	u := session.CurrentUser(r.Context())
	return u != nil && u.ID == id, nil
}

func ownsCharacter(r *http.Request) (bool, error) {
	id, err := objectIDParam(r, "characterId")
	if err != nil {
		return false, err
	}
	return session.CurrentUser(r.Context()).HasCharacter(id), nil
}

// objectIDParam returns the named path parameter as lowercase ObjectID hex,
// the form ids take in the session.
func objectIDParam(r *http.Request, name string) (string, error) {
	raw := chi.URLParam(r, name)
	oid, err := primitive.ObjectIDFromHex(raw)
	if err != nil {
		return "", apperr.InvalidID(raw)
	}
	return oid.Hex(), nil
}

// idParam is objectIDParam for handlers behind the ownership gate, which has
// already rejected malformed ids.
func idParam(r *http.Request, name string) string {
	id, err := objectIDParam(r, name)
	if err != nil {
		return chi.URLParam(r, name)
	}
	return id
}

// decodeBody reads a JSON request body into v. An empty body leaves v
// untouched when allowEmpty is set.
func (h *Handler) decodeBody(w http.ResponseWriter, r *http.Request, v any, allowEmpty bool) bool {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)
	defer r.Body.Close()
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		h.fail(w, r, apperr.InvalidJSON(err))
		return false
	}
	if allowEmpty && len(bytes.TrimSpace(raw)) == 0 {
		return true
	}
	if err := json.Unmarshal(raw, v); err != nil {
		h.fail(w, r, apperr.InvalidJSON(err))
		return false
	}
	return true
}
