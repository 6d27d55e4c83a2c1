package api

import (
	"encoding/json"
	"net/http"

	"textrpg-server/internal/domain/policy"
	"textrpg-server/internal/platform/apperr"
)

type envelope struct {
	Error *apperr.Error `json:"error"`
	Data  any           `json:"data"`
}

// respond writes data with the read list of the route's field policy
// applied. It is the only place a resource response is serialized.
func (h *Handler) respond(w http.ResponseWriter, r *http.Request, status int, data any) {
	if p, ok := policyFrom(r.Context()); ok {
		visible, err := project(data, p.ReadList(isOwner(r.Context())))
		if err != nil {
			h.fail(w, r, err)
			return
		}
		data = visible
	}
	writeJSON(w, status, envelope{Data: data})
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := apperr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	writeJSON(w, status, envelope{Error: apperr.Describe(err)})
}

// project converts data to its JSON form and keeps only the listed keys of
// every object in it. A bare object and an array of objects are projected;
// anything else passes through.
func project(data any, fields []string) (any, error) {
	if data == nil || len(fields) == 0 {
		return data, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	switch v := generic.(type) {
	case map[string]any:
		return policy.Project(v, fields), nil
	case []any:
		for i, item := range v {
			if m, ok := item.(map[string]any); ok {
				v[i] = policy.Project(m, fields)
			}
		}
		return v, nil
	}
	return generic, nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
