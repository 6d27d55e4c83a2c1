// Package apperr defines the error kinds surfaced in response envelopes.
//
// Errors carry an oops domain (the kind) and an oops code. Anything that is
// not an oops error with a known kind is treated as an opaque store failure.
package apperr

import (
	"fmt"
	"net/http"

	"github.com/samber/oops"
)

const (
	KindValidation = "validation"
	KindAuth       = "auth"
	KindRequest    = "request"
	KindStore      = "store"
)

const (
	CodeValidationFailed = "VALIDATION_FAILED"
	CodeInvalidID        = "INVALID_ID"
	CodeEmptyPassword    = "EMPTY_PASSWORD"
	CodeInvalidEmail     = "AUTH_INVALID_EMAIL"
	CodeInvalidPassword  = "AUTH_INVALID_PASSWORD"
	CodeAuthRequired     = "AUTH_REQUIRED"
	CodeForbidden        = "AUTH_FORBIDDEN"
	CodeInvalidJSON      = "INVALID_JSON"
	CodeStoreFailure     = "STORE_FAILURE"
)

// FieldError describes one failed constraint.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error is the JSON shape of the envelope's error field.
type Error struct {
	Type    string       `json:"type"`
	Code    string       `json:"code"`
	Message string       `json:"message"`
	Details []FieldError `json:"details,omitempty"`
}

const detailsKey = "details"

func Validation(msg string, details ...FieldError) error {
	b := oops.In(KindValidation).Code(CodeValidationFailed)
	if len(details) > 0 {
		b = b.With(detailsKey, details)
	}
	return b.New(msg)
}

func InvalidID(id string) error {
	return oops.In(KindValidation).Code(CodeInvalidID).With("id", id).Errorf("invalid id %q", id)
}

func EmptyPassword() error {
	return oops.In(KindValidation).Code(CodeEmptyPassword).New("password must not be empty")
}

func Auth(code, msg string) error {
	return oops.In(KindAuth).Code(code).New(msg)
}

func InvalidJSON(err error) error {
	return oops.In(KindRequest).Code(CodeInvalidJSON).Wrapf(err, "invalid json")
}

// Code returns the oops code of err, or "" for foreign errors.
func Code(err error) string {
	o, ok := oops.AsOops(err)
	if !ok {
		return ""
	}
	code, _ := o.Code().(string)
	return code
}

// Kind returns the kind of err. Foreign errors are store errors.
func Kind(err error) string {
	o, ok := oops.AsOops(err)
	if !ok {
		return KindStore
	}
	switch d := o.Domain(); d {
	case KindValidation, KindAuth, KindRequest:
		return d
	}
	return KindStore
}

func IsKind(err error, kind string) bool {
	return err != nil && Kind(err) == kind
}

// Details returns the field errors attached by Validation, if any.
func Details(err error) []FieldError {
	o, ok := oops.AsOops(err)
	if !ok {
		return nil
	}
	details, _ := o.Context()[detailsKey].([]FieldError)
	return details
}

// Describe converts err to its envelope representation.
func Describe(err error) *Error {
	if err == nil {
		return nil
	}
	kind := Kind(err)
	if kind == KindStore {
		return &Error{Type: KindStore, Code: CodeStoreFailure, Message: err.Error()}
	}
	msg := err.Error()
	if o, ok := oops.AsOops(err); ok && o.Public() != "" {
		msg = o.Public()
	}
	return &Error{Type: kind, Code: Code(err), Message: msg, Details: Details(err)}
}

// HTTPStatus maps an error to the advisory status code of its envelope.
func HTTPStatus(err error) int {
	switch Kind(err) {
	case KindValidation, KindRequest:
		return http.StatusBadRequest
	case KindAuth:
		if Code(err) == CodeForbidden {
			return http.StatusForbidden
		}
		return http.StatusUnauthorized
	}
	return http.StatusInternalServerError
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}
