// Package schema compiles resource models written as JSON Schema and
// validates documents against them.
package schema

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"textrpg-server/internal/platform/apperr"
)

// PropertySet answers whether a top-level property is declared.
type PropertySet interface {
	HasProperty(name string) bool
}

// Fields is a PropertySet declared as a plain list of names.
type Fields []string

func (f Fields) HasProperty(name string) bool {
	for _, n := range f {
		if n == name {
			return true
		}
	}
	return false
}

type Model struct {
	name        string
	full        *jsonschema.Schema
	partial     *jsonschema.Schema
	properties  []string
	singleError bool
}

type Option func(*Model)

// SingleError reports only the first failed constraint.
func SingleError(enabled bool) Option {
	return func(m *Model) { m.singleError = enabled }
}

// Compile builds a model from a JSON Schema document given as Go values. The
// schema's top-level "properties" become the model's property set.
func Compile(name string, def map[string]any, opts ...Option) (*Model, error) {
	doc, err := toJSONValue(def)
	if err != nil {
		return nil, fmt.Errorf("schema %s: %w", name, err)
	}
	root, ok := doc.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("schema %s: not an object", name)
	}
	full, err := compile(name, root)
	if err != nil {
		return nil, err
	}
	partial, err := compile(name+"-partial", withoutRequired(root).(map[string]any))
	if err != nil {
		return nil, err
	}
	m := &Model{name: name, full: full, partial: partial}
	if props, ok := root["properties"].(map[string]any); ok {
		for k := range props {
			m.properties = append(m.properties, k)
		}
		sort.Strings(m.properties)
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

func MustCompile(name string, def map[string]any, opts ...Option) *Model {
	m, err := Compile(name, def, opts...)
	if err != nil {
		panic(err)
	}
	return m
}

func compile(name string, doc map[string]any) (*jsonschema.Schema, error) {
	url := name + ".json"
	c := jsonschema.NewCompiler()
	c.DefaultDraft(jsonschema.Draft2020)
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add schema %s: %w", name, err)
	}
	sch, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema %s: %w", name, err)
	}
	return sch, nil
}

func (m *Model) Name() string { return m.name }

func (m *Model) Properties() []string {
	return append([]string(nil), m.properties...)
}

func (m *Model) HasProperty(name string) bool {
	i := sort.SearchStrings(m.properties, name)
	return i < len(m.properties) && m.properties[i] == name
}

// Validate checks a whole document.
func (m *Model) Validate(doc any) error {
	return m.validate(m.full, doc)
}

// ValidatePartial checks a sub-document without enforcing required
// properties.
func (m *Model) ValidatePartial(doc any) error {
	return m.validate(m.partial, doc)
}

func (m *Model) validate(sch *jsonschema.Schema, doc any) error {
	v, err := toJSONValue(doc)
	if err != nil {
		return apperr.Validation(fmt.Sprintf("%s: document is not valid json: %v", m.name, err))
	}
	err = sch.Validate(v)
	if err == nil {
		return nil
	}
	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return apperr.Validation(fmt.Sprintf("%s: %v", m.name, err))
	}
	details := fieldErrors(verr.DetailedOutput())
	if m.singleError && len(details) > 1 {
		details = details[:1]
	}
	return apperr.Validation(m.name+" failed validation", details...)
}

func fieldErrors(unit *jsonschema.OutputUnit) []apperr.FieldError {
	var out []apperr.FieldError
	var walk func(u jsonschema.OutputUnit)
	walk = func(u jsonschema.OutputUnit) {
		if len(u.Errors) == 0 {
			if u.Error != nil {
				out = append(out, apperr.FieldError{Field: fieldName(u.InstanceLocation), Message: u.Error.String()})
			}
			return
		}
		for _, child := range u.Errors {
			walk(child)
		}
	}
	walk(*unit)
	return out
}

func fieldName(ptr string) string {
	return strings.ReplaceAll(strings.TrimPrefix(ptr, "/"), "/", ".")
}

// toJSONValue converts v to the generic values the validator understands.
// ObjectIDs and other JSON marshalers end up in their wire form.
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(bytes.NewReader(b))
}

func withoutRequired(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			if k == "required" {
				if _, isList := val.([]any); isList {
					continue
				}
			}
			out[k] = withoutRequired(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = withoutRequired(t[i])
		}
		return out
	}
	return v
}
