// Package docstore is a thin adapter over document store drivers that
// normalizes identifiers and validates documents before they are written.
package docstore

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"textrpg-server/internal/platform/apperr"
)

const IDField = "_id"

// validatedOperators are the update operators whose bodies are checked
// against the collection schema.
var validatedOperators = []string{"$set", "$push"}

type Collection struct {
	name   string
	driver Driver
	schema Validator
}

type Option func(*Collection)

// WithSchema makes Save, Update and FindAndModify validate their input.
func WithSchema(v Validator) Option {
	return func(c *Collection) { c.schema = v }
}

func NewCollection(driver Driver, name string, opts ...Option) *Collection {
	c := &Collection{name: name, driver: driver}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Collection) Name() string { return c.name }

// Selector turns a primary key or a query into a filter. Strings are parsed as
// ObjectID hex, ObjectIDs are wrapped into an _id equality and anything else
// is treated as a full query.
func Selector(selector any) (bson.M, error) {
	switch s := selector.(type) {
	case nil:
		return bson.M{}, nil
	case string:
		oid, err := primitive.ObjectIDFromHex(s)
		if err != nil {
			return nil, apperr.InvalidID(s)
		}
		return bson.M{IDField: oid}, nil
	case primitive.ObjectID:
		return bson.M{IDField: s}, nil
	case bson.M:
		return s, nil
	case map[string]any:
		return bson.M(s), nil
	case bson.D:
		m := make(bson.M, len(s))
		for _, e := range s {
			m[e.Key] = e.Value
		}
		return m, nil
	default:
		return nil, fmt.Errorf("unsupported selector type %T", selector)
	}
}

func (c *Collection) FindOne(ctx context.Context, selector any, opts FindOptions) (Doc, error) {
	filter, err := Selector(selector)
	if err != nil {
		return nil, err
	}
	return c.driver.FindOne(ctx, c.name, filter, opts)
}

func (c *Collection) Find(ctx context.Context, selector any, opts FindOptions) ([]Doc, error) {
	filter, err := Selector(selector)
	if err != nil {
		return nil, err
	}
	return c.driver.Find(ctx, c.name, filter, opts)
}

// Save inserts doc and returns it with its assigned _id.
func (c *Collection) Save(ctx context.Context, doc Doc) (Doc, error) {
	if c.schema != nil {
		if err := c.schema.Validate(doc); err != nil {
			return nil, err
		}
	}
	saved := cloneDoc(doc)
	if _, ok := saved[IDField]; !ok {
		saved[IDField] = primitive.NewObjectID()
	}
	if err := c.driver.Insert(ctx, c.name, saved); err != nil {
		return nil, err
	}
	return saved, nil
}

func (c *Collection) Update(ctx context.Context, selector any, patch bson.M, opts UpdateOptions) (UpdateResult, error) {
	if err := c.validatePatch(patch); err != nil {
		return UpdateResult{}, err
	}
	filter, err := Selector(selector)
	if err != nil {
		return UpdateResult{}, err
	}
	return c.driver.Update(ctx, c.name, filter, patch, opts)
}

func (c *Collection) FindAndModify(ctx context.Context, selector any, sort bson.D, patch bson.M, opts ModifyOptions) (Doc, error) {
	if err := c.validatePatch(patch); err != nil {
		return nil, err
	}
	filter, err := Selector(selector)
	if err != nil {
		return nil, err
	}
	return c.driver.FindAndModify(ctx, c.name, filter, sort, patch, opts)
}

func (c *Collection) FindAndRemove(ctx context.Context, selector any, sort bson.D) (Doc, error) {
	filter, err := Selector(selector)
	if err != nil {
		return nil, err
	}
	return c.driver.FindAndRemove(ctx, c.name, filter, sort)
}

func (c *Collection) Remove(ctx context.Context, selector any, opts RemoveOptions) (int64, error) {
	filter, err := Selector(selector)
	if err != nil {
		return 0, err
	}
	return c.driver.Remove(ctx, c.name, filter, opts)
}

func (c *Collection) Count(ctx context.Context, selector any) (int64, error) {
	filter, err := Selector(selector)
	if err != nil {
		return 0, err
	}
	return c.driver.Count(ctx, c.name, filter)
}

func (c *Collection) CreateIndex(ctx context.Context, keys bson.D, opts IndexOptions) (string, error) {
	return c.driver.CreateIndex(ctx, c.name, keys, opts)
}

// validatePatch checks only the sub-documents addressed by $set and $push,
// expanded from their dot paths into nested form.
func (c *Collection) validatePatch(patch bson.M) error {
	if c.schema == nil {
		return nil
	}
	for _, op := range validatedOperators {
		body, ok := patch[op]
		if !ok {
			continue
		}
		fields, ok := asMap(body)
		if !ok {
			return apperr.Validation(fmt.Sprintf("%s must be a document", op))
		}
		if err := c.schema.ValidatePartial(Expand(fields)); err != nil {
			return err
		}
	}
	return nil
}

func cloneDoc(doc Doc) Doc {
	out := make(Doc, len(doc)+1)
	for k, v := range doc {
		out[k] = v
	}
	return out
}
