package docstore

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
)

// Doc is a single document. Drivers return nested documents as bson.M and
// arrays as bson.A.
type Doc = bson.M

type FindOptions struct {
	Projection bson.M
	Sort       bson.D
	Skip       int64
	Limit      int64
}

type UpdateOptions struct {
	Upsert bool
	Multi  bool
}

type ModifyOptions struct {
	// ReturnNew returns the document after the update instead of before.
	ReturnNew bool
	Upsert    bool
}

type RemoveOptions struct {
	Single bool
}

type IndexOptions struct {
	Name   string
	Unique bool
	Sparse bool
}

type UpdateResult struct {
	Matched  int64
	Modified int64
	// UpsertedID is set when an upsert inserted a document.
	UpsertedID any
}

// Driver executes already-normalized operations against a backing store.
// FindOne, FindAndModify and FindAndRemove return a nil Doc when nothing
// matched.
type Driver interface {
	FindOne(ctx context.Context, coll string, filter bson.M, opts FindOptions) (Doc, error)
	Find(ctx context.Context, coll string, filter bson.M, opts FindOptions) ([]Doc, error)
	Insert(ctx context.Context, coll string, doc Doc) error
	Update(ctx context.Context, coll string, filter, update bson.M, opts UpdateOptions) (UpdateResult, error)
	FindAndModify(ctx context.Context, coll string, filter bson.M, sort bson.D, update bson.M, opts ModifyOptions) (Doc, error)
	FindAndRemove(ctx context.Context, coll string, filter bson.M, sort bson.D) (Doc, error)
	Remove(ctx context.Context, coll string, filter bson.M, opts RemoveOptions) (int64, error)
	Count(ctx context.Context, coll string, filter bson.M) (int64, error)
	CreateIndex(ctx context.Context, coll string, keys bson.D, opts IndexOptions) (string, error)
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// Validator checks documents before they are written. ValidatePartial skips
// required-property checks so operator bodies can be validated on their own.
type Validator interface {
	Validate(doc any) error
	ValidatePartial(doc any) error
}
