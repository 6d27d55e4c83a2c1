// Package mongostore is the MongoDB docstore driver.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"textrpg-server/internal/platform/docstore"
)

type Store struct {
	db *mongo.Database
}

func New(db *mongo.Database) *Store {
	return &Store{db: db}
}

var _ docstore.Driver = (*Store)(nil)

// Open connects to uri and verifies the primary is reachable.
func Open(ctx context.Context, uri, database string) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri).SetServerSelectionTimeout(5*time.Second))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	return New(client.Database(database)), nil
}

func (s *Store) FindOne(ctx context.Context, coll string, filter bson.M, opts docstore.FindOptions) (docstore.Doc, error) {
	o := options.FindOne()
	if opts.Projection != nil {
		o.SetProjection(opts.Projection)
	}
	if len(opts.Sort) > 0 {
		o.SetSort(opts.Sort)
	}
	if opts.Skip > 0 {
		o.SetSkip(opts.Skip)
	}
	var doc bson.M
	err := s.db.Collection(coll).FindOne(ctx, filter, o).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find one %s: %w", coll, err)
	}
	return normalize(doc), nil
}

func (s *Store) Find(ctx context.Context, coll string, filter bson.M, opts docstore.FindOptions) ([]docstore.Doc, error) {
	o := options.Find()
	if opts.Projection != nil {
		o.SetProjection(opts.Projection)
	}
	if len(opts.Sort) > 0 {
		o.SetSort(opts.Sort)
	}
	if opts.Skip > 0 {
		o.SetSkip(opts.Skip)
	}
	if opts.Limit > 0 {
		o.SetLimit(opts.Limit)
	}
	cur, err := s.db.Collection(coll).Find(ctx, filter, o)
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", coll, err)
	}
	var raw []bson.M
	if err := cur.All(ctx, &raw); err != nil {
		return nil, fmt.Errorf("read %s cursor: %w", coll, err)
	}
	docs := make([]docstore.Doc, 0, len(raw))
	for _, d := range raw {
		docs = append(docs, normalize(d))
	}
	return docs, nil
}

func (s *Store) Insert(ctx context.Context, coll string, doc docstore.Doc) error {
	if _, err := s.db.Collection(coll).InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("insert %s: %w", coll, err)
	}
	return nil
}

func (s *Store) Update(ctx context.Context, coll string, filter, update bson.M, opts docstore.UpdateOptions) (docstore.UpdateResult, error) {
	c := s.db.Collection(coll)
	var (
		res *mongo.UpdateResult
		err error
	)
	switch {
	case !hasOperators(update):
		res, err = c.ReplaceOne(ctx, filter, update, options.Replace().SetUpsert(opts.Upsert))
	case opts.Multi:
		res, err = c.UpdateMany(ctx, filter, update, options.Update().SetUpsert(opts.Upsert))
	default:
		res, err = c.UpdateOne(ctx, filter, update, options.Update().SetUpsert(opts.Upsert))
	}
	if err != nil {
		return docstore.UpdateResult{}, fmt.Errorf("update %s: %w", coll, err)
	}
	return docstore.UpdateResult{
		Matched:    res.MatchedCount,
		Modified:   res.ModifiedCount,
		UpsertedID: res.UpsertedID,
	}, nil
}

func (s *Store) FindAndModify(ctx context.Context, coll string, filter bson.M, order bson.D, update bson.M, opts docstore.ModifyOptions) (docstore.Doc, error) {
	c := s.db.Collection(coll)
	ret := options.Before
	if opts.ReturnNew {
		ret = options.After
	}
	var res *mongo.SingleResult
	if hasOperators(update) {
		o := options.FindOneAndUpdate().SetReturnDocument(ret).SetUpsert(opts.Upsert)
		if len(order) > 0 {
			o.SetSort(order)
		}
		res = c.FindOneAndUpdate(ctx, filter, update, o)
	} else {
		o := options.FindOneAndReplace().SetReturnDocument(ret).SetUpsert(opts.Upsert)
		if len(order) > 0 {
			o.SetSort(order)
		}
		res = c.FindOneAndReplace(ctx, filter, update, o)
	}
	return decodeSingle(coll, res)
}

func (s *Store) FindAndRemove(ctx context.Context, coll string, filter bson.M, order bson.D) (docstore.Doc, error) {
	o := options.FindOneAndDelete()
	if len(order) > 0 {
		o.SetSort(order)
	}
	return decodeSingle(coll, s.db.Collection(coll).FindOneAndDelete(ctx, filter, o))
}

func (s *Store) Remove(ctx context.Context, coll string, filter bson.M, opts docstore.RemoveOptions) (int64, error) {
	c := s.db.Collection(coll)
	var (
		res *mongo.DeleteResult
		err error
	)
	if opts.Single {
		res, err = c.DeleteOne(ctx, filter)
	} else {
		res, err = c.DeleteMany(ctx, filter)
	}
	if err != nil {
		return 0, fmt.Errorf("remove %s: %w", coll, err)
	}
	return res.DeletedCount, nil
}

func (s *Store) Count(ctx context.Context, coll string, filter bson.M) (int64, error) {
	n, err := s.db.Collection(coll).CountDocuments(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", coll, err)
	}
	return n, nil
}

func (s *Store) CreateIndex(ctx context.Context, coll string, keys bson.D, opts docstore.IndexOptions) (string, error) {
	o := options.Index().SetUnique(opts.Unique).SetSparse(opts.Sparse)
	if opts.Name != "" {
		o.SetName(opts.Name)
	}
	name, err := s.db.Collection(coll).Indexes().CreateOne(ctx, mongo.IndexModel{Keys: keys, Options: o})
	if err != nil {
		return "", fmt.Errorf("create index on %s: %w", coll, err)
	}
	return name, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.Client().Ping(ctx, readpref.Primary())
}

func (s *Store) Close(ctx context.Context) error {
	return s.db.Client().Disconnect(ctx)
}

func decodeSingle(coll string, res *mongo.SingleResult) (docstore.Doc, error) {
	var doc bson.M
	err := res.Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find and modify %s: %w", coll, err)
	}
	return normalize(doc), nil
}

// normalize turns nested bson.D values into bson.M so drivers agree on shape.
func normalize(doc bson.M) docstore.Doc {
	out, _ := docstore.CloneValue(doc).(docstore.Doc)
	return out
}

func hasOperators(update bson.M) bool {
	for k := range update {
		if strings.HasPrefix(k, "$") {
			return true
		}
	}
	return false
}
