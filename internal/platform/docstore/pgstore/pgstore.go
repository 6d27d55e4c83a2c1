// Package pgstore keeps documents in a PostgreSQL JSONB table. Documents are
// stored as relaxed extended JSON so ObjectIDs and dates survive a round trip.
// Selection on _id uses the primary key; remaining predicates and update
// operators run in process on rows locked with SELECT ... FOR UPDATE.
package pgstore

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"regexp"
	"sort"
	"strings"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"textrpg-server/internal/platform/docstore"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Migrations returns the SQL files that create the documents table.
func Migrations() fs.FS {
	sub, err := fs.Sub(migrations, "migrations")
	if err != nil {
		panic(err)
	}
	return sub
}

// Pool is the subset of pgxpool.Pool used by the store. pgxmock pools satisfy
// it as well.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

// querier is implemented by both Pool and pgx.Tx.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type Store struct {
	pool Pool
}

func New(pool Pool) *Store {
	return &Store{pool: pool}
}

var _ docstore.Driver = (*Store)(nil)

const (
	selectDocs = `SELECT id, doc FROM documents WHERE collection = $1`
	insertDoc  = `INSERT INTO documents (collection, id, doc) VALUES ($1, $2, $3)`
	updateDoc  = `UPDATE documents SET doc = $3, updated_at = NOW() WHERE collection = $1 AND id = $2`
	deleteDoc  = `DELETE FROM documents WHERE collection = $1 AND id = $2`
)

type row struct {
	id  string
	doc docstore.Doc
}

// load returns the rows of coll that match filter, sorted by order.
func load(ctx context.Context, q querier, coll string, filter bson.M, order bson.D, lock bool) ([]row, error) {
	sql := selectDocs
	args := []any{coll}
	if id, ok := plainID(filter); ok {
		key, err := idKey(id)
		if err != nil {
			return nil, err
		}
		sql += ` AND id = $2`
		args = append(args, key)
	}
	sql += ` ORDER BY created_at, id`
	if lock {
		sql += ` FOR UPDATE`
	}
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", coll, err)
	}
	defer rows.Close()

	var out []row
	for rows.Next() {
		var (
			id  string
			raw []byte
		)
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("scan %s: %w", coll, err)
		}
		doc, err := decode(raw)
		if err != nil {
			return nil, fmt.Errorf("decode %s/%s: %w", coll, id, err)
		}
		ok, err := docstore.Matches(doc, filter)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, row{id: id, doc: doc})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", coll, err)
	}
	if len(order) > 0 {
		sort.SliceStable(out, func(i, j int) bool {
			return docstore.Less(out[i].doc, out[j].doc, order)
		})
	}
	return out, nil
}

func (s *Store) FindOne(ctx context.Context, coll string, filter bson.M, opts docstore.FindOptions) (docstore.Doc, error) {
	opts.Limit = 1
	docs, err := s.Find(ctx, coll, filter, opts)
	if err != nil || len(docs) == 0 {
		return nil, err
	}
	return docs[0], nil
}

func (s *Store) Find(ctx context.Context, coll string, filter bson.M, opts docstore.FindOptions) ([]docstore.Doc, error) {
	rows, err := load(ctx, s.pool, coll, filter, opts.Sort, false)
	if err != nil {
		return nil, err
	}
	docs := make([]docstore.Doc, 0, len(rows))
	for _, r := range rows {
		docs = append(docs, r.doc)
	}
	docs = docstore.Window(docs, opts.Skip, opts.Limit)
	for i := range docs {
		docs[i] = docstore.Project(docs[i], opts.Projection)
	}
	return docs, nil
}

func (s *Store) Insert(ctx context.Context, coll string, doc docstore.Doc) error {
	return insert(ctx, s.pool, coll, doc)
}

func insert(ctx context.Context, q querier, coll string, doc docstore.Doc) error {
	key, err := idKey(doc[docstore.IDField])
	if err != nil {
		return err
	}
	raw, err := encode(doc)
	if err != nil {
		return err
	}
	if _, err := q.Exec(ctx, insertDoc, coll, key, raw); err != nil {
		return wrapWriteErr(coll, err)
	}
	return nil
}

func (s *Store) Update(ctx context.Context, coll string, filter, update bson.M, opts docstore.UpdateOptions) (docstore.UpdateResult, error) {
	var res docstore.UpdateResult
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		rows, err := load(ctx, tx, coll, filter, nil, true)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			if !opts.Upsert {
				return nil
			}
			doc, err := upsert(ctx, tx, coll, filter, update)
			if err != nil {
				return err
			}
			res.UpsertedID = doc[docstore.IDField]
			return nil
		}
		if !opts.Multi {
			rows = rows[:1]
		}
		res.Matched = int64(len(rows))
		for _, r := range rows {
			next, err := docstore.ApplyUpdate(r.doc, update)
			if err != nil {
				return err
			}
			if docstore.ValuesEqual(r.doc, next) {
				continue
			}
			if err := replace(ctx, tx, coll, r.id, next); err != nil {
				return err
			}
			res.Modified++
		}
		return nil
	})
	return res, err
}

func (s *Store) FindAndModify(ctx context.Context, coll string, filter bson.M, order bson.D, update bson.M, opts docstore.ModifyOptions) (docstore.Doc, error) {
	var out docstore.Doc
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		rows, err := load(ctx, tx, coll, filter, order, true)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			if !opts.Upsert {
				return nil
			}
			doc, err := upsert(ctx, tx, coll, filter, update)
			if err != nil {
				return err
			}
			if opts.ReturnNew {
				out = doc
			}
			return nil
		}
		r := rows[0]
		next, err := docstore.ApplyUpdate(r.doc, update)
		if err != nil {
			return err
		}
		if err := replace(ctx, tx, coll, r.id, next); err != nil {
			return err
		}
		out = r.doc
		if opts.ReturnNew {
			out = next
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) FindAndRemove(ctx context.Context, coll string, filter bson.M, order bson.D) (docstore.Doc, error) {
	var out docstore.Doc
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		rows, err := load(ctx, tx, coll, filter, order, true)
		if err != nil || len(rows) == 0 {
			return err
		}
		if _, err := tx.Exec(ctx, deleteDoc, coll, rows[0].id); err != nil {
			return fmt.Errorf("delete %s/%s: %w", coll, rows[0].id, err)
		}
		out = rows[0].doc
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) Remove(ctx context.Context, coll string, filter bson.M, opts docstore.RemoveOptions) (int64, error) {
	var n int64
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		rows, err := load(ctx, tx, coll, filter, nil, true)
		if err != nil {
			return err
		}
		if opts.Single && len(rows) > 1 {
			rows = rows[:1]
		}
		for _, r := range rows {
			tag, err := tx.Exec(ctx, deleteDoc, coll, r.id)
			if err != nil {
				return fmt.Errorf("delete %s/%s: %w", coll, r.id, err)
			}
			n += tag.RowsAffected()
		}
		return nil
	})
	return n, err
}

func (s *Store) Count(ctx context.Context, coll string, filter bson.M) (int64, error) {
	rows, err := load(ctx, s.pool, coll, filter, nil, false)
	return int64(len(rows)), err
}

var identPart = regexp.MustCompile(`[^a-zA-Z0-9_]+`)

// CreateIndex maps a document index onto an expression index over the JSONB
// column, partial on the collection. Sparse indexes also skip documents that
// lack the indexed fields.
func (s *Store) CreateIndex(ctx context.Context, coll string, keys bson.D, opts docstore.IndexOptions) (string, error) {
	if len(keys) == 0 {
		return "", fmt.Errorf("index needs at least one key")
	}
	name := opts.Name
	if name == "" {
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s_%v", k.Key, k.Value))
		}
		name = strings.Join(parts, "_")
	}
	sql := indexSQL(coll, name, keys, opts)
	if _, err := s.pool.Exec(ctx, sql); err != nil {
		return "", fmt.Errorf("create index %s on %s: %w", name, coll, err)
	}
	return name, nil
}

func indexSQL(coll, name string, keys bson.D, opts docstore.IndexOptions) string {
	exprs := make([]string, 0, len(keys))
	where := []string{"collection = " + quoteLiteral(coll)}
	for _, k := range keys {
		path := "{" + strings.ReplaceAll(k.Key, ".", ",") + "}"
		exprs = append(exprs, "(doc #>> "+quoteLiteral(path)+")")
		if opts.Sparse {
			where = append(where, "doc #> "+quoteLiteral(path)+" IS NOT NULL")
		}
	}
	kind := "INDEX"
	if opts.Unique {
		kind = "UNIQUE INDEX"
	}
	ident := pgx.Identifier{identPart.ReplaceAllString("documents_"+coll+"_"+name, "_")}.Sanitize()
	return fmt.Sprintf("CREATE %s IF NOT EXISTS %s ON documents (%s) WHERE %s",
		kind, ident, strings.Join(exprs, ", "), strings.Join(where, " AND "))
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) Close(context.Context) error {
	s.pool.Close()
	return nil
}

func (s *Store) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func upsert(ctx context.Context, tx pgx.Tx, coll string, filter, update bson.M) (docstore.Doc, error) {
	doc, err := docstore.ApplyUpdate(docstore.UpsertSeed(filter), update)
	if err != nil {
		return nil, err
	}
	if _, ok := doc[docstore.IDField]; !ok {
		doc[docstore.IDField] = primitive.NewObjectID()
	}
	if err := insert(ctx, tx, coll, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func replace(ctx context.Context, tx pgx.Tx, coll, id string, doc docstore.Doc) error {
	raw, err := encode(doc)
	if err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, updateDoc, coll, id, raw); err != nil {
		return wrapWriteErr(coll, err)
	}
	return nil
}

// plainID returns the _id of a filter that selects by equality on it.
func plainID(filter bson.M) (any, bool) {
	id, ok := filter[docstore.IDField]
	if !ok {
		return nil, false
	}
	if m, isMap := id.(bson.M); isMap {
		for k := range m {
			if strings.HasPrefix(k, "$") {
				return nil, false
			}
		}
	}
	return id, true
}

func idKey(id any) (string, error) {
	switch v := id.(type) {
	case primitive.ObjectID:
		return v.Hex(), nil
	case string:
		return v, nil
	case nil:
		return "", fmt.Errorf("document has no %s", docstore.IDField)
	case int, int32, int64:
		return fmt.Sprint(v), nil
	}
	return "", fmt.Errorf("unsupported %s type %T", docstore.IDField, id)
}

func encode(doc docstore.Doc) ([]byte, error) {
	raw, err := bson.MarshalExtJSON(doc, false, false)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	return raw, nil
}

func decode(raw []byte) (docstore.Doc, error) {
	var doc bson.M
	if err := bson.UnmarshalExtJSON(raw, false, &doc); err != nil {
		return nil, err
	}
	out, _ := docstore.CloneValue(doc).(docstore.Doc)
	return out, nil
}

// DuplicateKeyError reports a unique index violation.
type DuplicateKeyError struct {
	Collection string
	Constraint string
	err        error
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("duplicate key error: %s index %s", e.Collection, e.Constraint)
}

func (e *DuplicateKeyError) Unwrap() error { return e.err }

func wrapWriteErr(coll string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
		return &DuplicateKeyError{Collection: coll, Constraint: pgErr.ConstraintName, err: err}
	}
	return fmt.Errorf("write %s: %w", coll, err)
}
