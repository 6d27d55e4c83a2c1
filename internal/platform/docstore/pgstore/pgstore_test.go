package pgstore

import (
	"context"
	"errors"
	"io/fs"
	"regexp"
	"testing"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"textrpg-server/internal/platform/docstore"
)

const hexID = "5f1d7f3e9b1e8a3c4d2b6a10"

func newMock(t *testing.T) (pgxmock.PgxPoolIface, *Store) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock, New(mock)
}

func docRows(docs ...string) *pgxmock.Rows {
	rows := pgxmock.NewRows([]string{"id", "doc"})
	for i, d := range docs {
		rows.AddRow(string(rune('a'+i)), []byte(d))
	}
	return rows
}

func q(sql string) string { return regexp.QuoteMeta(sql) }

func TestFindOneByIDUsesPrimaryKey(t *testing.T) {
	mock, store := newMock(t)
	oid, err := primitive.ObjectIDFromHex(hexID)
	require.NoError(t, err)

	mock.ExpectQuery(q(`SELECT id, doc FROM documents WHERE collection = $1 AND id = $2`)).
		WithArgs("characters", hexID).
		WillReturnRows(docRows(`{"_id":{"$oid":"` + hexID + `"},"name":"orc01","health":100,"position":{"x":0,"y":2}}`))

	got, err := store.FindOne(context.Background(), "characters", bson.M{"_id": oid}, docstore.FindOptions{})
	require.NoError(t, err)
	assert.Equal(t, oid, got["_id"])
	assert.Equal(t, int32(100), got["health"])
	assert.Equal(t, bson.M{"x": int32(0), "y": int32(2)}, got["position"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindFiltersSortsAndProjects(t *testing.T) {
	mock, store := newMock(t)
	mock.ExpectQuery(q(`SELECT id, doc FROM documents WHERE collection = $1 ORDER BY`)).
		WithArgs("characters").
		WillReturnRows(docRows(
			`{"_id":"a","userId":"u1","name":"bbbbb"}`,
			`{"_id":"b","userId":"u2","name":"aaaaa"}`,
			`{"_id":"c","userId":"u1","name":"aaaaa"}`,
		))

	got, err := store.Find(context.Background(), "characters", bson.M{"userId": "u1"}, docstore.FindOptions{
		Sort:       bson.D{{Key: "name", Value: 1}},
		Projection: bson.M{"_id": 1},
	})
	require.NoError(t, err)
	assert.Equal(t, []docstore.Doc{{"_id": "c"}, {"_id": "a"}}, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindQueryError(t *testing.T) {
	mock, store := newMock(t)
	mock.ExpectQuery(q(`SELECT id, doc FROM documents`)).WillReturnError(errors.New("connection refused"))

	_, err := store.Find(context.Background(), "users", nil, docstore.FindOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsert(t *testing.T) {
	mock, store := newMock(t)
	oid, _ := primitive.ObjectIDFromHex(hexID)
	mock.ExpectExec(q(`INSERT INTO documents (collection, id, doc)`)).
		WithArgs("users", hexID, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := store.Insert(context.Background(), "users", docstore.Doc{"_id": oid, "alias": "hero1"})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertDuplicateKey(t *testing.T) {
	mock, store := newMock(t)
	mock.ExpectExec(q(`INSERT INTO documents`)).
		WithArgs("users", "u1", pgxmock.AnyArg()).
		WillReturnError(&pgconn.PgError{Code: pgerrcode.UniqueViolation, ConstraintName: "documents_users_email_1"})

	err := store.Insert(context.Background(), "users", docstore.Doc{"_id": "u1", "email": "a@x.io"})
	var dup *DuplicateKeyError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, "documents_users_email_1", dup.Constraint)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertWithoutIDFails(t *testing.T) {
	_, store := newMock(t)
	require.Error(t, store.Insert(context.Background(), "users", docstore.Doc{"alias": "hero1"}))
}

func TestFindAndModifyReturnsNewDoc(t *testing.T) {
	mock, store := newMock(t)
	mock.ExpectBegin()
	mock.ExpectQuery(q(`SELECT id, doc FROM documents WHERE collection = $1 AND id = $2 ORDER BY created_at, id FOR UPDATE`)).
		WithArgs("characters", "c1").
		WillReturnRows(docRows(`{"_id":"c1","position":{"x":0,"y":0}}`))
	mock.ExpectExec(q(`UPDATE documents SET doc = $3`)).
		WithArgs("characters", "a", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	got, err := store.FindAndModify(context.Background(), "characters", bson.M{"_id": "c1"}, nil,
		bson.M{"$inc": bson.M{"position.x": 1, "position.y": -1}},
		docstore.ModifyOptions{ReturnNew: true})
	require.NoError(t, err)
	assert.Equal(t, bson.M{"x": int32(1), "y": int32(-1)}, got["position"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindAndModifyRollsBackOnBadUpdate(t *testing.T) {
	mock, store := newMock(t)
	mock.ExpectBegin()
	mock.ExpectQuery(q(`FOR UPDATE`)).
		WillReturnRows(docRows(`{"_id":"c1","name":"orc01"}`))
	mock.ExpectRollback()

	_, err := store.FindAndModify(context.Background(), "characters", bson.M{"_id": "c1"}, nil,
		bson.M{"$inc": bson.M{"name": 1}}, docstore.ModifyOptions{})
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindAndModifyNoMatch(t *testing.T) {
	mock, store := newMock(t)
	mock.ExpectBegin()
	mock.ExpectQuery(q(`FOR UPDATE`)).WillReturnRows(docRows())
	mock.ExpectCommit()

	got, err := store.FindAndModify(context.Background(), "characters", bson.M{"_id": "c1"}, nil,
		bson.M{"$inc": bson.M{"position.x": 1}}, docstore.ModifyOptions{ReturnNew: true})
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateSkipsUnchangedRows(t *testing.T) {
	mock, store := newMock(t)
	mock.ExpectBegin()
	mock.ExpectQuery(q(`FOR UPDATE`)).
		WillReturnRows(docRows(
			`{"_id":"a","userId":"u1","health":5}`,
			`{"_id":"b","userId":"u1","health":7}`,
		))
	mock.ExpectExec(q(`UPDATE documents`)).
		WithArgs("characters", "b", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	res, err := store.Update(context.Background(), "characters", bson.M{"userId": "u1"},
		bson.M{"$set": bson.M{"health": 5}}, docstore.UpdateOptions{Multi: true})
	require.NoError(t, err)
	assert.Equal(t, docstore.UpdateResult{Matched: 2, Modified: 1}, res)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRemoveDeletesMatches(t *testing.T) {
	mock, store := newMock(t)
	mock.ExpectBegin()
	mock.ExpectQuery(q(`FOR UPDATE`)).
		WithArgs("characters").
		WillReturnRows(docRows(
			`{"_id":"x","userId":"u1"}`,
			`{"_id":"y","userId":"u2"}`,
			`{"_id":"z","userId":"u1"}`,
		))
	mock.ExpectExec(q(`DELETE FROM documents`)).WithArgs("characters", "a").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec(q(`DELETE FROM documents`)).WithArgs("characters", "c").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectCommit()

	n, err := store.Remove(context.Background(), "characters", bson.M{"userId": "u1"}, docstore.RemoveOptions{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindAndRemove(t *testing.T) {
	mock, store := newMock(t)
	mock.ExpectBegin()
	mock.ExpectQuery(q(`FOR UPDATE`)).
		WillReturnRows(docRows(`{"_id":"x","health":1}`, `{"_id":"y","health":9}`))
	mock.ExpectExec(q(`DELETE FROM documents`)).WithArgs("characters", "b").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectCommit()

	got, err := store.FindAndRemove(context.Background(), "characters", nil, bson.D{{Key: "health", Value: -1}})
	require.NoError(t, err)
	assert.Equal(t, "y", got["_id"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateIndex(t *testing.T) {
	mock, store := newMock(t)
	mock.ExpectExec(q(`CREATE UNIQUE INDEX IF NOT EXISTS "documents_users_email_1" ON documents ((doc #>> '{email}')) WHERE collection = 'users'`)).
		WillReturnResult(pgxmock.NewResult("CREATE INDEX", 0))

	name, err := store.CreateIndex(context.Background(), "users", bson.D{{Key: "email", Value: 1}}, docstore.IndexOptions{Unique: true})
	require.NoError(t, err)
	assert.Equal(t, "email_1", name)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIndexSQLSparse(t *testing.T) {
	got := indexSQL("characters", "pos", bson.D{{Key: "position.x", Value: 1}}, docstore.IndexOptions{Sparse: true})
	assert.Equal(t, `CREATE INDEX IF NOT EXISTS "documents_characters_pos" ON documents ((doc #>> '{position,x}')) `+
		`WHERE collection = 'characters' AND doc #> '{position,x}' IS NOT NULL`, got)
}

func TestEncodeDecodeKeepsObjectIDs(t *testing.T) {
	oid := primitive.NewObjectID()
	raw, err := encode(docstore.Doc{"_id": oid, "characters": bson.A{oid.Hex()}})
	require.NoError(t, err)
	doc, err := decode(raw)
	require.NoError(t, err)
	assert.Equal(t, oid, doc["_id"])
	assert.Equal(t, bson.A{oid.Hex()}, doc["characters"])
}

func TestMigrationsEmbedded(t *testing.T) {
	b, err := fs.ReadFile(Migrations(), "0001_documents.sql")
	require.NoError(t, err)
	assert.Contains(t, string(b), "CREATE TABLE IF NOT EXISTS documents")
}
