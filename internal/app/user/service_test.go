package user

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"textrpg-server/internal/domain/character"
	"textrpg-server/internal/domain/user"
	"textrpg-server/internal/platform/apperr"
	"textrpg-server/internal/platform/docstore"
	"textrpg-server/internal/platform/docstore/memstore"
	"textrpg-server/internal/platform/password"
)

type recorder struct {
	mu       sync.Mutex
	subjects []string
}

func (r *recorder) Publish(_ context.Context, subject string, _ []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subjects = append(r.subjects, subject)
	return nil
}

func (r *recorder) Close() {}

type fixture struct {
	svc        *Service
	users      *docstore.Collection
	characters *docstore.Collection
	hasher     *password.Hasher
	pub        *recorder
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	store := memstore.New()
	model := user.Schema(false)
	users := docstore.NewCollection(store, user.Collection, docstore.WithSchema(model))
	characters := docstore.NewCollection(store, character.Collection)
	hasher := password.NewHasher("pepper", password.Params{Time: 1, MemoryKiB: 8 * 1024})
	pub := &recorder{}
	return fixture{
		svc:        NewService(users, characters, model, hasher, pub, zerolog.Nop()),
		users:      users,
		characters: characters,
		hasher:     hasher,
		pub:        pub,
	}
}

func TestCreateHashesPassword(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	u, err := f.svc.Create(ctx, map[string]any{"alias": "player1", "email": "a@b.com", "password": "secret123"})
	require.NoError(t, err)
	require.False(t, u.ID.IsZero())

	doc, err := f.users.FindOne(ctx, u.ID, docstore.FindOptions{})
	require.NoError(t, err)
	stored := doc["password"].(string)
	assert.NotEqual(t, "secret123", stored)
	assert.True(t, strings.HasPrefix(stored, "$argon2id$"))

	ok, err := f.hasher.Compare("secret123", stored)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []string{"user.created"}, f.pub.subjects)
}

func TestCreateRejectsInvalidWithoutWriting(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tests := []struct {
		name   string
		fields map[string]any
		code   string
	}{
		{"short alias", map[string]any{"alias": "pl", "email": "a@b.com", "password": "secret123"}, apperr.CodeValidationFailed},
		{"missing password", map[string]any{"alias": "player1", "email": "a@b.com"}, apperr.CodeValidationFailed},
		{"empty password", map[string]any{"alias": "player1", "email": "a@b.com", "password": ""}, apperr.CodeEmptyPassword},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Create(ctx, tt.fields)
			require.Error(t, err)
			assert.Equal(t, tt.code, apperr.Code(err))
		})
	}
	n, err := f.users.Count(ctx, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, f.pub.subjects)
}

func TestGetAndFindByEmail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created, err := f.svc.Create(ctx, map[string]any{"alias": "player1", "email": "a@b.com", "password": "secret123"})
	require.NoError(t, err)

	got, err := f.svc.Get(ctx, created.ID.Hex())
	require.NoError(t, err)
	assert.Equal(t, "player1", got.Alias)

	byEmail, err := f.svc.FindByEmail(ctx, "a@b.com")
	require.NoError(t, err)
	assert.Equal(t, created.ID, byEmail.ID)

	missing, err := f.svc.Get(ctx, primitive.NewObjectID().Hex())
	require.NoError(t, err)
	assert.Nil(t, missing)

	_, err = f.svc.Get(ctx, "not-an-id")
	assert.Equal(t, apperr.CodeInvalidID, apperr.Code(err))

	all, err := f.svc.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestUpdate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created, err := f.svc.Create(ctx, map[string]any{"alias": "player1", "email": "a@b.com", "password": "secret123"})
	require.NoError(t, err)
	id := created.ID.Hex()

	updated, err := f.svc.Update(ctx, id, map[string]any{"alias": "player2", "password": "newsecret"})
	require.NoError(t, err)
	assert.Equal(t, "player2", updated.Alias)
	assert.Equal(t, "a@b.com", updated.Email)
	ok, err := f.hasher.Compare("newsecret", updated.Password)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = f.svc.Update(ctx, id, map[string]any{"email": "nope"})
	assert.Equal(t, apperr.KindValidation, apperr.Kind(err))

	_, err = f.svc.Update(ctx, id, map[string]any{"password": 42})
	assert.Equal(t, apperr.KindValidation, apperr.Kind(err))

	same, err := f.svc.Update(ctx, id, map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, "player2", same.Alias)

	missing, err := f.svc.Update(ctx, primitive.NewObjectID().Hex(), map[string]any{"alias": "player3"})
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestDeleteRemovesCharacters(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created, err := f.svc.Create(ctx, map[string]any{"alias": "player1", "email": "a@b.com", "password": "secret123"})
	require.NoError(t, err)
	id := created.ID.Hex()
	for _, owner := range []string{id, id, "someone-else"} {
		_, err := f.characters.Save(ctx, docstore.Doc{"name": "orc01", "userId": owner})
		require.NoError(t, err)
	}

	ok, err := f.svc.Delete(ctx, id)
	require.NoError(t, err)
	assert.True(t, ok)

	left, err := f.characters.Count(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), left)
	n, err := f.characters.Count(ctx, bson.M{"userId": id})
	require.NoError(t, err)
	assert.Zero(t, n)

	ok, err = f.svc.Delete(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, []string{"user.created", "user.deleted"}, f.pub.subjects)
}
