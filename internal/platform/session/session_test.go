package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newManager(store Store) *Manager {
	return NewManager(store, Options{CookieName: "rpg.sid", Secret: "secret", TTL: time.Hour}, zerolog.Nop())
}

// serve runs a request through Load and returns the session the handler saw.
func serve(t *testing.T, m *Manager, cookie *http.Cookie, fn func(w http.ResponseWriter, r *http.Request, s *Session)) (*Session, *httptest.ResponseRecorder) {
	t.Helper()
	var seen *Session
	h := m.Load(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = FromContext(r.Context())
		if fn != nil {
			fn(w, r, seen)
		}
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.NotNil(t, seen)
	return seen, rec
}

func cookieFrom(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == "rpg.sid" {
			return c
		}
	}
	t.Fatal("no session cookie set")
	return nil
}

func TestAnonymousSessionIsNotStored(t *testing.T) {
	store := NewMemoryStore()
	m := newManager(store)
	s, rec := serve(t, m, nil, nil)
	assert.Nil(t, s.User)
	assert.Empty(t, rec.Result().Cookies())

	got, err := store.Get(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSaveAndReload(t *testing.T) {
	m := newManager(NewMemoryStore())
	first, rec := serve(t, m, nil, func(w http.ResponseWriter, r *http.Request, s *Session) {
		s.User = &User{ID: "u1", Alias: "hero1", Email: "hero@x.io", Characters: []string{"c1"}}
		require.NoError(t, m.Save(r.Context(), w, s))
	})
	c := cookieFrom(t, rec)
	assert.True(t, c.HttpOnly)

	second, _ := serve(t, m, c, nil)
	assert.Equal(t, first.ID, second.ID)
	require.NotNil(t, second.User)
	assert.Equal(t, "hero1", second.User.Alias)
	assert.True(t, second.User.HasCharacter("c1"))
}

func TestForgedCookieGetsFreshSession(t *testing.T) {
	m := newManager(NewMemoryStore())
	_, rec := serve(t, m, nil, func(w http.ResponseWriter, r *http.Request, s *Session) {
		s.User = &User{ID: "u1"}
		require.NoError(t, m.Save(r.Context(), w, s))
	})
	c := cookieFrom(t, rec)

	other := NewManager(NewMemoryStore(), Options{CookieName: "rpg.sid", Secret: "other", TTL: time.Hour}, zerolog.Nop())
	s, _ := serve(t, other, c, nil)
	assert.Nil(t, s.User)

	s, _ = serve(t, m, &http.Cookie{Name: "rpg.sid", Value: "garbage"}, nil)
	assert.Nil(t, s.User)
}

func TestExpiredSession(t *testing.T) {
	store := NewMemoryStore()
	m := newManager(store)
	now := time.Now()
	m.now = func() time.Time { return now }
	store.now = func() time.Time { return now }

	_, rec := serve(t, m, nil, func(w http.ResponseWriter, r *http.Request, s *Session) {
		s.User = &User{ID: "u1"}
		require.NoError(t, m.Save(r.Context(), w, s))
	})
	c := cookieFrom(t, rec)

	now = now.Add(2 * time.Hour)
	s, _ := serve(t, m, c, nil)
	assert.Nil(t, s.User)
}

func TestRegenerate(t *testing.T) {
	store := NewMemoryStore()
	m := newManager(store)
	var oldID string
	s, rec := serve(t, m, nil, func(w http.ResponseWriter, r *http.Request, s *Session) {
		require.NoError(t, m.Save(r.Context(), w, s))
		oldID = s.ID
		s.User = &User{ID: "u1"}
		require.NoError(t, m.Regenerate(r.Context(), w, s))
	})
	assert.NotEqual(t, oldID, s.ID)

	old, err := store.Get(context.Background(), oldID)
	require.NoError(t, err)
	assert.Nil(t, old)

	cookies := rec.Result().Cookies()
	reloaded, _ := serve(t, m, cookies[len(cookies)-1], nil)
	assert.Equal(t, s.ID, reloaded.ID)
	assert.Equal(t, "u1", reloaded.User.ID)
}

func TestDestroy(t *testing.T) {
	store := NewMemoryStore()
	m := newManager(store)
	_, rec := serve(t, m, nil, func(w http.ResponseWriter, r *http.Request, s *Session) {
		s.User = &User{ID: "u1"}
		require.NoError(t, m.Save(r.Context(), w, s))
	})
	c := cookieFrom(t, rec)

	_, rec = serve(t, m, c, func(w http.ResponseWriter, r *http.Request, s *Session) {
		require.NoError(t, m.Destroy(r.Context(), w, s))
		assert.Nil(t, s.User)
	})
	assert.Equal(t, -1, cookieFrom(t, rec).MaxAge)

	s, _ := serve(t, m, c, nil)
	assert.Nil(t, s.User)
}

func TestUserCharacters(t *testing.T) {
	u := &User{}
	u.AddCharacter("c1")
	u.AddCharacter("c1")
	u.AddCharacter("c2")
	assert.Equal(t, []string{"c1", "c2"}, u.Characters)
	u.RemoveCharacter("c1")
	assert.Equal(t, []string{"c2"}, u.Characters)

	var none *User
	assert.False(t, none.HasCharacter("c2"))
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	store := NewMemoryStore()
	s := &Session{ID: "s1", User: &User{ID: "u1", Characters: []string{"c1"}}, ExpiresAt: time.Now().Add(time.Hour)}
	require.NoError(t, store.Save(context.Background(), s))
	s.User.Characters[0] = "changed"

	got, err := store.Get(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, []string{"c1"}, got.User.Characters)
}
