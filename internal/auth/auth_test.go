package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestJWT(t *testing.T) *JWT {
	t.Helper()
	hash, err := HashPassword("correct-horse")
	require.NoError(t, err)
	return NewJWT("test-secret", []User{{Name: "astronomer", Hash: hash}}, time.Hour, nil)
}

func TestLogin(t *testing.T) {
	j := newTestJWT(t)

	t.Run("valid credentials", func(t *testing.T) {
		token, err := j.Login("astronomer", "correct-horse")
		require.NoError(t, err)
		assert.NotEmpty(t, token)
	})

	t.Run("wrong password", func(t *testing.T) {
		_, err := j.Login("astronomer", "wrong")
		assert.Error(t, err)
	})

	t.Run("unknown user", func(t *testing.T) {
		_, err := j.Login("nobody", "correct-horse")
		assert.Error(t, err)
	})
}

func TestAuthenticate(t *testing.T) {
	j := newTestJWT(t)
	token, err := j.Login("astronomer", "correct-horse")
	require.NoError(t, err)

	t.Run("bearer header", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/ws", nil)
		r.Header.Set("Authorization", "Bearer "+token)
		subject, err := j.Authenticate(r)
		require.NoError(t, err)
		assert.Equal(t, "astronomer", subject)
	})

	t.Run("session cookie", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/ws", nil)
		r.AddCookie(&http.Cookie{Name: "session", Value: token})
		subject, err := j.Authenticate(r)
		require.NoError(t, err)
		assert.Equal(t, "astronomer", subject)
	})

	t.Run("missing credentials", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/ws", nil)
		_, err := j.Authenticate(r)
		assert.Error(t, err)
	})

	t.Run("tampered token", func(t *testing.T) {
		other := NewJWT("other-secret", nil, time.Hour, nil)
		r := httptest.NewRequest(http.MethodGet, "/ws", nil)
		r.Header.Set("Authorization", "Bearer "+token)
		_, err := other.Authenticate(r)
		assert.Error(t, err)
	})

	t.Run("expired token", func(t *testing.T) {
		short := NewJWT("test-secret", nil, -time.Minute, nil)
		hash, _ := HashPassword("pw")
		short.users["u"] = hash
		expired, err := short.Login("u", "pw")
		require.NoError(t, err)

		r := httptest.NewRequest(http.MethodGet, "/ws", nil)
		r.Header.Set("Authorization", "Bearer "+expired)
		_, err = j.Authenticate(r)
		assert.Error(t, err)
	})
}

func TestOpenProvider(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	subject, err := Open{}.Authenticate(r)
	require.NoError(t, err)
	assert.Equal(t, "anonymous", subject)
}
