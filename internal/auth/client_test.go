package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPValidatorSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/session", r.URL.Path)
		assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"user_id":"alice"}`))
	}))
	defer server.Close()

	validator := NewHTTPValidator(server.URL)
	userID, err := validator.ValidateToken(context.Background(), "tok-1")
	require.NoError(t, err)
	assert.Equal(t, "alice", userID)
}

func TestHTTPValidatorRejectsUnauthorized(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	validator := NewHTTPValidator(server.URL)
	_, err := validator.ValidateToken(context.Background(), "expired")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestHTTPValidatorRejectsEmptyUserID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	validator := NewHTTPValidator(server.URL)
	_, err := validator.ValidateToken(context.Background(), "tok-1")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestHTTPValidatorSurfacesServerErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	validator := NewHTTPValidator(server.URL)
	_, err := validator.ValidateToken(context.Background(), "tok-1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidToken)
}

func TestDevValidator(t *testing.T) {
	userID, err := DevValidator{}.ValidateToken(context.Background(), "dev:alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", userID)

	_, err = DevValidator{}.ValidateToken(context.Background(), "dev:")
	assert.ErrorIs(t, err, ErrInvalidToken)
	_, err = DevValidator{}.ValidateToken(context.Background(), "alice")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestNewValidatorSelection(t *testing.T) {
	_, ok := NewValidator("").(DevValidator)
	assert.True(t, ok)

	_, ok = NewValidator("http://auth.internal").(*HTTPValidator)
	assert.True(t, ok)
}
