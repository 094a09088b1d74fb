package ingress

import (
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAuthChainEmptyLeavesRoutesOpen(t *testing.T) {
	chain := NewAuthChain(nil, nil)

	reached := false
	handler := chain.Then(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached = true
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.True(t, reached)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestNewAuthChainEnforcesBasicCredentials(t *testing.T) {
	credential := base64.StdEncoding.EncodeToString([]byte("admin:secret"))
	chain := NewAuthChain([]string{credential}, nil)

	reached := false
	handler := chain.Then(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached = true
	}))

	// No Authorization header: the request must never reach the handler.
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.False(t, reached)
	assert.GreaterOrEqual(t, rec.Code, http.StatusBadRequest)

	// Valid credentials pass through.
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Basic "+credential)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.True(t, reached)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Wrong password is rejected.
	reached = false
	bad := base64.StdEncoding.EncodeToString([]byte("admin:wrong"))
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Basic "+bad)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.False(t, reached)
	assert.GreaterOrEqual(t, rec.Code, http.StatusBadRequest)
}
