package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAuthenticator() *APIKeyAuthenticator {
	return NewAPIKeyAuthenticator([]APIKey{
		{ID: "ops", Name: "ops", Role: RoleAdmin, KeyHash: HashKey("admin-secret")},
		{ID: "shop", Name: "shop", Role: RoleCustomer, KeyHash: HashKey("customer-secret")},
	})
}

func TestAuthenticate(t *testing.T) {
	a := newTestAuthenticator()
	ctx := context.Background()

	p, err := a.Authenticate(ctx, "admin-secret")
	require.NoError(t, err)
	assert.Equal(t, "ops", p.ID)
	assert.True(t, p.HasRole(RoleAdmin))
	assert.True(t, p.HasRole(RoleCustomer))

	p, err = a.Authenticate(ctx, "customer-secret")
	require.NoError(t, err)
	assert.False(t, p.HasRole(RoleAdmin))

	_, err = a.Authenticate(ctx, "wrong")
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = a.Authenticate(ctx, "")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestParseKeys(t *testing.T) {
	hash := HashKey("k")
	keys, err := ParseKeys(" ops:admin:" + hash + ", ")
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, "ops", keys[0].ID)
	assert.Equal(t, RoleAdmin, keys[0].Role)

	_, err = ParseKeys("ops:admin")
	assert.Error(t, err)

	_, err = ParseKeys("ops:admin:nothex")
	assert.Error(t, err)

	_, err = ParseKeys("ops:root:" + hash)
	assert.ErrorContains(t, err, "unknown role")

	keys, err = ParseKeys("shop:customer:" + hash)
	require.NoError(t, err)
	assert.Equal(t, RoleCustomer, keys[0].Role)

	keys, err = ParseKeys("")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestRequireRole(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/admin", RequireRole(newTestAuthenticator(), RoleAdmin), func(c *gin.Context) {
		p, ok := PrincipalFrom(c)
		require.True(t, ok)
		c.String(http.StatusOK, p.ID)
	})

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"unknown key", "Bearer nope", http.StatusUnauthorized},
		{"wrong role", "Bearer customer-secret", http.StatusForbidden},
		{"admin", "Bearer admin-secret", http.StatusOK},
		{"case insensitive scheme", "bearer admin-secret", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/admin", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}
