package auth_test

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BrandonDHaskell/Argus/internal/argus/types"
	"github.com/BrandonDHaskell/Argus/internal/auth"
)

var secret = []byte("test-secret")

func TestIssueAndValidate(t *testing.T) {
	tok, err := auth.NewTokenIssuer(secret, time.Hour).Issue("student-1", types.RoleStudent)
	require.NoError(t, err)

	caller, err := auth.NewValidator(secret).Validate(tok)
	require.NoError(t, err)
	assert.Equal(t, types.Caller{ID: "student-1", Role: types.RoleStudent}, caller)
}

func TestIssue_RejectsBadInput(t *testing.T) {
	iss := auth.NewTokenIssuer(secret, time.Hour)

	_, err := iss.Issue("", types.RoleAdmin)
	assert.Error(t, err)
	_, err = iss.Issue("x", types.Role("root"))
	assert.Error(t, err)
	_, err = auth.NewTokenIssuer(nil, time.Hour).Issue("x", types.RoleAdmin)
	assert.Error(t, err)
}

func TestValidate_Failures(t *testing.T) {
	good, err := auth.NewTokenIssuer(secret, time.Hour).Issue("admin-1", types.RoleAdmin)
	require.NoError(t, err)

	expired := signed(t, auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "admin-1",
			Issuer:    auth.Issuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
		Role: types.RoleAdmin,
	})
	noRole := signed(t, auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "admin-1", Issuer: auth.Issuer},
	})
	foreignIssuer := signed(t, auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "admin-1", Issuer: "elsewhere"},
		Role:             types.RoleAdmin,
	})

	cases := map[string]struct {
		v     *auth.Validator
		token string
	}{
		"wrong secret":   {auth.NewValidator([]byte("other")), good},
		"no secret":      {auth.NewValidator(nil), good},
		"garbage":        {auth.NewValidator(secret), "not-a-jwt"},
		"expired":        {auth.NewValidator(secret), expired},
		"missing role":   {auth.NewValidator(secret), noRole},
		"foreign issuer": {auth.NewValidator(secret), foreignIssuer},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := tc.v.Validate(tc.token)
			assert.ErrorIs(t, err, auth.ErrUnauthenticated)
		})
	}
}

func TestValidate_RejectsNoneAlgorithm(t *testing.T) {
	tok, err := jwt.NewWithClaims(jwt.SigningMethodNone, auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "admin-1", Issuer: auth.Issuer},
		Role:             types.RoleAdmin,
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = auth.NewValidator(secret).Validate(tok)
	assert.ErrorIs(t, err, auth.ErrUnauthenticated)
}

func TestBearerToken(t *testing.T) {
	tok, ok := auth.BearerToken("Bearer abc")
	assert.True(t, ok)
	assert.Equal(t, "abc", tok)

	tok, ok = auth.BearerToken("bearer   abc ")
	assert.True(t, ok)
	assert.Equal(t, "abc", tok)

	for _, h := range []string{"", "Bearer", "Basic abc", "Bearer "} {
		_, ok := auth.BearerToken(h)
		assert.False(t, ok, h)
	}
}

func TestRequire(t *testing.T) {
	iss := auth.NewTokenIssuer(secret, time.Hour)
	adminTok, _ := iss.Issue("admin-1", types.RoleAdmin)
	studentTok, _ := iss.Issue("student-1", types.RoleStudent)

	var failed error
	fail := func(w http.ResponseWriter, err error) {
		failed = err
		w.WriteHeader(http.StatusTeapot)
	}

	var seen types.Caller
	h := auth.Require(auth.NewValidator(secret), fail, types.RoleAdmin)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = auth.CallerFrom(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	run := func(header, query string) int {
		failed = nil
		req := httptest.NewRequest(http.MethodGet, "/exam/active"+query, nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusOK, run("Bearer "+adminTok, ""))
	assert.Equal(t, "admin-1", seen.ID)

	assert.Equal(t, http.StatusOK, run("", "?token="+adminTok))

	assert.Equal(t, http.StatusTeapot, run("Bearer "+studentTok, ""))
	assert.True(t, errors.Is(failed, auth.ErrForbidden))

	assert.Equal(t, http.StatusTeapot, run("", ""))
	assert.True(t, errors.Is(failed, auth.ErrUnauthenticated))
}

func signed(t *testing.T, c auth.Claims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(secret)
	require.NoError(t, err)
	return tok
}
