package service

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-guard-api/internal/models"
	appErrors "github.com/noah-isme/sma-guard-api/pkg/errors"
)

func signToken(t *testing.T, method jwt.SigningMethod, key interface{}, claims models.JWTClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return token
}

func validClaims() models.JWTClaims {
	return models.JWTClaims{
		UserID:      "user-1",
		Role:        models.RoleAdmin,
		InstituteID: "inst-1",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
}

func TestTokenVerifierAcceptsValidToken(t *testing.T) {
	verifier := NewTokenVerifier("secret")
	claims, err := verifier.ValidateToken(signToken(t, jwt.SigningMethodHS256, []byte("secret"), validClaims()))
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, "inst-1", claims.InstituteID)
}

func TestTokenVerifierRejectsInvalidTokens(t *testing.T) {
	verifier := NewTokenVerifier("secret")

	expired := validClaims()
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))

	noRole := validClaims()
	noRole.Role = ""

	cases := map[string]string{
		"wrong secret": signToken(t, jwt.SigningMethodHS256, []byte("other"), validClaims()),
		"wrong alg":    signToken(t, jwt.SigningMethodHS512, []byte("secret"), validClaims()),
		"expired":      signToken(t, jwt.SigningMethodHS256, []byte("secret"), expired),
		"missing role": signToken(t, jwt.SigningMethodHS256, []byte("secret"), noRole),
		"garbage":      "not-a-token",
	}
	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := verifier.ValidateToken(token)
			assert.ErrorIs(t, err, appErrors.ErrUnauthorized)
		})
	}
}
