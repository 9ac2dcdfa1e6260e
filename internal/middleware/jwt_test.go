package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/noah-isme/sma-guard-api/internal/models"
	appErrors "github.com/noah-isme/sma-guard-api/pkg/errors"
)

type stubValidator map[string]*models.JWTClaims

func (s stubValidator) ValidateToken(token string) (*models.JWTClaims, error) {
	if claims, ok := s[token]; ok {
		return claims, nil
	}
	return nil, appErrors.Wrap(errors.New("bad signature"), appErrors.ErrUnauthorized.Code, appErrors.ErrUnauthorized.Status, "invalid token")
}

func newProtectedRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	validator := stubValidator{
		"admin-token":   {UserID: "u1", Role: models.RoleAdmin, InstituteID: "inst-1"},
		"teacher-token": {UserID: "u2", Role: models.RoleTeacher, InstituteID: "inst-1"},
	}
	router.Use(JWT(validator))
	router.GET("/read", func(c *gin.Context) {
		claims := c.MustGet(ContextUserKey).(*models.JWTClaims)
		c.String(http.StatusOK, claims.UserID)
	})
	router.POST("/write", RequireRoles(models.RoleAdmin, models.RoleSuperAdmin), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	return router
}

func TestJWTMiddleware(t *testing.T) {
	router := newProtectedRouter()
	cases := []struct {
		name   string
		method string
		path   string
		header string
		status int
	}{
		{"missing header", http.MethodGet, "/read", "", http.StatusUnauthorized},
		{"wrong scheme", http.MethodGet, "/read", "Basic admin-token", http.StatusUnauthorized},
		{"bad token", http.MethodGet, "/read", "Bearer forged", http.StatusUnauthorized},
		{"valid token", http.MethodGet, "/read", "Bearer admin-token", http.StatusOK},
		{"lowercase scheme", http.MethodGet, "/read", "bearer admin-token", http.StatusOK},
		{"teacher cannot write", http.MethodPost, "/write", "Bearer teacher-token", http.StatusForbidden},
		{"admin can write", http.MethodPost, "/write", "Bearer admin-token", http.StatusNoContent},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(tc.method, tc.path, nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)
			assert.Equal(t, tc.status, w.Code)
		})
	}
}

func TestRequireRolesWithoutClaims(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/", RequireRoles(models.RoleAdmin), func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
