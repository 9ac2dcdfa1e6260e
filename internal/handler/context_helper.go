package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-guard-api/internal/middleware"
	"github.com/noah-isme/sma-guard-api/internal/models"
	appErrors "github.com/noah-isme/sma-guard-api/pkg/errors"
)

func claimsFromContext(c *gin.Context) *models.JWTClaims {
	value, exists := c.Get(middleware.ContextUserKey)
	if !exists {
		return nil
	}
	claims, ok := value.(*models.JWTClaims)
	if !ok {
		return nil
	}
	return claims
}

// authorizeInstitute rejects callers scoped to another institute. Superadmins see every institute.
func authorizeInstitute(c *gin.Context, instituteID string) error {
	claims := claimsFromContext(c)
	if claims == nil {
		return appErrors.ErrUnauthorized
	}
	if claims.Role == models.RoleSuperAdmin || claims.InstituteID == instituteID {
		return nil
	}
	return appErrors.Clone(appErrors.ErrForbidden, "institute is outside your scope")
}

// scopedInstitute reads the instituteId query parameter, defaulting to the caller's institute, and authorizes it.
func scopedInstitute(c *gin.Context) (string, error) {
	instituteID := c.Query("instituteId")
	if instituteID == "" {
		if claims := claimsFromContext(c); claims != nil {
			instituteID = claims.InstituteID
		}
	}
	if err := authorizeInstitute(c, instituteID); err != nil {
		return "", err
	}
	return instituteID, nil
}

// queryDay parses an optional 0..6 day filter.
func queryDay(c *gin.Context, key string) (*int, error) {
	raw := c.Query(key)
	if raw == "" {
		return nil, nil
	}
	day, err := strconv.Atoi(raw)
	if err != nil || day < 0 || day > 6 {
		return nil, appErrors.Clone(appErrors.ErrValidation, key+" must be between 0 (Sunday) and 6 (Saturday)")
	}
	return &day, nil
}
