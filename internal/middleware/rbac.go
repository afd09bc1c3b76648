package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/cohort-recruitment-api/internal/models"
	appErrors "github.com/noah-isme/cohort-recruitment-api/pkg/errors"
	"github.com/noah-isme/cohort-recruitment-api/pkg/response"
)

// RequireRoles lets the request through only when the operator holds one of
// the given roles. With no roles any authenticated operator passes.
func RequireRoles(roles ...models.OperatorRole) gin.HandlerFunc {
	allowed := make(map[models.OperatorRole]struct{}, len(roles))
	for _, r := range roles {
		allowed[r] = struct{}{}
	}

	return func(c *gin.Context) {
		claims, ok := CurrentOperator(c)
		if !ok {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}

		if len(allowed) > 0 {
			if _, permitted := allowed[claims.Role]; !permitted {
				response.Error(c, appErrors.ErrForbidden)
				c.Abort()
				return
			}
		}

		c.Next()
	}
}
