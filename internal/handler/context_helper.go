package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/cohort-recruitment-api/internal/middleware"
	"github.com/noah-isme/cohort-recruitment-api/internal/models"
)

func operatorFromContext(c *gin.Context) *models.JWTClaims {
	claims, ok := middleware.CurrentOperator(c)
	if !ok {
		return nil
	}
	return claims
}

func queryInt(c *gin.Context, key string, fallback int) int {
	raw := c.Query(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}
