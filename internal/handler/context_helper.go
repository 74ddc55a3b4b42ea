package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/sister-kampus/sister-api/internal/middleware"
	"github.com/sister-kampus/sister-api/internal/models"
)

// currentClaims extracts the authenticated JWT claims set by the JWT
// middleware. Returns nil when the route is unauthenticated.
func currentClaims(c *gin.Context) *models.JWTClaims {
	value, ok := c.Get(middleware.ContextUserKey)
	if !ok {
		return nil
	}
	claims, ok := value.(*models.JWTClaims)
	if !ok {
		return nil
	}
	return claims
}

// isSelf reports whether the authenticated user is the student with the
// given id.
func isSelf(c *gin.Context, studentID string) bool {
	claims := currentClaims(c)
	return claims != nil && claims.StudentID != "" && claims.StudentID == studentID
}
