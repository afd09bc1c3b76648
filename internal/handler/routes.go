package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/cohort-recruitment-api/internal/middleware"
	"github.com/noah-isme/cohort-recruitment-api/internal/models"
)

type tokenValidator interface {
	ValidateToken(token string) (*models.JWTClaims, error)
}

// Handlers groups the HTTP handlers mounted under the API prefix.
type Handlers struct {
	Auth      *AuthHandler
	Studies   *StudyHandler
	Shipments *ShipmentHandler
	Metrics   *MetricsHandler
}

// RegisterRoutes mounts the health checks at the root and the API under prefix.
func RegisterRoutes(r *gin.Engine, prefix string, tokens tokenValidator, h Handlers) {
	r.GET("/health", h.Metrics.Health)
	r.GET("/ready", h.Metrics.Ready)
	r.GET("/metrics", h.Metrics.Prometheus)

	api := r.Group(prefix)
	api.POST("/auth/login", h.Auth.Login)

	secured := api.Group("")
	secured.Use(middleware.JWT(tokens))
	secured.GET("/auth/me", h.Auth.Me)

	admin := middleware.RequireRoles(models.RoleAdmin)
	operators := middleware.RequireRoles(models.RoleAdmin, models.RoleOperator)
	integrations := middleware.RequireRoles(models.RoleAdmin, models.RoleIntegration)
	anyone := middleware.RequireRoles()

	studies := secured.Group("/studies")
	studies.GET("", anyone, h.Studies.List)
	studies.POST("", admin, h.Studies.Create)
	studies.GET("/:studyId", anyone, h.Studies.Get)
	studies.POST("/:studyId/go-live", operators, h.Studies.GoLive)
	studies.POST("/:studyId/windows/open", operators, h.Studies.OpenWindow)
	studies.POST("/:studyId/windows/close", operators, h.Studies.CloseWindow)
	studies.POST("/:studyId/enrollments", integrations, h.Studies.RecordEnrollment)
	studies.POST("/:studyId/waitlist", integrations, h.Studies.RecordWaitlistGrowth)
	studies.GET("/:studyId/cohorts/:cohortId/shipments", anyone, h.Shipments.ListCohort)
	studies.GET("/:studyId/cohorts/:cohortId/manifest.csv", operators, h.Shipments.Manifest)
	studies.PUT("/:studyId/shipments/:participantId/tracking", operators, h.Shipments.EnterTracking)

	secured.GET("/system/metrics", admin, h.Metrics.System)
}
