package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/sister-kampus/sister-api/internal/middleware"
	"github.com/sister-kampus/sister-api/internal/models"
	"github.com/sister-kampus/sister-api/internal/repository"
	"github.com/sister-kampus/sister-api/internal/service"
)

// Handlers groups the API handlers for route registration.
type Handlers struct {
	Auth       *AuthHandler
	Enrollment *EnrollmentHandler
	Transcript *TranscriptHandler
	Document   *DocumentHandler
	Course     *CourseHandler
	Schedule   *ScheduleHandler
	Term       *TermHandler
	Student    *StudentHandler
}

// RegisterRoutes mounts the versioned API onto the gin engine.
func RegisterRoutes(r *gin.Engine, prefix string, h Handlers, auth *service.AuthService, metrics *service.MetricsService, users *repository.UserRepository) {
	api := r.Group(prefix)

	api.POST("/auth/login", h.Auth.Login)
	api.POST("/auth/refresh", h.Auth.Refresh)
	api.GET("/documents/:token", h.Document.Download)

	protected := api.Group("")
	protected.Use(middleware.JWT(auth))

	protected.GET("/auth/me", h.Auth.Me)

	staff := middleware.RequireRoles(models.RoleAdmin, models.RoleLecturer)
	admin := middleware.RequireRoles(models.RoleAdmin)
	staffOrSelf := middleware.RBAC(string(models.RoleAdmin), string(models.RoleLecturer), "SELF")

	enrollment := protected.Group("/enrollment")
	{
		enrollment.POST("/register", middleware.Audit(users, models.AuditActionRegister, "enrollment"), h.Enrollment.Register)
		enrollment.DELETE("", middleware.Audit(users, models.AuditActionWithdraw, "enrollment"), h.Enrollment.Withdraw)
		enrollment.GET("/student/:id", staffOrSelf, h.Enrollment.ListForStudent)
		enrollment.GET("/student/:id/card", staffOrSelf, h.Enrollment.Card)
		enrollment.POST("/validate", admin, middleware.Audit(users, models.AuditActionValidate, "enrollment"), h.Enrollment.Validate)
		enrollment.PUT("/:id/grade", staff, middleware.Audit(users, models.AuditActionGradeWrite, "enrollment"), h.Enrollment.SetGrade)
	}

	students := protected.Group("/students")
	{
		students.GET("", staff, h.Student.List)
		students.POST("", admin, h.Student.Create)
		students.GET("/:id", staffOrSelf, h.Student.Get)
		students.PATCH("/:id/status", admin, h.Student.SetStatus)
		students.GET("/:id/gpa", staffOrSelf, h.Transcript.GPA)
		students.GET("/:id/transcript", staffOrSelf, h.Transcript.Transcript)
		students.GET("/:id/transcript/export", staffOrSelf, h.Transcript.Export)
	}

	catalogAudit := func(action string) gin.HandlerFunc {
		return middleware.Audit(users, action, "catalog")
	}
	courses := protected.Group("/courses")
	{
		courses.GET("", h.Course.List)
		courses.GET("/:id", h.Course.Get)
		courses.POST("", admin, catalogAudit(models.AuditActionCatalogCreate), h.Course.Create)
		courses.PUT("/:id", admin, catalogAudit(models.AuditActionCatalogUpdate), h.Course.Update)
		courses.DELETE("/:id", admin, catalogAudit(models.AuditActionCatalogDelete), h.Course.Delete)
	}
	schedules := protected.Group("/schedules")
	{
		schedules.GET("", h.Schedule.List)
		schedules.GET("/:id", h.Schedule.Get)
		schedules.POST("", admin, catalogAudit(models.AuditActionCatalogCreate), h.Schedule.Create)
		schedules.PUT("/:id", admin, catalogAudit(models.AuditActionCatalogUpdate), h.Schedule.Update)
		schedules.DELETE("/:id", admin, catalogAudit(models.AuditActionCatalogDelete), h.Schedule.Delete)
	}
	terms := protected.Group("/terms")
	{
		terms.GET("", h.Term.List)
		terms.GET("/:id", h.Term.Get)
		terms.POST("", admin, catalogAudit(models.AuditActionCatalogCreate), h.Term.Create)
		terms.PUT("/:id", admin, catalogAudit(models.AuditActionCatalogUpdate), h.Term.Update)
		terms.DELETE("/:id", admin, catalogAudit(models.AuditActionCatalogDelete), h.Term.Delete)
	}

	protected.GET("/metrics", admin, gin.WrapH(metrics.Handler()))
}
