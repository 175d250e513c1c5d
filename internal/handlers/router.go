package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/SAP-F-2025/quiz-delivery-service/internal/config"
	"github.com/SAP-F-2025/quiz-delivery-service/internal/models"
	"github.com/SAP-F-2025/quiz-delivery-service/internal/repositories"
	"github.com/SAP-F-2025/quiz-delivery-service/internal/services"
	"github.com/SAP-F-2025/quiz-delivery-service/internal/utils"
	"github.com/SAP-F-2025/quiz-delivery-service/internal/validator"
)

type HandlerManager struct {
	attemptHandler    *AttemptHandler
	assessmentHandler *AssessmentHandler
	authMiddleware    *CasdoorAuthMiddleware
}

func NewHandlerManager(
	serviceManager services.ServiceManager,
	validator *validator.Validator,
	logger utils.Logger,
	casdoorConfig config.CasdoorConfig,
	userRepo repositories.UserRepository,
) *HandlerManager {
	return &HandlerManager{
		attemptHandler:    NewAttemptHandler(serviceManager.Attempt(), validator, logger),
		assessmentHandler: NewAssessmentHandler(serviceManager.Export(), logger),
		authMiddleware:    NewCasdoorAuthMiddleware(casdoorConfig, userRepo),
	}
}

// SetupRoutes sets up all API routes
func (hm *HandlerManager) SetupRoutes(router *gin.Engine) {
	v1 := router.Group("/api/v1")
	v1.Use(hm.authMiddleware.AuthMiddleware())
	{
		attempts := v1.Group("/attempts")
		{
			// Own-attempt operations - any authenticated user
			attempts.POST("/start", hm.attemptHandler.StartAttempt)
			attempts.GET("/:id", hm.attemptHandler.GetAttempt)
			attempts.GET("/:id/slots", hm.attemptHandler.GetAttemptSlots)
			attempts.POST("/:id/submit", hm.attemptHandler.SubmitPage)
			attempts.POST("/:id/slots/:slot_number/redo", hm.attemptHandler.RedoSlot)

			// Oversight operations - Teachers and Admins only
			attempts.GET("", hm.authMiddleware.RequireRoleMiddleware(models.RoleTeacher, models.RoleAdmin), hm.attemptHandler.ListAttempts)
			attempts.GET("/stats/:assessment_id", hm.authMiddleware.RequireRoleMiddleware(models.RoleTeacher, models.RoleAdmin), hm.attemptHandler.GetAttemptStats)

			// Deadline sweep - Admins only (normally driven by cron)
			attempts.POST("/sweep", hm.authMiddleware.RequireRoleMiddleware(models.RoleAdmin), hm.attemptHandler.SweepOverdue)
		}

		assessments := v1.Group("/assessments")
		{
			assessments.GET("/:id/attempts/export", hm.authMiddleware.RequireRoleMiddleware(models.RoleTeacher, models.RoleAdmin), hm.assessmentHandler.ExportAttempts)
		}
	}

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":  "healthy",
			"service": "quiz-delivery-service",
		})
	})
}
