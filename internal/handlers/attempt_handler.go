package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/SAP-F-2025/quiz-delivery-service/internal/models"
	"github.com/SAP-F-2025/quiz-delivery-service/internal/repositories"
	"github.com/SAP-F-2025/quiz-delivery-service/internal/services"
	"github.com/SAP-F-2025/quiz-delivery-service/internal/utils"
	"github.com/SAP-F-2025/quiz-delivery-service/internal/validator"
)

type AttemptHandler struct {
	BaseHandler
	attemptService services.AttemptService
	validator      *validator.Validator
}

func NewAttemptHandler(
	attemptService services.AttemptService,
	validator *validator.Validator,
	logger utils.Logger,
) *AttemptHandler {
	return &AttemptHandler{
		BaseHandler:    NewBaseHandler(logger),
		attemptService: attemptService,
		validator:      validator,
	}
}

// StartAttempt opens a new attempt for the authenticated user
// @Summary Start attempt
// @Description Resolves every slot of the assessment and opens a new attempt
// @Tags attempts
// @Accept json
// @Produce json
// @Param attempt body services.CreateAttemptRequest true "Attempt data"
// @Success 201 {object} services.AttemptResponse
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Failure 422 {object} ErrorResponse
// @Router /attempts/start [post]
func (h *AttemptHandler) StartAttempt(c *gin.Context) {
	h.LogRequest(c, "Starting attempt")

	var req services.CreateAttemptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Invalid request payload",
			Details: err.Error(),
		})
		return
	}

	userID, err := GetUserIDFromContext(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Message: "User not authenticated"})
		return
	}
	req.UserID = userID

	attempt, err := h.attemptService.Create(c.Request.Context(), &req, time.Now())
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, attempt)
}

// SubmitPage processes a page submission
// @Summary Submit page
// @Description Saves the current page of an attempt; finish_attempt closes it
// @Tags attempts
// @Accept json
// @Produce json
// @Param id path int true "Attempt ID"
// @Param submission body services.SubmitPageRequest true "Submission data"
// @Success 200 {object} map[string]string
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /attempts/{id}/submit [post]
func (h *AttemptHandler) SubmitPage(c *gin.Context) {
	attemptID, ok := h.parseIDParam(c, "id")
	if !ok {
		return
	}

	var req services.SubmitPageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Invalid request payload",
			Details: err.Error(),
		})
		return
	}

	userID, err := GetUserIDFromContext(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Message: "User not authenticated"})
		return
	}

	state, err := h.attemptService.SubmitPage(c.Request.Context(), attemptID, userID, &req, time.Now())
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": state})
}

// GetAttempt returns one attempt of the authenticated user
// @Summary Get attempt
// @Tags attempts
// @Produce json
// @Param id path int true "Attempt ID"
// @Success 200 {object} services.AttemptResponse
// @Failure 404 {object} ErrorResponse
// @Router /attempts/{id} [get]
func (h *AttemptHandler) GetAttempt(c *gin.Context) {
	attemptID, ok := h.parseIDParam(c, "id")
	if !ok {
		return
	}
	userID, err := GetUserIDFromContext(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Message: "User not authenticated"})
		return
	}

	// GetByID checks ownership first, then applies any due overdue
	// transition so the response never shows a stale in_progress state.
	attempt, err := h.attemptService.GetByID(c.Request.Context(), attemptID, userID, time.Now())
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, attempt)
}

// GetAttemptSlots returns the resolved slots of an attempt
// @Summary Get attempt slots
// @Tags attempts
// @Produce json
// @Param id path int true "Attempt ID"
// @Success 200 {object} SuccessResponse
// @Failure 404 {object} ErrorResponse
// @Router /attempts/{id}/slots [get]
func (h *AttemptHandler) GetAttemptSlots(c *gin.Context) {
	attemptID, ok := h.parseIDParam(c, "id")
	if !ok {
		return
	}
	userID, err := GetUserIDFromContext(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Message: "User not authenticated"})
		return
	}

	slots, err := h.attemptService.GetSlots(c.Request.Context(), attemptID, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Data: slots})
}

// RedoSlot draws a fresh question for one random slot
// @Summary Redo slot
// @Description Replaces the question of a random slot with a new draw
// @Tags attempts
// @Produce json
// @Param id path int true "Attempt ID"
// @Param slot_number path int true "Slot number"
// @Success 200 {object} SuccessResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Failure 422 {object} ErrorResponse
// @Router /attempts/{id}/slots/{slot_number}/redo [post]
func (h *AttemptHandler) RedoSlot(c *gin.Context) {
	attemptID, ok := h.parseIDParam(c, "id")
	if !ok {
		return
	}
	slotNumber, err := strconv.Atoi(c.Param("slot_number"))
	if err != nil || slotNumber <= 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Invalid slot_number parameter",
			Details: c.Param("slot_number"),
		})
		return
	}
	userID, err := GetUserIDFromContext(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Message: "User not authenticated"})
		return
	}

	slot, err := h.attemptService.RedoSlot(c.Request.Context(), attemptID, slotNumber, userID, time.Now())
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Data: slot})
}

// ListAttempts lists attempts with filters (teachers and admins)
// @Summary List attempts
// @Tags attempts
// @Produce json
// @Param state query string false "Attempt state"
// @Param user_id query string false "User ID"
// @Param limit query int false "Page size"
// @Param offset query int false "Offset"
// @Success 200 {object} services.AttemptListResponse
// @Router /attempts [get]
func (h *AttemptHandler) ListAttempts(c *gin.Context) {
	filters := parseAttemptFilters(c)
	attempts, err := h.attemptService.List(c.Request.Context(), filters)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, attempts)
}

// GetAttemptStats returns aggregate attempt statistics for an assessment
// @Summary Attempt statistics
// @Tags attempts
// @Produce json
// @Param assessment_id path int true "Assessment ID"
// @Success 200 {object} SuccessResponse
// @Router /attempts/stats/{assessment_id} [get]
func (h *AttemptHandler) GetAttemptStats(c *gin.Context) {
	assessmentID, ok := h.parseIDParam(c, "assessment_id")
	if !ok {
		return
	}
	stats, err := h.attemptService.GetStats(c.Request.Context(), assessmentID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Data: stats})
}

// SweepOverdue applies due deadline transitions in bulk (admin/cron)
// @Summary Sweep overdue attempts
// @Tags attempts
// @Produce json
// @Param limit query int false "Maximum attempts to process"
// @Success 200 {object} map[string]int
// @Router /attempts/sweep [post]
func (h *AttemptHandler) SweepOverdue(c *gin.Context) {
	h.LogRequest(c, "Running deadline sweep")

	limit := 100
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	processed, err := h.attemptService.SweepOverdue(c.Request.Context(), time.Now(), limit)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"processed": processed})
}

func parseAttemptFilters(c *gin.Context) repositories.AttemptFilters {
	filters := repositories.AttemptFilters{
		SortBy:    c.DefaultQuery("sort_by", "started_at"),
		SortOrder: c.DefaultQuery("sort_order", "desc"),
	}
	if raw := c.Query("state"); raw != "" {
		state := models.AttemptState(raw)
		filters.State = &state
	}
	if raw := c.Query("user_id"); raw != "" {
		filters.UserID = &raw
	}
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			filters.Limit = parsed
		}
	}
	if raw := c.Query("offset"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			filters.Offset = parsed
		}
	}
	return filters
}
