package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/SAP-F-2025/quiz-delivery-service/internal/services"
	"github.com/SAP-F-2025/quiz-delivery-service/internal/utils"
	"github.com/SAP-F-2025/quiz-delivery-service/internal/validator"
)

type ErrorResponse struct {
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

type SuccessResponse struct {
	Data interface{} `json:"data"`
}

// BaseHandler carries the pieces every handler needs: the logger and the
// shared error translation.
type BaseHandler struct {
	logger utils.Logger
}

func NewBaseHandler(logger utils.Logger) BaseHandler {
	return BaseHandler{logger: logger}
}

func (h *BaseHandler) LogRequest(c *gin.Context, msg string) {
	utils.FromContext(c, h.logger).Info(msg,
		"method", c.Request.Method,
		"path", c.Request.URL.Path)
}

// parseIDParam reads a numeric path parameter, responding 400 itself on
// garbage. Callers bail out when ok is false.
func (h *BaseHandler) parseIDParam(c *gin.Context, name string) (uint, bool) {
	raw := c.Param(name)
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Invalid " + name + " parameter",
			Details: raw,
		})
		return 0, false
	}
	return uint(id), true
}

// handleServiceError translates service errors into HTTP responses.
func (h *BaseHandler) handleServiceError(c *gin.Context, err error) {
	var poolErr *services.InsufficientPoolError
	var forcedErr *services.ForcedChoiceError
	var permErr *services.PermissionError
	var validationErr *validator.ValidationError

	switch {
	case errors.As(err, &validationErr):
		c.JSON(http.StatusBadRequest, ErrorResponse{Message: validationErr.Error()})

	case errors.Is(err, services.ErrAssessmentNotFound),
		errors.Is(err, services.ErrAttemptNotFound),
		errors.Is(err, services.ErrSlotNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Message: err.Error()})

	case errors.As(err, &permErr):
		c.JSON(http.StatusForbidden, ErrorResponse{Message: permErr.Error()})

	case errors.Is(err, services.ErrAttemptConflict):
		c.JSON(http.StatusConflict, ErrorResponse{
			Message: "Attempt was modified concurrently, retry the request",
		})

	case errors.Is(err, services.ErrActiveAttemptExists),
		errors.Is(err, services.ErrAttemptLimitReached),
		errors.Is(err, services.ErrAssessmentNotActive),
		errors.Is(err, services.ErrAttemptNotActive),
		errors.Is(err, services.ErrAttemptAlreadyFinalized),
		errors.Is(err, services.ErrSlotNotRandom):
		c.JSON(http.StatusConflict, ErrorResponse{Message: err.Error()})

	case errors.As(err, &poolErr), errors.As(err, &forcedErr):
		c.JSON(http.StatusUnprocessableEntity, ErrorResponse{Message: err.Error()})

	default:
		utils.FromContext(c, h.logger).Error("Unhandled service error",
			"path", c.Request.URL.Path,
			"error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Message: "Internal server error",
		})
	}
}
