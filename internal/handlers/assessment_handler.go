package handlers

import (
	"fmt"

	"github.com/gin-gonic/gin"

	"github.com/SAP-F-2025/quiz-delivery-service/internal/services"
	"github.com/SAP-F-2025/quiz-delivery-service/internal/utils"
)

type AssessmentHandler struct {
	BaseHandler
	exportService services.ExportService
}

func NewAssessmentHandler(exportService services.ExportService, logger utils.Logger) *AssessmentHandler {
	return &AssessmentHandler{
		BaseHandler:   NewBaseHandler(logger),
		exportService: exportService,
	}
}

// ExportAttempts streams an xlsx of finished attempts for an assessment
// @Summary Export attempts
// @Description Downloads every finished attempt of the assessment as a spreadsheet
// @Tags assessments
// @Produce application/vnd.openxmlformats-officedocument.spreadsheetml.sheet
// @Param id path int true "Assessment ID"
// @Success 200 {file} binary
// @Failure 404 {object} ErrorResponse
// @Router /assessments/{id}/attempts/export [get]
func (h *AssessmentHandler) ExportAttempts(c *gin.Context) {
	h.LogRequest(c, "Exporting assessment attempts")

	assessmentID, ok := h.parseIDParam(c, "id")
	if !ok {
		return
	}

	file, err := h.exportService.ExportAttempts(c.Request.Context(), assessmentID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	filename := fmt.Sprintf("assessment_%d_attempts.xlsx", assessmentID)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	if err := file.Write(c.Writer); err != nil {
		utils.FromContext(c, h.logger).Error("Failed to stream export",
			"assessment_id", assessmentID,
			"error", err)
	}
}
