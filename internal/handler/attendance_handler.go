package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/volunteerhub/vms-api/internal/service"
	appErrors "github.com/volunteerhub/vms-api/pkg/errors"
	"github.com/volunteerhub/vms-api/pkg/response"
)

// AttendanceHandler exposes attendance tracking endpoints.
type AttendanceHandler struct {
	attendance *service.AttendanceService
}

// NewAttendanceHandler constructs AttendanceHandler.
func NewAttendanceHandler(attendance *service.AttendanceService) *AttendanceHandler {
	return &AttendanceHandler{attendance: attendance}
}

// Mark godoc
// @Summary Mark attendance
// @Description Record a present/absent mark for one registration date
// @Tags Attendance
// @Accept json
// @Produce json
// @Param id path string true "Registration ID"
// @Param payload body service.MarkAttendanceRequest true "Attendance mark"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /registrations/{id}/attendance [post]
func (h *AttendanceHandler) Mark(c *gin.Context) {
	var req service.MarkAttendanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid attendance payload"))
		return
	}

	mark, err := h.attendance.Mark(c.Request.Context(), c.Param("id"), claimsFromContext(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, mark, nil)
}

// List godoc
// @Summary List attendance marks
// @Tags Attendance
// @Produce json
// @Param id path string true "Registration ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /registrations/{id}/attendance [get]
func (h *AttendanceHandler) List(c *gin.Context) {
	records, err := h.attendance.ListByRegistration(c.Request.Context(), c.Param("id"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, records, nil)
}

// Summary godoc
// @Summary Summarize attendance
// @Description Present and total mark counts for a registration
// @Tags Attendance
// @Produce json
// @Param id path string true "Registration ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /registrations/{id}/attendance/summary [get]
func (h *AttendanceHandler) Summary(c *gin.Context) {
	summary, err := h.attendance.Summary(c.Request.Context(), c.Param("id"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, summary, nil)
}
