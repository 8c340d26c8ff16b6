package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/volunteerhub/vms-api/internal/service"
	appErrors "github.com/volunteerhub/vms-api/pkg/errors"
	"github.com/volunteerhub/vms-api/pkg/response"
)

// RegistrationHandler exposes registration lifecycle endpoints.
type RegistrationHandler struct {
	registrations *service.RegistrationService
}

// NewRegistrationHandler constructs RegistrationHandler.
func NewRegistrationHandler(registrations *service.RegistrationService) *RegistrationHandler {
	return &RegistrationHandler{registrations: registrations}
}

// Join godoc
// @Summary Join event
// @Description Register the caller as a volunteer for a published event
// @Tags Registrations
// @Produce json
// @Param id path string true "Event ID"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /events/{id}/join [post]
func (h *RegistrationHandler) Join(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	reg, err := h.registrations.Join(c.Request.Context(), c.Param("id"), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, reg)
}

// ListByEvent godoc
// @Summary List event registrations
// @Tags Registrations
// @Produce json
// @Param id path string true "Event ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /events/{id}/registrations [get]
func (h *RegistrationHandler) ListByEvent(c *gin.Context) {
	regs, err := h.registrations.ListByEvent(c.Request.Context(), c.Param("id"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, regs, nil)
}

// Get godoc
// @Summary Get registration detail
// @Tags Registrations
// @Produce json
// @Param id path string true "Registration ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /registrations/{id} [get]
func (h *RegistrationHandler) Get(c *gin.Context) {
	reg, err := h.registrations.Get(c.Request.Context(), c.Param("id"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, reg, nil)
}

// Approve godoc
// @Summary Approve pending registration
// @Tags Registrations
// @Produce json
// @Param id path string true "Registration ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /registrations/{id}/approve [post]
func (h *RegistrationHandler) Approve(c *gin.Context) {
	reg, err := h.registrations.Approve(c.Request.Context(), c.Param("id"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, reg, nil)
}

// Reject godoc
// @Summary Reject pending registration
// @Tags Registrations
// @Accept json
// @Produce json
// @Param id path string true "Registration ID"
// @Param payload body service.RejectRegistrationRequest false "Rejection reason"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /registrations/{id}/reject [post]
func (h *RegistrationHandler) Reject(c *gin.Context) {
	var req service.RejectRegistrationRequest
	_ = c.ShouldBindJSON(&req)

	reg, err := h.registrations.Reject(c.Request.Context(), c.Param("id"), claimsFromContext(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, reg, nil)
}

// Remove godoc
// @Summary Remove volunteer from event
// @Description Remove a registration without releasing the claimed slot
// @Tags Registrations
// @Produce json
// @Param id path string true "Registration ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /registrations/{id}/remove [post]
func (h *RegistrationHandler) Remove(c *gin.Context) {
	reg, err := h.registrations.Remove(c.Request.Context(), c.Param("id"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, reg, nil)
}

// Cancel godoc
// @Summary Cancel own registration
// @Description Withdraw from an event and release the slot
// @Tags Registrations
// @Produce json
// @Param id path string true "Registration ID"
// @Success 204 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /registrations/{id} [delete]
func (h *RegistrationHandler) Cancel(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	if err := h.registrations.Cancel(c.Request.Context(), c.Param("id"), claims.UserID); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// History godoc
// @Summary List own registrations
// @Tags Registrations
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /registrations [get]
func (h *RegistrationHandler) History(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	regs, err := h.registrations.History(c.Request.Context(), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, regs, nil)
}

// Pending godoc
// @Summary List pending join requests
// @Description Pending registrations across the caller's events
// @Tags Registrations
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /registrations/pending [get]
func (h *RegistrationHandler) Pending(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	regs, err := h.registrations.PendingForOrganizer(c.Request.Context(), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, regs, nil)
}
