package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/volunteerhub/vms-api/internal/service"
	appErrors "github.com/volunteerhub/vms-api/pkg/errors"
	"github.com/volunteerhub/vms-api/pkg/response"
)

// FeedbackHandler exposes feedback endpoints.
type FeedbackHandler struct {
	feedback *service.FeedbackService
}

// NewFeedbackHandler constructs FeedbackHandler.
func NewFeedbackHandler(feedback *service.FeedbackService) *FeedbackHandler {
	return &FeedbackHandler{feedback: feedback}
}

// Submit godoc
// @Summary Submit feedback
// @Description Leave a rating and comment for an attended registration
// @Tags Feedback
// @Accept json
// @Produce json
// @Param id path string true "Registration ID"
// @Param payload body service.SubmitFeedbackRequest true "Feedback payload"
// @Success 201 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /registrations/{id}/feedback [post]
func (h *FeedbackHandler) Submit(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req service.SubmitFeedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid feedback payload"))
		return
	}

	fb, err := h.feedback.Submit(c.Request.Context(), c.Param("id"), claims.UserID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, fb)
}

// Update godoc
// @Summary Update own feedback
// @Tags Feedback
// @Accept json
// @Produce json
// @Param id path string true "Feedback ID"
// @Param payload body service.SubmitFeedbackRequest true "Feedback payload"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /feedback/{id} [put]
func (h *FeedbackHandler) Update(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req service.SubmitFeedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid feedback payload"))
		return
	}

	fb, err := h.feedback.Update(c.Request.Context(), c.Param("id"), claims.UserID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, fb, nil)
}

// Delete godoc
// @Summary Delete feedback
// @Description Owners delete their own feedback; event organizers and admins moderate
// @Tags Feedback
// @Produce json
// @Param id path string true "Feedback ID"
// @Success 204 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /feedback/{id} [delete]
func (h *FeedbackHandler) Delete(c *gin.Context) {
	if err := h.feedback.Delete(c.Request.Context(), c.Param("id"), claimsFromContext(c)); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// ListByEvent godoc
// @Summary List event feedback
// @Tags Feedback
// @Produce json
// @Param id path string true "Event ID"
// @Success 200 {object} response.Envelope
// @Router /events/{id}/feedback [get]
func (h *FeedbackHandler) ListByEvent(c *gin.Context) {
	entries, err := h.feedback.ListByEvent(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, entries, nil)
}
