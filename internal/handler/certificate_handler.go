package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/volunteerhub/vms-api/internal/service"
	appErrors "github.com/volunteerhub/vms-api/pkg/errors"
	"github.com/volunteerhub/vms-api/pkg/response"
)

// CertificateHandler exposes certificate issue and download endpoints.
type CertificateHandler struct {
	certificates *service.CertificateService
}

// NewCertificateHandler constructs CertificateHandler.
func NewCertificateHandler(certificates *service.CertificateService) *CertificateHandler {
	return &CertificateHandler{certificates: certificates}
}

// Issue godoc
// @Summary Issue certificate
// @Description Render and store a participation certificate for an eligible registration
// @Tags Certificates
// @Produce json
// @Param id path string true "Registration ID"
// @Success 201 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /registrations/{id}/certificate [post]
func (h *CertificateHandler) Issue(c *gin.Context) {
	issued, err := h.certificates.Issue(c.Request.Context(), c.Param("id"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, issued)
}

// Link godoc
// @Summary Get certificate download link
// @Tags Certificates
// @Produce json
// @Param id path string true "Registration ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /registrations/{id}/certificate [get]
func (h *CertificateHandler) Link(c *gin.Context) {
	issued, err := h.certificates.DownloadLink(c.Request.Context(), c.Param("id"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, issued, nil)
}

// Download godoc
// @Summary Download certificate PDF
// @Description Serve the PDF referenced by a signed download token
// @Tags Certificates
// @Produce application/pdf
// @Param token query string true "Signed download token"
// @Success 200 {file} binary
// @Failure 401 {object} response.Envelope
// @Router /certificates/download [get]
func (h *CertificateHandler) Download(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrUnauthorized, "download token required"))
		return
	}

	file, filename, err := h.certificates.Download(c.Request.Context(), token)
	if err != nil {
		response.Error(c, err)
		return
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read certificate"))
		return
	}

	c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)
	c.Header("Content-Type", "application/pdf")
	http.ServeContent(c.Writer, c.Request, filename, info.ModTime(), file)
}
