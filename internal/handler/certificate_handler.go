package handler

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mentorloop/lms-api/internal/models"
	"github.com/mentorloop/lms-api/internal/service"
	appErrors "github.com/mentorloop/lms-api/pkg/errors"
	"github.com/mentorloop/lms-api/pkg/response"
)

type certificateService interface {
	GetOrIssue(ctx context.Context, student *models.JWTClaims, courseID string) (*service.CertificateDocument, error)
	SignedLink(ctx context.Context, student *models.JWTClaims, courseID string) (*service.CertificateLink, error)
	Download(ctx context.Context, token string) (*service.CertificateDocument, error)
	Verify(ctx context.Context, certificateID string) (*models.CertificateVerification, error)
}

// CertificateHandler exposes certificate issuance and verification endpoints.
type CertificateHandler struct {
	service certificateService
}

// NewCertificateHandler constructs a certificate handler.
func NewCertificateHandler(svc certificateService) *CertificateHandler {
	return &CertificateHandler{service: svc}
}

// Download godoc
// @Summary Download the caller's completion certificate as PDF
// @Description Issues the certificate on first request; the course must be fully completed
// @Tags Certificates
// @Produce application/pdf
// @Param courseId path string true "Course ID"
// @Success 200 {file} file
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /certificates/{courseId} [get]
func (h *CertificateHandler) Download(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	doc, err := h.service.GetOrIssue(c.Request.Context(), claims, c.Param("courseId"))
	if err != nil {
		response.Error(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", doc.Filename))
	c.Data(http.StatusOK, "application/pdf", doc.Content)
}

// SignedLink godoc
// @Summary Create a time-limited download link for an issued certificate
// @Tags Certificates
// @Produce json
// @Param courseId path string true "Course ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /certificates/{courseId}/link [post]
func (h *CertificateHandler) SignedLink(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	link, err := h.service.SignedLink(c.Request.Context(), claims, c.Param("courseId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, link, nil)
}

// DownloadSigned godoc
// @Summary Download a certificate with a signed token
// @Description The token is the credential; no authentication is required
// @Tags Certificates
// @Produce application/pdf
// @Param token query string true "Signed download token"
// @Success 200 {file} file
// @Failure 401 {object} response.Envelope
// @Router /certificates/download [get]
func (h *CertificateHandler) DownloadSigned(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "token required"))
		return
	}

	doc, err := h.service.Download(c.Request.Context(), token)
	if err != nil {
		response.Error(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", doc.Filename))
	c.Data(http.StatusOK, "application/pdf", doc.Content)
}

// Verify godoc
// @Summary Verify a certificate by its public identifier
// @Tags Certificates
// @Produce json
// @Param certificateId path string true "Certificate ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /certificates/verify/{certificateId} [get]
func (h *CertificateHandler) Verify(c *gin.Context) {
	verification, err := h.service.Verify(c.Request.Context(), c.Param("certificateId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, verification, nil)
}
