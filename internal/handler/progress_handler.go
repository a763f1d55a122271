package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mentorloop/lms-api/internal/models"
	"github.com/mentorloop/lms-api/internal/service"
	appErrors "github.com/mentorloop/lms-api/pkg/errors"
	"github.com/mentorloop/lms-api/pkg/response"
)

type progressService interface {
	CompleteChapter(ctx context.Context, student *models.JWTClaims, chapterID string) (*service.CompleteChapterResult, error)
	CourseProgress(ctx context.Context, student *models.JWTClaims, courseID string) (*models.CourseProgress, []models.ChapterProgressDetail, error)
	MyProgress(ctx context.Context, student *models.JWTClaims) ([]models.CourseProgress, error)
}

// ProgressHandler exposes chapter completion and progress endpoints.
type ProgressHandler struct {
	service progressService
}

// NewProgressHandler constructs a progress handler.
func NewProgressHandler(svc progressService) *ProgressHandler {
	return &ProgressHandler{service: svc}
}

// CompleteChapter godoc
// @Summary Mark a chapter as completed
// @Description Chapters must be completed in sequence order; repeating a completion is a no-op
// @Tags Progress
// @Produce json
// @Param chapterId path string true "Chapter ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /progress/{chapterId}/complete [post]
func (h *ProgressHandler) CompleteChapter(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	result, err := h.service.CompleteChapter(c.Request.Context(), claims, c.Param("chapterId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// CourseProgress godoc
// @Summary Get the caller's progress in one course
// @Tags Progress
// @Produce json
// @Param courseId path string true "Course ID"
// @Success 200 {object} response.Envelope
// @Router /progress/courses/{courseId} [get]
func (h *ProgressHandler) CourseProgress(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	summary, chapters, err := h.service.CourseProgress(c.Request.Context(), claims, c.Param("courseId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"summary": summary, "chapters": chapters}, nil)
}

// MyProgress godoc
// @Summary Summarise the caller's progress across all enrolled courses
// @Tags Progress
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /progress/my [get]
func (h *ProgressHandler) MyProgress(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	summaries, err := h.service.MyProgress(c.Request.Context(), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, summaries, nil)
}
