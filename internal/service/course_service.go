package service

import (
	"context"
	"database/sql"
	"errors"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/mentorloop/lms-api/internal/models"
	"github.com/mentorloop/lms-api/pkg/database"
	appErrors "github.com/mentorloop/lms-api/pkg/errors"
)

type courseRepository interface {
	List(ctx context.Context, filter models.CourseFilter) ([]models.CourseDetail, int, error)
	FindByID(ctx context.Context, id string) (*models.Course, error)
	ListByMentor(ctx context.Context, mentorID string) ([]models.Course, error)
	Create(ctx context.Context, course *models.Course) error
	Update(ctx context.Context, course *models.Course) error
	Delete(ctx context.Context, id string) error
	CreateChapter(ctx context.Context, chapter *models.Chapter) error
	ListChapters(ctx context.Context, courseID string) ([]models.Chapter, error)
}

type courseEnrollmentReader interface {
	Exists(ctx context.Context, courseID, studentID string) (bool, error)
	ListCoursesByStudent(ctx context.Context, studentID string) ([]models.Course, error)
}

type courseAuditWriter interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// CreateCourseRequest describes course creation payload. The mentor is taken
// from the authenticated principal, never from the client.
type CreateCourseRequest struct {
	Title       string `json:"title" validate:"required,max=200"`
	Description string `json:"description"`
}

// UpdateCourseRequest carries a partial update; nil fields are untouched.
type UpdateCourseRequest struct {
	Title       *string `json:"title" validate:"omitempty,max=200"`
	Description *string `json:"description"`
}

// AddChapterRequest describes chapter creation payload.
type AddChapterRequest struct {
	Title          string `json:"title" validate:"required,max=200"`
	Description    string `json:"description"`
	SequenceNumber int    `json:"sequence_number" validate:"required,gt=0"`
	VideoURL       string `json:"video_url" validate:"omitempty,url"`
	AttachmentURL  string `json:"attachment_url" validate:"omitempty,url"`
}

// CourseService orchestrates the course and chapter catalog.
type CourseService struct {
	repo        courseRepository
	enrollments courseEnrollmentReader
	audits      courseAuditWriter
	validator   *validator.Validate
	logger      *zap.Logger
}

// NewCourseService constructs CourseService.
func NewCourseService(repo courseRepository, enrollments courseEnrollmentReader, audits courseAuditWriter, validate *validator.Validate, logger *zap.Logger) *CourseService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CourseService{repo: repo, enrollments: enrollments, audits: audits, validator: validate, logger: logger}
}

// List returns all courses with pagination metadata. Admin-only at the route level.
func (s *CourseService) List(ctx context.Context, filter models.CourseFilter) ([]models.CourseDetail, *models.Pagination, error) {
	courses, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list courses")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	pagination := &models.Pagination{Page: page, PageSize: size, TotalCount: total}
	return courses, pagination, nil
}

// ListMine returns the caller's courses: a mentor sees the courses they own,
// a student the courses they are enrolled in.
func (s *CourseService) ListMine(ctx context.Context, principal *models.JWTClaims) ([]models.Course, error) {
	switch principal.Role {
	case models.RoleMentor:
		courses, err := s.repo.ListByMentor(ctx, principal.UserID)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list mentor courses")
		}
		return courses, nil
	case models.RoleStudent:
		courses, err := s.enrollments.ListCoursesByStudent(ctx, principal.UserID)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list enrolled courses")
		}
		return courses, nil
	default:
		return nil, appErrors.Clone(appErrors.ErrForbidden, "no personal course list for this role")
	}
}

// Get returns a single course visible to the caller.
func (s *CourseService) Get(ctx context.Context, principal *models.JWTClaims, courseID string) (*models.Course, error) {
	course, err := s.loadCourse(ctx, courseID)
	if err != nil {
		return nil, err
	}
	if err := s.requireCourseVisibility(ctx, principal, course); err != nil {
		return nil, err
	}
	return course, nil
}

// Create registers a new course owned by the calling mentor.
func (s *CourseService) Create(ctx context.Context, mentor *models.JWTClaims, req CreateCourseRequest) (*models.Course, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid course payload")
	}
	course := &models.Course{
		MentorID:    mentor.UserID,
		Title:       req.Title,
		Description: req.Description,
	}
	if err := s.repo.Create(ctx, course); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create course")
	}
	return course, nil
}

// Update applies a partial update to a course the mentor owns.
func (s *CourseService) Update(ctx context.Context, mentor *models.JWTClaims, courseID string, req UpdateCourseRequest) (*models.Course, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid course payload")
	}
	course, err := s.loadCourse(ctx, courseID)
	if err != nil {
		return nil, err
	}
	if course.MentorID != mentor.UserID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "course belongs to another mentor")
	}
	if req.Title != nil {
		course.Title = *req.Title
	}
	if req.Description != nil {
		course.Description = *req.Description
	}
	if err := s.repo.Update(ctx, course); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update course")
	}
	return course, nil
}

// Delete removes a course the mentor owns, cascading to chapters,
// assignments, progress and certificates.
func (s *CourseService) Delete(ctx context.Context, mentor *models.JWTClaims, courseID string) error {
	course, err := s.loadCourse(ctx, courseID)
	if err != nil {
		return err
	}
	if course.MentorID != mentor.UserID {
		return appErrors.Clone(appErrors.ErrForbidden, "course belongs to another mentor")
	}
	if err := s.repo.Delete(ctx, courseID); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete course")
	}

	if err := s.audits.CreateAuditLog(ctx, &models.AuditLog{
		UserID:     &mentor.UserID,
		Action:     models.AuditActionCourseDelete,
		Resource:   "courses",
		ResourceID: &courseID,
		NewValues:  []byte(`{"deleted":true}`),
	}); err != nil {
		s.logger.Warn("failed to record course delete audit log", zap.Error(err))
	}
	return nil
}

// AddChapter appends a chapter at the given sequence position. Duplicate
// positions within a course are rejected with a conflict.
func (s *CourseService) AddChapter(ctx context.Context, mentor *models.JWTClaims, courseID string, req AddChapterRequest) (*models.Chapter, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid chapter payload")
	}
	course, err := s.loadCourse(ctx, courseID)
	if err != nil {
		return nil, err
	}
	if course.MentorID != mentor.UserID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "course belongs to another mentor")
	}

	chapter := &models.Chapter{
		CourseID:       courseID,
		Title:          req.Title,
		Description:    req.Description,
		SequenceNumber: req.SequenceNumber,
		VideoURL:       req.VideoURL,
		AttachmentURL:  req.AttachmentURL,
	}
	if err := s.repo.CreateChapter(ctx, chapter); err != nil {
		if database.IsUniqueViolation(err) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "sequence number already used in this course")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create chapter")
	}
	return chapter, nil
}

// ListChapters returns a course's chapters in sequence order. Visible to the
// owning mentor and enrolled students only.
func (s *CourseService) ListChapters(ctx context.Context, principal *models.JWTClaims, courseID string) ([]models.Chapter, error) {
	course, err := s.loadCourse(ctx, courseID)
	if err != nil {
		return nil, err
	}
	if err := s.requireCourseVisibility(ctx, principal, course); err != nil {
		return nil, err
	}
	chapters, err := s.repo.ListChapters(ctx, courseID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list chapters")
	}
	return chapters, nil
}

func (s *CourseService) loadCourse(ctx context.Context, courseID string) (*models.Course, error) {
	course, err := s.repo.FindByID(ctx, courseID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	return course, nil
}

func (s *CourseService) requireCourseVisibility(ctx context.Context, principal *models.JWTClaims, course *models.Course) error {
	if principal.Role == models.RoleMentor && course.MentorID == principal.UserID {
		return nil
	}
	if principal.Role == models.RoleStudent {
		enrolled, err := s.enrollments.Exists(ctx, course.ID, principal.UserID)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check enrollment")
		}
		if enrolled {
			return nil
		}
	}
	return appErrors.Clone(appErrors.ErrForbidden, "not allowed to view this course")
}
