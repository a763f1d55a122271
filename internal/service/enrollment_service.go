package service

import (
	"context"
	"database/sql"
	"errors"

	"go.uber.org/zap"

	"github.com/mentorloop/lms-api/internal/models"
	appErrors "github.com/mentorloop/lms-api/pkg/errors"
)

type enrollmentRepository interface {
	GetOrCreate(ctx context.Context, courseID, studentID string) (*models.CourseAssignment, bool, error)
	ListCoursesByStudent(ctx context.Context, studentID string) ([]models.Course, error)
	ListByCourse(ctx context.Context, courseID string) ([]models.CourseAssignmentDetail, error)
}

type enrollmentCourseReader interface {
	FindByID(ctx context.Context, id string) (*models.Course, error)
}

type enrollmentUserReader interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
}

// AssignResult reports the outcome of an assignment request. Created is false
// when the student was already enrolled; repeating the call is harmless.
type AssignResult struct {
	Assignment *models.CourseAssignment `json:"assignment"`
	Created    bool                     `json:"created"`
}

// EnrollmentService manages course assignments.
type EnrollmentService struct {
	repo    enrollmentRepository
	courses enrollmentCourseReader
	users   enrollmentUserReader
	metrics *MetricsService
	logger  *zap.Logger
}

// NewEnrollmentService constructs EnrollmentService. Metrics may be nil.
func NewEnrollmentService(repo enrollmentRepository, courses enrollmentCourseReader, users enrollmentUserReader, metrics *MetricsService, logger *zap.Logger) *EnrollmentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EnrollmentService{repo: repo, courses: courses, users: users, metrics: metrics, logger: logger}
}

// Assign enrolls a student into a course owned by the calling mentor. The
// operation is idempotent: assigning an already enrolled student succeeds
// without creating a second row.
func (s *EnrollmentService) Assign(ctx context.Context, mentor *models.JWTClaims, courseID, studentID string) (*AssignResult, error) {
	course, err := s.courses.FindByID(ctx, courseID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	if course.MentorID != mentor.UserID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "course belongs to another mentor")
	}

	target, err := s.users.FindByID(ctx, studentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}
	if target.Role != models.RoleStudent {
		return nil, appErrors.Clone(appErrors.ErrInvalidTarget, "only students can be assigned to courses")
	}
	if !target.Active {
		return nil, appErrors.Clone(appErrors.ErrInvalidTarget, "user account is inactive")
	}

	assignment, created, err := s.repo.GetOrCreate(ctx, courseID, studentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to assign student")
	}
	if created {
		s.metrics.IncAssignmentCreated()
		s.logger.Info("student assigned to course",
			zap.String("course_id", courseID),
			zap.String("student_id", studentID),
			zap.String("mentor_id", mentor.UserID))
	}
	return &AssignResult{Assignment: assignment, Created: created}, nil
}

// Roster lists the students assigned to a course the mentor owns.
func (s *EnrollmentService) Roster(ctx context.Context, mentor *models.JWTClaims, courseID string) ([]models.CourseAssignmentDetail, error) {
	course, err := s.courses.FindByID(ctx, courseID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	if course.MentorID != mentor.UserID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "course belongs to another mentor")
	}
	roster, err := s.repo.ListByCourse(ctx, courseID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list assignments")
	}
	return roster, nil
}
