package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/mentorloop/lms-api/internal/models"
	appErrors "github.com/mentorloop/lms-api/pkg/errors"
)

type progressRepository interface {
	GetOrCreate(ctx context.Context, studentID, chapterID string) (*models.ChapterProgress, error)
	Find(ctx context.Context, studentID, chapterID string) (*models.ChapterProgress, error)
	MarkCompleted(ctx context.Context, studentID, chapterID string, completedAt time.Time) (bool, error)
	IsCompleted(ctx context.Context, studentID, chapterID string) (bool, error)
	CountCompleted(ctx context.Context, studentID, courseID string) (int, error)
	CountCompletedByCourses(ctx context.Context, studentID string, courseIDs []string) (map[string]int, error)
	ListByCourse(ctx context.Context, studentID, courseID string) ([]models.ChapterProgressDetail, error)
}

type progressChapterReader interface {
	FindByID(ctx context.Context, id string) (*models.Course, error)
	FindChapterByID(ctx context.Context, id string) (*models.Chapter, error)
	FindPrecedingChapter(ctx context.Context, courseID string, sequenceNumber int) (*models.Chapter, error)
	CountChapters(ctx context.Context, courseID string) (int, error)
	CountChaptersByCourses(ctx context.Context, courseIDs []string) (map[string]int, error)
}

type progressEnrollmentReader interface {
	Exists(ctx context.Context, courseID, studentID string) (bool, error)
	ListCoursesByStudent(ctx context.Context, studentID string) ([]models.Course, error)
}

type progressCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string)
}

// completionNotifier is invoked once a student reaches full completion of a
// course. Implementations must be non-blocking.
type completionNotifier interface {
	CourseCompleted(ctx context.Context, studentID, courseID string)
}

// CompleteChapterResult reports a completion attempt. AlreadyCompleted is true
// when the chapter was done before this call; the call still succeeds.
type CompleteChapterResult struct {
	Progress         *models.ChapterProgress `json:"progress"`
	AlreadyCompleted bool                    `json:"already_completed"`
	CourseProgress   *models.CourseProgress  `json:"course_progress"`
}

// ProgressService enforces the sequential gate and aggregates progress.
type ProgressService struct {
	repo     progressRepository
	catalog  progressChapterReader
	enrolls  progressEnrollmentReader
	cache    progressCache
	notifier completionNotifier
	metrics  *MetricsService
	cacheTTL time.Duration
	logger   *zap.Logger
}

// NewProgressService constructs ProgressService. The notifier and metrics may
// be nil.
func NewProgressService(repo progressRepository, catalog progressChapterReader, enrolls progressEnrollmentReader, cache progressCache, notifier completionNotifier, metrics *MetricsService, cacheTTL time.Duration, logger *zap.Logger) *ProgressService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProgressService{
		repo:     repo,
		catalog:  catalog,
		enrolls:  enrolls,
		cache:    cache,
		notifier: notifier,
		metrics:  metrics,
		cacheTTL: cacheTTL,
		logger:   logger,
	}
}

// CompleteChapter marks a chapter completed for the calling student. The
// chapter with the greatest sequence number below the target must already be
// completed; the first chapter of a course has no gate. Completion is a
// one-way transition and repeating it is a no-op.
func (s *ProgressService) CompleteChapter(ctx context.Context, student *models.JWTClaims, chapterID string) (*CompleteChapterResult, error) {
	chapter, err := s.catalog.FindChapterByID(ctx, chapterID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "chapter not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load chapter")
	}

	enrolled, err := s.enrolls.Exists(ctx, chapter.CourseID, student.UserID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check enrollment")
	}
	if !enrolled {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "not enrolled in this course")
	}

	preceding, err := s.catalog.FindPrecedingChapter(ctx, chapter.CourseID, chapter.SequenceNumber)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve chapter order")
	}
	if preceding != nil {
		done, err := s.repo.IsCompleted(ctx, student.UserID, preceding.ID)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check preceding chapter")
		}
		if !done {
			s.metrics.IncOutOfOrderAttempt()
			return nil, appErrors.WithMeta(appErrors.ErrOutOfOrder,
				fmt.Sprintf("complete %q first", preceding.Title),
				map[string]interface{}{
					"required_chapter_id": preceding.ID,
					"required_sequence":   preceding.SequenceNumber,
				})
		}
	}

	progress, err := s.repo.GetOrCreate(ctx, student.UserID, chapterID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record progress")
	}

	already := progress.Completed
	if !already {
		marked, err := s.repo.MarkCompleted(ctx, student.UserID, chapterID, time.Now().UTC())
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to mark chapter completed")
		}
		// A concurrent request may have won the update; either way the
		// chapter is completed now.
		already = !marked
		if marked {
			s.metrics.IncChapterCompleted()
		}
		progress, err = s.repo.Find(ctx, student.UserID, chapterID)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reload progress")
		}
	}

	s.cache.Delete(ctx, progressCacheKey(student.UserID, chapter.CourseID))

	summary, err := s.courseProgress(ctx, student.UserID, chapter.CourseID)
	if err != nil {
		return nil, err
	}
	if !already && summary.Total > 0 && summary.Completed >= summary.Total && s.notifier != nil {
		s.notifier.CourseCompleted(ctx, student.UserID, chapter.CourseID)
	}

	return &CompleteChapterResult{Progress: progress, AlreadyCompleted: already, CourseProgress: summary}, nil
}

// CourseProgress returns the calling student's completion summary and
// per-chapter detail for one course.
func (s *ProgressService) CourseProgress(ctx context.Context, student *models.JWTClaims, courseID string) (*models.CourseProgress, []models.ChapterProgressDetail, error) {
	course, err := s.catalog.FindByID(ctx, courseID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	enrolled, err := s.enrolls.Exists(ctx, courseID, student.UserID)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check enrollment")
	}
	if !enrolled {
		return nil, nil, appErrors.Clone(appErrors.ErrForbidden, "not enrolled in this course")
	}

	summary, err := s.cachedCourseProgress(ctx, student.UserID, course)
	if err != nil {
		return nil, nil, err
	}
	detail, err := s.repo.ListByCourse(ctx, student.UserID, courseID)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list chapter progress")
	}
	return summary, detail, nil
}

// MyProgress returns one summary per enrolled course.
func (s *ProgressService) MyProgress(ctx context.Context, student *models.JWTClaims) ([]models.CourseProgress, error) {
	courses, err := s.enrolls.ListCoursesByStudent(ctx, student.UserID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list enrolled courses")
	}
	if len(courses) == 0 {
		return []models.CourseProgress{}, nil
	}

	courseIDs := make([]string, 0, len(courses))
	for _, c := range courses {
		courseIDs = append(courseIDs, c.ID)
	}
	totals, err := s.catalog.CountChaptersByCourses(ctx, courseIDs)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count chapters")
	}
	completed, err := s.repo.CountCompletedByCourses(ctx, student.UserID, courseIDs)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count completed chapters")
	}

	summaries := make([]models.CourseProgress, 0, len(courses))
	for _, c := range courses {
		summaries = append(summaries, models.CourseProgress{
			CourseID:    c.ID,
			CourseTitle: c.Title,
			Total:       totals[c.ID],
			Completed:   completed[c.ID],
			Percentage:  completionPercentage(completed[c.ID], totals[c.ID]),
		})
	}
	return summaries, nil
}

func (s *ProgressService) cachedCourseProgress(ctx context.Context, studentID string, course *models.Course) (*models.CourseProgress, error) {
	key := progressCacheKey(studentID, course.ID)
	var cached models.CourseProgress
	if err := s.cache.Get(ctx, key, &cached); err == nil {
		s.metrics.RecordCacheLookup(true)
		return &cached, nil
	}
	s.metrics.RecordCacheLookup(false)

	summary, err := s.courseProgressFor(ctx, studentID, course)
	if err != nil {
		return nil, err
	}
	if err := s.cache.Set(ctx, key, summary, s.cacheTTL); err != nil {
		s.logger.Warn("failed to cache progress summary", zap.Error(err), zap.String("key", key))
	}
	return summary, nil
}

func (s *ProgressService) courseProgress(ctx context.Context, studentID, courseID string) (*models.CourseProgress, error) {
	course, err := s.catalog.FindByID(ctx, courseID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	return s.courseProgressFor(ctx, studentID, course)
}

func (s *ProgressService) courseProgressFor(ctx context.Context, studentID string, course *models.Course) (*models.CourseProgress, error) {
	total, err := s.catalog.CountChapters(ctx, course.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count chapters")
	}
	done, err := s.repo.CountCompleted(ctx, studentID, course.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count completed chapters")
	}
	return &models.CourseProgress{
		CourseID:    course.ID,
		CourseTitle: course.Title,
		Total:       total,
		Completed:   done,
		Percentage:  completionPercentage(done, total),
	}, nil
}

func progressCacheKey(studentID, courseID string) string {
	return fmt.Sprintf("progress:%s:%s", studentID, courseID)
}

// completionPercentage rounds to two decimals; a course with no chapters
// reports 0.0.
func completionPercentage(completed, total int) float64 {
	if total == 0 {
		return 0.0
	}
	return math.Round(float64(completed)/float64(total)*10000) / 100
}
