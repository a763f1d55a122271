package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/mentorloop/lms-api/internal/models"
)

// CourseRepository handles persistence of courses.
type CourseRepository struct {
	db *sqlx.DB
}

// NewCourseRepository constructs the repository.
func NewCourseRepository(db *sqlx.DB) *CourseRepository {
	return &CourseRepository{db: db}
}

// List returns courses filtered by the provided criteria.
func (r *CourseRepository) List(ctx context.Context, filter models.CourseFilter) ([]models.CourseDetail, int, error) {
	base := `FROM courses c
LEFT JOIN users u ON u.id = c.mentor_id`
	var conditions []string
	var args []interface{}

	if filter.MentorID != "" {
		conditions = append(conditions, fmt.Sprintf("c.mentor_id = $%d", len(args)+1))
		args = append(args, filter.MentorID)
	}
	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("LOWER(c.title) LIKE $%d", len(args)+1))
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	allowedSorts := map[string]string{
		"created_at":  "c.created_at",
		"title":       "c.title",
		"mentor_name": "u.full_name",
	}
	orderBy := allowedSorts[filter.SortBy]
	if orderBy == "" {
		orderBy = "c.created_at"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "DESC"
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT c.id, c.mentor_id, c.title, c.description, c.created_at, c.updated_at,
        u.full_name AS mentor_name
        %s ORDER BY %s %s LIMIT %d OFFSET %d`, base+clause, orderBy, order, size, offset)

	var courses []models.CourseDetail
	if err := r.db.SelectContext(ctx, &courses, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list courses: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base+clause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count courses: %w", err)
	}
	return courses, total, nil
}

// FindByID returns a course by its ID.
func (r *CourseRepository) FindByID(ctx context.Context, id string) (*models.Course, error) {
	const query = `SELECT id, mentor_id, title, description, created_at, updated_at FROM courses WHERE id = $1`
	var course models.Course
	if err := r.db.GetContext(ctx, &course, query, id); err != nil {
		return nil, err
	}
	return &course, nil
}

// ListByMentor returns every course owned by the given mentor.
func (r *CourseRepository) ListByMentor(ctx context.Context, mentorID string) ([]models.Course, error) {
	const query = `SELECT id, mentor_id, title, description, created_at, updated_at FROM courses WHERE mentor_id = $1 ORDER BY created_at DESC`
	var courses []models.Course
	if err := r.db.SelectContext(ctx, &courses, query, mentorID); err != nil {
		return nil, fmt.Errorf("list mentor courses: %w", err)
	}
	return courses, nil
}

// Create persists a new course record.
func (r *CourseRepository) Create(ctx context.Context, course *models.Course) error {
	if course.ID == "" {
		course.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if course.CreatedAt.IsZero() {
		course.CreatedAt = now
	}
	course.UpdatedAt = now
	const query = `INSERT INTO courses (id, mentor_id, title, description, created_at, updated_at)
        VALUES (:id, :mentor_id, :title, :description, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, course); err != nil {
		return fmt.Errorf("create course: %w", err)
	}
	return nil
}

// Update persists mutable course fields.
func (r *CourseRepository) Update(ctx context.Context, course *models.Course) error {
	course.UpdatedAt = time.Now().UTC()
	const query = `UPDATE courses SET title = :title, description = :description, updated_at = :updated_at WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, course); err != nil {
		return fmt.Errorf("update course: %w", err)
	}
	return nil
}

// Delete removes a course. Chapters, assignments, progress rows and
// certificates go with it via ON DELETE CASCADE.
func (r *CourseRepository) Delete(ctx context.Context, id string) error {
	const query = `DELETE FROM courses WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("delete course: %w", err)
	}
	return nil
}

// CreateChapter inserts a chapter. A duplicate (course_id, sequence_number)
// surfaces as a unique violation for the service to translate.
func (r *CourseRepository) CreateChapter(ctx context.Context, chapter *models.Chapter) error {
	if chapter.ID == "" {
		chapter.ID = uuid.NewString()
	}
	if chapter.CreatedAt.IsZero() {
		chapter.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO chapters (id, course_id, title, description, sequence_number, video_url, attachment_url, created_at)
        VALUES (:id, :course_id, :title, :description, :sequence_number, :video_url, :attachment_url, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, chapter); err != nil {
		return fmt.Errorf("create chapter: %w", err)
	}
	return nil
}

// FindChapterByID returns a chapter by its ID.
func (r *CourseRepository) FindChapterByID(ctx context.Context, id string) (*models.Chapter, error) {
	const query = `SELECT id, course_id, title, description, sequence_number, video_url, attachment_url, created_at FROM chapters WHERE id = $1`
	var chapter models.Chapter
	if err := r.db.GetContext(ctx, &chapter, query, id); err != nil {
		return nil, err
	}
	return &chapter, nil
}

// ListChapters returns a course's chapters ordered by sequence_number.
func (r *CourseRepository) ListChapters(ctx context.Context, courseID string) ([]models.Chapter, error) {
	const query = `SELECT id, course_id, title, description, sequence_number, video_url, attachment_url, created_at FROM chapters WHERE course_id = $1 ORDER BY sequence_number ASC`
	var chapters []models.Chapter
	if err := r.db.SelectContext(ctx, &chapters, query, courseID); err != nil {
		return nil, fmt.Errorf("list chapters: %w", err)
	}
	return chapters, nil
}

// FindPrecedingChapter returns the chapter with the greatest sequence_number
// strictly below the given one within the same course, or sql.ErrNoRows when
// the given position is the first.
func (r *CourseRepository) FindPrecedingChapter(ctx context.Context, courseID string, sequenceNumber int) (*models.Chapter, error) {
	const query = `SELECT id, course_id, title, description, sequence_number, video_url, attachment_url, created_at
        FROM chapters WHERE course_id = $1 AND sequence_number < $2
        ORDER BY sequence_number DESC LIMIT 1`
	var chapter models.Chapter
	if err := r.db.GetContext(ctx, &chapter, query, courseID, sequenceNumber); err != nil {
		return nil, err
	}
	return &chapter, nil
}

// CountChapters returns the number of chapters in a course.
func (r *CourseRepository) CountChapters(ctx context.Context, courseID string) (int, error) {
	const query = `SELECT COUNT(*) FROM chapters WHERE course_id = $1`
	var total int
	if err := r.db.GetContext(ctx, &total, query, courseID); err != nil {
		return 0, fmt.Errorf("count chapters: %w", err)
	}
	return total, nil
}

// CountChaptersByCourses returns chapter counts keyed by course ID.
func (r *CourseRepository) CountChaptersByCourses(ctx context.Context, courseIDs []string) (map[string]int, error) {
	counts := make(map[string]int, len(courseIDs))
	if len(courseIDs) == 0 {
		return counts, nil
	}
	query, args, err := sqlx.In(`SELECT course_id, COUNT(*) AS total FROM chapters WHERE course_id IN (?) GROUP BY course_id`, courseIDs)
	if err != nil {
		return nil, fmt.Errorf("build chapter count query: %w", err)
	}
	query = r.db.Rebind(query)
	rows, err := r.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("count chapters by courses: %w", err)
	}
	defer rows.Close() //nolint:errcheck
	for rows.Next() {
		var courseID string
		var total int
		if err := rows.Scan(&courseID, &total); err != nil {
			return nil, fmt.Errorf("scan chapter count: %w", err)
		}
		counts[courseID] = total
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chapter counts: %w", err)
	}
	return counts, nil
}
