package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/mentorloop/lms-api/internal/models"
)

// EnrollmentRepository handles persistence of course assignments.
type EnrollmentRepository struct {
	db *sqlx.DB
}

// NewEnrollmentRepository constructs the repository.
func NewEnrollmentRepository(db *sqlx.DB) *EnrollmentRepository {
	return &EnrollmentRepository{db: db}
}

// GetOrCreate ensures an assignment row exists for (courseID, studentID).
// The insert relies on the unique index: ON CONFLICT DO NOTHING followed by
// a re-read, so two concurrent calls settle on a single row. The boolean
// reports whether this call created the row.
func (r *EnrollmentRepository) GetOrCreate(ctx context.Context, courseID, studentID string) (*models.CourseAssignment, bool, error) {
	assignment := &models.CourseAssignment{
		ID:         uuid.NewString(),
		CourseID:   courseID,
		StudentID:  studentID,
		AssignedAt: time.Now().UTC(),
	}
	const insert = `INSERT INTO course_assignments (id, course_id, student_id, assigned_at)
        VALUES (:id, :course_id, :student_id, :assigned_at)
        ON CONFLICT (course_id, student_id) DO NOTHING`
	res, err := r.db.NamedExecContext(ctx, insert, assignment)
	if err != nil {
		return nil, false, fmt.Errorf("create assignment: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 1 {
		return assignment, true, nil
	}

	existing, err := r.Find(ctx, courseID, studentID)
	if err != nil {
		return nil, false, fmt.Errorf("reread assignment: %w", err)
	}
	return existing, false, nil
}

// Find returns the assignment for (courseID, studentID).
func (r *EnrollmentRepository) Find(ctx context.Context, courseID, studentID string) (*models.CourseAssignment, error) {
	const query = `SELECT id, course_id, student_id, assigned_at FROM course_assignments WHERE course_id = $1 AND student_id = $2`
	var assignment models.CourseAssignment
	if err := r.db.GetContext(ctx, &assignment, query, courseID, studentID); err != nil {
		return nil, err
	}
	return &assignment, nil
}

// Exists checks whether the student is assigned to the course.
func (r *EnrollmentRepository) Exists(ctx context.Context, courseID, studentID string) (bool, error) {
	const query = `SELECT 1 FROM course_assignments WHERE course_id = $1 AND student_id = $2 LIMIT 1`
	var exists int
	if err := r.db.GetContext(ctx, &exists, query, courseID, studentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("check assignment: %w", err)
	}
	return true, nil
}

// ListCoursesByStudent returns every course the student is assigned to,
// deduplicated by the unique index, newest assignment first.
func (r *EnrollmentRepository) ListCoursesByStudent(ctx context.Context, studentID string) ([]models.Course, error) {
	const query = `SELECT c.id, c.mentor_id, c.title, c.description, c.created_at, c.updated_at
        FROM course_assignments ca
        JOIN courses c ON c.id = ca.course_id
        WHERE ca.student_id = $1
        ORDER BY ca.assigned_at DESC`
	var courses []models.Course
	if err := r.db.SelectContext(ctx, &courses, query, studentID); err != nil {
		return nil, fmt.Errorf("list enrolled courses: %w", err)
	}
	return courses, nil
}

// ListByCourse returns the assignments for a course with student names.
func (r *EnrollmentRepository) ListByCourse(ctx context.Context, courseID string) ([]models.CourseAssignmentDetail, error) {
	const query = `SELECT ca.id, ca.course_id, ca.student_id, ca.assigned_at,
        c.title AS course_title, u.full_name AS student_name
        FROM course_assignments ca
        JOIN courses c ON c.id = ca.course_id
        JOIN users u ON u.id = ca.student_id
        WHERE ca.course_id = $1
        ORDER BY ca.assigned_at ASC`
	var assignments []models.CourseAssignmentDetail
	if err := r.db.SelectContext(ctx, &assignments, query, courseID); err != nil {
		return nil, fmt.Errorf("list course assignments: %w", err)
	}
	return assignments, nil
}
