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

// ProgressRepository handles persistence of chapter completion facts.
type ProgressRepository struct {
	db *sqlx.DB
}

// NewProgressRepository constructs the repository.
func NewProgressRepository(db *sqlx.DB) *ProgressRepository {
	return &ProgressRepository{db: db}
}

// Find returns the progress row for (studentID, chapterID).
func (r *ProgressRepository) Find(ctx context.Context, studentID, chapterID string) (*models.ChapterProgress, error) {
	const query = `SELECT id, student_id, chapter_id, completed, completed_at FROM chapter_progress WHERE student_id = $1 AND chapter_id = $2`
	var progress models.ChapterProgress
	if err := r.db.GetContext(ctx, &progress, query, studentID, chapterID); err != nil {
		return nil, err
	}
	return &progress, nil
}

// GetOrCreate ensures a progress row exists for (studentID, chapterID); the
// row starts uncompleted. Insert-then-reread avoids the check-then-insert
// race; the unique index arbitrates concurrent callers.
func (r *ProgressRepository) GetOrCreate(ctx context.Context, studentID, chapterID string) (*models.ChapterProgress, error) {
	progress := &models.ChapterProgress{
		ID:        uuid.NewString(),
		StudentID: studentID,
		ChapterID: chapterID,
	}
	const insert = `INSERT INTO chapter_progress (id, student_id, chapter_id, completed)
        VALUES (:id, :student_id, :chapter_id, FALSE)
        ON CONFLICT (student_id, chapter_id) DO NOTHING`
	res, err := r.db.NamedExecContext(ctx, insert, progress)
	if err != nil {
		return nil, fmt.Errorf("create progress row: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 1 {
		return progress, nil
	}
	existing, err := r.Find(ctx, studentID, chapterID)
	if err != nil {
		return nil, fmt.Errorf("reread progress row: %w", err)
	}
	return existing, nil
}

// MarkCompleted flips the row to completed and stamps completed_at in one
// statement. The completed = FALSE guard makes the transition happen at most
// once: a concurrent duplicate call affects zero rows and the caller re-reads.
func (r *ProgressRepository) MarkCompleted(ctx context.Context, studentID, chapterID string, completedAt time.Time) (bool, error) {
	const query = `UPDATE chapter_progress SET completed = TRUE, completed_at = $3
        WHERE student_id = $1 AND chapter_id = $2 AND completed = FALSE`
	res, err := r.db.ExecContext(ctx, query, studentID, chapterID, completedAt)
	if err != nil {
		return false, fmt.Errorf("mark chapter completed: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark chapter completed: %w", err)
	}
	return affected == 1, nil
}

// IsCompleted reports whether the student has completed the chapter. A
// missing row means not started.
func (r *ProgressRepository) IsCompleted(ctx context.Context, studentID, chapterID string) (bool, error) {
	const query = `SELECT completed FROM chapter_progress WHERE student_id = $1 AND chapter_id = $2`
	var completed bool
	if err := r.db.GetContext(ctx, &completed, query, studentID, chapterID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("check chapter completion: %w", err)
	}
	return completed, nil
}

// CountCompleted returns how many chapters of the course the student has
// completed.
func (r *ProgressRepository) CountCompleted(ctx context.Context, studentID, courseID string) (int, error) {
	const query = `SELECT COUNT(*) FROM chapter_progress cp
        JOIN chapters ch ON ch.id = cp.chapter_id
        WHERE cp.student_id = $1 AND ch.course_id = $2 AND cp.completed = TRUE`
	var total int
	if err := r.db.GetContext(ctx, &total, query, studentID, courseID); err != nil {
		return 0, fmt.Errorf("count completed chapters: %w", err)
	}
	return total, nil
}

// CountCompletedByCourses returns completed-chapter counts keyed by course
// ID for the given student, for the batched progress view.
func (r *ProgressRepository) CountCompletedByCourses(ctx context.Context, studentID string, courseIDs []string) (map[string]int, error) {
	counts := make(map[string]int, len(courseIDs))
	if len(courseIDs) == 0 {
		return counts, nil
	}
	query, args, err := sqlx.In(`SELECT ch.course_id, COUNT(*) AS total FROM chapter_progress cp
        JOIN chapters ch ON ch.id = cp.chapter_id
        WHERE cp.student_id = ? AND cp.completed = TRUE AND ch.course_id IN (?)
        GROUP BY ch.course_id`, studentID, courseIDs)
	if err != nil {
		return nil, fmt.Errorf("build completed count query: %w", err)
	}
	query = r.db.Rebind(query)
	rows, err := r.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("count completed by courses: %w", err)
	}
	defer rows.Close() //nolint:errcheck
	for rows.Next() {
		var courseID string
		var total int
		if err := rows.Scan(&courseID, &total); err != nil {
			return nil, fmt.Errorf("scan completed count: %w", err)
		}
		counts[courseID] = total
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate completed counts: %w", err)
	}
	return counts, nil
}

// ListByCourse returns the student's per-chapter progress rows for a course,
// ordered by chapter sequence.
func (r *ProgressRepository) ListByCourse(ctx context.Context, studentID, courseID string) ([]models.ChapterProgressDetail, error) {
	const query = `SELECT cp.id, cp.student_id, cp.chapter_id, cp.completed, cp.completed_at,
        ch.title AS chapter_title, ch.sequence_number
        FROM chapter_progress cp
        JOIN chapters ch ON ch.id = cp.chapter_id
        WHERE cp.student_id = $1 AND ch.course_id = $2
        ORDER BY ch.sequence_number ASC`
	var details []models.ChapterProgressDetail
	if err := r.db.SelectContext(ctx, &details, query, studentID, courseID); err != nil {
		return nil, fmt.Errorf("list chapter progress: %w", err)
	}
	return details, nil
}
