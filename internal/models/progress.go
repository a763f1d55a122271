package models

import "time"

// ChapterProgress is the per-(student, chapter) completion fact. Absence of a
// row means "not started". completed_at is set once, at the transition to
// completed, and never cleared.
type ChapterProgress struct {
	ID          string     `db:"id" json:"id"`
	StudentID   string     `db:"student_id" json:"student_id"`
	ChapterID   string     `db:"chapter_id" json:"chapter_id"`
	Completed   bool       `db:"completed" json:"completed"`
	CompletedAt *time.Time `db:"completed_at" json:"completed_at,omitempty"`
}

// ChapterProgressDetail enriches ChapterProgress with chapter context.
type ChapterProgressDetail struct {
	ChapterProgress
	ChapterTitle   string `db:"chapter_title" json:"chapter_title"`
	SequenceNumber int    `db:"sequence_number" json:"sequence_number"`
}

// CourseProgress aggregates a student's completion within one course.
type CourseProgress struct {
	CourseID    string  `json:"course_id"`
	CourseTitle string  `json:"course_title"`
	Total       int     `json:"total_chapters"`
	Completed   int     `json:"completed_chapters"`
	Percentage  float64 `json:"percentage"`
}
