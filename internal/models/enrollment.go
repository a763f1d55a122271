package models

import "time"

// CourseAssignment records that a mentor assigned a student to a course.
// Unique per (course_id, student_id); re-assignment is idempotent.
type CourseAssignment struct {
	ID         string    `db:"id" json:"id"`
	CourseID   string    `db:"course_id" json:"course_id"`
	StudentID  string    `db:"student_id" json:"student_id"`
	AssignedAt time.Time `db:"assigned_at" json:"assigned_at"`
}

// CourseAssignmentDetail enriches CourseAssignment with display names.
type CourseAssignmentDetail struct {
	CourseAssignment
	CourseTitle string `db:"course_title" json:"course_title"`
	StudentName string `db:"student_name" json:"student_name"`
}
