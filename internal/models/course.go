package models

import "time"

// Course is an ordered sequence of chapters owned by exactly one mentor.
type Course struct {
	ID          string    `db:"id" json:"id"`
	MentorID    string    `db:"mentor_id" json:"mentor_id"`
	Title       string    `db:"title" json:"title"`
	Description string    `db:"description" json:"description"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// CourseDetail enriches Course with the mentor's display name.
type CourseDetail struct {
	Course
	MentorName string `db:"mentor_name" json:"mentor_name"`
}

// CourseFilter provides filters for listing courses.
type CourseFilter struct {
	MentorID  string
	Search    string
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}

// Chapter is a single unit of course content. sequence_number is the sole
// ordering authority; values are unique per course but may have gaps.
type Chapter struct {
	ID             string    `db:"id" json:"id"`
	CourseID       string    `db:"course_id" json:"course_id"`
	Title          string    `db:"title" json:"title"`
	Description    string    `db:"description" json:"description"`
	SequenceNumber int       `db:"sequence_number" json:"sequence_number"`
	VideoURL       string    `db:"video_url" json:"video_url,omitempty"`
	AttachmentURL  string    `db:"attachment_url" json:"attachment_url,omitempty"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}
