package models

import "time"

// Certificate is a derived fact keyed by (student_id, course_id). The
// CertificateID is the opaque verification identifier printed on the PDF;
// ArtifactPath references the rendered blob and is filled lazily.
type Certificate struct {
	ID            string    `db:"id" json:"id"`
	CertificateID string    `db:"certificate_id" json:"certificate_id"`
	StudentID     string    `db:"student_id" json:"student_id"`
	CourseID      string    `db:"course_id" json:"course_id"`
	IssuedAt      time.Time `db:"issued_at" json:"issued_at"`
	ArtifactPath  *string   `db:"artifact_path" json:"-"`
}

// CertificateVerification is the public view returned by the verify endpoint.
type CertificateVerification struct {
	CertificateID string    `json:"certificate_id"`
	StudentName   string    `json:"student_name"`
	CourseTitle   string    `json:"course_title"`
	IssuedAt      time.Time `json:"issued_at"`
}
