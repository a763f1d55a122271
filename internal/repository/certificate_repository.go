package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/mentorloop/lms-api/internal/models"
)

// CertificateRepository handles persistence of issued certificates.
type CertificateRepository struct {
	db *sqlx.DB
}

// NewCertificateRepository constructs the repository.
func NewCertificateRepository(db *sqlx.DB) *CertificateRepository {
	return &CertificateRepository{db: db}
}

// GetOrCreate ensures exactly one certificate row exists per
// (studentID, courseID). Concurrent first fetches race on the unique index;
// the loser re-reads the winner's row. The boolean reports creation.
func (r *CertificateRepository) GetOrCreate(ctx context.Context, studentID, courseID string) (*models.Certificate, bool, error) {
	cert := &models.Certificate{
		ID:            uuid.NewString(),
		CertificateID: uuid.NewString(),
		StudentID:     studentID,
		CourseID:      courseID,
		IssuedAt:      time.Now().UTC(),
	}
	const insert = `INSERT INTO certificates (id, certificate_id, student_id, course_id, issued_at)
        VALUES (:id, :certificate_id, :student_id, :course_id, :issued_at)
        ON CONFLICT (student_id, course_id) DO NOTHING`
	res, err := r.db.NamedExecContext(ctx, insert, cert)
	if err != nil {
		return nil, false, fmt.Errorf("create certificate: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 1 {
		return cert, true, nil
	}

	existing, err := r.Find(ctx, studentID, courseID)
	if err != nil {
		return nil, false, fmt.Errorf("reread certificate: %w", err)
	}
	return existing, false, nil
}

// Find returns the certificate for (studentID, courseID).
func (r *CertificateRepository) Find(ctx context.Context, studentID, courseID string) (*models.Certificate, error) {
	const query = `SELECT id, certificate_id, student_id, course_id, issued_at, artifact_path FROM certificates WHERE student_id = $1 AND course_id = $2`
	var cert models.Certificate
	if err := r.db.GetContext(ctx, &cert, query, studentID, courseID); err != nil {
		return nil, err
	}
	return &cert, nil
}

// FindByCertificateID resolves a certificate by its public verification ID.
func (r *CertificateRepository) FindByCertificateID(ctx context.Context, certificateID string) (*models.Certificate, error) {
	const query = `SELECT id, certificate_id, student_id, course_id, issued_at, artifact_path FROM certificates WHERE certificate_id = $1`
	var cert models.Certificate
	if err := r.db.GetContext(ctx, &cert, query, certificateID); err != nil {
		return nil, err
	}
	return &cert, nil
}

// UpdateArtifactPath records the rendered artifact reference.
func (r *CertificateRepository) UpdateArtifactPath(ctx context.Context, id, artifactPath string) error {
	const query = `UPDATE certificates SET artifact_path = $2 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, artifactPath); err != nil {
		return fmt.Errorf("update certificate artifact: %w", err)
	}
	return nil
}
