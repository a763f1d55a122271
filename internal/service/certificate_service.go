package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mentorloop/lms-api/internal/models"
	appErrors "github.com/mentorloop/lms-api/pkg/errors"
	"github.com/mentorloop/lms-api/pkg/export"
	"github.com/mentorloop/lms-api/pkg/jobs"
)

type certificateRepository interface {
	GetOrCreate(ctx context.Context, studentID, courseID string) (*models.Certificate, bool, error)
	Find(ctx context.Context, studentID, courseID string) (*models.Certificate, error)
	FindByCertificateID(ctx context.Context, certificateID string) (*models.Certificate, error)
	UpdateArtifactPath(ctx context.Context, id, artifactPath string) error
}

type certificateCatalogReader interface {
	FindByID(ctx context.Context, id string) (*models.Course, error)
	ListChapters(ctx context.Context, courseID string) ([]models.Chapter, error)
	CountChapters(ctx context.Context, courseID string) (int, error)
}

type certificateProgressReader interface {
	CountCompleted(ctx context.Context, studentID, courseID string) (int, error)
	ListByCourse(ctx context.Context, studentID, courseID string) ([]models.ChapterProgressDetail, error)
}

type certificateEnrollmentReader interface {
	Exists(ctx context.Context, courseID, studentID string) (bool, error)
}

type certificateUserReader interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
}

type certificateStorage interface {
	Save(filename string, data []byte) (string, error)
	Read(filename string) ([]byte, error)
	Exists(filename string) bool
}

type certificateSigner interface {
	Generate(certificateID, relPath string) (string, time.Time, error)
	Parse(token string) (certificateID, relPath string, expiresAt time.Time, err error)
}

type jobEnqueuer interface {
	Enqueue(job jobs.Job) error
}

// CertificateDocument pairs a rendered PDF with its download filename.
type CertificateDocument struct {
	Certificate *models.Certificate
	Filename    string
	Content     []byte
}

// CertificateLink is a time-limited download token for a certificate.
type CertificateLink struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// renderPayload is the queue payload for background pre-renders.
type renderPayload struct {
	StudentID string
	CourseID  string
}

// CertificateService issues and renders completion certificates. A
// certificate is a derived fact: issuance requires every chapter of the
// course completed, and re-requesting returns the same certificate.
type CertificateService struct {
	repo     certificateRepository
	catalog  certificateCatalogReader
	progress certificateProgressReader
	enrolls  certificateEnrollmentReader
	users    certificateUserReader
	storage  certificateStorage
	renderer *export.CertificateRenderer
	signer   certificateSigner
	queue    jobEnqueuer
	metrics  *MetricsService
	logger   *zap.Logger
}

// NewCertificateService constructs CertificateService. The queue may be nil;
// rendering then happens only on demand.
func NewCertificateService(repo certificateRepository, catalog certificateCatalogReader, progress certificateProgressReader, enrolls certificateEnrollmentReader, users certificateUserReader, storage certificateStorage, renderer *export.CertificateRenderer, signer certificateSigner, metrics *MetricsService, logger *zap.Logger) *CertificateService {
	if renderer == nil {
		renderer = export.NewCertificateRenderer()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CertificateService{
		repo:     repo,
		catalog:  catalog,
		progress: progress,
		enrolls:  enrolls,
		users:    users,
		storage:  storage,
		renderer: renderer,
		signer:   signer,
		metrics:  metrics,
		logger:   logger,
	}
}

// SetQueue attaches the background render queue. Called after construction
// because the queue's handler needs the service.
func (s *CertificateService) SetQueue(queue jobEnqueuer) {
	s.queue = queue
}

// GetOrIssue returns the student's certificate for a course, issuing it on
// first request, and streams the rendered PDF. Issuance fails while any
// chapter remains incomplete.
func (s *CertificateService) GetOrIssue(ctx context.Context, student *models.JWTClaims, courseID string) (*CertificateDocument, error) {
	course, err := s.loadCourse(ctx, courseID)
	if err != nil {
		return nil, err
	}
	enrolled, err := s.enrolls.Exists(ctx, courseID, student.UserID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check enrollment")
	}
	if !enrolled {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "not enrolled in this course")
	}

	if err := s.requireFullCompletion(ctx, student.UserID, courseID); err != nil {
		return nil, err
	}

	cert, created, err := s.repo.GetOrCreate(ctx, student.UserID, courseID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to issue certificate")
	}
	if created {
		s.metrics.IncCertificateIssued()
		s.logger.Info("certificate issued",
			zap.String("certificate_id", cert.CertificateID),
			zap.String("student_id", student.UserID),
			zap.String("course_id", courseID))
	}

	content, err := s.ensureRendered(ctx, cert, course)
	if err != nil {
		return nil, err
	}
	return &CertificateDocument{
		Certificate: cert,
		Filename:    certificateFilename(course.Title),
		Content:     content,
	}, nil
}

// SignedLink issues a short-lived download token for an already issued
// certificate.
func (s *CertificateService) SignedLink(ctx context.Context, student *models.JWTClaims, courseID string) (*CertificateLink, error) {
	cert, err := s.repo.Find(ctx, student.UserID, courseID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "certificate not issued")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load certificate")
	}

	course, err := s.loadCourse(ctx, courseID)
	if err != nil {
		return nil, err
	}
	if _, err := s.ensureRendered(ctx, cert, course); err != nil {
		return nil, err
	}

	token, expiresAt, err := s.signer.Generate(cert.CertificateID, *cert.ArtifactPath)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign download link")
	}
	return &CertificateLink{Token: token, ExpiresAt: expiresAt}, nil
}

// Download resolves a signed token into the certificate PDF. No
// authentication is required; the token is the credential.
func (s *CertificateService) Download(ctx context.Context, token string) (*CertificateDocument, error) {
	certificateID, relPath, _, err := s.signer.Parse(token)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid or expired download token")
	}
	cert, err := s.repo.FindByCertificateID(ctx, certificateID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "certificate not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load certificate")
	}
	if cert.ArtifactPath == nil || *cert.ArtifactPath != relPath {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid or expired download token")
	}

	content, err := s.storage.Read(relPath)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read certificate artifact")
	}

	course, err := s.loadCourse(ctx, cert.CourseID)
	if err != nil {
		return nil, err
	}
	return &CertificateDocument{
		Certificate: cert,
		Filename:    certificateFilename(course.Title),
		Content:     content,
	}, nil
}

// Verify resolves a public certificate identifier to its holder and course.
func (s *CertificateService) Verify(ctx context.Context, certificateID string) (*models.CertificateVerification, error) {
	cert, err := s.repo.FindByCertificateID(ctx, certificateID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "certificate not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load certificate")
	}
	student, err := s.users.FindByID(ctx, cert.StudentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load certificate holder")
	}
	course, err := s.loadCourse(ctx, cert.CourseID)
	if err != nil {
		return nil, err
	}
	return &models.CertificateVerification{
		CertificateID: cert.CertificateID,
		StudentName:   student.FullName,
		CourseTitle:   course.Title,
		IssuedAt:      cert.IssuedAt,
	}, nil
}

// CourseCompleted implements the progress completion hook: issue the
// certificate and pre-render it in the background so the first download is
// instant.
func (s *CertificateService) CourseCompleted(ctx context.Context, studentID, courseID string) {
	if s.queue == nil {
		return
	}
	err := s.queue.Enqueue(jobs.Job{
		ID:      fmt.Sprintf("render:%s:%s", studentID, courseID),
		Type:    "certificate_render",
		Payload: renderPayload{StudentID: studentID, CourseID: courseID},
	})
	if err != nil {
		s.logger.Warn("failed to enqueue certificate render",
			zap.Error(err),
			zap.String("student_id", studentID),
			zap.String("course_id", courseID))
	}
}

// HandleRenderJob is the queue handler for background pre-renders.
func (s *CertificateService) HandleRenderJob(ctx context.Context, job jobs.Job) error {
	payload, ok := job.Payload.(renderPayload)
	if !ok {
		return fmt.Errorf("unexpected payload type %T", job.Payload)
	}
	cert, _, err := s.repo.GetOrCreate(ctx, payload.StudentID, payload.CourseID)
	if err != nil {
		return fmt.Errorf("issue certificate: %w", err)
	}
	course, err := s.loadCourse(ctx, payload.CourseID)
	if err != nil {
		return fmt.Errorf("load course: %w", err)
	}
	if _, err := s.ensureRendered(ctx, cert, course); err != nil {
		return fmt.Errorf("render certificate: %w", err)
	}
	return nil
}

func (s *CertificateService) loadCourse(ctx context.Context, courseID string) (*models.Course, error) {
	course, err := s.catalog.FindByID(ctx, courseID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	return course, nil
}

// requireFullCompletion rejects issuance while any chapter is uncompleted.
// A course with no chapters passes: there is nothing left to complete.
func (s *CertificateService) requireFullCompletion(ctx context.Context, studentID, courseID string) error {
	total, err := s.catalog.CountChapters(ctx, courseID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count chapters")
	}
	done, err := s.progress.CountCompleted(ctx, studentID, courseID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count completed chapters")
	}
	if done >= total {
		return nil
	}

	missing, err := s.missingChapters(ctx, studentID, courseID)
	if err != nil {
		s.logger.Warn("failed to resolve missing chapters", zap.Error(err))
	}
	return appErrors.WithMeta(appErrors.ErrIncomplete,
		fmt.Sprintf("%d of %d chapters completed", done, total),
		map[string]interface{}{
			"completed": done,
			"total":     total,
			"missing":   missing,
		})
}

func (s *CertificateService) missingChapters(ctx context.Context, studentID, courseID string) ([]string, error) {
	chapters, err := s.catalog.ListChapters(ctx, courseID)
	if err != nil {
		return nil, err
	}
	rows, err := s.progress.ListByCourse(ctx, studentID, courseID)
	if err != nil {
		return nil, err
	}
	completed := make(map[string]bool, len(rows))
	for _, row := range rows {
		if row.Completed {
			completed[row.ChapterID] = true
		}
	}
	missing := make([]string, 0)
	for _, ch := range chapters {
		if !completed[ch.ID] {
			missing = append(missing, ch.Title)
		}
	}
	return missing, nil
}

// ensureRendered renders and stores the PDF on first access; subsequent
// calls read the stored artifact.
func (s *CertificateService) ensureRendered(ctx context.Context, cert *models.Certificate, course *models.Course) ([]byte, error) {
	if cert.ArtifactPath != nil && s.storage.Exists(*cert.ArtifactPath) {
		content, err := s.storage.Read(*cert.ArtifactPath)
		if err == nil {
			return content, nil
		}
		s.logger.Warn("stored certificate artifact unreadable, re-rendering",
			zap.Error(err), zap.String("certificate_id", cert.CertificateID))
	}

	student, err := s.users.FindByID(ctx, cert.StudentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load certificate holder")
	}
	content, err := s.renderer.Render(export.CertificateData{
		StudentName:   student.FullName,
		CourseTitle:   course.Title,
		IssuedAtDate:  cert.IssuedAt.Format("January 2, 2006"),
		CertificateID: cert.CertificateID,
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render certificate")
	}
	s.metrics.IncCertificateRendered()

	relPath := path.Join("certificates", cert.CertificateID+".pdf")
	if _, err := s.storage.Save(relPath, content); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store certificate artifact")
	}
	if err := s.repo.UpdateArtifactPath(ctx, cert.ID, relPath); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record certificate artifact")
	}
	cert.ArtifactPath = &relPath
	return content, nil
}

func certificateFilename(courseTitle string) string {
	title := strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '-'
		}
		return r
	}, courseTitle)
	return fmt.Sprintf("Certificate-%s.pdf", title)
}
