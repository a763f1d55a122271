package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mentorloop/lms-api/internal/models"
	appErrors "github.com/mentorloop/lms-api/pkg/errors"
	"github.com/mentorloop/lms-api/pkg/storage"
)

type mockCertificateRepo struct {
	certs   map[string]*models.Certificate
	creates int
}

func newMockCertificateRepo() *mockCertificateRepo {
	return &mockCertificateRepo{certs: make(map[string]*models.Certificate)}
}

func certKey(studentID, courseID string) string { return studentID + "|" + courseID }

func (m *mockCertificateRepo) GetOrCreate(ctx context.Context, studentID, courseID string) (*models.Certificate, bool, error) {
	key := certKey(studentID, courseID)
	if cert, ok := m.certs[key]; ok {
		copied := *cert
		return &copied, false, nil
	}
	m.creates++
	cert := &models.Certificate{
		ID:            "row-" + key,
		CertificateID: "cert-" + key,
		StudentID:     studentID,
		CourseID:      courseID,
		IssuedAt:      time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
	}
	m.certs[key] = cert
	copied := *cert
	return &copied, true, nil
}

func (m *mockCertificateRepo) Find(ctx context.Context, studentID, courseID string) (*models.Certificate, error) {
	if cert, ok := m.certs[certKey(studentID, courseID)]; ok {
		copied := *cert
		return &copied, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockCertificateRepo) FindByCertificateID(ctx context.Context, certificateID string) (*models.Certificate, error) {
	for _, cert := range m.certs {
		if cert.CertificateID == certificateID {
			copied := *cert
			return &copied, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *mockCertificateRepo) UpdateArtifactPath(ctx context.Context, id, artifactPath string) error {
	for _, cert := range m.certs {
		if cert.ID == id {
			path := artifactPath
			cert.ArtifactPath = &path
			return nil
		}
	}
	return sql.ErrNoRows
}

type mockUserReader struct {
	users map[string]*models.User
}

func (m *mockUserReader) FindByID(ctx context.Context, id string) (*models.User, error) {
	if u, ok := m.users[id]; ok {
		return u, nil
	}
	return nil, sql.ErrNoRows
}

type memStorage struct {
	files map[string][]byte
	saves int
}

func newMemStorage() *memStorage {
	return &memStorage{files: make(map[string][]byte)}
}

func (m *memStorage) Save(filename string, data []byte) (string, error) {
	m.saves++
	m.files[filename] = data
	return filename, nil
}

func (m *memStorage) Read(filename string) ([]byte, error) {
	if data, ok := m.files[filename]; ok {
		return data, nil
	}
	return nil, sql.ErrNoRows
}

func (m *memStorage) Exists(filename string) bool {
	_, ok := m.files[filename]
	return ok
}

func certificateFixture(t *testing.T) (*CertificateService, *mockCertificateRepo, *mockProgressRepo, *memStorage) {
	t.Helper()
	catalog, repo, enrolls := algebraFixture()
	certs := newMockCertificateRepo()
	users := &mockUserReader{users: map[string]*models.User{
		"student-1": {ID: "student-1", FullName: "Ada Lovelace", Role: models.RoleStudent},
	}}
	store := newMemStorage()
	signer := storage.NewSignedURLSigner("test-secret", time.Hour)
	svc := NewCertificateService(certs, catalog, repo, enrolls, users, store, nil, signer, nil, nil)
	return svc, certs, repo, store
}

func completeAllChapters(t *testing.T, repo *mockProgressRepo, chapterIDs ...string) {
	t.Helper()
	ctx := context.Background()
	for _, id := range chapterIDs {
		_, err := repo.GetOrCreate(ctx, "student-1", id)
		require.NoError(t, err)
		_, err = repo.MarkCompleted(ctx, "student-1", id, time.Now().UTC())
		require.NoError(t, err)
	}
}

func TestCertificateIssueRequiresFullCompletion(t *testing.T) {
	svc, certs, repo, _ := certificateFixture(t)
	completeAllChapters(t, repo, "ch-1")

	_, err := svc.GetOrIssue(context.Background(), studentClaims("student-1"), "course-1")
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, "INCOMPLETE", appErr.Code)
	assert.Equal(t, 1, appErr.Meta["completed"])
	assert.Equal(t, 3, appErr.Meta["total"])
	assert.Equal(t, []string{"Quadratic Equations", "Polynomials"}, appErr.Meta["missing"])
	assert.Zero(t, certs.creates)
}

func TestCertificateGetOrIssueRendersOnce(t *testing.T) {
	svc, certs, repo, store := certificateFixture(t)
	completeAllChapters(t, repo, "ch-1", "ch-2", "ch-3")

	ctx := context.Background()
	first, err := svc.GetOrIssue(ctx, studentClaims("student-1"), "course-1")
	require.NoError(t, err)
	assert.Equal(t, "Certificate-Algebra Basics.pdf", first.Filename)
	assert.Equal(t, "%PDF", string(first.Content[:4]))
	assert.Equal(t, 1, certs.creates)
	assert.Equal(t, 1, store.saves)

	second, err := svc.GetOrIssue(ctx, studentClaims("student-1"), "course-1")
	require.NoError(t, err)
	assert.Equal(t, first.Certificate.CertificateID, second.Certificate.CertificateID)
	assert.Equal(t, first.Content, second.Content)
	assert.Equal(t, 1, certs.creates)
	assert.Equal(t, 1, store.saves)
}

func TestCertificateZeroChapterCourse(t *testing.T) {
	catalog := &mockCatalog{
		courses: map[string]models.Course{"course-empty": {ID: "course-empty", Title: "Placeholder"}},
	}
	repo := newMockProgressRepo(catalog)
	enrolls := &mockEnrolls{enrolled: map[string]bool{enrollKey("course-empty", "student-1"): true}}
	users := &mockUserReader{users: map[string]*models.User{
		"student-1": {ID: "student-1", FullName: "Ada Lovelace"},
	}}
	signer := storage.NewSignedURLSigner("test-secret", time.Hour)
	svc := NewCertificateService(newMockCertificateRepo(), catalog, repo, enrolls, users, newMemStorage(), nil, signer, nil, nil)

	// With no chapters there is nothing left to complete.
	doc, err := svc.GetOrIssue(context.Background(), studentClaims("student-1"), "course-empty")
	require.NoError(t, err)
	assert.NotEmpty(t, doc.Content)
}

func TestCertificateNotEnrolled(t *testing.T) {
	svc, _, _, _ := certificateFixture(t)

	_, err := svc.GetOrIssue(context.Background(), studentClaims("student-2"), "course-1")
	require.Error(t, err)
	assert.Equal(t, "FORBIDDEN", appErrors.FromError(err).Code)
}

func TestCertificateVerify(t *testing.T) {
	svc, _, repo, _ := certificateFixture(t)
	completeAllChapters(t, repo, "ch-1", "ch-2", "ch-3")

	ctx := context.Background()
	doc, err := svc.GetOrIssue(ctx, studentClaims("student-1"), "course-1")
	require.NoError(t, err)

	verification, err := svc.Verify(ctx, doc.Certificate.CertificateID)
	require.NoError(t, err)
	assert.Equal(t, "Ada Lovelace", verification.StudentName)
	assert.Equal(t, "Algebra Basics", verification.CourseTitle)

	_, err = svc.Verify(ctx, "cert-unknown")
	require.Error(t, err)
	assert.Equal(t, "NOT_FOUND", appErrors.FromError(err).Code)
}

func TestCertificateSignedLinkRoundTrip(t *testing.T) {
	svc, _, repo, _ := certificateFixture(t)

	ctx := context.Background()
	student := studentClaims("student-1")

	// No certificate issued yet.
	_, err := svc.SignedLink(ctx, student, "course-1")
	require.Error(t, err)
	assert.Equal(t, "NOT_FOUND", appErrors.FromError(err).Code)

	completeAllChapters(t, repo, "ch-1", "ch-2", "ch-3")
	_, err = svc.GetOrIssue(ctx, student, "course-1")
	require.NoError(t, err)

	link, err := svc.SignedLink(ctx, student, "course-1")
	require.NoError(t, err)
	assert.True(t, link.ExpiresAt.After(time.Now()))

	doc, err := svc.Download(ctx, link.Token)
	require.NoError(t, err)
	assert.Equal(t, "%PDF", string(doc.Content[:4]))

	_, err = svc.Download(ctx, link.Token+"tampered")
	require.Error(t, err)
	assert.Equal(t, "UNAUTHORIZED", appErrors.FromError(err).Code)
}

func TestCertificateFilenameSanitised(t *testing.T) {
	assert.Equal(t, "Certificate-Intro- Go-Basics.pdf", certificateFilename(`Intro: Go/Basics`))
	assert.Equal(t, "Certificate-Plain.pdf", certificateFilename("Plain"))
}
