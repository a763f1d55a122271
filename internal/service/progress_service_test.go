package service

import (
	"context"
	"database/sql"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mentorloop/lms-api/internal/models"
	appErrors "github.com/mentorloop/lms-api/pkg/errors"
)

type mockCatalog struct {
	courses  map[string]models.Course
	chapters []models.Chapter
}

func (m *mockCatalog) FindByID(ctx context.Context, id string) (*models.Course, error) {
	if c, ok := m.courses[id]; ok {
		return &c, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockCatalog) FindChapterByID(ctx context.Context, id string) (*models.Chapter, error) {
	for _, ch := range m.chapters {
		if ch.ID == id {
			c := ch
			return &c, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *mockCatalog) FindPrecedingChapter(ctx context.Context, courseID string, sequenceNumber int) (*models.Chapter, error) {
	var best *models.Chapter
	for i := range m.chapters {
		ch := m.chapters[i]
		if ch.CourseID != courseID || ch.SequenceNumber >= sequenceNumber {
			continue
		}
		if best == nil || ch.SequenceNumber > best.SequenceNumber {
			best = &m.chapters[i]
		}
	}
	if best == nil {
		return nil, sql.ErrNoRows
	}
	c := *best
	return &c, nil
}

func (m *mockCatalog) CountChapters(ctx context.Context, courseID string) (int, error) {
	total := 0
	for _, ch := range m.chapters {
		if ch.CourseID == courseID {
			total++
		}
	}
	return total, nil
}

func (m *mockCatalog) CountChaptersByCourses(ctx context.Context, courseIDs []string) (map[string]int, error) {
	counts := make(map[string]int)
	for _, id := range courseIDs {
		n, _ := m.CountChapters(ctx, id)
		counts[id] = n
	}
	return counts, nil
}

func (m *mockCatalog) ListChapters(ctx context.Context, courseID string) ([]models.Chapter, error) {
	var list []models.Chapter
	for _, ch := range m.chapters {
		if ch.CourseID == courseID {
			list = append(list, ch)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].SequenceNumber < list[j].SequenceNumber })
	return list, nil
}

type mockProgressRepo struct {
	catalog *mockCatalog
	rows    map[string]*models.ChapterProgress
}

func newMockProgressRepo(catalog *mockCatalog) *mockProgressRepo {
	return &mockProgressRepo{catalog: catalog, rows: make(map[string]*models.ChapterProgress)}
}

func progressKey(studentID, chapterID string) string { return studentID + "|" + chapterID }

func (m *mockProgressRepo) Find(ctx context.Context, studentID, chapterID string) (*models.ChapterProgress, error) {
	if row, ok := m.rows[progressKey(studentID, chapterID)]; ok {
		copied := *row
		return &copied, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockProgressRepo) GetOrCreate(ctx context.Context, studentID, chapterID string) (*models.ChapterProgress, error) {
	key := progressKey(studentID, chapterID)
	if row, ok := m.rows[key]; ok {
		copied := *row
		return &copied, nil
	}
	row := &models.ChapterProgress{ID: key, StudentID: studentID, ChapterID: chapterID}
	m.rows[key] = row
	copied := *row
	return &copied, nil
}

func (m *mockProgressRepo) MarkCompleted(ctx context.Context, studentID, chapterID string, completedAt time.Time) (bool, error) {
	row, ok := m.rows[progressKey(studentID, chapterID)]
	if !ok || row.Completed {
		return false, nil
	}
	row.Completed = true
	row.CompletedAt = &completedAt
	return true, nil
}

func (m *mockProgressRepo) IsCompleted(ctx context.Context, studentID, chapterID string) (bool, error) {
	if row, ok := m.rows[progressKey(studentID, chapterID)]; ok {
		return row.Completed, nil
	}
	return false, nil
}

func (m *mockProgressRepo) CountCompleted(ctx context.Context, studentID, courseID string) (int, error) {
	total := 0
	for _, row := range m.rows {
		if row.StudentID != studentID || !row.Completed {
			continue
		}
		ch, err := m.catalog.FindChapterByID(ctx, row.ChapterID)
		if err == nil && ch.CourseID == courseID {
			total++
		}
	}
	return total, nil
}

func (m *mockProgressRepo) CountCompletedByCourses(ctx context.Context, studentID string, courseIDs []string) (map[string]int, error) {
	counts := make(map[string]int)
	for _, id := range courseIDs {
		n, _ := m.CountCompleted(ctx, studentID, id)
		counts[id] = n
	}
	return counts, nil
}

func (m *mockProgressRepo) ListByCourse(ctx context.Context, studentID, courseID string) ([]models.ChapterProgressDetail, error) {
	var details []models.ChapterProgressDetail
	for _, row := range m.rows {
		if row.StudentID != studentID {
			continue
		}
		ch, err := m.catalog.FindChapterByID(ctx, row.ChapterID)
		if err != nil || ch.CourseID != courseID {
			continue
		}
		details = append(details, models.ChapterProgressDetail{
			ChapterProgress: *row,
			ChapterTitle:    ch.Title,
			SequenceNumber:  ch.SequenceNumber,
		})
	}
	sort.Slice(details, func(i, j int) bool { return details[i].SequenceNumber < details[j].SequenceNumber })
	return details, nil
}

type mockEnrolls struct {
	enrolled map[string]bool
	courses  []models.Course
}

func enrollKey(courseID, studentID string) string { return courseID + "|" + studentID }

func (m *mockEnrolls) Exists(ctx context.Context, courseID, studentID string) (bool, error) {
	return m.enrolled[enrollKey(courseID, studentID)], nil
}

func (m *mockEnrolls) ListCoursesByStudent(ctx context.Context, studentID string) ([]models.Course, error) {
	return m.courses, nil
}

type mockProgressCache struct {
	store   map[string][]byte
	sets    int
	deletes []string
	hits    map[string]*models.CourseProgress
}

func newMockProgressCache() *mockProgressCache {
	return &mockProgressCache{store: map[string][]byte{}, hits: map[string]*models.CourseProgress{}}
}

func (m *mockProgressCache) Get(ctx context.Context, key string, dest interface{}) error {
	if summary, ok := m.hits[key]; ok {
		if target, ok := dest.(*models.CourseProgress); ok {
			*target = *summary
			return nil
		}
	}
	return appErrors.ErrCacheMiss
}

func (m *mockProgressCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	m.sets++
	return nil
}

func (m *mockProgressCache) Delete(ctx context.Context, keys ...string) {
	m.deletes = append(m.deletes, keys...)
}

type recordingNotifier struct {
	calls []string
}

func (n *recordingNotifier) CourseCompleted(ctx context.Context, studentID, courseID string) {
	n.calls = append(n.calls, studentID+"|"+courseID)
}

func algebraFixture() (*mockCatalog, *mockProgressRepo, *mockEnrolls) {
	catalog := &mockCatalog{
		courses: map[string]models.Course{
			"course-1": {ID: "course-1", MentorID: "mentor-1", Title: "Algebra Basics"},
		},
		chapters: []models.Chapter{
			{ID: "ch-1", CourseID: "course-1", Title: "Linear Equations", SequenceNumber: 1},
			{ID: "ch-2", CourseID: "course-1", Title: "Quadratic Equations", SequenceNumber: 2},
			{ID: "ch-3", CourseID: "course-1", Title: "Polynomials", SequenceNumber: 3},
		},
	}
	repo := newMockProgressRepo(catalog)
	enrolls := &mockEnrolls{
		enrolled: map[string]bool{enrollKey("course-1", "student-1"): true},
		courses:  []models.Course{catalog.courses["course-1"]},
	}
	return catalog, repo, enrolls
}

func studentClaims(id string) *models.JWTClaims {
	return &models.JWTClaims{UserID: id, Role: models.RoleStudent}
}

func TestCompleteChapterFirstChapter(t *testing.T) {
	catalog, repo, enrolls := algebraFixture()
	cache := newMockProgressCache()
	svc := NewProgressService(repo, catalog, enrolls, cache, nil, nil, time.Minute, nil)

	result, err := svc.CompleteChapter(context.Background(), studentClaims("student-1"), "ch-1")
	require.NoError(t, err)
	assert.False(t, result.AlreadyCompleted)
	assert.True(t, result.Progress.Completed)
	require.NotNil(t, result.Progress.CompletedAt)
	assert.Equal(t, 1, result.CourseProgress.Completed)
	assert.InDelta(t, 33.33, result.CourseProgress.Percentage, 0.01)
	assert.Contains(t, cache.deletes, "progress:student-1:course-1")
}

func TestCompleteChapterOutOfOrder(t *testing.T) {
	catalog, repo, enrolls := algebraFixture()
	svc := NewProgressService(repo, catalog, enrolls, newMockProgressCache(), nil, nil, time.Minute, nil)

	_, err := svc.CompleteChapter(context.Background(), studentClaims("student-1"), "ch-3")
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, "OUT_OF_ORDER", appErr.Code)
	assert.Equal(t, "ch-2", appErr.Meta["required_chapter_id"])
	assert.Equal(t, 2, appErr.Meta["required_sequence"])
}

func TestCompleteChapterGapsInSequence(t *testing.T) {
	catalog := &mockCatalog{
		courses: map[string]models.Course{"course-1": {ID: "course-1", Title: "Sparse"}},
		chapters: []models.Chapter{
			{ID: "ch-10", CourseID: "course-1", SequenceNumber: 10},
			{ID: "ch-20", CourseID: "course-1", SequenceNumber: 20},
			{ID: "ch-40", CourseID: "course-1", SequenceNumber: 40},
		},
	}
	repo := newMockProgressRepo(catalog)
	enrolls := &mockEnrolls{enrolled: map[string]bool{enrollKey("course-1", "student-1"): true}}
	svc := NewProgressService(repo, catalog, enrolls, newMockProgressCache(), nil, nil, time.Minute, nil)

	ctx := context.Background()
	student := studentClaims("student-1")

	_, err := svc.CompleteChapter(ctx, student, "ch-10")
	require.NoError(t, err)
	_, err = svc.CompleteChapter(ctx, student, "ch-20")
	require.NoError(t, err)

	// 40 is gated on 20, the greatest lower sequence; the gap is irrelevant.
	result, err := svc.CompleteChapter(ctx, student, "ch-40")
	require.NoError(t, err)
	assert.Equal(t, 3, result.CourseProgress.Completed)
}

func TestCompleteChapterIdempotent(t *testing.T) {
	catalog, repo, enrolls := algebraFixture()
	notifier := &recordingNotifier{}
	svc := NewProgressService(repo, catalog, enrolls, newMockProgressCache(), notifier, nil, time.Minute, nil)

	ctx := context.Background()
	student := studentClaims("student-1")

	first, err := svc.CompleteChapter(ctx, student, "ch-1")
	require.NoError(t, err)
	assert.False(t, first.AlreadyCompleted)
	stamp := *first.Progress.CompletedAt

	second, err := svc.CompleteChapter(ctx, student, "ch-1")
	require.NoError(t, err)
	assert.True(t, second.AlreadyCompleted)
	assert.Equal(t, stamp, *second.Progress.CompletedAt)
	assert.Equal(t, 1, second.CourseProgress.Completed)
}

func TestCompleteChapterNotEnrolled(t *testing.T) {
	catalog, repo, _ := algebraFixture()
	enrolls := &mockEnrolls{enrolled: map[string]bool{}}
	svc := NewProgressService(repo, catalog, enrolls, newMockProgressCache(), nil, nil, time.Minute, nil)

	_, err := svc.CompleteChapter(context.Background(), studentClaims("student-2"), "ch-1")
	require.Error(t, err)
	assert.Equal(t, "FORBIDDEN", appErrors.FromError(err).Code)
}

func TestCompleteChapterUnknownChapter(t *testing.T) {
	catalog, repo, enrolls := algebraFixture()
	svc := NewProgressService(repo, catalog, enrolls, newMockProgressCache(), nil, nil, time.Minute, nil)

	_, err := svc.CompleteChapter(context.Background(), studentClaims("student-1"), "ch-404")
	require.Error(t, err)
	assert.Equal(t, "NOT_FOUND", appErrors.FromError(err).Code)
}

func TestCompleteChapterNotifiesOnFullCompletion(t *testing.T) {
	catalog, repo, enrolls := algebraFixture()
	notifier := &recordingNotifier{}
	svc := NewProgressService(repo, catalog, enrolls, newMockProgressCache(), notifier, nil, time.Minute, nil)

	ctx := context.Background()
	student := studentClaims("student-1")

	for _, chapterID := range []string{"ch-1", "ch-2"} {
		_, err := svc.CompleteChapter(ctx, student, chapterID)
		require.NoError(t, err)
	}
	assert.Empty(t, notifier.calls)

	result, err := svc.CompleteChapter(ctx, student, "ch-3")
	require.NoError(t, err)
	assert.Equal(t, 100.0, result.CourseProgress.Percentage)
	assert.Equal(t, []string{"student-1|course-1"}, notifier.calls)

	// Repeating the last completion must not notify again.
	_, err = svc.CompleteChapter(ctx, student, "ch-3")
	require.NoError(t, err)
	assert.Len(t, notifier.calls, 1)
}

func TestCourseProgressQuarterDone(t *testing.T) {
	catalog := &mockCatalog{
		courses: map[string]models.Course{"course-1": {ID: "course-1", Title: "Long Course"}},
		chapters: []models.Chapter{
			{ID: "c1", CourseID: "course-1", SequenceNumber: 1},
			{ID: "c2", CourseID: "course-1", SequenceNumber: 2},
			{ID: "c3", CourseID: "course-1", SequenceNumber: 3},
			{ID: "c4", CourseID: "course-1", SequenceNumber: 4},
		},
	}
	repo := newMockProgressRepo(catalog)
	enrolls := &mockEnrolls{enrolled: map[string]bool{enrollKey("course-1", "student-1"): true}}
	cache := newMockProgressCache()
	svc := NewProgressService(repo, catalog, enrolls, cache, nil, nil, time.Minute, nil)

	ctx := context.Background()
	_, err := svc.CompleteChapter(ctx, studentClaims("student-1"), "c1")
	require.NoError(t, err)

	summary, chapters, err := svc.CourseProgress(ctx, studentClaims("student-1"), "course-1")
	require.NoError(t, err)
	assert.Equal(t, 4, summary.Total)
	assert.Equal(t, 1, summary.Completed)
	assert.Equal(t, 25.0, summary.Percentage)
	require.Len(t, chapters, 1)
	assert.True(t, chapters[0].Completed)
	assert.Positive(t, cache.sets)
}

func TestCourseProgressServedFromCache(t *testing.T) {
	catalog, repo, enrolls := algebraFixture()
	cache := newMockProgressCache()
	cache.hits["progress:student-1:course-1"] = &models.CourseProgress{
		CourseID: "course-1", CourseTitle: "Algebra Basics", Total: 3, Completed: 2, Percentage: 66.67,
	}
	svc := NewProgressService(repo, catalog, enrolls, cache, nil, nil, time.Minute, nil)

	summary, _, err := svc.CourseProgress(context.Background(), studentClaims("student-1"), "course-1")
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Completed)
	assert.Zero(t, cache.sets)
}

func TestMyProgressAggregates(t *testing.T) {
	catalog := &mockCatalog{
		courses: map[string]models.Course{
			"course-1": {ID: "course-1", Title: "Algebra"},
			"course-2": {ID: "course-2", Title: "Geometry"},
		},
		chapters: []models.Chapter{
			{ID: "a1", CourseID: "course-1", SequenceNumber: 1},
			{ID: "a2", CourseID: "course-1", SequenceNumber: 2},
			{ID: "g1", CourseID: "course-2", SequenceNumber: 1},
		},
	}
	repo := newMockProgressRepo(catalog)
	enrolls := &mockEnrolls{
		enrolled: map[string]bool{
			enrollKey("course-1", "student-1"): true,
			enrollKey("course-2", "student-1"): true,
		},
		courses: []models.Course{catalog.courses["course-1"], catalog.courses["course-2"]},
	}
	svc := NewProgressService(repo, catalog, enrolls, newMockProgressCache(), nil, nil, time.Minute, nil)

	ctx := context.Background()
	_, err := svc.CompleteChapter(ctx, studentClaims("student-1"), "a1")
	require.NoError(t, err)

	summaries, err := svc.MyProgress(ctx, studentClaims("student-1"))
	require.NoError(t, err)
	require.Len(t, summaries, 2)
	assert.Equal(t, 50.0, summaries[0].Percentage)
	assert.Equal(t, 0.0, summaries[1].Percentage)
}

func TestCompletionPercentage(t *testing.T) {
	assert.Equal(t, 0.0, completionPercentage(0, 0))
	assert.Equal(t, 25.0, completionPercentage(1, 4))
	assert.Equal(t, 100.0, completionPercentage(3, 3))
	assert.InDelta(t, 66.67, completionPercentage(2, 3), 0.001)
}
