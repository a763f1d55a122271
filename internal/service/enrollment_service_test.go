package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mentorloop/lms-api/internal/models"
	appErrors "github.com/mentorloop/lms-api/pkg/errors"
)

type mockAssignmentRepo struct {
	assignments map[string]models.CourseAssignment
}

func newMockAssignmentRepo() *mockAssignmentRepo {
	return &mockAssignmentRepo{assignments: make(map[string]models.CourseAssignment)}
}

func (m *mockAssignmentRepo) GetOrCreate(ctx context.Context, courseID, studentID string) (*models.CourseAssignment, bool, error) {
	key := enrollKey(courseID, studentID)
	if a, ok := m.assignments[key]; ok {
		return &a, false, nil
	}
	a := models.CourseAssignment{ID: "assign-" + key, CourseID: courseID, StudentID: studentID, AssignedAt: time.Now().UTC()}
	m.assignments[key] = a
	return &a, true, nil
}

func (m *mockAssignmentRepo) ListCoursesByStudent(ctx context.Context, studentID string) ([]models.Course, error) {
	return nil, nil
}

func (m *mockAssignmentRepo) ListByCourse(ctx context.Context, courseID string) ([]models.CourseAssignmentDetail, error) {
	var list []models.CourseAssignmentDetail
	for _, a := range m.assignments {
		if a.CourseID == courseID {
			list = append(list, models.CourseAssignmentDetail{CourseAssignment: a})
		}
	}
	return list, nil
}

func enrollmentFixture() (*EnrollmentService, *mockAssignmentRepo) {
	repo := newMockAssignmentRepo()
	courses := newMockCourseRepo()
	courses.courses["course-1"] = models.Course{ID: "course-1", MentorID: "mentor-1", Title: "Algebra"}
	users := &mockUserReader{users: map[string]*models.User{
		"student-1": {ID: "student-1", Role: models.RoleStudent, Active: true},
		"student-2": {ID: "student-2", Role: models.RoleStudent, Active: false},
		"mentor-2":  {ID: "mentor-2", Role: models.RoleMentor, Active: true},
		"admin-1":   {ID: "admin-1", Role: models.RoleAdmin, Active: true},
	}}
	return NewEnrollmentService(repo, courses, users, nil, nil), repo
}

func TestAssignCreatesOnce(t *testing.T) {
	svc, _ := enrollmentFixture()
	ctx := context.Background()
	mentor := mentorClaims("mentor-1")

	first, err := svc.Assign(ctx, mentor, "course-1", "student-1")
	require.NoError(t, err)
	assert.True(t, first.Created)

	second, err := svc.Assign(ctx, mentor, "course-1", "student-1")
	require.NoError(t, err)
	assert.False(t, second.Created)
	assert.Equal(t, first.Assignment.ID, second.Assignment.ID)
}

func TestAssignRejectsNonStudentTargets(t *testing.T) {
	svc, _ := enrollmentFixture()
	ctx := context.Background()
	mentor := mentorClaims("mentor-1")

	for _, target := range []string{"mentor-2", "admin-1"} {
		_, err := svc.Assign(ctx, mentor, "course-1", target)
		require.Error(t, err)
		assert.Equal(t, "INVALID_TARGET", appErrors.FromError(err).Code)
	}
}

func TestAssignRejectsInactiveStudent(t *testing.T) {
	svc, _ := enrollmentFixture()

	_, err := svc.Assign(context.Background(), mentorClaims("mentor-1"), "course-1", "student-2")
	require.Error(t, err)
	assert.Equal(t, "INVALID_TARGET", appErrors.FromError(err).Code)
}

func TestAssignRejectsForeignCourse(t *testing.T) {
	svc, _ := enrollmentFixture()

	_, err := svc.Assign(context.Background(), mentorClaims("mentor-2"), "course-1", "student-1")
	require.Error(t, err)
	assert.Equal(t, "FORBIDDEN", appErrors.FromError(err).Code)
}

func TestAssignUnknownCourseOrStudent(t *testing.T) {
	svc, _ := enrollmentFixture()
	ctx := context.Background()
	mentor := mentorClaims("mentor-1")

	_, err := svc.Assign(ctx, mentor, "course-404", "student-1")
	require.Error(t, err)
	assert.Equal(t, "NOT_FOUND", appErrors.FromError(err).Code)

	_, err = svc.Assign(ctx, mentor, "course-1", "user-404")
	require.Error(t, err)
	assert.Equal(t, "NOT_FOUND", appErrors.FromError(err).Code)
}

func TestRosterOwnerOnly(t *testing.T) {
	svc, repo := enrollmentFixture()
	ctx := context.Background()

	_, _, err := repo.GetOrCreate(ctx, "course-1", "student-1")
	require.NoError(t, err)

	roster, err := svc.Roster(ctx, mentorClaims("mentor-1"), "course-1")
	require.NoError(t, err)
	assert.Len(t, roster, 1)

	_, err = svc.Roster(ctx, mentorClaims("mentor-2"), "course-1")
	require.Error(t, err)
	assert.Equal(t, "FORBIDDEN", appErrors.FromError(err).Code)
}
