package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
)

func newEnrollmentRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestEnrollmentRepositoryGetOrCreateInserts(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO course_assignments")).
		WithArgs(sqlmock.AnyArg(), "course-1", "stu-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	assignment, created, err := repo.GetOrCreate(context.Background(), "course-1", "stu-1")
	require.NoError(t, err)
	require.True(t, created)
	require.Equal(t, "course-1", assignment.CourseID)
	require.Equal(t, "stu-1", assignment.StudentID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryGetOrCreateRereadsOnConflict(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	assignedAt := time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO course_assignments")).
		WithArgs(sqlmock.AnyArg(), "course-1", "stu-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, course_id, student_id, assigned_at FROM course_assignments WHERE course_id = $1 AND student_id = $2")).
		WithArgs("course-1", "stu-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "course_id", "student_id", "assigned_at"}).
			AddRow("enr-1", "course-1", "stu-1", assignedAt))

	assignment, created, err := repo.GetOrCreate(context.Background(), "course-1", "stu-1")
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, "enr-1", assignment.ID)
	require.Equal(t, assignedAt, assignment.AssignedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryExists(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM course_assignments WHERE course_id = $1 AND student_id = $2 LIMIT 1")).
		WithArgs("course-1", "stu-1").
		WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))

	ok, err := repo.Exists(context.Background(), "course-1", "stu-1")
	require.NoError(t, err)
	require.True(t, ok)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM course_assignments WHERE course_id = $1 AND student_id = $2 LIMIT 1")).
		WithArgs("course-1", "stu-2").
		WillReturnRows(sqlmock.NewRows([]string{"1"}))

	ok, err = repo.Exists(context.Background(), "course-1", "stu-2")
	require.NoError(t, err)
	require.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryListCoursesByStudent(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "mentor_id", "title", "description", "created_at", "updated_at"}).
		AddRow("course-2", "mentor-1", "Geometry", "Shapes", now, now).
		AddRow("course-1", "mentor-1", "Algebra Basics", "Numbers", now, now)
	mock.ExpectQuery(regexp.QuoteMeta("JOIN courses c ON c.id = ca.course_id")).
		WithArgs("stu-1").
		WillReturnRows(rows)

	courses, err := repo.ListCoursesByStudent(context.Background(), "stu-1")
	require.NoError(t, err)
	require.Len(t, courses, 2)
	require.Equal(t, "Geometry", courses[0].Title)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryListByCourse(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	rows := sqlmock.NewRows([]string{"id", "course_id", "student_id", "assigned_at", "course_title", "student_name"}).
		AddRow("enr-1", "course-1", "stu-1", time.Now(), "Algebra Basics", "Ada Lovelace")
	mock.ExpectQuery(regexp.QuoteMeta("u.full_name AS student_name")).
		WithArgs("course-1").
		WillReturnRows(rows)

	assignments, err := repo.ListByCourse(context.Background(), "course-1")
	require.NoError(t, err)
	require.Len(t, assignments, 1)
	require.Equal(t, "Ada Lovelace", assignments[0].StudentName)
	require.NoError(t, mock.ExpectationsWereMet())
}
