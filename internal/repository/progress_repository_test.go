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

func newProgressRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestProgressRepositoryGetOrCreateInserts(t *testing.T) {
	db, mock, cleanup := newProgressRepoMock(t)
	defer cleanup()
	repo := NewProgressRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO chapter_progress")).
		WithArgs(sqlmock.AnyArg(), "stu-1", "ch-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	progress, err := repo.GetOrCreate(context.Background(), "stu-1", "ch-1")
	require.NoError(t, err)
	require.Equal(t, "stu-1", progress.StudentID)
	require.Equal(t, "ch-1", progress.ChapterID)
	require.False(t, progress.Completed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProgressRepositoryGetOrCreateRereadsOnConflict(t *testing.T) {
	db, mock, cleanup := newProgressRepoMock(t)
	defer cleanup()
	repo := NewProgressRepository(db)

	completedAt := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO chapter_progress")).
		WithArgs(sqlmock.AnyArg(), "stu-1", "ch-1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, student_id, chapter_id, completed, completed_at FROM chapter_progress WHERE student_id = $1 AND chapter_id = $2")).
		WithArgs("stu-1", "ch-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "student_id", "chapter_id", "completed", "completed_at"}).
			AddRow("row-1", "stu-1", "ch-1", true, completedAt))

	progress, err := repo.GetOrCreate(context.Background(), "stu-1", "ch-1")
	require.NoError(t, err)
	require.Equal(t, "row-1", progress.ID)
	require.True(t, progress.Completed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProgressRepositoryMarkCompletedGuard(t *testing.T) {
	db, mock, cleanup := newProgressRepoMock(t)
	defer cleanup()
	repo := NewProgressRepository(db)

	stamp := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE chapter_progress SET completed = TRUE")).
		WithArgs("stu-1", "ch-1", stamp).
		WillReturnResult(sqlmock.NewResult(0, 1))

	marked, err := repo.MarkCompleted(context.Background(), "stu-1", "ch-1", stamp)
	require.NoError(t, err)
	require.True(t, marked)
	require.NoError(t, mock.ExpectationsWereMet())

	// Already-completed rows match zero rows; the transition happens once.
	mock.ExpectExec(regexp.QuoteMeta("UPDATE chapter_progress SET completed = TRUE")).
		WithArgs("stu-1", "ch-1", stamp).
		WillReturnResult(sqlmock.NewResult(0, 0))

	marked, err = repo.MarkCompleted(context.Background(), "stu-1", "ch-1", stamp)
	require.NoError(t, err)
	require.False(t, marked)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProgressRepositoryIsCompletedMissingRow(t *testing.T) {
	db, mock, cleanup := newProgressRepoMock(t)
	defer cleanup()
	repo := NewProgressRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT completed FROM chapter_progress WHERE student_id = $1 AND chapter_id = $2")).
		WithArgs("stu-1", "ch-9").
		WillReturnRows(sqlmock.NewRows([]string{"completed"}))

	completed, err := repo.IsCompleted(context.Background(), "stu-1", "ch-9")
	require.NoError(t, err)
	require.False(t, completed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProgressRepositoryCountCompleted(t *testing.T) {
	db, mock, cleanup := newProgressRepoMock(t)
	defer cleanup()
	repo := NewProgressRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM chapter_progress cp")).
		WithArgs("stu-1", "course-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	total, err := repo.CountCompleted(context.Background(), "stu-1", "course-1")
	require.NoError(t, err)
	require.Equal(t, 3, total)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProgressRepositoryListByCourse(t *testing.T) {
	db, mock, cleanup := newProgressRepoMock(t)
	defer cleanup()
	repo := NewProgressRepository(db)

	rows := sqlmock.NewRows([]string{"id", "student_id", "chapter_id", "completed", "completed_at", "chapter_title", "sequence_number"}).
		AddRow("row-1", "stu-1", "ch-1", true, time.Now(), "Linear Equations", 1).
		AddRow("row-2", "stu-1", "ch-2", false, nil, "Quadratic Equations", 2)
	mock.ExpectQuery(regexp.QuoteMeta("ch.title AS chapter_title, ch.sequence_number")).
		WithArgs("stu-1", "course-1").
		WillReturnRows(rows)

	details, err := repo.ListByCourse(context.Background(), "stu-1", "course-1")
	require.NoError(t, err)
	require.Len(t, details, 2)
	require.Equal(t, "Linear Equations", details[0].ChapterTitle)
	require.False(t, details[1].Completed)
	require.NoError(t, mock.ExpectationsWereMet())
}
