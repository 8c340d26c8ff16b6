package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/volunteerhub/vms-api/internal/models"
)

func attendanceRows(regID string, date time.Time, status models.AttendanceStatus) *sqlmock.Rows {
	now := time.Now().UTC()
	return sqlmock.NewRows([]string{"id", "registration_id", "date", "status", "created_at", "updated_at"}).
		AddRow("att-1", regID, date, status, now, now)
}

func TestAttendanceRepositoryMarkFirstPresentAwardsPoints(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewAttendanceRepository(db)
	date := time.Date(2026, 6, 6, 0, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT status FROM attendance WHERE registration_id = $1 AND date = $2 FOR UPDATE")).
		WithArgs("reg-1", date).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO attendance")).
		WithArgs(sqlmock.AnyArg(), "reg-1", date, models.AttendanceStatusPresent, sqlmock.AnyArg()).
		WillReturnRows(attendanceRows("reg-1", date, models.AttendanceStatusPresent))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE event_registrations SET status = $2 WHERE id = $1")).
		WithArgs("reg-1", models.RegistrationStatusAttended).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE users SET points = points + $2")).
		WithArgs("vol-1", 50, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	result, err := repo.Mark(context.Background(), "reg-1", "vol-1", date, models.AttendanceStatusPresent, 50)
	require.NoError(t, err)
	assert.True(t, result.PointsAwarded)
	assert.Equal(t, models.AttendanceStatusPresent, result.Attendance.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAttendanceRepositoryMarkRepeatPresentSkipsAward(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewAttendanceRepository(db)
	date := time.Date(2026, 6, 6, 0, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT status FROM attendance WHERE registration_id = $1 AND date = $2 FOR UPDATE")).
		WithArgs("reg-1", date).
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow(models.AttendanceStatusPresent))
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO attendance")).
		WithArgs(sqlmock.AnyArg(), "reg-1", date, models.AttendanceStatusPresent, sqlmock.AnyArg()).
		WillReturnRows(attendanceRows("reg-1", date, models.AttendanceStatusPresent))
	mock.ExpectCommit()

	result, err := repo.Mark(context.Background(), "reg-1", "vol-1", date, models.AttendanceStatusPresent, 50)
	require.NoError(t, err)
	assert.False(t, result.PointsAwarded)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAttendanceRepositoryMarkAbsentToPresentAwardsOnce(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewAttendanceRepository(db)
	date := time.Date(2026, 6, 6, 0, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT status FROM attendance WHERE registration_id = $1 AND date = $2 FOR UPDATE")).
		WithArgs("reg-1", date).
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow(models.AttendanceStatusAbsent))
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO attendance")).
		WithArgs(sqlmock.AnyArg(), "reg-1", date, models.AttendanceStatusPresent, sqlmock.AnyArg()).
		WillReturnRows(attendanceRows("reg-1", date, models.AttendanceStatusPresent))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE event_registrations SET status = $2 WHERE id = $1")).
		WithArgs("reg-1", models.RegistrationStatusAttended).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE users SET points = points + $2")).
		WithArgs("vol-1", 50, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	result, err := repo.Mark(context.Background(), "reg-1", "vol-1", date, models.AttendanceStatusPresent, 50)
	require.NoError(t, err)
	assert.True(t, result.PointsAwarded)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAttendanceRepositoryMarkAbsentNeverAwards(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewAttendanceRepository(db)
	date := time.Date(2026, 6, 6, 0, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT status FROM attendance WHERE registration_id = $1 AND date = $2 FOR UPDATE")).
		WithArgs("reg-1", date).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO attendance")).
		WithArgs(sqlmock.AnyArg(), "reg-1", date, models.AttendanceStatusAbsent, sqlmock.AnyArg()).
		WillReturnRows(attendanceRows("reg-1", date, models.AttendanceStatusAbsent))
	mock.ExpectCommit()

	result, err := repo.Mark(context.Background(), "reg-1", "vol-1", date, models.AttendanceStatusAbsent, 50)
	require.NoError(t, err)
	assert.False(t, result.PointsAwarded)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAttendanceRepositorySummary(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewAttendanceRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("COUNT(*) FILTER (WHERE status = $2) AS present, COUNT(*) AS total")).
		WithArgs("reg-1", models.AttendanceStatusPresent).
		WillReturnRows(sqlmock.NewRows([]string{"present", "total"}).AddRow(3, 4))

	summary, err := repo.Summary(context.Background(), "reg-1")
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Present)
	assert.Equal(t, 4, summary.Total)
	require.NoError(t, mock.ExpectationsWereMet())
}
