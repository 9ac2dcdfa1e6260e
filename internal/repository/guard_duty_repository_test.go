package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-guard-api/internal/models"
)

func newGuardDuty(substitute *string) *models.GuardDuty {
	status := models.GuardStatusPendingAssignment
	if substitute != nil {
		status = models.GuardStatusAssigned
	}
	return &models.GuardDuty{
		InstituteID:         "inst-1",
		ActivityID:          "act-1",
		OriginalTeacherID:   "A",
		SubstituteTeacherID: substitute,
		ClassID:             "X",
		Date:                time.Date(2024, 9, 2, 15, 30, 0, 0, time.UTC),
		Status:              status,
	}
}

func TestGuardDutyRepositoryRecordBumpsWorkload(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewGuardDutyRepository(db)
	sub := "C"
	duty := newGuardDuty(&sub)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO guard_duties")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("gd-1"))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE teachers SET workload_score = workload_score + 1")).
		WithArgs("C", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	created, err := repo.Record(context.Background(), duty)
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEmpty(t, duty.ID)
	assert.Equal(t, time.Date(2024, 9, 2, 0, 0, 0, 0, time.UTC), duty.Date)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGuardDutyRepositoryRecordPendingSkipsWorkload(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewGuardDutyRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO guard_duties")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("gd-2"))
	mock.ExpectCommit()

	created, err := repo.Record(context.Background(), newGuardDuty(nil))
	require.NoError(t, err)
	assert.True(t, created)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGuardDutyRepositoryRecordExistingKeyRollsBack(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewGuardDutyRepository(db)
	sub := "C"

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("ON CONFLICT (original_teacher_id, class_id, date) DO NOTHING")).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	created, err := repo.Record(context.Background(), newGuardDuty(&sub))
	require.NoError(t, err)
	assert.False(t, created)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGuardDutyRepositoryRecordRollsBackOnWorkloadFailure(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewGuardDutyRepository(db)
	sub := "ghost"

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO guard_duties")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("gd-3"))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE teachers SET workload_score")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	created, err := repo.Record(context.Background(), newGuardDuty(&sub))
	require.Error(t, err)
	assert.False(t, created)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGuardDutyRepositoryFindByNaturalKeyMissing(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewGuardDutyRepository(db)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE original_teacher_id = $1 AND class_id = $2 AND date = $3")).
		WithArgs("A", "X", time.Date(2024, 9, 2, 0, 0, 0, 0, time.UTC)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := repo.FindByNaturalKey(context.Background(), models.GuardDutyKey{OriginalTeacherID: "A", ClassID: "X", Date: time.Date(2024, 9, 2, 8, 0, 0, 0, time.UTC)})
	assert.True(t, errors.Is(err, sql.ErrNoRows))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGuardDutyRepositoryListPaginates(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewGuardDutyRepository(db)
	columns := []string{"id", "institute_id", "activity_id", "original_teacher_id", "substitute_teacher_id", "class_id", "schedule_slot_id", "date", "status", "feedback_notes", "signed_at", "created_at"}
	day := time.Date(2024, 9, 2, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta("FROM guard_duties WHERE institute_id = $1 AND status = $2 ORDER BY date ASC, created_at ASC LIMIT 10 OFFSET 10")).
		WithArgs("inst-1", models.GuardStatusPendingAssignment).
		WillReturnRows(sqlmock.NewRows(columns).AddRow("gd-1", "inst-1", "act-1", "A", nil, "X", "slot-1", day, "pending_assignment", nil, nil, day))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM guard_duties WHERE institute_id = $1 AND status = $2")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(11))

	duties, total, err := repo.List(context.Background(), models.GuardDutyFilter{InstituteID: "inst-1", Status: models.GuardStatusPendingAssignment, Page: 2, PageSize: 10})
	require.NoError(t, err)
	require.Len(t, duties, 1)
	assert.Nil(t, duties[0].SubstituteTeacherID)
	assert.Equal(t, 11, total)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGuardDutyRepositoryStatsAppliesRange(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewGuardDutyRepository(db)
	from := time.Date(2024, 9, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 9, 30, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta("FROM guard_duties WHERE institute_id = $1 AND date >= $2 AND date <= $3")).
		WithArgs("inst-1", from, to).
		WillReturnRows(sqlmock.NewRows([]string{"total_guards", "assigned_guards", "pending_guards", "completed_guards"}).AddRow(4, 2, 1, 1))

	stats, err := repo.Stats(context.Background(), "inst-1", &from, &to)
	require.NoError(t, err)
	assert.Equal(t, 4, stats.TotalGuards)
	assert.Equal(t, 1, stats.CompletedGuards)
	require.NoError(t, mock.ExpectationsWereMet())
}
