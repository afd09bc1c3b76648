package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/cohort-recruitment-api/internal/models"
)

var studyColumnNames = []string{"study_id", "status", "target_participants", "total_enrolled", "waitlist_count",
	"returning_users_count", "new_users_count", "current_window_enrolled", "current_window_opened_at",
	"current_window_ends_at", "current_cohort_id", "window_duration_ns", "conversion_rate",
	"conversion_rate_estimated", "window_history", "waitlist_history", "created_at", "updated_at"}

var cohortColumnNames = []string{"id", "study_id", "cohort_number", "status", "window_opened_at", "window_closed_at",
	"participant_ids", "addresses_collected", "tracking_codes_entered", "all_tracking_entered", "delivered_count"}

func newStudyRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestStudyRepositoryFindByStudyID(t *testing.T) {
	db, mock, cleanup := newStudyRepoMock(t)
	defer cleanup()

	repo := NewStudyRepository(db)
	created := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	opened := created.Add(time.Hour)
	closed := opened.Add(24 * time.Hour)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT study_id, status, target_participants")).
		WithArgs("study-1").
		WillReturnRows(sqlmock.NewRows(studyColumnNames).AddRow(
			"study-1", "window_closed", 20, 4, 6, 1, 5, 0, nil, nil, "study-1-cohort-1",
			int64(24*time.Hour), 0.4, false,
			`[{"waitlist_at_open":10,"enrolled":4,"opened_at":"2024-03-01T10:00:00Z","closed_at":"2024-03-02T10:00:00Z"}]`,
			`[{"timestamp":"2024-03-01T09:00:00Z","count":10}]`,
			created, created,
		))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, study_id, cohort_number")).
		WithArgs("study-1").
		WillReturnRows(sqlmock.NewRows(cohortColumnNames).AddRow(
			"study-1-cohort-1", "study-1", 1, "pending_shipment", opened, closed,
			`["p1","p2","p3","p4"]`, 4, 0, false, 0,
		))

	state, err := repo.FindByStudyID(context.Background(), "study-1")
	require.NoError(t, err)
	assert.Equal(t, models.RecruitmentStatusWindowClosed, state.Status)
	assert.Equal(t, 24*time.Hour, state.WindowDuration)
	assert.Nil(t, state.CurrentWindowOpenedAt)
	require.Len(t, state.WindowHistory, 1)
	assert.Equal(t, 4, state.WindowHistory[0].Enrolled)
	require.NotNil(t, state.WindowHistory[0].ClosedAt)
	require.Len(t, state.WaitlistHistory, 1)
	require.Len(t, state.Cohorts, 1)
	assert.Equal(t, []string{"p1", "p2", "p3", "p4"}, state.Cohorts[0].ParticipantIDs)
	require.NotNil(t, state.CurrentCohort())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStudyRepositoryFindByStudyIDNotFound(t *testing.T) {
	db, mock, cleanup := newStudyRepoMock(t)
	defer cleanup()

	repo := NewStudyRepository(db)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT study_id, status")).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.FindByStudyID(context.Background(), "missing")
	assert.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStudyRepositoryInsertReportsConflicts(t *testing.T) {
	db, mock, cleanup := newStudyRepoMock(t)
	defer cleanup()

	repo := NewStudyRepository(db)
	state := &models.StudyRecruitmentState{
		StudyID:            "study-1",
		Status:             models.RecruitmentStatusWaitlistOnly,
		TargetParticipants: 10,
		WindowDuration:     time.Hour,
	}

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO study_recruitment")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO study_recruitment")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	inserted, err := repo.Insert(context.Background(), state)
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = repo.Insert(context.Background(), state)
	require.NoError(t, err)
	assert.False(t, inserted)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStudyRepositorySaveUpsertsCohorts(t *testing.T) {
	db, mock, cleanup := newStudyRepoMock(t)
	defer cleanup()

	repo := NewStudyRepository(db)
	now := time.Now().UTC()
	state := &models.StudyRecruitmentState{
		StudyID:            "study-1",
		Status:             models.RecruitmentStatusWindowClosed,
		TargetParticipants: 10,
		CurrentCohortID:    "study-1-cohort-1",
		Cohorts: []models.Cohort{
			{ID: "study-1-cohort-1", StudyID: "study-1", CohortNumber: 1, ParticipantIDs: []string{"p1"}, WindowOpenedAt: now, WindowClosedAt: now},
		},
	}

	mock.ExpectExec(regexp.QuoteMeta("UPDATE study_recruitment SET")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO cohorts")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Save(context.Background(), state))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStudyRepositoryListAppliesStatusFilter(t *testing.T) {
	db, mock, cleanup := newStudyRepoMock(t)
	defer cleanup()

	repo := NewStudyRepository(db)
	now := time.Now().UTC()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT study_id, status")).
		WithArgs("window_open").
		WillReturnRows(sqlmock.NewRows(studyColumnNames).AddRow(
			"study-2", "window_open", 10, 0, 5, 0, 5, 2, now, now.Add(time.Hour), "",
			int64(time.Hour), 0.35, true, `[]`, `[]`, now, now,
		))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM study_recruitment WHERE status = $1")).
		WithArgs("window_open").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	states, total, err := repo.List(context.Background(), models.StudyFilter{Status: models.RecruitmentStatusWindowOpen})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, states, 1)
	assert.Equal(t, "study-2", states[0].StudyID)
	assert.Empty(t, states[0].Cohorts)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStudyRepositoryListExpiredWindows(t *testing.T) {
	db, mock, cleanup := newStudyRepoMock(t)
	defer cleanup()

	repo := NewStudyRepository(db)
	now := time.Now().UTC()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT study_id FROM study_recruitment WHERE status = $1")).
		WithArgs("window_open", now).
		WillReturnRows(sqlmock.NewRows([]string{"study_id"}).AddRow("a").AddRow("b"))

	ids, err := repo.ListExpiredWindows(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStudyLockerCommitsOnSuccess(t *testing.T) {
	db, mock, cleanup := newStudyRepoMock(t)
	defer cleanup()

	locker := NewStudyLocker(db)
	repo := NewStudyRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT study_id FROM study_recruitment WHERE study_id = $1 FOR UPDATE")).
		WithArgs("study-1").
		WillReturnRows(sqlmock.NewRows([]string{"study_id"}).AddRow("study-1"))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE study_recruitment SET")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := locker.WithStudyLock(context.Background(), "study-1", func(ctx context.Context) error {
		require.NotNil(t, txFromContext(ctx))
		return repo.Save(ctx, &models.StudyRecruitmentState{StudyID: "study-1"})
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStudyLockerRollsBackOnError(t *testing.T) {
	db, mock, cleanup := newStudyRepoMock(t)
	defer cleanup()

	locker := NewStudyLocker(db)
	boom := errors.New("boom")

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	called := false
	err := locker.WithStudyLock(context.Background(), "missing", func(ctx context.Context) error {
		called = true
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.True(t, called)
	require.NoError(t, mock.ExpectationsWereMet())
}
