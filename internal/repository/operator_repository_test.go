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

	"github.com/noah-isme/cohort-recruitment-api/internal/models"
)

func TestOperatorRepositoryCreateAndFind(t *testing.T) {
	db, mock, cleanup := newStudyRepoMock(t)
	defer cleanup()

	repo := NewOperatorRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO operators")).
		WillReturnResult(sqlmock.NewResult(1, 1))

	operator := &models.Operator{Email: "Ops@Example.com", PasswordHash: "hash", FullName: "Ops", Role: models.RoleAdmin, Active: true}
	require.NoError(t, repo.Create(context.Background(), operator))
	assert.NotEmpty(t, operator.ID)
	assert.Equal(t, "ops@example.com", operator.Email)

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "email", "password_hash", "full_name", "role", "active", "last_login", "created_at", "updated_at"}).
		AddRow(operator.ID, operator.Email, "hash", "Ops", "ADMIN", true, nil, now, now)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, email, password_hash")).
		WithArgs("ops@example.com").
		WillReturnRows(rows)

	found, err := repo.FindByEmail(context.Background(), "OPS@example.com")
	require.NoError(t, err)
	assert.Equal(t, operator.ID, found.ID)
	assert.Equal(t, models.RoleAdmin, found.Role)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOperatorRepositoryUpdateLastLogin(t *testing.T) {
	db, mock, cleanup := newStudyRepoMock(t)
	defer cleanup()

	repo := NewOperatorRepository(db)
	ts := time.Now()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE operators SET last_login")).
		WithArgs("op-1", ts, ts).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.UpdateLastLogin(context.Background(), "op-1", ts))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMemoryOperatorRepository(t *testing.T) {
	repo := NewMemoryOperatorRepository()
	ctx := context.Background()

	_, err := repo.FindByEmail(ctx, "nobody@example.com")
	assert.ErrorIs(t, err, sql.ErrNoRows)

	operator := &models.Operator{Email: "Admin@Example.com", Role: models.RoleAdmin, Active: true}
	require.NoError(t, repo.Create(ctx, operator))
	assert.Error(t, repo.Create(ctx, &models.Operator{Email: "admin@example.com"}))

	ts := time.Now().UTC()
	require.NoError(t, repo.UpdateLastLogin(ctx, operator.ID, ts))
	found, err := repo.FindByEmail(ctx, "ADMIN@example.com")
	require.NoError(t, err)
	require.NotNil(t, found.LastLogin)
	assert.True(t, ts.Equal(*found.LastLogin))

	assert.ErrorIs(t, repo.UpdateLastLogin(ctx, "unknown", ts), sql.ErrNoRows)
}
