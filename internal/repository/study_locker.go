package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// StudyLocker serializes writers of a study with a row-level lock held for the
// duration of a transaction.
type StudyLocker struct {
	db *sqlx.DB
}

// NewStudyLocker constructs a StudyLocker.
func NewStudyLocker(db *sqlx.DB) *StudyLocker {
	return &StudyLocker{db: db}
}

// WithStudyLock runs fn inside a transaction holding FOR UPDATE on the study
// row. fn runs even when the row does not exist so it can report the miss.
// The transaction commits when fn returns nil and rolls back otherwise.
func (l *StudyLocker) WithStudyLock(ctx context.Context, studyID string, fn func(ctx context.Context) error) (err error) {
	if txFromContext(ctx) != nil {
		return fn(ctx)
	}
	tx, err := l.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin study transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	const lockQuery = `SELECT study_id FROM study_recruitment WHERE study_id = $1 FOR UPDATE`
	var locked string
	if err = tx.GetContext(ctx, &locked, lockQuery, studyID); err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("lock study %s: %w", studyID, err)
	}

	if err = fn(withTx(ctx, tx)); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit study transaction: %w", err)
	}
	return nil
}
