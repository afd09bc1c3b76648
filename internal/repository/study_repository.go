package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"

	"github.com/noah-isme/cohort-recruitment-api/internal/models"
)

const studyColumns = `study_id, status, target_participants, total_enrolled, waitlist_count, returning_users_count, new_users_count,
        current_window_enrolled, current_window_opened_at, current_window_ends_at, current_cohort_id, window_duration_ns,
        conversion_rate, conversion_rate_estimated, window_history, waitlist_history, created_at, updated_at`

const cohortColumns = `id, study_id, cohort_number, status, window_opened_at, window_closed_at, participant_ids,
        addresses_collected, tracking_codes_entered, all_tracking_entered, delivered_count`

type studyRow struct {
	models.StudyRecruitmentState
	WindowHistoryJSON   types.JSONText `db:"window_history"`
	WaitlistHistoryJSON types.JSONText `db:"waitlist_history"`
}

type cohortRow struct {
	models.Cohort
	ParticipantIDsJSON types.JSONText `db:"participant_ids"`
}

// StudyRepository persists study recruitment aggregates and their cohorts.
type StudyRepository struct {
	db *sqlx.DB
}

// NewStudyRepository constructs the repository.
func NewStudyRepository(db *sqlx.DB) *StudyRepository {
	return &StudyRepository{db: db}
}

// FindByStudyID loads the aggregate with its cohorts. It returns sql.ErrNoRows
// when the study has not been initialized.
func (r *StudyRepository) FindByStudyID(ctx context.Context, studyID string) (*models.StudyRecruitmentState, error) {
	exec := executor(ctx, r.db)
	query := fmt.Sprintf(`SELECT %s FROM study_recruitment WHERE study_id = $1`, studyColumns)
	var row studyRow
	if err := sqlx.GetContext(ctx, exec, &row, query, studyID); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find study %s: %w", studyID, err)
	}
	state, err := row.toModel()
	if err != nil {
		return nil, err
	}

	cohortQuery := fmt.Sprintf(`SELECT %s FROM cohorts WHERE study_id = $1 ORDER BY cohort_number ASC`, cohortColumns)
	var cohorts []cohortRow
	if err := sqlx.SelectContext(ctx, exec, &cohorts, cohortQuery, studyID); err != nil {
		return nil, fmt.Errorf("list cohorts for %s: %w", studyID, err)
	}
	state.Cohorts = make([]models.Cohort, 0, len(cohorts))
	for _, c := range cohorts {
		cohort, err := c.toModel()
		if err != nil {
			return nil, err
		}
		state.Cohorts = append(state.Cohorts, cohort)
	}
	return state, nil
}

// Insert creates the aggregate unless it already exists. The boolean reports
// whether a row was written.
func (r *StudyRepository) Insert(ctx context.Context, state *models.StudyRecruitmentState) (bool, error) {
	row, err := newStudyRow(state)
	if err != nil {
		return false, err
	}
	const query = `INSERT INTO study_recruitment (study_id, status, target_participants, total_enrolled, waitlist_count,
        returning_users_count, new_users_count, current_window_enrolled, current_window_opened_at, current_window_ends_at,
        current_cohort_id, window_duration_ns, conversion_rate, conversion_rate_estimated, window_history, waitlist_history,
        created_at, updated_at)
        VALUES (:study_id, :status, :target_participants, :total_enrolled, :waitlist_count, :returning_users_count,
        :new_users_count, :current_window_enrolled, :current_window_opened_at, :current_window_ends_at, :current_cohort_id,
        :window_duration_ns, :conversion_rate, :conversion_rate_estimated, :window_history, :waitlist_history,
        :created_at, :updated_at)
        ON CONFLICT (study_id) DO NOTHING`
	res, err := sqlx.NamedExecContext(ctx, executor(ctx, r.db), query, row)
	if err != nil {
		return false, fmt.Errorf("insert study %s: %w", state.StudyID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert study %s: %w", state.StudyID, err)
	}
	return affected > 0, nil
}

// Save writes the mutable columns of the aggregate and upserts its cohorts.
// Cohort membership is written once and never updated.
func (r *StudyRepository) Save(ctx context.Context, state *models.StudyRecruitmentState) error {
	row, err := newStudyRow(state)
	if err != nil {
		return err
	}
	exec := executor(ctx, r.db)
	const query = `UPDATE study_recruitment SET status = :status, total_enrolled = :total_enrolled,
        waitlist_count = :waitlist_count, returning_users_count = :returning_users_count, new_users_count = :new_users_count,
        current_window_enrolled = :current_window_enrolled, current_window_opened_at = :current_window_opened_at,
        current_window_ends_at = :current_window_ends_at, current_cohort_id = :current_cohort_id,
        conversion_rate = :conversion_rate, conversion_rate_estimated = :conversion_rate_estimated,
        window_history = :window_history, waitlist_history = :waitlist_history, updated_at = :updated_at
        WHERE study_id = :study_id`
	if _, err := sqlx.NamedExecContext(ctx, exec, query, row); err != nil {
		return fmt.Errorf("update study %s: %w", state.StudyID, err)
	}

	const cohortQuery = `INSERT INTO cohorts (id, study_id, cohort_number, status, window_opened_at, window_closed_at,
        participant_ids, addresses_collected, tracking_codes_entered, all_tracking_entered, delivered_count)
        VALUES (:id, :study_id, :cohort_number, :status, :window_opened_at, :window_closed_at, :participant_ids,
        :addresses_collected, :tracking_codes_entered, :all_tracking_entered, :delivered_count)
        ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status,
        tracking_codes_entered = EXCLUDED.tracking_codes_entered,
        all_tracking_entered = EXCLUDED.all_tracking_entered,
        delivered_count = EXCLUDED.delivered_count`
	for i := range state.Cohorts {
		cr, err := newCohortRow(&state.Cohorts[i])
		if err != nil {
			return err
		}
		if _, err := sqlx.NamedExecContext(ctx, exec, cohortQuery, cr); err != nil {
			return fmt.Errorf("upsert cohort %s: %w", cr.ID, err)
		}
	}
	return nil
}

// List returns study summaries without cohorts, newest first.
func (r *StudyRepository) List(ctx context.Context, filter models.StudyFilter) ([]models.StudyRecruitmentState, int, error) {
	clause := ""
	var args []interface{}
	if filter.Status != "" {
		clause = " WHERE status = $1"
		args = append(args, filter.Status)
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT %s FROM study_recruitment%s ORDER BY created_at DESC LIMIT %d OFFSET %d`, studyColumns, clause, size, offset)
	var rows []studyRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list studies: %w", err)
	}
	states := make([]models.StudyRecruitmentState, 0, len(rows))
	for _, row := range rows {
		state, err := row.toModel()
		if err != nil {
			return nil, 0, err
		}
		states = append(states, *state)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM study_recruitment"+clause, args...); err != nil {
		return nil, 0, fmt.Errorf("count studies: %w", err)
	}
	return states, total, nil
}

// ListExpiredWindows returns studies whose open window deadline is at or before now.
func (r *StudyRepository) ListExpiredWindows(ctx context.Context, now time.Time) ([]string, error) {
	const query = `SELECT study_id FROM study_recruitment WHERE status = $1 AND current_window_ends_at <= $2 ORDER BY current_window_ends_at ASC`
	var ids []string
	if err := r.db.SelectContext(ctx, &ids, query, models.RecruitmentStatusWindowOpen, now); err != nil {
		return nil, fmt.Errorf("list expired windows: %w", err)
	}
	return ids, nil
}

func newStudyRow(state *models.StudyRecruitmentState) (*studyRow, error) {
	windows, err := marshalJSON(state.WindowHistory, "[]")
	if err != nil {
		return nil, fmt.Errorf("marshal window history: %w", err)
	}
	waitlist, err := marshalJSON(state.WaitlistHistory, "[]")
	if err != nil {
		return nil, fmt.Errorf("marshal waitlist history: %w", err)
	}
	return &studyRow{StudyRecruitmentState: *state, WindowHistoryJSON: windows, WaitlistHistoryJSON: waitlist}, nil
}

func (row studyRow) toModel() (*models.StudyRecruitmentState, error) {
	state := row.StudyRecruitmentState
	state.WindowHistory = []models.WindowSnapshot{}
	state.WaitlistHistory = []models.WaitlistSnapshot{}
	if len(row.WindowHistoryJSON) > 0 {
		if err := row.WindowHistoryJSON.Unmarshal(&state.WindowHistory); err != nil {
			return nil, fmt.Errorf("decode window history for %s: %w", state.StudyID, err)
		}
	}
	if len(row.WaitlistHistoryJSON) > 0 {
		if err := row.WaitlistHistoryJSON.Unmarshal(&state.WaitlistHistory); err != nil {
			return nil, fmt.Errorf("decode waitlist history for %s: %w", state.StudyID, err)
		}
	}
	state.Cohorts = []models.Cohort{}
	return &state, nil
}

func newCohortRow(cohort *models.Cohort) (*cohortRow, error) {
	ids, err := marshalJSON(cohort.ParticipantIDs, "[]")
	if err != nil {
		return nil, fmt.Errorf("marshal participant ids for %s: %w", cohort.ID, err)
	}
	return &cohortRow{Cohort: *cohort, ParticipantIDsJSON: ids}, nil
}

func (row cohortRow) toModel() (models.Cohort, error) {
	cohort := row.Cohort
	cohort.ParticipantIDs = []string{}
	if len(row.ParticipantIDsJSON) > 0 {
		if err := row.ParticipantIDsJSON.Unmarshal(&cohort.ParticipantIDs); err != nil {
			return models.Cohort{}, fmt.Errorf("decode participant ids for %s: %w", cohort.ID, err)
		}
	}
	return cohort, nil
}

func marshalJSON(value interface{}, empty string) (types.JSONText, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	if string(raw) == "null" {
		return types.JSONText(empty), nil
	}
	return types.JSONText(raw), nil
}
