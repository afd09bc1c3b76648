package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"

	"github.com/noah-isme/cohort-recruitment-api/internal/models"
)

const shippingColumns = `participant_id, study_id, cohort_id, status, display_name, initials, address,
        tracking_number, tracking_carrier, shipped_at, enrolled_at`

type shippingRow struct {
	models.ParticipantShipping
	AddressJSON types.JSONText `db:"address"`
}

// ShippingRepository is the participant shipping registry backed by Postgres.
type ShippingRepository struct {
	db *sqlx.DB
}

// NewShippingRepository constructs the repository.
func NewShippingRepository(db *sqlx.DB) *ShippingRepository {
	return &ShippingRepository{db: db}
}

// InsertMany stores the shipping records created for a new cohort.
func (r *ShippingRepository) InsertMany(ctx context.Context, records []models.ParticipantShipping) error {
	if len(records) == 0 {
		return nil
	}
	const query = `INSERT INTO participant_shipping (participant_id, study_id, cohort_id, status, display_name, initials,
        address, tracking_number, tracking_carrier, shipped_at, enrolled_at)
        VALUES (:participant_id, :study_id, :cohort_id, :status, :display_name, :initials, :address,
        :tracking_number, :tracking_carrier, :shipped_at, :enrolled_at)`
	exec := executor(ctx, r.db)
	const chunkSize = 100
	for start := 0; start < len(records); start += chunkSize {
		end := start + chunkSize
		if end > len(records) {
			end = len(records)
		}
		rows := make([]shippingRow, 0, end-start)
		for i := start; i < end; i++ {
			row, err := newShippingRow(&records[i])
			if err != nil {
				return err
			}
			rows = append(rows, *row)
		}
		if _, err := sqlx.NamedExecContext(ctx, exec, query, rows); err != nil {
			return fmt.Errorf("insert participant shipping: %w", err)
		}
	}
	return nil
}

// FindByParticipantID returns a participant's shipping record or sql.ErrNoRows.
func (r *ShippingRepository) FindByParticipantID(ctx context.Context, participantID string) (*models.ParticipantShipping, error) {
	query := fmt.Sprintf(`SELECT %s FROM participant_shipping WHERE participant_id = $1`, shippingColumns)
	var row shippingRow
	if err := sqlx.GetContext(ctx, executor(ctx, r.db), &row, query, participantID); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find participant shipping %s: %w", participantID, err)
	}
	return row.toModel()
}

// Update writes the tracking fields of a record. Identity and address columns
// are immutable and not touched.
func (r *ShippingRepository) Update(ctx context.Context, record *models.ParticipantShipping) error {
	const query = `UPDATE participant_shipping SET status = $2, tracking_number = $3, tracking_carrier = $4, shipped_at = $5
        WHERE participant_id = $1`
	res, err := executor(ctx, r.db).ExecContext(ctx, query, record.ParticipantID, record.Status, record.TrackingNumber, record.TrackingCarrier, record.ShippedAt)
	if err != nil {
		return fmt.Errorf("update participant shipping %s: %w", record.ParticipantID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update participant shipping %s: %w", record.ParticipantID, err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ListByCohort returns the members of a cohort ordered by identifier.
func (r *ShippingRepository) ListByCohort(ctx context.Context, cohortID string) ([]models.ParticipantShipping, error) {
	query := fmt.Sprintf(`SELECT %s FROM participant_shipping WHERE cohort_id = $1 ORDER BY participant_id ASC`, shippingColumns)
	var rows []shippingRow
	if err := sqlx.SelectContext(ctx, executor(ctx, r.db), &rows, query, cohortID); err != nil {
		return nil, fmt.Errorf("list cohort shipping %s: %w", cohortID, err)
	}
	records := make([]models.ParticipantShipping, 0, len(rows))
	for _, row := range rows {
		record, err := row.toModel()
		if err != nil {
			return nil, err
		}
		records = append(records, *record)
	}
	return records, nil
}

func newShippingRow(record *models.ParticipantShipping) (*shippingRow, error) {
	address, err := marshalJSON(record.Address, "{}")
	if err != nil {
		return nil, fmt.Errorf("marshal address for %s: %w", record.ParticipantID, err)
	}
	return &shippingRow{ParticipantShipping: *record, AddressJSON: address}, nil
}

func (row shippingRow) toModel() (*models.ParticipantShipping, error) {
	record := row.ParticipantShipping
	if len(row.AddressJSON) > 0 {
		if err := row.AddressJSON.Unmarshal(&record.Address); err != nil {
			return nil, fmt.Errorf("decode address for %s: %w", record.ParticipantID, err)
		}
	}
	return &record, nil
}
