package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/cohort-recruitment-api/internal/models"
)

// OperatorRepository provides database access for console operators.
type OperatorRepository struct {
	db *sqlx.DB
}

// NewOperatorRepository creates a new instance of OperatorRepository.
func NewOperatorRepository(db *sqlx.DB) *OperatorRepository {
	return &OperatorRepository{db: db}
}

// FindByEmail returns an operator by email address.
func (r *OperatorRepository) FindByEmail(ctx context.Context, email string) (*models.Operator, error) {
	const query = `SELECT id, email, password_hash, full_name, role, active, last_login, created_at, updated_at FROM operators WHERE email = $1 LIMIT 1`
	var operator models.Operator
	if err := r.db.GetContext(ctx, &operator, query, strings.ToLower(email)); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find operator by email: %w", err)
	}
	return &operator, nil
}

// Create persists a new operator.
func (r *OperatorRepository) Create(ctx context.Context, operator *models.Operator) error {
	prepareOperator(operator)
	const query = `INSERT INTO operators (id, email, password_hash, full_name, role, active, created_at, updated_at)
        VALUES (:id, :email, :password_hash, :full_name, :role, :active, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, operator); err != nil {
		return fmt.Errorf("create operator: %w", err)
	}
	return nil
}

// UpdateLastLogin updates the last_login timestamp for an operator.
func (r *OperatorRepository) UpdateLastLogin(ctx context.Context, id string, ts time.Time) error {
	const query = `UPDATE operators SET last_login = $2, updated_at = $3 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, ts, ts); err != nil {
		return fmt.Errorf("update last login: %w", err)
	}
	return nil
}

func prepareOperator(operator *models.Operator) {
	if operator.ID == "" {
		operator.ID = uuid.NewString()
	}
	operator.Email = strings.ToLower(operator.Email)
	now := time.Now().UTC()
	if operator.CreatedAt.IsZero() {
		operator.CreatedAt = now
	}
	operator.UpdatedAt = now
}

// MemoryOperatorRepository keeps operators in process memory for the memory store driver.
type MemoryOperatorRepository struct {
	mu        sync.RWMutex
	operators map[string]models.Operator
}

// NewMemoryOperatorRepository constructs an empty repository.
func NewMemoryOperatorRepository() *MemoryOperatorRepository {
	return &MemoryOperatorRepository{operators: make(map[string]models.Operator)}
}

// FindByEmail returns an operator by email address.
func (r *MemoryOperatorRepository) FindByEmail(ctx context.Context, email string) (*models.Operator, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	operator, ok := r.operators[strings.ToLower(email)]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &operator, nil
}

// Create stores a new operator keyed by email.
func (r *MemoryOperatorRepository) Create(ctx context.Context, operator *models.Operator) error {
	prepareOperator(operator)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.operators[operator.Email]; ok {
		return fmt.Errorf("create operator: email %s already exists", operator.Email)
	}
	r.operators[operator.Email] = *operator
	return nil
}

// UpdateLastLogin updates the last_login timestamp for an operator.
func (r *MemoryOperatorRepository) UpdateLastLogin(ctx context.Context, id string, ts time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for email, operator := range r.operators {
		if operator.ID == id {
			operator.LastLogin = &ts
			operator.UpdatedAt = ts
			r.operators[email] = operator
			return nil
		}
	}
	return sql.ErrNoRows
}
