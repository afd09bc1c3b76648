package repository

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"

	"github.com/noah-isme/cohort-recruitment-api/internal/models"
)

// MemoryStudyRepository keeps study aggregates in process memory. It backs the
// memory store driver and the service tests.
type MemoryStudyRepository struct {
	mu      sync.RWMutex
	studies map[string]models.StudyRecruitmentState
}

// NewMemoryStudyRepository constructs an empty repository.
func NewMemoryStudyRepository() *MemoryStudyRepository {
	return &MemoryStudyRepository{studies: make(map[string]models.StudyRecruitmentState)}
}

// FindByStudyID returns a copy of the stored aggregate or sql.ErrNoRows.
func (r *MemoryStudyRepository) FindByStudyID(ctx context.Context, studyID string) (*models.StudyRecruitmentState, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	state, ok := r.studies[studyID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	clone := state.Clone()
	return &clone, nil
}

// Insert stores the aggregate unless the study already exists.
func (r *MemoryStudyRepository) Insert(ctx context.Context, state *models.StudyRecruitmentState) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.studies[state.StudyID]; ok {
		return false, nil
	}
	r.studies[state.StudyID] = state.Clone()
	return true, nil
}

// Save replaces the stored aggregate.
func (r *MemoryStudyRepository) Save(ctx context.Context, state *models.StudyRecruitmentState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.studies[state.StudyID]; !ok {
		return sql.ErrNoRows
	}
	r.studies[state.StudyID] = state.Clone()
	return nil
}

// List returns study summaries newest first.
func (r *MemoryStudyRepository) List(ctx context.Context, filter models.StudyFilter) ([]models.StudyRecruitmentState, int, error) {
	r.mu.RLock()
	matched := make([]models.StudyRecruitmentState, 0, len(r.studies))
	for _, state := range r.studies {
		if filter.Status != "" && state.Status != filter.Status {
			continue
		}
		summary := state.Clone()
		summary.Cohorts = []models.Cohort{}
		matched = append(matched, summary)
	}
	r.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].StudyID < matched[j].StudyID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	total := len(matched)
	start := (page - 1) * size
	if start >= total {
		return []models.StudyRecruitmentState{}, total, nil
	}
	end := start + size
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}

// ListExpiredWindows returns studies whose open window deadline is at or before now.
func (r *MemoryStudyRepository) ListExpiredWindows(ctx context.Context, now time.Time) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	type expired struct {
		id   string
		ends time.Time
	}
	var found []expired
	for id, state := range r.studies {
		if state.Status != models.RecruitmentStatusWindowOpen || state.CurrentWindowEndsAt == nil {
			continue
		}
		if !state.CurrentWindowEndsAt.After(now) {
			found = append(found, expired{id: id, ends: *state.CurrentWindowEndsAt})
		}
	}
	sort.Slice(found, func(i, j int) bool { return found[i].ends.Before(found[j].ends) })
	ids := make([]string, 0, len(found))
	for _, f := range found {
		ids = append(ids, f.id)
	}
	return ids, nil
}

// MemoryShippingRepository is the in-process participant shipping registry.
// Lookups by cohort scan every record; studies hold a few hundred participants.
type MemoryShippingRepository struct {
	mu      sync.RWMutex
	records map[string]models.ParticipantShipping
}

// NewMemoryShippingRepository constructs an empty registry.
func NewMemoryShippingRepository() *MemoryShippingRepository {
	return &MemoryShippingRepository{records: make(map[string]models.ParticipantShipping)}
}

// InsertMany stores new records. Existing participants are left untouched.
func (r *MemoryShippingRepository) InsertMany(ctx context.Context, records []models.ParticipantShipping) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, record := range records {
		if _, ok := r.records[record.ParticipantID]; ok {
			continue
		}
		r.records[record.ParticipantID] = record
	}
	return nil
}

// FindByParticipantID returns a copy of the record or sql.ErrNoRows.
func (r *MemoryShippingRepository) FindByParticipantID(ctx context.Context, participantID string) (*models.ParticipantShipping, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	record, ok := r.records[participantID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &record, nil
}

// Update writes the tracking fields of an existing record.
func (r *MemoryShippingRepository) Update(ctx context.Context, record *models.ParticipantShipping) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.records[record.ParticipantID]
	if !ok {
		return sql.ErrNoRows
	}
	current.Status = record.Status
	current.TrackingNumber = record.TrackingNumber
	current.TrackingCarrier = record.TrackingCarrier
	current.ShippedAt = record.ShippedAt
	r.records[record.ParticipantID] = current
	return nil
}

// ListByCohort returns the members of a cohort ordered by identifier.
func (r *MemoryShippingRepository) ListByCohort(ctx context.Context, cohortID string) ([]models.ParticipantShipping, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := make([]models.ParticipantShipping, 0)
	for _, record := range r.records {
		if record.CohortID == cohortID {
			list = append(list, record)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ParticipantID < list[j].ParticipantID })
	return list, nil
}

// KeyedLocker serializes writers per study with one mutex per study ID.
// Studies never share a lock, so cross-study work proceeds in parallel.
type KeyedLocker struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewKeyedLocker constructs a KeyedLocker.
func NewKeyedLocker() *KeyedLocker {
	return &KeyedLocker{locks: make(map[string]*sync.Mutex)}
}

// WithStudyLock runs fn while holding the study's mutex.
func (l *KeyedLocker) WithStudyLock(ctx context.Context, studyID string, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	lock, ok := l.locks[studyID]
	if !ok {
		lock = &sync.Mutex{}
		l.locks[studyID] = lock
	}
	l.mu.Unlock()

	lock.Lock()
	defer lock.Unlock()
	return fn(ctx)
}
