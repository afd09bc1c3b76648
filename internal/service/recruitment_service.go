package service

import (
	"context"
	"database/sql"
	"errors"
	"math"
	"time"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/cohort-recruitment-api/internal/dto"
	"github.com/noah-isme/cohort-recruitment-api/internal/models"
	"github.com/noah-isme/cohort-recruitment-api/pkg/carrier"
	appErrors "github.com/noah-isme/cohort-recruitment-api/pkg/errors"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100

	// The seeded trend series starts a week back at 70% of the current waitlist.
	waitlistSeedLookback = 7 * 24 * time.Hour
	waitlistSeedFraction = 0.7
)

// Operation names used for logging and metrics.
const (
	OpInitializeStudy      = "initialize_study"
	OpGoLive               = "go_live"
	OpOpenWindow           = "open_window"
	OpCloseWindow          = "close_window"
	OpCloseExpiredWindow   = "close_expired_window"
	OpEnterTrackingCode    = "enter_tracking_code"
	OpRecordEnrollment     = "record_enrollment"
	OpRecordWaitlistGrowth = "record_waitlist_growth"
)

type studyStateRepository interface {
	FindByStudyID(ctx context.Context, studyID string) (*models.StudyRecruitmentState, error)
	Insert(ctx context.Context, state *models.StudyRecruitmentState) (bool, error)
	Save(ctx context.Context, state *models.StudyRecruitmentState) error
	List(ctx context.Context, filter models.StudyFilter) ([]models.StudyRecruitmentState, int, error)
}

type shippingRegistry interface {
	InsertMany(ctx context.Context, records []models.ParticipantShipping) error
	FindByParticipantID(ctx context.Context, participantID string) (*models.ParticipantShipping, error)
	Update(ctx context.Context, record *models.ParticipantShipping) error
	ListByCohort(ctx context.Context, cohortID string) ([]models.ParticipantShipping, error)
}

type studyLocker interface {
	WithStudyLock(ctx context.Context, studyID string, fn func(ctx context.Context) error) error
}

// RecruitmentConfig tunes the recruitment orchestrator.
type RecruitmentConfig struct {
	DefaultWindowDuration time.Duration
	ViewCacheTTL          time.Duration
}

// RecruitmentService drives the per-study recruitment state machine. Every
// mutating operation runs under the study's lock and returns a TransitionResult;
// requests that do not fit the current state are reported as ignored, never as errors.
type RecruitmentService struct {
	studies   studyStateRepository
	shipping  shippingRegistry
	locker    studyLocker
	factory   *CohortFactory
	cache     *CacheService
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	config    RecruitmentConfig
	now       func() time.Time
}

// NewRecruitmentService wires the orchestrator.
func NewRecruitmentService(
	studies studyStateRepository,
	shipping shippingRegistry,
	locker studyLocker,
	factory *CohortFactory,
	cache *CacheService,
	metrics *MetricsService,
	validate *validator.Validate,
	logger *zap.Logger,
	config RecruitmentConfig,
) *RecruitmentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if factory == nil {
		factory = NewCohortFactory(nil)
	}
	if config.DefaultWindowDuration <= 0 {
		config.DefaultWindowDuration = 24 * time.Hour
	}
	return &RecruitmentService{
		studies:   studies,
		shipping:  shipping,
		locker:    locker,
		factory:   factory,
		cache:     cache,
		metrics:   metrics,
		validator: validate,
		logger:    logger,
		config:    config,
		now:       time.Now,
	}
}

// WithClock replaces the time source.
func (s *RecruitmentService) WithClock(now func() time.Time) *RecruitmentService {
	if now != nil {
		s.now = now
	}
	return s
}

func (s *RecruitmentService) clock() time.Time {
	return s.now().UTC()
}

// InitializeStudy creates the study's recruitment state in waitlist_only.
// Initializing an existing study is ignored and leaves it untouched.
func (s *RecruitmentService) InitializeStudy(ctx context.Context, req dto.InitializeStudyRequest) (*models.TransitionResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid study payload")
	}
	if req.ReturningUsersCount > req.WaitlistCount {
		req.ReturningUsersCount = req.WaitlistCount
	}

	duration := s.config.DefaultWindowDuration
	if req.WindowDurationHours > 0 {
		duration = time.Duration(req.WindowDurationHours) * time.Hour
	}

	var result *models.TransitionResult
	err := s.locker.WithStudyLock(ctx, req.StudyID, func(ctx context.Context) error {
		now := s.clock()
		rate, estimated := ConversionRate(nil)
		state := &models.StudyRecruitmentState{
			StudyID:                 req.StudyID,
			Status:                  models.RecruitmentStatusWaitlistOnly,
			TargetParticipants:      req.TargetParticipants,
			WaitlistCount:           req.WaitlistCount,
			ReturningUsersCount:     req.ReturningUsersCount,
			NewUsersCount:           req.WaitlistCount - req.ReturningUsersCount,
			WindowDuration:          duration,
			ConversionRate:          rate,
			ConversionRateEstimated: estimated,
			Cohorts:                 []models.Cohort{},
			WindowHistory:           []models.WindowSnapshot{},
			WaitlistHistory: []models.WaitlistSnapshot{
				{Timestamp: now.Add(-waitlistSeedLookback), Count: int(math.Floor(float64(req.WaitlistCount) * waitlistSeedFraction))},
				{Timestamp: now, Count: req.WaitlistCount},
			},
			CreatedAt: now,
			UpdatedAt: now,
		}

		created, err := s.studies.Insert(ctx, state)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create study")
		}
		if created {
			result = &models.TransitionResult{Outcome: models.OutcomeApplied, State: state}
			return nil
		}

		existing, err := s.studies.FindByStudyID(ctx, req.StudyID)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load study")
		}
		result = ignored(models.ReasonAlreadyInitialized, existing)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.finish(ctx, OpInitializeStudy, req.StudyID, result)
	return result, nil
}

// GoLive opens the study's first recruitment window.
func (s *RecruitmentService) GoLive(ctx context.Context, studyID string) (*models.TransitionResult, error) {
	return s.transition(ctx, OpGoLive, studyID, func(_ context.Context, state *models.StudyRecruitmentState) (*models.TransitionResult, error) {
		if state.Status != models.RecruitmentStatusWaitlistOnly {
			return ignored(models.ReasonInvalidState, state), nil
		}
		s.startWindow(state)
		return applied(state), nil
	})
}

// OpenWindow opens the next recruitment window. A study that already reached
// its target completes instead of opening a window.
func (s *RecruitmentService) OpenWindow(ctx context.Context, studyID string) (*models.TransitionResult, error) {
	return s.transition(ctx, OpOpenWindow, studyID, func(_ context.Context, state *models.StudyRecruitmentState) (*models.TransitionResult, error) {
		if state.Status != models.RecruitmentStatusReadyToOpen {
			return ignored(models.ReasonInvalidState, state), nil
		}
		if state.IsFull() {
			state.Status = models.RecruitmentStatusComplete
			return applied(state), nil
		}
		s.startWindow(state)
		return applied(state), nil
	})
}

// CloseWindow ends the open window. When anyone enrolled, a cohort is created
// with one shipping record per member and becomes the current cohort.
func (s *RecruitmentService) CloseWindow(ctx context.Context, studyID string) (*models.TransitionResult, error) {
	return s.transitionWrites(ctx, OpCloseWindow, studyID, s.closeWindow)
}

// CloseExpiredWindow closes the open window only once its deadline has passed.
// It is the entry point for deadline-driven callers such as the window sweeper.
func (s *RecruitmentService) CloseExpiredWindow(ctx context.Context, studyID string) (*models.TransitionResult, error) {
	return s.transitionWrites(ctx, OpCloseExpiredWindow, studyID, func(ctx context.Context, state *models.StudyRecruitmentState, writes *studyWrites) (*models.TransitionResult, error) {
		if state.Status != models.RecruitmentStatusWindowOpen {
			return ignored(models.ReasonInvalidState, state), nil
		}
		if state.CurrentWindowEndsAt != nil && s.clock().Before(*state.CurrentWindowEndsAt) {
			return ignored(models.ReasonWindowNotExpired, state), nil
		}
		return s.closeWindow(ctx, state, writes)
	})
}

func (s *RecruitmentService) closeWindow(ctx context.Context, state *models.StudyRecruitmentState, writes *studyWrites) (*models.TransitionResult, error) {
	if state.Status != models.RecruitmentStatusWindowOpen {
		return ignored(models.ReasonInvalidState, state), nil
	}

	closedAt := s.clock()
	openedAt := closedAt
	if state.CurrentWindowOpenedAt != nil {
		openedAt = *state.CurrentWindowOpenedAt
	} else if n := len(state.WindowHistory); n > 0 {
		openedAt = state.WindowHistory[n-1].OpenedAt
	}
	enrolled := state.CurrentWindowEnrolled

	var cohort *models.Cohort
	if enrolled > 0 {
		built, records, err := s.factory.Build(ctx, CohortSpec{
			StudyID:          state.StudyID,
			CohortNumber:     len(state.Cohorts) + 1,
			ParticipantCount: enrolled,
			WindowOpenedAt:   openedAt,
			WindowClosedAt:   closedAt,
		})
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to build cohort")
		}
		writes.shipments = records
		cohort = built
	}

	if n := len(state.WindowHistory); n > 0 && state.WindowHistory[n-1].ClosedAt == nil {
		state.WindowHistory[n-1].Enrolled = enrolled
		state.WindowHistory[n-1].ClosedAt = &closedAt
	} else {
		state.WindowHistory = append(state.WindowHistory, models.WindowSnapshot{
			WaitlistAtOpen: state.WaitlistCount + enrolled,
			Enrolled:       enrolled,
			OpenedAt:       openedAt,
			ClosedAt:       &closedAt,
		})
	}
	state.ConversionRate, state.ConversionRateEstimated = ConversionRate(closedWindows(state.WindowHistory))

	state.CurrentWindowEnrolled = 0
	state.CurrentWindowOpenedAt = nil
	state.CurrentWindowEndsAt = nil

	if cohort == nil {
		state.Status = models.RecruitmentStatusReadyToOpen
		return applied(state), nil
	}

	state.TotalEnrolled += enrolled
	state.Cohorts = append(state.Cohorts, *cohort)
	state.CurrentCohortID = cohort.ID
	state.Status = models.RecruitmentStatusWindowClosed
	s.metrics.RecordCohortCreated(cohort.Size())
	s.logger.Info("cohort created",
		zap.String("study_id", state.StudyID),
		zap.String("cohort_id", cohort.ID),
		zap.Int("participants", cohort.Size()),
	)
	return applied(state), nil
}

// EnterTrackingCode records a kit shipment for a member of the current cohort.
// Once every member has shipped, the cohort completes and the study either
// completes or becomes ready for its next window.
func (s *RecruitmentService) EnterTrackingCode(ctx context.Context, studyID, participantID, trackingNumber string) (*models.TransitionResult, error) {
	return s.transition(ctx, OpEnterTrackingCode, studyID, func(ctx context.Context, state *models.StudyRecruitmentState) (*models.TransitionResult, error) {
		cohort := state.CurrentCohort()
		if state.Status != models.RecruitmentStatusWindowClosed || cohort == nil {
			return ignored(models.ReasonNoCurrentCohort, state), nil
		}
		if !cohort.HasParticipant(participantID) {
			return ignored(models.ReasonParticipantNotInCohort, state), nil
		}
		normalized := carrier.Normalize(trackingNumber)
		if normalized == "" {
			return ignored(models.ReasonEmptyTrackingNumber, state), nil
		}
		if utf8.RuneCountInString(normalized) > models.MaxTrackingNumberLength {
			return ignored(models.ReasonTrackingNumberTooLong, state), nil
		}

		record, err := s.shipping.FindByParticipantID(ctx, participantID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ignored(models.ReasonParticipantNotInCohort, state), nil
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load shipment")
		}
		if record.Status != models.ShippingStatusReadyToShip {
			return ignored(models.ReasonAlreadyShipped, state), nil
		}

		shippedAt := s.clock()
		record.Status = models.ShippingStatusShipped
		record.TrackingNumber = &normalized
		record.TrackingCarrier = nil
		if detected, ok := carrier.Detect(normalized); ok {
			label := detected.String()
			record.TrackingCarrier = &label
		}
		record.ShippedAt = &shippedAt
		if err := s.shipping.Update(ctx, record); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update shipment")
		}
		s.metrics.RecordParticipantShipped()

		cohort.TrackingCodesEntered++
		if cohort.Status == models.CohortStatusPendingShipment {
			cohort.Status = models.CohortStatusShipping
		}
		cohort.AllTrackingEntered = cohort.TrackingCodesEntered >= cohort.Size()
		if cohort.AllTrackingEntered {
			cohort.Status = models.CohortStatusComplete
			state.CurrentCohortID = ""
			if state.IsFull() {
				state.Status = models.RecruitmentStatusComplete
			} else {
				state.Status = models.RecruitmentStatusReadyToOpen
			}
		}
		return applied(state), nil
	})
}

// RecordEnrollment adds enrollments to the open window, clamped to the study's
// remaining capacity. Enrollees are drawn from new users before returning users.
func (s *RecruitmentService) RecordEnrollment(ctx context.Context, studyID string, count int) (*models.TransitionResult, error) {
	return s.transition(ctx, OpRecordEnrollment, studyID, func(_ context.Context, state *models.StudyRecruitmentState) (*models.TransitionResult, error) {
		if count <= 0 {
			return ignored(models.ReasonNonPositiveCount, state), nil
		}
		if state.Status != models.RecruitmentStatusWindowOpen {
			return ignored(models.ReasonInvalidState, state), nil
		}

		accepted := count
		if remaining := state.RemainingCapacity(); accepted > remaining {
			accepted = remaining
		}
		if accepted == 0 {
			result := ignored(models.ReasonCapacityReached, state)
			result.Requested, result.Accepted = intPtr(count), intPtr(0)
			return result, nil
		}

		state.CurrentWindowEnrolled += accepted
		fromNew := minInt(accepted, state.NewUsersCount)
		state.NewUsersCount -= fromNew
		state.ReturningUsersCount -= minInt(accepted-fromNew, state.ReturningUsersCount)
		state.WaitlistCount = state.NewUsersCount + state.ReturningUsersCount
		s.appendWaitlistSnapshot(state)

		result := applied(state)
		result.Requested, result.Accepted = intPtr(count), intPtr(accepted)
		return result, nil
	})
}

// RecordWaitlistGrowth adds new waitlist sign-ups, returningCount of which are
// returning users.
func (s *RecruitmentService) RecordWaitlistGrowth(ctx context.Context, studyID string, count, returningCount int) (*models.TransitionResult, error) {
	return s.transition(ctx, OpRecordWaitlistGrowth, studyID, func(_ context.Context, state *models.StudyRecruitmentState) (*models.TransitionResult, error) {
		if count <= 0 {
			return ignored(models.ReasonNonPositiveCount, state), nil
		}
		if state.Status == models.RecruitmentStatusComplete {
			return ignored(models.ReasonInvalidState, state), nil
		}
		if returningCount < 0 {
			returningCount = 0
		}
		if returningCount > count {
			returningCount = count
		}

		state.ReturningUsersCount += returningCount
		state.NewUsersCount += count - returningCount
		state.WaitlistCount = state.NewUsersCount + state.ReturningUsersCount
		s.appendWaitlistSnapshot(state)
		return applied(state), nil
	})
}

// GetState returns a copy of the study's recruitment state.
func (s *RecruitmentService) GetState(ctx context.Context, studyID string) (*models.StudyRecruitmentState, error) {
	state, err := s.studies.FindByStudyID(ctx, studyID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrStudyNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load study")
	}
	return state, nil
}

// GetView renders the study for the operator console, serving from cache when possible.
func (s *RecruitmentService) GetView(ctx context.Context, studyID string) (*dto.StudyView, error) {
	var view dto.StudyView
	if hit, _ := s.cache.Get(ctx, StudyViewKey(studyID), &view); hit {
		view.WindowExpired = windowExpired(view.CurrentWindowEndsAt, s.clock())
		return &view, nil
	}

	state, err := s.GetState(ctx, studyID)
	if err != nil {
		return nil, err
	}
	rendered := s.buildView(state)
	_ = s.cache.Set(ctx, StudyViewKey(studyID), rendered, s.config.ViewCacheTTL)
	return rendered, nil
}

// ListStudies returns a page of study summaries.
func (s *RecruitmentService) ListStudies(ctx context.Context, filter models.StudyFilter) ([]dto.StudySummary, *models.Pagination, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, nil, appErrors.Clone(appErrors.ErrValidation, "unknown status filter")
	}
	if filter.Page <= 0 {
		filter.Page = 1
	}
	if filter.PageSize <= 0 {
		filter.PageSize = defaultPageSize
	}
	if filter.PageSize > maxPageSize {
		filter.PageSize = maxPageSize
	}

	states, total, err := s.studies.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list studies")
	}

	summaries := make([]dto.StudySummary, 0, len(states))
	for _, state := range states {
		summaries = append(summaries, dto.StudySummary{
			StudyID:                 state.StudyID,
			Status:                  state.Status,
			TargetParticipants:      state.TargetParticipants,
			TotalEnrolled:           state.TotalEnrolled,
			WaitlistCount:           state.WaitlistCount,
			CurrentWindowEndsAt:     state.CurrentWindowEndsAt,
			ConversionRate:          state.ConversionRate,
			ConversionRateEstimated: state.ConversionRateEstimated,
			UpdatedAt:               state.UpdatedAt,
		})
	}
	return summaries, &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: total}, nil
}

// ListCohortShipments returns the shipping records of a study's cohort.
func (s *RecruitmentService) ListCohortShipments(ctx context.Context, studyID, cohortID string) (*models.Cohort, []models.ParticipantShipping, error) {
	state, err := s.GetState(ctx, studyID)
	if err != nil {
		return nil, nil, err
	}
	var cohort *models.Cohort
	for i := range state.Cohorts {
		if state.Cohorts[i].ID == cohortID {
			cohort = &state.Cohorts[i]
			break
		}
	}
	if cohort == nil {
		return nil, nil, appErrors.ErrCohortNotFound
	}

	records, err := s.shipping.ListByCohort(ctx, cohortID)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list shipments")
	}
	return cohort, records, nil
}

// GetShipment returns one participant's shipping record within a study.
func (s *RecruitmentService) GetShipment(ctx context.Context, studyID, participantID string) (*models.ParticipantShipping, error) {
	record, err := s.shipping.FindByParticipantID(ctx, participantID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrShipmentNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load shipment")
	}
	if record.StudyID != studyID {
		return nil, appErrors.ErrShipmentNotFound
	}
	return record, nil
}

type transitionFunc func(ctx context.Context, state *models.StudyRecruitmentState) (*models.TransitionResult, error)

// studyWrites holds rows that reference the aggregate. They are written after
// the aggregate is saved, within the same study lock, because shipping records
// carry a foreign key to their cohort.
type studyWrites struct {
	shipments []models.ParticipantShipping
}

type transitionWritesFunc func(ctx context.Context, state *models.StudyRecruitmentState, writes *studyWrites) (*models.TransitionResult, error)

// transition loads the study under its lock, applies fn and persists the state
// when fn reports an applied outcome. fn must not mutate state when it ignores.
func (s *RecruitmentService) transition(ctx context.Context, op, studyID string, fn transitionFunc) (*models.TransitionResult, error) {
	return s.transitionWrites(ctx, op, studyID, func(ctx context.Context, state *models.StudyRecruitmentState, _ *studyWrites) (*models.TransitionResult, error) {
		return fn(ctx, state)
	})
}

// transitionWrites is transition for operations that also create dependent
// rows. Nothing is written unless the aggregate save succeeds first.
func (s *RecruitmentService) transitionWrites(ctx context.Context, op, studyID string, fn transitionWritesFunc) (*models.TransitionResult, error) {
	var result *models.TransitionResult
	err := s.locker.WithStudyLock(ctx, studyID, func(ctx context.Context) error {
		state, err := s.studies.FindByStudyID(ctx, studyID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				result = ignored(models.ReasonStudyNotFound, nil)
				return nil
			}
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load study")
		}

		var writes studyWrites
		res, err := fn(ctx, state, &writes)
		if err != nil {
			return err
		}
		if res.Applied() {
			state.UpdatedAt = s.clock()
			if err := s.studies.Save(ctx, state); err != nil {
				return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to save study")
			}
			if len(writes.shipments) > 0 {
				if err := s.shipping.InsertMany(ctx, writes.shipments); err != nil {
					return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to register shipments")
				}
			}
		}
		result = res
		return nil
	})
	if err != nil {
		s.logger.Error("recruitment operation failed", zap.String("operation", op), zap.String("study_id", studyID), zap.Error(err))
		return nil, err
	}

	s.finish(ctx, op, studyID, result)
	return result, nil
}

func (s *RecruitmentService) finish(ctx context.Context, op, studyID string, result *models.TransitionResult) {
	s.metrics.ObserveTransition(op, result)
	if !result.Applied() {
		s.logger.Debug("recruitment operation ignored",
			zap.String("operation", op),
			zap.String("study_id", studyID),
			zap.String("reason", string(result.Reason)),
		)
		return
	}
	s.logger.Info("recruitment operation applied",
		zap.String("operation", op),
		zap.String("study_id", studyID),
		zap.String("status", string(result.State.Status)),
	)
	_ = s.cache.Invalidate(ctx, StudyViewKey(studyID))
}

func (s *RecruitmentService) startWindow(state *models.StudyRecruitmentState) {
	opened := s.clock()
	duration := state.WindowDuration
	if duration <= 0 {
		duration = s.config.DefaultWindowDuration
	}
	ends := opened.Add(duration)

	state.Status = models.RecruitmentStatusWindowOpen
	state.CurrentWindowEnrolled = 0
	state.CurrentWindowOpenedAt = &opened
	state.CurrentWindowEndsAt = &ends
	state.WindowHistory = append(state.WindowHistory, models.WindowSnapshot{
		WaitlistAtOpen: state.WaitlistCount,
		OpenedAt:       opened,
	})
}

func (s *RecruitmentService) appendWaitlistSnapshot(state *models.StudyRecruitmentState) {
	state.WaitlistHistory = append(state.WaitlistHistory, models.WaitlistSnapshot{
		Timestamp: s.clock(),
		Count:     state.WaitlistCount,
	})
}

func (s *RecruitmentService) buildView(state *models.StudyRecruitmentState) *dto.StudyView {
	view := &dto.StudyView{
		StudyID:                       state.StudyID,
		Status:                        state.Status,
		TargetParticipants:            state.TargetParticipants,
		TotalEnrolled:                 state.TotalEnrolled,
		RemainingCapacity:             state.RemainingCapacity(),
		WaitlistCount:                 state.WaitlistCount,
		ReturningUsersCount:           state.ReturningUsersCount,
		NewUsersCount:                 state.NewUsersCount,
		CurrentWindowEnrolled:         state.CurrentWindowEnrolled,
		CurrentWindowOpenedAt:         state.CurrentWindowOpenedAt,
		CurrentWindowEndsAt:           state.CurrentWindowEndsAt,
		WindowExpired:                 windowExpired(state.CurrentWindowEndsAt, s.clock()),
		WindowDurationHours:           state.WindowDuration.Hours(),
		CurrentCohort:                 state.CurrentCohort(),
		Cohorts:                       state.Cohorts,
		WindowHistory:                 state.WindowHistory,
		WaitlistHistory:               state.WaitlistHistory,
		ConversionRate:                state.ConversionRate,
		ConversionRateEstimated:       state.ConversionRateEstimated,
		ProjectedNextWindowEnrollment: ForecastNextWindow(state),
		CreatedAt:                     state.CreatedAt,
		UpdatedAt:                     state.UpdatedAt,
	}
	return view
}

func windowExpired(endsAt *time.Time, now time.Time) bool {
	return endsAt != nil && !now.Before(*endsAt)
}

func applied(state *models.StudyRecruitmentState) *models.TransitionResult {
	return &models.TransitionResult{Outcome: models.OutcomeApplied, State: state}
}

func ignored(reason models.IgnoreReason, state *models.StudyRecruitmentState) *models.TransitionResult {
	return &models.TransitionResult{Outcome: models.OutcomeIgnored, Reason: reason, State: state}
}

func intPtr(v int) *int {
	return &v
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
