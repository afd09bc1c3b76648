package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/noah-isme/cohort-recruitment-api/internal/dto"
	"github.com/noah-isme/cohort-recruitment-api/internal/models"
	appErrors "github.com/noah-isme/cohort-recruitment-api/pkg/errors"
	"github.com/noah-isme/cohort-recruitment-api/pkg/response"
)

type recruitmentService interface {
	InitializeStudy(ctx context.Context, req dto.InitializeStudyRequest) (*models.TransitionResult, error)
	GoLive(ctx context.Context, studyID string) (*models.TransitionResult, error)
	OpenWindow(ctx context.Context, studyID string) (*models.TransitionResult, error)
	CloseWindow(ctx context.Context, studyID string) (*models.TransitionResult, error)
	RecordEnrollment(ctx context.Context, studyID string, count int) (*models.TransitionResult, error)
	RecordWaitlistGrowth(ctx context.Context, studyID string, count, returningCount int) (*models.TransitionResult, error)
	GetView(ctx context.Context, studyID string) (*dto.StudyView, error)
	ListStudies(ctx context.Context, filter models.StudyFilter) ([]dto.StudySummary, *models.Pagination, error)
}

// StudyHandler exposes the recruitment lifecycle of studies.
type StudyHandler struct {
	service recruitmentService
	logger  *zap.Logger
}

// NewStudyHandler builds a new handler.
func NewStudyHandler(service recruitmentService, logger *zap.Logger) *StudyHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StudyHandler{service: service, logger: logger}
}

// List godoc
// @Summary List studies
// @Tags Studies
// @Produce json
// @Param status query string false "Recruitment status"
// @Param page query int false "Page number"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /studies [get]
func (h *StudyHandler) List(c *gin.Context) {
	filter := models.StudyFilter{
		Status:   models.RecruitmentStatus(c.Query("status")),
		Page:     queryInt(c, "page", 1),
		PageSize: queryInt(c, "page_size", 0),
	}
	items, pagination, err := h.service.ListStudies(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, pagination)
}

// Create godoc
// @Summary Initialize study recruitment
// @Description Creates the study in waitlist_only. Repeating the call is ignored.
// @Tags Studies
// @Accept json
// @Produce json
// @Param payload body dto.InitializeStudyRequest true "Study payload"
// @Success 200 {object} response.Envelope
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /studies [post]
func (h *StudyHandler) Create(c *gin.Context) {
	var req dto.InitializeStudyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid study payload"))
		return
	}

	result, err := h.service.InitializeStudy(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}

	status := http.StatusOK
	if result.Applied() {
		status = http.StatusCreated
		if actor := operatorFromContext(c); actor != nil {
			h.logger.Info("study initialized", zap.String("study_id", req.StudyID), zap.String("operator_id", actor.OperatorID))
		}
	}
	response.Transition(c, status, result, result.State)
}

// Get godoc
// @Summary Get study recruitment view
// @Tags Studies
// @Produce json
// @Param studyId path string true "Study ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /studies/{studyId} [get]
func (h *StudyHandler) Get(c *gin.Context) {
	view, err := h.service.GetView(c.Request.Context(), c.Param("studyId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, view, nil)
}

// GoLive godoc
// @Summary Go live
// @Description Opens the first recruitment window of a waitlist_only study.
// @Tags Studies
// @Produce json
// @Param studyId path string true "Study ID"
// @Success 200 {object} response.Envelope
// @Router /studies/{studyId}/go-live [post]
func (h *StudyHandler) GoLive(c *gin.Context) {
	h.transition(c, h.service.GoLive)
}

// OpenWindow godoc
// @Summary Open recruitment window
// @Tags Windows
// @Produce json
// @Param studyId path string true "Study ID"
// @Success 200 {object} response.Envelope
// @Router /studies/{studyId}/windows/open [post]
func (h *StudyHandler) OpenWindow(c *gin.Context) {
	h.transition(c, h.service.OpenWindow)
}

// CloseWindow godoc
// @Summary Close recruitment window
// @Description Closes the open window and creates a cohort when anyone enrolled.
// @Tags Windows
// @Produce json
// @Param studyId path string true "Study ID"
// @Success 200 {object} response.Envelope
// @Router /studies/{studyId}/windows/close [post]
func (h *StudyHandler) CloseWindow(c *gin.Context) {
	h.transition(c, h.service.CloseWindow)
}

// RecordEnrollment godoc
// @Summary Record enrollments
// @Description Adds enrollments to the open window, clamped to remaining capacity.
// @Tags Enrollment
// @Accept json
// @Produce json
// @Param studyId path string true "Study ID"
// @Param payload body dto.RecordEnrollmentRequest true "Enrollment payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /studies/{studyId}/enrollments [post]
func (h *StudyHandler) RecordEnrollment(c *gin.Context) {
	var req dto.RecordEnrollmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid enrollment payload"))
		return
	}
	h.transition(c, func(ctx context.Context, studyID string) (*models.TransitionResult, error) {
		return h.service.RecordEnrollment(ctx, studyID, req.Count)
	})
}

// RecordWaitlistGrowth godoc
// @Summary Record waitlist growth
// @Tags Enrollment
// @Accept json
// @Produce json
// @Param studyId path string true "Study ID"
// @Param payload body dto.RecordWaitlistGrowthRequest true "Waitlist payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /studies/{studyId}/waitlist [post]
func (h *StudyHandler) RecordWaitlistGrowth(c *gin.Context) {
	var req dto.RecordWaitlistGrowthRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid waitlist payload"))
		return
	}
	h.transition(c, func(ctx context.Context, studyID string) (*models.TransitionResult, error) {
		return h.service.RecordWaitlistGrowth(ctx, studyID, req.Count, req.ReturningCount)
	})
}

func (h *StudyHandler) transition(c *gin.Context, op func(ctx context.Context, studyID string) (*models.TransitionResult, error)) {
	result, err := op(c.Request.Context(), c.Param("studyId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Transition(c, http.StatusOK, result, result.State)
}
