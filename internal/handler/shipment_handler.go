package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/cohort-recruitment-api/internal/dto"
	"github.com/noah-isme/cohort-recruitment-api/internal/models"
	"github.com/noah-isme/cohort-recruitment-api/internal/service"
	appErrors "github.com/noah-isme/cohort-recruitment-api/pkg/errors"
	"github.com/noah-isme/cohort-recruitment-api/pkg/response"
)

type shipmentService interface {
	ListCohortShipments(ctx context.Context, studyID, cohortID string) (*models.Cohort, []models.ParticipantShipping, error)
	EnterTrackingCode(ctx context.Context, studyID, participantID, trackingNumber string) (*models.TransitionResult, error)
}

type manifestService interface {
	CohortManifest(ctx context.Context, studyID, cohortID string) (*service.Manifest, error)
}

// ShipmentHandler exposes cohort shipping endpoints.
type ShipmentHandler struct {
	shipments shipmentService
	manifests manifestService
}

// NewShipmentHandler builds a new handler.
func NewShipmentHandler(shipments shipmentService, manifests manifestService) *ShipmentHandler {
	return &ShipmentHandler{shipments: shipments, manifests: manifests}
}

// ListCohort godoc
// @Summary List cohort shipments
// @Tags Shipping
// @Produce json
// @Param studyId path string true "Study ID"
// @Param cohortId path string true "Cohort ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /studies/{studyId}/cohorts/{cohortId}/shipments [get]
func (h *ShipmentHandler) ListCohort(c *gin.Context) {
	cohort, records, err := h.shipments.ListCohortShipments(c.Request.Context(), c.Param("studyId"), c.Param("cohortId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, records, nil, map[string]interface{}{
		"cohort_status":          cohort.Status,
		"tracking_codes_entered": cohort.TrackingCodesEntered,
		"participants":           cohort.Size(),
	})
}

// Manifest godoc
// @Summary Download cohort shipping manifest
// @Tags Shipping
// @Produce text/csv
// @Param studyId path string true "Study ID"
// @Param cohortId path string true "Cohort ID"
// @Success 200 {file} file
// @Failure 404 {object} response.Envelope
// @Router /studies/{studyId}/cohorts/{cohortId}/manifest.csv [get]
func (h *ShipmentHandler) Manifest(c *gin.Context) {
	manifest, err := h.manifests.CohortManifest(c.Request.Context(), c.Param("studyId"), c.Param("cohortId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Attachment(c, manifest.Filename, manifest.ContentType, manifest.Body)
}

// EnterTracking godoc
// @Summary Enter tracking number
// @Description Records a kit shipment for a member of the current cohort.
// @Tags Shipping
// @Accept json
// @Produce json
// @Param studyId path string true "Study ID"
// @Param participantId path string true "Participant ID"
// @Param payload body dto.EnterTrackingCodeRequest true "Tracking payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /studies/{studyId}/shipments/{participantId}/tracking [put]
func (h *ShipmentHandler) EnterTracking(c *gin.Context) {
	var req dto.EnterTrackingCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid tracking payload"))
		return
	}

	result, err := h.shipments.EnterTrackingCode(c.Request.Context(), c.Param("studyId"), c.Param("participantId"), req.TrackingNumber)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Transition(c, http.StatusOK, result, result.State)
}
