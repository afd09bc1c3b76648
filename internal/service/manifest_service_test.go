package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/cohort-recruitment-api/internal/models"
	appErrors "github.com/noah-isme/cohort-recruitment-api/pkg/errors"
)

type stubShipmentLister struct {
	cohort  *models.Cohort
	records []models.ParticipantShipping
	err     error
}

func (s stubShipmentLister) ListCohortShipments(context.Context, string, string) (*models.Cohort, []models.ParticipantShipping, error) {
	return s.cohort, s.records, s.err
}

func TestManifestServiceCohortManifest(t *testing.T) {
	tracking, label := "1Z999AA10123456784", "UPS"
	shipped := time.Date(2026, 4, 7, 12, 0, 0, 0, time.UTC)
	lister := stubShipmentLister{
		cohort: &models.Cohort{ID: "s1-cohort-1"},
		records: []models.ParticipantShipping{
			{
				ParticipantID:   "s1-cohort-1-p001",
				DisplayName:     "Avery Patel",
				Status:          models.ShippingStatusShipped,
				Address:         models.PostalAddress{Line1: "12 Cedar Ln", City: "Austin", Region: "TX", PostalCode: "78701", Country: "US"},
				TrackingNumber:  &tracking,
				TrackingCarrier: &label,
				ShippedAt:       &shipped,
			},
			{ParticipantID: "s1-cohort-1-p002", DisplayName: "Quinn Osei", Status: models.ShippingStatusReadyToShip},
		},
	}

	manifest, err := NewManifestService(lister, nil).CohortManifest(context.Background(), "s1", "s1-cohort-1")
	require.NoError(t, err)
	assert.Equal(t, "s1-cohort-1-manifest.csv", manifest.Filename)
	assert.Equal(t, "text/csv", manifest.ContentType)

	lines := strings.Split(strings.TrimSpace(string(manifest.Body)), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "Participant ID,Name,"))
	assert.Equal(t, "s1-cohort-1-p001,Avery Patel,12 Cedar Ln,,Austin,TX,78701,US,shipped,1Z999AA10123456784,UPS,2026-04-07T12:00:00Z", lines[1])
	assert.Equal(t, "s1-cohort-1-p002,Quinn Osei,,,,,,,ready_to_ship,,,", lines[2])
}

func TestManifestServicePropagatesNotFound(t *testing.T) {
	lister := stubShipmentLister{err: appErrors.ErrCohortNotFound}
	_, err := NewManifestService(lister, nil).CohortManifest(context.Background(), "s1", "nope")
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))
}
