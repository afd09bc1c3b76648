package service

import (
	"context"
	"fmt"
	"time"

	"github.com/noah-isme/cohort-recruitment-api/internal/models"
	"github.com/noah-isme/cohort-recruitment-api/pkg/export"
)

type cohortShipmentLister interface {
	ListCohortShipments(ctx context.Context, studyID, cohortID string) (*models.Cohort, []models.ParticipantShipping, error)
}

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

// Manifest is a rendered shipping manifest ready to download.
type Manifest struct {
	Filename    string
	ContentType string
	Body        []byte
}

var manifestColumns = []export.Column{
	{Key: "participant_id", Label: "Participant ID"},
	{Key: "display_name", Label: "Name"},
	{Key: "line1", Label: "Address Line 1"},
	{Key: "line2", Label: "Address Line 2"},
	{Key: "city", Label: "City"},
	{Key: "region", Label: "Region"},
	{Key: "postal_code", Label: "Postal Code"},
	{Key: "country", Label: "Country"},
	{Key: "status", Label: "Status"},
	{Key: "tracking_number", Label: "Tracking Number"},
	{Key: "carrier", Label: "Carrier"},
	{Key: "shipped_at", Label: "Shipped At"},
}

// ManifestService renders cohort shipping manifests for the fulfilment team.
type ManifestService struct {
	shipments cohortShipmentLister
	csv       csvRenderer
}

// NewManifestService constructs a ManifestService.
func NewManifestService(shipments cohortShipmentLister, csv csvRenderer) *ManifestService {
	if csv == nil {
		csv = export.NewCSVExporter()
	}
	return &ManifestService{shipments: shipments, csv: csv}
}

// CohortManifest renders one row per cohort member in participant order.
func (s *ManifestService) CohortManifest(ctx context.Context, studyID, cohortID string) (*Manifest, error) {
	cohort, records, err := s.shipments.ListCohortShipments(ctx, studyID, cohortID)
	if err != nil {
		return nil, err
	}

	rows := make([]map[string]string, 0, len(records))
	for _, record := range records {
		row := map[string]string{
			"participant_id": record.ParticipantID,
			"display_name":   record.DisplayName,
			"line1":          record.Address.Line1,
			"line2":          record.Address.Line2,
			"city":           record.Address.City,
			"region":         record.Address.Region,
			"postal_code":    record.Address.PostalCode,
			"country":        record.Address.Country,
			"status":         string(record.Status),
		}
		if record.TrackingNumber != nil {
			row["tracking_number"] = *record.TrackingNumber
		}
		if record.TrackingCarrier != nil {
			row["carrier"] = *record.TrackingCarrier
		}
		if record.ShippedAt != nil {
			row["shipped_at"] = record.ShippedAt.UTC().Format(time.RFC3339)
		}
		rows = append(rows, row)
	}

	body, err := s.csv.Render(export.Dataset{Columns: manifestColumns, Rows: rows})
	if err != nil {
		return nil, fmt.Errorf("render manifest for %s: %w", cohort.ID, err)
	}
	return &Manifest{
		Filename:    fmt.Sprintf("%s-manifest.csv", cohort.ID),
		ContentType: "text/csv",
		Body:        body,
	}, nil
}
