package service

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/noah-isme/cohort-recruitment-api/internal/models"
)

// CohortSpec describes the cohort produced by closing a window.
type CohortSpec struct {
	StudyID          string
	CohortNumber     int
	ParticipantCount int
	WindowOpenedAt   time.Time
	WindowClosedAt   time.Time
}

// ParticipantProfile is what the enrollment system knows about a newly
// enrolled participant.
type ParticipantProfile struct {
	ParticipantID string
	DisplayName   string
	Initials      string
	Address       models.PostalAddress
	EnrolledAt    time.Time
}

// ParticipantSource yields the participants enrolled during a window.
type ParticipantSource interface {
	Participants(ctx context.Context, spec CohortSpec, cohortID string) ([]ParticipantProfile, error)
}

// CohortFactory materializes a cohort and its shipping records.
type CohortFactory struct {
	source ParticipantSource
}

// NewCohortFactory builds a factory. A nil source falls back to DemoParticipantSource.
func NewCohortFactory(source ParticipantSource) *CohortFactory {
	if source == nil {
		source = DemoParticipantSource{}
	}
	return &CohortFactory{source: source}
}

// Build returns the new cohort along with one ready_to_ship record per member.
func (f *CohortFactory) Build(ctx context.Context, spec CohortSpec) (*models.Cohort, []models.ParticipantShipping, error) {
	if spec.ParticipantCount <= 0 {
		return nil, nil, fmt.Errorf("cohort %d of %s: participant count must be positive", spec.CohortNumber, spec.StudyID)
	}

	cohortID := models.CohortID(spec.StudyID, spec.CohortNumber)
	profiles, err := f.source.Participants(ctx, spec, cohortID)
	if err != nil {
		return nil, nil, fmt.Errorf("load participants for %s: %w", cohortID, err)
	}
	if len(profiles) != spec.ParticipantCount {
		return nil, nil, fmt.Errorf("load participants for %s: expected %d, got %d", cohortID, spec.ParticipantCount, len(profiles))
	}

	cohort := &models.Cohort{
		ID:             cohortID,
		StudyID:        spec.StudyID,
		CohortNumber:   spec.CohortNumber,
		Status:         models.CohortStatusPendingShipment,
		WindowOpenedAt: spec.WindowOpenedAt,
		WindowClosedAt: spec.WindowClosedAt,
		ParticipantIDs: make([]string, 0, len(profiles)),
	}
	records := make([]models.ParticipantShipping, 0, len(profiles))
	seen := make(map[string]struct{}, len(profiles))

	for i, profile := range profiles {
		id := strings.TrimSpace(profile.ParticipantID)
		if id == "" {
			id = demoParticipantID(cohortID, i+1)
		}
		if _, dup := seen[id]; dup {
			return nil, nil, fmt.Errorf("load participants for %s: duplicate participant %s", cohortID, id)
		}
		seen[id] = struct{}{}

		enrolledAt := profile.EnrolledAt
		if enrolledAt.IsZero() {
			enrolledAt = spec.WindowClosedAt
		}
		if profile.Address.Usable() {
			cohort.AddressesCollected++
		}

		cohort.ParticipantIDs = append(cohort.ParticipantIDs, id)
		records = append(records, models.ParticipantShipping{
			ParticipantID: id,
			StudyID:       spec.StudyID,
			CohortID:      cohortID,
			Status:        models.ShippingStatusReadyToShip,
			DisplayName:   profile.DisplayName,
			Initials:      initialsOf(profile),
			Address:       profile.Address,
			EnrolledAt:    enrolledAt,
		})
	}

	return cohort, records, nil
}

// maxInitialsLength bounds initials to the participant_shipping column width.
const maxInitialsLength = 8

// initialsOf prefers the supplied initials and otherwise takes the first letter
// of each name part. Both are cut on rune boundaries.
func initialsOf(profile ParticipantProfile) string {
	if profile.Initials != "" {
		return truncateRunes(profile.Initials, maxInitialsLength)
	}
	var b strings.Builder
	for _, part := range strings.Fields(profile.DisplayName) {
		r, _ := utf8.DecodeRuneInString(part)
		if r == utf8.RuneError {
			continue
		}
		b.WriteRune(unicode.ToUpper(r))
	}
	return truncateRunes(b.String(), maxInitialsLength)
}

func truncateRunes(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit])
}

// DemoParticipantSource fabricates deterministic participants for deployments
// without an enrollment integration. The same cohort always yields the same people.
type DemoParticipantSource struct{}

var (
	demoFirstNames = []string{"Avery", "Jordan", "Riley", "Morgan", "Casey", "Quinn", "Rowan", "Emerson", "Harper", "Sage", "Dakota", "Reese"}
	demoLastNames  = []string{"Nguyen", "Okafor", "Lindqvist", "Patel", "Moreau", "Tanaka", "Alvarez", "Kowalski", "Haddad", "Brennan", "Osei", "Fischer"}
	demoStreets    = []string{"Maple Ave", "Harbor St", "Cedar Ln", "Juniper Rd", "Willow Way", "Aspen Ct", "Birch Blvd", "Linden Pl"}
	demoCities     = []struct{ city, region, postal string }{
		{"Portland", "OR", "97205"},
		{"Madison", "WI", "53703"},
		{"Austin", "TX", "78701"},
		{"Raleigh", "NC", "27601"},
		{"Boulder", "CO", "80302"},
		{"Burlington", "VT", "05401"},
	}
)

// Participants implements ParticipantSource.
func (DemoParticipantSource) Participants(_ context.Context, spec CohortSpec, cohortID string) ([]ParticipantProfile, error) {
	profiles := make([]ParticipantProfile, spec.ParticipantCount)
	span := spec.WindowClosedAt.Sub(spec.WindowOpenedAt)
	for i := range profiles {
		id := demoParticipantID(cohortID, i+1)
		seed := demoSeed(id)
		first := demoFirstNames[seed%uint32(len(demoFirstNames))]
		last := demoLastNames[(seed/7)%uint32(len(demoLastNames))]
		place := demoCities[(seed/13)%uint32(len(demoCities))]

		enrolledAt := spec.WindowClosedAt
		if span > 0 {
			enrolledAt = spec.WindowOpenedAt.Add(span * time.Duration(i+1) / time.Duration(spec.ParticipantCount+1))
		}

		profiles[i] = ParticipantProfile{
			ParticipantID: id,
			DisplayName:   first + " " + last,
			Initials:      first[:1] + last[:1],
			Address: models.PostalAddress{
				Line1:      fmt.Sprintf("%d %s", 100+seed%900, demoStreets[(seed/3)%uint32(len(demoStreets))]),
				City:       place.city,
				Region:     place.region,
				PostalCode: place.postal,
				Country:    "US",
			},
			EnrolledAt: enrolledAt,
		}
	}
	return profiles, nil
}

func demoParticipantID(cohortID string, n int) string {
	return fmt.Sprintf("%s-p%03d", cohortID, n)
}

func demoSeed(id string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return h.Sum32()
}
