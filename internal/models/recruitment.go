package models

import (
	"fmt"
	"time"
)

// RecruitmentStatus is the lifecycle state of a study's recruitment.
type RecruitmentStatus string

// Recruitment lifecycle states. Every study starts in waitlist_only.
const (
	RecruitmentStatusWaitlistOnly RecruitmentStatus = "waitlist_only"
	RecruitmentStatusWindowOpen   RecruitmentStatus = "window_open"
	RecruitmentStatusWindowClosed RecruitmentStatus = "window_closed"
	RecruitmentStatusReadyToOpen  RecruitmentStatus = "ready_to_open"
	RecruitmentStatusComplete     RecruitmentStatus = "complete"
)

// Valid reports whether the status is a known lifecycle state.
func (s RecruitmentStatus) Valid() bool {
	switch s {
	case RecruitmentStatusWaitlistOnly, RecruitmentStatusWindowOpen, RecruitmentStatusWindowClosed,
		RecruitmentStatusReadyToOpen, RecruitmentStatusComplete:
		return true
	}
	return false
}

// CohortStatus tracks provisioning progress of a cohort.
type CohortStatus string

// Cohort statuses.
const (
	CohortStatusPendingShipment CohortStatus = "pending_shipment"
	CohortStatusShipping        CohortStatus = "shipping"
	CohortStatusComplete        CohortStatus = "complete"
)

// DefaultConversionRate is the prior used before any window has produced data.
const DefaultConversionRate = 0.35

// WindowSnapshot records one recruitment window. WaitlistAtOpen is captured when
// the window opens and Enrolled is finalized when it closes.
type WindowSnapshot struct {
	WaitlistAtOpen int        `json:"waitlist_at_open"`
	Enrolled       int        `json:"enrolled"`
	OpenedAt       time.Time  `json:"opened_at"`
	ClosedAt       *time.Time `json:"closed_at,omitempty"`
}

// WaitlistSnapshot is a point on the waitlist trend series.
type WaitlistSnapshot struct {
	Timestamp time.Time `json:"timestamp"`
	Count     int       `json:"count"`
}

// Cohort is the batch of participants captured by one recruitment window.
type Cohort struct {
	ID                   string       `db:"id" json:"id"`
	StudyID              string       `db:"study_id" json:"study_id"`
	CohortNumber         int          `db:"cohort_number" json:"cohort_number"`
	Status               CohortStatus `db:"status" json:"status"`
	WindowOpenedAt       time.Time    `db:"window_opened_at" json:"window_opened_at"`
	WindowClosedAt       time.Time    `db:"window_closed_at" json:"window_closed_at"`
	ParticipantIDs       []string     `db:"-" json:"participant_ids"`
	AddressesCollected   int          `db:"addresses_collected" json:"addresses_collected"`
	TrackingCodesEntered int          `db:"tracking_codes_entered" json:"tracking_codes_entered"`
	AllTrackingEntered   bool         `db:"all_tracking_entered" json:"all_tracking_entered"`
	DeliveredCount       int          `db:"delivered_count" json:"delivered_count"`
}

// CohortID derives the identifier of a study's nth cohort.
func CohortID(studyID string, cohortNumber int) string {
	return fmt.Sprintf("%s-cohort-%d", studyID, cohortNumber)
}

// Size returns the number of members.
func (c *Cohort) Size() int {
	return len(c.ParticipantIDs)
}

// HasParticipant reports whether the participant is a member of the cohort.
func (c *Cohort) HasParticipant(participantID string) bool {
	for _, id := range c.ParticipantIDs {
		if id == participantID {
			return true
		}
	}
	return false
}

// Clone returns a deep copy.
func (c Cohort) Clone() Cohort {
	c.ParticipantIDs = append([]string(nil), c.ParticipantIDs...)
	return c
}

// StudyRecruitmentState is the root aggregate of a study's recruitment.
type StudyRecruitmentState struct {
	StudyID                 string             `db:"study_id" json:"study_id"`
	Status                  RecruitmentStatus  `db:"status" json:"status"`
	TargetParticipants      int                `db:"target_participants" json:"target_participants"`
	TotalEnrolled           int                `db:"total_enrolled" json:"total_enrolled"`
	WaitlistCount           int                `db:"waitlist_count" json:"waitlist_count"`
	ReturningUsersCount     int                `db:"returning_users_count" json:"returning_users_count"`
	NewUsersCount           int                `db:"new_users_count" json:"new_users_count"`
	CurrentWindowEnrolled   int                `db:"current_window_enrolled" json:"current_window_enrolled"`
	CurrentWindowOpenedAt   *time.Time         `db:"current_window_opened_at" json:"current_window_opened_at,omitempty"`
	CurrentWindowEndsAt     *time.Time         `db:"current_window_ends_at" json:"current_window_ends_at,omitempty"`
	CurrentCohortID         string             `db:"current_cohort_id" json:"current_cohort_id,omitempty"`
	WindowDuration          time.Duration      `db:"window_duration_ns" json:"window_duration"`
	ConversionRate          float64            `db:"conversion_rate" json:"conversion_rate"`
	ConversionRateEstimated bool               `db:"conversion_rate_estimated" json:"conversion_rate_estimated"`
	Cohorts                 []Cohort           `db:"-" json:"cohorts"`
	WindowHistory           []WindowSnapshot   `db:"-" json:"window_history"`
	WaitlistHistory         []WaitlistSnapshot `db:"-" json:"waitlist_history"`
	CreatedAt               time.Time          `db:"created_at" json:"created_at"`
	UpdatedAt               time.Time          `db:"updated_at" json:"updated_at"`
}

// RemainingCapacity is how many more participants the study can enroll,
// counting those already enrolled in the open window.
func (s *StudyRecruitmentState) RemainingCapacity() int {
	remaining := s.TargetParticipants - s.TotalEnrolled - s.CurrentWindowEnrolled
	if remaining < 0 {
		return 0
	}
	return remaining
}

// IsFull reports whether the enrollment target has been reached.
func (s *StudyRecruitmentState) IsFull() bool {
	return s.TotalEnrolled >= s.TargetParticipants
}

// CurrentCohort returns the cohort being provisioned, if any. The pointer
// aliases the element in Cohorts.
func (s *StudyRecruitmentState) CurrentCohort() *Cohort {
	if s.CurrentCohortID == "" {
		return nil
	}
	for i := range s.Cohorts {
		if s.Cohorts[i].ID == s.CurrentCohortID {
			return &s.Cohorts[i]
		}
	}
	return nil
}

// Clone returns a deep copy so callers never share slices with stored state.
func (s StudyRecruitmentState) Clone() StudyRecruitmentState {
	if s.CurrentWindowOpenedAt != nil {
		t := *s.CurrentWindowOpenedAt
		s.CurrentWindowOpenedAt = &t
	}
	if s.CurrentWindowEndsAt != nil {
		t := *s.CurrentWindowEndsAt
		s.CurrentWindowEndsAt = &t
	}
	cohorts := make([]Cohort, len(s.Cohorts))
	for i := range s.Cohorts {
		cohorts[i] = s.Cohorts[i].Clone()
	}
	s.Cohorts = cohorts
	history := make([]WindowSnapshot, len(s.WindowHistory))
	for i, w := range s.WindowHistory {
		if w.ClosedAt != nil {
			t := *w.ClosedAt
			w.ClosedAt = &t
		}
		history[i] = w
	}
	s.WindowHistory = history
	s.WaitlistHistory = append([]WaitlistSnapshot(nil), s.WaitlistHistory...)
	return s
}

// StudyFilter narrows study listings.
type StudyFilter struct {
	Status   RecruitmentStatus
	Page     int
	PageSize int
}

// ShippingStatus is the shipment state of a single participant.
type ShippingStatus string

// Shipping statuses modelled by the orchestrator. Delivery states are tracked elsewhere.
const (
	ShippingStatusReadyToShip ShippingStatus = "ready_to_ship"
	ShippingStatusShipped     ShippingStatus = "shipped"
)

// PostalAddress is the mailing address supplied by the address collection service.
type PostalAddress struct {
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	Region     string `json:"region"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

// Usable reports whether the address carries enough information to print a label.
func (a PostalAddress) Usable() bool {
	return a.Line1 != "" && a.City != "" && a.PostalCode != "" && a.Country != ""
}

// MaxTrackingNumberLength bounds a normalized tracking number.
const MaxTrackingNumberLength = 64

// ParticipantShipping tracks one participant's shipment within a cohort.
type ParticipantShipping struct {
	ParticipantID   string         `db:"participant_id" json:"participant_id"`
	StudyID         string         `db:"study_id" json:"study_id"`
	CohortID        string         `db:"cohort_id" json:"cohort_id"`
	Status          ShippingStatus `db:"status" json:"status"`
	DisplayName     string         `db:"display_name" json:"display_name"`
	Initials        string         `db:"initials" json:"initials"`
	Address         PostalAddress  `db:"-" json:"address"`
	TrackingNumber  *string        `db:"tracking_number" json:"tracking_number,omitempty"`
	TrackingCarrier *string        `db:"tracking_carrier" json:"tracking_carrier,omitempty"`
	ShippedAt       *time.Time     `db:"shipped_at" json:"shipped_at,omitempty"`
	EnrolledAt      time.Time      `db:"enrolled_at" json:"enrolled_at"`
}

// TransitionOutcome tells callers whether an operation changed anything.
type TransitionOutcome string

// Transition outcomes.
const (
	OutcomeApplied TransitionOutcome = "applied"
	OutcomeIgnored TransitionOutcome = "ignored"
)

// IgnoreReason explains why an operation was a no-op.
type IgnoreReason string

// Reasons for ignored transitions.
const (
	ReasonStudyNotFound          IgnoreReason = "study_not_found"
	ReasonInvalidState           IgnoreReason = "invalid_state"
	ReasonAlreadyInitialized     IgnoreReason = "already_initialized"
	ReasonNoCurrentCohort        IgnoreReason = "no_current_cohort"
	ReasonParticipantNotInCohort IgnoreReason = "participant_not_in_cohort"
	ReasonAlreadyShipped         IgnoreReason = "already_shipped"
	ReasonEmptyTrackingNumber    IgnoreReason = "empty_tracking_number"
	ReasonTrackingNumberTooLong  IgnoreReason = "tracking_number_too_long"
	ReasonCapacityReached        IgnoreReason = "capacity_reached"
	ReasonNonPositiveCount       IgnoreReason = "non_positive_count"
	ReasonWindowNotExpired       IgnoreReason = "window_not_expired"
)

// TransitionResult is returned by every recruitment operation. State is the
// state after the operation; for ignored operations it is unchanged (nil when
// the study does not exist).
type TransitionResult struct {
	Outcome   TransitionOutcome      `json:"outcome"`
	Reason    IgnoreReason           `json:"reason,omitempty"`
	Requested *int                   `json:"requested,omitempty"`
	Accepted  *int                   `json:"accepted,omitempty"`
	State     *StudyRecruitmentState `json:"-"`
}

// Applied reports whether the operation changed state.
func (r *TransitionResult) Applied() bool {
	return r != nil && r.Outcome == OutcomeApplied
}
