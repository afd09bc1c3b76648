package dto

import (
	"time"

	"github.com/noah-isme/cohort-recruitment-api/internal/models"
)

// InitializeStudyRequest creates a study's recruitment aggregate.
type InitializeStudyRequest struct {
	StudyID             string `json:"study_id" validate:"required,max=64,excludesall=/"`
	TargetParticipants  int    `json:"target_participants" validate:"required,min=1,max=100000"`
	WaitlistCount       int    `json:"waitlist_count" validate:"min=0"`
	ReturningUsersCount int    `json:"returning_users_count" validate:"min=0"`
	WindowDurationHours int    `json:"window_duration_hours" validate:"min=0,max=720"`
}

// RecordEnrollmentRequest reports sign-ups captured by the open window.
// Non-positive counts are accepted here and reported as ignored.
type RecordEnrollmentRequest struct {
	Count int `json:"count"`
}

// RecordWaitlistGrowthRequest reports new waitlist sign-ups.
type RecordWaitlistGrowthRequest struct {
	Count          int `json:"count"`
	ReturningCount int `json:"returning_count"`
}

// EnterTrackingCodeRequest attaches a tracking number to a participant's shipment.
// Empty and oversized numbers are reported by the orchestrator as ignored.
type EnterTrackingCodeRequest struct {
	TrackingNumber string `json:"tracking_number"`
}

// StudyView is the operator console rendering of a study.
type StudyView struct {
	StudyID                       string                    `json:"study_id"`
	Status                        models.RecruitmentStatus  `json:"status"`
	TargetParticipants            int                       `json:"target_participants"`
	TotalEnrolled                 int                       `json:"total_enrolled"`
	RemainingCapacity             int                       `json:"remaining_capacity"`
	WaitlistCount                 int                       `json:"waitlist_count"`
	ReturningUsersCount           int                       `json:"returning_users_count"`
	NewUsersCount                 int                       `json:"new_users_count"`
	CurrentWindowEnrolled         int                       `json:"current_window_enrolled"`
	CurrentWindowOpenedAt         *time.Time                `json:"current_window_opened_at,omitempty"`
	CurrentWindowEndsAt           *time.Time                `json:"current_window_ends_at,omitempty"`
	WindowExpired                 bool                      `json:"window_expired"`
	WindowDurationHours           float64                   `json:"window_duration_hours"`
	CurrentCohort                 *models.Cohort            `json:"current_cohort,omitempty"`
	Cohorts                       []models.Cohort           `json:"cohorts"`
	WindowHistory                 []models.WindowSnapshot   `json:"window_history"`
	WaitlistHistory               []models.WaitlistSnapshot `json:"waitlist_history"`
	ConversionRate                float64                   `json:"conversion_rate"`
	ConversionRateEstimated       bool                      `json:"conversion_rate_estimated"`
	ProjectedNextWindowEnrollment int                       `json:"projected_next_window_enrollment"`
	CreatedAt                     time.Time                 `json:"created_at"`
	UpdatedAt                     time.Time                 `json:"updated_at"`
}

// StudySummary is a list row for the studies index.
type StudySummary struct {
	StudyID                 string                   `json:"study_id"`
	Status                  models.RecruitmentStatus `json:"status"`
	TargetParticipants      int                      `json:"target_participants"`
	TotalEnrolled           int                      `json:"total_enrolled"`
	WaitlistCount           int                      `json:"waitlist_count"`
	CurrentWindowEndsAt     *time.Time               `json:"current_window_ends_at,omitempty"`
	ConversionRate          float64                  `json:"conversion_rate"`
	ConversionRateEstimated bool                     `json:"conversion_rate_estimated"`
	UpdatedAt               time.Time                `json:"updated_at"`
}
