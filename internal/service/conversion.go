package service

import (
	"math"

	"github.com/noah-isme/cohort-recruitment-api/internal/models"
)

// ConversionRate returns the share of waitlisted people who enrolled across all
// recorded windows, as a ratio of totals: sum(enrolled) / sum(waitlistAtOpen).
// Larger windows therefore weigh more than smaller ones. Without usable history
// the DefaultConversionRate prior is returned and estimated is true.
func ConversionRate(history []models.WindowSnapshot) (rate float64, estimated bool) {
	var waitlist, enrolled int
	for _, w := range history {
		waitlist += w.WaitlistAtOpen
		enrolled += w.Enrolled
	}
	if len(history) == 0 || waitlist == 0 {
		return models.DefaultConversionRate, true
	}
	return float64(enrolled) / float64(waitlist), false
}

// ForecastNextWindow projects how many people the next window would enroll
// given the current waitlist and conversion rate, capped by remaining capacity.
func ForecastNextWindow(state *models.StudyRecruitmentState) int {
	if state == nil || state.Status == models.RecruitmentStatusComplete {
		return 0
	}
	projected := int(math.Floor(float64(state.WaitlistCount) * state.ConversionRate))
	if remaining := state.RemainingCapacity(); projected > remaining {
		projected = remaining
	}
	if projected < 0 {
		return 0
	}
	return projected
}

func closedWindows(history []models.WindowSnapshot) []models.WindowSnapshot {
	closed := make([]models.WindowSnapshot, 0, len(history))
	for _, w := range history {
		if w.ClosedAt != nil {
			closed = append(closed, w)
		}
	}
	return closed
}
