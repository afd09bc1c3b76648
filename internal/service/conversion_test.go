package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/noah-isme/cohort-recruitment-api/internal/models"
)

func TestConversionRateRatioOfTotals(t *testing.T) {
	rate, estimated := ConversionRate([]models.WindowSnapshot{
		{WaitlistAtOpen: 50, Enrolled: 20},
		{WaitlistAtOpen: 100, Enrolled: 40},
	})
	assert.InDelta(t, 0.4, rate, 1e-9)
	assert.False(t, estimated)
}

func TestConversionRateIsNotMeanOfRatios(t *testing.T) {
	// Per-window ratios are 0.5 and 0.1; their mean would be 0.3.
	rate, _ := ConversionRate([]models.WindowSnapshot{
		{WaitlistAtOpen: 10, Enrolled: 5},
		{WaitlistAtOpen: 90, Enrolled: 9},
	})
	assert.InDelta(t, 0.14, rate, 1e-9)
}

func TestConversionRateDefaults(t *testing.T) {
	rate, estimated := ConversionRate(nil)
	assert.Equal(t, models.DefaultConversionRate, rate)
	assert.True(t, estimated)

	rate, estimated = ConversionRate([]models.WindowSnapshot{{WaitlistAtOpen: 0, Enrolled: 3}})
	assert.Equal(t, models.DefaultConversionRate, rate)
	assert.True(t, estimated)
}

func TestForecastNextWindow(t *testing.T) {
	state := &models.StudyRecruitmentState{
		Status:             models.RecruitmentStatusReadyToOpen,
		TargetParticipants: 100,
		TotalEnrolled:      90,
		WaitlistCount:      80,
		ConversionRate:     0.35,
	}
	assert.Equal(t, 10, ForecastNextWindow(state))

	state.TotalEnrolled = 10
	assert.Equal(t, 28, ForecastNextWindow(state))

	state.Status = models.RecruitmentStatusComplete
	assert.Equal(t, 0, ForecastNextWindow(state))
	assert.Equal(t, 0, ForecastNextWindow(nil))
}

func TestClosedWindowsSkipsOpenEntry(t *testing.T) {
	closedAt := time.Now()
	history := []models.WindowSnapshot{
		{WaitlistAtOpen: 10, Enrolled: 4, ClosedAt: &closedAt},
		{WaitlistAtOpen: 20},
	}
	assert.Len(t, closedWindows(history), 1)
}
