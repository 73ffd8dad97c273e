package services

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pocketsync/pocketsync/pkg/models"
	"github.com/pocketsync/pocketsync/pkg/syncerr"
)

func gateAt(t time.Time) *ScheduleGate {
	return &ScheduleGate{now: func() time.Time { return t }}
}

func dailyState(times []string, tz string) *models.SyncState {
	return &models.SyncState{
		Provider: models.AggregatorSimpleFin,
		Valid:    true,
		Schedule: models.Schedule{DailyTimes: times, Timezone: tz},
	}
}

func TestGateDailyWindowWithRefireSuppression(t *testing.T) {
	state := dailyState([]string{"14:00"}, "UTC")

	// 13:58 is inside the 5 minute window and nothing has polled yet.
	first := time.Date(2026, 8, 30, 13, 58, 0, 0, time.UTC)
	due, reason := gateAt(first).IsDue(state, nil)
	assert.True(t, due, reason)

	// One minute later the account just polled, so the same window must not
	// fire again.
	second := first.Add(time.Minute)
	due, reason = gateAt(second).IsDue(state, &first)
	assert.False(t, due, reason)

	// Well past the suppression gap but outside the window: still not due.
	later := time.Date(2026, 8, 30, 15, 0, 0, 0, time.UTC)
	due, _ = gateAt(later).IsDue(state, &first)
	assert.False(t, due)
}

func TestGateDailyWindowDayWrap(t *testing.T) {
	state := dailyState([]string{"23:58"}, "UTC")

	// 00:01 the next day is 3 wrapped minutes from 23:58.
	now := time.Date(2026, 8, 31, 0, 1, 0, 0, time.UTC)
	due, reason := gateAt(now).IsDue(state, nil)
	assert.True(t, due, reason)

	noon := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	due, _ = gateAt(noon).IsDue(state, nil)
	assert.False(t, due)
}

func TestGateDailyWindowHonorsTimezone(t *testing.T) {
	state := dailyState([]string{"09:00"}, "America/New_York")

	// 13:00 UTC is 09:00 in New York during DST.
	now := time.Date(2026, 7, 15, 13, 0, 0, 0, time.UTC)
	due, reason := gateAt(now).IsDue(state, nil)
	assert.True(t, due, reason)
}

func TestGateIntervalMode(t *testing.T) {
	state := &models.SyncState{
		Provider: models.AggregatorLunchFlow,
		Valid:    true,
		Schedule: models.Schedule{Interval: 30 * time.Minute},
	}
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

	due, reason := gateAt(now).IsDue(state, nil)
	assert.True(t, due)
	assert.Equal(t, "never polled", reason)

	recent := now.Add(-10 * time.Minute)
	due, _ = gateAt(now).IsDue(state, &recent)
	assert.False(t, due)

	stale := now.Add(-31 * time.Minute)
	due, _ = gateAt(now).IsDue(state, &stale)
	assert.True(t, due)
}

func TestGateDefaultInterval(t *testing.T) {
	state := &models.SyncState{Provider: models.AggregatorLunchFlow, Valid: true}
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

	halfHour := now.Add(-30 * time.Minute)
	due, _ := gateAt(now).IsDue(state, &halfHour)
	assert.False(t, due)

	overAnHour := now.Add(-61 * time.Minute)
	due, _ = gateAt(now).IsDue(state, &overAnHour)
	assert.True(t, due)
}

func TestGateFailsOpenOnBadSchedule(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	overAnHour := now.Add(-61 * time.Minute)

	// Unknown timezone degrades to interval scheduling rather than halting.
	state := dailyState([]string{"14:00"}, "Not/AZone")
	due, _ := gateAt(now).IsDue(state, &overAnHour)
	assert.True(t, due)

	// Malformed clock time does the same.
	state = dailyState([]string{"25:99x"}, "UTC")
	due, _ = gateAt(now).IsDue(state, &overAnHour)
	assert.True(t, due)

	recent := now.Add(-5 * time.Minute)
	due, _ = gateAt(now).IsDue(state, &recent)
	assert.False(t, due)
}

func TestGateDegradationCarriesScheduleConfigError(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

	for _, state := range []*models.SyncState{
		dailyState([]string{"14:00"}, "Not/AZone"),
		dailyState([]string{"25:99x"}, "UTC"),
	} {
		_, _, err := gateAt(now).dueByDailyTimes(state, nil, now)
		require.Error(t, err)
		assert.True(t, errors.Is(err, syncerr.ErrScheduleConfig), err.Error())
	}
}

func TestParseClock(t *testing.T) {
	minutes, err := parseClock("14:30")
	assert.NoError(t, err)
	assert.Equal(t, 14*60+30, minutes)

	for _, bad := range []string{"", "14", "24:00", "12:60", "ab:cd"} {
		_, err := parseClock(bad)
		assert.Error(t, err, bad)
	}
}
