package services

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/pocketsync/pocketsync/pkg/models"
	"github.com/pocketsync/pocketsync/pkg/syncerr"
)

const (
	// dueWindow is how far from a configured daily time the gate still
	// considers the account due.
	dueWindow = 5 * time.Minute
	// refireSuppression keeps one configured time from firing twice while the
	// wake loop crosses its window.
	refireSuppression = 10 * time.Minute

	minutesPerDay = 24 * 60
)

// ScheduleGate decides whether an account is due for a poll. It is a pure
// read; the caller records poll times after the poll attempt completes.
type ScheduleGate struct {
	now func() time.Time
}

func NewScheduleGate() *ScheduleGate {
	return &ScheduleGate{now: time.Now}
}

// IsDue reports whether an account under the given connection is due, plus a
// human-readable reason for logs. lastPoll is the account's last poll time,
// nil if it has never been polled.
func (g *ScheduleGate) IsDue(state *models.SyncState, lastPoll *time.Time) (bool, string) {
	now := g.now()

	if state != nil && len(state.Schedule.DailyTimes) > 0 {
		due, reason, err := g.dueByDailyTimes(state, lastPoll, now)
		if err == nil {
			return due, reason
		}
		// Polling must never silently stop on a bad schedule, so degrade to
		// interval mode with the default interval.
		log.Warn().Err(err).
			Str("provider", string(state.Provider)).
			Msg("Schedule configuration unreadable, falling back to interval scheduling")
	}

	interval := models.DefaultSyncInterval
	if state != nil {
		interval = state.Schedule.IntervalOrDefault()
	}
	if lastPoll == nil {
		return true, "never polled"
	}
	if elapsed := now.Sub(*lastPoll); elapsed >= interval {
		return true, fmt.Sprintf("interval elapsed (%s >= %s)", elapsed.Round(time.Second), interval)
	}
	return false, "interval not elapsed"
}

func (g *ScheduleGate) dueByDailyTimes(state *models.SyncState, lastPoll *time.Time, now time.Time) (bool, string, error) {
	loc := time.UTC
	if tz := state.Schedule.Timezone; tz != "" {
		var err error
		loc, err = time.LoadLocation(tz)
		if err != nil {
			return false, "", fmt.Errorf("%w: unknown timezone %q: %w", syncerr.ErrScheduleConfig, tz, err)
		}
	}

	local := now.In(loc)
	nowMinute := local.Hour()*60 + local.Minute()

	for _, daily := range state.Schedule.DailyTimes {
		target, err := parseClock(daily)
		if err != nil {
			return false, "", fmt.Errorf("%w: %w", syncerr.ErrScheduleConfig, err)
		}
		diff := nowMinute - target
		if diff < 0 {
			diff = -diff
		}
		// Wrapped difference so a 23:58 schedule matches at 00:01
		if wrapped := minutesPerDay - diff; wrapped < diff {
			diff = wrapped
		}
		if time.Duration(diff)*time.Minute > dueWindow {
			continue
		}
		if lastPoll != nil && now.Sub(*lastPoll) <= refireSuppression {
			return false, fmt.Sprintf("within window of %s but polled %s ago", daily, now.Sub(*lastPoll).Round(time.Second)), nil
		}
		return true, fmt.Sprintf("within window of %s", daily), nil
	}
	return false, "outside all scheduled windows", nil
}

// parseClock parses an "HH:MM" wall-clock time into minutes since midnight.
func parseClock(s string) (int, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("malformed schedule time %q", s)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, fmt.Errorf("malformed schedule time %q: %w", s, err)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, fmt.Errorf("malformed schedule time %q: %w", s, err)
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, fmt.Errorf("schedule time %q out of range", s)
	}
	return hour*60 + minute, nil
}
