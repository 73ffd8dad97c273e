package models

import "time"

// DefaultSyncInterval is used when a connection has no schedule configured.
const DefaultSyncInterval = time.Hour

// Schedule describes when a connection's accounts are due for a poll: either a
// set of daily wall-clock times in a timezone, or a fixed interval.
type Schedule struct {
	// DailyTimes holds "HH:MM" wall-clock times in Timezone. When non-empty,
	// time-of-day scheduling takes precedence over Interval.
	DailyTimes []string
	// Timezone is an IANA zone name; UTC when empty.
	Timezone string
	// Interval between polls in interval mode; DefaultSyncInterval when zero.
	Interval time.Duration
}

// IntervalOrDefault returns the configured interval, falling back to the
// default so polling never silently stops on a zero value.
func (s Schedule) IntervalOrDefault() time.Duration {
	if s.Interval <= 0 {
		return DefaultSyncInterval
	}
	return s.Interval
}

// SyncState is the shared connection-level record for one aggregator
// integration: a single credential covers every TrackedAccount of that kind.
type SyncState struct {
	Provider AggregatorKind
	// Credential is the SimpleFin access URL or the LunchFlow API key.
	Credential string
	// Valid flips to false when the aggregator rejects the credential; syncing
	// is suspended until the user re-supplies one.
	Valid    bool
	LastSync *time.Time
	Schedule Schedule
}
