package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pocketsync/pocketsync/pkg/models"
)

func (db *DB) createSyncStatesTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS sync_states (
		provider TEXT PRIMARY KEY,
		credential TEXT NOT NULL DEFAULT '',
		is_valid BOOLEAN NOT NULL DEFAULT 1,
		last_sync TEXT,
		sync_interval INTEGER NOT NULL DEFAULT 0,
		sync_times TEXT NOT NULL DEFAULT '',
		sync_timezone TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)
	`

	_, err := db.Exec(query)
	if err != nil {
		return fmt.Errorf("failed to create sync_states table: %w", err)
	}
	return nil
}

// GetSyncState retrieves the connection record for an aggregator, or nil if
// the aggregator was never linked.
func (db *DB) GetSyncState(provider models.AggregatorKind) (*models.SyncState, error) {
	query := `
	SELECT provider, credential, is_valid, last_sync, sync_interval, sync_times, sync_timezone
	FROM sync_states
	WHERE provider = ?
	LIMIT 1
	`
	var state models.SyncState
	var lastSync sql.NullString
	var intervalSecs int64
	var times string

	err := db.QueryRow(query, provider).Scan(
		&state.Provider,
		&state.Credential,
		&state.Valid,
		&lastSync,
		&intervalSecs,
		&times,
		&state.Schedule.Timezone,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("failed to get sync state: %w", err)
	}

	if lastSync.Valid && lastSync.String != "" {
		t, err := time.Parse(time.RFC3339, lastSync.String)
		if err != nil {
			return nil, fmt.Errorf("failed to parse last_sync %q: %w", lastSync.String, err)
		}
		state.LastSync = &t
	}
	state.Schedule.Interval = time.Duration(intervalSecs) * time.Second
	if times != "" {
		if err := json.Unmarshal([]byte(times), &state.Schedule.DailyTimes); err != nil {
			return nil, fmt.Errorf("failed to parse sync_times %q: %w", times, err)
		}
	}
	return &state, nil
}

// UpsertSyncState creates or replaces the connection record for an aggregator.
// Re-linking resets the validity flag.
func (db *DB) UpsertSyncState(state *models.SyncState) error {
	var times string
	if len(state.Schedule.DailyTimes) > 0 {
		encoded, err := json.Marshal(state.Schedule.DailyTimes)
		if err != nil {
			return fmt.Errorf("failed to encode sync times: %w", err)
		}
		times = string(encoded)
	}

	var lastSync any
	if state.LastSync != nil {
		lastSync = state.LastSync.UTC().Format(time.RFC3339)
	}

	query := `
	INSERT INTO sync_states (provider, credential, is_valid, last_sync, sync_interval, sync_times, sync_timezone)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(provider)
	DO UPDATE SET
		credential = excluded.credential,
		is_valid = excluded.is_valid,
		sync_interval = excluded.sync_interval,
		sync_times = excluded.sync_times,
		sync_timezone = excluded.sync_timezone
	`
	_, err := db.Exec(query,
		state.Provider, state.Credential, state.Valid, lastSync,
		int64(state.Schedule.Interval/time.Second), times, state.Schedule.Timezone)
	if err != nil {
		return fmt.Errorf("failed to upsert sync state: %w", err)
	}
	return nil
}

// SetSyncStateValid flips the credential validity flag.
func (db *DB) SetSyncStateValid(provider models.AggregatorKind, valid bool) error {
	_, err := db.Exec(`UPDATE sync_states SET is_valid = ? WHERE provider = ?`, valid, provider)
	if err != nil {
		return fmt.Errorf("failed to update sync state validity: %w", err)
	}
	return nil
}

// UpdateLastSync records the connection-level timestamp of the last completed
// poll.
func (db *DB) UpdateLastSync(provider models.AggregatorKind, t time.Time) error {
	_, err := db.Exec(`UPDATE sync_states SET last_sync = ? WHERE provider = ?`,
		t.UTC().Format(time.RFC3339), provider)
	if err != nil {
		return fmt.Errorf("failed to update last sync: %w", err)
	}
	return nil
}

// DeleteSyncState removes a connection and cascades to every tracked account
// under it along with their transaction history.
func (db *DB) DeleteSyncState(provider models.AggregatorKind) error {
	accounts, err := db.GetTrackedAccounts()
	if err != nil {
		return err
	}
	for _, a := range accounts {
		if a.Provider != provider {
			continue
		}
		if err := db.DeleteTrackedAccount(provider, a.ExternalID); err != nil {
			return err
		}
	}
	if _, err := db.Exec(`DELETE FROM sync_states WHERE provider = ?`, provider); err != nil {
		return fmt.Errorf("failed to delete sync state: %w", err)
	}
	return nil
}
