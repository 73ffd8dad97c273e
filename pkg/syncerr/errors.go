// Package syncerr defines the error taxonomy shared by the aggregator clients,
// the reconciler, and the transfer executor. Callers branch with errors.Is.
package syncerr

import (
	"errors"
	"fmt"
)

var (
	// ErrCredentialInvalid means the aggregator rejected the stored credential.
	// The owning connection is suspended until a human re-links it.
	ErrCredentialInvalid = errors.New("aggregator credential rejected")

	// ErrFetchFailed is a transient fetch failure; the cycle for that
	// connection is aborted and retried on the next scheduled wake.
	ErrFetchFailed = errors.New("aggregator fetch failed")

	// ErrTransferFailed means the ledger service rejected a transfer. The
	// triggering transactions stay marked as seen; the balance safety net is
	// the recovery path.
	ErrTransferFailed = errors.New("ledger transfer failed")

	// ErrPartialTeardown means pocket funds were returned to checking but the
	// pocket itself could not be deleted. The account is marked
	// teardown-pending and teardown must be re-invoked.
	ErrPartialTeardown = errors.New("teardown partially completed")

	// ErrScheduleConfig means the schedule configuration could not be read or
	// parsed; the gate falls back to interval scheduling.
	ErrScheduleConfig = errors.New("schedule configuration unreadable")
)

// FetchFailed wraps err as a transient fetch failure.
func FetchFailed(err error) error {
	return fmt.Errorf("%w: %w", ErrFetchFailed, err)
}

// FetchFailedStatus builds a transient fetch failure from an HTTP status.
func FetchFailedStatus(status int, body string) error {
	return fmt.Errorf("%w: status %d: %s", ErrFetchFailed, status, body)
}

// TransferFailed wraps err as a rejected ledger transfer.
func TransferFailed(err error) error {
	return fmt.Errorf("%w: %w", ErrTransferFailed, err)
}
