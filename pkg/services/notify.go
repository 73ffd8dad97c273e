package services

import (
	"strings"

	"github.com/rs/zerolog/log"
)

// Notifier receives a summary after any poll cycle that stored new
// transactions. Delivery is an external concern; the core only emits the
// count and the affected account names.
type Notifier interface {
	NotifyNewTransactions(count int, accountNames []string)
}

// LogNotifier is the default sink, writing the summary to the process log.
type LogNotifier struct{}

func (LogNotifier) NotifyNewTransactions(count int, accountNames []string) {
	log.Info().
		Int("count", count).
		Str("accounts", strings.Join(accountNames, ", ")).
		Msg("New transactions stored")
}

var _ Notifier = LogNotifier{}
