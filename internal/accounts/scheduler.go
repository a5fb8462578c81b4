package accounts

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Scheduler periodically re-syncs every account currently marked connected.
// The gateway is a single slot, so the sweep is strictly serial and each sync
// evicts the previous account's session; sweep duration grows linearly with
// account count and broker login latency. With the default interval of a few
// seconds, more than a handful of connected accounts will make sweeps overlap
// their interval — keep N small or raise the interval.
type Scheduler struct {
	db       *Database
	sync     *SyncService
	interval time.Duration
}

func NewScheduler(db *Database, sync *SyncService, interval time.Duration) *Scheduler {
	return &Scheduler{db: db, sync: sync, interval: interval}
}

// Start runs the sweep loop until ctx is cancelled. Launch as a goroutine.
func (s *Scheduler) Start(ctx context.Context) {
	logger := log.With().Str("component", "sync_scheduler").Logger()
	logger.Info().Dur("interval", s.interval).Msg("starting sync scheduler")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down sync scheduler")
			return
		case <-ticker.C:
			s.Sweep(logger)
		}
	}
}

// Sweep syncs all connected accounts once, in sequence. A failure on one
// account marks it errored and moves on; it never aborts the sweep.
func (s *Scheduler) Sweep(logger zerolog.Logger) {
	accounts, err := s.db.ListAccountsByStatus(StatusConnected)
	if err != nil {
		logger.Error().Err(err).Msg("failed to load connected accounts")
		return
	}

	for i := range accounts {
		account := accounts[i]
		if err := s.sync.SyncAccount(&account); err != nil {
			logger.Warn().Err(err).Uint("account_id", account.ID).Msg("sweep sync failed")
		}
	}

	if len(accounts) > 0 {
		logger.Debug().Int("count", len(accounts)).Msg("sweep complete")
	}
}
