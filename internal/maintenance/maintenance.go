// Package maintenance provides run-and-exit housekeeping tasks for the
// match history database.
package maintenance

import (
	"time"

	"github.com/rs/zerolog/log"
	"github.com/woozymasta/muster/internal/config"
	"github.com/woozymasta/muster/internal/storage"
)

// Run checks if any maintenance flags are set and executes the corresponding
// tasks. Returns true if a task was executed (indicating the program should
// exit instead of serving).
func Run(cfg *config.Config, store *storage.Repository) bool {
	if cfg.Storage.PruneBefore <= 0 {
		return false
	}

	cutoff := time.Now().Add(-cfg.Storage.PruneBefore)
	log.Info().Time("cutoff", cutoff).Msg("Pruning match history...")

	count, err := store.PruneBefore(cutoff)
	if err != nil {
		log.Error().Err(err).Msg("Failed to prune match history")
	} else {
		log.Info().Int64("deleted", count).Msg("Prune finished")
	}

	return true
}
