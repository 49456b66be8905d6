package maintenance

import (
	"context"
	"time"

	"confirm-gate/internal/account"
	"confirm-gate/internal/confirm"
	"confirm-gate/internal/observability"
	"confirm-gate/internal/ratelimit"
)

// Scheduler owns the two background jobs: pruning expired tokens and reset
// tokens, and sweeping idle rate-limit windows. It stops when its context is
// cancelled, which the app runtime does on shutdown.
type Scheduler struct {
	store         *confirm.Store
	vault         *account.Vault
	limiters      []*ratelimit.Limiter
	logger        *observability.Logger
	pruneInterval time.Duration
	sweepInterval time.Duration
}

func NewScheduler(
	store *confirm.Store,
	vault *account.Vault,
	limiters []*ratelimit.Limiter,
	logger *observability.Logger,
	pruneInterval time.Duration,
	sweepInterval time.Duration,
) *Scheduler {
	if pruneInterval <= 0 {
		pruneInterval = time.Hour
	}
	if sweepInterval <= 0 {
		sweepInterval = 5 * time.Minute
	}

	return &Scheduler{
		store:         store,
		vault:         vault,
		limiters:      limiters,
		logger:        logger,
		pruneInterval: pruneInterval,
		sweepInterval: sweepInterval,
	}
}

func (s *Scheduler) Run(ctx context.Context) {
	pruneTicker := time.NewTicker(s.pruneInterval)
	defer pruneTicker.Stop()
	sweepTicker := time.NewTicker(s.sweepInterval)
	defer sweepTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-pruneTicker.C:
			s.Prune()
		case <-sweepTicker.C:
			s.Sweep()
		}
	}
}

// Prune removes expired tokens and reset tokens past their grace windows.
func (s *Scheduler) Prune() PruneResult {
	result := PruneResult{}

	tokens, err := s.store.Prune()
	result.PrunedTokens = tokens
	if err != nil {
		s.logger.Error("token_prune_failed", map[string]any{"error": err.Error()})
	}

	resets, err := s.vault.PruneResets()
	result.PrunedResetTokens = resets
	if err != nil {
		s.logger.Error("reset_prune_failed", map[string]any{"error": err.Error()})
	}

	if result.PrunedTokens > 0 || result.PrunedResetTokens > 0 {
		s.logger.Info("prune_completed", map[string]any{
			"pruned_tokens":       result.PrunedTokens,
			"pruned_reset_tokens": result.PrunedResetTokens,
		})
	}

	return result
}

// Sweep drops idle rate-limit windows across all limiters.
func (s *Scheduler) Sweep() int {
	now := time.Now().UTC()

	removed := 0
	for _, limiter := range s.limiters {
		removed += limiter.Sweep(now)
	}
	if removed > 0 {
		s.logger.Info("limiter_sweep_completed", map[string]any{"removed_windows": removed})
	}

	return removed
}

type PruneResult struct {
	PrunedTokens      int `json:"pruned_tokens"`
	PrunedResetTokens int `json:"pruned_reset_tokens"`
}
