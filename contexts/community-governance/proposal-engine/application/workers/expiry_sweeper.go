package workers

import (
	"context"
	"log/slog"
	"time"

	application "agora/contexts/community-governance/proposal-engine/application"
	"agora/contexts/community-governance/proposal-engine/ports"
)

// ExpirySweeper settles active proposals whose voting window has closed.
// The lazy read-path sweep already guarantees the externally observable
// contract; this worker keeps the stored states fresh between reads so
// downstream consumers see proposal.resolved promptly.
type ExpirySweeper struct {
	Proposals ports.ProposalRepository
	Settler   application.Settler
	Clock     ports.Clock
	BatchSize int
	Disabled  bool
	Logger    *slog.Logger
}

func (e ExpirySweeper) RunOnce(ctx context.Context) error {
	logger := application.ResolveLogger(e.Logger)
	if e.Disabled {
		return nil
	}
	limit := e.BatchSize
	if limit <= 0 {
		limit = 100
	}
	now := time.Now().UTC()
	if e.Clock != nil {
		now = e.Clock.Now().UTC()
	}

	expired, err := e.Proposals.ListExpiredActive(ctx, now, limit)
	if err != nil {
		logger.Error("proposal expiry sweep list failed",
			"event", "governance_expiry_sweep_list_failed",
			"module", "community-governance/proposal-engine",
			"layer", "worker",
			"error", err.Error(),
		)
		return err
	}

	settled := 0
	for _, proposal := range expired {
		_, transitioned, err := e.Settler.SettleIfExpired(ctx, proposal)
		if err != nil {
			logger.Error("proposal expiry sweep settle failed",
				"event", "governance_expiry_sweep_settle_failed",
				"module", "community-governance/proposal-engine",
				"layer", "worker",
				"proposal_id", proposal.ProposalID,
				"error", err.Error(),
			)
			return err
		}
		if transitioned {
			settled++
		}
	}
	if settled > 0 {
		logger.Info("proposal expiry sweep completed",
			"event", "governance_expiry_sweep_completed",
			"module", "community-governance/proposal-engine",
			"layer", "worker",
			"settled_count", settled,
		)
	}
	return nil
}
