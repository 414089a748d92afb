package services

import (
	"time"

	"agora/contexts/community-governance/proposal-engine/domain/entities"
)

// Resolve maps a proposal's tally, the community's current member count and
// the evaluation time to the proposal's next status. It is a pure function:
// callers persist the transition, and they must evaluate it inside the same
// atomic unit as the tally write that triggered it.
//
// Quorum is computed against the live member count, so participation can
// drift as membership changes after voting starts. A quorate proposal whose
// yes share meets the passing threshold resolves to passed immediately, even
// before the window closes. A proposal that never reaches quorum resolves to
// failed once the window has closed; otherwise resolution is deferred.
func Resolve(proposal entities.Proposal, memberCount int64, now time.Time) entities.ProposalStatus {
	if proposal.Terminal() {
		return proposal.Status
	}
	expired := proposal.WindowExpired(now)

	if !quorumReached(proposal, memberCount) {
		if expired {
			return entities.ProposalStatusFailed
		}
		return entities.ProposalStatusActive
	}

	if thresholdReached(proposal) {
		return entities.ProposalStatusPassed
	}
	if expired {
		return entities.ProposalStatusFailed
	}
	return entities.ProposalStatusActive
}

// quorumReached checks totalWeight / memberCount * 100 >= requiredQuorum in
// integer arithmetic: totalWeight * 100 >= requiredQuorum * memberCount.
// With no members on record, any cast weight counts as quorum.
func quorumReached(proposal entities.Proposal, memberCount int64) bool {
	if proposal.TotalWeight <= 0 {
		return false
	}
	if memberCount <= 0 {
		return true
	}
	return proposal.TotalWeight*100 >= int64(proposal.RequiredQuorum)*memberCount
}

// thresholdReached checks yesWeight / totalWeight * 100 >= passingThreshold.
// Callers guarantee totalWeight > 0 via quorumReached.
func thresholdReached(proposal entities.Proposal) bool {
	if proposal.TotalWeight <= 0 {
		return false
	}
	return proposal.YesWeight*100 >= int64(proposal.PassingThreshold)*proposal.TotalWeight
}
