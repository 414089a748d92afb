package weights

import (
	"context"
	"fmt"

	"agora/contexts/community-governance/proposal-engine/domain/entities"
	"agora/contexts/community-governance/proposal-engine/ports"
)

// Resolver maps a community's voting power mode to a concrete weight.
// Equal mode needs no external lookup; the weighted modes read the member's
// holdings from the balance source at cast time, which freezes the weight
// into the vote.
type Resolver struct {
	Balances ports.BalanceSource
}

func NewResolver(balances ports.BalanceSource) *Resolver {
	return &Resolver{Balances: balances}
}

func (r *Resolver) ResolveWeight(
	ctx context.Context,
	communityID string,
	userID string,
	mode entities.VotingPowerMode,
) (int64, error) {
	switch mode {
	case entities.VotingPowerEqual, "":
		return 1, nil
	case entities.VotingPowerTokenWeighted:
		if r.Balances == nil {
			return 0, fmt.Errorf("balance source not configured for mode %q", mode)
		}
		balance, err := r.Balances.TokenBalance(ctx, communityID, userID)
		if err != nil {
			return 0, err
		}
		return clampWeight(balance), nil
	case entities.VotingPowerNFTWeighted:
		if r.Balances == nil {
			return 0, fmt.Errorf("balance source not configured for mode %q", mode)
		}
		count, err := r.Balances.NFTCount(ctx, communityID, userID)
		if err != nil {
			return 0, err
		}
		return clampWeight(count), nil
	default:
		return 0, fmt.Errorf("unknown voting power mode %q", mode)
	}
}

func clampWeight(value int64) int64 {
	if value < 0 {
		return 0
	}
	return value
}

var _ ports.WeightResolver = (*Resolver)(nil)
