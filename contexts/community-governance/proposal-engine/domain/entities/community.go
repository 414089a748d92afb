package entities

type VotingPowerMode string

const (
	VotingPowerEqual         VotingPowerMode = "equal"
	VotingPowerTokenWeighted VotingPowerMode = "token_weighted"
	VotingPowerNFTWeighted   VotingPowerMode = "nft_weighted"
)

// Capabilities the engine checks against the membership projection.
const (
	CapabilityCreateProposals = "create_proposals"
	CapabilityVote            = "vote"
)

// KnownCapabilities is used by cache adapters to invalidate every
// capability key for a member in one pass.
var KnownCapabilities = []string{
	CapabilityCreateProposals,
	CapabilityVote,
}

func ValidVotingPowerMode(value VotingPowerMode) bool {
	switch value {
	case VotingPowerEqual, VotingPowerTokenWeighted, VotingPowerNFTWeighted:
		return true
	default:
		return false
	}
}
