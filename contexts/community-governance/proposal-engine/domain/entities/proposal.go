package entities

import "time"

type ProposalStatus string

const (
	ProposalStatusActive ProposalStatus = "active"
	ProposalStatusPassed ProposalStatus = "passed"
	ProposalStatusFailed ProposalStatus = "failed"
	// ProposalStatusExecuted is reachable only through the external on-chain
	// execution flow after a proposal has passed. The engine never sets it.
	ProposalStatusExecuted ProposalStatus = "executed"
)

type ProposalType string

const (
	ProposalTypeGeneral    ProposalType = "general"
	ProposalTypeTreasury   ProposalType = "treasury"
	ProposalTypeMembership ProposalType = "membership"
	ProposalTypeTechnical  ProposalType = "technical"
)

const (
	MinVotingDurationHours = 1
	MaxVotingDurationHours = 168
)

// Tally is the running weight triple for a proposal. Weights are integer
// units so YesWeight + NoWeight == TotalWeight holds exactly.
type Tally struct {
	YesWeight   int64
	NoWeight    int64
	TotalWeight int64
}

type Proposal struct {
	ProposalID       string
	CommunityID      string
	AuthorID         string
	Title            string
	Description      string
	Type             ProposalType
	VotingStartsAt   time.Time
	VotingEndsAt     time.Time
	RequiredQuorum   int
	PassingThreshold int
	Status           ProposalStatus
	YesWeight        int64
	NoWeight         int64
	TotalWeight      int64
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (p Proposal) Tally() Tally {
	return Tally{
		YesWeight:   p.YesWeight,
		NoWeight:    p.NoWeight,
		TotalWeight: p.TotalWeight,
	}
}

// Terminal reports whether the proposal can no longer accept votes.
func (p Proposal) Terminal() bool {
	return p.Status != ProposalStatusActive
}

// WindowExpired reports whether the voting window has closed. The window is
// fixed at creation time and never extended.
func (p Proposal) WindowExpired(now time.Time) bool {
	return now.UTC().After(p.VotingEndsAt.UTC())
}

func ValidProposalType(value ProposalType) bool {
	switch value {
	case ProposalTypeGeneral, ProposalTypeTreasury, ProposalTypeMembership, ProposalTypeTechnical:
		return true
	default:
		return false
	}
}
