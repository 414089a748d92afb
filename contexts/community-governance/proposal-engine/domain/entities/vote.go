package entities

import "time"

type VoteChoice string

const (
	VoteChoiceYes VoteChoice = "yes"
	VoteChoiceNo  VoteChoice = "no"
)

// Vote records one member's choice on one proposal. Weight is resolved once
// at cast time and never recomputed; votes are immutable after creation.
type Vote struct {
	VoteID      string
	ProposalID  string
	CommunityID string
	VoterID     string
	Choice      VoteChoice
	Weight      int64
	CreatedAt   time.Time
}

func ValidVoteChoice(value VoteChoice) bool {
	return value == VoteChoiceYes || value == VoteChoiceNo
}
