package http

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type CreateProposalRequest struct {
	CommunityID         string `json:"community_id"`
	Title               string `json:"title"`
	Description         string `json:"description,omitempty"`
	ProposalType        string `json:"proposal_type,omitempty"`
	VotingDurationHours int    `json:"voting_duration_hours"`
	RequiredQuorum      int    `json:"required_quorum,omitempty"`
	PassingThreshold    int    `json:"passing_threshold,omitempty"`
}

type ProposalResponse struct {
	ProposalID       string `json:"proposal_id"`
	CommunityID      string `json:"community_id"`
	AuthorID         string `json:"author_id"`
	Title            string `json:"title"`
	Description      string `json:"description,omitempty"`
	ProposalType     string `json:"proposal_type"`
	VotingStartsAt   string `json:"voting_starts_at"`
	VotingEndsAt     string `json:"voting_ends_at"`
	RequiredQuorum   int    `json:"required_quorum"`
	PassingThreshold int    `json:"passing_threshold"`
	Status           string `json:"status"`
	YesWeight        int64  `json:"yes_weight"`
	NoWeight         int64  `json:"no_weight"`
	TotalWeight      int64  `json:"total_weight"`
	Replayed         bool   `json:"replayed,omitempty"`
}

type CastVoteRequest struct {
	Choice string `json:"choice"`
}

type CastVoteResponse struct {
	VoteID      string `json:"vote_id"`
	ProposalID  string `json:"proposal_id"`
	CommunityID string `json:"community_id"`
	VoterID     string `json:"voter_id"`
	Choice      string `json:"choice"`
	Weight      int64  `json:"weight"`
	Status      string `json:"status"`
	YesWeight   int64  `json:"yes_weight"`
	NoWeight    int64  `json:"no_weight"`
	TotalWeight int64  `json:"total_weight"`
	Resolved    bool   `json:"resolved"`
}

type VoteItem struct {
	VoteID    string `json:"vote_id"`
	VoterID   string `json:"voter_id"`
	Choice    string `json:"choice"`
	Weight    int64  `json:"weight"`
	CreatedAt string `json:"created_at"`
}

type ProposalVotesResponse struct {
	ProposalID  string     `json:"proposal_id"`
	Status      string     `json:"status"`
	YesWeight   int64      `json:"yes_weight"`
	NoWeight    int64      `json:"no_weight"`
	TotalWeight int64      `json:"total_weight"`
	Votes       []VoteItem `json:"votes"`
}

type ProposalListResponse struct {
	Items []ProposalResponse `json:"items"`
}
