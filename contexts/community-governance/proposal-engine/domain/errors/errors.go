package errors

import "errors"

var (
	ErrInvalidProposalInput   = errors.New("invalid proposal input")
	ErrInvalidRange           = errors.New("proposal parameter out of range")
	ErrInvalidVoteInput       = errors.New("invalid vote input")
	ErrPermissionDenied       = errors.New("member lacks the required capability")
	ErrProposalNotFound       = errors.New("proposal not found")
	ErrProposalNotActive      = errors.New("proposal is already resolved")
	ErrVotingWindowClosed     = errors.New("voting window is closed")
	ErrDuplicateVote          = errors.New("member has already voted on this proposal")
	ErrVoteNotFound           = errors.New("vote not found")
	ErrCommunityNotFound      = errors.New("community not found")
	ErrStorageConflict        = errors.New("storage write lost a race")
	ErrIdempotencyKeyRequired = errors.New("idempotency key is required")
	ErrIdempotencyConflict    = errors.New("idempotency key conflict")
	ErrConflict               = errors.New("governance state conflict")
)
