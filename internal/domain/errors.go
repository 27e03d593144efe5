package domain

import "errors"

// Market operation failures. Every one of these aborts the call that raised
// it with no state change and no fund movement.
var (
	ErrDeadlinePassed     = errors.New("deadline passed")
	ErrTooEarly           = errors.New("too early")
	ErrWagerMismatch      = errors.New("wager does not match fixed wager")
	ErrDuplicateCommit    = errors.New("participant has already committed")
	ErrInvalidChoice      = errors.New("choice is not yes or no")
	ErrCommitmentMismatch = errors.New("hash does not match commitment")
	ErrAlreadyRevealed    = errors.New("prediction has already been revealed")
	ErrAuthorization      = errors.New("authorization failed")
	ErrInvalidClaim       = errors.New("invalid claim")
	ErrAlreadyClaimed     = errors.New("winnings already claimed")
	ErrEmptyCommitment    = errors.New("commitment must not be empty")
	ErrNotCommitted       = errors.New("participant has no commitment")
)

// Infrastructure and configuration failures.
var (
	ErrNotFound         = errors.New("not found")
	ErrInvalidMarket    = errors.New("invalid market parameters")
	ErrStalePrice       = errors.New("price reading is stale")
	ErrCustodyShortfall = errors.New("custody balance below payout")
	ErrOutcomeLatched   = errors.New("outcome already latched")
	ErrLockHeld         = errors.New("lock already held")
)
