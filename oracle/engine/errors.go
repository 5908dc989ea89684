package engine

import "github.com/pkg/errors"

var (
	// ErrInvalidThreshold is returned when a request's threshold is zero or
	// larger than its subcommittee size.
	ErrInvalidThreshold = errors.New("invalid threshold")
	// ErrIncorrectDeposit is returned when the attached value differs from
	// maxPerAgentFee times the subcommittee size.
	ErrIncorrectDeposit = errors.New("incorrect deposit")
	// ErrPayloadTooLarge is returned when a request payload exceeds the
	// configured event size bound.
	ErrPayloadTooLarge = errors.New("payload too large")
	// ErrRequestNotFound is returned when no live slot carries the id.
	ErrRequestNotFound = errors.New("request not found")
	// ErrNotSubcommitteeMember is returned when a responder was not elected
	// for the request.
	ErrNotSubcommitteeMember = errors.New("not a subcommittee member")
	// ErrRequestTimedOut is returned when a response arrives past the
	// request deadline.
	ErrRequestTimedOut = errors.New("request timed out")
	// ErrAlreadyResponded is returned on a second response from the same
	// validator.
	ErrAlreadyResponded = errors.New("validator already responded")
	// ErrAlreadyFinalized is returned by TimeoutRequest on a settled slot.
	ErrAlreadyFinalized = errors.New("request already finalized")
	// ErrNotYetTimedOut is returned by TimeoutRequest before the deadline.
	ErrNotYetTimedOut = errors.New("request not yet timed out")
	// ErrNotOwner guards the tuning setters.
	ErrNotOwner = errors.New("caller is not the owner")
	// ErrInvalidShares is returned when the payout split does not sum to
	// 10_000 basis points.
	ErrInvalidShares = errors.New("shares must sum to 10000 bps")
)
