package auction

import (
	"errors"
	"fmt"
)

var (
	// ErrPreconditionViolation marks a programming-contract breach: acting
	// on a player that is not up for auction, or moving past the end.
	ErrPreconditionViolation = errors.New("auction: precondition violation")

	// ErrAuctionComplete is returned when there is no current player.
	ErrAuctionComplete = fmt.Errorf("%w: auction is complete", ErrPreconditionViolation)

	ErrPlayerNotFound    = errors.New("auction: player not found")
	ErrTeamNotFound      = errors.New("auction: team not found")
	ErrRoleMismatch      = errors.New("auction: role does not match player")
	ErrResetNotConfirmed = errors.New("auction: reset requires explicit confirmation")
	ErrClearNotConfirmed = errors.New("auction: clear requires explicit confirmation")
)

// PersistenceError reports that the store did not accept a change. The
// in-memory ledger has been reverted, so the operation can be retried.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("auction: %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// Retryable is always true; persistence failures leave no partial state.
func (e *PersistenceError) Retryable() bool {
	return true
}
