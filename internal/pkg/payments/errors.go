package payments

import (
	"errors"

	"github.com/technovacao/registration/internal/pkg/capacity"
)

var (
	ErrEmptySelection   = errors.New("no members or robots selected for payment")
	ErrNotOwned         = errors.New("selection contains members or robots that do not belong to the team")
	ErrAlreadyPaid      = errors.New("selection contains members or robots that are already paid")
	ErrNotLeader        = errors.New("only the team leader can pay for the team")
	ErrInvalidRequest   = errors.New("invalid payment request")
	ErrProvider         = errors.New("payment provider error")
	ErrInvalidSignature = errors.New("invalid webhook signature")
)

// ErrCapacityExceeded is re-exported so callers of this package need not
// import capacity to classify checkout errors.
var ErrCapacityExceeded = capacity.ErrCapacityExceeded
