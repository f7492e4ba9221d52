package vault

import "errors"

// Sentinel errors for action validation failures. Wrapped with context at
// the call site; callers classify with errors.Is.
var (
	// ErrAuthorization: caller lacks the capability the action requires
	ErrAuthorization = errors.New("caller not authorized")

	// ErrInvalidStatus: action not allowed in the current lifecycle state
	ErrInvalidStatus = errors.New("action not allowed in current status")

	// ErrPaused: mutating actions suspended by a pauser
	ErrPaused = errors.New("vault is paused")

	// ErrRatioViolation: a tranche would fall below its subordination floor
	ErrRatioViolation = errors.New("tranche min ratio not met")

	// ErrInsufficientFunds: liquid balance cannot cover the transfer
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrOverpayment: repaid principal exceeds outstanding principal
	ErrOverpayment = errors.New("principal overpayment")

	// ErrDecimalsMismatch: tranche precision differs from the asset
	ErrDecimalsMismatch = errors.New("decimals mismatch")

	// ErrIndexOutOfBounds: tranche index outside the configured range
	ErrIndexOutOfBounds = errors.New("tranche index out of bounds")

	// ErrMinimumSizeNotReached: aggregate deposits below the start floor
	ErrMinimumSizeNotReached = errors.New("minimum size not reached")

	// ErrInvalidConfig: rejected at construction time
	ErrInvalidConfig = errors.New("invalid vault configuration")
)
