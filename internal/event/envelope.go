package event

import (
	"time"
)

// EventType discriminator for event payloads
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypeStatusChanged
	EventTypeDeposit
	EventTypeWithdraw
	EventTypeDisburse
	EventTypeRepay
	EventTypeStateUpdated
	EventTypeCheckpointUpdated
	EventTypeProtocolFeePaid
	EventTypeManagerFeePaid
	EventTypePaused
	EventTypeUnpaused
)

// Envelope wraps every event in the log
type Envelope struct {
	// Global monotonic sequence assigned by core
	Sequence int64

	// Vault the event belongs to
	VaultName string

	// Action counter value of the originating action
	ActionID uint64

	// Caller-supplied idempotency key of the originating action, empty
	// when the caller sent none
	ActionKey string

	// Event type discriminator
	EventType EventType

	// Versioned vault timestamp (NOT wall-clock)
	Timestamp time.Time

	// Event-specific data, JSON-encoded at the persistence and
	// publishing boundaries
	Payload Event

	// SHA-256 of state after the originating action
	StateHash [32]byte

	// Previous envelope's state hash (chain integrity)
	PrevHash [32]byte
}

// Event is the interface all event payloads must implement
type Event interface {
	// EventType returns the discriminator
	EventType() EventType
}

func (et EventType) String() string {
	switch et {
	case EventTypeStatusChanged:
		return "StatusChanged"
	case EventTypeDeposit:
		return "Deposit"
	case EventTypeWithdraw:
		return "Withdraw"
	case EventTypeDisburse:
		return "Disburse"
	case EventTypeRepay:
		return "Repay"
	case EventTypeStateUpdated:
		return "StateUpdated"
	case EventTypeCheckpointUpdated:
		return "CheckpointUpdated"
	case EventTypeProtocolFeePaid:
		return "ProtocolFeePaid"
	case EventTypeManagerFeePaid:
		return "ManagerFeePaid"
	case EventTypePaused:
		return "Paused"
	case EventTypeUnpaused:
		return "Unpaused"
	default:
		return "Unknown"
	}
}
