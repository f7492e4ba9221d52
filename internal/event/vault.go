package event

// StatusChanged is emitted when the vault transitions between lifecycle
// states (start, close).
type StatusChanged struct {
	OldStatus string `json:"old_status"`
	NewStatus string `json:"new_status"`
}

func (e *StatusChanged) EventType() EventType {
	return EventTypeStatusChanged
}

// Paused is emitted when a pauser suspends mutating actions.
type Paused struct {
	By string `json:"by"`
}

func (e *Paused) EventType() EventType {
	return EventTypePaused
}

// Unpaused is emitted when a pauser resumes mutating actions.
type Unpaused struct {
	By string `json:"by"`
}

func (e *Unpaused) EventType() EventType {
	return EventTypeUnpaused
}
