package event

// CheckpointUpdated is emitted once per tranche on every checkpoint commit.
type CheckpointUpdated struct {
	TrancheIdx        int   `json:"tranche_idx"`
	TotalAssets       int64 `json:"total_assets"`
	ProtocolFeeRate   int64 `json:"protocol_fee_rate"`
	Deficit           int64 `json:"deficit"`
	UnpaidProtocolFee int64 `json:"unpaid_protocol_fee"`
	UnpaidManagerFee  int64 `json:"unpaid_manager_fee"`
}

func (e *CheckpointUpdated) EventType() EventType {
	return EventTypeCheckpointUpdated
}

// ProtocolFeePaid is emitted when protocol fees are settled to the treasury.
type ProtocolFeePaid struct {
	TrancheIdx int   `json:"tranche_idx"`
	Amount     int64 `json:"amount"`
}

func (e *ProtocolFeePaid) EventType() EventType {
	return EventTypeProtocolFeePaid
}

// ManagerFeePaid is emitted when manager fees are settled to a beneficiary.
type ManagerFeePaid struct {
	TrancheIdx  int    `json:"tranche_idx"`
	Beneficiary string `json:"beneficiary"`
	Amount      int64  `json:"amount"`
}

func (e *ManagerFeePaid) EventType() EventType {
	return EventTypeManagerFeePaid
}
