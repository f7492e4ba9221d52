package event

// Disburse is emitted when principal is sent to a recipient while Live.
type Disburse struct {
	Recipient            string `json:"recipient"`
	Amount               int64  `json:"amount"`
	NewOutstandingAssets int64  `json:"new_outstanding_assets"`
	AssetReportID        string `json:"asset_report_id"`
}

func (e *Disburse) EventType() EventType {
	return EventTypeDisburse
}

// Repay is emitted when principal and interest come back from a payer.
type Repay struct {
	Payer                string `json:"payer"`
	Principal            int64  `json:"principal"`
	Interest             int64  `json:"interest"`
	NewOutstandingAssets int64  `json:"new_outstanding_assets"`
	AssetReportID        string `json:"asset_report_id"`
}

func (e *Repay) EventType() EventType {
	return EventTypeRepay
}

// StateUpdated is emitted when the manager revalues outstanding assets.
type StateUpdated struct {
	ActionID             uint64 `json:"action_id"`
	NewOutstandingAssets int64  `json:"new_outstanding_assets"`
	AssetReportID        string `json:"asset_report_id"`
}

func (e *StateUpdated) EventType() EventType {
	return EventTypeStateUpdated
}

// Deposit is emitted when a tranche receives external funding.
type Deposit struct {
	TrancheIdx int    `json:"tranche_idx"`
	Depositor  string `json:"depositor"`
	Amount     int64  `json:"amount"`
}

func (e *Deposit) EventType() EventType {
	return EventTypeDeposit
}

// Withdraw is emitted when value leaves a tranche to an external receiver.
type Withdraw struct {
	TrancheIdx int    `json:"tranche_idx"`
	Receiver   string `json:"receiver"`
	Amount     int64  `json:"amount"`
}

func (e *Withdraw) EventType() EventType {
	return EventTypeWithdraw
}
