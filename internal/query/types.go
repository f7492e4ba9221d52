package query

import (
	"encoding/json"
	"time"
)

// VaultSummary is the top-level vault view.
type VaultSummary struct {
	Name                 string    `json:"name"`
	Status               string    `json:"status"`
	Paused               bool      `json:"paused"`
	StartDeadline        time.Time `json:"start_deadline"`
	StartDate            time.Time `json:"start_date,omitempty"`
	EndDate              time.Time `json:"end_date,omitempty"`
	MinimumSize          int64     `json:"minimum_size"`
	TotalAssets          int64     `json:"total_assets"`
	LiquidAssets         int64     `json:"liquid_assets"`
	TotalPendingFees     int64     `json:"total_pending_fees"`
	VirtualTokenBalance  int64     `json:"virtual_token_balance"`
	OutstandingPrincipal int64     `json:"outstanding_principal"`
	OutstandingAssets    int64     `json:"outstanding_assets"`
	PaidInterest         int64     `json:"paid_interest"`
	ActionCounter        uint64    `json:"action_counter"`
	LatestAssetReport    string    `json:"latest_asset_report,omitempty"`
	AsOfSequence         int64     `json:"as_of_sequence"`
	StateHash            string    `json:"state_hash"`
	AsOf                 time.Time `json:"as_of"`
}

// TrancheDetail is the per-tranche view, senior tranches at higher index.
type TrancheDetail struct {
	Index               int    `json:"index"`
	Name                string `json:"name"`
	Symbol              string `json:"symbol"`
	TargetApy           int64  `json:"target_apy_bps"`
	MinSubordinateRatio int64  `json:"min_subordinate_ratio_bps"`
	ManagerFeeRate      int64  `json:"manager_fee_rate_bps"`

	Value        int64 `json:"value"`
	AssumedValue int64 `json:"assumed_value"`
	MaxValue     int64 `json:"max_value"`
	MinValue     int64 `json:"min_value"`

	CheckpointTotalAssets int64     `json:"checkpoint_total_assets"`
	CheckpointFeeRate     int64     `json:"checkpoint_fee_rate_bps"`
	CheckpointTimestamp   time.Time `json:"checkpoint_timestamp"`
	Deficit               int64     `json:"deficit"`
	UnpaidProtocolFee     int64     `json:"unpaid_protocol_fee"`
	UnpaidManagerFee      int64     `json:"unpaid_manager_fee"`

	DistributedAssets int64 `json:"distributed_assets"`
	MaxValueOnClose   int64 `json:"max_value_on_close"`
	CustodyBalance    int64 `json:"custody_balance"`
}

// WaterfallResponse is the allocation of vault value across tranches.
type WaterfallResponse struct {
	AsOf         time.Time `json:"as_of"`
	Values       []int64   `json:"values"`
	TotalAssets  int64     `json:"total_assets"`
	AsOfSequence int64     `json:"as_of_sequence"`
}

// AccountBalance is one row of the token book.
type AccountBalance struct {
	Account string `json:"account"`
	Balance int64  `json:"balance"`
}

// EventRecord is one persisted envelope rendered for the audit endpoint.
type EventRecord struct {
	Sequence  int64           `json:"sequence"`
	VaultName string          `json:"vault_name"`
	ActionID  int64           `json:"action_id"`
	EventType string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload"`
	StateHash string          `json:"state_hash"`
	PrevHash  string          `json:"prev_hash"`
	Timestamp time.Time       `json:"timestamp"`
}

// EntryRecord is one persisted ledger entry.
type EntryRecord struct {
	EntryID     string    `json:"entry_id"`
	Sequence    int64     `json:"sequence"`
	FromAccount string    `json:"from_account"`
	ToAccount   string    `json:"to_account"`
	Amount      int64     `json:"amount"`
	Kind        string    `json:"kind"`
	Ref         string    `json:"ref,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	IsHealthy       bool    `json:"is_healthy"`
	HashChainBreaks []int64 `json:"hash_chain_breaks,omitempty"`
	Conservation    string  `json:"conservation"`
}
