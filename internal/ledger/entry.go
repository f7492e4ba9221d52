package ledger

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EntryKind represents the purpose of a transfer entry
type EntryKind int32

const (
	EntryKindMint EntryKind = iota
	EntryKindDeposit
	EntryKindWithdrawal
	EntryKindStartSweep
	EntryKindDisbursement
	EntryKindRepayment
	EntryKindProtocolFee
	EntryKindManagerFee
	EntryKindCloseDistribution
)

func (k EntryKind) String() string {
	switch k {
	case EntryKindMint:
		return "mint"
	case EntryKindDeposit:
		return "deposit"
	case EntryKindWithdrawal:
		return "withdrawal"
	case EntryKindStartSweep:
		return "start_sweep"
	case EntryKindDisbursement:
		return "disbursement"
	case EntryKindRepayment:
		return "repayment"
	case EntryKindProtocolFee:
		return "protocol_fee"
	case EntryKindManagerFee:
		return "manager_fee"
	case EntryKindCloseDistribution:
		return "close_distribution"
	}
	return "unknown"
}

// Entry records a single transfer of the underlying asset between two
// accounts. Amount is always positive; direction is From -> To.
type Entry struct {
	EntryID   uuid.UUID
	From      AccountKey
	To        AccountKey
	Amount    int64
	Kind      EntryKind
	Ref       string // action reference of the source operation
	Timestamp time.Time
}

// Validate ensures the entry is well-formed before it hits the book.
func (e Entry) Validate() error {
	if e.Amount <= 0 {
		return fmt.Errorf("entry %s has non-positive amount: %d", e.EntryID, e.Amount)
	}
	if e.From == e.To {
		return fmt.Errorf("entry %s has same source and destination account", e.EntryID)
	}
	return nil
}
