package vault

import (
	"time"

	"StructuredVault/internal/fixedpoint"
)

// Checkpoint is a committed valuation point for one tranche. TotalAssets
// is the post-fee value; the protocol fee rate is snapshotted so later
// protocol-level changes never apply to an already-open accrual period.
type Checkpoint struct {
	TotalAssets     int64
	ProtocolFeeRate int64
	Timestamp       time.Time
}

// DeficitCheckpoint tracks the unrecovered shortfall against the tranche's
// target value. It carries its own timestamp: the deficit accrues target
// interest from the moment it was recorded, not from the value checkpoint.
type DeficitCheckpoint struct {
	Deficit   int64
	Timestamp time.Time
}

// TrancheInit is the construction-time configuration of one tranche.
// Index 0 is the equity tranche; higher indices are more senior.
type TrancheInit struct {
	Name                  string
	Symbol                string
	Decimals              uint8
	TargetApy             int64 // bps per year, 0 for equity
	MinSubordinateRatio   int64 // bps, 0 disables the check
	ManagerFeeRate        int64 // bps per year
	ManagerFeeBeneficiary string
}

// Tranche holds per-tranche valuation state. All mutation goes through
// UpdateCheckpoint; the projection methods are read-only.
type Tranche struct {
	Name                  string
	Symbol                string
	TargetApy             int64
	MinSubordinateRatio   int64
	ManagerFeeRate        int64
	ManagerFeeBeneficiary string

	checkpoint        Checkpoint
	deficitCheckpoint DeficitCheckpoint

	unpaidProtocolFee int64
	unpaidManagerFee  int64

	// Set on close
	distributedAssets int64
	maxValueOnClose   int64

	checkpointed bool
}

func newTranche(init TrancheInit) *Tranche {
	return &Tranche{
		Name:                  init.Name,
		Symbol:                init.Symbol,
		TargetApy:             init.TargetApy,
		MinSubordinateRatio:   init.MinSubordinateRatio,
		ManagerFeeRate:        init.ManagerFeeRate,
		ManagerFeeBeneficiary: init.ManagerFeeBeneficiary,
	}
}

// Checkpoint returns the last committed checkpoint.
func (t *Tranche) LastCheckpoint() Checkpoint {
	return t.checkpoint
}

// LastDeficit returns the last committed deficit checkpoint.
func (t *Tranche) LastDeficit() DeficitCheckpoint {
	return t.deficitCheckpoint
}

// UnpaidFees returns the carried protocol and manager fee debt.
func (t *Tranche) UnpaidFees() (protocol, manager int64) {
	return t.unpaidProtocolFee, t.unpaidManagerFee
}

// DistributedAssets returns the amount transferred to tranche custody
// since close.
func (t *Tranche) DistributedAssets() int64 {
	return t.distributedAssets
}

// MaxValueOnClose returns the frozen post-close ceiling for this tranche.
func (t *Tranche) MaxValueOnClose() int64 {
	return t.maxValueOnClose
}

func elapsedSince(asOf, since time.Time) time.Duration {
	if !asOf.After(since) {
		return 0
	}
	return asOf.Sub(since)
}

// assumedValueBeforeFees projects the two interest legs of the claim:
// the checkpointed value with target interest since the checkpoint, plus
// the deficit with target interest since the deficit's own timestamp.
// The two accrual legs are kept separate; folding the deficit into the
// value leg would change results under truncating division.
func (t *Tranche) assumedValueBeforeFees(asOf time.Time) int64 {
	if !t.checkpointed {
		return 0
	}
	value := fixedpoint.WithInterest(t.checkpoint.TotalAssets, t.TargetApy,
		elapsedSince(asOf, t.checkpoint.Timestamp))
	value += fixedpoint.WithInterest(t.deficitCheckpoint.Deficit, t.TargetApy,
		elapsedSince(asOf, t.deficitCheckpoint.Timestamp))
	return value
}

// AssumedValue projects the tranche's full claim at asOf: both interest
// legs plus carried unpaid fees. Unpaid fees are added back without
// interest so the waterfall allocates enough to cover the fee debt; they
// never enter the deficit, which is measured on the fee-free legs only.
func (t *Tranche) AssumedValue(asOf time.Time) int64 {
	if !t.checkpointed {
		return 0
	}
	return t.assumedValueBeforeFees(asOf) + t.unpaidProtocolFee + t.unpaidManagerFee
}

// accruedProtocolFee accrues at the rate snapshotted into the checkpoint,
// on the checkpointed value. Fee accrual is never capped at the end date.
func (t *Tranche) accruedProtocolFee(asOf time.Time) int64 {
	if !t.checkpointed {
		return 0
	}
	return fixedpoint.AccruedInterest(t.checkpoint.TotalAssets, t.checkpoint.ProtocolFeeRate,
		elapsedSince(asOf, t.checkpoint.Timestamp))
}

func (t *Tranche) accruedManagerFee(asOf time.Time) int64 {
	if !t.checkpointed {
		return 0
	}
	return fixedpoint.AccruedInterest(t.checkpoint.TotalAssets, t.ManagerFeeRate,
		elapsedSince(asOf, t.checkpoint.Timestamp))
}

// PendingFees returns the total fee claim against this tranche at asOf.
// Manager fees accrue only while the vault is Live; carried unpaid manager
// fees remain due in every state.
func (t *Tranche) PendingFees(asOf time.Time, collectManagerFee bool) int64 {
	pending := t.accruedProtocolFee(asOf) + t.unpaidProtocolFee + t.unpaidManagerFee
	if collectManagerFee {
		pending += t.accruedManagerFee(asOf)
	}
	return pending
}

// CheckpointContext carries the commit-time inputs shared by all tranches.
type CheckpointContext struct {
	Now               time.Time
	ProtocolFeeRate   int64
	CollectManagerFee bool
}

// FeeKind distinguishes the two fee streams for payment routing.
type FeeKind int

const (
	FeeKindProtocol FeeKind = iota
	FeeKindManager
)

// FeePayer settles a fee claim and returns the amount actually paid.
// Payment is bounded by available liquidity; the shortfall is carried.
type FeePayer func(kind FeeKind, t *Tranche, amount int64) int64

// CheckpointResult reports what a commit settled and carried.
type CheckpointResult struct {
	PaidProtocolFee int64
	PaidManagerFee  int64
}

// UpdateCheckpoint commits a new checkpoint. preFeeValue is the tranche's
// allocation before fees (including the unpaid-fee add-back). The full fee
// claim is charged against the value, saturating at zero; whatever payFee
// cannot settle is carried as unpaid debt without further interest.
// Protocol fees are settled before manager fees.
func (t *Tranche) UpdateCheckpoint(preFeeValue, newDeficit int64, ctx CheckpointContext, payFee FeePayer) CheckpointResult {
	pendingProtocol := t.accruedProtocolFee(ctx.Now) + t.unpaidProtocolFee
	pendingManager := t.unpaidManagerFee
	if ctx.CollectManagerFee {
		pendingManager += t.accruedManagerFee(ctx.Now)
	}

	newTotalAssets := fixedpoint.SaturatingSub(preFeeValue, pendingProtocol+pendingManager)

	var res CheckpointResult
	if pendingProtocol > 0 {
		res.PaidProtocolFee = payFee(FeeKindProtocol, t, pendingProtocol)
	}
	t.unpaidProtocolFee = pendingProtocol - res.PaidProtocolFee
	if pendingManager > 0 {
		res.PaidManagerFee = payFee(FeeKindManager, t, pendingManager)
	}
	t.unpaidManagerFee = pendingManager - res.PaidManagerFee

	t.checkpoint = Checkpoint{
		TotalAssets:     newTotalAssets,
		ProtocolFeeRate: ctx.ProtocolFeeRate,
		Timestamp:       ctx.Now,
	}
	t.deficitCheckpoint = DeficitCheckpoint{
		Deficit:   newDeficit,
		Timestamp: ctx.Now,
	}
	t.checkpointed = true

	return res
}
