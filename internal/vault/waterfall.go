package vault

import (
	"fmt"
	"time"

	"StructuredVault/internal/fixedpoint"
)

// limitedTimestamp caps the waterfall projection horizon at the end date.
// Target interest stops at the scheduled end; fee accrual does not use
// this and keeps running on real time.
func (v *Vault) limitedTimestamp(asOf time.Time) time.Time {
	if v.status == StatusLive && asOf.After(v.endDate) {
		return v.endDate
	}
	return asOf
}

// totalAssetsBeforeFees is the allocatable pool while Live: liquid balance
// plus the manager's valuation of deployed assets.
func (v *Vault) totalAssetsBeforeFees() int64 {
	return v.virtualTokenBalance + v.outstandingAssets
}

// waterfallBeforeFees allocates the pool senior to junior. Each non-equity
// tranche takes the smaller of its assumed value and what is left; equity
// absorbs the remainder. Only meaningful while Live.
func (v *Vault) waterfallBeforeFees(asOf time.Time) []int64 {
	limited := v.limitedTimestamp(asOf)
	values := make([]int64, len(v.tranches))
	remaining := v.totalAssetsBeforeFees()

	for i := len(v.tranches) - 1; i > 0; i-- {
		assumed := v.tranches[i].AssumedValue(limited)
		share := fixedpoint.Min(assumed, remaining)
		values[i] = share
		remaining -= share
	}
	values[0] = remaining
	return values
}

// closedValueBeforeFees is the frozen claim of a tranche after close:
// the committed checkpoint plus carried unpaid fees, with no further
// target accrual.
func (t *Tranche) closedValueBeforeFees() int64 {
	protocol, manager := t.UnpaidFees()
	return t.LastCheckpoint().TotalAssets + protocol + manager
}

// Waterfall returns the current per-tranche values, fees deducted.
// CapitalFormation reflects raw deposits; Live runs the seniority
// allocation; Closed returns frozen values net of protocol fee accrual.
func (v *Vault) Waterfall(asOf time.Time) []int64 {
	values := make([]int64, len(v.tranches))

	switch v.status {
	case StatusCapitalFormation:
		for i, account := range v.trancheAccounts {
			values[i] = v.book.BalanceOf(account)
		}
	case StatusLive:
		pre := v.waterfallBeforeFees(asOf)
		for i, t := range v.tranches {
			values[i] = fixedpoint.SaturatingSub(pre[i], t.PendingFees(asOf, true))
		}
	case StatusClosed:
		for i, t := range v.tranches {
			values[i] = fixedpoint.SaturatingSub(t.closedValueBeforeFees(), t.PendingFees(asOf, false))
		}
	}
	return values
}

// WaterfallForTranche returns the current value of a single tranche.
func (v *Vault) WaterfallForTranche(idx int, asOf time.Time) (int64, error) {
	if idx < 0 || idx >= len(v.tranches) {
		return 0, fmt.Errorf("%w: %d", ErrIndexOutOfBounds, idx)
	}
	return v.Waterfall(asOf)[idx], nil
}

// TotalPendingFees sums each tranche's fee claim, individually capped at
// the value backing it.
func (v *Vault) TotalPendingFees(asOf time.Time) int64 {
	var total int64

	switch v.status {
	case StatusCapitalFormation:
		return 0
	case StatusLive:
		pre := v.waterfallBeforeFees(asOf)
		for i, t := range v.tranches {
			total += fixedpoint.Min(t.PendingFees(asOf, true), pre[i])
		}
	case StatusClosed:
		for _, t := range v.tranches {
			total += fixedpoint.Min(t.PendingFees(asOf, false), t.closedValueBeforeFees())
		}
	}
	return total
}

// TotalAssets returns the vault-level valuation for the current state.
func (v *Vault) TotalAssets(asOf time.Time) int64 {
	switch v.status {
	case StatusCapitalFormation:
		var total int64
		for _, account := range v.trancheAccounts {
			total += v.book.BalanceOf(account)
		}
		return total
	case StatusLive:
		return fixedpoint.SaturatingSub(v.totalAssetsBeforeFees(), v.TotalPendingFees(asOf))
	case StatusClosed:
		var total int64
		for _, value := range v.Waterfall(asOf) {
			total += value
		}
		return total
	}
	return 0
}

// LiquidAssets returns the withdrawable liquid balance net of fee claims.
func (v *Vault) LiquidAssets(asOf time.Time) int64 {
	return fixedpoint.SaturatingSub(v.virtualTokenBalance, v.TotalPendingFees(asOf))
}
