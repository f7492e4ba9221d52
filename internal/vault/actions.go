package vault

import (
	"fmt"
	"time"

	"StructuredVault/internal/event"
	"StructuredVault/internal/fixedpoint"
	"StructuredVault/internal/ledger"
)

// livePayer settles fees from the vault's liquid balance, routing protocol
// fees to the treasury and manager fees to the tranche's beneficiary.
func (v *Vault) livePayer(actionID uint64, now time.Time) FeePayer {
	return func(kind FeeKind, t *Tranche, amount int64) int64 {
		pay := fixedpoint.Min(amount, v.virtualTokenBalance)
		if pay <= 0 {
			return 0
		}
		v.payFeeFrom(v.account, kind, t, pay, actionID, now)
		v.virtualTokenBalance -= pay
		return pay
	}
}

// closedPayer settles fees from the tranche's own custody after close.
func (v *Vault) closedPayer(idx int, actionID uint64, now time.Time) FeePayer {
	return func(kind FeeKind, t *Tranche, amount int64) int64 {
		account := v.trancheAccounts[idx]
		pay := fixedpoint.Min(amount, v.book.BalanceOf(account))
		if pay <= 0 {
			return 0
		}
		v.payFeeFrom(account, kind, t, pay, actionID, now)
		return pay
	}
}

func (v *Vault) payFeeFrom(from ledger.AccountKey, kind FeeKind, t *Tranche, amount int64, actionID uint64, now time.Time) {
	ref := fmt.Sprintf("%s:%d", v.name, actionID)
	var to ledger.AccountKey
	entryKind := ledger.EntryKindProtocolFee
	if kind == FeeKindManager {
		to = ledger.NewExternalAccountKey(t.ManagerFeeBeneficiary)
		entryKind = ledger.EntryKindManagerFee
	} else {
		to = v.config.TreasuryAccount()
	}
	if err := v.book.Transfer(entryKind, from, to, amount, ref, now); err != nil {
		panic(fmt.Sprintf("FATAL: fee payment failed after liquidity check: %v", err))
	}
}

// commitCheckpoints recomputes the waterfall and commits one checkpoint
// per tranche, senior first. Fees due are settled opportunistically and
// the shortfall carried. Deficits are re-measured against the fee-free
// assumed values, with the unpaid-fee add-back stripped from the
// allocation side as well, so carried fee debt lives only in the unpaid
// accumulators. Equity never carries a deficit.
func (v *Vault) commitCheckpoints(actionID uint64, now time.Time) {
	ctx := CheckpointContext{
		Now:               now,
		ProtocolFeeRate:   v.config.ProtocolFeeRate(),
		CollectManagerFee: v.status == StatusLive,
	}

	switch v.status {
	case StatusLive:
		limited := v.limitedTimestamp(now)
		pre := v.waterfallBeforeFees(now)
		payer := v.livePayer(actionID, now)
		for i := len(v.tranches) - 1; i >= 0; i-- {
			t := v.tranches[i]
			var newDeficit int64
			if i > 0 {
				unpaidProtocol, unpaidManager := t.UnpaidFees()
				covered := fixedpoint.SaturatingSub(pre[i], unpaidProtocol+unpaidManager)
				newDeficit = fixedpoint.SaturatingSub(t.assumedValueBeforeFees(limited), covered)
			}
			res := t.UpdateCheckpoint(pre[i], newDeficit, ctx, payer)
			v.emitCheckpoint(i, res, actionID, now)
		}
	case StatusClosed:
		for i := len(v.tranches) - 1; i >= 0; i-- {
			t := v.tranches[i]
			res := t.UpdateCheckpoint(t.closedValueBeforeFees(), 0, ctx, v.closedPayer(i, actionID, now))
			v.emitCheckpoint(i, res, actionID, now)
		}
	}
}

func (v *Vault) emitCheckpoint(idx int, res CheckpointResult, actionID uint64, now time.Time) {
	t := v.tranches[idx]
	unpaidProtocol, unpaidManager := t.UnpaidFees()
	v.emit(actionID, now, &event.CheckpointUpdated{
		TrancheIdx:        idx,
		TotalAssets:       t.LastCheckpoint().TotalAssets,
		ProtocolFeeRate:   t.LastCheckpoint().ProtocolFeeRate,
		Deficit:           t.LastDeficit().Deficit,
		UnpaidProtocolFee: unpaidProtocol,
		UnpaidManagerFee:  unpaidManager,
	})
	if res.PaidProtocolFee > 0 {
		v.emit(actionID, now, &event.ProtocolFeePaid{TrancheIdx: idx, Amount: res.PaidProtocolFee})
	}
	if res.PaidManagerFee > 0 {
		v.emit(actionID, now, &event.ManagerFeePaid{
			TrancheIdx:  idx,
			Beneficiary: t.ManagerFeeBeneficiary,
			Amount:      res.PaidManagerFee,
		})
	}
}

// UpdateCheckpoints commits fresh checkpoints without changing totals.
// Idempotent at a fixed timestamp. Not available before start.
func (v *Vault) UpdateCheckpoints(now time.Time) error {
	if err := v.requireNotPaused(); err != nil {
		return err
	}
	if v.status == StatusCapitalFormation {
		return fmt.Errorf("%w: no checkpoints before start", ErrInvalidStatus)
	}
	v.commitCheckpoints(v.actionID, now)
	return nil
}

// Start moves the vault to Live: deposits are swept into vault custody,
// every tranche gets its first checkpoint, and the clock on target
// accrual begins.
func (v *Vault) Start(caller string, now time.Time) error {
	if err := v.requireNotPaused(); err != nil {
		return err
	}
	if !v.acl.Has(caller, CapManager) {
		return fmt.Errorf("%w: %s is not a manager", ErrAuthorization, caller)
	}
	if v.status != StatusCapitalFormation {
		return fmt.Errorf("%w: vault already started", ErrInvalidStatus)
	}

	deposits := make([]int64, len(v.tranches))
	var total int64
	for i, account := range v.trancheAccounts {
		deposits[i] = v.book.BalanceOf(account)
		total += deposits[i]
	}
	if total < v.minimumSize {
		return fmt.Errorf("%w: have %d, need %d", ErrMinimumSizeNotReached, total, v.minimumSize)
	}
	if err := v.CheckTranchesRatios(now); err != nil {
		return err
	}

	ref := fmt.Sprintf("%s:start", v.name)
	for i, account := range v.trancheAccounts {
		if deposits[i] == 0 {
			continue
		}
		if err := v.book.Transfer(ledger.EntryKindStartSweep, account, v.account, deposits[i], ref, now); err != nil {
			panic(fmt.Sprintf("FATAL: start sweep failed: %v", err))
		}
	}

	rate := v.config.ProtocolFeeRate()
	ctx := CheckpointContext{Now: now, ProtocolFeeRate: rate}
	for i, t := range v.tranches {
		t.UpdateCheckpoint(deposits[i], 0, ctx, func(FeeKind, *Tranche, int64) int64 { return 0 })
		v.emitCheckpoint(i, CheckpointResult{}, v.actionID, now)
	}

	v.virtualTokenBalance = total
	v.startDate = now
	v.endDate = now.Add(v.duration)
	v.status = StatusLive
	v.emit(v.actionID, now, &event.StatusChanged{
		OldStatus: StatusCapitalFormation.String(),
		NewStatus: StatusLive.String(),
	})
	return nil
}

// Disburse sends principal to a recipient. The manager's valuation of
// what is now deployed comes in as newOutstandingAssets.
func (v *Vault) Disburse(caller, recipient string, amount, newOutstandingAssets int64, assetReportID string, now time.Time) error {
	if err := v.requireNotPaused(); err != nil {
		return err
	}
	if !v.acl.Has(caller, CapManager) {
		return fmt.Errorf("%w: %s is not a manager", ErrAuthorization, caller)
	}
	if v.status != StatusLive {
		return fmt.Errorf("%w: disburse requires a live vault", ErrInvalidStatus)
	}
	if v.onlyAllowedBorrowers && !v.acl.Has(recipient, CapBorrower) {
		return fmt.Errorf("%w: %s is not an allowed borrower", ErrAuthorization, recipient)
	}
	if amount <= 0 || newOutstandingAssets < 0 {
		return fmt.Errorf("%w: non-positive disbursement", ErrInvalidConfig)
	}

	// The checkpoint prelude is a plain UpdateCheckpoints: committing it
	// before the liquidity check leaves valid state even when the action
	// is then rejected.
	v.commitCheckpoints(v.actionID, now)

	if amount > v.virtualTokenBalance {
		return fmt.Errorf("%w: have %d, disburse needs %d", ErrInsufficientFunds, v.virtualTokenBalance, amount)
	}

	actionID := v.nextActionID()
	v.virtualTokenBalance -= amount
	v.outstandingPrincipal += amount
	v.outstandingAssets = newOutstandingAssets
	v.registerAssetReport(assetReportID)

	ref := fmt.Sprintf("%s:%d", v.name, actionID)
	to := ledger.NewExternalAccountKey(recipient)
	if err := v.book.Transfer(ledger.EntryKindDisbursement, v.account, to, amount, ref, now); err != nil {
		panic(fmt.Sprintf("FATAL: disbursement transfer failed after balance check: %v", err))
	}

	v.emit(actionID, now, &event.Disburse{
		Recipient:            recipient,
		Amount:               amount,
		NewOutstandingAssets: newOutstandingAssets,
		AssetReportID:        assetReportID,
	})
	return nil
}

// Repay books returned principal and interest. While Live the funds join
// the liquid balance; after close they are distributed straight to the
// tranches, senior first, each capped at its frozen ceiling.
func (v *Vault) Repay(caller, payer string, principal, interest, newOutstandingAssets int64, assetReportID string, now time.Time) error {
	if err := v.requireNotPaused(); err != nil {
		return err
	}
	if !v.acl.Has(caller, CapRepayer) {
		return fmt.Errorf("%w: %s is not a repayer", ErrAuthorization, caller)
	}
	if v.status == StatusCapitalFormation {
		return fmt.Errorf("%w: nothing outstanding before start", ErrInvalidStatus)
	}
	if principal < 0 || interest < 0 || newOutstandingAssets < 0 {
		return fmt.Errorf("%w: negative repayment", ErrInvalidConfig)
	}
	if principal > v.outstandingPrincipal {
		return fmt.Errorf("%w: outstanding %d, repaid %d", ErrOverpayment, v.outstandingPrincipal, principal)
	}

	total := principal + interest
	from := ledger.NewExternalAccountKey(payer)
	if v.book.BalanceOf(from) < total {
		return fmt.Errorf("%w: payer cannot cover repayment", ErrInsufficientFunds)
	}

	v.commitCheckpoints(v.actionID, now)

	actionID := v.nextActionID()
	v.outstandingPrincipal -= principal
	v.paidInterest += interest
	v.outstandingAssets = newOutstandingAssets
	v.registerAssetReport(assetReportID)

	ref := fmt.Sprintf("%s:%d", v.name, actionID)
	if v.status == StatusLive {
		if total > 0 {
			if err := v.book.Transfer(ledger.EntryKindRepayment, from, v.account, total, ref, now); err != nil {
				panic(fmt.Sprintf("FATAL: repayment transfer failed after balance check: %v", err))
			}
			v.virtualTokenBalance += total
		}
	} else {
		v.distributeAfterClose(from, total, ref, now)
	}

	v.emit(actionID, now, &event.Repay{
		Payer:                payer,
		Principal:            principal,
		Interest:             interest,
		NewOutstandingAssets: newOutstandingAssets,
		AssetReportID:        assetReportID,
	})
	return nil
}

// distributeAfterClose routes post-close proceeds senior to junior. Each
// non-equity tranche catches up toward its frozen ceiling; equity takes
// whatever is left. The payer's balance is verified by the caller.
func (v *Vault) distributeAfterClose(from ledger.AccountKey, amount int64, ref string, now time.Time) {
	remaining := amount
	for i := len(v.tranches) - 1; i >= 0 && remaining > 0; i-- {
		t := v.tranches[i]
		share := remaining
		if i > 0 {
			share = fixedpoint.Min(remaining, fixedpoint.SaturatingSub(t.maxValueOnClose, t.distributedAssets))
		}
		if share == 0 {
			continue
		}
		if err := v.book.Transfer(ledger.EntryKindRepayment, from, v.trancheAccounts[i], share, ref, now); err != nil {
			panic(fmt.Sprintf("FATAL: post-close distribution failed after balance check: %v", err))
		}
		t.distributedAssets += share
		t.checkpoint.TotalAssets += share
		remaining -= share
	}
}

// UpdateState revalues outstanding assets without moving tokens. This is
// how losses are recognized, before or after close.
func (v *Vault) UpdateState(caller string, newOutstandingAssets int64, assetReportID string, now time.Time) error {
	if err := v.requireNotPaused(); err != nil {
		return err
	}
	if !v.acl.Has(caller, CapManager) {
		return fmt.Errorf("%w: %s is not a manager", ErrAuthorization, caller)
	}
	if v.status == StatusCapitalFormation {
		return fmt.Errorf("%w: not allowed before start", ErrInvalidStatus)
	}
	if newOutstandingAssets < 0 {
		return fmt.Errorf("%w: negative outstanding assets", ErrInvalidConfig)
	}

	v.commitCheckpoints(v.actionID, now)

	actionID := v.nextActionID()
	v.outstandingAssets = newOutstandingAssets
	v.registerAssetReport(assetReportID)

	v.emit(actionID, now, &event.StateUpdated{
		ActionID:             actionID,
		NewOutstandingAssets: newOutstandingAssets,
		AssetReportID:        assetReportID,
	})
	return nil
}

// Close ends the vault. From Live the final waterfall is committed,
// ceilings are frozen at target projections over the unexpired term, and
// liquid assets move to tranche custody. From CapitalFormation deposits
// simply stay where they are. The manager may close any time the vault
// holds no outstanding assets; anyone may close once the term or the
// start deadline has passed.
func (v *Vault) Close(caller string, now time.Time) error {
	if err := v.requireNotPaused(); err != nil {
		return err
	}
	if v.status == StatusClosed {
		return fmt.Errorf("%w: vault already closed", ErrInvalidStatus)
	}
	isManager := v.acl.Has(caller, CapManager)

	oldStatus := v.status
	if v.status == StatusCapitalFormation {
		if !isManager && !now.After(v.startDeadline) {
			return fmt.Errorf("%w: start deadline not reached", ErrAuthorization)
		}
		v.closeFromCapitalFormation(now)
	} else {
		beforeEnd := now.Before(v.endDate)
		if beforeEnd {
			if !isManager {
				return fmt.Errorf("%w: only the manager may close early", ErrAuthorization)
			}
			if v.outstandingAssets != 0 {
				return fmt.Errorf("%w: outstanding assets exist", ErrInvalidStatus)
			}
		}
		v.closeFromLive(now)
	}

	v.status = StatusClosed
	v.emit(v.actionID, now, &event.StatusChanged{
		OldStatus: oldStatus.String(),
		NewStatus: StatusClosed.String(),
	})
	return nil
}

// closeFromCapitalFormation freezes each tranche at its deposits. No
// tokens move; nothing was ever swept into the vault.
func (v *Vault) closeFromCapitalFormation(now time.Time) {
	ctx := CheckpointContext{Now: now, ProtocolFeeRate: v.config.ProtocolFeeRate()}
	for i, t := range v.tranches {
		balance := v.book.BalanceOf(v.trancheAccounts[i])
		t.UpdateCheckpoint(balance, 0, ctx, func(FeeKind, *Tranche, int64) int64 { return 0 })
		t.distributedAssets = balance
		if i > 0 {
			t.maxValueOnClose = balance
		}
		v.emitCheckpoint(i, CheckpointResult{}, v.actionID, now)
	}
	v.endDate = now
}

// closeFromLive commits the final Live checkpoint, freezes per-tranche
// ceilings, and pays out liquid assets senior first.
func (v *Vault) closeFromLive(now time.Time) {
	limited := v.limitedTimestamp(now)
	remainingTerm := time.Duration(0)
	if v.endDate.After(now) {
		remainingTerm = v.endDate.Sub(now)
	}

	// Ceilings come from assumed values, not the possibly-capped
	// waterfall: a tranche shorted at close keeps its full claim on
	// post-close recoveries.
	for i, t := range v.tranches {
		if i > 0 {
			t.maxValueOnClose = fixedpoint.WithInterest(t.AssumedValue(limited), t.TargetApy, remainingTerm)
		}
	}

	v.commitCheckpoints(v.actionID, now)

	ref := fmt.Sprintf("%s:close", v.name)
	for i := len(v.tranches) - 1; i >= 0; i-- {
		t := v.tranches[i]
		share := fixedpoint.Min(t.checkpoint.TotalAssets, v.virtualTokenBalance)
		if share > 0 {
			if err := v.book.Transfer(ledger.EntryKindCloseDistribution, v.account, v.trancheAccounts[i], share, ref, now); err != nil {
				panic(fmt.Sprintf("FATAL: close distribution failed after balance check: %v", err))
			}
			v.virtualTokenBalance -= share
		}
		t.distributedAssets = share
		t.checkpoint.TotalAssets = share
	}

	if now.Before(v.endDate) {
		v.endDate = now
	}
}

// Deposit funds a tranche. During capital formation tokens sit in tranche
// custody; while Live they join the vault's pool after a fresh checkpoint
// and the senior ratio ceilings are enforced.
func (v *Vault) Deposit(idx int, depositor string, amount int64, now time.Time) error {
	if err := v.requireNotPaused(); err != nil {
		return err
	}
	if idx < 0 || idx >= len(v.tranches) {
		return fmt.Errorf("%w: %d", ErrIndexOutOfBounds, idx)
	}
	if amount <= 0 {
		return fmt.Errorf("%w: non-positive deposit", ErrInvalidConfig)
	}
	from := ledger.NewExternalAccountKey(depositor)
	ref := fmt.Sprintf("%s:deposit", v.name)

	switch v.status {
	case StatusCapitalFormation:
		if err := v.book.Transfer(ledger.EntryKindDeposit, from, v.trancheAccounts[idx], amount, ref, now); err != nil {
			return fmt.Errorf("%w: depositor cannot cover deposit", ErrInsufficientFunds)
		}
	case StatusLive:
		v.commitCheckpoints(v.actionID, now)
		t := v.tranches[idx]
		max, err := v.MaxTrancheValueComplyingWithRatio(idx, now)
		if err != nil {
			return err
		}
		if amount > fixedpoint.SaturatingSub(max, t.checkpoint.TotalAssets) {
			return fmt.Errorf("%w: deposit would exceed tranche ceiling", ErrRatioViolation)
		}
		if err := v.book.Transfer(ledger.EntryKindDeposit, from, v.account, amount, ref, now); err != nil {
			return fmt.Errorf("%w: depositor cannot cover deposit", ErrInsufficientFunds)
		}
		v.virtualTokenBalance += amount
		t.checkpoint.TotalAssets += amount
	default:
		return fmt.Errorf("%w: deposits closed", ErrInvalidStatus)
	}

	v.emit(v.actionID, now, &event.Deposit{TrancheIdx: idx, Depositor: depositor, Amount: amount})
	return nil
}

// Withdraw takes value out of a tranche, bounded by liquidity and the
// subordination floor protecting more senior tranches.
func (v *Vault) Withdraw(idx int, receiver string, amount int64, now time.Time) error {
	if err := v.requireNotPaused(); err != nil {
		return err
	}
	if idx < 0 || idx >= len(v.tranches) {
		return fmt.Errorf("%w: %d", ErrIndexOutOfBounds, idx)
	}
	if amount <= 0 {
		return fmt.Errorf("%w: non-positive withdrawal", ErrInvalidConfig)
	}
	to := ledger.NewExternalAccountKey(receiver)
	ref := fmt.Sprintf("%s:withdraw", v.name)

	switch v.status {
	case StatusCapitalFormation:
		if err := v.book.Transfer(ledger.EntryKindWithdrawal, v.trancheAccounts[idx], to, amount, ref, now); err != nil {
			return fmt.Errorf("%w: tranche holds less than requested", ErrInsufficientFunds)
		}
	case StatusLive:
		v.commitCheckpoints(v.actionID, now)
		t := v.tranches[idx]
		if amount > t.checkpoint.TotalAssets || amount > v.virtualTokenBalance {
			return fmt.Errorf("%w: withdrawal exceeds available value", ErrInsufficientFunds)
		}
		min, err := v.MinTrancheValueComplyingWithRatio(idx, now)
		if err != nil {
			return err
		}
		if t.checkpoint.TotalAssets-amount < min {
			return fmt.Errorf("%w: withdrawal would break subordination floor", ErrRatioViolation)
		}
		v.virtualTokenBalance -= amount
		t.checkpoint.TotalAssets -= amount
		if err := v.book.Transfer(ledger.EntryKindWithdrawal, v.account, to, amount, ref, now); err != nil {
			panic(fmt.Sprintf("FATAL: withdrawal transfer failed after balance check: %v", err))
		}
	case StatusClosed:
		v.commitCheckpoints(v.actionID, now)
		t := v.tranches[idx]
		if err := v.book.Transfer(ledger.EntryKindWithdrawal, v.trancheAccounts[idx], to, amount, ref, now); err != nil {
			return fmt.Errorf("%w: tranche holds less than requested", ErrInsufficientFunds)
		}
		t.checkpoint.TotalAssets = fixedpoint.SaturatingSub(t.checkpoint.TotalAssets, amount)
	}

	v.emit(v.actionID, now, &event.Withdraw{TrancheIdx: idx, Receiver: receiver, Amount: amount})
	return nil
}
