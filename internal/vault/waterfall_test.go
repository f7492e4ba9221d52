package vault_test

import (
	"StructuredVault/internal/vault"
	"testing"
)

// ============================================================================
// Test: Waterfall allocation
// ============================================================================

func TestWaterfall_CapitalFormationReflectsDeposits(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	f.depositAll(t, []int64{500, 1000, 2000}, t0)
	assertWaterfall(t, f, t0, []int64{500, 1000, 2000})
}

func TestWaterfall_AtStartMatchesDeposits(t *testing.T) {
	f := startedFixture(t, fixtureOpts{})
	assertWaterfall(t, f, t0, []int64{1000, 1000, 1000})
}

func TestWaterfall_OneYearAccrual(t *testing.T) {
	// senior earns 3%, junior 5%, equity takes what is left of a flat pool
	f := startedFixture(t, fixtureOpts{})
	t1 := t0.Add(year)
	assertWaterfall(t, f, t1, []int64{920, 1050, 1030})
}

func TestWaterfall_SeniorityUnderShortfall(t *testing.T) {
	// pool covers the senior claim fully, junior partially, equity not at all
	f := startedFixture(t, fixtureOpts{})
	t1 := t0.Add(year)

	if err := f.v.Disburse(manager, borrower, 3000, 3000, "r1", t0); err != nil {
		t.Fatalf("disburse failed: %v", err)
	}
	if err := f.v.UpdateState(manager, 2000, "r2", t1); err != nil {
		t.Fatalf("update state failed: %v", err)
	}

	assertWaterfall(t, f, t1, []int64{0, 970, 1030})
}

func TestWaterfall_TotalLossWipesJuniorBeforeSenior(t *testing.T) {
	f := startedFixture(t, fixtureOpts{})
	t1 := t0.Add(year)

	if err := f.v.Disburse(manager, borrower, 3000, 3000, "r1", t0); err != nil {
		t.Fatalf("disburse failed: %v", err)
	}
	if err := f.v.UpdateState(manager, 500, "r2", t1); err != nil {
		t.Fatalf("update state failed: %v", err)
	}

	assertWaterfall(t, f, t1, []int64{0, 0, 500})
}

func TestWaterfall_TargetAccrualStopsAtEndDate(t *testing.T) {
	// one year term, queried one year past the end: target accrual is frozen
	// at the end date while protocol fees keep accruing on real time
	f := startedFixture(t, fixtureOpts{protocolFeeBps: 200, duration: year})
	t2 := t0.Add(2 * year)

	// assumed values capped at one year (1030 senior, 1050 junior); fees run
	// the full two years at 2% on the checkpointed 1000 = 40 per tranche
	assertWaterfall(t, f, t2, []int64{880, 1010, 990})

	if got := f.v.TotalPendingFees(t2); got != 120 {
		t.Errorf("total pending fees: got %d, want 120", got)
	}
	if got := f.v.TotalAssets(t2); got != 2880 {
		t.Errorf("total assets: got %d, want 2880", got)
	}
	if got := f.v.LiquidAssets(t2); got != 2880 {
		t.Errorf("liquid assets: got %d, want 2880", got)
	}
}

func TestWaterfallForTranche(t *testing.T) {
	f := startedFixture(t, fixtureOpts{})
	t1 := t0.Add(year)

	got, err := f.v.WaterfallForTranche(2, t1)
	if err != nil {
		t.Fatalf("waterfall for tranche failed: %v", err)
	}
	if got != 1030 {
		t.Errorf("got %d, want 1030", got)
	}
	if _, err := f.v.WaterfallForTranche(5, t1); err == nil {
		t.Error("out of bounds index should fail")
	}
}

// ============================================================================
// Test: Totals
// ============================================================================

func TestTotalAssets_CapitalFormation(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	f.depositAll(t, []int64{500, 1000, 2000}, t0)
	if got := f.v.TotalAssets(t0); got != 3500 {
		t.Errorf("got %d, want 3500", got)
	}
	if got := f.v.TotalPendingFees(t0); got != 0 {
		t.Errorf("pending fees before start: got %d, want 0", got)
	}
}

func TestTotalAssets_LiveIncludesOutstanding(t *testing.T) {
	f := startedFixture(t, fixtureOpts{})
	if err := f.v.Disburse(manager, borrower, 2000, 2100, "r1", t0); err != nil {
		t.Fatalf("disburse failed: %v", err)
	}
	// 1000 liquid + 2100 valuation of deployed assets
	if got := f.v.TotalAssets(t0); got != 3100 {
		t.Errorf("got %d, want 3100", got)
	}
	if got := f.v.LiquidAssets(t0); got != 1000 {
		t.Errorf("liquid: got %d, want 1000", got)
	}
}

// ============================================================================
// Test: Deficit tracking
// ============================================================================

func TestDeficit_RecordedOnShortfall(t *testing.T) {
	f := startedFixture(t, fixtureOpts{})
	t1 := t0.Add(year)

	if err := f.v.Disburse(manager, borrower, 3000, 3000, "r1", t0); err != nil {
		t.Fatalf("disburse failed: %v", err)
	}
	if err := f.v.UpdateState(manager, 2000, "r2", t1); err != nil {
		t.Fatalf("update state failed: %v", err)
	}
	if err := f.v.UpdateCheckpoints(t1); err != nil {
		t.Fatalf("checkpoint failed: %v", err)
	}

	senior, _ := f.v.TrancheAt(2)
	junior, _ := f.v.TrancheAt(1)
	equity, _ := f.v.TrancheAt(0)

	if got := senior.LastDeficit().Deficit; got != 0 {
		t.Errorf("senior deficit: got %d, want 0", got)
	}
	if got := junior.LastDeficit().Deficit; got != 80 {
		t.Errorf("junior deficit: got %d, want 80", got)
	}
	if got := junior.LastCheckpoint().TotalAssets; got != 970 {
		t.Errorf("junior checkpoint: got %d, want 970", got)
	}
	if got := equity.LastDeficit().Deficit; got != 0 {
		t.Errorf("equity never carries a deficit: got %d", got)
	}
}

func TestDeficit_AccruesFromItsOwnTimestamp(t *testing.T) {
	f := startedFixture(t, fixtureOpts{})
	t1 := t0.Add(year)
	t2 := t1.Add(year)

	if err := f.v.Disburse(manager, borrower, 3000, 3000, "r1", t0); err != nil {
		t.Fatalf("disburse failed: %v", err)
	}
	if err := f.v.UpdateState(manager, 2000, "r2", t1); err != nil {
		t.Fatalf("update state failed: %v", err)
	}
	if err := f.v.UpdateCheckpoints(t1); err != nil {
		t.Fatalf("checkpoint failed: %v", err)
	}

	// junior carries 970 checkpointed plus an 80 deficit, both earning 5%
	// for the year after the shortfall: 970+48 + 80+4
	junior, _ := f.v.TrancheAt(1)
	if got := junior.AssumedValue(t2); got != 1102 {
		t.Errorf("junior assumed value: got %d, want 1102", got)
	}

	// a recovery to full value pays the senior claim first, junior takes
	// the rest against its grown claim
	assertWaterfall(t, f, t2, []int64{0, 940, 1060})
}

func TestDeficit_NotInflatedByCarriedFees(t *testing.T) {
	// a tranche left with nothing still owes its carried fees; repeated
	// checkpoints at one timestamp must not fold that debt into the deficit
	f := startedFixture(t, fixtureOpts{protocolFeeBps: 200, tranches: feeCarryTranches()})
	t1 := t0.Add(year)

	if err := f.v.Disburse(manager, borrower, 3000, 3000, "r1", t0); err != nil {
		t.Fatalf("disburse failed: %v", err)
	}
	if err := f.v.UpdateState(manager, 0, "r2", t1); err != nil {
		t.Fatalf("update state failed: %v", err)
	}
	if err := f.v.UpdateCheckpoints(t1); err != nil {
		t.Fatalf("checkpoint failed: %v", err)
	}

	type trancheState struct {
		checkpoint vault.Checkpoint
		deficit    vault.DeficitCheckpoint
		unpaidProtocol, unpaidManager int64
	}
	capture := func() [3]trancheState {
		var states [3]trancheState
		for i := 0; i < 3; i++ {
			tr, _ := f.v.TrancheAt(i)
			states[i] = trancheState{checkpoint: tr.LastCheckpoint(), deficit: tr.LastDeficit()}
			states[i].unpaidProtocol, states[i].unpaidManager = tr.UnpaidFees()
		}
		return states
	}

	first := capture()

	senior := first[2]
	if senior.deficit.Deficit != 1000 {
		t.Fatalf("senior deficit: got %d, want 1000", senior.deficit.Deficit)
	}
	if senior.unpaidProtocol != 20 || senior.unpaidManager != 10 {
		t.Fatalf("senior unpaid: got (%d, %d), want (20, 10)", senior.unpaidProtocol, senior.unpaidManager)
	}
	junior := first[1]
	if junior.deficit.Deficit != 1030 {
		t.Fatalf("junior deficit: got %d, want 1030", junior.deficit.Deficit)
	}
	if junior.unpaidProtocol != 20 || junior.unpaidManager != 0 {
		t.Fatalf("junior unpaid: got (%d, %d), want (20, 0)", junior.unpaidProtocol, junior.unpaidManager)
	}

	for call := 0; call < 3; call++ {
		if err := f.v.UpdateCheckpoints(t1); err != nil {
			t.Fatalf("checkpoint %d failed: %v", call+2, err)
		}
		if got := capture(); got != first {
			t.Fatalf("state drifted on call %d: got %+v, want %+v", call+2, got, first)
		}
	}
	assertConservation(t, f)
}

func TestDeficit_CarriedFeeDebtRecoveredOnce(t *testing.T) {
	// after a full loss the unpaid fees sit in both the fee accumulators and
	// the waterfall add-back; a full repayment settles them a single time
	f := startedFixture(t, fixtureOpts{protocolFeeBps: 200, tranches: feeCarryTranches()})
	t1 := t0.Add(year)

	if err := f.v.Disburse(manager, borrower, 3000, 3000, "r1", t0); err != nil {
		t.Fatalf("disburse failed: %v", err)
	}
	if err := f.v.UpdateState(manager, 0, "r2", t1); err != nil {
		t.Fatalf("update state failed: %v", err)
	}
	for call := 0; call < 3; call++ {
		if err := f.v.UpdateCheckpoints(t1); err != nil {
			t.Fatalf("checkpoint failed: %v", err)
		}
	}
	if err := f.v.Repay(repayer, borrower, 3000, 0, 0, "r3", t1); err != nil {
		t.Fatalf("repay failed: %v", err)
	}
	if err := f.v.UpdateCheckpoints(t1); err != nil {
		t.Fatalf("checkpoint failed: %v", err)
	}

	// senior recovers 1030 less 30 in fees, junior 1050 less 20, equity the
	// 920 remainder less 20; charging the fee debt twice would show up as a
	// second 30/20/20 shortfall here
	assertWaterfall(t, f, t1, []int64{900, 1030, 1000})

	if got := f.book.BalanceOf(f.treasury); got != 60 {
		t.Errorf("treasury: got %d, want 60", got)
	}
	if got := f.externalBalance(beneficiary); got != 10 {
		t.Errorf("manager fee beneficiary: got %d, want 10", got)
	}
	if got := f.v.VirtualTokenBalance(); got != 2930 {
		t.Errorf("virtual: got %d, want 2930", got)
	}
	for i := 0; i < 3; i++ {
		tr, _ := f.v.TrancheAt(i)
		if got := tr.LastDeficit().Deficit; got != 0 {
			t.Errorf("tranche %d deficit after recovery: got %d, want 0", i, got)
		}
		unpaidProtocol, unpaidManager := tr.UnpaidFees()
		if unpaidProtocol != 0 || unpaidManager != 0 {
			t.Errorf("tranche %d unpaid fees: got (%d, %d), want (0, 0)", i, unpaidProtocol, unpaidManager)
		}
	}
	assertConservation(t, f)
}

// ============================================================================
// Test: Checkpoint commits
// ============================================================================

func TestUpdateCheckpoints_NotBeforeStart(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	if err := f.v.UpdateCheckpoints(t0); err == nil {
		t.Error("checkpoint before start should fail")
	}
}

func TestUpdateCheckpoints_IdempotentAtFixedTimestamp(t *testing.T) {
	f := startedFixture(t, fixtureOpts{protocolFeeBps: 200})
	t1 := t0.Add(year)

	if err := f.v.UpdateCheckpoints(t1); err != nil {
		t.Fatalf("first checkpoint failed: %v", err)
	}
	virtualAfterFirst := f.v.VirtualTokenBalance()
	var checkpoints [3]vault.Checkpoint
	for i := 0; i < 3; i++ {
		tr, _ := f.v.TrancheAt(i)
		checkpoints[i] = tr.LastCheckpoint()
	}

	if err := f.v.UpdateCheckpoints(t1); err != nil {
		t.Fatalf("second checkpoint failed: %v", err)
	}
	if got := f.v.VirtualTokenBalance(); got != virtualAfterFirst {
		t.Errorf("virtual balance drifted: got %d, want %d", got, virtualAfterFirst)
	}
	for i := 0; i < 3; i++ {
		tr, _ := f.v.TrancheAt(i)
		if got := tr.LastCheckpoint(); got != checkpoints[i] {
			t.Errorf("tranche %d checkpoint drifted: got %+v, want %+v", i, got, checkpoints[i])
		}
	}
	assertConservation(t, f)
}

func TestUpdateCheckpoints_PaysFeesFromLiquidity(t *testing.T) {
	f := startedFixture(t, fixtureOpts{protocolFeeBps: 200})
	t1 := t0.Add(year)

	if err := f.v.UpdateCheckpoints(t1); err != nil {
		t.Fatalf("checkpoint failed: %v", err)
	}

	// 2% on each tranche's checkpointed 1000 for a year
	if got := f.book.BalanceOf(f.treasury); got != 60 {
		t.Errorf("treasury: got %d, want 60", got)
	}
	if got := f.v.VirtualTokenBalance(); got != 2940 {
		t.Errorf("virtual: got %d, want 2940", got)
	}
	for i := 0; i < 3; i++ {
		tr, _ := f.v.TrancheAt(i)
		unpaidProtocol, unpaidManager := tr.UnpaidFees()
		if unpaidProtocol != 0 || unpaidManager != 0 {
			t.Errorf("tranche %d unpaid fees: got (%d, %d), want (0, 0)", i, unpaidProtocol, unpaidManager)
		}
	}
	assertConservation(t, f)
}

// ============================================================================
// Test: Fee carry
// ============================================================================

func feeCarryTranches() []vault.TrancheInit {
	tranches := standardTranches()
	tranches[2].ManagerFeeRate = 100
	tranches[2].ManagerFeeBeneficiary = beneficiary
	return tranches
}

func TestFees_ShortfallCarriedWhenIlliquid(t *testing.T) {
	f := startedFixture(t, fixtureOpts{protocolFeeBps: 200, tranches: feeCarryTranches()})
	t1 := t0.Add(year)

	// deploy everything so there is no liquidity to settle fees with
	if err := f.v.Disburse(manager, borrower, 3000, 3000, "r1", t0); err != nil {
		t.Fatalf("disburse failed: %v", err)
	}
	if err := f.v.UpdateCheckpoints(t1); err != nil {
		t.Fatalf("checkpoint failed: %v", err)
	}

	senior, _ := f.v.TrancheAt(2)
	unpaidProtocol, unpaidManager := senior.UnpaidFees()
	if unpaidProtocol != 20 || unpaidManager != 10 {
		t.Errorf("senior unpaid: got (%d, %d), want (20, 10)", unpaidProtocol, unpaidManager)
	}
	if got := senior.LastCheckpoint().TotalAssets; got != 1000 {
		t.Errorf("senior checkpoint: got %d, want 1000", got)
	}

	junior, _ := f.v.TrancheAt(1)
	unpaidProtocol, unpaidManager = junior.UnpaidFees()
	if unpaidProtocol != 20 || unpaidManager != 0 {
		t.Errorf("junior unpaid: got (%d, %d), want (20, 0)", unpaidProtocol, unpaidManager)
	}
	if got := junior.LastCheckpoint().TotalAssets; got != 1030 {
		t.Errorf("junior checkpoint: got %d, want 1030", got)
	}

	equity, _ := f.v.TrancheAt(0)
	if got := equity.LastCheckpoint().TotalAssets; got != 900 {
		t.Errorf("equity checkpoint: got %d, want 900", got)
	}

	if got := f.book.BalanceOf(f.treasury); got != 0 {
		t.Errorf("treasury should be empty: got %d", got)
	}
}

func TestFees_CarriedDebtSettledWhenLiquidityReturns(t *testing.T) {
	f := startedFixture(t, fixtureOpts{protocolFeeBps: 200, tranches: feeCarryTranches()})
	t1 := t0.Add(year)

	if err := f.v.Disburse(manager, borrower, 3000, 3000, "r1", t0); err != nil {
		t.Fatalf("disburse failed: %v", err)
	}
	if err := f.v.UpdateCheckpoints(t1); err != nil {
		t.Fatalf("checkpoint failed: %v", err)
	}
	if err := f.v.Repay(repayer, borrower, 3000, 0, 0, "r2", t1); err != nil {
		t.Fatalf("repay failed: %v", err)
	}
	if err := f.v.UpdateCheckpoints(t1); err != nil {
		t.Fatalf("checkpoint failed: %v", err)
	}

	if got := f.book.BalanceOf(f.treasury); got != 60 {
		t.Errorf("treasury: got %d, want 60", got)
	}
	if got := f.externalBalance(beneficiary); got != 10 {
		t.Errorf("manager fee beneficiary: got %d, want 10", got)
	}
	if got := f.v.VirtualTokenBalance(); got != 2930 {
		t.Errorf("virtual: got %d, want 2930", got)
	}
	for i := 0; i < 3; i++ {
		tr, _ := f.v.TrancheAt(i)
		unpaidProtocol, unpaidManager := tr.UnpaidFees()
		if unpaidProtocol != 0 || unpaidManager != 0 {
			t.Errorf("tranche %d unpaid fees: got (%d, %d), want (0, 0)", i, unpaidProtocol, unpaidManager)
		}
	}
	assertConservation(t, f)
}
