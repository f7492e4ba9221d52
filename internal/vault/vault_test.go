package vault_test

import (
	"StructuredVault/internal/ledger"
	"StructuredVault/internal/vault"
	"errors"
	"testing"
	"time"
)

const (
	manager     = "mgr"
	pauser      = "ops"
	repayer     = "servicer"
	depositor   = "alice"
	borrower    = "acme-finco"
	beneficiary = "mgr-fees"
	year        = 365 * 24 * time.Hour
)

var t0 = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

// --- Test helpers ---

func standardTranches() []vault.TrancheInit {
	return []vault.TrancheInit{
		{Name: "Equity", Symbol: "EQT", Decimals: 6},
		{Name: "Junior", Symbol: "JUN", Decimals: 6, TargetApy: 500},
		{Name: "Senior", Symbol: "SEN", Decimals: 6, TargetApy: 300},
	}
}

type fixture struct {
	v        *vault.Vault
	book     *ledger.TokenBook
	protocol *vault.StaticProtocolConfig
	treasury ledger.AccountKey
}

type fixtureOpts struct {
	protocolFeeBps int64
	duration       time.Duration
	minimumSize    int64
	onlyBorrowers  bool
	tranches       []vault.TrancheInit
}

func newFixture(t *testing.T, opts fixtureOpts) *fixture {
	t.Helper()
	if opts.duration == 0 {
		opts.duration = 2 * year
	}
	if opts.tranches == nil {
		opts.tranches = standardTranches()
	}

	book := ledger.NewTokenBook(6)
	treasury := ledger.NewProtocolAccountKey("treasury")
	protocol := vault.NewStaticProtocolConfig(opts.protocolFeeBps, treasury)

	v, err := vault.New(vault.Config{
		Name:                   "vault-a",
		Manager:                manager,
		Duration:               opts.duration,
		CapitalFormationPeriod: 30 * 24 * time.Hour,
		MinimumSize:            opts.minimumSize,
		OnlyAllowedBorrowers:   opts.onlyBorrowers,
		Tranches:               opts.tranches,
	}, book, protocol, t0.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("vault.New failed: %v", err)
	}
	v.Access().Grant(pauser, vault.CapPauser)
	v.Access().Grant(repayer, vault.CapRepayer)

	return &fixture{v: v, book: book, protocol: protocol, treasury: treasury}
}

// fund mints units to an external holder.
func (f *fixture) fund(t *testing.T, holder string, amount int64) {
	t.Helper()
	if err := f.book.Mint(ledger.NewExternalAccountKey(holder), amount, t0); err != nil {
		t.Fatalf("mint failed: %v", err)
	}
}

// depositAll funds the depositor and deposits amounts[i] into tranche i.
func (f *fixture) depositAll(t *testing.T, amounts []int64, now time.Time) {
	t.Helper()
	var total int64
	for _, a := range amounts {
		total += a
	}
	f.fund(t, depositor, total)
	for i, a := range amounts {
		if a == 0 {
			continue
		}
		if err := f.v.Deposit(i, depositor, a, now); err != nil {
			t.Fatalf("deposit into tranche %d failed: %v", i, err)
		}
	}
}

// startedFixture builds a Live vault with 1000 in every tranche at t0.
func startedFixture(t *testing.T, opts fixtureOpts) *fixture {
	t.Helper()
	f := newFixture(t, opts)
	f.depositAll(t, []int64{1000, 1000, 1000}, t0)
	if err := f.v.Start(manager, t0); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	f.v.DrainEvents()
	return f
}

func (f *fixture) trancheBalance(idx int) int64 {
	account, _ := f.v.TrancheAccount(idx)
	return f.book.BalanceOf(account)
}

func (f *fixture) externalBalance(holder string) int64 {
	return f.book.BalanceOf(ledger.NewExternalAccountKey(holder))
}

func assertWaterfall(t *testing.T, f *fixture, asOf time.Time, want []int64) {
	t.Helper()
	got := f.v.Waterfall(asOf)
	if len(got) != len(want) {
		t.Fatalf("waterfall length: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("waterfall[%d]: got %d, want %d", i, got[i], want[i])
		}
	}
}

func assertConservation(t *testing.T, f *fixture) {
	t.Helper()
	if err := f.book.ValidateConservation(); err != nil {
		t.Errorf("conservation broken: %v", err)
	}
}

// ============================================================================
// Test: Construction
// ============================================================================

func TestNew_Valid(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	if got := f.v.Status(); got != vault.StatusCapitalFormation {
		t.Errorf("status: got %v, want CapitalFormation", got)
	}
	if got := f.v.TrancheCount(); got != 3 {
		t.Errorf("tranche count: got %d, want 3", got)
	}
	if f.v.Paused() {
		t.Error("new vault should not be paused")
	}
}

func TestNew_RejectsEmptyName(t *testing.T) {
	book := ledger.NewTokenBook(6)
	protocol := vault.NewStaticProtocolConfig(0, ledger.NewProtocolAccountKey("treasury"))
	_, err := vault.New(vault.Config{
		Manager:  manager,
		Duration: year,
		Tranches: standardTranches(),
	}, book, protocol, t0)
	if !errors.Is(err, vault.ErrInvalidConfig) {
		t.Errorf("got %v, want ErrInvalidConfig", err)
	}
}

func TestNew_RejectsEmptyManager(t *testing.T) {
	book := ledger.NewTokenBook(6)
	protocol := vault.NewStaticProtocolConfig(0, ledger.NewProtocolAccountKey("treasury"))
	_, err := vault.New(vault.Config{
		Name:     "vault-a",
		Duration: year,
		Tranches: standardTranches(),
	}, book, protocol, t0)
	if !errors.Is(err, vault.ErrInvalidConfig) {
		t.Errorf("got %v, want ErrInvalidConfig", err)
	}
}

func TestNew_RejectsNonPositiveDuration(t *testing.T) {
	book := ledger.NewTokenBook(6)
	protocol := vault.NewStaticProtocolConfig(0, ledger.NewProtocolAccountKey("treasury"))
	_, err := vault.New(vault.Config{
		Name:     "vault-a",
		Manager:  manager,
		Tranches: standardTranches(),
	}, book, protocol, t0)
	if !errors.Is(err, vault.ErrInvalidConfig) {
		t.Errorf("got %v, want ErrInvalidConfig", err)
	}
}

func TestNew_RejectsNoTranches(t *testing.T) {
	book := ledger.NewTokenBook(6)
	protocol := vault.NewStaticProtocolConfig(0, ledger.NewProtocolAccountKey("treasury"))
	_, err := vault.New(vault.Config{
		Name:     "vault-a",
		Manager:  manager,
		Duration: year,
	}, book, protocol, t0)
	if !errors.Is(err, vault.ErrInvalidConfig) {
		t.Errorf("got %v, want ErrInvalidConfig", err)
	}
}

func TestNew_RejectsEquityWithTargetApy(t *testing.T) {
	book := ledger.NewTokenBook(6)
	protocol := vault.NewStaticProtocolConfig(0, ledger.NewProtocolAccountKey("treasury"))
	tranches := standardTranches()
	tranches[0].TargetApy = 100
	_, err := vault.New(vault.Config{
		Name:     "vault-a",
		Manager:  manager,
		Duration: year,
		Tranches: tranches,
	}, book, protocol, t0)
	if !errors.Is(err, vault.ErrInvalidConfig) {
		t.Errorf("got %v, want ErrInvalidConfig", err)
	}
}

func TestNew_RejectsEquityWithSubordinateRatio(t *testing.T) {
	book := ledger.NewTokenBook(6)
	protocol := vault.NewStaticProtocolConfig(0, ledger.NewProtocolAccountKey("treasury"))
	tranches := standardTranches()
	tranches[0].MinSubordinateRatio = 1000
	_, err := vault.New(vault.Config{
		Name:     "vault-a",
		Manager:  manager,
		Duration: year,
		Tranches: tranches,
	}, book, protocol, t0)
	if !errors.Is(err, vault.ErrInvalidConfig) {
		t.Errorf("got %v, want ErrInvalidConfig", err)
	}
}

func TestNew_RejectsDecimalsMismatch(t *testing.T) {
	book := ledger.NewTokenBook(6)
	protocol := vault.NewStaticProtocolConfig(0, ledger.NewProtocolAccountKey("treasury"))
	tranches := standardTranches()
	tranches[1].Decimals = 8
	_, err := vault.New(vault.Config{
		Name:     "vault-a",
		Manager:  manager,
		Duration: year,
		Tranches: tranches,
	}, book, protocol, t0)
	if !errors.Is(err, vault.ErrDecimalsMismatch) {
		t.Errorf("got %v, want ErrDecimalsMismatch", err)
	}
}

func TestNew_RejectsEmptySymbol(t *testing.T) {
	book := ledger.NewTokenBook(6)
	protocol := vault.NewStaticProtocolConfig(0, ledger.NewProtocolAccountKey("treasury"))
	tranches := standardTranches()
	tranches[2].Symbol = ""
	_, err := vault.New(vault.Config{
		Name:     "vault-a",
		Manager:  manager,
		Duration: year,
		Tranches: tranches,
	}, book, protocol, t0)
	if !errors.Is(err, vault.ErrInvalidConfig) {
		t.Errorf("got %v, want ErrInvalidConfig", err)
	}
}

func TestNew_RejectsNegativeRate(t *testing.T) {
	book := ledger.NewTokenBook(6)
	protocol := vault.NewStaticProtocolConfig(0, ledger.NewProtocolAccountKey("treasury"))
	tranches := standardTranches()
	tranches[1].ManagerFeeRate = -1
	_, err := vault.New(vault.Config{
		Name:     "vault-a",
		Manager:  manager,
		Duration: year,
		Tranches: tranches,
	}, book, protocol, t0)
	if !errors.Is(err, vault.ErrInvalidConfig) {
		t.Errorf("got %v, want ErrInvalidConfig", err)
	}
}

func TestTrancheAt_OutOfBounds(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	if _, err := f.v.TrancheAt(3); !errors.Is(err, vault.ErrIndexOutOfBounds) {
		t.Errorf("got %v, want ErrIndexOutOfBounds", err)
	}
	if _, err := f.v.TrancheAt(-1); !errors.Is(err, vault.ErrIndexOutOfBounds) {
		t.Errorf("got %v, want ErrIndexOutOfBounds", err)
	}
}

// ============================================================================
// Test: AccessList
// ============================================================================

func TestAccessList_GrantRevoke(t *testing.T) {
	acl := vault.NewAccessList()
	if acl.Has("bob", vault.CapManager) {
		t.Error("fresh list should hold no grants")
	}
	acl.Grant("bob", vault.CapManager)
	if !acl.Has("bob", vault.CapManager) {
		t.Error("grant did not take")
	}
	if acl.Has("bob", vault.CapPauser) {
		t.Error("grant leaked into another capability")
	}
	acl.Revoke("bob", vault.CapManager)
	if acl.Has("bob", vault.CapManager) {
		t.Error("revoke did not take")
	}
}

// ============================================================================
// Test: Pause / Unpause
// ============================================================================

func TestPause_BlocksActions(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	f.fund(t, depositor, 1000)

	if err := f.v.Pause(pauser, t0); err != nil {
		t.Fatalf("pause failed: %v", err)
	}
	if !f.v.Paused() {
		t.Fatal("vault should report paused")
	}
	if err := f.v.Deposit(0, depositor, 100, t0); !errors.Is(err, vault.ErrPaused) {
		t.Errorf("deposit while paused: got %v, want ErrPaused", err)
	}
	if err := f.v.Start(manager, t0); !errors.Is(err, vault.ErrPaused) {
		t.Errorf("start while paused: got %v, want ErrPaused", err)
	}

	if err := f.v.Unpause(pauser, t0); err != nil {
		t.Fatalf("unpause failed: %v", err)
	}
	if err := f.v.Deposit(0, depositor, 100, t0); err != nil {
		t.Errorf("deposit after unpause failed: %v", err)
	}
}

func TestPause_RequiresPauser(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	if err := f.v.Pause(manager, t0); !errors.Is(err, vault.ErrAuthorization) {
		t.Errorf("got %v, want ErrAuthorization", err)
	}
}

func TestPause_DoublePause(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	if err := f.v.Pause(pauser, t0); err != nil {
		t.Fatalf("pause failed: %v", err)
	}
	if err := f.v.Pause(pauser, t0); !errors.Is(err, vault.ErrInvalidStatus) {
		t.Errorf("got %v, want ErrInvalidStatus", err)
	}
}

func TestUnpause_WhenNotPaused(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	if err := f.v.Unpause(pauser, t0); !errors.Is(err, vault.ErrInvalidStatus) {
		t.Errorf("got %v, want ErrInvalidStatus", err)
	}
}

// ============================================================================
// Test: SetMinimumSize
// ============================================================================

func TestSetMinimumSize(t *testing.T) {
	f := newFixture(t, fixtureOpts{minimumSize: 5000})
	f.depositAll(t, []int64{1000, 1000, 1000}, t0)

	if err := f.v.Start(manager, t0); !errors.Is(err, vault.ErrMinimumSizeNotReached) {
		t.Fatalf("got %v, want ErrMinimumSizeNotReached", err)
	}
	if err := f.v.SetMinimumSize(manager, 3000); err != nil {
		t.Fatalf("set minimum size failed: %v", err)
	}
	if err := f.v.Start(manager, t0); err != nil {
		t.Errorf("start after lowering floor failed: %v", err)
	}
}

func TestSetMinimumSize_RequiresManager(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	if err := f.v.SetMinimumSize(depositor, 100); !errors.Is(err, vault.ErrAuthorization) {
		t.Errorf("got %v, want ErrAuthorization", err)
	}
}

func TestSetMinimumSize_OnlyDuringCapitalFormation(t *testing.T) {
	f := startedFixture(t, fixtureOpts{})
	if err := f.v.SetMinimumSize(manager, 100); !errors.Is(err, vault.ErrInvalidStatus) {
		t.Errorf("got %v, want ErrInvalidStatus", err)
	}
}

func TestSetMinimumSize_RejectsNegative(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	if err := f.v.SetMinimumSize(manager, -1); !errors.Is(err, vault.ErrInvalidConfig) {
		t.Errorf("got %v, want ErrInvalidConfig", err)
	}
}
