package vault

import (
	"fmt"
	"time"

	"StructuredVault/internal/event"
	"StructuredVault/internal/ledger"
)

// Status is the vault lifecycle state. Transitions are one-way:
// CapitalFormation -> Live -> Closed, with CapitalFormation -> Closed
// permitted when a vault never starts.
type Status int

const (
	StatusCapitalFormation Status = iota
	StatusLive
	StatusClosed
)

func (s Status) String() string {
	switch s {
	case StatusCapitalFormation:
		return "CapitalFormation"
	case StatusLive:
		return "Live"
	case StatusClosed:
		return "Closed"
	}
	return "Unknown"
}

// RateRange is the advertised equity return band, informational only.
type RateRange struct {
	From int64 // bps
	To   int64 // bps
}

// Config is the construction-time configuration of a vault.
type Config struct {
	Name                   string
	Manager                string
	Duration               time.Duration
	CapitalFormationPeriod time.Duration
	MinimumSize            int64
	ExpectedEquityRate     RateRange
	OnlyAllowedBorrowers   bool

	// Index 0 is equity, highest index is most senior.
	Tranches []TrancheInit
}

// Vault is the deterministic core of one securitization. It never reads
// wall-clock time; every action takes the caller's versioned timestamp.
// It is not safe for concurrent use; the engine serializes all access.
type Vault struct {
	name   string
	status Status

	config ProtocolConfig
	book   *ledger.TokenBook
	acl    *AccessList

	account         ledger.AccountKey
	tranches        []*Tranche
	trancheAccounts []ledger.AccountKey

	duration      time.Duration
	startDeadline time.Time
	startDate     time.Time
	endDate       time.Time

	minimumSize          int64
	expectedEquityRate   RateRange
	onlyAllowedBorrowers bool

	virtualTokenBalance  int64
	outstandingPrincipal int64
	outstandingAssets    int64
	paidInterest         int64

	assetReports []string
	actionID     uint64

	paused bool

	pending []event.Envelope
}

// New validates the configuration and constructs a vault in
// CapitalFormation. The creator is granted the manager capability.
func New(cfg Config, book *ledger.TokenBook, protocol ProtocolConfig, createdAt time.Time) (*Vault, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("%w: empty name", ErrInvalidConfig)
	}
	if cfg.Manager == "" {
		return nil, fmt.Errorf("%w: empty manager", ErrInvalidConfig)
	}
	if cfg.Duration <= 0 {
		return nil, fmt.Errorf("%w: duration must be positive", ErrInvalidConfig)
	}
	if len(cfg.Tranches) == 0 {
		return nil, fmt.Errorf("%w: at least one tranche required", ErrInvalidConfig)
	}
	if cfg.MinimumSize < 0 {
		return nil, fmt.Errorf("%w: negative minimum size", ErrInvalidConfig)
	}
	if cfg.Tranches[0].TargetApy != 0 {
		return nil, fmt.Errorf("%w: equity tranche cannot have a target apy", ErrInvalidConfig)
	}
	if cfg.Tranches[0].MinSubordinateRatio != 0 {
		return nil, fmt.Errorf("%w: equity tranche cannot have a min subordinate ratio", ErrInvalidConfig)
	}
	for i, init := range cfg.Tranches {
		if init.Symbol == "" {
			return nil, fmt.Errorf("%w: tranche %d has empty symbol", ErrInvalidConfig, i)
		}
		if init.Decimals != book.Decimals() {
			return nil, fmt.Errorf("%w: tranche %s has %d decimals, asset has %d",
				ErrDecimalsMismatch, init.Symbol, init.Decimals, book.Decimals())
		}
		if init.TargetApy < 0 || init.ManagerFeeRate < 0 || init.MinSubordinateRatio < 0 {
			return nil, fmt.Errorf("%w: tranche %s has a negative rate", ErrInvalidConfig, init.Symbol)
		}
	}

	v := &Vault{
		name:                 cfg.Name,
		status:               StatusCapitalFormation,
		config:               protocol,
		book:                 book,
		acl:                  NewAccessList(),
		account:              ledger.NewVaultAccountKey(cfg.Name),
		duration:             cfg.Duration,
		startDeadline:        createdAt.Add(cfg.CapitalFormationPeriod),
		minimumSize:          cfg.MinimumSize,
		expectedEquityRate:   cfg.ExpectedEquityRate,
		onlyAllowedBorrowers: cfg.OnlyAllowedBorrowers,
	}
	for _, init := range cfg.Tranches {
		v.tranches = append(v.tranches, newTranche(init))
		v.trancheAccounts = append(v.trancheAccounts, ledger.NewTrancheAccountKey(init.Symbol))
	}
	v.acl.Grant(cfg.Manager, CapManager)

	return v, nil
}

// Name returns the vault identifier.
func (v *Vault) Name() string {
	return v.name
}

// Status returns the current lifecycle state.
func (v *Vault) Status() Status {
	return v.status
}

// Access returns the capability map for grant management.
func (v *Vault) Access() *AccessList {
	return v.acl
}

// TrancheCount returns the number of tranches.
func (v *Vault) TrancheCount() int {
	return len(v.tranches)
}

// TrancheAt returns the tranche at idx for read-only inspection.
func (v *Vault) TrancheAt(idx int) (*Tranche, error) {
	if idx < 0 || idx >= len(v.tranches) {
		return nil, fmt.Errorf("%w: %d", ErrIndexOutOfBounds, idx)
	}
	return v.tranches[idx], nil
}

// TrancheAccount returns the custody account of the tranche at idx.
func (v *Vault) TrancheAccount(idx int) (ledger.AccountKey, error) {
	if idx < 0 || idx >= len(v.tranches) {
		return ledger.AccountKey{}, fmt.Errorf("%w: %d", ErrIndexOutOfBounds, idx)
	}
	return v.trancheAccounts[idx], nil
}

// Account returns the vault's own custody account.
func (v *Vault) Account() ledger.AccountKey {
	return v.account
}

// VirtualTokenBalance returns the vault's internal liquid balance.
func (v *Vault) VirtualTokenBalance() int64 {
	return v.virtualTokenBalance
}

// OutstandingPrincipal returns disbursed principal not yet repaid.
func (v *Vault) OutstandingPrincipal() int64 {
	return v.outstandingPrincipal
}

// OutstandingAssets returns the manager's latest valuation of deployed
// assets, principal plus expected interest.
func (v *Vault) OutstandingAssets() int64 {
	return v.outstandingAssets
}

// PaidInterest returns cumulative interest received through repay.
func (v *Vault) PaidInterest() int64 {
	return v.paidInterest
}

// StartDate returns when the vault went Live (zero before start).
func (v *Vault) StartDate() time.Time {
	return v.startDate
}

// EndDate returns the scheduled or actual end of the Live phase.
func (v *Vault) EndDate() time.Time {
	return v.endDate
}

// StartDeadline returns the capital formation cutoff after which anyone
// may close an unstarted vault.
func (v *Vault) StartDeadline() time.Time {
	return v.startDeadline
}

// MinimumSize returns the aggregate deposit floor required to start.
func (v *Vault) MinimumSize() int64 {
	return v.minimumSize
}

// SetMinimumSize lets the manager adjust the start floor during capital
// formation.
func (v *Vault) SetMinimumSize(caller string, size int64) error {
	if !v.acl.Has(caller, CapManager) {
		return fmt.Errorf("%w: %s is not a manager", ErrAuthorization, caller)
	}
	if v.status != StatusCapitalFormation {
		return fmt.Errorf("%w: minimum size is fixed after start", ErrInvalidStatus)
	}
	if size < 0 {
		return fmt.Errorf("%w: negative minimum size", ErrInvalidConfig)
	}
	v.minimumSize = size
	return nil
}

// ExpectedEquityRate returns the advertised equity return band.
func (v *Vault) ExpectedEquityRate() RateRange {
	return v.expectedEquityRate
}

// Paused reports whether mutating actions are suspended.
func (v *Vault) Paused() bool {
	return v.paused
}

// ActionCounter returns the next action id to be assigned.
func (v *Vault) ActionCounter() uint64 {
	return v.actionID
}

// AssetReports returns the recorded report id history.
func (v *Vault) AssetReports() []string {
	out := make([]string, len(v.assetReports))
	copy(out, v.assetReports)
	return out
}

// LatestAssetReport returns the most recent report id, empty if none.
func (v *Vault) LatestAssetReport() string {
	if len(v.assetReports) == 0 {
		return ""
	}
	return v.assetReports[len(v.assetReports)-1]
}

// registerAssetReport appends a report id unless it repeats the latest
// one. Older ids may legitimately reappear and are recorded again.
func (v *Vault) registerAssetReport(id string) {
	if id == "" || id == v.LatestAssetReport() {
		return
	}
	v.assetReports = append(v.assetReports, id)
}

// nextActionID assigns the current counter value and advances it.
func (v *Vault) nextActionID() uint64 {
	id := v.actionID
	v.actionID++
	return id
}

func (v *Vault) emit(actionID uint64, now time.Time, payload event.Event) {
	v.pending = append(v.pending, event.Envelope{
		VaultName: v.name,
		ActionID:  actionID,
		EventType: payload.EventType(),
		Timestamp: now,
		Payload:   payload,
	})
}

// DrainEvents returns buffered events in emission order and clears the
// buffer. The engine assigns global sequence numbers.
func (v *Vault) DrainEvents() []event.Envelope {
	out := v.pending
	v.pending = nil
	return out
}

func (v *Vault) requireNotPaused() error {
	if v.paused {
		return ErrPaused
	}
	return nil
}

// Pause suspends all mutating actions.
func (v *Vault) Pause(caller string, now time.Time) error {
	if !v.acl.Has(caller, CapPauser) {
		return fmt.Errorf("%w: %s is not a pauser", ErrAuthorization, caller)
	}
	if v.paused {
		return fmt.Errorf("%w: already paused", ErrInvalidStatus)
	}
	v.paused = true
	v.emit(v.actionID, now, &event.Paused{By: caller})
	return nil
}

// Unpause resumes mutating actions.
func (v *Vault) Unpause(caller string, now time.Time) error {
	if !v.acl.Has(caller, CapPauser) {
		return fmt.Errorf("%w: %s is not a pauser", ErrAuthorization, caller)
	}
	if !v.paused {
		return fmt.Errorf("%w: not paused", ErrInvalidStatus)
	}
	v.paused = false
	v.emit(v.actionID, now, &event.Unpaused{By: caller})
	return nil
}
