package vault

// Capability is a single permission an actor can hold on a vault.
// Actors are opaque string identities supplied by the caller.
type Capability int

const (
	// CapManager may start, close, disburse, update state, and change
	// vault parameters
	CapManager Capability = iota

	// CapPauser may suspend and resume mutating actions
	CapPauser

	// CapRepayer may report repayments on behalf of borrowers
	CapRepayer

	// CapBorrower marks an approved disbursement recipient; checked only
	// when the vault restricts borrowers
	CapBorrower
)

func (c Capability) String() string {
	switch c {
	case CapManager:
		return "manager"
	case CapPauser:
		return "pauser"
	case CapRepayer:
		return "repayer"
	case CapBorrower:
		return "borrower"
	}
	return "unknown"
}

// AccessList is a per-vault capability map. There is no global role
// registry; every grant is scoped to the vault that owns the list.
type AccessList struct {
	grants map[string]map[Capability]bool
}

func NewAccessList() *AccessList {
	return &AccessList{grants: make(map[string]map[Capability]bool)}
}

// Grant gives an actor a capability. Granting twice is a no-op.
func (a *AccessList) Grant(actor string, cap Capability) {
	caps, ok := a.grants[actor]
	if !ok {
		caps = make(map[Capability]bool)
		a.grants[actor] = caps
	}
	caps[cap] = true
}

// Revoke removes a capability from an actor.
func (a *AccessList) Revoke(actor string, cap Capability) {
	if caps, ok := a.grants[actor]; ok {
		delete(caps, cap)
	}
}

// Has reports whether the actor holds the capability.
func (a *AccessList) Has(actor string, cap Capability) bool {
	return a.grants[actor][cap]
}
