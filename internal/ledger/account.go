package ledger

import "fmt"

// AccountScope represents the top-level account namespace
type AccountScope uint8

const (
	AccountScopeVault AccountScope = iota
	AccountScopeTranche
	AccountScopeProtocol
	AccountScopeExternal
)

// AccountKey identifies a holder of the underlying asset.
// EntityID is the vault name, tranche symbol, or external holder id.
type AccountKey struct {
	Scope    AccountScope
	EntityID string
}

// NewVaultAccountKey creates the custody account for a vault's liquid assets
func NewVaultAccountKey(vaultName string) AccountKey {
	return AccountKey{Scope: AccountScopeVault, EntityID: vaultName}
}

// NewTrancheAccountKey creates the custody account for a single tranche
func NewTrancheAccountKey(symbol string) AccountKey {
	return AccountKey{Scope: AccountScopeTranche, EntityID: symbol}
}

// NewProtocolAccountKey creates a protocol-level account (treasury)
func NewProtocolAccountKey(name string) AccountKey {
	return AccountKey{Scope: AccountScopeProtocol, EntityID: name}
}

// NewExternalAccountKey creates an account for an external party
// (depositor, borrower, fee beneficiary)
func NewExternalAccountKey(id string) AccountKey {
	return AccountKey{Scope: AccountScopeExternal, EntityID: id}
}

// AccountPath returns the string representation for storage/logging
func (k AccountKey) AccountPath() string {
	return fmt.Sprintf("%s:%s", k.scopeName(), k.EntityID)
}

func (k AccountKey) scopeName() string {
	switch k.Scope {
	case AccountScopeVault:
		return "vault"
	case AccountScopeTranche:
		return "tranche"
	case AccountScopeProtocol:
		return "protocol"
	case AccountScopeExternal:
		return "external"
	}
	return "unknown"
}
