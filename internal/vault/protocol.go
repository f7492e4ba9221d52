package vault

import "StructuredVault/internal/ledger"

// ProtocolConfig is the vault's explicit dependency for protocol-level fee
// terms. The current rate is read at checkpoint commit time and snapshotted
// into the checkpoint; later rate changes never apply retroactively.
type ProtocolConfig interface {
	// ProtocolFeeRate returns the current continuous fee rate in basis
	// points per year.
	ProtocolFeeRate() int64

	// TreasuryAccount returns the account protocol fees are paid to.
	TreasuryAccount() ledger.AccountKey
}

// StaticProtocolConfig is the in-process ProtocolConfig implementation.
type StaticProtocolConfig struct {
	feeRate  int64
	treasury ledger.AccountKey
}

func NewStaticProtocolConfig(feeRateBps int64, treasury ledger.AccountKey) *StaticProtocolConfig {
	return &StaticProtocolConfig{feeRate: feeRateBps, treasury: treasury}
}

func (c *StaticProtocolConfig) ProtocolFeeRate() int64 {
	return c.feeRate
}

func (c *StaticProtocolConfig) TreasuryAccount() ledger.AccountKey {
	return c.treasury
}

// SetProtocolFeeRate changes the rate for future checkpoints only.
func (c *StaticProtocolConfig) SetProtocolFeeRate(feeRateBps int64) {
	c.feeRate = feeRateBps
}
