package ledger

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrInsufficientBalance is returned when a transfer would overdraw the
// source account.
var ErrInsufficientBalance = errors.New("insufficient balance")

// TokenBook maintains balances of the single underlying asset across vault,
// tranche, protocol, and external accounts, with an append-only entry log.
// It is not safe for concurrent use; the engine serializes all access.
type TokenBook struct {
	decimals uint8
	balances map[AccountKey]int64
	entries  []Entry
	minted   int64
}

func NewTokenBook(decimals uint8) *TokenBook {
	return &TokenBook{
		decimals: decimals,
		balances: make(map[AccountKey]int64),
	}
}

// Decimals returns the precision of the underlying asset.
func (b *TokenBook) Decimals() uint8 {
	return b.decimals
}

// Mint credits newly issued units to an account. Used to fund external
// parties at the boundary; vault operations never mint.
func (b *TokenBook) Mint(to AccountKey, amount int64, now time.Time) error {
	if amount <= 0 {
		return fmt.Errorf("mint amount must be positive: %d", amount)
	}
	b.balances[to] += amount
	b.minted += amount
	b.entries = append(b.entries, Entry{
		EntryID:   uuid.New(),
		From:      NewExternalAccountKey("supply"),
		To:        to,
		Amount:    amount,
		Kind:      EntryKindMint,
		Timestamp: now,
	})
	return nil
}

// Transfer moves amount from one account to another. The source must hold
// at least amount; balances never go negative.
func (b *TokenBook) Transfer(kind EntryKind, from, to AccountKey, amount int64, ref string, now time.Time) error {
	entry := Entry{
		EntryID:   uuid.New(),
		From:      from,
		To:        to,
		Amount:    amount,
		Kind:      kind,
		Ref:       ref,
		Timestamp: now,
	}
	if err := entry.Validate(); err != nil {
		return err
	}
	if b.balances[from] < amount {
		return fmt.Errorf("%w: account %s has %d, transfer needs %d",
			ErrInsufficientBalance, from.AccountPath(), b.balances[from], amount)
	}

	b.balances[from] -= amount
	b.balances[to] += amount
	b.entries = append(b.entries, entry)
	return nil
}

// BalanceOf returns the current balance for an account
func (b *TokenBook) BalanceOf(key AccountKey) int64 {
	return b.balances[key]
}

// TotalMinted returns the total supply issued through Mint.
func (b *TokenBook) TotalMinted() int64 {
	return b.minted
}

// Entries returns a copy of the transfer log.
func (b *TokenBook) Entries() []Entry {
	out := make([]Entry, len(b.entries))
	copy(out, b.entries)
	return out
}

// EntryCount returns the number of entries in the log.
func (b *TokenBook) EntryCount() int {
	return len(b.entries)
}

// EntriesSince returns a copy of the entries appended at or after index n.
func (b *TokenBook) EntriesSince(n int) []Entry {
	if n < 0 || n > len(b.entries) {
		return nil
	}
	out := make([]Entry, len(b.entries)-n)
	copy(out, b.entries[n:])
	return out
}

// ValidateConservation checks that the sum of all balances equals the
// minted supply. A mismatch means a transfer bypassed the book.
func (b *TokenBook) ValidateConservation() error {
	var total int64
	for _, balance := range b.balances {
		total += balance
	}
	if total != b.minted {
		return fmt.Errorf("balance sum %d does not match minted supply %d", total, b.minted)
	}
	return nil
}

// ValidateNonNegative checks that a specific account balance is >= 0
func (b *TokenBook) ValidateNonNegative(key AccountKey) error {
	balance := b.balances[key]
	if balance < 0 {
		return fmt.Errorf("account %s has negative balance: %d", key.AccountPath(), balance)
	}
	return nil
}

// Snapshot returns a copy of all balances (for state inspection)
func (b *TokenBook) Snapshot() map[AccountKey]int64 {
	snapshot := make(map[AccountKey]int64, len(b.balances))
	for k, v := range b.balances {
		snapshot[k] = v
	}
	return snapshot
}
