package persistence

import (
	"context"
	"database/sql"
	"fmt"
)

// Reader serves startup and audit queries against the persisted event log.
type Reader struct {
	db *sql.DB
}

func NewReader(db *sql.DB) *Reader {
	return &Reader{db: db}
}

// LoadChainTip returns the highest persisted sequence and its state hash.
// A restarted engine resumes the hash chain from here. Returns found=false
// on an empty log.
func (r *Reader) LoadChainTip(ctx context.Context) (sequence int64, stateHash [32]byte, found bool, err error) {
	var hash []byte
	row := r.db.QueryRowContext(ctx, `
		SELECT sequence, state_hash FROM vault_log.events
		ORDER BY sequence DESC
		LIMIT 1
	`)
	if err = row.Scan(&sequence, &hash); err != nil {
		if err == sql.ErrNoRows {
			return 0, stateHash, false, nil
		}
		return 0, stateHash, false, fmt.Errorf("load chain tip: %w", err)
	}
	if len(hash) != 32 {
		return 0, stateHash, false, fmt.Errorf("load chain tip: state hash has %d bytes, want 32", len(hash))
	}
	copy(stateHash[:], hash)
	return sequence, stateHash, true, nil
}

// LoadRecentActionKeys returns the most recent non-empty idempotency keys
// for warming the engine's dedup LRU.
func (r *Reader) LoadRecentActionKeys(ctx context.Context, limit int) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT DISTINCT ON (action_key) action_key
		FROM vault_log.events
		WHERE action_key <> ''
		ORDER BY action_key, sequence DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// LoadEventsFrom loads persisted envelopes from a given sequence onward,
// used by the audit endpoint.
func (r *Reader) LoadEventsFrom(ctx context.Context, fromSequence int64, limit int) ([]EventRow, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT sequence, vault_name, action_id, action_key, event_type,
		       payload, state_hash, prev_hash, timestamp
		FROM vault_log.events
		WHERE sequence >= $1
		ORDER BY sequence ASC
		LIMIT $2
	`, fromSequence, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []EventRow
	for rows.Next() {
		var e EventRow
		if err := rows.Scan(
			&e.Sequence, &e.VaultName, &e.ActionID, &e.ActionKey, &e.EventType,
			&e.Payload, &e.StateHash, &e.PrevHash, &e.Timestamp,
		); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// LoadEntriesForSequence loads the ledger entries recorded under one
// envelope sequence.
func (r *Reader) LoadEntriesForSequence(ctx context.Context, sequence int64) ([]EntryRow, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT entry_id, sequence, from_account, to_account, amount, kind, ref, timestamp
		FROM vault_log.entries
		WHERE sequence = $1
		ORDER BY entry_id
	`, sequence)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []EntryRow
	for rows.Next() {
		var e EntryRow
		if err := rows.Scan(
			&e.EntryID, &e.Sequence, &e.FromAccount, &e.ToAccount,
			&e.Amount, &e.Kind, &e.Ref, &e.Timestamp,
		); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
