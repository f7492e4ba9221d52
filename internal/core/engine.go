package core

import (
	"StructuredVault/internal/event"
	"StructuredVault/internal/ledger"
	"StructuredVault/internal/observability"
	"StructuredVault/internal/vault"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Engine serializes all vault actions behind a single mutex, stamps the
// resulting events with a global sequence and a state hash, and fans them
// out to the persistence and publish channels.
//
// All timestamps inside an action come from the injected clock, read once
// at the start of the action. The vault itself never reads the wall clock.
type Engine struct {
	mu sync.Mutex

	clock       clockwork.Clock
	vault       *vault.Vault
	book        *ledger.TokenBook
	sequence    int64
	hasher      *StateHasher
	idempotency *IdempotencyChecker
	metrics     *observability.Metrics

	persistChan chan<- Output
	publishChan chan<- Output
}

// Output carries one stamped envelope plus the ledger entries its action
// appended. Entries ride on the first envelope of each action only.
type Output struct {
	Envelope   event.Envelope
	Entries    []ledger.Entry
	StateDelta []byte
}

func NewEngine(
	clock clockwork.Clock,
	v *vault.Vault,
	book *ledger.TokenBook,
	startSequence int64,
	persistChan, publishChan chan<- Output,
	dbChecker DBIdempotencyChecker,
	metrics *observability.Metrics,
) *Engine {
	return &Engine{
		clock:       clock,
		vault:       v,
		book:        book,
		sequence:    startSequence,
		hasher:      NewStateHasher(),
		idempotency: NewIdempotencyChecker(100_000, dbChecker),
		metrics:     metrics,
		persistChan: persistChan,
		publishChan: publishChan,
	}
}

// apply runs one vault action under the engine lock. Events drained from
// the vault are stamped and emitted even when the action itself fails:
// checkpoint preludes commit valid state before an action is rejected, and
// that state must still reach the log.
func (e *Engine) apply(action, idempotencyKey string, fn func(now time.Time) error) error {
	start := time.Now()

	e.mu.Lock()
	defer e.mu.Unlock()

	if idempotencyKey != "" && e.idempotency.IsDuplicate(action, idempotencyKey) {
		if e.metrics != nil {
			e.metrics.IdempotencyDuplicates.WithLabelValues(action).Inc()
		}
		return nil
	}

	entryMark := e.book.EntryCount()
	now := e.clock.Now()

	err := fn(now)
	e.flush(e.vault.DrainEvents(), entryMark, idempotencyKey)

	if cerr := e.book.ValidateConservation(); cerr != nil {
		panic(fmt.Sprintf("FATAL: token conservation violated after %s: %v", action, cerr))
	}

	if err != nil {
		if e.metrics != nil {
			e.metrics.ActionsRejected.WithLabelValues(action, rejectReason(err)).Inc()
		}
		return err
	}

	if idempotencyKey != "" {
		e.idempotency.MarkProcessed(action, idempotencyKey)
	}

	if e.metrics != nil {
		e.metrics.ActionsApplied.WithLabelValues(action).Inc()
		e.metrics.ActionDuration.WithLabelValues(action).Observe(time.Since(start).Seconds())
		e.metrics.CoreSequence.Set(float64(e.sequence))
	}
	e.updateGauges(now)

	return nil
}

// flush stamps drained envelopes with sequence numbers and the state hash
// chain, then sends them downstream. The persist send blocks on a full
// channel (backpressure), the publish send drops.
func (e *Engine) flush(envelopes []event.Envelope, entryMark int, actionKey string) {
	if len(envelopes) == 0 {
		return
	}

	entries := e.book.EntriesSince(entryMark)
	digest := e.computeStateDigest()

	for i := range envelopes {
		env := envelopes[i]
		env.Sequence = e.sequence
		env.ActionKey = actionKey
		env.PrevHash = e.hasher.GetPrevHash()
		env.StateHash = e.hasher.ComputeHash(e.sequence, digest)
		e.sequence++

		out := Output{Envelope: env, StateDelta: digest}
		if i == 0 {
			out.Entries = entries
		}

		select {
		case e.persistChan <- out:
		default:
			if e.metrics != nil {
				e.metrics.PersistBackpressure.Inc()
			}
			e.persistChan <- out
		}

		select {
		case e.publishChan <- out:
		default:
			if e.metrics != nil {
				e.metrics.PublishDrops.Inc()
			}
		}

		e.countEvent(env)
	}
}

func (e *Engine) countEvent(env event.Envelope) {
	if e.metrics == nil {
		return
	}
	name := e.vault.Name()
	switch p := env.Payload.(type) {
	case *event.CheckpointUpdated:
		e.metrics.CheckpointsCommitted.WithLabelValues(name).Inc()
	case *event.ProtocolFeePaid:
		e.metrics.FeesPaid.WithLabelValues(name, "protocol").Add(float64(p.Amount))
	case *event.ManagerFeePaid:
		e.metrics.FeesPaid.WithLabelValues(name, "manager").Add(float64(p.Amount))
	}
}

// computeStateDigest builds the canonical byte image hashed into the state
// chain: every account balance sorted by path, then the vault's scalar
// state, then per-tranche checkpoint state in index order.
func (e *Engine) computeStateDigest() []byte {
	balances := e.book.Snapshot()

	keys := make([]ledger.AccountKey, 0, len(balances))
	for key := range balances {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		return keys[i].AccountPath() < keys[j].AccountPath()
	})

	digest := make([]byte, 0, len(keys)*32+e.vault.TrancheCount()*32+64)
	for _, key := range keys {
		path := key.AccountPath()
		digest = append(digest, byte(len(path)))
		digest = append(digest, path...)
		digest = appendInt64LE(digest, balances[key])
	}

	digest = append(digest, byte(e.vault.Status()))
	digest = appendInt64LE(digest, e.vault.VirtualTokenBalance())
	digest = appendInt64LE(digest, e.vault.OutstandingPrincipal())
	digest = appendInt64LE(digest, e.vault.OutstandingAssets())
	digest = appendInt64LE(digest, e.vault.PaidInterest())
	digest = appendInt64LE(digest, int64(e.vault.ActionCounter()))

	for i := 0; i < e.vault.TrancheCount(); i++ {
		t, _ := e.vault.TrancheAt(i)
		cp := t.LastCheckpoint()
		digest = appendInt64LE(digest, cp.TotalAssets)
		digest = appendInt64LE(digest, cp.ProtocolFeeRate)
		dcp := t.LastDeficit()
		digest = appendInt64LE(digest, dcp.Deficit)
		unpaidProtocol, unpaidManager := t.UnpaidFees()
		digest = appendInt64LE(digest, unpaidProtocol)
		digest = appendInt64LE(digest, unpaidManager)
		digest = appendInt64LE(digest, t.DistributedAssets())
	}

	return digest
}

func appendInt64LE(buf []byte, v int64) []byte {
	return append(buf,
		byte(v),
		byte(v>>8),
		byte(v>>16),
		byte(v>>24),
		byte(v>>32),
		byte(v>>40),
		byte(v>>48),
		byte(v>>56),
	)
}

func (e *Engine) updateGauges(now time.Time) {
	if e.metrics == nil {
		return
	}
	name := e.vault.Name()
	e.metrics.VaultStatus.WithLabelValues(name).Set(float64(e.vault.Status()))
	e.metrics.VirtualTokenBalance.WithLabelValues(name).Set(float64(e.vault.VirtualTokenBalance()))
	e.metrics.OutstandingAssets.WithLabelValues(name).Set(float64(e.vault.OutstandingAssets()))
	e.metrics.OutstandingPrincipal.WithLabelValues(name).Set(float64(e.vault.OutstandingPrincipal()))

	values := e.vault.Waterfall(now)
	for i, value := range values {
		t, err := e.vault.TrancheAt(i)
		if err != nil {
			continue
		}
		e.metrics.TrancheValue.WithLabelValues(name, t.Symbol).Set(float64(value))
		unpaidProtocol, unpaidManager := t.UnpaidFees()
		e.metrics.UnpaidFees.WithLabelValues(name, t.Symbol, "protocol").Set(float64(unpaidProtocol))
		e.metrics.UnpaidFees.WithLabelValues(name, t.Symbol, "manager").Set(float64(unpaidManager))
	}

	e.metrics.DedupLRUSize.Set(float64(e.idempotency.lru.Size()))
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, vault.ErrAuthorization):
		return "authorization"
	case errors.Is(err, vault.ErrInvalidStatus):
		return "invalid_status"
	case errors.Is(err, vault.ErrPaused):
		return "paused"
	case errors.Is(err, vault.ErrRatioViolation):
		return "ratio_violation"
	case errors.Is(err, vault.ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, ledger.ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, vault.ErrOverpayment):
		return "overpayment"
	case errors.Is(err, vault.ErrIndexOutOfBounds):
		return "index_out_of_bounds"
	case errors.Is(err, vault.ErrMinimumSizeNotReached):
		return "minimum_size_not_reached"
	default:
		return "invalid_argument"
	}
}

// --- Actions ---

// CreditExternal mints balance to an external account. This is the funding
// boundary: inbound settlement observed off-system becomes spendable units.
func (e *Engine) CreditExternal(entity string, amount int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.book.Mint(ledger.NewExternalAccountKey(entity), amount, e.clock.Now())
}

func (e *Engine) Start(caller, idempotencyKey string) error {
	return e.apply("start", idempotencyKey, func(now time.Time) error {
		return e.vault.Start(caller, now)
	})
}

func (e *Engine) Disburse(caller, recipient string, amount, newOutstandingAssets int64, assetReportID, idempotencyKey string) error {
	return e.apply("disburse", idempotencyKey, func(now time.Time) error {
		return e.vault.Disburse(caller, recipient, amount, newOutstandingAssets, assetReportID, now)
	})
}

func (e *Engine) Repay(caller, payer string, principal, interest, newOutstandingAssets int64, assetReportID, idempotencyKey string) error {
	return e.apply("repay", idempotencyKey, func(now time.Time) error {
		return e.vault.Repay(caller, payer, principal, interest, newOutstandingAssets, assetReportID, now)
	})
}

func (e *Engine) UpdateState(caller string, newOutstandingAssets int64, assetReportID, idempotencyKey string) error {
	return e.apply("update_state", idempotencyKey, func(now time.Time) error {
		return e.vault.UpdateState(caller, newOutstandingAssets, assetReportID, now)
	})
}

func (e *Engine) UpdateCheckpoints(idempotencyKey string) error {
	return e.apply("update_checkpoints", idempotencyKey, func(now time.Time) error {
		return e.vault.UpdateCheckpoints(now)
	})
}

func (e *Engine) Close(caller, idempotencyKey string) error {
	return e.apply("close", idempotencyKey, func(now time.Time) error {
		return e.vault.Close(caller, now)
	})
}

func (e *Engine) Deposit(trancheIdx int, depositor string, amount int64, idempotencyKey string) error {
	return e.apply("deposit", idempotencyKey, func(now time.Time) error {
		return e.vault.Deposit(trancheIdx, depositor, amount, now)
	})
}

func (e *Engine) Withdraw(trancheIdx int, receiver string, amount int64, idempotencyKey string) error {
	return e.apply("withdraw", idempotencyKey, func(now time.Time) error {
		return e.vault.Withdraw(trancheIdx, receiver, amount, now)
	})
}

func (e *Engine) Pause(caller, idempotencyKey string) error {
	return e.apply("pause", idempotencyKey, func(now time.Time) error {
		return e.vault.Pause(caller, now)
	})
}

func (e *Engine) Unpause(caller, idempotencyKey string) error {
	return e.apply("unpause", idempotencyKey, func(now time.Time) error {
		return e.vault.Unpause(caller, now)
	})
}

func (e *Engine) SetMinimumSize(caller string, size int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.vault.SetMinimumSize(caller, size)
}

// --- Queries ---

// View runs fn under the engine lock with a consistent read of the vault,
// the book, and the current clock time. Query handlers use this instead of
// reaching into the vault directly.
func (e *Engine) View(fn func(v *vault.Vault, book *ledger.TokenBook, now time.Time)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(e.vault, e.book, e.clock.Now())
}

// Sequence returns the next sequence number to be assigned.
func (e *Engine) Sequence() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sequence
}

// StateHash returns the current state hash chain tip.
func (e *Engine) StateHash() [32]byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.hasher.GetPrevHash()
}

// --- Startup ---

// RestoreChainTip resumes the sequence and hash chain from the last
// persisted envelope so a restarted process extends the same chain.
func (e *Engine) RestoreChainTip(lastSequence int64, lastHash [32]byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sequence = lastSequence + 1
	e.hasher.SetPrevHash(lastHash)
}

// WarmLRU preloads recently processed idempotency keys so restarts do not
// fall through to the database on the hot path.
func (e *Engine) WarmLRU(keys []string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.idempotency.lru.WarmFromKeys(keys)
}
