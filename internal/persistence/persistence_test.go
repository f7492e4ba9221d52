package persistence_test

import (
	"StructuredVault/internal/core"
	"StructuredVault/internal/event"
	"StructuredVault/internal/ledger"
	"StructuredVault/internal/persistence"
	"StructuredVault/internal/testutil"
	"context"
	"crypto/sha256"
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
)

var t0 = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

// setupLogSchemaDB opens the test database and applies migrations. Skips
// when Postgres is unreachable.
func setupLogSchemaDB(t *testing.T) (*sql.DB, *persistence.Reader, func()) {
	t.Helper()
	sqlDB, cleanup := testutil.SetupTestDB(t)

	migrator := persistence.NewMigrator(sqlDB, "../../migrations")
	if err := migrator.Up(context.Background()); err != nil {
		cleanup()
		t.Fatalf("migrate up: %v", err)
	}
	return sqlDB, persistence.NewReader(sqlDB), cleanup
}

func hashFor(seq int64) [32]byte {
	return sha256.Sum256([]byte{byte(seq)})
}

func makeOutput(seq int64, actionKey string, withEntry bool) core.Output {
	prev := hashFor(seq - 1)
	cur := hashFor(seq)
	out := core.Output{
		Envelope: event.Envelope{
			Sequence:  seq,
			VaultName: "vault-a",
			ActionID:  uint64(seq),
			ActionKey: actionKey,
			EventType: event.EventTypeDeposit,
			Timestamp: t0.Add(time.Duration(seq) * time.Second),
			Payload:   &event.Deposit{TrancheIdx: 0, Depositor: "alice", Amount: 100},
			StateHash: cur,
			PrevHash:  prev,
		},
	}
	if withEntry {
		out.Entries = []ledger.Entry{{
			EntryID:   uuid.New(),
			From:      ledger.NewExternalAccountKey("alice"),
			To:        ledger.NewTrancheAccountKey("EQT"),
			Amount:    100,
			Kind:      ledger.EntryKindDeposit,
			Ref:       "vault-a:deposit",
			Timestamp: t0,
		}}
	}
	return out
}

func TestWorker_WritesEventsAndEntries(t *testing.T) {
	sqlDB, reader, cleanup := setupLogSchemaDB(t)
	defer cleanup()

	inputChan := make(chan core.Output, 16)
	worker := persistence.NewWorker(sqlDB, inputChan, 4, 50*time.Millisecond, nil)

	done := make(chan error, 1)
	go func() { done <- worker.Run(context.Background()) }()

	for seq := int64(0); seq < 6; seq++ {
		inputChan <- makeOutput(seq, "", seq == 0)
	}
	close(inputChan)
	if err := <-done; err != nil {
		t.Fatalf("worker run: %v", err)
	}

	events, err := reader.LoadEventsFrom(context.Background(), 0, 100)
	if err != nil {
		t.Fatalf("load events: %v", err)
	}
	if len(events) != 6 {
		t.Fatalf("got %d events, want 6", len(events))
	}
	for i, e := range events {
		if e.Sequence != int64(i) {
			t.Errorf("event %d: sequence got %d", i, e.Sequence)
		}
		if e.EventType != "Deposit" {
			t.Errorf("event %d: type got %q, want Deposit", i, e.EventType)
		}
		if len(e.StateHash) != 32 {
			t.Errorf("event %d: state hash has %d bytes", i, len(e.StateHash))
		}
	}

	entries, err := reader.LoadEntriesForSequence(context.Background(), 0)
	if err != nil {
		t.Fatalf("load entries: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	if entries[0].Kind != "deposit" || entries[0].Amount != 100 {
		t.Errorf("entry: got %+v", entries[0])
	}
	if entries[0].FromAccount != "external:alice" {
		t.Errorf("from account: got %q", entries[0].FromAccount)
	}
}

func TestWorker_ReplayIsIdempotent(t *testing.T) {
	sqlDB, reader, cleanup := setupLogSchemaDB(t)
	defer cleanup()

	for run := 0; run < 2; run++ {
		inputChan := make(chan core.Output, 16)
		worker := persistence.NewWorker(sqlDB, inputChan, 4, 50*time.Millisecond, nil)
		done := make(chan error, 1)
		go func() { done <- worker.Run(context.Background()) }()

		for seq := int64(0); seq < 3; seq++ {
			inputChan <- makeOutput(seq, "", false)
		}
		close(inputChan)
		if err := <-done; err != nil {
			t.Fatalf("worker run %d: %v", run, err)
		}
	}

	events, err := reader.LoadEventsFrom(context.Background(), 0, 100)
	if err != nil {
		t.Fatalf("load events: %v", err)
	}
	if len(events) != 3 {
		t.Errorf("replay duplicated rows: got %d events, want 3", len(events))
	}
}

func TestReader_LoadChainTip(t *testing.T) {
	sqlDB, reader, cleanup := setupLogSchemaDB(t)
	defer cleanup()

	_, _, found, err := reader.LoadChainTip(context.Background())
	if err != nil {
		t.Fatalf("load empty chain tip: %v", err)
	}
	if found {
		t.Fatal("empty log should report found=false")
	}

	inputChan := make(chan core.Output, 16)
	worker := persistence.NewWorker(sqlDB, inputChan, 4, 50*time.Millisecond, nil)
	done := make(chan error, 1)
	go func() { done <- worker.Run(context.Background()) }()
	for seq := int64(0); seq < 5; seq++ {
		inputChan <- makeOutput(seq, "", false)
	}
	close(inputChan)
	if err := <-done; err != nil {
		t.Fatalf("worker run: %v", err)
	}

	seq, hash, found, err := reader.LoadChainTip(context.Background())
	if err != nil {
		t.Fatalf("load chain tip: %v", err)
	}
	if !found {
		t.Fatal("chain tip not found")
	}
	if seq != 4 {
		t.Errorf("sequence: got %d, want 4", seq)
	}
	if hash != hashFor(4) {
		t.Error("chain tip hash does not match last written envelope")
	}
}

func TestIdempotencyChecker_FindsPersistedKeys(t *testing.T) {
	sqlDB, reader, cleanup := setupLogSchemaDB(t)
	defer cleanup()

	inputChan := make(chan core.Output, 16)
	worker := persistence.NewWorker(sqlDB, inputChan, 4, 50*time.Millisecond, nil)
	done := make(chan error, 1)
	go func() { done <- worker.Run(context.Background()) }()
	inputChan <- makeOutput(0, "dep-1", false)
	inputChan <- makeOutput(1, "", false)
	close(inputChan)
	if err := <-done; err != nil {
		t.Fatalf("worker run: %v", err)
	}

	checker := persistence.NewPostgresIdempotencyChecker(sqlDB)
	isDup, err := checker.IsDuplicate("deposit", "dep-1")
	if err != nil {
		t.Fatalf("dedup lookup: %v", err)
	}
	if !isDup {
		t.Error("persisted key should be a duplicate")
	}
	isDup, err = checker.IsDuplicate("deposit", "dep-unknown")
	if err != nil {
		t.Fatalf("dedup lookup: %v", err)
	}
	if isDup {
		t.Error("unknown key should not be a duplicate")
	}

	keys, err := reader.LoadRecentActionKeys(context.Background(), 100)
	if err != nil {
		t.Fatalf("load recent keys: %v", err)
	}
	if len(keys) != 1 || keys[0] != "dep-1" {
		t.Errorf("recent keys: got %v, want [dep-1]", keys)
	}
}
