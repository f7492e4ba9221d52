package persistence

import (
	"StructuredVault/internal/core"
	"StructuredVault/internal/observability"
	"context"
	"database/sql"
	"encoding/hex"
	"time"

	"github.com/rs/zerolog"
)

// Worker drains the persist channel and batch-writes envelopes and ledger
// entries to Postgres. The engine uses blocking sends on this channel, so
// a stalled worker stalls the engine rather than losing events.
type Worker struct {
	writer       *EventLogWriter
	db           *sql.DB
	inputChan    <-chan core.Output
	batchSize    int
	flushTimeout time.Duration
	metrics      *observability.Metrics
	logger       zerolog.Logger
}

func NewWorker(
	db *sql.DB,
	inputChan <-chan core.Output,
	batchSize int,
	flushTimeout time.Duration,
	metrics *observability.Metrics,
) *Worker {
	return &Worker{
		writer:       NewEventLogWriter(db),
		db:           db,
		inputChan:    inputChan,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
		metrics:      metrics,
		logger:       observability.NewLogger("persistence"),
	}
}

// Run batches incoming outputs and flushes either when the batch is full
// or the flush timeout expires. Blocks until ctx is cancelled or the
// input channel closes.
func (w *Worker) Run(ctx context.Context) error {
	eventBatch := make([]EventRow, 0, w.batchSize)
	entryBatch := make([]EntryRow, 0, w.batchSize*2)

	timer := time.NewTimer(w.flushTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			if len(eventBatch) > 0 {
				if err := w.flush(context.Background(), eventBatch, entryBatch); err != nil {
					w.logger.Error().Err(err).Msg("final flush failed")
				}
			}
			return ctx.Err()

		case output, ok := <-w.inputChan:
			if !ok {
				if len(eventBatch) > 0 {
					if err := w.flush(context.Background(), eventBatch, entryBatch); err != nil {
						w.logger.Error().Err(err).Msg("final flush failed")
					}
				}
				return nil
			}

			eventBatch = append(eventBatch, toEventRow(output))
			entryBatch = append(entryBatch, toEntryRows(output)...)

			if len(eventBatch) >= w.batchSize {
				w.flushWithRetry(ctx, eventBatch, entryBatch)
				eventBatch = eventBatch[:0]
				entryBatch = entryBatch[:0]
				timer.Reset(w.flushTimeout)
			}

		case <-timer.C:
			if len(eventBatch) > 0 {
				w.flushWithRetry(ctx, eventBatch, entryBatch)
				eventBatch = eventBatch[:0]
				entryBatch = entryBatch[:0]
			}
			timer.Reset(w.flushTimeout)
		}
	}
}

func toEventRow(output core.Output) EventRow {
	env := output.Envelope
	payload, err := MarshalEventPayload(env.Payload)
	if err != nil {
		payload = []byte("{}")
	}
	return EventRow{
		Sequence:  env.Sequence,
		VaultName: env.VaultName,
		ActionID:  int64(env.ActionID),
		ActionKey: env.ActionKey,
		EventType: env.EventType.String(),
		Payload:   payload,
		StateHash: env.StateHash[:],
		PrevHash:  env.PrevHash[:],
		Timestamp: env.Timestamp,
	}
}

func toEntryRows(output core.Output) []EntryRow {
	if len(output.Entries) == 0 {
		return nil
	}
	rows := make([]EntryRow, 0, len(output.Entries))
	for _, e := range output.Entries {
		rows = append(rows, EntryRow{
			EntryID:     e.EntryID.String(),
			Sequence:    output.Envelope.Sequence,
			FromAccount: e.From.AccountPath(),
			ToAccount:   e.To.AccountPath(),
			Amount:      e.Amount,
			Kind:        e.Kind.String(),
			Ref:         e.Ref,
			Timestamp:   e.Timestamp,
		})
	}
	return rows
}

// flushWithRetry retries indefinitely with exponential backoff. The worker
// never drops a batch; on shutdown it attempts one final flush with a
// background context.
func (w *Worker) flushWithRetry(ctx context.Context, events []EventRow, entries []EntryRow) {
	backoff := 100 * time.Millisecond
	const maxBackoff = 30 * time.Second

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			w.logger.Warn().
				Int("attempt", attempt).
				Dur("backoff", backoff).
				Int("events", len(events)).
				Msg("persistence retry")
			select {
			case <-ctx.Done():
				if err := w.flush(context.Background(), events, entries); err != nil {
					w.logger.Error().Err(err).Msg("final flush on shutdown failed")
				}
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}

		if err := w.flush(ctx, events, entries); err == nil {
			if attempt > 0 {
				w.logger.Info().Int("retries", attempt).Msg("persistence flush recovered")
			}
			return
		}

		if w.metrics != nil {
			w.metrics.PersistRetry.Inc()
		}
	}
}

func (w *Worker) flush(ctx context.Context, events []EventRow, entries []EntryRow) error {
	start := time.Now()

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		if w.metrics != nil {
			w.metrics.PersistErrors.WithLabelValues("tx_begin").Inc()
		}
		return err
	}
	defer tx.Rollback()

	if err := w.writer.WriteEventBatch(ctx, tx, events); err != nil {
		if w.metrics != nil {
			w.metrics.PersistErrors.WithLabelValues("write_events").Inc()
		}
		return err
	}

	if err := w.writer.WriteEntryBatch(ctx, tx, entries); err != nil {
		if w.metrics != nil {
			w.metrics.PersistErrors.WithLabelValues("write_entries").Inc()
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		if w.metrics != nil {
			w.metrics.PersistErrors.WithLabelValues("tx_commit").Inc()
		}
		return err
	}

	last := events[len(events)-1]
	w.logger.Debug().
		Int("events", len(events)).
		Int("entries", len(entries)).
		Int64("last_sequence", last.Sequence).
		Str("state_hash", hex.EncodeToString(last.StateHash)).
		Msg("batch flushed")

	if w.metrics != nil {
		w.metrics.PersistBatchDur.Observe(time.Since(start).Seconds())
		w.metrics.PersistBatchSize.Observe(float64(len(events)))
		w.metrics.PersistEventsWritten.Add(float64(len(events)))
		w.metrics.PersistLastSequence.Set(float64(last.Sequence))
	}

	return nil
}
