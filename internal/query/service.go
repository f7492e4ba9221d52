package query

import (
	"StructuredVault/internal/core"
	"StructuredVault/internal/ledger"
	"StructuredVault/internal/persistence"
	"StructuredVault/internal/vault"
	"context"
	"encoding/hex"
	"encoding/json"
	"sort"
	"time"
)

// Service serves read-only views of the vault. Live state is read from
// the engine under its lock; history and integrity checks go to the
// persisted event log.
type Service struct {
	engine *core.Engine
	reader *persistence.Reader
}

func NewService(engine *core.Engine, reader *persistence.Reader) *Service {
	return &Service{engine: engine, reader: reader}
}

// VaultSummary returns the vault's scalar state as of the current clock.
func (s *Service) VaultSummary() VaultSummary {
	var out VaultSummary
	seq := s.engine.Sequence()
	hash := s.engine.StateHash()

	s.engine.View(func(v *vault.Vault, book *ledger.TokenBook, now time.Time) {
		out = VaultSummary{
			Name:                 v.Name(),
			Status:               v.Status().String(),
			Paused:               v.Paused(),
			StartDeadline:        v.StartDeadline(),
			StartDate:            v.StartDate(),
			EndDate:              v.EndDate(),
			MinimumSize:          v.MinimumSize(),
			TotalAssets:          v.TotalAssets(now),
			LiquidAssets:         v.LiquidAssets(now),
			TotalPendingFees:     v.TotalPendingFees(now),
			VirtualTokenBalance:  v.VirtualTokenBalance(),
			OutstandingPrincipal: v.OutstandingPrincipal(),
			OutstandingAssets:    v.OutstandingAssets(),
			PaidInterest:         v.PaidInterest(),
			ActionCounter:        v.ActionCounter(),
			LatestAssetReport:    v.LatestAssetReport(),
			AsOfSequence:         seq,
			StateHash:            hex.EncodeToString(hash[:]),
			AsOf:                 now,
		}
	})
	return out
}

// Tranches returns detail for every tranche, index order.
func (s *Service) Tranches() []TrancheDetail {
	var out []TrancheDetail
	s.engine.View(func(v *vault.Vault, book *ledger.TokenBook, now time.Time) {
		values := v.Waterfall(now)
		out = make([]TrancheDetail, 0, v.TrancheCount())
		for i := 0; i < v.TrancheCount(); i++ {
			out = append(out, trancheDetail(v, book, i, values[i], now))
		}
	})
	return out
}

// Tranche returns detail for one tranche.
func (s *Service) Tranche(idx int) (TrancheDetail, error) {
	var out TrancheDetail
	var err error
	s.engine.View(func(v *vault.Vault, book *ledger.TokenBook, now time.Time) {
		var value int64
		value, err = v.WaterfallForTranche(idx, now)
		if err != nil {
			return
		}
		out = trancheDetail(v, book, idx, value, now)
	})
	return out, err
}

func trancheDetail(v *vault.Vault, book *ledger.TokenBook, idx int, value int64, now time.Time) TrancheDetail {
	t, _ := v.TrancheAt(idx)
	account, _ := v.TrancheAccount(idx)
	cp := t.LastCheckpoint()
	dcp := t.LastDeficit()
	unpaidProtocol, unpaidManager := t.UnpaidFees()
	maxValue, _ := v.MaxTrancheValueComplyingWithRatio(idx, now)
	minValue, _ := v.MinTrancheValueComplyingWithRatio(idx, now)

	return TrancheDetail{
		Index:                 idx,
		Name:                  t.Name,
		Symbol:                t.Symbol,
		TargetApy:             t.TargetApy,
		MinSubordinateRatio:   t.MinSubordinateRatio,
		ManagerFeeRate:        t.ManagerFeeRate,
		Value:                 value,
		AssumedValue:          t.AssumedValue(now),
		MaxValue:              maxValue,
		MinValue:              minValue,
		CheckpointTotalAssets: cp.TotalAssets,
		CheckpointFeeRate:     cp.ProtocolFeeRate,
		CheckpointTimestamp:   cp.Timestamp,
		Deficit:               dcp.Deficit,
		UnpaidProtocolFee:     unpaidProtocol,
		UnpaidManagerFee:      unpaidManager,
		DistributedAssets:     t.DistributedAssets(),
		MaxValueOnClose:       t.MaxValueOnClose(),
		CustodyBalance:        book.BalanceOf(account),
	}
}

// Waterfall returns the current value allocation across tranches.
func (s *Service) Waterfall() WaterfallResponse {
	var out WaterfallResponse
	seq := s.engine.Sequence()
	s.engine.View(func(v *vault.Vault, book *ledger.TokenBook, now time.Time) {
		out = WaterfallResponse{
			AsOf:         now,
			Values:       v.Waterfall(now),
			TotalAssets:  v.TotalAssets(now),
			AsOfSequence: seq,
		}
	})
	return out
}

// Balances returns every account in the token book, sorted by path.
func (s *Service) Balances() []AccountBalance {
	var out []AccountBalance
	s.engine.View(func(v *vault.Vault, book *ledger.TokenBook, now time.Time) {
		snapshot := book.Snapshot()
		out = make([]AccountBalance, 0, len(snapshot))
		for key, balance := range snapshot {
			out = append(out, AccountBalance{Account: key.AccountPath(), Balance: balance})
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Account < out[j].Account })
	return out
}

// AssetReports returns the registered asset report IDs, oldest first.
func (s *Service) AssetReports() []string {
	var out []string
	s.engine.View(func(v *vault.Vault, book *ledger.TokenBook, now time.Time) {
		out = v.AssetReports()
	})
	return out
}

// Events pages through the persisted event log.
func (s *Service) Events(ctx context.Context, fromSequence int64, limit int) ([]EventRecord, error) {
	rows, err := s.reader.LoadEventsFrom(ctx, fromSequence, limit)
	if err != nil {
		return nil, err
	}
	out := make([]EventRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, EventRecord{
			Sequence:  r.Sequence,
			VaultName: r.VaultName,
			ActionID:  r.ActionID,
			EventType: r.EventType,
			Payload:   json.RawMessage(r.Payload),
			StateHash: hex.EncodeToString(r.StateHash),
			PrevHash:  hex.EncodeToString(r.PrevHash),
			Timestamp: r.Timestamp,
		})
	}
	return out, nil
}

// Entries returns the ledger entries recorded under one sequence.
func (s *Service) Entries(ctx context.Context, sequence int64) ([]EntryRecord, error) {
	rows, err := s.reader.LoadEntriesForSequence(ctx, sequence)
	if err != nil {
		return nil, err
	}
	out := make([]EntryRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, EntryRecord{
			EntryID:     r.EntryID,
			Sequence:    r.Sequence,
			FromAccount: r.FromAccount,
			ToAccount:   r.ToAccount,
			Amount:      r.Amount,
			Kind:        r.Kind,
			Ref:         r.Ref,
			Timestamp:   r.Timestamp,
		})
	}
	return out, nil
}

// VerifyIntegrity checks hash chain continuity in the persisted log and
// token conservation in the live book.
func (s *Service) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	report := &IntegrityReport{Conservation: "ok"}

	const page = 1000
	var prev *persistence.EventRow
	from := int64(0)
	for {
		rows, err := s.reader.LoadEventsFrom(ctx, from, page)
		if err != nil {
			return nil, err
		}
		if len(rows) == 0 {
			break
		}
		for i := range rows {
			row := rows[i]
			if prev != nil && string(row.PrevHash) != string(prev.StateHash) {
				report.HashChainBreaks = append(report.HashChainBreaks, row.Sequence)
			}
			prev = &rows[i]
		}
		from = rows[len(rows)-1].Sequence + 1
		if len(rows) < page {
			break
		}
	}

	s.engine.View(func(v *vault.Vault, book *ledger.TokenBook, now time.Time) {
		if err := book.ValidateConservation(); err != nil {
			report.Conservation = err.Error()
		}
	})

	report.IsHealthy = len(report.HashChainBreaks) == 0 && report.Conservation == "ok"
	return report, nil
}
