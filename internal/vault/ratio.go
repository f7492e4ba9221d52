package vault

import (
	"fmt"
	"math"
	"time"

	"StructuredVault/internal/fixedpoint"
)

// ratioSatisfied checks subordinateValue/trancheValue >= ratio without
// losing precision to division: subordinate * 10_000 >= value * ratio,
// compared over widened intermediates.
func ratioSatisfied(subordinateValue, trancheValue, ratioBps int64) bool {
	return fixedpoint.MulCompare(subordinateValue, fixedpoint.OneInBps, trancheValue, ratioBps) >= 0
}

// CheckTranchesRatios verifies every configured subordination floor
// against current values. A zero ratio disables the check for that
// tranche; the equity tranche never has one.
func (v *Vault) CheckTranchesRatios(asOf time.Time) error {
	values := v.Waterfall(asOf)
	subordinate := values[0]

	for i := 1; i < len(v.tranches); i++ {
		ratio := v.tranches[i].MinSubordinateRatio
		if ratio > 0 && !ratioSatisfied(subordinate, values[i], ratio) {
			return fmt.Errorf("%w: tranche %d requires %d bps subordination",
				ErrRatioViolation, i, ratio)
		}
		subordinate += values[i]
	}
	return nil
}

// MaxTrancheValueComplyingWithRatio returns the largest value the tranche
// at idx could hold without breaking its own subordination floor.
// Unbounded (MaxInt64) outside Live or when no floor is configured.
func (v *Vault) MaxTrancheValueComplyingWithRatio(idx int, asOf time.Time) (int64, error) {
	if idx < 0 || idx >= len(v.tranches) {
		return 0, fmt.Errorf("%w: %d", ErrIndexOutOfBounds, idx)
	}
	if v.status != StatusLive {
		return math.MaxInt64, nil
	}
	ratio := v.tranches[idx].MinSubordinateRatio
	if ratio == 0 {
		return math.MaxInt64, nil
	}

	values := v.Waterfall(asOf)
	var subordinate int64
	for i := 0; i < idx; i++ {
		subordinate += values[i]
	}

	return fixedpoint.MulDiv(subordinate, fixedpoint.OneInBps, ratio, fixedpoint.RoundDown), nil
}

// MinTrancheValueComplyingWithRatio returns the smallest value the tranche
// at idx must keep so that every more senior floor still holds. Zero
// outside Live.
func (v *Vault) MinTrancheValueComplyingWithRatio(idx int, asOf time.Time) (int64, error) {
	if idx < 0 || idx >= len(v.tranches) {
		return 0, fmt.Errorf("%w: %d", ErrIndexOutOfBounds, idx)
	}
	if v.status != StatusLive {
		return 0, nil
	}

	values := v.Waterfall(asOf)
	var min int64

	for senior := idx + 1; senior < len(v.tranches); senior++ {
		ratio := v.tranches[senior].MinSubordinateRatio
		if ratio == 0 {
			continue
		}

		// Subordination the senior tranche needs, rounded up so the
		// floor itself always satisfies the check.
		needed := fixedpoint.MulDiv(values[senior], ratio, fixedpoint.OneInBps, fixedpoint.RoundUp)

		var othersBelow int64
		for i := 0; i < senior; i++ {
			if i != idx {
				othersBelow += values[i]
			}
		}

		required := fixedpoint.SaturatingSub(needed, othersBelow)
		if required > min {
			min = required
		}
	}
	return min, nil
}
