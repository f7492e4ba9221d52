package fixedpoint_test

import (
	"StructuredVault/internal/fixedpoint"
	"math"
	"testing"
	"time"
)

const year = 365 * 24 * time.Hour

// ============================================================================
// Test: AccruedInterest
// ============================================================================

func TestAccruedInterest_FullYear(t *testing.T) {
	// 1000 at 5% over one year
	got := fixedpoint.AccruedInterest(1000, 500, year)
	if got != 50 {
		t.Errorf("got %d, want 50", got)
	}
}

func TestAccruedInterest_HalfYear(t *testing.T) {
	got := fixedpoint.AccruedInterest(1000, 500, year/2)
	if got != 25 {
		t.Errorf("got %d, want 25", got)
	}
}

func TestAccruedInterest_TruncatesTowardZero(t *testing.T) {
	// 1030 at 3% over one year = 30.9, truncated to 30
	got := fixedpoint.AccruedInterest(1030, 300, year)
	if got != 30 {
		t.Errorf("got %d, want 30", got)
	}
}

func TestAccruedInterest_ZeroPrincipal(t *testing.T) {
	if got := fixedpoint.AccruedInterest(0, 500, year); got != 0 {
		t.Errorf("got %d, want 0", got)
	}
}

func TestAccruedInterest_ZeroRate(t *testing.T) {
	if got := fixedpoint.AccruedInterest(1000, 0, year); got != 0 {
		t.Errorf("got %d, want 0", got)
	}
}

func TestAccruedInterest_ZeroElapsed(t *testing.T) {
	if got := fixedpoint.AccruedInterest(1000, 500, 0); got != 0 {
		t.Errorf("got %d, want 0", got)
	}
}

func TestAccruedInterest_SubSecondElapsed(t *testing.T) {
	if got := fixedpoint.AccruedInterest(1000, 500, 500*time.Millisecond); got != 0 {
		t.Errorf("got %d, want 0", got)
	}
}

func TestAccruedInterest_LargePrincipalNoOverflow(t *testing.T) {
	// principal * rate * seconds far exceeds int64; the widened intermediate
	// keeps the result exact
	principal := int64(math.MaxInt64 / 100)
	got := fixedpoint.AccruedInterest(principal, 100, year)
	want := principal / 100
	if got != want {
		t.Errorf("got %d, want %d", got, want)
	}
}

func TestWithInterest_AddsAccrual(t *testing.T) {
	got := fixedpoint.WithInterest(1000, 300, year)
	if got != 1030 {
		t.Errorf("got %d, want 1030", got)
	}
}

func TestWithInterest_ZeroElapsedIsIdentity(t *testing.T) {
	got := fixedpoint.WithInterest(1234, 500, 0)
	if got != 1234 {
		t.Errorf("got %d, want 1234", got)
	}
}

// ============================================================================
// Test: MulDiv / MulCompare
// ============================================================================

func TestMulDiv_RoundDown(t *testing.T) {
	// 1000 * 1000 / 10000 = 100 exact, 1005 * 1000 / 10000 = 100.5
	if got := fixedpoint.MulDiv(1000, 1000, 10_000, fixedpoint.RoundDown); got != 100 {
		t.Errorf("got %d, want 100", got)
	}
	if got := fixedpoint.MulDiv(1005, 1000, 10_000, fixedpoint.RoundDown); got != 100 {
		t.Errorf("got %d, want 100", got)
	}
}

func TestMulDiv_RoundUp(t *testing.T) {
	if got := fixedpoint.MulDiv(1005, 1000, 10_000, fixedpoint.RoundUp); got != 101 {
		t.Errorf("got %d, want 101", got)
	}
	// exact quotient does not round up
	if got := fixedpoint.MulDiv(1000, 1000, 10_000, fixedpoint.RoundUp); got != 100 {
		t.Errorf("got %d, want 100", got)
	}
}

func TestMulDiv_WidenedIntermediate(t *testing.T) {
	a := int64(math.MaxInt64 / 2)
	got := fixedpoint.MulDiv(a, 4, 2, fixedpoint.RoundDown)
	want := a * 2
	if got != want {
		t.Errorf("got %d, want %d", got, want)
	}
}

func TestMulDiv_OverflowPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on int64 overflow")
		}
	}()
	fixedpoint.MulDiv(math.MaxInt64, math.MaxInt64, 1, fixedpoint.RoundDown)
}

func TestMulCompare(t *testing.T) {
	if got := fixedpoint.MulCompare(3, 4, 2, 6); got != 0 {
		t.Errorf("3*4 vs 2*6: got %d, want 0", got)
	}
	if got := fixedpoint.MulCompare(3, 4, 2, 7); got != -1 {
		t.Errorf("3*4 vs 2*7: got %d, want -1", got)
	}
	if got := fixedpoint.MulCompare(3, 5, 2, 7); got != 1 {
		t.Errorf("3*5 vs 2*7: got %d, want 1", got)
	}
}

func TestMulCompare_NoOverflow(t *testing.T) {
	// both products overflow int64 but compare correctly when widened
	if got := fixedpoint.MulCompare(math.MaxInt64, 2, math.MaxInt64, 3); got != -1 {
		t.Errorf("got %d, want -1", got)
	}
}

// ============================================================================
// Test: SaturatingSub / Min
// ============================================================================

func TestSaturatingSub(t *testing.T) {
	if got := fixedpoint.SaturatingSub(10, 3); got != 7 {
		t.Errorf("got %d, want 7", got)
	}
	if got := fixedpoint.SaturatingSub(3, 10); got != 0 {
		t.Errorf("got %d, want 0", got)
	}
	if got := fixedpoint.SaturatingSub(5, 5); got != 0 {
		t.Errorf("got %d, want 0", got)
	}
}

func TestMin(t *testing.T) {
	if got := fixedpoint.Min(3, 10); got != 3 {
		t.Errorf("got %d, want 3", got)
	}
	if got := fixedpoint.Min(10, 3); got != 3 {
		t.Errorf("got %d, want 3", got)
	}
	if got := fixedpoint.Min(-1, 0); got != -1 {
		t.Errorf("got %d, want -1", got)
	}
}
