package fixedpoint

import (
	"math/big"
	"sync"
	"time"
)

const (
	// OneInBps is the denominator for basis-point rates.
	OneInBps int64 = 10_000

	// SecondsPerYear uses a 365-day year for linear accrual.
	SecondsPerYear int64 = 365 * 24 * 60 * 60
)

// Int128 is a pooled big.Int for intermediate calculations
var int128Pool = &sync.Pool{
	New: func() interface{} {
		return new(big.Int)
	},
}

func getInt128() *big.Int {
	return int128Pool.Get().(*big.Int)
}

func putInt128(v *big.Int) {
	v.SetInt64(0) // Clear before returning to pool
	int128Pool.Put(v)
}

// MultiplyInt128 performs a * b using int128 to prevent overflow
func MultiplyInt128(a, b int64) *big.Int {
	result := getInt128()
	result.Mul(big.NewInt(a), big.NewInt(b))
	return result
}

// DivideInt128 performs numerator / denominator with rounding.
// Panics if the quotient does not fit in int64.
func DivideInt128(numerator *big.Int, denominator int64, roundingMode RoundingMode) int64 {
	denom := big.NewInt(denominator)
	quotient := getInt128()
	remainder := getInt128()

	quotient.DivMod(numerator, denom, remainder)

	if !quotient.IsInt64() {
		panic("FATAL: int128 quotient overflows int64")
	}
	result := quotient.Int64()

	if roundingMode == RoundUp && remainder.Sign() > 0 {
		result++
	}

	putInt128(quotient)
	putInt128(remainder)

	return result
}

type RoundingMode int

const (
	RoundDown RoundingMode = iota // Truncation (default for accrual)
	RoundUp
)

// AccruedInterest computes simple linear interest on principal at rateBps
// over elapsed time, truncating toward zero. The intermediate product is
// widened to avoid overflow on large principal * rate * time products.
func AccruedInterest(principal, rateBps int64, elapsed time.Duration) int64 {
	if principal <= 0 || rateBps <= 0 || elapsed <= 0 {
		return 0
	}

	seconds := int64(elapsed / time.Second)
	if seconds <= 0 {
		return 0
	}

	numerator := MultiplyInt128(principal, rateBps)
	numerator.Mul(numerator, big.NewInt(seconds))

	result := DivideInt128(numerator, OneInBps*SecondsPerYear, RoundDown)

	putInt128(numerator)

	return result
}

// WithInterest returns principal plus accrued interest.
func WithInterest(principal, rateBps int64, elapsed time.Duration) int64 {
	return principal + AccruedInterest(principal, rateBps, elapsed)
}

// MulDiv computes a * b / denominator over a widened intermediate.
func MulDiv(a, b, denominator int64, mode RoundingMode) int64 {
	numerator := MultiplyInt128(a, b)
	result := DivideInt128(numerator, denominator, mode)
	putInt128(numerator)
	return result
}

// MulCompare compares a*b against c*d without overflow, returning the
// usual -1, 0, +1.
func MulCompare(a, b, c, d int64) int {
	lhs := MultiplyInt128(a, b)
	rhs := MultiplyInt128(c, d)
	cmp := lhs.Cmp(rhs)
	putInt128(lhs)
	putInt128(rhs)
	return cmp
}

// SaturatingSub returns a - b, floored at zero.
func SaturatingSub(a, b int64) int64 {
	if b >= a {
		return 0
	}
	return a - b
}

// Min returns the smaller of two amounts.
func Min(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
