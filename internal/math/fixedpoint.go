// internal/math/fixedpoint.go
package math

import (
	"math/big"
	"sync"
)

// DecimalConfig defines fixed-point precision
type DecimalConfig struct {
	DecimalPrecision int   // Number of decimal places
	Scale            int64 // 10^DecimalPrecision
}

var (
	// Standard configs
	AmountConfig = DecimalConfig{DecimalPrecision: 6, Scale: 1_000_000} // 0.000001 stablecoin
	ShareConfig  = DecimalConfig{DecimalPrecision: 6, Scale: 1_000_000} // pool shares
	TokenConfig  = DecimalConfig{DecimalPrecision: 6, Scale: 1_000_000} // governance token
	RatioConfig  = DecimalConfig{DecimalPrecision: 6, Scale: 1_000_000} // 1_000_000 = 100%
)

// OneHundredPercent is the ratio scale (parts per million).
const OneHundredPercent = 1_000_000

// SecondsPerYear is the accrual basis for annualized rates.
const SecondsPerYear = 365 * 24 * 3600

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

type RoundingMode int

const (
	RoundHalfEven RoundingMode = iota // Banker's rounding
	RoundDown
	RoundUp
)

// DivideInt128 performs numerator / denominator with rounding.
// Numerator and denominator are expected non-negative.
func DivideInt128(numerator *big.Int, denominator int64, roundingMode RoundingMode) int64 {
	denom := big.NewInt(denominator)
	quotient := getInt128()
	remainder := getInt128()

	quotient.DivMod(numerator, denom, remainder)

	result := quotient.Int64()

	switch roundingMode {
	case RoundHalfEven:
		half := big.NewInt(denominator / 2)
		cmp := remainder.Cmp(half)

		if cmp > 0 {
			result++
		} else if cmp == 0 && denominator%2 == 0 {
			if result%2 != 0 {
				result++
			}
		}
	case RoundUp:
		if remainder.Sign() != 0 {
			result++
		}
	}

	putInt128(quotient)
	putInt128(remainder)

	return result
}

// MulDiv computes a * b / c with a 128-bit intermediate.
// Returns 0 when c == 0.
func MulDiv(a, b, c int64, mode RoundingMode) int64 {
	if c == 0 {
		return 0
	}
	product := MultiplyInt128(a, b)
	result := DivideInt128(product, c, mode)
	putInt128(product)
	return result
}

// ApplyRatio returns amount * ratio / 1_000_000, rounded down.
func ApplyRatio(amount, ratio int64) int64 {
	return MulDiv(amount, ratio, OneHundredPercent, RoundDown)
}

// ComputePremium returns amountInsured * rate, rate in parts per million.
// Rounded up so the pool never under-collects.
func ComputePremium(amountInsured, rate int64) int64 {
	return MulDiv(amountInsured, rate, OneHundredPercent, RoundUp)
}

// ComputeProratedPremium prices an extension of extraTerm seconds against a
// base term of baseTerm seconds.
func ComputeProratedPremium(amountInsured, rate, extraTerm, baseTerm int64) int64 {
	if baseTerm <= 0 {
		return 0
	}
	num := MultiplyInt128(amountInsured, rate)
	num.Mul(num, big.NewInt(extraTerm))
	result := DivideInt128(num, OneHundredPercent*baseTerm, RoundUp)
	putInt128(num)
	return result
}

// ComputeUtilization returns exposure / capital in parts per million.
// Any exposure against zero capital saturates to MaxInt64.
func ComputeUtilization(exposure, capital int64) int64 {
	if exposure <= 0 {
		return 0
	}
	if capital <= 0 {
		return 1<<63 - 1
	}
	return MulDiv(exposure, OneHundredPercent, capital, RoundUp)
}

// ComputeSharesToMint converts a deposit into pool shares at the current
// share price. An empty pool mints 1:1.
func ComputeSharesToMint(amount, totalShares, totalCapital int64) int64 {
	if totalShares == 0 || totalCapital == 0 {
		return amount
	}
	return MulDiv(amount, totalShares, totalCapital, RoundDown)
}

// ComputeSharesToBurn converts a withdrawal amount into the shares it costs.
// Rounded up so a withdrawal never takes more than its shares are worth.
func ComputeSharesToBurn(amount, totalShares, totalCapital int64) int64 {
	if totalShares == 0 || totalCapital == 0 {
		return amount
	}
	return MulDiv(amount, totalShares, totalCapital, RoundUp)
}

// ComputeShareValue converts shares to currency at the current share price.
func ComputeShareValue(shares, totalShares, totalCapital int64) int64 {
	if totalShares == 0 {
		return 0
	}
	return MulDiv(shares, totalCapital, totalShares, RoundDown)
}

// ComputeReward returns principal * annualRate * elapsed / (year * 1e6).
func ComputeReward(principal, annualRate, elapsedSeconds int64) int64 {
	if principal <= 0 || annualRate <= 0 || elapsedSeconds <= 0 {
		return 0
	}
	num := MultiplyInt128(principal, annualRate)
	num.Mul(num, big.NewInt(elapsedSeconds))
	den := new(big.Int).Mul(big.NewInt(SecondsPerYear), big.NewInt(OneHundredPercent))

	q := getInt128()
	q.Quo(num, den)
	result := q.Int64()

	putInt128(num)
	putInt128(q)
	return result
}

// AddChecked returns a + b and false on int64 overflow.
func AddChecked(a, b int64) (int64, bool) {
	sum := a + b
	if (b > 0 && sum < a) || (b < 0 && sum > a) {
		return 0, false
	}
	return sum, true
}
