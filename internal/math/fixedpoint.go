package math

import (
	"errors"
	"fmt"
	"math/big"
	"sync"
)

// DecimalConfig defines fixed-point precision
type DecimalConfig struct {
	DecimalPrecision int32 // Number of decimal places
	Scale            int64 // 10^DecimalPrecision
}

var (
	// PriceConfig is the engine's internal price precision (1e-8)
	PriceConfig = DecimalConfig{DecimalPrecision: 8, Scale: 100_000_000}

	// MaxDecimals bounds rescale exponents so 10^d fits comfortably in big.Int math
	MaxDecimals int32 = 36
)

var (
	ErrOverflow     = errors.New("fixed-point overflow")
	ErrDivideByZero = errors.New("division by zero")
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

type RoundingMode int

const (
	RoundDown RoundingMode = iota // toward zero
	RoundHalfEven
)

// MulDivFloor returns floor(a * b / denominator) without intermediate overflow.
// The result must fit in uint64.
func MulDivFloor(a, b, denominator uint64) (uint64, error) {
	if denominator == 0 {
		return 0, ErrDivideByZero
	}

	num := getInt128()
	defer putInt128(num)
	num.SetUint64(a)

	tmp := getInt128()
	defer putInt128(tmp)
	tmp.SetUint64(b)
	num.Mul(num, tmp)

	tmp.SetUint64(denominator)
	num.Quo(num, tmp)

	if !num.IsUint64() {
		return 0, fmt.Errorf("%w: %d*%d/%d", ErrOverflow, a, b, denominator)
	}
	return num.Uint64(), nil
}

// ComputeFee returns floor(total * feeBps / 10000)
func ComputeFee(total uint64, feeBps uint16) uint64 {
	// Rates above 100% are rejected at round creation; saturate if one slips through.
	fee, err := MulDivFloor(total, uint64(feeBps), 10_000)
	if err != nil {
		return total
	}
	return fee
}

// CheckedAdd returns a+b or false on uint64 overflow
func CheckedAdd(a, b uint64) (uint64, bool) {
	sum := a + b
	if sum < a {
		return 0, false
	}
	return sum, true
}

// Rescale converts value expressed with fromDecimals into toDecimals.
// Scaling up is checked for int64 overflow; scaling down applies mode.
func Rescale(value int64, fromDecimals, toDecimals int32, mode RoundingMode) (int64, error) {
	if fromDecimals < 0 || toDecimals < 0 || fromDecimals > MaxDecimals || toDecimals > MaxDecimals {
		return 0, fmt.Errorf("%w: decimals out of range (%d -> %d)", ErrOverflow, fromDecimals, toDecimals)
	}
	if fromDecimals == toDecimals {
		return value, nil
	}

	v := getInt128()
	defer putInt128(v)
	v.SetInt64(value)

	factor := pow10(absDiff(fromDecimals, toDecimals))

	if toDecimals > fromDecimals {
		v.Mul(v, factor)
		if !v.IsInt64() {
			return 0, fmt.Errorf("%w: %d * 10^%d", ErrOverflow, value, toDecimals-fromDecimals)
		}
		return v.Int64(), nil
	}

	return divide(v, factor, mode), nil
}

// divide performs numerator / denominator truncating toward zero, then
// applies banker's rounding when requested.
func divide(numerator, denominator *big.Int, mode RoundingMode) int64 {
	quotient := getInt128()
	remainder := getInt128()
	defer putInt128(quotient)
	defer putInt128(remainder)

	quotient.QuoRem(numerator, denominator, remainder)
	result := quotient.Int64()

	if mode == RoundHalfEven && remainder.Sign() != 0 {
		twice := new(big.Int).Abs(remainder)
		twice.Lsh(twice, 1)
		cmp := twice.Cmp(denominator)
		if cmp > 0 || (cmp == 0 && result%2 != 0) {
			if numerator.Sign() < 0 {
				result--
			} else {
				result++
			}
		}
	}

	return result
}

func pow10(n int32) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}

func absDiff(a, b int32) int32 {
	if a > b {
		return a - b
	}
	return b - a
}
