// Package fixedpoint implements the checked integer arithmetic used for share and
// amount computations. Nothing in here wraps around silently: every operation that
// can overflow returns model.ErrMathOverflow.
package fixedpoint

import (
	"fmt"
	"math"
	"math/bits"

	"YieldRouter/internal/model"

	"github.com/shopspring/decimal"
)

// Scale is the fixed precision of a share: Scale == 100%.
const Scale uint64 = 1_000_000_000

var maxUint64 = decimal.NewFromUint64(math.MaxUint64)

// AbsDiff returns |a - b|. Both operands must fit in int64.
func AbsDiff(a, b uint64) (uint64, error) {
	if a > math.MaxInt64 || b > math.MaxInt64 {
		return 0, fmt.Errorf("abs diff %d, %d: %w", a, b, model.ErrMathOverflow)
	}
	d := int64(a) - int64(b)
	if d < 0 {
		d = -d
	}
	return uint64(d), nil
}

// PercentRatio returns floor(collateral * amount / total), or 0 when total is zero.
// The product is computed without truncation so repeated calls do not accumulate error.
func PercentRatio(amount, total, collateral uint64) (uint64, error) {
	if total == 0 {
		return 0, nil
	}
	num := decimal.NewFromUint64(collateral).Mul(decimal.NewFromUint64(amount))
	q, _ := num.QuoRem(decimal.NewFromUint64(total), 0)
	if q.GreaterThan(maxUint64) {
		return 0, fmt.Errorf("percent ratio %d*%d/%d: %w", collateral, amount, total, model.ErrMathOverflow)
	}
	return q.BigInt().Uint64(), nil
}

// ShareFloor returns floor(amount * scaledPercent / Scale) using 128-bit intermediates.
func ShareFloor(amount, scaledPercent uint64) (uint64, error) {
	hi, lo := bits.Mul64(amount, scaledPercent)
	if hi >= Scale {
		return 0, fmt.Errorf("share floor %d*%d: %w", amount, scaledPercent, model.ErrMathOverflow)
	}
	q, _ := bits.Div64(hi, lo, Scale)
	return q, nil
}

// Add returns a + b.
func Add(a, b uint64) (uint64, error) {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return 0, fmt.Errorf("add %d+%d: %w", a, b, model.ErrMathOverflow)
	}
	return sum, nil
}

// Sub returns a - b.
func Sub(a, b uint64) (uint64, error) {
	diff, borrow := bits.Sub64(a, b, 0)
	if borrow != 0 {
		return 0, fmt.Errorf("sub %d-%d: %w", a, b, model.ErrMathOverflow)
	}
	return diff, nil
}

// Sum adds all values.
func Sum(values []uint64) (uint64, error) {
	var total uint64
	for _, v := range values {
		next, err := Add(total, v)
		if err != nil {
			return 0, err
		}
		total = next
	}
	return total, nil
}
