package money

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidAmount  = errors.New("invalid money amount")
	ErrNegativeAmount = errors.New("money amount must not be negative")
	ErrOverflow       = errors.New("money total out of range")
)

// MaxAmount caps a single operator-entered amount (10 billion in major
// units). It keeps every settlement total far away from int64 overflow.
const MaxAmount Cents = 1_000_000_000_000

var maxCents = decimal.NewFromInt(int64(MaxAmount))

// Cents is a fixed-point amount in minor currency units. All settlement
// arithmetic is done on Cents so equality comparisons are exact.
type Cents int64

// Parse converts operator input such as "1250", "1250.5" or "1250.50" into
// Cents. Blank input is zero. Negative values, more than two fractional
// digits and non-numeric text are rejected.
func Parse(raw string) (Cents, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return 0, nil
	}

	d, err := decimal.NewFromString(trimmed)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, raw)
	}
	if d.IsNegative() {
		return 0, fmt.Errorf("%w: %q", ErrNegativeAmount, raw)
	}

	shifted := d.Shift(2)
	if !shifted.IsInteger() {
		return 0, fmt.Errorf("%w: %q has more than two decimal places", ErrInvalidAmount, raw)
	}
	if shifted.GreaterThan(maxCents) {
		return 0, fmt.Errorf("%w: %q is too large", ErrInvalidAmount, raw)
	}
	return Cents(shifted.IntPart()), nil
}

// MustParse is Parse for literals in tests and seed data.
func MustParse(raw string) Cents {
	c, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return c
}

func (c Cents) String() string {
	return decimal.New(int64(c), -2).StringFixed(2)
}

func Max(a Cents, b Cents) Cents {
	if a > b {
		return a
	}
	return b
}

// Sum adds the values and fails instead of wrapping around.
func Sum(values ...Cents) (Cents, error) {
	total := Cents(0)
	for _, v := range values {
		if (v > 0 && total > math.MaxInt64-v) || (v < 0 && total < math.MinInt64-v) {
			return 0, ErrOverflow
		}
		total += v
	}
	return total, nil
}
