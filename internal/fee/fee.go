// Package fee computes the protocol fee taken from every gross wager and
// tallies the running total. All arithmetic is exact fixed-point on integer
// decimals; division is floored and the remainder stays with the bettor.
package fee

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/predictfi/updown-engine/internal/store"
)

// Precision is the fixed scale for the fee rate: FeeBps is expressed in
// basis points, so a rate of 100 means 1%.
const Precision = 10_000

// ErrInvalidRate is returned for a fee rate outside [0, Precision).
var ErrInvalidRate = errors.New("fee: rate must be in [0, 10000) basis points")

var precisionDec = decimal.NewFromInt(Precision)

// Compute returns the fee on a gross wager: gross * feeBps / 10000, floored.
func Compute(gross decimal.Decimal, feeBps int64) decimal.Decimal {
	q, _ := gross.Mul(decimal.NewFromInt(feeBps)).QuoRem(precisionDec, 0)
	return q
}

// Split returns (fee, net) for a gross wager. net = gross - fee is the only
// amount ever staked, paid out, or refunded; the fee is retained out of the
// transferred gross, not charged on top.
func Split(gross decimal.Decimal, feeBps int64) (decimal.Decimal, decimal.Decimal) {
	f := Compute(gross, feeBps)
	return f, gross.Sub(f)
}

// ValidateRate checks a configured fee rate.
func ValidateRate(feeBps int64) error {
	if feeBps < 0 || feeBps >= Precision {
		return ErrInvalidRate
	}
	return nil
}

// Accumulator takes the fee out of gross wagers and keeps the process-wide
// running total in the store. The total only ever grows; it is exposed for
// external sweeping and never consumed by settlement math.
type Accumulator struct {
	store store.Store
}

// NewAccumulator creates a fee accumulator over the given store.
func NewAccumulator(st store.Store) *Accumulator {
	return &Accumulator{store: st}
}

// Take computes the fee on gross at the given rate, adds it to the
// accumulated total, and returns (fee, net).
func (a *Accumulator) Take(ctx context.Context, gross decimal.Decimal, feeBps int64) (decimal.Decimal, decimal.Decimal, error) {
	f, net := Split(gross, feeBps)
	if err := a.store.AddAccumulatedFee(ctx, f); err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	return f, net, nil
}

// Total returns the fee collected so far.
func (a *Accumulator) Total(ctx context.Context) (decimal.Decimal, error) {
	return a.store.AccumulatedFee(ctx)
}
