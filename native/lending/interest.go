package lending

import (
	"fmt"
	"math/big"
)

// RateModel is the piecewise linear borrow rate curve. All parameters are WAD
// fixed-point: rates are annual fractions and Kink is a utilisation ratio.
type RateModel struct {
	// BaseRate is the borrow rate applied at zero utilisation.
	BaseRate *big.Int
	// Slope1 is the rate increase per unit of utilisation below the kink.
	Slope1 *big.Int
	// Slope2 is the rate increase per unit of utilisation beyond the kink.
	Slope2 *big.Int
	// Kink is the utilisation ratio where the curve steepens.
	Kink *big.Int
}

// DefaultRateModel returns a kinked curve with a modest base rate: 2% base,
// 15% first slope, 60% second slope and an 80% kink.
func DefaultRateModel() *RateModel {
	return &RateModel{
		BaseRate: big.NewInt(20_000_000_000_000_000),
		Slope1:   big.NewInt(150_000_000_000_000_000),
		Slope2:   big.NewInt(600_000_000_000_000_000),
		Kink:     big.NewInt(800_000_000_000_000_000),
	}
}

// Clone returns a deep copy of the rate model.
func (m *RateModel) Clone() *RateModel {
	if m == nil {
		return nil
	}
	return &RateModel{
		BaseRate: copyBig(m.BaseRate),
		Slope1:   copyBig(m.Slope1),
		Slope2:   copyBig(m.Slope2),
		Kink:     copyBig(m.Kink),
	}
}

// Validate checks the model parameters: rates must be non-negative and the
// kink must lie within the unit interval.
func (m *RateModel) Validate() error {
	if m == nil {
		return fmt.Errorf("rate model required")
	}
	params := []struct {
		name  string
		value *big.Int
	}{
		{"base rate", m.BaseRate},
		{"slope1", m.Slope1},
		{"slope2", m.Slope2},
		{"kink", m.Kink},
	}
	for _, param := range params {
		if param.value == nil {
			return fmt.Errorf("rate model %s required", param.name)
		}
		if param.value.Sign() < 0 {
			return fmt.Errorf("rate model %s must not be negative", param.name)
		}
	}
	if m.Kink.Cmp(wad) > 0 {
		return fmt.Errorf("rate model kink must not exceed one")
	}
	return nil
}

// Utilization computes totalBorrowed / totalLiquidity as a WAD ratio. A pool
// with no liquidity reports zero utilisation.
func (m *RateModel) Utilization(totalBorrowed, totalLiquidity *big.Int) *big.Int {
	if totalBorrowed == nil || totalBorrowed.Sign() == 0 {
		return big.NewInt(0)
	}
	if totalLiquidity == nil || totalLiquidity.Sign() == 0 {
		return big.NewInt(0)
	}
	return wdiv(totalBorrowed, totalLiquidity)
}

// BorrowRate derives the annual borrow rate for the supplied pool totals. A
// pool with no liquidity pays the base rate.
func (m *RateModel) BorrowRate(totalBorrowed, totalLiquidity *big.Int) *big.Int {
	if m == nil {
		return big.NewInt(0)
	}
	rate := copyBig(m.BaseRate)
	if totalLiquidity == nil || totalLiquidity.Sign() == 0 {
		return rate
	}
	utilization := m.Utilization(totalBorrowed, totalLiquidity)
	if utilization.Sign() == 0 {
		return rate
	}
	kink := copyBig(m.Kink)
	if utilization.Cmp(kink) <= 0 {
		return rate.Add(rate, wmul(m.Slope1, utilization))
	}
	rate.Add(rate, wmul(m.Slope1, kink))
	excess := new(big.Int).Sub(utilization, kink)
	return rate.Add(rate, wmul(m.Slope2, excess))
}
