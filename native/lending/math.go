package lending

import "math/big"

const secondsPerYear = 31_536_000

var (
	wad = big.NewInt(1_000_000_000_000_000_000)

	// maxHealthFactor is the sentinel reported for accounts with no debt.
	maxHealthFactor = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
)

// Wad returns the fixed-point unit (1.0) used for indices, rates and ratios.
func Wad() *big.Int {
	return new(big.Int).Set(wad)
}

// MaxHealthFactor returns the health factor sentinel assigned to accounts with
// zero aggregate debt.
func MaxHealthFactor() *big.Int {
	return new(big.Int).Set(maxHealthFactor)
}

// wmul multiplies two WAD fixed-point values, truncating toward zero.
func wmul(a, b *big.Int) *big.Int {
	if a == nil || b == nil || a.Sign() == 0 || b.Sign() == 0 {
		return big.NewInt(0)
	}
	product := new(big.Int).Mul(a, b)
	return product.Quo(product, wad)
}

// wdiv divides two WAD fixed-point values, truncating toward zero. Division by
// zero yields zero.
func wdiv(a, b *big.Int) *big.Int {
	if a == nil || b == nil || a.Sign() == 0 || b.Sign() == 0 {
		return big.NewInt(0)
	}
	scaled := new(big.Int).Mul(a, wad)
	return scaled.Quo(scaled, b)
}

func minBig(values ...*big.Int) *big.Int {
	var min *big.Int
	for _, v := range values {
		if v == nil {
			continue
		}
		if min == nil || v.Cmp(min) < 0 {
			min = v
		}
	}
	if min == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(min)
}
