package lending

import "math/big"

// Reserve captures the configuration and aggregate accounting state for a
// single asset pool. Amounts are denominated in the asset's base units and
// ratios are WAD fixed-point fractions.
type Reserve struct {
	// Asset is the pool's underlying token symbol and unique key.
	Asset string
	// ReceiptToken is the symbol of the mint/burn token representing
	// depositor shares of this pool.
	ReceiptToken string
	// TotalLiquidity is the withdrawable amount currently held by the
	// pool. It grows on deposits, repays and accrued interest, and shrinks
	// on withdrawals and borrow disbursements.
	TotalLiquidity *big.Int
	// TotalBorrowed is the outstanding principal plus accrued interest
	// owed by all borrowers of the asset.
	TotalBorrowed *big.Int
	// LiquidityIndex is the cumulative interest index applied to supplier
	// balances. Starts at one WAD and never decreases.
	LiquidityIndex *big.Int
	// BorrowIndex is the cumulative interest index applied to borrower
	// debt. Starts at one WAD and never decreases.
	BorrowIndex *big.Int
	// LTV is the fraction of collateral value that may be borrowed
	// against.
	LTV *big.Int
	// LiquidationThreshold is the fraction of collateral value at which a
	// position becomes liquidatable. Always >= LTV.
	LiquidationThreshold *big.Int
	// LiquidationBonus is the premium granted to liquidators on seized
	// collateral.
	LiquidationBonus *big.Int
	// CloseFactor bounds the share of outstanding debt a single
	// liquidation call may repay.
	CloseFactor *big.Int
	// Active is set once at initialisation and never unset.
	Active bool
	// LastAccrual is the unix timestamp watermark of the latest interest
	// accrual.
	LastAccrual uint64
}

// Clone returns a deep copy of the reserve with nil amounts normalised to
// zero.
func (r *Reserve) Clone() *Reserve {
	if r == nil {
		return nil
	}
	clone := &Reserve{
		Asset:        r.Asset,
		ReceiptToken: r.ReceiptToken,
		Active:       r.Active,
		LastAccrual:  r.LastAccrual,
	}
	clone.TotalLiquidity = copyBig(r.TotalLiquidity)
	clone.TotalBorrowed = copyBig(r.TotalBorrowed)
	clone.LiquidityIndex = copyBig(r.LiquidityIndex)
	clone.BorrowIndex = copyBig(r.BorrowIndex)
	clone.LTV = copyBig(r.LTV)
	clone.LiquidationThreshold = copyBig(r.LiquidationThreshold)
	clone.LiquidationBonus = copyBig(r.LiquidationBonus)
	clone.CloseFactor = copyBig(r.CloseFactor)
	return clone
}

// Position tracks a user's collateral and debt for a single asset.
type Position struct {
	// Collateral is the deposited amount in real asset units. It is not
	// index scaled.
	Collateral *big.Int
	// ScaledDebt stores debt in borrow-index units; the actual amount owed
	// is ScaledDebt * borrowIndex / WAD.
	ScaledDebt *big.Int
	// CollateralEnabled reports whether the collateral counts toward
	// borrow capacity. Deposits always enable it; no disable path exists.
	CollateralEnabled bool
	// Open marks live membership of the asset in the user's account. It is
	// cleared only when a withdrawal leaves both balances at zero; the
	// record itself is never deleted.
	Open bool
}

// Clone returns a deep copy of the position with nil amounts normalised to
// zero.
func (p *Position) Clone() *Position {
	if p == nil {
		return nil
	}
	return &Position{
		Collateral:        copyBig(p.Collateral),
		ScaledDebt:        copyBig(p.ScaledDebt),
		CollateralEnabled: p.CollateralEnabled,
		Open:              p.Open,
	}
}

// Debt converts the scaled debt to the actual amount owed under the supplied
// borrow index, truncating toward zero.
func (p *Position) Debt(borrowIndex *big.Int) *big.Int {
	if p == nil {
		return big.NewInt(0)
	}
	return wmul(p.ScaledDebt, borrowIndex)
}

// ReserveConfig carries the parameters for initialising a reserve.
type ReserveConfig struct {
	Asset                string
	ReceiptToken         string
	LTV                  *big.Int
	LiquidationThreshold *big.Int
	LiquidationBonus     *big.Int
	CloseFactor          *big.Int
}

// AccountData is the aggregate risk view of a user across every touched
// asset. Values are WAD fixed-point.
type AccountData struct {
	TotalCollateralValue         *big.Int
	TotalDebtValue               *big.Int
	AvailableBorrowCapacity      *big.Int
	WeightedLiquidationThreshold *big.Int
	CurrentLTV                   *big.Int
	HealthFactor                 *big.Int
}

func copyBig(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
