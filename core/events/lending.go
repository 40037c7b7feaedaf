package events

import (
	"math/big"
	"strings"

	"lendcore/core/types"
	"lendcore/crypto"
)

const (
	// TypeReserveInitialized is emitted when an admin activates a new
	// reserve.
	TypeReserveInitialized = "lending.reserve.initialized"
	// TypeDeposited is emitted when collateral enters a reserve.
	TypeDeposited = "lending.deposited"
	// TypeWithdrawn is emitted when collateral leaves a reserve.
	TypeWithdrawn = "lending.withdrawn"
	// TypeBorrowed is emitted when a borrow draws liquidity from a reserve.
	TypeBorrowed = "lending.borrowed"
	// TypeRepaid is emitted when outstanding debt is paid down. The amount
	// is what was actually applied after capping at the outstanding debt.
	TypeRepaid = "lending.repaid"
	// TypeLiquidated is emitted when a liquidator repays unhealthy debt and
	// seizes collateral.
	TypeLiquidated = "lending.liquidated"
	// TypePricePosted is emitted when the oracle feeder publishes a price.
	TypePricePosted = "lending.price.posted"
	// TypeOracleUpdated is emitted when an admin designates the oracle
	// feeder address.
	TypeOracleUpdated = "lending.oracle.updated"
	// TypeRateModelUpdated is emitted when an admin replaces the borrow
	// rate curve.
	TypeRateModelUpdated = "lending.ratemodel.updated"
	// TypeRoleGranted is emitted when an address is added to a role.
	TypeRoleGranted = "lending.role.granted"
)

// ReserveInitialized captures the risk parameters of a freshly activated
// reserve.
type ReserveInitialized struct {
	Asset                string
	ReceiptToken         string
	LTV                  *big.Int
	LiquidationThreshold *big.Int
	LiquidationBonus     *big.Int
	CloseFactor          *big.Int
}

// EventType implements the Event interface.
func (ReserveInitialized) EventType() string { return TypeReserveInitialized }

// Event converts the reserve activation to the generic event payload.
func (e ReserveInitialized) Event() *types.Event {
	return &types.Event{
		Type: TypeReserveInitialized,
		Attributes: map[string]string{
			"asset":                formatSymbol(e.Asset),
			"receiptToken":         formatSymbol(e.ReceiptToken),
			"ltv":                  formatAmount(e.LTV),
			"liquidationThreshold": formatAmount(e.LiquidationThreshold),
			"liquidationBonus":     formatAmount(e.LiquidationBonus),
			"closeFactor":          formatAmount(e.CloseFactor),
		},
	}
}

// Deposited captures a collateral deposit and the receipt shares it minted.
type Deposited struct {
	User           [20]byte
	Asset          string
	Amount         *big.Int
	MintedShares   *big.Int
	LiquidityIndex *big.Int
}

// EventType implements the Event interface.
func (Deposited) EventType() string { return TypeDeposited }

// Event converts the deposit to the generic event payload.
func (e Deposited) Event() *types.Event {
	return &types.Event{
		Type: TypeDeposited,
		Attributes: map[string]string{
			"user":           formatAddress(e.User),
			"asset":          formatSymbol(e.Asset),
			"amount":         formatAmount(e.Amount),
			"mintedShares":   formatAmount(e.MintedShares),
			"liquidityIndex": formatAmount(e.LiquidityIndex),
		},
	}
}

// Withdrawn captures a collateral withdrawal and the receipt shares burned
// for it.
type Withdrawn struct {
	User           [20]byte
	Asset          string
	Amount         *big.Int
	BurnedShares   *big.Int
	LiquidityIndex *big.Int
}

// EventType implements the Event interface.
func (Withdrawn) EventType() string { return TypeWithdrawn }

// Event converts the withdrawal to the generic event payload.
func (e Withdrawn) Event() *types.Event {
	return &types.Event{
		Type: TypeWithdrawn,
		Attributes: map[string]string{
			"user":           formatAddress(e.User),
			"asset":          formatSymbol(e.Asset),
			"amount":         formatAmount(e.Amount),
			"burnedShares":   formatAmount(e.BurnedShares),
			"liquidityIndex": formatAmount(e.LiquidityIndex),
		},
	}
}

// Borrowed captures a draw of reserve liquidity against posted collateral.
type Borrowed struct {
	User        [20]byte
	Asset       string
	Amount      *big.Int
	BorrowIndex *big.Int
}

// EventType implements the Event interface.
func (Borrowed) EventType() string { return TypeBorrowed }

// Event converts the borrow to the generic event payload.
func (e Borrowed) Event() *types.Event {
	return &types.Event{
		Type: TypeBorrowed,
		Attributes: map[string]string{
			"user":        formatAddress(e.User),
			"asset":       formatSymbol(e.Asset),
			"amount":      formatAmount(e.Amount),
			"borrowIndex": formatAmount(e.BorrowIndex),
		},
	}
}

// Repaid captures a debt repayment. Amount is the applied value after the
// outstanding-debt cap, not the requested one.
type Repaid struct {
	User        [20]byte
	Asset       string
	Amount      *big.Int
	BorrowIndex *big.Int
}

// EventType implements the Event interface.
func (Repaid) EventType() string { return TypeRepaid }

// Event converts the repayment to the generic event payload.
func (e Repaid) Event() *types.Event {
	return &types.Event{
		Type: TypeRepaid,
		Attributes: map[string]string{
			"user":        formatAddress(e.User),
			"asset":       formatSymbol(e.Asset),
			"amount":      formatAmount(e.Amount),
			"borrowIndex": formatAmount(e.BorrowIndex),
		},
	}
}

// Liquidated captures a liquidation: the debt repaid on the borrower's behalf
// and the collateral seized in exchange.
type Liquidated struct {
	Liquidator      [20]byte
	Borrower        [20]byte
	DebtAsset       string
	CollateralAsset string
	Repaid          *big.Int
	Seized          *big.Int
}

// EventType implements the Event interface.
func (Liquidated) EventType() string { return TypeLiquidated }

// Event converts the liquidation to the generic event payload.
func (e Liquidated) Event() *types.Event {
	return &types.Event{
		Type: TypeLiquidated,
		Attributes: map[string]string{
			"liquidator":      formatAddress(e.Liquidator),
			"borrower":        formatAddress(e.Borrower),
			"debtAsset":       formatSymbol(e.DebtAsset),
			"collateralAsset": formatSymbol(e.CollateralAsset),
			"repaid":          formatAmount(e.Repaid),
			"seized":          formatAmount(e.Seized),
		},
	}
}

// PricePosted captures an oracle price publication.
type PricePosted struct {
	Feeder [20]byte
	Asset  string
	Price  *big.Int
}

// EventType implements the Event interface.
func (PricePosted) EventType() string { return TypePricePosted }

// Event converts the price publication to the generic event payload.
func (e PricePosted) Event() *types.Event {
	return &types.Event{
		Type: TypePricePosted,
		Attributes: map[string]string{
			"feeder": formatAddress(e.Feeder),
			"asset":  formatSymbol(e.Asset),
			"price":  formatAmount(e.Price),
		},
	}
}

// OracleUpdated captures the designation of a new oracle feeder.
type OracleUpdated struct {
	Feeder [20]byte
}

// EventType implements the Event interface.
func (OracleUpdated) EventType() string { return TypeOracleUpdated }

// Event converts the feeder designation to the generic event payload.
func (e OracleUpdated) Event() *types.Event {
	return &types.Event{
		Type: TypeOracleUpdated,
		Attributes: map[string]string{
			"feeder": formatAddress(e.Feeder),
		},
	}
}

// RateModelUpdated captures the new borrow curve parameters.
type RateModelUpdated struct {
	BaseRate *big.Int
	Slope1   *big.Int
	Slope2   *big.Int
	Kink     *big.Int
}

// EventType implements the Event interface.
func (RateModelUpdated) EventType() string { return TypeRateModelUpdated }

// Event converts the curve update to the generic event payload.
func (e RateModelUpdated) Event() *types.Event {
	return &types.Event{
		Type: TypeRateModelUpdated,
		Attributes: map[string]string{
			"baseRate": formatAmount(e.BaseRate),
			"slope1":   formatAmount(e.Slope1),
			"slope2":   formatAmount(e.Slope2),
			"kink":     formatAmount(e.Kink),
		},
	}
}

// RoleGranted captures an address joining a role.
type RoleGranted struct {
	Role    string
	Address [20]byte
}

// EventType implements the Event interface.
func (RoleGranted) EventType() string { return TypeRoleGranted }

// Event converts the role grant to the generic event payload.
func (e RoleGranted) Event() *types.Event {
	return &types.Event{
		Type: TypeRoleGranted,
		Attributes: map[string]string{
			"role":    strings.ToUpper(strings.TrimSpace(e.Role)),
			"address": formatAddress(e.Address),
		},
	}
}

func formatAddress(raw [20]byte) string {
	if raw == ([20]byte{}) {
		return ""
	}
	return crypto.MustNewAddress(raw[:]).String()
}

func formatSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
