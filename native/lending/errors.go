package lending

import "errors"

var (
	errNilState = errors.New("lending: state not configured")

	// ErrInvalidAmount rejects zero or negative operation amounts.
	ErrInvalidAmount = errors.New("lending: amount must be positive")
	// ErrInvalidConfig rejects reserve parameters that violate the
	// ltv <= liquidationThreshold <= 1 ordering at initialisation.
	ErrInvalidConfig = errors.New("lending: invalid reserve configuration")
	// ErrAlreadyActive rejects re-initialising an active reserve.
	ErrAlreadyActive = errors.New("lending: reserve already active")
	// ErrReserveInactive rejects operations on an uninitialised reserve.
	ErrReserveInactive = errors.New("lending: reserve not active")
	// ErrInsufficientLiquidity rejects disbursements exceeding the pool's
	// withdrawable liquidity.
	ErrInsufficientLiquidity = errors.New("lending: insufficient reserve liquidity")
	// ErrInsufficientCollateral rejects withdrawing or seizing more
	// collateral than the position holds.
	ErrInsufficientCollateral = errors.New("lending: insufficient collateral")
	// ErrHealthFactorTooLow rejects mutations that would leave the account
	// below the minimum health factor.
	ErrHealthFactorTooLow = errors.New("lending: health factor below minimum")
	// ErrExceedsLTV rejects borrows beyond the aggregate loan-to-value
	// capacity of the account's collateral.
	ErrExceedsLTV = errors.New("lending: borrow exceeds collateral capacity")
	// ErrNotLiquidatable rejects liquidating an account whose health factor
	// is at or above the minimum.
	ErrNotLiquidatable = errors.New("lending: position not liquidatable")
	// ErrSelfLiquidation rejects a borrower liquidating their own position.
	ErrSelfLiquidation = errors.New("lending: borrower cannot liquidate own position")
	// ErrNoDebt rejects repaying or liquidating an account with no
	// outstanding debt in the asset.
	ErrNoDebt = errors.New("lending: no outstanding debt")
	// ErrZeroReceiptMint rejects deposits so small the minted receipt
	// amount truncates to zero.
	ErrZeroReceiptMint = errors.New("lending: deposit mints zero receipt tokens")
	// ErrOracleUnavailable signals a price that was never published for an
	// asset required during risk aggregation.
	ErrOracleUnavailable = errors.New("lending: oracle price unavailable")
	// ErrAssetNotSupported signals a direct price query for an asset whose
	// price is unset or zero.
	ErrAssetNotSupported = errors.New("lending: asset not supported by oracle")
	// ErrOracleNotConfigured signals that no price feeder has been
	// designated yet.
	ErrOracleNotConfigured = errors.New("lending: price oracle not configured")
	// ErrRateModelNotConfigured signals that no interest rate model has
	// been set.
	ErrRateModelNotConfigured = errors.New("lending: rate model not configured")
)

// Kind buckets module errors for transport-level mapping.
type Kind uint8

const (
	KindInternal Kind = iota
	KindValidation
	KindCapacity
	KindRisk
	KindAuthorization
	KindOracle
	KindState
)

// Classify maps a module error to its kind. Unrecognised errors are reported
// as internal.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return KindInternal
	case errors.Is(err, ErrInvalidAmount), errors.Is(err, ErrInvalidConfig),
		errors.Is(err, ErrReserveInactive), errors.Is(err, ErrZeroReceiptMint):
		return KindValidation
	case errors.Is(err, ErrInsufficientLiquidity), errors.Is(err, ErrInsufficientCollateral):
		return KindCapacity
	case errors.Is(err, ErrHealthFactorTooLow), errors.Is(err, ErrExceedsLTV),
		errors.Is(err, ErrNotLiquidatable):
		return KindRisk
	case errors.Is(err, ErrSelfLiquidation):
		return KindAuthorization
	case errors.Is(err, ErrOracleUnavailable), errors.Is(err, ErrAssetNotSupported):
		return KindOracle
	case errors.Is(err, ErrAlreadyActive), errors.Is(err, ErrNoDebt),
		errors.Is(err, ErrOracleNotConfigured), errors.Is(err, ErrRateModelNotConfigured):
		return KindState
	default:
		return KindInternal
	}
}
