package lending

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"lendcore/crypto"
	nativecommon "lendcore/native/common"
)

// engineState is the persistence and collaborator surface the engine runs
// against. Implementations provide per-operation atomicity: every write is
// buffered and either committed or discarded as a whole by the caller.
type engineState interface {
	GetReserve(asset string) (*Reserve, error)
	PutReserve(reserve *Reserve) error
	AddReserve(asset string) error
	GetPosition(addr crypto.Address, asset string) (*Position, error)
	PutPosition(addr crypto.Address, asset string, position *Position) error
	UserAssets(addr crypto.Address) ([]string, error)
	AddUserAsset(addr crypto.Address, asset string) error
	RateModel() (*RateModel, error)
	OracleConfigured() (bool, error)
	Price(asset string) (*big.Int, bool, error)
	Transfer(from, to crypto.Address, asset string, amount *big.Int) error
	MintReceipt(to crypto.Address, token string, amount *big.Int) error
	BurnReceipt(from crypto.Address, token string, amount *big.Int) error
	ReceiptBalance(addr crypto.Address, token string) (*big.Int, error)
}

// Engine orchestrates the state transitions of the lending module: reserve
// initialisation, interest accrual, the deposit/withdraw/borrow/repay flows
// and liquidations. Interest always accrues before any balance check or
// mutation that reads index-derived values.
type Engine struct {
	state         engineState
	moduleAddress crypto.Address
	guard         *nativecommon.OpGuard
	now           func() int64
}

// NewEngine constructs a lending engine holding pool funds under the supplied
// module treasury address.
func NewEngine(moduleAddr crypto.Address) *Engine {
	return &Engine{
		moduleAddress: moduleAddr,
		now:           func() int64 { return time.Now().Unix() },
	}
}

// SetState wires the engine to the persistence layer.
func (e *Engine) SetState(state engineState) {
	if e == nil {
		return
	}
	e.state = state
}

// SetGuard installs the non-reentrant latch protecting state-changing
// operations.
func (e *Engine) SetGuard(guard *nativecommon.OpGuard) {
	if e == nil {
		return
	}
	e.guard = guard
}

// SetClock overrides the time source used for interest accrual.
func (e *Engine) SetClock(now func() int64) {
	if e == nil || now == nil {
		return
	}
	e.now = now
}

// ModuleAddress returns the treasury address holding pooled funds.
func (e *Engine) ModuleAddress() crypto.Address {
	if e == nil {
		return crypto.Address{}
	}
	return e.moduleAddress
}

// InitReserve activates a new reserve with both interest indices at one WAD
// and the accrual watermark at the current time. Re-initialising an existing
// reserve fails with ErrAlreadyActive; parameters violating the
// ltv <= liquidationThreshold <= 1 ordering fail with ErrInvalidConfig.
func (e *Engine) InitReserve(cfg ReserveConfig) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := e.guard.Enter(); err != nil {
		return err
	}
	defer e.guard.Exit()

	asset := normalizeAsset(cfg.Asset)
	if asset == "" {
		return fmt.Errorf("%w: asset symbol required", ErrInvalidConfig)
	}
	receipt := normalizeAsset(cfg.ReceiptToken)
	if receipt == "" {
		return fmt.Errorf("%w: receipt token required", ErrInvalidConfig)
	}
	if receipt == asset {
		return fmt.Errorf("%w: receipt token must differ from the underlying asset", ErrInvalidConfig)
	}
	ltv := cfg.LTV
	threshold := cfg.LiquidationThreshold
	if ltv == nil || threshold == nil || ltv.Sign() < 0 || threshold.Sign() < 0 {
		return fmt.Errorf("%w: ltv and liquidation threshold required", ErrInvalidConfig)
	}
	if ltv.Cmp(threshold) > 0 {
		return fmt.Errorf("%w: ltv exceeds liquidation threshold", ErrInvalidConfig)
	}
	if threshold.Cmp(wad) > 0 {
		return fmt.Errorf("%w: liquidation threshold exceeds one", ErrInvalidConfig)
	}
	bonus := cfg.LiquidationBonus
	if bonus == nil {
		bonus = big.NewInt(0)
	}
	if bonus.Sign() < 0 {
		return fmt.Errorf("%w: liquidation bonus must not be negative", ErrInvalidConfig)
	}
	closeFactor := cfg.CloseFactor
	if closeFactor == nil {
		closeFactor = big.NewInt(0)
	}
	if closeFactor.Sign() < 0 || closeFactor.Cmp(wad) > 0 {
		return fmt.Errorf("%w: close factor must lie within the unit interval", ErrInvalidConfig)
	}

	existing, err := e.state.GetReserve(asset)
	if err != nil {
		return err
	}
	if existing != nil {
		return ErrAlreadyActive
	}

	reserve := &Reserve{
		Asset:                asset,
		ReceiptToken:         receipt,
		TotalLiquidity:       big.NewInt(0),
		TotalBorrowed:        big.NewInt(0),
		LiquidityIndex:       Wad(),
		BorrowIndex:          Wad(),
		LTV:                  new(big.Int).Set(ltv),
		LiquidationThreshold: new(big.Int).Set(threshold),
		LiquidationBonus:     new(big.Int).Set(bonus),
		CloseFactor:          new(big.Int).Set(closeFactor),
		Active:               true,
		LastAccrual:          e.timestamp(),
	}
	if err := e.state.PutReserve(reserve); err != nil {
		return err
	}
	return e.state.AddReserve(asset)
}

// Accrue advances the reserve's interest indices to the current time.
func (e *Engine) Accrue(asset string) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := e.guard.Enter(); err != nil {
		return err
	}
	defer e.guard.Exit()

	reserve, err := e.loadReserve(asset)
	if err != nil {
		return err
	}
	return e.accrue(reserve)
}

// Deposit moves amount of the asset from the user into the pool, credits the
// collateral position and mints receipt tokens at the current liquidity
// index. The minted amount is returned; a deposit whose mint truncates to
// zero fails entirely.
func (e *Engine) Deposit(user crypto.Address, asset string, amount *big.Int) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := e.guard.Enter(); err != nil {
		return nil, err
	}
	defer e.guard.Exit()

	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	reserve, err := e.loadReserve(asset)
	if err != nil {
		return nil, err
	}
	if err := e.accrue(reserve); err != nil {
		return nil, err
	}

	if err := e.state.Transfer(user, e.moduleAddress, reserve.Asset, amount); err != nil {
		return nil, err
	}

	position, err := e.ensurePosition(user, reserve.Asset)
	if err != nil {
		return nil, err
	}
	position.Collateral = new(big.Int).Add(position.Collateral, amount)
	position.CollateralEnabled = true
	position.Open = true
	if err := e.state.AddUserAsset(user, reserve.Asset); err != nil {
		return nil, err
	}
	if err := e.state.PutPosition(user, reserve.Asset, position); err != nil {
		return nil, err
	}

	reserve.TotalLiquidity = new(big.Int).Add(reserve.TotalLiquidity, amount)
	if err := e.state.PutReserve(reserve); err != nil {
		return nil, err
	}

	minted := wdiv(amount, reserve.LiquidityIndex)
	if minted.Sign() == 0 {
		return nil, ErrZeroReceiptMint
	}
	if err := e.state.MintReceipt(user, reserve.ReceiptToken, minted); err != nil {
		return nil, err
	}
	return minted, nil
}

// Withdraw releases amount of collateral back to the user, burning the
// corresponding receipt tokens. The tentative debit must leave the account's
// health factor at or above one WAD or the whole operation fails.
func (e *Engine) Withdraw(user crypto.Address, asset string, amount *big.Int) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := e.guard.Enter(); err != nil {
		return nil, err
	}
	defer e.guard.Exit()

	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	reserve, err := e.loadReserve(asset)
	if err != nil {
		return nil, err
	}
	position, err := e.ensurePosition(user, reserve.Asset)
	if err != nil {
		return nil, err
	}
	if amount.Cmp(position.Collateral) > 0 {
		return nil, ErrInsufficientCollateral
	}
	if amount.Cmp(reserve.TotalLiquidity) > 0 {
		return nil, ErrInsufficientLiquidity
	}
	if err := e.accrue(reserve); err != nil {
		return nil, err
	}

	position.Collateral = new(big.Int).Sub(position.Collateral, amount)
	if position.Collateral.Sign() == 0 && position.ScaledDebt.Sign() == 0 {
		position.Open = false
	}
	if err := e.state.PutPosition(user, reserve.Asset, position); err != nil {
		return nil, err
	}
	ok, err := e.healthy(user)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrHealthFactorTooLow
	}

	burned, err := e.burnReceipts(user, reserve, amount)
	if err != nil {
		return nil, err
	}

	reserve.TotalLiquidity = new(big.Int).Sub(reserve.TotalLiquidity, amount)
	if err := e.state.PutReserve(reserve); err != nil {
		return nil, err
	}

	if err := e.state.Transfer(e.moduleAddress, user, reserve.Asset, amount); err != nil {
		return nil, err
	}
	return burned, nil
}

// Borrow disburses amount of the asset to the user against their aggregate
// collateral. The borrow fails when the pool lacks liquidity, the oracle or
// rate model is unconfigured, the new total debt exceeds the account's
// loan-to-value capacity, or the post-mutation health factor drops below one
// WAD.
func (e *Engine) Borrow(user crypto.Address, asset string, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := e.guard.Enter(); err != nil {
		return err
	}
	defer e.guard.Exit()

	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	reserve, err := e.loadReserve(asset)
	if err != nil {
		return err
	}
	if amount.Cmp(reserve.TotalLiquidity) > 0 {
		return ErrInsufficientLiquidity
	}
	configured, err := e.state.OracleConfigured()
	if err != nil {
		return err
	}
	if !configured {
		return ErrOracleNotConfigured
	}
	model, err := e.state.RateModel()
	if err != nil {
		return err
	}
	if model == nil {
		return ErrRateModelNotConfigured
	}
	if err := e.accrue(reserve); err != nil {
		return err
	}

	price, err := e.strictPrice(reserve.Asset)
	if err != nil {
		return err
	}
	data, err := e.accountData(user)
	if err != nil {
		return err
	}
	newDebtValue := wmul(amount, price)
	if newDebtValue.Cmp(data.AvailableBorrowCapacity) > 0 {
		return ErrExceedsLTV
	}

	scaled := wdiv(amount, reserve.BorrowIndex)
	if scaled.Sign() == 0 {
		return ErrInvalidAmount
	}
	position, err := e.ensurePosition(user, reserve.Asset)
	if err != nil {
		return err
	}
	position.ScaledDebt = new(big.Int).Add(position.ScaledDebt, scaled)
	position.Open = true
	if err := e.state.AddUserAsset(user, reserve.Asset); err != nil {
		return err
	}
	if err := e.state.PutPosition(user, reserve.Asset, position); err != nil {
		return err
	}
	// The capacity check above bounds debt by the LTV; this second check
	// bounds it by the liquidation threshold so a fresh borrow can never
	// start out liquidatable.
	ok, err := e.healthy(user)
	if err != nil {
		return err
	}
	if !ok {
		return ErrHealthFactorTooLow
	}

	reserve.TotalLiquidity = new(big.Int).Sub(reserve.TotalLiquidity, amount)
	reserve.TotalBorrowed = new(big.Int).Add(reserve.TotalBorrowed, amount)
	if err := e.state.PutReserve(reserve); err != nil {
		return err
	}
	return e.state.Transfer(e.moduleAddress, user, reserve.Asset, amount)
}

// Repay settles up to amount of the user's outstanding debt, capping at the
// accrued total. The amount actually applied is returned.
func (e *Engine) Repay(user crypto.Address, asset string, amount *big.Int) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := e.guard.Enter(); err != nil {
		return nil, err
	}
	defer e.guard.Exit()

	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	reserve, err := e.loadReserve(asset)
	if err != nil {
		return nil, err
	}
	position, err := e.ensurePosition(user, reserve.Asset)
	if err != nil {
		return nil, err
	}
	if position.ScaledDebt.Sign() == 0 {
		return nil, ErrNoDebt
	}
	if err := e.accrue(reserve); err != nil {
		return nil, err
	}

	debt := position.Debt(reserve.BorrowIndex)
	applied := minBig(amount, debt)
	if err := e.state.Transfer(user, e.moduleAddress, reserve.Asset, applied); err != nil {
		return nil, err
	}

	scaled := wdiv(applied, reserve.BorrowIndex)
	if scaled.Cmp(position.ScaledDebt) > 0 {
		position.ScaledDebt = big.NewInt(0)
	} else {
		position.ScaledDebt = new(big.Int).Sub(position.ScaledDebt, scaled)
	}
	if err := e.state.PutPosition(user, reserve.Asset, position); err != nil {
		return nil, err
	}

	reserve.TotalLiquidity = new(big.Int).Add(reserve.TotalLiquidity, applied)
	reserve.TotalBorrowed = new(big.Int).Sub(reserve.TotalBorrowed, applied)
	if reserve.TotalBorrowed.Sign() < 0 {
		reserve.TotalBorrowed = big.NewInt(0)
	}
	if err := e.state.PutReserve(reserve); err != nil {
		return nil, err
	}
	return applied, nil
}

// Liquidate lets the liquidator repay part of an unhealthy borrower's debt in
// exchange for bonus-adjusted collateral. The repay is bounded by the debt
// reserve's close factor; the seizure must be fully covered by the borrower's
// collateral or the call fails. The applied repay and seized collateral are
// returned.
func (e *Engine) Liquidate(liquidator, borrower crypto.Address, debtAsset, collateralAsset string, repayAmount *big.Int) (*big.Int, *big.Int, error) {
	if e == nil || e.state == nil {
		return nil, nil, errNilState
	}
	if err := e.guard.Enter(); err != nil {
		return nil, nil, err
	}
	defer e.guard.Exit()

	if repayAmount == nil || repayAmount.Sign() <= 0 {
		return nil, nil, ErrInvalidAmount
	}
	// Eligibility is judged on the borrower's state as it stands, before
	// this call's accrual moves the indices.
	data, err := e.accountData(borrower)
	if err != nil {
		return nil, nil, err
	}
	if data.HealthFactor.Cmp(wad) >= 0 {
		return nil, nil, ErrNotLiquidatable
	}
	if liquidator.Raw() == borrower.Raw() {
		return nil, nil, ErrSelfLiquidation
	}

	debtReserve, err := e.loadReserve(debtAsset)
	if err != nil {
		return nil, nil, err
	}
	if err := e.accrue(debtReserve); err != nil {
		return nil, nil, err
	}
	collateralReserve := debtReserve
	if normalizeAsset(collateralAsset) != debtReserve.Asset {
		collateralReserve, err = e.loadReserve(collateralAsset)
		if err != nil {
			return nil, nil, err
		}
		if err := e.accrue(collateralReserve); err != nil {
			return nil, nil, err
		}
	}

	debtPosition, err := e.ensurePosition(borrower, debtReserve.Asset)
	if err != nil {
		return nil, nil, err
	}
	if debtPosition.ScaledDebt.Sign() == 0 {
		return nil, nil, ErrNoDebt
	}
	debt := debtPosition.Debt(debtReserve.BorrowIndex)
	actualRepay := minBig(repayAmount, wmul(debt, debtReserve.CloseFactor), debt)
	if actualRepay.Sign() == 0 {
		return nil, nil, ErrInvalidAmount
	}

	debtPrice, err := e.strictPrice(debtReserve.Asset)
	if err != nil {
		return nil, nil, err
	}
	collateralPrice, err := e.strictPrice(collateralReserve.Asset)
	if err != nil {
		return nil, nil, err
	}
	premium := new(big.Int).Add(Wad(), collateralReserve.LiquidationBonus)
	seize := wdiv(wmul(wmul(actualRepay, debtPrice), premium), collateralPrice)

	collateralPosition := debtPosition
	if collateralReserve != debtReserve {
		collateralPosition, err = e.ensurePosition(borrower, collateralReserve.Asset)
		if err != nil {
			return nil, nil, err
		}
	}
	if seize.Cmp(collateralPosition.Collateral) > 0 {
		return nil, nil, ErrInsufficientCollateral
	}
	if seize.Cmp(collateralReserve.TotalLiquidity) > 0 {
		return nil, nil, ErrInsufficientLiquidity
	}

	scaledRepay := wdiv(actualRepay, debtReserve.BorrowIndex)
	if scaledRepay.Cmp(debtPosition.ScaledDebt) > 0 {
		debtPosition.ScaledDebt = big.NewInt(0)
	} else {
		debtPosition.ScaledDebt = new(big.Int).Sub(debtPosition.ScaledDebt, scaledRepay)
	}
	collateralPosition.Collateral = new(big.Int).Sub(collateralPosition.Collateral, seize)

	debtReserve.TotalLiquidity = new(big.Int).Add(debtReserve.TotalLiquidity, actualRepay)
	debtReserve.TotalBorrowed = new(big.Int).Sub(debtReserve.TotalBorrowed, actualRepay)
	if debtReserve.TotalBorrowed.Sign() < 0 {
		debtReserve.TotalBorrowed = big.NewInt(0)
	}
	collateralReserve.TotalLiquidity = new(big.Int).Sub(collateralReserve.TotalLiquidity, seize)

	if err := e.state.PutPosition(borrower, debtReserve.Asset, debtPosition); err != nil {
		return nil, nil, err
	}
	if collateralPosition != debtPosition {
		if err := e.state.PutPosition(borrower, collateralReserve.Asset, collateralPosition); err != nil {
			return nil, nil, err
		}
	}
	if err := e.state.PutReserve(debtReserve); err != nil {
		return nil, nil, err
	}
	if collateralReserve != debtReserve {
		if err := e.state.PutReserve(collateralReserve); err != nil {
			return nil, nil, err
		}
	}

	if _, err := e.burnReceipts(borrower, collateralReserve, seize); err != nil {
		return nil, nil, err
	}
	if err := e.state.Transfer(liquidator, e.moduleAddress, debtReserve.Asset, actualRepay); err != nil {
		return nil, nil, err
	}
	if err := e.state.Transfer(e.moduleAddress, liquidator, collateralReserve.Asset, seize); err != nil {
		return nil, nil, err
	}
	return actualRepay, seize, nil
}

// accrue advances the reserve's indices by the elapsed time since the last
// watermark and persists the result. With zero elapsed time it is a no-op so
// repeated calls within one timestamp never move the indices.
func (e *Engine) accrue(reserve *Reserve) error {
	now := e.timestamp()
	if now <= reserve.LastAccrual {
		return nil
	}
	elapsed := now - reserve.LastAccrual
	model, err := e.state.RateModel()
	if err != nil {
		return err
	}
	if model == nil {
		return ErrRateModelNotConfigured
	}
	rate := model.BorrowRate(reserve.TotalBorrowed, reserve.TotalLiquidity)
	ratePerPeriod := new(big.Int).Mul(rate, new(big.Int).SetUint64(elapsed))
	ratePerPeriod.Quo(ratePerPeriod, big.NewInt(secondsPerYear))
	if ratePerPeriod.Sign() > 0 {
		reserve.BorrowIndex = new(big.Int).Add(reserve.BorrowIndex, wmul(reserve.BorrowIndex, ratePerPeriod))
		reserve.LiquidityIndex = new(big.Int).Add(reserve.LiquidityIndex, wmul(reserve.LiquidityIndex, ratePerPeriod))
		interest := wmul(reserve.TotalBorrowed, ratePerPeriod)
		if interest.Sign() > 0 {
			reserve.TotalBorrowed = new(big.Int).Add(reserve.TotalBorrowed, interest)
			reserve.TotalLiquidity = new(big.Int).Add(reserve.TotalLiquidity, interest)
		}
	}
	reserve.LastAccrual = now
	return e.state.PutReserve(reserve)
}

// burnReceipts burns the receipt tokens corresponding to a collateral release
// at the reserve's current liquidity index, clamped to the holder's balance
// so truncation drift can never make a burn fail.
func (e *Engine) burnReceipts(holder crypto.Address, reserve *Reserve, amount *big.Int) (*big.Int, error) {
	shares := wdiv(amount, reserve.LiquidityIndex)
	if shares.Sign() == 0 {
		return big.NewInt(0), nil
	}
	balance, err := e.state.ReceiptBalance(holder, reserve.ReceiptToken)
	if err != nil {
		return nil, err
	}
	if shares.Cmp(balance) > 0 {
		shares = new(big.Int).Set(balance)
	}
	if shares.Sign() == 0 {
		return big.NewInt(0), nil
	}
	if err := e.state.BurnReceipt(holder, reserve.ReceiptToken, shares); err != nil {
		return nil, err
	}
	return shares, nil
}

func (e *Engine) loadReserve(asset string) (*Reserve, error) {
	symbol := normalizeAsset(asset)
	if symbol == "" {
		return nil, ErrReserveInactive
	}
	reserve, err := e.state.GetReserve(symbol)
	if err != nil {
		return nil, err
	}
	if reserve == nil || !reserve.Active {
		return nil, ErrReserveInactive
	}
	return reserve, nil
}

// ensurePosition loads the position for (addr, asset), returning a zeroed
// record when none exists yet.
func (e *Engine) ensurePosition(addr crypto.Address, asset string) (*Position, error) {
	position, err := e.state.GetPosition(addr, asset)
	if err != nil {
		return nil, err
	}
	if position == nil {
		position = &Position{}
	}
	if position.Collateral == nil {
		position.Collateral = big.NewInt(0)
	}
	if position.ScaledDebt == nil {
		position.ScaledDebt = big.NewInt(0)
	}
	return position, nil
}

func (e *Engine) strictPrice(asset string) (*big.Int, error) {
	price, published, err := e.state.Price(asset)
	if err != nil {
		return nil, err
	}
	if !published || price.Sign() == 0 {
		return nil, ErrAssetNotSupported
	}
	return price, nil
}

func (e *Engine) timestamp() uint64 {
	if e == nil || e.now == nil {
		return uint64(time.Now().Unix())
	}
	ts := e.now()
	if ts < 0 {
		return 0
	}
	return uint64(ts)
}

func normalizeAsset(asset string) string {
	return strings.ToUpper(strings.TrimSpace(asset))
}
