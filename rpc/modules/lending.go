package modules

import (
	"errors"
	"math/big"
	"net/http"

	"lendcore/core"
	"lendcore/crypto"
	nativecommon "lendcore/native/common"
	"lendcore/native/lending"
	"lendcore/native/token"
)

// LendingModule exposes the ledger to the RPC layer and folds its errors into
// ModuleError values the transport can serialise directly.
type LendingModule struct {
	ledger *core.Ledger
}

func NewLendingModule(ledger *core.Ledger) *LendingModule {
	return &LendingModule{ledger: ledger}
}

func (m *LendingModule) ready() bool {
	return m != nil && m.ledger != nil
}

func (m *LendingModule) unavailable() *ModuleError {
	return &ModuleError{HTTPStatus: http.StatusInternalServerError, Code: codeServerError, Message: "lending module not available"}
}

func (m *LendingModule) InitReserve(caller crypto.Address, cfg lending.ReserveConfig) *ModuleError {
	if !m.ready() {
		return m.unavailable()
	}
	return m.wrapError(m.ledger.InitReserve(caller, cfg))
}

func (m *LendingModule) SetOracle(caller, feeder crypto.Address) *ModuleError {
	if !m.ready() {
		return m.unavailable()
	}
	return m.wrapError(m.ledger.SetOracle(caller, feeder))
}

func (m *LendingModule) SetRateModel(caller crypto.Address, model *lending.RateModel) *ModuleError {
	if !m.ready() {
		return m.unavailable()
	}
	return m.wrapError(m.ledger.SetRateModel(caller, model))
}

func (m *LendingModule) SetPrice(caller crypto.Address, asset string, price *big.Int) *ModuleError {
	if !m.ready() {
		return m.unavailable()
	}
	return m.wrapError(m.ledger.SetPrice(caller, asset, price))
}

func (m *LendingModule) GrantRole(caller crypto.Address, role string, addr crypto.Address) *ModuleError {
	if !m.ready() {
		return m.unavailable()
	}
	return m.wrapError(m.ledger.GrantRole(caller, role, addr))
}

func (m *LendingModule) Mint(caller, to crypto.Address, symbol string, amount *big.Int) *ModuleError {
	if !m.ready() {
		return m.unavailable()
	}
	return m.wrapError(m.ledger.Mint(caller, to, symbol, amount))
}

// Deposit supplies liquidity and reports the receipt tokens minted.
func (m *LendingModule) Deposit(user crypto.Address, asset string, amount *big.Int) (*big.Int, *ModuleError) {
	if !m.ready() {
		return nil, m.unavailable()
	}
	minted, err := m.ledger.Deposit(user, asset, amount)
	if err != nil {
		return nil, m.wrapError(err)
	}
	return minted, nil
}

// Withdraw redeems liquidity and reports the receipt tokens burned.
func (m *LendingModule) Withdraw(user crypto.Address, asset string, amount *big.Int) (*big.Int, *ModuleError) {
	if !m.ready() {
		return nil, m.unavailable()
	}
	burned, err := m.ledger.Withdraw(user, asset, amount)
	if err != nil {
		return nil, m.wrapError(err)
	}
	return burned, nil
}

func (m *LendingModule) Borrow(user crypto.Address, asset string, amount *big.Int) *ModuleError {
	if !m.ready() {
		return m.unavailable()
	}
	return m.wrapError(m.ledger.Borrow(user, asset, amount))
}

// Repay settles debt and reports the amount actually applied, which may be
// less than requested when the outstanding debt is smaller.
func (m *LendingModule) Repay(user crypto.Address, asset string, amount *big.Int) (*big.Int, *ModuleError) {
	if !m.ready() {
		return nil, m.unavailable()
	}
	repaid, err := m.ledger.Repay(user, asset, amount)
	if err != nil {
		return nil, m.wrapError(err)
	}
	return repaid, nil
}

// Liquidate settles part of an unhealthy borrower's debt and reports the debt
// repaid and collateral seized.
func (m *LendingModule) Liquidate(liquidator, borrower crypto.Address, debtAsset, collateralAsset string, amount *big.Int) (*big.Int, *big.Int, *ModuleError) {
	if !m.ready() {
		return nil, nil, m.unavailable()
	}
	repaid, seized, err := m.ledger.Liquidate(liquidator, borrower, debtAsset, collateralAsset, amount)
	if err != nil {
		return nil, nil, m.wrapError(err)
	}
	return repaid, seized, nil
}

func (m *LendingModule) GetReserve(asset string) (*lending.Reserve, *ModuleError) {
	if !m.ready() {
		return nil, m.unavailable()
	}
	reserve, err := m.ledger.Reserve(asset)
	if err != nil {
		return nil, m.wrapError(err)
	}
	return reserve, nil
}

func (m *LendingModule) GetReserves() ([]*lending.Reserve, *ModuleError) {
	if !m.ready() {
		return nil, m.unavailable()
	}
	reserves, err := m.ledger.Reserves()
	if err != nil {
		return nil, m.wrapError(err)
	}
	return reserves, nil
}

func (m *LendingModule) GetPosition(user crypto.Address, asset string) (*lending.Position, *ModuleError) {
	if !m.ready() {
		return nil, m.unavailable()
	}
	position, err := m.ledger.Position(user, asset)
	if err != nil {
		return nil, m.wrapError(err)
	}
	return position, nil
}

func (m *LendingModule) GetAccountData(user crypto.Address) (*lending.AccountData, *ModuleError) {
	if !m.ready() {
		return nil, m.unavailable()
	}
	data, err := m.ledger.AccountData(user)
	if err != nil {
		return nil, m.wrapError(err)
	}
	return data, nil
}

func (m *LendingModule) GetHealthFactor(user crypto.Address) (*big.Int, *ModuleError) {
	if !m.ready() {
		return nil, m.unavailable()
	}
	factor, err := m.ledger.HealthFactor(user)
	if err != nil {
		return nil, m.wrapError(err)
	}
	return factor, nil
}

func (m *LendingModule) GetPrice(asset string) (*big.Int, *ModuleError) {
	if !m.ready() {
		return nil, m.unavailable()
	}
	price, err := m.ledger.Price(asset)
	if err != nil {
		return nil, m.wrapError(err)
	}
	return price, nil
}

func (m *LendingModule) GetRateModel() (*lending.RateModel, *ModuleError) {
	if !m.ready() {
		return nil, m.unavailable()
	}
	model, err := m.ledger.RateModel()
	if err != nil {
		return nil, m.wrapError(err)
	}
	return model, nil
}

func (m *LendingModule) Balance(addr crypto.Address, symbol string) (*big.Int, *ModuleError) {
	if !m.ready() {
		return nil, m.unavailable()
	}
	balance, err := m.ledger.BalanceOf(addr, symbol)
	if err != nil {
		return nil, m.wrapError(err)
	}
	return balance, nil
}

// wrapError buckets ledger failures by error kind so every transport maps the
// same condition to the same status and code.
func (m *LendingModule) wrapError(err error) *ModuleError {
	if err == nil {
		return nil
	}
	status := http.StatusInternalServerError
	code := codeServerError
	switch {
	case errors.Is(err, nativecommon.ErrBusy):
		status, code = http.StatusConflict, codeLedgerBusy
	case errors.Is(err, core.ErrUnauthorized), errors.Is(err, token.ErrNotAuthorized):
		status, code = http.StatusForbidden, codeUnauthorized
	case errors.Is(err, core.ErrReceiptTokenManaged),
		errors.Is(err, token.ErrUnknownToken),
		errors.Is(err, token.ErrInvalidAmount):
		status, code = http.StatusBadRequest, codeInvalidParams
	case errors.Is(err, token.ErrInsufficientBalance), errors.Is(err, token.ErrInsufficientAllowance):
		status, code = http.StatusConflict, codeCapacityExceeded
	default:
		switch lending.Classify(err) {
		case lending.KindValidation:
			status, code = http.StatusBadRequest, codeInvalidParams
		case lending.KindCapacity:
			status, code = http.StatusConflict, codeCapacityExceeded
		case lending.KindRisk:
			status, code = http.StatusConflict, codeRiskRejected
		case lending.KindAuthorization:
			status, code = http.StatusForbidden, codeUnauthorized
		case lending.KindOracle:
			status, code = http.StatusServiceUnavailable, codeOracleUnavailable
		case lending.KindState:
			status, code = http.StatusConflict, codeStateConflict
		}
	}
	return &ModuleError{HTTPStatus: status, Code: code, Message: err.Error()}
}
