package core

import (
	"math/big"

	"lendcore/core/state"
	"lendcore/crypto"
	"lendcore/native/lending"
	"lendcore/native/token"
)

// ledgerState adapts the state manager and token engine to the persistence
// surface the lending engine runs against. Receipt mints and burns execute
// under the module treasury's authority.
type ledgerState struct {
	manager *state.Manager
	tokens  *token.Engine
	module  crypto.Address
}

func (ls *ledgerState) GetReserve(asset string) (*lending.Reserve, error) {
	reserve, ok, err := ls.manager.LendingGetReserve(asset)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return reserve, nil
}

func (ls *ledgerState) PutReserve(reserve *lending.Reserve) error {
	return ls.manager.LendingPutReserve(reserve)
}

func (ls *ledgerState) AddReserve(asset string) error {
	return ls.manager.LendingAddReserve(asset)
}

func (ls *ledgerState) GetPosition(addr crypto.Address, asset string) (*lending.Position, error) {
	position, ok, err := ls.manager.LendingGetPosition(addr.Raw(), asset)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return position, nil
}

func (ls *ledgerState) PutPosition(addr crypto.Address, asset string, position *lending.Position) error {
	return ls.manager.LendingPutPosition(addr.Raw(), asset, position)
}

func (ls *ledgerState) UserAssets(addr crypto.Address) ([]string, error) {
	return ls.manager.LendingUserAssets(addr.Raw())
}

func (ls *ledgerState) AddUserAsset(addr crypto.Address, asset string) error {
	return ls.manager.LendingAddUserAsset(addr.Raw(), asset)
}

func (ls *ledgerState) RateModel() (*lending.RateModel, error) {
	model, ok, err := ls.manager.LendingRateModel()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return model, nil
}

func (ls *ledgerState) OracleConfigured() (bool, error) {
	_, ok, err := ls.manager.LendingOracleFeeder()
	if err != nil {
		return false, err
	}
	return ok, nil
}

func (ls *ledgerState) Price(asset string) (*big.Int, bool, error) {
	return ls.manager.OraclePrice(asset)
}

func (ls *ledgerState) Transfer(from, to crypto.Address, asset string, amount *big.Int) error {
	return ls.tokens.Transfer(from, to, asset, amount)
}

func (ls *ledgerState) MintReceipt(to crypto.Address, receipt string, amount *big.Int) error {
	return ls.tokens.Mint(ls.module, to, receipt, amount)
}

func (ls *ledgerState) BurnReceipt(from crypto.Address, receipt string, amount *big.Int) error {
	return ls.tokens.Burn(ls.module, from, receipt, amount)
}

func (ls *ledgerState) ReceiptBalance(addr crypto.Address, receipt string) (*big.Int, error) {
	return ls.tokens.BalanceOf(addr, receipt)
}
