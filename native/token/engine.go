package token

import (
	"bytes"
	"fmt"
	"math/big"

	"lendcore/core/state"
	"lendcore/crypto"
)

// EngineState is the slice of ledger state the token engine needs. The state
// manager satisfies it directly.
type EngineState interface {
	Token(symbol string) (*state.TokenMetadata, bool, error)
	Balance(addr []byte, symbol string) (*big.Int, error)
	SetBalance(addr []byte, symbol string, amount *big.Int) error
	Allowance(owner, spender []byte, symbol string) (*big.Int, error)
	SetAllowance(owner, spender []byte, symbol string, amount *big.Int) error
	TokenSupply(symbol string) (*big.Int, error)
	SetTokenSupply(symbol string, amount *big.Int) error
}

// Engine moves registered tokens between accounts and maintains the supply
// records. Minting and burning are restricted to each token's mint authority.
type Engine struct {
	state EngineState
}

// NewEngine constructs an engine without state. SetState must be called before
// any operation.
func NewEngine() *Engine {
	return &Engine{}
}

// SetState wires the engine to the supplied state backend.
func (e *Engine) SetState(st EngineState) {
	if e == nil {
		return
	}
	e.state = st
}

func (e *Engine) ready() error {
	if e == nil || e.state == nil {
		return errNilState
	}
	return nil
}

func (e *Engine) requireToken(symbol string) (*state.TokenMetadata, error) {
	meta, ok, err := e.state.Token(symbol)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownToken, symbol)
	}
	return meta, nil
}

func requireAmount(amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

// BalanceOf returns the holder's balance for the symbol.
func (e *Engine) BalanceOf(addr crypto.Address, symbol string) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if _, err := e.requireToken(symbol); err != nil {
		return nil, err
	}
	return e.state.Balance(addr.Bytes(), symbol)
}

// Transfer moves amount from one holder to another. Transfers to the sending
// address are permitted and leave the balance unchanged.
func (e *Engine) Transfer(from, to crypto.Address, symbol string, amount *big.Int) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := requireAmount(amount); err != nil {
		return err
	}
	if _, err := e.requireToken(symbol); err != nil {
		return err
	}
	return e.move(from.Bytes(), to.Bytes(), symbol, amount)
}

// move debits then credits, re-reading the credit side so a transfer to the
// same address nets out to zero.
func (e *Engine) move(from, to []byte, symbol string, amount *big.Int) error {
	fromBalance, err := e.state.Balance(from, symbol)
	if err != nil {
		return err
	}
	if fromBalance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s", ErrInsufficientBalance, symbol)
	}
	if err := e.state.SetBalance(from, symbol, new(big.Int).Sub(fromBalance, amount)); err != nil {
		return err
	}
	toBalance, err := e.state.Balance(to, symbol)
	if err != nil {
		return err
	}
	return e.state.SetBalance(to, symbol, new(big.Int).Add(toBalance, amount))
}

// Approve sets the amount spender may move out of owner's balance. A zero
// amount revokes the approval.
func (e *Engine) Approve(owner, spender crypto.Address, symbol string, amount *big.Int) error {
	if err := e.ready(); err != nil {
		return err
	}
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	if _, err := e.requireToken(symbol); err != nil {
		return err
	}
	return e.state.SetAllowance(owner.Bytes(), spender.Bytes(), symbol, amount)
}

// Allowance reports the remaining amount spender may move from owner.
func (e *Engine) Allowance(owner, spender crypto.Address, symbol string) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if _, err := e.requireToken(symbol); err != nil {
		return nil, err
	}
	return e.state.Allowance(owner.Bytes(), spender.Bytes(), symbol)
}

// TransferFrom moves amount from owner to the recipient on the strength of a
// prior approval, consuming that much of the spender's allowance.
func (e *Engine) TransferFrom(spender, owner, to crypto.Address, symbol string, amount *big.Int) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := requireAmount(amount); err != nil {
		return err
	}
	if _, err := e.requireToken(symbol); err != nil {
		return err
	}
	allowance, err := e.state.Allowance(owner.Bytes(), spender.Bytes(), symbol)
	if err != nil {
		return err
	}
	if allowance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s", ErrInsufficientAllowance, symbol)
	}
	if err := e.state.SetAllowance(owner.Bytes(), spender.Bytes(), symbol, new(big.Int).Sub(allowance, amount)); err != nil {
		return err
	}
	return e.move(owner.Bytes(), to.Bytes(), symbol, amount)
}

// Mint credits freshly created tokens to the recipient and grows the recorded
// supply. Only the token's mint authority may mint.
func (e *Engine) Mint(authority, to crypto.Address, symbol string, amount *big.Int) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := requireAmount(amount); err != nil {
		return err
	}
	meta, err := e.requireToken(symbol)
	if err != nil {
		return err
	}
	if !bytes.Equal(meta.MintAuthority, authority.Bytes()) {
		return fmt.Errorf("%w: mint %s", ErrNotAuthorized, symbol)
	}
	balance, err := e.state.Balance(to.Bytes(), symbol)
	if err != nil {
		return err
	}
	if err := e.state.SetBalance(to.Bytes(), symbol, new(big.Int).Add(balance, amount)); err != nil {
		return err
	}
	supply, err := e.state.TokenSupply(symbol)
	if err != nil {
		return err
	}
	return e.state.SetTokenSupply(symbol, new(big.Int).Add(supply, amount))
}

// Burn destroys tokens held by the holder and shrinks the recorded supply.
// Only the token's mint authority may burn.
func (e *Engine) Burn(authority, holder crypto.Address, symbol string, amount *big.Int) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := requireAmount(amount); err != nil {
		return err
	}
	meta, err := e.requireToken(symbol)
	if err != nil {
		return err
	}
	if !bytes.Equal(meta.MintAuthority, authority.Bytes()) {
		return fmt.Errorf("%w: burn %s", ErrNotAuthorized, symbol)
	}
	balance, err := e.state.Balance(holder.Bytes(), symbol)
	if err != nil {
		return err
	}
	if balance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s", ErrInsufficientBalance, symbol)
	}
	if err := e.state.SetBalance(holder.Bytes(), symbol, new(big.Int).Sub(balance, amount)); err != nil {
		return err
	}
	supply, err := e.state.TokenSupply(symbol)
	if err != nil {
		return err
	}
	next := new(big.Int).Sub(supply, amount)
	if next.Sign() < 0 {
		next = big.NewInt(0)
	}
	return e.state.SetTokenSupply(symbol, next)
}
