package state

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"sort"
	"strings"

	"github.com/holiman/uint256"
)

// TokenMetadata describes a fungible asset tracked by the ledger. MintAuthority
// is the only identity allowed to mint or burn the token.
type TokenMetadata struct {
	Symbol        string
	Name          string
	Decimals      uint8
	MintAuthority []byte
}

var (
	tokenListKey         = []byte("token/list")
	tokenMetaPrefix      = "token/meta/"
	tokenBalancePrefix   = "token/balance/"
	tokenAllowancePrefix = "token/allowance/"
	tokenSupplyPrefix    = "token/supply/"
)

func normalizeSymbol(symbol string) (string, error) {
	normalized := strings.ToUpper(strings.TrimSpace(symbol))
	if normalized == "" {
		return "", fmt.Errorf("token symbol required")
	}
	return normalized, nil
}

func tokenMetaKey(symbol string) []byte {
	return []byte(tokenMetaPrefix + symbol)
}

func tokenBalanceKey(symbol string, addr []byte) []byte {
	return []byte(tokenBalancePrefix + symbol + "/" + hex.EncodeToString(addr))
}

func tokenAllowanceKey(symbol string, owner, spender []byte) []byte {
	return []byte(tokenAllowancePrefix + symbol + "/" + hex.EncodeToString(owner) + "/" + hex.EncodeToString(spender))
}

func tokenSupplyKey(symbol string) []byte {
	return []byte(tokenSupplyPrefix + symbol)
}

func checkAmount(amount *big.Int) (*big.Int, error) {
	if amount == nil {
		return big.NewInt(0), nil
	}
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("token amount must not be negative")
	}
	if _, overflow := uint256.FromBig(amount); overflow {
		return nil, fmt.Errorf("token amount exceeds 256 bits")
	}
	return amount, nil
}

// RegisterToken stores the metadata for a token and records it in the token
// index. Re-registering an existing symbol fails.
func (m *Manager) RegisterToken(meta *TokenMetadata) error {
	if m == nil {
		return fmt.Errorf("state manager unavailable")
	}
	if meta == nil {
		return fmt.Errorf("token metadata required")
	}
	symbol, err := normalizeSymbol(meta.Symbol)
	if err != nil {
		return err
	}
	existing := new(TokenMetadata)
	ok, err := m.loadRecord(tokenMetaKey(symbol), existing)
	if err != nil {
		return err
	}
	if ok {
		return fmt.Errorf("token %s already registered", symbol)
	}
	record := &TokenMetadata{
		Symbol:        symbol,
		Name:          strings.TrimSpace(meta.Name),
		Decimals:      meta.Decimals,
		MintAuthority: append([]byte(nil), meta.MintAuthority...),
	}
	if err := m.writeRecord(tokenMetaKey(symbol), record); err != nil {
		return err
	}
	list, err := m.TokenList()
	if err != nil {
		return err
	}
	list = append(list, symbol)
	sort.Strings(list)
	return m.writeRecord(tokenListKey, list)
}

// TokenList returns the registered token symbols in lexical order.
func (m *Manager) TokenList() ([]string, error) {
	if m == nil {
		return nil, fmt.Errorf("state manager unavailable")
	}
	var list []string
	ok, err := m.loadRecord(tokenListKey, &list)
	if err != nil {
		return nil, err
	}
	if !ok {
		return []string{}, nil
	}
	return list, nil
}

// Token loads the metadata for a symbol. The boolean result reports whether
// the token is registered.
func (m *Manager) Token(symbol string) (*TokenMetadata, bool, error) {
	if m == nil {
		return nil, false, fmt.Errorf("state manager unavailable")
	}
	normalized, err := normalizeSymbol(symbol)
	if err != nil {
		return nil, false, err
	}
	meta := new(TokenMetadata)
	ok, err := m.loadRecord(tokenMetaKey(normalized), meta)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	return meta, true, nil
}

// Balance returns the token balance held by the address. Missing entries
// default to zero.
func (m *Manager) Balance(addr []byte, symbol string) (*big.Int, error) {
	if m == nil {
		return nil, fmt.Errorf("state manager unavailable")
	}
	normalized, err := normalizeSymbol(symbol)
	if err != nil {
		return nil, err
	}
	balance := new(big.Int)
	ok, err := m.loadRecord(tokenBalanceKey(normalized, addr), balance)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return balance, nil
}

// SetBalance overwrites the token balance for the address.
func (m *Manager) SetBalance(addr []byte, symbol string, amount *big.Int) error {
	if m == nil {
		return fmt.Errorf("state manager unavailable")
	}
	normalized, err := normalizeSymbol(symbol)
	if err != nil {
		return err
	}
	checked, err := checkAmount(amount)
	if err != nil {
		return err
	}
	return m.writeRecord(tokenBalanceKey(normalized, addr), checked)
}

// Allowance returns the amount spender may move from owner's balance. Missing
// entries default to zero.
func (m *Manager) Allowance(owner, spender []byte, symbol string) (*big.Int, error) {
	if m == nil {
		return nil, fmt.Errorf("state manager unavailable")
	}
	normalized, err := normalizeSymbol(symbol)
	if err != nil {
		return nil, err
	}
	allowance := new(big.Int)
	ok, err := m.loadRecord(tokenAllowanceKey(normalized, owner, spender), allowance)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return allowance, nil
}

// SetAllowance overwrites the allowance granted by owner to spender.
func (m *Manager) SetAllowance(owner, spender []byte, symbol string, amount *big.Int) error {
	if m == nil {
		return fmt.Errorf("state manager unavailable")
	}
	normalized, err := normalizeSymbol(symbol)
	if err != nil {
		return err
	}
	checked, err := checkAmount(amount)
	if err != nil {
		return err
	}
	return m.writeRecord(tokenAllowanceKey(normalized, owner, spender), checked)
}

// TokenSupply returns the recorded total supply for the token. Missing entries
// default to zero.
func (m *Manager) TokenSupply(symbol string) (*big.Int, error) {
	if m == nil {
		return nil, fmt.Errorf("state manager unavailable")
	}
	normalized, err := normalizeSymbol(symbol)
	if err != nil {
		return nil, err
	}
	total := new(big.Int)
	ok, err := m.loadRecord(tokenSupplyKey(normalized), total)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return total, nil
}

// SetTokenSupply overwrites the recorded total supply for the token.
func (m *Manager) SetTokenSupply(symbol string, amount *big.Int) error {
	if m == nil {
		return fmt.Errorf("state manager unavailable")
	}
	normalized, err := normalizeSymbol(symbol)
	if err != nil {
		return err
	}
	checked, err := checkAmount(amount)
	if err != nil {
		return err
	}
	return m.writeRecord(tokenSupplyKey(normalized), checked)
}
