package state

import (
	"fmt"
	"math/big"
)

var oraclePricePrefix = "oracle/price/"

func oraclePriceKey(symbol string) []byte {
	return []byte(oraclePricePrefix + symbol)
}

// OraclePrice returns the stored price for the asset in WAD units per whole
// token. The boolean result distinguishes a price that was never published
// from one explicitly published as zero.
func (m *Manager) OraclePrice(asset string) (*big.Int, bool, error) {
	if m == nil {
		return nil, false, fmt.Errorf("state manager unavailable")
	}
	symbol, err := normalizeSymbol(asset)
	if err != nil {
		return nil, false, err
	}
	price := new(big.Int)
	ok, err := m.loadRecord(oraclePriceKey(symbol), price)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	return price, true, nil
}

// SetOraclePrice stores the price for the asset. Zero is a legal published
// value; negative prices are rejected.
func (m *Manager) SetOraclePrice(asset string, price *big.Int) error {
	if m == nil {
		return fmt.Errorf("state manager unavailable")
	}
	symbol, err := normalizeSymbol(asset)
	if err != nil {
		return err
	}
	checked, err := checkAmount(price)
	if err != nil {
		return err
	}
	return m.writeRecord(oraclePriceKey(symbol), checked)
}
