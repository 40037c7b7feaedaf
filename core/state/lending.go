package state

import (
	"encoding/hex"
	"fmt"

	"lendcore/native/lending"
)

var (
	lendingReserveListKey = []byte("lending/reserves")
	lendingReservePrefix  = "lending/reserve/"
	lendingPositionPrefix = "lending/position/"
	lendingAssetsPrefix   = "lending/assets/"
	lendingRateModelKey   = []byte("lending/ratemodel")
	lendingOracleKey      = []byte("lending/oracle")
)

func lendingReserveKey(symbol string) []byte {
	return []byte(lendingReservePrefix + symbol)
}

func lendingPositionKey(addr [20]byte, symbol string) []byte {
	return []byte(lendingPositionPrefix + hex.EncodeToString(addr[:]) + "/" + symbol)
}

func lendingAssetsKey(addr [20]byte) []byte {
	return []byte(lendingAssetsPrefix + hex.EncodeToString(addr[:]))
}

// LendingGetReserve loads the reserve record for the asset. The boolean result
// reports whether the reserve has been initialised.
func (m *Manager) LendingGetReserve(asset string) (*lending.Reserve, bool, error) {
	if m == nil {
		return nil, false, fmt.Errorf("state manager unavailable")
	}
	symbol, err := normalizeSymbol(asset)
	if err != nil {
		return nil, false, err
	}
	reserve := new(lending.Reserve)
	ok, err := m.loadRecord(lendingReserveKey(symbol), reserve)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	return reserve, true, nil
}

// LendingPutReserve persists the reserve record keyed by its asset symbol.
func (m *Manager) LendingPutReserve(reserve *lending.Reserve) error {
	if m == nil {
		return fmt.Errorf("state manager unavailable")
	}
	if reserve == nil {
		return fmt.Errorf("lending reserve required")
	}
	symbol, err := normalizeSymbol(reserve.Asset)
	if err != nil {
		return err
	}
	record := reserve.Clone()
	record.Asset = symbol
	return m.writeRecord(lendingReserveKey(symbol), record)
}

// LendingReserves returns the initialised reserve assets in registration order.
func (m *Manager) LendingReserves() ([]string, error) {
	if m == nil {
		return nil, fmt.Errorf("state manager unavailable")
	}
	var list []string
	ok, err := m.loadRecord(lendingReserveListKey, &list)
	if err != nil {
		return nil, err
	}
	if !ok {
		return []string{}, nil
	}
	return list, nil
}

// LendingAddReserve appends the asset to the reserve registry, skipping the
// write when it is already listed.
func (m *Manager) LendingAddReserve(asset string) error {
	if m == nil {
		return fmt.Errorf("state manager unavailable")
	}
	symbol, err := normalizeSymbol(asset)
	if err != nil {
		return err
	}
	list, err := m.LendingReserves()
	if err != nil {
		return err
	}
	for _, existing := range list {
		if existing == symbol {
			return nil
		}
	}
	list = append(list, symbol)
	return m.writeRecord(lendingReserveListKey, list)
}

// LendingGetPosition loads the position for (addr, asset). The boolean result
// reports whether a position record exists.
func (m *Manager) LendingGetPosition(addr [20]byte, asset string) (*lending.Position, bool, error) {
	if m == nil {
		return nil, false, fmt.Errorf("state manager unavailable")
	}
	symbol, err := normalizeSymbol(asset)
	if err != nil {
		return nil, false, err
	}
	position := new(lending.Position)
	ok, err := m.loadRecord(lendingPositionKey(addr, symbol), position)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	return position, true, nil
}

// LendingPutPosition persists the position record for (addr, asset).
func (m *Manager) LendingPutPosition(addr [20]byte, asset string, position *lending.Position) error {
	if m == nil {
		return fmt.Errorf("state manager unavailable")
	}
	if position == nil {
		return fmt.Errorf("lending position required")
	}
	symbol, err := normalizeSymbol(asset)
	if err != nil {
		return err
	}
	return m.writeRecord(lendingPositionKey(addr, symbol), position.Clone())
}

// LendingUserAssets returns the assets the address has ever touched, in first
// deposit or borrow order. Entries are never removed from this list; the
// position record's Open flag marks whether the membership is live.
func (m *Manager) LendingUserAssets(addr [20]byte) ([]string, error) {
	if m == nil {
		return nil, fmt.Errorf("state manager unavailable")
	}
	var list []string
	ok, err := m.loadRecord(lendingAssetsKey(addr), &list)
	if err != nil {
		return nil, err
	}
	if !ok {
		return []string{}, nil
	}
	return list, nil
}

// LendingAddUserAsset appends the asset to the address's membership list,
// preserving insertion order and skipping duplicates.
func (m *Manager) LendingAddUserAsset(addr [20]byte, asset string) error {
	if m == nil {
		return fmt.Errorf("state manager unavailable")
	}
	symbol, err := normalizeSymbol(asset)
	if err != nil {
		return err
	}
	list, err := m.LendingUserAssets(addr)
	if err != nil {
		return err
	}
	for _, existing := range list {
		if existing == symbol {
			return nil
		}
	}
	list = append(list, symbol)
	return m.writeRecord(lendingAssetsKey(addr), list)
}

// LendingRateModel loads the configured interest rate model. The boolean
// result reports whether one has been set.
func (m *Manager) LendingRateModel() (*lending.RateModel, bool, error) {
	if m == nil {
		return nil, false, fmt.Errorf("state manager unavailable")
	}
	model := new(lending.RateModel)
	ok, err := m.loadRecord(lendingRateModelKey, model)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	return model, true, nil
}

// LendingSetRateModel persists the interest rate model after validation.
func (m *Manager) LendingSetRateModel(model *lending.RateModel) error {
	if m == nil {
		return fmt.Errorf("state manager unavailable")
	}
	if model == nil {
		return fmt.Errorf("lending rate model required")
	}
	if err := model.Validate(); err != nil {
		return err
	}
	return m.writeRecord(lendingRateModelKey, model.Clone())
}

// LendingOracleFeeder returns the address authorised to publish oracle prices.
// The boolean result reports whether a feeder has been designated.
func (m *Manager) LendingOracleFeeder() ([20]byte, bool, error) {
	var feeder [20]byte
	if m == nil {
		return feeder, false, fmt.Errorf("state manager unavailable")
	}
	var raw []byte
	ok, err := m.loadRecord(lendingOracleKey, &raw)
	if err != nil {
		return feeder, false, err
	}
	if !ok || len(raw) != len(feeder) {
		return feeder, false, nil
	}
	copy(feeder[:], raw)
	return feeder, true, nil
}

// LendingSetOracleFeeder designates the address allowed to publish prices.
func (m *Manager) LendingSetOracleFeeder(addr [20]byte) error {
	if m == nil {
		return fmt.Errorf("state manager unavailable")
	}
	return m.writeRecord(lendingOracleKey, addr[:])
}
