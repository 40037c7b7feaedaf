package lending

import (
	"math/big"

	"lendcore/crypto"
)

// AccountData aggregates the user's positions across every touched asset into
// the collateral value, debt value, borrow capacity, weighted liquidation
// threshold and health factor. The walk follows the membership list in first
// touch order, skipping closed entries, so truncation effects stay
// deterministic.
func (e *Engine) AccountData(user crypto.Address) (*AccountData, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	return e.accountData(user)
}

// HealthFactor returns the user's aggregate health factor.
func (e *Engine) HealthFactor(user crypto.Address) (*big.Int, error) {
	data, err := e.AccountData(user)
	if err != nil {
		return nil, err
	}
	return data.HealthFactor, nil
}

func (e *Engine) accountData(user crypto.Address) (*AccountData, error) {
	assets, err := e.state.UserAssets(user)
	if err != nil {
		return nil, err
	}

	collateralValue := big.NewInt(0)
	debtValue := big.NewInt(0)
	borrowCapacity := big.NewInt(0)
	thresholdAccumulator := big.NewInt(0)

	for _, asset := range assets {
		position, err := e.state.GetPosition(user, asset)
		if err != nil {
			return nil, err
		}
		if position == nil || !position.Open {
			continue
		}
		hasCollateral := position.Collateral != nil && position.Collateral.Sign() > 0 && position.CollateralEnabled
		hasDebt := position.ScaledDebt != nil && position.ScaledDebt.Sign() > 0
		if !hasCollateral && !hasDebt {
			continue
		}
		reserve, err := e.state.GetReserve(asset)
		if err != nil {
			return nil, err
		}
		if reserve == nil {
			return nil, ErrReserveInactive
		}
		price, published, err := e.state.Price(asset)
		if err != nil {
			return nil, err
		}
		if !published {
			return nil, ErrOracleUnavailable
		}
		// A published zero price contributes nothing on either side of
		// the balance sheet rather than failing the aggregation.
		if price.Sign() == 0 {
			continue
		}
		if hasCollateral {
			value := wmul(position.Collateral, price)
			collateralValue.Add(collateralValue, value)
			borrowCapacity.Add(borrowCapacity, wmul(value, reserve.LTV))
			thresholdAccumulator.Add(thresholdAccumulator, wmul(value, reserve.LiquidationThreshold))
		}
		if hasDebt {
			debt := position.Debt(reserve.BorrowIndex)
			debtValue.Add(debtValue, wmul(debt, price))
		}
	}

	data := &AccountData{
		TotalCollateralValue:         collateralValue,
		TotalDebtValue:               debtValue,
		WeightedLiquidationThreshold: big.NewInt(0),
		CurrentLTV:                   big.NewInt(0),
	}
	if collateralValue.Sign() > 0 {
		data.WeightedLiquidationThreshold = wdiv(thresholdAccumulator, collateralValue)
		data.CurrentLTV = wdiv(debtValue, collateralValue)
	}
	capacity := new(big.Int).Sub(borrowCapacity, debtValue)
	if capacity.Sign() < 0 {
		capacity.SetInt64(0)
	}
	data.AvailableBorrowCapacity = capacity
	if debtValue.Sign() == 0 {
		data.HealthFactor = MaxHealthFactor()
	} else {
		data.HealthFactor = wdiv(wmul(collateralValue, data.WeightedLiquidationThreshold), debtValue)
	}
	return data, nil
}

// healthy reports whether the user's current health factor clears the one WAD
// minimum.
func (e *Engine) healthy(user crypto.Address) (bool, error) {
	data, err := e.accountData(user)
	if err != nil {
		return false, err
	}
	return data.HealthFactor.Cmp(wad) >= 0, nil
}
