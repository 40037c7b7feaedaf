package lending

import "context"

// Reserve mirrors the lend_getReserve result. Amounts and WAD ratios are
// decimal strings so callers can feed them to big.Int without loss.
type Reserve struct {
	Asset                string `json:"asset"`
	ReceiptToken         string `json:"receiptToken"`
	TotalLiquidity       string `json:"totalLiquidity"`
	TotalBorrowed        string `json:"totalBorrowed"`
	LiquidityIndex       string `json:"liquidityIndex"`
	BorrowIndex          string `json:"borrowIndex"`
	LTV                  string `json:"ltv"`
	LiquidationThreshold string `json:"liquidationThreshold"`
	LiquidationBonus     string `json:"liquidationBonus"`
	CloseFactor          string `json:"closeFactor"`
	Active               bool   `json:"active"`
	LastAccrual          uint64 `json:"lastAccrual"`
}

// ReserveConfig carries the risk parameters for lend_initReserve.
type ReserveConfig struct {
	Asset                string `json:"asset"`
	ReceiptToken         string `json:"receiptToken"`
	LTV                  string `json:"ltv"`
	LiquidationThreshold string `json:"liquidationThreshold"`
	LiquidationBonus     string `json:"liquidationBonus"`
	CloseFactor          string `json:"closeFactor"`
}

// Position mirrors the lend_getPosition result.
type Position struct {
	Address           string `json:"address"`
	Asset             string `json:"asset"`
	Collateral        string `json:"collateral"`
	ScaledDebt        string `json:"scaledDebt"`
	CollateralEnabled bool   `json:"collateralEnabled"`
	Open              bool   `json:"open"`
}

// AccountData mirrors the lend_getUserAccountData result.
type AccountData struct {
	TotalCollateralValue         string `json:"totalCollateralValue"`
	TotalDebtValue               string `json:"totalDebtValue"`
	AvailableBorrowCapacity      string `json:"availableBorrowCapacity"`
	WeightedLiquidationThreshold string `json:"weightedLiquidationThreshold"`
	CurrentLTV                   string `json:"currentLtv"`
	HealthFactor                 string `json:"healthFactor"`
}

// RateModel mirrors the lend_getRateModel result. Rates and the kink are
// WAD decimal strings.
type RateModel struct {
	BaseRate string `json:"baseRate"`
	Slope1   string `json:"slope1"`
	Slope2   string `json:"slope2"`
	Kink     string `json:"kink"`
}

type initReserveRequest struct {
	Caller               string `json:"caller"`
	Asset                string `json:"asset"`
	ReceiptToken         string `json:"receiptToken"`
	LTV                  string `json:"ltv"`
	LiquidationThreshold string `json:"liquidationThreshold"`
	LiquidationBonus     string `json:"liquidationBonus"`
	CloseFactor          string `json:"closeFactor"`
}

type setOracleRequest struct {
	Caller string `json:"caller"`
	Feeder string `json:"feeder"`
}

type setRateModelRequest struct {
	Caller   string `json:"caller"`
	BaseRate string `json:"baseRate"`
	Slope1   string `json:"slope1"`
	Slope2   string `json:"slope2"`
	Kink     string `json:"kink"`
}

type setPriceRequest struct {
	Caller string `json:"caller"`
	Asset  string `json:"asset"`
	Price  string `json:"price"`
}

type grantRoleRequest struct {
	Caller  string `json:"caller"`
	Role    string `json:"role"`
	Address string `json:"address"`
}

type mintRequest struct {
	Caller string `json:"caller"`
	To     string `json:"to"`
	Symbol string `json:"symbol"`
	Amount string `json:"amount"`
}

type amountOpRequest struct {
	From   string `json:"from"`
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

type borrowRequest struct {
	Borrower string `json:"borrower"`
	Asset    string `json:"asset"`
	Amount   string `json:"amount"`
}

type liquidateRequest struct {
	Liquidator      string `json:"liquidator"`
	Borrower        string `json:"borrower"`
	DebtAsset       string `json:"debtAsset"`
	CollateralAsset string `json:"collateralAsset"`
	Amount          string `json:"amount"`
}

type positionQuery struct {
	Address string `json:"address"`
	Asset   string `json:"asset"`
}

type balanceQuery struct {
	Address string `json:"address"`
	Symbol  string `json:"symbol"`
}

type depositResult struct {
	Minted string `json:"minted"`
}

type withdrawResult struct {
	Burned string `json:"burned"`
}

type repayResult struct {
	Repaid string `json:"repaid"`
}

type liquidateOutcome struct {
	Repaid string `json:"repaid"`
	Seized string `json:"seized"`
}

type healthFactorResult struct {
	HealthFactor string `json:"healthFactor"`
}

type priceResult struct {
	Asset string `json:"asset"`
	Price string `json:"price"`
}

type balanceResult struct {
	Address string `json:"address"`
	Symbol  string `json:"symbol"`
	Balance string `json:"balance"`
}

// InitReserve registers a reserve for asset and returns its initial state.
// The caller must hold the lending admin role.
func (c *Client) InitReserve(ctx context.Context, caller string, cfg ReserveConfig) (*Reserve, error) {
	for _, field := range []struct{ name, value string }{
		{"caller", caller},
		{"asset", cfg.Asset},
		{"receiptToken", cfg.ReceiptToken},
	} {
		if err := requireField(field.name, field.value); err != nil {
			return nil, err
		}
	}
	var out Reserve
	err := c.call(ctx, "lend_initReserve", &out, initReserveRequest{
		Caller:               caller,
		Asset:                cfg.Asset,
		ReceiptToken:         cfg.ReceiptToken,
		LTV:                  cfg.LTV,
		LiquidationThreshold: cfg.LiquidationThreshold,
		LiquidationBonus:     cfg.LiquidationBonus,
		CloseFactor:          cfg.CloseFactor,
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// SetOracle designates the address allowed to post prices.
func (c *Client) SetOracle(ctx context.Context, caller, feeder string) error {
	if err := requireField("caller", caller); err != nil {
		return err
	}
	if err := requireField("feeder", feeder); err != nil {
		return err
	}
	return c.call(ctx, "lend_setOracle", nil, setOracleRequest{Caller: caller, Feeder: feeder})
}

// SetRateModel installs the interest rate model shared by all reserves.
func (c *Client) SetRateModel(ctx context.Context, caller string, model RateModel) (*RateModel, error) {
	if err := requireField("caller", caller); err != nil {
		return nil, err
	}
	var out RateModel
	err := c.call(ctx, "lend_setRateModel", &out, setRateModelRequest{
		Caller:   caller,
		BaseRate: model.BaseRate,
		Slope1:   model.Slope1,
		Slope2:   model.Slope2,
		Kink:     model.Kink,
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// SetPrice posts an oracle quote for asset. Only the designated feeder
// may call it.
func (c *Client) SetPrice(ctx context.Context, caller, asset, price string) error {
	for _, field := range []struct{ name, value string }{
		{"caller", caller},
		{"asset", asset},
		{"price", price},
	} {
		if err := requireField(field.name, field.value); err != nil {
			return err
		}
	}
	return c.call(ctx, "lend_setPrice", nil, setPriceRequest{Caller: caller, Asset: asset, Price: price})
}

// GrantRole assigns a named role to an address.
func (c *Client) GrantRole(ctx context.Context, caller, role, address string) error {
	for _, field := range []struct{ name, value string }{
		{"caller", caller},
		{"role", role},
		{"address", address},
	} {
		if err := requireField(field.name, field.value); err != nil {
			return err
		}
	}
	return c.call(ctx, "lend_grantRole", nil, grantRoleRequest{Caller: caller, Role: role, Address: address})
}

// Mint credits freshly minted tokens to an address. Receipt tokens are
// refused; the ledger manages those itself.
func (c *Client) Mint(ctx context.Context, caller, to, symbol, amount string) error {
	for _, field := range []struct{ name, value string }{
		{"caller", caller},
		{"to", to},
		{"symbol", symbol},
		{"amount", amount},
	} {
		if err := requireField(field.name, field.value); err != nil {
			return err
		}
	}
	return c.call(ctx, "lend_mint", nil, mintRequest{Caller: caller, To: to, Symbol: symbol, Amount: amount})
}

// Deposit supplies amount of asset as collateral and returns the receipt
// tokens minted.
func (c *Client) Deposit(ctx context.Context, from, asset, amount string) (string, error) {
	if err := validateAmountOp(from, asset, amount); err != nil {
		return "", err
	}
	var out depositResult
	if err := c.call(ctx, "lend_deposit", &out, amountOpRequest{From: from, Asset: asset, Amount: amount}); err != nil {
		return "", err
	}
	return out.Minted, nil
}

// Withdraw removes collateral and returns the receipt tokens burned.
func (c *Client) Withdraw(ctx context.Context, from, asset, amount string) (string, error) {
	if err := validateAmountOp(from, asset, amount); err != nil {
		return "", err
	}
	var out withdrawResult
	if err := c.call(ctx, "lend_withdraw", &out, amountOpRequest{From: from, Asset: asset, Amount: amount}); err != nil {
		return "", err
	}
	return out.Burned, nil
}

// Borrow draws amount of asset against the borrower's collateral.
func (c *Client) Borrow(ctx context.Context, borrower, asset, amount string) error {
	if err := validateAmountOp(borrower, asset, amount); err != nil {
		return err
	}
	return c.call(ctx, "lend_borrow", nil, borrowRequest{Borrower: borrower, Asset: asset, Amount: amount})
}

// Repay pays down debt and returns the amount actually applied, which may
// be less than requested when the outstanding debt is smaller.
func (c *Client) Repay(ctx context.Context, from, asset, amount string) (string, error) {
	if err := validateAmountOp(from, asset, amount); err != nil {
		return "", err
	}
	var out repayResult
	if err := c.call(ctx, "lend_repay", &out, amountOpRequest{From: from, Asset: asset, Amount: amount}); err != nil {
		return "", err
	}
	return out.Repaid, nil
}

// Liquidate repays part of an unhealthy borrower's debt and returns the
// debt repaid and collateral seized.
func (c *Client) Liquidate(ctx context.Context, liquidator, borrower, debtAsset, collateralAsset, amount string) (repaid, seized string, err error) {
	for _, field := range []struct{ name, value string }{
		{"liquidator", liquidator},
		{"borrower", borrower},
		{"debtAsset", debtAsset},
		{"collateralAsset", collateralAsset},
		{"amount", amount},
	} {
		if err := requireField(field.name, field.value); err != nil {
			return "", "", err
		}
	}
	var out liquidateOutcome
	err = c.call(ctx, "lend_liquidate", &out, liquidateRequest{
		Liquidator:      liquidator,
		Borrower:        borrower,
		DebtAsset:       debtAsset,
		CollateralAsset: collateralAsset,
		Amount:          amount,
	})
	if err != nil {
		return "", "", err
	}
	return out.Repaid, out.Seized, nil
}

// GetReserve fetches the current state of a reserve.
func (c *Client) GetReserve(ctx context.Context, asset string) (*Reserve, error) {
	if err := requireField("asset", asset); err != nil {
		return nil, err
	}
	var out Reserve
	if err := c.call(ctx, "lend_getReserve", &out, asset); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetReserves lists every registered reserve.
func (c *Client) GetReserves(ctx context.Context) ([]Reserve, error) {
	var out []Reserve
	if err := c.call(ctx, "lend_getReserves", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetPosition fetches a user's position in one reserve.
func (c *Client) GetPosition(ctx context.Context, address, asset string) (*Position, error) {
	if err := requireField("address", address); err != nil {
		return nil, err
	}
	if err := requireField("asset", asset); err != nil {
		return nil, err
	}
	var out Position
	if err := c.call(ctx, "lend_getPosition", &out, positionQuery{Address: address, Asset: asset}); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetUserAccountData aggregates a user's collateral, debt, and risk
// figures across all reserves.
func (c *Client) GetUserAccountData(ctx context.Context, address string) (*AccountData, error) {
	if err := requireField("address", address); err != nil {
		return nil, err
	}
	var out AccountData
	if err := c.call(ctx, "lend_getUserAccountData", &out, address); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetHealthFactor returns a user's health factor as a WAD decimal string.
func (c *Client) GetHealthFactor(ctx context.Context, address string) (string, error) {
	if err := requireField("address", address); err != nil {
		return "", err
	}
	var out healthFactorResult
	if err := c.call(ctx, "lend_getHealthFactor", &out, address); err != nil {
		return "", err
	}
	return out.HealthFactor, nil
}

// GetPrice returns the oracle quote for asset.
func (c *Client) GetPrice(ctx context.Context, asset string) (string, error) {
	if err := requireField("asset", asset); err != nil {
		return "", err
	}
	var out priceResult
	if err := c.call(ctx, "lend_getPrice", &out, asset); err != nil {
		return "", err
	}
	return out.Price, nil
}

// GetRateModel returns the configured interest rate model.
func (c *Client) GetRateModel(ctx context.Context) (*RateModel, error) {
	var out RateModel
	if err := c.call(ctx, "lend_getRateModel", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Balance returns an address's token balance as a decimal string.
func (c *Client) Balance(ctx context.Context, address, symbol string) (string, error) {
	if err := requireField("address", address); err != nil {
		return "", err
	}
	if err := requireField("symbol", symbol); err != nil {
		return "", err
	}
	var out balanceResult
	if err := c.call(ctx, "lend_balance", &out, balanceQuery{Address: address, Symbol: symbol}); err != nil {
		return "", err
	}
	return out.Balance, nil
}

func validateAmountOp(account, asset, amount string) error {
	for _, field := range []struct{ name, value string }{
		{"account", account},
		{"asset", asset},
		{"amount", amount},
	} {
		if err := requireField(field.name, field.value); err != nil {
			return err
		}
	}
	return nil
}
