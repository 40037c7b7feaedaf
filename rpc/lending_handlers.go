package rpc

import (
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"lendcore/crypto"
	"lendcore/native/lending"
)

type initReserveParams struct {
	Caller               string `json:"caller"`
	Asset                string `json:"asset"`
	ReceiptToken         string `json:"receiptToken"`
	LTV                  string `json:"ltv"`
	LiquidationThreshold string `json:"liquidationThreshold"`
	LiquidationBonus     string `json:"liquidationBonus"`
	CloseFactor          string `json:"closeFactor"`
}

type setOracleParams struct {
	Caller string `json:"caller"`
	Feeder string `json:"feeder"`
}

type setRateModelParams struct {
	Caller   string `json:"caller"`
	BaseRate string `json:"baseRate"`
	Slope1   string `json:"slope1"`
	Slope2   string `json:"slope2"`
	Kink     string `json:"kink"`
}

type setPriceParams struct {
	Caller string `json:"caller"`
	Asset  string `json:"asset"`
	Price  string `json:"price"`
}

type grantRoleParams struct {
	Caller  string `json:"caller"`
	Role    string `json:"role"`
	Address string `json:"address"`
}

type mintParams struct {
	Caller string `json:"caller"`
	To     string `json:"to"`
	Symbol string `json:"symbol"`
	Amount string `json:"amount"`
}

type amountOpParams struct {
	From   string `json:"from"`
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

type borrowParams struct {
	Borrower string `json:"borrower"`
	Asset    string `json:"asset"`
	Amount   string `json:"amount"`
}

type liquidateParams struct {
	Liquidator      string `json:"liquidator"`
	Borrower        string `json:"borrower"`
	DebtAsset       string `json:"debtAsset"`
	CollateralAsset string `json:"collateralAsset"`
	Amount          string `json:"amount"`
}

type positionQueryParams struct {
	Address string `json:"address"`
	Asset   string `json:"asset"`
}

type balanceQueryParams struct {
	Address string `json:"address"`
	Symbol  string `json:"symbol"`
}

type reserveResult struct {
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

type positionResult struct {
	Address           string `json:"address"`
	Asset             string `json:"asset"`
	Collateral        string `json:"collateral"`
	ScaledDebt        string `json:"scaledDebt"`
	CollateralEnabled bool   `json:"collateralEnabled"`
	Open              bool   `json:"open"`
}

type accountDataResult struct {
	TotalCollateralValue         string `json:"totalCollateralValue"`
	TotalDebtValue               string `json:"totalDebtValue"`
	AvailableBorrowCapacity      string `json:"availableBorrowCapacity"`
	WeightedLiquidationThreshold string `json:"weightedLiquidationThreshold"`
	CurrentLTV                   string `json:"currentLtv"`
	HealthFactor                 string `json:"healthFactor"`
}

type rateModelResult struct {
	BaseRate string `json:"baseRate"`
	Slope1   string `json:"slope1"`
	Slope2   string `json:"slope2"`
	Kink     string `json:"kink"`
}

type depositResult struct {
	Minted string `json:"minted"`
}

type withdrawResult struct {
	Burned string `json:"burned"`
}

type borrowResult struct {
	Borrowed string `json:"borrowed"`
}

type repayResult struct {
	Repaid string `json:"repaid"`
}

type liquidateResult struct {
	Repaid string `json:"repaid"`
	Seized string `json:"seized"`
}

func (s *Server) handleInitReserve(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params initReserveParams
	if !decodeSingleParam(w, req, &params) {
		return
	}
	caller, err := decodeBech32(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid caller", err.Error())
		return
	}
	cfg := lending.ReserveConfig{Asset: params.Asset, ReceiptToken: params.ReceiptToken}
	for _, field := range []struct {
		name string
		raw  string
		dst  **big.Int
	}{
		{"ltv", params.LTV, &cfg.LTV},
		{"liquidationThreshold", params.LiquidationThreshold, &cfg.LiquidationThreshold},
		{"liquidationBonus", params.LiquidationBonus, &cfg.LiquidationBonus},
		{"closeFactor", params.CloseFactor, &cfg.CloseFactor},
	} {
		value, err := parseRatio(field.name, field.raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
			return
		}
		*field.dst = value
	}
	if modErr := s.lending.InitReserve(caller, cfg); modErr != nil {
		writeModuleError(w, req.ID, modErr)
		return
	}
	reserve, modErr := s.lending.GetReserve(cfg.Asset)
	if modErr != nil {
		writeModuleError(w, req.ID, modErr)
		return
	}
	writeResult(w, req.ID, reserveResultFrom(reserve))
}

func (s *Server) handleSetOracle(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params setOracleParams
	if !decodeSingleParam(w, req, &params) {
		return
	}
	caller, err := decodeBech32(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid caller", err.Error())
		return
	}
	feeder, err := decodeBech32(params.Feeder)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid feeder", err.Error())
		return
	}
	if modErr := s.lending.SetOracle(caller, feeder); modErr != nil {
		writeModuleError(w, req.ID, modErr)
		return
	}
	writeResult(w, req.ID, map[string]string{"feeder": feeder.String()})
}

func (s *Server) handleSetRateModel(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params setRateModelParams
	if !decodeSingleParam(w, req, &params) {
		return
	}
	caller, err := decodeBech32(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid caller", err.Error())
		return
	}
	model := &lending.RateModel{}
	for _, field := range []struct {
		name string
		raw  string
		dst  **big.Int
	}{
		{"baseRate", params.BaseRate, &model.BaseRate},
		{"slope1", params.Slope1, &model.Slope1},
		{"slope2", params.Slope2, &model.Slope2},
		{"kink", params.Kink, &model.Kink},
	} {
		value, err := parseRatio(field.name, field.raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
			return
		}
		*field.dst = value
	}
	if modErr := s.lending.SetRateModel(caller, model); modErr != nil {
		writeModuleError(w, req.ID, modErr)
		return
	}
	writeResult(w, req.ID, rateModelResultFrom(model))
}

func (s *Server) handleSetPrice(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params setPriceParams
	if !decodeSingleParam(w, req, &params) {
		return
	}
	caller, err := decodeBech32(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid caller", err.Error())
		return
	}
	price, err := parseRatio("price", params.Price)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	if modErr := s.lending.SetPrice(caller, params.Asset, price); modErr != nil {
		writeModuleError(w, req.ID, modErr)
		return
	}
	writeResult(w, req.ID, map[string]string{"asset": strings.ToUpper(strings.TrimSpace(params.Asset)), "price": price.String()})
}

func (s *Server) handleGrantRole(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params grantRoleParams
	if !decodeSingleParam(w, req, &params) {
		return
	}
	caller, err := decodeBech32(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid caller", err.Error())
		return
	}
	role := strings.TrimSpace(params.Role)
	if role == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "role required", nil)
		return
	}
	grantee, err := decodeBech32(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid address", err.Error())
		return
	}
	if modErr := s.lending.GrantRole(caller, role, grantee); modErr != nil {
		writeModuleError(w, req.ID, modErr)
		return
	}
	writeResult(w, req.ID, map[string]string{"role": role, "address": grantee.String()})
}

func (s *Server) handleMint(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params mintParams
	if !decodeSingleParam(w, req, &params) {
		return
	}
	caller, err := decodeBech32(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid caller", err.Error())
		return
	}
	to, err := decodeBech32(params.To)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid to", err.Error())
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	if modErr := s.lending.Mint(caller, to, params.Symbol, amount); modErr != nil {
		writeModuleError(w, req.ID, modErr)
		return
	}
	writeResult(w, req.ID, map[string]string{"to": to.String(), "symbol": strings.ToUpper(strings.TrimSpace(params.Symbol)), "minted": amount.String()})
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if !s.allowMutation(w, r, req) {
		return
	}
	from, asset, amount, ok := s.parseAmountOp(w, req)
	if !ok {
		return
	}
	minted, modErr := s.lending.Deposit(from, asset, amount)
	if modErr != nil {
		writeModuleError(w, req.ID, modErr)
		return
	}
	writeResult(w, req.ID, depositResult{Minted: bigString(minted)})
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if !s.allowMutation(w, r, req) {
		return
	}
	from, asset, amount, ok := s.parseAmountOp(w, req)
	if !ok {
		return
	}
	burned, modErr := s.lending.Withdraw(from, asset, amount)
	if modErr != nil {
		writeModuleError(w, req.ID, modErr)
		return
	}
	writeResult(w, req.ID, withdrawResult{Burned: bigString(burned)})
}

func (s *Server) handleBorrow(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if !s.allowMutation(w, r, req) {
		return
	}
	var params borrowParams
	if !decodeSingleParam(w, req, &params) {
		return
	}
	borrower, err := decodeBech32(params.Borrower)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid borrower", err.Error())
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	if modErr := s.lending.Borrow(borrower, params.Asset, amount); modErr != nil {
		writeModuleError(w, req.ID, modErr)
		return
	}
	writeResult(w, req.ID, borrowResult{Borrowed: amount.String()})
}

func (s *Server) handleRepay(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if !s.allowMutation(w, r, req) {
		return
	}
	from, asset, amount, ok := s.parseAmountOp(w, req)
	if !ok {
		return
	}
	repaid, modErr := s.lending.Repay(from, asset, amount)
	if modErr != nil {
		writeModuleError(w, req.ID, modErr)
		return
	}
	writeResult(w, req.ID, repayResult{Repaid: bigString(repaid)})
}

func (s *Server) handleLiquidate(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if !s.allowMutation(w, r, req) {
		return
	}
	var params liquidateParams
	if !decodeSingleParam(w, req, &params) {
		return
	}
	liquidator, err := decodeBech32(params.Liquidator)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid liquidator", err.Error())
		return
	}
	borrower, err := decodeBech32(params.Borrower)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid borrower", err.Error())
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	repaid, seized, modErr := s.lending.Liquidate(liquidator, borrower, params.DebtAsset, params.CollateralAsset, amount)
	if modErr != nil {
		writeModuleError(w, req.ID, modErr)
		return
	}
	writeResult(w, req.ID, liquidateResult{Repaid: bigString(repaid), Seized: bigString(seized)})
}

func (s *Server) handleGetReserve(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	asset, ok := decodeAssetParam(w, req)
	if !ok {
		return
	}
	reserve, modErr := s.lending.GetReserve(asset)
	if modErr != nil {
		writeModuleError(w, req.ID, modErr)
		return
	}
	writeResult(w, req.ID, reserveResultFrom(reserve))
}

func (s *Server) handleGetReserves(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if len(req.Params) != 0 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "no parameters expected", nil)
		return
	}
	reserves, modErr := s.lending.GetReserves()
	if modErr != nil {
		writeModuleError(w, req.ID, modErr)
		return
	}
	results := make([]reserveResult, 0, len(reserves))
	for _, reserve := range reserves {
		results = append(results, reserveResultFrom(reserve))
	}
	writeResult(w, req.ID, results)
}

func (s *Server) handleGetPosition(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params positionQueryParams
	if !decodeSingleParam(w, req, &params) {
		return
	}
	addr, err := decodeBech32(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid address", err.Error())
		return
	}
	position, modErr := s.lending.GetPosition(addr, params.Asset)
	if modErr != nil {
		writeModuleError(w, req.ID, modErr)
		return
	}
	result := positionResult{
		Address:           addr.String(),
		Asset:             strings.ToUpper(strings.TrimSpace(params.Asset)),
		Collateral:        bigString(position.Collateral),
		ScaledDebt:        bigString(position.ScaledDebt),
		CollateralEnabled: position.CollateralEnabled,
		Open:              position.Open,
	}
	writeResult(w, req.ID, result)
}

func (s *Server) handleGetUserAccountData(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	addr, ok := decodeAddressParam(w, req)
	if !ok {
		return
	}
	data, modErr := s.lending.GetAccountData(addr)
	if modErr != nil {
		writeModuleError(w, req.ID, modErr)
		return
	}
	result := accountDataResult{
		TotalCollateralValue:         bigString(data.TotalCollateralValue),
		TotalDebtValue:               bigString(data.TotalDebtValue),
		AvailableBorrowCapacity:      bigString(data.AvailableBorrowCapacity),
		WeightedLiquidationThreshold: bigString(data.WeightedLiquidationThreshold),
		CurrentLTV:                   bigString(data.CurrentLTV),
		HealthFactor:                 bigString(data.HealthFactor),
	}
	writeResult(w, req.ID, result)
}

func (s *Server) handleGetHealthFactor(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	addr, ok := decodeAddressParam(w, req)
	if !ok {
		return
	}
	factor, modErr := s.lending.GetHealthFactor(addr)
	if modErr != nil {
		writeModuleError(w, req.ID, modErr)
		return
	}
	writeResult(w, req.ID, map[string]string{"healthFactor": bigString(factor)})
}

func (s *Server) handleGetPrice(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	asset, ok := decodeAssetParam(w, req)
	if !ok {
		return
	}
	price, modErr := s.lending.GetPrice(asset)
	if modErr != nil {
		writeModuleError(w, req.ID, modErr)
		return
	}
	writeResult(w, req.ID, map[string]string{"asset": strings.ToUpper(strings.TrimSpace(asset)), "price": bigString(price)})
}

func (s *Server) handleGetRateModel(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if len(req.Params) != 0 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "no parameters expected", nil)
		return
	}
	model, modErr := s.lending.GetRateModel()
	if modErr != nil {
		writeModuleError(w, req.ID, modErr)
		return
	}
	writeResult(w, req.ID, rateModelResultFrom(model))
}

func (s *Server) handleBalance(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params balanceQueryParams
	if !decodeSingleParam(w, req, &params) {
		return
	}
	addr, err := decodeBech32(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid address", err.Error())
		return
	}
	balance, modErr := s.lending.Balance(addr, params.Symbol)
	if modErr != nil {
		writeModuleError(w, req.ID, modErr)
		return
	}
	result := map[string]string{
		"address": addr.String(),
		"symbol":  strings.ToUpper(strings.TrimSpace(params.Symbol)),
		"balance": bigString(balance),
	}
	writeResult(w, req.ID, result)
}

func (s *Server) parseAmountOp(w http.ResponseWriter, req *RPCRequest) (crypto.Address, string, *big.Int, bool) {
	var params amountOpParams
	if !decodeSingleParam(w, req, &params) {
		return crypto.Address{}, "", nil, false
	}
	from, err := decodeBech32(params.From)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid from", err.Error())
		return crypto.Address{}, "", nil, false
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return crypto.Address{}, "", nil, false
	}
	return from, params.Asset, amount, true
}

// decodeSingleParam enforces the single-object parameter convention shared by
// every lending method.
func decodeSingleParam(w http.ResponseWriter, req *RPCRequest, out interface{}) bool {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "expected parameter object", nil)
		return false
	}
	if err := json.Unmarshal(req.Params[0], out); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
		return false
	}
	return true
}

// decodeAssetParam accepts either a bare symbol string or {"asset": ...}.
func decodeAssetParam(w http.ResponseWriter, req *RPCRequest) (string, bool) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "expected asset parameter", nil)
		return "", false
	}
	var direct string
	if err := json.Unmarshal(req.Params[0], &direct); err == nil {
		if strings.TrimSpace(direct) == "" {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "asset required", nil)
			return "", false
		}
		return direct, true
	}
	var wrapped struct {
		Asset string `json:"asset"`
	}
	if err := json.Unmarshal(req.Params[0], &wrapped); err != nil || strings.TrimSpace(wrapped.Asset) == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid asset parameter", nil)
		return "", false
	}
	return wrapped.Asset, true
}

// decodeAddressParam accepts either a bare bech32 string or {"address": ...}.
func decodeAddressParam(w http.ResponseWriter, req *RPCRequest) (crypto.Address, bool) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "expected address parameter", nil)
		return crypto.Address{}, false
	}
	var direct string
	if err := json.Unmarshal(req.Params[0], &direct); err != nil {
		var wrapped struct {
			Address string `json:"address"`
		}
		if err := json.Unmarshal(req.Params[0], &wrapped); err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid address parameter", err.Error())
			return crypto.Address{}, false
		}
		direct = wrapped.Address
	}
	addr, err := decodeBech32(direct)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid address", err.Error())
		return crypto.Address{}, false
	}
	return addr, true
}

func decodeBech32(addr string) (crypto.Address, error) {
	return crypto.DecodeAddress(strings.TrimSpace(addr))
}

func parseAmount(amount string) (*big.Int, error) {
	trimmed := strings.TrimSpace(amount)
	if trimmed == "" {
		return nil, fmt.Errorf("amount is required")
	}
	value, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount")
	}
	if value.Sign() <= 0 {
		return nil, fmt.Errorf("amount must be positive")
	}
	return value, nil
}

// parseRatio parses a WAD decimal string, allowing zero.
func parseRatio(field, raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("%s is required", field)
	}
	value, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid %s", field)
	}
	if value.Sign() < 0 {
		return nil, fmt.Errorf("%s must not be negative", field)
	}
	return value, nil
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func reserveResultFrom(reserve *lending.Reserve) reserveResult {
	if reserve == nil {
		return reserveResult{}
	}
	return reserveResult{
		Asset:                reserve.Asset,
		ReceiptToken:         reserve.ReceiptToken,
		TotalLiquidity:       bigString(reserve.TotalLiquidity),
		TotalBorrowed:        bigString(reserve.TotalBorrowed),
		LiquidityIndex:       bigString(reserve.LiquidityIndex),
		BorrowIndex:          bigString(reserve.BorrowIndex),
		LTV:                  bigString(reserve.LTV),
		LiquidationThreshold: bigString(reserve.LiquidationThreshold),
		LiquidationBonus:     bigString(reserve.LiquidationBonus),
		CloseFactor:          bigString(reserve.CloseFactor),
		Active:               reserve.Active,
		LastAccrual:          reserve.LastAccrual,
	}
}

func rateModelResultFrom(model *lending.RateModel) rateModelResult {
	if model == nil {
		return rateModelResult{}
	}
	return rateModelResult{
		BaseRate: bigString(model.BaseRate),
		Slope1:   bigString(model.Slope1),
		Slope2:   bigString(model.Slope2),
		Kink:     bigString(model.Kink),
	}
}
