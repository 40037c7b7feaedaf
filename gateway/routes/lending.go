package routes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"lendcore/sdk/lending"
)

const requestBodyLimit = 1 << 20

// lendingRoutes bridges the REST surface to the node's JSON-RPC API.
type lendingRoutes struct {
	client  *lending.Client
	timeout time.Duration
}

func newLendingRoutes(client *lending.Client) *lendingRoutes {
	return &lendingRoutes{client: client, timeout: 10 * time.Second}
}

func (lr *lendingRoutes) mountReads(r chi.Router) {
	r.Get("/markets", lr.listMarkets)
	r.Get("/markets/{asset}", lr.getMarket)
	r.Get("/markets/{asset}/price", lr.getPrice)
	r.Get("/rate-model", lr.getRateModel)
	r.Get("/accounts/{address}", lr.getAccount)
	r.Get("/accounts/{address}/health", lr.getHealth)
	r.Get("/accounts/{address}/positions/{asset}", lr.getPosition)
	r.Get("/accounts/{address}/balances/{symbol}", lr.getBalance)
}

func (lr *lendingRoutes) mountWrites(r chi.Router) {
	r.Post("/supply", lr.supply)
	r.Post("/withdraw", lr.withdraw)
	r.Post("/borrow", lr.borrow)
	r.Post("/repay", lr.repay)
	r.Post("/liquidate", lr.liquidate)
}

func (lr *lendingRoutes) context(parent context.Context) (context.Context, context.CancelFunc) {
	timeout := lr.timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return context.WithTimeout(parent, timeout)
}

func (lr *lendingRoutes) listMarkets(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := lr.context(r.Context())
	defer cancel()
	reserves, err := lr.client.GetReserves(ctx)
	if err != nil {
		writeClientError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"markets": reserves})
}

func (lr *lendingRoutes) getMarket(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := lr.context(r.Context())
	defer cancel()
	reserve, err := lr.client.GetReserve(ctx, chi.URLParam(r, "asset"))
	if err != nil {
		writeClientError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reserve)
}

func (lr *lendingRoutes) getPrice(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := lr.context(r.Context())
	defer cancel()
	asset := chi.URLParam(r, "asset")
	price, err := lr.client.GetPrice(ctx, asset)
	if err != nil {
		writeClientError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"asset": strings.ToUpper(asset), "price": price})
}

func (lr *lendingRoutes) getRateModel(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := lr.context(r.Context())
	defer cancel()
	model, err := lr.client.GetRateModel(ctx)
	if err != nil {
		writeClientError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, model)
}

func (lr *lendingRoutes) getAccount(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := lr.context(r.Context())
	defer cancel()
	data, err := lr.client.GetUserAccountData(ctx, chi.URLParam(r, "address"))
	if err != nil {
		writeClientError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, data)
}

func (lr *lendingRoutes) getHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := lr.context(r.Context())
	defer cancel()
	factor, err := lr.client.GetHealthFactor(ctx, chi.URLParam(r, "address"))
	if err != nil {
		writeClientError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"healthFactor": factor})
}

func (lr *lendingRoutes) getPosition(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := lr.context(r.Context())
	defer cancel()
	position, err := lr.client.GetPosition(ctx, chi.URLParam(r, "address"), chi.URLParam(r, "asset"))
	if err != nil {
		writeClientError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, position)
}

func (lr *lendingRoutes) getBalance(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := lr.context(r.Context())
	defer cancel()
	address := chi.URLParam(r, "address")
	symbol := chi.URLParam(r, "symbol")
	balance, err := lr.client.Balance(ctx, address, symbol)
	if err != nil {
		writeClientError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"address": address,
		"symbol":  strings.ToUpper(symbol),
		"balance": balance,
	})
}

type amountOpRequest struct {
	From   string `json:"from"`
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

func (req amountOpRequest) validate() error {
	return requireFields(map[string]string{
		"from":   req.From,
		"asset":  req.Asset,
		"amount": req.Amount,
	})
}

func (lr *lendingRoutes) supply(w http.ResponseWriter, r *http.Request) {
	var req amountOpRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	if err := req.validate(); err != nil {
		writeBadRequest(w, err)
		return
	}
	ctx, cancel := lr.context(r.Context())
	defer cancel()
	minted, err := lr.client.Deposit(ctx, req.From, req.Asset, req.Amount)
	if err != nil {
		writeClientError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"minted": minted})
}

func (lr *lendingRoutes) withdraw(w http.ResponseWriter, r *http.Request) {
	var req amountOpRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	if err := req.validate(); err != nil {
		writeBadRequest(w, err)
		return
	}
	ctx, cancel := lr.context(r.Context())
	defer cancel()
	burned, err := lr.client.Withdraw(ctx, req.From, req.Asset, req.Amount)
	if err != nil {
		writeClientError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"burned": burned})
}

func (lr *lendingRoutes) borrow(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Borrower string `json:"borrower"`
		Asset    string `json:"asset"`
		Amount   string `json:"amount"`
	}
	if !decodeRequest(w, r, &req) {
		return
	}
	if err := requireFields(map[string]string{
		"borrower": req.Borrower,
		"asset":    req.Asset,
		"amount":   req.Amount,
	}); err != nil {
		writeBadRequest(w, err)
		return
	}
	ctx, cancel := lr.context(r.Context())
	defer cancel()
	if err := lr.client.Borrow(ctx, req.Borrower, req.Asset, req.Amount); err != nil {
		writeClientError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"borrowed": req.Amount})
}

func (lr *lendingRoutes) repay(w http.ResponseWriter, r *http.Request) {
	var req amountOpRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	if err := req.validate(); err != nil {
		writeBadRequest(w, err)
		return
	}
	ctx, cancel := lr.context(r.Context())
	defer cancel()
	repaid, err := lr.client.Repay(ctx, req.From, req.Asset, req.Amount)
	if err != nil {
		writeClientError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"repaid": repaid})
}

func (lr *lendingRoutes) liquidate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Liquidator      string `json:"liquidator"`
		Borrower        string `json:"borrower"`
		DebtAsset       string `json:"debtAsset"`
		CollateralAsset string `json:"collateralAsset"`
		Amount          string `json:"amount"`
	}
	if !decodeRequest(w, r, &req) {
		return
	}
	if err := requireFields(map[string]string{
		"liquidator":      req.Liquidator,
		"borrower":        req.Borrower,
		"debtAsset":       req.DebtAsset,
		"collateralAsset": req.CollateralAsset,
		"amount":          req.Amount,
	}); err != nil {
		writeBadRequest(w, err)
		return
	}
	ctx, cancel := lr.context(r.Context())
	defer cancel()
	repaid, seized, err := lr.client.Liquidate(ctx, req.Liquidator, req.Borrower, req.DebtAsset, req.CollateralAsset, req.Amount)
	if err != nil {
		writeClientError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"repaid": repaid, "seized": seized})
}

func decodeRequest(w http.ResponseWriter, r *http.Request, out interface{}) bool {
	if r.Body == nil {
		writeBadRequest(w, errors.New("missing request body"))
		return false
	}
	defer r.Body.Close()
	data, err := io.ReadAll(io.LimitReader(r.Body, requestBodyLimit))
	if err != nil {
		writeBadRequest(w, fmt.Errorf("read request body: %w", err))
		return false
	}
	if len(data) == 0 {
		writeBadRequest(w, errors.New("request body is empty"))
		return false
	}
	if err := json.Unmarshal(data, out); err != nil {
		writeBadRequest(w, fmt.Errorf("decode request: %w", err))
		return false
	}
	return true
}

func requireFields(fields map[string]string) error {
	for name, value := range fields {
		if strings.TrimSpace(value) == "" {
			return fmt.Errorf("%s is required", name)
		}
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeBadRequest(w http.ResponseWriter, err error) {
	writeJSONError(w, http.StatusBadRequest, err)
}

func writeJSONError(w http.ResponseWriter, status int, err error) {
	message := strings.TrimSpace(err.Error())
	if message == "" {
		message = http.StatusText(status)
	}
	writeJSON(w, status, map[string]string{"error": message})
}

// writeClientError translates node RPC failures into REST statuses. Errors
// without an RPC envelope are upstream transport problems.
func writeClientError(w http.ResponseWriter, err error) {
	var rpcErr *lending.RPCError
	if errors.As(err, &rpcErr) {
		writeJSONError(w, mapRPCCode(rpcErr.Code), errors.New(rpcErr.Message))
		return
	}
	writeJSONError(w, http.StatusBadGateway, err)
}

func mapRPCCode(code int) int {
	switch code {
	case lending.CodeParseError, lending.CodeInvalidRequest, lending.CodeInvalidParams:
		return http.StatusBadRequest
	case lending.CodeUnauthorized:
		return http.StatusForbidden
	case lending.CodeRateLimited:
		return http.StatusTooManyRequests
	case lending.CodeLedgerBusy, lending.CodeCapacityExceeded, lending.CodeRiskRejected, lending.CodeStateConflict:
		return http.StatusConflict
	case lending.CodeOracleUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}
