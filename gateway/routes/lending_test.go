package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"lendcore/core"
	"lendcore/core/genesis"
	"lendcore/crypto"
	"lendcore/gateway/middleware"
	"lendcore/rpc"
	"lendcore/sdk/lending"
	"lendcore/storage"
)

const (
	nodeToken     = "node-test-token"
	gatewaySecret = "gateway-test-secret"
)

func testAddr(tag byte) crypto.Address {
	var raw [20]byte
	raw[19] = tag
	return crypto.MustNewAddress(raw[:])
}

func wadTokens(n int64) *big.Int {
	wad := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	return new(big.Int).Mul(big.NewInt(n), wad)
}

func pctWad(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), new(big.Int).Exp(big.NewInt(10), big.NewInt(16), nil))
}

type gatewayFixture struct {
	router http.Handler
	sdk    *lending.Client

	admin    crypto.Address
	feeder   crypto.Address
	borrower crypto.Address
	supplier crypto.Address
}

func newGatewayFixture(t *testing.T) *gatewayFixture {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(db.Close)

	fixture := &gatewayFixture{
		admin:    testAddr(0xA0),
		feeder:   testAddr(0xB0),
		borrower: testAddr(0x01),
		supplier: testAddr(0x02),
	}
	module := testAddr(0xFE)
	spec := &genesis.Spec{
		Tokens: []genesis.TokenSpec{
			{Symbol: "WETX", Name: "Wrapped ETX", Decimals: 18},
			{Symbol: "USDX", Name: "USD X", Decimals: 18},
		},
		Alloc: map[string]map[string]string{
			fixture.borrower.String(): {"WETX": wadTokens(100).String()},
			fixture.supplier.String(): {"USDX": wadTokens(200_000).String()},
		},
		Roles:        map[string][]string{core.RoleLendAdmin: {fixture.admin.String()}},
		OracleFeeder: fixture.feeder.String(),
	}
	if err := genesis.Apply(db, spec, module); err != nil {
		t.Fatalf("genesis: %v", err)
	}
	ledger, err := core.NewLedger(db, module)
	if err != nil {
		t.Fatalf("ledger: %v", err)
	}
	ledger.SetClock(func() int64 { return 1_700_000_000 })
	stream := core.NewEventStream()
	ledger.SetEmitter(stream)

	rpcServer := rpc.NewServer(ledger, stream, rpc.ServerConfig{AuthToken: nodeToken, AllowInsecure: true})
	node := httptest.NewServer(rpcServer.Handler())
	t.Cleanup(node.Close)

	client, err := lending.New(node.URL, lending.WithAuthToken(nodeToken), lending.WithHTTPClient(node.Client()))
	if err != nil {
		t.Fatalf("sdk client: %v", err)
	}
	fixture.sdk = client

	auth := middleware.NewAuthenticator(middleware.AuthConfig{
		Enabled:    true,
		HMACSecret: gatewaySecret,
	}, nil)
	limiter := middleware.NewRateLimiter(map[string]middleware.RateLimit{
		RateLimitKey: {RatePerSecond: 1000, Burst: 1000},
	}, nil)
	obs := middleware.NewObservability(middleware.ObservabilityConfig{Enabled: true}, nil)

	router, err := New(Config{
		Lending:       client,
		Authenticator: auth,
		RateLimiter:   limiter,
		Observability: obs,
	})
	if err != nil {
		t.Fatalf("router: %v", err)
	}
	fixture.router = router
	return fixture
}

func (f *gatewayFixture) token(t *testing.T, scopes ...string) string {
	t.Helper()
	claims := jwt.MapClaims{
		"sub":   "ops",
		"scope": strings.Join(scopes, " "),
		"exp":   time.Now().Add(time.Hour).Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(gatewaySecret))
	if err != nil {
		t.Fatalf("sign gateway token: %v", err)
	}
	return signed
}

func (f *gatewayFixture) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request: %v", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

// seedMarket registers the WETX reserve through the node-side admin path so
// the REST handlers have something to serve.
func (f *gatewayFixture) seedMarket(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	if _, err := f.sdk.InitReserve(ctx, f.admin.String(), lending.ReserveConfig{
		Asset:                "WETX",
		ReceiptToken:         "AWETX",
		LTV:                  pctWad(70).String(),
		LiquidationThreshold: pctWad(75).String(),
		LiquidationBonus:     pctWad(5).String(),
		CloseFactor:          pctWad(50).String(),
	}); err != nil {
		t.Fatalf("init reserve: %v", err)
	}
	if err := f.sdk.SetPrice(ctx, f.feeder.String(), "WETX", wadTokens(2000).String()); err != nil {
		t.Fatalf("set price: %v", err)
	}
}

func TestGatewayHealthzOpen(t *testing.T) {
	f := newGatewayFixture(t)
	rec := f.do(t, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected open healthz, got %d", rec.Code)
	}
}

func TestGatewayRequiresToken(t *testing.T) {
	f := newGatewayFixture(t)
	rec := f.do(t, http.MethodGet, "/v1/lending/markets", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}
}

func TestGatewayMarketsRoundTrip(t *testing.T) {
	f := newGatewayFixture(t)
	f.seedMarket(t)

	rec := f.do(t, http.MethodGet, "/v1/lending/markets", f.token(t, middleware.ScopeLendingRead), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var payload struct {
		Markets []lending.Reserve `json:"markets"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode markets: %v", err)
	}
	if len(payload.Markets) != 1 || payload.Markets[0].Asset != "WETX" {
		t.Fatalf("unexpected markets payload: %+v", payload)
	}

	rec = f.do(t, http.MethodGet, "/v1/lending/markets/WETX/price", f.token(t, middleware.ScopeLendingRead), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for price, got %d", rec.Code)
	}
	var price map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &price); err != nil {
		t.Fatalf("decode price: %v", err)
	}
	if price["price"] != wadTokens(2000).String() {
		t.Fatalf("unexpected price: %s", price["price"])
	}
}

func TestGatewaySupplyRequiresWriteScope(t *testing.T) {
	f := newGatewayFixture(t)
	f.seedMarket(t)

	body := map[string]string{"from": f.borrower.String(), "asset": "WETX", "amount": wadTokens(10).String()}
	rec := f.do(t, http.MethodPost, "/v1/lending/supply", f.token(t, middleware.ScopeLendingRead), body)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for read-only token, got %d", rec.Code)
	}
}

func TestGatewaySupplyAndPosition(t *testing.T) {
	f := newGatewayFixture(t)
	f.seedMarket(t)

	body := map[string]string{"from": f.borrower.String(), "asset": "WETX", "amount": wadTokens(100).String()}
	rec := f.do(t, http.MethodPost, "/v1/lending/supply", f.token(t, middleware.ScopeLendingWrite), body)
	if rec.Code != http.StatusOK {
		t.Fatalf("supply failed: %d: %s", rec.Code, rec.Body.String())
	}
	var supply map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &supply); err != nil {
		t.Fatalf("decode supply: %v", err)
	}
	if supply["minted"] != wadTokens(100).String() {
		t.Fatalf("unexpected minted amount: %s", supply["minted"])
	}

	path := "/v1/lending/accounts/" + f.borrower.String() + "/positions/WETX"
	rec = f.do(t, http.MethodGet, path, f.token(t, middleware.ScopeLendingRead), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("position failed: %d: %s", rec.Code, rec.Body.String())
	}
	var position lending.Position
	if err := json.Unmarshal(rec.Body.Bytes(), &position); err != nil {
		t.Fatalf("decode position: %v", err)
	}
	if position.Collateral != wadTokens(100).String() || !position.CollateralEnabled {
		t.Fatalf("unexpected position: %+v", position)
	}
}

func TestGatewayMapsCapacityRejectionToConflict(t *testing.T) {
	f := newGatewayFixture(t)
	f.seedMarket(t)

	supply := map[string]string{"from": f.borrower.String(), "asset": "WETX", "amount": wadTokens(100).String()}
	if rec := f.do(t, http.MethodPost, "/v1/lending/supply", f.token(t, middleware.ScopeLendingWrite), supply); rec.Code != http.StatusOK {
		t.Fatalf("supply failed: %d", rec.Code)
	}

	borrow := map[string]string{"borrower": f.borrower.String(), "asset": "WETX", "amount": wadTokens(200_000).String()}
	rec := f.do(t, http.MethodPost, "/v1/lending/borrow", f.token(t, middleware.ScopeLendingWrite), borrow)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for capacity failure, got %d: %s", rec.Code, rec.Body.String())
	}
	var failure map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &failure); err != nil {
		t.Fatalf("decode failure: %v", err)
	}
	if failure["error"] == "" {
		t.Fatal("expected error message in body")
	}
}

func TestGatewayRejectsEmptyBody(t *testing.T) {
	f := newGatewayFixture(t)
	f.seedMarket(t)

	rec := f.do(t, http.MethodPost, "/v1/lending/supply", f.token(t, middleware.ScopeLendingWrite), nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty body, got %d", rec.Code)
	}
}

func TestGatewayMetricsExposed(t *testing.T) {
	f := newGatewayFixture(t)
	f.seedMarket(t)
	f.do(t, http.MethodGet, "/v1/lending/rate-model", f.token(t, middleware.ScopeLendingRead), nil)

	rec := f.do(t, http.MethodGet, "/metrics", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 from metrics endpoint, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "gateway_requests_total") {
		t.Fatal("expected request counter in metrics output")
	}
}
