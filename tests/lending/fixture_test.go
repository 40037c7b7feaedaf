package lending_test

import (
	"math/big"
	"testing"

	"lendcore/core"
	"lendcore/core/genesis"
	"lendcore/crypto"
	"lendcore/native/lending"
	"lendcore/storage"
)

// The suite exercises the ledger end to end: genesis allocation, reserve
// configuration, oracle prices and the deposit/borrow/liquidate lifecycle,
// all under an injected clock so accrual arithmetic stays reproducible.

const fixtureEpoch = 1_700_000_000

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

func milliWad(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), new(big.Int).Exp(big.NewInt(10), big.NewInt(15), nil))
}

func assertBig(t *testing.T, label string, got, want *big.Int) {
	t.Helper()
	if got == nil {
		t.Fatalf("%s: got nil, want %s", label, want)
	}
	if got.Cmp(want) != 0 {
		t.Fatalf("%s: got %s, want %s", label, got, want)
	}
}

type marketFixture struct {
	t      *testing.T
	ledger *core.Ledger
	stream *core.EventStream
	now    int64

	admin      crypto.Address
	feeder     crypto.Address
	depositor  crypto.Address
	supplier   crypto.Address
	liquidator crypto.Address
}

// newMarketFixture builds a ledger over a fresh in-memory store. The genesis
// funds the depositor with WETX while the supplier and liquidator hold USDX,
// and installs a zero-slope rate curve so tests that do not care about
// interest see stable indices no matter how the clock moves.
func newMarketFixture(t *testing.T) *marketFixture {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(db.Close)

	f := &marketFixture{
		t:          t,
		now:        fixtureEpoch,
		admin:      testAddr(0xA0),
		feeder:     testAddr(0xB0),
		depositor:  testAddr(0x01),
		supplier:   testAddr(0x02),
		liquidator: testAddr(0x03),
	}
	module := core.ModuleTreasury()
	spec := &genesis.Spec{
		Tokens: []genesis.TokenSpec{
			{Symbol: "WETX", Name: "Wrapped ETX", Decimals: 18},
			{Symbol: "USDX", Name: "USD X", Decimals: 18},
		},
		Alloc: map[string]map[string]string{
			f.depositor.String():  {"WETX": wadTokens(300).String()},
			f.supplier.String():   {"USDX": wadTokens(200_000).String()},
			f.liquidator.String(): {"USDX": wadTokens(200_000).String()},
		},
		Roles:        map[string][]string{core.RoleLendAdmin: {f.admin.String()}},
		OracleFeeder: f.feeder.String(),
		RateModel:    &genesis.RateModelSpec{BaseRate: "0", Slope1: "0", Slope2: "0", Kink: "0"},
	}
	if err := genesis.Apply(db, spec, module); err != nil {
		t.Fatalf("apply genesis: %v", err)
	}

	ledger, err := core.NewLedger(db, module)
	if err != nil {
		t.Fatalf("new ledger: %v", err)
	}
	ledger.SetClock(func() int64 { return f.now })
	f.stream = core.NewEventStream()
	f.stream.SetClock(func() int64 { return f.now })
	ledger.SetEmitter(f.stream)
	f.ledger = ledger
	return f
}

func (f *marketFixture) advance(seconds int64) {
	f.now += seconds
}

// initReserve registers an asset pool with the suite's standard risk
// parameters: 70% LTV, 75% liquidation threshold, 5% bonus, 50% close factor.
func (f *marketFixture) initReserve(asset, receipt string) {
	f.t.Helper()
	err := f.ledger.InitReserve(f.admin, lending.ReserveConfig{
		Asset:                asset,
		ReceiptToken:         receipt,
		LTV:                  pctWad(70),
		LiquidationThreshold: pctWad(75),
		LiquidationBonus:     pctWad(5),
		CloseFactor:          pctWad(50),
	})
	if err != nil {
		f.t.Fatalf("init reserve %s: %v", asset, err)
	}
}

func (f *marketFixture) setPrice(asset string, price *big.Int) {
	f.t.Helper()
	if err := f.ledger.SetPrice(f.feeder, asset, price); err != nil {
		f.t.Fatalf("set price %s: %v", asset, err)
	}
}

func (f *marketFixture) deposit(user crypto.Address, asset string, amount *big.Int) *big.Int {
	f.t.Helper()
	minted, err := f.ledger.Deposit(user, asset, amount)
	if err != nil {
		f.t.Fatalf("deposit %s %s: %v", amount, asset, err)
	}
	return minted
}

func (f *marketFixture) borrow(user crypto.Address, asset string, amount *big.Int) {
	f.t.Helper()
	if err := f.ledger.Borrow(user, asset, amount); err != nil {
		f.t.Fatalf("borrow %s %s: %v", amount, asset, err)
	}
}

func (f *marketFixture) reserve(asset string) *lending.Reserve {
	f.t.Helper()
	reserve, err := f.ledger.Reserve(asset)
	if err != nil {
		f.t.Fatalf("load reserve %s: %v", asset, err)
	}
	return reserve
}

func (f *marketFixture) position(user crypto.Address, asset string) *lending.Position {
	f.t.Helper()
	position, err := f.ledger.Position(user, asset)
	if err != nil {
		f.t.Fatalf("load position %s: %v", asset, err)
	}
	return position
}

func (f *marketFixture) accountData(user crypto.Address) *lending.AccountData {
	f.t.Helper()
	data, err := f.ledger.AccountData(user)
	if err != nil {
		f.t.Fatalf("account data: %v", err)
	}
	return data
}

func (f *marketFixture) healthFactor(user crypto.Address) *big.Int {
	f.t.Helper()
	hf, err := f.ledger.HealthFactor(user)
	if err != nil {
		f.t.Fatalf("health factor: %v", err)
	}
	return hf
}

func (f *marketFixture) balance(addr crypto.Address, symbol string) *big.Int {
	f.t.Helper()
	balance, err := f.ledger.BalanceOf(addr, symbol)
	if err != nil {
		f.t.Fatalf("balance of %s: %v", symbol, err)
	}
	return balance
}
