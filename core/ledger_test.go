package core

import (
	"errors"
	"math/big"
	"testing"

	"lendcore/core/events"
	"lendcore/core/genesis"
	"lendcore/crypto"
	"lendcore/native/lending"
	"lendcore/storage"
)

type recordingEmitter struct {
	events []events.Event
}

func (r *recordingEmitter) Emit(evt events.Event) {
	r.events = append(r.events, evt)
}

func (r *recordingEmitter) last() events.Event {
	if len(r.events) == 0 {
		return nil
	}
	return r.events[len(r.events)-1]
}

func makeAddress(suffix byte) crypto.Address {
	raw := make([]byte, crypto.AddressLength)
	raw[crypto.AddressLength-1] = suffix
	return crypto.MustNewAddress(raw)
}

func tokens(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1e18))
}

func pct(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1e16))
}

type ledgerFixture struct {
	ledger     *Ledger
	emitter    *recordingEmitter
	module     crypto.Address
	admin      crypto.Address
	feeder     crypto.Address
	borrower   crypto.Address
	supplier   crypto.Address
	liquidator crypto.Address
	close      func()
}

func newLedgerFixture(t *testing.T) *ledgerFixture {
	t.Helper()
	db := storage.NewMemDB()
	module := makeAddress(0xFE)
	admin := makeAddress(0xA0)
	feeder := makeAddress(0xB0)
	borrower := makeAddress(0x01)
	supplier := makeAddress(0x02)
	liquidator := makeAddress(0x03)

	spec := &genesis.Spec{
		Tokens: []genesis.TokenSpec{
			{Symbol: "WETX", Name: "Wrapped ETX", Decimals: 18},
			{Symbol: "USDX", Name: "USD Stable", Decimals: 18},
		},
		Alloc: map[string]map[string]string{
			borrower.String():   {"WETX": tokens(100).String()},
			supplier.String():   {"USDX": tokens(200_000).String()},
			liquidator.String(): {"USDX": tokens(200_000).String()},
		},
		Roles:        map[string][]string{RoleLendAdmin: {admin.String()}},
		OracleFeeder: feeder.String(),
	}
	if err := genesis.Apply(db, spec, module); err != nil {
		t.Fatalf("apply genesis: %v", err)
	}

	ledger, err := NewLedger(db, module)
	if err != nil {
		t.Fatalf("new ledger: %v", err)
	}
	ledger.SetClock(func() int64 { return 1_700_000_000 })
	emitter := &recordingEmitter{}
	ledger.SetEmitter(emitter)

	return &ledgerFixture{
		ledger:     ledger,
		emitter:    emitter,
		module:     module,
		admin:      admin,
		feeder:     feeder,
		borrower:   borrower,
		supplier:   supplier,
		liquidator: liquidator,
		close:      func() { db.Close() },
	}
}

func (f *ledgerFixture) initReserve(t *testing.T, asset, receipt string, ltv, threshold, bonus, closeFactor *big.Int) {
	t.Helper()
	err := f.ledger.InitReserve(f.admin, lending.ReserveConfig{
		Asset:                asset,
		ReceiptToken:         receipt,
		LTV:                  ltv,
		LiquidationThreshold: threshold,
		LiquidationBonus:     bonus,
		CloseFactor:          closeFactor,
	})
	if err != nil {
		t.Fatalf("init reserve %s: %v", asset, err)
	}
}

func (f *ledgerFixture) setPrice(t *testing.T, asset string, price *big.Int) {
	t.Helper()
	if err := f.ledger.SetPrice(f.feeder, asset, price); err != nil {
		t.Fatalf("set price %s: %v", asset, err)
	}
}

func TestLedgerDepositCommitsAndEmits(t *testing.T) {
	f := newLedgerFixture(t)
	defer f.close()
	f.initReserve(t, "WETX", "AWETX", pct(70), pct(75), pct(5), pct(50))
	f.setPrice(t, "WETX", tokens(2000))

	minted, err := f.ledger.Deposit(f.borrower, "WETX", tokens(100))
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if minted.Cmp(tokens(100)) != 0 {
		t.Fatalf("unexpected minted shares: %s", minted)
	}

	balance, err := f.ledger.BalanceOf(f.borrower, "WETX")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.Sign() != 0 {
		t.Fatalf("deposit left funds with the user: %s", balance)
	}
	pooled, err := f.ledger.BalanceOf(f.module, "WETX")
	if err != nil {
		t.Fatalf("module balance: %v", err)
	}
	if pooled.Cmp(tokens(100)) != 0 {
		t.Fatalf("unexpected pooled balance: %s", pooled)
	}
	receipts, err := f.ledger.BalanceOf(f.borrower, "AWETX")
	if err != nil {
		t.Fatalf("receipt balance: %v", err)
	}
	if receipts.Cmp(tokens(100)) != 0 {
		t.Fatalf("unexpected receipt balance: %s", receipts)
	}

	evt, ok := f.emitter.last().(events.Deposited)
	if !ok {
		t.Fatalf("expected Deposited event, got %T", f.emitter.last())
	}
	if evt.Asset != "WETX" || evt.Amount.Cmp(tokens(100)) != 0 {
		t.Fatalf("unexpected event payload: %+v", evt)
	}
}

func TestLedgerRejectsNonAdmin(t *testing.T) {
	f := newLedgerFixture(t)
	defer f.close()

	err := f.ledger.InitReserve(f.borrower, lending.ReserveConfig{
		Asset:                "WETX",
		ReceiptToken:         "AWETX",
		LTV:                  pct(70),
		LiquidationThreshold: pct(75),
		LiquidationBonus:     pct(5),
		CloseFactor:          pct(50),
	})
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if _, err := f.ledger.Reserve("WETX"); !errors.Is(err, lending.ErrReserveInactive) {
		t.Fatalf("reserve should not exist after rejected init, got %v", err)
	}
	if len(f.emitter.events) != 0 {
		t.Fatalf("rejected operation emitted %d events", len(f.emitter.events))
	}
}

func TestLedgerSetPriceGates(t *testing.T) {
	f := newLedgerFixture(t)
	defer f.close()

	err := f.ledger.SetPrice(f.borrower, "WETX", tokens(2000))
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for non-feeder, got %v", err)
	}
	if err := f.ledger.SetPrice(f.feeder, "WETX", tokens(2000)); err != nil {
		t.Fatalf("feeder post: %v", err)
	}
	price, err := f.ledger.Price("WETX")
	if err != nil {
		t.Fatalf("price: %v", err)
	}
	if price.Cmp(tokens(2000)) != 0 {
		t.Fatalf("unexpected price: %s", price)
	}

	// A zero posting is stored but renders the asset unpriced for reads.
	if err := f.ledger.SetPrice(f.feeder, "WETX", big.NewInt(0)); err != nil {
		t.Fatalf("zero post: %v", err)
	}
	if _, err := f.ledger.Price("WETX"); !errors.Is(err, lending.ErrAssetNotSupported) {
		t.Fatalf("expected ErrAssetNotSupported after zero post, got %v", err)
	}
}

func TestLedgerMintRefusesReceiptTokens(t *testing.T) {
	f := newLedgerFixture(t)
	defer f.close()
	f.initReserve(t, "WETX", "AWETX", pct(70), pct(75), pct(5), pct(50))

	if err := f.ledger.Mint(f.admin, f.borrower, "AWETX", tokens(1)); !errors.Is(err, ErrReceiptTokenManaged) {
		t.Fatalf("expected ErrReceiptTokenManaged, got %v", err)
	}
	if err := f.ledger.Mint(f.admin, f.borrower, "USDX", tokens(5)); err != nil {
		t.Fatalf("mint underlying: %v", err)
	}
	balance, err := f.ledger.BalanceOf(f.borrower, "USDX")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.Cmp(tokens(5)) != 0 {
		t.Fatalf("unexpected minted balance: %s", balance)
	}
}

func borrowFixture(t *testing.T) *ledgerFixture {
	t.Helper()
	f := newLedgerFixture(t)
	f.initReserve(t, "WETX", "AWETX", pct(70), pct(75), pct(5), pct(50))
	f.initReserve(t, "USDX", "AUSDX", pct(80), pct(85), pct(5), pct(50))
	f.setPrice(t, "WETX", tokens(2000))
	f.setPrice(t, "USDX", tokens(1))
	if _, err := f.ledger.Deposit(f.borrower, "WETX", tokens(100)); err != nil {
		t.Fatalf("deposit collateral: %v", err)
	}
	if _, err := f.ledger.Deposit(f.supplier, "USDX", tokens(200_000)); err != nil {
		t.Fatalf("supply liquidity: %v", err)
	}
	if err := f.ledger.Borrow(f.borrower, "USDX", tokens(120_000)); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	return f
}

func TestLedgerBorrowBeyondCapacityLeavesStateUntouched(t *testing.T) {
	f := borrowFixture(t)
	defer f.close()

	// Capacity is 140,000 and 120,000 is drawn; 20,001 exceeds it.
	err := f.ledger.Borrow(f.borrower, "USDX", tokens(20_001))
	if !errors.Is(err, lending.ErrExceedsLTV) {
		t.Fatalf("expected ErrExceedsLTV, got %v", err)
	}

	position, err := f.ledger.Position(f.borrower, "USDX")
	if err != nil {
		t.Fatalf("position: %v", err)
	}
	if position.ScaledDebt.Cmp(tokens(120_000)) != 0 {
		t.Fatalf("debt changed after rejected borrow: %s", position.ScaledDebt)
	}
	balance, err := f.ledger.BalanceOf(f.borrower, "USDX")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.Cmp(tokens(120_000)) != 0 {
		t.Fatalf("balance changed after rejected borrow: %s", balance)
	}
}

func TestLedgerWithdrawHealthGateDiscardsWrites(t *testing.T) {
	f := borrowFixture(t)
	defer f.close()

	// Dropping to 70 WETX would leave 140,000 of collateral value backing
	// 120,000 of debt: health 0.875, below the gate. The engine debits the
	// position before the health check, so this exercises the overlay
	// discard, not just a precondition.
	_, err := f.ledger.Withdraw(f.borrower, "WETX", tokens(30))
	if !errors.Is(err, lending.ErrHealthFactorTooLow) {
		t.Fatalf("expected ErrHealthFactorTooLow, got %v", err)
	}

	position, err := f.ledger.Position(f.borrower, "WETX")
	if err != nil {
		t.Fatalf("position: %v", err)
	}
	if position.Collateral.Cmp(tokens(100)) != 0 {
		t.Fatalf("collateral mutated by failed withdraw: %s", position.Collateral)
	}
	receipts, err := f.ledger.BalanceOf(f.borrower, "AWETX")
	if err != nil {
		t.Fatalf("receipt balance: %v", err)
	}
	if receipts.Cmp(tokens(100)) != 0 {
		t.Fatalf("receipts mutated by failed withdraw: %s", receipts)
	}
	balance, err := f.ledger.BalanceOf(f.borrower, "WETX")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.Sign() != 0 {
		t.Fatalf("funds released by failed withdraw: %s", balance)
	}

	hf, err := f.ledger.HealthFactor(f.borrower)
	if err != nil {
		t.Fatalf("health factor: %v", err)
	}
	// 200,000 * 0.75 / 120,000 = 1.25
	want := new(big.Int).Mul(big.NewInt(125), big.NewInt(1e16))
	if hf.Cmp(want) != 0 {
		t.Fatalf("unexpected health factor: got %s want %s", hf, want)
	}
}

func TestLedgerLiquidationFlow(t *testing.T) {
	f := borrowFixture(t)
	defer f.close()
	f.setPrice(t, "WETX", tokens(1000))

	repaid, seized, err := f.ledger.Liquidate(f.liquidator, f.borrower, "USDX", "WETX", tokens(20_000))
	if err != nil {
		t.Fatalf("liquidate: %v", err)
	}
	if repaid.Cmp(tokens(20_000)) != 0 {
		t.Fatalf("unexpected repaid: %s", repaid)
	}
	// 20,000 * 1 * 1.05 / 1000 = 21 WETX seized.
	if seized.Cmp(tokens(21)) != 0 {
		t.Fatalf("unexpected seized: %s", seized)
	}

	seizedBalance, err := f.ledger.BalanceOf(f.liquidator, "WETX")
	if err != nil {
		t.Fatalf("liquidator collateral balance: %v", err)
	}
	if seizedBalance.Cmp(tokens(21)) != 0 {
		t.Fatalf("unexpected liquidator collateral: %s", seizedBalance)
	}

	evt, ok := f.emitter.last().(events.Liquidated)
	if !ok {
		t.Fatalf("expected Liquidated event, got %T", f.emitter.last())
	}
	wire := evt.Event()
	if wire.Attributes["repaid"] != tokens(20_000).String() {
		t.Fatalf("unexpected event repaid: %s", wire.Attributes["repaid"])
	}
	if wire.Attributes["seized"] != tokens(21).String() {
		t.Fatalf("unexpected event seized: %s", wire.Attributes["seized"])
	}

	position, err := f.ledger.Position(f.borrower, "WETX")
	if err != nil {
		t.Fatalf("position: %v", err)
	}
	if position.Collateral.Cmp(tokens(79)) != 0 {
		t.Fatalf("unexpected remaining collateral: %s", position.Collateral)
	}
}

func TestLedgerAccountDataReadPath(t *testing.T) {
	f := borrowFixture(t)
	defer f.close()

	data, err := f.ledger.AccountData(f.borrower)
	if err != nil {
		t.Fatalf("account data: %v", err)
	}
	if data.TotalCollateralValue.Cmp(tokens(200_000)) != 0 {
		t.Fatalf("unexpected collateral value: %s", data.TotalCollateralValue)
	}
	if data.TotalDebtValue.Cmp(tokens(120_000)) != 0 {
		t.Fatalf("unexpected debt value: %s", data.TotalDebtValue)
	}
	if data.AvailableBorrowCapacity.Cmp(tokens(20_000)) != 0 {
		t.Fatalf("unexpected capacity: %s", data.AvailableBorrowCapacity)
	}
}

func TestLedgerGrantRole(t *testing.T) {
	f := newLedgerFixture(t)
	defer f.close()
	delegate := makeAddress(0x0D)

	if err := f.ledger.GrantRole(f.borrower, RoleLendAdmin, delegate); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if err := f.ledger.GrantRole(f.admin, RoleLendAdmin, delegate); err != nil {
		t.Fatalf("grant: %v", err)
	}
	if !f.ledger.HasRole(RoleLendAdmin, delegate) {
		t.Fatalf("delegate should hold the admin role")
	}
}
