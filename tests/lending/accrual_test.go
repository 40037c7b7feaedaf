package lending_test

import (
	"math/big"
	"testing"

	"lendcore/native/lending"
)

func mustBig(t *testing.T, value string) *big.Int {
	t.Helper()
	parsed, ok := new(big.Int).SetString(value, 10)
	if !ok {
		t.Fatalf("parse big int %q", value)
	}
	return parsed
}

func TestAccrualCompoundsIndicesOverYear(t *testing.T) {
	f := newMarketFixture(t)
	f.initReserve("WETX", "AWETX")
	f.setPrice("WETX", wadTokens(2000))

	// 2% base plus an 8% slope below the 80% kink. At 25% utilisation the
	// borrow side pays 4% a year.
	model := &lending.RateModel{
		BaseRate: pctWad(2),
		Slope1:   pctWad(8),
		Slope2:   pctWad(100),
		Kink:     pctWad(80),
	}
	if err := f.ledger.SetRateModel(f.admin, model); err != nil {
		t.Fatalf("set rate model: %v", err)
	}

	f.deposit(f.depositor, "WETX", wadTokens(200))
	f.borrow(f.depositor, "WETX", wadTokens(40))

	// Same-second operations never move the indices.
	reserve := f.reserve("WETX")
	assertBig(t, "liquidity index at rest", reserve.LiquidityIndex, wadTokens(1))
	assertBig(t, "borrow index at rest", reserve.BorrowIndex, wadTokens(1))

	f.advance(31_536_000)

	// Any operation triggers the accrual; deposits now buy receipts at the
	// grown liquidity index.
	minted := f.deposit(f.depositor, "WETX", wadTokens(1))
	assertBig(t, "index discounted mint", minted, mustBig(t, "961538461538461538"))

	reserve = f.reserve("WETX")
	assertBig(t, "borrow index", reserve.BorrowIndex, milliWad(1040))
	assertBig(t, "liquidity index", reserve.LiquidityIndex, milliWad(1040))
	assertBig(t, "borrowed with interest", reserve.TotalBorrowed, new(big.Int).Add(wadTokens(41), milliWad(600)))
	assertBig(t, "liquidity with interest", reserve.TotalLiquidity, new(big.Int).Add(wadTokens(162), milliWad(600)))
	if reserve.LastAccrual != uint64(fixtureEpoch+31_536_000) {
		t.Fatalf("expected accrual watermark %d, got %d", fixtureEpoch+31_536_000, reserve.LastAccrual)
	}

	// 41.6 WETX owed at $2000 values the debt at 83,200.
	assertBig(t, "accrued debt value", f.accountData(f.depositor).TotalDebtValue, wadTokens(83_200))

	// Settling the grown debt consumes exactly the original scaled units.
	repaid, err := f.ledger.Repay(f.depositor, "WETX", wadTokens(100))
	if err != nil {
		t.Fatalf("repay: %v", err)
	}
	assertBig(t, "repaid with interest", repaid, new(big.Int).Add(wadTokens(41), milliWad(600)))
	assertBig(t, "scaled debt cleared", f.position(f.depositor, "WETX").ScaledDebt, big.NewInt(0))

	// With the debt gone the whole 201 WETX of collateral comes back; the
	// burn is discounted by the same index the mints were.
	burned, err := f.ledger.Withdraw(f.depositor, "WETX", wadTokens(201))
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	assertBig(t, "index discounted burn", burned, mustBig(t, "193269230769230769230"))

	position := f.position(f.depositor, "WETX")
	if position.Open {
		t.Fatalf("expected membership cleared once both balances are zero")
	}
	assertBig(t, "final wallet", f.balance(f.depositor, "WETX"), new(big.Int).Add(wadTokens(298), milliWad(400)))

	reserve = f.reserve("WETX")
	assertBig(t, "final borrowed", reserve.TotalBorrowed, big.NewInt(0))
	assertBig(t, "residual liquidity", reserve.TotalLiquidity, new(big.Int).Add(wadTokens(3), milliWad(200)))
}

func TestZeroRateCurveKeepsPoolConserved(t *testing.T) {
	f := newMarketFixture(t)
	f.initReserve("WETX", "AWETX")
	f.setPrice("WETX", wadTokens(2000))

	assertConserved := func(label string) {
		t.Helper()
		reserve := f.reserve("WETX")
		held := f.balance(f.ledger.ModuleAddress(), "WETX")
		if held.Cmp(reserve.TotalLiquidity) != 0 {
			t.Fatalf("%s: pool holds %s but liquidity records %s", label, held, reserve.TotalLiquidity)
		}
		assertBig(t, label+" liquidity index", reserve.LiquidityIndex, wadTokens(1))
		assertBig(t, label+" borrow index", reserve.BorrowIndex, wadTokens(1))
	}

	f.deposit(f.depositor, "WETX", wadTokens(100))
	assertConserved("after deposit")

	f.advance(3600)
	f.borrow(f.depositor, "WETX", wadTokens(30))
	assertConserved("after borrow")

	f.advance(86_400)
	if _, err := f.ledger.Repay(f.depositor, "WETX", wadTokens(10)); err != nil {
		t.Fatalf("repay: %v", err)
	}
	assertConserved("after repay")

	f.advance(1)
	if _, err := f.ledger.Withdraw(f.depositor, "WETX", wadTokens(50)); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	assertConserved("after withdraw")

	reserve := f.reserve("WETX")
	assertBig(t, "final liquidity", reserve.TotalLiquidity, wadTokens(30))
	assertBig(t, "final borrowed", reserve.TotalBorrowed, wadTokens(20))
	if reserve.LastAccrual != uint64(fixtureEpoch+3600+86_400+1) {
		t.Fatalf("expected watermark to track the last operation, got %d", reserve.LastAccrual)
	}
}
