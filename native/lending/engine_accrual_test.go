package lending

import (
	"math/big"
	"testing"
)

func TestAccrueCompoundsIndicesAndTotals(t *testing.T) {
	env := newTestEnv()
	// Flat 100% slope over the full utilisation range, no base rate.
	env.state.rateModel = &RateModel{
		BaseRate: big.NewInt(0),
		Slope1:   Wad(),
		Slope2:   big.NewInt(0),
		Kink:     Wad(),
	}
	env.initReserve(t, "USDX", "AUSDX", pct(80), pct(85), pct(5), pct(50))

	reserve := env.state.reserves["USDX"]
	reserve.TotalLiquidity = big.NewInt(1000)
	reserve.TotalBorrowed = big.NewInt(500)
	env.state.reserves["USDX"] = reserve

	// Utilisation 50% at a 100% slope gives a 50% annual rate.
	env.now += secondsPerYear
	if err := env.engine.Accrue("USDX"); err != nil {
		t.Fatalf("accrue: %v", err)
	}

	reserve = env.state.reserves["USDX"]
	expectedIndex := new(big.Int).Mul(wad, big.NewInt(3))
	expectedIndex.Quo(expectedIndex, big.NewInt(2))
	if reserve.BorrowIndex.Cmp(expectedIndex) != 0 {
		t.Fatalf("unexpected borrow index: got %s want %s", reserve.BorrowIndex, expectedIndex)
	}
	// Suppliers earn the borrower rate; both indices move together.
	if reserve.LiquidityIndex.Cmp(expectedIndex) != 0 {
		t.Fatalf("unexpected liquidity index: got %s want %s", reserve.LiquidityIndex, expectedIndex)
	}
	if reserve.TotalBorrowed.Cmp(big.NewInt(750)) != 0 {
		t.Fatalf("unexpected total borrowed: %s", reserve.TotalBorrowed)
	}
	if reserve.TotalLiquidity.Cmp(big.NewInt(1250)) != 0 {
		t.Fatalf("unexpected total liquidity: %s", reserve.TotalLiquidity)
	}
	if reserve.LastAccrual != uint64(env.now) {
		t.Fatalf("unexpected watermark: %d", reserve.LastAccrual)
	}
}

func TestAccrueZeroElapsedIsNoOp(t *testing.T) {
	env := newTestEnv()
	env.state.rateModel = DefaultRateModel()
	env.initReserve(t, "USDX", "AUSDX", pct(80), pct(85), pct(5), pct(50))

	reserve := env.state.reserves["USDX"]
	reserve.TotalLiquidity = tokens(1000)
	reserve.TotalBorrowed = tokens(400)
	env.state.reserves["USDX"] = reserve

	env.now += 3600
	if err := env.engine.Accrue("USDX"); err != nil {
		t.Fatalf("first accrue: %v", err)
	}
	after := env.state.reserves["USDX"].Clone()

	if err := env.engine.Accrue("USDX"); err != nil {
		t.Fatalf("second accrue: %v", err)
	}
	again := env.state.reserves["USDX"]
	if again.BorrowIndex.Cmp(after.BorrowIndex) != 0 ||
		again.LiquidityIndex.Cmp(after.LiquidityIndex) != 0 ||
		again.TotalBorrowed.Cmp(after.TotalBorrowed) != 0 ||
		again.TotalLiquidity.Cmp(after.TotalLiquidity) != 0 {
		t.Fatalf("second accrue at the same timestamp changed state: %+v vs %+v", again, after)
	}
}

func TestAccrueGrowsLiquidityIndexWithoutBorrows(t *testing.T) {
	env := newTestEnv()
	// 2% base rate applies even at zero utilisation.
	env.state.rateModel = &RateModel{
		BaseRate: pct(2),
		Slope1:   big.NewInt(0),
		Slope2:   big.NewInt(0),
		Kink:     Wad(),
	}
	env.initReserve(t, "USDX", "AUSDX", pct(80), pct(85), pct(5), pct(50))

	reserve := env.state.reserves["USDX"]
	reserve.TotalLiquidity = tokens(1000)
	env.state.reserves["USDX"] = reserve

	env.now += secondsPerYear
	if err := env.engine.Accrue("USDX"); err != nil {
		t.Fatalf("accrue: %v", err)
	}

	reserve = env.state.reserves["USDX"]
	expected := new(big.Int).Mul(wad, big.NewInt(102))
	expected.Quo(expected, big.NewInt(100))
	if reserve.LiquidityIndex.Cmp(expected) != 0 {
		t.Fatalf("liquidity index must grow at the base rate with zero borrows: got %s want %s", reserve.LiquidityIndex, expected)
	}
	if reserve.BorrowIndex.Cmp(expected) != 0 {
		t.Fatalf("unexpected borrow index: %s", reserve.BorrowIndex)
	}
	// No outstanding debt means no interest lands on the totals.
	if reserve.TotalBorrowed.Sign() != 0 {
		t.Fatalf("unexpected total borrowed: %s", reserve.TotalBorrowed)
	}
	if reserve.TotalLiquidity.Cmp(tokens(1000)) != 0 {
		t.Fatalf("unexpected total liquidity: %s", reserve.TotalLiquidity)
	}
}

func TestAccrueTruncatesRatePerPeriod(t *testing.T) {
	env := newTestEnv()
	env.state.rateModel = &RateModel{
		BaseRate: big.NewInt(0),
		Slope1:   Wad(),
		Slope2:   big.NewInt(0),
		Kink:     Wad(),
	}
	env.initReserve(t, "USDX", "AUSDX", pct(80), pct(85), pct(5), pct(50))

	reserve := env.state.reserves["USDX"]
	reserve.TotalLiquidity = tokens(1000)
	reserve.TotalBorrowed = tokens(500)
	env.state.reserves["USDX"] = reserve

	// One second at a 50% annual rate: 5e17 / 31,536,000 truncates.
	env.now++
	if err := env.engine.Accrue("USDX"); err != nil {
		t.Fatalf("accrue: %v", err)
	}

	ratePerPeriod := new(big.Int).Quo(big.NewInt(500_000_000_000_000_000), big.NewInt(secondsPerYear))
	expected := new(big.Int).Add(wad, ratePerPeriod)
	reserve = env.state.reserves["USDX"]
	if reserve.BorrowIndex.Cmp(expected) != 0 {
		t.Fatalf("unexpected borrow index: got %s want %s", reserve.BorrowIndex, expected)
	}
}

func TestAccrueIndicesNeverDecrease(t *testing.T) {
	env := newTestEnv()
	env.state.rateModel = DefaultRateModel()
	env.initReserve(t, "USDX", "AUSDX", pct(80), pct(85), pct(5), pct(50))

	reserve := env.state.reserves["USDX"]
	reserve.TotalLiquidity = tokens(1000)
	reserve.TotalBorrowed = tokens(900)
	env.state.reserves["USDX"] = reserve

	lastBorrow := Wad()
	lastLiquidity := Wad()
	for i := 0; i < 10; i++ {
		env.now += 86_400
		if err := env.engine.Accrue("USDX"); err != nil {
			t.Fatalf("accrue %d: %v", i, err)
		}
		reserve = env.state.reserves["USDX"]
		if reserve.BorrowIndex.Cmp(lastBorrow) < 0 {
			t.Fatalf("borrow index decreased at step %d", i)
		}
		if reserve.LiquidityIndex.Cmp(lastLiquidity) < 0 {
			t.Fatalf("liquidity index decreased at step %d", i)
		}
		lastBorrow = reserve.BorrowIndex
		lastLiquidity = reserve.LiquidityIndex
	}
}

func TestAccrueRequiresRateModel(t *testing.T) {
	env := newTestEnv()
	env.initReserve(t, "USDX", "AUSDX", pct(80), pct(85), pct(5), pct(50))
	env.state.rateModel = nil

	env.now += 60
	if err := env.engine.Accrue("USDX"); err != ErrRateModelNotConfigured {
		t.Fatalf("expected ErrRateModelNotConfigured, got %v", err)
	}
}
