package fuzz

import (
	"math"
	"math/big"
	"testing"

	"lendcore/core"
	"lendcore/core/genesis"
	"lendcore/crypto"
	"lendcore/native/lending"
	"lendcore/storage"
)

// The harness drives a deposit, an optional borrow/repay leg and a full
// withdrawal through a real ledger over an in-memory store. Under the zero
// rate curve the pool must conserve tokens exactly: the module balance
// mirrors recorded liquidity at every step and the round trip restores the
// depositor's wallet.

func fuzzAddr(suffix byte) crypto.Address {
	raw := make([]byte, 20)
	raw[len(raw)-1] = suffix
	return crypto.MustNewAddress(raw)
}

func absInt64(v int64) int64 {
	if v == math.MinInt64 {
		return math.MaxInt64
	}
	if v < 0 {
		return -v
	}
	return v
}

func FuzzLendingRoundTripAmounts(f *testing.F) {
	f.Add(int64(1_000_000_000_000), int64(7), int64(3))
	f.Add(int64(42), int64(13), int64(17))
	f.Add(int64(999_999_999_999_999), int64(999_999_999_999_998), int64(1_000_000))

	module := fuzzAddr(0x51)
	admin := fuzzAddr(0x52)
	feeder := fuzzAddr(0x53)
	depositor := fuzzAddr(0x54)

	f.Fuzz(func(t *testing.T, depositRaw, borrowRaw, priceRaw int64) {
		deposit := big.NewInt(absInt64(depositRaw)%1_000_000_000_000_000 + 1)
		borrow := big.NewInt(absInt64(borrowRaw)%deposit.Int64() + 1)
		price := new(big.Int).Mul(
			big.NewInt(absInt64(priceRaw)%1_000_000+1),
			new(big.Int).Exp(big.NewInt(10), big.NewInt(12), nil),
		)

		buffer := big.NewInt(1_000_000)
		wallet := new(big.Int).Add(deposit, buffer)

		db := storage.NewMemDB()
		defer db.Close()
		spec := &genesis.Spec{
			Tokens: []genesis.TokenSpec{{Symbol: "WETX", Name: "Wrapped ETX", Decimals: 18}},
			Alloc: map[string]map[string]string{
				depositor.String(): {"WETX": wallet.String()},
			},
			Roles:        map[string][]string{core.RoleLendAdmin: {admin.String()}},
			OracleFeeder: feeder.String(),
			RateModel:    &genesis.RateModelSpec{BaseRate: "0", Slope1: "0", Slope2: "0", Kink: "0"},
		}
		if err := genesis.Apply(db, spec, module); err != nil {
			t.Fatalf("apply genesis: %v", err)
		}
		ledger, err := core.NewLedger(db, module)
		if err != nil {
			t.Fatalf("new ledger: %v", err)
		}
		ledger.SetClock(func() int64 { return 1_700_000_000 })

		err = ledger.InitReserve(admin, lending.ReserveConfig{
			Asset:                "WETX",
			ReceiptToken:         "AWETX",
			LTV:                  mustFuzzBig("700000000000000000"),
			LiquidationThreshold: mustFuzzBig("750000000000000000"),
			LiquidationBonus:     big.NewInt(0),
			CloseFactor:          mustFuzzBig("500000000000000000"),
		})
		if err != nil {
			t.Fatalf("init reserve: %v", err)
		}
		if err := ledger.SetPrice(feeder, "WETX", price); err != nil {
			t.Fatalf("set price: %v", err)
		}

		conserved := func(label string, wantLiquidity *big.Int) {
			t.Helper()
			reserve, err := ledger.Reserve("WETX")
			if err != nil {
				t.Fatalf("%s: load reserve: %v", label, err)
			}
			if reserve.TotalLiquidity.Cmp(wantLiquidity) != 0 {
				t.Fatalf("%s: liquidity %s, want %s", label, reserve.TotalLiquidity, wantLiquidity)
			}
			held, err := ledger.BalanceOf(module, "WETX")
			if err != nil {
				t.Fatalf("%s: module balance: %v", label, err)
			}
			if held.Cmp(reserve.TotalLiquidity) != 0 {
				t.Fatalf("%s: pool holds %s but records %s", label, held, reserve.TotalLiquidity)
			}
		}

		minted, err := ledger.Deposit(depositor, "WETX", deposit)
		if err != nil {
			conserved("failed deposit", big.NewInt(0))
			return
		}
		if minted == nil || minted.Cmp(deposit) != 0 {
			t.Fatalf("minted %s receipts for a %s deposit at unit index", minted, deposit)
		}
		conserved("after deposit", deposit)

		receipts, err := ledger.BalanceOf(depositor, "AWETX")
		if err != nil {
			t.Fatalf("receipt balance: %v", err)
		}
		if receipts.Cmp(minted) != 0 {
			t.Fatalf("receipt balance %s does not match mint %s", receipts, minted)
		}

		// The draw may breach the loan-to-value ceiling; a rejection must
		// leave the pool exactly as the deposit left it.
		if err := ledger.Borrow(depositor, "WETX", borrow); err != nil {
			conserved("rejected borrow", deposit)
		} else {
			reserve, err := ledger.Reserve("WETX")
			if err != nil {
				t.Fatalf("reserve after borrow: %v", err)
			}
			if reserve.TotalBorrowed.Cmp(borrow) != 0 {
				t.Fatalf("borrowed %s, recorded %s", borrow, reserve.TotalBorrowed)
			}
			conserved("after borrow", new(big.Int).Sub(deposit, borrow))

			hf, err := ledger.HealthFactor(depositor)
			if err != nil {
				t.Fatalf("health factor: %v", err)
			}
			if hf.Cmp(mustFuzzBig("1000000000000000000")) < 0 {
				t.Fatalf("borrow left an unhealthy account: %s", hf)
			}

			repaid, err := ledger.Repay(depositor, "WETX", borrow)
			if err != nil {
				t.Fatalf("repay: %v", err)
			}
			if repaid.Cmp(borrow) != 0 {
				t.Fatalf("repaid %s of a %s debt", repaid, borrow)
			}
			conserved("after repay", deposit)
		}

		burned, err := ledger.Withdraw(depositor, "WETX", deposit)
		if err != nil {
			t.Fatalf("withdrawing the full deposit failed: %v", err)
		}
		if burned.Cmp(minted) != 0 {
			t.Fatalf("burned %s, minted %s", burned, minted)
		}
		conserved("after withdraw", big.NewInt(0))

		position, err := ledger.Position(depositor, "WETX")
		if err != nil {
			t.Fatalf("position: %v", err)
		}
		if position.Open || position.Collateral.Sign() != 0 || position.ScaledDebt.Sign() != 0 {
			t.Fatalf("round trip left residue: open=%v collateral=%s debt=%s",
				position.Open, position.Collateral, position.ScaledDebt)
		}
		final, err := ledger.BalanceOf(depositor, "WETX")
		if err != nil {
			t.Fatalf("final balance: %v", err)
		}
		if final.Cmp(wallet) != 0 {
			t.Fatalf("wallet not restored: %s, want %s", final, wallet)
		}
	})
}

func mustFuzzBig(value string) *big.Int {
	out, ok := new(big.Int).SetString(value, 10)
	if !ok {
		panic("invalid big int constant")
	}
	return out
}
