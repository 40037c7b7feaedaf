package state

import (
	"math/big"
	"testing"

	"lendcore/native/lending"
	"lendcore/storage"
)

func TestRoleMembershipSortedAndDeduped(t *testing.T) {
	db := storage.NewMemDB()
	defer db.Close()
	mgr := NewManager(db)

	alice := []byte{0xbb, 0x01}
	bob := []byte{0xaa, 0x02}

	if err := mgr.SetRole("role_lend_admin", alice); err != nil {
		t.Fatalf("set role: %v", err)
	}
	if err := mgr.SetRole("ROLE_LEND_ADMIN", bob); err != nil {
		t.Fatalf("set role: %v", err)
	}
	if err := mgr.SetRole("ROLE_LEND_ADMIN", alice); err != nil {
		t.Fatalf("set role twice: %v", err)
	}

	members, err := mgr.RoleMembers("ROLE_LEND_ADMIN")
	if err != nil {
		t.Fatalf("role members: %v", err)
	}
	if len(members) != 2 {
		t.Fatalf("expected 2 members, got %d", len(members))
	}
	if string(members[0]) != string(bob) {
		t.Fatalf("expected sorted membership, got %x first", members[0])
	}
	if !mgr.HasRole("ROLE_LEND_ADMIN", alice) {
		t.Fatalf("expected alice to hold role")
	}
	if mgr.HasRole("ROLE_LEND_ADMIN", []byte{0x99}) {
		t.Fatalf("unexpected role grant")
	}
}

func TestKVListHelpers(t *testing.T) {
	db := storage.NewMemDB()
	defer db.Close()
	mgr := NewManager(db)

	key := []byte("audit/log")
	if err := mgr.KVAppend(key, []byte("first")); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := mgr.KVAppend(key, []byte("second")); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := mgr.KVAppend(key, []byte("first")); err != nil {
		t.Fatalf("append duplicate: %v", err)
	}

	var list [][]byte
	if err := mgr.KVGetList(key, &list); err != nil {
		t.Fatalf("get list: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(list))
	}

	var empty [][]byte
	if err := mgr.KVGetList([]byte("missing"), &empty); err != nil {
		t.Fatalf("get missing list: %v", err)
	}
	if empty == nil || len(empty) != 0 {
		t.Fatalf("expected empty slice for missing list")
	}
}

func TestTokenBalancesDefaultZero(t *testing.T) {
	db := storage.NewMemDB()
	defer db.Close()
	mgr := NewManager(db)

	addr := []byte{0x01, 0x02, 0x03}
	balance, err := mgr.Balance(addr, "usdx")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.Sign() != 0 {
		t.Fatalf("expected zero balance, got %s", balance)
	}

	if err := mgr.SetBalance(addr, "USDX", big.NewInt(500)); err != nil {
		t.Fatalf("set balance: %v", err)
	}
	balance, err = mgr.Balance(addr, "usdx")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("unexpected balance: %s", balance)
	}

	if err := mgr.SetBalance(addr, "USDX", big.NewInt(-1)); err == nil {
		t.Fatalf("expected negative balance rejection")
	}
}

func TestTokenRegistration(t *testing.T) {
	db := storage.NewMemDB()
	defer db.Close()
	mgr := NewManager(db)

	meta := &TokenMetadata{Symbol: "usdx", Name: "Test Dollar", Decimals: 18}
	if err := mgr.RegisterToken(meta); err != nil {
		t.Fatalf("register token: %v", err)
	}
	if err := mgr.RegisterToken(meta); err == nil {
		t.Fatalf("expected duplicate registration failure")
	}

	stored, ok, err := mgr.Token("USDX")
	if err != nil || !ok {
		t.Fatalf("load token: ok=%v err=%v", ok, err)
	}
	if stored.Symbol != "USDX" || stored.Decimals != 18 {
		t.Fatalf("unexpected metadata: %+v", stored)
	}

	list, err := mgr.TokenList()
	if err != nil {
		t.Fatalf("token list: %v", err)
	}
	if len(list) != 1 || list[0] != "USDX" {
		t.Fatalf("unexpected token list: %v", list)
	}
}

func TestLendingReserveRoundTrip(t *testing.T) {
	db := storage.NewMemDB()
	defer db.Close()
	mgr := NewManager(db)

	if _, ok, err := mgr.LendingGetReserve("WETX"); err != nil || ok {
		t.Fatalf("expected missing reserve: ok=%v err=%v", ok, err)
	}

	reserve := &lending.Reserve{
		Asset:                "wetx",
		ReceiptToken:         "aWETX",
		TotalLiquidity:       big.NewInt(1_000),
		TotalBorrowed:        big.NewInt(250),
		LiquidityIndex:       new(big.Int).Set(lending.Wad()),
		BorrowIndex:          new(big.Int).Set(lending.Wad()),
		LTV:                  big.NewInt(700000000000000000),
		LiquidationThreshold: big.NewInt(750000000000000000),
		LiquidationBonus:     big.NewInt(50000000000000000),
		CloseFactor:          big.NewInt(500000000000000000),
		Active:               true,
		LastAccrual:          1700000000,
	}
	if err := mgr.LendingPutReserve(reserve); err != nil {
		t.Fatalf("put reserve: %v", err)
	}
	if err := mgr.LendingAddReserve("WETX"); err != nil {
		t.Fatalf("add reserve: %v", err)
	}
	if err := mgr.LendingAddReserve("wetx"); err != nil {
		t.Fatalf("re-add reserve: %v", err)
	}

	stored, ok, err := mgr.LendingGetReserve("wetx")
	if err != nil || !ok {
		t.Fatalf("load reserve: ok=%v err=%v", ok, err)
	}
	if stored.Asset != "WETX" || !stored.Active {
		t.Fatalf("unexpected reserve: %+v", stored)
	}
	if stored.TotalBorrowed.Cmp(big.NewInt(250)) != 0 {
		t.Fatalf("unexpected borrows: %s", stored.TotalBorrowed)
	}

	reserves, err := mgr.LendingReserves()
	if err != nil {
		t.Fatalf("reserve list: %v", err)
	}
	if len(reserves) != 1 || reserves[0] != "WETX" {
		t.Fatalf("unexpected reserve list: %v", reserves)
	}
}

func TestLendingUserAssetsPreserveOrder(t *testing.T) {
	db := storage.NewMemDB()
	defer db.Close()
	mgr := NewManager(db)

	var addr [20]byte
	addr[19] = 0x07

	for _, asset := range []string{"WETX", "USDX", "WETX", "GOLD"} {
		if err := mgr.LendingAddUserAsset(addr, asset); err != nil {
			t.Fatalf("add user asset %s: %v", asset, err)
		}
	}

	assets, err := mgr.LendingUserAssets(addr)
	if err != nil {
		t.Fatalf("user assets: %v", err)
	}
	if len(assets) != 3 {
		t.Fatalf("expected 3 assets, got %v", assets)
	}
	if assets[0] != "WETX" || assets[1] != "USDX" || assets[2] != "GOLD" {
		t.Fatalf("unexpected order: %v", assets)
	}
}

func TestLendingPositionRoundTrip(t *testing.T) {
	db := storage.NewMemDB()
	defer db.Close()
	mgr := NewManager(db)

	var addr [20]byte
	addr[0] = 0x11

	if _, ok, err := mgr.LendingGetPosition(addr, "WETX"); err != nil || ok {
		t.Fatalf("expected missing position: ok=%v err=%v", ok, err)
	}

	position := &lending.Position{
		Collateral:        big.NewInt(4_000),
		ScaledDebt:        big.NewInt(123),
		CollateralEnabled: true,
		Open:              true,
	}
	if err := mgr.LendingPutPosition(addr, "wetx", position); err != nil {
		t.Fatalf("put position: %v", err)
	}

	stored, ok, err := mgr.LendingGetPosition(addr, "WETX")
	if err != nil || !ok {
		t.Fatalf("load position: ok=%v err=%v", ok, err)
	}
	if stored.Collateral.Cmp(big.NewInt(4_000)) != 0 || !stored.CollateralEnabled || !stored.Open {
		t.Fatalf("unexpected position: %+v", stored)
	}
}

func TestLendingRateModelValidated(t *testing.T) {
	db := storage.NewMemDB()
	defer db.Close()
	mgr := NewManager(db)

	if _, ok, err := mgr.LendingRateModel(); err != nil || ok {
		t.Fatalf("expected unset model: ok=%v err=%v", ok, err)
	}

	model := lending.DefaultRateModel()
	if err := mgr.LendingSetRateModel(model); err != nil {
		t.Fatalf("set rate model: %v", err)
	}
	stored, ok, err := mgr.LendingRateModel()
	if err != nil || !ok {
		t.Fatalf("load rate model: ok=%v err=%v", ok, err)
	}
	if stored.BaseRate.Cmp(model.BaseRate) != 0 {
		t.Fatalf("unexpected base rate: %s", stored.BaseRate)
	}

	bad := &lending.RateModel{
		BaseRate: big.NewInt(-1),
		Slope1:   big.NewInt(0),
		Slope2:   big.NewInt(0),
		Kink:     big.NewInt(0),
	}
	if err := mgr.LendingSetRateModel(bad); err == nil {
		t.Fatalf("expected invalid model rejection")
	}
}

func TestOraclePriceDistinguishesUnsetFromZero(t *testing.T) {
	db := storage.NewMemDB()
	defer db.Close()
	mgr := NewManager(db)

	if _, set, err := mgr.OraclePrice("WETX"); err != nil || set {
		t.Fatalf("expected unset price: set=%v err=%v", set, err)
	}

	if err := mgr.SetOraclePrice("WETX", big.NewInt(0)); err != nil {
		t.Fatalf("set zero price: %v", err)
	}
	price, set, err := mgr.OraclePrice("wetx")
	if err != nil || !set {
		t.Fatalf("expected published price: set=%v err=%v", set, err)
	}
	if price.Sign() != 0 {
		t.Fatalf("expected zero price, got %s", price)
	}

	if err := mgr.SetOraclePrice("WETX", big.NewInt(-5)); err == nil {
		t.Fatalf("expected negative price rejection")
	}
}

func TestLendingOracleFeeder(t *testing.T) {
	db := storage.NewMemDB()
	defer db.Close()
	mgr := NewManager(db)

	if _, ok, err := mgr.LendingOracleFeeder(); err != nil || ok {
		t.Fatalf("expected unset feeder: ok=%v err=%v", ok, err)
	}

	var feeder [20]byte
	feeder[3] = 0x42
	if err := mgr.LendingSetOracleFeeder(feeder); err != nil {
		t.Fatalf("set feeder: %v", err)
	}
	stored, ok, err := mgr.LendingOracleFeeder()
	if err != nil || !ok {
		t.Fatalf("load feeder: ok=%v err=%v", ok, err)
	}
	if stored != feeder {
		t.Fatalf("unexpected feeder: %x", stored)
	}
}
