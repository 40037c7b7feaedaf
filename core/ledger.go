package core

import (
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"lukechampine.com/blake3"

	"lendcore/core/events"
	"lendcore/core/state"
	"lendcore/crypto"
	nativecommon "lendcore/native/common"
	"lendcore/native/lending"
	"lendcore/native/token"
	"lendcore/observability"
	"lendcore/storage"
)

// RoleLendAdmin gates reserve initialisation, oracle designation, rate model
// updates, role grants and administrative mints.
const RoleLendAdmin = "ROLE_LEND_ADMIN"

// ModuleTreasury derives the well-known address that holds pooled reserve
// funds. Every deployment and tool arrives at the same address.
func ModuleTreasury() crypto.Address {
	digest := blake3.Sum256([]byte("lendcore/module/treasury"))
	return crypto.MustNewAddress(digest[:crypto.AddressLength])
}

// Ledger is the facade over the lending protocol: it owns the database
// handle, serialises public operations, runs each one against a fresh write
// overlay and publishes typed events for the ones that commit.
type Ledger struct {
	db      storage.Database
	module  crypto.Address
	guard   *nativecommon.OpGuard
	emitter events.Emitter
	now     func() int64
	log     *slog.Logger
	metrics *observability.LedgerMetrics
	mu      sync.Mutex
}

// NewLedger constructs a ledger holding pooled funds under the supplied module
// treasury address. Events are discarded until SetEmitter installs a sink.
func NewLedger(db storage.Database, module crypto.Address) (*Ledger, error) {
	if db == nil {
		return nil, fmt.Errorf("core: database required")
	}
	return &Ledger{
		db:      db,
		module:  module,
		guard:   new(nativecommon.OpGuard),
		emitter: events.NoopEmitter{},
		now:     func() int64 { return time.Now().Unix() },
		log:     slog.Default(),
		metrics: observability.Ledger(),
	}, nil
}

// SetEmitter installs the event sink receiving committed-operation events.
func (l *Ledger) SetEmitter(emitter events.Emitter) {
	if l == nil || emitter == nil {
		return
	}
	l.emitter = emitter
}

// SetClock overrides the time source used for interest accrual.
func (l *Ledger) SetClock(now func() int64) {
	if l == nil || now == nil {
		return
	}
	l.now = now
}

// SetLogger replaces the facade's logger.
func (l *Ledger) SetLogger(log *slog.Logger) {
	if l == nil || log == nil {
		return
	}
	l.log = log
}

// ModuleAddress returns the treasury address holding pooled funds.
func (l *Ledger) ModuleAddress() crypto.Address {
	if l == nil {
		return crypto.Address{}
	}
	return l.module
}

// session bundles the per-operation state manager with the engines bound to
// it. Everything in a session reads and writes the same overlay.
type session struct {
	manager *state.Manager
	engine  *lending.Engine
	tokens  *token.Engine
}

func (l *Ledger) newSession(manager *state.Manager) *session {
	tokens := token.NewEngine()
	tokens.SetState(manager)
	engine := lending.NewEngine(l.module)
	engine.SetGuard(l.guard)
	engine.SetClock(l.now)
	engine.SetState(&ledgerState{manager: manager, tokens: tokens, module: l.module})
	return &session{manager: manager, engine: engine, tokens: tokens}
}

// runOp executes fn against a fresh overlay. The overlay commits only when fn
// succeeds; any error discards every buffered write, leaving durable state
// untouched. The returned event is published after the commit lands.
func (l *Ledger) runOp(op string, fn func(s *session) (events.Event, error)) error {
	if l == nil {
		return fmt.Errorf("core: ledger not initialised")
	}
	start := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()

	overlay := storage.NewOverlay(l.db)
	evt, err := fn(l.newSession(state.NewManager(overlay)))
	if err != nil {
		overlay.Discard()
	} else {
		err = overlay.Commit()
	}
	if err == nil && evt != nil {
		l.emit(evt)
	}
	l.metrics.ObserveOperation(op, err, time.Since(start))
	if err != nil {
		l.log.Warn("ledger operation rejected", "operation", op, "error", err)
	} else {
		l.log.Info("ledger operation applied", "operation", op)
	}
	return err
}

// runRead executes fn against the committed state without an overlay.
func (l *Ledger) runRead(fn func(s *session) error) error {
	if l == nil {
		return fmt.Errorf("core: ledger not initialised")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return fn(l.newSession(state.NewManager(l.db)))
}

func (l *Ledger) emit(evt events.Event) {
	if l.emitter == nil || evt == nil {
		return
	}
	l.metrics.RecordEvent(evt.EventType())
	l.emitter.Emit(evt)
}

func (l *Ledger) requireRole(manager *state.Manager, role string, caller crypto.Address) error {
	if manager.HasRole(role, caller.Bytes()) {
		return nil
	}
	return fmt.Errorf("%w: missing role %s", ErrUnauthorized, role)
}

func normalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// InitReserve activates a reserve for the asset and registers its receipt
// token under the module's mint authority. The underlying asset must already
// be a registered token or deposits could never move it.
func (l *Ledger) InitReserve(caller crypto.Address, cfg lending.ReserveConfig) error {
	return l.runOp("init_reserve", func(s *session) (events.Event, error) {
		if err := l.requireRole(s.manager, RoleLendAdmin, caller); err != nil {
			return nil, err
		}
		underlying, ok, err := s.manager.Token(cfg.Asset)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: %s", token.ErrUnknownToken, normalizeSymbol(cfg.Asset))
		}
		if err := s.engine.InitReserve(cfg); err != nil {
			return nil, err
		}
		receipt := normalizeSymbol(cfg.ReceiptToken)
		err = s.manager.RegisterToken(&state.TokenMetadata{
			Symbol:        receipt,
			Name:          fmt.Sprintf("%s Receipt", underlying.Name),
			Decimals:      underlying.Decimals,
			MintAuthority: l.module.Bytes(),
		})
		if err != nil {
			return nil, err
		}
		return events.ReserveInitialized{
			Asset:                cfg.Asset,
			ReceiptToken:         cfg.ReceiptToken,
			LTV:                  cfg.LTV,
			LiquidationThreshold: cfg.LiquidationThreshold,
			LiquidationBonus:     cfg.LiquidationBonus,
			CloseFactor:          cfg.CloseFactor,
		}, nil
	})
}

// SetOracle designates the address allowed to post prices.
func (l *Ledger) SetOracle(caller, feeder crypto.Address) error {
	return l.runOp("set_oracle", func(s *session) (events.Event, error) {
		if err := l.requireRole(s.manager, RoleLendAdmin, caller); err != nil {
			return nil, err
		}
		if err := s.manager.LendingSetOracleFeeder(feeder.Raw()); err != nil {
			return nil, err
		}
		return events.OracleUpdated{Feeder: feeder.Raw()}, nil
	})
}

// SetRateModel replaces the ledger-wide borrow rate curve.
func (l *Ledger) SetRateModel(caller crypto.Address, model *lending.RateModel) error {
	return l.runOp("set_rate_model", func(s *session) (events.Event, error) {
		if err := l.requireRole(s.manager, RoleLendAdmin, caller); err != nil {
			return nil, err
		}
		if err := s.manager.LendingSetRateModel(model); err != nil {
			return nil, err
		}
		return events.RateModelUpdated{
			BaseRate: model.BaseRate,
			Slope1:   model.Slope1,
			Slope2:   model.Slope2,
			Kink:     model.Kink,
		}, nil
	})
}

// SetPrice publishes an oracle price. Only the designated feeder may post; a
// zero price is stored and renders the asset unpriced for strict reads.
func (l *Ledger) SetPrice(caller crypto.Address, asset string, price *big.Int) error {
	return l.runOp("set_price", func(s *session) (events.Event, error) {
		feeder, ok, err := s.manager.LendingOracleFeeder()
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, lending.ErrOracleNotConfigured
		}
		if feeder != caller.Raw() {
			return nil, fmt.Errorf("%w: prices are posted by the designated feeder", ErrUnauthorized)
		}
		if err := s.manager.SetOraclePrice(asset, price); err != nil {
			return nil, err
		}
		return events.PricePosted{Feeder: caller.Raw(), Asset: asset, Price: price}, nil
	})
}

// GrantRole adds an address to a role. Only admins may grant.
func (l *Ledger) GrantRole(caller crypto.Address, role string, addr crypto.Address) error {
	return l.runOp("grant_role", func(s *session) (events.Event, error) {
		if err := l.requireRole(s.manager, RoleLendAdmin, caller); err != nil {
			return nil, err
		}
		if err := s.manager.SetRole(role, addr.Bytes()); err != nil {
			return nil, err
		}
		return events.RoleGranted{Role: role, Address: addr.Raw()}, nil
	})
}

// Mint issues underlying tokens to an account. Receipt tokens are refused:
// their supply only moves through deposits, withdrawals and liquidations.
func (l *Ledger) Mint(caller, to crypto.Address, symbol string, amount *big.Int) error {
	return l.runOp("mint", func(s *session) (events.Event, error) {
		if err := l.requireRole(s.manager, RoleLendAdmin, caller); err != nil {
			return nil, err
		}
		managed, err := isReceiptToken(s.manager, symbol)
		if err != nil {
			return nil, err
		}
		if managed {
			return nil, fmt.Errorf("%w: %s", ErrReceiptTokenManaged, normalizeSymbol(symbol))
		}
		return nil, s.tokens.Mint(l.module, to, symbol, amount)
	})
}

func isReceiptToken(manager *state.Manager, symbol string) (bool, error) {
	normalized := normalizeSymbol(symbol)
	assets, err := manager.LendingReserves()
	if err != nil {
		return false, err
	}
	for _, asset := range assets {
		reserve, ok, err := manager.LendingGetReserve(asset)
		if err != nil {
			return false, err
		}
		if ok && reserve.ReceiptToken == normalized {
			return true, nil
		}
	}
	return false, nil
}

// Deposit supplies collateral to a reserve and mints receipt shares for it.
func (l *Ledger) Deposit(user crypto.Address, asset string, amount *big.Int) (*big.Int, error) {
	var minted *big.Int
	err := l.runOp("deposit", func(s *session) (events.Event, error) {
		shares, err := s.engine.Deposit(user, asset, amount)
		if err != nil {
			return nil, err
		}
		minted = shares
		return events.Deposited{
			User:           user.Raw(),
			Asset:          asset,
			Amount:         amount,
			MintedShares:   shares,
			LiquidityIndex: liquidityIndex(s.manager, asset),
		}, nil
	})
	if err != nil {
		return nil, err
	}
	return minted, nil
}

// Withdraw redeems collateral from a reserve, burning the matching receipt
// shares. The position must stay healthy after the debit.
func (l *Ledger) Withdraw(user crypto.Address, asset string, amount *big.Int) (*big.Int, error) {
	var burned *big.Int
	err := l.runOp("withdraw", func(s *session) (events.Event, error) {
		shares, err := s.engine.Withdraw(user, asset, amount)
		if err != nil {
			return nil, err
		}
		burned = shares
		return events.Withdrawn{
			User:           user.Raw(),
			Asset:          asset,
			Amount:         amount,
			BurnedShares:   shares,
			LiquidityIndex: liquidityIndex(s.manager, asset),
		}, nil
	})
	if err != nil {
		return nil, err
	}
	return burned, nil
}

// Borrow draws liquidity from a reserve against the user's collateral.
func (l *Ledger) Borrow(user crypto.Address, asset string, amount *big.Int) error {
	return l.runOp("borrow", func(s *session) (events.Event, error) {
		if err := s.engine.Borrow(user, asset, amount); err != nil {
			return nil, err
		}
		return events.Borrowed{
			User:        user.Raw(),
			Asset:       asset,
			Amount:      amount,
			BorrowIndex: borrowIndex(s.manager, asset),
		}, nil
	})
}

// Repay pays down the user's debt and returns the amount actually applied
// after capping at the outstanding balance.
func (l *Ledger) Repay(user crypto.Address, asset string, amount *big.Int) (*big.Int, error) {
	var applied *big.Int
	err := l.runOp("repay", func(s *session) (events.Event, error) {
		paid, err := s.engine.Repay(user, asset, amount)
		if err != nil {
			return nil, err
		}
		applied = paid
		return events.Repaid{
			User:        user.Raw(),
			Asset:       asset,
			Amount:      paid,
			BorrowIndex: borrowIndex(s.manager, asset),
		}, nil
	})
	if err != nil {
		return nil, err
	}
	return applied, nil
}

// Liquidate lets the caller repay part of an unhealthy borrower's debt and
// seize bonus-adjusted collateral in exchange. It returns the repaid debt and
// the seized collateral amounts.
func (l *Ledger) Liquidate(liquidator, borrower crypto.Address, debtAsset, collateralAsset string, repayAmount *big.Int) (*big.Int, *big.Int, error) {
	var repaid, seized *big.Int
	err := l.runOp("liquidate", func(s *session) (events.Event, error) {
		paid, taken, err := s.engine.Liquidate(liquidator, borrower, debtAsset, collateralAsset, repayAmount)
		if err != nil {
			return nil, err
		}
		repaid, seized = paid, taken
		return events.Liquidated{
			Liquidator:      liquidator.Raw(),
			Borrower:        borrower.Raw(),
			DebtAsset:       debtAsset,
			CollateralAsset: collateralAsset,
			Repaid:          paid,
			Seized:          taken,
		}, nil
	})
	if err != nil {
		return nil, nil, err
	}
	return repaid, seized, nil
}

func liquidityIndex(manager *state.Manager, asset string) *big.Int {
	reserve, ok, err := manager.LendingGetReserve(asset)
	if err != nil || !ok {
		return nil
	}
	return reserve.LiquidityIndex
}

func borrowIndex(manager *state.Manager, asset string) *big.Int {
	reserve, ok, err := manager.LendingGetReserve(asset)
	if err != nil || !ok {
		return nil
	}
	return reserve.BorrowIndex
}

// Reserve returns a snapshot of the reserve backing the asset.
func (l *Ledger) Reserve(asset string) (*lending.Reserve, error) {
	var snapshot *lending.Reserve
	err := l.runRead(func(s *session) error {
		reserve, ok, err := s.manager.LendingGetReserve(asset)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %s", lending.ErrReserveInactive, normalizeSymbol(asset))
		}
		snapshot = reserve
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snapshot, nil
}

// Reserves returns snapshots of every reserve in registration order.
func (l *Ledger) Reserves() ([]*lending.Reserve, error) {
	var snapshots []*lending.Reserve
	err := l.runRead(func(s *session) error {
		assets, err := s.manager.LendingReserves()
		if err != nil {
			return err
		}
		snapshots = make([]*lending.Reserve, 0, len(assets))
		for _, asset := range assets {
			reserve, ok, err := s.manager.LendingGetReserve(asset)
			if err != nil {
				return err
			}
			if ok {
				snapshots = append(snapshots, reserve)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snapshots, nil
}

// Position returns the user's position in the asset. Untouched positions read
// as zeroed records.
func (l *Ledger) Position(user crypto.Address, asset string) (*lending.Position, error) {
	var snapshot *lending.Position
	err := l.runRead(func(s *session) error {
		position, ok, err := s.manager.LendingGetPosition(user.Raw(), asset)
		if err != nil {
			return err
		}
		if !ok {
			position = &lending.Position{Collateral: big.NewInt(0), ScaledDebt: big.NewInt(0)}
		}
		snapshot = position
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snapshot, nil
}

// AccountData aggregates the user's collateral, debt and risk numbers across
// every reserve they have touched.
func (l *Ledger) AccountData(user crypto.Address) (*lending.AccountData, error) {
	var data *lending.AccountData
	err := l.runRead(func(s *session) error {
		result, err := s.engine.AccountData(user)
		if err != nil {
			return err
		}
		data = result
		return nil
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

// HealthFactor returns the user's current health factor.
func (l *Ledger) HealthFactor(user crypto.Address) (*big.Int, error) {
	var hf *big.Int
	err := l.runRead(func(s *session) error {
		result, err := s.engine.HealthFactor(user)
		if err != nil {
			return err
		}
		hf = result
		return nil
	})
	if err != nil {
		return nil, err
	}
	return hf, nil
}

// Price returns the published oracle price for the asset. Assets with no
// published price, or an explicit zero, fail the read.
func (l *Ledger) Price(asset string) (*big.Int, error) {
	var price *big.Int
	err := l.runRead(func(s *session) error {
		value, ok, err := s.manager.OraclePrice(asset)
		if err != nil {
			return err
		}
		if !ok || value.Sign() == 0 {
			return fmt.Errorf("%w: %s", lending.ErrAssetNotSupported, normalizeSymbol(asset))
		}
		price = value
		return nil
	})
	if err != nil {
		return nil, err
	}
	return price, nil
}

// BalanceOf returns the holder's balance of a registered token.
func (l *Ledger) BalanceOf(addr crypto.Address, symbol string) (*big.Int, error) {
	var balance *big.Int
	err := l.runRead(func(s *session) error {
		value, err := s.tokens.BalanceOf(addr, symbol)
		if err != nil {
			return err
		}
		balance = value
		return nil
	})
	if err != nil {
		return nil, err
	}
	return balance, nil
}

// HasRole reports whether the address holds the role.
func (l *Ledger) HasRole(role string, addr crypto.Address) bool {
	var held bool
	_ = l.runRead(func(s *session) error {
		held = s.manager.HasRole(role, addr.Bytes())
		return nil
	})
	return held
}

// RateModel returns the active borrow rate curve.
func (l *Ledger) RateModel() (*lending.RateModel, error) {
	var model *lending.RateModel
	err := l.runRead(func(s *session) error {
		value, ok, err := s.manager.LendingRateModel()
		if err != nil {
			return err
		}
		if !ok {
			return lending.ErrRateModelNotConfigured
		}
		model = value
		return nil
	})
	if err != nil {
		return nil, err
	}
	return model, nil
}

// OracleFeeder returns the designated price feeder, when one is set.
func (l *Ledger) OracleFeeder() (crypto.Address, bool, error) {
	var feeder crypto.Address
	var ok bool
	err := l.runRead(func(s *session) error {
		raw, set, err := s.manager.LendingOracleFeeder()
		if err != nil {
			return err
		}
		if set {
			feeder = crypto.MustNewAddress(raw[:])
			ok = true
		}
		return nil
	})
	if err != nil {
		return crypto.Address{}, false, err
	}
	return feeder, ok, nil
}
