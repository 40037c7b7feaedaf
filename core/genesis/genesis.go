package genesis

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"os"
	"sort"
	"strings"

	"lukechampine.com/blake3"

	"lendcore/core/state"
	"lendcore/crypto"
	"lendcore/native/lending"
	"lendcore/storage"
)

// ErrMismatch is returned when a store initialised from one genesis spec is
// reopened with a different one.
var ErrMismatch = errors.New("genesis: spec does not match initialised state")

var digestKey = []byte("genesis/digest")

// Spec declares the initial ledger state: token registrations, balance
// allocations, role grants, the oracle feeder and the borrow rate curve.
type Spec struct {
	Tokens       []TokenSpec                  `json:"tokens"`
	Alloc        map[string]map[string]string `json:"alloc,omitempty"` // addr -> token -> amount
	Roles        map[string][]string          `json:"roles,omitempty"` // role -> []addr
	OracleFeeder string                       `json:"oracleFeeder,omitempty"`
	RateModel    *RateModelSpec               `json:"rateModel,omitempty"`
}

// TokenSpec registers one fungible token. An empty mint authority defaults to
// the module treasury address.
type TokenSpec struct {
	Symbol        string `json:"symbol"`
	Name          string `json:"name"`
	Decimals      uint8  `json:"decimals"`
	MintAuthority string `json:"mintAuthority,omitempty"`
}

// RateModelSpec carries the WAD curve parameters as decimal strings.
type RateModelSpec struct {
	BaseRate string `json:"baseRate"`
	Slope1   string `json:"slope1"`
	Slope2   string `json:"slope2"`
	Kink     string `json:"kink"`
}

// LoadFile reads and validates a genesis spec from a JSON file.
func LoadFile(path string) (*Spec, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("genesis: read %s: %w", path, err)
	}
	spec := new(Spec)
	if err := json.Unmarshal(raw, spec); err != nil {
		return nil, fmt.Errorf("genesis: parse %s: %w", path, err)
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return spec, nil
}

// Validate checks symbols, addresses and amounts without touching state.
func (s *Spec) Validate() error {
	if s == nil {
		return fmt.Errorf("genesis: spec required")
	}
	seen := make(map[string]bool, len(s.Tokens))
	for i := range s.Tokens {
		token := &s.Tokens[i]
		symbol := strings.ToUpper(strings.TrimSpace(token.Symbol))
		if symbol == "" {
			return fmt.Errorf("genesis: token %d: symbol required", i)
		}
		if seen[symbol] {
			return fmt.Errorf("genesis: token %s declared twice", symbol)
		}
		seen[symbol] = true
		if strings.TrimSpace(token.MintAuthority) != "" {
			if _, err := crypto.DecodeAddress(token.MintAuthority); err != nil {
				return fmt.Errorf("genesis: token %s mint authority: %w", symbol, err)
			}
		}
	}
	for addr, balances := range s.Alloc {
		if _, err := crypto.DecodeAddress(addr); err != nil {
			return fmt.Errorf("genesis: alloc address %s: %w", addr, err)
		}
		for symbol, amount := range balances {
			if !seen[strings.ToUpper(strings.TrimSpace(symbol))] {
				return fmt.Errorf("genesis: alloc references unregistered token %s", symbol)
			}
			if _, err := parseAmount(amount); err != nil {
				return fmt.Errorf("genesis: alloc %s/%s: %w", addr, symbol, err)
			}
		}
	}
	for role, members := range s.Roles {
		if strings.TrimSpace(role) == "" {
			return fmt.Errorf("genesis: empty role name")
		}
		for _, member := range members {
			if _, err := crypto.DecodeAddress(member); err != nil {
				return fmt.Errorf("genesis: role %s member %s: %w", role, member, err)
			}
		}
	}
	if strings.TrimSpace(s.OracleFeeder) != "" {
		if _, err := crypto.DecodeAddress(s.OracleFeeder); err != nil {
			return fmt.Errorf("genesis: oracle feeder: %w", err)
		}
	}
	if s.RateModel != nil {
		if _, err := s.RateModel.model(); err != nil {
			return err
		}
	}
	return nil
}

func (r *RateModelSpec) model() (*lending.RateModel, error) {
	base, err := parseAmount(r.BaseRate)
	if err != nil {
		return nil, fmt.Errorf("genesis: rate model base: %w", err)
	}
	slope1, err := parseAmount(r.Slope1)
	if err != nil {
		return nil, fmt.Errorf("genesis: rate model slope1: %w", err)
	}
	slope2, err := parseAmount(r.Slope2)
	if err != nil {
		return nil, fmt.Errorf("genesis: rate model slope2: %w", err)
	}
	kink, err := parseAmount(r.Kink)
	if err != nil {
		return nil, fmt.Errorf("genesis: rate model kink: %w", err)
	}
	model := &lending.RateModel{BaseRate: base, Slope1: slope1, Slope2: slope2, Kink: kink}
	if err := model.Validate(); err != nil {
		return nil, fmt.Errorf("genesis: %w", err)
	}
	return model, nil
}

func parseAmount(raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	value, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", raw)
	}
	if value.Sign() < 0 {
		return nil, fmt.Errorf("amount %q must not be negative", raw)
	}
	return value, nil
}

// Digest returns the canonical blake3 digest of the spec. JSON marshalling
// orders map keys, so equal specs digest identically.
func (s *Spec) Digest() ([32]byte, error) {
	var zero [32]byte
	raw, err := json.Marshal(s)
	if err != nil {
		return zero, fmt.Errorf("genesis: marshal spec: %w", err)
	}
	return blake3.Sum256(raw), nil
}

// Apply seeds the database from the spec. A store already initialised with
// the same spec is left untouched; one initialised with a different spec
// fails with ErrMismatch. Application order is deterministic.
func Apply(db storage.Database, spec *Spec, module crypto.Address) error {
	if db == nil {
		return fmt.Errorf("genesis: database required")
	}
	if err := spec.Validate(); err != nil {
		return err
	}
	digest, err := spec.Digest()
	if err != nil {
		return err
	}

	stored, err := db.Get(digestKey)
	if err != nil {
		return fmt.Errorf("genesis: read digest: %w", err)
	}
	if len(stored) > 0 {
		if hex.EncodeToString(digest[:]) != string(stored) {
			return ErrMismatch
		}
		return nil
	}

	overlay := storage.NewOverlay(db)
	manager := state.NewManager(overlay)

	tokens := append([]TokenSpec(nil), spec.Tokens...)
	sort.Slice(tokens, func(i, j int) bool {
		return strings.ToUpper(tokens[i].Symbol) < strings.ToUpper(tokens[j].Symbol)
	})
	for i := range tokens {
		token := &tokens[i]
		authority := module
		if strings.TrimSpace(token.MintAuthority) != "" {
			authority, err = crypto.DecodeAddress(token.MintAuthority)
			if err != nil {
				return err
			}
		}
		err = manager.RegisterToken(&state.TokenMetadata{
			Symbol:        token.Symbol,
			Name:          token.Name,
			Decimals:      token.Decimals,
			MintAuthority: authority.Bytes(),
		})
		if err != nil {
			return fmt.Errorf("genesis: register token %s: %w", token.Symbol, err)
		}
	}

	for _, addr := range sortedKeys(spec.Alloc) {
		account, err := crypto.DecodeAddress(addr)
		if err != nil {
			return err
		}
		balances := spec.Alloc[addr]
		for _, symbol := range sortedKeys(balances) {
			amount, err := parseAmount(balances[symbol])
			if err != nil {
				return err
			}
			if err := manager.SetBalance(account.Bytes(), symbol, amount); err != nil {
				return fmt.Errorf("genesis: alloc %s/%s: %w", addr, symbol, err)
			}
		}
	}

	for _, role := range sortedKeys(spec.Roles) {
		members := append([]string(nil), spec.Roles[role]...)
		sort.Strings(members)
		for _, member := range members {
			account, err := crypto.DecodeAddress(member)
			if err != nil {
				return err
			}
			if err := manager.SetRole(role, account.Bytes()); err != nil {
				return fmt.Errorf("genesis: grant %s to %s: %w", role, member, err)
			}
		}
	}

	if strings.TrimSpace(spec.OracleFeeder) != "" {
		feeder, err := crypto.DecodeAddress(spec.OracleFeeder)
		if err != nil {
			return err
		}
		if err := manager.LendingSetOracleFeeder(feeder.Raw()); err != nil {
			return fmt.Errorf("genesis: oracle feeder: %w", err)
		}
	}

	model := lending.DefaultRateModel()
	if spec.RateModel != nil {
		model, err = spec.RateModel.model()
		if err != nil {
			return err
		}
	}
	if err := manager.LendingSetRateModel(model); err != nil {
		return fmt.Errorf("genesis: rate model: %w", err)
	}

	if err := overlay.Put(digestKey, []byte(hex.EncodeToString(digest[:]))); err != nil {
		return err
	}
	return overlay.Commit()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
