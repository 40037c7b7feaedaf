package state

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/rlp"

	"lendcore/storage"
)

// Manager provides typed read/write access to the ledger state stored in the
// underlying key/value database. All values are RLP encoded; absent keys decode
// to their zero value so callers never have to special-case a fresh database.
type Manager struct {
	db storage.Database
}

// NewManager creates a state manager operating on the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

var (
	rolePrefix = []byte("roles/")
	kvPrefix   = []byte("kv/")
)

func roleKey(role string) []byte {
	normalized := strings.ToUpper(strings.TrimSpace(role))
	key := make([]byte, len(rolePrefix)+len(normalized))
	copy(key, rolePrefix)
	copy(key[len(rolePrefix):], normalized)
	return key
}

func kvKey(key []byte) []byte {
	buf := make([]byte, len(kvPrefix)+len(key))
	copy(buf, kvPrefix)
	copy(buf[len(kvPrefix):], key)
	return buf
}

func (m *Manager) writeRecord(key []byte, value interface{}) error {
	if m == nil || m.db == nil {
		return fmt.Errorf("state manager unavailable")
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	return m.db.Put(key, encoded)
}

// loadRecord decodes the value stored under key into out. The boolean result
// reports whether the key existed.
func (m *Manager) loadRecord(key []byte, out interface{}) (bool, error) {
	if m == nil || m.db == nil {
		return false, fmt.Errorf("state manager unavailable")
	}
	data, err := m.db.Get(key)
	if err != nil {
		return false, err
	}
	if len(data) == 0 {
		return false, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, err
	}
	return true, nil
}

// SetRole grants the supplied role to the address. Membership lists are kept
// sorted by hex encoding so state writes stay deterministic.
func (m *Manager) SetRole(role string, addr []byte) error {
	if m == nil {
		return fmt.Errorf("state manager unavailable")
	}
	normalized := strings.ToUpper(strings.TrimSpace(role))
	if normalized == "" {
		return fmt.Errorf("role name required")
	}
	if len(addr) == 0 {
		return fmt.Errorf("role member address required")
	}
	members, err := m.RoleMembers(normalized)
	if err != nil {
		return err
	}
	for _, member := range members {
		if bytes.Equal(member, addr) {
			return nil
		}
	}
	members = append(members, append([]byte(nil), addr...))
	sort.Slice(members, func(i, j int) bool {
		return hex.EncodeToString(members[i]) < hex.EncodeToString(members[j])
	})
	return m.writeRecord(roleKey(normalized), members)
}

// RoleMembers returns every address holding the supplied role. A role with no
// grants yields an empty slice.
func (m *Manager) RoleMembers(role string) ([][]byte, error) {
	if m == nil {
		return nil, fmt.Errorf("state manager unavailable")
	}
	var members [][]byte
	ok, err := m.loadRecord(roleKey(role), &members)
	if err != nil {
		return nil, err
	}
	if !ok {
		return [][]byte{}, nil
	}
	return members, nil
}

// HasRole reports whether the address holds the role. Lookup errors degrade to
// false so authorization checks fail closed.
func (m *Manager) HasRole(role string, addr []byte) bool {
	if m == nil || len(addr) == 0 {
		return false
	}
	members, err := m.RoleMembers(role)
	if err != nil {
		return false
	}
	for _, member := range members {
		if bytes.Equal(member, addr) {
			return true
		}
	}
	return false
}

// KVPut stores an arbitrary RLP-encodable value under the namespaced key.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv key required")
	}
	return m.writeRecord(kvKey(key), value)
}

// KVGet decodes the value stored under the namespaced key into out, reporting
// whether the key existed.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	if len(key) == 0 {
		return false, fmt.Errorf("kv key required")
	}
	return m.loadRecord(kvKey(key), out)
}

// KVAppend appends value to the byte-slice list stored under key, skipping the
// write when the value is already present.
func (m *Manager) KVAppend(key []byte, value []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("kv key required")
	}
	var list [][]byte
	if _, err := m.loadRecord(kvKey(key), &list); err != nil {
		return err
	}
	for _, existing := range list {
		if bytes.Equal(existing, value) {
			return nil
		}
	}
	list = append(list, append([]byte(nil), value...))
	return m.writeRecord(kvKey(key), list)
}

// KVGetList decodes the list stored under key into out, which must be a
// pointer to a slice. Missing keys leave out set to an empty slice.
func (m *Manager) KVGetList(key []byte, out interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv key required")
	}
	ok, err := m.loadRecord(kvKey(key), out)
	if err != nil {
		return err
	}
	if !ok {
		v := reflect.ValueOf(out)
		if v.Kind() != reflect.Ptr || v.Elem().Kind() != reflect.Slice {
			return fmt.Errorf("kv list target must be a slice pointer")
		}
		v.Elem().Set(reflect.MakeSlice(v.Elem().Type(), 0, 0))
	}
	return nil
}
