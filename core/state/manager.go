package state

import (
	"bytes"
	"errors"
	"fmt"
	"reflect"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"forwardnet/storage"
)

// Mirror receives every state mutation so a Merkle commitment can track the
// live contents of the store. Keys arrive already hashed, values as hashes of
// their encoding.
type Mirror interface {
	Update(key, valueHash common.Hash)
	Delete(key common.Hash)
}

// Manager provides namespaced key-value access over the backing store. Keys
// are keccak-hashed before hitting the database so raw user input never maps
// onto the physical key space directly, and values are RLP encoded.
//
// Manager is not safe for concurrent use; the runtime serializes access by
// executing one step at a time.
type Manager struct {
	db     storage.Database
	mirror Mirror
}

// NewManager creates a state manager operating on the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

// SetMirror attaches a commitment mirror. Subsequent writes and deletes are
// reflected into it; entries written before attachment are not replayed.
func (m *Manager) SetMirror(mirror Mirror) {
	m.mirror = mirror
}

func kvKey(key []byte) []byte {
	return ethcrypto.Keccak256(key)
}

func (m *Manager) rawGet(key []byte) ([]byte, error) {
	data, err := m.db.Get(kvKey(key))
	if err != nil {
		if errors.Is(err, storage.ErrKeyNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return data, nil
}

// KVPut stores the RLP encoding of value under the hashed key.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	hashed := kvKey(key)
	if err := m.db.Put(hashed, encoded); err != nil {
		return err
	}
	if m.mirror != nil {
		m.mirror.Update(common.BytesToHash(hashed), ethcrypto.Keccak256Hash(encoded))
	}
	return nil
}

// KVGet loads the value stored under key into out. It reports whether the key
// was present; a nil out only checks existence.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	data, err := m.rawGet(key)
	if err != nil {
		return false, err
	}
	if len(data) == 0 {
		return false, nil
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, err
	}
	return true, nil
}

// KVDelete removes the entry stored under key. Deleting an absent key is a
// no-op.
func (m *Manager) KVDelete(key []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	hashed := kvKey(key)
	if err := m.db.Put(hashed, nil); err != nil {
		return err
	}
	if m.mirror != nil {
		m.mirror.Delete(common.BytesToHash(hashed))
	}
	return nil
}

// KVAppend adds value to the list stored under key, deduplicating exact
// repeats so replayed writes stay idempotent.
func (m *Manager) KVAppend(key []byte, value []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	data, err := m.rawGet(key)
	if err != nil {
		return err
	}
	var list [][]byte
	if len(data) > 0 {
		if err := rlp.DecodeBytes(data, &list); err != nil {
			return err
		}
	}
	found := false
	for _, existing := range list {
		if bytes.Equal(existing, value) {
			found = true
			break
		}
	}
	if !found {
		list = append(list, append([]byte(nil), value...))
	}
	encoded, err := rlp.EncodeToBytes(list)
	if err != nil {
		return err
	}
	hashed := kvKey(key)
	if err := m.db.Put(hashed, encoded); err != nil {
		return err
	}
	if m.mirror != nil {
		m.mirror.Update(common.BytesToHash(hashed), ethcrypto.Keccak256Hash(encoded))
	}
	return nil
}

// KVGetList loads the list stored under key into out, leaving an empty slice
// when the key is absent.
func (m *Manager) KVGetList(key []byte, out interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	data, err := m.rawGet(key)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		val := reflect.ValueOf(out)
		if val.Kind() != reflect.Ptr || val.IsNil() {
			return fmt.Errorf("kv: destination must be a non-nil pointer")
		}
		elem := val.Elem()
		if elem.Kind() != reflect.Slice {
			return fmt.Errorf("kv: destination must point to a slice")
		}
		elem.Set(reflect.MakeSlice(elem.Type(), 0, 0))
		return nil
	}
	return rlp.DecodeBytes(data, out)
}
