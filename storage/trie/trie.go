package trie

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"

	"forwardnet/storage"
)

// leavesKey is the raw database key holding the committed leaf set. It lives
// outside the state manager's hashed key space, so the two never collide.
var leavesKey = []byte("trie/leaves")

// Mirror maintains a Merkle commitment over every live state entry. The state
// manager feeds it a hashed key and value hash on each write; the root then
// authenticates the full key-value contents of the store, so two nodes that
// replayed the same steps can compare a single hash.
//
// The root is recomputed lazily over the sorted leaf set. Commit persists the
// leaves so a restarted process resumes with the same commitment without
// replaying history.
//
// Mirror is not safe for concurrent use.
type Mirror struct {
	db     storage.Database
	leaves map[common.Hash]common.Hash
	root   common.Hash
	dirty  bool
}

// NewMirror opens the commitment mirror over the provided database, loading
// any previously committed leaf set.
func NewMirror(db storage.Database) (*Mirror, error) {
	m := &Mirror{
		db:     db,
		leaves: make(map[common.Hash]common.Hash),
		dirty:  true,
	}
	data, err := db.Get(leavesKey)
	if err != nil {
		if err == storage.ErrKeyNotFound {
			return m, nil
		}
		return nil, err
	}
	var stored []leaf
	if err := rlp.DecodeBytes(data, &stored); err != nil {
		return nil, err
	}
	for _, l := range stored {
		m.leaves[l.Key] = l.Value
	}
	return m, nil
}

// Update records the value hash stored under a hashed key.
func (m *Mirror) Update(key, valueHash common.Hash) {
	m.leaves[key] = valueHash
	m.dirty = true
}

// Delete drops the entry for a hashed key. Deleting an absent key is a no-op.
func (m *Mirror) Delete(key common.Hash) {
	if _, ok := m.leaves[key]; !ok {
		return
	}
	delete(m.leaves, key)
	m.dirty = true
}

// Root returns the commitment over the current leaf set, recomputing it only
// when entries changed since the last call.
func (m *Mirror) Root() common.Hash {
	if !m.dirty {
		return m.root
	}
	snapshot := make([]leaf, 0, len(m.leaves))
	for key, value := range m.leaves {
		snapshot = append(snapshot, leaf{Key: key, Value: value})
	}
	m.root = fold(snapshot)
	m.dirty = false
	return m.root
}

// Len reports the number of live entries under the commitment.
func (m *Mirror) Len() int {
	return len(m.leaves)
}

// Commit persists the leaf set and returns the root it commits to.
func (m *Mirror) Commit() (common.Hash, error) {
	snapshot := make([]leaf, 0, len(m.leaves))
	for key, value := range m.leaves {
		snapshot = append(snapshot, leaf{Key: key, Value: value})
	}
	encoded, err := rlp.EncodeToBytes(snapshot)
	if err != nil {
		return common.Hash{}, err
	}
	if err := m.db.Put(leavesKey, encoded); err != nil {
		return common.Hash{}, err
	}
	return m.Root(), nil
}
