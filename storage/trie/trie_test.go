package trie

import (
	"testing"

	gethtypes "github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"forwardnet/storage"
)

func TestRootIsOrderIndependent(t *testing.T) {
	a, err := NewMirror(storage.NewMemDB())
	require.NoError(t, err)
	b, err := NewMirror(storage.NewMemDB())
	require.NoError(t, err)

	keys := []string{"alpha", "beta", "gamma", "delta"}
	for _, k := range keys {
		a.Update(ethcrypto.Keccak256Hash([]byte(k)), ethcrypto.Keccak256Hash([]byte("v-"+k)))
	}
	for i := len(keys) - 1; i >= 0; i-- {
		k := keys[i]
		b.Update(ethcrypto.Keccak256Hash([]byte(k)), ethcrypto.Keccak256Hash([]byte("v-"+k)))
	}
	require.Equal(t, a.Root(), b.Root())
}

func TestRootReflectsMutations(t *testing.T) {
	m, err := NewMirror(storage.NewMemDB())
	require.NoError(t, err)
	require.Equal(t, gethtypes.EmptyRootHash, m.Root())

	key := ethcrypto.Keccak256Hash([]byte("key"))
	m.Update(key, ethcrypto.Keccak256Hash([]byte("one")))
	first := m.Root()
	require.NotEqual(t, gethtypes.EmptyRootHash, first)

	m.Update(key, ethcrypto.Keccak256Hash([]byte("two")))
	require.NotEqual(t, first, m.Root())

	m.Delete(key)
	require.Equal(t, gethtypes.EmptyRootHash, m.Root())
	require.Equal(t, 0, m.Len())
}

func TestCommitPersistsLeafSet(t *testing.T) {
	dir := t.TempDir()

	db1, err := storage.NewLevelDB(dir)
	require.NoError(t, err)

	m1, err := NewMirror(db1)
	require.NoError(t, err)
	for _, k := range []string{"one", "two", "three"} {
		m1.Update(ethcrypto.Keccak256Hash([]byte(k)), ethcrypto.Keccak256Hash([]byte("v-"+k)))
	}
	root, err := m1.Commit()
	require.NoError(t, err)
	db1.Close()

	db2, err := storage.NewLevelDB(dir)
	require.NoError(t, err)
	defer db2.Close()

	m2, err := NewMirror(db2)
	require.NoError(t, err)
	require.Equal(t, 3, m2.Len())
	require.Equal(t, root, m2.Root())
}
