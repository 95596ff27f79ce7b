package trie

import (
	"sort"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// leaf is one mirrored state entry: the hashed logical key and the hash of
// the value stored under it.
type leaf struct {
	Key   common.Hash
	Value common.Hash
}

func leafHash(l leaf) common.Hash {
	return ethcrypto.Keccak256Hash(l.Key.Bytes(), l.Value.Bytes())
}

// fold reduces the leaf set to a single root. Leaves are ordered by key so
// the root depends only on the final contents, never on write order. An odd
// node at any level is promoted unchanged.
func fold(leaves []leaf) common.Hash {
	if len(leaves) == 0 {
		return gethtypes.EmptyRootHash
	}
	sort.Slice(leaves, func(i, j int) bool {
		return leaves[i].Key.Cmp(leaves[j].Key) < 0
	})
	level := make([]common.Hash, len(leaves))
	for i, l := range leaves {
		level[i] = leafHash(l)
	}
	for len(level) > 1 {
		next := make([]common.Hash, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			if i+1 == len(level) {
				next = append(next, level[i])
				continue
			}
			next = append(next, ethcrypto.Keccak256Hash(level[i].Bytes(), level[i+1].Bytes()))
		}
		level = next
	}
	return level[0]
}
