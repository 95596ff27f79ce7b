package state

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"forwardnet/storage"
)

type record struct {
	Account string
	Amount  *big.Int
}

func TestKVRoundTrip(t *testing.T) {
	db := storage.NewMemDB()
	defer db.Close()
	mgr := NewManager(db)

	in := record{Account: "fwd1example", Amount: big.NewInt(1234)}
	if err := mgr.KVPut([]byte("market/test/record"), &in); err != nil {
		t.Fatalf("put: %v", err)
	}

	var out record
	ok, err := mgr.KVGet([]byte("market/test/record"), &out)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !ok {
		t.Fatalf("expected record to exist")
	}
	if out.Account != in.Account || out.Amount.Cmp(in.Amount) != 0 {
		t.Fatalf("unexpected record: %+v", out)
	}

	ok, err = mgr.KVGet([]byte("market/test/missing"), nil)
	if err != nil {
		t.Fatalf("get missing: %v", err)
	}
	if ok {
		t.Fatalf("missing key reported as present")
	}
}

func TestKVDelete(t *testing.T) {
	db := storage.NewMemDB()
	defer db.Close()
	mgr := NewManager(db)

	if err := mgr.KVPut([]byte("pending/1"), &record{Account: "fwd1a", Amount: big.NewInt(7)}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := mgr.KVDelete([]byte("pending/1")); err != nil {
		t.Fatalf("delete: %v", err)
	}
	ok, err := mgr.KVGet([]byte("pending/1"), nil)
	if err != nil {
		t.Fatalf("get after delete: %v", err)
	}
	if ok {
		t.Fatalf("deleted key reported as present")
	}
	if err := mgr.KVDelete([]byte("pending/1")); err != nil {
		t.Fatalf("double delete: %v", err)
	}
}

func TestKVAppendDeduplicates(t *testing.T) {
	db := storage.NewMemDB()
	defer db.Close()
	mgr := NewManager(db)

	key := []byte("factory/allkeys")
	for _, v := range []string{"a", "b", "a"} {
		if err := mgr.KVAppend(key, []byte(v)); err != nil {
			t.Fatalf("append %q: %v", v, err)
		}
	}

	var list [][]byte
	if err := mgr.KVGetList(key, &list); err != nil {
		t.Fatalf("get list: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(list))
	}
	if string(list[0]) != "a" || string(list[1]) != "b" {
		t.Fatalf("unexpected list order: %q %q", list[0], list[1])
	}
}

type recordingMirror struct {
	updates map[common.Hash]common.Hash
	deletes []common.Hash
}

func (m *recordingMirror) Update(key, valueHash common.Hash) {
	if m.updates == nil {
		m.updates = make(map[common.Hash]common.Hash)
	}
	m.updates[key] = valueHash
}

func (m *recordingMirror) Delete(key common.Hash) {
	m.deletes = append(m.deletes, key)
	delete(m.updates, key)
}

func TestMirrorSeesWritesAndDeletes(t *testing.T) {
	db := storage.NewMemDB()
	defer db.Close()
	mgr := NewManager(db)
	mirror := &recordingMirror{}
	mgr.SetMirror(mirror)

	if err := mgr.KVPut([]byte("market/m/state"), &record{Account: "fwd1a", Amount: big.NewInt(1)}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := mgr.KVAppend([]byte("factory/keys"), []byte("k")); err != nil {
		t.Fatalf("append: %v", err)
	}
	if len(mirror.updates) != 2 {
		t.Fatalf("expected 2 mirrored entries, got %d", len(mirror.updates))
	}

	first := mirror.updates[common.BytesToHash(kvKey([]byte("market/m/state")))]
	if err := mgr.KVPut([]byte("market/m/state"), &record{Account: "fwd1a", Amount: big.NewInt(2)}); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	second := mirror.updates[common.BytesToHash(kvKey([]byte("market/m/state")))]
	if first == second {
		t.Fatalf("value hash did not change on overwrite")
	}

	if err := mgr.KVDelete([]byte("market/m/state")); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if len(mirror.deletes) != 1 || len(mirror.updates) != 1 {
		t.Fatalf("delete not mirrored: %+v", mirror)
	}
}

func TestKVGetListEmpty(t *testing.T) {
	db := storage.NewMemDB()
	defer db.Close()
	mgr := NewManager(db)

	var list [][]byte
	if err := mgr.KVGetList([]byte("factory/creator/none"), &list); err != nil {
		t.Fatalf("get list: %v", err)
	}
	if list == nil || len(list) != 0 {
		t.Fatalf("expected empty initialized slice, got %v", list)
	}
}
