package storage

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/timechain/timechaind/core"
	"github.com/timechain/timechaind/crypto"
)

func openTestDB(t *testing.T) *LevelDB {
	t.Helper()
	db, err := NewLevelDB(filepath.Join(t.TempDir(), "db"))
	if err != nil {
		t.Fatalf("NewLevelDB: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestLevelDBGetSetDelete(t *testing.T) {
	db := openTestDB(t)
	if err := db.Set([]byte("k"), []byte("v")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := db.Get([]byte("k"))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != "v" {
		t.Fatalf("got %q, want %q", got, "v")
	}
	if err := db.Delete([]byte("k")); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := db.Get([]byte("k")); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound after delete", err)
	}
}

func TestLevelDBGetMissingKeyReturnsErrNotFound(t *testing.T) {
	db := openTestDB(t)
	if _, err := db.Get([]byte("missing")); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestLevelDBBatchWriteIsAtomic(t *testing.T) {
	db := openTestDB(t)
	batch := db.NewBatch()
	batch.Set([]byte("a"), []byte("1"))
	batch.Set([]byte("b"), []byte("2"))
	if err := batch.Write(); err != nil {
		t.Fatalf("Write: %v", err)
	}
	for k, want := range map[string]string{"a": "1", "b": "2"} {
		got, err := db.Get([]byte(k))
		if err != nil {
			t.Fatalf("Get(%s): %v", k, err)
		}
		if string(got) != want {
			t.Fatalf("Get(%s) = %q, want %q", k, got, want)
		}
	}
}

func TestLevelBlockStorePutGetBlock(t *testing.T) {
	db := openTestDB(t)
	store := NewLevelBlockStore(db)

	priv, pub, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	block := core.NewBlock(nil, pub.Hex(), nil)
	block.Sign(priv)

	if err := store.PutBlock(block); err != nil {
		t.Fatalf("PutBlock: %v", err)
	}
	got, err := store.GetBlock(block.Hash)
	if err != nil {
		t.Fatalf("GetBlock: %v", err)
	}
	if got.Hash != block.Hash {
		t.Fatalf("got hash %s, want %s", got.Hash, block.Hash)
	}
}

func TestLevelBlockStoreGetTipsOnFreshStoreReturnsNilNoError(t *testing.T) {
	db := openTestDB(t)
	store := NewLevelBlockStore(db)

	tips, err := store.GetTips()
	if err != nil {
		t.Fatalf("GetTips on a fresh store should not error: %v", err)
	}
	if tips != nil {
		t.Fatalf("got %v, want nil tips on a fresh store", tips)
	}
}

func TestLevelBlockStoreSetTipsRoundTrips(t *testing.T) {
	db := openTestDB(t)
	store := NewLevelBlockStore(db)

	want := []string{"hash-a", "hash-b"}
	if err := store.SetTips(want); err != nil {
		t.Fatalf("SetTips: %v", err)
	}
	got, err := store.GetTips()
	if err != nil {
		t.Fatalf("GetTips: %v", err)
	}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("GetTips() = %v, want %v", got, want)
	}
}
