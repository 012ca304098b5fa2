package dag

import (
	"errors"
	"testing"

	"github.com/timechain/timechaind/core"
	"github.com/timechain/timechaind/crypto"
	"github.com/timechain/timechaind/internal/testutil"
)

// testBlock builds a signed block with the given parents, skipping VDF/VRF
// proof construction: Insert only checks parent presence, not integrity.
func testBlock(t *testing.T, priv crypto.PrivateKey, pub crypto.PublicKey, parents []string) *core.Block {
	t.Helper()
	block := core.NewBlock(parents, pub.Hex(), nil)
	block.Sign(priv)
	return block
}

func testGenesis(t *testing.T, priv crypto.PrivateKey, pub crypto.PublicKey) *core.Block {
	t.Helper()
	block := core.NewBlock(nil, pub.Hex(), nil)
	block.Sign(priv)
	return block
}

func TestInsertGenesisThenChildBecomesTip(t *testing.T) {
	priv, pub, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	store := NewStore(testutil.NewMemBlockStore())

	genesis := testGenesis(t, priv, pub)
	if err := store.InsertGenesis(genesis); err != nil {
		t.Fatalf("InsertGenesis: %v", err)
	}
	if tips := store.Tips(); len(tips) != 1 || tips[0] != genesis.Hash {
		t.Fatalf("tips after genesis = %v, want [%s]", tips, genesis.Hash)
	}

	child := testBlock(t, priv, pub, []string{genesis.Hash})
	if err := store.Insert(child); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	tips := store.Tips()
	if len(tips) != 1 || tips[0] != child.Hash {
		t.Fatalf("tips after child = %v, want [%s]", tips, child.Hash)
	}
	if store.HasBlock(genesis.Hash) == false || store.HasBlock(child.Hash) == false {
		t.Fatal("both genesis and child should be known")
	}
}

func TestInsertRejectsDuplicateWithErrAlreadyKnown(t *testing.T) {
	priv, pub, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	store := NewStore(testutil.NewMemBlockStore())
	genesis := testGenesis(t, priv, pub)
	if err := store.InsertGenesis(genesis); err != nil {
		t.Fatal(err)
	}

	child := testBlock(t, priv, pub, []string{genesis.Hash})
	if err := store.Insert(child); err != nil {
		t.Fatal(err)
	}
	if err := store.Insert(child); !errors.Is(err, ErrAlreadyKnown) {
		t.Fatalf("got %v, want ErrAlreadyKnown", err)
	}
	if err := store.InsertGenesis(genesis); !errors.Is(err, ErrAlreadyKnown) {
		t.Fatalf("re-inserting genesis: got %v, want ErrAlreadyKnown", err)
	}
}

func TestInsertQueuesOrphanAndReleasesOnParentArrival(t *testing.T) {
	priv, pub, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	store := NewStore(testutil.NewMemBlockStore())
	genesis := testGenesis(t, priv, pub)
	if err := store.InsertGenesis(genesis); err != nil {
		t.Fatal(err)
	}

	parent := testBlock(t, priv, pub, []string{genesis.Hash})
	child := testBlock(t, priv, pub, []string{parent.Hash})

	if err := store.Insert(child); !errors.Is(err, ErrOrphan) {
		t.Fatalf("got %v, want ErrOrphan", err)
	}
	if store.HasBlock(child.Hash) {
		t.Fatal("orphaned block should not be marked known")
	}
	if store.OrphanCount() != 1 {
		t.Fatalf("OrphanCount() = %d, want 1", store.OrphanCount())
	}

	if err := store.Insert(parent); err != nil {
		t.Fatalf("Insert parent: %v", err)
	}
	if !store.HasBlock(child.Hash) {
		t.Fatal("child should be released and accepted once its parent arrives")
	}
	if store.OrphanCount() != 0 {
		t.Fatalf("OrphanCount() = %d, want 0 after release", store.OrphanCount())
	}

	tips := store.Tips()
	if len(tips) != 1 || tips[0] != child.Hash {
		t.Fatalf("tips = %v, want [%s]", tips, child.Hash)
	}
}

func TestLoadIndexRestoresTipsFromPersistentStore(t *testing.T) {
	priv, pub, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	backing := testutil.NewMemBlockStore()
	store := NewStore(backing)
	genesis := testGenesis(t, priv, pub)
	if err := store.InsertGenesis(genesis); err != nil {
		t.Fatal(err)
	}

	reopened := NewStore(backing)
	if len(reopened.Tips()) != 0 {
		t.Fatal("tips should be empty before LoadIndex")
	}
	if err := reopened.LoadIndex(); err != nil {
		t.Fatalf("LoadIndex: %v", err)
	}
	tips := reopened.Tips()
	if len(tips) != 1 || tips[0] != genesis.Hash {
		t.Fatalf("tips after LoadIndex = %v, want [%s]", tips, genesis.Hash)
	}
}

func TestHeaviestTipPrefersHigherBlueScoreThenSmallerHash(t *testing.T) {
	priv, pub, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	store := NewStore(testutil.NewMemBlockStore())
	genesis := testGenesis(t, priv, pub)
	if err := store.InsertGenesis(genesis); err != nil {
		t.Fatal(err)
	}

	// Two blocks at depth 1 (same blue score): tie broken by smaller hash.
	a := testBlock(t, priv, pub, []string{genesis.Hash})
	if err := store.Insert(a); err != nil {
		t.Fatal(err)
	}
	b := testBlock(t, priv, pub, []string{genesis.Hash})
	if err := store.Insert(b); err != nil {
		t.Fatal(err)
	}
	wantTie := a.Hash
	if b.Hash < wantTie {
		wantTie = b.Hash
	}
	if tip, _ := store.HeaviestTip(); tip != wantTie {
		t.Fatalf("HeaviestTip() = %s, want %s (smaller hash of two depth-1 tips)", tip, wantTie)
	}

	// A block at depth 2 over both, strictly heavier than either depth-1 tip.
	deeper := testBlock(t, priv, pub, []string{a.Hash, b.Hash})
	if err := store.Insert(deeper); err != nil {
		t.Fatal(err)
	}

	tip, ok := store.HeaviestTip()
	if !ok {
		t.Fatal("expected a heaviest tip")
	}
	if tip != deeper.Hash {
		t.Fatalf("HeaviestTip() = %s, want %s (strictly deeper)", tip, deeper.Hash)
	}
}

func TestOrphanEvictionBoundsMemory(t *testing.T) {
	priv, pub, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	store := NewStore(testutil.NewMemBlockStore())
	genesis := testGenesis(t, priv, pub)
	if err := store.InsertGenesis(genesis); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < DefaultMaxOrphans+5; i++ {
		missingParent := crypto.Hash([]byte{byte(i), byte(i >> 8)})
		orphan := testBlock(t, priv, pub, []string{missingParent})
		if err := store.Insert(orphan); !errors.Is(err, ErrOrphan) {
			t.Fatalf("Insert orphan %d: got %v, want ErrOrphan", i, err)
		}
	}
	if store.OrphanCount() > DefaultMaxOrphans {
		t.Fatalf("OrphanCount() = %d, exceeds DefaultMaxOrphans %d", store.OrphanCount(), DefaultMaxOrphans)
	}
}
