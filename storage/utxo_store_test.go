package storage

import (
	"errors"
	"testing"

	"github.com/timechain/timechaind/core"
	"github.com/timechain/timechaind/internal/testutil"
)

func TestUTXOStorePutGetSpendRoundTrip(t *testing.T) {
	db := testutil.NewMemDB()
	store := NewUTXOStore(db)

	out := &core.Output{OwnerKeyHash: "owner-1", Amount: 500, Tier: core.TierT0}
	if err := store.Put("tx1:0", out); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := store.Get("tx1:0")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Amount != 500 || got.OwnerKeyHash != "owner-1" {
		t.Fatalf("unexpected output: %+v", got)
	}

	if err := store.Spend("tx1:0"); err != nil {
		t.Fatalf("Spend: %v", err)
	}
	if _, err := store.Get("tx1:0"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound after spend", err)
	}
}

func TestUTXOStoreSpendUnknownOutputFails(t *testing.T) {
	store := NewUTXOStore(testutil.NewMemDB())
	if err := store.Spend("does-not-exist:0"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestUTXOStoreSnapshotRevertUndoesUncommittedWrites(t *testing.T) {
	store := NewUTXOStore(testutil.NewMemDB())
	if err := store.Put("a:0", &core.Output{OwnerKeyHash: "owner", Amount: 100}); err != nil {
		t.Fatal(err)
	}

	snap, err := store.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}

	if err := store.Put("b:0", &core.Output{OwnerKeyHash: "owner", Amount: 200}); err != nil {
		t.Fatal(err)
	}
	if err := store.Spend("a:0"); err != nil {
		t.Fatal(err)
	}

	if err := store.RevertToSnapshot(snap); err != nil {
		t.Fatalf("RevertToSnapshot: %v", err)
	}

	if _, err := store.Get("b:0"); !errors.Is(err, core.ErrNotFound) {
		t.Fatal("output created after the snapshot should be gone after revert")
	}
	if _, err := store.Get("a:0"); err != nil {
		t.Fatalf("output spent after the snapshot should be restored: %v", err)
	}
}

func TestUTXOStoreCommitPersistsAndResetsBuffer(t *testing.T) {
	db := testutil.NewMemDB()
	store := NewUTXOStore(db)
	if err := store.Put("a:0", &core.Output{OwnerKeyHash: "owner", Amount: 100}); err != nil {
		t.Fatal(err)
	}
	if err := store.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	reopened := NewUTXOStore(db)
	out, err := reopened.Get("a:0")
	if err != nil {
		t.Fatalf("Get after reopen: %v", err)
	}
	if out.Amount != 100 {
		t.Fatalf("got amount %d, want 100", out.Amount)
	}
}

func TestComputeRootChangesWithContentAndIsOrderIndependent(t *testing.T) {
	db := testutil.NewMemDB()
	store := NewUTXOStore(db)
	empty := store.ComputeRoot()

	if err := store.Put("a:0", &core.Output{OwnerKeyHash: "owner-a", Amount: 1}); err != nil {
		t.Fatal(err)
	}
	if err := store.Put("b:0", &core.Output{OwnerKeyHash: "owner-b", Amount: 2}); err != nil {
		t.Fatal(err)
	}
	rootAB := store.ComputeRoot()
	if rootAB == empty {
		t.Fatal("root should change once outputs are added")
	}

	db2 := testutil.NewMemDB()
	store2 := NewUTXOStore(db2)
	// Insert in reverse order: the root must not depend on insertion order.
	if err := store2.Put("b:0", &core.Output{OwnerKeyHash: "owner-b", Amount: 2}); err != nil {
		t.Fatal(err)
	}
	if err := store2.Put("a:0", &core.Output{OwnerKeyHash: "owner-a", Amount: 1}); err != nil {
		t.Fatal(err)
	}
	rootBA := store2.ComputeRoot()

	if rootAB != rootBA {
		t.Fatal("ComputeRoot should be independent of insertion order")
	}
}
