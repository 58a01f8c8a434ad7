package vps

import (
	"errors"
	"testing"
	"time"
)

func TestRegistryInsertGetRemove(t *testing.T) {
	reg := NewRegistry(nil)

	rec := Record{Name: "eaglenode-box-1", OwnerID: "1", Image: "ubuntu:22.04", CreatedAt: time.Now().UTC()}
	reg.Insert(rec)

	got, ok := reg.Get("eaglenode-box-1")
	if !ok {
		t.Fatal("inserted record not found")
	}
	if got.OwnerID != "1" || got.Image != "ubuntu:22.04" {
		t.Errorf("unexpected record: %+v", got)
	}

	if !reg.Remove("eaglenode-box-1") {
		t.Error("Remove should report the record existed")
	}
	if reg.Remove("eaglenode-box-1") {
		t.Error("second Remove should report absence")
	}
	if reg.Len() != 0 {
		t.Errorf("Len = %d after remove, want 0", reg.Len())
	}
}

func TestRegistrySnapshotIsCopy(t *testing.T) {
	reg := NewRegistry(nil)
	reg.Insert(Record{Name: "eaglenode-box-1", OwnerID: "1"})

	snapshot := reg.Snapshot()
	delete(snapshot, "eaglenode-box-1")

	if _, ok := reg.Get("eaglenode-box-1"); !ok {
		t.Error("mutating the snapshot must not touch the registry")
	}
}

func TestRegistryOwnedBy(t *testing.T) {
	reg := NewRegistry(nil)
	reg.Insert(Record{Name: "eaglenode-a-1", OwnerID: "1"})
	reg.Insert(Record{Name: "eaglenode-b-1", OwnerID: "1"})
	reg.Insert(Record{Name: "eaglenode-c-2", OwnerID: "2"})

	if got := len(reg.OwnedBy("1")); got != 2 {
		t.Errorf("OwnedBy(1) = %d records, want 2", got)
	}
	if got := len(reg.OwnedBy("3")); got != 0 {
		t.Errorf("OwnedBy(3) = %d records, want 0", got)
	}
}

func TestRegistryLoadSaveRoundTrip(t *testing.T) {
	store := &fakeStore{}
	reg := NewRegistry(store)
	reg.Insert(Record{Name: "eaglenode-box-1", OwnerID: "1"})

	if err := reg.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	fresh := NewRegistry(store)
	if err := fresh.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, ok := fresh.Get("eaglenode-box-1"); !ok {
		t.Error("record lost across save/load")
	}
}

func TestRegistrySaveErrorTagged(t *testing.T) {
	store := &fakeStore{saveErr: errors.New("disk full")}
	reg := NewRegistry(store)

	err := reg.Save()
	if !errors.Is(err, ErrPersistenceFailed) {
		t.Errorf("expected persistence error, got %v", err)
	}
}

func TestRegistryNilStore(t *testing.T) {
	reg := NewRegistry(nil)
	if err := reg.Save(); err != nil {
		t.Errorf("nil store Save should be a no-op: %v", err)
	}
	if err := reg.Load(); err != nil {
		t.Errorf("nil store Load should be a no-op: %v", err)
	}
}
