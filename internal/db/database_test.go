package db

import (
	"bytes"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestLoadLatestSnapshotEmpty(t *testing.T) {
	store := newTestStore(t)

	snap, err := store.LoadLatestSnapshot("doc1")
	if err != nil {
		t.Fatalf("LoadLatestSnapshot failed: %v", err)
	}
	if snap != nil {
		t.Errorf("Expected nil for unknown document, got %+v", snap)
	}
}

func TestAppendSnapshotAssignsVersions(t *testing.T) {
	store := newTestStore(t)

	s1, err := store.AppendSnapshot("doc1", []byte{1})
	if err != nil {
		t.Fatalf("AppendSnapshot failed: %v", err)
	}
	s2, err := store.AppendSnapshot("doc1", []byte{2})
	if err != nil {
		t.Fatalf("AppendSnapshot failed: %v", err)
	}

	if s1.Version != 1 || s2.Version != 2 {
		t.Errorf("Expected versions 1,2, got %d,%d", s1.Version, s2.Version)
	}

	// Versions are per document.
	other, err := store.AppendSnapshot("doc2", []byte{3})
	if err != nil {
		t.Fatalf("AppendSnapshot failed: %v", err)
	}
	if other.Version != 1 {
		t.Errorf("Expected version 1 for doc2, got %d", other.Version)
	}
}

func TestLoadLatestSnapshotHighestVersionWins(t *testing.T) {
	store := newTestStore(t)

	payloads := [][]byte{{0xA}, {0xB}, {0xC}}
	for _, p := range payloads {
		if _, err := store.AppendSnapshot("doc1", p); err != nil {
			t.Fatalf("AppendSnapshot failed: %v", err)
		}
	}

	snap, err := store.LoadLatestSnapshot("doc1")
	if err != nil {
		t.Fatalf("LoadLatestSnapshot failed: %v", err)
	}
	if snap == nil {
		t.Fatal("Expected a snapshot")
	}
	if snap.Version != 3 {
		t.Errorf("Expected version 3, got %d", snap.Version)
	}
	if !bytes.Equal(snap.Payload, []byte{0xC}) {
		t.Errorf("Expected latest payload, got %v", snap.Payload)
	}
}

func TestSnapshotPayloadRoundTrip(t *testing.T) {
	store := newTestStore(t)

	payload := []byte{0x00, 0x01, 0xFF, 0x7E, 0x00}
	if _, err := store.AppendSnapshot("doc1", payload); err != nil {
		t.Fatalf("AppendSnapshot failed: %v", err)
	}

	snap, err := store.LoadLatestSnapshot("doc1")
	if err != nil {
		t.Fatalf("LoadLatestSnapshot failed: %v", err)
	}
	if !bytes.Equal(snap.Payload, payload) {
		t.Errorf("Payload not lossless: %v vs %v", snap.Payload, payload)
	}
	if snap.Size != len(payload) {
		t.Errorf("Expected size %d, got %d", len(payload), snap.Size)
	}
}

func TestListSnapshots(t *testing.T) {
	store := newTestStore(t)

	for i := 0; i < 5; i++ {
		if _, err := store.AppendSnapshot("doc1", []byte{byte(i)}); err != nil {
			t.Fatalf("AppendSnapshot failed: %v", err)
		}
	}

	snaps, err := store.ListSnapshots("doc1", 3, 0)
	if err != nil {
		t.Fatalf("ListSnapshots failed: %v", err)
	}
	if len(snaps) != 3 {
		t.Fatalf("Expected 3 snapshots, got %d", len(snaps))
	}
	if snaps[0].Version != 5 {
		t.Errorf("Expected newest first, got version %d", snaps[0].Version)
	}
	if snaps[0].Size != 1 {
		t.Errorf("Expected size 1, got %d", snaps[0].Size)
	}
}

func TestPruneSnapshots(t *testing.T) {
	store := newTestStore(t)

	for i := 0; i < 10; i++ {
		if _, err := store.AppendSnapshot("doc1", []byte{byte(i)}); err != nil {
			t.Fatalf("AppendSnapshot failed: %v", err)
		}
	}

	if err := store.PruneSnapshots("doc1", 3); err != nil {
		t.Fatalf("PruneSnapshots failed: %v", err)
	}

	count, err := store.SnapshotCount("doc1")
	if err != nil {
		t.Fatalf("SnapshotCount failed: %v", err)
	}
	if count != 3 {
		t.Errorf("Expected 3 remaining, got %d", count)
	}

	// The newest version survives pruning.
	snap, err := store.LoadLatestSnapshot("doc1")
	if err != nil {
		t.Fatal(err)
	}
	if snap.Version != 10 {
		t.Errorf("Expected version 10, got %d", snap.Version)
	}
}

func TestStats(t *testing.T) {
	store := newTestStore(t)

	if _, err := store.AppendSnapshot("doc1", []byte{1}); err != nil {
		t.Fatal(err)
	}
	if _, err := store.AppendSnapshot("doc2", []byte{2}); err != nil {
		t.Fatal(err)
	}

	stats, err := store.Stats()
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats["document_count"] != 2 {
		t.Errorf("Expected 2 documents, got %v", stats["document_count"])
	}
	if stats["snapshot_count"] != 2 {
		t.Errorf("Expected 2 snapshots, got %v", stats["snapshot_count"])
	}
}
