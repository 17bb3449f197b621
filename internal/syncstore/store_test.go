package syncstore

import (
	"bytes"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "sync.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPutMemoryStartsDirty(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	e, err := s.PutMemory("fact", "prefers tea over coffee")
	if err != nil {
		t.Fatal(err)
	}
	if e.ID == "" {
		t.Error("PutMemory returned empty id")
	}

	dirty, err := s.DirtyMemories()
	if err != nil {
		t.Fatal(err)
	}
	if len(dirty) != 1 {
		t.Fatalf("dirty memories = %d, want 1", len(dirty))
	}
	got := dirty[0]
	if got.ID != e.ID || got.Kind != "fact" || got.Content != "prefers tea over coffee" {
		t.Errorf("dirty row mismatch: %+v", got)
	}
}

func TestMarkMemoriesClean(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	a, _ := s.PutMemory("fact", "first")
	b, _ := s.PutMemory("fact", "second")

	if err := s.MarkMemoriesClean([]string{a.ID}); err != nil {
		t.Fatal(err)
	}

	dirty, err := s.DirtyMemories()
	if err != nil {
		t.Fatal(err)
	}
	if len(dirty) != 1 || dirty[0].ID != b.ID {
		t.Errorf("dirty after partial clean = %+v, want only %s", dirty, b.ID)
	}

	// Empty id list is a no-op, not an error.
	if err := s.MarkMemoriesClean(nil); err != nil {
		t.Errorf("MarkMemoriesClean(nil): %v", err)
	}
}

func TestApplyRemoteMemoryNewerWins(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	local := MemoryEntry{ID: "m1", Kind: "fact", Content: "local", UpdatedAt: base}
	if err := s.ApplyRemoteMemory(local); err != nil {
		t.Fatal(err)
	}

	// Older remote must not overwrite.
	older := MemoryEntry{ID: "m1", Kind: "fact", Content: "stale", UpdatedAt: base.Add(-time.Hour)}
	if err := s.ApplyRemoteMemory(older); err != nil {
		t.Fatal(err)
	}
	if got := readMemoryContent(t, s, "m1"); got != "local" {
		t.Errorf("older remote overwrote row: content = %q", got)
	}

	// Newer remote wins, including sub-second differences.
	newer := MemoryEntry{ID: "m1", Kind: "fact", Content: "fresh", UpdatedAt: base.Add(500 * time.Millisecond)}
	if err := s.ApplyRemoteMemory(newer); err != nil {
		t.Fatal(err)
	}
	if got := readMemoryContent(t, s, "m1"); got != "fresh" {
		t.Errorf("newer remote did not win: content = %q", got)
	}

	// Remote rows are clean by definition.
	dirty, err := s.DirtyMemories()
	if err != nil {
		t.Fatal(err)
	}
	if len(dirty) != 0 {
		t.Errorf("remote rows marked dirty: %+v", dirty)
	}
}

func readMemoryContent(t *testing.T, s *Store, id string) string {
	t.Helper()
	var content string
	if err := s.db.QueryRow(`SELECT content FROM memories WHERE id = ?`, id).Scan(&content); err != nil {
		t.Fatal(err)
	}
	return content
}

func TestArtifactRoundTrip(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	data := []byte{0x89, 0x50, 0x4e, 0x47, 0x00, 0x01}
	a, err := s.PutArtifact("portrait.png", "image/png", data)
	if err != nil {
		t.Fatal(err)
	}

	dirty, err := s.DirtyArtifacts()
	if err != nil {
		t.Fatal(err)
	}
	if len(dirty) != 1 {
		t.Fatalf("dirty artifacts = %d, want 1", len(dirty))
	}
	got := dirty[0]
	if got.ID != a.ID || got.Name != "portrait.png" || got.MediaType != "image/png" {
		t.Errorf("artifact mismatch: %+v", got)
	}
	if !bytes.Equal(got.Data, data) {
		t.Errorf("artifact data mismatch: %x", got.Data)
	}

	if err := s.MarkArtifactsClean([]string{a.ID}); err != nil {
		t.Fatal(err)
	}
	dirty, err = s.DirtyArtifacts()
	if err != nil {
		t.Fatal(err)
	}
	if len(dirty) != 0 {
		t.Errorf("artifacts still dirty after clean: %+v", dirty)
	}
}

func TestApplyRemoteArtifactNewerWins(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	if err := s.ApplyRemoteArtifact(Artifact{
		ID: "a1", Name: "v1.bin", MediaType: "application/octet-stream",
		Data: []byte("v1"), UpdatedAt: base,
	}); err != nil {
		t.Fatal(err)
	}
	if err := s.ApplyRemoteArtifact(Artifact{
		ID: "a1", Name: "v2.bin", MediaType: "application/octet-stream",
		Data: []byte("v2"), UpdatedAt: base.Add(time.Minute),
	}); err != nil {
		t.Fatal(err)
	}

	var name string
	var data []byte
	if err := s.db.QueryRow(`SELECT name, data FROM artifacts WHERE id = ?`, "a1").Scan(&name, &data); err != nil {
		t.Fatal(err)
	}
	if name != "v2.bin" || string(data) != "v2" {
		t.Errorf("newer artifact did not win: name=%q data=%q", name, data)
	}
}

func TestDirtyMemoriesOrderedByUpdatedAt(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	for i, content := range []string{"third", "first", "second"} {
		offsets := []time.Duration{2 * time.Hour, 0, time.Hour}
		e := MemoryEntry{ID: content, Kind: "fact", Content: content, UpdatedAt: base.Add(offsets[i])}
		// Insert via remote apply then re-dirty, so updated_at is ours.
		if err := s.ApplyRemoteMemory(e); err != nil {
			t.Fatal(err)
		}
		if _, err := s.db.Exec(`UPDATE memories SET dirty = TRUE WHERE id = ?`, e.ID); err != nil {
			t.Fatal(err)
		}
	}

	dirty, err := s.DirtyMemories()
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"first", "second", "third"}
	if len(dirty) != len(want) {
		t.Fatalf("dirty = %d rows, want %d", len(dirty), len(want))
	}
	for i, w := range want {
		if dirty[i].Content != w {
			t.Errorf("order[%d] = %q, want %q", i, dirty[i].Content, w)
		}
	}
}

func TestSyncStateRoundTrip(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	// Missing key reads as empty without error.
	v, err := s.GetSyncState("last_exchange")
	if err != nil {
		t.Fatal(err)
	}
	if v != "" {
		t.Errorf("missing key = %q, want empty", v)
	}

	if err := s.SetSyncState("last_exchange", "2026-08-01T12:00:00Z"); err != nil {
		t.Fatal(err)
	}
	if err := s.SetSyncState("last_exchange", "2026-08-02T12:00:00Z"); err != nil {
		t.Fatal(err)
	}

	v, err = s.GetSyncState("last_exchange")
	if err != nil {
		t.Fatal(err)
	}
	if v != "2026-08-02T12:00:00Z" {
		t.Errorf("sync state = %q, want latest value", v)
	}
}
