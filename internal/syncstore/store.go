// Package syncstore is the local SQLite store behind bulk sync: the
// memory entries and artifacts that get reconciled against the remote
// endpoint, plus key/value sync state (high-water marks). Rows carry a
// dirty flag; the sync manager pushes dirty rows, applies remote rows
// (newer updated_at wins), and marks pushed rows clean.
package syncstore

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// timestampLayout is fixed-width (no trailing-zero trimming) so that
// the lexical updated_at comparisons in the upsert SQL order correctly.
const timestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

// MemoryEntry is one reconciled memory item (a fact, a conversation
// summary, a preference — the kind field disambiguates).
type MemoryEntry struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Content   string    `json:"content"`
	UpdatedAt time.Time `json:"updated_at"`
	Dirty     bool      `json:"-"`
}

// Artifact is one reconciled binary artifact (exported image, voice
// clip, attachment).
type Artifact struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	MediaType string    `json:"media_type"`
	Data      []byte    `json:"data"`
	UpdatedAt time.Time `json:"updated_at"`
	Dirty     bool      `json:"-"`
}

// Store is the SQLite-backed sync store. All public methods are safe
// for concurrent use (SQLite serializes writes).
type Store struct {
	db *sql.DB
}

// Open creates or opens the sync store at the given database path.
// The schema is created automatically on first use.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS memories (
		id         TEXT PRIMARY KEY,
		kind       TEXT NOT NULL,
		content    TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		dirty      BOOLEAN NOT NULL DEFAULT TRUE
	);
	CREATE INDEX IF NOT EXISTS idx_memories_dirty ON memories(dirty);

	CREATE TABLE IF NOT EXISTS artifacts (
		id         TEXT PRIMARY KEY,
		name       TEXT NOT NULL,
		media_type TEXT NOT NULL,
		data       BLOB NOT NULL,
		updated_at TEXT NOT NULL,
		dirty      BOOLEAN NOT NULL DEFAULT TRUE
	);
	CREATE INDEX IF NOT EXISTS idx_artifacts_dirty ON artifacts(dirty);

	CREATE TABLE IF NOT EXISTS sync_state (
		key        TEXT PRIMARY KEY,
		value      TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// PutMemory stores a new local memory entry, marked dirty so the next
// sync exchange pushes it.
func (s *Store) PutMemory(kind, content string) (MemoryEntry, error) {
	e := MemoryEntry{
		ID:        uuid.NewString(),
		Kind:      kind,
		Content:   content,
		UpdatedAt: time.Now().UTC(),
		Dirty:     true,
	}
	_, err := s.db.Exec(
		`INSERT INTO memories (id, kind, content, updated_at, dirty) VALUES (?, ?, ?, ?, TRUE)`,
		e.ID, e.Kind, e.Content, e.UpdatedAt.Format(timestampLayout),
	)
	if err != nil {
		return MemoryEntry{}, fmt.Errorf("put memory: %w", err)
	}
	return e, nil
}

// ApplyRemoteMemory upserts a memory entry received from the remote
// side. A local row with the same id wins when its updated_at is newer;
// applied rows are clean (they match the remote by definition).
func (s *Store) ApplyRemoteMemory(e MemoryEntry) error {
	_, err := s.db.Exec(
		`INSERT INTO memories (id, kind, content, updated_at, dirty)
		 VALUES (?, ?, ?, ?, FALSE)
		 ON CONFLICT (id) DO UPDATE
		 SET kind = excluded.kind, content = excluded.content,
		     updated_at = excluded.updated_at, dirty = FALSE
		 WHERE excluded.updated_at > memories.updated_at`,
		e.ID, e.Kind, e.Content, e.UpdatedAt.UTC().Format(timestampLayout),
	)
	if err != nil {
		return fmt.Errorf("apply remote memory %s: %w", e.ID, err)
	}
	return nil
}

// DirtyMemories returns all local memory entries not yet pushed.
func (s *Store) DirtyMemories() ([]MemoryEntry, error) {
	rows, err := s.db.Query(
		`SELECT id, kind, content, updated_at FROM memories WHERE dirty ORDER BY updated_at`,
	)
	if err != nil {
		return nil, fmt.Errorf("list dirty memories: %w", err)
	}
	defer rows.Close()

	var out []MemoryEntry
	for rows.Next() {
		var e MemoryEntry
		var ts string
		if err := rows.Scan(&e.ID, &e.Kind, &e.Content, &ts); err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		e.UpdatedAt, _ = time.Parse(time.RFC3339Nano, ts)
		e.Dirty = true
		out = append(out, e)
	}
	return out, rows.Err()
}

// MarkMemoriesClean clears the dirty flag after a successful push.
func (s *Store) MarkMemoriesClean(ids []string) error {
	return s.markClean("memories", ids)
}

// PutArtifact stores a new local artifact, marked dirty.
func (s *Store) PutArtifact(name, mediaType string, data []byte) (Artifact, error) {
	a := Artifact{
		ID:        uuid.NewString(),
		Name:      name,
		MediaType: mediaType,
		Data:      data,
		UpdatedAt: time.Now().UTC(),
		Dirty:     true,
	}
	_, err := s.db.Exec(
		`INSERT INTO artifacts (id, name, media_type, data, updated_at, dirty) VALUES (?, ?, ?, ?, ?, TRUE)`,
		a.ID, a.Name, a.MediaType, a.Data, a.UpdatedAt.Format(timestampLayout),
	)
	if err != nil {
		return Artifact{}, fmt.Errorf("put artifact: %w", err)
	}
	return a, nil
}

// ApplyRemoteArtifact upserts an artifact received from the remote
// side, newer updated_at wins.
func (s *Store) ApplyRemoteArtifact(a Artifact) error {
	_, err := s.db.Exec(
		`INSERT INTO artifacts (id, name, media_type, data, updated_at, dirty)
		 VALUES (?, ?, ?, ?, ?, FALSE)
		 ON CONFLICT (id) DO UPDATE
		 SET name = excluded.name, media_type = excluded.media_type,
		     data = excluded.data, updated_at = excluded.updated_at, dirty = FALSE
		 WHERE excluded.updated_at > artifacts.updated_at`,
		a.ID, a.Name, a.MediaType, a.Data, a.UpdatedAt.UTC().Format(timestampLayout),
	)
	if err != nil {
		return fmt.Errorf("apply remote artifact %s: %w", a.ID, err)
	}
	return nil
}

// DirtyArtifacts returns all local artifacts not yet pushed.
func (s *Store) DirtyArtifacts() ([]Artifact, error) {
	rows, err := s.db.Query(
		`SELECT id, name, media_type, data, updated_at FROM artifacts WHERE dirty ORDER BY updated_at`,
	)
	if err != nil {
		return nil, fmt.Errorf("list dirty artifacts: %w", err)
	}
	defer rows.Close()

	var out []Artifact
	for rows.Next() {
		var a Artifact
		var ts string
		if err := rows.Scan(&a.ID, &a.Name, &a.MediaType, &a.Data, &ts); err != nil {
			return nil, fmt.Errorf("scan artifact: %w", err)
		}
		a.UpdatedAt, _ = time.Parse(time.RFC3339Nano, ts)
		a.Dirty = true
		out = append(out, a)
	}
	return out, rows.Err()
}

// MarkArtifactsClean clears the dirty flag after a successful push.
func (s *Store) MarkArtifactsClean(ids []string) error {
	return s.markClean("artifacts", ids)
}

func (s *Store) markClean(table string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	_, err := s.db.Exec(
		fmt.Sprintf(`UPDATE %s SET dirty = FALSE WHERE id IN (%s)`, table, placeholders),
		args...,
	)
	if err != nil {
		return fmt.Errorf("mark %s clean: %w", table, err)
	}
	return nil
}

// GetSyncState returns the stored value for a sync-state key. Returns
// empty string and nil error if the key does not exist.
func (s *Store) GetSyncState(key string) (string, error) {
	var value string
	err := s.db.QueryRow(
		`SELECT value FROM sync_state WHERE key = ?`, key,
	).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get sync state %s: %w", key, err)
	}
	return value, nil
}

// SetSyncState upserts a sync-state key/value pair.
func (s *Store) SetSyncState(key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO sync_state (key, value, updated_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT (key) DO UPDATE
		 SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("set sync state %s: %w", key, err)
	}
	return nil
}
