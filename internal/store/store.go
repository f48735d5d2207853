package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gofrs/flock"
	_ "modernc.org/sqlite" // pure Go SQLite driver

	forerrors "github.com/bwl/forest/internal/errors"
)

// CurrentSchemaVersion is the database schema version.
const CurrentSchemaVersion = 1

// Config record keys pinned in the store_config table.
const (
	configKeySchemaVersion    = "schema_version"
	configKeyEmbeddingModel   = "embedding_model"
	configKeyEmbeddingDim     = "embedding_dimension"
	configKeyTokenizerVersion = "tokenizer_version"
)

// EventSink receives committed events. Publication happens strictly after
// the transaction that recorded them commits.
type EventSink interface {
	Publish(events []Event)
}

// Options configures Open.
type Options struct {
	// Dir is the data directory holding forest.db, vectors.hnsw, and the
	// process lock. Empty means an in-memory store for tests.
	Dir string
	// Dimensions is the configured embedding dimension.
	Dimensions int
	// EmbeddingModel is the current provider+model identifier.
	EmbeddingModel string
	// TokenizerVersion is the normalize package's rule version.
	TokenizerVersion string
	// Sink, when set, receives events after each commit.
	Sink EventSink
}

// Store is the single-process owner of the Forest database.
type Store struct {
	db      *sql.DB
	dir     string
	lock    *flock.Flock
	vectors *VectorIndex
	sink    EventSink
	dims    int
	model   string
}

// Open opens (or creates) the store, acquires the process lock, verifies
// the pinned configuration, and loads or rebuilds the vector index.
//
// A dimension mismatch between stored embeddings and opts.Dimensions is
// fatal: the store refuses to mix dimensions until an admin rebuild.
func Open(ctx context.Context, opts Options) (*Store, error) {
	var dsn string
	var lock *flock.Flock

	if opts.Dir == "" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
		lock = flock.New(filepath.Join(opts.Dir, "forest.lock"))
		locked, err := lock.TryLock()
		if err != nil {
			return nil, fmt.Errorf("acquire store lock: %w", err)
		}
		if !locked {
			return nil, forerrors.New(forerrors.KindConflictingState,
				"another forest process owns %s", opts.Dir)
		}
		dsn = filepath.Join(opts.Dir, "forest.db") + "?_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Single writer prevents lock contention; readers share the pool.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA cache_size = -65536",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set pragma: %w", err)
		}
	}

	s := &Store{
		db:    db,
		dir:   opts.Dir,
		lock:  lock,
		sink:  opts.Sink,
		dims:  opts.Dimensions,
		model: opts.EmbeddingModel,
	}

	if err := s.initSchema(ctx); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	if err := s.checkConfig(ctx, opts); err != nil {
		_ = s.Close()
		return nil, err
	}
	if err := s.openVectors(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}

	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS notes (
		id            TEXT PRIMARY KEY,
		title         TEXT NOT NULL,
		body          TEXT NOT NULL,
		tags          TEXT NOT NULL DEFAULT '[]',
		token_counts  TEXT NOT NULL DEFAULT '{}',
		embedding_model TEXT NOT NULL DEFAULT '',
		metadata      TEXT NOT NULL DEFAULT '{}',
		is_chunk      INTEGER NOT NULL DEFAULT 0,
		created_at    INTEGER NOT NULL,
		updated_at    INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_notes_updated ON notes(updated_at);
	CREATE INDEX IF NOT EXISTS idx_notes_title ON notes(title);
	CREATE INDEX IF NOT EXISTS idx_notes_is_chunk ON notes(is_chunk);

	CREATE TABLE IF NOT EXISTS note_embeddings (
		note_id TEXT PRIMARY KEY REFERENCES notes(id) ON DELETE CASCADE,
		vector  BLOB NOT NULL,
		model   TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS note_tags (
		tag     TEXT NOT NULL,
		note_id TEXT NOT NULL REFERENCES notes(id) ON DELETE CASCADE,
		PRIMARY KEY (tag, note_id)
	);
	CREATE INDEX IF NOT EXISTS idx_note_tags_note ON note_tags(note_id);

	CREATE TABLE IF NOT EXISTS edges (
		id            TEXT PRIMARY KEY,
		source_id     TEXT NOT NULL,
		target_id     TEXT NOT NULL,
		semantic_score REAL NOT NULL,
		tag_score     REAL NOT NULL,
		score         REAL NOT NULL,
		edge_type     TEXT NOT NULL,
		components    TEXT NOT NULL DEFAULT '{}',
		created_at    INTEGER NOT NULL,
		updated_at    INTEGER NOT NULL,
		UNIQUE (source_id, target_id)
	);
	CREATE INDEX IF NOT EXISTS idx_edges_source ON edges(source_id);
	CREATE INDEX IF NOT EXISTS idx_edges_target ON edges(target_id);

	CREATE TABLE IF NOT EXISTS documents (
		id          TEXT PRIMARY KEY,
		title       TEXT NOT NULL,
		body        TEXT NOT NULL,
		metadata    TEXT NOT NULL DEFAULT '{}',
		version     INTEGER NOT NULL DEFAULT 1,
		root_node_id TEXT NOT NULL DEFAULT '',
		created_at  INTEGER NOT NULL,
		updated_at  INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS document_chunks (
		document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
		segment_id  TEXT NOT NULL,
		node_id     TEXT NOT NULL,
		offset      INTEGER NOT NULL,
		length      INTEGER NOT NULL,
		chunk_order INTEGER NOT NULL,
		checksum    TEXT NOT NULL,
		PRIMARY KEY (document_id, segment_id)
	);
	CREATE INDEX IF NOT EXISTS idx_document_chunks_node ON document_chunks(node_id);

	CREATE TABLE IF NOT EXISTS snapshots (
		id            TEXT PRIMARY KEY,
		taken_at      INTEGER NOT NULL,
		snapshot_type TEXT NOT NULL,
		node_count    INTEGER NOT NULL,
		edge_count    INTEGER NOT NULL,
		tag_count     INTEGER NOT NULL,
		nodes_digest  TEXT NOT NULL,
		edges_digest  TEXT NOT NULL,
		tags_digest   TEXT NOT NULL,
		event_seq     INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_snapshots_taken ON snapshots(taken_at);

	CREATE TABLE IF NOT EXISTS events (
		seq        INTEGER PRIMARY KEY AUTOINCREMENT,
		kind       TEXT NOT NULL,
		entity_id  TEXT NOT NULL,
		tags       TEXT NOT NULL DEFAULT '[]',
		before     BLOB,
		after      BLOB,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_events_kind ON events(kind);

	CREATE TABLE IF NOT EXISTS store_config (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// checkConfig pins or verifies the configuration record. Embedding
// dimension disagreement is fatal; a changed model identifier is allowed
// (admin recompute handles re-embedding) and updated in place.
func (s *Store) checkConfig(ctx context.Context, opts Options) error {
	storedDim, err := s.getConfig(ctx, configKeyEmbeddingDim)
	if err != nil {
		return err
	}
	if storedDim != "" {
		dim, _ := strconv.Atoi(storedDim)
		if dim != opts.Dimensions {
			return forerrors.New(forerrors.KindDimensionMismatch,
				"store has dimension %d, configured %d; run 'forest admin recompute-embeddings'",
				dim, opts.Dimensions).
				WithSuggestion("change embeddings.dimensions back, or rebuild the index")
		}
	}

	storedTok, err := s.getConfig(ctx, configKeyTokenizerVersion)
	if err != nil {
		return err
	}
	if storedTok != "" && storedTok != opts.TokenizerVersion {
		slog.Warn("tokenizer_version_changed",
			slog.String("stored", storedTok),
			slog.String("configured", opts.TokenizerVersion))
	}

	pins := map[string]string{
		configKeySchemaVersion:    strconv.Itoa(CurrentSchemaVersion),
		configKeyEmbeddingModel:   opts.EmbeddingModel,
		configKeyEmbeddingDim:     strconv.Itoa(opts.Dimensions),
		configKeyTokenizerVersion: opts.TokenizerVersion,
	}
	for key, value := range pins {
		if err := s.setConfig(ctx, key, value); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) getConfig(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM store_config WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read config %s: %w", key, err)
	}
	return value, nil
}

func (s *Store) setConfig(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO store_config (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("write config %s: %w", key, err)
	}
	return nil
}

// Dimensions returns the configured embedding dimension.
func (s *Store) Dimensions() int { return s.dims }

// EmbeddingModel returns the configured model identifier.
func (s *Store) EmbeddingModel() string { return s.model }

// Vectors exposes the HNSW index for nearest-neighbor queries.
func (s *Store) Vectors() *VectorIndex { return s.vectors }

// openVectors loads the persisted HNSW index, falling back to a rebuild
// from the embeddings table when the file is missing or stale.
func (s *Store) openVectors(ctx context.Context) error {
	s.vectors = NewVectorIndex(s.dims)

	if s.dir != "" {
		path := filepath.Join(s.dir, "vectors.hnsw")
		if _, err := os.Stat(path); err == nil {
			if err := s.vectors.Load(path); err == nil {
				return nil
			}
			slog.Warn("vector_index_load_failed_rebuilding", slog.String("path", path))
			s.vectors = NewVectorIndex(s.dims)
		}
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT note_id, vector FROM note_embeddings WHERE model = ?`, s.model)
	if err != nil {
		return fmt.Errorf("scan embeddings: %w", err)
	}
	defer rows.Close()

	var ids []string
	var vectors [][]float32
	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return fmt.Errorf("scan embedding row: %w", err)
		}
		vec, err := decodeVector(blob, s.dims)
		if err != nil {
			return err
		}
		ids = append(ids, id)
		vectors = append(vectors, vec)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	if len(ids) > 0 {
		if err := s.vectors.Add(ids, vectors); err != nil {
			return fmt.Errorf("rebuild vector index: %w", err)
		}
	}
	return nil
}

// Close persists the vector index, closes the database, and releases the
// process lock.
func (s *Store) Close() error {
	if s.vectors != nil && s.dir != "" {
		if err := s.vectors.Save(filepath.Join(s.dir, "vectors.hnsw")); err != nil {
			slog.Warn("vector_index_save_failed", slog.String("error", err.Error()))
		}
	}
	err := s.db.Close()
	if s.lock != nil {
		_ = s.lock.Unlock()
	}
	return err
}

// Tx is a store transaction. Entity mutations go through Tx methods so
// derived indexes, the event log, and vector-index deltas stay in step
// with the underlying writes.
type Tx struct {
	tx     *sql.Tx
	store  *Store
	events []Event

	// Vector deltas applied to the in-memory index after commit.
	vecAdds    map[string][]float32
	vecDeletes []string
}

// WithTx runs fn inside a write transaction. On commit, buffered events
// are published to the sink and vector deltas are applied; on error the
// transaction rolls back and nothing escapes.
func (s *Store) WithTx(ctx context.Context, fn func(tx *Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	tx := &Tx{tx: sqlTx, store: s, vecAdds: make(map[string][]float32)}
	if err := fn(tx); err != nil {
		_ = sqlTx.Rollback()
		return err
	}

	// Assign sequence numbers by inserting events inside the transaction.
	for i := range tx.events {
		seq, err := tx.insertEvent(ctx, &tx.events[i])
		if err != nil {
			_ = sqlTx.Rollback()
			return err
		}
		tx.events[i].Seq = seq
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	// Post-commit: vector index and subscribers. The HNSW index is a
	// cache over note_embeddings; it is rebuilt at open if it drifts.
	if len(tx.vecDeletes) > 0 {
		s.vectors.Delete(tx.vecDeletes)
	}
	if len(tx.vecAdds) > 0 {
		ids := make([]string, 0, len(tx.vecAdds))
		vectors := make([][]float32, 0, len(tx.vecAdds))
		for id, vec := range tx.vecAdds {
			ids = append(ids, id)
			vectors = append(vectors, vec)
		}
		if err := s.vectors.Add(ids, vectors); err != nil {
			slog.Warn("vector_index_update_failed", slog.String("error", err.Error()))
		}
	}
	if s.sink != nil && len(tx.events) > 0 {
		s.sink.Publish(tx.events)
	}
	return nil
}

// emit buffers an event for insertion and publication at commit.
func (tx *Tx) emit(kind EventKind, entityID string, tags []string, before, after any) {
	ev := Event{
		Kind:      kind,
		EntityID:  entityID,
		Tags:      tags,
		CreatedAt: time.Now(),
	}
	if before != nil {
		if data, err := json.Marshal(before); err == nil {
			ev.Before = data
		}
	}
	if after != nil {
		if data, err := json.Marshal(after); err == nil {
			ev.After = data
		}
	}
	tx.events = append(tx.events, ev)
}

func (tx *Tx) insertEvent(ctx context.Context, ev *Event) (int64, error) {
	tagsJSON, _ := json.Marshal(ev.Tags)
	res, err := tx.tx.ExecContext(ctx,
		`INSERT INTO events (kind, entity_id, tags, before, after, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		string(ev.Kind), ev.EntityID, string(tagsJSON), ev.Before, ev.After,
		ev.CreatedAt.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("append event: %w", err)
	}
	return res.LastInsertId()
}
