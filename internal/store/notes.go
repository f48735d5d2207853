package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	forerrors "github.com/bwl/forest/internal/errors"
)

// CreateNote inserts a note, its tag index rows, and its embedding (when
// present), and emits node.created. The caller has already rederived
// Tags and TokenCounts from the note's text.
func (tx *Tx) CreateNote(ctx context.Context, note *Note) error {
	now := time.Now()
	if note.CreatedAt.IsZero() {
		note.CreatedAt = now
	}
	note.UpdatedAt = now

	tagsJSON, _ := json.Marshal(note.Tags)
	countsJSON, _ := json.Marshal(note.TokenCounts)
	metaJSON, _ := json.Marshal(note.Metadata)

	_, err := tx.tx.ExecContext(ctx,
		`INSERT INTO notes (id, title, body, tags, token_counts, embedding_model, metadata, is_chunk, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		note.ID, note.Title, note.Body, string(tagsJSON), string(countsJSON),
		note.EmbeddingModel, string(metaJSON), boolToInt(note.Metadata.IsChunk),
		note.CreatedAt.UnixNano(), note.UpdatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("insert note: %w", err)
	}

	if err := tx.writeTags(ctx, note.ID, nil, note.Tags); err != nil {
		return err
	}
	if err := tx.writeEmbedding(ctx, note); err != nil {
		return err
	}

	tx.emit(EventNodeCreated, note.ID, note.Tags, nil, note)
	return nil
}

// UpdateNote replaces a note's content fields and rebuilds its tag index
// and embedding rows. Emits node.updated with before and after states.
func (tx *Tx) UpdateNote(ctx context.Context, note *Note) error {
	before, err := tx.getNote(ctx, note.ID)
	if err != nil {
		return err
	}
	note.CreatedAt = before.CreatedAt
	note.UpdatedAt = time.Now()

	tagsJSON, _ := json.Marshal(note.Tags)
	countsJSON, _ := json.Marshal(note.TokenCounts)
	metaJSON, _ := json.Marshal(note.Metadata)

	_, err = tx.tx.ExecContext(ctx,
		`UPDATE notes SET title = ?, body = ?, tags = ?, token_counts = ?,
		        embedding_model = ?, metadata = ?, is_chunk = ?, updated_at = ?
		 WHERE id = ?`,
		note.Title, note.Body, string(tagsJSON), string(countsJSON),
		note.EmbeddingModel, string(metaJSON), boolToInt(note.Metadata.IsChunk),
		note.UpdatedAt.UnixNano(), note.ID)
	if err != nil {
		return fmt.Errorf("update note: %w", err)
	}

	if err := tx.writeTags(ctx, note.ID, before.Tags, note.Tags); err != nil {
		return err
	}
	if err := tx.writeEmbedding(ctx, note); err != nil {
		return err
	}

	tx.emit(EventNodeUpdated, note.ID, unionTags(before.Tags, note.Tags), before, note)
	return nil
}

// DeleteNote removes a note along with its tag rows, embedding, and every
// incident edge. node.deleted is emitted first, then one edge.deleted per
// cascaded edge, so subscribers and diff replay see the cause before the
// cascade.
func (tx *Tx) DeleteNote(ctx context.Context, id string) error {
	before, err := tx.getNote(ctx, id)
	if err != nil {
		return err
	}
	tx.emit(EventNodeDeleted, id, before.Tags, before, nil)

	edges, err := tx.edgesForNote(ctx, id)
	if err != nil {
		return err
	}
	for _, edge := range edges {
		if err := tx.deleteEdgeRow(ctx, edge); err != nil {
			return err
		}
	}

	// Tag and embedding rows cascade via foreign keys.
	if _, err := tx.tx.ExecContext(ctx, `DELETE FROM notes WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete note: %w", err)
	}

	tx.vecDeletes = append(tx.vecDeletes, id)
	delete(tx.vecAdds, id)
	return nil
}

// SetEmbedding replaces a note's embedding without touching its content.
// A nil vector clears the embedding. Used by admin recompute and by
// async embedding backfill; intentionally does not emit node.updated.
func (tx *Tx) SetEmbedding(ctx context.Context, noteID string, vector []float32, model string) error {
	if vector == nil {
		if _, err := tx.tx.ExecContext(ctx,
			`DELETE FROM note_embeddings WHERE note_id = ?`, noteID); err != nil {
			return fmt.Errorf("clear embedding: %w", err)
		}
		if _, err := tx.tx.ExecContext(ctx,
			`UPDATE notes SET embedding_model = '' WHERE id = ?`, noteID); err != nil {
			return fmt.Errorf("clear embedding model: %w", err)
		}
		tx.vecDeletes = append(tx.vecDeletes, noteID)
		delete(tx.vecAdds, noteID)
		return nil
	}

	if len(vector) != tx.store.dims {
		return forerrors.New(forerrors.KindDimensionMismatch,
			"embedding has dimension %d, store expects %d", len(vector), tx.store.dims)
	}
	_, err := tx.tx.ExecContext(ctx,
		`INSERT INTO note_embeddings (note_id, vector, model) VALUES (?, ?, ?)
		 ON CONFLICT(note_id) DO UPDATE SET vector = excluded.vector, model = excluded.model`,
		noteID, encodeVector(vector), model)
	if err != nil {
		return fmt.Errorf("write embedding: %w", err)
	}
	if _, err := tx.tx.ExecContext(ctx,
		`UPDATE notes SET embedding_model = ? WHERE id = ?`, model, noteID); err != nil {
		return fmt.Errorf("update embedding model: %w", err)
	}
	tx.vecAdds[noteID] = vector
	return nil
}

func (tx *Tx) writeTags(ctx context.Context, noteID string, old, current []string) error {
	if len(old) > 0 {
		if _, err := tx.tx.ExecContext(ctx,
			`DELETE FROM note_tags WHERE note_id = ?`, noteID); err != nil {
			return fmt.Errorf("clear tag index: %w", err)
		}
	}
	for _, tag := range current {
		if _, err := tx.tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO note_tags (tag, note_id) VALUES (?, ?)`, tag, noteID); err != nil {
			return fmt.Errorf("index tag %q: %w", tag, err)
		}
	}
	return nil
}

func (tx *Tx) writeEmbedding(ctx context.Context, note *Note) error {
	if note.Embedding == nil {
		// Absent embedding: clear any stale row from a previous version.
		if _, err := tx.tx.ExecContext(ctx,
			`DELETE FROM note_embeddings WHERE note_id = ?`, note.ID); err != nil {
			return fmt.Errorf("clear embedding: %w", err)
		}
		tx.vecDeletes = append(tx.vecDeletes, note.ID)
		delete(tx.vecAdds, note.ID)
		return nil
	}
	if len(note.Embedding) != tx.store.dims {
		return forerrors.New(forerrors.KindDimensionMismatch,
			"embedding has dimension %d, store expects %d", len(note.Embedding), tx.store.dims)
	}
	_, err := tx.tx.ExecContext(ctx,
		`INSERT INTO note_embeddings (note_id, vector, model) VALUES (?, ?, ?)
		 ON CONFLICT(note_id) DO UPDATE SET vector = excluded.vector, model = excluded.model`,
		note.ID, encodeVector(note.Embedding), note.EmbeddingModel)
	if err != nil {
		return fmt.Errorf("write embedding: %w", err)
	}
	tx.vecAdds[note.ID] = note.Embedding
	return nil
}

// getNote reads a note inside the transaction, with its embedding.
func (tx *Tx) getNote(ctx context.Context, id string) (*Note, error) {
	return scanNote(tx.tx.QueryRowContext(ctx, noteSelect+` WHERE n.id = ?`, id), id)
}

// GetNote reads a note inside the transaction.
func (tx *Tx) GetNote(ctx context.Context, id string) (*Note, error) {
	return tx.getNote(ctx, id)
}

const noteSelect = `
	SELECT n.id, n.title, n.body, n.tags, n.token_counts, n.embedding_model,
	       n.metadata, n.created_at, n.updated_at, e.vector
	FROM notes n LEFT JOIN note_embeddings e ON e.note_id = n.id`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNote(row rowScanner, id string) (*Note, error) {
	var n Note
	var tagsJSON, countsJSON, metaJSON string
	var createdNs, updatedNs int64
	var blob []byte

	err := row.Scan(&n.ID, &n.Title, &n.Body, &tagsJSON, &countsJSON,
		&n.EmbeddingModel, &metaJSON, &createdNs, &updatedNs, &blob)
	if err == sql.ErrNoRows {
		return nil, forerrors.NotFound("note", id)
	}
	if err != nil {
		return nil, fmt.Errorf("scan note: %w", err)
	}

	if err := json.Unmarshal([]byte(tagsJSON), &n.Tags); err != nil {
		return nil, fmt.Errorf("decode tags for %s: %w", n.ID, err)
	}
	if err := json.Unmarshal([]byte(countsJSON), &n.TokenCounts); err != nil {
		return nil, fmt.Errorf("decode token counts for %s: %w", n.ID, err)
	}
	if err := json.Unmarshal([]byte(metaJSON), &n.Metadata); err != nil {
		return nil, fmt.Errorf("decode metadata for %s: %w", n.ID, err)
	}
	n.CreatedAt = time.Unix(0, createdNs)
	n.UpdatedAt = time.Unix(0, updatedNs)

	if len(blob) > 0 && len(blob)%4 == 0 {
		vec, err := decodeVector(blob, len(blob)/4)
		if err == nil {
			n.Embedding = vec
		}
	}
	return &n, nil
}

// GetNote reads a single note by exact ID.
func (s *Store) GetNote(ctx context.Context, id string) (*Note, error) {
	return scanNote(s.db.QueryRowContext(ctx, noteSelect+` WHERE n.id = ?`, id), id)
}

// ListNotesOptions filters ListNotes.
type ListNotesOptions struct {
	// Tag restricts to notes carrying the tag.
	Tag string
	// Origin restricts by provenance.
	Origin Origin
	// CreatedBy restricts by author identity.
	CreatedBy string
	// Term is a case-insensitive substring match across title, tags, and
	// body.
	Term string
	// IncludeChunks includes chunk notes, excluded by default.
	IncludeChunks bool
	// MissingEmbedding restricts to notes with no embedding.
	MissingEmbedding bool
	// Limit caps results; 0 means no cap. Ordered by updated_at descending.
	Limit int
}

// ListNotes returns notes matching the options, most recently updated
// first.
func (s *Store) ListNotes(ctx context.Context, opts ListNotesOptions) ([]*Note, error) {
	var sb strings.Builder
	sb.WriteString(noteSelect)
	var conds []string
	var args []any

	if opts.Tag != "" {
		conds = append(conds, `n.id IN (SELECT note_id FROM note_tags WHERE tag = ?)`)
		args = append(args, opts.Tag)
	}
	if opts.Origin != "" {
		conds = append(conds, `json_extract(n.metadata, '$.origin') = ?`)
		args = append(args, string(opts.Origin))
	}
	if opts.CreatedBy != "" {
		conds = append(conds, `json_extract(n.metadata, '$.createdBy') = ?`)
		args = append(args, opts.CreatedBy)
	}
	if opts.Term != "" {
		conds = append(conds, `LOWER(n.title || ' ' || n.tags || ' ' || n.body) LIKE '%' || LOWER(?) || '%'`)
		args = append(args, opts.Term)
	}
	if !opts.IncludeChunks {
		conds = append(conds, `n.is_chunk = 0`)
	}
	if opts.MissingEmbedding {
		conds = append(conds, `e.note_id IS NULL`)
	}
	if len(conds) > 0 {
		sb.WriteString(" WHERE " + strings.Join(conds, " AND "))
	}
	sb.WriteString(" ORDER BY n.updated_at DESC")
	if opts.Limit > 0 {
		sb.WriteString(" LIMIT ?")
		args = append(args, opts.Limit)
	}

	return s.queryNotes(ctx, sb.String(), args...)
}

// NotesWithAnyTag returns IDs of notes sharing at least one of the tags,
// excluding excludeID. Used to build linking candidate sets.
func (s *Store) NotesWithAnyTag(ctx context.Context, tags []string, excludeID string) ([]string, error) {
	if len(tags) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(tags)), ",")
	args := make([]any, 0, len(tags)+1)
	for _, t := range tags {
		args = append(args, t)
	}
	args = append(args, excludeID)

	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT note_id FROM note_tags WHERE tag IN (`+placeholders+`) AND note_id != ?`,
		args...)
	if err != nil {
		return nil, fmt.Errorf("query tag sharers: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// TagCounts returns every tag with its note count, descending by count.
func (s *Store) TagCounts(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT tag, COUNT(*) FROM note_tags GROUP BY tag`)
	if err != nil {
		return nil, fmt.Errorf("query tag counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var tag string
		var count int
		if err := rows.Scan(&tag, &count); err != nil {
			return nil, err
		}
		counts[tag] = count
	}
	return counts, rows.Err()
}

func (s *Store) queryNotes(ctx context.Context, query string, args ...any) ([]*Note, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query notes: %w", err)
	}
	defer rows.Close()

	var notes []*Note
	for rows.Next() {
		n, err := scanNote(rows, "")
		if err != nil {
			return nil, err
		}
		notes = append(notes, n)
	}
	return notes, rows.Err()
}

// Stats summarizes the store contents.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{EmbeddingModel: s.model, Dimensions: s.dims}
	queries := []struct {
		sql  string
		dest any
	}{
		{`SELECT COUNT(*) FROM notes`, &st.NoteCount},
		{`SELECT COUNT(*) FROM edges`, &st.EdgeCount},
		{`SELECT COUNT(*) FROM documents`, &st.DocumentCount},
		{`SELECT COUNT(DISTINCT tag) FROM note_tags`, &st.TagCount},
		{`SELECT COALESCE(MAX(seq), 0) FROM events`, &st.EventCount},
		{`SELECT COUNT(*) FROM snapshots`, &st.SnapshotCount},
		{`SELECT COUNT(*) FROM note_embeddings`, &st.EmbeddedNotes},
	}
	for _, q := range queries {
		if err := s.db.QueryRowContext(ctx, q.sql).Scan(q.dest); err != nil {
			return nil, fmt.Errorf("stats query: %w", err)
		}
	}
	return st, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func unionTags(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	var out []string
	for _, tags := range [][]string{a, b} {
		for _, t := range tags {
			if _, ok := seen[t]; !ok {
				seen[t] = struct{}{}
				out = append(out, t)
			}
		}
	}
	return out
}
