package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	forerrors "github.com/bwl/forest/internal/errors"
)

// CreateDocument inserts a document row and its chunk mappings. The
// chunk notes themselves are created separately through CreateNote in
// the same transaction; a failure anywhere rolls back the whole import.
func (tx *Tx) CreateDocument(ctx context.Context, doc *Document, chunks []DocumentChunk) error {
	now := time.Now()
	doc.CreatedAt = now
	doc.UpdatedAt = now
	if doc.Version == 0 {
		doc.Version = 1
	}

	metaJSON, _ := json.Marshal(doc.Metadata)
	_, err := tx.tx.ExecContext(ctx,
		`INSERT INTO documents (id, title, body, metadata, version, root_node_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		doc.ID, doc.Title, doc.Body, string(metaJSON), doc.Version, doc.RootNodeID,
		doc.CreatedAt.UnixNano(), doc.UpdatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}

	if err := tx.insertChunks(ctx, doc.ID, chunks); err != nil {
		return err
	}

	tx.emit(EventDocumentImported, doc.ID, nil, nil, doc)
	return nil
}

// UpdateDocument replaces the document's content fields and its full
// chunk mapping, bumping the version. Emits document.updated.
func (tx *Tx) UpdateDocument(ctx context.Context, doc *Document, chunks []DocumentChunk) error {
	before, err := tx.getDocument(ctx, doc.ID)
	if err != nil {
		return err
	}
	doc.CreatedAt = before.CreatedAt
	doc.Version = before.Version + 1
	doc.UpdatedAt = time.Now()

	metaJSON, _ := json.Marshal(doc.Metadata)
	_, err = tx.tx.ExecContext(ctx,
		`UPDATE documents SET title = ?, body = ?, metadata = ?, version = ?, root_node_id = ?, updated_at = ?
		 WHERE id = ?`,
		doc.Title, doc.Body, string(metaJSON), doc.Version, doc.RootNodeID,
		doc.UpdatedAt.UnixNano(), doc.ID)
	if err != nil {
		return fmt.Errorf("update document: %w", err)
	}

	if _, err := tx.tx.ExecContext(ctx,
		`DELETE FROM document_chunks WHERE document_id = ?`, doc.ID); err != nil {
		return fmt.Errorf("clear chunk mapping: %w", err)
	}
	if err := tx.insertChunks(ctx, doc.ID, chunks); err != nil {
		return err
	}

	tx.emit(EventDocumentUpdated, doc.ID, nil, before, doc)
	return nil
}

// DeleteDocument removes the document row and chunk mappings. Chunk
// notes are deleted separately by the pipeline so their node.deleted and
// edge.deleted events land in the log.
func (tx *Tx) DeleteDocument(ctx context.Context, id string) error {
	before, err := tx.getDocument(ctx, id)
	if err != nil {
		return err
	}
	if _, err := tx.tx.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	tx.emit(EventDocumentUpdated, id, nil, before, nil)
	return nil
}

func (tx *Tx) insertChunks(ctx context.Context, docID string, chunks []DocumentChunk) error {
	for _, c := range chunks {
		_, err := tx.tx.ExecContext(ctx,
			`INSERT INTO document_chunks (document_id, segment_id, node_id, offset, length, chunk_order, checksum)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			docID, c.SegmentID, c.NodeID, c.Offset, c.Length, c.ChunkOrder, c.Checksum)
		if err != nil {
			return fmt.Errorf("insert chunk %s: %w", c.SegmentID, err)
		}
	}
	return nil
}

func (tx *Tx) getDocument(ctx context.Context, id string) (*Document, error) {
	return scanDocument(tx.tx.QueryRowContext(ctx, documentSelect+` WHERE id = ?`, id), id)
}

// GetDocument reads a document inside the transaction.
func (tx *Tx) GetDocument(ctx context.Context, id string) (*Document, error) {
	return tx.getDocument(ctx, id)
}

// ChunksForDocument returns the chunk mapping in chunk order, inside the
// transaction.
func (tx *Tx) ChunksForDocument(ctx context.Context, docID string) ([]DocumentChunk, error) {
	rows, err := tx.tx.QueryContext(ctx, chunkSelect+
		` WHERE document_id = ? ORDER BY chunk_order`, docID)
	if err != nil {
		return nil, fmt.Errorf("query chunks: %w", err)
	}
	return collectChunks(rows)
}

const documentSelect = `
	SELECT id, title, body, metadata, version, root_node_id, created_at, updated_at
	FROM documents`

const chunkSelect = `
	SELECT document_id, segment_id, node_id, offset, length, chunk_order, checksum
	FROM document_chunks`

func scanDocument(row rowScanner, ref string) (*Document, error) {
	var d Document
	var metaJSON string
	var createdNs, updatedNs int64

	err := row.Scan(&d.ID, &d.Title, &d.Body, &metaJSON, &d.Version,
		&d.RootNodeID, &createdNs, &updatedNs)
	if err == sql.ErrNoRows {
		return nil, forerrors.NotFound("document", ref)
	}
	if err != nil {
		return nil, fmt.Errorf("scan document: %w", err)
	}
	if err := json.Unmarshal([]byte(metaJSON), &d.Metadata); err != nil {
		return nil, fmt.Errorf("decode metadata for %s: %w", d.ID, err)
	}
	d.CreatedAt = time.Unix(0, createdNs)
	d.UpdatedAt = time.Unix(0, updatedNs)
	return &d, nil
}

func collectChunks(rows *sql.Rows) ([]DocumentChunk, error) {
	defer rows.Close()
	var chunks []DocumentChunk
	for rows.Next() {
		var c DocumentChunk
		if err := rows.Scan(&c.DocumentID, &c.SegmentID, &c.NodeID,
			&c.Offset, &c.Length, &c.ChunkOrder, &c.Checksum); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// GetDocument reads a document by exact ID.
func (s *Store) GetDocument(ctx context.Context, id string) (*Document, error) {
	return scanDocument(s.db.QueryRowContext(ctx, documentSelect+` WHERE id = ?`, id), id)
}

// ListDocuments returns all documents, most recently updated first.
func (s *Store) ListDocuments(ctx context.Context) ([]*Document, error) {
	rows, err := s.db.QueryContext(ctx, documentSelect+` ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	defer rows.Close()

	var docs []*Document
	for rows.Next() {
		d, err := scanDocument(rows, "")
		if err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// ChunksForDocument returns the chunk mapping in chunk order.
func (s *Store) ChunksForDocument(ctx context.Context, docID string) ([]DocumentChunk, error) {
	rows, err := s.db.QueryContext(ctx, chunkSelect+
		` WHERE document_id = ? ORDER BY chunk_order`, docID)
	if err != nil {
		return nil, fmt.Errorf("query chunks: %w", err)
	}
	return collectChunks(rows)
}

// ChunkByNodeID finds the chunk mapping for a chunk note, if any.
func (s *Store) ChunkByNodeID(ctx context.Context, nodeID string) (*DocumentChunk, error) {
	rows, err := s.db.QueryContext(ctx, chunkSelect+` WHERE node_id = ?`, nodeID)
	if err != nil {
		return nil, fmt.Errorf("query chunk by node: %w", err)
	}
	chunks, err := collectChunks(rows)
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return nil, forerrors.NotFound("chunk", nodeID)
	}
	return &chunks[0], nil
}
