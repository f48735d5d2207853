package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	forerrors "github.com/bwl/forest/internal/errors"
)

// UpsertEdge creates or updates the canonical edge for the pair. The
// endpoints are reordered if needed; an existing row for the pair keeps
// its ID and CreatedAt. Emits edge.created or edge.updated, tagged with
// both endpoints' tags for subscriber filtering.
func (tx *Tx) UpsertEdge(ctx context.Context, edge *Edge) error {
	edge.SourceID, edge.TargetID = OrderEndpoints(edge.SourceID, edge.TargetID)
	if edge.SourceID == edge.TargetID {
		return forerrors.Validation("edge endpoints must differ: %s", edge.SourceID)
	}

	existing, err := tx.getEdgeByPair(ctx, edge.SourceID, edge.TargetID)
	if err != nil && !forerrors.IsKind(err, forerrors.KindNotFound) {
		return err
	}

	now := time.Now()
	componentsJSON, _ := json.Marshal(edge.Components)

	if existing == nil {
		if edge.ID == "" {
			edge.ID = uuid.NewString()
		}
		edge.CreatedAt = now
		edge.UpdatedAt = now
		_, err := tx.tx.ExecContext(ctx,
			`INSERT INTO edges (id, source_id, target_id, semantic_score, tag_score, score, edge_type, components, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			edge.ID, edge.SourceID, edge.TargetID, edge.SemanticScore, edge.TagScore,
			edge.Score, string(edge.EdgeType), string(componentsJSON),
			edge.CreatedAt.UnixNano(), edge.UpdatedAt.UnixNano())
		if err != nil {
			return fmt.Errorf("insert edge: %w", err)
		}
		tx.emit(EventEdgeCreated, edge.ID, tx.endpointTags(ctx, edge), nil, edge)
		return nil
	}

	edge.ID = existing.ID
	edge.CreatedAt = existing.CreatedAt
	edge.UpdatedAt = now
	_, err = tx.tx.ExecContext(ctx,
		`UPDATE edges SET semantic_score = ?, tag_score = ?, score = ?, edge_type = ?, components = ?, updated_at = ?
		 WHERE id = ?`,
		edge.SemanticScore, edge.TagScore, edge.Score, string(edge.EdgeType),
		string(componentsJSON), edge.UpdatedAt.UnixNano(), edge.ID)
	if err != nil {
		return fmt.Errorf("update edge: %w", err)
	}
	tx.emit(EventEdgeUpdated, edge.ID, tx.endpointTags(ctx, edge), existing, edge)
	return nil
}

// DeleteEdge removes an edge by ID and emits edge.deleted.
func (tx *Tx) DeleteEdge(ctx context.Context, id string) error {
	before, err := scanEdge(tx.tx.QueryRowContext(ctx, edgeSelect+` WHERE id = ?`, id), id)
	if err != nil {
		return err
	}
	return tx.deleteEdgeRow(ctx, before)
}

func (tx *Tx) deleteEdgeRow(ctx context.Context, edge *Edge) error {
	if _, err := tx.tx.ExecContext(ctx, `DELETE FROM edges WHERE id = ?`, edge.ID); err != nil {
		return fmt.Errorf("delete edge: %w", err)
	}
	tx.emit(EventEdgeDeleted, edge.ID, tx.endpointTags(ctx, edge), edge, nil)
	return nil
}

// endpointTags collects the union of both endpoints' tags. Best effort;
// a missing endpoint (mid-cascade) contributes nothing.
func (tx *Tx) endpointTags(ctx context.Context, edge *Edge) []string {
	var tags []string
	for _, id := range []string{edge.SourceID, edge.TargetID} {
		var tagsJSON string
		err := tx.tx.QueryRowContext(ctx,
			`SELECT tags FROM notes WHERE id = ?`, id).Scan(&tagsJSON)
		if err != nil {
			continue
		}
		var t []string
		if json.Unmarshal([]byte(tagsJSON), &t) == nil {
			tags = unionTags(tags, t)
		}
	}
	return tags
}

func (tx *Tx) getEdgeByPair(ctx context.Context, sourceID, targetID string) (*Edge, error) {
	return scanEdge(tx.tx.QueryRowContext(ctx,
		edgeSelect+` WHERE source_id = ? AND target_id = ?`, sourceID, targetID),
		sourceID+"::"+targetID)
}

// GetEdgeByPair reads the canonical edge for the pair inside the
// transaction, reordering endpoints as needed.
func (tx *Tx) GetEdgeByPair(ctx context.Context, a, b string) (*Edge, error) {
	sourceID, targetID := OrderEndpoints(a, b)
	return tx.getEdgeByPair(ctx, sourceID, targetID)
}

// edgesForNote returns every edge incident to the note, in the tx.
func (tx *Tx) edgesForNote(ctx context.Context, noteID string) ([]*Edge, error) {
	rows, err := tx.tx.QueryContext(ctx,
		edgeSelect+` WHERE source_id = ? OR target_id = ?`, noteID, noteID)
	if err != nil {
		return nil, fmt.Errorf("query incident edges: %w", err)
	}
	return collectEdges(rows)
}

// EdgesForNote returns every edge incident to the note inside the
// transaction.
func (tx *Tx) EdgesForNote(ctx context.Context, noteID string) ([]*Edge, error) {
	return tx.edgesForNote(ctx, noteID)
}

const edgeSelect = `
	SELECT id, source_id, target_id, semantic_score, tag_score, score,
	       edge_type, components, created_at, updated_at
	FROM edges`

func scanEdge(row rowScanner, ref string) (*Edge, error) {
	var e Edge
	var edgeType, componentsJSON string
	var createdNs, updatedNs int64

	err := row.Scan(&e.ID, &e.SourceID, &e.TargetID, &e.SemanticScore,
		&e.TagScore, &e.Score, &edgeType, &componentsJSON, &createdNs, &updatedNs)
	if err == sql.ErrNoRows {
		return nil, forerrors.NotFound("edge", ref)
	}
	if err != nil {
		return nil, fmt.Errorf("scan edge: %w", err)
	}

	e.EdgeType = EdgeType(edgeType)
	if err := json.Unmarshal([]byte(componentsJSON), &e.Components); err != nil {
		return nil, fmt.Errorf("decode components for %s: %w", e.ID, err)
	}
	e.CreatedAt = time.Unix(0, createdNs)
	e.UpdatedAt = time.Unix(0, updatedNs)
	return &e, nil
}

func collectEdges(rows *sql.Rows) ([]*Edge, error) {
	defer rows.Close()
	var edges []*Edge
	for rows.Next() {
		e, err := scanEdge(rows, "")
		if err != nil {
			return nil, err
		}
		edges = append(edges, e)
	}
	return edges, rows.Err()
}

// GetEdge reads a single edge by ID.
func (s *Store) GetEdge(ctx context.Context, id string) (*Edge, error) {
	return scanEdge(s.db.QueryRowContext(ctx, edgeSelect+` WHERE id = ?`, id), id)
}

// GetEdgeByPair reads the canonical edge for an unordered note pair.
func (s *Store) GetEdgeByPair(ctx context.Context, a, b string) (*Edge, error) {
	sourceID, targetID := OrderEndpoints(a, b)
	return scanEdge(s.db.QueryRowContext(ctx,
		edgeSelect+` WHERE source_id = ? AND target_id = ?`, sourceID, targetID),
		sourceID+"::"+targetID)
}

// EdgesForNote returns every edge incident to the note, strongest first.
func (s *Store) EdgesForNote(ctx context.Context, noteID string) ([]*Edge, error) {
	rows, err := s.db.QueryContext(ctx,
		edgeSelect+` WHERE source_id = ? OR target_id = ? ORDER BY score DESC`,
		noteID, noteID)
	if err != nil {
		return nil, fmt.Errorf("query incident edges: %w", err)
	}
	return collectEdges(rows)
}

// AllEdges returns every edge in the graph. Used by topology analysis
// and snapshot digests.
func (s *Store) AllEdges(ctx context.Context) ([]*Edge, error) {
	rows, err := s.db.QueryContext(ctx, edgeSelect+` ORDER BY source_id, target_id`)
	if err != nil {
		return nil, fmt.Errorf("query edges: %w", err)
	}
	return collectEdges(rows)
}

// Degrees returns the edge count per note for every note that has at
// least one edge. Notes absent from the map have degree zero.
func (s *Store) Degrees(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT note_id, COUNT(*) FROM (
			SELECT source_id AS note_id FROM edges
			UNION ALL
			SELECT target_id AS note_id FROM edges
		) GROUP BY note_id`)
	if err != nil {
		return nil, fmt.Errorf("query degrees: %w", err)
	}
	defer rows.Close()

	degrees := make(map[string]int)
	for rows.Next() {
		var id string
		var count int
		if err := rows.Scan(&id, &count); err != nil {
			return nil, err
		}
		degrees[id] = count
	}
	return degrees, rows.Err()
}
