package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/google/uuid"

	forerrors "github.com/bwl/forest/internal/errors"
)

// TakeSnapshot reads counts, content digests, and the event cursor
// inside the transaction and inserts the snapshot record.
func (tx *Tx) TakeSnapshot(ctx context.Context, snapType SnapshotType) (*Snapshot, error) {
	snap := &Snapshot{
		ID:           uuid.NewString(),
		TakenAt:      time.Now(),
		SnapshotType: snapType,
	}

	counts := []struct {
		query string
		dest  *int
	}{
		{`SELECT COUNT(*) FROM notes`, &snap.NodeCount},
		{`SELECT COUNT(*) FROM edges`, &snap.EdgeCount},
		{`SELECT COUNT(DISTINCT tag) FROM note_tags`, &snap.TagCount},
	}
	for _, c := range counts {
		if err := tx.tx.QueryRowContext(ctx, c.query).Scan(c.dest); err != nil {
			return nil, fmt.Errorf("snapshot count: %w", err)
		}
	}

	digests := []struct {
		query string
		dest  *string
	}{
		{`SELECT id || ':' || updated_at FROM notes ORDER BY id`, &snap.NodesDigest},
		{`SELECT id || ':' || score FROM edges ORDER BY id`, &snap.EdgesDigest},
		{`SELECT tag || ':' || COUNT(*) FROM note_tags GROUP BY tag ORDER BY tag`, &snap.TagsDigest},
	}
	for _, d := range digests {
		digest, err := tx.digest(ctx, d.query)
		if err != nil {
			return nil, err
		}
		*d.dest = digest
	}

	if err := tx.tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) FROM events`).Scan(&snap.EventSeq); err != nil {
		return nil, fmt.Errorf("snapshot event cursor: %w", err)
	}

	if err := tx.InsertSnapshot(ctx, snap); err != nil {
		return nil, err
	}
	return snap, nil
}

// digest hashes the rows of a single-column query.
func (tx *Tx) digest(ctx context.Context, query string) (string, error) {
	rows, err := tx.tx.QueryContext(ctx, query)
	if err != nil {
		return "", fmt.Errorf("snapshot digest: %w", err)
	}
	defer rows.Close()

	h := fnv.New64a()
	for rows.Next() {
		var line string
		if err := rows.Scan(&line); err != nil {
			return "", err
		}
		_, _ = h.Write([]byte(line))
		_, _ = h.Write([]byte{'\n'})
	}
	if err := rows.Err(); err != nil {
		return "", err
	}
	return fmt.Sprintf("%016x", h.Sum64()), nil
}

// InsertSnapshot persists a snapshot record and emits snapshot.taken.
func (tx *Tx) InsertSnapshot(ctx context.Context, snap *Snapshot) error {
	_, err := tx.tx.ExecContext(ctx,
		`INSERT INTO snapshots (id, taken_at, snapshot_type, node_count, edge_count, tag_count,
		                        nodes_digest, edges_digest, tags_digest, event_seq)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		snap.ID, snap.TakenAt.UnixNano(), string(snap.SnapshotType),
		snap.NodeCount, snap.EdgeCount, snap.TagCount,
		snap.NodesDigest, snap.EdgesDigest, snap.TagsDigest, snap.EventSeq)
	if err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	tx.emit(EventSnapshotTaken, snap.ID, nil, nil, snap)
	return nil
}

const snapshotSelect = `
	SELECT id, taken_at, snapshot_type, node_count, edge_count, tag_count,
	       nodes_digest, edges_digest, tags_digest, event_seq
	FROM snapshots`

func scanSnapshot(row rowScanner, ref string) (*Snapshot, error) {
	var s Snapshot
	var takenNs int64
	var snapType string

	err := row.Scan(&s.ID, &takenNs, &snapType, &s.NodeCount, &s.EdgeCount,
		&s.TagCount, &s.NodesDigest, &s.EdgesDigest, &s.TagsDigest, &s.EventSeq)
	if err == sql.ErrNoRows {
		return nil, forerrors.NotFound("snapshot", ref)
	}
	if err != nil {
		return nil, fmt.Errorf("scan snapshot: %w", err)
	}
	s.TakenAt = time.Unix(0, takenNs)
	s.SnapshotType = SnapshotType(snapType)
	return &s, nil
}

// GetSnapshot reads a snapshot by exact ID.
func (s *Store) GetSnapshot(ctx context.Context, id string) (*Snapshot, error) {
	return scanSnapshot(s.db.QueryRowContext(ctx, snapshotSelect+` WHERE id = ?`, id), id)
}

// ListSnapshots returns snapshots newest first, optionally capped.
func (s *Store) ListSnapshots(ctx context.Context, limit int) ([]*Snapshot, error) {
	query := snapshotSelect + ` ORDER BY taken_at DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query snapshots: %w", err)
	}
	defer rows.Close()

	var snaps []*Snapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows, "")
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, snap)
	}
	return snaps, rows.Err()
}

// LatestSnapshot returns the most recent snapshot, or a NOT_FOUND error
// when none exists.
func (s *Store) LatestSnapshot(ctx context.Context) (*Snapshot, error) {
	return scanSnapshot(s.db.QueryRowContext(ctx,
		snapshotSelect+` ORDER BY taken_at DESC LIMIT 1`), "latest")
}

// PruneSnapshots removes auto snapshots taken before the cutoff,
// returning how many were removed. Manual snapshots are kept.
func (s *Store) PruneSnapshots(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM snapshots WHERE snapshot_type = ? AND taken_at < ?`,
		string(SnapshotAuto), cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("prune snapshots: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// EventsBetween replays events with afterSeq < seq <= untilSeq in order.
// untilSeq <= 0 means no upper bound.
func (s *Store) EventsBetween(ctx context.Context, afterSeq, untilSeq int64) ([]Event, error) {
	query := `SELECT seq, kind, entity_id, tags, before, after, created_at
	          FROM events WHERE seq > ?`
	args := []any{afterSeq}
	if untilSeq > 0 {
		query += ` AND seq <= ?`
		args = append(args, untilSeq)
	}
	query += ` ORDER BY seq`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var ev Event
		var kind, tagsJSON string
		var createdNs int64
		if err := rows.Scan(&ev.Seq, &kind, &ev.EntityID, &tagsJSON,
			&ev.Before, &ev.After, &createdNs); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.Kind = EventKind(kind)
		if err := json.Unmarshal([]byte(tagsJSON), &ev.Tags); err != nil {
			return nil, fmt.Errorf("decode event tags: %w", err)
		}
		ev.CreatedAt = time.Unix(0, createdNs)
		events = append(events, ev)
	}
	return events, rows.Err()
}

// LatestEventSeq returns the current event-log cursor (0 when empty).
func (s *Store) LatestEventSeq(ctx context.Context) (int64, error) {
	var seq int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) FROM events`).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("query event cursor: %w", err)
	}
	return seq, nil
}

// EventCountSince counts mutation events after the cursor. Snapshot
// events are excluded so snapshots do not count toward the auto-snapshot
// mutation threshold.
func (s *Store) EventCountSince(ctx context.Context, afterSeq int64) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM events WHERE seq > ? AND kind != ?`,
		afterSeq, string(EventSnapshotTaken)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return count, nil
}
