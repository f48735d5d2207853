package temporal

import (
	"context"
	"encoding/json"
	"math"
	"sort"
	"time"

	"github.com/bwl/forest/internal/store"
)

// ScoreNoiseThreshold is the minimum edge score delta counted as a
// change by diff.
const ScoreNoiseThreshold = 0.01

// DefaultSectionLimit bounds each diff section when no limit is given.
const DefaultSectionLimit = 20

// NodeChange identifies one note in a diff section.
type NodeChange struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// EdgeChange identifies one edge in a diff section with its score
// movement.
type EdgeChange struct {
	ID          string  `json:"id"`
	SourceID    string  `json:"sourceId"`
	TargetID    string  `json:"targetId"`
	ScoreBefore float64 `json:"scoreBefore,omitempty"`
	ScoreAfter  float64 `json:"scoreAfter,omitempty"`
}

// NodeSection is a bounded list of node changes.
type NodeSection struct {
	Items []NodeChange `json:"items"`
	// Truncated counts changes beyond the section limit.
	Truncated int `json:"truncated,omitempty"`
}

// EdgeSection is a bounded list of edge changes.
type EdgeSection struct {
	Items     []EdgeChange `json:"items"`
	Truncated int          `json:"truncated,omitempty"`
}

// Diff reports graph changes since a baseline snapshot.
type Diff struct {
	Since    time.Time       `json:"since"`
	Baseline *store.Snapshot `json:"baseline,omitempty"`
	// Warning is set when no snapshot predates since and the diff
	// replayed the full event log from an empty synthetic baseline.
	Warning string `json:"warning,omitempty"`

	NodesAdded   NodeSection `json:"nodesAdded"`
	NodesRemoved NodeSection `json:"nodesRemoved"`
	NodesUpdated NodeSection `json:"nodesUpdated"`
	EdgesAdded   EdgeSection `json:"edgesAdded"`
	EdgesRemoved EdgeSection `json:"edgesRemoved"`
	EdgesChanged EdgeSection `json:"edgesChanged"`

	NodesBefore int `json:"nodesBefore"`
	NodesAfter  int `json:"nodesAfter"`
	EdgesBefore int `json:"edgesBefore"`
	EdgesAfter  int `json:"edgesAfter"`
}

// nodeState tracks one note through event replay.
type nodeState struct {
	before *store.Note // nil when created inside the window
	after  *store.Note // nil when deleted inside the window
}

type edgeState struct {
	before *store.Edge
	after  *store.Edge
}

// ComputeDiff replays the event log from the latest snapshot taken at
// or before since. sectionLimit bounds each change list.
func (s *Service) ComputeDiff(ctx context.Context, since time.Time, sectionLimit int) (*Diff, error) {
	if sectionLimit <= 0 {
		sectionLimit = DefaultSectionLimit
	}

	diff := &Diff{Since: since}
	var afterSeq int64
	snaps, err := s.store.ListSnapshots(ctx, 0)
	if err != nil {
		return nil, err
	}
	for _, snap := range snaps {
		if !snap.TakenAt.After(since) {
			diff.Baseline = snap
			afterSeq = snap.EventSeq
			diff.NodesBefore = snap.NodeCount
			diff.EdgesBefore = snap.EdgeCount
			break
		}
	}
	if diff.Baseline == nil {
		diff.Warning = "no snapshot at or before the requested time; diffing against an empty baseline"
	}

	events, err := s.store.EventsBetween(ctx, afterSeq, 0)
	if err != nil {
		return nil, err
	}

	nodes := make(map[string]*nodeState)
	edges := make(map[string]*edgeState)
	for _, ev := range events {
		switch ev.Kind {
		case store.EventNodeCreated, store.EventNodeUpdated, store.EventNodeDeleted:
			replayNode(nodes, ev)
		case store.EventEdgeCreated, store.EventEdgeUpdated, store.EventEdgeDeleted:
			replayEdge(edges, ev)
		}
	}

	var added, removed, updated []NodeChange
	for id, st := range nodes {
		switch {
		case st.before == nil && st.after == nil:
			// Created and deleted inside the window: no net change.
		case st.before == nil:
			added = append(added, NodeChange{ID: id, Title: st.after.Title})
		case st.after == nil:
			removed = append(removed, NodeChange{ID: id, Title: st.before.Title})
		case contentChanged(st.before, st.after):
			updated = append(updated, NodeChange{ID: id, Title: st.after.Title})
		}
	}
	diff.NodesAdded = boundNodes(added, sectionLimit)
	diff.NodesRemoved = boundNodes(removed, sectionLimit)
	diff.NodesUpdated = boundNodes(updated, sectionLimit)

	var eAdded, eRemoved, eChanged []EdgeChange
	for id, st := range edges {
		switch {
		case st.before == nil && st.after == nil:
		case st.before == nil:
			eAdded = append(eAdded, EdgeChange{
				ID: id, SourceID: st.after.SourceID, TargetID: st.after.TargetID,
				ScoreAfter: st.after.Score,
			})
		case st.after == nil:
			eRemoved = append(eRemoved, EdgeChange{
				ID: id, SourceID: st.before.SourceID, TargetID: st.before.TargetID,
				ScoreBefore: st.before.Score,
			})
		case math.Abs(st.after.Score-st.before.Score) > ScoreNoiseThreshold:
			eChanged = append(eChanged, EdgeChange{
				ID: id, SourceID: st.after.SourceID, TargetID: st.after.TargetID,
				ScoreBefore: st.before.Score, ScoreAfter: st.after.Score,
			})
		}
	}
	diff.EdgesAdded = boundEdges(eAdded, sectionLimit)
	diff.EdgesRemoved = boundEdges(eRemoved, sectionLimit)
	diff.EdgesChanged = boundEdges(eChanged, sectionLimit)

	stats, err := s.store.Stats(ctx)
	if err != nil {
		return nil, err
	}
	diff.NodesAfter = stats.NoteCount
	diff.EdgesAfter = stats.EdgeCount
	return diff, nil
}

func replayNode(states map[string]*nodeState, ev store.Event) {
	st, seen := states[ev.EntityID]
	if !seen {
		st = &nodeState{}
		states[ev.EntityID] = st
		if before := decodeNote(ev.Before); before != nil {
			st.before = before
		}
	}
	st.after = decodeNote(ev.After)
}

func replayEdge(states map[string]*edgeState, ev store.Event) {
	st, seen := states[ev.EntityID]
	if !seen {
		st = &edgeState{}
		states[ev.EntityID] = st
		if before := decodeEdge(ev.Before); before != nil {
			st.before = before
		}
	}
	st.after = decodeEdge(ev.After)
}

func decodeNote(payload []byte) *store.Note {
	if len(payload) == 0 {
		return nil
	}
	var n store.Note
	if err := json.Unmarshal(payload, &n); err != nil {
		return nil
	}
	return &n
}

func decodeEdge(payload []byte) *store.Edge {
	if len(payload) == 0 {
		return nil
	}
	var e store.Edge
	if err := json.Unmarshal(payload, &e); err != nil {
		return nil
	}
	return &e
}

// contentChanged reports a title, body, or tag difference. Pure
// metadata or embedding writes do not count as updates.
func contentChanged(before, after *store.Note) bool {
	if before.Title != after.Title || before.Body != after.Body {
		return true
	}
	if len(before.Tags) != len(after.Tags) {
		return true
	}
	for i := range before.Tags {
		if before.Tags[i] != after.Tags[i] {
			return true
		}
	}
	return false
}

func boundNodes(items []NodeChange, limit int) NodeSection {
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	section := NodeSection{Items: items}
	if len(items) > limit {
		section.Items = items[:limit]
		section.Truncated = len(items) - limit
	}
	return section
}

func boundEdges(items []EdgeChange, limit int) EdgeSection {
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	section := EdgeSection{Items: items}
	if len(items) > limit {
		section.Items = items[:limit]
		section.Truncated = len(items) - limit
	}
	return section
}
