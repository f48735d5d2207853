package search

import (
	"context"

	"github.com/bwl/forest/internal/store"
)

// DefaultNeighborhoodLimit bounds the node count when none is given.
const DefaultNeighborhoodLimit = 25

// Graph is a neighborhood slice of the full graph: the nodes kept and
// the edges among them.
type Graph struct {
	CenterID string
	Nodes    []*store.Note
	Edges    []*store.Edge
}

// Neighborhood expands BFS from the center over current edges. Depth is
// clamped to [1,2]. The center is always kept; when the expansion
// exceeds limit, the farthest nodes are dropped first, weakest-edge
// discoveries before stronger ones within the same distance ring.
func (s *Service) Neighborhood(ctx context.Context, centerID string, depth, limit int) (*Graph, error) {
	if depth < 1 {
		depth = 1
	} else if depth > 2 {
		depth = 2
	}
	if limit <= 0 {
		limit = DefaultNeighborhoodLimit
	}

	center, err := s.store.GetNote(ctx, centerID)
	if err != nil {
		return nil, err
	}

	// BFS discovery order: EdgesForNote yields score descending, so
	// within a ring stronger links are visited first.
	visited := map[string]struct{}{center.ID: {}}
	order := []string{center.ID}
	frontier := []string{center.ID}

	for d := 0; d < depth; d++ {
		var next []string
		for _, id := range frontier {
			edges, err := s.store.EdgesForNote(ctx, id)
			if err != nil {
				return nil, err
			}
			for _, edge := range edges {
				other := edge.Other(id)
				if _, seen := visited[other]; seen {
					continue
				}
				visited[other] = struct{}{}
				order = append(order, other)
				next = append(next, other)
			}
		}
		frontier = next
	}

	if len(order) > limit {
		order = order[:limit]
	}
	kept := make(map[string]struct{}, len(order))
	for _, id := range order {
		kept[id] = struct{}{}
	}

	graph := &Graph{CenterID: center.ID}
	for _, id := range order {
		note, err := s.store.GetNote(ctx, id)
		if err != nil {
			return nil, err
		}
		graph.Nodes = append(graph.Nodes, note)
	}

	// Induced edges among the kept nodes, deduplicated by id.
	seenEdges := make(map[string]struct{})
	for _, id := range order {
		edges, err := s.store.EdgesForNote(ctx, id)
		if err != nil {
			return nil, err
		}
		for _, edge := range edges {
			if _, done := seenEdges[edge.ID]; done {
				continue
			}
			if _, ok := kept[edge.Other(id)]; !ok {
				continue
			}
			seenEdges[edge.ID] = struct{}{}
			graph.Edges = append(graph.Edges, edge)
		}
	}
	return graph, nil
}
