// Package topology summarizes graph structure for agent consumption:
// a seeded expansion classified into hubs, bridges, and periphery,
// emitted within a token budget.
package topology

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"

	forerrors "github.com/bwl/forest/internal/errors"
	"github.com/bwl/forest/internal/search"
	"github.com/bwl/forest/internal/store"
)

// Defaults for seeding and emission.
const (
	// SeedK is how many semantic hits seed the expansion for a query.
	SeedK = 10
	// MaxHubs caps the hub class size.
	MaxHubs = 5
	// DefaultBudget is the emission budget in tokens.
	DefaultBudget = 500
	// charsPerToken is the emission size estimate.
	charsPerToken = 4
)

// Service computes topology summaries.
type Service struct {
	store         *store.Store
	search        *search.Service
	bridgePattern string
}

// New builds a topology service. bridgePattern matches namespaced
// bridge tags, e.g. "link/*".
func New(st *store.Store, searcher *search.Service, bridgePattern string) *Service {
	return &Service{store: st, search: searcher, bridgePattern: bridgePattern}
}

// Request parameterizes Context. At least one of Tag or Query must be
// set.
type Request struct {
	Tag    string
	Query  string
	Budget int
}

// Role classifies a node within the expansion.
type Role string

const (
	RoleHub       Role = "hub"
	RoleBridge    Role = "bridge"
	RolePeriphery Role = "periphery"
)

// NodeSummary is one classified node.
type NodeSummary struct {
	ID     string
	Title  string
	Tags   []string
	Degree int
	Role   Role
}

// Summary is a classified expansion plus its budgeted rendering.
type Summary struct {
	Hubs      []NodeSummary
	Bridges   []NodeSummary
	Periphery []NodeSummary
	// Rendered is the emitted text, truncated to the budget.
	Rendered string
	// Truncated reports that the budget cut off some nodes.
	Truncated bool
}

// Context seeds from the tag carriers and the query's top semantic
// hits, expands one hop, classifies, and emits within the budget.
func (s *Service) Context(ctx context.Context, req Request) (*Summary, error) {
	if req.Tag == "" && req.Query == "" {
		return nil, forerrors.Validation("context requires a tag or a query")
	}
	if req.Budget <= 0 {
		req.Budget = DefaultBudget
	}

	seed, err := s.seedSet(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(seed) == 0 {
		return &Summary{}, nil
	}

	nodes, adjacency, err := s.expand(ctx, seed)
	if err != nil {
		return nil, err
	}

	summary := s.classify(nodes, adjacency)
	summary.Rendered, summary.Truncated = render(summary, req.Budget)
	return summary, nil
}

// seedSet unions tag carriers with top-k semantic hits.
func (s *Service) seedSet(ctx context.Context, req Request) (map[string]struct{}, error) {
	seed := make(map[string]struct{})
	if req.Tag != "" {
		notes, err := s.store.ListNotes(ctx, store.ListNotesOptions{Tag: req.Tag})
		if err != nil {
			return nil, err
		}
		for _, note := range notes {
			seed[note.ID] = struct{}{}
		}
	}
	if req.Query != "" {
		result, err := s.search.Semantic(ctx, search.SemanticQuery{Text: req.Query, Limit: SeedK})
		if err != nil {
			return nil, err
		}
		for _, hit := range result.Hits {
			seed[hit.Note.ID] = struct{}{}
		}
	}
	return seed, nil
}

// expand grows the seed one hop and returns the induced subgraph.
func (s *Service) expand(ctx context.Context, seed map[string]struct{}) (map[string]*store.Note, map[string][]string, error) {
	ids := make(map[string]struct{}, len(seed))
	for id := range seed {
		ids[id] = struct{}{}
		edges, err := s.store.EdgesForNote(ctx, id)
		if err != nil {
			return nil, nil, err
		}
		for _, edge := range edges {
			ids[edge.Other(id)] = struct{}{}
		}
	}

	nodes := make(map[string]*store.Note, len(ids))
	for id := range ids {
		note, err := s.store.GetNote(ctx, id)
		if err != nil {
			if forerrors.IsKind(err, forerrors.KindNotFound) {
				continue
			}
			return nil, nil, err
		}
		nodes[note.ID] = note
	}

	adjacency := make(map[string][]string, len(nodes))
	seenEdges := make(map[string]struct{})
	for id := range nodes {
		edges, err := s.store.EdgesForNote(ctx, id)
		if err != nil {
			return nil, nil, err
		}
		for _, edge := range edges {
			other := edge.Other(id)
			if _, ok := nodes[other]; !ok {
				continue
			}
			if _, done := seenEdges[edge.ID]; done {
				continue
			}
			seenEdges[edge.ID] = struct{}{}
			adjacency[id] = append(adjacency[id], other)
			adjacency[other] = append(adjacency[other], id)
		}
	}
	return nodes, adjacency, nil
}

// classify splits the expansion into hubs, bridges, and periphery.
// Hubs are the top-degree nodes; bridges are articulation points of the
// subgraph or carriers of a namespaced bridge tag; periphery is the
// rest.
func (s *Service) classify(nodes map[string]*store.Note, adjacency map[string][]string) *Summary {
	summaries := make([]NodeSummary, 0, len(nodes))
	for id, note := range nodes {
		summaries = append(summaries, NodeSummary{
			ID:     id,
			Title:  note.Title,
			Tags:   note.Tags,
			Degree: len(adjacency[id]),
		})
	}
	sort.Slice(summaries, func(i, j int) bool {
		if summaries[i].Degree != summaries[j].Degree {
			return summaries[i].Degree > summaries[j].Degree
		}
		return summaries[i].ID < summaries[j].ID
	})

	articulation := articulationPoints(adjacency)

	summary := &Summary{}
	for i := range summaries {
		node := summaries[i]
		switch {
		case i < MaxHubs && node.Degree > 0:
			node.Role = RoleHub
			summary.Hubs = append(summary.Hubs, node)
		case articulation[node.ID] || s.carriesBridgeTag(nodes[node.ID]):
			node.Role = RoleBridge
			summary.Bridges = append(summary.Bridges, node)
		default:
			node.Role = RolePeriphery
			summary.Periphery = append(summary.Periphery, node)
		}
	}
	return summary
}

func (s *Service) carriesBridgeTag(note *store.Note) bool {
	if s.bridgePattern == "" {
		return false
	}
	for _, tag := range note.Tags {
		if ok, _ := path.Match(s.bridgePattern, tag); ok {
			return true
		}
	}
	return false
}

// render emits classified nodes within the token budget, hubs first,
// then bridges, then periphery.
func render(summary *Summary, budget int) (string, bool) {
	limit := budget * charsPerToken
	var sb strings.Builder
	truncated := false

	emit := func(header string, nodes []NodeSummary) {
		if len(nodes) == 0 {
			return
		}
		block := header + "\n"
		if sb.Len()+len(block) > limit {
			truncated = true
			return
		}
		sb.WriteString(block)
		for _, node := range nodes {
			line := fmt.Sprintf("- %s (degree %d", node.Title, node.Degree)
			if len(node.Tags) > 0 {
				line += ", tags: " + strings.Join(node.Tags, " ")
			}
			line += ")\n"
			if sb.Len()+len(line) > limit {
				truncated = true
				return
			}
			sb.WriteString(line)
		}
	}

	emit("Hubs:", summary.Hubs)
	emit("Bridges:", summary.Bridges)
	emit("Periphery:", summary.Periphery)
	return strings.TrimRight(sb.String(), "\n"), truncated
}

// articulationPoints finds the nodes whose removal disconnects their
// component, by Tarjan's low-link DFS.
func articulationPoints(adjacency map[string][]string) map[string]bool {
	ids := make([]string, 0, len(adjacency))
	for id := range adjacency {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	disc := make(map[string]int, len(adjacency))
	low := make(map[string]int, len(adjacency))
	result := make(map[string]bool)
	timer := 0

	var dfs func(id, parent string)
	dfs = func(id, parent string) {
		timer++
		disc[id] = timer
		low[id] = timer
		children := 0

		for _, next := range adjacency[id] {
			if next == parent {
				continue
			}
			if d, seen := disc[next]; seen {
				if d < low[id] {
					low[id] = d
				}
				continue
			}
			children++
			dfs(next, id)
			if low[next] < low[id] {
				low[id] = low[next]
			}
			if parent != "" && low[next] >= disc[id] {
				result[id] = true
			}
		}
		if parent == "" && children > 1 {
			result[id] = true
		}
	}

	for _, id := range ids {
		if _, seen := disc[id]; !seen {
			dfs(id, "")
		}
	}
	return result
}
