// Package store provides durable persistence for the Forest graph:
// notes, edges, documents, chunks, the derived tag index, snapshots, and
// the append-only event log, in a single SQLite database with an HNSW
// sidecar index over note embeddings.
package store

import (
	"time"
)

// Origin describes how a note entered the graph.
type Origin string

const (
	OriginCapture    Origin = "capture"
	OriginWrite      Origin = "write"
	OriginSynthesize Origin = "synthesize"
	OriginImport     Origin = "import"
	OriginAPI        Origin = "api"
)

// NoteMetadata carries provenance for a note.
type NoteMetadata struct {
	Origin           Origin   `json:"origin,omitempty"`
	CreatedBy        string   `json:"createdBy,omitempty"` // user, ai, or an agent name
	Model            string   `json:"model,omitempty"`
	SourceNodeIDs    []string `json:"sourceNodeIds,omitempty"`
	ParentDocumentID string   `json:"parentDocumentId,omitempty"`
	ChunkOrder       int      `json:"chunkOrder,omitempty"`
	IsChunk          bool     `json:"isChunk,omitempty"`
}

// Note is the graph's vertex: a titled markdown document with derived
// tags, token counts, and an optional embedding.
//
// Tags and TokenCounts are always rederived from Title+Body on write.
// Embedding and EmbeddingModel are both present or both absent; a present
// embedding is unit-norm with the store's declared dimension.
type Note struct {
	ID             string         `json:"id"`
	Title          string         `json:"title"`
	Body           string         `json:"body"`
	Tags           []string       `json:"tags"`
	TokenCounts    map[string]int `json:"tokenCounts"`
	Embedding      []float32      `json:"-"`
	EmbeddingModel string         `json:"embeddingModel,omitempty"`
	Metadata       NoteMetadata   `json:"metadata"`
	CreatedAt      time.Time      `json:"createdAt"`
	UpdatedAt      time.Time      `json:"updatedAt"`
}

// EdgeType classifies an edge.
type EdgeType string

const (
	// EdgeTypeSemantic marks edges produced by the linking engine.
	EdgeTypeSemantic EdgeType = "semantic"
	// EdgeTypeStructuralParent links a document root to each chunk.
	EdgeTypeStructuralParent EdgeType = "structural-parent"
	// EdgeTypeStructuralSequential links adjacent chunks of a document.
	EdgeTypeStructuralSequential EdgeType = "structural-sequential"
	// EdgeTypeBridgeTag marks edges held together by a shared bridge tag.
	EdgeTypeBridgeTag EdgeType = "bridge-tag"
	// EdgeTypeManual marks user-created edges, exempt from rescoring.
	EdgeTypeManual EdgeType = "manual"
)

// Structural reports whether the edge type is exempt from the threshold
// policy.
func (t EdgeType) Structural() bool {
	return t == EdgeTypeStructuralParent || t == EdgeTypeStructuralSequential
}

// AutoPrunable reports whether rescoring may remove edges of this type.
func (t EdgeType) AutoPrunable() bool {
	return t == EdgeTypeSemantic || t == EdgeTypeBridgeTag
}

// ScoreComponents is the scoring breakdown persisted with each edge.
type ScoreComponents struct {
	EmbeddingSimilarity float64  `json:"embeddingSimilarity"`
	TokenSimilarity     float64  `json:"tokenSimilarity"`
	TitleSimilarity     float64  `json:"titleSimilarity"`
	TagOverlap          float64  `json:"tagOverlap"`
	SharedTags          []string `json:"sharedTags,omitempty"`
	BridgeTag           string   `json:"bridgeTag,omitempty"`
}

// Edge is an undirected weighted link between two notes. SourceID is
// always lexicographically smaller than TargetID so each unordered pair
// has exactly one canonical row.
type Edge struct {
	ID            string          `json:"id"`
	SourceID      string          `json:"sourceId"`
	TargetID      string          `json:"targetId"`
	SemanticScore float64         `json:"semanticScore"`
	TagScore      float64         `json:"tagScore"`
	Score         float64         `json:"score"`
	EdgeType      EdgeType        `json:"edgeType"`
	Components    ScoreComponents `json:"components"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

// OrderEndpoints returns a, b in canonical edge order.
func OrderEndpoints(a, b string) (string, string) {
	if a < b {
		return a, b
	}
	return b, a
}

// Other returns the endpoint opposite to noteID.
func (e *Edge) Other(noteID string) string {
	if e.SourceID == noteID {
		return e.TargetID
	}
	return e.SourceID
}

// DocumentMetadata records how a document was split.
type DocumentMetadata struct {
	ChunkStrategy string `json:"chunkStrategy,omitempty"`
	OverlapChars  int    `json:"overlapChars,omitempty"`
	AutoLink      bool   `json:"autoLink"`
	SourceFile    string `json:"sourceFile,omitempty"`
	TemplateID    string `json:"templateId,omitempty"`
}

// Document is a canonical markdown source split into ordered chunk notes.
// Body is reconstructable by joining chunk bodies with ChunkSeparator.
type Document struct {
	ID         string           `json:"id"`
	Title      string           `json:"title"`
	Body       string           `json:"body"`
	Metadata   DocumentMetadata `json:"metadata"`
	Version    int64            `json:"version"`
	RootNodeID string           `json:"rootNodeId,omitempty"`
	CreatedAt  time.Time        `json:"createdAt"`
	UpdatedAt  time.Time        `json:"updatedAt"`
}

// ChunkSeparator joins chunk bodies into the canonical document body.
const ChunkSeparator = "\n\n"

// DocumentChunk maps a chunk note into its document's canonical body.
// ChunkOrder is dense 0..N-1 within a document; Offset/Length locate the
// chunk in the canonical body.
type DocumentChunk struct {
	DocumentID string `json:"documentId"`
	SegmentID  string `json:"segmentId"`
	NodeID     string `json:"nodeId"`
	Offset     int    `json:"offset"`
	Length     int    `json:"length"`
	ChunkOrder int    `json:"chunkOrder"`
	Checksum   string `json:"checksum"`
}

// SnapshotType distinguishes manual from policy-driven snapshots.
type SnapshotType string

const (
	SnapshotManual SnapshotType = "manual"
	SnapshotAuto   SnapshotType = "auto"
)

// Snapshot is an immutable record of graph counts and digests at a point
// in time. EventSeq is the event-log replay cursor for diffing.
type Snapshot struct {
	ID           string       `json:"id"`
	TakenAt      time.Time    `json:"takenAt"`
	SnapshotType SnapshotType `json:"snapshotType"`
	NodeCount    int          `json:"nodeCount"`
	EdgeCount    int          `json:"edgeCount"`
	TagCount     int          `json:"tagCount"`
	NodesDigest  string       `json:"nodesDigest"`
	EdgesDigest  string       `json:"edgesDigest"`
	TagsDigest   string       `json:"tagsDigest"`
	EventSeq     int64        `json:"eventSeq"`
}

// EventKind enumerates domain events.
type EventKind string

const (
	EventNodeCreated      EventKind = "node.created"
	EventNodeUpdated      EventKind = "node.updated"
	EventNodeDeleted      EventKind = "node.deleted"
	EventEdgeCreated      EventKind = "edge.created"
	EventEdgeUpdated      EventKind = "edge.updated"
	EventEdgeDeleted      EventKind = "edge.deleted"
	EventDocumentImported EventKind = "document.imported"
	EventDocumentUpdated  EventKind = "document.updated"
	EventSnapshotTaken    EventKind = "snapshot.taken"
)

// Event is one append-only log entry. Seq is assigned by the store in
// commit order. Before/After carry enough of the entity for diff replay.
type Event struct {
	Seq       int64           `json:"seq"`
	Kind      EventKind       `json:"kind"`
	EntityID  string          `json:"entityId"`
	Tags      []string        `json:"tags,omitempty"` // involved-note tags, for subscriber filtering
	Before    []byte          `json:"before,omitempty"`
	After     []byte          `json:"after,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}

// Stats summarizes the store for status commands.
type Stats struct {
	NoteCount      int
	EdgeCount      int
	DocumentCount  int
	TagCount       int
	EventCount     int64
	SnapshotCount  int
	EmbeddedNotes  int
	EmbeddingModel string
	Dimensions     int
}
