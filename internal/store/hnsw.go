package store

import (
	"bufio"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/coder/hnsw"

	forerrors "github.com/bwl/forest/internal/errors"
)

// VectorIndex is an in-memory HNSW index over note embeddings, persisted
// as a sidecar file next to the database. It is a cache: the embeddings
// table is authoritative and the index is rebuilt from it when the
// sidecar is missing or unreadable.
type VectorIndex struct {
	mu    sync.RWMutex
	graph *hnsw.Graph[uint64]
	dims  int

	// String note IDs map to internal uint64 keys. Deletion is lazy:
	// removing a mapping orphans the graph node, which avoids a
	// coder/hnsw bug when the last node is deleted. Orphans vanish at
	// the next rebuild.
	idMap   map[string]uint64
	keyMap  map[uint64]string
	nextKey uint64
}

// vectorIndexMeta persists the ID mappings alongside the graph export.
type vectorIndexMeta struct {
	IDMap      map[string]uint64
	NextKey    uint64
	Dimensions int
}

// VectorMatch is one nearest-neighbor result. Similarity is cosine
// similarity in [0, 1] for unit-norm inputs.
type VectorMatch struct {
	NoteID     string
	Similarity float64
}

// NewVectorIndex creates an empty index for the given dimension.
func NewVectorIndex(dims int) *VectorIndex {
	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	graph.M = 16
	graph.EfSearch = 20
	graph.Ml = 0.25

	return &VectorIndex{
		graph:  graph,
		dims:   dims,
		idMap:  make(map[string]uint64),
		keyMap: make(map[uint64]string),
	}
}

// Add inserts or replaces vectors. Replacement orphans the old graph
// node rather than deleting it.
func (x *VectorIndex) Add(ids []string, vectors [][]float32) error {
	if len(ids) != len(vectors) {
		return fmt.Errorf("ids and vectors length mismatch: %d vs %d", len(ids), len(vectors))
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	for _, v := range vectors {
		if len(v) != x.dims {
			return forerrors.New(forerrors.KindDimensionMismatch,
				"vector has dimension %d, index expects %d", len(v), x.dims)
		}
	}

	for i, id := range ids {
		if oldKey, ok := x.idMap[id]; ok {
			delete(x.keyMap, oldKey)
			delete(x.idMap, id)
		}

		key := x.nextKey
		x.nextKey++

		vec := make([]float32, len(vectors[i]))
		copy(vec, vectors[i])
		normalizeInPlace(vec)

		x.graph.Add(hnsw.MakeNode(key, vec))
		x.idMap[id] = key
		x.keyMap[key] = id
	}
	return nil
}

// Delete removes vectors by note ID. Lazy: graph nodes stay behind as
// orphans until the next rebuild.
func (x *VectorIndex) Delete(ids []string) {
	x.mu.Lock()
	defer x.mu.Unlock()

	for _, id := range ids {
		if key, ok := x.idMap[id]; ok {
			delete(x.keyMap, key)
			delete(x.idMap, id)
		}
	}
}

// Search returns up to k nearest neighbors by cosine similarity.
// Orphaned nodes are filtered, so fewer than k results may come back;
// callers wanting exactly k should over-fetch.
func (x *VectorIndex) Search(query []float32, k int) ([]VectorMatch, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	if len(query) != x.dims {
		return nil, forerrors.New(forerrors.KindDimensionMismatch,
			"query has dimension %d, index expects %d", len(query), x.dims)
	}
	if x.graph.Len() == 0 {
		return nil, nil
	}

	normalized := make([]float32, len(query))
	copy(normalized, query)
	normalizeInPlace(normalized)

	nodes := x.graph.Search(normalized, k)
	matches := make([]VectorMatch, 0, len(nodes))
	for _, node := range nodes {
		id, ok := x.keyMap[node.Key]
		if !ok {
			continue // orphan
		}
		distance := x.graph.Distance(normalized, node.Value)
		matches = append(matches, VectorMatch{
			NoteID:     id,
			Similarity: float64(1.0 - distance/2.0),
		})
	}
	return matches, nil
}

// Contains reports whether the note has a live vector.
func (x *VectorIndex) Contains(id string) bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	_, ok := x.idMap[id]
	return ok
}

// Count returns the number of live vectors, excluding orphans.
func (x *VectorIndex) Count() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.idMap)
}

// Save exports the graph and ID mappings atomically (temp file + rename).
func (x *VectorIndex) Save(path string) error {
	x.mu.RLock()
	defer x.mu.RUnlock()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create index directory: %w", err)
	}

	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create index file: %w", err)
	}
	if err := x.graph.Export(file); err != nil {
		_ = file.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("export graph: %w", err)
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close index file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename index file: %w", err)
	}

	return x.saveMeta(path + ".meta")
}

func (x *VectorIndex) saveMeta(path string) error {
	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create metadata file: %w", err)
	}

	meta := vectorIndexMeta{
		IDMap:      x.idMap,
		NextKey:    x.nextKey,
		Dimensions: x.dims,
	}
	if err := gob.NewEncoder(file).Encode(meta); err != nil {
		_ = file.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("encode metadata: %w", err)
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close metadata file: %w", err)
	}
	return os.Rename(tmpPath, path)
}

// Load reads the graph and ID mappings from disk. A dimension mismatch
// against the index's configured dimension is an error; the caller falls
// back to a rebuild.
func (x *VectorIndex) Load(path string) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	metaFile, err := os.Open(path + ".meta")
	if err != nil {
		return fmt.Errorf("open metadata file: %w", err)
	}
	var meta vectorIndexMeta
	decodeErr := gob.NewDecoder(metaFile).Decode(&meta)
	_ = metaFile.Close()
	if decodeErr != nil {
		return fmt.Errorf("decode metadata: %w", decodeErr)
	}
	if meta.Dimensions != x.dims {
		return forerrors.New(forerrors.KindDimensionMismatch,
			"index file has dimension %d, configured %d", meta.Dimensions, x.dims)
	}

	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open index file: %w", err)
	}
	defer file.Close()

	// coder/hnsw Import requires an io.ByteReader.
	if err := x.graph.Import(bufio.NewReader(file)); err != nil {
		return fmt.Errorf("import graph: %w", err)
	}

	x.idMap = meta.IDMap
	x.nextKey = meta.NextKey
	x.keyMap = make(map[uint64]string, len(meta.IDMap))
	for id, key := range x.idMap {
		x.keyMap[key] = id
	}
	return nil
}

func normalizeInPlace(v []float32) {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= inv
	}
}

// encodeVector packs a float32 vector as a little-endian blob.
func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, val := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(val))
	}
	return buf
}

// decodeVector unpacks a blob produced by encodeVector, validating the
// expected dimension.
func decodeVector(blob []byte, dims int) ([]float32, error) {
	if len(blob) != 4*dims {
		return nil, forerrors.New(forerrors.KindDimensionMismatch,
			"stored vector blob has %d bytes, expected %d", len(blob), 4*dims)
	}
	v := make([]float32, dims)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[4*i:]))
	}
	return v, nil
}
