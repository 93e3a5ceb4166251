// Package storage provides the graph store interface and implementations for HuginDB.
//
// The store owns nodes, relationships, labels, relationship types and
// properties, and exposes the scan/lookup/mutate primitives the query engine
// is built on. Two implementations are provided:
//   - MemoryEngine: in-memory storage for tests and small datasets
//   - BadgerEngine: persistent disk storage backed by BadgerDB
//
// Design principles:
//   - Labeled property graph model (Neo4j-compatible result shapes)
//   - Server-assigned monotonic integer identifiers, never reused
//   - Thread-safe implementations; snapshot-consistent scans
//   - Secondary indexes are accelerators only: every lookup has a
//     full-scan fallback producing the identical result set
//
// Example usage:
//
//	engine := storage.NewMemoryEngine()
//	defer engine.Close()
//
//	alice, _ := engine.CreateNode([]string{"Person"}, map[string]any{"name": "Alice"})
//	acme, _ := engine.CreateNode([]string{"Company"}, map[string]any{"name": "Acme"})
//	engine.CreateRelationship(alice.ID, acme.ID, "WORKS_AT", nil)
//
//	out, _ := engine.Expand(alice.ID, storage.DirectionOutgoing, "WORKS_AT")
//	for _, t := range out {
//		fmt.Printf("%d -[%s]-> %d\n", alice.ID, t.Rel.Type, t.Neighbor)
//	}
package storage

import "errors"

// Common errors returned by Engine implementations.
var (
	ErrNotFound             = errors.New("not found")
	ErrInvalidData          = errors.New("invalid data")
	ErrStorageClosed        = errors.New("storage closed")
	ErrDanglingEndpoint     = errors.New("invalid relationship: start or end node not found")
	ErrNodeHasRelationships = errors.New("cannot delete node with relationships (use DETACH DELETE)")
	ErrIndexExists          = errors.New("index already exists")
	ErrIndexNotFound        = errors.New("index not found")
)

// NodeID is a server-assigned monotonic identifier for graph nodes.
//
// IDs are unique for the lifetime of the store and never reused, but are
// not guaranteed stable across restarts unless the engine persists them
// (BadgerEngine does, MemoryEngine does not).
type NodeID int64

// RelID is a server-assigned monotonic identifier for relationships.
type RelID int64

// Node is a vertex in the labeled property graph.
//
// Labels are an order-irrelevant set of type tags; Properties map keys to
// typed scalar or list values (int64, float64, string, bool, []any, nil,
// time.Time). Nodes are created by CREATE/MERGE, mutated by SET/REMOVE and
// destroyed only by explicit DELETE.
//
// Node structs are not thread-safe; the storage engine hands out copies.
type Node struct {
	ID         NodeID         `json:"id"`
	Labels     []string       `json:"labels"`
	Properties map[string]any `json:"properties"`
}

// HasLabel reports whether the node carries the given label.
func (n *Node) HasLabel(label string) bool {
	for _, l := range n.Labels {
		if l == label {
			return true
		}
	}
	return false
}

// Relationship is a directed, typed edge between two nodes.
//
// A relationship has exactly one type name and cannot exist without both
// endpoint nodes existing at creation time. It is implicitly destroyed when
// either endpoint is destroyed via DETACH DELETE.
type Relationship struct {
	ID         RelID          `json:"id"`
	Type       string         `json:"type"`
	StartNode  NodeID         `json:"start"`
	EndNode    NodeID         `json:"end"`
	Properties map[string]any `json:"properties"`
}

// Direction selects which incident relationships Expand traverses.
type Direction int

const (
	DirectionOutgoing Direction = iota
	DirectionIncoming
	DirectionBoth
)

// Traversal is one step yielded by Expand: the relationship crossed and the
// node reached on its far side.
//
// DirectionBoth yields each relationship once per traversed direction, so an
// undirected pattern over a single relationship can observe it from both
// endpoints; de-duplication is the query planner's concern, not the store's.
type Traversal struct {
	Rel      *Relationship
	Neighbor NodeID
}

// IndexDescriptor identifies a property point index.
type IndexDescriptor struct {
	Label    string `json:"label"`
	Property string `json:"property"`
}

// Engine is the graph store contract the query engine executes against.
//
// All implementations must be safe for concurrent use. Mutations are
// linearizable with respect to the coordinator's write token (held by the
// caller, see pkg/hugindb); scans return id-ordered materialized snapshots
// that are consistent as of scan start.
type Engine interface {
	// Node operations. CreateNode assigns the next monotonic NodeID.
	CreateNode(labels []string, properties map[string]any) (*Node, error)
	GetNode(id NodeID) (*Node, error)
	UpdateNode(node *Node) error
	// DeleteNode fails with ErrNodeHasRelationships when detach is false
	// and incident relationships exist; with detach it removes them first.
	DeleteNode(id NodeID, detach bool) error

	// Relationship operations. CreateRelationship fails with
	// ErrDanglingEndpoint if either endpoint is absent.
	CreateRelationship(start, end NodeID, relType string, properties map[string]any) (*Relationship, error)
	GetRelationship(id RelID) (*Relationship, error)
	UpdateRelationship(rel *Relationship) error
	DeleteRelationship(id RelID) error

	// Scan operations, id-ordered for deterministic plans.
	AllNodes() ([]*Node, error)
	NodesByLabel(label string) ([]*Node, error)
	// Expand yields (relationship, neighbor) pairs incident to the node.
	// relType filters by relationship type; empty matches all types.
	Expand(id NodeID, dir Direction, relType string) ([]Traversal, error)

	// Index operations. Indexes accelerate (label, property, value) point
	// lookups; IndexLookup on a missing index returns ErrIndexNotFound and
	// callers fall back to a label scan.
	CreateIndex(label, property string) error
	HasIndex(label, property string) bool
	IndexLookup(label, property string, value any) ([]*Node, error)
	Indexes() []IndexDescriptor

	// Catalog exposes the append-only label / relationship-type catalogs.
	Catalog() *Catalog

	// Stats
	NodeCount() int64
	RelationshipCount() int64

	// Lifecycle
	Close() error
}

// CopyProperties returns a shallow-value copy of a property map, never nil.
func CopyProperties(props map[string]any) map[string]any {
	out := make(map[string]any, len(props))
	for k, v := range props {
		out[k] = v
	}
	return out
}

// CopyNode deep-copies a node so callers cannot mutate stored state.
func CopyNode(n *Node) *Node {
	if n == nil {
		return nil
	}
	labels := make([]string, len(n.Labels))
	copy(labels, n.Labels)
	return &Node{ID: n.ID, Labels: labels, Properties: CopyProperties(n.Properties)}
}

// CopyRelationship deep-copies a relationship.
func CopyRelationship(r *Relationship) *Relationship {
	if r == nil {
		return nil
	}
	return &Relationship{
		ID:         r.ID,
		Type:       r.Type,
		StartNode:  r.StartNode,
		EndNode:    r.EndNode,
		Properties: CopyProperties(r.Properties),
	}
}
