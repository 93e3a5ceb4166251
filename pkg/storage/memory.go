// Package storage - in-memory graph store.
package storage

import (
	"fmt"
	"sort"
	"sync"
)

// MemoryEngine is a thread-safe in-memory graph store.
//
// Use cases:
//   - Unit testing (no disk I/O, fast cleanup)
//   - Small datasets that fit entirely in RAM
//   - Development and prototyping
//
// Performance characteristics:
//   - Node/relationship lookup by id: O(1)
//   - Label lookup: O(k) where k = nodes with that label
//   - Expand: O(degree)
//
// All public methods are safe for concurrent use; returned entities are
// deep copies so callers can never mutate stored state.
//
// ELI12:
//
// Think of MemoryEngine like a whiteboard graph: circles (nodes) with
// sticky notes (properties), arrows (relationships) between them, and a
// numbered list in the corner so you can find any circle instantly. When
// the program ends, the whiteboard is wiped; use BadgerEngine when the
// drawing has to survive a restart.
type MemoryEngine struct {
	mu sync.RWMutex

	nodes map[NodeID]*Node
	rels  map[RelID]*Relationship

	// Adjacency and label indexes
	nodesByLabel map[string]map[NodeID]struct{}
	outgoing     map[NodeID]map[RelID]struct{}
	incoming     map[NodeID]map[RelID]struct{}

	// Property point indexes created by CREATE INDEX
	propIndexes map[string]*propertyIndex

	catalog *Catalog

	nextNodeID NodeID
	nextRelID  RelID
	closed     bool
}

// NewMemoryEngine creates an empty in-memory store ready for concurrent use.
func NewMemoryEngine() *MemoryEngine {
	return &MemoryEngine{
		nodes:        make(map[NodeID]*Node),
		rels:         make(map[RelID]*Relationship),
		nodesByLabel: make(map[string]map[NodeID]struct{}),
		outgoing:     make(map[NodeID]map[RelID]struct{}),
		incoming:     make(map[NodeID]map[RelID]struct{}),
		propIndexes:  make(map[string]*propertyIndex),
		catalog:      NewCatalog(),
	}
}

// CreateNode stores a new node and returns it with its assigned id.
func (m *MemoryEngine) CreateNode(labels []string, properties map[string]any) (*Node, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrStorageClosed
	}

	m.nextNodeID++
	node := &Node{
		ID:         m.nextNodeID,
		Labels:     append([]string(nil), labels...),
		Properties: CopyProperties(properties),
	}
	m.nodes[node.ID] = node
	m.indexNode(node)

	return CopyNode(node), nil
}

// GetNode retrieves a node by id, returning a deep copy.
func (m *MemoryEngine) GetNode(id NodeID) (*Node, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStorageClosed
	}
	node, ok := m.nodes[id]
	if !ok {
		return nil, ErrNotFound
	}
	return CopyNode(node), nil
}

// UpdateNode replaces the stored labels and properties of an existing node.
func (m *MemoryEngine) UpdateNode(node *Node) error {
	if node == nil {
		return ErrInvalidData
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStorageClosed
	}
	existing, ok := m.nodes[node.ID]
	if !ok {
		return ErrNotFound
	}

	m.unindexNode(existing)
	stored := CopyNode(node)
	m.nodes[node.ID] = stored
	m.indexNode(stored)
	return nil
}

// DeleteNode removes a node. Without detach it fails with
// ErrNodeHasRelationships while incident relationships exist; with detach
// the incident relationships are removed first.
func (m *MemoryEngine) DeleteNode(id NodeID, detach bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStorageClosed
	}
	node, ok := m.nodes[id]
	if !ok {
		return ErrNotFound
	}

	incident := make([]RelID, 0, len(m.outgoing[id])+len(m.incoming[id]))
	for rid := range m.outgoing[id] {
		incident = append(incident, rid)
	}
	for rid := range m.incoming[id] {
		incident = append(incident, rid)
	}

	if len(incident) > 0 {
		if !detach {
			return fmt.Errorf("node %d: %w", id, ErrNodeHasRelationships)
		}
		for _, rid := range incident {
			m.removeRelLocked(rid)
		}
	}

	m.unindexNode(node)
	delete(m.nodes, id)
	delete(m.outgoing, id)
	delete(m.incoming, id)
	return nil
}

// CreateRelationship stores a new directed relationship between two existing
// nodes. Fails with ErrDanglingEndpoint if either endpoint is absent.
func (m *MemoryEngine) CreateRelationship(start, end NodeID, relType string, properties map[string]any) (*Relationship, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrStorageClosed
	}
	if _, ok := m.nodes[start]; !ok {
		return nil, fmt.Errorf("start node %d: %w", start, ErrDanglingEndpoint)
	}
	if _, ok := m.nodes[end]; !ok {
		return nil, fmt.Errorf("end node %d: %w", end, ErrDanglingEndpoint)
	}

	m.nextRelID++
	rel := &Relationship{
		ID:         m.nextRelID,
		Type:       relType,
		StartNode:  start,
		EndNode:    end,
		Properties: CopyProperties(properties),
	}
	m.rels[rel.ID] = rel
	m.catalog.EnsureRelType(relType)

	if m.outgoing[start] == nil {
		m.outgoing[start] = make(map[RelID]struct{})
	}
	m.outgoing[start][rel.ID] = struct{}{}
	if m.incoming[end] == nil {
		m.incoming[end] = make(map[RelID]struct{})
	}
	m.incoming[end][rel.ID] = struct{}{}

	return CopyRelationship(rel), nil
}

// GetRelationship retrieves a relationship by id, returning a deep copy.
func (m *MemoryEngine) GetRelationship(id RelID) (*Relationship, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStorageClosed
	}
	rel, ok := m.rels[id]
	if !ok {
		return nil, ErrNotFound
	}
	return CopyRelationship(rel), nil
}

// UpdateRelationship replaces the stored properties of a relationship.
// Type and endpoints are immutable.
func (m *MemoryEngine) UpdateRelationship(rel *Relationship) error {
	if rel == nil {
		return ErrInvalidData
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStorageClosed
	}
	existing, ok := m.rels[rel.ID]
	if !ok {
		return ErrNotFound
	}
	existing.Properties = CopyProperties(rel.Properties)
	return nil
}

// DeleteRelationship removes a relationship by id.
func (m *MemoryEngine) DeleteRelationship(id RelID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStorageClosed
	}
	if _, ok := m.rels[id]; !ok {
		return ErrNotFound
	}
	m.removeRelLocked(id)
	return nil
}

// AllNodes returns a deep-copied, id-ordered snapshot of every node.
func (m *MemoryEngine) AllNodes() ([]*Node, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStorageClosed
	}
	out := make([]*Node, 0, len(m.nodes))
	for _, n := range m.nodes {
		out = append(out, CopyNode(n))
	}
	sortNodes(out)
	return out, nil
}

// NodesByLabel returns an id-ordered snapshot of nodes carrying the label.
func (m *MemoryEngine) NodesByLabel(label string) ([]*Node, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStorageClosed
	}
	set := m.nodesByLabel[label]
	out := make([]*Node, 0, len(set))
	for id := range set {
		out = append(out, CopyNode(m.nodes[id]))
	}
	sortNodes(out)
	return out, nil
}

// Expand yields the (relationship, neighbor) pairs incident to a node,
// ordered by relationship id. DirectionBoth yields each relationship once
// per traversed direction.
func (m *MemoryEngine) Expand(id NodeID, dir Direction, relType string) ([]Traversal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStorageClosed
	}
	if _, ok := m.nodes[id]; !ok {
		return nil, ErrNotFound
	}

	var out []Traversal
	collect := func(set map[RelID]struct{}, outbound bool) {
		ids := make([]RelID, 0, len(set))
		for rid := range set {
			ids = append(ids, rid)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		for _, rid := range ids {
			rel := m.rels[rid]
			if relType != "" && rel.Type != relType {
				continue
			}
			neighbor := rel.EndNode
			if !outbound {
				neighbor = rel.StartNode
			}
			out = append(out, Traversal{Rel: CopyRelationship(rel), Neighbor: neighbor})
		}
	}

	switch dir {
	case DirectionOutgoing:
		collect(m.outgoing[id], true)
	case DirectionIncoming:
		collect(m.incoming[id], false)
	case DirectionBoth:
		collect(m.outgoing[id], true)
		collect(m.incoming[id], false)
	}
	return out, nil
}

// CreateIndex creates a (label, property) point index and backfills it from
// existing nodes. Fails with ErrIndexExists on a duplicate.
func (m *MemoryEngine) CreateIndex(label, property string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStorageClosed
	}
	name := indexName(label, property)
	if _, ok := m.propIndexes[name]; ok {
		return fmt.Errorf("index on :%s(%s): %w", label, property, ErrIndexExists)
	}

	ix := newPropertyIndex(label, property)
	for id := range m.nodesByLabel[label] {
		node := m.nodes[id]
		if v, ok := node.Properties[property]; ok {
			ix.add(v, id)
		}
	}
	m.propIndexes[name] = ix
	m.catalog.EnsureLabel(label)
	return nil
}

// HasIndex reports whether a (label, property) index exists.
func (m *MemoryEngine) HasIndex(label, property string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.propIndexes[indexName(label, property)]
	return ok
}

// IndexLookup returns the id-ordered nodes whose property equals value,
// resolved through the point index.
func (m *MemoryEngine) IndexLookup(label, property string, value any) ([]*Node, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStorageClosed
	}
	ix, ok := m.propIndexes[indexName(label, property)]
	if !ok {
		return nil, fmt.Errorf("index on :%s(%s): %w", label, property, ErrIndexNotFound)
	}
	ids := ix.lookup(value)
	out := make([]*Node, 0, len(ids))
	for _, id := range ids {
		out = append(out, CopyNode(m.nodes[id]))
	}
	sortNodes(out)
	return out, nil
}

// Indexes lists the property indexes, ordered by label then property.
func (m *MemoryEngine) Indexes() []IndexDescriptor {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]IndexDescriptor, 0, len(m.propIndexes))
	for _, ix := range m.propIndexes {
		out = append(out, IndexDescriptor{Label: ix.label, Property: ix.property})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Label != out[j].Label {
			return out[i].Label < out[j].Label
		}
		return out[i].Property < out[j].Property
	})
	return out
}

// Catalog returns the label / relationship-type catalogs.
func (m *MemoryEngine) Catalog() *Catalog {
	return m.catalog
}

// NodeCount returns the number of stored nodes.
func (m *MemoryEngine) NodeCount() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.nodes))
}

// RelationshipCount returns the number of stored relationships.
func (m *MemoryEngine) RelationshipCount() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.rels))
}

// Close marks the engine closed; subsequent operations fail with
// ErrStorageClosed.
func (m *MemoryEngine) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// indexNode registers a node in the label and property indexes.
// Caller must hold the write lock.
func (m *MemoryEngine) indexNode(node *Node) {
	for _, label := range node.Labels {
		m.catalog.EnsureLabel(label)
		if m.nodesByLabel[label] == nil {
			m.nodesByLabel[label] = make(map[NodeID]struct{})
		}
		m.nodesByLabel[label][node.ID] = struct{}{}
	}
	for _, ix := range m.propIndexes {
		if node.HasLabel(ix.label) {
			if v, ok := node.Properties[ix.property]; ok {
				ix.add(v, node.ID)
			}
		}
	}
}

// unindexNode removes a node from the label and property indexes.
// Caller must hold the write lock.
func (m *MemoryEngine) unindexNode(node *Node) {
	for _, label := range node.Labels {
		if set := m.nodesByLabel[label]; set != nil {
			delete(set, node.ID)
		}
	}
	for _, ix := range m.propIndexes {
		if node.HasLabel(ix.label) {
			if v, ok := node.Properties[ix.property]; ok {
				ix.remove(v, node.ID)
			}
		}
	}
}

// removeRelLocked removes a relationship and its adjacency entries.
// Caller must hold the write lock.
func (m *MemoryEngine) removeRelLocked(id RelID) {
	rel, ok := m.rels[id]
	if !ok {
		return
	}
	if set := m.outgoing[rel.StartNode]; set != nil {
		delete(set, id)
	}
	if set := m.incoming[rel.EndNode]; set != nil {
		delete(set, id)
	}
	delete(m.rels, id)
}

func sortNodes(nodes []*Node) {
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
}
