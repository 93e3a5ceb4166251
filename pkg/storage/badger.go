// Package storage - persistent graph store backed by BadgerDB.
package storage

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/dgraph-io/badger/v4"
)

// Key prefixes for BadgerDB storage organization.
// Single-byte prefixes keep keys compact and scans cheap.
const (
	prefixNode      = byte(0x01) // node id -> JSON(Node)
	prefixRel       = byte(0x02) // rel id -> JSON(Relationship)
	prefixLabel     = byte(0x03) // label 0x00 node id -> nil
	prefixOutgoing  = byte(0x04) // node id, rel id -> nil
	prefixIncoming  = byte(0x05) // node id, rel id -> nil
	prefixIndexMeta = byte(0x06) // label 0x00 property -> nil
	prefixIndexVal  = byte(0x07) // label 0x00 property 0x00 valkey 0x00 node id -> nil
	prefixMeta      = byte(0x08) // meta key -> value
)

var (
	metaNextNodeID = append([]byte{prefixMeta}, []byte("nextNodeID")...)
	metaNextRelID  = append([]byte{prefixMeta}, []byte("nextRelID")...)
)

// BadgerEngine is a persistent graph store on BadgerDB.
//
// Every mutation runs in a single Badger transaction covering the entity
// record and all of its index entries, so a crash never leaves an index
// pointing at a missing entity. Identifier counters are persisted with each
// create, making ids stable across restarts.
//
// Example:
//
//	engine, err := storage.NewBadgerEngine(storage.BadgerOptions{DataDir: dir})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer engine.Close()
type BadgerEngine struct {
	db      *badger.DB
	catalog *Catalog

	mu         sync.Mutex // serializes id assignment with the owning txn
	nextNodeID NodeID
	nextRelID  RelID

	closedMu sync.RWMutex
	closed   bool
}

// BadgerOptions configures the BadgerDB engine.
type BadgerOptions struct {
	// DataDir is the directory for data files. Required.
	DataDir string
	// InMemory runs Badger without touching disk; DataDir is ignored.
	InMemory bool
}

// NewBadgerEngine opens (or creates) a persistent store in the given
// directory and restores catalogs and id counters.
func NewBadgerEngine(opts BadgerOptions) (*BadgerEngine, error) {
	var bopts badger.Options
	if opts.InMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if opts.DataDir == "" {
			return nil, fmt.Errorf("badger engine: %w: DataDir is required", ErrInvalidData)
		}
		bopts = badger.DefaultOptions(opts.DataDir)
	}
	bopts = bopts.WithLogger(nil)

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}

	e := &BadgerEngine{db: db, catalog: NewCatalog()}
	if err := e.restore(); err != nil {
		db.Close()
		return nil, err
	}
	return e, nil
}

// restore rebuilds id counters and catalogs from persisted state.
func (e *BadgerEngine) restore() error {
	return e.db.View(func(txn *badger.Txn) error {
		if item, err := txn.Get(metaNextNodeID); err == nil {
			_ = item.Value(func(v []byte) error {
				e.nextNodeID = NodeID(binary.BigEndian.Uint64(v))
				return nil
			})
		}
		if item, err := txn.Get(metaNextRelID); err == nil {
			_ = item.Value(func(v []byte) error {
				e.nextRelID = RelID(binary.BigEndian.Uint64(v))
				return nil
			})
		}

		// Labels from the label index keys (cheap: keys only).
		it := txn.NewIterator(badger.IteratorOptions{Prefix: []byte{prefixLabel}})
		defer it.Close()
		seen := make(map[string]struct{})
		for it.Rewind(); it.Valid(); it.Next() {
			key := it.Item().Key()
			if label, _, ok := splitLabelKey(key); ok {
				if _, dup := seen[label]; !dup {
					seen[label] = struct{}{}
					e.catalog.EnsureLabel(label)
				}
			}
		}

		// Relationship types require reading values.
		rit := txn.NewIterator(badger.IteratorOptions{Prefix: []byte{prefixRel}})
		defer rit.Close()
		types := make(map[string]struct{})
		for rit.Rewind(); rit.Valid(); rit.Next() {
			err := rit.Item().Value(func(v []byte) error {
				var rel Relationship
				if err := json.Unmarshal(v, &rel); err != nil {
					return err
				}
				if _, dup := types[rel.Type]; !dup {
					types[rel.Type] = struct{}{}
					e.catalog.EnsureRelType(rel.Type)
				}
				return nil
			})
			if err != nil {
				return fmt.Errorf("restore relationship types: %w", err)
			}
		}
		return nil
	})
}

func (e *BadgerEngine) isClosed() bool {
	e.closedMu.RLock()
	defer e.closedMu.RUnlock()
	return e.closed
}

// CreateNode stores a new node with the next persistent id.
func (e *BadgerEngine) CreateNode(labels []string, properties map[string]any) (*Node, error) {
	if e.isClosed() {
		return nil, ErrStorageClosed
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.nextNodeID++
	node := &Node{
		ID:         e.nextNodeID,
		Labels:     append([]string(nil), labels...),
		Properties: CopyProperties(properties),
	}

	err := e.db.Update(func(txn *badger.Txn) error {
		if err := e.writeNode(txn, node); err != nil {
			return err
		}
		return txn.Set(metaNextNodeID, encodeUint64(uint64(e.nextNodeID)))
	})
	if err != nil {
		e.nextNodeID--
		return nil, fmt.Errorf("create node: %w", err)
	}
	for _, label := range node.Labels {
		e.catalog.EnsureLabel(label)
	}
	return CopyNode(node), nil
}

// GetNode retrieves a node by id.
func (e *BadgerEngine) GetNode(id NodeID) (*Node, error) {
	if e.isClosed() {
		return nil, ErrStorageClosed
	}
	var node *Node
	err := e.db.View(func(txn *badger.Txn) error {
		var err error
		node, err = readNode(txn, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return node, nil
}

// UpdateNode replaces the stored labels and properties of an existing node,
// rewriting its index entries.
func (e *BadgerEngine) UpdateNode(node *Node) error {
	if node == nil {
		return ErrInvalidData
	}
	if e.isClosed() {
		return ErrStorageClosed
	}

	err := e.db.Update(func(txn *badger.Txn) error {
		old, err := readNode(txn, node.ID)
		if err != nil {
			return err
		}
		if err := e.eraseNodeIndexes(txn, old); err != nil {
			return err
		}
		return e.writeNode(txn, node)
	})
	if err != nil {
		return fmt.Errorf("update node %d: %w", node.ID, err)
	}
	for _, label := range node.Labels {
		e.catalog.EnsureLabel(label)
	}
	return nil
}

// DeleteNode removes a node, honoring the detach contract.
func (e *BadgerEngine) DeleteNode(id NodeID, detach bool) error {
	if e.isClosed() {
		return ErrStorageClosed
	}

	return e.db.Update(func(txn *badger.Txn) error {
		node, err := readNode(txn, id)
		if err != nil {
			return err
		}

		incident, err := incidentRelIDs(txn, id)
		if err != nil {
			return err
		}
		if len(incident) > 0 {
			if !detach {
				return fmt.Errorf("node %d: %w", id, ErrNodeHasRelationships)
			}
			for _, rid := range incident {
				if err := deleteRelInTxn(txn, rid); err != nil {
					return err
				}
			}
		}

		if err := e.eraseNodeIndexes(txn, node); err != nil {
			return err
		}
		return txn.Delete(nodeKey(id))
	})
}

// CreateRelationship stores a new relationship between existing nodes.
func (e *BadgerEngine) CreateRelationship(start, end NodeID, relType string, properties map[string]any) (*Relationship, error) {
	if e.isClosed() {
		return nil, ErrStorageClosed
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.nextRelID++
	rel := &Relationship{
		ID:         e.nextRelID,
		Type:       relType,
		StartNode:  start,
		EndNode:    end,
		Properties: CopyProperties(properties),
	}

	err := e.db.Update(func(txn *badger.Txn) error {
		if _, err := readNode(txn, start); err != nil {
			return fmt.Errorf("start node %d: %w", start, ErrDanglingEndpoint)
		}
		if _, err := readNode(txn, end); err != nil {
			return fmt.Errorf("end node %d: %w", end, ErrDanglingEndpoint)
		}

		data, err := json.Marshal(rel)
		if err != nil {
			return err
		}
		if err := txn.Set(relKey(rel.ID), data); err != nil {
			return err
		}
		if err := txn.Set(adjacencyKey(prefixOutgoing, start, rel.ID), nil); err != nil {
			return err
		}
		if err := txn.Set(adjacencyKey(prefixIncoming, end, rel.ID), nil); err != nil {
			return err
		}
		return txn.Set(metaNextRelID, encodeUint64(uint64(e.nextRelID)))
	})
	if err != nil {
		e.nextRelID--
		return nil, err
	}
	e.catalog.EnsureRelType(relType)
	return CopyRelationship(rel), nil
}

// GetRelationship retrieves a relationship by id.
func (e *BadgerEngine) GetRelationship(id RelID) (*Relationship, error) {
	if e.isClosed() {
		return nil, ErrStorageClosed
	}
	var rel *Relationship
	err := e.db.View(func(txn *badger.Txn) error {
		var err error
		rel, err = readRel(txn, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rel, nil
}

// UpdateRelationship replaces the stored properties of a relationship.
func (e *BadgerEngine) UpdateRelationship(rel *Relationship) error {
	if rel == nil {
		return ErrInvalidData
	}
	if e.isClosed() {
		return ErrStorageClosed
	}

	return e.db.Update(func(txn *badger.Txn) error {
		old, err := readRel(txn, rel.ID)
		if err != nil {
			return err
		}
		old.Properties = CopyProperties(rel.Properties)
		data, err := json.Marshal(old)
		if err != nil {
			return err
		}
		return txn.Set(relKey(rel.ID), data)
	})
}

// DeleteRelationship removes a relationship by id.
func (e *BadgerEngine) DeleteRelationship(id RelID) error {
	if e.isClosed() {
		return ErrStorageClosed
	}
	return e.db.Update(func(txn *badger.Txn) error {
		return deleteRelInTxn(txn, id)
	})
}

// AllNodes returns an id-ordered snapshot of every node.
func (e *BadgerEngine) AllNodes() ([]*Node, error) {
	if e.isClosed() {
		return nil, ErrStorageClosed
	}
	var out []*Node
	err := e.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: []byte{prefixNode}, PrefetchValues: true})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(v []byte) error {
				var node Node
				if err := json.Unmarshal(v, &node); err != nil {
					return err
				}
				out = append(out, &node)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortNodes(out)
	return out, nil
}

// NodesByLabel returns an id-ordered snapshot of nodes carrying the label,
// resolved through the label index.
func (e *BadgerEngine) NodesByLabel(label string) ([]*Node, error) {
	if e.isClosed() {
		return nil, ErrStorageClosed
	}
	var out []*Node
	err := e.db.View(func(txn *badger.Txn) error {
		prefix := labelKeyPrefix(label)
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			key := it.Item().Key()
			id := NodeID(binary.BigEndian.Uint64(key[len(prefix):]))
			node, err := readNode(txn, id)
			if err != nil {
				return err
			}
			out = append(out, node)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortNodes(out)
	return out, nil
}

// Expand yields the (relationship, neighbor) pairs incident to a node,
// ordered by relationship id within each direction.
func (e *BadgerEngine) Expand(id NodeID, dir Direction, relType string) ([]Traversal, error) {
	if e.isClosed() {
		return nil, ErrStorageClosed
	}
	var out []Traversal
	err := e.db.View(func(txn *badger.Txn) error {
		if _, err := readNode(txn, id); err != nil {
			return err
		}
		collect := func(prefix byte, outbound bool) error {
			keyPrefix := adjacencyKeyPrefix(prefix, id)
			it := txn.NewIterator(badger.IteratorOptions{Prefix: keyPrefix})
			defer it.Close()
			for it.Rewind(); it.Valid(); it.Next() {
				key := it.Item().Key()
				rid := RelID(binary.BigEndian.Uint64(key[len(keyPrefix):]))
				rel, err := readRel(txn, rid)
				if err != nil {
					return err
				}
				if relType != "" && rel.Type != relType {
					continue
				}
				neighbor := rel.EndNode
				if !outbound {
					neighbor = rel.StartNode
				}
				out = append(out, Traversal{Rel: rel, Neighbor: neighbor})
			}
			return nil
		}

		switch dir {
		case DirectionOutgoing:
			return collect(prefixOutgoing, true)
		case DirectionIncoming:
			return collect(prefixIncoming, false)
		case DirectionBoth:
			if err := collect(prefixOutgoing, true); err != nil {
				return err
			}
			return collect(prefixIncoming, false)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// CreateIndex creates a (label, property) point index and backfills it.
func (e *BadgerEngine) CreateIndex(label, property string) error {
	if e.isClosed() {
		return ErrStorageClosed
	}

	return e.db.Update(func(txn *badger.Txn) error {
		metaKey := indexMetaKey(label, property)
		if _, err := txn.Get(metaKey); err == nil {
			return fmt.Errorf("index on :%s(%s): %w", label, property, ErrIndexExists)
		}
		if err := txn.Set(metaKey, nil); err != nil {
			return err
		}

		// Backfill from the label index.
		prefix := labelKeyPrefix(label)
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			key := it.Item().Key()
			id := NodeID(binary.BigEndian.Uint64(key[len(prefix):]))
			node, err := readNode(txn, id)
			if err != nil {
				return err
			}
			if v, ok := node.Properties[property]; ok {
				if valKey, indexable := IndexKey(v); indexable {
					if err := txn.Set(indexValKey(label, property, valKey, id), nil); err != nil {
						return err
					}
				}
			}
		}
		return nil
	})
}

// HasIndex reports whether a (label, property) index exists.
func (e *BadgerEngine) HasIndex(label, property string) bool {
	if e.isClosed() {
		return false
	}
	found := false
	_ = e.db.View(func(txn *badger.Txn) error {
		if _, err := txn.Get(indexMetaKey(label, property)); err == nil {
			found = true
		}
		return nil
	})
	return found
}

// IndexLookup resolves a point lookup through the property index.
func (e *BadgerEngine) IndexLookup(label, property string, value any) ([]*Node, error) {
	if e.isClosed() {
		return nil, ErrStorageClosed
	}
	valKey, indexable := IndexKey(value)
	if !indexable {
		return nil, nil
	}

	var out []*Node
	err := e.db.View(func(txn *badger.Txn) error {
		if _, err := txn.Get(indexMetaKey(label, property)); err != nil {
			return fmt.Errorf("index on :%s(%s): %w", label, property, ErrIndexNotFound)
		}
		prefix := indexValKeyPrefix(label, property, valKey)
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			key := it.Item().Key()
			id := NodeID(binary.BigEndian.Uint64(key[len(prefix):]))
			node, err := readNode(txn, id)
			if err != nil {
				return err
			}
			out = append(out, node)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortNodes(out)
	return out, nil
}

// Indexes lists the property indexes, ordered by label then property.
func (e *BadgerEngine) Indexes() []IndexDescriptor {
	var out []IndexDescriptor
	if e.isClosed() {
		return out
	}
	_ = e.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: []byte{prefixIndexMeta}})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			key := it.Item().Key()[1:]
			if sep := bytes.IndexByte(key, 0x00); sep >= 0 {
				out = append(out, IndexDescriptor{
					Label:    string(key[:sep]),
					Property: string(key[sep+1:]),
				})
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].Label != out[j].Label {
			return out[i].Label < out[j].Label
		}
		return out[i].Property < out[j].Property
	})
	return out
}

// Catalog returns the label / relationship-type catalogs.
func (e *BadgerEngine) Catalog() *Catalog {
	return e.catalog
}

// NodeCount returns the number of stored nodes.
func (e *BadgerEngine) NodeCount() int64 {
	return e.countPrefix(prefixNode)
}

// RelationshipCount returns the number of stored relationships.
func (e *BadgerEngine) RelationshipCount() int64 {
	return e.countPrefix(prefixRel)
}

func (e *BadgerEngine) countPrefix(prefix byte) int64 {
	if e.isClosed() {
		return 0
	}
	var count int64
	_ = e.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: []byte{prefix}})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			count++
		}
		return nil
	})
	return count
}

// Close flushes and closes the underlying BadgerDB.
func (e *BadgerEngine) Close() error {
	e.closedMu.Lock()
	defer e.closedMu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	return e.db.Close()
}

// writeNode persists a node record plus its label and property index
// entries. Caller provides the transaction.
func (e *BadgerEngine) writeNode(txn *badger.Txn, node *Node) error {
	data, err := json.Marshal(node)
	if err != nil {
		return err
	}
	if err := txn.Set(nodeKey(node.ID), data); err != nil {
		return err
	}
	for _, label := range node.Labels {
		if err := txn.Set(labelKey(label, node.ID), nil); err != nil {
			return err
		}
	}
	return e.writePropIndexEntries(txn, node)
}

func (e *BadgerEngine) writePropIndexEntries(txn *badger.Txn, node *Node) error {
	for _, desc := range e.indexesInTxn(txn) {
		if !node.HasLabel(desc.Label) {
			continue
		}
		v, ok := node.Properties[desc.Property]
		if !ok {
			continue
		}
		valKey, indexable := IndexKey(v)
		if !indexable {
			continue
		}
		if err := txn.Set(indexValKey(desc.Label, desc.Property, valKey, node.ID), nil); err != nil {
			return err
		}
	}
	return nil
}

// eraseNodeIndexes removes a node's label and property index entries.
func (e *BadgerEngine) eraseNodeIndexes(txn *badger.Txn, node *Node) error {
	for _, label := range node.Labels {
		if err := txn.Delete(labelKey(label, node.ID)); err != nil {
			return err
		}
	}
	for _, desc := range e.indexesInTxn(txn) {
		if !node.HasLabel(desc.Label) {
			continue
		}
		v, ok := node.Properties[desc.Property]
		if !ok {
			continue
		}
		valKey, indexable := IndexKey(v)
		if !indexable {
			continue
		}
		if err := txn.Delete(indexValKey(desc.Label, desc.Property, valKey, node.ID)); err != nil {
			return err
		}
	}
	return nil
}

func (e *BadgerEngine) indexesInTxn(txn *badger.Txn) []IndexDescriptor {
	var out []IndexDescriptor
	it := txn.NewIterator(badger.IteratorOptions{Prefix: []byte{prefixIndexMeta}})
	defer it.Close()
	for it.Rewind(); it.Valid(); it.Next() {
		key := it.Item().Key()[1:]
		if sep := bytes.IndexByte(key, 0x00); sep >= 0 {
			out = append(out, IndexDescriptor{Label: string(key[:sep]), Property: string(key[sep+1:])})
		}
	}
	return out
}

// =============================================================================
// Key construction and record helpers
// =============================================================================

func encodeUint64(v uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	return buf
}

func nodeKey(id NodeID) []byte {
	return append([]byte{prefixNode}, encodeUint64(uint64(id))...)
}

func relKey(id RelID) []byte {
	return append([]byte{prefixRel}, encodeUint64(uint64(id))...)
}

func labelKeyPrefix(label string) []byte {
	key := append([]byte{prefixLabel}, []byte(label)...)
	return append(key, 0x00)
}

func labelKey(label string, id NodeID) []byte {
	return append(labelKeyPrefix(label), encodeUint64(uint64(id))...)
}

func splitLabelKey(key []byte) (label string, id NodeID, ok bool) {
	body := key[1:]
	sep := bytes.IndexByte(body, 0x00)
	if sep < 0 || len(body) < sep+1+8 {
		return "", 0, false
	}
	return string(body[:sep]), NodeID(binary.BigEndian.Uint64(body[sep+1:])), true
}

func adjacencyKeyPrefix(prefix byte, id NodeID) []byte {
	return append([]byte{prefix}, encodeUint64(uint64(id))...)
}

func adjacencyKey(prefix byte, nodeID NodeID, relID RelID) []byte {
	return append(adjacencyKeyPrefix(prefix, nodeID), encodeUint64(uint64(relID))...)
}

func indexMetaKey(label, property string) []byte {
	key := append([]byte{prefixIndexMeta}, []byte(label)...)
	key = append(key, 0x00)
	return append(key, []byte(property)...)
}

func indexValKeyPrefix(label, property, valKey string) []byte {
	key := append([]byte{prefixIndexVal}, []byte(label)...)
	key = append(key, 0x00)
	key = append(key, []byte(property)...)
	key = append(key, 0x00)
	key = append(key, []byte(valKey)...)
	return append(key, 0x00)
}

func indexValKey(label, property, valKey string, id NodeID) []byte {
	return append(indexValKeyPrefix(label, property, valKey), encodeUint64(uint64(id))...)
}

func readNode(txn *badger.Txn, id NodeID) (*Node, error) {
	item, err := txn.Get(nodeKey(id))
	if err == badger.ErrKeyNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var node Node
	if err := item.Value(func(v []byte) error { return json.Unmarshal(v, &node) }); err != nil {
		return nil, err
	}
	return &node, nil
}

func readRel(txn *badger.Txn, id RelID) (*Relationship, error) {
	item, err := txn.Get(relKey(id))
	if err == badger.ErrKeyNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var rel Relationship
	if err := item.Value(func(v []byte) error { return json.Unmarshal(v, &rel) }); err != nil {
		return nil, err
	}
	return &rel, nil
}

func incidentRelIDs(txn *badger.Txn, id NodeID) ([]RelID, error) {
	var out []RelID
	for _, prefix := range []byte{prefixOutgoing, prefixIncoming} {
		keyPrefix := adjacencyKeyPrefix(prefix, id)
		it := txn.NewIterator(badger.IteratorOptions{Prefix: keyPrefix})
		for it.Rewind(); it.Valid(); it.Next() {
			key := it.Item().Key()
			out = append(out, RelID(binary.BigEndian.Uint64(key[len(keyPrefix):])))
		}
		it.Close()
	}
	return out, nil
}

func deleteRelInTxn(txn *badger.Txn, id RelID) error {
	rel, err := readRel(txn, id)
	if err != nil {
		return err
	}
	if err := txn.Delete(adjacencyKey(prefixOutgoing, rel.StartNode, id)); err != nil {
		return err
	}
	if err := txn.Delete(adjacencyKey(prefixIncoming, rel.EndNode, id)); err != nil {
		return err
	}
	return txn.Delete(relKey(id))
}
