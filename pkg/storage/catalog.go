// Package storage - append-only label and relationship-type catalogs.
package storage

import "sync"

// Catalog maps label and relationship-type names to stable small-integer
// ids, keeping index keys and persistent layouts compact.
//
// The mapping is append-only: an entry is created on first use and never
// removed while the store is alive. Ids are assigned in registration order
// starting at 1, so the same sequence of first-uses always produces the
// same ids.
type Catalog struct {
	mu         sync.RWMutex
	labels     map[string]uint32
	labelNames []string
	relTypes   map[string]uint32
	typeNames  []string
}

// NewCatalog creates empty catalogs.
func NewCatalog() *Catalog {
	return &Catalog{
		labels:   make(map[string]uint32),
		relTypes: make(map[string]uint32),
	}
}

// EnsureLabel returns the id for a label name, registering it on first use.
func (c *Catalog) EnsureLabel(name string) uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()

	if id, ok := c.labels[name]; ok {
		return id
	}
	c.labelNames = append(c.labelNames, name)
	id := uint32(len(c.labelNames))
	c.labels[name] = id
	return id
}

// LabelID looks up a label id without registering.
func (c *Catalog) LabelID(name string) (uint32, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.labels[name]
	return id, ok
}

// EnsureRelType returns the id for a relationship type, registering it on
// first use.
func (c *Catalog) EnsureRelType(name string) uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()

	if id, ok := c.relTypes[name]; ok {
		return id
	}
	c.typeNames = append(c.typeNames, name)
	id := uint32(len(c.typeNames))
	c.relTypes[name] = id
	return id
}

// RelTypeID looks up a relationship type id without registering.
func (c *Catalog) RelTypeID(name string) (uint32, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.relTypes[name]
	return id, ok
}

// Labels returns all registered label names in registration order.
func (c *Catalog) Labels() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, len(c.labelNames))
	copy(out, c.labelNames)
	return out
}

// RelTypes returns all registered relationship type names in registration
// order.
func (c *Catalog) RelTypes() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, len(c.typeNames))
	copy(out, c.typeNames)
	return out
}
