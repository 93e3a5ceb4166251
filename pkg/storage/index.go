// Package storage - secondary index structures.
package storage

import (
	"fmt"
	"strconv"
	"time"
)

// propertyIndex maps canonical property values to the set of node ids that
// carry that value under a given (label, property) pair.
//
// The index is a pure accelerator: the planner falls back to a label scan
// when no index exists, and both paths must produce the same result set.
type propertyIndex struct {
	label    string
	property string
	values   map[string]map[NodeID]struct{}
}

func newPropertyIndex(label, property string) *propertyIndex {
	return &propertyIndex{
		label:    label,
		property: property,
		values:   make(map[string]map[NodeID]struct{}),
	}
}

func (ix *propertyIndex) add(value any, id NodeID) {
	key, ok := IndexKey(value)
	if !ok {
		return
	}
	set := ix.values[key]
	if set == nil {
		set = make(map[NodeID]struct{})
		ix.values[key] = set
	}
	set[id] = struct{}{}
}

func (ix *propertyIndex) remove(value any, id NodeID) {
	key, ok := IndexKey(value)
	if !ok {
		return
	}
	if set := ix.values[key]; set != nil {
		delete(set, id)
		if len(set) == 0 {
			delete(ix.values, key)
		}
	}
}

func (ix *propertyIndex) lookup(value any) []NodeID {
	key, ok := IndexKey(value)
	if !ok {
		return nil
	}
	set := ix.values[key]
	ids := make([]NodeID, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	return ids
}

// indexName identifies a property index within an engine.
func indexName(label, property string) string {
	return label + "." + property
}

// IndexKey canonicalizes a property value for index storage so that values
// the query engine treats as equal collide on the same key. Integers and
// floats share a numeric keyspace (30 and 30.0 are the same value in
// Cypher). Lists and maps are not indexable; ok is false for them.
func IndexKey(value any) (string, bool) {
	switch v := value.(type) {
	case nil:
		return "", false
	case string:
		return "s:" + v, true
	case bool:
		return "b:" + strconv.FormatBool(v), true
	case int:
		return "n:" + strconv.FormatFloat(float64(v), 'g', -1, 64), true
	case int64:
		return "n:" + strconv.FormatFloat(float64(v), 'g', -1, 64), true
	case float64:
		return "n:" + strconv.FormatFloat(v, 'g', -1, 64), true
	case time.Time:
		return "t:" + v.UTC().Format(time.RFC3339Nano), true
	default:
		return "", false
	}
}

// mustIndexKey is used by tests and the badger engine where the value was
// already validated as indexable.
func mustIndexKey(value any) string {
	key, ok := IndexKey(value)
	if !ok {
		panic(fmt.Sprintf("storage: value %T is not indexable", value))
	}
	return key
}
