package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// engineUnderTest builds each Engine implementation fresh per test so the
// same contract suite covers both.
func enginesUnderTest(t *testing.T) map[string]func(t *testing.T) Engine {
	t.Helper()
	return map[string]func(t *testing.T) Engine{
		"memory": func(t *testing.T) Engine {
			return NewMemoryEngine()
		},
		"badger": func(t *testing.T) Engine {
			e, err := NewBadgerEngine(BadgerOptions{DataDir: t.TempDir()})
			require.NoError(t, err)
			return e
		},
	}
}

func TestEngineNodeLifecycle(t *testing.T) {
	for name, open := range enginesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			engine := open(t)
			defer engine.Close()

			alice, err := engine.CreateNode([]string{"Person"}, map[string]any{"name": "Alice", "age": int64(30)})
			require.NoError(t, err)
			assert.Equal(t, NodeID(1), alice.ID)

			bob, err := engine.CreateNode([]string{"Person", "Admin"}, map[string]any{"name": "Bob"})
			require.NoError(t, err)
			assert.Equal(t, NodeID(2), bob.ID)

			got, err := engine.GetNode(alice.ID)
			require.NoError(t, err)
			assert.Equal(t, []string{"Person"}, got.Labels)
			assert.Equal(t, "Alice", got.Properties["name"])

			got.Properties["age"] = int64(31)
			require.NoError(t, engine.UpdateNode(got))

			updated, err := engine.GetNode(alice.ID)
			require.NoError(t, err)
			assert.EqualValues(t, 31, updated.Properties["age"])

			assert.Equal(t, int64(2), engine.NodeCount())

			require.NoError(t, engine.DeleteNode(bob.ID, false))
			_, err = engine.GetNode(bob.ID)
			assert.ErrorIs(t, err, ErrNotFound)
			assert.Equal(t, int64(1), engine.NodeCount())
		})
	}
}

func TestEngineIDsAreNeverReused(t *testing.T) {
	for name, open := range enginesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			engine := open(t)
			defer engine.Close()

			first, err := engine.CreateNode(nil, nil)
			require.NoError(t, err)
			require.NoError(t, engine.DeleteNode(first.ID, false))

			second, err := engine.CreateNode(nil, nil)
			require.NoError(t, err)
			assert.Greater(t, second.ID, first.ID, "deleted ids must not be reused")
		})
	}
}

func TestEngineRelationshipLifecycle(t *testing.T) {
	for name, open := range enginesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			engine := open(t)
			defer engine.Close()

			a, err := engine.CreateNode([]string{"Person"}, map[string]any{"name": "A"})
			require.NoError(t, err)
			b, err := engine.CreateNode([]string{"Person"}, map[string]any{"name": "B"})
			require.NoError(t, err)

			rel, err := engine.CreateRelationship(a.ID, b.ID, "KNOWS", map[string]any{"since": int64(2020)})
			require.NoError(t, err)
			assert.Equal(t, RelID(1), rel.ID)
			assert.Equal(t, a.ID, rel.StartNode)
			assert.Equal(t, b.ID, rel.EndNode)

			got, err := engine.GetRelationship(rel.ID)
			require.NoError(t, err)
			assert.Equal(t, "KNOWS", got.Type)
			assert.EqualValues(t, 2020, got.Properties["since"])

			got.Properties["since"] = int64(2021)
			require.NoError(t, engine.UpdateRelationship(got))
			updated, err := engine.GetRelationship(rel.ID)
			require.NoError(t, err)
			assert.EqualValues(t, 2021, updated.Properties["since"])

			assert.Equal(t, int64(1), engine.RelationshipCount())

			require.NoError(t, engine.DeleteRelationship(rel.ID))
			_, err = engine.GetRelationship(rel.ID)
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestEngineRejectsDanglingEndpoints(t *testing.T) {
	for name, open := range enginesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			engine := open(t)
			defer engine.Close()

			a, err := engine.CreateNode(nil, nil)
			require.NoError(t, err)

			_, err = engine.CreateRelationship(a.ID, NodeID(999), "KNOWS", nil)
			assert.ErrorIs(t, err, ErrDanglingEndpoint)

			_, err = engine.CreateRelationship(NodeID(999), a.ID, "KNOWS", nil)
			assert.ErrorIs(t, err, ErrDanglingEndpoint)
		})
	}
}

func TestEngineDeleteNodeDetachSemantics(t *testing.T) {
	for name, open := range enginesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			engine := open(t)
			defer engine.Close()

			a, _ := engine.CreateNode(nil, nil)
			b, _ := engine.CreateNode(nil, nil)
			rel, err := engine.CreateRelationship(a.ID, b.ID, "LINKS", nil)
			require.NoError(t, err)

			// Plain delete must refuse while relationships exist.
			err = engine.DeleteNode(a.ID, false)
			assert.ErrorIs(t, err, ErrNodeHasRelationships)

			// Detach delete removes the node and its incident relationships.
			require.NoError(t, engine.DeleteNode(a.ID, true))
			_, err = engine.GetNode(a.ID)
			assert.ErrorIs(t, err, ErrNotFound)
			_, err = engine.GetRelationship(rel.ID)
			assert.ErrorIs(t, err, ErrNotFound)

			// Surviving endpoint is untouched.
			_, err = engine.GetNode(b.ID)
			assert.NoError(t, err)
		})
	}
}

func TestEngineScansAreIDOrdered(t *testing.T) {
	for name, open := range enginesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			engine := open(t)
			defer engine.Close()

			for i := 0; i < 5; i++ {
				_, err := engine.CreateNode([]string{"Item"}, map[string]any{"n": int64(i)})
				require.NoError(t, err)
			}

			all, err := engine.AllNodes()
			require.NoError(t, err)
			require.Len(t, all, 5)
			for i := 1; i < len(all); i++ {
				assert.Less(t, all[i-1].ID, all[i].ID)
			}

			byLabel, err := engine.NodesByLabel("Item")
			require.NoError(t, err)
			assert.Len(t, byLabel, 5)

			none, err := engine.NodesByLabel("Missing")
			require.NoError(t, err)
			assert.Empty(t, none)
		})
	}
}

func TestEngineExpand(t *testing.T) {
	for name, open := range enginesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			engine := open(t)
			defer engine.Close()

			hub, _ := engine.CreateNode([]string{"Hub"}, nil)
			spoke1, _ := engine.CreateNode([]string{"Spoke"}, nil)
			spoke2, _ := engine.CreateNode([]string{"Spoke"}, nil)

			out1, err := engine.CreateRelationship(hub.ID, spoke1.ID, "LINKS", nil)
			require.NoError(t, err)
			_, err = engine.CreateRelationship(spoke2.ID, hub.ID, "LINKS", nil)
			require.NoError(t, err)
			_, err = engine.CreateRelationship(hub.ID, spoke2.ID, "OWNS", nil)
			require.NoError(t, err)

			outgoing, err := engine.Expand(hub.ID, DirectionOutgoing, "")
			require.NoError(t, err)
			assert.Len(t, outgoing, 2)

			typed, err := engine.Expand(hub.ID, DirectionOutgoing, "LINKS")
			require.NoError(t, err)
			require.Len(t, typed, 1)
			assert.Equal(t, out1.ID, typed[0].Rel.ID)
			assert.Equal(t, spoke1.ID, typed[0].Neighbor)

			incoming, err := engine.Expand(hub.ID, DirectionIncoming, "")
			require.NoError(t, err)
			require.Len(t, incoming, 1)
			assert.Equal(t, spoke2.ID, incoming[0].Neighbor)

			// Both directions: each incident relationship appears once per
			// direction it is traversed in, outgoing first.
			both, err := engine.Expand(hub.ID, DirectionBoth, "")
			require.NoError(t, err)
			assert.Len(t, both, 3)

			_, err = engine.Expand(NodeID(999), DirectionBoth, "")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestEnginePropertyIndex(t *testing.T) {
	for name, open := range enginesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			engine := open(t)
			defer engine.Close()

			alice, err := engine.CreateNode([]string{"Person"}, map[string]any{"name": "Alice"})
			require.NoError(t, err)
			_, err = engine.CreateNode([]string{"Person"}, map[string]any{"name": "Bob"})
			require.NoError(t, err)
			_, err = engine.CreateNode([]string{"Company"}, map[string]any{"name": "Alice"})
			require.NoError(t, err)

			// Lookup before creation fails so callers can fall back to scans.
			_, err = engine.IndexLookup("Person", "name", "Alice")
			assert.ErrorIs(t, err, ErrIndexNotFound)

			require.NoError(t, engine.CreateIndex("Person", "name"))
			assert.True(t, engine.HasIndex("Person", "name"))
			assert.False(t, engine.HasIndex("Person", "age"))

			err = engine.CreateIndex("Person", "name")
			assert.ErrorIs(t, err, ErrIndexExists)

			// Backfill covered the pre-existing node; the Company node with
			// the same property value stays out of the Person index.
			hits, err := engine.IndexLookup("Person", "name", "Alice")
			require.NoError(t, err)
			require.Len(t, hits, 1)
			assert.Equal(t, alice.ID, hits[0].ID)

			// New nodes are indexed on create.
			carol, err := engine.CreateNode([]string{"Person"}, map[string]any{"name": "Carol"})
			require.NoError(t, err)
			hits, err = engine.IndexLookup("Person", "name", "Carol")
			require.NoError(t, err)
			require.Len(t, hits, 1)
			assert.Equal(t, carol.ID, hits[0].ID)

			// Updates move index entries.
			carol.Properties["name"] = "Caroline"
			require.NoError(t, engine.UpdateNode(carol))
			hits, err = engine.IndexLookup("Person", "name", "Carol")
			require.NoError(t, err)
			assert.Empty(t, hits)
			hits, err = engine.IndexLookup("Person", "name", "Caroline")
			require.NoError(t, err)
			assert.Len(t, hits, 1)

			// Deletes drop index entries.
			require.NoError(t, engine.DeleteNode(carol.ID, true))
			hits, err = engine.IndexLookup("Person", "name", "Caroline")
			require.NoError(t, err)
			assert.Empty(t, hits)

			descs := engine.Indexes()
			require.Len(t, descs, 1)
			assert.Equal(t, IndexDescriptor{Label: "Person", Property: "name"}, descs[0])
		})
	}
}

func TestEngineIndexNumericUnification(t *testing.T) {
	for name, open := range enginesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			engine := open(t)
			defer engine.Close()

			n, err := engine.CreateNode([]string{"Person"}, map[string]any{"age": int64(30)})
			require.NoError(t, err)
			require.NoError(t, engine.CreateIndex("Person", "age"))

			// 30 and 30.0 are the same value; both lookups must hit.
			hits, err := engine.IndexLookup("Person", "age", int64(30))
			require.NoError(t, err)
			require.Len(t, hits, 1)
			assert.Equal(t, n.ID, hits[0].ID)

			hits, err = engine.IndexLookup("Person", "age", float64(30.0))
			require.NoError(t, err)
			require.Len(t, hits, 1)
			assert.Equal(t, n.ID, hits[0].ID)
		})
	}
}

func TestEngineClosedRejectsOperations(t *testing.T) {
	for name, open := range enginesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			engine := open(t)
			require.NoError(t, engine.Close())

			_, err := engine.CreateNode(nil, nil)
			assert.ErrorIs(t, err, ErrStorageClosed)
			_, err = engine.AllNodes()
			assert.ErrorIs(t, err, ErrStorageClosed)
			assert.NoError(t, engine.Close(), "double close is a no-op")
		})
	}
}

func TestEngineReturnsCopies(t *testing.T) {
	for name, open := range enginesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			engine := open(t)
			defer engine.Close()

			n, err := engine.CreateNode([]string{"Person"}, map[string]any{"name": "Alice"})
			require.NoError(t, err)

			// Mutating a returned node must not leak into the store.
			n.Properties["name"] = "Mallory"
			n.Labels[0] = "Villain"

			got, err := engine.GetNode(n.ID)
			require.NoError(t, err)
			assert.Equal(t, "Alice", got.Properties["name"])
			assert.Equal(t, []string{"Person"}, got.Labels)
		})
	}
}

func TestCatalogAssignsStableIDs(t *testing.T) {
	c := NewCatalog()

	assert.Equal(t, uint32(1), c.EnsureLabel("Person"))
	assert.Equal(t, uint32(2), c.EnsureLabel("Company"))
	assert.Equal(t, uint32(1), c.EnsureLabel("Person"), "re-registration keeps the id")

	id, ok := c.LabelID("Company")
	assert.True(t, ok)
	assert.Equal(t, uint32(2), id)
	_, ok = c.LabelID("Missing")
	assert.False(t, ok)

	assert.Equal(t, uint32(1), c.EnsureRelType("KNOWS"))
	assert.Equal(t, []string{"Person", "Company"}, c.Labels())
	assert.Equal(t, []string{"KNOWS"}, c.RelTypes())
}

func TestIndexKeyCanonicalization(t *testing.T) {
	tests := []struct {
		name      string
		value     any
		indexable bool
	}{
		{"string", "hello", true},
		{"bool", true, true},
		{"int64", int64(42), true},
		{"float", 3.14, true},
		{"nil", nil, false},
		{"list", []any{1, 2}, false},
		{"map", map[string]any{"a": 1}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := IndexKey(tt.value)
			assert.Equal(t, tt.indexable, ok)
		})
	}

	// Equal numbers collide regardless of representation.
	assert.Equal(t, mustIndexKey(int64(30)), mustIndexKey(float64(30.0)))
	assert.Equal(t, mustIndexKey(int(30)), mustIndexKey(int64(30)))
	assert.NotEqual(t, mustIndexKey("30"), mustIndexKey(int64(30)))
}
