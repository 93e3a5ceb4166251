package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBadgerEnginePersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	engine, err := NewBadgerEngine(BadgerOptions{DataDir: dir})
	require.NoError(t, err)

	alice, err := engine.CreateNode([]string{"Person"}, map[string]any{"name": "Alice"})
	require.NoError(t, err)
	bob, err := engine.CreateNode([]string{"Person"}, map[string]any{"name": "Bob"})
	require.NoError(t, err)
	rel, err := engine.CreateRelationship(alice.ID, bob.ID, "KNOWS", nil)
	require.NoError(t, err)
	require.NoError(t, engine.CreateIndex("Person", "name"))
	require.NoError(t, engine.Close())

	reopened, err := NewBadgerEngine(BadgerOptions{DataDir: dir})
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.GetNode(alice.ID)
	require.NoError(t, err)
	assert.Equal(t, "Alice", got.Properties["name"])

	gotRel, err := reopened.GetRelationship(rel.ID)
	require.NoError(t, err)
	assert.Equal(t, "KNOWS", gotRel.Type)

	// Index survives and still answers point lookups.
	assert.True(t, reopened.HasIndex("Person", "name"))
	hits, err := reopened.IndexLookup("Person", "name", "Bob")
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, bob.ID, hits[0].ID)

	// Catalogs were restored from persisted records.
	assert.Contains(t, reopened.Catalog().Labels(), "Person")
	assert.Contains(t, reopened.Catalog().RelTypes(), "KNOWS")

	// ID counters continue past the previous run; no reuse after restart.
	next, err := reopened.CreateNode(nil, nil)
	require.NoError(t, err)
	assert.Greater(t, next.ID, bob.ID)
}

func TestBadgerEngineInMemoryMode(t *testing.T) {
	engine, err := NewBadgerEngine(BadgerOptions{InMemory: true})
	require.NoError(t, err)
	defer engine.Close()

	n, err := engine.CreateNode([]string{"Ephemeral"}, nil)
	require.NoError(t, err)
	got, err := engine.GetNode(n.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"Ephemeral"}, got.Labels)
}

func TestBadgerEngineRequiresDataDir(t *testing.T) {
	_, err := NewBadgerEngine(BadgerOptions{})
	assert.Error(t, err)
}
