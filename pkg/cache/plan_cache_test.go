package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlanCacheHitAndMiss(t *testing.T) {
	c := NewPlanCache(10, 0)

	key := c.Key(Normalize("MATCH (n) RETURN n"))
	_, ok := c.Get(key)
	assert.False(t, ok)

	c.Put(key, "plan-a")
	got, ok := c.Get(key)
	require.True(t, ok)
	assert.Equal(t, "plan-a", got)

	stats := c.Stats()
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
	assert.Equal(t, 1, stats.Size)
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		a    string
		b    string
		same bool
	}{
		{"whitespace collapsed", "MATCH (n)  RETURN n", "MATCH (n) RETURN n", true},
		{"keyword case folded", "match (n) return n", "MATCH (n) RETURN n", true},
		{"newlines and tabs", "MATCH (n)\n\tRETURN n", "MATCH (n) RETURN n", true},
		{"string literals preserved", `MATCH (n {name: "Alice"}) RETURN n`, `MATCH (n {name: "alice"}) RETURN n`, false},
		{"different shapes differ", "MATCH (n) RETURN n", "MATCH (m) RETURN m", false},
		{"label case preserved", "MATCH (n:Person) RETURN n", "MATCH (n:person) RETURN n", false},
		{"relationship type case preserved", "MATCH ()-[r:KNOWS]->() RETURN r", "MATCH ()-[r:knows]->() RETURN r", false},
		{"property key case preserved", "MATCH (n) RETURN n.Name AS x", "MATCH (n) RETURN n.name AS x", false},
		{"keywords fold around identifiers", "match (n:Person) where n.age > 1 return n", "MATCH (n:Person) WHERE n.age > 1 RETURN n", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.same {
				assert.Equal(t, Normalize(tt.a), Normalize(tt.b))
			} else {
				assert.NotEqual(t, Normalize(tt.a), Normalize(tt.b))
			}
		})
	}
}

func TestPlanCacheLRUEviction(t *testing.T) {
	c := NewPlanCache(2, 0)

	c.Put(1, "a")
	c.Put(2, "b")

	// Touch 1 so 2 becomes the eviction candidate.
	_, ok := c.Get(1)
	require.True(t, ok)

	c.Put(3, "c")
	assert.Equal(t, 2, c.Len())

	_, ok = c.Get(2)
	assert.False(t, ok, "least recently used entry should be evicted")
	_, ok = c.Get(1)
	assert.True(t, ok)
	_, ok = c.Get(3)
	assert.True(t, ok)
}

func TestPlanCacheTTLExpiry(t *testing.T) {
	c := NewPlanCache(10, 10*time.Millisecond)

	c.Put(1, "a")
	_, ok := c.Get(1)
	require.True(t, ok)

	time.Sleep(20 * time.Millisecond)
	_, ok = c.Get(1)
	assert.False(t, ok, "entry should expire after TTL")
	assert.Equal(t, 0, c.Len())
}

func TestPlanCacheClearAndDisable(t *testing.T) {
	c := NewPlanCache(10, 0)
	c.Put(1, "a")
	c.Put(2, "b")

	c.Clear()
	assert.Equal(t, 0, c.Len())

	c.SetEnabled(false)
	c.Put(3, "c")
	_, ok := c.Get(3)
	assert.False(t, ok, "disabled cache stores nothing")
}
