package cypher

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tveitane/hugindb/pkg/storage"
)

func execQuery(t *testing.T, engine storage.Engine, reg *FunctionRegistry, query string, params map[string]any) (*Result, error) {
	t.Helper()
	stmt, err := Parse(query)
	if err != nil {
		return nil, err
	}
	plan, err := NewPlanner(engine, reg).Plan(stmt)
	if err != nil {
		return nil, err
	}
	return Run(context.Background(), engine, reg, plan, params)
}

func mustExec(t *testing.T, engine storage.Engine, reg *FunctionRegistry, query string) *Result {
	t.Helper()
	res, err := execQuery(t, engine, reg, query, nil)
	require.NoError(t, err, "query: %s", query)
	return res
}

func column(res *Result, i int) []any {
	out := make([]any, len(res.Rows))
	for j, row := range res.Rows {
		out[j] = row[i]
	}
	return out
}

func newExecFixture(t *testing.T) (storage.Engine, *FunctionRegistry) {
	t.Helper()
	engine := storage.NewMemoryEngine()
	t.Cleanup(func() { engine.Close() })
	return engine, NewFunctionRegistry()
}

func TestExecuteCreateAndMatchRoundTrip(t *testing.T) {
	engine, reg := newExecFixture(t)

	mustExec(t, engine, reg, `CREATE (n:Person {name: "Alice", age: 30})`)

	res := mustExec(t, engine, reg, "MATCH (n:Person) WHERE n.age = 30 RETURN n.name AS name, n.age AS age")
	require.Len(t, res.Rows, 1)
	assert.Equal(t, []string{"name", "age"}, res.Columns)
	assert.Equal(t, "Alice", res.Rows[0][0])
	assert.Equal(t, int64(30), res.Rows[0][1])

	// Integer and float properties compare as numbers.
	res = mustExec(t, engine, reg, "MATCH (n:Person) WHERE n.age = 30.0 RETURN n.name AS name")
	require.Len(t, res.Rows, 1)
}

func TestExecuteRelationshipRows(t *testing.T) {
	engine, reg := newExecFixture(t)

	mustExec(t, engine, reg, `CREATE (a:Person {name: "A"})-[:KNOWS]->(b:Person {name: "B"})-[:KNOWS]->(c:Person {name: "C"})`)

	// Two relationships in the graph means exactly two rows; each row's
	// binding is independent of its siblings.
	res := mustExec(t, engine, reg, "MATCH (x)-[r:KNOWS]->(y) RETURN x.name AS from, y.name AS to ORDER BY from")
	require.Len(t, res.Rows, 2)
	assert.Equal(t, []any{"A", "B"}, column(res, 0))
	assert.Equal(t, []any{"B", "C"}, column(res, 1))

	res = mustExec(t, engine, reg, "MATCH (a)-[r1:KNOWS]->(b)-[r2:KNOWS]->(c) RETURN a.name AS name")
	require.Len(t, res.Rows, 1)
	assert.Equal(t, "A", res.Rows[0][0])
}

func TestExecuteRelationshipUniqueness(t *testing.T) {
	engine, reg := newExecFixture(t)

	mustExec(t, engine, reg, `CREATE (a:Person {name: "A"})-[:KNOWS]->(b:Person {name: "B"})`)

	// A two-hop undirected pattern cannot traverse the single relationship
	// twice within one match.
	res := mustExec(t, engine, reg, "MATCH (x)-[r1]-(y)-[r2]-(z) RETURN x.name AS name")
	assert.Empty(t, res.Rows)
}

func TestExecuteOptionalMatchBindsNulls(t *testing.T) {
	engine, reg := newExecFixture(t)

	mustExec(t, engine, reg, `CREATE (a:Person {name: "Alice"})-[:KNOWS]->(b:Person {name: "Bob"})`)
	mustExec(t, engine, reg, `CREATE (c:Person {name: "Carol"})`)

	res := mustExec(t, engine, reg,
		"MATCH (p:Person) OPTIONAL MATCH (p)-[:KNOWS]->(f) RETURN p.name AS person, f.name AS friend ORDER BY person")
	require.Len(t, res.Rows, 3)
	assert.Equal(t, []any{"Alice", "Bob", "Carol"}, column(res, 0))
	assert.Equal(t, []any{"Bob", nil, nil}, column(res, 1))
}

func TestExecuteUnionSemantics(t *testing.T) {
	engine, reg := newExecFixture(t)

	// UNION ALL preserves duplicates and branch order.
	res := mustExec(t, engine, reg, "RETURN 1 AS x UNION ALL RETURN 2 AS x UNION ALL RETURN 1 AS x")
	assert.Equal(t, []any{int64(1), int64(2), int64(1)}, column(res, 0))

	// UNION deduplicates across branches, keeping first occurrences.
	res = mustExec(t, engine, reg, "RETURN 1 AS x UNION RETURN 2 AS x UNION RETURN 1 AS x")
	assert.Equal(t, []any{int64(1), int64(2)}, column(res, 0))
}

func TestExecuteUnionOverPatterns(t *testing.T) {
	engine, reg := newExecFixture(t)

	mustExec(t, engine, reg, `CREATE (:Employee {name: "Alice"}), (:Employee {name: "Bob"}), (:Contractor {name: "Carol"}), (:Contractor {name: "Bob"})`)

	// Each branch binds its own pattern variables; projections evaluate
	// against that branch's bindings, and UNION ALL keeps duplicates in
	// branch order.
	res := mustExec(t, engine, reg,
		"MATCH (e:Employee) RETURN e.name AS name UNION ALL MATCH (c:Contractor) RETURN c.name AS name")
	assert.Equal(t, []string{"name"}, res.Columns)
	assert.Equal(t, []any{"Alice", "Bob", "Carol", "Bob"}, column(res, 0))

	// UNION drops the duplicate "Bob" across branches.
	res = mustExec(t, engine, reg,
		"MATCH (e:Employee) RETURN e.name AS name UNION MATCH (c:Contractor) RETURN c.name AS name")
	assert.Equal(t, []any{"Alice", "Bob", "Carol"}, column(res, 0))

	// A WHERE inside one branch filters only that branch's rows.
	res = mustExec(t, engine, reg,
		`MATCH (e:Employee) WHERE e.name = "Bob" RETURN e.name AS name UNION ALL MATCH (c:Contractor) WHERE c.name = "Carol" RETURN c.name AS name`)
	assert.Equal(t, []any{"Bob", "Carol"}, column(res, 0))
}

func TestExecuteWithAliasRebindsVariable(t *testing.T) {
	engine, reg := newExecFixture(t)

	mustExec(t, engine, reg, `CREATE (:Person {name: "Bob"}), (:Person {name: "Alice"})`)

	// A WITH alias may shadow a pattern variable of a different kind; the
	// name refers to the projected value from then on.
	res := mustExec(t, engine, reg, "MATCH (n:Person) WITH n.name AS n RETURN n ORDER BY n")
	require.Len(t, res.Rows, 2)
	assert.Equal(t, []any{"Alice", "Bob"}, column(res, 0))
}

func TestExecuteDistinctIsIdempotent(t *testing.T) {
	engine, reg := newExecFixture(t)

	mustExec(t, engine, reg, `CREATE (:Person {city: "Oslo"}), (:Person {city: "Oslo"}), (:Person {city: "Bergen"})`)

	res := mustExec(t, engine, reg, "MATCH (n:Person) RETURN DISTINCT n.city AS city")
	require.Len(t, res.Rows, 2)
	assert.Equal(t, []any{"Oslo", "Bergen"}, column(res, 0))

	// Applying DISTINCT to already-distinct rows changes nothing.
	again := mustExec(t, engine, reg, "MATCH (n:Person) RETURN DISTINCT n.city AS city")
	assert.Equal(t, res.Rows, again.Rows)
}

func TestExecuteAggregationGrouping(t *testing.T) {
	engine, reg := newExecFixture(t)

	mustExec(t, engine, reg, `CREATE (:Person {city: "Oslo", age: 30}), (:Person {city: "Oslo", age: 40}), (:Person {city: "Bergen", age: 25})`)

	res := mustExec(t, engine, reg,
		"MATCH (n:Person) RETURN n.city AS city, count(*) AS total, sum(n.age) AS ages ORDER BY city")
	require.Len(t, res.Rows, 2)
	assert.Equal(t, []any{"Bergen", int64(1), int64(25)}, res.Rows[0])
	assert.Equal(t, []any{"Oslo", int64(2), int64(70)}, res.Rows[1])

	res = mustExec(t, engine, reg, "MATCH (n:Person) RETURN avg(n.age) AS avg, min(n.age) AS min, max(n.age) AS max, collect(n.city) AS cities")
	require.Len(t, res.Rows, 1)
	assert.InDelta(t, 31.666, res.Rows[0][0].(float64), 0.01)
	assert.Equal(t, int64(25), res.Rows[0][1])
	assert.Equal(t, int64(40), res.Rows[0][2])
	assert.Len(t, res.Rows[0][3], 3)
}

func TestExecuteAggregationOverEmptyInput(t *testing.T) {
	engine, reg := newExecFixture(t)

	res := mustExec(t, engine, reg, "MATCH (n:Nothing) RETURN count(*) AS total, sum(n.age) AS ages, avg(n.age) AS avg, collect(n) AS all")
	require.Len(t, res.Rows, 1)
	assert.Equal(t, int64(0), res.Rows[0][0])
	assert.Equal(t, int64(0), res.Rows[0][1])
	assert.Nil(t, res.Rows[0][2])
	assert.Equal(t, []any{}, res.Rows[0][3])
}

func TestExecuteCountDistinct(t *testing.T) {
	engine, reg := newExecFixture(t)

	mustExec(t, engine, reg, `CREATE (:Person {city: "Oslo"}), (:Person {city: "Oslo"}), (:Person {city: "Bergen"})`)

	res := mustExec(t, engine, reg, "MATCH (n:Person) RETURN count(DISTINCT n.city) AS cities")
	require.Len(t, res.Rows, 1)
	assert.Equal(t, int64(2), res.Rows[0][0])
}

func TestExecuteOrderSkipLimit(t *testing.T) {
	engine, reg := newExecFixture(t)

	mustExec(t, engine, reg, "UNWIND [3, 1, 4, 1, 5, 9, 2, 6] AS x CREATE (:Num {v: x})")

	res := mustExec(t, engine, reg, "MATCH (n:Num) RETURN n.v AS v ORDER BY v DESC SKIP 2 LIMIT 3")
	assert.Equal(t, []any{int64(5), int64(4), int64(3)}, column(res, 0))

	// Nulls sort last regardless of direction of the non-null ordering.
	mustExec(t, engine, reg, "CREATE (:Num)")
	res = mustExec(t, engine, reg, "MATCH (n:Num) RETURN n.v AS v ORDER BY v")
	require.Len(t, res.Rows, 9)
	assert.Nil(t, res.Rows[8][0])
}

func TestExecuteUnwind(t *testing.T) {
	engine, reg := newExecFixture(t)

	res := mustExec(t, engine, reg, "UNWIND [1, 2, 3] AS x RETURN x * 10 AS v")
	assert.Equal(t, []any{int64(10), int64(20), int64(30)}, column(res, 0))

	// UNWIND of null or an empty list produces no rows.
	res = mustExec(t, engine, reg, "UNWIND null AS x RETURN x")
	assert.Empty(t, res.Rows)
	res = mustExec(t, engine, reg, "UNWIND [] AS x RETURN x")
	assert.Empty(t, res.Rows)

	_, err := execQuery(t, engine, reg, "UNWIND 42 AS x RETURN x", nil)
	require.Error(t, err)
	var typeErr *TypeError
	assert.ErrorAs(t, err, &typeErr)
}

func TestExecuteVarLengthExpansion(t *testing.T) {
	engine, reg := newExecFixture(t)

	mustExec(t, engine, reg, `CREATE (a:P {name: "A"})-[:KNOWS]->(b:P {name: "B"})-[:KNOWS]->(c:P {name: "C"})-[:KNOWS]->(d:P {name: "D"})`)

	res := mustExec(t, engine, reg, `MATCH (a:P {name: "A"})-[:KNOWS*1..2]->(x) RETURN x.name AS name ORDER BY name`)
	assert.Equal(t, []any{"B", "C"}, column(res, 0))

	// Zero-length lower bound includes the start node itself.
	res = mustExec(t, engine, reg, `MATCH (a:P {name: "A"})-[:KNOWS*0..1]->(x) RETURN x.name AS name ORDER BY name`)
	assert.Equal(t, []any{"A", "B"}, column(res, 0))

	// Unbounded upper range reaches the whole chain.
	res = mustExec(t, engine, reg, `MATCH (a:P {name: "A"})-[r:KNOWS*]->(x) RETURN x.name AS name, size(r) AS hops ORDER BY hops`)
	assert.Equal(t, []any{"B", "C", "D"}, column(res, 0))
	assert.Equal(t, []any{int64(1), int64(2), int64(3)}, column(res, 1))
}

func TestExecuteMergeOnCreateOnMatch(t *testing.T) {
	engine, reg := newExecFixture(t)

	mustExec(t, engine, reg, `MERGE (n:Person {name: "Carol"}) ON CREATE SET n.created = true ON MATCH SET n.matched = true`)
	mustExec(t, engine, reg, `MERGE (n:Person {name: "Carol"}) ON CREATE SET n.created = true ON MATCH SET n.matched = true`)

	res := mustExec(t, engine, reg, `MATCH (n:Person {name: "Carol"}) RETURN count(*) AS total`)
	assert.Equal(t, int64(1), res.Rows[0][0])

	res = mustExec(t, engine, reg, `MATCH (n:Person {name: "Carol"}) RETURN n.created AS created, n.matched AS matched`)
	assert.Equal(t, true, res.Rows[0][0])
	assert.Equal(t, true, res.Rows[0][1])
}

func TestExecuteMergeRelationship(t *testing.T) {
	engine, reg := newExecFixture(t)

	mustExec(t, engine, reg, `CREATE (:City {name: "Oslo"}), (:Person {name: "Ann"})`)
	mustExec(t, engine, reg, `MATCH (p:Person), (c:City) MERGE (p)-[:LIVES_IN]->(c)`)
	mustExec(t, engine, reg, `MATCH (p:Person), (c:City) MERGE (p)-[:LIVES_IN]->(c)`)

	res := mustExec(t, engine, reg, "MATCH ()-[r:LIVES_IN]->() RETURN count(*) AS total")
	assert.Equal(t, int64(1), res.Rows[0][0])
}

func TestExecuteSetAndRemove(t *testing.T) {
	engine, reg := newExecFixture(t)

	mustExec(t, engine, reg, `CREATE (n:Person {name: "Eve", age: 20})`)

	mustExec(t, engine, reg, `MATCH (n:Person) SET n.age = 21, n += {city: "Oslo"}, n:Admin`)
	res := mustExec(t, engine, reg, "MATCH (n:Admin) RETURN n.age AS age, n.city AS city")
	require.Len(t, res.Rows, 1)
	assert.Equal(t, int64(21), res.Rows[0][0])
	assert.Equal(t, "Oslo", res.Rows[0][1])

	// Assigning null removes the property.
	mustExec(t, engine, reg, "MATCH (n:Person) SET n.city = null")
	res = mustExec(t, engine, reg, "MATCH (n:Person) RETURN n.city AS city")
	assert.Nil(t, res.Rows[0][0])

	mustExec(t, engine, reg, "MATCH (n:Person) REMOVE n.age, n:Admin")
	res = mustExec(t, engine, reg, "MATCH (n:Person) RETURN n.age AS age")
	assert.Nil(t, res.Rows[0][0])
	res = mustExec(t, engine, reg, "MATCH (n:Admin) RETURN n")
	assert.Empty(t, res.Rows)
}

func TestExecuteDeleteSemantics(t *testing.T) {
	engine, reg := newExecFixture(t)

	mustExec(t, engine, reg, `CREATE (a:P {name: "A"})-[:KNOWS]->(b:P {name: "B"})`)

	// Plain DELETE refuses a node that still has relationships.
	_, err := execQuery(t, engine, reg, `MATCH (a:P {name: "A"}) DELETE a`, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, storage.ErrNodeHasRelationships)
	assert.True(t, IsStoreError(err))

	mustExec(t, engine, reg, `MATCH (a:P {name: "A"}) DETACH DELETE a`)
	res := mustExec(t, engine, reg, "MATCH (n:P) RETURN n.name AS name")
	assert.Equal(t, []any{"B"}, column(res, 0))
	res = mustExec(t, engine, reg, "MATCH ()-[r]->() RETURN count(*) AS total")
	assert.Equal(t, int64(0), res.Rows[0][0])
}

func TestExecuteParameters(t *testing.T) {
	engine, reg := newExecFixture(t)

	mustExec(t, engine, reg, `CREATE (:Person {name: "Alice"}), (:Person {name: "Bob"})`)

	res, err := execQuery(t, engine, reg, "MATCH (n:Person {name: $name}) RETURN n.name AS name", map[string]any{"name": "Bob"})
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, "Bob", res.Rows[0][0])

	// JSON-decoded whole floats behave as integers.
	res, err = execQuery(t, engine, reg, "RETURN $n + 1 AS v", map[string]any{"n": float64(41)})
	require.NoError(t, err)
	assert.Equal(t, int64(42), res.Rows[0][0])
}

func TestExecuteIndexSeekMatchesScan(t *testing.T) {
	engine, reg := newExecFixture(t)

	mustExec(t, engine, reg, `CREATE (:Person {name: "Alice"}), (:Person {name: "Bob"}), (:Person {name: "Alice"})`)

	query := `MATCH (n:Person {name: "Alice"}) RETURN id(n) AS id ORDER BY id`
	scanned := mustExec(t, engine, reg, query)

	mustExec(t, engine, reg, "CREATE INDEX ON :Person(name)")
	indexed := mustExec(t, engine, reg, query)

	assert.Equal(t, scanned.Rows, indexed.Rows)
	require.Len(t, indexed.Rows, 2)
}

func TestExecuteAdminIndexStatements(t *testing.T) {
	engine, reg := newExecFixture(t)

	mustExec(t, engine, reg, "CREATE INDEX ON :Person(name)")

	_, err := execQuery(t, engine, reg, "CREATE INDEX ON :Person(name)", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, storage.ErrIndexExists)

	// IF NOT EXISTS swallows the duplicate.
	mustExec(t, engine, reg, "CREATE INDEX IF NOT EXISTS ON :Person(name)")

	res := mustExec(t, engine, reg, "SHOW INDEXES")
	assert.Equal(t, []string{"label", "property"}, res.Columns)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, []any{"Person", "name"}, res.Rows[0])
}

func TestExecuteUserFunctionLifecycle(t *testing.T) {
	engine, reg := newExecFixture(t)

	mustExec(t, engine, reg, "CREATE FUNCTION double(x) AS x * 2")

	res := mustExec(t, engine, reg, "RETURN double(21) AS v")
	assert.Equal(t, int64(42), res.Rows[0][0])

	res = mustExec(t, engine, reg, "SHOW FUNCTIONS")
	require.Len(t, res.Rows, 1)
	assert.Equal(t, []any{"double", "x", "x * 2"}, res.Rows[0])

	mustExec(t, engine, reg, "DROP FUNCTION double")
	_, err := execQuery(t, engine, reg, "RETURN double(21) AS v", nil)
	require.Error(t, err)
	var planErr *PlanError
	assert.ErrorAs(t, err, &planErr)
}

func TestExecuteWithPipeline(t *testing.T) {
	engine, reg := newExecFixture(t)

	mustExec(t, engine, reg, `CREATE (:Person {name: "A", age: 20}), (:Person {name: "B", age: 30}), (:Person {name: "C", age: 40})`)

	res := mustExec(t, engine, reg,
		"MATCH (n:Person) WITH n.age AS age WHERE age > 25 RETURN age ORDER BY age")
	assert.Equal(t, []any{int64(30), int64(40)}, column(res, 0))

	// A post-aggregation WITH feeds the next stage.
	res = mustExec(t, engine, reg,
		"MATCH (n:Person) WITH count(*) AS total RETURN total + 1 AS v")
	assert.Equal(t, int64(4), res.Rows[0][0])
}

func TestExecuteNullSemanticsInWhere(t *testing.T) {
	engine, reg := newExecFixture(t)

	mustExec(t, engine, reg, `CREATE (:Person {name: "A", age: 30}), (:Person {name: "B"})`)

	// A comparison against a missing property is null and excludes the row.
	res := mustExec(t, engine, reg, "MATCH (n:Person) WHERE n.age = 30 RETURN n.name AS name")
	assert.Equal(t, []any{"A"}, column(res, 0))
	res = mustExec(t, engine, reg, "MATCH (n:Person) WHERE n.age <> 30 RETURN n.name AS name")
	assert.Empty(t, res.Rows)

	res = mustExec(t, engine, reg, "MATCH (n:Person) WHERE n.age IS NULL RETURN n.name AS name")
	assert.Equal(t, []any{"B"}, column(res, 0))

	// Incompatible comparisons are null, not errors, inside WHERE.
	res = mustExec(t, engine, reg, `MATCH (n:Person) WHERE n.name > 5 RETURN n.name AS name`)
	assert.Empty(t, res.Rows)
}

func TestExecuteCaseExpression(t *testing.T) {
	engine, reg := newExecFixture(t)

	res := mustExec(t, engine, reg,
		`UNWIND [1, 2, 3] AS x RETURN CASE WHEN x < 2 THEN "low" WHEN x < 3 THEN "mid" ELSE "high" END AS band`)
	assert.Equal(t, []any{"low", "mid", "high"}, column(res, 0))

	res = mustExec(t, engine, reg,
		`UNWIND [1, 2] AS x RETURN CASE x WHEN 1 THEN "one" END AS word`)
	assert.Equal(t, []any{"one", nil}, column(res, 0))
}

func TestExecuteCancelledContext(t *testing.T) {
	engine, reg := newExecFixture(t)

	stmt, err := Parse("MATCH (n) RETURN n")
	require.NoError(t, err)
	plan, err := NewPlanner(engine, reg).Plan(stmt)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Run(ctx, engine, reg, plan, nil)
	require.Error(t, err)
	var timeoutErr *TimeoutError
	assert.ErrorAs(t, err, &timeoutErr)
}

func TestExecuteMutationsAreEagerPerRow(t *testing.T) {
	engine, reg := newExecFixture(t)

	mustExec(t, engine, reg, "UNWIND [1, 2, 3] AS x CREATE (:Num {v: x})")
	res := mustExec(t, engine, reg, "MATCH (n:Num) RETURN count(*) AS total")
	assert.Equal(t, int64(3), res.Rows[0][0])

	// Deleting the same node twice in one statement is not an error.
	mustExec(t, engine, reg, "MATCH (n:Num), (m:Num) WHERE n.v = m.v DETACH DELETE n, m")
	res = mustExec(t, engine, reg, "MATCH (n:Num) RETURN count(*) AS total")
	assert.Equal(t, int64(0), res.Rows[0][0])
}

func TestExecuteBoundEndpointJoin(t *testing.T) {
	engine, reg := newExecFixture(t)

	mustExec(t, engine, reg, `CREATE (a:P {name: "A"})-[:KNOWS]->(b:P {name: "B"})`)
	mustExec(t, engine, reg, `CREATE (:P {name: "C"})`)

	// Both endpoints bound before the relationship pattern turns the expand
	// into a join filter.
	res := mustExec(t, engine, reg,
		`MATCH (a:P {name: "A"}), (b:P) MATCH (a)-[:KNOWS]->(b) RETURN b.name AS name`)
	assert.Equal(t, []any{"B"}, column(res, 0))
}
