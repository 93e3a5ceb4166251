package cypher

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tveitane/hugindb/pkg/storage"
)

func planQueryFor(t *testing.T, engine storage.Engine, query string) (*Plan, error) {
	t.Helper()
	stmt, err := Parse(query)
	require.NoError(t, err)
	return NewPlanner(engine, NewFunctionRegistry()).Plan(stmt)
}

// findOperator walks the input chain from the root looking for the first
// operator matching the predicate.
func findOperator(op Operator, match func(Operator) bool) Operator {
	for op != nil {
		if match(op) {
			return op
		}
		op = inputOf(op)
	}
	return nil
}

func TestPlannerChoosesScanAllWithoutLabel(t *testing.T) {
	engine := storage.NewMemoryEngine()
	defer engine.Close()

	plan, err := planQueryFor(t, engine, "MATCH (n) RETURN n")
	require.NoError(t, err)
	assert.NotNil(t, findOperator(plan.Root, func(op Operator) bool {
		_, ok := op.(*ScanAll)
		return ok
	}))
}

func TestPlannerChoosesLabelScan(t *testing.T) {
	engine := storage.NewMemoryEngine()
	defer engine.Close()

	plan, err := planQueryFor(t, engine, "MATCH (n:Person) RETURN n")
	require.NoError(t, err)
	scan := findOperator(plan.Root, func(op Operator) bool {
		_, ok := op.(*ScanLabel)
		return ok
	})
	require.NotNil(t, scan)
	assert.Equal(t, "Person", scan.(*ScanLabel).Label)
}

func TestPlannerChoosesIndexSeek(t *testing.T) {
	engine := storage.NewMemoryEngine()
	defer engine.Close()
	require.NoError(t, engine.CreateIndex("Person", "name"))

	plan, err := planQueryFor(t, engine, `MATCH (n:Person {name: "Alice"}) RETURN n`)
	require.NoError(t, err)
	seek := findOperator(plan.Root, func(op Operator) bool {
		_, ok := op.(*IndexSeek)
		return ok
	})
	require.NotNil(t, seek)
	assert.Equal(t, "Person", seek.(*IndexSeek).Label)
	assert.Equal(t, "name", seek.(*IndexSeek).Property)
}

func TestPlannerPrefersIndexedNodeAsDrive(t *testing.T) {
	engine := storage.NewMemoryEngine()
	defer engine.Close()
	require.NoError(t, engine.CreateIndex("City", "name"))

	// The second node carries the indexed predicate; the plan should start
	// there and expand back to the first.
	plan, err := planQueryFor(t, engine, `MATCH (p:Person)-[:LIVES_IN]->(c:City {name: "Oslo"}) RETURN p`)
	require.NoError(t, err)
	seek := findOperator(plan.Root, func(op Operator) bool {
		_, ok := op.(*IndexSeek)
		return ok
	})
	require.NotNil(t, seek)
	assert.Equal(t, "City", seek.(*IndexSeek).Label)
}

func TestPlannerReadOnlyFlag(t *testing.T) {
	engine := storage.NewMemoryEngine()
	defer engine.Close()

	tests := []struct {
		query    string
		readOnly bool
	}{
		{"MATCH (n) RETURN n", true},
		{"MATCH (n) WHERE n.age > 1 RETURN count(*)", true},
		{"CREATE (n:Person)", false},
		{`MERGE (n:Person {name: "x"})`, false},
		{"MATCH (n) SET n.age = 1", false},
		{"MATCH (n) DELETE n", false},
		{"MATCH (n) RETURN n UNION MATCH (m) RETURN m AS n", true},
		{"MATCH (n) RETURN n UNION CREATE (m) RETURN m AS n", false},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			plan, err := planQueryFor(t, engine, tt.query)
			require.NoError(t, err)
			assert.Equal(t, tt.readOnly, plan.ReadOnly)
		})
	}
}

func TestPlannerRejectsUnknownVariable(t *testing.T) {
	engine := storage.NewMemoryEngine()
	defer engine.Close()

	tests := []string{
		"MATCH (n) RETURN m",
		"MATCH (n) WHERE m.age > 1 RETURN n",
		"MATCH (n) SET m.age = 1",
		"MATCH (n) DELETE m",
	}
	for _, query := range tests {
		t.Run(query, func(t *testing.T) {
			_, err := planQueryFor(t, engine, query)
			require.Error(t, err)
			var planErr *PlanError
			assert.ErrorAs(t, err, &planErr)
		})
	}
}

func TestPlannerRejectsReboundRelationshipVariable(t *testing.T) {
	engine := storage.NewMemoryEngine()
	defer engine.Close()

	_, err := planQueryFor(t, engine, "MATCH (a)-[r]->(b)-[r]->(c) RETURN a")
	require.Error(t, err)
	var planErr *PlanError
	assert.ErrorAs(t, err, &planErr)
}

func TestPlannerRejectsUnionMismatch(t *testing.T) {
	engine := storage.NewMemoryEngine()
	defer engine.Close()

	_, err := planQueryFor(t, engine, "RETURN 1 AS a UNION RETURN 2 AS b")
	require.Error(t, err)
	var planErr *PlanError
	require.ErrorAs(t, err, &planErr)

	_, err = planQueryFor(t, engine, "RETURN 1 AS a UNION RETURN 2 AS a UNION ALL RETURN 3 AS a")
	require.Error(t, err)
	assert.ErrorAs(t, err, &planErr)
}

func TestPlannerRejectsAggregateOutsideProjection(t *testing.T) {
	engine := storage.NewMemoryEngine()
	defer engine.Close()

	_, err := planQueryFor(t, engine, "MATCH (n) WHERE count(n) > 1 RETURN n")
	require.Error(t, err)
	var planErr *PlanError
	assert.ErrorAs(t, err, &planErr)
}

func TestPlannerRejectsUnknownFunction(t *testing.T) {
	engine := storage.NewMemoryEngine()
	defer engine.Close()

	_, err := planQueryFor(t, engine, "RETURN frobnicate(1) AS x")
	require.Error(t, err)
	var planErr *PlanError
	assert.ErrorAs(t, err, &planErr)
}

func TestPlannerRejectsInvalidCreatePatterns(t *testing.T) {
	engine := storage.NewMemoryEngine()
	defer engine.Close()

	tests := []string{
		"CREATE (a)-[r]->(b)",            // missing type
		"CREATE (a)-[r:KNOWS]-(b)",       // undirected
		"CREATE (a)-[r:KNOWS*1..2]->(b)", // variable length
		"MATCH (a) CREATE (a:Person)",    // reused endpoint with labels
	}
	for _, query := range tests {
		t.Run(query, func(t *testing.T) {
			_, err := planQueryFor(t, engine, query)
			require.Error(t, err)
		})
	}
}

func TestPlannerColumnsAndOutSlots(t *testing.T) {
	engine := storage.NewMemoryEngine()
	defer engine.Close()

	plan, err := planQueryFor(t, engine, "MATCH (n) RETURN n.name AS name, n.age")
	require.NoError(t, err)
	assert.Equal(t, []string{"name", "n.age"}, plan.Columns)
	assert.Len(t, plan.OutSlots, 2)
}

func TestPlannerAggregationGroupsNonAggregateItems(t *testing.T) {
	engine := storage.NewMemoryEngine()
	defer engine.Close()

	plan, err := planQueryFor(t, engine, "MATCH (n) RETURN n.city AS city, count(*) AS total")
	require.NoError(t, err)
	agg := findOperator(plan.Root, func(op Operator) bool {
		_, ok := op.(*Aggregate)
		return ok
	})
	require.NotNil(t, agg)
	assert.Len(t, agg.(*Aggregate).GroupBy, 1)
	assert.Len(t, agg.(*Aggregate).Aggs, 1)
}

func TestPlannerIdenticalQueriesYieldIdenticalDrive(t *testing.T) {
	engine := storage.NewMemoryEngine()
	defer engine.Close()

	query := `MATCH (a:Person {name: "x", city: "y"}) RETURN a`
	first, err := planQueryFor(t, engine, query)
	require.NoError(t, err)
	second, err := planQueryFor(t, engine, query)
	require.NoError(t, err)

	firstScan := findOperator(first.Root, func(op Operator) bool {
		_, ok := op.(*ScanLabel)
		return ok
	})
	secondScan := findOperator(second.Root, func(op Operator) bool {
		_, ok := op.(*ScanLabel)
		return ok
	})
	require.NotNil(t, firstScan)
	require.NotNil(t, secondScan)
	assert.Equal(t, firstScan.(*ScanLabel).Label, secondScan.(*ScanLabel).Label)
}

func TestPlannerAdminPlans(t *testing.T) {
	engine := storage.NewMemoryEngine()
	defer engine.Close()

	plan, err := planQueryFor(t, engine, "SHOW INDEXES")
	require.NoError(t, err)
	assert.NotNil(t, plan.Admin)
	assert.Equal(t, []string{"label", "property"}, plan.Columns)
	assert.True(t, plan.ReadOnly)

	_, err = planQueryFor(t, engine, "CREATE FUNCTION bad(x, x) AS x")
	require.Error(t, err)
	var planErr *PlanError
	assert.ErrorAs(t, err, &planErr)
}
