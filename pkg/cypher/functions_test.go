package cypher

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuiltinScalarFunctions(t *testing.T) {
	engine, reg := newExecFixture(t)

	tests := []struct {
		query string
		want  any
	}{
		{`RETURN toUpper("abc") AS v`, "ABC"},
		{`RETURN toLower("ABC") AS v`, "abc"},
		{`RETURN trim("  x  ") AS v`, "x"},
		{`RETURN lTrim("  x") AS v`, "x"},
		{`RETURN rTrim("x  ") AS v`, "x"},
		{`RETURN replace("aXbXc", "X", "-") AS v`, "a-b-c"},
		{`RETURN substring("hello", 1, 3) AS v`, "ell"},
		{`RETURN substring("hello", 2) AS v`, "llo"},
		{`RETURN left("hello", 2) AS v`, "he"},
		{`RETURN right("hello", 2) AS v`, "lo"},
		{`RETURN reverse("abc") AS v`, "cba"},
		{`RETURN size("héllo") AS v`, int64(5)},
		{`RETURN size([1, 2, 3]) AS v`, int64(3)},
		{`RETURN head([1, 2]) AS v`, int64(1)},
		{`RETURN last([1, 2]) AS v`, int64(2)},
		{`RETURN head([]) AS v`, nil},
		{`RETURN tail([1, 2, 3]) AS v`, []any{int64(2), int64(3)}},
		{`RETURN range(1, 3) AS v`, []any{int64(1), int64(2), int64(3)}},
		{`RETURN range(3, 1, -1) AS v`, []any{int64(3), int64(2), int64(1)}},
		{`RETURN coalesce(null, null, 7) AS v`, int64(7)},
		{`RETURN coalesce(null) AS v`, nil},
		{`RETURN toString(42) AS v`, "42"},
		{`RETURN toString(true) AS v`, "true"},
		{`RETURN toInteger("17") AS v`, int64(17)},
		{`RETURN toInteger(3.9) AS v`, int64(3)},
		{`RETURN toInteger("nope") AS v`, nil},
		{`RETURN toFloat("2.5") AS v`, 2.5},
		{`RETURN toBoolean("true") AS v`, true},
		{`RETURN abs(-5) AS v`, int64(5)},
		{`RETURN abs(-2.5) AS v`, 2.5},
		{`RETURN sign(-3) AS v`, int64(-1)},
		{`RETURN sign(0) AS v`, int64(0)},
		{`RETURN round(2.5) AS v`, 3.0},
		{`RETURN floor(2.9) AS v`, 2.0},
		{`RETURN ceil(2.1) AS v`, 3.0},
		{`RETURN sqrt(9) AS v`, 3.0},
		{`RETURN sqrt(-1) AS v`, nil},
		{`RETURN split("a,b,c", ",") AS v`, []any{"a", "b", "c"}},
		{`RETURN toUpper(null) AS v`, nil},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			res := mustExec(t, engine, reg, tt.query)
			require.Len(t, res.Rows, 1)
			assert.Equal(t, tt.want, res.Rows[0][0])
		})
	}
}

func TestEntityFunctions(t *testing.T) {
	engine, reg := newExecFixture(t)

	mustExec(t, engine, reg, `CREATE (a:Person:Admin {name: "A"})-[:KNOWS {since: 2020}]->(b:Person {name: "B"})`)

	res := mustExec(t, engine, reg, "MATCH (a)-[r:KNOWS]->(b) RETURN id(a) AS aid, labels(a) AS labels, type(r) AS t, startNode(r) AS s, endNode(r) AS e")
	require.Len(t, res.Rows, 1)
	row := res.Rows[0]
	assert.Equal(t, []any{"Person", "Admin"}, row[1])
	assert.Equal(t, "KNOWS", row[2])
	assert.Equal(t, row[0], row[3])
	assert.NotEqual(t, row[3], row[4])

	res = mustExec(t, engine, reg, `MATCH (a:Person {name: "A"}) RETURN keys(a) AS keys, properties(a) AS props`)
	assert.Equal(t, []any{"name"}, res.Rows[0][0])
	assert.Equal(t, map[string]any{"name": "A"}, res.Rows[0][1])
}

func TestFunctionArityErrors(t *testing.T) {
	engine, reg := newExecFixture(t)

	for _, query := range []string{
		"RETURN toUpper() AS v",
		`RETURN toUpper("a", "b") AS v`,
		`RETURN replace("a", "b") AS v`,
	} {
		t.Run(query, func(t *testing.T) {
			_, err := execQuery(t, engine, reg, query, nil)
			require.Error(t, err)
			var typeErr *TypeError
			assert.ErrorAs(t, err, &typeErr)
		})
	}
}

func TestFunctionNamesAreCaseInsensitive(t *testing.T) {
	engine, reg := newExecFixture(t)

	res := mustExec(t, engine, reg, `RETURN TOUPPER("x") AS a, toupper("x") AS b`)
	assert.Equal(t, "X", res.Rows[0][0])
	assert.Equal(t, "X", res.Rows[0][1])
}

func TestUserFunctionRegistry(t *testing.T) {
	reg := NewFunctionRegistry()

	fn := &UserFunction{
		Name:    "Double",
		Args:    []string{"x"},
		Body:    &BinaryExpr{Op: "*", Left: &Variable{Name: "x"}, Right: &Literal{Value: int64(2)}},
		Created: time.Now(),
	}
	require.NoError(t, reg.Register(fn))

	// Lookup is case-insensitive.
	got, ok := reg.Get("dOuBlE")
	require.True(t, ok)
	assert.Equal(t, "Double", got.Name)

	// Duplicates and built-in collisions are rejected.
	err := reg.Register(&UserFunction{Name: "double"})
	require.Error(t, err)
	err = reg.Register(&UserFunction{Name: "toUpper"})
	require.Error(t, err)
	err = reg.Register(&UserFunction{Name: "count"})
	require.Error(t, err)

	require.NoError(t, reg.Drop("DOUBLE"))
	_, ok = reg.Get("double")
	assert.False(t, ok)
	require.Error(t, reg.Drop("double"))
}

func TestUserFunctionArgumentsShadowOuterScope(t *testing.T) {
	engine, reg := newExecFixture(t)

	mustExec(t, engine, reg, "CREATE FUNCTION addone(x) AS x + 1")
	res := mustExec(t, engine, reg, "UNWIND [1, 2] AS x RETURN addone(x * 10) AS v")
	assert.Equal(t, []any{int64(11), int64(21)}, column(res, 0))
}

func TestUserFunctionWrongArgCount(t *testing.T) {
	engine, reg := newExecFixture(t)

	mustExec(t, engine, reg, "CREATE FUNCTION pair(a, b) AS a + b")
	_, err := execQuery(t, engine, reg, "RETURN pair(1) AS v", nil)
	require.Error(t, err)
	var typeErr *TypeError
	assert.ErrorAs(t, err, &typeErr)
}
